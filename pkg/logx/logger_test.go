package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_KeyValueFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput("debug", "test", &buf)

	logger.Info("hello", "node", 3, "error", errors.New("boom"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "test", entry["component"])
	assert.Equal(t, float64(3), entry["node"])
	assert.Equal(t, "boom", entry["error"])
}

func TestLogger_MapFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput("info", "", &buf)

	logger.Warn("map", map[string]interface{}{"a": "b"})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "b", entry["a"])
	assert.NotContains(t, entry, "component")
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput("warn", "test", &buf)

	logger.Debug("hidden")
	logger.Info("hidden")
	assert.Zero(t, buf.Len())

	logger.SetLevel("debug")
	logger.Debug("shown")
	assert.NotZero(t, buf.Len())
}

func TestLogger_OddFields(t *testing.T) {
	fields := toFields([]interface{}{"a", 1, "dangling"})
	assert.Equal(t, 1, fields["a"])
	assert.Equal(t, "(MISSING)", fields["dangling"])
}

func TestPerformanceLogger(t *testing.T) {
	var buf bytes.Buffer
	pl := NewPerformanceLogger(NewLoggerWithOutput("error", "test", &buf))

	pl.Start("search").Done(nil)
	pl.Start("search").Done(errors.New("failed"))

	m, ok := pl.Get("search")
	require.True(t, ok)
	assert.Equal(t, int64(2), m.Count)
	assert.Equal(t, int64(1), m.Errors)
	assert.LessOrEqual(t, m.Min, m.Max)
	assert.Equal(t, 50.0, successRate(m))

	_, ok = pl.Get("missing")
	assert.False(t, ok)
}
