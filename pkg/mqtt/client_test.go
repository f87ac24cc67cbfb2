package mqtt

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/specman/pkg/logx"
)

func TestDisabledClientIsNoop(t *testing.T) {
	c := NewClient(nil, logx.NewLoggerWithOutput("error", "test", io.Discard))

	require.NoError(t, c.Connect())
	assert.False(t, c.IsConnected())
	assert.NoError(t, c.PublishResult(ResultMessage{Score: 1}))
	assert.NoError(t, c.PublishPlan(PlanMessage{DryRun: true}))
	assert.NoError(t, c.Disconnect())
}

func TestTopic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopicPrefix = "site/a"
	c := NewClient(cfg, logx.NewLoggerWithOutput("error", "test", io.Discard))

	assert.Equal(t, "site/a/result", c.Topic("result"))
	assert.Equal(t, "specman/plan", NewClient(nil, nil).Topic("plan"))
}

func TestResultMessageJSON(t *testing.T) {
	msg := ResultMessage{
		Timestamp:   time.Unix(0, 0).UTC(),
		Nodes:       []string{"1/02:00:00:00:00:0a"},
		Channels:    []int{5180, 5200},
		Frequencies: []int{5200},
		Score:       0.25,
		Evaluated:   2,
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 0.25, decoded["score"])
	assert.NotContains(t, decoded, "top")
	assert.Equal(t, []interface{}{5200.0}, decoded["frequencies"])
}
