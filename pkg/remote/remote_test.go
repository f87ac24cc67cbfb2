package remote

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/specman/pkg/logx"
)

type call struct {
	host string
	argv []string
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls []call
	run   func(ctx context.Context, host string, argv []string) (*Result, error)
}

func (f *fakeExecutor) Run(ctx context.Context, host string, argv []string) (*Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{host: host, argv: argv})
	f.mu.Unlock()
	if f.run != nil {
		return f.run(ctx, host, argv)
	}
	return &Result{}, nil
}

func quietLogger() *logx.Logger {
	return logx.NewLoggerWithOutput("error", "test", io.Discard)
}

func TestAgentCommand(t *testing.T) {
	tests := []struct {
		name    string
		agent   string
		ifname  string
		scan    bool
		premade string
		want    []string
	}{
		{"plain", "", "wlan0", false, "", []string{"./wrinfo", "-i", "wlan0"}},
		{"scan", "", "wlan1", true, "", []string{"./wrinfo", "-i", "wlan1", "-s"}},
		{"agent path", "/usr/sbin/wrinfo", "wlan0", false, "", []string{"/usr/sbin/wrinfo", "-i", "wlan0"}},
		{"premade", "", "wlan0", true, "  ssh ap1  ./wrinfo -i wlan0 ", []string{"ssh", "ap1", "./wrinfo", "-i", "wlan0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AgentCommand(tt.agent, tt.ifname, tt.scan, tt.premade))
		})
	}
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "./setchan.sh wlan0 5180", Join([]string{"./setchan.sh", "wlan0", "5180"}))
	assert.Equal(t, `echo 'a b' '' 'it'\''s'`, Join([]string{"echo", "a b", "", "it's"}))
}

func TestChannelSetter_Apply(t *testing.T) {
	exec := &fakeExecutor{run: func(_ context.Context, host string, _ []string) (*Result, error) {
		switch host {
		case "10.0.0.2":
			return &Result{ExitCode: 1, Stderr: []byte("bad freq\n")}, nil
		case "10.0.0.3":
			return nil, errors.New("connection refused")
		}
		return &Result{}, nil
	}}
	setter := NewChannelSetter(exec, SetterOptions{}, quietLogger())

	targets, err := Targets(
		[]string{"10.0.0.1", "10.0.0.2", "10.0.0.3"},
		[]string{"wlan0", "wlan1", "wlan0"},
		[]int{5180, 5200, 5220})
	require.NoError(t, err)

	results := setter.Apply(context.Background(), targets)
	require.Len(t, results, 3)
	assert.True(t, results[0].OK())
	assert.False(t, results[1].OK())
	assert.Equal(t, 1, results[1].Result.ExitCode)
	assert.Error(t, results[2].Err)

	require.Len(t, exec.calls, 3)
	assert.Equal(t, []string{"./setchan.sh", "wlan1", "5200"}, exec.calls[1].argv)
}

func TestChannelSetter_DryRun(t *testing.T) {
	exec := &fakeExecutor{}
	setter := NewChannelSetter(exec, SetterOptions{Script: "/root/setchan.sh", Timeout: time.Second, DryRun: true}, quietLogger())

	results := setter.Apply(context.Background(), []Target{{Host: "10.0.0.1", Ifname: "wlan0", Frequency: 5180}})
	require.Len(t, results, 1)
	assert.True(t, results[0].Skipped)
	assert.Empty(t, exec.calls)
}

func TestChannelSetter_Timeout(t *testing.T) {
	exec := &fakeExecutor{run: func(ctx context.Context, _ string, _ []string) (*Result, error) {
		<-ctx.Done()
		return &Result{TimedOut: true, ExitCode: -1}, nil
	}}
	setter := NewChannelSetter(exec, SetterOptions{Timeout: 10 * time.Millisecond}, quietLogger())

	results := setter.Apply(context.Background(), []Target{{Host: "h", Ifname: "wlan0", Frequency: 5180}})
	assert.True(t, results[0].Result.TimedOut)
	assert.False(t, results[0].OK())
}

func TestTargets_Mismatch(t *testing.T) {
	_, err := Targets([]string{"a"}, []string{"wlan0"}, []int{1, 2})
	assert.Error(t, err)
}

func TestLocalExecutor(t *testing.T) {
	res, err := LocalExecutor{}.Run(context.Background(), "", []string{"sh", "-c", "echo out; echo err >&2; exit 3"})
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(res.Stdout))
	assert.Equal(t, "err\n", string(res.Stderr))
	assert.Equal(t, 3, res.ExitCode)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err = LocalExecutor{}.Run(ctx, "", []string{"sleep", "5"})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)

	_, err = LocalExecutor{}.Run(context.Background(), "", nil)
	assert.Error(t, err)
}
