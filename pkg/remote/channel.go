package remote

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/markus-lassfolk/specman/pkg/logx"
)

const (
	// DefaultApplyTimeout bounds a single channel change
	DefaultApplyTimeout = 25 * time.Second

	DefaultAgentPath     = "./wrinfo"
	DefaultSetchanScript = "./setchan.sh"
)

// AgentCommand builds the measurement agent command line for an interface.
// A non-empty premade command overrides the default and is split on whitespace.
func AgentCommand(agent, ifname string, doScan bool, premade string) []string {
	if premade != "" {
		return strings.Fields(premade)
	}
	if agent == "" {
		agent = DefaultAgentPath
	}
	argv := []string{agent, "-i", ifname}
	if doScan {
		argv = append(argv, "-s")
	}
	return argv
}

// Target is one radio to retune
type Target struct {
	Host      string
	Ifname    string
	Frequency int
}

// ApplyResult reports what happened to one target
type ApplyResult struct {
	Target  Target
	Skipped bool
	Result  *Result
	Err     error
}

// OK reports whether the target was retuned
func (r ApplyResult) OK() bool {
	return r.Err == nil && !r.Skipped && r.Result != nil && !r.Result.TimedOut && r.Result.ExitCode == 0
}

// SetterOptions controls how plans are pushed
type SetterOptions struct {
	Script  string        // remote script taking <ifname> <freq>
	Timeout time.Duration // per radio
	DryRun  bool          // log the commands instead of running them
}

// ChannelSetter pushes a channel plan to access points
type ChannelSetter struct {
	exec   Executor
	opts   SetterOptions
	logger *logx.Logger
}

// NewChannelSetter creates a setter, filling unset options with defaults
func NewChannelSetter(exec Executor, opts SetterOptions, logger *logx.Logger) *ChannelSetter {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultApplyTimeout
	}
	if opts.Script == "" {
		opts.Script = DefaultSetchanScript
	}
	return &ChannelSetter{exec: exec, opts: opts, logger: logger}
}

// Apply retunes each target in order. Failures are logged and reported per
// target; they do not stop the remaining targets.
func (c *ChannelSetter) Apply(ctx context.Context, targets []Target) []ApplyResult {
	results := make([]ApplyResult, len(targets))
	for i, t := range targets {
		results[i] = c.applyOne(ctx, t)
	}
	return results
}

func (c *ChannelSetter) applyOne(ctx context.Context, t Target) ApplyResult {
	argv := []string{c.opts.Script, t.Ifname, strconv.Itoa(t.Frequency)}
	if c.opts.DryRun {
		c.logger.Info("Dry run: would set channel", "host", t.Host, "cmd", Join(argv))
		return ApplyResult{Target: t, Skipped: true}
	}

	runCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	res, err := c.exec.Run(runCtx, t.Host, argv)
	if err != nil {
		c.logger.Error("Failed to set channel", "host", t.Host, "ifname", t.Ifname, "error", err)
		return ApplyResult{Target: t, Err: err}
	}
	switch {
	case res.TimedOut:
		c.logger.Warn("Channel change timed out", "host", t.Host, "ifname", t.Ifname, "timeout", c.opts.Timeout.String())
	case res.ExitCode != 0:
		c.logger.Warn("Channel change failed",
			"host", t.Host,
			"ifname", t.Ifname,
			"exit_code", res.ExitCode,
			"stderr", strings.TrimSpace(string(res.Stderr)))
	default:
		c.logger.Info("Channel set", "host", t.Host, "ifname", t.Ifname, "frequency", t.Frequency)
	}
	return ApplyResult{Target: t, Result: res}
}

// Targets zips hosts and interfaces with an assignment's frequencies
func Targets(hosts, ifnames []string, freqs []int) ([]Target, error) {
	if len(hosts) != len(freqs) || len(ifnames) != len(freqs) {
		return nil, fmt.Errorf("plan has %d frequencies for %d hosts and %d interfaces", len(freqs), len(hosts), len(ifnames))
	}
	out := make([]Target, len(freqs))
	for i := range freqs {
		out[i] = Target{Host: hosts[i], Ifname: ifnames[i], Frequency: freqs[i]}
	}
	return out, nil
}
