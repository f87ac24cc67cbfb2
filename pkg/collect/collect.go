// Package collect runs the measurement agent for one radio interface and
// records its output.
package collect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/markus-lassfolk/specman/pkg/logx"
	"github.com/markus-lassfolk/specman/pkg/remote"
	"github.com/markus-lassfolk/specman/pkg/store"
	"github.com/markus-lassfolk/specman/pkg/wrinfo"
)

// DefaultTimeout bounds one agent run
const DefaultTimeout = 60 * time.Second

// Store is the subset of the database the collector needs
type Store interface {
	RadioInterface(ctx context.Context, id int64) (*store.RadioInterface, error)
	AccessPoint(ctx context.Context, id int64) (*store.AccessPoint, error)
	RecordRun(ctx context.Context, run store.Run) (int64, error)
}

// Request describes one collection
type Request struct {
	RadioIfID int64
	Scan      bool
	Tag       string
	Timeout   time.Duration
	Cmdline   string // how the collection was invoked, stored with the run group
}

// Outcome is what RunOnce did
type Outcome struct {
	Skipped  bool
	Reason   string
	WrinfoID int64
	Status   store.RunStatus
}

// Collector runs agents and stores their reports
type Collector struct {
	store  Store
	remote remote.Executor
	local  remote.Executor
	agent  string
	logger *logx.Logger
	now    func() time.Time
}

// NewCollector creates a collector. Premade agent commands run through local,
// everything else runs agent through the remote executor.
func NewCollector(st Store, remoteExec, local remote.Executor, agent string, logger *logx.Logger) *Collector {
	return &Collector{
		store:  st,
		remote: remoteExec,
		local:  local,
		agent:  agent,
		logger: logger,
		now:    time.Now,
	}
}

// RunOnce measures one interface. Interfaces that are not measured, or whose
// access point is out of use, are skipped without recording anything. A
// missing interface is an error.
func (c *Collector) RunOnce(ctx context.Context, req Request) (*Outcome, error) {
	ri, err := c.store.RadioInterface(ctx, req.RadioIfID)
	if err != nil {
		return nil, fmt.Errorf("radio interface %d: %w", req.RadioIfID, err)
	}
	if !ri.Measuring {
		c.logger.Info("Interface is not being measured, skipping", "radio_if", ri.ID)
		return &Outcome{Skipped: true, Reason: "not measuring"}, nil
	}

	exec := c.local
	host := ""
	if ri.WrinfoCmd == "" {
		ap, err := c.store.AccessPoint(ctx, ri.APID)
		if err != nil {
			return nil, fmt.Errorf("access point %d: %w", ri.APID, err)
		}
		if !ap.InUse {
			c.logger.Info("Access point is not in use, skipping", "radio_if", ri.ID, "ap", ap.ID)
			return &Outcome{Skipped: true, Reason: "access point not in use"}, nil
		}
		exec = c.remote
		host = ap.IPAddr
	}
	argv := remote.AgentCommand(c.agent, ri.Ifname, req.Scan, ri.WrinfoCmd)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	run := store.Run{
		RadioIfID:  ri.ID,
		ServerTime: c.now().Unix(),
		Cmdline:    req.Cmdline,
		Tag:        req.Tag,
	}
	if run.Cmdline == "" {
		run.Cmdline = remote.Join(argv)
	}

	res, err := exec.Run(runCtx, host, argv)
	switch {
	case err != nil:
		c.logger.Error("Failed to start agent", "radio_if", ri.ID, "host", host, "error", err)
		run.Status = store.RunNotStarted
		run.ExitCode = -1
		run.Stderr = []string{err.Error()}
	case res.TimedOut:
		run.Status = store.RunTimeout
		run.ExitCode = res.ExitCode
		run.Stderr = splitLines(res.Stderr)
	default:
		run.ExitCode = res.ExitCode
		run.Stderr = splitLines(res.Stderr)
		if res.ExitCode != 0 {
			run.Status = store.RunExitError
		}
		report, perr := wrinfo.Parse(res.Stdout)
		run.Report = report
		if perr != nil {
			var se *wrinfo.SectionError
			if errors.As(perr, &se) {
				c.logger.Warn("Agent report has bad sections", "radio_if", ri.ID, "sections", se.Sections)
			} else {
				c.logger.Warn("Agent output is not a report", "radio_if", ri.ID, "error", perr)
			}
			if run.Status == store.RunOK {
				run.Status = store.RunBadOutput
			}
		}
	}

	id, err := c.store.RecordRun(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}

	c.logger.Info("Agent run recorded",
		"radio_if", ri.ID,
		"wrinfo_id", id,
		"status", run.Status.String(),
		"exit_code", run.ExitCode)
	return &Outcome{WrinfoID: id, Status: run.Status}, nil
}

func splitLines(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	return strings.Split(string(b), "\n")
}
