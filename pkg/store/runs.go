package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/markus-lassfolk/specman/pkg/wrinfo"
)

// RunStatus is the outcome of one agent run
type RunStatus int

const (
	RunOK         RunStatus = 0 // agent exited 0 and its output parsed
	RunExitError  RunStatus = 1 // agent exited non-zero
	RunTimeout    RunStatus = 2 // agent did not finish in time
	RunBadOutput  RunStatus = 3 // output missing or malformed sections
	RunNotStarted RunStatus = 4 // transport failure before the agent ran
)

func (s RunStatus) String() string {
	switch s {
	case RunOK:
		return "ok"
	case RunExitError:
		return "exit_error"
	case RunTimeout:
		return "timeout"
	case RunBadOutput:
		return "bad_output"
	case RunNotStarted:
		return "not_started"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Run is one measurement to be recorded
type Run struct {
	RadioIfID  int64
	Status     RunStatus
	ExitCode   int
	ServerTime int64
	Cmdline    string
	Tag        string
	Stderr     []string
	Report     *wrinfo.Report // may be partial or nil
}

// RecordRun stores a run and whatever report sections it produced in one
// transaction, returning the new wrinfo id.
func (s *Store) RecordRun(ctx context.Context, run Run) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO rungroup (cmd, servertime, tag) VALUES (?, ?, ?)`,
		run.Cmdline, run.ServerTime, nullString(run.Tag))
	if err != nil {
		return 0, fmt.Errorf("failed to insert rungroup: %w", err)
	}
	rungroupID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	res, err = tx.ExecContext(ctx,
		`INSERT INTO wrinfo (radio_if_id, status, exit_code, servertime, rungroup_id) VALUES (?, ?, ?, ?, ?)`,
		run.RadioIfID, int(run.Status), run.ExitCode, run.ServerTime, rungroupID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert wrinfo: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, line := range run.Stderr {
		if line == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO wrinfo_errors (wrinfo_id, msg) VALUES (?, ?)`, id, line); err != nil {
			return 0, fmt.Errorf("failed to insert wrinfo error: %w", err)
		}
	}

	if run.Report != nil {
		if err := insertReport(ctx, tx, id, run.Report); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit run: %w", err)
	}

	s.logger.Debug("Run recorded",
		"wrinfo_id", id,
		"radio_if", run.RadioIfID,
		"status", run.Status.String())
	return id, nil
}

func insertReport(ctx context.Context, tx *sql.Tx, id int64, r *wrinfo.Report) error {
	if i := r.Interface; i != nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO wrinfo_interface (wrinfo_id, ifindex, mac, ssid, frequency,
				channel_width_enum, center_freq1, center_freq2, channel_type_enum)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, u32(i.IfIndex), nullString(i.MAC), nullString(i.SSID), u32(i.Frequency),
			u32(i.ChannelWidth), u32(i.CenterFreq1), u32(i.CenterFreq2), u32(i.ChannelType))
		if err != nil {
			return fmt.Errorf("failed to insert interface section: %w", err)
		}
	}

	if m := r.Meta; m != nil {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO wrinfo_meta (wrinfo_id, cmd, time_human, time_unix) VALUES (?, ?, ?, ?)`,
			id, nullString(m.Cmdline), nullString(m.TimeHuman), m.TimeUnix)
		if err != nil {
			return fmt.Errorf("failed to insert meta section: %w", err)
		}
	}

	for _, e := range r.Scan {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO wrinfo_scan (wrinfo_id, bssid, frequency, ssid) VALUES (?, ?, ?, ?)`,
			id, nullString(e.BSSID), u32(e.Frequency), nullString(e.SSID))
		if err != nil {
			return fmt.Errorf("failed to insert scan entry: %w", err)
		}
	}

	for _, e := range r.Survey {
		var noise interface{}
		if e.Noise != nil {
			noise = int64(*e.Noise)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO wrinfo_survey (wrinfo_id, frequency, in_use, noise, time, busy, rx, tx)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, u32(e.Frequency), e.InUse, noise, u64(e.Time), u64(e.Busy), u64(e.Rx), u64(e.Tx))
		if err != nil {
			return fmt.Errorf("failed to insert survey entry: %w", err)
		}
	}
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func u32(v *uint32) interface{} {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func u64(v *uint64) interface{} {
	if v == nil {
		return nil
	}
	return int64(*v)
}
