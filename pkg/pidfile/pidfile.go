// Package pidfile keeps two specman runs from touching the radios at once.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrRunning is returned by Acquire when a live process holds the file
var ErrRunning = errors.New("another instance is running")

// PIDFile is a lock file holding the owner's process id
type PIDFile struct {
	path string
	pid  int
}

// New creates a PIDFile for the current process
func New(path string) *PIDFile {
	return &PIDFile{
		path: path,
		pid:  os.Getpid(),
	}
}

// Path returns the path to the PID file
func (p *PIDFile) Path() string {
	return p.path
}

// Acquire creates the file exclusively. A file left behind by a dead
// process is replaced; one held by a live process yields ErrRunning.
func (p *PIDFile) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(p.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", p.pid)
			cerr := f.Close()
			if werr != nil {
				return fmt.Errorf("failed to write PID file: %w", werr)
			}
			return cerr
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("failed to create PID file: %w", err)
		}

		holder, running, err := p.Holder()
		if err != nil {
			return err
		}
		if running {
			return fmt.Errorf("pid %d holds %s: %w", holder, p.path, ErrRunning)
		}
		if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove stale PID file: %w", err)
		}
	}
	return fmt.Errorf("failed to acquire %s: %w", p.path, ErrRunning)
}

// Release removes the file if this process owns it
func (p *PIDFile) Release() error {
	holder, err := p.read()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && holder != p.pid {
		return fmt.Errorf("PID file contains different PID (%d vs %d), not removing", holder, p.pid)
	}
	return os.Remove(p.path)
}

// Holder returns the pid in the file and whether that process is alive.
// A missing file returns 0 and false.
func (p *PIDFile) Holder() (int, bool, error) {
	pid, err := p.read()
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read PID file: %w", err)
	}
	return pid, alive(pid), nil
}

func (p *PIDFile) read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in file: %q", pidStr)
	}
	return pid, nil
}

// alive probes pid with signal 0; EPERM means it exists under another user
func alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
