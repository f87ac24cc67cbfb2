// Package remote runs commands on access points, over ssh or locally.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/markus-lassfolk/specman/pkg/logx"
)

// Result is the outcome of a finished or aborted command
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	TimedOut bool
}

// Executor runs argv on host. An error means the command could not be run
// at all; a non-zero exit or timeout is reported in Result.
type Executor interface {
	Run(ctx context.Context, host string, argv []string) (*Result, error)
}

// Config holds ssh connection settings
type Config struct {
	User           string        `json:"user"`
	Port           int           `json:"port"`
	KeyFile        string        `json:"key_file"`
	KnownHostsFile string        `json:"known_hosts"` // empty disables host key checking
	DialTimeout    time.Duration `json:"dial_timeout"`
}

// DefaultConfig returns root@host:22 with the default key
func DefaultConfig() Config {
	return Config{
		User:        "root",
		Port:        22,
		KeyFile:     "/root/.ssh/id_rsa",
		DialTimeout: 10 * time.Second,
	}
}

// SSHExecutor runs commands over ssh
type SSHExecutor struct {
	config Config
	client *ssh.ClientConfig
	logger *logx.Logger
}

// NewSSHExecutor loads the key and host key policy
func NewSSHExecutor(config Config, logger *logx.Logger) (*SSHExecutor, error) {
	key, err := os.ReadFile(config.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh key: %w", err)
	}

	hostKeys := ssh.InsecureIgnoreHostKey()
	if config.KnownHostsFile != "" {
		hostKeys, err = knownhosts.New(config.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
	} else {
		logger.Warn("SSH host key checking disabled")
	}

	return &SSHExecutor{
		config: config,
		client: &ssh.ClientConfig{
			User:            config.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeys,
			Timeout:         config.DialTimeout,
		},
		logger: logger,
	}, nil
}

// Run executes argv on host; cancelling ctx kills the remote command
func (e *SSHExecutor) Run(ctx context.Context, host string, argv []string) (*Result, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(e.config.Port))
	client, err := ssh.Dial("tcp", addr, e.client)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session on %s: %w", addr, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	cmd := Join(argv)
	e.logger.Debug("Running remote command", "host", host, "cmd", cmd)

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		client.Close()
		return &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: -1, TimedOut: true}, nil
	}

	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	var exitErr *ssh.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
	default:
		var missing *ssh.ExitMissingError
		if errors.As(err, &missing) {
			res.ExitCode = -1
			return res, nil
		}
		return nil, fmt.Errorf("remote command on %s failed: %w", addr, err)
	}
	return res, nil
}

// LocalExecutor runs a pre-made command line on this machine; host is ignored
type LocalExecutor struct{}

// Run executes argv locally
func (LocalExecutor) Run(ctx context.Context, _ string, argv []string) (*Result, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = nil
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if ctx.Err() != nil {
		res.TimedOut = true
		res.ExitCode = -1
		return res, nil
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("failed to run %s: %w", argv[0], err)
	}
	return res, nil
}

// Join quotes argv for a POSIX shell
func Join(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		parts[i] = quote(a)
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:,@+", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
