package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/markus-lassfolk/specman/pkg/collect"
	"github.com/markus-lassfolk/specman/pkg/logx"
	"github.com/markus-lassfolk/specman/pkg/metrics"
	"github.com/markus-lassfolk/specman/pkg/remote"
	"github.com/markus-lassfolk/specman/pkg/store"
	"github.com/markus-lassfolk/specman/pkg/uci"
)

var (
	configPath = flag.String("config", uci.DefaultConfigPath, "Path to UCI configuration file")
	logLevel   = flag.String("log-level", "", "Override log level (trace|debug|info|warn|error)")
	ifaceID    = flag.Int64("i", 0, "Radio interface ID (radio_if.id in the database)")
	doScan     = flag.Bool("s", false, "Run a channel scan as well (passes -s to the agent)")
	timeoutS   = flag.Float64("t", 0, "Agent timeout in seconds (default from config)")
	tag        = flag.String("T", "", "Tag to associate with the run")
)

func main() {
	flag.Parse()

	if *ifaceID == 0 {
		fmt.Fprintln(os.Stderr, "Error: missing interface ID (specify it with -i)")
		os.Exit(1)
	}

	cfg, err := uci.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	effectiveLogLevel := cfg.LogLevel
	if *logLevel != "" {
		effectiveLogLevel = *logLevel
	}
	logger := logx.NewLogger(effectiveLogLevel, "specman-collect")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Collection failed", "radio_if", *ifaceID, "error", err)
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *uci.Config, logger *logx.Logger) error {
	db, err := store.Open(cfg.DatabasePath, logger.With("component", "store"))
	if err != nil {
		return err
	}
	defer db.Close()

	var sshExec remote.Executor
	sshExec, err = remote.NewSSHExecutor(cfg.RemoteConfig(), logger.With("component", "remote"))
	if err != nil {
		// premade agent commands still work without ssh
		logger.Warn("SSH unavailable", "error", err)
		sshExec = unavailable{err: err}
	}

	collector, err := metrics.NewCollector(prometheus.NewRegistry())
	if err != nil {
		return err
	}

	timeout := cfg.AgentTimeout()
	if *timeoutS > 0 {
		timeout = time.Duration(*timeoutS * float64(time.Second))
	}

	c := collect.NewCollector(db, sshExec, remote.LocalExecutor{}, cfg.AgentPath, logger.With("component", "collect"))
	out, err := c.RunOnce(ctx, collect.Request{
		RadioIfID: *ifaceID,
		Scan:      *doScan,
		Tag:       *tag,
		Timeout:   timeout,
		Cmdline:   strings.Join(os.Args, " "),
	})
	if err != nil {
		return err
	}

	if out.Skipped {
		collector.ObserveAgentRun("skipped")
	} else {
		collector.ObserveAgentRun(out.Status.String())
	}
	return collector.WriteTextfile(textfilePath(cfg.MetricsTextfile))
}

// unavailable fails every remote run with the reason ssh could not be set up
type unavailable struct {
	err error
}

func (u unavailable) Run(context.Context, string, []string) (*remote.Result, error) {
	return nil, u.err
}

// textfilePath keeps collection metrics apart from the optimizer's file
func textfilePath(path string) string {
	if path == "" {
		return ""
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_collect" + ext
}
