package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/markus-lassfolk/specman/pkg/epoch"
	"github.com/markus-lassfolk/specman/pkg/logx"
	"github.com/markus-lassfolk/specman/pkg/metrics"
	"github.com/markus-lassfolk/specman/pkg/mqtt"
	"github.com/markus-lassfolk/specman/pkg/optimizer"
	"github.com/markus-lassfolk/specman/pkg/pidfile"
	"github.com/markus-lassfolk/specman/pkg/planner"
	"github.com/markus-lassfolk/specman/pkg/remote"
	"github.com/markus-lassfolk/specman/pkg/scoring"
	"github.com/markus-lassfolk/specman/pkg/store"
	"github.com/markus-lassfolk/specman/pkg/uci"
	"github.com/markus-lassfolk/specman/pkg/wifi"
)

var (
	configPath  = flag.String("config", uci.DefaultConfigPath, "Path to UCI configuration file")
	pidPath     = flag.String("pid-file", "/var/run/specman.pid", "Path to PID file")
	logLevel    = flag.String("log-level", "", "Override log level (trace|debug|info|warn|error)")
	channels    = flag.String("channels", "", "Comma separated candidate frequencies in MHz or channel numbers, overrides the config")
	apply       = flag.Bool("apply", false, "Push the best assignment to the access points")
	dryRun      = flag.Bool("dry-run", false, "With -apply, log the channel changes instead of running them")
	historyDays = flag.Int("history-days", 0, "Override the survey history window in days")
	useEpoch    = flag.Bool("epoch", false, "Ignore survey data from before the last applied plan")
	verbose     = flag.Bool("verbose", false, "Log and print the top ranked assignments")
	version     = flag.Bool("version", false, "Show version information")
)

const (
	AppName    = "specman"
	AppVersion = "1.0.0"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		os.Exit(0)
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
	logger := logx.NewLogger(effectiveLogLevel, AppName)

	if err := applyOverrides(cfg); err != nil {
		logger.Error("Invalid command line", "error", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Run failed", "error", err)
		cancel()
		os.Exit(1)
	}
}

func applyOverrides(cfg *uci.Config) error {
	if *channels != "" {
		freqs, err := wifi.ParseFrequencies(*channels)
		if err != nil {
			return err
		}
		cfg.Channels = freqs
	}
	if *historyDays < 0 {
		return fmt.Errorf("history-days must not be negative")
	}
	if *historyDays > 0 {
		cfg.HistoryDays = *historyDays
	}
	return nil
}

func run(ctx context.Context, cfg *uci.Config, logger *logx.Logger) error {
	pidFile := pidfile.New(*pidPath)
	if err := pidFile.Acquire(); err != nil {
		if errors.Is(err, pidfile.ErrRunning) {
			fmt.Fprintf(os.Stderr, "Error: %s is already running (%s)\n", AppName, *pidPath)
		}
		return err
	}
	defer func() {
		if err := pidFile.Release(); err != nil {
			logger.Error("Failed to remove PID file", "error", err)
		}
	}()

	logger.Info("Starting channel optimization",
		"version", AppVersion,
		"pid", os.Getpid(),
		"channels", cfg.Channels,
		"history_days", cfg.HistoryDays)

	db, err := store.Open(cfg.DatabasePath, logger.With("component", "store"))
	if err != nil {
		return err
	}
	defer db.Close()

	plans, err := epoch.Open(cfg.EpochDBPath, logger.With("component", "epoch"))
	if err != nil {
		return err
	}
	defer plans.Close()

	var epochStart time.Time
	if *useEpoch {
		if epochStart, err = plans.Start(); err != nil {
			return err
		}
		logger.Info("Scoring from epoch start", "epoch_start", epochStart.Format(time.RFC3339))
	}

	collector, err := metrics.NewCollector(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer func() {
		if err := collector.WriteTextfile(cfg.MetricsTextfile); err != nil {
			logger.Warn("Failed to write metrics", "error", err)
		}
	}()

	publisher := mqtt.NewClient(cfg.MQTT, logger.With("component", "mqtt"))
	if err := publisher.Connect(); err != nil {
		logger.Warn("MQTT unavailable, results will not be published", "error", err)
	}
	defer publisher.Disconnect()

	scorer := scoring.NewScorer(db, cfg.ScoringConfig(), logger.With("component", "scoring"))
	plan := planner.New(db, scorer, cfg.Workers, logger.With("component", "planner"))
	defer plan.Perf().LogSummary()

	inst, err := plan.Build(ctx, cfg.Channels, epochStart)
	if err != nil {
		return err
	}

	opt := optimizer.NewOptimizer(cfg.OptimizerOptions(*verbose), logger.With("component", "optimizer"))
	started := time.Now()
	result, err := opt.FindBest(inst)
	if err != nil {
		return err
	}
	collector.ObserveSearch(len(inst.Nodes), len(inst.Channels), result.Evaluated, result.BestScore, time.Since(started))

	freqs := inst.Frequencies(result.Best)
	printResult(inst, result, freqs)

	if err := publisher.PublishResult(resultMessage(inst, result, freqs)); err != nil {
		logger.Warn("Failed to publish result", "error", err)
	}

	if !*apply {
		return nil
	}
	return applyPlan(ctx, cfg, logger, db, plans, collector, publisher, inst, result, freqs)
}

func applyPlan(ctx context.Context, cfg *uci.Config, logger *logx.Logger, db *store.Store, plans *epoch.Store,
	collector *metrics.Collector, publisher *mqtt.Client, inst *optimizer.ProblemInstance, result *optimizer.Result, freqs []int) error {
	ids := make([]int64, len(inst.Nodes))
	for i, n := range inst.Nodes {
		ids[i] = n.IfaceID
	}
	endpoints, err := db.Endpoints(ctx, ids)
	if err != nil {
		return err
	}
	hosts := make([]string, len(endpoints))
	ifnames := make([]string, len(endpoints))
	for i, ep := range endpoints {
		hosts[i] = ep.IPAddr
		ifnames[i] = ep.Ifname
	}
	targets, err := remote.Targets(hosts, ifnames, freqs)
	if err != nil {
		return err
	}

	var exec remote.Executor = remote.LocalExecutor{}
	if !*dryRun {
		sshExec, err := remote.NewSSHExecutor(cfg.RemoteConfig(), logger.With("component", "remote"))
		if err != nil {
			return err
		}
		exec = sshExec
	}
	setter := remote.NewChannelSetter(exec, cfg.SetterOptions(*dryRun), logger.With("component", "remote"))
	results := setter.Apply(ctx, targets)

	msg := mqtt.PlanMessage{DryRun: *dryRun}
	failed := 0
	for _, r := range results {
		outcome := "ok"
		switch {
		case r.Skipped:
			outcome = "skipped"
		case !r.OK():
			outcome = "failed"
			failed++
		}
		collector.ObserveChannelChange(outcome)
		msg.Radios = append(msg.Radios, mqtt.PlanRadio{
			Host:      r.Target.Host,
			Ifname:    r.Target.Ifname,
			Frequency: r.Target.Frequency,
			OK:        r.OK(),
		})
	}

	if err := plans.Record(epoch.Plan{
		AppliedAt:   time.Now(),
		IfaceIDs:    ids,
		Frequencies: freqs,
		Score:       result.BestScore,
		DryRun:      *dryRun,
	}); err != nil {
		return err
	}

	if err := publisher.PublishPlan(msg); err != nil {
		logger.Warn("Failed to publish plan", "error", err)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d channel changes failed", failed, len(results))
	}
	return nil
}

func printResult(inst *optimizer.ProblemInstance, result *optimizer.Result, freqs []int) {
	if len(result.Top) > 0 {
		fmt.Println("Best assignments, by score (lower is better):")
		for _, r := range result.Top {
			fmt.Printf("  %.2g  %v\n", r.Score, inst.Frequencies(r.Assignment))
		}
	}
	fmt.Printf("The best assignment is %v (score %.4g)\n", freqs, result.BestScore)
	for i, n := range inst.Nodes {
		fmt.Printf("  %s -> %s\n", n, wifi.Label(freqs[i]))
	}
}

func resultMessage(inst *optimizer.ProblemInstance, result *optimizer.Result, freqs []int) mqtt.ResultMessage {
	msg := mqtt.ResultMessage{
		Channels:    inst.Channels,
		Frequencies: freqs,
		Score:       result.BestScore,
		Evaluated:   result.Evaluated,
	}
	for _, n := range inst.Nodes {
		msg.Nodes = append(msg.Nodes, n.String())
	}
	for _, r := range result.Top {
		msg.Top = append(msg.Top, mqtt.Candidate{Score: r.Score, Frequencies: inst.Frequencies(r.Assignment)})
	}
	return msg
}
