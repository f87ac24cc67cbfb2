// Package planner collects the nodes, interference graph and channel scores
// for one optimizer run.
package planner

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/markus-lassfolk/specman/pkg"
	"github.com/markus-lassfolk/specman/pkg/graph"
	"github.com/markus-lassfolk/specman/pkg/logx"
	"github.com/markus-lassfolk/specman/pkg/optimizer"
	"github.com/markus-lassfolk/specman/pkg/scoring"
)

// Source lists the managed radios and what they can hear
type Source interface {
	ListOptimizableNodes(ctx context.Context) ([]pkg.Node, error)
	ListVisibilityPairs(ctx context.Context) ([]graph.VisibilityPair, error)
}

// Planner builds problem instances
type Planner struct {
	source  Source
	scorer  *scoring.Scorer
	workers int
	logger  *logx.Logger
	perf    *logx.PerformanceLogger
}

// New creates a planner; workers <= 0 means GOMAXPROCS
func New(source Source, scorer *scoring.Scorer, workers int, logger *logx.Logger) *Planner {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Planner{
		source:  source,
		scorer:  scorer,
		workers: workers,
		logger:  logger,
		perf:    logx.NewPerformanceLogger(logger),
	}
}

// Perf returns the phase timings collected so far
func (p *Planner) Perf() *logx.PerformanceLogger {
	return p.perf
}

// Build loads the nodes, builds the graph and scores every node on every
// channel. Survey data from before epochStart is ignored.
func (p *Planner) Build(ctx context.Context, channels []int, epochStart time.Time) (*optimizer.ProblemInstance, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("no candidate channels: %w", pkg.ErrInvalidInput)
	}

	phase := p.perf.Start("load_nodes")
	nodes, err := p.source.ListOptimizableNodes(ctx)
	phase.Done(err)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	phase = p.perf.Start("build_graph")
	pairs, err := p.source.ListVisibilityPairs(ctx)
	phase.Done(err)
	if err != nil {
		return nil, fmt.Errorf("failed to list visibility pairs: %w", err)
	}
	g := graph.Build(nodes, pairs)

	p.logger.Info("Planning channel assignment",
		"nodes", len(nodes),
		"channels", len(channels),
		"edges", g.EdgeCount(),
		"epoch_start", epochStart.Format(time.RFC3339))

	scores := make([][]float64, len(nodes))
	baselines := make([]float64, len(nodes))

	phase = p.perf.Start("score")
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.workers)
	for i := range nodes {
		i := i
		eg.Go(func() error {
			row, err := p.scorer.ScoreNodeChannels(egCtx, nodes, i, g.Neighbors(i), channels, epochStart)
			if err != nil {
				return fmt.Errorf("scoring %s: %w", nodes[i], err)
			}
			tx, err := p.scorer.TxBaseline(egCtx, nodes[i], epochStart)
			if err != nil {
				return fmt.Errorf("tx baseline for %s: %w", nodes[i], err)
			}
			scores[i] = row
			baselines[i] = tx
			return nil
		})
	}
	err = eg.Wait()
	phase.Done(err)
	if err != nil {
		return nil, err
	}

	for i, n := range nodes {
		p.logger.Debug("Node scored",
			"node", n.String(),
			"scores", scores[i],
			"tx_baseline", baselines[i])
	}

	return &optimizer.ProblemInstance{
		Nodes:      nodes,
		Channels:   append([]int(nil), channels...),
		Graph:      g,
		Scores:     scores,
		TxBaseline: baselines,
	}, nil
}
