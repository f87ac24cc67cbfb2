package optimizer

import (
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/markus-lassfolk/specman/pkg"
	"github.com/markus-lassfolk/specman/pkg/logx"
)

// Options controls the exhaustive search
type Options struct {
	Verbose       bool `json:"verbose"`
	TopN          int  `json:"top_n"`          // ranked entries reported when verbose
	Workers       int  `json:"workers"`        // 0 means GOMAXPROCS
	MaxCandidates int  `json:"max_candidates"` // 0 means no limit besides int overflow
}

// DefaultOptions returns the standard search options
func DefaultOptions() Options {
	return Options{
		TopN:          10,
		MaxCandidates: 1 << 24,
	}
}

// Ranked is one evaluated assignment
type Ranked struct {
	Score      float64    `json:"score"`
	Assignment Assignment `json:"assignment"`
}

// Result is the outcome of a search
type Result struct {
	Best      Assignment `json:"best"`
	BestScore float64    `json:"best_score"`
	Top       []Ranked   `json:"top,omitempty"` // only filled when verbose
	Evaluated int        `json:"evaluated"`
}

// Optimizer runs the exhaustive search over all assignments
type Optimizer struct {
	opts   Options
	logger *logx.Logger
}

// NewOptimizer creates an optimizer
func NewOptimizer(opts Options, logger *logx.Logger) *Optimizer {
	if opts.TopN <= 0 {
		opts.TopN = 10
	}
	return &Optimizer{opts: opts, logger: logger}
}

type candidate struct {
	score float64
	index int
}

// FindBest evaluates all k^n assignments and returns the cheapest one.
// The search is exponential and only practical for small networks.
func (o *Optimizer) FindBest(p *ProblemInstance) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n, k := len(p.Nodes), len(p.Channels)
	if n > 0 && k == 0 {
		return nil, fmt.Errorf("no channels to assign to %d nodes: %w", n, pkg.ErrInvalidInput)
	}

	total, err := o.candidateCount(n, k)
	if err != nil {
		return nil, err
	}

	o.logger.Debug("Starting exhaustive channel search",
		"nodes", n,
		"channels", k,
		"candidates", total,
		"edges", p.Graph.EdgeCount())

	results := make([]candidate, total)
	workers := o.workerCount(total)
	chunk := (total + workers - 1) / workers

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		lo, hi := w*chunk, (w+1)*chunk
		if hi > total {
			hi = total
		}
		if lo >= hi {
			break
		}
		g.Go(func() error {
			a := make(Assignment, n)
			for idx := lo; idx < hi; idx++ {
				decode(idx, k, a)
				results[idx] = candidate{score: p.evaluate(a), index: idx}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Candidate indexes enumerate assignments with node 0 as the most
	// significant digit, so index order equals lexicographic order.
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score < results[j].score
		}
		return results[i].index < results[j].index
	})

	best := make(Assignment, n)
	decode(results[0].index, k, best)
	res := &Result{
		Best:      best,
		BestScore: results[0].score,
		Evaluated: total,
	}

	if o.opts.Verbose {
		top := o.opts.TopN
		if top > total {
			top = total
		}
		res.Top = make([]Ranked, top)
		for i := 0; i < top; i++ {
			a := make(Assignment, n)
			decode(results[i].index, k, a)
			res.Top[i] = Ranked{Score: results[i].score, Assignment: a}
			o.logger.Info("Ranked assignment",
				"rank", i+1,
				"score", fmt.Sprintf("%.2g", results[i].score),
				"assignment", fmt.Sprint([]int(a)))
		}
	}

	return res, nil
}

func (o *Optimizer) candidateCount(n, k int) (int, error) {
	total := 1
	for i := 0; i < n; i++ {
		if total > math.MaxInt/k {
			return 0, fmt.Errorf("%d^%d assignments overflow: %w", k, n, pkg.ErrSearchTooLarge)
		}
		total *= k
	}
	if o.opts.MaxCandidates > 0 && total > o.opts.MaxCandidates {
		return 0, fmt.Errorf("%d assignments exceed limit %d: %w", total, o.opts.MaxCandidates, pkg.ErrSearchTooLarge)
	}
	return total, nil
}

func (o *Optimizer) workerCount(total int) int {
	w := o.opts.Workers
	if w <= 0 {
		w = runtime.GOMAXPROCS(0)
	}
	if w > total {
		w = total
	}
	if w < 1 {
		w = 1
	}
	return w
}

// decode writes the base-k digits of idx into a, most significant first
func decode(idx, k int, a Assignment) {
	for i := len(a) - 1; i >= 0; i-- {
		a[i] = idx % k
		idx /= k
	}
}
