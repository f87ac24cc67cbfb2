// Package optimizer searches for the channel assignment with the lowest total score.
package optimizer

import (
	"fmt"

	"github.com/markus-lassfolk/specman/pkg"
	"github.com/markus-lassfolk/specman/pkg/graph"
)

// Assignment holds one channel index per node, in node order
type Assignment []int

// ProblemInstance is everything the search needs, collected once per run
type ProblemInstance struct {
	Nodes      []pkg.Node  `json:"nodes"`
	Channels   []int       `json:"channels"` // frequencies in MHz
	Graph      graph.Graph `json:"graph"`
	Scores     [][]float64 `json:"scores"` // [node][channel]
	TxBaseline []float64   `json:"tx_baseline"`
}

// Validate checks the matrix dimensions and graph indices
func (p *ProblemInstance) Validate() error {
	n, k := len(p.Nodes), len(p.Channels)
	if len(p.Scores) != n {
		return fmt.Errorf("score matrix has %d rows for %d nodes: %w", len(p.Scores), n, pkg.ErrInvalidInput)
	}
	for i, row := range p.Scores {
		if len(row) != k {
			return fmt.Errorf("score row %d has %d entries for %d channels: %w", i, len(row), k, pkg.ErrInvalidInput)
		}
	}
	if len(p.TxBaseline) != n {
		return fmt.Errorf("tx baseline has %d entries for %d nodes: %w", len(p.TxBaseline), n, pkg.ErrInvalidInput)
	}
	for a, ns := range p.Graph {
		if a < 0 || a >= n {
			return fmt.Errorf("graph node %d out of range: %w", a, pkg.ErrInvalidInput)
		}
		for _, b := range ns {
			if b < 0 || b >= n || b == a {
				return fmt.Errorf("graph edge %d-%d invalid: %w", a, b, pkg.ErrInvalidInput)
			}
		}
	}
	return nil
}

// Evaluate returns the total score of an assignment, lower is better.
// Every neighbor entry sharing node n's channel adds n's own transmit
// baseline, so a shared edge is charged from both ends.
func (p *ProblemInstance) Evaluate(a Assignment) (float64, error) {
	if len(a) != len(p.Nodes) {
		return 0, fmt.Errorf("assignment length %d, want %d: %w", len(a), len(p.Nodes), pkg.ErrInvalidInput)
	}
	for i, ch := range a {
		if ch < 0 || ch >= len(p.Channels) {
			return 0, fmt.Errorf("node %d channel index %d out of range: %w", i, ch, pkg.ErrInvalidInput)
		}
	}
	return p.evaluate(a), nil
}

// evaluate assumes a has already been checked
func (p *ProblemInstance) evaluate(a Assignment) float64 {
	score := 0.0
	for i, ch := range a {
		score += p.Scores[i][ch]
	}
	for i := range p.Nodes {
		tx := p.TxBaseline[i]
		for _, j := range p.Graph[i] {
			if a[i] == a[j] {
				score += tx
			}
		}
	}
	return score
}

// Frequencies maps an assignment to channel frequencies
func (p *ProblemInstance) Frequencies(a Assignment) []int {
	out := make([]int, len(a))
	for i, ch := range a {
		out[i] = p.Channels[ch]
	}
	return out
}
