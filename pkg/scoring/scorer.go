// Package scoring derives per-channel badness scores and transmit baselines
// for managed interfaces from their survey history.
package scoring

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/markus-lassfolk/specman/pkg"
	"github.com/markus-lassfolk/specman/pkg/logx"
	"github.com/markus-lassfolk/specman/pkg/survey"
)

// Store is the telemetry data store consulted by the scorer
type Store interface {
	SurveyType(ctx context.Context, ifaceID int64) (pkg.SurveyType, error)
	FetchSamples(ctx context.Context, ifaceID int64, freq int, since int64) ([]pkg.RawSample, error)
	FetchInUseSamples(ctx context.Context, ifaceID int64, since int64) ([]pkg.RawSample, error)
}

// Config holds the scoring tunables for one optimization run
type Config struct {
	HistoryWindow time.Duration `json:"history_window"`
	SliceWidth    int64         `json:"slice_width_s"`
	Quantile      pkg.Quantile  `json:"quantile"`
	Defaults      pkg.Defaults  `json:"defaults"`
}

// DefaultConfig returns one day of history, 5 minute slices and the 7/8 quantile
func DefaultConfig() Config {
	return Config{
		HistoryWindow: 24 * time.Hour,
		SliceWidth:    300,
		Quantile:      pkg.DefaultQuantile(),
		Defaults:      pkg.DefaultDefaults(),
	}
}

// Scorer computes channel scores against a Store
type Scorer struct {
	store  Store
	config Config
	logger *logx.Logger
	now    func() time.Time
}

// NewScorer creates a scorer; the clock defaults to time.Now
func NewScorer(store Store, config Config, logger *logx.Logger) *Scorer {
	return &Scorer{
		store:  store,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the scorer's clock
func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	s.now = now
	return s
}

// Cutoff is the oldest sample time considered: now minus the history window,
// or the epoch start when that is later.
func (s *Scorer) Cutoff(epochStart time.Time) int64 {
	cutoff := s.now().Add(-s.config.HistoryWindow).Unix()
	if !epochStart.IsZero() && epochStart.Unix() > cutoff {
		cutoff = epochStart.Unix()
	}
	return cutoff
}

func (s *Scorer) loadSeries(ctx context.Context, ifaceID int64, freq int, cutoff int64) (*survey.Series, error) {
	st, err := s.store.SurveyType(ctx, ifaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get survey type for radio_if %d: %w", ifaceID, err)
	}
	samples, err := s.store.FetchSamples(ctx, ifaceID, freq, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch samples for radio_if %d on %d MHz: %w", ifaceID, freq, err)
	}
	return survey.NewSeries(st, samples, s.config.Defaults), nil
}

// ScoreNodeChannels returns one score per frequency for nodes[node], lower is
// better. Neighbor transmit time on the same slices is subtracted because the
// optimizer can remove it by moving that neighbor.
func (s *Scorer) ScoreNodeChannels(ctx context.Context, nodes []pkg.Node, node int, neighbors []int, freqs []int, epochStart time.Time) ([]float64, error) {
	if node < 0 || node >= len(nodes) {
		return nil, fmt.Errorf("node index %d out of range: %w", node, pkg.ErrInvalidInput)
	}
	cutoff := s.Cutoff(epochStart)

	scores := make([]float64, 0, len(freqs))
	for _, freq := range freqs {
		own, err := s.loadSeries(ctx, nodes[node].IfaceID, freq, cutoff)
		if err != nil {
			return nil, err
		}

		bounds := own.ProposeBoundaries(s.config.SliceWidth)
		sections := make([]float64, 0, len(bounds))
		for i := 0; i+1 < len(bounds); i++ {
			m, err := own.MetricsForSlice(bounds[i], bounds[i+1])
			if err != nil {
				return nil, err
			}
			sections = append(sections, m.Busy-m.Tx)
		}

		for _, nb := range neighbors {
			if nb < 0 || nb >= len(nodes) {
				continue
			}
			other, err := s.loadSeries(ctx, nodes[nb].IfaceID, freq, cutoff)
			if err != nil {
				return nil, err
			}
			for i := range sections {
				m, err := other.MetricsForSlice(bounds[i], bounds[i+1])
				if err != nil {
					return nil, err
				}
				sections[i] -= m.Tx
			}
		}

		score := 0.0 // no data: optimistic so the channel gets explored
		if len(sections) > 0 {
			score = QuantileOf(sections, s.config.Quantile)
		}
		s.logger.Trace("Channel scored",
			"radio_if", nodes[node].IfaceID,
			"frequency", freq,
			"slices", len(sections),
			"score", score)
		scores = append(scores, score)
	}
	return scores, nil
}

// TxBaseline estimates how much node transmits, independent of channel
func (s *Scorer) TxBaseline(ctx context.Context, node pkg.Node, epochStart time.Time) (float64, error) {
	st, err := s.store.SurveyType(ctx, node.IfaceID)
	if err != nil {
		return 0, fmt.Errorf("failed to get survey type for radio_if %d: %w", node.IfaceID, err)
	}
	if st == pkg.SurveyNone {
		return s.config.Defaults.TxBaseline, nil
	}

	rows, err := s.store.FetchInUseSamples(ctx, node.IfaceID, s.Cutoff(epochStart))
	if err != nil {
		return 0, fmt.Errorf("failed to fetch in-use samples for radio_if %d: %w", node.IfaceID, err)
	}

	var rates []float64
	switch st {
	case pkg.SurveyCumulative:
		rates = cumulativeTxRates(rows)
	case pkg.SurveyInstantaneous:
		rates = instantaneousTxRates(rows)
	}

	if len(rates) == 0 {
		return 0, nil
	}
	return QuantileOf(rates, s.config.Quantile), nil
}

func cumulativeTxRates(rows []pkg.RawSample) []float64 {
	var rates []float64
	for i := 0; i+1 < len(rows); i++ {
		a, b := rows[i], rows[i+1]
		if a.Frequency != b.Frequency {
			// rate across a channel switch is meaningless
			continue
		}
		dtx, dt := b.Tx.Sub(a.Tx), b.Elapsed.Sub(a.Elapsed)
		if !dtx.Valid || !dt.Valid || dt.Value <= 0 {
			continue
		}
		rates = append(rates, float64(dtx.Value)/float64(dt.Value))
	}
	return rates
}

func instantaneousTxRates(rows []pkg.RawSample) []float64 {
	var rates []float64
	for _, r := range rows {
		if !r.Tx.Valid || !r.Elapsed.Valid || r.Elapsed.Value == 0 {
			continue
		}
		rates = append(rates, float64(r.Tx.Value)/float64(r.Elapsed.Value))
	}
	return rates
}

// QuantileOf returns element floor(q.Num*len/q.Den) of the ascending values.
// It returns 0 for an empty list.
func QuantileOf(values []float64, q pkg.Quantile) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	den := q.Den
	if den <= 0 {
		den = 1
	}
	idx := len(sorted) * q.Num / den
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
