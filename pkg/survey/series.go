// Package survey turns raw channel survey rows into per-slice usage metrics.
package survey

import (
	"fmt"
	"sort"

	"github.com/markus-lassfolk/specman/pkg"
)

// Series is the ordered survey history of one interface on one frequency
type Series struct {
	Type     pkg.SurveyType
	Samples  []pkg.RawSample
	Defaults pkg.Defaults
}

// NewSeries wraps samples already ordered by collection sequence
func NewSeries(st pkg.SurveyType, samples []pkg.RawSample, defaults pkg.Defaults) *Series {
	return &Series{Type: st, Samples: samples, Defaults: defaults}
}

// Len returns the number of samples
func (s *Series) Len() int {
	return len(s.Samples)
}

// NearestIndex returns the index of the sample closest in wall time to ts.
// Ties go to the earlier sample; timestamps outside the series clamp to its ends.
func (s *Series) NearestIndex(ts int64) int {
	r := s.Samples
	if len(r) == 0 {
		return 0
	}

	// first sample strictly after ts
	j := sort.Search(len(r), func(i int) bool { return r[i].WallTime > ts })
	if j == 0 {
		return 0
	}
	if j == len(r) {
		return len(r) - 1
	}
	if ts-r[j-1].WallTime <= r[j].WallTime-ts {
		return j - 1
	}
	return j
}

// ProposeBoundaries splits the series into slices at least minGap seconds wide
func (s *Series) ProposeBoundaries(minGap int64) []int64 {
	if len(s.Samples) == 0 {
		return nil
	}
	if minGap < 1 {
		minGap = 1
	}

	bounds := []int64{s.Samples[0].WallTime}
	for _, sample := range s.Samples {
		if sample.WallTime-bounds[len(bounds)-1] >= minGap {
			bounds = append(bounds, sample.WallTime)
		}
	}
	return bounds
}

// MetricsForSlice computes the usage metrics between begin and end
func (s *Series) MetricsForSlice(begin, end int64) (pkg.ChannelMetrics, error) {
	if end < begin {
		return pkg.ChannelMetrics{}, fmt.Errorf("slice end %d before begin %d: %w", end, begin, pkg.ErrInvalidInput)
	}

	if s.Type == pkg.SurveyNone || len(s.Samples) == 0 {
		return s.Defaults.Dummy(), nil
	}

	beg, last := s.NearestIndex(begin), s.NearestIndex(end)
	switch s.Type {
	case pkg.SurveyCumulative:
		return cumulativeMetrics(s.Samples, beg, last, s.Defaults), nil
	case pkg.SurveyInstantaneous:
		return instantaneousMetrics(s.Samples, beg, last, s.Defaults), nil
	default:
		return s.Defaults.Dummy(), nil
	}
}
