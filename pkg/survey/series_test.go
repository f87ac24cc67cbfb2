package survey

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/specman/pkg"
)

func row(wall, elapsed, busy, rx, tx int64) pkg.RawSample {
	return pkg.RawSample{
		WallTime: wall,
		Elapsed:  pkg.C(elapsed),
		Busy:     pkg.C(busy),
		Rx:       pkg.C(rx),
		Tx:       pkg.C(tx),
	}
}

func walls(times ...int64) []pkg.RawSample {
	out := make([]pkg.RawSample, len(times))
	for i, ts := range times {
		out[i] = pkg.RawSample{WallTime: ts}
	}
	return out
}

func TestNearestIndex(t *testing.T) {
	s := NewSeries(pkg.SurveyCumulative, walls(100, 200, 300, 400), pkg.DefaultDefaults())

	tests := []struct {
		name string
		ts   int64
		want int
	}{
		{"before start", 0, 0},
		{"after end", 1000, 3},
		{"exact first", 100, 0},
		{"exact middle", 300, 2},
		{"exact last", 400, 3},
		{"closer to earlier", 240, 1},
		{"closer to later", 260, 2},
		{"tie goes earlier", 250, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.NearestIndex(tt.ts))
		})
	}
}

func TestNearestIndex_IdempotentAtSampleTimes(t *testing.T) {
	samples := walls(5, 17, 18, 90, 1000, 1001)
	s := NewSeries(pkg.SurveyInstantaneous, samples, pkg.DefaultDefaults())

	for i, sample := range samples {
		assert.Equal(t, i, s.NearestIndex(sample.WallTime), "sample %d", i)
	}
}

func TestNearestIndex_Empty(t *testing.T) {
	s := NewSeries(pkg.SurveyCumulative, nil, pkg.DefaultDefaults())
	assert.Equal(t, 0, s.NearestIndex(42))
}

func TestProposeBoundaries(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		s := NewSeries(pkg.SurveyCumulative, nil, pkg.DefaultDefaults())
		assert.Empty(t, s.ProposeBoundaries(300))
	})

	t.Run("min gap", func(t *testing.T) {
		s := NewSeries(pkg.SurveyCumulative, walls(0, 100, 299, 300, 500, 650, 1000), pkg.DefaultDefaults())
		assert.Equal(t, []int64{0, 300, 650, 1000}, s.ProposeBoundaries(300))
	})

	t.Run("strictly increasing with duplicates", func(t *testing.T) {
		s := NewSeries(pkg.SurveyCumulative, walls(10, 10, 10, 11, 11, 12), pkg.DefaultDefaults())
		got := s.ProposeBoundaries(0)
		require.Equal(t, int64(10), got[0])
		for i := 1; i < len(got); i++ {
			assert.Greater(t, got[i], got[i-1])
		}
	})
}

func TestMetricsForSlice_InvalidBounds(t *testing.T) {
	s := NewSeries(pkg.SurveyCumulative, walls(0, 100), pkg.DefaultDefaults())
	_, err := s.MetricsForSlice(100, 0)
	assert.True(t, errors.Is(err, pkg.ErrInvalidInput))
}

func TestMetricsForSlice_NoneAlwaysDummy(t *testing.T) {
	dummy := pkg.ChannelMetrics{IsValid: false, Busy: 0.2, Rx: 0.02, Tx: 0.05}

	for _, samples := range [][]pkg.RawSample{nil, {row(0, 0, 0, 0, 0), row(100, 100, 40, 5, 10)}} {
		s := NewSeries(pkg.SurveyNone, samples, pkg.DefaultDefaults())
		m, err := s.MetricsForSlice(0, 100)
		require.NoError(t, err)
		assert.Equal(t, dummy, m)
	}
}

func TestMetricsForSlice_EmptySeriesDummy(t *testing.T) {
	s := NewSeries(pkg.SurveyInstantaneous, nil, pkg.DefaultDefaults())
	m, err := s.MetricsForSlice(0, 10)
	require.NoError(t, err)
	assert.False(t, m.IsValid)
	assert.Equal(t, 0.2, m.Busy)
}

func TestMetricsForSlice_Cumulative(t *testing.T) {
	s := NewSeries(pkg.SurveyCumulative, []pkg.RawSample{
		row(0, 0, 0, 0, 0),
		row(100, 100, 40, 5, 10),
	}, pkg.DefaultDefaults())

	m, err := s.MetricsForSlice(0, 100)
	require.NoError(t, err)
	assert.True(t, m.IsValid)
	assert.Equal(t, int64(100), m.DeltaT)
	assert.Equal(t, int64(100), m.DeltaWall)
	assert.InDelta(t, 0.4, m.Busy, 1e-12)
	assert.InDelta(t, 0.05, m.Rx, 1e-12)
	assert.InDelta(t, 0.1, m.Tx, 1e-12)
}

func TestMetricsForSlice_CumulativeMissingField(t *testing.T) {
	second := row(100, 100, 40, 5, 10)
	second.Rx = pkg.Counter{}
	s := NewSeries(pkg.SurveyCumulative, []pkg.RawSample{row(0, 0, 0, 0, 0), second}, pkg.DefaultDefaults())

	m, err := s.MetricsForSlice(0, 100)
	require.NoError(t, err)
	assert.False(t, m.IsValid)
	assert.InDelta(t, 0.4, m.Busy, 1e-12)
	assert.Equal(t, 0.02, m.Rx)
	assert.InDelta(t, 0.1, m.Tx, 1e-12)
}

func TestMetricsForSlice_CumulativeMissingElapsed(t *testing.T) {
	second := row(100, 100, 40, 5, 10)
	second.Elapsed = pkg.Counter{}
	s := NewSeries(pkg.SurveyCumulative, []pkg.RawSample{row(0, 0, 0, 0, 0), second}, pkg.DefaultDefaults())

	m, err := s.MetricsForSlice(0, 100)
	require.NoError(t, err)
	assert.Equal(t, pkg.DefaultDefaults().Dummy(), m)
}

func TestMetricsForSlice_CumulativeZeroElapsedDelta(t *testing.T) {
	s := NewSeries(pkg.SurveyCumulative, []pkg.RawSample{
		row(0, 50, 0, 0, 0),
		row(100, 50, 40, 5, 10),
	}, pkg.DefaultDefaults())

	m, err := s.MetricsForSlice(0, 100)
	require.NoError(t, err)
	assert.False(t, m.IsValid)
	assert.GreaterOrEqual(t, m.DeltaT, int64(0))
	assert.Equal(t, 0.2, m.Busy)
}

func TestMetricsForSlice_CumulativeSingleSample(t *testing.T) {
	t.Run("running average", func(t *testing.T) {
		s := NewSeries(pkg.SurveyCumulative, []pkg.RawSample{row(50, 200, 50, 10, 20)}, pkg.DefaultDefaults())
		m, err := s.MetricsForSlice(0, 100)
		require.NoError(t, err)
		assert.False(t, m.IsValid)
		assert.Equal(t, int64(200), m.DeltaT)
		assert.InDelta(t, 0.25, m.Busy, 1e-12)
		assert.InDelta(t, 0.05, m.Rx, 1e-12)
		assert.InDelta(t, 0.1, m.Tx, 1e-12)
	})

	t.Run("zero elapsed", func(t *testing.T) {
		s := NewSeries(pkg.SurveyCumulative, []pkg.RawSample{row(50, 0, 50, 10, 20)}, pkg.DefaultDefaults())
		m, err := s.MetricsForSlice(0, 100)
		require.NoError(t, err)
		assert.Equal(t, pkg.DefaultDefaults().Dummy(), m)
	})
}

func TestMetricsForSlice_Instantaneous(t *testing.T) {
	skipped := row(150, 0, 999, 999, 999)
	skipped.Elapsed = pkg.Counter{}
	noTx := row(200, 100, 30, 2, 0)
	noTx.Tx = pkg.Counter{}

	s := NewSeries(pkg.SurveyInstantaneous, []pkg.RawSample{
		row(0, 100, 10, 1, 5),
		row(100, 100, 20, 3, 15),
		skipped,
		noTx,
		row(900, 100, 90, 9, 9),
	}, pkg.DefaultDefaults())

	m, err := s.MetricsForSlice(0, 200)
	require.NoError(t, err)
	assert.True(t, m.IsValid)
	assert.Equal(t, int64(300), m.DeltaT)
	assert.Equal(t, int64(200), m.DeltaWall)
	assert.InDelta(t, 60.0/300.0, m.Busy, 1e-12)
	assert.InDelta(t, 6.0/300.0, m.Rx, 1e-12)
	assert.InDelta(t, 20.0/200.0, m.Tx, 1e-12)
}

func TestMetricsForSlice_InstantaneousZeroElapsed(t *testing.T) {
	s := NewSeries(pkg.SurveyInstantaneous, []pkg.RawSample{row(0, 0, 10, 1, 5)}, pkg.DefaultDefaults())

	m, err := s.MetricsForSlice(0, 0)
	require.NoError(t, err)
	assert.True(t, m.IsValid)
	assert.Equal(t, 0.2, m.Busy)
	assert.Equal(t, 0.02, m.Rx)
	assert.Equal(t, 0.05, m.Tx)
}

func TestMetricsForSlice_NonNegative(t *testing.T) {
	samples := []pkg.RawSample{
		row(0, 0, 0, 0, 0),
		row(300, 300, 100, 20, 30),
		row(600, 100, 50, 10, 10), // counter reset
		row(900, 400, 200, 40, 60),
	}

	for _, st := range []pkg.SurveyType{pkg.SurveyCumulative, pkg.SurveyInstantaneous} {
		s := NewSeries(st, samples, pkg.DefaultDefaults())
		bounds := s.ProposeBoundaries(300)
		for i := 0; i+1 < len(bounds); i++ {
			m, err := s.MetricsForSlice(bounds[i], bounds[i+1])
			require.NoError(t, err)
			assert.GreaterOrEqual(t, m.DeltaT, int64(0), "%s slice %d", st, i)
			assert.GreaterOrEqual(t, m.Busy, 0.0)
			assert.GreaterOrEqual(t, m.Rx, 0.0)
			assert.GreaterOrEqual(t, m.Tx, 0.0)
		}
	}
}
