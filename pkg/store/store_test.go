package store

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/specman/pkg"
	"github.com/markus-lassfolk/specman/pkg/graph"
	"github.com/markus-lassfolk/specman/pkg/logx"
	"github.com/markus-lassfolk/specman/pkg/wrinfo"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "specman.db"), logx.NewLoggerWithOutput("error", "test", io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func u32p(v uint32) *uint32 { return &v }
func u64p(v uint64) *uint64 { return &v }

func report(mac string, freq uint32, bssids []string, survey ...wrinfo.SurveyEntry) *wrinfo.Report {
	r := &wrinfo.Report{
		Interface: &wrinfo.Interface{Name: "wlan0", MAC: mac, Frequency: u32p(freq)},
		Meta:      &wrinfo.Meta{Cmdline: "./wrinfo -i wlan0", TimeUnix: 1},
		Survey:    survey,
	}
	for _, b := range bssids {
		r.Scan = append(r.Scan, wrinfo.ScanEntry{BSSID: b, Frequency: u32p(freq)})
	}
	return r
}

type fixture struct {
	s      *Store
	apID   int64
	radioA int64
	radioB int64
	radioC int64
}

func newFixture(t *testing.T) fixture {
	ctx := context.Background()
	s := openTestStore(t)

	apID, err := s.AddAccessPoint(ctx, AccessPoint{IPAddr: "10.0.0.1", InUse: true})
	require.NoError(t, err)

	a, err := s.AddRadioInterface(ctx, RadioInterface{APID: apID, Ifname: "wlan0", Measuring: true, Optimising: true, SurveyType: pkg.SurveyCumulative})
	require.NoError(t, err)
	b, err := s.AddRadioInterface(ctx, RadioInterface{APID: apID, Ifname: "wlan1", Measuring: true, Optimising: true, SurveyType: pkg.SurveyInstantaneous})
	require.NoError(t, err)
	c, err := s.AddRadioInterface(ctx, RadioInterface{APID: apID, Ifname: "wlan2", Measuring: true, Optimising: false, WrinfoCmd: "/bin/true"})
	require.NoError(t, err)

	return fixture{s: s, apID: apID, radioA: a, radioB: b, radioC: c}
}

func TestRadioInterfaceLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ri, err := f.s.RadioInterface(ctx, f.radioC)
	require.NoError(t, err)
	assert.Equal(t, "wlan2", ri.Ifname)
	assert.Equal(t, "/bin/true", ri.WrinfoCmd)
	assert.False(t, ri.Optimising)

	ri, err = f.s.RadioInterface(ctx, f.radioA)
	require.NoError(t, err)
	assert.Equal(t, "", ri.WrinfoCmd)
	assert.Equal(t, pkg.SurveyCumulative, ri.SurveyType)

	_, err = f.s.RadioInterface(ctx, 999)
	assert.True(t, errors.Is(err, ErrNotFound))

	ap, err := f.s.AccessPoint(ctx, f.apID)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", ap.IPAddr)
	assert.True(t, ap.InUse)
}

func TestSurveyType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.s.SurveyType(ctx, f.radioB)
	require.NoError(t, err)
	assert.Equal(t, pkg.SurveyInstantaneous, st)

	st, err = f.s.SurveyType(ctx, 12345)
	require.NoError(t, err)
	assert.Equal(t, pkg.SurveyNone, st)

	require.NoError(t, f.s.SetSurveyType(ctx, f.radioB, pkg.SurveyCumulative))
	st, err = f.s.SurveyType(ctx, f.radioB)
	require.NoError(t, err)
	assert.Equal(t, pkg.SurveyCumulative, st)
}

func TestNodesAndVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	runs := []Run{
		{RadioIfID: f.radioA, ServerTime: 100, Report: report("02:00:00:00:00:0a", 5180, []string{"02:00:00:00:00:0b", "aa:aa:aa:aa:aa:aa"})},
		{RadioIfID: f.radioA, ServerTime: 200, Report: report("02:00:00:00:00:0a", 5180, []string{"02:00:00:00:00:0b"})},
		{RadioIfID: f.radioB, ServerTime: 100, Report: report("02:00:00:00:00:0b", 5200, nil)},
		{RadioIfID: f.radioC, ServerTime: 100, Report: report("02:00:00:00:00:0c", 5220, []string{"02:00:00:00:00:0a"})},
		{RadioIfID: f.radioA, ServerTime: 300, Status: RunTimeout},
	}
	for _, r := range runs {
		_, err := f.s.RecordRun(ctx, r)
		require.NoError(t, err)
	}

	nodes, err := f.s.ListOptimizableNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []pkg.Node{
		{IfaceID: f.radioA, MAC: "02:00:00:00:00:0a"},
		{IfaceID: f.radioB, MAC: "02:00:00:00:00:0b"},
	}, nodes)

	pairs, err := f.s.ListVisibilityPairs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []graph.VisibilityPair{
		{MAC: "02:00:00:00:00:0a", BSSID: "02:00:00:00:00:0b"},
		{MAC: "02:00:00:00:00:0a", BSSID: "aa:aa:aa:aa:aa:aa"},
		{MAC: "02:00:00:00:00:0c", BSSID: "02:00:00:00:00:0a"},
	}, pairs)

	g := graph.Build(nodes, pairs)
	assert.True(t, g.HasEdge(0, 1))
	assert.Equal(t, 1, g.EdgeCount())
}

func TestFetchSamples(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	survey := func(freq uint32, inUse bool, elapsed, busy uint64) wrinfo.SurveyEntry {
		return wrinfo.SurveyEntry{Frequency: u32p(freq), InUse: inUse, Time: u64p(elapsed), Busy: u64p(busy), Rx: u64p(1), Tx: u64p(2)}
	}
	noCounters := wrinfo.SurveyEntry{Frequency: u32p(5180)}

	for i, ts := range []int64{100, 400, 700} {
		_, err := f.s.RecordRun(ctx, Run{
			RadioIfID:  f.radioA,
			ServerTime: ts,
			Stderr:     []string{"", "warning: something"},
			Report: report("02:00:00:00:00:0a", 5180, nil,
				survey(5180, true, uint64(100*(i+1)), uint64(10*(i+1))),
				survey(5200, false, 50, 5)),
		})
		require.NoError(t, err)
	}
	_, err := f.s.RecordRun(ctx, Run{RadioIfID: f.radioA, ServerTime: 900, Report: report("02:00:00:00:00:0a", 5180, nil, noCounters)})
	require.NoError(t, err)

	samples, err := f.s.FetchSamples(ctx, f.radioA, 5180, 400)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, int64(400), samples[0].WallTime)
	assert.Equal(t, pkg.C(200), samples[0].Elapsed)
	assert.Equal(t, pkg.C(20), samples[0].Busy)
	assert.Equal(t, pkg.C(2), samples[0].Tx)
	assert.Equal(t, 5180, samples[0].Frequency)
	assert.True(t, samples[0].InUse)
	assert.Equal(t, int64(900), samples[2].WallTime)
	assert.False(t, samples[2].Elapsed.Valid)
	assert.False(t, samples[2].Tx.Valid)

	inUse, err := f.s.FetchInUseSamples(ctx, f.radioA, 0)
	require.NoError(t, err)
	require.Len(t, inUse, 3)
	for _, r := range inUse {
		assert.Equal(t, 5180, r.Frequency)
	}

	other, err := f.s.FetchSamples(ctx, f.radioB, 5180, 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	eps, err := f.s.Endpoints(ctx, []int64{f.radioB, f.radioA})
	require.NoError(t, err)
	assert.Equal(t, []Endpoint{{IPAddr: "10.0.0.1", Ifname: "wlan1"}, {IPAddr: "10.0.0.1", Ifname: "wlan0"}}, eps)

	_, err = f.s.Endpoints(ctx, []int64{42})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRunStatusString(t *testing.T) {
	assert.Equal(t, "timeout", RunTimeout.String())
	assert.Equal(t, "status(9)", RunStatus(9).String())
}
