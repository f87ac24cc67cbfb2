package survey

import "github.com/markus-lassfolk/specman/pkg"

// cumulativeMetrics differences the counters of the samples at beg and last
func cumulativeMetrics(r []pkg.RawSample, beg, last int, d pkg.Defaults) pkg.ChannelMetrics {
	beg, last = clamp(beg, len(r)), clamp(last, len(r))

	// Not enough samples inside the slice: fall back to the running average
	// carried by the single sample's own counters.
	if beg == last {
		m := d.Dummy()
		row := r[beg]
		if !row.Elapsed.Valid || row.Elapsed.Value <= 0 {
			return m
		}
		t := float64(row.Elapsed.Value)
		m.DeltaT = row.Elapsed.Value
		m.Busy = fraction(row.Busy, t, d.Busy)
		m.Rx = fraction(row.Rx, t, d.Rx)
		m.Tx = fraction(row.Tx, t, d.Tx)
		return m
	}

	first, second := r[beg], r[last]
	dt := second.Elapsed.Sub(first.Elapsed)
	if !dt.Valid || dt.Value <= 0 {
		// missing, reset or stalled elapsed counter
		return d.Dummy()
	}

	busy := second.Busy.Sub(first.Busy)
	rx := second.Rx.Sub(first.Rx)
	tx := second.Tx.Sub(first.Tx)

	t := float64(dt.Value)
	return pkg.ChannelMetrics{
		DeltaWall: second.WallTime - first.WallTime,
		IsValid:   usable(busy) && usable(rx) && usable(tx),
		DeltaT:    dt.Value,
		Busy:      fraction(busy, t, d.Busy),
		Rx:        fraction(rx, t, d.Rx),
		Tx:        fraction(tx, t, d.Tx),
	}
}

// instantaneousMetrics averages every sample in [beg, last]
func instantaneousMetrics(r []pkg.RawSample, beg, last int, d pkg.Defaults) pkg.ChannelMetrics {
	beg, last = clamp(beg, len(r)), clamp(last, len(r))

	var total int64
	var busyN, busyD, rxN, rxD, txN, txD int64
	for i := beg; i <= last; i++ {
		row := r[i]
		if !row.Elapsed.Valid {
			continue
		}
		t := row.Elapsed.Value
		total += t
		if row.Busy.Valid {
			busyN += row.Busy.Value
			busyD += t
		}
		if row.Rx.Valid {
			rxN += row.Rx.Value
			rxD += t
		}
		if row.Tx.Valid {
			txN += row.Tx.Value
			txD += t
		}
	}

	return pkg.ChannelMetrics{
		DeltaWall: r[last].WallTime - r[beg].WallTime,
		IsValid:   true,
		DeltaT:    total,
		Busy:      ratio(busyN, busyD, d.Busy),
		Rx:        ratio(rxN, rxD, d.Rx),
		Tx:        ratio(txN, txD, d.Tx),
	}
}

// usable reports whether a counter difference can be trusted; a negative
// difference means the hardware counter was reset between the samples.
func usable(c pkg.Counter) bool {
	return c.Valid && c.Value >= 0
}

func fraction(c pkg.Counter, t float64, def float64) float64 {
	if !usable(c) || t <= 0 {
		return def
	}
	return float64(c.Value) / t
}

func ratio(num, den int64, def float64) float64 {
	if den <= 0 {
		return def
	}
	return float64(num) / float64(den)
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
