package pkg

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the planning packages
var (
	// ErrInvalidInput marks a caller contract violation (bad slice bounds,
	// malformed assignment, empty channel set).
	ErrInvalidInput = errors.New("invalid input")

	// ErrSearchTooLarge is returned when the exhaustive search space exceeds
	// the configured candidate limit.
	ErrSearchTooLarge = errors.New("search space too large")
)

// Node is one managed radio interface
type Node struct {
	IfaceID int64  `json:"iface_id"` // radio_if.id in the data store
	MAC     string `json:"mac"`
}

func (n Node) String() string {
	return fmt.Sprintf("radio_if=%d mac=%s", n.IfaceID, n.MAC)
}

// SurveyType describes how an interface reports its channel survey counters
type SurveyType int

const (
	SurveyNone          SurveyType = 0 // no usable telemetry
	SurveyCumulative    SurveyType = 1 // counters accumulate, difference two samples
	SurveyInstantaneous SurveyType = 2 // each sample is a self-contained measurement
)

// ParseSurveyType maps the store's numeric code; unknown codes are treated as SurveyNone
func ParseSurveyType(code int) SurveyType {
	switch SurveyType(code) {
	case SurveyCumulative, SurveyInstantaneous:
		return SurveyType(code)
	default:
		return SurveyNone
	}
}

func (s SurveyType) String() string {
	switch s {
	case SurveyCumulative:
		return "cumulative"
	case SurveyInstantaneous:
		return "instantaneous"
	default:
		return "none"
	}
}

// Counter is a survey counter that may be missing from a sample
type Counter struct {
	Value int64
	Valid bool
}

// C returns a present counter
func C(v int64) Counter {
	return Counter{Value: v, Valid: true}
}

// Sub returns c - o; the result is missing when either side is missing
func (c Counter) Sub(o Counter) Counter {
	if !c.Valid || !o.Valid {
		return Counter{}
	}
	return Counter{Value: c.Value - o.Value, Valid: true}
}

// RawSample is one survey row as stored, for one interface on one frequency
type RawSample struct {
	WallTime  int64   `json:"walltime"` // server time, unix seconds
	Frequency int     `json:"frequency"`
	InUse     bool    `json:"in_use"`
	Elapsed   Counter `json:"time"`
	Busy      Counter `json:"busy"`
	Rx        Counter `json:"rx"`
	Tx        Counter `json:"tx"`
}

// ChannelMetrics are the cleaned usage figures for one time slice on one channel.
// Fractions are estimates: cumulative hardware counters may push them above 1.
type ChannelMetrics struct {
	DeltaWall int64   `json:"delta_wall"`
	IsValid   bool    `json:"is_valid"`
	DeltaT    int64   `json:"delta_t"`
	Busy      float64 `json:"f_busy"`
	Rx        float64 `json:"f_rx"`
	Tx        float64 `json:"f_tx"`
}

// Defaults holds the neutral figures used when telemetry is missing
type Defaults struct {
	Busy       float64 `json:"busy"`
	Rx         float64 `json:"rx"`
	Tx         float64 `json:"tx"`
	TxBaseline float64 `json:"tx_baseline"` // used for interfaces without survey data
}

// DefaultDefaults returns the empirically chosen background-load figures
func DefaultDefaults() Defaults {
	return Defaults{
		Busy:       0.2,
		Rx:         0.02,
		Tx:         0.05,
		TxBaseline: 0.05,
	}
}

// Dummy returns the metrics used when nothing better is known
func (d Defaults) Dummy() ChannelMetrics {
	return ChannelMetrics{
		IsValid: false,
		Busy:    d.Busy,
		Rx:      d.Rx,
		Tx:      d.Tx,
	}
}

// Quantile selects element floor(Num*len/Den) of an ascending list
type Quantile struct {
	Num int `json:"num"`
	Den int `json:"den"`
}

// DefaultQuantile picks a busy but not worst-case value
func DefaultQuantile() Quantile {
	return Quantile{Num: 7, Den: 8}
}
