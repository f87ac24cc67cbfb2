// Package metrics exposes optimizer and collection metrics for Prometheus.
// specman runs as a batch job, so metrics are written to a node_exporter
// textfile instead of being scraped.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds specman metrics
type Collector struct {
	gatherer prometheus.Gatherer

	OptimizerRuns       prometheus.Counter
	CandidatesEvaluated prometheus.Counter
	BestScore           prometheus.Gauge
	SearchDuration      prometheus.Histogram
	Nodes               prometheus.Gauge
	Channels            prometheus.Gauge
	AgentRuns           *prometheus.CounterVec
	ChannelChanges      *prometheus.CounterVec
}

// NewCollector registers metrics against reg; nil uses the default registry
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{
		gatherer: gatherer,
		OptimizerRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "specman_optimizer_runs_total",
			Help: "Number of completed channel assignment searches.",
		}),
		CandidatesEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "specman_candidates_evaluated_total",
			Help: "Number of candidate assignments scored.",
		}),
		BestScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "specman_best_score",
			Help: "Cost of the best assignment found by the last search.",
		}),
		SearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "specman_search_duration_seconds",
			Help:    "Duration of exhaustive assignment searches.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),
		Nodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "specman_nodes",
			Help: "Radios taking part in the last search.",
		}),
		Channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "specman_channels",
			Help: "Candidate channels in the last search.",
		}),
		AgentRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "specman_agent_runs_total",
			Help: "Measurement agent runs by outcome.",
		}, []string{"status"}),
		ChannelChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "specman_channel_changes_total",
			Help: "Channel change attempts by result.",
		}, []string{"result"}),
	}

	for name, col := range map[string]prometheus.Collector{
		"specman_optimizer_runs_total":       c.OptimizerRuns,
		"specman_candidates_evaluated_total": c.CandidatesEvaluated,
		"specman_best_score":                 c.BestScore,
		"specman_search_duration_seconds":    c.SearchDuration,
		"specman_nodes":                      c.Nodes,
		"specman_channels":                   c.Channels,
		"specman_agent_runs_total":           c.AgentRuns,
		"specman_channel_changes_total":      c.ChannelChanges,
	} {
		if err := reg.Register(col); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return nil, fmt.Errorf("collector %s already registered", name)
			}
			return nil, err
		}
	}

	return c, nil
}

// Gatherer returns the gatherer the metrics were registered with
func (c *Collector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveSearch records one finished search
func (c *Collector) ObserveSearch(nodes, channels, evaluated int, best float64, d time.Duration) {
	if c == nil {
		return
	}
	c.OptimizerRuns.Inc()
	c.CandidatesEvaluated.Add(float64(evaluated))
	c.BestScore.Set(best)
	c.SearchDuration.Observe(d.Seconds())
	c.Nodes.Set(float64(nodes))
	c.Channels.Set(float64(channels))
}

// ObserveAgentRun counts one agent run by status name
func (c *Collector) ObserveAgentRun(status string) {
	if c == nil {
		return
	}
	c.AgentRuns.WithLabelValues(status).Inc()
}

// ObserveChannelChange counts one channel change attempt
func (c *Collector) ObserveChannelChange(result string) {
	if c == nil {
		return
	}
	c.ChannelChanges.WithLabelValues(result).Inc()
}

// WriteTextfile writes all gathered metrics to path atomically
func (c *Collector) WriteTextfile(path string) error {
	if c == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, c.gatherer); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
