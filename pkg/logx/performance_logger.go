package logx

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// PerformanceLogger records how long each planning phase takes
type PerformanceLogger struct {
	logger *Logger
	mu     sync.Mutex
	phases map[string]*PhaseMetric
}

// PhaseMetric aggregates executions of one named phase
type PhaseMetric struct {
	Name        string        `json:"name"`
	Count       int64         `json:"count"`
	Errors      int64         `json:"errors"`
	Total       time.Duration `json:"total"`
	Min         time.Duration `json:"min"`
	Max         time.Duration `json:"max"`
	LastStarted time.Time     `json:"last_started"`
}

// Avg is the mean duration over all executions
func (m PhaseMetric) Avg() time.Duration {
	if m.Count == 0 {
		return 0
	}
	return m.Total / time.Duration(m.Count)
}

// Phase is a running measurement returned by Start
type Phase struct {
	name  string
	start time.Time
	pl    *PerformanceLogger
}

// NewPerformanceLogger creates a new performance logger
func NewPerformanceLogger(logger *Logger) *PerformanceLogger {
	return &PerformanceLogger{
		logger: logger,
		phases: make(map[string]*PhaseMetric),
	}
}

// Start begins timing a phase
func (pl *PerformanceLogger) Start(name string) *Phase {
	now := time.Now()

	pl.mu.Lock()
	m, ok := pl.phases[name]
	if !ok {
		m = &PhaseMetric{Name: name, Min: time.Duration(1<<63 - 1)}
		pl.phases[name] = m
	}
	m.LastStarted = now
	pl.mu.Unlock()

	return &Phase{name: name, start: now, pl: pl}
}

// Done ends the phase and returns its duration
func (p *Phase) Done(err error) time.Duration {
	d := time.Since(p.start)

	p.pl.mu.Lock()
	m := p.pl.phases[p.name]
	m.Count++
	m.Total += d
	if d < m.Min {
		m.Min = d
	}
	if d > m.Max {
		m.Max = d
	}
	if err != nil {
		m.Errors++
	}
	p.pl.mu.Unlock()

	if err != nil {
		p.pl.logger.Error("Phase failed",
			"phase", p.name,
			"duration", d.String(),
			"error", err)
	} else {
		p.pl.logger.Debug("Phase completed",
			"phase", p.name,
			"duration", d.String())
	}
	return d
}

// Get returns a copy of one phase metric
func (pl *PerformanceLogger) Get(name string) (PhaseMetric, bool) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	m, ok := pl.phases[name]
	if !ok {
		return PhaseMetric{}, false
	}
	return *m, true
}

// LogSummary logs every phase, sorted by name
func (pl *PerformanceLogger) LogSummary() {
	pl.mu.Lock()
	metrics := make([]PhaseMetric, 0, len(pl.phases))
	for _, m := range pl.phases {
		metrics = append(metrics, *m)
	}
	pl.mu.Unlock()

	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Name < metrics[j].Name })
	for _, m := range metrics {
		pl.logger.Info("Phase summary",
			"phase", m.Name,
			"count", m.Count,
			"errors", m.Errors,
			"avg_duration", m.Avg().String(),
			"max_duration", m.Max.String(),
			"success_rate", fmt.Sprintf("%.2f%%", successRate(m)),
		)
	}
}

func successRate(m PhaseMetric) float64 {
	if m.Count == 0 {
		return 100
	}
	return float64(m.Count-m.Errors) / float64(m.Count) * 100
}
