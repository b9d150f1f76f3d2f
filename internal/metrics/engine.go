package metrics

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/edgepulse/pulse/internal/config"
	"github.com/edgepulse/pulse/internal/event"
	logpkg "github.com/edgepulse/pulse/pkg/log"
)

// HealthStatus is the engine-derived health classification.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// degradedErrorRate is the error-rate threshold above which health degrades
// even without active alerts.
const degradedErrorRate = 0.01

// Throughput summarizes event rates in events/second.
type Throughput struct {
	Current float64 `json:"current"`
	Peak    float64 `json:"peak"`
	Average float64 `json:"average"`
}

// LatencyStats are rank-based percentiles over the rolling latency buffer.
type LatencyStats struct {
	P50Ms   float64 `json:"p50_ms"`
	P90Ms   float64 `json:"p90_ms"`
	P95Ms   float64 `json:"p95_ms"`
	P99Ms   float64 `json:"p99_ms"`
	Samples int     `json:"samples"`
}

// HealthState is the alert-aware health component of a snapshot.
type HealthState struct {
	Status         HealthStatus `json:"status"`
	ActiveAlerts   int          `json:"active_alerts"`
	CriticalAlerts int          `json:"critical_alerts"`
}

// Snapshot is one aggregation-tick view of all counters.
type Snapshot struct {
	Timestamp      time.Time        `json:"timestamp"`
	TotalEvents    int64            `json:"total_events"`
	TotalErrors    int64            `json:"total_errors"`
	ErrorRate      float64          `json:"error_rate"`
	EventsByType   map[string]int64 `json:"events_by_type"`
	EventsBySource map[string]int64 `json:"events_by_source"`
	ErrorsByType   map[string]int64 `json:"errors_by_type"`
	Throughput     Throughput       `json:"throughput"`
	Latency        LatencyStats     `json:"latency"`
	Health         HealthState      `json:"health"`
}

// RecordContext carries optional per-event observation data.
type RecordContext struct {
	Err   error
	Start time.Time
	End   time.Time
}

// Engine aggregates counters pushed by any producer, computes percentiles
// and health, evaluates alert rules and retains sampled traces.
type Engine struct {
	mu     sync.Mutex
	cfg    config.MetricsConfig
	logger logpkg.Logger
	now    func() time.Time
	rnd    *rand.Rand

	startedAt   time.Time
	totalEvents int64
	totalErrors int64
	byType      map[string]int64
	bySource    map[string]int64
	errByType   map[string]int64
	latencies   []float64
	sinceTick   int64
	lastTick    time.Time
	peak        float64

	latest  Snapshot
	history []Snapshot

	traces      map[string]*Trace
	rules       map[string]*AlertRule
	active      []*Alert
	resolved    []*Alert
	onAlert     []func(Alert)
	onEvalError []func(ruleID string, err error)
	evalErrors  int64
}

// NewEngine builds an Engine; the default alert rule set is seeded when the
// configuration asks for it.
func NewEngine(cfg config.MetricsConfig, logger logpkg.Logger) *Engine {
	e := &Engine{
		cfg:       cfg,
		logger:    logger.WithComponent("metrics"),
		now:       time.Now,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		byType:    make(map[string]int64),
		bySource:  make(map[string]int64),
		errByType: make(map[string]int64),
		traces:    make(map[string]*Trace),
		rules:     make(map[string]*AlertRule),
	}
	e.startedAt = e.now()
	e.lastTick = e.startedAt
	if cfg.SeedDefaultRules {
		e.seedDefaultRules()
	}
	return e
}

// RecordEvent increments the per-type and per-source counters. When the
// context carries an error the per-type error counter grows; when it carries
// start/end timestamps the latency buffer and the throughput tick counter
// grow.
func (e *Engine) RecordEvent(ev event.Event, rc RecordContext) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.totalEvents++
	e.byType[ev.Type]++
	if ev.Source != "" {
		e.bySource[ev.Source]++
	}
	if rc.Err != nil {
		e.totalErrors++
		e.errByType[ev.Type]++
	}
	if !rc.Start.IsZero() && !rc.End.IsZero() {
		e.appendLatencyLocked(float64(rc.End.Sub(rc.Start).Microseconds()) / 1000.0)
		e.sinceTick++
	}
}

// RecordError counts an error for an event type without a full event.
func (e *Engine) RecordError(eventType string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalErrors++
	e.errByType[eventType]++
}

// RecordLatency appends one latency sample to the rolling buffer.
func (e *Engine) RecordLatency(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appendLatencyLocked(float64(d.Microseconds()) / 1000.0)
}

func (e *Engine) appendLatencyLocked(ms float64) {
	e.latencies = append(e.latencies, ms)
	if len(e.latencies) > e.cfg.LatencyBufferSize {
		e.latencies = e.latencies[len(e.latencies)-e.cfg.LatencyBufferSize:]
	}
}

// Aggregate folds current counters into a Snapshot, appends it to the
// bounded history ring and resets the throughput tick counter.
func (e *Engine) Aggregate() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aggregateLocked()
}

func (e *Engine) aggregateLocked() Snapshot {
	now := e.now()

	elapsed := now.Sub(e.lastTick).Seconds()
	current := 0.0
	if elapsed > 0 {
		current = float64(e.sinceTick) / elapsed
	}
	if current > e.peak {
		e.peak = current
	}
	average := 0.0
	if total := now.Sub(e.startedAt).Seconds(); total > 0 {
		average = float64(e.totalEvents) / total
	}

	errorRate := 0.0
	if e.totalEvents > 0 {
		errorRate = float64(e.totalErrors) / float64(e.totalEvents)
	}

	snap := Snapshot{
		Timestamp:      now,
		TotalEvents:    e.totalEvents,
		TotalErrors:    e.totalErrors,
		ErrorRate:      errorRate,
		EventsByType:   copyCounts(e.byType),
		EventsBySource: copyCounts(e.bySource),
		ErrorsByType:   copyCounts(e.errByType),
		Throughput:     Throughput{Current: current, Peak: e.peak, Average: average},
		Latency: LatencyStats{
			P50Ms:   Percentile(e.latencies, 0.50),
			P90Ms:   Percentile(e.latencies, 0.90),
			P95Ms:   Percentile(e.latencies, 0.95),
			P99Ms:   Percentile(e.latencies, 0.99),
			Samples: len(e.latencies),
		},
	}
	snap.Health = e.healthLocked(errorRate)

	e.latest = snap
	e.history = append(e.history, snap)
	if len(e.history) > e.cfg.HistorySize {
		e.history = e.history[len(e.history)-e.cfg.HistorySize:]
	}
	e.sinceTick = 0
	e.lastTick = now
	return snap
}

func (e *Engine) healthLocked(errorRate float64) HealthState {
	h := HealthState{Status: HealthHealthy}
	for _, a := range e.active {
		h.ActiveAlerts++
		if a.Severity == SeverityCritical {
			h.CriticalAlerts++
		}
	}
	switch {
	case h.CriticalAlerts > 0:
		h.Status = HealthUnhealthy
	case h.ActiveAlerts > 0 || errorRate > degradedErrorRate:
		h.Status = HealthDegraded
	}
	return h
}

// Latest returns the most recent snapshot; if no aggregation tick has run
// yet an on-demand aggregate is computed.
func (e *Engine) Latest() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.latest.Timestamp.IsZero() {
		return e.aggregateLocked()
	}
	return e.latest
}

// History returns retained snapshots at or after since; the zero time
// returns everything retained.
func (e *Engine) History(since time.Time) []Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Snapshot, 0, len(e.history))
	for _, s := range e.history {
		if since.IsZero() || !s.Timestamp.Before(since) {
			out = append(out, s)
		}
	}
	return out
}

// HealthStatus returns the health classification from the latest snapshot.
func (e *Engine) HealthStatus() HealthStatus {
	return e.Latest().Health.Status
}

// ActiveCriticalAlerts reports the number of unresolved critical alerts.
// Unlike Latest().Health it never lags behind an aggregation tick.
func (e *Engine) ActiveCriticalAlerts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, a := range e.active {
		if a.Severity == SeverityCritical {
			n++
		}
	}
	return n
}

// Run drives the periodic aggregation, alert evaluation and retention
// pruning until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	agg := time.NewTicker(time.Duration(e.cfg.AggregationIntervalMs) * time.Millisecond)
	defer agg.Stop()
	check := time.NewTicker(time.Duration(e.cfg.AlertCheckIntervalMs) * time.Millisecond)
	defer check.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-agg.C:
			e.Aggregate()
			e.pruneTraces()
			e.pruneAlerts()
		case <-check.C:
			e.CheckAlerts()
		}
	}
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
