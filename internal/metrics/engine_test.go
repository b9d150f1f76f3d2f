package metrics

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/edgepulse/pulse/internal/config"
	"github.com/edgepulse/pulse/internal/event"
	logpkg "github.com/edgepulse/pulse/pkg/log"
)

func testLogger() logpkg.Logger {
	return logpkg.NewLogger(logpkg.WithWriter(io.Discard))
}

func testMetricsConfig() config.MetricsConfig {
	cfg := config.Default().Metrics
	cfg.SeedDefaultRules = false
	return cfg
}

func newTestEngine(t *testing.T, cfg config.MetricsConfig) *Engine {
	t.Helper()
	return NewEngine(cfg, testLogger())
}

func TestPercentile(t *testing.T) {
	samples := []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	tests := []struct {
		p    float64
		want float64
	}{
		{0.50, 50},
		{0.90, 90},
		{0.95, 100},
		{0.99, 100},
	}
	for _, tt := range tests {
		if got := Percentile(samples, tt.p); got != tt.want {
			t.Errorf("Percentile(p=%g) = %g, want %g", tt.p, got, tt.want)
		}
	}
	if got := Percentile(nil, 0.5); got != 0 {
		t.Errorf("Percentile(empty) = %g, want 0", got)
	}
	if got := Percentile([]float64{42}, 0.99); got != 42 {
		t.Errorf("Percentile(single) = %g, want 42", got)
	}
}

func TestPercentileDoesNotMutateInput(t *testing.T) {
	samples := []float64{3, 1, 2}
	Percentile(samples, 0.5)
	if samples[0] != 3 || samples[1] != 1 || samples[2] != 2 {
		t.Errorf("input mutated: %v", samples)
	}
}

func TestRecordEventCounters(t *testing.T) {
	e := newTestEngine(t, testMetricsConfig())

	e.RecordEvent(event.Event{ID: "1", Type: "click", Source: "web"}, RecordContext{})
	e.RecordEvent(event.Event{ID: "2", Type: "click", Source: "web"}, RecordContext{})
	e.RecordEvent(event.Event{ID: "3", Type: "view", Source: "mobile"}, RecordContext{Err: errors.New("boom")})

	snap := e.Aggregate()
	if snap.TotalEvents != 3 {
		t.Errorf("total events = %d, want 3", snap.TotalEvents)
	}
	if snap.TotalErrors != 1 {
		t.Errorf("total errors = %d, want 1", snap.TotalErrors)
	}
	if snap.EventsByType["click"] != 2 || snap.EventsByType["view"] != 1 {
		t.Errorf("events by type = %v", snap.EventsByType)
	}
	if snap.EventsBySource["web"] != 2 {
		t.Errorf("events by source = %v", snap.EventsBySource)
	}
	if snap.ErrorsByType["view"] != 1 {
		t.Errorf("errors by type = %v", snap.ErrorsByType)
	}
	want := 1.0 / 3.0
	if snap.ErrorRate != want {
		t.Errorf("error rate = %g, want %g", snap.ErrorRate, want)
	}
}

func TestThroughputUsesTimestampedEvents(t *testing.T) {
	e := newTestEngine(t, testMetricsConfig())
	base := time.Now()
	e.now = func() time.Time { return base }
	e.lastTick = base.Add(-2 * time.Second)

	start := base.Add(-time.Second)
	for i := 0; i < 10; i++ {
		e.RecordEvent(event.Event{ID: "x", Type: "click"}, RecordContext{Start: start, End: base})
	}
	// untimestamped events count toward totals but not throughput
	e.RecordEvent(event.Event{ID: "y", Type: "click"}, RecordContext{})

	snap := e.Aggregate()
	if snap.Throughput.Current != 5 {
		t.Errorf("current throughput = %g, want 5", snap.Throughput.Current)
	}
	if snap.Throughput.Peak != 5 {
		t.Errorf("peak = %g, want 5", snap.Throughput.Peak)
	}
	if snap.TotalEvents != 11 {
		t.Errorf("total events = %d, want 11", snap.TotalEvents)
	}
	if snap.Latency.Samples != 10 {
		t.Errorf("latency samples = %d, want 10", snap.Latency.Samples)
	}
}

func TestAggregateResetsTickCounter(t *testing.T) {
	e := newTestEngine(t, testMetricsConfig())
	base := time.Now()
	e.now = func() time.Time { return base }
	e.lastTick = base.Add(-time.Second)

	e.RecordEvent(event.Event{Type: "click"}, RecordContext{Start: base.Add(-time.Millisecond), End: base})
	e.Aggregate()

	e.now = func() time.Time { return base.Add(time.Second) }
	snap := e.Aggregate()
	if snap.Throughput.Current != 0 {
		t.Errorf("current throughput after reset = %g, want 0", snap.Throughput.Current)
	}
}

func TestLatencyBufferBounded(t *testing.T) {
	cfg := testMetricsConfig()
	cfg.LatencyBufferSize = 5
	e := newTestEngine(t, cfg)

	for i := 1; i <= 10; i++ {
		e.RecordLatency(time.Duration(i) * time.Millisecond)
	}
	snap := e.Aggregate()
	if snap.Latency.Samples != 5 {
		t.Errorf("samples = %d, want 5", snap.Latency.Samples)
	}
	// only the newest five (6..10ms) remain
	if snap.Latency.P50Ms != 8 {
		t.Errorf("p50 = %g, want 8", snap.Latency.P50Ms)
	}
}

func TestHealthDerivation(t *testing.T) {
	e := newTestEngine(t, testMetricsConfig())
	if got := e.Aggregate().Health.Status; got != HealthHealthy {
		t.Errorf("empty engine health = %s, want healthy", got)
	}

	// error rate above 1% degrades without alerts
	for i := 0; i < 97; i++ {
		e.RecordEvent(event.Event{Type: "ok"}, RecordContext{})
	}
	for i := 0; i < 3; i++ {
		e.RecordEvent(event.Event{Type: "bad"}, RecordContext{Err: errors.New("x")})
	}
	if got := e.Aggregate().Health.Status; got != HealthDegraded {
		t.Errorf("health at 3%% errors = %s, want degraded", got)
	}

	// a critical active alert forces unhealthy
	e.active = append(e.active, &Alert{ID: "a", Severity: SeverityCritical, Status: AlertActive})
	snap := e.Aggregate()
	if snap.Health.Status != HealthUnhealthy {
		t.Errorf("health with critical alert = %s, want unhealthy", snap.Health.Status)
	}
	if snap.Health.CriticalAlerts != 1 || snap.Health.ActiveAlerts != 1 {
		t.Errorf("alert counts = %+v", snap.Health)
	}
}

func TestHistoryBoundedAndFiltered(t *testing.T) {
	cfg := testMetricsConfig()
	cfg.HistorySize = 3
	e := newTestEngine(t, cfg)

	base := time.Now()
	for i := 0; i < 5; i++ {
		tick := base.Add(time.Duration(i) * time.Minute)
		e.now = func() time.Time { return tick }
		e.Aggregate()
	}

	all := e.History(time.Time{})
	if len(all) != 3 {
		t.Fatalf("history = %d entries, want 3", len(all))
	}
	recent := e.History(base.Add(3 * time.Minute))
	if len(recent) != 2 {
		t.Errorf("filtered history = %d entries, want 2", len(recent))
	}
}

func TestLatestAggregatesOnDemand(t *testing.T) {
	e := newTestEngine(t, testMetricsConfig())
	e.RecordEvent(event.Event{Type: "click"}, RecordContext{})

	snap := e.Latest()
	if snap.Timestamp.IsZero() {
		t.Fatal("expected on-demand aggregate")
	}
	if snap.TotalEvents != 1 {
		t.Errorf("total events = %d, want 1", snap.TotalEvents)
	}
}
