package metrics

import (
	"testing"
	"time"

	"github.com/edgepulse/pulse/internal/event"
)

func ruleAlways(id string, severity Severity) AlertRule {
	return AlertRule{
		ID:       id,
		Name:     id,
		Enabled:  true,
		Severity: severity,
		Condition: AlertCondition{
			MetricPath: "totalEvents",
			Operator:   OpGE,
			Threshold:  0,
		},
		Actions:    []AlertAction{ActionEmit},
		CooldownMs: 60_000,
	}
}

func TestSeededDefaultRules(t *testing.T) {
	cfg := testMetricsConfig()
	cfg.SeedDefaultRules = true
	e := newTestEngine(t, cfg)

	rules := e.Rules()
	if len(rules) != 3 {
		t.Fatalf("seeded rules = %d, want 3", len(rules))
	}
	byID := map[string]AlertRule{}
	for _, r := range rules {
		byID[r.ID] = r
	}
	if r := byID["default-high-error-rate"]; r.Severity != SeverityCritical || r.Condition.Threshold != 0.05 {
		t.Errorf("high-error-rate rule = %+v", r)
	}
	if r := byID["default-low-throughput"]; r.Condition.Operator != OpLT {
		t.Errorf("low-throughput rule = %+v", r)
	}
	if r := byID["default-high-p99-latency"]; r.Condition.MetricPath != "latency.p99" {
		t.Errorf("p99 rule = %+v", r)
	}
}

func TestCheckAlertsFiresAndCooldown(t *testing.T) {
	e := newTestEngine(t, testMetricsConfig())
	if err := e.AddAlertRule(ruleAlways("r1", SeverityWarning)); err != nil {
		t.Fatalf("AddAlertRule: %v", err)
	}

	base := time.Now()
	e.now = func() time.Time { return base }

	fired := e.CheckAlerts()
	if len(fired) != 1 {
		t.Fatalf("fired = %d, want 1", len(fired))
	}
	if fired[0].RuleID != "r1" || fired[0].Status != AlertActive {
		t.Errorf("alert = %+v", fired[0])
	}

	// inside the cooldown window nothing fires even though the rule is true
	e.now = func() time.Time { return base.Add(30 * time.Second) }
	if again := e.CheckAlerts(); len(again) != 0 {
		t.Fatalf("fired inside cooldown: %d", len(again))
	}

	// after the cooldown the still-true rule fires again
	e.now = func() time.Time { return base.Add(61 * time.Second) }
	if again := e.CheckAlerts(); len(again) != 1 {
		t.Fatalf("fired after cooldown = %d, want 1", len(again))
	}
}

func TestAlertsResolveExplicitlyOnly(t *testing.T) {
	e := newTestEngine(t, testMetricsConfig())

	// threshold rule that is true only while totalEvents >= 1
	rule := ruleAlways("r1", SeverityWarning)
	rule.Condition = AlertCondition{MetricPath: "totalEvents", Operator: OpGE, Threshold: 1}
	rule.CooldownMs = 3_600_000
	if err := e.AddAlertRule(rule); err != nil {
		t.Fatalf("AddAlertRule: %v", err)
	}

	e.RecordEvent(event.Event{Type: "x"}, RecordContext{})
	e.Aggregate()
	fired := e.CheckAlerts()
	if len(fired) != 1 {
		t.Fatalf("fired = %d, want 1", len(fired))
	}

	// the metric can never drop below threshold again, and even if it could,
	// the alert stays active until resolved explicitly
	alerts := e.Alerts()
	if len(alerts) != 1 || alerts[0].Status != AlertActive {
		t.Fatalf("alerts = %+v", alerts)
	}

	if err := e.ResolveAlert("missing"); err == nil {
		t.Error("expected error resolving unknown alert")
	}
	if err := e.ResolveAlert(fired[0].ID); err != nil {
		t.Fatalf("ResolveAlert: %v", err)
	}
	alerts = e.Alerts()
	if len(alerts) != 1 || alerts[0].Status != AlertResolved {
		t.Fatalf("after resolve: %+v", alerts)
	}
	if alerts[0].ResolvedAt.IsZero() {
		t.Error("resolved alert missing ResolvedAt")
	}
}

func TestRemoveAlertRuleResolvesItsAlerts(t *testing.T) {
	e := newTestEngine(t, testMetricsConfig())
	if err := e.AddAlertRule(ruleAlways("r1", SeverityWarning)); err != nil {
		t.Fatalf("AddAlertRule: %v", err)
	}
	if fired := e.CheckAlerts(); len(fired) != 1 {
		t.Fatalf("fired = %d, want 1", len(fired))
	}

	if err := e.RemoveAlertRule("r1"); err != nil {
		t.Fatalf("RemoveAlertRule: %v", err)
	}
	for _, a := range e.Alerts() {
		if a.Status != AlertResolved {
			t.Errorf("alert %s still %s after rule removal", a.ID, a.Status)
		}
	}
	if err := e.RemoveAlertRule("r1"); err == nil {
		t.Error("expected error removing unknown rule")
	}
}

func TestAddAlertRuleValidation(t *testing.T) {
	e := newTestEngine(t, testMetricsConfig())

	tests := []struct {
		name   string
		mutate func(*AlertRule)
	}{
		{"bad severity", func(r *AlertRule) { r.Severity = "panic" }},
		{"bad operator", func(r *AlertRule) { r.Condition.Operator = "~" }},
		{"empty path", func(r *AlertRule) { r.Condition.MetricPath = "" }},
		{"unknown path", func(r *AlertRule) { r.Condition.MetricPath = "no.such.metric" }},
		{"bad action", func(r *AlertRule) { r.Actions = []AlertAction{"carrier-pigeon"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := ruleAlways("bad", SeverityInfo)
			tt.mutate(&rule)
			if err := e.AddAlertRule(rule); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if err := e.AddAlertRule(ruleAlways("dup", SeverityInfo)); err != nil {
		t.Fatalf("AddAlertRule: %v", err)
	}
	if err := e.AddAlertRule(ruleAlways("dup", SeverityInfo)); err == nil {
		t.Error("expected duplicate id error")
	}
}

func TestOnAlertHandler(t *testing.T) {
	e := newTestEngine(t, testMetricsConfig())
	var got []Alert
	e.OnAlert(func(a Alert) { got = append(got, a) })

	if err := e.AddAlertRule(ruleAlways("r1", SeverityCritical)); err != nil {
		t.Fatalf("AddAlertRule: %v", err)
	}
	e.CheckAlerts()
	if len(got) != 1 {
		t.Fatalf("handler calls = %d, want 1", len(got))
	}
	if got[0].Severity != SeverityCritical {
		t.Errorf("severity = %s", got[0].Severity)
	}
}

func TestResolveMetricPath(t *testing.T) {
	snap := Snapshot{
		TotalEvents:    100,
		TotalErrors:    5,
		ErrorRate:      0.05,
		EventsByType:   map[string]int64{"click": 60},
		EventsBySource: map[string]int64{"web": 80},
		ErrorsByType:   map[string]int64{"click": 2},
		Throughput:     Throughput{Current: 12, Peak: 40, Average: 9},
		Latency:        LatencyStats{P50Ms: 10, P90Ms: 20, P95Ms: 30, P99Ms: 40},
		Health:         HealthState{ActiveAlerts: 2},
	}
	tests := []struct {
		path string
		want float64
	}{
		{"totalEvents", 100},
		{"totalErrors", 5},
		{"errorRate", 0.05},
		{"throughput.current", 12},
		{"throughput.peak", 40},
		{"throughput.average", 9},
		{"latency.p50", 10},
		{"latency.p99", 40},
		{"health.activeAlerts", 2},
		{"eventsByType.click", 60},
		{"eventsByType.missing", 0},
		{"eventsBySource.web", 80},
		{"errorsByType.click", 2},
	}
	for _, tt := range tests {
		got, err := resolveMetricPath(snap, tt.path)
		if err != nil {
			t.Errorf("resolveMetricPath(%s): %v", tt.path, err)
			continue
		}
		if got != tt.want {
			t.Errorf("resolveMetricPath(%s) = %g, want %g", tt.path, got, tt.want)
		}
	}
	if _, err := resolveMetricPath(snap, "bogus"); err == nil {
		t.Error("expected error for unknown path")
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		v    float64
		op   Operator
		th   float64
		want bool
	}{
		{2, OpGT, 1, true},
		{1, OpGT, 1, false},
		{1, OpGE, 1, true},
		{0, OpLT, 1, true},
		{1, OpLE, 1, true},
		{1, OpEQ, 1, true},
		{2, OpNE, 1, true},
		{1, Operator("~"), 1, false},
	}
	for _, tt := range tests {
		if got := compare(tt.v, tt.op, tt.th); got != tt.want {
			t.Errorf("compare(%g %s %g) = %v, want %v", tt.v, tt.op, tt.th, got, tt.want)
		}
	}
}

func TestPruneAlertsRetention(t *testing.T) {
	cfg := testMetricsConfig()
	cfg.AlertRetentionMs = 60_000
	e := newTestEngine(t, cfg)

	base := time.Now()
	e.resolved = []*Alert{
		{ID: "old", Status: AlertResolved, ResolvedAt: base.Add(-2 * time.Minute)},
		{ID: "new", Status: AlertResolved, ResolvedAt: base.Add(-10 * time.Second)},
	}
	e.now = func() time.Time { return base }
	e.pruneAlerts()

	alerts := e.Alerts()
	if len(alerts) != 1 || alerts[0].ID != "new" {
		t.Fatalf("retained = %+v", alerts)
	}
}

func TestEvalErrorDoesNotHaltChecking(t *testing.T) {
	e := newTestEngine(t, testMetricsConfig())

	// rules evaluate in id order; the broken one is first
	broken := ruleAlways("a-broken", SeverityInfo)
	if err := e.AddAlertRule(broken); err != nil {
		t.Fatalf("AddAlertRule: %v", err)
	}
	e.rules["a-broken"].Condition.MetricPath = "vanished.metric"
	if err := e.AddAlertRule(ruleAlways("b-good", SeverityInfo)); err != nil {
		t.Fatalf("AddAlertRule: %v", err)
	}

	fired := e.CheckAlerts()
	if len(fired) != 1 || fired[0].RuleID != "b-good" {
		t.Fatalf("fired = %+v", fired)
	}
	if e.evalErrors != 1 {
		t.Errorf("eval errors = %d, want 1", e.evalErrors)
	}
}

func TestEvalErrorNotifiesHandler(t *testing.T) {
	e := newTestEngine(t, testMetricsConfig())

	var gotRule string
	var gotErr error
	e.OnEvalError(func(ruleID string, err error) {
		gotRule = ruleID
		gotErr = err
	})

	if err := e.AddAlertRule(ruleAlways("broken", SeverityInfo)); err != nil {
		t.Fatalf("AddAlertRule: %v", err)
	}
	e.rules["broken"].Condition.MetricPath = "vanished.metric"

	e.CheckAlerts()
	if gotRule != "broken" || gotErr == nil {
		t.Fatalf("handler got (%q, %v), want rule broken with an error", gotRule, gotErr)
	}
	if e.EvalErrors() != 1 {
		t.Errorf("EvalErrors() = %d, want 1", e.EvalErrors())
	}
}
