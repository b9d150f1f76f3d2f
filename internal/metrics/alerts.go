package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	logpkg "github.com/edgepulse/pulse/pkg/log"
)

// Severity of an alert rule.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Operator compares a resolved metric value with a rule threshold.
type Operator string

const (
	OpGT Operator = ">"
	OpLT Operator = "<"
	OpGE Operator = ">="
	OpLE Operator = "<="
	OpEQ Operator = "=="
	OpNE Operator = "!="
)

// AlertAction names what happens when a rule fires. Only ActionLog and
// ActionEmit are functional; webhook and email are accepted but logged as
// no-op placeholders.
type AlertAction string

const (
	ActionLog     AlertAction = "log"
	ActionEmit    AlertAction = "emit-internal-event"
	ActionWebhook AlertAction = "webhook"
	ActionEmail   AlertAction = "email"
)

// AlertCondition is the typed expression a rule evaluates: a metric path
// resolved against the latest snapshot, compared with a threshold. It is
// interpreted by a fixed evaluator; no runtime code is ever constructed.
type AlertCondition struct {
	MetricPath string   `json:"metric_path"`
	Operator   Operator `json:"operator"`
	Threshold  float64  `json:"threshold"`
	// PersistenceDurationMs is carried but not enforced: rules fire on the
	// first true reading. Reserved for future sustained-duration gating.
	PersistenceDurationMs int `json:"persistence_duration_ms,omitempty"`
}

// AlertRule is a registered threshold condition.
type AlertRule struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Enabled    bool           `json:"enabled"`
	Severity   Severity       `json:"severity"`
	Condition  AlertCondition `json:"condition"`
	Actions    []AlertAction  `json:"actions"`
	CooldownMs int            `json:"cooldown_ms"`

	lastFired time.Time
}

// Alert statuses.
type AlertStatus string

const (
	AlertActive   AlertStatus = "active"
	AlertResolved AlertStatus = "resolved"
)

// Alert is one firing of a rule. It transitions active to resolved only via
// explicit resolution, never because the metric returned to normal.
type Alert struct {
	ID          string      `json:"id"`
	RuleID      string      `json:"rule_id"`
	RuleName    string      `json:"rule_name"`
	Severity    Severity    `json:"severity"`
	TriggeredAt time.Time   `json:"triggered_at"`
	ResolvedAt  time.Time   `json:"resolved_at,omitempty"`
	Status      AlertStatus `json:"status"`
	MetricPath  string      `json:"metric_path"`
	Value       float64     `json:"value"`
	Threshold   float64     `json:"threshold"`
}

// defaultAlertCooldown applies to the seeded rule set.
const defaultAlertCooldown = 5 * time.Minute

func (e *Engine) seedDefaultRules() {
	seed := []AlertRule{
		{
			ID:       "default-high-error-rate",
			Name:     "high error rate",
			Enabled:  true,
			Severity: SeverityCritical,
			Condition: AlertCondition{
				MetricPath: "errorRate",
				Operator:   OpGT,
				Threshold:  0.05,
			},
			Actions:    []AlertAction{ActionLog, ActionEmit},
			CooldownMs: int(defaultAlertCooldown.Milliseconds()),
		},
		{
			ID:       "default-low-throughput",
			Name:     "low throughput",
			Enabled:  true,
			Severity: SeverityWarning,
			Condition: AlertCondition{
				MetricPath: "throughput.current",
				Operator:   OpLT,
				Threshold:  1,
			},
			Actions:    []AlertAction{ActionLog, ActionEmit},
			CooldownMs: int(defaultAlertCooldown.Milliseconds()),
		},
		{
			ID:       "default-high-p99-latency",
			Name:     "high p99 latency",
			Enabled:  true,
			Severity: SeverityWarning,
			Condition: AlertCondition{
				MetricPath: "latency.p99",
				Operator:   OpGT,
				Threshold:  1000,
			},
			Actions:    []AlertAction{ActionLog, ActionEmit},
			CooldownMs: int(defaultAlertCooldown.Milliseconds()),
		},
	}
	for i := range seed {
		rule := seed[i]
		e.rules[rule.ID] = &rule
	}
}

// AddAlertRule registers a rule after validating its condition.
func (e *Engine) AddAlertRule(rule AlertRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if err := validateRule(rule); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[rule.ID]; exists {
		return fmt.Errorf("alert rule %q already registered", rule.ID)
	}
	e.rules[rule.ID] = &rule
	return nil
}

// RemoveAlertRule unregisters a rule and resolves its active alerts.
func (e *Engine) RemoveAlertRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[id]; !ok {
		return fmt.Errorf("unknown alert rule %q", id)
	}
	delete(e.rules, id)
	now := e.now()
	remaining := e.active[:0]
	for _, a := range e.active {
		if a.RuleID == id {
			a.Status = AlertResolved
			a.ResolvedAt = now
			e.resolved = append(e.resolved, a)
			continue
		}
		remaining = append(remaining, a)
	}
	e.active = remaining
	return nil
}

// ResolveAlert explicitly resolves one active alert by id.
func (e *Engine) ResolveAlert(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, a := range e.active {
		if a.ID == id {
			a.Status = AlertResolved
			a.ResolvedAt = e.now()
			e.active = append(e.active[:i], e.active[i+1:]...)
			e.resolved = append(e.resolved, a)
			return nil
		}
	}
	return fmt.Errorf("no active alert %q", id)
}

// OnAlert registers a handler invoked for every fired alert (the
// emit-internal-event action).
func (e *Engine) OnAlert(h func(Alert)) {
	e.mu.Lock()
	e.onAlert = append(e.onAlert, h)
	e.mu.Unlock()
}

// OnEvalError registers a handler invoked whenever a rule's condition fails
// to evaluate. Evaluation always continues past the failing rule.
func (e *Engine) OnEvalError(h func(ruleID string, err error)) {
	e.mu.Lock()
	e.onEvalError = append(e.onEvalError, h)
	e.mu.Unlock()
}

// EvalErrors reports the running count of condition evaluation failures.
func (e *Engine) EvalErrors() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evalErrors
}

// Alerts returns active alerts followed by retained resolved alerts.
func (e *Engine) Alerts() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Alert, 0, len(e.active)+len(e.resolved))
	for _, a := range e.active {
		out = append(out, *a)
	}
	for _, a := range e.resolved {
		out = append(out, *a)
	}
	return out
}

// Rules returns the registered rules sorted by id.
func (e *Engine) Rules() []AlertRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]AlertRule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CheckAlerts evaluates every enabled rule outside its cooldown window
// against the latest snapshot. Evaluation errors are logged, counted and
// reported to OnEvalError handlers per rule; they do not halt evaluation of
// the others. A rule still true after its cooldown expires fires again.
func (e *Engine) CheckAlerts() []Alert {
	e.mu.Lock()
	snap := e.latest
	if snap.Timestamp.IsZero() {
		snap = e.aggregateLocked()
	}
	now := e.now()

	ids := make([]string, 0, len(e.rules))
	for id := range e.rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	type evalFailure struct {
		ruleID string
		err    error
	}
	var failures []evalFailure
	var fired []*Alert
	for _, id := range ids {
		rule := e.rules[id]
		if !rule.Enabled {
			continue
		}
		if cooldown := time.Duration(rule.CooldownMs) * time.Millisecond; !rule.lastFired.IsZero() && now.Sub(rule.lastFired) < cooldown {
			continue
		}
		value, err := resolveMetricPath(snap, rule.Condition.MetricPath)
		if err != nil {
			e.evalErrors++
			failures = append(failures, evalFailure{ruleID: rule.ID, err: err})
			e.logger.Warn("alert condition evaluation failed",
				logpkg.Str("rule", rule.ID), logpkg.Err(err))
			continue
		}
		if !compare(value, rule.Condition.Operator, rule.Condition.Threshold) {
			continue
		}
		alert := &Alert{
			ID:          uuid.NewString(),
			RuleID:      rule.ID,
			RuleName:    rule.Name,
			Severity:    rule.Severity,
			TriggeredAt: now,
			Status:      AlertActive,
			MetricPath:  rule.Condition.MetricPath,
			Value:       value,
			Threshold:   rule.Condition.Threshold,
		}
		e.active = append(e.active, alert)
		rule.lastFired = now
		fired = append(fired, alert)
	}
	handlers := e.onAlert
	evalHandlers := e.onEvalError
	actions := make(map[string][]AlertAction, len(fired))
	for _, a := range fired {
		if rule, ok := e.rules[a.RuleID]; ok {
			actions[a.ID] = rule.Actions
		}
	}
	e.mu.Unlock()

	for _, f := range failures {
		for _, h := range evalHandlers {
			h(f.ruleID, f.err)
		}
	}

	out := make([]Alert, 0, len(fired))
	for _, a := range fired {
		e.executeActions(*a, actions[a.ID], handlers)
		out = append(out, *a)
	}
	return out
}

func (e *Engine) executeActions(a Alert, actions []AlertAction, handlers []func(Alert)) {
	for _, action := range actions {
		switch action {
		case ActionLog:
			e.logger.Warn("alert fired",
				logpkg.Str("rule", a.RuleID),
				logpkg.Str("name", a.RuleName),
				logpkg.Str("severity", string(a.Severity)),
				logpkg.Str("metric", a.MetricPath),
				logpkg.F64("value", a.Value),
				logpkg.F64("threshold", a.Threshold),
			)
		case ActionEmit:
			for _, h := range handlers {
				h(a)
			}
		case ActionWebhook, ActionEmail:
			// placeholder actions, not functional
			e.logger.Info("alert action not implemented",
				logpkg.Str("action", string(action)), logpkg.Str("rule", a.RuleID))
		}
	}
}

// pruneAlerts drops resolved alerts past the retention window.
func (e *Engine) pruneAlerts() {
	e.mu.Lock()
	defer e.mu.Unlock()
	retention := time.Duration(e.cfg.AlertRetentionMs) * time.Millisecond
	if retention <= 0 {
		return
	}
	cutoff := e.now().Add(-retention)
	kept := e.resolved[:0]
	for _, a := range e.resolved {
		if a.ResolvedAt.After(cutoff) {
			kept = append(kept, a)
		}
	}
	e.resolved = kept
}

func validateRule(rule AlertRule) error {
	switch rule.Severity {
	case SeverityInfo, SeverityWarning, SeverityCritical:
	default:
		return fmt.Errorf("unknown severity %q", rule.Severity)
	}
	switch rule.Condition.Operator {
	case OpGT, OpLT, OpGE, OpLE, OpEQ, OpNE:
	default:
		return fmt.Errorf("unknown operator %q", rule.Condition.Operator)
	}
	if rule.Condition.MetricPath == "" {
		return fmt.Errorf("empty metric path")
	}
	if _, err := resolveMetricPath(Snapshot{
		EventsByType:   map[string]int64{},
		EventsBySource: map[string]int64{},
		ErrorsByType:   map[string]int64{},
	}, rule.Condition.MetricPath); err != nil {
		return err
	}
	for _, action := range rule.Actions {
		switch action {
		case ActionLog, ActionEmit, ActionWebhook, ActionEmail:
		default:
			return fmt.Errorf("unknown action %q", action)
		}
	}
	return nil
}

func compare(value float64, op Operator, threshold float64) bool {
	switch op {
	case OpGT:
		return value > threshold
	case OpLT:
		return value < threshold
	case OpGE:
		return value >= threshold
	case OpLE:
		return value <= threshold
	case OpEQ:
		return value == threshold
	case OpNE:
		return value != threshold
	}
	return false
}

// resolveMetricPath maps a dotted path to a value in the snapshot. Counter
// maps are addressed as eventsByType.<type>, eventsBySource.<source> and
// errorsByType.<type>; missing keys resolve to 0.
func resolveMetricPath(snap Snapshot, path string) (float64, error) {
	switch path {
	case "totalEvents":
		return float64(snap.TotalEvents), nil
	case "totalErrors":
		return float64(snap.TotalErrors), nil
	case "errorRate":
		return snap.ErrorRate, nil
	case "throughput.current":
		return snap.Throughput.Current, nil
	case "throughput.peak":
		return snap.Throughput.Peak, nil
	case "throughput.average":
		return snap.Throughput.Average, nil
	case "latency.p50":
		return snap.Latency.P50Ms, nil
	case "latency.p90":
		return snap.Latency.P90Ms, nil
	case "latency.p95":
		return snap.Latency.P95Ms, nil
	case "latency.p99":
		return snap.Latency.P99Ms, nil
	case "health.activeAlerts":
		return float64(snap.Health.ActiveAlerts), nil
	}
	if key, ok := strings.CutPrefix(path, "eventsByType."); ok {
		return float64(snap.EventsByType[key]), nil
	}
	if key, ok := strings.CutPrefix(path, "eventsBySource."); ok {
		return float64(snap.EventsBySource[key]), nil
	}
	if key, ok := strings.CutPrefix(path, "errorsByType."); ok {
		return float64(snap.ErrorsByType[key]), nil
	}
	return 0, fmt.Errorf("unknown metric path %q", path)
}
