package monitor

import (
	"time"

	"github.com/edgepulse/pulse/internal/metrics"
	logpkg "github.com/edgepulse/pulse/pkg/log"
)

// CheckStatus is the outcome of one health sub-check.
type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

// Check is one individually scored health probe.
type Check struct {
	Name   string      `json:"name"`
	Status CheckStatus `json:"status"`
	Value  float64     `json:"value"`
	WarnAt float64     `json:"warn_at"`
	FailAt float64     `json:"fail_at"`
}

// HealthCheckResult is the composite health report.
type HealthCheckResult struct {
	Status    metrics.HealthStatus `json:"status"`
	Score     float64              `json:"score"`
	Checks    []Check              `json:"checks"`
	CheckedAt time.Time            `json:"checked_at"`
}

// Health check thresholds. Values are ratios except latency (ms) and
// connection counts.
const (
	rejectionWarn = 0.05
	rejectionFail = 0.10
	opErrorWarn   = 0.02
	opErrorFail   = 0.05
	latencyWarnMs = 500.0
	latencyFailMs = 1000.0
	memoryWarn    = 0.6
	memoryFail    = 0.8

	scoreUnhealthyBelow = 70.0
	scoreDegradedBelow  = 85.0
)

// HealthCheck runs every sub-check against current state and computes the
// composite score: 100 × passed / total. Overall status is unhealthy when
// any check fails or the score drops below 70, degraded when any check
// warns or the score drops below 85, else healthy. An active critical
// alert forces unhealthy no matter what the sub-checks say.
func (m *Monitor) HealthCheck() HealthCheckResult {
	var checks []Check

	if m.conns != nil {
		stats := m.conns.ConnectionStats()
		rejRate := 0.0
		if stats.Total > 0 {
			rejRate = float64(stats.Rejected) / float64(stats.Total)
		}
		checks = append(checks, thresholdCheck("connection_rejection_rate", rejRate, rejectionWarn, rejectionFail))

		active := Check{Name: "active_connections", Status: CheckPass, Value: float64(stats.Active)}
		if stats.Active == 0 {
			active.Status = CheckWarn
		}
		checks = append(checks, active)
	}

	total, failed := m.opTotals()
	opErrRate := 0.0
	if total > 0 {
		opErrRate = float64(failed) / float64(total)
	}
	checks = append(checks, thresholdCheck("operation_error_rate", opErrRate, opErrorWarn, opErrorFail))

	p95 := m.engine.Latest().Latency.P95Ms
	checks = append(checks, thresholdCheck("latency_p95_ms", p95, latencyWarnMs, latencyFailMs))

	used, limit := m.memUsage()
	memRatio := 0.0
	if limit > 0 {
		memRatio = float64(used) / float64(limit)
	}
	checks = append(checks, thresholdCheck("memory_usage_ratio", memRatio, memoryWarn, memoryFail))

	passed, warned, failedChecks := 0, 0, 0
	for _, c := range checks {
		switch c.Status {
		case CheckPass:
			passed++
		case CheckWarn:
			warned++
		case CheckFail:
			failedChecks++
		}
	}
	score := 0.0
	if len(checks) > 0 {
		score = 100 * float64(passed) / float64(len(checks))
	}

	status := metrics.HealthHealthy
	switch {
	case failedChecks > 0 || score < scoreUnhealthyBelow:
		status = metrics.HealthUnhealthy
	case warned > 0 || score < scoreDegradedBelow:
		status = metrics.HealthDegraded
	}
	criticals := m.engine.ActiveCriticalAlerts()
	if criticals > 0 {
		status = metrics.HealthUnhealthy
	}

	result := HealthCheckResult{Status: status, Score: score, Checks: checks, CheckedAt: m.now()}

	m.mu.Lock()
	m.lastHealth = result
	m.mu.Unlock()
	m.prom.healthScore.Set(score)

	if status != metrics.HealthHealthy {
		m.logger.Warn("health check",
			logpkg.Str("status", string(status)),
			logpkg.F64("score", score),
			logpkg.Int("warned", warned),
			logpkg.Int("failed", failedChecks),
			logpkg.Int("critical_alerts", criticals),
		)
	}
	return result
}

// LastHealth returns the most recent health check result, running one on
// demand if none exists yet.
func (m *Monitor) LastHealth() HealthCheckResult {
	m.mu.Lock()
	last := m.lastHealth
	m.mu.Unlock()
	if last.CheckedAt.IsZero() {
		return m.HealthCheck()
	}
	return last
}

func thresholdCheck(name string, value, warnAt, failAt float64) Check {
	c := Check{Name: name, Status: CheckPass, Value: value, WarnAt: warnAt, FailAt: failAt}
	switch {
	case value > failAt:
		c.Status = CheckFail
	case value > warnAt:
		c.Status = CheckWarn
	}
	return c
}
