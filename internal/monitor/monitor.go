package monitor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/edgepulse/pulse/internal/batcher"
	"github.com/edgepulse/pulse/internal/config"
	"github.com/edgepulse/pulse/internal/event"
	"github.com/edgepulse/pulse/internal/metrics"
	logpkg "github.com/edgepulse/pulse/pkg/log"
)

// Operation names feeding the aggregate error rate.
const (
	opSend      = "send"
	opReceive   = "receive"
	opBroadcast = "broadcast"
)

// ConnectionStats summarize the external connection collaborator.
type ConnectionStats struct {
	Active   int64
	Total    int64
	Rejected int64
}

// ConnectionSource is implemented by the connection lifecycle layer.
type ConnectionSource interface {
	ConnectionStats() ConnectionStats
}

// Options configure optional collaborators.
type Options struct {
	// Sink receives finished batches; nil disables in-monitor delivery.
	Sink event.Sink
	// Connections provides connection stats for health checks; nil skips
	// the connection sub-checks.
	Connections ConnectionSource
	// DeliveryPolicy is config.DeliveryCountOnly or config.DeliveryRequeue.
	DeliveryPolicy      string
	HealthCheckInterval time.Duration
}

type opCounter struct {
	total  int64
	failed int64
}

// Monitor composes the batcher and collaborators into the metrics engine.
type Monitor struct {
	engine  *metrics.Engine
	batcher *batcher.Batcher
	sink    event.Sink
	conns   ConnectionSource
	policy  string
	logger  logpkg.Logger
	now     func() time.Time

	// memUsage reports (used, limit) bytes; injectable for tests.
	memUsage func() (uint64, uint64)

	interval time.Duration
	prom     *collectors

	mu         sync.Mutex
	ops        map[string]*opCounter
	lastHealth HealthCheckResult
}

// New wires a monitor to the batcher and engine and subscribes to batcher
// notifications. Alert firings and rule evaluation failures are mirrored
// back into the engine's event counters as internal events.
func New(engine *metrics.Engine, b *batcher.Batcher, logger logpkg.Logger, opts Options) *Monitor {
	policy := opts.DeliveryPolicy
	if policy == "" {
		policy = config.DeliveryCountOnly
	}
	interval := opts.HealthCheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	m := &Monitor{
		engine:   engine,
		batcher:  b,
		sink:     opts.Sink,
		conns:    opts.Connections,
		policy:   policy,
		logger:   logger.WithComponent("monitor"),
		now:      time.Now,
		memUsage: processMemUsage,
		interval: interval,
		prom:     newCollectors(),
		ops: map[string]*opCounter{
			opSend:      {},
			opReceive:   {},
			opBroadcast: {},
		},
	}
	b.Subscribe(m.handleNote)
	engine.OnAlert(m.handleAlert)
	engine.OnEvalError(m.handleEvalError)
	return m
}

// Registry exposes the monitor's Prometheus registry for the /metrics
// endpoint.
func (m *Monitor) Registry() *prometheus.Registry { return m.prom.registry }

// Run performs periodic health checks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.HealthCheck()
		}
	}
}

func (m *Monitor) handleNote(n batcher.Note) {
	switch n.Kind {
	case batcher.NoteBatchReady:
		m.handleBatch(n)
	case batcher.NoteCompressionError:
		m.prom.compressionErrors.Inc()
		m.engine.RecordError("batch.compression")
	case batcher.NoteCleanupPerformed:
		m.prom.expiredItems.Add(float64(n.Count))
	case batcher.NoteAdaptiveAdjustment:
		if n.Adjustment != nil {
			m.prom.adaptiveBatchSize.Set(float64(n.Adjustment.BatchSize))
			m.prom.adaptiveWaitMs.Set(float64(n.Adjustment.WaitMs))
		}
	case batcher.NotePeriodicMetrics:
		if n.Metrics != nil {
			m.prom.activeAlerts.Set(float64(m.engine.Latest().Health.ActiveAlerts))
		}
	case batcher.NoteConfigUpdated:
		m.logger.Info("batcher configuration updated")
	case batcher.NoteShutdownComplete:
		m.logger.Info("batcher shutdown complete")
	}
}

func (m *Monitor) handleBatch(n batcher.Note) {
	b := n.Batch
	if b == nil {
		return
	}
	m.prom.batchesFlushed.WithLabelValues(string(n.Reason)).Inc()
	m.prom.batchSize.Observe(float64(b.Meta.Count))
	if b.Compressed {
		m.prom.compressionSaved.Add(float64(b.Meta.OriginalBytes - b.Meta.CompressedBytes))
	}

	now := m.now()
	for _, ev := range b.Events {
		m.engine.RecordEvent(ev, metrics.RecordContext{Start: b.Meta.CreatedAt, End: now})
	}

	if m.sink == nil {
		return
	}
	err := m.sink.Deliver(b.Target, b.Payload, b.Compressed)
	m.RecordSend(err)
	if err == nil {
		m.prom.deliveries.WithLabelValues("ok").Inc()
		return
	}
	m.prom.deliveries.WithLabelValues("failed").Inc()
	m.engine.RecordError("batch.delivery")
	m.logger.Warn("batch delivery failed",
		logpkg.Str("target", string(b.Target)),
		logpkg.Str("batch", b.ID),
		logpkg.Err(err),
	)
	if m.policy == config.DeliveryRequeue {
		// one redelivery attempt per event; a marker header prevents a
		// permanently failing sink from looping flush->fail->requeue
		requeue := make([]event.Event, 0, len(b.Events))
		for _, ev := range b.Events {
			if ev.Headers[redeliveredHeader] != "" {
				continue
			}
			ev.Headers = withHeader(ev.Headers, redeliveredHeader, "1")
			requeue = append(requeue, ev)
		}
		if len(requeue) > 0 {
			go func(target event.Target, events []event.Event, priority string) {
				for _, ev := range events {
					m.batcher.AddMessage(target, ev, priority, false)
				}
			}(b.Target, requeue, b.Meta.HighestPriority)
		}
	}
}

const redeliveredHeader = "pulse-redelivered"

func withHeader(h map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	out[key] = value
	return out
}

func (m *Monitor) handleAlert(a metrics.Alert) {
	m.engine.RecordEvent(event.Event{
		ID:     a.ID,
		Type:   "alert.triggered",
		Source: "pulse.alerts",
	}, metrics.RecordContext{})
	m.prom.activeAlerts.Set(float64(m.engine.Latest().Health.ActiveAlerts))
}

func (m *Monitor) handleEvalError(ruleID string, err error) {
	m.prom.alertEvalErrors.Inc()
	m.engine.RecordEvent(event.Event{
		Type:   "alert.evaluation_error",
		Source: "pulse.alerts",
	}, metrics.RecordContext{})
}

// RecordSend counts one send operation; a non-nil error marks it failed.
func (m *Monitor) RecordSend(err error) { m.recordOp(opSend, err) }

// RecordReceive counts one receive operation.
func (m *Monitor) RecordReceive(err error) { m.recordOp(opReceive, err) }

// RecordBroadcast counts one broadcast operation.
func (m *Monitor) RecordBroadcast(err error) { m.recordOp(opBroadcast, err) }

func (m *Monitor) recordOp(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.ops[name]
	c.total++
	if err != nil {
		c.failed++
	}
}

func (m *Monitor) opTotals() (total, failed int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.ops {
		total += c.total
		failed += c.failed
	}
	return total, failed
}

// processMemUsage reads the Go heap as (allocated, reserved-from-OS).
func processMemUsage() (uint64, uint64) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc, ms.Sys
}
