package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// collectors are the monitor's Prometheus self-metrics. Each monitor owns
// its registry so repeated construction (tests, embedded use) never trips
// duplicate registration.
type collectors struct {
	registry *prometheus.Registry

	batchesFlushed    *prometheus.CounterVec
	batchSize         prometheus.Histogram
	compressionSaved  prometheus.Counter
	compressionErrors prometheus.Counter
	deliveries        *prometheus.CounterVec
	expiredItems      prometheus.Counter
	alertEvalErrors   prometheus.Counter
	activeAlerts      prometheus.Gauge
	healthScore       prometheus.Gauge
	adaptiveBatchSize prometheus.Gauge
	adaptiveWaitMs    prometheus.Gauge
}

func newCollectors() *collectors {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &collectors{
		registry: reg,
		batchesFlushed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_batches_flushed_total",
			Help: "Batches flushed, by flush reason.",
		}, []string{"reason"}),
		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulse_batch_size",
			Help:    "Events per flushed batch.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		compressionSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_compression_saved_bytes_total",
			Help: "Bytes saved by batch compression.",
		}),
		compressionErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_compression_errors_total",
			Help: "Compression failures (batches delivered uncompressed).",
		}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_deliveries_total",
			Help: "Batch delivery outcomes.",
		}, []string{"outcome"}),
		expiredItems: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_expired_items_total",
			Help: "Pending items removed by the age sweep.",
		}),
		alertEvalErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_alert_eval_errors_total",
			Help: "Alert rule conditions that failed to evaluate.",
		}),
		activeAlerts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_active_alerts",
			Help: "Currently active alerts.",
		}),
		healthScore: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_health_score",
			Help: "Composite health score, 0-100.",
		}),
		adaptiveBatchSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_adaptive_batch_size",
			Help: "Current adaptive batch-size threshold.",
		}),
		adaptiveWaitMs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_adaptive_wait_ms",
			Help: "Current adaptive flush wait in milliseconds.",
		}),
	}
}
