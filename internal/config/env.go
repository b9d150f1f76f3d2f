package config

import (
	"os"
	"strconv"
)

// FromEnv overlays PULSE_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("PULSE_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("PULSE_BATCH_STRATEGY"); v != "" {
		cfg.Batch.Strategy = Strategy(v)
	}
	envInt("PULSE_BATCH_MAX_SIZE", &cfg.Batch.MaxBatchSize)
	envInt("PULSE_BATCH_MAX_WAIT_MS", &cfg.Batch.MaxWaitMs)
	envBool("PULSE_COMPRESSION_ENABLED", &cfg.Batch.Compression.Enabled)
	if v := os.Getenv("PULSE_COMPRESSION_ALGORITHM"); v != "" {
		cfg.Batch.Compression.Algorithm = v
	}
	envInt("PULSE_COMPRESSION_THRESHOLD_BYTES", &cfg.Batch.Compression.ThresholdBytes)
	envBool("PULSE_PRIORITY_ENABLED", &cfg.Batch.Priority.Enabled)
	envBool("PULSE_ADAPTIVE_ENABLED", &cfg.Batch.Adaptive.Enabled)
	envInt("PULSE_ADAPTIVE_TARGET_LATENCY_MS", &cfg.Batch.Adaptive.TargetLatencyMs)
	envFloat("PULSE_ADAPTIVE_ADJUSTMENT_FACTOR", &cfg.Batch.Adaptive.AdjustmentFactor)
	envInt("PULSE_METRICS_AGGREGATION_INTERVAL_MS", &cfg.Metrics.AggregationIntervalMs)
	envInt("PULSE_METRICS_ALERT_CHECK_INTERVAL_MS", &cfg.Metrics.AlertCheckIntervalMs)
	envFloat("PULSE_TRACE_SAMPLE_RATE", &cfg.Metrics.TraceSampleRate)
	envInt("PULSE_HEALTH_CHECK_INTERVAL_MS", &cfg.Monitor.HealthCheckIntervalMs)
	if v := os.Getenv("PULSE_DELIVERY_ON_FAILURE"); v != "" {
		cfg.Delivery.OnFailure = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
