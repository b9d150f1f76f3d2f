package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	logpkg "github.com/edgepulse/pulse/pkg/log"
)

// Strategy selects how the batcher decides to flush.
type Strategy string

const (
	StrategySize     Strategy = "size"
	StrategyTime     Strategy = "time"
	StrategyHybrid   Strategy = "hybrid"
	StrategyAdaptive Strategy = "adaptive"
)

// Compression algorithms supported for batch payloads.
const (
	AlgorithmGzip    = "gzip"
	AlgorithmDeflate = "deflate"
)

// Delivery failure policies. CountOnly feeds failure counters; Requeue
// additionally re-enqueues the failed batch's events for the same target.
const (
	DeliveryCountOnly = "count"
	DeliveryRequeue   = "requeue"
)

// Config is the top-level Pulse configuration.
type Config struct {
	Log      logpkg.Config  `json:"log" yaml:"log"`
	HTTPAddr string         `json:"httpAddr" yaml:"httpAddr"`
	Batch    BatchConfig    `json:"batch" yaml:"batch"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
	Monitor  MonitorConfig  `json:"monitor" yaml:"monitor"`
	Delivery DeliveryConfig `json:"delivery" yaml:"delivery"`
}

// BatchConfig controls flush timing and batch shape.
type BatchConfig struct {
	Strategy     Strategy `json:"strategy" yaml:"strategy"`
	MaxBatchSize int      `json:"maxBatchSize" yaml:"maxBatchSize"`
	MaxWaitMs    int      `json:"maxWaitMs" yaml:"maxWaitMs"`

	Compression CompressionConfig `json:"compression" yaml:"compression"`
	Priority    PriorityConfig    `json:"priority" yaml:"priority"`
	Adaptive    AdaptiveConfig    `json:"adaptive" yaml:"adaptive"`

	// MaxItemAgeMs bounds how long an unflushed item may sit in a queue
	// before the periodic sweep expires it.
	MaxItemAgeMs      int `json:"maxItemAgeMs" yaml:"maxItemAgeMs"`
	CleanupIntervalMs int `json:"cleanupIntervalMs" yaml:"cleanupIntervalMs"`
}

// CompressionConfig controls payload compression for large batches.
type CompressionConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	Algorithm      string `json:"algorithm" yaml:"algorithm"`
	ThresholdBytes int    `json:"thresholdBytes" yaml:"thresholdBytes"`
}

// PriorityConfig enables per-priority queues and delay caps.
type PriorityConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Levels maps a priority name to its rank; lower rank is delivered first.
	Levels map[string]int `json:"levels" yaml:"levels"`
	// MaxDelayMs maps a priority name to the longest an item of that
	// priority may wait before forcing a flush.
	MaxDelayMs map[string]int `json:"maxDelayMs" yaml:"maxDelayMs"`
}

// AdaptiveConfig tunes the feedback controller.
type AdaptiveConfig struct {
	Enabled          bool    `json:"enabled" yaml:"enabled"`
	TargetLatencyMs  int     `json:"targetLatencyMs" yaml:"targetLatencyMs"`
	AdjustmentFactor float64 `json:"adjustmentFactor" yaml:"adjustmentFactor"`
	MinBatchSize     int     `json:"minBatchSize" yaml:"minBatchSize"`
	MaxBatchSize     int     `json:"maxBatchSize" yaml:"maxBatchSize"`
	// LearningWindow caps the ring of retained latency samples.
	LearningWindow int `json:"learningWindow" yaml:"learningWindow"`
	// LearningIntervalMs is the cadence of adjustment ticks.
	LearningIntervalMs int `json:"learningIntervalMs" yaml:"learningIntervalMs"`
}

// MetricsConfig controls the metrics/trace/alert engine.
type MetricsConfig struct {
	AggregationIntervalMs int     `json:"aggregationIntervalMs" yaml:"aggregationIntervalMs"`
	AlertCheckIntervalMs  int     `json:"alertCheckIntervalMs" yaml:"alertCheckIntervalMs"`
	LatencyBufferSize     int     `json:"latencyBufferSize" yaml:"latencyBufferSize"`
	HistorySize           int     `json:"historySize" yaml:"historySize"`
	TraceSampleRate       float64 `json:"traceSampleRate" yaml:"traceSampleRate"`
	TraceTTLMs            int     `json:"traceTtlMs" yaml:"traceTtlMs"`
	MaxTraces             int     `json:"maxTraces" yaml:"maxTraces"`
	MaxSpansPerTrace      int     `json:"maxSpansPerTrace" yaml:"maxSpansPerTrace"`
	AlertRetentionMs      int     `json:"alertRetentionMs" yaml:"alertRetentionMs"`
	SeedDefaultRules      bool    `json:"seedDefaultRules" yaml:"seedDefaultRules"`
}

// MonitorConfig controls the composition layer.
type MonitorConfig struct {
	HealthCheckIntervalMs int `json:"healthCheckIntervalMs" yaml:"healthCheckIntervalMs"`
}

// DeliveryConfig makes the failed-delivery policy explicit.
type DeliveryConfig struct {
	OnFailure string `json:"onFailure" yaml:"onFailure"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		Batch: BatchConfig{
			Strategy:     StrategyHybrid,
			MaxBatchSize: 100,
			MaxWaitMs:    1000,
			Compression: CompressionConfig{
				Enabled:        true,
				Algorithm:      AlgorithmGzip,
				ThresholdBytes: 1024,
			},
			Priority: PriorityConfig{
				Enabled: false,
				Levels:  map[string]int{"high": 0, "normal": 1, "low": 2},
				MaxDelayMs: map[string]int{
					"high":   100,
					"normal": 1000,
					"low":    5000,
				},
			},
			Adaptive: AdaptiveConfig{
				Enabled:            false,
				TargetLatencyMs:    200,
				AdjustmentFactor:   1.2,
				MinBatchSize:       10,
				MaxBatchSize:       500,
				LearningWindow:     100,
				LearningIntervalMs: 5000,
			},
			MaxItemAgeMs:      5 * 60 * 1000,
			CleanupIntervalMs: 60 * 1000,
		},
		Metrics: MetricsConfig{
			AggregationIntervalMs: 60 * 1000,
			AlertCheckIntervalMs:  30 * 1000,
			LatencyBufferSize:     1000,
			HistorySize:           60,
			TraceSampleRate:       0.1,
			TraceTTLMs:            30 * 60 * 1000,
			MaxTraces:             1000,
			MaxSpansPerTrace:      50,
			AlertRetentionMs:      24 * 60 * 60 * 1000,
			SeedDefaultRules:      true,
		},
		Monitor: MonitorConfig{
			HealthCheckIntervalMs: 60 * 1000,
		},
		Delivery: DeliveryConfig{OnFailure: DeliveryCountOnly},
	}
}

// Load reads configuration from a JSON or YAML file by extension. An empty
// path returns defaults. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MaxWait returns the global flush wait as a duration.
func (b BatchConfig) MaxWait() time.Duration { return time.Duration(b.MaxWaitMs) * time.Millisecond }

// MaxDelayFor returns the configured delay cap for a priority name and
// whether one exists.
func (p PriorityConfig) MaxDelayFor(name string) (time.Duration, bool) {
	ms, ok := p.MaxDelayMs[name]
	if !ok {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// RankFor returns the rank for a priority name; unknown names sort last.
func (p PriorityConfig) RankFor(name string) int {
	if r, ok := p.Levels[name]; ok {
		return r
	}
	return int(^uint(0) >> 1)
}

// Validate checks every bound of the batch configuration.
func (b BatchConfig) Validate() error {
	switch b.Strategy {
	case StrategySize, StrategyTime, StrategyHybrid, StrategyAdaptive:
	default:
		return fmt.Errorf("batch.strategy: unknown strategy %q", b.Strategy)
	}
	if b.MaxBatchSize < 1 || b.MaxBatchSize > 1000 {
		return fmt.Errorf("batch.maxBatchSize: %d out of range [1,1000]", b.MaxBatchSize)
	}
	if b.MaxWaitMs < 10 || b.MaxWaitMs > 60000 {
		return fmt.Errorf("batch.maxWaitMs: %d out of range [10,60000]", b.MaxWaitMs)
	}
	if b.Compression.Enabled {
		switch b.Compression.Algorithm {
		case AlgorithmGzip, AlgorithmDeflate:
		default:
			return fmt.Errorf("batch.compression.algorithm: unknown algorithm %q", b.Compression.Algorithm)
		}
		if b.Compression.ThresholdBytes < 0 {
			return fmt.Errorf("batch.compression.thresholdBytes: must be >= 0")
		}
	}
	if b.Priority.Enabled {
		if len(b.Priority.Levels) == 0 {
			return fmt.Errorf("batch.priority.levels: empty with priority enabled")
		}
		for name, ms := range b.Priority.MaxDelayMs {
			if _, ok := b.Priority.Levels[name]; !ok {
				return fmt.Errorf("batch.priority.maxDelayMs: unknown priority %q", name)
			}
			if ms <= 0 {
				return fmt.Errorf("batch.priority.maxDelayMs[%s]: must be > 0", name)
			}
		}
	}
	if b.Adaptive.Enabled {
		a := b.Adaptive
		if a.AdjustmentFactor < 0.1 || a.AdjustmentFactor > 2.0 {
			return fmt.Errorf("batch.adaptive.adjustmentFactor: %v out of range [0.1,2.0]", a.AdjustmentFactor)
		}
		if a.MinBatchSize < 1 || a.MaxBatchSize < a.MinBatchSize {
			return fmt.Errorf("batch.adaptive: need 1 <= minBatchSize <= maxBatchSize")
		}
		if a.TargetLatencyMs <= 0 {
			return fmt.Errorf("batch.adaptive.targetLatencyMs: must be > 0")
		}
		if a.LearningWindow <= 0 {
			return fmt.Errorf("batch.adaptive.learningWindow: must be > 0")
		}
	}
	if b.MaxItemAgeMs <= 0 {
		return fmt.Errorf("batch.maxItemAgeMs: must be > 0")
	}
	return nil
}

// Validate checks metrics engine bounds.
func (m MetricsConfig) Validate() error {
	if m.AggregationIntervalMs <= 0 {
		return fmt.Errorf("metrics.aggregationIntervalMs: must be > 0")
	}
	if m.AlertCheckIntervalMs <= 0 {
		return fmt.Errorf("metrics.alertCheckIntervalMs: must be > 0")
	}
	if m.LatencyBufferSize <= 0 {
		return fmt.Errorf("metrics.latencyBufferSize: must be > 0")
	}
	if m.HistorySize <= 0 {
		return fmt.Errorf("metrics.historySize: must be > 0")
	}
	if m.TraceSampleRate < 0 || m.TraceSampleRate > 1 {
		return fmt.Errorf("metrics.traceSampleRate: %v out of range [0,1]", m.TraceSampleRate)
	}
	if m.MaxTraces <= 0 {
		return fmt.Errorf("metrics.maxTraces: must be > 0")
	}
	return nil
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	if err := c.Batch.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	if c.Monitor.HealthCheckIntervalMs <= 0 {
		return fmt.Errorf("monitor.healthCheckIntervalMs: must be > 0")
	}
	switch c.Delivery.OnFailure {
	case DeliveryCountOnly, DeliveryRequeue:
	default:
		return fmt.Errorf("delivery.onFailure: unknown policy %q", c.Delivery.OnFailure)
	}
	return nil
}
