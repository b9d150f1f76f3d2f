package batcher

import (
	"math"
	"sync"
	"time"

	"github.com/edgepulse/pulse/internal/config"
)

// Adjustment reasons recorded by the controller.
const (
	AdjustLatencyTooHigh    = "latency_too_high"
	AdjustLatencyAcceptable = "latency_acceptable"
	AdjustNoChange          = "no_change"
)

// Controller floors/ceilings applied regardless of configuration.
const (
	minAdaptiveWait = 100 * time.Millisecond
	maxAdaptiveWait = 5 * time.Second

	// learnMinSamples gates adjustment: a learning tick with fewer new
	// samples than this since the previous adjustment is skipped.
	learnMinSamples = 10

	adjustmentHistoryCap = 100
)

// Adjustment records one learning-tick decision, including no-change ticks.
type Adjustment struct {
	At                time.Time `json:"at"`
	Reason            string    `json:"reason"`
	ObservedLatencyMs float64   `json:"observed_latency_ms"`
	BatchSize         int       `json:"batch_size"`
	WaitMs            int64     `json:"wait_ms"`
}

// AdaptiveState is an exported snapshot of controller state.
type AdaptiveState struct {
	BatchSize int          `json:"batch_size"`
	WaitMs    int64        `json:"wait_ms"`
	History   []Adjustment `json:"history"`
}

type latencySample struct {
	latency   time.Duration
	batchSize int
	waitTime  time.Duration
}

// Controller is the adaptive feedback loop tuning batch size and wait time
// toward the configured target latency. Size and wait always stay within
// the configured [min,max] bounds.
type Controller struct {
	mu  sync.Mutex
	cfg config.AdaptiveConfig

	batchSize int
	waitTime  time.Duration

	// ring of recent samples, capped at LearningWindow
	samples []latencySample

	// accumulated since the last learning tick
	pendingSum float64
	pendingN   int

	history []Adjustment
	now     func() time.Time
}

// NewController seeds the controller from the adaptive config, clamping the
// starting batch size and wait into bounds.
func NewController(cfg config.AdaptiveConfig, startSize int, startWait time.Duration) *Controller {
	c := &Controller{cfg: cfg, now: time.Now}
	c.batchSize = clampInt(startSize, cfg.MinBatchSize, cfg.MaxBatchSize)
	c.waitTime = clampDur(startWait, minAdaptiveWait, maxAdaptiveWait)
	return c
}

// Observe feeds one flush latency into the learning window.
func (c *Controller) Observe(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, latencySample{latency: latency, batchSize: c.batchSize, waitTime: c.waitTime})
	if len(c.samples) > c.cfg.LearningWindow {
		c.samples = c.samples[len(c.samples)-c.cfg.LearningWindow:]
	}
	c.pendingSum += float64(latency.Milliseconds())
	c.pendingN++
}

// Learn runs one learning tick. It adjusts parameters only when at least
// learnMinSamples latencies accumulated since the previous tick; the
// decision, change or not, is appended to the bounded history. The returned
// bool reports whether parameters changed.
func (c *Controller) Learn() (Adjustment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pendingN < learnMinSamples {
		return Adjustment{}, false
	}
	observed := c.pendingSum / float64(c.pendingN)
	c.pendingSum, c.pendingN = 0, 0

	target := float64(c.cfg.TargetLatencyMs)
	factor := c.cfg.AdjustmentFactor
	reason := AdjustNoChange
	changed := false

	switch {
	case observed > target*1.2:
		c.batchSize = maxInt(c.cfg.MinBatchSize, int(math.Floor(float64(c.batchSize)/factor)))
		c.waitTime = maxDur(minAdaptiveWait, time.Duration(math.Floor(float64(c.waitTime)/factor)))
		reason = AdjustLatencyTooHigh
		changed = true
	case observed < target*0.8:
		c.batchSize = minInt(c.cfg.MaxBatchSize, int(math.Ceil(float64(c.batchSize)*factor)))
		c.waitTime = minDur(maxAdaptiveWait, time.Duration(math.Ceil(float64(c.waitTime)*factor)))
		reason = AdjustLatencyAcceptable
		changed = true
	}

	adj := Adjustment{
		At:                c.now(),
		Reason:            reason,
		ObservedLatencyMs: observed,
		BatchSize:         c.batchSize,
		WaitMs:            c.waitTime.Milliseconds(),
	}
	c.history = append(c.history, adj)
	if len(c.history) > adjustmentHistoryCap {
		c.history = c.history[len(c.history)-adjustmentHistoryCap:]
	}
	return adj, changed
}

// BatchSize returns the current adaptive batch-size threshold.
func (c *Controller) BatchSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batchSize
}

// WaitTime returns the current adaptive flush wait.
func (c *Controller) WaitTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waitTime
}

// Snapshot copies the controller state for introspection/export.
func (c *Controller) Snapshot() AdaptiveState {
	c.mu.Lock()
	defer c.mu.Unlock()
	hist := make([]Adjustment, len(c.history))
	copy(hist, c.history)
	return AdaptiveState{BatchSize: c.batchSize, WaitMs: c.waitTime.Milliseconds(), History: hist}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDur(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxDur(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
