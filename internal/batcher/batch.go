package batcher

import (
	"time"

	"github.com/edgepulse/pulse/internal/event"
)

// FlushReason records why a batch was cut.
type FlushReason string

const (
	ReasonSize     FlushReason = "size"
	ReasonTime     FlushReason = "time"
	ReasonPriority FlushReason = "priority"
	ReasonManual   FlushReason = "manual"
	ReasonAdaptive FlushReason = "adaptive"
)

// PendingItem wraps one event while it waits in a target's queue. It is
// owned exclusively by that queue until flushed or expired.
type PendingItem struct {
	Event      event.Event
	Priority   string
	EnqueuedAt time.Time
	Target     event.Target
}

// BatchMeta describes a finished batch.
type BatchMeta struct {
	Count           int         `json:"count"`
	HighestPriority string      `json:"highest_priority,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	FlushReason     FlushReason `json:"flush_reason"`
	OriginalBytes   int         `json:"original_bytes"`
	// CompressedBytes and CompressionRatio are set only when the payload
	// exceeded the threshold and compression succeeded.
	CompressedBytes  int     `json:"compressed_bytes,omitempty"`
	CompressionRatio float64 `json:"compression_ratio,omitempty"`
}

// Batch is an immutable group of events addressed to one target. Payload is
// the serialized (and possibly compressed) form handed to the transport.
type Batch struct {
	ID         string        `json:"id"`
	Target     event.Target  `json:"target"`
	Events     []event.Event `json:"events"`
	Payload    []byte        `json:"-"`
	Compressed bool          `json:"compressed"`
	Meta       BatchMeta     `json:"meta"`
}

// Metrics is a point-in-time snapshot of batcher statistics.
type Metrics struct {
	TotalBatches          int64   `json:"total_batches"`
	TotalItems            int64   `json:"total_items"`
	AvgBatchSize          float64 `json:"avg_batch_size"`
	AvgWaitMs             float64 `json:"avg_wait_ms"`
	AvgCompressionRatio   float64 `json:"avg_compression_ratio"`
	CompressionSavedBytes int64   `json:"compression_saved_bytes"`

	LatencyP50Ms float64 `json:"latency_p50_ms"`
	LatencyP90Ms float64 `json:"latency_p90_ms"`
	LatencyP95Ms float64 `json:"latency_p95_ms"`
	LatencyP99Ms float64 `json:"latency_p99_ms"`

	// Adaptive is present only when the adaptive strategy is active.
	Adaptive *AdaptiveState `json:"adaptive,omitempty"`
}

// QueueStatus summarizes one target's pending state.
type QueueStatus struct {
	Target       event.Target   `json:"target"`
	PendingCount int            `json:"pending_count"`
	ByPriority   map[string]int `json:"by_priority,omitempty"`
	TimerArmed   bool           `json:"timer_armed"`
	OldestAt     time.Time      `json:"oldest_at"`
}
