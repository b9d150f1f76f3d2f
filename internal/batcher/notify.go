package batcher

import (
	"sync"

	"github.com/edgepulse/pulse/internal/event"
)

// NoteKind discriminates batcher notifications. The set is closed; every
// cross-component signal the batcher emits is one of these variants.
type NoteKind string

const (
	NoteBatchReady         NoteKind = "batch-ready"
	NoteCompressionError   NoteKind = "compression-error"
	NoteCleanupPerformed   NoteKind = "cleanup-performed"
	NoteConfigUpdated      NoteKind = "config-updated"
	NoteAdaptiveAdjustment NoteKind = "adaptive-adjustment"
	NotePeriodicMetrics    NoteKind = "periodic-metrics"
	NoteShutdownComplete   NoteKind = "shutdown-complete"
)

// Note is one batcher notification. Only the fields relevant to Kind are
// populated: Batch/Reason/Count for batch-ready, Err for compression-error,
// Count for cleanup-performed, Adjustment for adaptive-adjustment, Metrics
// for periodic-metrics.
type Note struct {
	Kind       NoteKind
	Target     event.Target
	Batch      *Batch
	Reason     FlushReason
	Count      int
	Err        error
	Adjustment *Adjustment
	Metrics    *Metrics
}

// Handler receives batcher notifications. Handlers run synchronously on the
// emitting goroutine and must not block.
type Handler func(Note)

type notifier struct {
	mu       sync.RWMutex
	handlers []Handler
}

func (n *notifier) subscribe(h Handler) {
	n.mu.Lock()
	n.handlers = append(n.handlers, h)
	n.mu.Unlock()
}

func (n *notifier) emit(note Note) {
	n.mu.RLock()
	handlers := n.handlers
	n.mu.RUnlock()
	for _, h := range handlers {
		h(note)
	}
}
