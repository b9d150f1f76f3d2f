package batcher

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/edgepulse/pulse/internal/config"
	"github.com/edgepulse/pulse/internal/event"
	logpkg "github.com/edgepulse/pulse/pkg/log"
)

func testLogger() logpkg.Logger {
	return logpkg.NewLogger(logpkg.WithWriter(io.Discard))
}

func testBatchConfig() config.BatchConfig {
	cfg := config.Default().Batch
	cfg.Compression.Enabled = false
	return cfg
}

func newTestBatcher(t *testing.T, cfg config.BatchConfig) *Batcher {
	t.Helper()
	b, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func ev(id, typ string) event.Event {
	return event.Event{ID: id, Type: typ, Source: "test"}
}

func TestAddMessageSizeTrigger(t *testing.T) {
	cfg := testBatchConfig()
	cfg.MaxBatchSize = 3
	b := newTestBatcher(t, cfg)

	if got := b.AddMessage("conn1", ev("e1", "click"), "", false); got != nil {
		t.Fatalf("expected nil batch after first add, got %+v", got)
	}
	if got := b.AddMessage("conn1", ev("e2", "click"), "", false); got != nil {
		t.Fatalf("expected nil batch after second add, got %+v", got)
	}
	batch := b.AddMessage("conn1", ev("e3", "click"), "", false)
	if batch == nil {
		t.Fatal("expected size-triggered flush on third add")
	}
	if batch.Meta.FlushReason != ReasonSize {
		t.Errorf("flush reason = %s, want %s", batch.Meta.FlushReason, ReasonSize)
	}
	if batch.Meta.Count != 3 || len(batch.Events) != 3 {
		t.Errorf("batch count = %d events = %d, want 3", batch.Meta.Count, len(batch.Events))
	}
	if got := b.PendingCount("conn1"); got != 0 {
		t.Errorf("pending after flush = %d, want 0", got)
	}
}

func TestTimedFlush(t *testing.T) {
	cfg := testBatchConfig()
	cfg.MaxWaitMs = 50

	b := newTestBatcher(t, cfg)
	ready := make(chan Note, 1)
	b.Subscribe(func(n Note) {
		if n.Kind == NoteBatchReady {
			select {
			case ready <- n:
			default:
			}
		}
	})

	b.AddMessage("conn1", ev("e1", "click"), "", false)

	select {
	case n := <-ready:
		if n.Batch.Meta.FlushReason != ReasonTime {
			t.Errorf("flush reason = %s, want %s", n.Batch.Meta.FlushReason, ReasonTime)
		}
		if n.Count != 1 {
			t.Errorf("count = %d, want 1", n.Count)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed flush did not fire")
	}
	if got := b.PendingCount("conn1"); got != 0 {
		t.Errorf("pending after timed flush = %d, want 0", got)
	}
}

func TestPriorityOrdering(t *testing.T) {
	cfg := testBatchConfig()
	cfg.Priority.Enabled = true
	b := newTestBatcher(t, cfg)

	b.AddMessage("conn1", ev("e-low", "x"), "low", false)
	b.AddMessage("conn1", ev("e-high", "x"), "high", false)
	b.AddMessage("conn1", ev("e-normal", "x"), "normal", false)

	batch := b.FlushBatch("conn1", ReasonManual)
	if batch == nil {
		t.Fatal("expected batch")
	}
	want := []string{"e-high", "e-normal", "e-low"}
	for i, id := range want {
		if batch.Events[i].ID != id {
			t.Errorf("event[%d] = %s, want %s", i, batch.Events[i].ID, id)
		}
	}
	if batch.Meta.HighestPriority != "high" {
		t.Errorf("highest priority = %q, want high", batch.Meta.HighestPriority)
	}
}

func TestPriorityMaxDelayFlush(t *testing.T) {
	cfg := testBatchConfig()
	cfg.Priority.Enabled = true
	cfg.Priority.MaxDelayMs = map[string]int{"high": 50, "normal": 1000, "low": 5000}
	b := newTestBatcher(t, cfg)

	ready := make(chan Note, 1)
	b.Subscribe(func(n Note) {
		if n.Kind == NoteBatchReady {
			select {
			case ready <- n:
			default:
			}
		}
	})

	b.AddMessage("conn1", ev("e1", "x"), "high", false)

	select {
	case n := <-ready:
		if n.Batch.Meta.FlushReason != ReasonTime && n.Batch.Meta.FlushReason != ReasonPriority {
			t.Errorf("flush reason = %s", n.Batch.Meta.FlushReason)
		}
		if n.Count != 1 {
			t.Errorf("count = %d, want 1", n.Count)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("high priority item never flushed")
	}
}

func TestForceFlush(t *testing.T) {
	b := newTestBatcher(t, testBatchConfig())
	batch := b.AddMessage("conn1", ev("e1", "x"), "normal", true)
	if batch == nil {
		t.Fatal("expected immediate flush on force")
	}
	if batch.Meta.FlushReason != ReasonPriority {
		t.Errorf("flush reason = %s, want %s", batch.Meta.FlushReason, ReasonPriority)
	}
}

func TestFlushEmptyTargetIsNoop(t *testing.T) {
	b := newTestBatcher(t, testBatchConfig())
	if got := b.FlushBatch("nobody", ReasonManual); got != nil {
		t.Fatalf("expected nil for empty target, got %+v", got)
	}
	m := b.Metrics()
	if m.TotalBatches != 0 {
		t.Errorf("total batches = %d, want 0", m.TotalBatches)
	}
}

func TestManualFlushCancelsTimer(t *testing.T) {
	cfg := testBatchConfig()
	cfg.MaxWaitMs = 50
	b := newTestBatcher(t, cfg)

	var notes []Note
	done := make(chan struct{}, 8)
	b.Subscribe(func(n Note) {
		if n.Kind == NoteBatchReady {
			notes = append(notes, n)
			done <- struct{}{}
		}
	})

	b.AddMessage("conn1", ev("e1", "x"), "", false)
	if batch := b.FlushBatch("conn1", ReasonManual); batch == nil {
		t.Fatal("expected manual flush")
	}
	<-done

	// the armed timer must not produce a second, empty flush
	time.Sleep(150 * time.Millisecond)
	if len(notes) != 1 {
		t.Fatalf("batch-ready notes = %d, want 1", len(notes))
	}
}

func TestSingleTimerPerTarget(t *testing.T) {
	cfg := testBatchConfig()
	cfg.MaxWaitMs = 60000
	b := newTestBatcher(t, cfg)

	b.AddMessage("conn1", ev("e1", "x"), "", false)
	b.AddMessage("conn1", ev("e2", "x"), "", false)

	status := b.QueueStatus()
	if len(status) != 1 {
		t.Fatalf("targets = %d, want 1", len(status))
	}
	if !status[0].TimerArmed {
		t.Error("expected armed timer")
	}
	if status[0].PendingCount != 2 {
		t.Errorf("pending = %d, want 2", status[0].PendingCount)
	}
}

func TestTimerCallbackFromFlushedTargetIgnored(t *testing.T) {
	cfg := testBatchConfig()
	cfg.MaxWaitMs = 60000
	b := newTestBatcher(t, cfg)

	b.AddMessage("conn1", ev("e1", "x"), "", false)
	b.mu.Lock()
	staleGen := b.targets["conn1"].timerGen
	b.mu.Unlock()

	if batch := b.FlushBatch("conn1", ReasonManual); batch == nil {
		t.Fatal("expected batch from manual flush")
	}
	b.AddMessage("conn1", ev("e2", "x"), "", false)

	// a callback whose timer fired before the flush stopped it must not
	// drain the recreated queue
	b.onTimer("conn1", staleGen)
	if got := b.PendingCount("conn1"); got != 1 {
		t.Fatalf("pending = %d, want 1 after callback from a cancelled timer", got)
	}
}

func TestCompressionAboveThreshold(t *testing.T) {
	cfg := testBatchConfig()
	cfg.Compression.Enabled = true
	cfg.Compression.Algorithm = config.AlgorithmGzip
	cfg.Compression.ThresholdBytes = 64
	b := newTestBatcher(t, cfg)

	payload := []byte(`{"text":"` + string(bytes.Repeat([]byte("a"), 2000)) + `"}`)
	e := event.Event{ID: "e1", Type: "doc", Source: "test", Payload: payload}
	batch := b.AddMessage("conn1", e, "", true)
	if batch == nil {
		t.Fatal("expected batch")
	}
	if !batch.Compressed {
		t.Fatal("expected compressed payload")
	}
	if batch.Meta.CompressionRatio <= 1 {
		t.Errorf("compression ratio = %f, want > 1", batch.Meta.CompressionRatio)
	}

	r, err := gzip.NewReader(bytes.NewReader(batch.Payload))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	decompressed, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if len(decompressed) != batch.Meta.OriginalBytes {
		t.Errorf("decompressed = %d bytes, want %d", len(decompressed), batch.Meta.OriginalBytes)
	}
}

func TestCompressionBelowThresholdSkipped(t *testing.T) {
	cfg := testBatchConfig()
	cfg.Compression.Enabled = true
	cfg.Compression.ThresholdBytes = 1 << 20
	b := newTestBatcher(t, cfg)

	batch := b.AddMessage("conn1", ev("e1", "x"), "", true)
	if batch == nil {
		t.Fatal("expected batch")
	}
	if batch.Compressed {
		t.Error("small payload should not be compressed")
	}
}

func TestManualFlushExcludedFromLatency(t *testing.T) {
	b := newTestBatcher(t, testBatchConfig())
	b.AddMessage("conn1", ev("e1", "x"), "", false)
	b.FlushBatch("conn1", ReasonManual)

	m := b.Metrics()
	if m.TotalBatches != 1 {
		t.Fatalf("total batches = %d, want 1", m.TotalBatches)
	}
	if m.LatencyP50Ms != 0 {
		t.Errorf("manual flush recorded in latency percentiles: p50 = %f", m.LatencyP50Ms)
	}
}

func TestSweepExpiresStaleItems(t *testing.T) {
	cfg := testBatchConfig()
	cfg.MaxItemAgeMs = 1000
	b := newTestBatcher(t, cfg)

	base := time.Now()
	b.now = func() time.Time { return base }
	b.AddMessage("conn1", ev("stale", "x"), "", false)

	b.now = func() time.Time { return base.Add(5 * time.Second) }
	b.AddMessage("conn2", ev("fresh", "x"), "", false)

	if removed := b.sweep(); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if got := b.PendingCount("conn1"); got != 0 {
		t.Errorf("conn1 pending = %d, want 0", got)
	}
	if got := b.PendingCount("conn2"); got != 1 {
		t.Errorf("conn2 pending = %d, want 1", got)
	}
}

func TestUpdateConfigRejectsInvalid(t *testing.T) {
	b := newTestBatcher(t, testBatchConfig())

	bad := testBatchConfig()
	bad.MaxBatchSize = 0
	if err := b.UpdateConfig(bad); err == nil {
		t.Fatal("expected validation error")
	}
	if got := b.Config().MaxBatchSize; got != testBatchConfig().MaxBatchSize {
		t.Errorf("config changed after rejected update: maxBatchSize = %d", got)
	}
}

func TestUpdateConfigEnablesAdaptive(t *testing.T) {
	b := newTestBatcher(t, testBatchConfig())
	if b.Metrics().Adaptive != nil {
		t.Fatal("adaptive state present before enabling")
	}

	cfg := testBatchConfig()
	cfg.Strategy = config.StrategyAdaptive
	cfg.Adaptive.Enabled = true
	if err := b.UpdateConfig(cfg); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if b.Metrics().Adaptive == nil {
		t.Fatal("adaptive state missing after enabling")
	}
}

func TestFlushAll(t *testing.T) {
	b := newTestBatcher(t, testBatchConfig())
	b.AddMessage("conn1", ev("e1", "x"), "", false)
	b.AddMessage("conn2", ev("e2", "x"), "", false)

	batches := b.FlushAll(ReasonManual)
	if len(batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(batches))
	}
	if len(b.QueueStatus()) != 0 {
		t.Error("targets remain after FlushAll")
	}
}

func TestShutdownDrains(t *testing.T) {
	b := newTestBatcher(t, testBatchConfig())
	b.Start()

	var sawShutdown bool
	var drained int
	b.Subscribe(func(n Note) {
		switch n.Kind {
		case NoteBatchReady:
			drained += n.Count
		case NoteShutdownComplete:
			sawShutdown = true
		}
	})

	b.AddMessage("conn1", ev("e1", "x"), "", false)
	b.AddMessage("conn1", ev("e2", "x"), "", false)
	b.Shutdown()

	if drained != 2 {
		t.Errorf("drained = %d, want 2", drained)
	}
	if !sawShutdown {
		t.Error("missing shutdown-complete note")
	}
}
