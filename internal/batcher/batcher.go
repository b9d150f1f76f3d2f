package batcher

import (
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/edgepulse/pulse/internal/config"
	"github.com/edgepulse/pulse/internal/event"
	"github.com/edgepulse/pulse/internal/metrics"
	"github.com/edgepulse/pulse/pkg/id"
	logpkg "github.com/edgepulse/pulse/pkg/log"
)

const latencyBufferCap = 1024

// targetState holds one target's pending items and its flush timer. All
// access goes through the Batcher mutex. timerGen is the generation the
// armed timer was issued under; generations come from the batcher-wide
// counter, so a callback from a cancelled timer can never match a state
// recreated after a flush.
type targetState struct {
	queue    []*PendingItem            // insertion order, priority routing off
	queues   map[string][]*PendingItem // per-priority, priority routing on
	count    int
	timer    *time.Timer
	timerGen uint64
}

func (st *targetState) enqueue(item *PendingItem, priorityRouting bool) {
	if priorityRouting {
		if st.queues == nil {
			st.queues = make(map[string][]*PendingItem)
		}
		st.queues[item.Priority] = append(st.queues[item.Priority], item)
	} else {
		st.queue = append(st.queue, item)
	}
	st.count++
}

// oldestOf returns the enqueue time of the oldest pending item with the
// given priority, or the zero time.
func (st *targetState) oldestOf(priority string) time.Time {
	if items := st.queues[priority]; len(items) > 0 {
		return items[0].EnqueuedAt
	}
	return time.Time{}
}

func (st *targetState) oldest() time.Time {
	var oldest time.Time
	consider := func(items []*PendingItem) {
		if len(items) > 0 && (oldest.IsZero() || items[0].EnqueuedAt.Before(oldest)) {
			oldest = items[0].EnqueuedAt
		}
	}
	consider(st.queue)
	for _, items := range st.queues {
		consider(items)
	}
	return oldest
}

// drain removes and returns every pending item. With priority routing the
// result is ordered by ascending rank, insertion order within a tier.
func (st *targetState) drain(prio config.PriorityConfig) []*PendingItem {
	var items []*PendingItem
	if len(st.queue) > 0 {
		items = append(items, st.queue...)
		st.queue = nil
	}
	if len(st.queues) > 0 {
		names := make([]string, 0, len(st.queues))
		for name := range st.queues {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			ri, rj := prio.RankFor(names[i]), prio.RankFor(names[j])
			if ri != rj {
				return ri < rj
			}
			return names[i] < names[j]
		})
		for _, name := range names {
			items = append(items, st.queues[name]...)
		}
		st.queues = nil
	}
	st.count = 0
	return items
}

// expireOlder drops items enqueued before cutoff and returns how many.
func (st *targetState) expireOlder(cutoff time.Time) int {
	removed := 0
	keep := func(items []*PendingItem) []*PendingItem {
		out := items[:0]
		for _, it := range items {
			if it.EnqueuedAt.Before(cutoff) {
				removed++
				continue
			}
			out = append(out, it)
		}
		return out
	}
	st.queue = keep(st.queue)
	for name, items := range st.queues {
		st.queues[name] = keep(items)
		if len(st.queues[name]) == 0 {
			delete(st.queues, name)
		}
	}
	st.count -= removed
	return removed
}

// Batcher accumulates per-target pending items and decides flush timing and
// shape. Construct with New, register observers with Subscribe, then Start.
type Batcher struct {
	mu       sync.Mutex
	cfg      config.BatchConfig
	targets  map[event.Target]*targetState
	timerGen uint64

	adaptive *Controller
	comp     *compressor
	notes    notifier
	ids      *id.Generator
	logger   logpkg.Logger
	now      func() time.Time

	// running statistics, guarded by mu
	totalBatches int64
	totalItems   int64
	avgBatchSize float64
	avgWaitMs    float64
	compBatches  int64
	avgCompRatio float64
	savedBytes   int64
	latencies    []float64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a Batcher from a validated configuration.
func New(cfg config.BatchConfig, logger logpkg.Logger) (*Batcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Batcher{
		cfg:     cfg,
		targets: make(map[event.Target]*targetState),
		ids:     id.NewGenerator(),
		logger:  logger.WithComponent("batcher"),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	b.comp = newCompressor(cfg.Compression.Algorithm)
	if cfg.Strategy == config.StrategyAdaptive && cfg.Adaptive.Enabled {
		b.adaptive = NewController(cfg.Adaptive, cfg.MaxBatchSize, cfg.MaxWait())
	}
	return b, nil
}

// Subscribe registers a notification handler. Handlers run synchronously on
// the emitting goroutine.
func (b *Batcher) Subscribe(h Handler) { b.notes.subscribe(h) }

// Start launches the maintenance loop: periodic expiry sweeps, periodic
// metrics notes, and adaptive learning ticks.
func (b *Batcher) Start() {
	b.wg.Add(1)
	go b.maintain()
}

func (b *Batcher) maintain() {
	defer b.wg.Done()

	b.mu.Lock()
	cleanupEvery := time.Duration(b.cfg.CleanupIntervalMs) * time.Millisecond
	learnEvery := time.Duration(b.cfg.Adaptive.LearningIntervalMs) * time.Millisecond
	b.mu.Unlock()
	if cleanupEvery <= 0 {
		cleanupEvery = time.Minute
	}
	if learnEvery <= 0 {
		learnEvery = 5 * time.Second
	}

	cleanup := time.NewTicker(cleanupEvery)
	defer cleanup.Stop()
	learn := time.NewTicker(learnEvery)
	defer learn.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-cleanup.C:
			if removed := b.sweep(); removed > 0 {
				b.notes.emit(Note{Kind: NoteCleanupPerformed, Count: removed})
			}
			m := b.Metrics()
			b.notes.emit(Note{Kind: NotePeriodicMetrics, Metrics: &m})
		case <-learn.C:
			b.mu.Lock()
			adaptive := b.adaptive
			b.mu.Unlock()
			if adaptive == nil {
				continue
			}
			if adj, changed := adaptive.Learn(); changed {
				b.logger.Debug("adaptive adjustment",
					logpkg.Str("reason", adj.Reason),
					logpkg.F64("observed_latency_ms", adj.ObservedLatencyMs),
					logpkg.Int("batch_size", adj.BatchSize),
					logpkg.Int64("wait_ms", adj.WaitMs),
				)
				b.notes.emit(Note{Kind: NoteAdaptiveAdjustment, Adjustment: &adj})
			}
		}
	}
}

// AddMessage enqueues one event for a target and evaluates flush triggers.
// It returns the flushed batch when the enqueue caused an immediate flush,
// nil otherwise.
func (b *Batcher) AddMessage(target event.Target, ev event.Event, priority string, force bool) *Batch {
	b.mu.Lock()
	cfg := b.cfg
	st, ok := b.targets[target]
	if !ok {
		st = &targetState{}
		b.targets[target] = st
	}
	item := &PendingItem{Event: ev, Priority: priority, EnqueuedAt: b.now(), Target: target}
	st.enqueue(item, cfg.Priority.Enabled)

	if force {
		b.mu.Unlock()
		return b.FlushBatch(target, ReasonPriority)
	}

	if cfg.Priority.Enabled {
		if maxDelay, hasDelay := cfg.Priority.MaxDelayFor(priority); hasDelay {
			if oldest := st.oldestOf(priority); !oldest.IsZero() && b.now().Sub(oldest) >= maxDelay {
				b.mu.Unlock()
				return b.FlushBatch(target, ReasonPriority)
			}
		}
	}

	if st.timer == nil {
		wait := b.flushWaitLocked(cfg, priority)
		b.timerGen++
		gen := b.timerGen
		st.timerGen = gen
		st.timer = time.AfterFunc(wait, func() { b.onTimer(target, gen) })
	}

	threshold := cfg.MaxBatchSize
	if b.adaptive != nil {
		threshold = b.adaptive.BatchSize()
	}
	if st.count >= threshold {
		b.mu.Unlock()
		return b.FlushBatch(target, ReasonSize)
	}
	b.mu.Unlock()
	return nil
}

// flushWaitLocked picks the timer duration: adaptive wait when the adaptive
// strategy is active, else the priority's delay cap, else the global wait.
func (b *Batcher) flushWaitLocked(cfg config.BatchConfig, priority string) time.Duration {
	if b.adaptive != nil {
		return b.adaptive.WaitTime()
	}
	if cfg.Priority.Enabled {
		if d, ok := cfg.Priority.MaxDelayFor(priority); ok {
			return d
		}
	}
	return cfg.MaxWait()
}

func (b *Batcher) onTimer(target event.Target, gen uint64) {
	b.mu.Lock()
	st, ok := b.targets[target]
	if !ok || st.timerGen != gen {
		b.mu.Unlock()
		return
	}
	st.timer = nil
	b.mu.Unlock()
	b.FlushBatch(target, ReasonTime)
}

// FlushBatch finalizes a target's pending items into a Batch. It is a no-op
// returning nil when the target has nothing pending. The target's timer is
// cancelled, the queue cleared atomically with batch construction, and a
// batch-ready note emitted.
func (b *Batcher) FlushBatch(target event.Target, reason FlushReason) *Batch {
	b.mu.Lock()
	st, ok := b.targets[target]
	if !ok || st.count == 0 {
		b.mu.Unlock()
		return nil
	}
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	items := st.drain(b.cfg.Priority)
	delete(b.targets, target)
	cfg := b.cfg
	adaptive := b.adaptive
	b.mu.Unlock()

	batch := b.buildBatch(target, reason, items, cfg)

	waitMs := b.avgItemWaitMs(items)
	if reason != ReasonManual && adaptive != nil {
		adaptive.Observe(time.Duration(waitMs * float64(time.Millisecond)))
	}
	b.recordFlush(batch, waitMs, reason)

	b.notes.emit(Note{Kind: NoteBatchReady, Target: target, Batch: batch, Reason: reason, Count: batch.Meta.Count})
	return batch
}

// FlushAll flushes every target with pending items; used for graceful
// shutdown and manual drains.
func (b *Batcher) FlushAll(reason FlushReason) []*Batch {
	b.mu.Lock()
	targets := make([]event.Target, 0, len(b.targets))
	for t := range b.targets {
		targets = append(targets, t)
	}
	b.mu.Unlock()

	var out []*Batch
	for _, t := range targets {
		if batch := b.FlushBatch(t, reason); batch != nil {
			out = append(out, batch)
		}
	}
	return out
}

func (b *Batcher) buildBatch(target event.Target, reason FlushReason, items []*PendingItem, cfg config.BatchConfig) *Batch {
	events := make([]event.Event, len(items))
	for i, it := range items {
		events[i] = it.Event
	}
	payload, err := json.Marshal(events)
	if err != nil {
		// events are plain structs; marshal failure would be a programming
		// error, but never drop the batch over it
		b.logger.Error("batch serialization failed", logpkg.Err(err))
		payload = []byte("[]")
	}

	batch := &Batch{
		ID:      b.ids.Next().String(),
		Target:  target,
		Events:  events,
		Payload: payload,
		Meta: BatchMeta{
			Count:         len(items),
			CreatedAt:     b.now(),
			FlushReason:   reason,
			OriginalBytes: len(payload),
		},
	}
	if cfg.Priority.Enabled && len(items) > 0 {
		batch.Meta.HighestPriority = items[0].Priority
	}

	if cfg.Compression.Enabled && len(payload) > cfg.Compression.ThresholdBytes {
		compressed, cerr := b.comp.Compress(payload)
		if cerr != nil {
			b.logger.Warn("compression failed, delivering uncompressed",
				logpkg.Str("target", string(target)), logpkg.Err(cerr))
			b.notes.emit(Note{Kind: NoteCompressionError, Target: target, Err: cerr})
		} else {
			batch.Payload = compressed
			batch.Compressed = true
			batch.Meta.CompressedBytes = len(compressed)
			batch.Meta.CompressionRatio = float64(len(payload)) / float64(len(compressed))
		}
	}
	return batch
}

func (b *Batcher) avgItemWaitMs(items []*PendingItem) float64 {
	if len(items) == 0 {
		return 0
	}
	now := b.now()
	var sum float64
	for _, it := range items {
		sum += float64(now.Sub(it.EnqueuedAt).Microseconds()) / 1000.0
	}
	return sum / float64(len(items))
}

func (b *Batcher) recordFlush(batch *Batch, waitMs float64, reason FlushReason) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalBatches++
	b.totalItems += int64(batch.Meta.Count)
	b.avgBatchSize += (float64(batch.Meta.Count) - b.avgBatchSize) / float64(b.totalBatches)
	b.avgWaitMs += (waitMs - b.avgWaitMs) / float64(b.totalBatches)
	if batch.Compressed {
		b.compBatches++
		b.avgCompRatio += (batch.Meta.CompressionRatio - b.avgCompRatio) / float64(b.compBatches)
		b.savedBytes += int64(batch.Meta.OriginalBytes - batch.Meta.CompressedBytes)
	}
	if reason != ReasonManual {
		b.latencies = append(b.latencies, waitMs)
		if len(b.latencies) > latencyBufferCap {
			b.latencies = b.latencies[len(b.latencies)-latencyBufferCap:]
		}
	}
}

// sweep expires items older than the configured max age.
func (b *Batcher) sweep() int {
	b.mu.Lock()
	cutoff := b.now().Add(-time.Duration(b.cfg.MaxItemAgeMs) * time.Millisecond)
	removed := 0
	for target, st := range b.targets {
		removed += st.expireOlder(cutoff)
		if st.count == 0 {
			if st.timer != nil {
				st.timer.Stop()
				st.timer = nil
			}
			delete(b.targets, target)
		}
	}
	b.mu.Unlock()
	if removed > 0 {
		b.logger.Info("expired stale pending items", logpkg.Int("count", removed))
	}
	return removed
}

// Metrics returns a snapshot of batcher statistics including latency
// percentiles and, when active, adaptive controller state.
func (b *Batcher) Metrics() Metrics {
	b.mu.Lock()
	m := Metrics{
		TotalBatches:          b.totalBatches,
		TotalItems:            b.totalItems,
		AvgBatchSize:          b.avgBatchSize,
		AvgWaitMs:             b.avgWaitMs,
		AvgCompressionRatio:   b.avgCompRatio,
		CompressionSavedBytes: b.savedBytes,
	}
	lat := make([]float64, len(b.latencies))
	copy(lat, b.latencies)
	adaptive := b.adaptive
	b.mu.Unlock()

	m.LatencyP50Ms = metrics.Percentile(lat, 0.50)
	m.LatencyP90Ms = metrics.Percentile(lat, 0.90)
	m.LatencyP95Ms = metrics.Percentile(lat, 0.95)
	m.LatencyP99Ms = metrics.Percentile(lat, 0.99)
	if adaptive != nil {
		state := adaptive.Snapshot()
		m.Adaptive = &state
	}
	return m
}

// Config returns a copy of the current batch configuration.
func (b *Batcher) Config() config.BatchConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// UpdateConfig validates and applies a new batch configuration. Invalid
// configs are rejected and the prior configuration stays in force.
func (b *Batcher) UpdateConfig(cfg config.BatchConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	prevAlg := b.cfg.Compression.Algorithm
	b.cfg = cfg
	if cfg.Compression.Algorithm != prevAlg {
		b.comp = newCompressor(cfg.Compression.Algorithm)
	}
	if cfg.Strategy == config.StrategyAdaptive && cfg.Adaptive.Enabled {
		if b.adaptive == nil {
			b.adaptive = NewController(cfg.Adaptive, cfg.MaxBatchSize, cfg.MaxWait())
		}
	} else {
		b.adaptive = nil
	}
	b.mu.Unlock()

	b.notes.emit(Note{Kind: NoteConfigUpdated})
	b.logger.Info("batch configuration updated", logpkg.Str("strategy", string(cfg.Strategy)))
	return nil
}

// PendingCount returns the number of pending items for one target.
func (b *Batcher) PendingCount(target event.Target) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.targets[target]; ok {
		return st.count
	}
	return 0
}

// QueueStatus reports pending state for every known target.
func (b *Batcher) QueueStatus() []QueueStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]QueueStatus, 0, len(b.targets))
	for target, st := range b.targets {
		qs := QueueStatus{
			Target:       target,
			PendingCount: st.count,
			TimerArmed:   st.timer != nil,
			OldestAt:     st.oldest(),
		}
		if len(st.queues) > 0 {
			qs.ByPriority = make(map[string]int, len(st.queues))
			for name, items := range st.queues {
				qs.ByPriority[name] = len(items)
			}
		}
		out = append(out, qs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

// Shutdown drains every target, stops the maintenance loop, cancels all
// timers and emits a shutdown-complete note. Safe to call once.
func (b *Batcher) Shutdown() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()

	b.FlushAll(ReasonManual)

	b.mu.Lock()
	for target, st := range b.targets {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		delete(b.targets, target)
	}
	b.mu.Unlock()

	b.notes.emit(Note{Kind: NoteShutdownComplete})
	b.logger.Info("batcher shut down")
}
