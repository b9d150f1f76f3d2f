// Package batcher implements the event batching core: per-target pending
// queues, flush trigger evaluation, priority ordering, payload compression,
// and the adaptive feedback controller that tunes batch size and wait time
// from observed flush latency.
//
// # Flush triggers
//
// AddMessage evaluates triggers in a fixed precedence:
//
//  1. force=true flushes immediately (reason "priority").
//  2. With priority routing enabled, an oldest item of the added priority
//     past its configured max delay flushes immediately (reason "priority").
//  3. Otherwise a single flush timer is armed per target (reason "time" on
//     expiry). At most one timer is armed per target at any instant.
//  4. After enqueue, reaching the batch-size threshold flushes immediately
//     (reason "size").
//
// A flush atomically drains the target's queues into an immutable Batch;
// no item ever appears in two batches. Items that outlive the configured
// max age are removed by a periodic sweep.
//
// # Concurrency
//
// One mutex guards the target map and per-target state; flush timers
// re-enter through the same flush path, so per-target mutation has a single
// synchronization point. Compression is CPU-bound and runs outside the lock
// behind a bounded semaphore so a large batch never stalls enqueues.
package batcher
