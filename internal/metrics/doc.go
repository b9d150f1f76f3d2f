// Package metrics implements the metrics, tracing and alerting engine.
//
// Producers push counters and latency samples through RecordEvent,
// RecordError and RecordLatency; a periodic aggregation tick folds them into
// a Snapshot (throughput, rank-based latency percentiles, error rate, health
// status) appended to a bounded history ring. Traces are kept for a sampled
// subset of events and evicted by TTL and count. Alert rules are typed
// {metricPath, operator, threshold} conditions evaluated against the latest
// snapshot on a cooldown; alerts resolve only explicitly, never by a metric
// returning to normal.
package metrics
