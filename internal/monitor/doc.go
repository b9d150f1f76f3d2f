// Package monitor wires the batcher and its external collaborators
// (connection source, delivery sink, broadcast operations) into the metrics
// engine, maintains Prometheus self-metrics, and runs periodic composite
// health checks.
//
// The monitor subscribes to batcher notifications and translates each into
// metric engine calls; delivery outcomes reported by the transport feed the
// aggregate error rate. The delivery failure policy is explicit: failures
// are either only counted or additionally requeued, per configuration.
package monitor
