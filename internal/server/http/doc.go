// Package httpserver exposes the ops surface over HTTP: health, metrics
// export (JSON, Prometheus text, CSV), trace queries, alert rule
// administration, queue introspection, manual flushes, event ingestion and
// live config updates. It is a thin translation layer; all behavior lives
// in the batcher and the metrics engine.
package httpserver
