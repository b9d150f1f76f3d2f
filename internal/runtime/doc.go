// Package runtime wires configuration, the batcher, the metrics engine and
// the monitor into a single process instance. Everything is constructed
// explicitly at process start and injected; there is no shared global
// state.
package runtime
