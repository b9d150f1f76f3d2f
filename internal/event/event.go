// Package event defines the event shape exchanged between producers, the
// batcher and the metrics engine, plus the target abstraction batches are
// addressed to. Targets are opaque recipient identifiers (a connection id or
// topic name); this subsystem never opens the underlying transport itself.
package event

import (
	"github.com/goccy/go-json"
)

// Event is one domain notification flowing through the batcher.
type Event struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Source        string            `json:"source"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	CausationID   string            `json:"causation_id,omitempty"`
	Payload       json.RawMessage   `json:"payload,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
}

// Target identifies the logical recipient of a batch.
type Target string

// Sink receives finished batches for delivery. Implemented by the transport
// layer; the monitor counts delivery outcomes and applies the configured
// failure policy.
type Sink interface {
	Deliver(target Target, payload []byte, compressed bool) error
}
