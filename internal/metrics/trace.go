package metrics

import (
	"sort"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"

	"github.com/edgepulse/pulse/internal/event"
)

// Trace statuses.
type TraceStatus string

const (
	TracePending TraceStatus = "pending"
	TraceSuccess TraceStatus = "success"
	TraceError   TraceStatus = "error"
)

// Span is one sub-operation within a trace.
type Span struct {
	SpanID    string            `json:"span_id"`
	Operation string            `json:"operation"`
	Start     time.Time         `json:"start"`
	End       time.Time         `json:"end"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Trace is the recorded timeline of one sampled event.
type Trace struct {
	TraceID   string      `json:"trace_id"`
	ParentID  string      `json:"parent_id,omitempty"`
	EventID   string      `json:"event_id"`
	EventType string      `json:"event_type"`
	Source    string      `json:"source"`
	Start     time.Time   `json:"start"`
	End       time.Time   `json:"end"`
	Status    TraceStatus `json:"status"`
	Spans     []Span      `json:"spans,omitempty"`
}

// TraceFilter selects traces in GetTraces. Expr, when set, is a CEL
// expression over {event_id, event_type, source, status, duration_ms,
// span_count}.
type TraceFilter struct {
	Status TraceStatus
	Type   string
	Since  time.Time
	Limit  int
	Expr   string
}

// StartTrace begins a trace for ev if it wins the sampling draw. It returns
// the trace id and whether the event was sampled; unsampled events still
// count in aggregate metrics but produce no trace.
func (e *Engine) StartTrace(ev event.Event, parentID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rnd.Float64() >= e.cfg.TraceSampleRate {
		return "", false
	}
	t := &Trace{
		TraceID:   uuid.NewString(),
		ParentID:  parentID,
		EventID:   ev.ID,
		EventType: ev.Type,
		Source:    ev.Source,
		Start:     e.now(),
		Status:    TracePending,
	}
	e.traces[t.TraceID] = t
	e.evictTracesLocked()
	return t.TraceID, true
}

// EndTrace finalizes a trace. A nil err marks success.
func (e *Engine) EndTrace(traceID string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.traces[traceID]
	if !ok {
		return
	}
	t.End = e.now()
	if err != nil {
		t.Status = TraceError
	} else {
		t.Status = TraceSuccess
	}
}

// AddSpan appends a sub-operation to an existing trace. Spans beyond the
// per-trace cap are silently dropped.
func (e *Engine) AddSpan(traceID, operation string, start, end time.Time, tags map[string]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.traces[traceID]
	if !ok {
		return
	}
	if e.cfg.MaxSpansPerTrace > 0 && len(t.Spans) >= e.cfg.MaxSpansPerTrace {
		return
	}
	t.Spans = append(t.Spans, Span{
		SpanID:    uuid.NewString(),
		Operation: operation,
		Start:     start,
		End:       end,
		Tags:      tags,
	})
}

// GetTraces returns retained traces matching the filter, newest first.
func (e *Engine) GetTraces(filter TraceFilter) ([]Trace, error) {
	prog, err := compileTraceExpr(filter.Expr)
	if err != nil {
		return nil, err
	}

	// copy while holding the lock; EndTrace and AddSpan mutate the stored
	// structs concurrently
	e.mu.Lock()
	candidates := make([]Trace, 0, len(e.traces))
	for _, t := range e.traces {
		c := *t
		c.Spans = append([]Span(nil), t.Spans...)
		candidates = append(candidates, c)
	}
	e.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Start.After(candidates[j].Start) })

	out := make([]Trace, 0, len(candidates))
	for i := range candidates {
		t := &candidates[i]
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Type != "" && t.EventType != filter.Type {
			continue
		}
		if !filter.Since.IsZero() && t.Start.Before(filter.Since) {
			continue
		}
		if prog != nil && !evalTraceExpr(prog, t) {
			continue
		}
		out = append(out, *t)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// pruneTraces drops traces past the TTL, then evicts oldest-start-first
// down to the count cap.
func (e *Engine) pruneTraces() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ttl := time.Duration(e.cfg.TraceTTLMs) * time.Millisecond; ttl > 0 {
		cutoff := e.now().Add(-ttl)
		for id, t := range e.traces {
			if t.Start.Before(cutoff) {
				delete(e.traces, id)
			}
		}
	}
	e.evictTracesLocked()
}

func (e *Engine) evictTracesLocked() {
	over := len(e.traces) - e.cfg.MaxTraces
	if over <= 0 {
		return
	}
	byStart := make([]*Trace, 0, len(e.traces))
	for _, t := range e.traces {
		byStart = append(byStart, t)
	}
	sort.Slice(byStart, func(i, j int) bool { return byStart[i].Start.Before(byStart[j].Start) })
	for _, t := range byStart[:over] {
		delete(e.traces, t.TraceID)
	}
}

// compileTraceExpr compiles a CEL filter expression; empty input compiles
// to nil (match everything).
func compileTraceExpr(expr string) (cel.Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("event_id", cel.StringType),
		cel.Variable("event_type", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("status", cel.StringType),
		cel.Variable("duration_ms", cel.IntType),
		cel.Variable("span_count", cel.IntType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	return env.Program(ast)
}

func evalTraceExpr(prog cel.Program, t *Trace) bool {
	var durMs int64
	if !t.End.IsZero() {
		durMs = t.End.Sub(t.Start).Milliseconds()
	}
	out, _, err := prog.Eval(map[string]any{
		"event_id":    t.EventID,
		"event_type":  t.EventType,
		"source":      t.Source,
		"status":      string(t.Status),
		"duration_ms": durMs,
		"span_count":  int64(len(t.Spans)),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// TraceCount reports the number of retained traces.
func (e *Engine) TraceCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.traces)
}
