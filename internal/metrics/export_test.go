package metrics

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/edgepulse/pulse/internal/event"
)

func TestExportJSON(t *testing.T) {
	e := newTestEngine(t, testMetricsConfig())
	e.RecordEvent(event.Event{Type: "click", Source: "web"}, RecordContext{})
	e.Aggregate()

	out, err := e.Export(FormatJSON)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(out, &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.TotalEvents != 1 || snap.EventsByType["click"] != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestExportPrometheus(t *testing.T) {
	e := newTestEngine(t, testMetricsConfig())
	e.RecordEvent(event.Event{Type: "click", Source: "web"}, RecordContext{})
	e.Aggregate()

	out, err := e.Export(FormatPrometheus)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	text := string(out)
	for _, want := range []string{
		"# TYPE pulse_events_total gauge",
		"pulse_events_total 1",
		"pulse_error_rate 0",
		`pulse_events_by_type_total{type="click"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("prometheus output missing %q\n%s", want, text)
		}
	}
}

func TestExportCSV(t *testing.T) {
	e := newTestEngine(t, testMetricsConfig())
	e.RecordEvent(event.Event{Type: "click"}, RecordContext{})
	e.Aggregate()
	e.Aggregate()

	out, err := e.Export(FormatCSV)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) != 3 {
		t.Fatalf("csv lines = %d, want header + 2 rows", len(lines))
	}
	if !strings.HasPrefix(lines[0], "timestamp,total_events") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], ",1,0,") {
		t.Errorf("row = %q", lines[1])
	}
}

func TestExportUnknownFormat(t *testing.T) {
	e := newTestEngine(t, testMetricsConfig())
	if _, err := e.Export("xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
