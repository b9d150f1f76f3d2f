package metrics

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Export formats.
const (
	FormatJSON       = "json"
	FormatPrometheus = "prometheus"
	FormatCSV        = "csv"
)

// ErrUnknownFormat is returned for unsupported export formats.
var ErrUnknownFormat = errors.New("unknown export format")

// Export renders the latest snapshot in the requested format.
func (e *Engine) Export(format string) ([]byte, error) {
	snap := e.Latest()
	switch format {
	case FormatJSON:
		return json.MarshalIndent(snap, "", "  ")
	case FormatPrometheus:
		return exportPrometheus(snap), nil
	case FormatCSV:
		return exportCSV(e.History(time.Time{})), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

func exportPrometheus(s Snapshot) []byte {
	var b bytes.Buffer
	writeMetric := func(name, help string, value float64) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s gauge\n%s %s\n", name, help, name, name, formatFloat(value))
	}
	writeMetric("pulse_events_total", "Total events recorded.", float64(s.TotalEvents))
	writeMetric("pulse_errors_total", "Total errors recorded.", float64(s.TotalErrors))
	writeMetric("pulse_error_rate", "Errors over events.", s.ErrorRate)
	writeMetric("pulse_throughput_current", "Events per second since last tick.", s.Throughput.Current)
	writeMetric("pulse_throughput_peak", "Peak events per second.", s.Throughput.Peak)
	writeMetric("pulse_throughput_average", "Average events per second.", s.Throughput.Average)
	writeMetric("pulse_latency_p50_ms", "p50 latency.", s.Latency.P50Ms)
	writeMetric("pulse_latency_p90_ms", "p90 latency.", s.Latency.P90Ms)
	writeMetric("pulse_latency_p95_ms", "p95 latency.", s.Latency.P95Ms)
	writeMetric("pulse_latency_p99_ms", "p99 latency.", s.Latency.P99Ms)
	writeMetric("pulse_active_alerts", "Currently active alerts.", float64(s.Health.ActiveAlerts))

	fmt.Fprintf(&b, "# HELP pulse_events_by_type_total Events recorded per type.\n# TYPE pulse_events_by_type_total gauge\n")
	for _, t := range sortedKeys(s.EventsByType) {
		fmt.Fprintf(&b, "pulse_events_by_type_total{type=%q} %d\n", t, s.EventsByType[t])
	}
	return b.Bytes()
}

func exportCSV(history []Snapshot) []byte {
	var b bytes.Buffer
	b.WriteString("timestamp,total_events,total_errors,error_rate,throughput_current,throughput_peak,throughput_average,latency_p50_ms,latency_p95_ms,latency_p99_ms,health\n")
	for _, s := range history {
		fmt.Fprintf(&b, "%s,%d,%d,%s,%s,%s,%s,%s,%s,%s,%s\n",
			s.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
			s.TotalEvents,
			s.TotalErrors,
			formatFloat(s.ErrorRate),
			formatFloat(s.Throughput.Current),
			formatFloat(s.Throughput.Peak),
			formatFloat(s.Throughput.Average),
			formatFloat(s.Latency.P50Ms),
			formatFloat(s.Latency.P95Ms),
			formatFloat(s.Latency.P99Ms),
			s.Health.Status,
		)
	}
	return b.Bytes()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
