package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/edgepulse/pulse/internal/batcher"
	"github.com/edgepulse/pulse/internal/config"
	"github.com/edgepulse/pulse/internal/event"
	"github.com/edgepulse/pulse/internal/metrics"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	result := s.rt.Monitor().LastHealth()
	status := http.StatusOK
	if result.Status == metrics.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, result)
}

func (s *Server) handleManualHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.Monitor().HealthCheck())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = metrics.FormatJSON
	}
	data, err := s.rt.Engine().Export(format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	switch format {
	case metrics.FormatJSON:
		w.Header().Set("Content-Type", "application/json")
	case metrics.FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
	default:
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	}
	_, _ = w.Write(data)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		since = t
	}
	writeJSON(w, http.StatusOK, s.rt.Engine().History(since))
}

func (s *Server) handleBatcherMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.Batcher().Metrics())
}

func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := metrics.TraceFilter{
		Status: metrics.TraceStatus(q.Get("status")),
		Type:   q.Get("type"),
		Expr:   q.Get("filter"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		filter.Limit = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		filter.Since = t
	}
	traces, err := s.rt.Engine().GetTraces(filter)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, traces)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.Engine().Alerts())
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.Engine().Rules())
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var rule metrics.AlertRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rt.Engine().AddAlertRule(rule); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.rt.Engine().RemoveAlertRule(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.rt.Engine().ResolveAlert(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.Batcher().QueueStatus())
}

type addEventRequest struct {
	Target   string      `json:"target"`
	Event    event.Event `json:"event"`
	Priority string      `json:"priority"`
	Force    bool        `json:"force"`
}

func (s *Server) handleAddEvent(w http.ResponseWriter, r *http.Request) {
	var req addEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	flushed := s.rt.Batcher().AddMessage(event.Target(req.Target), req.Event, req.Priority, req.Force)
	resp := map[string]any{"pending": s.rt.Batcher().PendingCount(event.Target(req.Target))}
	if flushed != nil {
		resp["batch"] = flushed
	}
	writeJSON(w, http.StatusAccepted, resp)
}

type flushRequest struct {
	Target string `json:"target"`
	All    bool   `json:"all"`
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	var req flushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.All {
		writeJSON(w, http.StatusOK, s.rt.Batcher().FlushAll(batcher.ReasonManual))
		return
	}
	batch := s.rt.Batcher().FlushBatch(event.Target(req.Target), batcher.ReasonManual)
	if batch == nil {
		writeJSON(w, http.StatusOK, map[string]any{"flushed": false})
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.Batcher().Config())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg config.BatchConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rt.Batcher().UpdateConfig(cfg); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, s.rt.Batcher().Config())
}
