package trace

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/NexoWatt/nexowatt-ems/core/dispatch"
	"github.com/NexoWatt/nexowatt-ems/core/dispatch/logging"
	"github.com/NexoWatt/nexowatt-ems/core/model"
)

// StatusProvider exposes the per-unit dispatcher status.
type StatusProvider interface {
	Status() []dispatch.UnitStatus
}

// NewMux registers the trace, summary and status endpoints. Requests must
// include an Authorization header with "Bearer <token>" when token is non-empty.
func NewMux(store logging.LogStore, status StatusProvider, token string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/api/trace", NewTraceHandler(store, token))
	mux.Handle("/api/trace/summary", NewSummaryHandler(store, token))
	mux.Handle("/api/status", NewStatusHandler(status, token))
	return mux
}

// NewTraceHandler returns an HTTP handler exposing decision traces via
// GET /api/trace?start&end&unit_id&source&limit.
func NewTraceHandler(store logging.LogStore, token string) http.Handler {
	return guard(token, func(w http.ResponseWriter, r *http.Request) {
		q, err := parseQuery(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		records, err := store.Query(r.Context(), q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []logging.LogRecord{}
		}
		writeJSON(w, records)
	})
}

// NewSummaryHandler returns the stability summary of the matching traces.
func NewSummaryHandler(store logging.LogStore, token string) http.Handler {
	return guard(token, func(w http.ResponseWriter, r *http.Request) {
		q, err := parseQuery(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		records, err := store.Query(r.Context(), q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, logging.Summarize(records))
	})
}

// NewStatusHandler returns the last cycle and state of every unit.
func NewStatusHandler(p StatusProvider, token string) http.Handler {
	return guard(token, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, p.Status())
	})
}

func guard(token string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func parseQuery(r *http.Request) (logging.LogQuery, error) {
	v := r.URL.Query()
	var q logging.LogQuery
	var err error
	if q.Start, err = parseTime(v.Get("start")); err != nil {
		return q, fmt.Errorf("start: %w", err)
	}
	if q.End, err = parseTime(v.Get("end")); err != nil {
		return q, fmt.Errorf("end: %w", err)
	}
	q.UnitID = v.Get("unit_id")
	if s := v.Get("source"); s != "" {
		src, ok := model.ParseSource(s)
		if !ok {
			return q, fmt.Errorf("unknown source %q", s)
		}
		q.Source = src.String()
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid limit %q", s)
		}
		q.Limit = n
	}
	return q, nil
}

// parseTime accepts RFC 3339 timestamps or unix milliseconds.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Parse(time.RFC3339, s)
}
