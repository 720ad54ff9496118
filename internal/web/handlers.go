package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cjeanneret/turret/internal/debug"
	"github.com/cjeanneret/turret/internal/journal"
)

// Snapshot is the state reported by GET /status.
type Snapshot struct {
	Yaw            float64 `json:"yaw"`
	Pitch          float64 `json:"pitch"`
	YawDir         int     `json:"yaw_direction"`
	PitchDir       int     `json:"pitch_direction"`
	DegreesPerTick float64 `json:"degrees_per_tick"`
	Safety         string  `json:"safety"`
	TripReason     string  `json:"trip_reason,omitempty"`
	Simulated      bool    `json:"simulated"`
	MotorsEnabled  bool    `json:"motors_enabled"`
	Session        string  `json:"session,omitempty"`
}

// SnapshotFunc assembles the current state.
type SnapshotFunc func() Snapshot

// EventSource lists recent journal events. *journal.Journal satisfies it.
type EventSource interface {
	Recent(limit int) ([]journal.Event, error)
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Snapshot    SnapshotFunc
	Events      EventSource
	Metrics     http.Handler
	Heartbeat   time.Duration
}

// NewHandlers creates handlers with the given dependencies.
// A nil snapshot func makes GET /status return 503; nil events or metrics
// make their routes return 404.
func NewHandlers(broadcaster *StatusBroadcaster, snapshot SnapshotFunc, events EventSource, metrics http.Handler) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Snapshot:    snapshot,
		Events:      events,
		Metrics:     metrics,
		Heartbeat:   30 * time.Second,
	}
}

// HandleStatus returns the current state as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.Snapshot == nil {
		http.Error(w, "status not configured", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.Snapshot())
}

// HandleEvents returns recent journal events, newest first. ?limit= caps
// the count (default 50, max 500).
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, 500)
	}
	events, err := h.Events.Recent(limit)
	if err != nil {
		debug.Warn("journal read: %v", err)
		http.Error(w, "journal unavailable", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []journal.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// HandleMetrics serves the Prometheus exposition.
func (h *Handlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.Metrics == nil {
		http.NotFound(w, r)
		return
	}
	h.Metrics.ServeHTTP(w, r)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(h.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Warn("write json: %v", err)
	}
}
