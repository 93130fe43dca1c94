package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/sawpanic/oppscan/internal/models"
	"github.com/sawpanic/oppscan/internal/session"
)

// SessionManager is the slice of the session manager the API consumes.
type SessionManager interface {
	Initiate(ctx context.Context, userID string, params models.ScanParams) (string, error)
	Status(ctx context.Context, userID, scanID string) (*session.StatusView, error)
	Results(ctx context.Context, userID, scanID string) (*models.ScanSnapshot, error)
}

// Pinger reports result-store liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Stats exposes worker load figures for the health payload.
type Stats interface {
	ActiveScanCount() float64
}

// Handlers implements the HTTP surface.
type Handlers struct {
	sessions SessionManager
	store    Pinger
	stats    Stats
	started  time.Time
}

func NewHandlers(sessions SessionManager, store Pinger, stats Stats) *Handlers {
	return &Handlers{sessions: sessions, store: store, stats: stats, started: time.Now()}
}

type initiateResponse struct {
	ScanID string `json:"scan_id"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

type notReadyResponse struct {
	Status       models.Status `json:"status"`
	RetryAfterMS int           `json:"retry_after_ms"`
}

// Initiate starts a scan and returns its id immediately.
func (h *Handlers) Initiate(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var params models.ScanParams
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
			return
		}
	}

	scanID, err := h.sessions.Initiate(r.Context(), userID, params)
	if err != nil {
		if errors.Is(err, session.ErrNoStrategies) {
			writeError(w, http.StatusUnprocessableEntity, "no_strategies", err.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, "initiate_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, initiateResponse{ScanID: scanID})
}

// Status reports progress for one scan.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	scanID := mux.Vars(r)["id"]

	view, err := h.sessions.Status(r.Context(), userID, scanID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "scan not found or expired")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Results returns the terminal payload, or an explicit not-ready signal while
// the scan is still running, distinct from not-found so clients can tell
// "never existed / expired" from "exists but incomplete".
func (h *Handlers) Results(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	scanID := mux.Vars(r)["id"]

	snap, err := h.sessions.Results(r.Context(), userID, scanID)
	switch {
	case errors.Is(err, session.ErrStillRunning):
		writeJSON(w, http.StatusAccepted, notReadyResponse{
			Status:       models.StatusScanning,
			RetryAfterMS: 1000,
		})
	case err != nil:
		writeError(w, http.StatusNotFound, "not_found", "scan not found or expired")
	default:
		writeJSON(w, http.StatusOK, snap)
	}
}

// Health reports worker and store liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, storeStatus, code := "ok", "up", http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		status, storeStatus, code = "degraded", "down", http.StatusServiceUnavailable
	}

	body := map[string]interface{}{
		"status":         status,
		"store":          storeStatus,
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if h.stats != nil {
		body["active_scans"] = int(h.stats.ActiveScanCount())
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, code, body)
}

// NotFound is the catch-all route.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeError(w, http.StatusNotFound, "unknown_route", r.URL.Path)
}

func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user", "X-User-ID header is required")
		return "", false
	}
	return userID, true
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, kind, message string) {
	writeJSON(w, code, errorResponse{
		Error:     kind,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
