package network

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/MRamiBalles/stface-relay/internal/events"
	"github.com/MRamiBalles/stface-relay/internal/infra/storage"
	"github.com/MRamiBalles/stface-relay/internal/platform/logger"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 5000
)

// TickSource is the read side of tick storage used by the history viewer.
type TickSource interface {
	GetBySession(ctx context.Context, sessionID string) ([]storage.TickRecord, error)
	Recent(ctx context.Context, limit int) ([]storage.TickRecord, error)
}

// SessionSource lists stored sessions.
type SessionSource interface {
	List(ctx context.Context, limit int) ([]storage.Session, error)
}

// HistoryHandler provides the tick replay API.
// It reads from SQLite when available and falls back to the in-memory tick log.
type HistoryHandler struct {
	tickLog  *events.TickLog
	ticks    TickSource
	sessions SessionSource
	logger   *logger.Logger
}

// NewHistoryHandler creates a new history handler. ticks and sessions may be nil.
func NewHistoryHandler(tl *events.TickLog, ticks TickSource, sessions SessionSource, log *logger.Logger) *HistoryHandler {
	return &HistoryHandler{
		tickLog:  tl,
		ticks:    ticks,
		sessions: sessions,
		logger:   log,
	}
}

// HistoryResponse is the API response for the replay viewer.
type HistoryResponse struct {
	Source      string             `json:"source"`
	SessionID   string             `json:"session_id,omitempty"`
	TotalEvents int                `json:"total_events"`
	GeneratedAt string             `json:"generated_at"`
	Events      []events.TickEvent `json:"events"`
}

// HandleHistory returns recent tick events.
// GET /v1/history?limit=N&session=ID&type=DAMAGE_TAKEN
func (hh *HistoryHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit, ok := parseLimit(w, r, defaultHistoryLimit)
	if !ok {
		return
	}
	sessionID := r.URL.Query().Get("session")
	eventType := r.URL.Query().Get("type")

	evs, source, err := hh.load(r.Context(), sessionID, limit)
	if err != nil {
		hh.logger.Error("Failed to load tick history", err)
		jsonError(w, "history unavailable", http.StatusInternalServerError)
		return
	}

	filtered := make([]events.TickEvent, 0, len(evs))
	for _, e := range evs {
		if eventType != "" && string(e.Type) != eventType {
			continue
		}
		filtered = append(filtered, e)
	}
	if len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}

	jsonResponse(w, http.StatusOK, HistoryResponse{
		Source:      source,
		SessionID:   sessionID,
		TotalEvents: len(filtered),
		GeneratedAt: time.Now().Format(time.RFC3339),
		Events:      filtered,
	})
}

// HandleStats returns aggregate counts per event type for the retained log.
// GET /v1/history/stats
func (hh *HistoryHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	all := hh.tickLog.Replay()
	stats := map[string]int{
		"total_events":  hh.tickLog.Len(),
		"retained":      len(all),
		"accepted":      0,
		"held":          0,
		"frame_changes": 0,
		"damage":        0,
		"deaths":        0,
	}
	for _, e := range all {
		switch e.Type {
		case events.EventTypeSampleAccepted:
			stats["accepted"]++
		case events.EventTypeSampleHeld:
			stats["held"]++
		case events.EventTypeFrameChanged:
			stats["frame_changes"]++
		case events.EventTypeDamageTaken:
			stats["damage"]++
		case events.EventTypeDeath:
			stats["deaths"]++
		}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"generated_at": time.Now().Format(time.RFC3339),
		"stats":        stats,
	})
}

// HandleSessions lists stored sessions, newest first.
// GET /v1/sessions?limit=N
func (hh *HistoryHandler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if hh.sessions == nil {
		jsonError(w, "session storage disabled", http.StatusNotFound)
		return
	}

	limit, ok := parseLimit(w, r, 0)
	if !ok {
		return
	}
	sessions, err := hh.sessions.List(r.Context(), limit)
	if err != nil {
		hh.logger.Error("Failed to list sessions", err)
		jsonError(w, "sessions unavailable", http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []storage.Session{}
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// parseLimit reads ?limit, capped at maxHistoryLimit. It writes a 400 and
// returns false when the value is not a positive integer.
func parseLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		jsonError(w, "invalid limit", http.StatusBadRequest)
		return 0, false
	}
	return min(n, maxHistoryLimit), true
}

// RegisterRoutes sets up the history routes.
func (hh *HistoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/history", hh.HandleHistory)
	mux.HandleFunc("/v1/history/stats", hh.HandleStats)
	mux.HandleFunc("/v1/sessions", hh.HandleSessions)
}

func (hh *HistoryHandler) load(ctx context.Context, sessionID string, limit int) ([]events.TickEvent, string, error) {
	if hh.ticks == nil {
		if sessionID != "" {
			return hh.tickLog.GetBySession(sessionID), "memory", nil
		}
		return hh.tickLog.Recent(limit), "memory", nil
	}

	var (
		records []storage.TickRecord
		err     error
	)
	if sessionID != "" {
		records, err = hh.ticks.GetBySession(ctx, sessionID)
	} else {
		records, err = hh.ticks.Recent(ctx, limit)
	}
	if err != nil {
		return nil, "", err
	}

	out := make([]events.TickEvent, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.ToEvent())
	}
	return out, "sqlite", nil
}
