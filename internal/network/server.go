package network

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MRamiBalles/stface-relay/internal/platform/logger"
	"github.com/MRamiBalles/stface-relay/internal/platform/metrics"
	"github.com/MRamiBalles/stface-relay/internal/relay"
)

// maxBodyBytes bounds a single health sample request.
const maxBodyBytes = 64 << 10

// ServerOptions configures the HTTP surface.
type ServerOptions struct {
	AssetsDir           string
	PollInterval        time.Duration
	AllowedOrigins      []string
	MaxSamplesPerSecond int
}

// Server exposes the relay to samplers and display clients over HTTP.
type Server struct {
	relay   *relay.Relay
	hub     *Hub
	history *HistoryHandler
	metrics *metrics.Collector
	logger  *logger.Logger

	assetsDir    string
	pollInterval time.Duration
	maxPerSecond int
	upgrader     websocket.Upgrader
}

// NewServer wires the relay endpoints. history may be nil.
func NewServer(r *relay.Relay, hub *Hub, history *HistoryHandler, m *metrics.Collector, log *logger.Logger, opts ServerOptions) *Server {
	s := &Server{
		relay:        r,
		hub:          hub,
		history:      history,
		metrics:      m,
		logger:       log,
		assetsDir:    opts.AssetsDir,
		pollInterval: opts.PollInterval,
		maxPerSecond: opts.MaxSamplesPerSecond,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return s
}

// Handler returns the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// RegisterRoutes sets up the relay routes.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/health-sample", s.HandleHealthSample)
	mux.HandleFunc("/v1/face-state", s.HandleFaceState)
	mux.HandleFunc("/v1/session/reset", s.HandleSessionReset)
	mux.HandleFunc("/overlay", s.HandleOverlay)
	mux.HandleFunc("/ws", s.HandleWebSocket)
	mux.HandleFunc("/healthz", s.HandleHealthz)
	mux.Handle("/metrics", s.metrics.PrometheusHandler())
	mux.HandleFunc("/metrics.json", s.metrics.JSONHandler())
	if s.history != nil {
		s.history.RegisterRoutes(mux)
	}
	// Everything else is a frame lookup.
	mux.HandleFunc("/", s.HandleFrame)
}

// HandleHealthSample accepts one sample.
// POST /v1/health-sample
func (s *Server) HandleHealthSample(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	payload, err := decodeObject(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		jsonError(w, "invalid json", http.StatusBadRequest)
		return
	}

	out := s.relay.Submit(r.Context(), payload)
	if out.Held() {
		jsonResponse(w, http.StatusAccepted, map[string]interface{}{
			"held":  true,
			"state": out.State,
		})
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"ok":    true,
		"state": out.State,
	})
}

// HandleFaceState returns the latest snapshot.
// GET /v1/face-state
func (s *Server) HandleFaceState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	jsonResponse(w, http.StatusOK, s.relay.Latest())
}

// HandleSessionReset starts a new session with a fresh engine.
// POST /v1/session/reset {"game_id": "..."} (body optional)
func (s *Server) HandleSessionReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		GameID string `json:"game_id"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		jsonError(w, "invalid json", http.StatusBadRequest)
		return
	}

	snap := s.relay.Reset(r.Context(), req.GameID)
	s.logger.Info("Session reset via HTTP: " + snap.SessionID)
	jsonResponse(w, http.StatusOK, snap)
}

// HandleHealthz is a liveness probe.
func (s *Server) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	sessionID, gameID := s.relay.Session()
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"session_id": sessionID,
		"game_id":    gameID,
		"clients":    s.hub.ClientCount(),
	})
}

// HandleWebSocket upgrades the connection and attaches it to the hub.
// GET /ws
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub.Full() {
		jsonError(w, "too many clients", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", err)
		s.metrics.RecordWSError()
		return
	}

	client := NewClient(s.hub, conn, s.relay, s.maxPerSecond)
	// New clients get the current face right away instead of waiting for a change.
	if data, err := encodeMessage(MsgTypeFaceState, s.relay.Latest()); err == nil {
		client.send <- data
	}
	if !client.Register() {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump(context.WithoutCancel(r.Context()))
}

// decodeObject reads a JSON object body. Numbers stay json.Number so health
// strings and numbers go through the same coercion.
func decodeObject(body io.Reader) (map[string]interface{}, error) {
	dec := json.NewDecoder(body)
	dec.UseNumber()

	var payload map[string]interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, errors.New("body is not a json object")
	}
	return payload, nil
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		// Browser sources (OBS) load the overlay from the relay itself or from file://.
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// jsonError sends an error response.
func jsonError(w http.ResponseWriter, message string, status int) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// jsonResponse sends a JSON body with the given status.
func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
