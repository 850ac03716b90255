package network

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRamiBalles/stface-relay/internal/events"
	"github.com/MRamiBalles/stface-relay/internal/platform/logger"
	"github.com/MRamiBalles/stface-relay/internal/platform/metrics"
	"github.com/MRamiBalles/stface-relay/internal/relay"
)

type testEnv struct {
	relay   *relay.Relay
	hub     *Hub
	tickLog *events.TickLog
	server  *Server
	assets  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.Nop()
	m := metrics.New()
	r := relay.New("doom2")
	hub := NewHub(log, m, 16, 16, 0)
	tl := events.NewTickLog(nil, 0)
	assets := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	r.Subscribe(func(_ context.Context, o relay.Outcome) {
		if o.Kind == relay.KindAccepted {
			tl.Append(events.TickEvent{Type: events.EventTypeSampleAccepted, SessionID: o.State.SessionID, Tick: o.State.Tick, Frame: o.State.Frame})
		}
		if o.FrameChanged() {
			hub.BroadcastSnapshot(o.State)
		}
	})

	srv := NewServer(r, hub, NewHistoryHandler(tl, nil, nil, log), m, log, ServerOptions{
		AssetsDir:    assets,
		PollInterval: 100 * time.Millisecond,
	})
	return &testEnv{relay: r, hub: hub, tickLog: tl, server: srv, assets: assets}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthSampleAccepted(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/health-sample", `{"health_percent": 55, "confidence": 0.9}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	state := body["state"].(map[string]interface{})
	assert.Equal(t, "STFOUCH2", state["frame"])
	assert.Equal(t, 55.0, state["health_percent"])
	assert.Equal(t, 2.0, state["health_bucket"])
	assert.Equal(t, true, state["is_pain"])
}

func TestHealthSampleHeld(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/health-sample", `{"health": 5, "confidence": 0.3}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["held"])
	assert.Equal(t, "STFST01", body["state"].(map[string]interface{})["frame"])
}

func TestHealthSampleStringHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/health-sample", `{"state": {"health_percent": "12"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 12, env.relay.Latest().HealthPercent)
}

func TestHealthSampleRejectsBadJSON(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{`{not json`, `[1,2,3]`, `null`, ``} {
		rec := env.do(t, http.MethodPost, "/v1/health-sample", body)
		assert.Equalf(t, http.StatusBadRequest, rec.Code, "body %q", body)
		assert.Equal(t, "invalid json", decodeBody(t, rec)["error"])
	}
	assert.Equal(t, int64(0), env.relay.Latest().Tick)
}

func TestHealthSampleMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/health-sample", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestFaceStateInitial(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/face-state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	body := decodeBody(t, rec)
	for _, field := range []string{"frame", "health_percent", "health_bucket", "look", "is_pain", "updated_at_ms"} {
		assert.Contains(t, body, field)
	}
	assert.Equal(t, "STFST01", body["frame"])
	assert.Equal(t, "center", body["look"])
}

func TestSessionReset(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/v1/health-sample", `{"health": 0}`)
	before, _ := env.relay.Session()

	rec := env.do(t, http.MethodPost, "/v1/session/reset", `{"game_id": "freedoom"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	after, game := env.relay.Session()
	assert.NotEqual(t, before, after)
	assert.Equal(t, "freedoom", game)
	assert.Equal(t, "STFST01", decodeBody(t, rec)["frame"])

	// empty body keeps the game
	rec = env.do(t, http.MethodPost, "/v1/session/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	_, game = env.relay.Session()
	assert.Equal(t, "freedoom", game)
}

func TestFrameAssets(t *testing.T) {
	env := newTestEnv(t)
	png := []byte("\x89PNG\r\n\x1a\nfake")
	require.NoError(t, os.WriteFile(filepath.Join(env.assets, "STFOUCH3.png"), png, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(env.assets, "secret.png"), png, 0o644))

	rec := env.do(t, http.MethodGet, "/STFOUCH3.png", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, png, rec.Body.Bytes())

	for _, target := range []string{"/STFDEAD0.png", "/secret.png", "/STFST53.png", "/STFST00"} {
		rec := env.do(t, http.MethodGet, target, "")
		assert.Equalf(t, http.StatusNotFound, rec.Code, "target %s", target)
	}
	rec = env.do(t, http.MethodGet, "/STFDEAD0.png", "")
	assert.Equal(t, "frame not found", decodeBody(t, rec)["error"])
}

func TestOverlayPage(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/overlay?width=128", "")
	require.Equal(t, http.StatusOK, rec.Code)
	html := rec.Body.String()
	assert.Contains(t, html, "/v1/face-state")
	assert.Regexp(t, `setInterval\(poll,\s*100\s*\)`, html)
	assert.Contains(t, html, "width: 128px")
	assert.Contains(t, html, "STFST01")
}

func TestHistoryFromMemory(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		env.do(t, http.MethodPost, "/v1/health-sample", `{"health": 100}`)
	}

	rec := env.do(t, http.MethodGet, "/v1/history?limit=3", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "memory", resp.Source)
	require.Len(t, resp.Events, 3)
	assert.Equal(t, int64(3), resp.Events[0].Tick)
	assert.Equal(t, int64(5), resp.Events[2].Tick)

	rec = env.do(t, http.MethodGet, "/v1/history?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/history/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody(t, rec)["stats"].(map[string]interface{})
	assert.Equal(t, 5.0, stats["accepted"])

	rec = env.do(t, http.MethodGet, "/v1/sessions", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/v1/health-sample", `{"health": 100}`)

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stface_ws_connections")

	rec = env.do(t, http.MethodGet, "/metrics.json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeBody(t, rec), "samples")
}

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(env.server.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketReceivesInitialAndBroadcastState(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)

	first := readMessage(t, conn)
	assert.Equal(t, MsgTypeFaceState, first.Type)
	assert.Equal(t, "STFST01", first.Payload.(map[string]interface{})["frame"])

	require.Eventually(t, func() bool { return env.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	env.do(t, http.MethodPost, "/v1/health-sample", `{"health": 30}`)

	msg := readMessage(t, conn)
	assert.Equal(t, MsgTypeFaceState, msg.Type)
	assert.Equal(t, "STFOUCH3", msg.Payload.(map[string]interface{})["frame"])
}

func TestWebSocketSubmitsHealthSample(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)
	readMessage(t, conn) // initial state

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":    MsgTypeHealthSample,
		"payload": map[string]interface{}{"health_percent": 90, "confidence": 0.95},
	}))

	// the broadcast and the ack can arrive in either order
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		seen[readMessage(t, conn).Type] = true
	}
	assert.True(t, seen[MsgTypeSampleAck])
	assert.True(t, seen[MsgTypeFaceState])
	assert.Equal(t, 90, env.relay.Latest().HealthPercent)
}

func TestWebSocketIgnoresUnknownTypes(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "DANCE"}))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":    MsgTypeHealthSample,
		"payload": map[string]interface{}{"health": 100},
	}))

	require.Eventually(t, func() bool { return env.relay.Latest().Tick == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubRejectsWhenFull(t *testing.T) {
	env := newTestEnv(t)
	env.hub.maxClients = 1
	dialWS(t, env)
	require.Eventually(t, func() bool { return env.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	rec := env.do(t, http.MethodGet, "/ws", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
