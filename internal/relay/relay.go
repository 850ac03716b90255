// Package relay sits between sample producers and the face engine.
// It owns one engine per session, gates low-confidence samples and keeps the
// latest rendered state for display clients.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MRamiBalles/stface-relay/internal/engine"
	"github.com/MRamiBalles/stface-relay/internal/platform/logger"
)

// DefaultConfidenceThreshold is the minimum confidence forwarded to the engine.
const DefaultConfidenceThreshold = 0.70

// Snapshot is the serialized face state served to display clients.
type Snapshot struct {
	Frame         string `json:"frame"`
	HealthPercent int    `json:"health_percent"`
	HealthBucket  int    `json:"health_bucket"`
	Look          string `json:"look"`
	IsPain        bool   `json:"is_pain"`
	UpdatedAtMs   int64  `json:"updated_at_ms"`
	SessionID     string `json:"session_id"`
	Tick          int64  `json:"tick"`
}

// Kind classifies an Outcome.
type Kind string

const (
	KindAccepted       Kind = "accepted"
	KindHeld           Kind = "held"
	KindSessionStarted Kind = "session_started"
)

// Outcome is what a single Submit (or Reset) produced.
type Outcome struct {
	Kind     Kind
	GameID   string
	Sample   Sample
	State    Snapshot
	Previous Snapshot
	Latency  time.Duration
}

// Held reports whether the confidence gate kept the previous state.
func (o Outcome) Held() bool {
	return o.Kind == KindHeld
}

// FrameChanged reports whether the visible frame differs from the previous one.
func (o Outcome) FrameChanged() bool {
	return o.State.Frame != o.Previous.Frame
}

// Observer is notified after every outcome, outside the relay lock.
type Observer func(ctx context.Context, o Outcome)

// Option configures a Relay.
type Option func(*Relay)

// WithClock replaces time.Now for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// WithConfidenceThreshold overrides DefaultConfidenceThreshold.
func WithConfidenceThreshold(threshold float64) Option {
	return func(r *Relay) { r.threshold = threshold }
}

// WithLogger attaches a logger.
func WithLogger(log *logger.Logger) Option {
	return func(r *Relay) { r.logger = log }
}

// Relay serializes access to a single face engine.
type Relay struct {
	mu        sync.RWMutex
	engine    *engine.Engine
	latest    Snapshot
	tick      int64
	sessionID string
	gameID    string

	threshold float64
	now       func() time.Time
	logger    *logger.Logger

	obsMu     sync.RWMutex
	observers []Observer
}

// New creates a relay with a fresh engine and session.
func New(gameID string, opts ...Option) *Relay {
	r := &Relay{
		engine:    engine.NewEngine(),
		gameID:    gameID,
		threshold: DefaultConfidenceThreshold,
		now:       time.Now,
		logger:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.sessionID = uuid.NewString()
	r.latest = r.initialSnapshot()
	return r
}

// Subscribe registers an observer for every subsequent outcome.
func (r *Relay) Subscribe(obs Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.observers = append(r.observers, obs)
}

// Threshold returns the confidence gate.
func (r *Relay) Threshold() float64 {
	return r.threshold
}

// Latest returns a copy of the most recent snapshot.
func (r *Relay) Latest() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// Session returns the current session and game identifiers.
func (r *Relay) Session() (sessionID, gameID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessionID, r.gameID
}

// Submit decodes a raw payload and applies it.
func (r *Relay) Submit(ctx context.Context, payload map[string]interface{}) Outcome {
	return r.SubmitSample(ctx, DecodeSample(payload))
}

// SubmitSample applies one sample. Samples under the confidence threshold
// leave the engine untouched and re-serve the previous state.
func (r *Relay) SubmitSample(ctx context.Context, s Sample) Outcome {
	s.HealthPercent = engine.ClampHealth(s.HealthPercent)

	if s.Confidence < r.threshold {
		r.mu.RLock()
		held, gameID := r.latest, r.gameID
		r.mu.RUnlock()
		out := Outcome{Kind: KindHeld, GameID: gameID, Sample: s, State: held, Previous: held}
		r.notify(ctx, out)
		return out
	}

	start := time.Now()

	r.mu.Lock()
	previous := r.latest
	st := r.engine.Update(s.HealthPercent)
	r.tick++
	r.latest = Snapshot{
		Frame:         st.FrameName,
		HealthPercent: st.HealthPercent,
		HealthBucket:  st.HealthBucket,
		Look:          st.Look.String(),
		IsPain:        st.IsPain,
		UpdatedAtMs:   r.now().UnixMilli(),
		SessionID:     r.sessionID,
		Tick:          r.tick,
	}
	current, gameID := r.latest, r.gameID
	r.mu.Unlock()

	out := Outcome{
		Kind:     KindAccepted,
		GameID:   gameID,
		Sample:   s,
		State:    current,
		Previous: previous,
		Latency:  time.Since(start),
	}
	r.notify(ctx, out)
	return out
}

// Reset ends the current session and starts a new one with a fresh engine.
// An empty gameID keeps the current game.
func (r *Relay) Reset(ctx context.Context, gameID string) Snapshot {
	r.mu.Lock()
	previous := r.latest
	if gameID != "" {
		r.gameID = gameID
	}
	r.engine.Reset()
	r.tick = 0
	r.sessionID = uuid.NewString()
	r.latest = r.initialSnapshot()
	current, game := r.latest, r.gameID
	r.mu.Unlock()

	r.logger.Event("SESSION_STARTED", current.SessionID, "engine reset for "+game)
	r.notify(ctx, Outcome{Kind: KindSessionStarted, GameID: game, State: current, Previous: previous})
	return current
}

func (r *Relay) notify(ctx context.Context, out Outcome) {
	r.obsMu.RLock()
	observers := make([]Observer, len(r.observers))
	copy(observers, r.observers)
	r.obsMu.RUnlock()

	for _, obs := range observers {
		obs(ctx, out)
	}
}

// initialSnapshot is what display clients see before the first sample.
func (r *Relay) initialSnapshot() Snapshot {
	return Snapshot{
		Frame:         engine.StraightFrame(0, engine.LookCenter),
		HealthPercent: engine.InitialHealth,
		HealthBucket:  0,
		Look:          engine.LookCenter.String(),
		IsPain:        false,
		UpdatedAtMs:   r.now().UnixMilli(),
		SessionID:     r.sessionID,
	}
}
