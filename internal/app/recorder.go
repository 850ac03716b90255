package app

import (
	"context"
	"sync"
	"time"

	"github.com/MRamiBalles/stface-relay/internal/engine"
	"github.com/MRamiBalles/stface-relay/internal/events"
	"github.com/MRamiBalles/stface-relay/internal/infra/storage"
	"github.com/MRamiBalles/stface-relay/internal/platform/logger"
	"github.com/MRamiBalles/stface-relay/internal/platform/metrics"
	"github.com/MRamiBalles/stface-relay/internal/relay"
)

// Broadcaster pushes snapshots to display clients.
type Broadcaster interface {
	BroadcastSnapshot(snap relay.Snapshot)
}

// SnapshotPublisher mirrors snapshots to an external cache.
type SnapshotPublisher interface {
	Publish(gameID string, snap relay.Snapshot)
}

// Recorder turns relay outcomes into tick events, metrics, session rows,
// WebSocket pushes and cache updates. It is registered as a relay observer.
type Recorder struct {
	tickLog   *events.TickLog
	metrics   *metrics.Collector
	sessions  storage.SessionRepository
	hub       Broadcaster
	publisher SnapshotPublisher
	threshold float64
	logger    *logger.Logger

	// pushes are serialized and never go back in time within a session
	pushMu sync.Mutex
	source *relay.Relay
	pushed *relay.Snapshot
}

// NewRecorder creates a recorder. sessions, hub and publisher may be nil.
func NewRecorder(tl *events.TickLog, m *metrics.Collector, sessions storage.SessionRepository,
	hub Broadcaster, publisher SnapshotPublisher, threshold float64, log *logger.Logger) *Recorder {
	return &Recorder{
		tickLog:   tl,
		metrics:   m,
		sessions:  sessions,
		hub:       hub,
		publisher: publisher,
		threshold: threshold,
		logger:    log,
	}
}

// Attach subscribes the recorder and records the relay's current session.
func (rc *Recorder) Attach(ctx context.Context, r *relay.Relay) {
	rc.pushMu.Lock()
	rc.source = r
	rc.pushMu.Unlock()

	sessionID, gameID := r.Session()
	rc.startSession(ctx, sessionID, gameID)
	r.Subscribe(rc.Observe)
}

// Observe implements relay.Observer.
func (rc *Recorder) Observe(ctx context.Context, o relay.Outcome) {
	switch o.Kind {
	case relay.KindHeld:
		rc.metrics.RecordHeld()
		rc.tickLog.Append(tickEvent(events.EventTypeSampleHeld, o))

	case relay.KindAccepted:
		rc.metrics.RecordSample(o.Latency, o.State.HealthPercent)
		rc.metrics.RecordFrame(frameKind(o.State), o.FrameChanged())
		rc.tickLog.Append(tickEvent(events.EventTypeSampleAccepted, o))

		if o.State.HealthPercent < o.Previous.HealthPercent && o.State.HealthPercent > 0 {
			rc.tickLog.Append(tickEvent(events.EventTypeDamageTaken, o))
		}
		if o.State.Frame == engine.DeadFrame && o.Previous.Frame != engine.DeadFrame {
			rc.tickLog.Append(tickEvent(events.EventTypeDeath, o))
			rc.logger.Event("DEATH", o.State.SessionID, "face switched to dead frame")
		}
		if o.FrameChanged() {
			rc.tickLog.Append(tickEvent(events.EventTypeFrameChanged, o))
			rc.push(o.GameID, o.State)
		}

	case relay.KindSessionStarted:
		if rc.sessions != nil && o.Previous.SessionID != "" {
			endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			if err := rc.sessions.End(endCtx, o.Previous.SessionID, time.Now()); err != nil {
				rc.logger.Warn("Failed to close session " + o.Previous.SessionID + ": " + err.Error())
			}
			cancel()
		}
		rc.startSession(ctx, o.State.SessionID, o.GameID)
		rc.tickLog.Append(tickEvent(events.EventTypeSessionStarted, o))
		rc.push(o.GameID, o.State)
	}
}

func (rc *Recorder) startSession(ctx context.Context, sessionID, gameID string) {
	if rc.sessions == nil {
		return
	}
	createCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	err := rc.sessions.Create(createCtx, storage.Session{
		SessionID:           sessionID,
		GameID:              gameID,
		StartedAt:           time.Now(),
		ConfidenceThreshold: rc.threshold,
	})
	if err != nil {
		rc.logger.Error("Failed to record session "+sessionID, err)
	}
}

// push sends the relay's current state rather than the outcome's, because
// observers of concurrent submits can run in either order.
func (rc *Recorder) push(gameID string, snap relay.Snapshot) {
	rc.pushMu.Lock()
	defer rc.pushMu.Unlock()

	if rc.source != nil {
		snap = rc.source.Latest()
	}
	if rc.pushed != nil && rc.pushed.SessionID == snap.SessionID && snap.Tick <= rc.pushed.Tick {
		return
	}
	rc.pushed = &snap

	if rc.hub != nil {
		rc.hub.BroadcastSnapshot(snap)
	}
	if rc.publisher != nil {
		rc.publisher.Publish(gameID, snap)
	}
}

func frameKind(s relay.Snapshot) string {
	switch {
	case s.Frame == engine.DeadFrame:
		return "dead"
	case s.IsPain:
		return "pain"
	default:
		return "straight"
	}
}

func tickEvent(t events.EventType, o relay.Outcome) events.TickEvent {
	e := events.TickEvent{
		Type:          t,
		SessionID:     o.State.SessionID,
		Tick:          o.State.Tick,
		HealthPercent: o.State.HealthPercent,
		Confidence:    o.Sample.Confidence,
		HealthBucket:  o.State.HealthBucket,
		Look:          o.State.Look,
		Frame:         o.State.Frame,
		IsPain:        o.State.IsPain,
	}
	if t == events.EventTypeSampleHeld {
		// Keep what the sampler reported; the frame fields show what stayed on screen.
		e.HealthPercent = o.Sample.HealthPercent
	}
	return e
}
