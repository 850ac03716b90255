// Package events provides the tick log for the relay.
// This is the audit trail of every sample the relay saw and what face it produced.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType defines the category of a tick event.
type EventType string

const (
	EventTypeSessionStarted EventType = "SESSION_STARTED"
	EventTypeSampleAccepted EventType = "SAMPLE_ACCEPTED"
	EventTypeSampleHeld     EventType = "SAMPLE_HELD"
	EventTypeFrameChanged   EventType = "FRAME_CHANGED"
	EventTypeDamageTaken    EventType = "DAMAGE_TAKEN"
	EventTypeDeath          EventType = "DEATH"
)

// TickEvent represents an immutable record of something the relay did.
type TickEvent struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Type          EventType `json:"type"`
	SessionID     string    `json:"session_id"`
	Tick          int64     `json:"tick"`
	HealthPercent int       `json:"health_percent"`
	Confidence    float64   `json:"confidence"`
	HealthBucket  int       `json:"health_bucket"`
	Look          string    `json:"look,omitempty"`
	Frame         string    `json:"frame,omitempty"`
	IsPain        bool      `json:"is_pain"`
}

// Persister defines how an event is durably stored.
type Persister interface {
	Append(event TickEvent) error
}

// TickLog is the in-memory append-only log of tick events.
// When a capacity is set, the oldest events are dropped first.
type TickLog struct {
	mu        sync.RWMutex
	events    []TickEvent
	dropped   int
	capacity  int
	persister Persister
	onError   func(error)
	wg        sync.WaitGroup
}

// NewTickLog creates a tick log with an optional persister and capacity (0 = unbounded).
func NewTickLog(persister Persister, capacity int) *TickLog {
	return &TickLog{
		events:    make([]TickEvent, 0),
		capacity:  capacity,
		persister: persister,
	}
}

// OnPersistError registers a callback for write-through failures.
func (tl *TickLog) OnPersistError(fn func(error)) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.onError = fn
}

// Append adds a new event to the log. Events are immutable once appended.
// Missing IDs and timestamps are filled in.
func (tl *TickLog) Append(event TickEvent) TickEvent {
	if event.ID == "" {
		event.ID = GenerateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	tl.mu.Lock()
	tl.events = append(tl.events, event)
	if tl.capacity > 0 && len(tl.events) > tl.capacity {
		overflow := len(tl.events) - tl.capacity
		tl.events = append([]TickEvent(nil), tl.events[overflow:]...)
		tl.dropped += overflow
	}
	persister, onError := tl.persister, tl.onError
	tl.mu.Unlock()

	if persister != nil {
		// Write through to persistent storage without blocking the sample path
		tl.wg.Add(1)
		go func(e TickEvent) {
			defer tl.wg.Done()
			if err := persister.Append(e); err != nil && onError != nil {
				onError(err)
			}
		}(event)
	}
	return event
}

// Flush waits for pending write-through calls to finish.
func (tl *TickLog) Flush() {
	tl.wg.Wait()
}

// Len returns the total number of events ever appended, including dropped ones.
func (tl *TickLog) Len() int {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return tl.dropped + len(tl.events)
}

// GetBySession returns the retained events of a session.
func (tl *TickLog) GetBySession(sessionID string) []TickEvent {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	var result []TickEvent
	for _, e := range tl.events {
		if e.SessionID == sessionID {
			result = append(result, e)
		}
	}
	return result
}

// Since returns the events appended after the first n (as counted by Len).
// Events already dropped by the capacity limit are skipped.
func (tl *TickLog) Since(n int) []TickEvent {
	events, _ := tl.Tail(n)
	return events
}

// Tail is Since plus the cursor to pass on the next call, read under one lock.
func (tl *TickLog) Tail(n int) ([]TickEvent, int) {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	cursor := tl.dropped + len(tl.events)
	start := n - tl.dropped
	if start < 0 {
		start = 0
	}
	if start >= len(tl.events) {
		return nil, cursor
	}
	out := make([]TickEvent, len(tl.events)-start)
	copy(out, tl.events[start:])
	return out, cursor
}

// Recent returns up to limit of the newest events, oldest first.
func (tl *TickLog) Recent(limit int) []TickEvent {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	start := 0
	if limit > 0 && len(tl.events) > limit {
		start = len(tl.events) - limit
	}
	out := make([]TickEvent, len(tl.events)-start)
	copy(out, tl.events[start:])
	return out
}

// Replay returns the full retained history of events.
func (tl *TickLog) Replay() []TickEvent {
	return tl.Recent(0)
}

// GenerateEventID creates a unique event identifier.
func GenerateEventID() string {
	return uuid.NewString()
}
