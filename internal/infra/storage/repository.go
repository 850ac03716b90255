// Package storage provides the persistence layer for the relay.
// This package implements the repository pattern so the relay never sees SQL.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("not found")

// Session is one engine lifetime, from relay start or reset to the next reset.
type Session struct {
	SessionID           string     `json:"session_id" db:"session_id"`
	GameID              string     `json:"game_id" db:"game_id"`
	StartedAt           time.Time  `json:"started_at" db:"started_at"`
	EndedAt             *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	ConfidenceThreshold float64    `json:"confidence_threshold" db:"confidence_threshold"`
}

// TickRecord is the persisted form of a tick log event.
type TickRecord struct {
	ID            string    `json:"id" db:"id"`
	SessionID     string    `json:"session_id" db:"session_id"`
	Tick          int64     `json:"tick" db:"tick"`
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`
	EventType     string    `json:"event_type" db:"event_type"`
	HealthPercent int       `json:"health_percent" db:"health_percent"`
	Confidence    float64   `json:"confidence" db:"confidence"`
	HealthBucket  int       `json:"health_bucket" db:"health_bucket"`
	Look          string    `json:"look" db:"look"`
	Frame         string    `json:"frame" db:"frame"`
	IsPain        bool      `json:"is_pain" db:"is_pain"`
}

// SessionRepository defines the interface for session bookkeeping.
type SessionRepository interface {
	// Create records a new session.
	Create(ctx context.Context, s Session) error

	// End stamps the end time of a session.
	End(ctx context.Context, sessionID string, at time.Time) error

	// Get retrieves a session, or ErrNotFound.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// List returns the newest sessions first.
	List(ctx context.Context, limit int) ([]Session, error)
}

// TickRepository defines the interface for tick persistence.
type TickRepository interface {
	// Append adds a tick to the ledger.
	Append(ctx context.Context, t TickRecord) error

	// GetBySession retrieves all ticks of a session in order.
	GetBySession(ctx context.Context, sessionID string) ([]TickRecord, error)

	// Recent returns up to limit of the newest ticks, oldest first.
	Recent(ctx context.Context, limit int) ([]TickRecord, error)

	// PruneBefore deletes ticks older than cutoff and reports how many went.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
