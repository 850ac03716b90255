package storage

import (
	"context"
	"time"

	"github.com/MRamiBalles/stface-relay/internal/events"
)

// TickPersister bridges the in-memory tick log to a TickRepository.
type TickPersister struct {
	repo    TickRepository
	timeout time.Duration
	observe func(latency time.Duration, err error)
}

// NewTickPersister wraps repo. observe, when set, receives every write result.
func NewTickPersister(repo TickRepository, observe func(time.Duration, error)) *TickPersister {
	return &TickPersister{repo: repo, timeout: 2 * time.Second, observe: observe}
}

// Append implements events.Persister.
func (p *TickPersister) Append(e events.TickEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	start := time.Now()
	err := p.repo.Append(ctx, FromEvent(e))
	if p.observe != nil {
		p.observe(time.Since(start), err)
	}
	return err
}

// FromEvent converts a tick log event to its stored form.
func FromEvent(e events.TickEvent) TickRecord {
	return TickRecord{
		ID:            e.ID,
		SessionID:     e.SessionID,
		Tick:          e.Tick,
		Timestamp:     e.Timestamp,
		EventType:     string(e.Type),
		HealthPercent: e.HealthPercent,
		Confidence:    e.Confidence,
		HealthBucket:  e.HealthBucket,
		Look:          e.Look,
		Frame:         e.Frame,
		IsPain:        e.IsPain,
	}
}

// ToEvent converts a stored tick back to a tick log event.
func (t TickRecord) ToEvent() events.TickEvent {
	return events.TickEvent{
		ID:            t.ID,
		Timestamp:     t.Timestamp,
		Type:          events.EventType(t.EventType),
		SessionID:     t.SessionID,
		Tick:          t.Tick,
		HealthPercent: t.HealthPercent,
		Confidence:    t.Confidence,
		HealthBucket:  t.HealthBucket,
		Look:          t.Look,
		Frame:         t.Frame,
		IsPain:        t.IsPain,
	}
}
