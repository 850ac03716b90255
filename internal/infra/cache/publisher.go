package cache

import (
	"context"
	"sync"
	"time"

	"github.com/MRamiBalles/stface-relay/internal/platform/logger"
	"github.com/MRamiBalles/stface-relay/internal/relay"
)

type pending struct {
	gameID string
	snap   relay.Snapshot
}

// Publisher writes snapshots to the state cache from a background goroutine.
// Only the newest snapshot is kept while a write is in flight.
type Publisher struct {
	cache   *StateCache
	logger  *logger.Logger
	onError func(error)
	timeout time.Duration

	mu      sync.Mutex
	next    *pending
	last    *pending
	newest  *relay.Snapshot
	wake    chan struct{}
	flushed chan struct{}
}

// NewPublisher creates a publisher over cache. onError may be nil.
func NewPublisher(c *StateCache, log *logger.Logger, onError func(error)) *Publisher {
	return &Publisher{
		cache:   c,
		logger:  log,
		onError: onError,
		timeout: 2 * time.Second,
		wake:    make(chan struct{}, 1),
		flushed: make(chan struct{}, 1),
	}
}

// Publish queues snap, replacing anything not yet written. It never blocks.
// A snapshot that is not newer than the last one queued for the same session
// is dropped, since observers may deliver ticks out of order.
func (p *Publisher) Publish(gameID string, snap relay.Snapshot) {
	p.mu.Lock()
	if p.newest != nil && p.newest.SessionID == snap.SessionID && snap.Tick <= p.newest.Tick {
		p.mu.Unlock()
		return
	}
	p.next = &pending{gameID: gameID, snap: snap}
	p.newest = &snap
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run drains queued snapshots until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
			p.drain(ctx)
		}
	}
}

// Refresh rewrites the last published snapshot so its expiration is renewed.
func (p *Publisher) Refresh(ctx context.Context) error {
	p.mu.Lock()
	last := p.last
	p.mu.Unlock()
	if last == nil {
		return nil
	}
	return p.write(ctx, last)
}

// Flushed is signalled after each drained batch. Tests wait on it.
func (p *Publisher) Flushed() <-chan struct{} {
	return p.flushed
}

func (p *Publisher) drain(ctx context.Context) {
	for {
		p.mu.Lock()
		item := p.next
		p.next = nil
		p.mu.Unlock()
		if item == nil {
			break
		}
		if err := p.write(ctx, item); err != nil {
			p.logger.Warn("State cache publish failed: " + err.Error())
			if p.onError != nil {
				p.onError(err)
			}
			continue
		}
		p.mu.Lock()
		p.last = item
		p.mu.Unlock()
	}

	select {
	case p.flushed <- struct{}{}:
	default:
	}
}

func (p *Publisher) write(ctx context.Context, item *pending) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.cache.SetLatest(ctx, item.gameID, item.snap)
}
