// Package cache provides Redis-based caching for quick state reads.
// The cache mirrors the relay's latest snapshot; it is never the source of truth.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MRamiBalles/stface-relay/internal/relay"
)

// ErrCacheMiss is returned when no snapshot is cached for a game.
var ErrCacheMiss = errors.New("cache miss")

// RedisClient is an interface for Redis operations.
// This allows for easy mocking in tests.
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Publish(ctx context.Context, channel string, message interface{}) error
}

// StateCache publishes the latest face snapshot per game.
type StateCache struct {
	client     RedisClient
	expiration time.Duration
}

// NewStateCache creates a state cache. A zero expiration means 15 minutes.
func NewStateCache(client RedisClient, expiration time.Duration) *StateCache {
	if expiration <= 0 {
		expiration = 15 * time.Minute
	}
	return &StateCache{
		client:     client,
		expiration: expiration,
	}
}

// SetLatest caches the snapshot and announces it on the game's frame channel.
func (c *StateCache) SetLatest(ctx context.Context, gameID string, snap relay.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := c.client.Set(ctx, LatestKey(gameID), data, c.expiration); err != nil {
		return fmt.Errorf("failed to cache snapshot: %w", err)
	}
	if err := c.client.Publish(ctx, FramesChannel(gameID), data); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	return nil
}

// GetLatest retrieves the cached snapshot of a game, or ErrCacheMiss.
func (c *StateCache) GetLatest(ctx context.Context, gameID string) (*relay.Snapshot, error) {
	data, err := c.client.Get(ctx, LatestKey(gameID))
	if err != nil {
		return nil, err
	}

	var snap relay.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Invalidate removes the cached snapshot of a game.
func (c *StateCache) Invalidate(ctx context.Context, gameID string) error {
	return c.client.Del(ctx, LatestKey(gameID))
}

// LatestKey generates the Redis key holding a game's latest snapshot.
func LatestKey(gameID string) string {
	return fmt.Sprintf("face:%s:latest", gameID)
}

// FramesChannel is the pub/sub channel announcing frame changes.
func FramesChannel(gameID string) string {
	return fmt.Sprintf("face:%s:frames", gameID)
}
