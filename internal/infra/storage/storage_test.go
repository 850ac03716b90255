package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRamiBalles/stface-relay/internal/events"
)

func openTestDB(t *testing.T) (*SQLiteSessionRepository, *SQLiteTickRepository) {
	t.Helper()
	db, err := InitSQLite(filepath.Join(t.TempDir(), "nested", "stface.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLiteSessionRepository(db), NewSQLiteTickRepository(db)
}

func TestSessionLifecycle(t *testing.T) {
	sessions, _ := openTestDB(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, sessions.Create(ctx, Session{
		SessionID: "s1", GameID: "doom2", StartedAt: started, ConfidenceThreshold: 0.7,
	}))

	got, err := sessions.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "doom2", got.GameID)
	assert.True(t, started.Equal(got.StartedAt))
	assert.Nil(t, got.EndedAt)

	ended := started.Add(time.Minute)
	require.NoError(t, sessions.End(ctx, "s1", ended))
	got, err = sessions.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
	assert.True(t, ended.Equal(*got.EndedAt))
}

func TestSessionNotFound(t *testing.T) {
	sessions, _ := openTestDB(t)
	ctx := context.Background()

	_, err := sessions.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(sessions.End(ctx, "missing", time.Now()), ErrNotFound))
}

func TestSessionListNewestFirst(t *testing.T) {
	sessions, _ := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, sessions.Create(ctx, Session{
			SessionID: id, GameID: "doom2", StartedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	list, err := sessions.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].SessionID)
	assert.Equal(t, "b", list[1].SessionID)
}

func TestTickAppendAndQuery(t *testing.T) {
	_, ticks := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := int64(1); i <= 4; i++ {
		session := "s1"
		if i == 3 {
			session = "s2"
		}
		require.NoError(t, ticks.Append(ctx, TickRecord{
			ID: session + string(rune('0'+i)), SessionID: session, Tick: i,
			Timestamp: base.Add(time.Duration(i) * time.Millisecond * 100),
			EventType: "SAMPLE_ACCEPTED", HealthPercent: 100 - int(i)*10, Confidence: 0.9,
			HealthBucket: 0, Look: "center", Frame: "STFOUCH0", IsPain: i%2 == 0,
		}))
	}

	bySession, err := ticks.GetBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, bySession, 3)
	assert.Equal(t, int64(1), bySession[0].Tick)
	assert.Equal(t, int64(4), bySession[2].Tick)
	assert.True(t, bySession[1].IsPain)
	assert.Equal(t, "STFOUCH0", bySession[1].Frame)

	recent, err := ticks.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(3), recent[0].Tick)
	assert.Equal(t, int64(4), recent[1].Tick)
}

func TestTicksSortByTickThenEventWithinOneMillisecond(t *testing.T) {
	_, ticks := openTestDB(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// inserted in the scrambled order concurrent writers can produce
	rows := []struct {
		tick int64
		typ  string
	}{
		{2, "FRAME_CHANGED"},
		{1, "SAMPLE_ACCEPTED"},
		{2, "DAMAGE_TAKEN"},
		{2, "SAMPLE_ACCEPTED"},
		{1, "FRAME_CHANGED"},
	}
	for i, row := range rows {
		require.NoError(t, ticks.Append(ctx, TickRecord{
			ID: "e" + string(rune('a'+i)), SessionID: "s1", Tick: row.tick, Timestamp: at, EventType: row.typ,
		}))
	}

	want := []string{"1 SAMPLE_ACCEPTED", "1 FRAME_CHANGED", "2 SAMPLE_ACCEPTED", "2 DAMAGE_TAKEN", "2 FRAME_CHANGED"}
	order := func(recs []TickRecord) []string {
		var out []string
		for _, r := range recs {
			out = append(out, fmt.Sprintf("%d %s", r.Tick, r.EventType))
		}
		return out
	}

	bySession, err := ticks.GetBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, want, order(bySession))

	recent, err := ticks.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, want[2:], order(recent))
}

func TestTickPruneBefore(t *testing.T) {
	_, ticks := openTestDB(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, ticks.Append(ctx, TickRecord{ID: "old", SessionID: "s", Timestamp: now.Add(-48 * time.Hour), EventType: "SAMPLE_ACCEPTED"}))
	require.NoError(t, ticks.Append(ctx, TickRecord{ID: "new", SessionID: "s", Timestamp: now, EventType: "SAMPLE_ACCEPTED"}))

	n, err := ticks.PruneBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := ticks.GetBySession(ctx, "s")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].ID)
}

func TestTickPersisterWritesThroughTickLog(t *testing.T) {
	_, ticks := openTestDB(t)

	var writes int
	persister := NewTickPersister(ticks, func(_ time.Duration, err error) {
		assert.NoError(t, err)
		writes++
	})
	tl := events.NewTickLog(persister, 0)
	tl.Append(events.TickEvent{Type: events.EventTypeDamageTaken, SessionID: "s9", Tick: 7, HealthPercent: 42, Frame: "STFOUCH2", IsPain: true})
	tl.Flush()

	stored, err := ticks.GetBySession(context.Background(), "s9")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 1, writes)

	e := stored[0].ToEvent()
	assert.Equal(t, events.EventTypeDamageTaken, e.Type)
	assert.Equal(t, int64(7), e.Tick)
	assert.Equal(t, 42, e.HealthPercent)
	assert.True(t, e.IsPain)
}
