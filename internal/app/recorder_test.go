package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRamiBalles/stface-relay/internal/events"
	"github.com/MRamiBalles/stface-relay/internal/infra/storage"
	"github.com/MRamiBalles/stface-relay/internal/platform/logger"
	"github.com/MRamiBalles/stface-relay/internal/platform/metrics"
	"github.com/MRamiBalles/stface-relay/internal/relay"
)

type fakeSessions struct {
	mu      sync.Mutex
	created []storage.Session
	ended   []string
}

func (f *fakeSessions) Create(_ context.Context, s storage.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, s)
	return nil
}

func (f *fakeSessions) End(_ context.Context, sessionID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, sessionID)
	return nil
}

func (f *fakeSessions) Get(_ context.Context, sessionID string) (*storage.Session, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeSessions) List(_ context.Context, _ int) ([]storage.Session, error) {
	return nil, nil
}

type fakePush struct {
	snaps []relay.Snapshot
	games []string
}

func (f *fakePush) BroadcastSnapshot(snap relay.Snapshot) {
	f.snaps = append(f.snaps, snap)
}

func (f *fakePush) Publish(gameID string, snap relay.Snapshot) {
	f.games = append(f.games, gameID)
}

func newRecorderFixture(t *testing.T) (*relay.Relay, *events.TickLog, *metrics.Collector, *fakeSessions, *fakePush) {
	t.Helper()
	tl := events.NewTickLog(nil, 0)
	m := metrics.New()
	sessions := &fakeSessions{}
	push := &fakePush{}

	r := relay.New("doom2")
	NewRecorder(tl, m, sessions, push, push, r.Threshold(), logger.Nop()).Attach(context.Background(), r)
	return r, tl, m, sessions, push
}

func eventTypes(tl *events.TickLog) []events.EventType {
	var types []events.EventType
	for _, e := range tl.Replay() {
		types = append(types, e.Type)
	}
	return types
}

func TestAttachRecordsCurrentSession(t *testing.T) {
	r, _, _, sessions, _ := newRecorderFixture(t)
	sessionID, _ := r.Session()

	require.Len(t, sessions.created, 1)
	assert.Equal(t, sessionID, sessions.created[0].SessionID)
	assert.Equal(t, "doom2", sessions.created[0].GameID)
	assert.Equal(t, relay.DefaultConfidenceThreshold, sessions.created[0].ConfidenceThreshold)
}

func TestRecorderDamageAndFrameChange(t *testing.T) {
	r, tl, m, _, push := newRecorderFixture(t)
	ctx := context.Background()

	r.Submit(ctx, map[string]interface{}{"health": 100})
	r.Submit(ctx, map[string]interface{}{"health": 60})

	// the first sample keeps the initial STFST01 on screen
	assert.Equal(t, []events.EventType{
		events.EventTypeSampleAccepted,
		events.EventTypeSampleAccepted,
		events.EventTypeDamageTaken,
		events.EventTypeFrameChanged,
	}, eventTypes(tl))

	require.Len(t, push.snaps, 1)
	assert.Equal(t, "STFOUCH1", push.snaps[0].Frame)
	assert.Equal(t, []string{"doom2"}, push.games)
	assert.Equal(t, int64(2), m.SamplesAccepted)
}

func TestRecorderHeldSample(t *testing.T) {
	r, tl, m, _, push := newRecorderFixture(t)

	r.Submit(context.Background(), map[string]interface{}{"health": 12, "confidence": 0.3})

	all := tl.Replay()
	require.Len(t, all, 1)
	assert.Equal(t, events.EventTypeSampleHeld, all[0].Type)
	assert.Equal(t, 12, all[0].HealthPercent)
	assert.Equal(t, "STFST01", all[0].Frame)
	assert.Equal(t, int64(1), m.SamplesHeld)
	assert.Empty(t, push.snaps)
}

func TestRecorderDeathIsLoggedOnce(t *testing.T) {
	r, tl, m, _, _ := newRecorderFixture(t)
	ctx := context.Background()

	r.Submit(ctx, map[string]interface{}{"health": 0})
	r.Submit(ctx, map[string]interface{}{"health": 0})

	deaths := 0
	for _, typ := range eventTypes(tl) {
		if typ == events.EventTypeDeath {
			deaths++
		}
		assert.NotEqual(t, events.EventTypeDamageTaken, typ)
	}
	assert.Equal(t, 1, deaths)
	// the metric agrees with the tick log
	assert.Equal(t, int64(1), m.Deaths)
}

func TestRecorderResetRotatesSession(t *testing.T) {
	r, tl, _, sessions, push := newRecorderFixture(t)
	oldSession, _ := r.Session()

	snap := r.Reset(context.Background(), "freedoom")

	assert.Equal(t, []string{oldSession}, sessions.ended)
	require.Len(t, sessions.created, 2)
	assert.Equal(t, snap.SessionID, sessions.created[1].SessionID)
	assert.Equal(t, "freedoom", sessions.created[1].GameID)

	assert.Equal(t, []events.EventType{events.EventTypeSessionStarted}, eventTypes(tl))
	require.Len(t, push.snaps, 1)
	assert.Equal(t, "STFST01", push.snaps[0].Frame)
	assert.Equal(t, []string{"freedoom"}, push.games)
}

func TestFrameKind(t *testing.T) {
	assert.Equal(t, "dead", frameKind(relay.Snapshot{Frame: "STFDEAD0"}))
	assert.Equal(t, "pain", frameKind(relay.Snapshot{Frame: "STFOUCH2", IsPain: true}))
	assert.Equal(t, "straight", frameKind(relay.Snapshot{Frame: "STFST21"}))
}

func TestRecorderKeepsNewestStateWhenObserversRunOutOfOrder(t *testing.T) {
	tl := events.NewTickLog(nil, 0)
	push := &fakePush{}
	r := relay.New("doom2")
	ctx := context.Background()

	// Registered ahead of the recorder: holds tick 1 until tick 2 has been observed.
	release := make(chan struct{})
	r.Subscribe(func(_ context.Context, o relay.Outcome) {
		if o.State.Tick == 1 {
			<-release
		}
	})
	NewRecorder(tl, metrics.New(), nil, push, push, r.Threshold(), logger.Nop()).Attach(ctx, r)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.Submit(ctx, map[string]interface{}{"health": 50})
	}()
	require.Eventually(t, func() bool { return r.Latest().Tick == 1 }, time.Second, time.Millisecond)

	r.Submit(ctx, map[string]interface{}{"health": 10})
	close(release)
	wg.Wait()
	r.Submit(ctx, map[string]interface{}{"health": 10})

	latest := r.Latest()
	require.Equal(t, int64(3), latest.Tick)
	require.NotEmpty(t, push.snaps)
	last := push.snaps[len(push.snaps)-1]
	assert.Equal(t, latest.Frame, last.Frame)
	assert.Equal(t, "STFOUCH4", last.Frame)
	for _, snap := range push.snaps {
		assert.NotEqual(t, "STFOUCH2", snap.Frame)
	}
}
