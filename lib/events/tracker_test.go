/*
 * Northstar
 * Copyright (C) 2025  Northstar Analytics, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/northstarhq/northstar/lib/storage"
	"github.com/northstarhq/northstar/lib/storage/memstore"
	"github.com/northstarhq/northstar/lib/types"
)

func pageView(name string) *types.Event {
	return &types.Event{
		Name:   name,
		Type:   types.EventTypePageView,
		UserID: "user-1",
	}
}

func newTestTracker(t *testing.T, cfg TrackerConfig) (*Tracker, storage.Store) {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = memstore.New()
	}
	tracker, err := NewTracker(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, tracker.Close(false)) })
	return tracker, cfg.Store
}

func storedEvents(t *testing.T, store storage.Store) int64 {
	t.Helper()
	n, err := store.Events().Count(context.Background(), storage.EventFilter{})
	require.NoError(t, err)
	return n
}

func TestTrackerConfigCheckAndSetDefaults(t *testing.T) {
	t.Parallel()

	var empty TrackerConfig
	require.True(t, trace.IsBadParameter(empty.CheckAndSetDefaults()))

	cfg := TrackerConfig{Store: memstore.New()}
	require.NoError(t, cfg.CheckAndSetDefaults())
	require.Equal(t, 1000, cfg.BatchSize)
	require.Equal(t, 10000, cfg.QueueSize)
	require.Equal(t, 5*time.Second, cfg.FlushInterval)
	require.Equal(t, 100*time.Millisecond, cfg.FlushTick)
	require.Equal(t, time.Second, cfg.FlushRetryMax)

	short := TrackerConfig{Store: memstore.New(), BatchSize: 100, QueueSize: 10}
	require.True(t, trace.IsBadParameter(short.CheckAndSetDefaults()))
}

func TestTrackValidation(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	tracker, _ := newTestTracker(t, TrackerConfig{Clock: clock})

	id, err := tracker.Track(pageView("Viewed Pricing"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = tracker.Track(&types.Event{Type: types.EventTypePageView})
	require.True(t, trace.IsBadParameter(err))

	_, err = tracker.Track(&types.Event{Name: "Mystery", Type: types.EventType("levitation")})
	require.True(t, trace.IsBadParameter(err))

	// An event may claim a timestamp slightly ahead of the ingest clock,
	// but not arbitrarily far.
	_, err = tracker.Track(&types.Event{
		Name:      "From The Future",
		Type:      types.EventTypePageView,
		Timestamp: clock.Now().Add(4 * time.Minute),
	})
	require.NoError(t, err)
	_, err = tracker.Track(&types.Event{
		Name:      "From The Far Future",
		Type:      types.EventTypePageView,
		Timestamp: clock.Now().Add(10 * time.Minute),
	})
	require.True(t, trace.IsBadParameter(err))

	stats := tracker.Stats()
	require.Equal(t, int64(2), stats.AcceptedEvents)
	require.Equal(t, int64(3), stats.InvalidEvents)
	require.Equal(t, 2, stats.QueueDepth)
}

func TestFlushDrainsBatches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tracker, store := newTestTracker(t, TrackerConfig{BatchSize: 10, QueueSize: 100})
	require.NoError(t, tracker.Start())

	for i := 0; i < 15; i++ {
		_, err := tracker.Track(pageView("Step"))
		require.NoError(t, err)
	}
	require.Equal(t, 15, tracker.QueueSize())

	// A flush drains at most one batch.
	n, err := tracker.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 10, n)
	require.Equal(t, 5, tracker.QueueSize())

	n, err = tracker.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	n, err = tracker.Flush(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	require.Equal(t, int64(15), storedEvents(t, store))
	require.Equal(t, int64(15), tracker.Stats().FlushedEvents)
}

func TestQueueFullDropsNewest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tracker, _ := newTestTracker(t, TrackerConfig{BatchSize: 5, QueueSize: 5})
	require.NoError(t, tracker.Start())

	for i := 0; i < 5; i++ {
		_, err := tracker.Track(pageView("Fits"))
		require.NoError(t, err)
	}
	_, err := tracker.Track(pageView("Does Not Fit"))
	require.True(t, trace.IsLimitExceeded(err))
	require.Equal(t, int64(1), tracker.Stats().DroppedEvents)

	// A batch that does not fit is dropped whole.
	_, err = tracker.TrackBatch([]*types.Event{pageView("A"), pageView("B")})
	require.True(t, trace.IsLimitExceeded(err))
	require.Equal(t, int64(3), tracker.Stats().DroppedEvents)

	_, err = tracker.Flush(ctx)
	require.NoError(t, err)

	ids, err := tracker.TrackBatch([]*types.Event{pageView("A"), pageView("B")})
	require.NoError(t, err)
	require.Len(t, ids, 2)
}

func TestTrackBatchAllOrNone(t *testing.T) {
	t.Parallel()
	tracker, _ := newTestTracker(t, TrackerConfig{})

	_, err := tracker.TrackBatch([]*types.Event{
		pageView("Valid"),
		{Type: types.EventTypePageView}, // missing name
	})
	require.True(t, trace.IsBadParameter(err))
	require.Zero(t, tracker.QueueSize())
	require.Zero(t, tracker.Stats().AcceptedEvents)
}

// flakyStore fails a configured number of batch writes before recovering.
type flakyStore struct {
	storage.Store

	mu           sync.Mutex
	failuresLeft int
}

func (s *flakyStore) Events() storage.Events {
	return &flakyEvents{Events: s.Store.Events(), s: s}
}

type flakyEvents struct {
	storage.Events
	s *flakyStore
}

func (e *flakyEvents) CreateBatch(ctx context.Context, events []*types.Event) (int, error) {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	if e.s.failuresLeft > 0 {
		e.s.failuresLeft--
		return 0, trace.ConnectionProblem(nil, "store is down")
	}
	return e.Events.CreateBatch(ctx, events)
}

func TestFlushFailureKeepsBatchQueued(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	flaky := &flakyStore{Store: memstore.New(), failuresLeft: 2}
	tracker, _ := newTestTracker(t, TrackerConfig{Store: flaky, BatchSize: 10})
	require.NoError(t, tracker.Start())

	for i := 0; i < 3; i++ {
		_, err := tracker.Track(pageView("Retried"))
		require.NoError(t, err)
	}

	_, err := tracker.Flush(ctx)
	require.Error(t, err)
	// The failed batch stays queued for the next attempt.
	require.Equal(t, 3, tracker.QueueSize())

	_, err = tracker.Flush(ctx)
	require.Error(t, err)

	n, err := tracker.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Zero(t, tracker.QueueSize())
	require.Equal(t, int64(3), storedEvents(t, flaky.Store))
}

func TestBackgroundFlushOnInterval(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	tracker, store := newTestTracker(t, TrackerConfig{BatchSize: 10, Clock: clock})
	require.NoError(t, tracker.Start())

	for i := 0; i < 3; i++ {
		_, err := tracker.Track(pageView("Background"))
		require.NoError(t, err)
	}
	require.Zero(t, storedEvents(t, store))

	// Wait for the flusher to reach its ticker, then move past the flush
	// interval so the next tick triggers a time based flush.
	clock.BlockUntil(1)
	clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool {
		return storedEvents(t, store) == 3
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCloseFlushesRemaining(t *testing.T) {
	t.Parallel()
	store := memstore.New()
	tracker, err := NewTracker(TrackerConfig{Store: store, BatchSize: 10})
	require.NoError(t, err)
	require.NoError(t, tracker.Start())

	for i := 0; i < 7; i++ {
		_, err := tracker.Track(pageView("Final"))
		require.NoError(t, err)
	}

	require.NoError(t, tracker.Close(true))
	require.Equal(t, int64(7), storedEvents(t, store))
	require.Zero(t, tracker.Stats().LostEvents)

	_, err = tracker.Track(pageView("Too Late"))
	require.Error(t, err)
	_, err = tracker.Flush(context.Background())
	require.Error(t, err)
}

func TestCloseDiscardsWhenAsked(t *testing.T) {
	t.Parallel()
	store := memstore.New()
	tracker, err := NewTracker(TrackerConfig{Store: store, BatchSize: 10})
	require.NoError(t, err)
	require.NoError(t, tracker.Start())

	for i := 0; i < 4; i++ {
		_, err := tracker.Track(pageView("Abandoned"))
		require.NoError(t, err)
	}

	require.NoError(t, tracker.Close(false))
	require.Zero(t, storedEvents(t, store))
	require.Equal(t, int64(4), tracker.Stats().LostEvents)
}

// recordingStore captures the order in which events reach the store.
type recordingStore struct {
	storage.Store

	mu    sync.Mutex
	names []string
}

func (s *recordingStore) Events() storage.Events {
	return &recordingEvents{Events: s.Store.Events(), s: s}
}

type recordingEvents struct {
	storage.Events
	s *recordingStore
}

func (e *recordingEvents) CreateBatch(ctx context.Context, events []*types.Event) (int, error) {
	e.s.mu.Lock()
	for _, event := range events {
		e.s.names = append(e.s.names, event.Name)
	}
	e.s.mu.Unlock()
	return e.Events.CreateBatch(ctx, events)
}

func TestEnqueueOrderReachesStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	recording := &recordingStore{Store: memstore.New()}
	tracker, _ := newTestTracker(t, TrackerConfig{Store: recording, BatchSize: 10})
	require.NoError(t, tracker.Start())

	want := []string{"First", "Second", "Third", "Fourth", "Fifth"}
	for _, name := range want {
		_, err := tracker.Track(pageView(name))
		require.NoError(t, err)
	}

	_, err := tracker.Flush(ctx)
	require.NoError(t, err)

	recording.mu.Lock()
	defer recording.mu.Unlock()
	require.Equal(t, want, recording.names)
}

func TestReplayedBatchSkipsDuplicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tracker, store := newTestTracker(t, TrackerConfig{BatchSize: 10})
	require.NoError(t, tracker.Start())

	dupID := uuid.NewString()
	first := pageView("Original")
	first.ID = dupID
	_, err := tracker.TrackBatch([]*types.Event{first})
	require.NoError(t, err)
	n, err := tracker.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// A replay carrying an already persisted id writes only the new event.
	replayed := pageView("Original")
	replayed.ID = dupID
	_, err = tracker.TrackBatch([]*types.Event{replayed, pageView("Fresh")})
	require.NoError(t, err)
	n, err = tracker.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, int64(2), storedEvents(t, store))
}
