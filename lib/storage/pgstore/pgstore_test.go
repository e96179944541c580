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

package pgstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/northstarhq/northstar/lib/storage"
	"github.com/northstarhq/northstar/lib/types"
)

const urlEnvVar = "NORTHSTAR_TEST_PG_URL"

func TestConfigCheckAndSetDefaults(t *testing.T) {
	t.Parallel()

	var empty Config
	require.Error(t, empty.CheckAndSetDefaults())

	cfg := Config{ConnString: "postgres://localhost/northstar"}
	require.NoError(t, cfg.CheckAndSetDefaults())
	require.Equal(t, 20, cfg.PoolSize)
	require.Equal(t, 10, cfg.MaxOverflow)
	require.NotNil(t, cfg.Clock)
	require.NotNil(t, cfg.Logger)

	cfg = Config{ConnString: "postgres://localhost/northstar", PoolSize: 500}
	require.Error(t, cfg.CheckAndSetDefaults())
}

func TestPostgresStore(t *testing.T) {
	connString, ok := os.LookupEnv(urlEnvVar)
	if !ok {
		t.Skipf("Missing %v environment variable.", urlEnvVar)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store, err := New(ctx, Config{ConnString: connString})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	// the subtests expect a blank slate each time
	setup := func(t *testing.T) {
		_, err := store.pool.Exec(ctx, `TRUNCATE events, users, sessions, metrics,
			funnels, goals, ab_tests, cohorts, dashboards, export_jobs CASCADE`)
		require.NoError(t, err)
	}

	t.Run("EventsCRUD", func(t *testing.T) {
		setup(t)
		testEventsCRUD(ctx, t, store)
	})
	t.Run("EventsProcessedFlow", func(t *testing.T) {
		setup(t)
		testEventsProcessedFlow(ctx, t, store)
	})
	t.Run("UsersEnsureAndStats", func(t *testing.T) {
		setup(t)
		testUsersEnsureAndStats(ctx, t, store)
	})
	t.Run("SessionsLifecycle", func(t *testing.T) {
		setup(t)
		testSessionsLifecycle(ctx, t, store)
	})
	t.Run("ConversionUniqueness", func(t *testing.T) {
		setup(t)
		testConversionUniqueness(ctx, t, store)
	})
	t.Run("TxRollback", func(t *testing.T) {
		setup(t)
		testTxRollback(ctx, t, store)
	})
}

func pgNow() time.Time {
	// PostgreSQL stores microseconds, round trips would otherwise lose
	// precision against Go's nanosecond times.
	return time.Now().UTC().Truncate(time.Microsecond)
}

func testEventsCRUD(ctx context.Context, t *testing.T, store *Store) {
	now := pgNow()
	event := &types.Event{
		Name:      "Button Clicked",
		Type:      types.EventTypeButtonClick,
		UserID:    "user-1",
		SessionID: "session-1",
		Module:    "checkout",
		Properties: types.Properties{
			"plan":  "pro",
			"seats": float64(5),
		},
		Timestamp: now,
	}
	require.NoError(t, event.CheckAndSetDefaults(now))
	require.NoError(t, store.Events().Create(ctx, event))

	got, err := store.Events().Get(ctx, event.ID)
	require.NoError(t, err)
	require.Equal(t, event.Name, got.Name)
	require.Equal(t, event.Type, got.Type)
	require.Equal(t, event.Properties, got.Properties)
	require.Equal(t, now, got.Timestamp)

	_, err = store.Events().Get(ctx, "no-such-event")
	require.True(t, trace.IsNotFound(err))

	batch := make([]*types.Event, 0, 5)
	for i := 0; i < 5; i++ {
		e := &types.Event{
			Name:      "Page Viewed",
			Type:      types.EventTypePageView,
			UserID:    "user-2",
			Timestamp: now.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, e.CheckAndSetDefaults(now))
		batch = append(batch, e)
	}
	n, err := store.Events().CreateBatch(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	listed, err := store.Events().List(ctx, storage.EventFilter{
		UserID:    "user-2",
		Ascending: true,
	})
	require.NoError(t, err)
	require.Len(t, listed, 5)
	require.Equal(t, batch[0].ID, listed[0].ID)
	require.Equal(t, batch[4].ID, listed[4].ID)

	count, err := store.Events().Count(ctx, storage.EventFilter{
		Types: []types.EventType{types.EventTypePageView},
	})
	require.NoError(t, err)
	require.Equal(t, int64(5), count)

	users, err := store.Events().DistinctUsers(ctx, storage.EventFilter{})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"user-1", "user-2"}, users)

	deleted, err := store.Events().DeleteOlderThan(ctx, now.Add(time.Minute), 3)
	require.NoError(t, err)
	require.Equal(t, int64(3), deleted)
}

func testEventsProcessedFlow(ctx context.Context, t *testing.T, store *Store) {
	now := pgNow()
	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		e := &types.Event{
			Name:      "Module Opened",
			Type:      types.EventTypeModuleOpen,
			Timestamp: now.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, e.CheckAndSetDefaults(now))
		require.NoError(t, store.Events().Create(ctx, e))
		ids = append(ids, e.ID)
	}

	pending, err := store.Events().GetUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	require.Equal(t, ids[0], pending[0].ID, "unprocessed events must come back oldest first")

	changed, err := store.Events().MarkProcessed(ctx, ids[:2], now)
	require.NoError(t, err)
	require.Equal(t, int64(2), changed)

	// marking again must not double count
	changed, err = store.Events().MarkProcessed(ctx, ids, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), changed)

	pending, err = store.Events().GetUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func testUsersEnsureAndStats(ctx context.Context, t *testing.T, store *Store) {
	now := pgNow()
	require.NoError(t, store.Users().Ensure(ctx, "user-1", now))
	// a second ensure must not reset the row
	require.NoError(t, store.Users().IncrementStats(ctx, "user-1", types.UserStatsDelta{
		Sessions: 1,
		Events:   10,
	}, now.Add(time.Minute)))
	require.NoError(t, store.Users().Ensure(ctx, "user-1", now.Add(time.Hour)))

	user, err := store.Users().Get(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, now, user.FirstSeenAt)
	require.Equal(t, now.Add(time.Minute), user.LastSeenAt)
	require.Equal(t, int64(1), user.TotalSessions)
	require.Equal(t, int64(10), user.TotalEvents)

	// LastSeenAt only moves forward
	require.NoError(t, store.Users().IncrementStats(ctx, "user-1", types.UserStatsDelta{
		Events: 1,
	}, now.Add(-time.Hour)))
	user, err = store.Users().Get(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, now.Add(time.Minute), user.LastSeenAt)

	err = store.Users().IncrementStats(ctx, "user-1", types.UserStatsDelta{Events: -1}, now)
	require.True(t, trace.IsBadParameter(err))

	err = store.Users().IncrementStats(ctx, "no-such-user", types.UserStatsDelta{Events: 1}, now)
	require.True(t, trace.IsNotFound(err))

	ids, err := store.Users().ListIDsFirstSeenBetween(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, []string{"user-1"}, ids)
}

func testSessionsLifecycle(ctx context.Context, t *testing.T, store *Store) {
	now := pgNow()
	session := &types.Session{
		UserID:    "user-1",
		StartedAt: now,
	}
	require.NoError(t, session.CheckAndSetDefaults(now))
	require.NoError(t, store.Sessions().Create(ctx, session))

	updated, err := store.Sessions().RecordActivity(ctx, session.ID, now.Add(10*time.Second), true)
	require.NoError(t, err)
	require.Equal(t, 1, updated.PageViews)
	require.Equal(t, 1, updated.EventsCount)
	require.Equal(t, int64(10), updated.DurationSeconds)
	require.True(t, updated.IsBounce, "one page view under thirty seconds is a bounce")

	updated, err = store.Sessions().RecordActivity(ctx, session.ID, now.Add(45*time.Second), false)
	require.NoError(t, err)
	require.Equal(t, int64(45), updated.DurationSeconds)
	require.False(t, updated.IsBounce)

	require.NoError(t, store.Sessions().MarkConverted(ctx, session.ID, 9.99))

	closed, err := store.Sessions().End(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, closed.EndedAt)
	require.Equal(t, now.Add(45*time.Second), *closed.EndedAt)
	require.True(t, closed.Converted)

	// ending twice is a no-op
	again, err := store.Sessions().End(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, *closed.EndedAt, *again.EndedAt)

	// activity on a closed session leaves it untouched
	after, err := store.Sessions().RecordActivity(ctx, session.ID, now.Add(time.Hour), true)
	require.NoError(t, err)
	require.Equal(t, closed.EventsCount, after.EventsCount)
	require.Equal(t, *closed.EndedAt, *after.EndedAt)

	agg, err := store.Sessions().Aggregates(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), agg.TotalSessions)
	require.Equal(t, int64(1), agg.ConvertedSessions)
	require.InEpsilon(t, 9.99, agg.TotalConversionValue, 1e-9)
}

func testConversionUniqueness(ctx context.Context, t *testing.T, store *Store) {
	now := pgNow()
	goal := &types.Goal{
		Name:      "Purchase",
		Enabled:   true,
		EventType: types.EventTypePurchase,
		Value:     50,
	}
	require.NoError(t, goal.CheckAndSetDefaults(now))
	require.NoError(t, store.Goals().Create(ctx, goal))

	conversion := &types.GoalConversion{
		GoalID:      goal.ID,
		EventID:     "event-1",
		UserID:      "user-1",
		Value:       50,
		ConvertedAt: now,
	}
	require.NoError(t, conversion.CheckAndSetDefaults(now))
	require.NoError(t, store.Conversions().Create(ctx, conversion))

	dup := &types.GoalConversion{
		GoalID:      goal.ID,
		EventID:     "event-1",
		Value:       50,
		ConvertedAt: now,
	}
	require.NoError(t, dup.CheckAndSetDefaults(now))
	err := store.Conversions().Create(ctx, dup)
	require.True(t, trace.IsAlreadyExists(err))

	exists, err := store.Conversions().ExistsForEvent(ctx, goal.ID, "event-1")
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, store.Goals().IncrementConversions(ctx, goal.ID, 50))
	got, err := store.Goals().Get(ctx, goal.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), got.TotalConversions)
	require.InEpsilon(t, 50.0, got.TotalValue, 1e-9)
}

func testTxRollback(ctx context.Context, t *testing.T, store *Store) {
	now := pgNow()
	boom := trace.BadParameter("boom")
	err := store.WithTx(ctx, func(tx storage.Store) error {
		event := &types.Event{Name: "Doomed", Type: types.EventTypeCustom, Timestamp: now}
		if err := event.CheckAndSetDefaults(now); err != nil {
			return trace.Wrap(err)
		}
		if err := tx.Events().Create(ctx, event); err != nil {
			return trace.Wrap(err)
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	count, err := store.Events().Count(ctx, storage.EventFilter{})
	require.NoError(t, err)
	require.Zero(t, count)
}
