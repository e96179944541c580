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

package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/northstarhq/northstar/lib/storage"
	"github.com/northstarhq/northstar/lib/types"
)

func newEvent(t *testing.T, name string, eventType types.EventType, at time.Time, mutate func(*types.Event)) *types.Event {
	t.Helper()
	e := &types.Event{
		Name:      name,
		Type:      eventType,
		Timestamp: at,
	}
	if mutate != nil {
		mutate(e)
	}
	require.NoError(t, e.CheckAndSetDefaults(at))
	return e
}

func TestEventOrderingAndFilters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := New()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var created []*types.Event
	for i := 0; i < 5; i++ {
		e := newEvent(t, "Page Viewed", types.EventTypePageView, base.Add(time.Duration(i)*time.Minute), func(e *types.Event) {
			e.UserID = "user-1"
			e.SessionID = "session-1"
		})
		require.NoError(t, store.Events().Create(ctx, e))
		created = append(created, e)
	}
	other := newEvent(t, "Purchase Completed", types.EventTypePurchase, base.Add(30*time.Second), func(e *types.Event) {
		e.UserID = "user-2"
	})
	require.NoError(t, store.Events().Create(ctx, other))

	asc, err := store.Events().List(ctx, storage.EventFilter{Ascending: true})
	require.NoError(t, err)
	require.Len(t, asc, 6)
	require.Equal(t, created[0].ID, asc[0].ID)
	require.Equal(t, other.ID, asc[1].ID, "the purchase lands between the first and second page view")

	desc, err := store.Events().List(ctx, storage.EventFilter{})
	require.NoError(t, err)
	require.Equal(t, created[4].ID, desc[0].ID)

	windowed, err := store.Events().List(ctx, storage.EventFilter{
		From:      base.Add(time.Minute),
		To:        base.Add(3 * time.Minute),
		Ascending: true,
	})
	require.NoError(t, err)
	require.Len(t, windowed, 3, "the window is closed on both ends")

	byUser, err := store.Events().Count(ctx, storage.EventFilter{UserID: "user-2"})
	require.NoError(t, err)
	require.Equal(t, int64(1), byUser)

	// a non nil empty user set matches nothing
	none, err := store.Events().List(ctx, storage.EventFilter{UserIDs: []string{}})
	require.NoError(t, err)
	require.Empty(t, none)

	some, err := store.Events().List(ctx, storage.EventFilter{UserIDs: []string{"user-2"}})
	require.NoError(t, err)
	require.Len(t, some, 1)

	paged, err := store.Events().List(ctx, storage.EventFilter{Ascending: true, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 2)
	require.Equal(t, other.ID, paged[0].ID)

	distinct, err := store.Events().DistinctUsers(ctx, storage.EventFilter{})
	require.NoError(t, err)
	require.Equal(t, []string{"user-1", "user-2"}, distinct)

	deleted, err := store.Events().DeleteOlderThan(ctx, base.Add(90*time.Second), 10)
	require.NoError(t, err)
	require.Equal(t, int64(3), deleted)

	remaining, err := store.Events().Count(ctx, storage.EventFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(3), remaining)
}

func TestEventProcessedFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := New()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		e := newEvent(t, "Module Opened", types.EventTypeModuleOpen, base.Add(time.Duration(i)*time.Second), nil)
		require.NoError(t, store.Events().Create(ctx, e))
		ids = append(ids, e.ID)
	}

	pending, err := store.Events().GetUnprocessed(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, ids[0], pending[0].ID)
	require.Equal(t, ids[1], pending[1].ID)

	changed, err := store.Events().MarkProcessed(ctx, ids[:2], base.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(2), changed)

	changed, err = store.Events().MarkProcessed(ctx, ids, base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), changed, "already processed events are not counted twice")

	processed, err := store.Events().Get(ctx, ids[0])
	require.NoError(t, err)
	require.True(t, processed.Processed)
	require.NotNil(t, processed.ProcessedAt)
	require.Equal(t, base.Add(time.Minute), *processed.ProcessedAt)
}

func TestCreateBatchAtomicity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := New()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	existing := newEvent(t, "Page Viewed", types.EventTypePageView, base, nil)
	require.NoError(t, store.Events().Create(ctx, existing))

	fresh := newEvent(t, "Page Viewed", types.EventTypePageView, base.Add(time.Second), nil)
	dup := newEvent(t, "Page Viewed", types.EventTypePageView, base.Add(2*time.Second), nil)
	dup.ID = existing.ID

	n, err := store.Events().CreateBatch(ctx, []*types.Event{fresh, dup})
	require.True(t, trace.IsAlreadyExists(err))
	require.Zero(t, n)

	count, err := store.Events().Count(ctx, storage.EventFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(1), count, "a failed batch must not leave partial writes")
}

func TestAggregateByType(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := New()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		e := newEvent(t, "Page Viewed", types.EventTypePageView, base.Add(time.Duration(i)*20*time.Minute), func(e *types.Event) {
			e.UserID = "user-1"
			e.SessionID = "session-1"
		})
		require.NoError(t, store.Events().Create(ctx, e))
	}
	click := newEvent(t, "Button Clicked", types.EventTypeButtonClick, base.Add(10*time.Minute), func(e *types.Event) {
		e.UserID = "user-2"
	})
	require.NoError(t, store.Events().Create(ctx, click))

	buckets, err := store.Events().AggregateByType(ctx, base, base.Add(2*time.Hour), types.PeriodHour, nil)
	require.NoError(t, err)
	require.Len(t, buckets, 3)

	// first hour: one button_click bucket and one page_view bucket, types
	// sorted within the bucket
	require.Equal(t, types.EventTypeButtonClick, buckets[0].Type)
	require.Equal(t, int64(1), buckets[0].Count)
	require.Equal(t, types.EventTypePageView, buckets[1].Type)
	require.Equal(t, int64(3), buckets[1].Count)
	require.Equal(t, int64(1), buckets[1].UniqueUsers)
	require.Equal(t, base, buckets[1].Period)

	require.Equal(t, base.Add(time.Hour), buckets[2].Period)
	require.Equal(t, int64(1), buckets[2].Count)

	_, err = store.Events().AggregateByType(ctx, base, base.Add(time.Hour), types.Period("fortnight"), nil)
	require.True(t, trace.IsBadParameter(err))
}

func TestAggregateByDimension(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := New()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	countries := []string{"DE", "DE", "FR", ""}
	for i, country := range countries {
		e := newEvent(t, "Page Viewed", types.EventTypePageView, base.Add(time.Duration(i)*time.Second), func(e *types.Event) {
			e.UserID = "user-1"
			e.Country = country
		})
		require.NoError(t, store.Events().Create(ctx, e))
	}

	buckets, err := store.Events().AggregateByDimension(ctx, "country", base, base.Add(time.Minute), nil)
	require.NoError(t, err)
	require.Len(t, buckets, 2, "events without the dimension do not contribute")
	require.Equal(t, "DE", buckets[0].Value)
	require.Equal(t, int64(2), buckets[0].Count)

	unknown, err := store.Events().AggregateByDimension(ctx, "shoe_size", base, base.Add(time.Minute), nil)
	require.NoError(t, err)
	require.Empty(t, unknown)
}

func TestUsersEnsureAndStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := New()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Users().Ensure(ctx, "user-1", now))
	require.NoError(t, store.Users().IncrementStats(ctx, "user-1", types.UserStatsDelta{
		Sessions: 1,
		Events:   10,
	}, now.Add(time.Minute)))
	require.NoError(t, store.Users().Ensure(ctx, "user-1", now.Add(time.Hour)))

	user, err := store.Users().Get(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, now, user.FirstSeenAt, "ensure must not reset an existing row")
	require.Equal(t, now.Add(time.Minute), user.LastSeenAt)
	require.Equal(t, int64(1), user.TotalSessions)
	require.Equal(t, int64(10), user.TotalEvents)

	require.NoError(t, store.Users().IncrementStats(ctx, "user-1", types.UserStatsDelta{Events: 1}, now.Add(-time.Hour)))
	user, err = store.Users().Get(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, now.Add(time.Minute), user.LastSeenAt, "last seen only moves forward")

	err = store.Users().IncrementStats(ctx, "user-1", types.UserStatsDelta{Conversions: -1}, now)
	require.True(t, trace.IsBadParameter(err))

	err = store.Users().IncrementStats(ctx, "ghost", types.UserStatsDelta{Events: 1}, now)
	require.True(t, trace.IsNotFound(err))
}

func TestUserExternalIDUniqueness(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := New()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	first := &types.User{ExternalID: "crm-1"}
	require.NoError(t, first.CheckAndSetDefaults(now))
	require.NoError(t, store.Users().Create(ctx, first))

	second := &types.User{ExternalID: "crm-1"}
	require.NoError(t, second.CheckAndSetDefaults(now))
	err := store.Users().Create(ctx, second)
	require.True(t, trace.IsAlreadyExists(err))

	// two anonymous users without external ids are fine
	anonA := &types.User{}
	require.NoError(t, anonA.CheckAndSetDefaults(now))
	require.NoError(t, store.Users().Create(ctx, anonA))
	anonB := &types.User{}
	require.NoError(t, anonB.CheckAndSetDefaults(now))
	require.NoError(t, store.Users().Create(ctx, anonB))

	found, err := store.Users().GetByExternalID(ctx, "crm-1")
	require.NoError(t, err)
	require.Equal(t, first.ID, found.ID)
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := New()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	session := &types.Session{UserID: "user-1", StartedAt: now}
	require.NoError(t, session.CheckAndSetDefaults(now))
	require.NoError(t, store.Sessions().Create(ctx, session))

	updated, err := store.Sessions().RecordActivity(ctx, session.ID, now.Add(10*time.Second), true)
	require.NoError(t, err)
	require.Equal(t, 1, updated.PageViews)
	require.Equal(t, int64(10), updated.DurationSeconds)
	require.True(t, updated.IsBounce)

	updated, err = store.Sessions().RecordActivity(ctx, session.ID, now.Add(45*time.Second), false)
	require.NoError(t, err)
	require.False(t, updated.IsBounce, "forty five seconds of activity is no longer a bounce")

	// stale activity must not move the clock backwards
	updated, err = store.Sessions().RecordActivity(ctx, session.ID, now.Add(20*time.Second), false)
	require.NoError(t, err)
	require.Equal(t, int64(45), updated.DurationSeconds)
	require.Equal(t, 3, updated.EventsCount)

	require.NoError(t, store.Sessions().MarkConverted(ctx, session.ID, 19.90))

	closed, err := store.Sessions().End(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, closed.EndedAt)
	require.Equal(t, now.Add(45*time.Second), *closed.EndedAt)

	again, err := store.Sessions().End(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, *closed.EndedAt, *again.EndedAt)

	after, err := store.Sessions().RecordActivity(ctx, session.ID, now.Add(time.Hour), true)
	require.NoError(t, err)
	require.Equal(t, closed.EventsCount, after.EventsCount, "closed sessions are immutable")

	open := true
	openSessions, err := store.Sessions().List(ctx, storage.SessionFilter{Open: &open})
	require.NoError(t, err)
	require.Empty(t, openSessions)

	agg, err := store.Sessions().Aggregates(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), agg.TotalSessions)
	require.Equal(t, int64(1), agg.ConvertedSessions)
	require.Zero(t, agg.BouncedSessions)
	require.InEpsilon(t, 19.90, agg.TotalConversionValue, 1e-9)
}

func TestIdleSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := New()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, userID := range []string{"a", "b", "c"} {
		s := &types.Session{
			UserID:    userID,
			StartedAt: now.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.CheckAndSetDefaults(now))
		require.NoError(t, store.Sessions().Create(ctx, s))
	}

	idle, err := store.Sessions().ListIdleOpen(ctx, now.Add(90*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, idle, 2)
	require.Equal(t, "a", idle[0].UserID, "oldest first")
	require.Equal(t, "b", idle[1].UserID)

	capped, err := store.Sessions().ListIdleOpen(ctx, now.Add(time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, capped, 1)
}

func TestConversionUniqueness(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := New()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	conversion := &types.GoalConversion{
		GoalID:      "goal-1",
		EventID:     "event-1",
		Value:       10,
		ConvertedAt: now,
	}
	require.NoError(t, conversion.CheckAndSetDefaults(now))
	require.NoError(t, store.Conversions().Create(ctx, conversion))

	dup := &types.GoalConversion{
		GoalID:      "goal-1",
		EventID:     "event-1",
		ConvertedAt: now,
	}
	require.NoError(t, dup.CheckAndSetDefaults(now))
	require.True(t, trace.IsAlreadyExists(store.Conversions().Create(ctx, dup)))

	exists, err := store.Conversions().ExistsForEvent(ctx, "goal-1", "event-1")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = store.Conversions().ExistsForEvent(ctx, "goal-2", "event-1")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestAssignmentUniqueness(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := New()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	test := &types.ABTest{
		Name:    "checkout-button",
		Enabled: true,
		Variants: []types.ABVariant{
			{Name: "control", Weight: 1},
			{Name: "treatment", Weight: 1},
		},
	}
	require.NoError(t, test.CheckAndSetDefaults(now))
	require.NoError(t, store.ABTests().Create(ctx, test))

	assignment := &types.ABAssignment{TestID: test.ID, UserID: "user-1", Variant: "control"}
	require.NoError(t, assignment.CheckAndSetDefaults(now))
	require.NoError(t, store.ABTests().CreateAssignment(ctx, assignment))

	dup := &types.ABAssignment{TestID: test.ID, UserID: "user-1", Variant: "treatment"}
	require.NoError(t, dup.CheckAndSetDefaults(now))
	require.True(t, trace.IsAlreadyExists(store.ABTests().CreateAssignment(ctx, dup)))

	got, err := store.ABTests().GetAssignment(ctx, test.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, "control", got.Variant)

	counts, err := store.ABTests().CountAssignments(ctx, test.ID)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"control": 1}, counts)

	// deleting the test sweeps its assignments
	require.NoError(t, store.ABTests().Delete(ctx, test.ID))
	_, err = store.ABTests().GetAssignment(ctx, test.ID, "user-1")
	require.True(t, trace.IsNotFound(err))
}

func TestWithTxRollback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := New()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	boom := trace.BadParameter("boom")
	err := store.WithTx(ctx, func(tx storage.Store) error {
		e := newEvent(t, "Doomed", types.EventTypeCustom, now, nil)
		if err := tx.Events().Create(ctx, e); err != nil {
			return trace.Wrap(err)
		}
		// the scope observes its own writes
		n, err := tx.Events().Count(ctx, storage.EventFilter{})
		if err != nil {
			return trace.Wrap(err)
		}
		require.Equal(t, int64(1), n)
		return boom
	})
	require.ErrorIs(t, err, boom)

	n, err := store.Events().Count(ctx, storage.EventFilter{})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestWithTxNested(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := New()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	err := store.WithTx(ctx, func(tx storage.Store) error {
		outer := newEvent(t, "Kept", types.EventTypeCustom, now, nil)
		if err := tx.Events().Create(ctx, outer); err != nil {
			return trace.Wrap(err)
		}
		// the failing inner scope rolls back like a savepoint
		inner := tx.WithTx(ctx, func(tx storage.Store) error {
			e := newEvent(t, "Dropped", types.EventTypeCustom, now.Add(time.Second), nil)
			if err := tx.Events().Create(ctx, e); err != nil {
				return trace.Wrap(err)
			}
			return trace.BadParameter("inner boom")
		})
		require.Error(t, inner)
		return nil
	})
	require.NoError(t, err)

	n, err := store.Events().Count(ctx, storage.EventFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestCloneIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := New()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	e := newEvent(t, "Page Viewed", types.EventTypePageView, now, func(e *types.Event) {
		e.Properties = types.Properties{"plan": "free"}
	})
	require.NoError(t, store.Events().Create(ctx, e))

	// mutating the original after the write changes nothing
	e.Properties["plan"] = "pro"
	e.Name = "Tampered"

	got, err := store.Events().Get(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, "Page Viewed", got.Name)
	require.Equal(t, "free", got.Properties.String("plan"))

	// mutating a read result changes nothing either
	got.Properties["plan"] = "enterprise"
	again, err := store.Events().Get(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, "free", again.Properties.String("plan"))
}

func TestExportJobExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := New()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mkJob := func(status types.ExportJobStatus, expiresAt *time.Time) *types.ExportJob {
		j := &types.ExportJob{Type: "events_csv", Status: status, ExpiresAt: expiresAt}
		require.NoError(t, j.CheckAndSetDefaults(now))
		return j
	}
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	expired := mkJob(types.ExportJobCompleted, &past)
	require.NoError(t, store.ExportJobs().Create(ctx, expired))
	require.NoError(t, store.ExportJobs().Create(ctx, mkJob(types.ExportJobCompleted, &future)))
	require.NoError(t, store.ExportJobs().Create(ctx, mkJob(types.ExportJobPending, &past)))

	due, err := store.ExportJobs().ListExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, expired.ID, due[0].ID)
}
