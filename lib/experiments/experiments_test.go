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

package experiments

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/northstarhq/northstar/lib/storage"
	"github.com/northstarhq/northstar/lib/storage/memstore"
	"github.com/northstarhq/northstar/lib/types"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type recordedEvents struct {
	events []*types.Event
}

func (r *recordedEvents) Track(event *types.Event) (string, error) {
	r.events = append(r.events, event)
	return event.ID, nil
}

func newService(t *testing.T, recorder Recorder) (*Service, storage.Store) {
	t.Helper()
	store := memstore.New()
	service, err := New(Config{
		Store:    store,
		Recorder: recorder,
		Clock:    clockwork.NewFakeClockAt(base),
	})
	require.NoError(t, err)
	return service, store
}

func addTest(t *testing.T, store storage.Store, enabled bool, variants ...types.ABVariant) *types.ABTest {
	t.Helper()
	test := &types.ABTest{Name: "checkout flow", Enabled: enabled, Variants: variants}
	require.NoError(t, test.CheckAndSetDefaults(base))
	require.NoError(t, store.ABTests().Create(context.Background(), test))
	return test
}

func evenSplit() []types.ABVariant {
	return []types.ABVariant{
		{Name: "control", Weight: 1},
		{Name: "treatment", Weight: 1},
	}
}

func TestAssignIsSticky(t *testing.T) {
	service, store := newService(t, nil)
	ctx := context.Background()

	test := addTest(t, store, true, evenSplit()...)

	first, err := service.Assign(ctx, test.ID, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, first.Variant)

	second, err := service.Assign(ctx, test.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.Variant, second.Variant)

	variant, err := service.Variant(ctx, test.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, first.Variant, variant)
}

func TestAssignIsDeterministic(t *testing.T) {
	serviceA, storeA := newService(t, nil)
	serviceB, storeB := newService(t, nil)
	ctx := context.Background()

	// The same test id on two independent stores: both processes compute
	// the same variant without coordination.
	test := &types.ABTest{ID: "t-fixed", Name: "fixed", Enabled: true, Variants: evenSplit()}
	require.NoError(t, test.CheckAndSetDefaults(base))
	require.NoError(t, storeA.ABTests().Create(ctx, test))
	require.NoError(t, storeB.ABTests().Create(ctx, test))

	for i := 0; i < 20; i++ {
		user := fmt.Sprintf("user%02d", i)
		a, err := serviceA.Assign(ctx, test.ID, user)
		require.NoError(t, err)
		b, err := serviceB.Assign(ctx, test.ID, user)
		require.NoError(t, err)
		require.Equal(t, a.Variant, b.Variant, "user %v", user)
	}
}

func TestAssignRespectsWeights(t *testing.T) {
	service, store := newService(t, nil)
	ctx := context.Background()

	test := addTest(t, store, true,
		types.ABVariant{Name: "control", Weight: 9},
		types.ABVariant{Name: "treatment", Weight: 1},
	)

	counts := make(map[string]int)
	for i := 0; i < 1000; i++ {
		assignment, err := service.Assign(ctx, test.ID, fmt.Sprintf("user%04d", i))
		require.NoError(t, err)
		counts[assignment.Variant]++
	}

	// A 9:1 split over a thousand users; the hash is not a perfect
	// sampler, so allow a generous band.
	require.Greater(t, counts["control"], 850)
	require.Less(t, counts["treatment"], 150)
	require.Greater(t, counts["treatment"], 50)

	results, err := service.Results(ctx, test.ID)
	require.NoError(t, err)
	require.Equal(t, int64(counts["control"]), results["control"])
	require.Equal(t, int64(counts["treatment"]), results["treatment"])
}

func TestAssignInactiveTests(t *testing.T) {
	service, store := newService(t, nil)
	ctx := context.Background()

	disabled := addTest(t, store, false, evenSplit()...)
	_, err := service.Assign(ctx, disabled.ID, "alice")
	require.True(t, trace.IsNotFound(err))

	ended := &types.ABTest{Name: "over", Enabled: true, Variants: evenSplit()}
	endedAt := base.Add(-time.Hour)
	ended.EndedAt = &endedAt
	require.NoError(t, ended.CheckAndSetDefaults(base))
	require.NoError(t, store.ABTests().Create(ctx, ended))
	_, err = service.Assign(ctx, ended.ID, "alice")
	require.True(t, trace.IsNotFound(err))

	_, err = service.Assign(ctx, "no-such-test", "alice")
	require.True(t, trace.IsNotFound(err))

	// An existing assignment still resolves after the test is disabled.
	active := addTest(t, store, true, evenSplit()...)
	assignment, err := service.Assign(ctx, active.ID, "bob")
	require.NoError(t, err)
	active.Enabled = false
	require.NoError(t, store.ABTests().Update(ctx, active))
	again, err := service.Assign(ctx, active.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, assignment.Variant, again.Variant)
}

func TestAssignValidation(t *testing.T) {
	service, _ := newService(t, nil)
	ctx := context.Background()

	_, err := service.Assign(ctx, "", "alice")
	require.True(t, trace.IsBadParameter(err))
	_, err = service.Assign(ctx, "t1", "")
	require.True(t, trace.IsBadParameter(err))
}

func TestAssignRecordsExposure(t *testing.T) {
	recorder := &recordedEvents{}
	service, store := newService(t, recorder)
	ctx := context.Background()

	test := addTest(t, store, true, evenSplit()...)

	assignment, err := service.Assign(ctx, test.ID, "alice")
	require.NoError(t, err)
	require.Len(t, recorder.events, 1)

	exposure := recorder.events[0]
	require.Equal(t, "experiment_exposure", exposure.Name)
	require.Equal(t, types.EventTypeCustom, exposure.Type)
	require.Equal(t, "alice", exposure.UserID)
	require.Equal(t, test.ID, exposure.Properties["testId"])
	require.Equal(t, assignment.Variant, exposure.Properties["variant"])

	// A repeat assignment does not re-expose.
	_, err = service.Assign(ctx, test.ID, "alice")
	require.NoError(t, err)
	require.Len(t, recorder.events, 1)
}
