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

package analytics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/northstarhq/northstar/lib/cache"
	"github.com/northstarhq/northstar/lib/storage"
	"github.com/northstarhq/northstar/lib/types"

	"github.com/alicebob/miniredis/v2"
)

func addFunnel(t *testing.T, store storage.Store, name string, enabled bool, steps ...types.EventType) *types.Funnel {
	t.Helper()
	funnel := &types.Funnel{Name: name, Enabled: enabled}
	for i, typ := range steps {
		funnel.Steps = append(funnel.Steps, types.FunnelStep{
			Order:     i,
			Name:      string(typ),
			EventType: typ,
		})
	}
	require.NoError(t, funnel.CheckAndSetDefaults(base))
	require.NoError(t, store.Funnels().Create(context.Background(), funnel))
	return funnel
}

func TestAnalyzeFunnelProgression(t *testing.T) {
	engine, store := newEngine(t, Config{})
	ctx := context.Background()

	funnel := addFunnel(t, store, "purchase path", true,
		types.EventTypePageView,
		types.EventTypeAddToCart,
		types.EventTypeCheckout,
		types.EventTypePurchase,
	)

	// 100 users view, 80 add to cart, 50 check out, 30 purchase.
	for i := 0; i < 100; i++ {
		user := fmt.Sprintf("u%02d", i)
		addEvent(t, store, types.EventTypePageView, base, withUser(user))
		if i < 80 {
			addEvent(t, store, types.EventTypeAddToCart, base.Add(time.Second), withUser(user))
		}
		if i < 50 {
			addEvent(t, store, types.EventTypeCheckout, base.Add(2*time.Second), withUser(user))
		}
		if i < 30 {
			addEvent(t, store, types.EventTypePurchase, base.Add(3*time.Second), withUser(user))
		}
	}

	analysis, err := engine.AnalyzeFunnel(ctx, funnel.ID, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, funnel.ID, analysis.FunnelID)
	require.Equal(t, 100, analysis.TotalEntered)
	require.Equal(t, 30, analysis.TotalCompleted)
	require.Equal(t, 30.0, analysis.OverallConversionRate)
	require.Len(t, analysis.Steps, 4)

	var entered, completed []int
	for _, step := range analysis.Steps {
		entered = append(entered, step.Entered)
		completed = append(completed, step.Completed)
		require.Equal(t, step.Entered-step.Completed, step.Dropped)
		require.LessOrEqual(t, step.Completed, step.Entered)
	}
	require.Equal(t, []int{100, 100, 80, 50}, entered)
	require.Equal(t, []int{100, 80, 50, 30}, completed)

	require.Equal(t, 80.0, analysis.Steps[1].CompletionRate)
	require.Equal(t, 20.0, analysis.Steps[1].DropOffRate)
	require.Equal(t, 62.5, analysis.Steps[2].CompletionRate)
	require.Equal(t, 60.0, analysis.Steps[3].CompletionRate)
}

func TestAnalyzeFunnelSingleStep(t *testing.T) {
	engine, store := newEngine(t, Config{})
	ctx := context.Background()

	funnel := addFunnel(t, store, "signups", true, types.EventTypeSignup)
	for _, user := range []string{"alice", "bob", "carol"} {
		addEvent(t, store, types.EventTypeSignup, base, withUser(user))
	}

	analysis, err := engine.AnalyzeFunnel(ctx, funnel.ID, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 3, analysis.TotalEntered)
	require.Equal(t, 3, analysis.TotalCompleted)
	require.Equal(t, 100.0, analysis.OverallConversionRate)
}

func TestAnalyzeFunnelEmptyWindow(t *testing.T) {
	engine, store := newEngine(t, Config{})
	ctx := context.Background()

	funnel := addFunnel(t, store, "quiet", true, types.EventTypePageView, types.EventTypePurchase)
	// One event outside the analyzed window.
	addEvent(t, store, types.EventTypePageView, base.Add(-time.Hour), withUser("alice"))

	analysis, err := engine.AnalyzeFunnel(ctx, funnel.ID, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Zero(t, analysis.TotalEntered)
	require.Zero(t, analysis.TotalCompleted)
	require.Zero(t, analysis.OverallConversionRate)
	require.Len(t, analysis.Steps, 2)
	for _, step := range analysis.Steps {
		require.Zero(t, step.Entered)
		require.Zero(t, step.Completed)
		require.Zero(t, step.CompletionRate)
	}
}

func TestAnalyzeFunnelIsLoose(t *testing.T) {
	engine, store := newEngine(t, Config{})
	ctx := context.Background()

	funnel := addFunnel(t, store, "path", true, types.EventTypePageView, types.EventTypePurchase)

	// The purchase precedes the page view in time; the loose funnel counts
	// it anyway because both fall inside the window.
	addEvent(t, store, types.EventTypePurchase, base, withUser("alice"))
	addEvent(t, store, types.EventTypePageView, base.Add(time.Minute), withUser("alice"))

	analysis, err := engine.AnalyzeFunnel(ctx, funnel.ID, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, analysis.TotalEntered)
	require.Equal(t, 1, analysis.TotalCompleted)
	require.Equal(t, 100.0, analysis.OverallConversionRate)
}

func TestAnalyzeFunnelMissingOrDisabled(t *testing.T) {
	engine, store := newEngine(t, Config{})
	ctx := context.Background()

	_, err := engine.AnalyzeFunnel(ctx, "no-such-funnel", base, base.Add(time.Hour))
	require.True(t, trace.IsNotFound(err))

	disabled := addFunnel(t, store, "disabled", false, types.EventTypePageView)
	_, err = engine.AnalyzeFunnel(ctx, disabled.ID, base, base.Add(time.Hour))
	require.True(t, trace.IsNotFound(err))

	_, err = engine.AnalyzeFunnel(ctx, "", base, base.Add(time.Hour))
	require.True(t, trace.IsBadParameter(err))
}

func TestAnalyzeFunnelCaching(t *testing.T) {
	ctx := context.Background()
	server := miniredis.RunT(t)
	cacheClient, err := cache.New(ctx, cache.Config{Addr: server.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cacheClient.Close() })

	engine, store := newEngine(t, Config{Cache: cacheClient})

	funnel := addFunnel(t, store, "cached", true, types.EventTypePageView)
	addEvent(t, store, types.EventTypePageView, base, withUser("alice"))

	first, err := engine.AnalyzeFunnel(ctx, funnel.ID, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, first.TotalEntered)

	// A new event does not show up while the analysis is cached.
	addEvent(t, store, types.EventTypePageView, base.Add(time.Minute), withUser("bob"))
	second, err := engine.AnalyzeFunnel(ctx, funnel.ID, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, second.TotalEntered)

	// Invalidation drops every cached window of the funnel.
	require.NoError(t, engine.InvalidateFunnel(ctx, funnel.ID))
	third, err := engine.AnalyzeFunnel(ctx, funnel.ID, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, third.TotalEntered)
}
