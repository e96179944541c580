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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/northstarhq/northstar/lib/cache"
	"github.com/northstarhq/northstar/lib/types"
)

func TestOverviewSnapshot(t *testing.T) {
	engine, store := newEngine(t, Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		addEvent(t, store, types.EventTypePageView, base.Add(time.Duration(i)*time.Minute), func(e *types.Event) {
			e.UserID = "alice"
			e.Country = "DE"
			e.DeviceType = "mobile"
		})
	}
	addSession(t, store, &types.Session{UserID: "alice", StartedAt: base})

	overview, err := engine.OverviewSnapshot(ctx, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(3), overview.TotalEvents)
	require.Equal(t, int64(1), overview.Sessions.TotalSessions)
	require.Len(t, overview.TopCountries, 1)
	require.Equal(t, "DE", overview.TopCountries[0].Value)
	require.Len(t, overview.TopDevices, 1)
	require.Equal(t, "mobile", overview.TopDevices[0].Value)
}

func TestOverviewSnapshotIsCached(t *testing.T) {
	ctx := context.Background()
	server := miniredis.RunT(t)
	cacheClient, err := cache.New(ctx, cache.Config{Addr: server.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cacheClient.Close() })

	engine, store := newEngine(t, Config{Cache: cacheClient})

	addEvent(t, store, types.EventTypePageView, base, withUser("alice"))

	first, err := engine.OverviewSnapshot(ctx, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), first.TotalEvents)

	// New data does not show while the snapshot is fresh.
	addEvent(t, store, types.EventTypePageView, base.Add(time.Minute), withUser("bob"))
	second, err := engine.OverviewSnapshot(ctx, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), second.TotalEvents)
	require.Equal(t, first.GeneratedAt, second.GeneratedAt)

	// Once the snapshot expires the numbers move.
	server.FastForward(2 * time.Minute)
	third, err := engine.OverviewSnapshot(ctx, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(2), third.TotalEvents)
}

func TestOverviewTruncatesDimensions(t *testing.T) {
	engine, store := newEngine(t, Config{})
	ctx := context.Background()

	countries := []string{"DE", "FR", "US", "GB", "NL", "SE", "PL"}
	for i, country := range countries {
		addEvent(t, store, types.EventTypePageView, base.Add(time.Duration(i)*time.Minute), func(e *types.Event) {
			e.Country = country
		})
	}

	overview, err := engine.OverviewSnapshot(ctx, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, overview.TopCountries, topDimensionLimit)
}
