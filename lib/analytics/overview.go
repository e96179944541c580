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
	"encoding/json"
	"fmt"
	"time"

	"github.com/gravitational/trace"

	"github.com/northstarhq/northstar/lib/defaults"
	"github.com/northstarhq/northstar/lib/storage"
)

// topDimensionLimit caps how many values of each dimension the overview
// snapshot reports.
const topDimensionLimit = 5

// Overview is the dashboard snapshot: the headline numbers of one window.
type Overview struct {
	// From is the inclusive window start.
	From time.Time `json:"from"`
	// To is the inclusive window end.
	To time.Time `json:"to"`
	// GeneratedAt is when the snapshot was computed. A cached snapshot
	// keeps its original generation time.
	GeneratedAt time.Time `json:"generatedAt"`
	// TotalEvents is the number of events in the window.
	TotalEvents int64 `json:"totalEvents"`
	// Sessions summarizes the sessions started in the window.
	Sessions *SessionMetrics `json:"sessions"`
	// TopCountries are the most active countries, largest first.
	TopCountries []storage.DimensionBucket `json:"topCountries"`
	// TopDevices are the most active device types, largest first.
	TopDevices []storage.DimensionBucket `json:"topDevices"`
}

// OverviewSnapshot returns the headline numbers of the window, served from
// the cache while fresh. The snapshot TTL is short; dashboards polling every
// few seconds share one computation.
func (e *Engine) OverviewSnapshot(ctx context.Context, from, to time.Time) (*Overview, error) {
	cacheKey := fmt.Sprintf("overview:%v:%v", from.UTC().Unix(), to.UTC().Unix())
	if cached, err := e.cfg.Cache.Get(ctx, cacheKey); err == nil {
		var overview Overview
		if err := json.Unmarshal([]byte(cached), &overview); err == nil {
			return &overview, nil
		}
		_ = e.cfg.Cache.Delete(ctx, cacheKey)
	}

	totalEvents, err := e.cfg.Store.Events().Count(ctx, storage.EventFilter{From: from, To: to})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	sessions, err := e.CalculateSessionMetrics(ctx, from, to)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	countries, err := e.AggregateByDimension(ctx, "country", from, to, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	devices, err := e.AggregateByDimension(ctx, "deviceType", from, to, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	overview := &Overview{
		From:         from.UTC(),
		To:           to.UTC(),
		GeneratedAt:  e.cfg.Clock.Now().UTC(),
		TotalEvents:  totalEvents,
		Sessions:     sessions,
		TopCountries: truncateBuckets(countries),
		TopDevices:   truncateBuckets(devices),
	}

	if encoded, err := json.Marshal(overview); err == nil {
		if err := e.cfg.Cache.Set(ctx, cacheKey, string(encoded), defaults.DashboardSnapshotTTL); err != nil {
			e.log.DebugContext(ctx, "Failed to cache overview snapshot.", "error", err)
		}
	}
	return overview, nil
}

func truncateBuckets(buckets []storage.DimensionBucket) []storage.DimensionBucket {
	if len(buckets) > topDimensionLimit {
		return buckets[:topDimensionLimit]
	}
	return buckets
}
