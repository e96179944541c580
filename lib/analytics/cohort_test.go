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

	"github.com/northstarhq/northstar/lib/types"
)

func TestAnalyzeRetentionCohort(t *testing.T) {
	engine, store := newEngine(t, Config{})
	ctx := context.Background()

	cohortDate := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	week := 7 * 24 * time.Hour

	// 100 users acquired across the cohort week. 50 come back in week one,
	// 20 in week two.
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("u%02d", i)
		firstSeen := cohortDate.Add(time.Duration(i) * (week / 100))
		addUser(t, store, &types.User{ID: id, FirstSeenAt: firstSeen, LastSeenAt: firstSeen})
		if i < 50 {
			addSession(t, store, &types.Session{UserID: id, StartedAt: cohortDate.Add(week)})
		}
		if i < 20 {
			addSession(t, store, &types.Session{UserID: id, StartedAt: cohortDate.Add(2 * week)})
		}
	}

	analysis, err := engine.AnalyzeRetentionCohort(ctx, cohortDate, 3, types.PeriodWeek)
	require.NoError(t, err)
	require.Equal(t, cohortDate, analysis.CohortDate)
	require.Equal(t, 100, analysis.InitialUsers)
	require.Len(t, analysis.Periods, 3)

	require.Equal(t, int64(100), analysis.Periods[0].ActiveUsers)
	require.Equal(t, 100.0, analysis.Periods[0].RetentionRate)
	require.Equal(t, 100.0, analysis.Periods[0].CumulativeRetention)

	require.Equal(t, int64(50), analysis.Periods[1].ActiveUsers)
	require.Equal(t, 50.0, analysis.Periods[1].RetentionRate)

	require.Equal(t, int64(20), analysis.Periods[2].ActiveUsers)
	require.Equal(t, 20.0, analysis.Periods[2].RetentionRate)

	require.Equal(t, 56.67, analysis.AvgRetentionRate)
	require.Equal(t, 43.33, analysis.ChurnRate)

	for _, p := range analysis.Periods {
		require.GreaterOrEqual(t, p.RetentionRate, 0.0)
		require.LessOrEqual(t, p.RetentionRate, 100.0)
		require.LessOrEqual(t, p.ActiveUsers, int64(analysis.InitialUsers))
	}
}

func TestAnalyzeRetentionCohortTruncatesToMidnight(t *testing.T) {
	engine, store := newEngine(t, Config{})
	ctx := context.Background()

	// The cohort date carries a time of day; the cohort still starts at
	// midnight UTC and catches a user acquired earlier that day.
	day := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	addUser(t, store, &types.User{ID: "early", FirstSeenAt: day.Add(2 * time.Hour), LastSeenAt: day.Add(2 * time.Hour)})

	analysis, err := engine.AnalyzeRetentionCohort(ctx, day.Add(15*time.Hour), 1, types.PeriodDay)
	require.NoError(t, err)
	require.Equal(t, day, analysis.CohortDate)
	require.Equal(t, 1, analysis.InitialUsers)
}

func TestAnalyzeRetentionCohortEmpty(t *testing.T) {
	engine, _ := newEngine(t, Config{})
	ctx := context.Background()

	_, err := engine.AnalyzeRetentionCohort(ctx, base, 3, types.PeriodDay)
	require.True(t, trace.IsNotFound(err))
}

func TestAnalyzeRetentionCohortValidation(t *testing.T) {
	engine, _ := newEngine(t, Config{})
	ctx := context.Background()

	_, err := engine.AnalyzeRetentionCohort(ctx, base, 0, types.PeriodDay)
	require.True(t, trace.IsBadParameter(err))

	_, err = engine.AnalyzeRetentionCohort(ctx, base, 3, types.PeriodMinute)
	require.True(t, trace.IsBadParameter(err))
}

func TestCalculateRetentionFacade(t *testing.T) {
	engine, store := newEngine(t, Config{})
	ctx := context.Background()

	// An empty cohort degrades to an empty slice through the aggregator
	// facade instead of a NotFound.
	periods, err := engine.CalculateRetention(ctx, base, 3)
	require.NoError(t, err)
	require.Empty(t, periods)

	day := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	addUser(t, store, &types.User{ID: "u1", FirstSeenAt: day, LastSeenAt: day})
	addSession(t, store, &types.Session{UserID: "u1", StartedAt: day.Add(25 * time.Hour)})

	periods, err = engine.CalculateRetention(ctx, day, 2)
	require.NoError(t, err)
	require.Len(t, periods, 2)
	require.Equal(t, 100.0, periods[0].RetentionRate)
	require.Equal(t, 100.0, periods[1].RetentionRate)
}
