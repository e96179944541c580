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

package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPeriodTruncate(t *testing.T) {
	t.Parallel()

	// 2025-03-14 is a Friday.
	ts := time.Date(2025, 3, 14, 15, 9, 26, 535000000, time.UTC)

	tests := []struct {
		period Period
		want   time.Time
	}{
		{PeriodMinute, time.Date(2025, 3, 14, 15, 9, 0, 0, time.UTC)},
		{PeriodHour, time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)},
		{PeriodDay, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)},
		{PeriodWeek, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)},
		{PeriodMonth, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
		{PeriodQuarter, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{PeriodYear, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(string(tt.period), func(t *testing.T) {
			require.Equal(t, tt.want, tt.period.Truncate(ts))
		})
	}

	t.Run("week boundary is monday", func(t *testing.T) {
		sunday := time.Date(2025, 3, 16, 23, 59, 0, 0, time.UTC)
		require.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), PeriodWeek.Truncate(sunday))
		monday := time.Date(2025, 3, 17, 0, 0, 1, 0, time.UTC)
		require.Equal(t, time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC), PeriodWeek.Truncate(monday))
	})

	t.Run("quarter boundaries", func(t *testing.T) {
		require.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
			PeriodQuarter.Truncate(time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)))
		require.Equal(t, time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
			PeriodQuarter.Truncate(time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)))
	})
}

func TestMetricCheckAndSetDefaults(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	metric := Metric{
		Name:  "sessions.bounce_rate",
		Type:  MetricTypeRate,
		Value: 37.5,
	}
	require.NoError(t, metric.CheckAndSetDefaults(now))
	require.NotEmpty(t, metric.ID)
	require.Equal(t, now, metric.Timestamp)

	bad := Metric{Name: "x", Type: MetricType("speedometer")}
	require.Error(t, bad.CheckAndSetDefaults(now))

	badPeriod := Metric{Name: "x", Type: MetricTypeGauge, Period: Period("fortnight")}
	require.Error(t, badPeriod.CheckAndSetDefaults(now))
}
