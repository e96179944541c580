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

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestEventCheckAndSetDefaults(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	t.Run("fills generated fields", func(t *testing.T) {
		event := Event{
			Name: "Viewed Pricing",
			Type: EventTypePageView,
		}
		require.NoError(t, event.CheckAndSetDefaults(now))
		require.NotEmpty(t, event.ID)
		require.Equal(t, now, event.CreatedAt)
		require.Equal(t, now, event.Timestamp)
	})

	t.Run("keeps explicit timestamp", func(t *testing.T) {
		ts := now.Add(-time.Hour)
		event := Event{
			Name:      "Viewed Pricing",
			Type:      EventTypePageView,
			Timestamp: ts,
		}
		require.NoError(t, event.CheckAndSetDefaults(now))
		require.Equal(t, ts, event.Timestamp)
	})

	t.Run("tolerates bounded clock skew", func(t *testing.T) {
		event := Event{
			Name:      "Viewed Pricing",
			Type:      EventTypePageView,
			Timestamp: now.Add(4 * time.Minute),
		}
		require.NoError(t, event.CheckAndSetDefaults(now))
	})

	t.Run("rejects timestamp too far ahead", func(t *testing.T) {
		event := Event{
			Name:      "Viewed Pricing",
			Type:      EventTypePageView,
			Timestamp: now.Add(6 * time.Minute),
		}
		err := event.CheckAndSetDefaults(now)
		require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
		require.Empty(t, event.ID, "no id should be assigned to a rejected event")
	})

	t.Run("rejects missing name", func(t *testing.T) {
		event := Event{Type: EventTypePageView}
		err := event.CheckAndSetDefaults(now)
		require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		event := Event{Name: "X", Type: EventType("levitation")}
		err := event.CheckAndSetDefaults(now)
		require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
	})

	t.Run("rejects oversized properties", func(t *testing.T) {
		event := Event{
			Name:       "X",
			Type:       EventTypeCustom,
			Properties: Properties{"": "empty key"},
		}
		err := event.CheckAndSetDefaults(now)
		require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
	})
}

func TestEventTypeCheck(t *testing.T) {
	t.Parallel()

	for _, eventType := range AllEventTypes {
		require.NoError(t, eventType.Check())
	}
	require.Error(t, EventType("").Check())
	require.Error(t, EventType("PAGE_VIEW").Check())
}
