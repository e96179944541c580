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

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/northstarhq/northstar/lib/storage"
	"github.com/northstarhq/northstar/lib/storage/memstore"
	"github.com/northstarhq/northstar/lib/types"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, cfg Config) (*Engine, storage.Store) {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = memstore.New()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewFakeClockAt(base)
	}
	engine, err := New(cfg)
	require.NoError(t, err)
	return engine, cfg.Store
}

func addEvent(t *testing.T, store storage.Store, typ types.EventType, ts time.Time, mutate func(*types.Event)) *types.Event {
	t.Helper()
	event := &types.Event{Name: string(typ), Type: typ, Timestamp: ts}
	if mutate != nil {
		mutate(event)
	}
	require.NoError(t, event.CheckAndSetDefaults(ts))
	require.NoError(t, store.Events().Create(context.Background(), event))
	return event
}

func withUser(id string) func(*types.Event) {
	return func(e *types.Event) { e.UserID = id }
}

func addUser(t *testing.T, store storage.Store, user *types.User) {
	t.Helper()
	require.NoError(t, user.CheckAndSetDefaults(user.FirstSeenAt))
	require.NoError(t, store.Users().Create(context.Background(), user))
}

func addSession(t *testing.T, store storage.Store, session *types.Session) *types.Session {
	t.Helper()
	require.NoError(t, session.CheckAndSetDefaults(session.StartedAt))
	require.NoError(t, store.Sessions().Create(context.Background(), session))
	return session
}

func addConversion(t *testing.T, store storage.Store, userID string, convertedAt time.Time) *types.GoalConversion {
	t.Helper()
	conversion := &types.GoalConversion{
		GoalID:      uuid.NewString(),
		EventID:     uuid.NewString(),
		UserID:      userID,
		ConvertedAt: convertedAt,
	}
	require.NoError(t, conversion.CheckAndSetDefaults(convertedAt))
	require.NoError(t, store.Conversions().Create(context.Background(), conversion))
	return conversion
}
