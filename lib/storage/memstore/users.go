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
	"sort"
	"time"

	"github.com/gravitational/trace"

	"github.com/northstarhq/northstar/lib/storage"
	"github.com/northstarhq/northstar/lib/types"
)

type users struct {
	m *Memory
}

func userMatches(f storage.UserFilter, u *types.User) bool {
	if f.ExternalID != "" && u.ExternalID != f.ExternalID {
		return false
	}
	if f.Email != "" && u.Email != f.Email {
		return false
	}
	if !f.FirstSeenFrom.IsZero() && u.FirstSeenAt.Before(f.FirstSeenFrom) {
		return false
	}
	if !f.FirstSeenTo.IsZero() && !u.FirstSeenAt.Before(f.FirstSeenTo) {
		return false
	}
	return true
}

// externalIDTakenLocked reports whether another user already claims the
// external id. Callers hold m.mu.
func (r users) externalIDTakenLocked(externalID, selfID string) bool {
	if externalID == "" {
		return false
	}
	for _, u := range r.m.state.users {
		if u.ExternalID == externalID && u.ID != selfID {
			return true
		}
	}
	return false
}

func (r users) Create(ctx context.Context, user *types.User) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	if _, ok := st.users[user.ID]; ok {
		return trace.AlreadyExists("user %v already exists", user.ID)
	}
	if r.externalIDTakenLocked(user.ExternalID, user.ID) {
		return trace.AlreadyExists("external id %v is already taken", user.ExternalID)
	}
	u := cloneUser(user)
	u.FirstSeenAt = u.FirstSeenAt.UTC()
	u.LastSeenAt = u.LastSeenAt.UTC()
	st.users[u.ID] = u
	return nil
}

func (r users) Ensure(ctx context.Context, id string, seenAt time.Time) error {
	if id == "" {
		return trace.BadParameter("missing user id")
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	if _, ok := st.users[id]; ok {
		return nil
	}
	seenAt = seenAt.UTC()
	st.users[id] = &types.User{
		ID:          id,
		FirstSeenAt: seenAt,
		LastSeenAt:  seenAt,
	}
	return nil
}

func (r users) Get(ctx context.Context, id string) (*types.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.state.users[id]
	if !ok {
		return nil, trace.NotFound("user %v is not found", id)
	}
	return cloneUser(u), nil
}

func (r users) GetByExternalID(ctx context.Context, externalID string) (*types.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, u := range r.m.state.users {
		if u.ExternalID == externalID && externalID != "" {
			return cloneUser(u), nil
		}
	}
	return nil, trace.NotFound("user with external id %v is not found", externalID)
}

func (r users) listLocked(filter storage.UserFilter) []*types.User {
	var matched []*types.User
	for _, u := range r.m.state.users {
		if userMatches(filter, u) {
			matched = append(matched, u)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].FirstSeenAt.Equal(matched[j].FirstSeenAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].FirstSeenAt.Before(matched[j].FirstSeenAt)
	})
	return matched
}

func (r users) List(ctx context.Context, filter storage.UserFilter) ([]*types.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	matched := pageSlice(r.listLocked(filter), filter.Limit, filter.Offset)
	out := make([]*types.User, 0, len(matched))
	for _, u := range matched {
		out = append(out, cloneUser(u))
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (r users) Count(ctx context.Context, filter storage.UserFilter) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	filter.Limit, filter.Offset = 0, 0
	return int64(len(r.listLocked(filter))), nil
}

func (r users) Update(ctx context.Context, user *types.User) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	existing, ok := st.users[user.ID]
	if !ok {
		return trace.NotFound("user %v is not found", user.ID)
	}
	if r.externalIDTakenLocked(user.ExternalID, user.ID) {
		return trace.AlreadyExists("external id %v is already taken", user.ExternalID)
	}
	u := cloneUser(existing)
	u.ExternalID = user.ExternalID
	u.Email = user.Email
	u.Name = user.Name
	u.Properties = user.Properties.Clone()
	st.users[u.ID] = u
	return nil
}

func (r users) Delete(ctx context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	if _, ok := st.users[id]; !ok {
		return trace.NotFound("user %v is not found", id)
	}
	delete(st.users, id)
	return nil
}

func (r users) IncrementStats(ctx context.Context, id string, delta types.UserStatsDelta, seenAt time.Time) error {
	if err := delta.Check(); err != nil {
		return trace.Wrap(err)
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	existing, ok := st.users[id]
	if !ok {
		return trace.NotFound("user %v is not found", id)
	}
	u := cloneUser(existing)
	u.TotalSessions += delta.Sessions
	u.TotalEvents += delta.Events
	u.TotalConversions += delta.Conversions
	u.LifetimeValue += delta.Value
	if seenAt := seenAt.UTC(); seenAt.After(u.LastSeenAt) {
		u.LastSeenAt = seenAt
	}
	st.users[id] = u
	return nil
}

func (r users) ListIDsFirstSeenBetween(ctx context.Context, from, to time.Time) ([]string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	matched := r.listLocked(storage.UserFilter{FirstSeenFrom: from, FirstSeenTo: to})
	out := make([]string, 0, len(matched))
	for _, u := range matched {
		out = append(out, u.ID)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
