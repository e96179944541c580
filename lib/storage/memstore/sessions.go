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

type sessions struct {
	m *Memory
}

func sessionMatches(f storage.SessionFilter, s *types.Session) bool {
	if f.UserID != "" && s.UserID != f.UserID {
		return false
	}
	if f.Open != nil && s.Closed() == *f.Open {
		return false
	}
	if !f.From.IsZero() && s.StartedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !s.StartedAt.Before(f.To) {
		return false
	}
	return true
}

func (r sessions) Create(ctx context.Context, session *types.Session) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	if _, ok := st.sessions[session.ID]; ok {
		return trace.AlreadyExists("session %v already exists", session.ID)
	}
	s := cloneSession(session)
	s.StartedAt = s.StartedAt.UTC()
	s.LastActivityAt = s.LastActivityAt.UTC()
	st.sessions[s.ID] = s
	return nil
}

func (r sessions) Get(ctx context.Context, id string) (*types.Session, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.state.sessions[id]
	if !ok {
		return nil, trace.NotFound("session %v is not found", id)
	}
	return cloneSession(s), nil
}

func (r sessions) listLocked(filter storage.SessionFilter) []*types.Session {
	var matched []*types.Session
	for _, s := range r.m.state.sessions {
		if sessionMatches(filter, s) {
			matched = append(matched, s)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].StartedAt.Equal(matched[j].StartedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})
	return matched
}

func (r sessions) List(ctx context.Context, filter storage.SessionFilter) ([]*types.Session, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	matched := pageSlice(r.listLocked(filter), filter.Limit, filter.Offset)
	out := make([]*types.Session, 0, len(matched))
	for _, s := range matched {
		out = append(out, cloneSession(s))
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (r sessions) Count(ctx context.Context, filter storage.SessionFilter) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	filter.Limit, filter.Offset = 0, 0
	return int64(len(r.listLocked(filter))), nil
}

func (r sessions) Delete(ctx context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	if _, ok := st.sessions[id]; !ok {
		return trace.NotFound("session %v is not found", id)
	}
	delete(st.sessions, id)
	return nil
}

func (r sessions) RecordActivity(ctx context.Context, id string, at time.Time, pageView bool) (*types.Session, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	existing, ok := st.sessions[id]
	if !ok {
		return nil, trace.NotFound("session %v is not found", id)
	}
	if existing.Closed() {
		return cloneSession(existing), nil
	}
	s := cloneSession(existing)
	if at := at.UTC(); at.After(s.LastActivityAt) {
		s.LastActivityAt = at
	}
	s.EventsCount++
	if pageView {
		s.PageViews++
	}
	s.DurationSeconds = int64(s.LastActivityAt.Sub(s.StartedAt) / time.Second)
	s.IsBounce = s.ComputeBounce()
	st.sessions[id] = s
	return cloneSession(s), nil
}

func (r sessions) MarkConverted(ctx context.Context, id string, value float64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	existing, ok := st.sessions[id]
	if !ok {
		return trace.NotFound("session %v is not found", id)
	}
	s := cloneSession(existing)
	s.Converted = true
	s.ConversionValue += value
	st.sessions[id] = s
	return nil
}

func (r sessions) End(ctx context.Context, id string) (*types.Session, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	existing, ok := st.sessions[id]
	if !ok {
		return nil, trace.NotFound("session %v is not found", id)
	}
	if existing.Closed() {
		return cloneSession(existing), nil
	}
	s := cloneSession(existing)
	ended := s.LastActivityAt
	s.EndedAt = &ended
	s.DurationSeconds = int64(s.LastActivityAt.Sub(s.StartedAt) / time.Second)
	s.IsBounce = s.ComputeBounce()
	st.sessions[id] = s
	return cloneSession(s), nil
}

func (r sessions) ListIdleOpen(ctx context.Context, lastActivityBefore time.Time, limit int) ([]*types.Session, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	var matched []*types.Session
	for _, s := range r.m.state.sessions {
		if !s.Closed() && s.LastActivityAt.Before(lastActivityBefore) {
			matched = append(matched, s)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].LastActivityAt.Equal(matched[j].LastActivityAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].LastActivityAt.Before(matched[j].LastActivityAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*types.Session, 0, len(matched))
	for _, s := range matched {
		out = append(out, cloneSession(s))
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (r sessions) Aggregates(ctx context.Context, from, to time.Time) (*storage.SessionAggregates, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	var agg storage.SessionAggregates
	users := make(map[string]struct{})
	var durationSum, pageViewSum float64
	for _, s := range r.m.state.sessions {
		if !sessionMatches(storage.SessionFilter{From: from, To: to}, s) {
			continue
		}
		agg.TotalSessions++
		users[s.UserID] = struct{}{}
		durationSum += float64(s.DurationSeconds)
		pageViewSum += float64(s.PageViews)
		if s.IsBounce {
			agg.BouncedSessions++
		}
		if s.Converted {
			agg.ConvertedSessions++
		}
		agg.TotalConversionValue += s.ConversionValue
	}
	agg.UniqueUsers = int64(len(users))
	if agg.TotalSessions > 0 {
		agg.AvgDurationSeconds = durationSum / float64(agg.TotalSessions)
		agg.AvgPageViews = pageViewSum / float64(agg.TotalSessions)
	}
	return &agg, nil
}

func (r sessions) CountDistinctUsersStarted(ctx context.Context, userIDs []string, from, to time.Time) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	wanted := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = struct{}{}
	}
	active := make(map[string]struct{})
	for _, s := range r.m.state.sessions {
		if _, ok := wanted[s.UserID]; !ok {
			continue
		}
		if sessionMatches(storage.SessionFilter{From: from, To: to}, s) {
			active[s.UserID] = struct{}{}
		}
	}
	return int64(len(active)), nil
}
