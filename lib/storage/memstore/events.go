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
	"slices"
	"sort"
	"time"

	"github.com/gravitational/trace"

	"github.com/northstarhq/northstar/lib/storage"
	"github.com/northstarhq/northstar/lib/types"
)

type events struct {
	m *Memory
}

func eventMatcher(f storage.EventFilter) func(*types.Event) bool {
	var userSet map[string]struct{}
	if f.UserIDs != nil {
		userSet = make(map[string]struct{}, len(f.UserIDs))
		for _, id := range f.UserIDs {
			userSet[id] = struct{}{}
		}
	}
	var typeSet map[types.EventType]struct{}
	if len(f.Types) > 0 {
		typeSet = make(map[types.EventType]struct{}, len(f.Types))
		for _, t := range f.Types {
			typeSet[t] = struct{}{}
		}
	}
	return func(e *types.Event) bool {
		if f.UserID != "" && e.UserID != f.UserID {
			return false
		}
		if f.SessionID != "" && e.SessionID != f.SessionID {
			return false
		}
		if userSet != nil {
			if _, ok := userSet[e.UserID]; !ok {
				return false
			}
		}
		if typeSet != nil {
			if _, ok := typeSet[e.Type]; !ok {
				return false
			}
		}
		if !f.From.IsZero() && e.Timestamp.Before(f.From) {
			return false
		}
		if !f.To.IsZero() && e.Timestamp.After(f.To) {
			return false
		}
		if f.Processed != nil && e.Processed != *f.Processed {
			return false
		}
		return true
	}
}

// collectLocked walks the time index ascending and returns matching events
// oldest first. Callers hold m.mu.
func (r events) collectLocked(f storage.EventFilter) []*types.Event {
	st := r.m.state
	match := eventMatcher(f)
	var out []*types.Event
	iter := func(k eventKey) bool {
		if !f.To.IsZero() && k.ts.After(f.To) {
			return false
		}
		if e := st.events[k.id]; e != nil && match(e) {
			out = append(out, e)
		}
		return true
	}
	if !f.From.IsZero() {
		st.eventIndex.AscendGreaterOrEqual(eventKey{ts: f.From}, iter)
	} else {
		st.eventIndex.Ascend(iter)
	}
	return out
}

func (r events) Create(ctx context.Context, event *types.Event) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.createLocked(event)
}

func (r events) createLocked(event *types.Event) error {
	st := r.m.state
	if _, ok := st.events[event.ID]; ok {
		return trace.AlreadyExists("event %v already exists", event.ID)
	}
	e := cloneEvent(event)
	e.Timestamp = e.Timestamp.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	st.events[e.ID] = e
	st.eventIndex.ReplaceOrInsert(eventKey{ts: e.Timestamp, id: e.ID})
	return nil
}

func (r events) CreateBatch(ctx context.Context, batch []*types.Event) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state

	seen := make(map[string]struct{}, len(batch))
	for _, event := range batch {
		if _, ok := st.events[event.ID]; ok {
			return 0, trace.AlreadyExists("event %v already exists", event.ID)
		}
		if _, ok := seen[event.ID]; ok {
			return 0, trace.AlreadyExists("event %v appears twice in the batch", event.ID)
		}
		seen[event.ID] = struct{}{}
	}
	for _, event := range batch {
		if err := r.createLocked(event); err != nil {
			return 0, trace.Wrap(err)
		}
	}
	return len(batch), nil
}

func (r events) Get(ctx context.Context, id string) (*types.Event, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	e, ok := r.m.state.events[id]
	if !ok {
		return nil, trace.NotFound("event %v is not found", id)
	}
	return cloneEvent(e), nil
}

func (r events) List(ctx context.Context, filter storage.EventFilter) ([]*types.Event, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	matched := r.collectLocked(filter)
	if !filter.Ascending {
		slices.Reverse(matched)
	}
	matched = pageSlice(matched, filter.Limit, filter.Offset)

	out := make([]*types.Event, 0, len(matched))
	for _, e := range matched {
		out = append(out, cloneEvent(e))
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (r events) Count(ctx context.Context, filter storage.EventFilter) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	filter.Limit, filter.Offset = 0, 0
	return int64(len(r.collectLocked(filter))), nil
}

func (r events) Delete(ctx context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	e, ok := st.events[id]
	if !ok {
		return trace.NotFound("event %v is not found", id)
	}
	delete(st.events, id)
	st.eventIndex.Delete(eventKey{ts: e.Timestamp, id: id})
	return nil
}

func (r events) GetUnprocessed(ctx context.Context, limit int) ([]*types.Event, error) {
	processed := false
	return r.List(ctx, storage.EventFilter{
		Processed: &processed,
		Ascending: true,
		Limit:     limit,
	})
}

func (r events) MarkProcessed(ctx context.Context, ids []string, at time.Time) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	at = at.UTC()

	var n int64
	for _, id := range ids {
		e, ok := st.events[id]
		if !ok || e.Processed {
			continue
		}
		ne := cloneEvent(e)
		ne.Processed = true
		stamp := at
		ne.ProcessedAt = &stamp
		st.events[id] = ne
		n++
	}
	return n, nil
}

func (r events) AggregateByType(ctx context.Context, from, to time.Time, period types.Period, eventTypes []types.EventType) ([]storage.EventTypeBucket, error) {
	if err := period.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	type bucketKey struct {
		at  time.Time
		typ types.EventType
	}
	type bucketAgg struct {
		count    int64
		users    map[string]struct{}
		sessions map[string]struct{}
	}
	buckets := make(map[bucketKey]*bucketAgg)

	for _, e := range r.collectLocked(storage.EventFilter{From: from, To: to, Types: eventTypes}) {
		key := bucketKey{at: period.Truncate(e.Timestamp), typ: e.Type}
		agg := buckets[key]
		if agg == nil {
			agg = &bucketAgg{users: make(map[string]struct{}), sessions: make(map[string]struct{})}
			buckets[key] = agg
		}
		agg.count++
		if e.UserID != "" {
			agg.users[e.UserID] = struct{}{}
		}
		if e.SessionID != "" {
			agg.sessions[e.SessionID] = struct{}{}
		}
	}

	out := make([]storage.EventTypeBucket, 0, len(buckets))
	for key, agg := range buckets {
		out = append(out, storage.EventTypeBucket{
			Period:         key.at,
			Type:           key.typ,
			Count:          agg.count,
			UniqueUsers:    int64(len(agg.users)),
			UniqueSessions: int64(len(agg.sessions)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Period.Equal(out[j].Period) {
			return out[i].Type < out[j].Type
		}
		return out[i].Period.Before(out[j].Period)
	})
	return out, nil
}

func (r events) AggregateByDimension(ctx context.Context, dimension string, from, to time.Time, eventTypes []types.EventType) ([]storage.DimensionBucket, error) {
	if _, ok := storage.DimensionColumn(dimension); !ok {
		return nil, nil
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	type dimAgg struct {
		count int64
		users map[string]struct{}
	}
	values := make(map[string]*dimAgg)

	for _, e := range r.collectLocked(storage.EventFilter{From: from, To: to, Types: eventTypes}) {
		value := dimensionValue(e, dimension)
		if value == "" {
			continue
		}
		agg := values[value]
		if agg == nil {
			agg = &dimAgg{users: make(map[string]struct{})}
			values[value] = agg
		}
		agg.count++
		if e.UserID != "" {
			agg.users[e.UserID] = struct{}{}
		}
	}

	out := make([]storage.DimensionBucket, 0, len(values))
	for value, agg := range values {
		out = append(out, storage.DimensionBucket{
			Value:       value,
			Count:       agg.count,
			UniqueUsers: int64(len(agg.users)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Value < out[j].Value
		}
		return out[i].Count > out[j].Count
	})
	return out, nil
}

func dimensionValue(e *types.Event, dimension string) string {
	switch dimension {
	case "country":
		return e.Country
	case "deviceType":
		return e.DeviceType
	case "browser":
		return e.Browser
	case "os":
		return e.OS
	case "module":
		return e.Module
	}
	return ""
}

func (r events) DistinctUsers(ctx context.Context, filter storage.EventFilter) ([]string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	set := make(map[string]struct{})
	for _, e := range r.collectLocked(filter) {
		if e.UserID != "" {
			set[e.UserID] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (r events) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state

	var doomed []eventKey
	st.eventIndex.Ascend(func(k eventKey) bool {
		if !k.ts.Before(cutoff) || len(doomed) >= limit {
			return false
		}
		doomed = append(doomed, k)
		return true
	})
	for _, k := range doomed {
		delete(st.events, k.id)
		st.eventIndex.Delete(k)
	}
	return int64(len(doomed)), nil
}

// pageSlice applies limit and offset the way the SQL store does.
func pageSlice[T any](in []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(in) {
			return nil
		}
		in = in[offset:]
	}
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}
