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

	"github.com/gravitational/trace"

	"github.com/northstarhq/northstar/lib/storage"
	"github.com/northstarhq/northstar/lib/types"
)

type conversions struct {
	m *Memory
}

func conversionKey(goalID, eventID string) string {
	return goalID + "/" + eventID
}

func conversionMatches(f storage.ConversionFilter, c *types.GoalConversion) bool {
	if f.GoalID != "" && c.GoalID != f.GoalID {
		return false
	}
	if f.UserID != "" && c.UserID != f.UserID {
		return false
	}
	if f.SessionID != "" && c.SessionID != f.SessionID {
		return false
	}
	if !f.From.IsZero() && c.ConvertedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && c.ConvertedAt.After(f.To) {
		return false
	}
	return true
}

func (r conversions) Create(ctx context.Context, conversion *types.GoalConversion) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	if _, ok := st.conversions[conversion.ID]; ok {
		return trace.AlreadyExists("conversion %v already exists", conversion.ID)
	}
	key := conversionKey(conversion.GoalID, conversion.EventID)
	if _, ok := st.conversionIndex[key]; ok {
		return trace.AlreadyExists("goal %v already fired on event %v", conversion.GoalID, conversion.EventID)
	}
	c := cloneConversion(conversion)
	c.ConvertedAt = c.ConvertedAt.UTC()
	st.conversions[c.ID] = c
	st.conversionIndex[key] = c.ID
	return nil
}

func (r conversions) Get(ctx context.Context, id string) (*types.GoalConversion, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.state.conversions[id]
	if !ok {
		return nil, trace.NotFound("conversion %v is not found", id)
	}
	return cloneConversion(c), nil
}

func (r conversions) listLocked(filter storage.ConversionFilter) []*types.GoalConversion {
	var matched []*types.GoalConversion
	for _, c := range r.m.state.conversions {
		if conversionMatches(filter, c) {
			matched = append(matched, c)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].ConvertedAt.Equal(matched[j].ConvertedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].ConvertedAt.After(matched[j].ConvertedAt)
	})
	return matched
}

func (r conversions) List(ctx context.Context, filter storage.ConversionFilter) ([]*types.GoalConversion, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	matched := pageSlice(r.listLocked(filter), filter.Limit, filter.Offset)
	out := make([]*types.GoalConversion, 0, len(matched))
	for _, c := range matched {
		out = append(out, cloneConversion(c))
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (r conversions) Count(ctx context.Context, filter storage.ConversionFilter) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	filter.Limit, filter.Offset = 0, 0
	return int64(len(r.listLocked(filter))), nil
}

func (r conversions) ExistsForEvent(ctx context.Context, goalID, eventID string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	_, ok := r.m.state.conversionIndex[conversionKey(goalID, eventID)]
	return ok, nil
}
