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

	"github.com/northstarhq/northstar/lib/types"
)

type goals struct {
	m *Memory
}

func (r goals) Create(ctx context.Context, goal *types.Goal) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	if _, ok := st.goals[goal.ID]; ok {
		return trace.AlreadyExists("goal %v already exists", goal.ID)
	}
	st.goals[goal.ID] = cloneGoal(goal)
	return nil
}

func (r goals) Get(ctx context.Context, id string) (*types.Goal, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	g, ok := r.m.state.goals[id]
	if !ok {
		return nil, trace.NotFound("goal %v is not found", id)
	}
	return cloneGoal(g), nil
}

func (r goals) listLocked(enabledOnly bool) []*types.Goal {
	var out []*types.Goal
	for _, g := range r.m.state.goals {
		if enabledOnly && !g.Enabled {
			continue
		}
		out = append(out, cloneGoal(g))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r goals) List(ctx context.Context) ([]*types.Goal, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.listLocked(false), nil
}

func (r goals) ListEnabled(ctx context.Context) ([]*types.Goal, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.listLocked(true), nil
}

func (r goals) Update(ctx context.Context, goal *types.Goal) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	existing, ok := st.goals[goal.ID]
	if !ok {
		return trace.NotFound("goal %v is not found", goal.ID)
	}
	g := cloneGoal(existing)
	g.Name = goal.Name
	g.Enabled = goal.Enabled
	g.EventType = goal.EventType
	g.Conditions = goal.Conditions.Clone()
	g.Value = goal.Value
	st.goals[g.ID] = g
	return nil
}

func (r goals) Delete(ctx context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	if _, ok := st.goals[id]; !ok {
		return trace.NotFound("goal %v is not found", id)
	}
	delete(st.goals, id)
	return nil
}

func (r goals) IncrementConversions(ctx context.Context, id string, value float64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	existing, ok := st.goals[id]
	if !ok {
		return trace.NotFound("goal %v is not found", id)
	}
	g := cloneGoal(existing)
	g.TotalConversions++
	g.TotalValue += value
	st.goals[id] = g
	return nil
}
