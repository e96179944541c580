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

type funnels struct {
	m *Memory
}

func (r funnels) Create(ctx context.Context, funnel *types.Funnel) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	if _, ok := st.funnels[funnel.ID]; ok {
		return trace.AlreadyExists("funnel %v already exists", funnel.ID)
	}
	st.funnels[funnel.ID] = cloneFunnel(funnel)
	return nil
}

func (r funnels) Get(ctx context.Context, id string) (*types.Funnel, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	f, ok := r.m.state.funnels[id]
	if !ok {
		return nil, trace.NotFound("funnel %v is not found", id)
	}
	return cloneFunnel(f), nil
}

func (r funnels) List(ctx context.Context) ([]*types.Funnel, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	out := make([]*types.Funnel, 0, len(r.m.state.funnels))
	for _, f := range r.m.state.funnels {
		out = append(out, cloneFunnel(f))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (r funnels) Update(ctx context.Context, funnel *types.Funnel) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	existing, ok := st.funnels[funnel.ID]
	if !ok {
		return trace.NotFound("funnel %v is not found", funnel.ID)
	}
	f := cloneFunnel(funnel)
	f.CreatedAt = existing.CreatedAt
	st.funnels[f.ID] = f
	return nil
}

func (r funnels) Delete(ctx context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	if _, ok := st.funnels[id]; !ok {
		return trace.NotFound("funnel %v is not found", id)
	}
	delete(st.funnels, id)
	return nil
}
