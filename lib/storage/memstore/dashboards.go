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

type dashboards struct {
	m *Memory
}

func (r dashboards) Create(ctx context.Context, dashboard *types.Dashboard) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	if _, ok := st.dashboards[dashboard.ID]; ok {
		return trace.AlreadyExists("dashboard %v already exists", dashboard.ID)
	}
	st.dashboards[dashboard.ID] = cloneDashboard(dashboard)
	return nil
}

func (r dashboards) Get(ctx context.Context, id string) (*types.Dashboard, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d, ok := r.m.state.dashboards[id]
	if !ok {
		return nil, trace.NotFound("dashboard %v is not found", id)
	}
	return cloneDashboard(d), nil
}

func (r dashboards) List(ctx context.Context) ([]*types.Dashboard, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	out := make([]*types.Dashboard, 0, len(r.m.state.dashboards))
	for _, d := range r.m.state.dashboards {
		out = append(out, cloneDashboard(d))
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

func (r dashboards) Update(ctx context.Context, dashboard *types.Dashboard) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	existing, ok := st.dashboards[dashboard.ID]
	if !ok {
		return trace.NotFound("dashboard %v is not found", dashboard.ID)
	}
	d := cloneDashboard(dashboard)
	d.CreatedAt = existing.CreatedAt
	st.dashboards[d.ID] = d
	return nil
}

func (r dashboards) Delete(ctx context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	if _, ok := st.dashboards[id]; !ok {
		return trace.NotFound("dashboard %v is not found", id)
	}
	delete(st.dashboards, id)
	return nil
}
