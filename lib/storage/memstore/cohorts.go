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

type cohorts struct {
	m *Memory
}

func (r cohorts) Create(ctx context.Context, cohort *types.Cohort) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	if _, ok := st.cohorts[cohort.ID]; ok {
		return trace.AlreadyExists("cohort %v already exists", cohort.ID)
	}
	st.cohorts[cohort.ID] = cloneCohort(cohort)
	return nil
}

func (r cohorts) Get(ctx context.Context, id string) (*types.Cohort, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.state.cohorts[id]
	if !ok {
		return nil, trace.NotFound("cohort %v is not found", id)
	}
	return cloneCohort(c), nil
}

func (r cohorts) List(ctx context.Context) ([]*types.Cohort, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	out := make([]*types.Cohort, 0, len(r.m.state.cohorts))
	for _, c := range r.m.state.cohorts {
		out = append(out, cloneCohort(c))
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

func (r cohorts) Delete(ctx context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	if _, ok := st.cohorts[id]; !ok {
		return trace.NotFound("cohort %v is not found", id)
	}
	delete(st.cohorts, id)
	return nil
}
