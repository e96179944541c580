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

	"github.com/northstarhq/northstar/lib/types"
)

type exportjobs struct {
	m *Memory
}

func (r exportjobs) Create(ctx context.Context, job *types.ExportJob) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	if _, ok := st.exportJobs[job.ID]; ok {
		return trace.AlreadyExists("export job %v already exists", job.ID)
	}
	j := cloneExportJob(job)
	j.CreatedAt = j.CreatedAt.UTC()
	st.exportJobs[j.ID] = j
	return nil
}

func (r exportjobs) Get(ctx context.Context, id string) (*types.ExportJob, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	j, ok := r.m.state.exportJobs[id]
	if !ok {
		return nil, trace.NotFound("export job %v is not found", id)
	}
	return cloneExportJob(j), nil
}

func (r exportjobs) List(ctx context.Context, status types.ExportJobStatus) ([]*types.ExportJob, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	var out []*types.ExportJob
	for _, j := range r.m.state.exportJobs {
		if status != "" && j.Status != status {
			continue
		}
		out = append(out, cloneExportJob(j))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r exportjobs) Update(ctx context.Context, job *types.ExportJob) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	existing, ok := st.exportJobs[job.ID]
	if !ok {
		return trace.NotFound("export job %v is not found", job.ID)
	}
	j := cloneExportJob(job)
	j.CreatedAt = existing.CreatedAt
	st.exportJobs[j.ID] = j
	return nil
}

func (r exportjobs) Delete(ctx context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	if _, ok := st.exportJobs[id]; !ok {
		return trace.NotFound("export job %v is not found", id)
	}
	delete(st.exportJobs, id)
	return nil
}

func (r exportjobs) ListExpired(ctx context.Context, now time.Time) ([]*types.ExportJob, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	var out []*types.ExportJob
	for _, j := range r.m.state.exportJobs {
		if j.Status != types.ExportJobCompleted || j.ExpiresAt == nil {
			continue
		}
		if !j.ExpiresAt.After(now) {
			out = append(out, cloneExportJob(j))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(*out[j].ExpiresAt)
	})
	return out, nil
}
