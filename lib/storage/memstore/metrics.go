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

type metrics struct {
	m *Memory
}

func metricMatches(f storage.MetricFilter, m *types.Metric) bool {
	if f.Name != "" && m.Name != f.Name {
		return false
	}
	if f.Period != "" && m.Period != f.Period {
		return false
	}
	if f.Module != "" && m.Module != f.Module {
		return false
	}
	if !f.From.IsZero() && m.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && m.Timestamp.After(f.To) {
		return false
	}
	return true
}

func (r metrics) Create(ctx context.Context, metric *types.Metric) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	if _, ok := st.metrics[metric.ID]; ok {
		return trace.AlreadyExists("metric %v already exists", metric.ID)
	}
	m := cloneMetric(metric)
	m.Timestamp = m.Timestamp.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	st.metrics[m.ID] = m
	return nil
}

func (r metrics) Get(ctx context.Context, id string) (*types.Metric, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	m, ok := r.m.state.metrics[id]
	if !ok {
		return nil, trace.NotFound("metric %v is not found", id)
	}
	return cloneMetric(m), nil
}

func (r metrics) listLocked(filter storage.MetricFilter, ascending bool) []*types.Metric {
	var matched []*types.Metric
	for _, m := range r.m.state.metrics {
		if metricMatches(filter, m) {
			matched = append(matched, m)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		less := matched[i].Timestamp.Before(matched[j].Timestamp)
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			less = matched[i].ID < matched[j].ID
		}
		if ascending {
			return less
		}
		return !less
	})
	return matched
}

func (r metrics) List(ctx context.Context, filter storage.MetricFilter) ([]*types.Metric, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	matched := pageSlice(r.listLocked(filter, false), filter.Limit, filter.Offset)
	out := make([]*types.Metric, 0, len(matched))
	for _, m := range matched {
		out = append(out, cloneMetric(m))
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (r metrics) Count(ctx context.Context, filter storage.MetricFilter) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	filter.Limit, filter.Offset = 0, 0
	return int64(len(r.listLocked(filter, true))), nil
}

func (r metrics) Delete(ctx context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	if _, ok := st.metrics[id]; !ok {
		return trace.NotFound("metric %v is not found", id)
	}
	delete(st.metrics, id)
	return nil
}

func (r metrics) GetTimeSeries(ctx context.Context, name string, from, to time.Time, period types.Period) ([]*types.Metric, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	matched := r.listLocked(storage.MetricFilter{
		Name:   name,
		Period: period,
		From:   from,
		To:     to,
	}, true)
	out := make([]*types.Metric, 0, len(matched))
	for _, m := range matched {
		out = append(out, cloneMetric(m))
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
