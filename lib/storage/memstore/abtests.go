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
	"strings"

	"github.com/gravitational/trace"

	"github.com/northstarhq/northstar/lib/types"
)

type abtests struct {
	m *Memory
}

func assignmentKey(testID, userID string) string {
	return testID + "/" + userID
}

func (r abtests) Create(ctx context.Context, test *types.ABTest) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	if _, ok := st.abtests[test.ID]; ok {
		return trace.AlreadyExists("test %v already exists", test.ID)
	}
	t := cloneABTest(test)
	t.CreatedAt = t.CreatedAt.UTC()
	st.abtests[t.ID] = t
	return nil
}

func (r abtests) Get(ctx context.Context, id string) (*types.ABTest, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	t, ok := r.m.state.abtests[id]
	if !ok {
		return nil, trace.NotFound("test %v is not found", id)
	}
	return cloneABTest(t), nil
}

func (r abtests) List(ctx context.Context) ([]*types.ABTest, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	out := make([]*types.ABTest, 0, len(r.m.state.abtests))
	for _, t := range r.m.state.abtests {
		out = append(out, cloneABTest(t))
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

func (r abtests) Update(ctx context.Context, test *types.ABTest) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	existing, ok := st.abtests[test.ID]
	if !ok {
		return trace.NotFound("test %v is not found", test.ID)
	}
	t := cloneABTest(test)
	t.CreatedAt = existing.CreatedAt
	st.abtests[t.ID] = t
	return nil
}

func (r abtests) Delete(ctx context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	if _, ok := st.abtests[id]; !ok {
		return trace.NotFound("test %v is not found", id)
	}
	delete(st.abtests, id)
	// assignments follow their test
	for key, assignmentID := range st.assignmentIndex {
		if strings.HasPrefix(key, id+"/") {
			delete(st.assignments, assignmentID)
			delete(st.assignmentIndex, key)
		}
	}
	return nil
}

func (r abtests) GetAssignment(ctx context.Context, testID, userID string) (*types.ABAssignment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	assignmentID, ok := st.assignmentIndex[assignmentKey(testID, userID)]
	if !ok {
		return nil, trace.NotFound("user %v has no assignment in test %v", userID, testID)
	}
	return cloneAssignment(st.assignments[assignmentID]), nil
}

func (r abtests) CreateAssignment(ctx context.Context, assignment *types.ABAssignment) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	st := r.m.state
	key := assignmentKey(assignment.TestID, assignment.UserID)
	if _, ok := st.assignmentIndex[key]; ok {
		return trace.AlreadyExists("user %v is already assigned in test %v", assignment.UserID, assignment.TestID)
	}
	a := cloneAssignment(assignment)
	a.AssignedAt = a.AssignedAt.UTC()
	st.assignments[a.ID] = a
	st.assignmentIndex[key] = a.ID
	return nil
}

func (r abtests) CountAssignments(ctx context.Context, testID string) (map[string]int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	out := make(map[string]int64)
	for _, a := range r.m.state.assignments {
		if a.TestID == testID {
			out[a.Variant]++
		}
	}
	return out, nil
}
