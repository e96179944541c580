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
	"slices"
	"time"

	"github.com/northstarhq/northstar/lib/types"
)

// The store never shares pointers with callers. Entries are cloned on the
// way in and on the way out, pointer fields included.

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}

func cloneEvent(e *types.Event) *types.Event {
	out := *e
	out.Properties = e.Properties.Clone()
	out.ProcessedAt = cloneTimePtr(e.ProcessedAt)
	return &out
}

func cloneUser(u *types.User) *types.User {
	out := *u
	out.Properties = u.Properties.Clone()
	return &out
}

func cloneSession(s *types.Session) *types.Session {
	out := *s
	out.EndedAt = cloneTimePtr(s.EndedAt)
	return &out
}

func cloneMetric(m *types.Metric) *types.Metric {
	out := *m
	out.Dimensions = m.Dimensions.Clone()
	return &out
}

func cloneFunnel(f *types.Funnel) *types.Funnel {
	out := *f
	out.Steps = slices.Clone(f.Steps)
	return &out
}

func cloneGoal(g *types.Goal) *types.Goal {
	out := *g
	out.Conditions = g.Conditions.Clone()
	return &out
}

func cloneConversion(c *types.GoalConversion) *types.GoalConversion {
	out := *c
	out.Properties = c.Properties.Clone()
	return &out
}

func cloneCohort(c *types.Cohort) *types.Cohort {
	out := *c
	out.Criteria = c.Criteria.Clone()
	return &out
}

func cloneABTest(t *types.ABTest) *types.ABTest {
	out := *t
	out.Variants = slices.Clone(t.Variants)
	out.EndedAt = cloneTimePtr(t.EndedAt)
	return &out
}

func cloneAssignment(a *types.ABAssignment) *types.ABAssignment {
	out := *a
	return &out
}

func cloneDashboard(d *types.Dashboard) *types.Dashboard {
	out := *d
	out.Layout = d.Layout.Clone()
	return &out
}

func cloneExportJob(j *types.ExportJob) *types.ExportJob {
	out := *j
	out.Params = j.Params.Clone()
	out.CompletedAt = cloneTimePtr(j.CompletedAt)
	out.ExpiresAt = cloneTimePtr(j.ExpiresAt)
	return &out
}
