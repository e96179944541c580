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

package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// ABTest is an experiment splitting users across variants.
type ABTest struct {
	// ID uniquely identifies the test.
	ID string `json:"id"`
	// Name is the display name.
	Name string `json:"name"`
	// Enabled gates assignment; disabled tests return NotFound on
	// assignment.
	Enabled bool `json:"enabled"`
	// Variants are the buckets users are split into.
	Variants []ABVariant `json:"variants"`
	// EndedAt marks a concluded test. Concluded tests no longer assign.
	EndedAt *time.Time `json:"endedAt,omitempty"`
	// CreatedAt is when the test was defined.
	CreatedAt time.Time `json:"createdAt"`
}

// ABVariant is one bucket of an A/B test.
type ABVariant struct {
	// Name identifies the variant, unique within the test.
	Name string `json:"name"`
	// Weight is the relative share of users assigned to the variant.
	Weight float64 `json:"weight"`
}

// CheckAndSetDefaults validates the test and fills generated fields.
func (t *ABTest) CheckAndSetDefaults(now time.Time) error {
	if t.Name == "" {
		return trace.BadParameter("missing test name")
	}
	if len(t.Variants) < 2 {
		return trace.BadParameter("test %q needs at least two variants", t.Name)
	}
	seen := make(map[string]struct{}, len(t.Variants))
	var total float64
	for _, v := range t.Variants {
		if v.Name == "" {
			return trace.BadParameter("test %q has a variant with no name", t.Name)
		}
		if _, ok := seen[v.Name]; ok {
			return trace.BadParameter("test %q has duplicate variant %q", t.Name, v.Name)
		}
		seen[v.Name] = struct{}{}
		if v.Weight < 0 {
			return trace.BadParameter("test %q variant %q has negative weight", t.Name, v.Name)
		}
		total += v.Weight
	}
	if total <= 0 {
		return trace.BadParameter("test %q variant weights sum to zero", t.Name)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now.UTC()
	}
	return nil
}

// Active reports whether the test may assign new users at the given time.
func (t *ABTest) Active(now time.Time) bool {
	if !t.Enabled {
		return false
	}
	return t.EndedAt == nil || t.EndedAt.After(now)
}

// ABAssignment pins one user to one variant of one test. (TestID, UserID)
// is unique.
type ABAssignment struct {
	// ID uniquely identifies the assignment.
	ID string `json:"id"`
	// TestID is the experiment.
	TestID string `json:"testId"`
	// UserID is the assigned user.
	UserID string `json:"userId"`
	// Variant is the bucket the user landed in.
	Variant string `json:"variant"`
	// AssignedAt is when the assignment was made.
	AssignedAt time.Time `json:"assignedAt"`
}

// CheckAndSetDefaults validates the assignment and fills generated fields.
func (a *ABAssignment) CheckAndSetDefaults(now time.Time) error {
	if a.TestID == "" {
		return trace.BadParameter("missing assignment test id")
	}
	if a.UserID == "" {
		return trace.BadParameter("missing assignment user id")
	}
	if a.Variant == "" {
		return trace.BadParameter("missing assignment variant")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.AssignedAt.IsZero() {
		a.AssignedAt = now.UTC()
	}
	return nil
}
