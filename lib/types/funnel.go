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
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// Funnel is a configured conversion path: an ordered list of event types
// users are expected to move through.
type Funnel struct {
	// ID uniquely identifies the funnel.
	ID string `json:"id"`
	// Name is the display name.
	Name string `json:"name"`
	// Enabled gates analysis; disabled funnels are kept but not analyzed.
	Enabled bool `json:"enabled"`
	// Steps are the path steps, sorted by Order.
	Steps []FunnelStep `json:"steps"`
	// CreatedAt is when the funnel was defined.
	CreatedAt time.Time `json:"createdAt"`
}

// FunnelStep is one step of a funnel. (FunnelID, Order) is unique.
type FunnelStep struct {
	// ID uniquely identifies the step.
	ID string `json:"id"`
	// FunnelID is the owning funnel.
	FunnelID string `json:"funnelId"`
	// Order is the zero based position of the step.
	Order int `json:"order"`
	// Name is the display name of the step.
	Name string `json:"name"`
	// EventType is the event type a user must produce to complete the
	// step.
	EventType EventType `json:"eventType"`
}

// CheckAndSetDefaults validates the funnel and normalizes its steps: steps
// are sorted by Order and must form a strictly increasing sequence starting
// at zero.
func (f *Funnel) CheckAndSetDefaults(now time.Time) error {
	if f.Name == "" {
		return trace.BadParameter("missing funnel name")
	}
	if len(f.Steps) == 0 {
		return trace.BadParameter("funnel %q has no steps", f.Name)
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now.UTC()
	}
	sort.Slice(f.Steps, func(i, j int) bool { return f.Steps[i].Order < f.Steps[j].Order })
	if f.Steps[0].Order != 0 {
		return trace.BadParameter("funnel %q steps must start at order 0, got %v", f.Name, f.Steps[0].Order)
	}
	for i := range f.Steps {
		step := &f.Steps[i]
		if err := step.EventType.Check(); err != nil {
			return trace.Wrap(err)
		}
		if i > 0 && step.Order <= f.Steps[i-1].Order {
			return trace.BadParameter("funnel %q step orders must strictly increase, %v follows %v",
				f.Name, step.Order, f.Steps[i-1].Order)
		}
		if step.ID == "" {
			step.ID = uuid.NewString()
		}
		step.FunnelID = f.ID
	}
	return nil
}
