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
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// Goal declares a conversion: an event type plus a set of conditions an
// event must satisfy. An empty condition set matches every event of the
// type.
type Goal struct {
	// ID uniquely identifies the goal.
	ID string `json:"id"`
	// Name is the display name.
	Name string `json:"name"`
	// Enabled gates evaluation; disabled goals never fire.
	Enabled bool `json:"enabled"`
	// EventType is the event type the goal evaluates.
	EventType EventType `json:"eventType"`
	// Conditions maps a key to the value the event must carry under that
	// key, checked against event properties first and event fields
	// second.
	Conditions Properties `json:"conditions,omitempty"`
	// Value is the monetary value credited per conversion.
	Value float64 `json:"value,omitempty"`

	// TotalConversions counts conversions fired by the goal.
	TotalConversions int64 `json:"totalConversions"`
	// TotalValue accumulates the value of fired conversions.
	TotalValue float64 `json:"totalValue"`

	// CreatedAt is when the goal was defined.
	CreatedAt time.Time `json:"createdAt"`
}

// CheckAndSetDefaults validates the goal and fills generated fields.
func (g *Goal) CheckAndSetDefaults(now time.Time) error {
	if g.Name == "" {
		return trace.BadParameter("missing goal name")
	}
	if err := g.EventType.Check(); err != nil {
		return trace.Wrap(err)
	}
	if err := g.Conditions.Check(); err != nil {
		return trace.Wrap(err)
	}
	if g.Value < 0 {
		return trace.BadParameter("goal value must not be negative, got %v", g.Value)
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now.UTC()
	}
	return nil
}

// Matches reports whether the event satisfies the goal: the types must
// agree and every condition must equal the event property of that name,
// falling back to the event field of the same name when the property is
// absent. An empty condition set matches every event of the type.
func (g *Goal) Matches(event *Event) bool {
	if g.EventType != event.Type {
		return false
	}
	for key, want := range g.Conditions {
		if got, ok := event.Properties[key]; ok {
			if !reflect.DeepEqual(got, want) {
				return false
			}
			continue
		}
		got, ok := event.Field(key)
		if !ok || want != any(got) {
			return false
		}
	}
	return true
}

// GoalConversion records one goal firing on one event. At most one
// conversion exists per (goal, event) pair.
type GoalConversion struct {
	// ID uniquely identifies the conversion.
	ID string `json:"id"`
	// GoalID is the goal that fired.
	GoalID string `json:"goalId"`
	// UserID is the converting user, when the event carried one.
	UserID string `json:"userId,omitempty"`
	// SessionID is the session the conversion happened in, when known.
	SessionID string `json:"sessionId,omitempty"`
	// EventID is the event that satisfied the goal.
	EventID string `json:"eventId"`
	// Value is the value credited, normally the goal value.
	Value float64 `json:"value"`
	// Properties is a snapshot of the matching event's properties.
	Properties Properties `json:"properties,omitempty"`
	// ConvertedAt is the event timestamp.
	ConvertedAt time.Time `json:"convertedAt"`
}

// CheckAndSetDefaults validates the conversion and fills generated fields.
func (c *GoalConversion) CheckAndSetDefaults(now time.Time) error {
	if c.GoalID == "" {
		return trace.BadParameter("missing conversion goal id")
	}
	if c.EventID == "" {
		return trace.BadParameter("missing conversion event id")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.ConvertedAt.IsZero() {
		c.ConvertedAt = now.UTC()
	}
	c.ConvertedAt = c.ConvertedAt.UTC()
	return nil
}
