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

// User is derived state, upserted from events. Counters only ever grow and
// are maintained through atomic additive updates in the store.
type User struct {
	// ID uniquely identifies the user inside northstar.
	ID string `json:"id"`
	// ExternalID is the identity the customer application knows the user
	// by. Unique when set.
	ExternalID string `json:"externalId,omitempty"`
	// Email is the user email, when identified.
	Email string `json:"email,omitempty"`
	// Name is the display name, when identified.
	Name string `json:"name,omitempty"`
	// Properties is the free form trait bag.
	Properties Properties `json:"properties,omitempty"`

	// FirstSeenAt is the timestamp of the first event attributed to the
	// user.
	FirstSeenAt time.Time `json:"firstSeenAt"`
	// LastSeenAt is the timestamp of the most recent activity.
	LastSeenAt time.Time `json:"lastSeenAt"`

	// TotalSessions counts sessions opened by the user.
	TotalSessions int64 `json:"totalSessions"`
	// TotalEvents counts processed events attributed to the user.
	TotalEvents int64 `json:"totalEvents"`
	// TotalConversions counts goal conversions attributed to the user.
	TotalConversions int64 `json:"totalConversions"`
	// LifetimeValue accumulates conversion value attributed to the user.
	LifetimeValue float64 `json:"lifetimeValue"`
}

// CheckAndSetDefaults validates the user and fills generated fields.
func (u *User) CheckAndSetDefaults(now time.Time) error {
	if err := u.Properties.Check(); err != nil {
		return trace.Wrap(err)
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.FirstSeenAt.IsZero() {
		u.FirstSeenAt = now.UTC()
	}
	if u.LastSeenAt.IsZero() {
		u.LastSeenAt = u.FirstSeenAt
	}
	if u.LastSeenAt.Before(u.FirstSeenAt) {
		return trace.BadParameter("user %v last seen %v precedes first seen %v", u.ID, u.LastSeenAt, u.FirstSeenAt)
	}
	return nil
}

// UserStatsDelta is an additive update to the user counters, applied
// atomically by the store.
type UserStatsDelta struct {
	// Sessions is added to TotalSessions.
	Sessions int64
	// Events is added to TotalEvents.
	Events int64
	// Conversions is added to TotalConversions.
	Conversions int64
	// Value is added to LifetimeValue.
	Value float64
}

// Check rejects deltas that would shrink a counter.
func (d UserStatsDelta) Check() error {
	if d.Sessions < 0 || d.Events < 0 || d.Conversions < 0 || d.Value < 0 {
		return trace.BadParameter("user counters are monotone, negative delta rejected: %+v", d)
	}
	return nil
}
