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

	"github.com/northstarhq/northstar/lib/defaults"
)

// Session is a bounded window of one user's activity. Sessions are opened
// explicitly by the client; the processor only updates sessions that exist.
// A session closes on explicit end or when the inactivity janitor sweeps it.
type Session struct {
	// ID uniquely identifies the session.
	ID string `json:"id"`
	// UserID is the owning user.
	UserID string `json:"userId"`

	// StartedAt is when the session was opened, UTC.
	StartedAt time.Time `json:"startedAt"`
	// LastActivityAt is the timestamp of the latest event folded into the
	// session. Never precedes StartedAt.
	LastActivityAt time.Time `json:"lastActivityAt"`
	// EndedAt is set at close. A nil EndedAt means the session is open.
	EndedAt *time.Time `json:"endedAt,omitempty"`
	// DurationSeconds is LastActivityAt minus StartedAt, floored.
	DurationSeconds int64 `json:"durationSeconds"`

	// PageViews counts page_view events folded into the session.
	PageViews int `json:"pageViews"`
	// EventsCount counts all events folded into the session.
	EventsCount int `json:"eventsCount"`
	// IsBounce marks sessions with at most one page view and under thirty
	// seconds of activity. Locked at close.
	IsBounce bool `json:"isBounce"`
	// Converted marks sessions linked to at least one goal conversion.
	Converted bool `json:"converted"`
	// ConversionValue accumulates the value of linked conversions.
	ConversionValue float64 `json:"conversionValue"`

	// UTMSource is the acquisition snapshot taken at open.
	UTMSource string `json:"utmSource,omitempty"`
	// UTMMedium is the acquisition snapshot taken at open.
	UTMMedium string `json:"utmMedium,omitempty"`
	// UTMCampaign is the acquisition snapshot taken at open.
	UTMCampaign string `json:"utmCampaign,omitempty"`
	// Referrer is the document referrer at open.
	Referrer string `json:"referrer,omitempty"`
	// LandingPage is the first page of the session.
	LandingPage string `json:"landingPage,omitempty"`
}

// CheckAndSetDefaults validates the session and fills generated fields.
func (s *Session) CheckAndSetDefaults(now time.Time) error {
	if s.UserID == "" {
		return trace.BadParameter("missing session user id")
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = now.UTC()
	}
	s.StartedAt = s.StartedAt.UTC()
	if s.LastActivityAt.IsZero() {
		s.LastActivityAt = s.StartedAt
	}
	if s.LastActivityAt.Before(s.StartedAt) {
		return trace.BadParameter("session %v last activity %v precedes start %v", s.ID, s.LastActivityAt, s.StartedAt)
	}
	return nil
}

// Closed reports whether the session has ended.
func (s *Session) Closed() bool {
	return s.EndedAt != nil
}

// ComputeBounce reports whether the session currently qualifies as a bounce.
func (s *Session) ComputeBounce() bool {
	return s.PageViews <= defaults.BounceMaxPageViews &&
		s.DurationSeconds < int64(defaults.BounceMaxDuration/time.Second)
}
