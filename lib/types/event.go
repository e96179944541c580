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

// Package types defines the entities shared by the northstar storage,
// processing and analytics layers.
package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/northstarhq/northstar/lib/defaults"
)

// EventType classifies a tracked event.
type EventType string

const (
	// EventTypePageView is a page render.
	EventTypePageView EventType = "page_view"
	// EventTypeClick is a generic click.
	EventTypeClick EventType = "click"
	// EventTypeButtonClick is a click on an identified button.
	EventTypeButtonClick EventType = "button_click"
	// EventTypeLinkClick is a click on an outbound or internal link.
	EventTypeLinkClick EventType = "link_click"
	// EventTypeFormSubmit is a form submission.
	EventTypeFormSubmit EventType = "form_submit"
	// EventTypeAddToCart is an add to cart action.
	EventTypeAddToCart EventType = "add_to_cart"
	// EventTypeCheckout is a checkout start.
	EventTypeCheckout EventType = "checkout"
	// EventTypePurchase is a completed purchase.
	EventTypePurchase EventType = "purchase"
	// EventTypeSignup is an account creation.
	EventTypeSignup EventType = "signup"
	// EventTypeLogin is an authentication.
	EventTypeLogin EventType = "login"
	// EventTypeSearch is a search issued from the UI.
	EventTypeSearch EventType = "search"
	// EventTypeSearchQuery is a search with a recorded query string.
	EventTypeSearchQuery EventType = "search_query"
	// EventTypeError is a client side error report.
	EventTypeError EventType = "error"
	// EventTypeModuleOpen is an application module being opened.
	EventTypeModuleOpen EventType = "module_open"
	// EventTypeVideo is a video interaction.
	EventTypeVideo EventType = "video"
	// EventTypeAPIRequest is a server recorded API call.
	EventTypeAPIRequest EventType = "api_request"
	// EventTypeCustom is an application defined event.
	EventTypeCustom EventType = "custom"
)

// AllEventTypes enumerates every accepted event type.
var AllEventTypes = []EventType{
	EventTypePageView,
	EventTypeClick,
	EventTypeButtonClick,
	EventTypeLinkClick,
	EventTypeFormSubmit,
	EventTypeAddToCart,
	EventTypeCheckout,
	EventTypePurchase,
	EventTypeSignup,
	EventTypeLogin,
	EventTypeSearch,
	EventTypeSearchQuery,
	EventTypeError,
	EventTypeModuleOpen,
	EventTypeVideo,
	EventTypeAPIRequest,
	EventTypeCustom,
}

var knownEventTypes = func() map[EventType]struct{} {
	m := make(map[EventType]struct{}, len(AllEventTypes))
	for _, t := range AllEventTypes {
		m[t] = struct{}{}
	}
	return m
}()

// Check validates the event type against the closed enum.
func (t EventType) Check() error {
	if _, ok := knownEventTypes[t]; !ok {
		return trace.BadParameter("unknown event type %q", t)
	}
	return nil
}

// Event is the immutable atom of the analytics pipeline. Once persisted only
// the processed flag and the enrichment fields may change.
type Event struct {
	// ID uniquely identifies the event. Assigned at enqueue time.
	ID string `json:"id"`
	// Name is the application facing event name, e.g. "Viewed Pricing".
	Name string `json:"name"`
	// Type classifies the event; see AllEventTypes.
	Type EventType `json:"type"`
	// UserID links the event to a user, when known.
	UserID string `json:"userId,omitempty"`
	// SessionID links the event to a session, when known.
	SessionID string `json:"sessionId,omitempty"`
	// Module is the application module the event originated from.
	Module string `json:"module,omitempty"`
	// Properties is the free form property bag.
	Properties Properties `json:"properties,omitempty"`

	// PageURL is the page the event fired on.
	PageURL string `json:"pageUrl,omitempty"`
	// PageTitle is the title of that page.
	PageTitle string `json:"pageTitle,omitempty"`
	// Referrer is the document referrer reported by the client.
	Referrer string `json:"referrer,omitempty"`
	// UserAgent is the raw user agent string.
	UserAgent string `json:"userAgent,omitempty"`
	// IPAddress is the client address the event arrived from.
	IPAddress string `json:"ipAddress,omitempty"`

	// Country is filled by enrichment.
	Country string `json:"country,omitempty"`
	// City is filled by enrichment.
	City string `json:"city,omitempty"`
	// DeviceType is filled by enrichment: desktop, mobile or tablet.
	DeviceType string `json:"deviceType,omitempty"`
	// Browser is filled by enrichment.
	Browser string `json:"browser,omitempty"`
	// OS is filled by enrichment.
	OS string `json:"os,omitempty"`

	// Timestamp is the event time reported by the producer, UTC. This is
	// the canonical time for analytics.
	Timestamp time.Time `json:"timestamp"`
	// CreatedAt is the ingest time, UTC.
	CreatedAt time.Time `json:"createdAt"`

	// Processed reports whether the processor has consumed this event.
	Processed bool `json:"processed"`
	// ProcessedAt is when the processor consumed the event.
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
}

// Field returns the scalar event field with the given JSON name. Used by
// goal conditions and attribution, which address fields by name.
func (e *Event) Field(name string) (string, bool) {
	switch name {
	case "name":
		return e.Name, true
	case "type":
		return string(e.Type), true
	case "userId":
		return e.UserID, true
	case "sessionId":
		return e.SessionID, true
	case "module":
		return e.Module, true
	case "pageUrl":
		return e.PageURL, true
	case "pageTitle":
		return e.PageTitle, true
	case "referrer":
		return e.Referrer, true
	case "userAgent":
		return e.UserAgent, true
	case "ipAddress":
		return e.IPAddress, true
	case "country":
		return e.Country, true
	case "city":
		return e.City, true
	case "deviceType":
		return e.DeviceType, true
	case "browser":
		return e.Browser, true
	case "os":
		return e.OS, true
	default:
		return "", false
	}
}

// CheckAndSetDefaults validates the event and fills generated fields. now is
// the ingest time, used to stamp CreatedAt and to bound how far in the
// future Timestamp may claim to be.
func (e *Event) CheckAndSetDefaults(now time.Time) error {
	if e.Name == "" {
		return trace.BadParameter("missing event name")
	}
	if err := e.Type.Check(); err != nil {
		return trace.Wrap(err)
	}
	if err := e.Properties.Check(); err != nil {
		return trace.Wrap(err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now.UTC()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = e.CreatedAt
	}
	e.Timestamp = e.Timestamp.UTC()
	if e.Timestamp.After(e.CreatedAt.Add(defaults.ClockSkewTolerance)) {
		return trace.BadParameter("event timestamp %v is more than %v ahead of ingest time %v",
			e.Timestamp, defaults.ClockSkewTolerance, e.CreatedAt)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
