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

package events

import (
	"strings"

	"github.com/northstarhq/northstar/lib/types"
)

// GeoInfo carries the geographic attributes resolved from a client address.
type GeoInfo struct {
	// Country is the ISO country name.
	Country string
	// City is the city name.
	City string
}

// Enrich fills the derived event fields: device class, browser and OS from
// the user agent, geography from geo. Fields already set on the event are
// left alone. Enrichment cannot fail; an unrecognized user agent leaves
// the derived fields empty.
func Enrich(event *types.Event, geo *GeoInfo, userAgent string) {
	if event.UserAgent == "" {
		event.UserAgent = userAgent
	}
	if event.DeviceType == "" {
		event.DeviceType = deviceTypeOf(event.UserAgent)
	}
	if event.Browser == "" {
		event.Browser = browserOf(event.UserAgent)
	}
	if event.OS == "" {
		event.OS = osOf(event.UserAgent)
	}
	if geo != nil {
		if event.Country == "" {
			event.Country = geo.Country
		}
		if event.City == "" {
			event.City = geo.City
		}
	}
}

func deviceTypeOf(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case ua == "":
		return ""
	case strings.Contains(ua, "ipad"), strings.Contains(ua, "tablet"):
		return "tablet"
	case strings.Contains(ua, "android") && !strings.Contains(ua, "mobile"):
		// Android tablets report Android without the Mobile token.
		return "tablet"
	case strings.Contains(ua, "mobi"), strings.Contains(ua, "iphone"), strings.Contains(ua, "android"):
		return "mobile"
	default:
		return "desktop"
	}
}

// browserOf matches vendor tokens most specific first: Edge and Opera
// advertise Chrome, Chrome advertises Safari.
func browserOf(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case ua == "":
		return ""
	case strings.Contains(ua, "edg/"), strings.Contains(ua, "edge/"):
		return "Edge"
	case strings.Contains(ua, "opr/"), strings.Contains(ua, "opera"):
		return "Opera"
	case strings.Contains(ua, "chrome"), strings.Contains(ua, "crios"):
		return "Chrome"
	case strings.Contains(ua, "firefox"), strings.Contains(ua, "fxios"):
		return "Firefox"
	case strings.Contains(ua, "safari"):
		return "Safari"
	case strings.Contains(ua, "msie"), strings.Contains(ua, "trident"):
		return "Internet Explorer"
	default:
		return ""
	}
}

func osOf(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case ua == "":
		return ""
	case strings.Contains(ua, "windows"):
		return "Windows"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ipod"):
		// Before the Mac check, iOS agents claim "like Mac OS X".
		return "iOS"
	case strings.Contains(ua, "mac os x"), strings.Contains(ua, "macintosh"):
		return "macOS"
	case strings.Contains(ua, "android"):
		// Before the Linux check, Android agents carry a Linux token.
		return "Android"
	case strings.Contains(ua, "linux"):
		return "Linux"
	default:
		return ""
	}
}
