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

// Package northstar holds constants shared across the whole project.
package northstar

import (
	"strings"
)

const (
	// ComponentKey is the log field that carries the component name, e.g.
	// a service or a background loop.
	ComponentKey = "component"

	// ComponentTracker is the event intake queue and flusher.
	ComponentTracker = "tracker"

	// ComponentProcessor is the unprocessed-event pipeline.
	ComponentProcessor = "processor"

	// ComponentSessions is session lifecycle management and the
	// inactivity janitor.
	ComponentSessions = "sessions"

	// ComponentAnalytics covers the query engines (aggregation, funnels,
	// cohorts, attribution, scoring).
	ComponentAnalytics = "analytics"

	// ComponentScheduler is the periodic job runner.
	ComponentScheduler = "scheduler"

	// ComponentStore is the persistence layer.
	ComponentStore = "store"

	// ComponentCache is the Redis cache layer.
	ComponentCache = "cache"

	// ComponentWeb is the HTTP API surface.
	ComponentWeb = "web"

	// ComponentService is top level process wiring.
	ComponentService = "service"

	// ComponentDiag is the diagnostic endpoint (metrics, liveness, pprof).
	ComponentDiag = "diag"
)

// Component generates a colon-separated component name for log fields,
// e.g. Component("scheduler", "hourly") -> "scheduler:hourly".
func Component(components ...string) string {
	return strings.Join(components, ":")
}
