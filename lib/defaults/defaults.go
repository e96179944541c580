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

// Package defaults contains default constants set in various parts of
// the northstar codebase.
package defaults

import (
	"time"
)

const (
	// HTTPListenAddr is the default address of the analytics API.
	HTTPListenAddr = ":8080"

	// DiagAddr is the default address of the diagnostic endpoint serving
	// metrics, liveness and pprof.
	DiagAddr = "127.0.0.1:3000"
)

// Event intake defaults.
const (
	// BatchSize is the number of events the tracker accumulates before a
	// size-triggered flush, and the number of events a processing pass
	// claims from the store.
	BatchSize = 1000

	// TrackerQueueSize caps the tracker's in-memory queue. Events arriving
	// beyond this are dropped and counted.
	TrackerQueueSize = 10000

	// FlushInterval is how long a non-empty tracker queue may wait before
	// a time-triggered flush.
	FlushInterval = 5 * time.Second

	// FlushTick is the granularity at which the flusher re-checks its
	// flush conditions.
	FlushTick = 100 * time.Millisecond

	// FlushRetryBase is the first delay after a failed flush.
	FlushRetryBase = 100 * time.Millisecond

	// FlushRetryMax caps the flush retry delay.
	FlushRetryMax = time.Second

	// FlushFailureWarningThreshold is the number of consecutive flush
	// failures after which the tracker escalates its log level.
	FlushFailureWarningThreshold = 5

	// TrackerCloseTimeout bounds how long Close waits for the final
	// drain of the queue.
	TrackerCloseTimeout = 10 * time.Second
)

// Event validation limits.
const (
	// MaxPropertyKeys caps the number of entries in an event property bag.
	MaxPropertyKeys = 100

	// MaxPropertyKeyLen caps the length of a property key in bytes.
	MaxPropertyKeyLen = 255

	// MaxPropertyValueLen caps the length of a property value in bytes,
	// after serialization for non-string values.
	MaxPropertyValueLen = 4096

	// ClockSkewTolerance is how far in the future, relative to arrival
	// time, an event timestamp may claim to be.
	ClockSkewTolerance = 5 * time.Minute
)

// Session defaults.
const (
	// SessionTimeout is the inactivity period after which an open session
	// is closed by the janitor.
	SessionTimeout = 1800 * time.Second

	// SessionJanitorInterval is how often the janitor sweeps for idle
	// sessions.
	SessionJanitorInterval = time.Minute

	// BounceMaxDuration is the upper duration bound of a bounced session.
	BounceMaxDuration = 30 * time.Second

	// BounceMaxPageViews is the upper page view bound of a bounced
	// session.
	BounceMaxPageViews = 1
)

// Processing and scheduling defaults.
const (
	// ProcessInterval is how often the scheduler triggers an event
	// processing pass.
	ProcessInterval = time.Minute

	// RetentionDays is how long raw events are kept before the retention
	// sweep removes them.
	RetentionDays = 90

	// RetentionSweepBatch caps how many expired events a single retention
	// DELETE removes.
	RetentionSweepBatch = 5000

	// ExportJobTTL is how long a finished export job is kept before the
	// expiry sweep removes it.
	ExportJobTTL = 24 * time.Hour
)

// Attribution defaults.
const (
	// AttributionLookbackDays bounds the touchpoint window considered
	// before a conversion.
	AttributionLookbackDays = 30

	// TimeDecayScaleDays is the e-folding scale of the time decay model:
	// a touchpoint N days before the conversion weighs exp(-N/7).
	TimeDecayScaleDays = 7.0

	// PositionBasedEdgeCredit is the credit given to each of the first and
	// last touchpoints by the position based model.
	PositionBasedEdgeCredit = 0.4

	// PositionBasedMiddleCredit is the credit split between the middle
	// touchpoints by the position based model.
	PositionBasedMiddleCredit = 0.2
)

// Store defaults.
const (
	// DBPoolSize is the base size of the database connection pool.
	DBPoolSize = 20

	// DBMaxOverflow is how many connections beyond the base pool size may
	// be opened under load.
	DBMaxOverflow = 10

	// DBPoolTimeout bounds the wait for a free connection.
	DBPoolTimeout = 30 * time.Second

	// DBPoolRecycle is the maximum lifetime of a pooled connection.
	DBPoolRecycle = time.Hour
)

// Cache defaults.
const (
	// CacheMaxConnections caps the Redis connection pool.
	CacheMaxConnections = 50

	// CacheSocketTimeout bounds individual Redis operations.
	CacheSocketTimeout = 5 * time.Second

	// CachePrefix namespaces every analytics cache key.
	CachePrefix = "analytics:"

	// AnalyticsCacheTTL is the freshness window of cached query results.
	AnalyticsCacheTTL = 5 * time.Minute

	// DashboardSnapshotTTL is the freshness window of the cached
	// dashboard overview.
	DashboardSnapshotTTL = time.Minute
)

// API defaults.
const (
	// RateLimitPerMinute is the number of API requests a client may make
	// in one rate limit window.
	RateLimitPerMinute = 100

	// RateLimitWindow is the fixed rate limit window.
	RateLimitWindow = time.Minute

	// HealthCheckTimeout bounds the store and cache round trips of a
	// health check.
	HealthCheckTimeout = 2 * time.Second
)
