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

package northstar

const (
	// MetricNamespace defines the prometheus metrics namespace used by
	// every subsystem.
	MetricNamespace = "northstar"

	// MetricTrackerQueueDepth measures events currently waiting in the
	// tracker queue
	MetricTrackerQueueDepth = "tracker_queue_depth"

	// MetricTrackerAcceptedEvents counts events accepted into the queue
	MetricTrackerAcceptedEvents = "tracker_accepted_events_total"

	// MetricTrackerDroppedEvents counts events dropped because the queue
	// was full
	MetricTrackerDroppedEvents = "tracker_dropped_events_total"

	// MetricTrackerInvalidEvents counts events rejected by validation
	MetricTrackerInvalidEvents = "tracker_invalid_events_total"

	// MetricTrackerFlushedEvents counts events written to the store by
	// the flusher
	MetricTrackerFlushedEvents = "tracker_flushed_events_total"

	// MetricTrackerFlushFailures counts failed flush attempts
	MetricTrackerFlushFailures = "tracker_flush_failures_total"

	// MetricTrackerFlushDuration measures flush latency
	MetricTrackerFlushDuration = "tracker_flush_seconds"

	// MetricProcessorProcessedEvents counts events fully processed
	MetricProcessorProcessedEvents = "processor_processed_events_total"

	// MetricProcessorFailedEvents counts events skipped due to per-event
	// faults
	MetricProcessorFailedEvents = "processor_failed_events_total"

	// MetricProcessorConversions counts goal conversions recorded
	MetricProcessorConversions = "processor_conversions_total"

	// MetricProcessorBatchDuration measures a full processing pass
	MetricProcessorBatchDuration = "processor_batch_seconds"

	// MetricSessionsClosed counts sessions closed, labeled by reason
	MetricSessionsClosed = "sessions_closed_total"

	// MetricSchedulerJobRuns counts job executions, labeled by job
	MetricSchedulerJobRuns = "scheduler_job_runs_total"

	// MetricSchedulerJobFailures counts job executions that returned an
	// error, labeled by job
	MetricSchedulerJobFailures = "scheduler_job_failures_total"

	// MetricSchedulerJobDuration measures job execution time, labeled by
	// job
	MetricSchedulerJobDuration = "scheduler_job_seconds"

	// MetricStoreRetentionDeleted counts events removed by the retention
	// sweep
	MetricStoreRetentionDeleted = "store_retention_deleted_total"

	// MetricCacheHits counts cache lookups that found a fresh entry
	MetricCacheHits = "cache_hits_total"

	// MetricCacheMisses counts cache lookups that missed
	MetricCacheMisses = "cache_misses_total"

	// MetricWebRequests counts API requests, labeled by handler and code
	MetricWebRequests = "web_requests_total"

	// MetricWebRateLimited counts API requests rejected by the rate
	// limiter
	MetricWebRateLimited = "web_rate_limited_total"
)
