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

// Package storage defines the persistence contract of northstar.
//
// Error conventions shared by every implementation:
//   - a missing id resolves to trace.NotFound
//   - a unique or integrity violation resolves to trace.AlreadyExists
//   - an unreachable backend resolves to trace.ConnectionProblem
//
// Callers must test errors with the trace predicates, never by string.
package storage

import (
	"context"
	"time"

	"github.com/northstarhq/northstar/lib/types"
)

// Store is the persistence entry point. Repository accessors return views
// bound to the store's current scope: on the root store they run
// autocommit, inside WithTx they run on the transaction.
type Store interface {
	Events() Events
	Users() Users
	Sessions() Sessions
	Metrics() Metrics
	Funnels() Funnels
	Goals() Goals
	Conversions() Conversions
	Cohorts() Cohorts
	ABTests() ABTests
	Dashboards() Dashboards
	ExportJobs() ExportJobs

	// WithTx runs fn inside a single transaction scope. The transaction
	// commits when fn returns nil and rolls back when fn returns an
	// error. Reads inside fn observe the scope's own writes. Concurrent
	// scopes may conflict; the conflict surfaces as trace.AlreadyExists
	// or trace.CompareFailed from the operation that lost.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases held resources. The store is unusable afterwards.
	Close() error
}

// EventFilter selects events. Zero fields do not filter. The time window is
// the closed interval [From, To] on the event timestamp.
type EventFilter struct {
	// UserID restricts to one user.
	UserID string
	// SessionID restricts to one session.
	SessionID string
	// UserIDs restricts to a set of users. Nil means no restriction.
	UserIDs []string
	// Types restricts to the named event types.
	Types []types.EventType
	// From is the inclusive window start.
	From time.Time
	// To is the inclusive window end.
	To time.Time
	// Processed filters on the processed flag when set.
	Processed *bool
	// Ascending orders by timestamp ascending instead of the default
	// descending.
	Ascending bool
	// Limit caps the result, 0 means no cap.
	Limit int
	// Offset skips leading rows.
	Offset int
}

// EventTypeBucket is one aggregation row: events of one type in one time
// bucket.
type EventTypeBucket struct {
	// Period is the bucket start.
	Period time.Time
	// Type is the event type.
	Type types.EventType
	// Count is the number of events.
	Count int64
	// UniqueUsers is the number of distinct non-empty user ids.
	UniqueUsers int64
	// UniqueSessions is the number of distinct non-empty session ids.
	UniqueSessions int64
}

// DimensionBucket is one aggregation row over an event dimension value.
type DimensionBucket struct {
	// Value is the dimension value, e.g. a country code.
	Value string
	// Count is the number of events carrying the value.
	Count int64
	// UniqueUsers is the number of distinct non-empty user ids.
	UniqueUsers int64
}

// Events persists and queries the event log.
type Events interface {
	// Create persists one event.
	Create(ctx context.Context, event *types.Event) error
	// CreateBatch persists a batch atomically and returns how many rows
	// were written. Either the whole batch is visible or none of it.
	CreateBatch(ctx context.Context, events []*types.Event) (int, error)
	// Get returns an event by id.
	Get(ctx context.Context, id string) (*types.Event, error)
	// List returns events matching the filter.
	List(ctx context.Context, filter EventFilter) ([]*types.Event, error)
	// Count counts events matching the filter.
	Count(ctx context.Context, filter EventFilter) (int64, error)
	// Delete removes an event by id.
	Delete(ctx context.Context, id string) error

	// GetUnprocessed returns up to limit unprocessed events ordered by
	// timestamp ascending.
	GetUnprocessed(ctx context.Context, limit int) ([]*types.Event, error)
	// MarkProcessed flips the processed flag on the given ids, stamping
	// processedAt, and returns how many rows actually changed. Rows
	// already processed by a concurrent claimer are not counted.
	MarkProcessed(ctx context.Context, ids []string, at time.Time) (int64, error)

	// AggregateByType buckets events by Period.Truncate and event type
	// over the closed window [from, to].
	AggregateByType(ctx context.Context, from, to time.Time, period types.Period, eventTypes []types.EventType) ([]EventTypeBucket, error)
	// AggregateByDimension groups events over one of the whitelisted
	// dimensions, see DimensionColumn.
	AggregateByDimension(ctx context.Context, dimension string, from, to time.Time, eventTypes []types.EventType) ([]DimensionBucket, error)
	// DistinctUsers returns the distinct non-empty user ids of events
	// matching the filter.
	DistinctUsers(ctx context.Context, filter EventFilter) ([]string, error)

	// DeleteOlderThan removes up to limit events with timestamps before
	// the cutoff and reports how many went away. Used by the retention
	// sweep, which calls it until it returns less than limit.
	DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// UserFilter selects users. Zero fields do not filter.
type UserFilter struct {
	// ExternalID matches the customer facing identity.
	ExternalID string
	// Email matches the identified email.
	Email string
	// FirstSeenFrom is the inclusive lower bound on FirstSeenAt.
	FirstSeenFrom time.Time
	// FirstSeenTo is the exclusive upper bound on FirstSeenAt.
	FirstSeenTo time.Time
	// Limit caps the result, 0 means no cap.
	Limit int
	// Offset skips leading rows.
	Offset int
}

// Users persists derived user state.
type Users interface {
	// Create persists one user.
	Create(ctx context.Context, user *types.User) error
	// Ensure creates the user with first and last seen set to seenAt if
	// no row exists yet. Existing rows are left untouched.
	Ensure(ctx context.Context, id string, seenAt time.Time) error
	// Get returns a user by id.
	Get(ctx context.Context, id string) (*types.User, error)
	// GetByExternalID returns a user by the customer facing identity.
	GetByExternalID(ctx context.Context, externalID string) (*types.User, error)
	// List returns users matching the filter ordered by FirstSeenAt.
	List(ctx context.Context, filter UserFilter) ([]*types.User, error)
	// Count counts users matching the filter.
	Count(ctx context.Context, filter UserFilter) (int64, error)
	// Update replaces the identity fields and properties of a user.
	// Counters and seen timestamps are not touched.
	Update(ctx context.Context, user *types.User) error
	// Delete removes a user by id.
	Delete(ctx context.Context, id string) error

	// IncrementStats applies an additive counter update and advances
	// LastSeenAt to seenAt if that is later. Counters never go down;
	// negative deltas are rejected with trace.BadParameter.
	IncrementStats(ctx context.Context, id string, delta types.UserStatsDelta, seenAt time.Time) error
	// ListIDsFirstSeenBetween returns the ids of users first seen in the
	// half open window [from, to).
	ListIDsFirstSeenBetween(ctx context.Context, from, to time.Time) ([]string, error)
}

// SessionFilter selects sessions. Zero fields do not filter. The window is
// half open [From, To) on StartedAt.
type SessionFilter struct {
	// UserID restricts to one user.
	UserID string
	// Open filters on open (true) or closed (false) sessions when set.
	Open *bool
	// From is the inclusive window start on StartedAt.
	From time.Time
	// To is the exclusive window end on StartedAt.
	To time.Time
	// Limit caps the result, 0 means no cap.
	Limit int
	// Offset skips leading rows.
	Offset int
}

// SessionAggregates summarizes the sessions started in a window.
type SessionAggregates struct {
	// TotalSessions is the number of sessions.
	TotalSessions int64
	// UniqueUsers is the number of distinct owning users.
	UniqueUsers int64
	// AvgDurationSeconds is the mean session duration.
	AvgDurationSeconds float64
	// AvgPageViews is the mean page view count.
	AvgPageViews float64
	// BouncedSessions is the number of sessions flagged as bounces.
	BouncedSessions int64
	// ConvertedSessions is the number of sessions with a conversion.
	ConvertedSessions int64
	// TotalConversionValue is the summed conversion value.
	TotalConversionValue float64
}

// Sessions persists derived session state.
type Sessions interface {
	// Create persists one session.
	Create(ctx context.Context, session *types.Session) error
	// Get returns a session by id.
	Get(ctx context.Context, id string) (*types.Session, error)
	// List returns sessions matching the filter ordered by StartedAt
	// descending.
	List(ctx context.Context, filter SessionFilter) ([]*types.Session, error)
	// Count counts sessions matching the filter.
	Count(ctx context.Context, filter SessionFilter) (int64, error)
	// Delete removes a session by id.
	Delete(ctx context.Context, id string) error

	// RecordActivity folds one event into an open session: advances
	// LastActivityAt to at if later, bumps the event counter and, for
	// page views, the page view counter, then recomputes the duration
	// and the bounce flag. Returns the updated session. Closed sessions
	// are left untouched and returned as is.
	RecordActivity(ctx context.Context, id string, at time.Time, pageView bool) (*types.Session, error)
	// MarkConverted flags the session as converted and adds value to its
	// conversion value.
	MarkConverted(ctx context.Context, id string, value float64) error
	// End closes a session: EndedAt is set to LastActivityAt, the
	// duration and bounce flag are finalized. Closing a closed session
	// is a no-op returning the session as is.
	End(ctx context.Context, id string) (*types.Session, error)
	// ListIdleOpen returns up to limit open sessions whose LastActivityAt
	// is before the cutoff, oldest first.
	ListIdleOpen(ctx context.Context, lastActivityBefore time.Time, limit int) ([]*types.Session, error)

	// Aggregates summarizes sessions started in the half open window
	// [from, to).
	Aggregates(ctx context.Context, from, to time.Time) (*SessionAggregates, error)
	// CountDistinctUsersStarted counts the distinct users among userIDs
	// with a session started in the half open window [from, to).
	CountDistinctUsersStarted(ctx context.Context, userIDs []string, from, to time.Time) (int64, error)
}

// MetricFilter selects materialized metrics. The window is the closed
// interval [From, To] on the metric timestamp.
type MetricFilter struct {
	// Name matches the series name.
	Name string
	// Period matches the bucketing granularity.
	Period types.Period
	// Module matches the application module.
	Module string
	// From is the inclusive window start.
	From time.Time
	// To is the inclusive window end.
	To time.Time
	// Limit caps the result, 0 means no cap.
	Limit int
	// Offset skips leading rows.
	Offset int
}

// Metrics persists materialized metric values.
type Metrics interface {
	// Create persists one metric row.
	Create(ctx context.Context, metric *types.Metric) error
	// Get returns a metric by id.
	Get(ctx context.Context, id string) (*types.Metric, error)
	// List returns metrics matching the filter ordered by timestamp
	// descending.
	List(ctx context.Context, filter MetricFilter) ([]*types.Metric, error)
	// Count counts metrics matching the filter.
	Count(ctx context.Context, filter MetricFilter) (int64, error)
	// Delete removes a metric by id.
	Delete(ctx context.Context, id string) error

	// GetTimeSeries returns the named series over the closed window
	// [from, to] ordered by timestamp ascending. An empty period matches
	// every granularity.
	GetTimeSeries(ctx context.Context, name string, from, to time.Time, period types.Period) ([]*types.Metric, error)
}

// Funnels persists funnel definitions.
type Funnels interface {
	// Create persists a funnel and its steps.
	Create(ctx context.Context, funnel *types.Funnel) error
	// Get returns a funnel with steps sorted by order.
	Get(ctx context.Context, id string) (*types.Funnel, error)
	// List returns all funnels with their steps.
	List(ctx context.Context) ([]*types.Funnel, error)
	// Update replaces the funnel definition including its steps.
	Update(ctx context.Context, funnel *types.Funnel) error
	// Delete removes a funnel and its steps.
	Delete(ctx context.Context, id string) error
}

// Goals persists goal definitions and their running counters.
type Goals interface {
	// Create persists one goal.
	Create(ctx context.Context, goal *types.Goal) error
	// Get returns a goal by id.
	Get(ctx context.Context, id string) (*types.Goal, error)
	// List returns all goals.
	List(ctx context.Context) ([]*types.Goal, error)
	// ListEnabled returns the goals eligible for evaluation.
	ListEnabled(ctx context.Context) ([]*types.Goal, error)
	// Update replaces the goal definition. Counters are not touched.
	Update(ctx context.Context, goal *types.Goal) error
	// Delete removes a goal.
	Delete(ctx context.Context, id string) error

	// IncrementConversions bumps the conversion counter and adds value
	// to the accumulated total, atomically.
	IncrementConversions(ctx context.Context, id string, value float64) error
}

// ConversionFilter selects goal conversions. The window is the closed
// interval [From, To] on ConvertedAt.
type ConversionFilter struct {
	// GoalID restricts to one goal.
	GoalID string
	// UserID restricts to one user.
	UserID string
	// SessionID restricts to one session.
	SessionID string
	// From is the inclusive window start.
	From time.Time
	// To is the inclusive window end.
	To time.Time
	// Limit caps the result, 0 means no cap.
	Limit int
	// Offset skips leading rows.
	Offset int
}

// Conversions persists goal conversions.
type Conversions interface {
	// Create persists one conversion. A second conversion for the same
	// (goal, event) pair fails with trace.AlreadyExists.
	Create(ctx context.Context, conversion *types.GoalConversion) error
	// Get returns a conversion by id.
	Get(ctx context.Context, id string) (*types.GoalConversion, error)
	// List returns conversions matching the filter ordered by
	// ConvertedAt descending.
	List(ctx context.Context, filter ConversionFilter) ([]*types.GoalConversion, error)
	// Count counts conversions matching the filter.
	Count(ctx context.Context, filter ConversionFilter) (int64, error)
	// ExistsForEvent reports whether the goal already fired on the event.
	ExistsForEvent(ctx context.Context, goalID, eventID string) (bool, error)
}

// Cohorts persists saved cohort definitions.
type Cohorts interface {
	// Create persists one cohort.
	Create(ctx context.Context, cohort *types.Cohort) error
	// Get returns a cohort by id.
	Get(ctx context.Context, id string) (*types.Cohort, error)
	// List returns all cohorts.
	List(ctx context.Context) ([]*types.Cohort, error)
	// Delete removes a cohort.
	Delete(ctx context.Context, id string) error
}

// ABTests persists experiments and their user assignments.
type ABTests interface {
	// Create persists one test.
	Create(ctx context.Context, test *types.ABTest) error
	// Get returns a test by id.
	Get(ctx context.Context, id string) (*types.ABTest, error)
	// List returns all tests.
	List(ctx context.Context) ([]*types.ABTest, error)
	// Update replaces the test definition.
	Update(ctx context.Context, test *types.ABTest) error
	// Delete removes a test and its assignments.
	Delete(ctx context.Context, id string) error

	// GetAssignment returns the variant assignment of one user in one
	// test.
	GetAssignment(ctx context.Context, testID, userID string) (*types.ABAssignment, error)
	// CreateAssignment persists an assignment. A second assignment for
	// the same (test, user) pair fails with trace.AlreadyExists.
	CreateAssignment(ctx context.Context, assignment *types.ABAssignment) error
	// CountAssignments returns per variant assignment counts for a test.
	CountAssignments(ctx context.Context, testID string) (map[string]int64, error)
}

// Dashboards persists dashboard definitions.
type Dashboards interface {
	// Create persists one dashboard.
	Create(ctx context.Context, dashboard *types.Dashboard) error
	// Get returns a dashboard by id.
	Get(ctx context.Context, id string) (*types.Dashboard, error)
	// List returns all dashboards.
	List(ctx context.Context) ([]*types.Dashboard, error)
	// Update replaces the dashboard definition and bumps UpdatedAt.
	Update(ctx context.Context, dashboard *types.Dashboard) error
	// Delete removes a dashboard.
	Delete(ctx context.Context, id string) error
}

// ExportJobs persists export job lifecycle state.
type ExportJobs interface {
	// Create persists one job.
	Create(ctx context.Context, job *types.ExportJob) error
	// Get returns a job by id.
	Get(ctx context.Context, id string) (*types.ExportJob, error)
	// List returns jobs with the given status, or all jobs when status
	// is empty, newest first.
	List(ctx context.Context, status types.ExportJobStatus) ([]*types.ExportJob, error)
	// Update replaces the job row.
	Update(ctx context.Context, job *types.ExportJob) error
	// Delete removes a job.
	Delete(ctx context.Context, id string) error

	// ListExpired returns completed jobs whose ExpiresAt is at or before
	// now.
	ListExpired(ctx context.Context, now time.Time) ([]*types.ExportJob, error)
}
