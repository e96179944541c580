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

package pgstore

import (
	"context"
	"fmt"

	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"
)

// schemaVersion defines the current schema version.
// Increment this value when adding a new migration.
const schemaVersion = 1

// getMigration returns migration SQL for a schema version.
func getMigration(version int) string {
	switch version {
	case 1:
		return migrateV1
		// case 2:
		//   return migrateV2
	}
	panic(fmt.Sprintf("migration version not implemented: %v", version))
}

// migrate applies any migrations newer than the version recorded in the
// schema_version table, each inside its own transaction.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version BIGINT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	); err != nil {
		return ConvertError(err)
	}

	var current int
	if err := s.pool.QueryRow(ctx,
		"SELECT COALESCE(max(version), 0) FROM schema_version",
	).Scan(&current); err != nil {
		return ConvertError(err)
	}
	if current > schemaVersion {
		return trace.BadParameter(
			"database schema version %v is newer than this binary supports (%v)", current, schemaVersion)
	}

	for version := current + 1; version <= schemaVersion; version++ {
		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, getMigration(version)); err != nil {
				return trace.Wrap(err)
			}
			if _, err := tx.Exec(ctx,
				"INSERT INTO schema_version (version) VALUES ($1)", version,
			); err != nil {
				return trace.Wrap(err)
			}
			return nil
		})
		if err != nil {
			return trace.Wrap(ConvertError(err), "applying schema migration %v", version)
		}
		s.cfg.Logger.InfoContext(ctx, "Applied schema migration.", "version", version)
	}
	return nil
}

// migrateV1 is the baseline schema.
//
// Raw events keep nullable association columns so that anonymous traffic is
// representable; unique constraints carry the idempotence rules the
// processor and the assignment service rely on.
const migrateV1 = `
	CREATE TABLE events (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		event_type TEXT NOT NULL,
		user_id TEXT,
		session_id TEXT,
		module TEXT,
		properties JSONB NOT NULL DEFAULT '{}',
		page_url TEXT,
		page_title TEXT,
		referrer TEXT,
		user_agent TEXT,
		ip_address TEXT,
		country TEXT,
		city TEXT,
		device_type TEXT,
		browser TEXT,
		os TEXT,
		timestamp TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		processed_at TIMESTAMPTZ
	);
	CREATE INDEX events_timestamp ON events (timestamp);
	CREATE INDEX events_user_id_timestamp ON events (user_id, timestamp);
	CREATE INDEX events_session_id_timestamp ON events (session_id, timestamp);
	CREATE INDEX events_type_timestamp ON events (event_type, timestamp);
	CREATE INDEX events_unprocessed ON events (timestamp) WHERE NOT processed;

	CREATE TABLE users (
		id TEXT PRIMARY KEY,
		external_id TEXT,
		email TEXT,
		name TEXT,
		properties JSONB NOT NULL DEFAULT '{}',
		first_seen_at TIMESTAMPTZ NOT NULL,
		last_seen_at TIMESTAMPTZ NOT NULL,
		total_sessions BIGINT NOT NULL DEFAULT 0,
		total_events BIGINT NOT NULL DEFAULT 0,
		total_conversions BIGINT NOT NULL DEFAULT 0,
		lifetime_value DOUBLE PRECISION NOT NULL DEFAULT 0,
		CONSTRAINT users_counters_nonnegative CHECK (
			total_sessions >= 0 AND total_events >= 0 AND
			total_conversions >= 0 AND lifetime_value >= 0
		)
	);
	CREATE UNIQUE INDEX users_external_id ON users (external_id) WHERE external_id IS NOT NULL;
	CREATE INDEX users_first_seen_at ON users (first_seen_at);

	CREATE TABLE sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		last_activity_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		duration_seconds BIGINT NOT NULL DEFAULT 0,
		page_views INTEGER NOT NULL DEFAULT 0,
		events_count INTEGER NOT NULL DEFAULT 0,
		is_bounce BOOLEAN NOT NULL DEFAULT FALSE,
		converted BOOLEAN NOT NULL DEFAULT FALSE,
		conversion_value DOUBLE PRECISION NOT NULL DEFAULT 0,
		utm_source TEXT,
		utm_medium TEXT,
		utm_campaign TEXT,
		referrer TEXT,
		landing_page TEXT
	);
	CREATE INDEX sessions_user_id_started_at ON sessions (user_id, started_at);
	CREATE INDEX sessions_started_at ON sessions (started_at);
	CREATE INDEX sessions_idle ON sessions (last_activity_at) WHERE ended_at IS NULL;

	CREATE TABLE metrics (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		metric_type TEXT NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		period TEXT,
		module TEXT,
		dimensions JSONB NOT NULL DEFAULT '{}',
		timestamp TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX metrics_name_timestamp ON metrics (name, timestamp);

	CREATE TABLE funnels (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE funnel_steps (
		id TEXT PRIMARY KEY,
		funnel_id TEXT NOT NULL REFERENCES funnels (id) ON DELETE CASCADE,
		step_order INTEGER NOT NULL,
		name TEXT NOT NULL,
		event_type TEXT NOT NULL,
		CONSTRAINT funnel_steps_funnel_order UNIQUE (funnel_id, step_order)
	);

	CREATE TABLE cohorts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		criteria JSONB NOT NULL DEFAULT '{}',
		period_type TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE goals (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		event_type TEXT NOT NULL,
		conditions JSONB NOT NULL DEFAULT '{}',
		value DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_conversions BIGINT NOT NULL DEFAULT 0,
		total_value DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX goals_enabled_event_type ON goals (event_type) WHERE enabled;

	CREATE TABLE goal_conversions (
		id TEXT PRIMARY KEY,
		goal_id TEXT NOT NULL REFERENCES goals (id) ON DELETE CASCADE,
		user_id TEXT,
		session_id TEXT,
		event_id TEXT NOT NULL,
		value DOUBLE PRECISION NOT NULL DEFAULT 0,
		properties JSONB NOT NULL DEFAULT '{}',
		converted_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT goal_conversions_goal_event UNIQUE (goal_id, event_id)
	);
	CREATE INDEX goal_conversions_goal_id_converted_at ON goal_conversions (goal_id, converted_at);

	CREATE TABLE ab_tests (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		variants JSONB NOT NULL,
		ended_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE ab_test_assignments (
		id TEXT PRIMARY KEY,
		test_id TEXT NOT NULL REFERENCES ab_tests (id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		variant TEXT NOT NULL,
		assigned_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT ab_test_assignments_test_user UNIQUE (test_id, user_id)
	);

	CREATE TABLE dashboards (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		layout JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE export_jobs (
		id TEXT PRIMARY KEY,
		job_type TEXT NOT NULL,
		status TEXT NOT NULL,
		params JSONB NOT NULL DEFAULT '{}',
		file_path TEXT,
		message TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		expires_at TIMESTAMPTZ
	);
	CREATE INDEX export_jobs_expires ON export_jobs (expires_at) WHERE status = 'completed';
`
