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
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype/zeronull"

	"github.com/northstarhq/northstar/lib/defaults"
	"github.com/northstarhq/northstar/lib/storage"
	"github.com/northstarhq/northstar/lib/types"
)

type sessions struct {
	s *Store
}

const sessionColumns = `id, user_id, started_at, last_activity_at, ended_at,
	duration_seconds, page_views, events_count, is_bounce, converted, conversion_value,
	utm_source, utm_medium, utm_campaign, referrer, landing_page`

func scanSession(row pgx.Row) (*types.Session, error) {
	var s types.Session
	err := row.Scan(
		&s.ID, &s.UserID, &s.StartedAt, &s.LastActivityAt, &s.EndedAt,
		&s.DurationSeconds, &s.PageViews, &s.EventsCount, &s.IsBounce, &s.Converted, &s.ConversionValue,
		(*zeronull.Text)(&s.UTMSource), (*zeronull.Text)(&s.UTMMedium), (*zeronull.Text)(&s.UTMCampaign),
		(*zeronull.Text)(&s.Referrer), (*zeronull.Text)(&s.LandingPage),
	)
	if err != nil {
		return nil, err
	}
	s.StartedAt = s.StartedAt.UTC()
	s.LastActivityAt = s.LastActivityAt.UTC()
	if s.EndedAt != nil {
		at := s.EndedAt.UTC()
		s.EndedAt = &at
	}
	return &s, nil
}

func buildSessionWhere(f storage.SessionFilter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.Open != nil {
		if *f.Open {
			clauses = append(clauses, "ended_at IS NULL")
		} else {
			clauses = append(clauses, "ended_at IS NOT NULL")
		}
	}
	if !f.From.IsZero() {
		add("started_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("started_at < $%d", f.To)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r sessions) Create(ctx context.Context, session *types.Session) error {
	_, err := r.s.db.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		session.ID, session.UserID, session.StartedAt, session.LastActivityAt, session.EndedAt,
		session.DurationSeconds, session.PageViews, session.EventsCount,
		session.IsBounce, session.Converted, session.ConversionValue,
		zeronull.Text(session.UTMSource), zeronull.Text(session.UTMMedium), zeronull.Text(session.UTMCampaign),
		zeronull.Text(session.Referrer), zeronull.Text(session.LandingPage),
	)
	return ConvertError(err)
}

func (r sessions) Get(ctx context.Context, id string) (*types.Session, error) {
	session, err := scanSession(r.s.db.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = $1", id))
	if err != nil {
		if trace.IsNotFound(ConvertError(err)) {
			return nil, trace.NotFound("session %v is not found", id)
		}
		return nil, ConvertError(err)
	}
	return session, nil
}

func (r sessions) List(ctx context.Context, filter storage.SessionFilter) ([]*types.Session, error) {
	where, args := buildSessionWhere(filter)
	sql := "SELECT " + sessionColumns + " FROM sessions" + where +
		" ORDER BY started_at DESC" + limitOffset(filter.Limit, filter.Offset)

	rows, err := r.s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, ConvertError(err)
	}
	defer rows.Close()

	var out []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, ConvertError(err)
		}
		out = append(out, session)
	}
	return out, ConvertError(rows.Err())
}

func (r sessions) Count(ctx context.Context, filter storage.SessionFilter) (int64, error) {
	where, args := buildSessionWhere(filter)
	var n int64
	if err := r.s.db.QueryRow(ctx, "SELECT count(*) FROM sessions"+where, args...).Scan(&n); err != nil {
		return 0, ConvertError(err)
	}
	return n, nil
}

func (r sessions) Delete(ctx context.Context, id string) error {
	tag, err := r.s.db.Exec(ctx, "DELETE FROM sessions WHERE id = $1", id)
	return rowsAffected(tag, err, "session %v is not found", id)
}

func (r sessions) RecordActivity(ctx context.Context, id string, at time.Time, pageView bool) (*types.Session, error) {
	pageViewDelta := 0
	if pageView {
		pageViewDelta = 1
	}
	session, err := scanSession(r.s.db.QueryRow(ctx, `
		UPDATE sessions SET
			last_activity_at = GREATEST(last_activity_at, $2),
			events_count = events_count + 1,
			page_views = page_views + $3,
			duration_seconds = FLOOR(EXTRACT(EPOCH FROM GREATEST(last_activity_at, $2) - started_at))::BIGINT,
			is_bounce = page_views + $3 <= $4
				AND FLOOR(EXTRACT(EPOCH FROM GREATEST(last_activity_at, $2) - started_at))::BIGINT < $5
		WHERE id = $1 AND ended_at IS NULL
		RETURNING `+sessionColumns,
		id, at.UTC(), pageViewDelta,
		defaults.BounceMaxPageViews, int64(defaults.BounceMaxDuration/time.Second),
	))
	if err == nil {
		return session, nil
	}
	if !trace.IsNotFound(ConvertError(err)) {
		return nil, ConvertError(err)
	}
	// Either the session is closed or it never existed. Closed sessions
	// keep their finalized counters and bounce flag.
	session, err = r.Get(ctx, id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return session, nil
}

func (r sessions) MarkConverted(ctx context.Context, id string, value float64) error {
	tag, err := r.s.db.Exec(ctx, `
		UPDATE sessions SET converted = TRUE, conversion_value = conversion_value + $2
		WHERE id = $1`,
		id, value,
	)
	return rowsAffected(tag, err, "session %v is not found", id)
}

func (r sessions) End(ctx context.Context, id string) (*types.Session, error) {
	session, err := scanSession(r.s.db.QueryRow(ctx, `
		UPDATE sessions SET
			ended_at = last_activity_at,
			duration_seconds = FLOOR(EXTRACT(EPOCH FROM last_activity_at - started_at))::BIGINT,
			is_bounce = page_views <= $2
				AND FLOOR(EXTRACT(EPOCH FROM last_activity_at - started_at))::BIGINT < $3
		WHERE id = $1 AND ended_at IS NULL
		RETURNING `+sessionColumns,
		id, defaults.BounceMaxPageViews, int64(defaults.BounceMaxDuration/time.Second),
	))
	if err == nil {
		return session, nil
	}
	if !trace.IsNotFound(ConvertError(err)) {
		return nil, ConvertError(err)
	}
	session, err = r.Get(ctx, id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return session, nil
}

func (r sessions) ListIdleOpen(ctx context.Context, lastActivityBefore time.Time, limit int) ([]*types.Session, error) {
	rows, err := r.s.db.Query(ctx,
		"SELECT "+sessionColumns+` FROM sessions
		WHERE ended_at IS NULL AND last_activity_at < $1
		ORDER BY last_activity_at ASC LIMIT $2`,
		lastActivityBefore.UTC(), limit,
	)
	if err != nil {
		return nil, ConvertError(err)
	}
	defer rows.Close()

	var out []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, ConvertError(err)
		}
		out = append(out, session)
	}
	return out, ConvertError(rows.Err())
}

func (r sessions) Aggregates(ctx context.Context, from, to time.Time) (*storage.SessionAggregates, error) {
	var agg storage.SessionAggregates
	err := r.s.db.QueryRow(ctx, `
		SELECT count(*),
			count(DISTINCT user_id),
			COALESCE(avg(duration_seconds), 0),
			COALESCE(avg(page_views), 0),
			count(*) FILTER (WHERE is_bounce),
			count(*) FILTER (WHERE converted),
			COALESCE(sum(conversion_value), 0)
		FROM sessions
		WHERE started_at >= $1 AND started_at < $2`,
		from, to,
	).Scan(
		&agg.TotalSessions, &agg.UniqueUsers,
		&agg.AvgDurationSeconds, &agg.AvgPageViews,
		&agg.BouncedSessions, &agg.ConvertedSessions, &agg.TotalConversionValue,
	)
	if err != nil {
		return nil, ConvertError(err)
	}
	return &agg, nil
}

func (r sessions) CountDistinctUsersStarted(ctx context.Context, userIDs []string, from, to time.Time) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	var n int64
	err := r.s.db.QueryRow(ctx, `
		SELECT count(DISTINCT user_id) FROM sessions
		WHERE user_id = ANY($1) AND started_at >= $2 AND started_at < $3`,
		userIDs, from, to,
	).Scan(&n)
	if err != nil {
		return 0, ConvertError(err)
	}
	return n, nil
}
