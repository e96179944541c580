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

	"github.com/northstarhq/northstar/lib/storage"
	"github.com/northstarhq/northstar/lib/types"
)

type events struct {
	s *Store
}

var eventColumnList = []string{
	"id", "name", "event_type", "user_id", "session_id", "module",
	"properties", "page_url", "page_title", "referrer", "user_agent",
	"ip_address", "country", "city", "device_type", "browser", "os",
	"timestamp", "created_at", "processed", "processed_at",
}

var eventColumns = strings.Join(eventColumnList, ", ")

func eventInsertArgs(e *types.Event) []any {
	props := e.Properties
	if props == nil {
		props = types.Properties{}
	}
	return []any{
		e.ID, e.Name, string(e.Type),
		zeronull.Text(e.UserID), zeronull.Text(e.SessionID), zeronull.Text(e.Module),
		props,
		zeronull.Text(e.PageURL), zeronull.Text(e.PageTitle), zeronull.Text(e.Referrer),
		zeronull.Text(e.UserAgent), zeronull.Text(e.IPAddress),
		zeronull.Text(e.Country), zeronull.Text(e.City), zeronull.Text(e.DeviceType),
		zeronull.Text(e.Browser), zeronull.Text(e.OS),
		e.Timestamp, e.CreatedAt, e.Processed, e.ProcessedAt,
	}
}

func scanEvent(row pgx.Row) (*types.Event, error) {
	var e types.Event
	err := row.Scan(
		&e.ID, &e.Name, &e.Type,
		(*zeronull.Text)(&e.UserID), (*zeronull.Text)(&e.SessionID), (*zeronull.Text)(&e.Module),
		&e.Properties,
		(*zeronull.Text)(&e.PageURL), (*zeronull.Text)(&e.PageTitle), (*zeronull.Text)(&e.Referrer),
		(*zeronull.Text)(&e.UserAgent), (*zeronull.Text)(&e.IPAddress),
		(*zeronull.Text)(&e.Country), (*zeronull.Text)(&e.City), (*zeronull.Text)(&e.DeviceType),
		(*zeronull.Text)(&e.Browser), (*zeronull.Text)(&e.OS),
		&e.Timestamp, &e.CreatedAt, &e.Processed, &e.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Timestamp = e.Timestamp.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	if e.ProcessedAt != nil {
		at := e.ProcessedAt.UTC()
		e.ProcessedAt = &at
	}
	return &e, nil
}

// buildEventWhere renders the filter into a WHERE clause. Arguments are
// numbered after any already present in args.
func buildEventWhere(f storage.EventFilter, args []any) (string, []any) {
	var clauses []string
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.SessionID != "" {
		add("session_id = $%d", f.SessionID)
	}
	if f.UserIDs != nil {
		add("user_id = ANY($%d)", f.UserIDs)
	}
	if len(f.Types) > 0 {
		add("event_type = ANY($%d)", eventTypeStrings(f.Types))
	}
	if !f.From.IsZero() {
		add("timestamp >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("timestamp <= $%d", f.To)
	}
	if f.Processed != nil {
		add("processed = $%d", *f.Processed)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func eventTypeStrings(eventTypes []types.EventType) []string {
	out := make([]string, len(eventTypes))
	for i, t := range eventTypes {
		out[i] = string(t)
	}
	return out
}

func (r events) Create(ctx context.Context, event *types.Event) error {
	sql := "INSERT INTO events (" + eventColumns + ") VALUES (" + placeholders(len(eventColumnList)) + ")"
	if _, err := r.s.db.Exec(ctx, sql, eventInsertArgs(event)...); err != nil {
		return ConvertError(err)
	}
	return nil
}

func (r events) CreateBatch(ctx context.Context, batch []*types.Event) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	n, err := r.s.db.CopyFrom(ctx, pgx.Identifier{"events"}, eventColumnList,
		pgx.CopyFromSlice(len(batch), func(i int) ([]any, error) {
			return eventInsertArgs(batch[i]), nil
		}),
	)
	if err != nil {
		return 0, ConvertError(err)
	}
	return int(n), nil
}

func (r events) Get(ctx context.Context, id string) (*types.Event, error) {
	event, err := scanEvent(r.s.db.QueryRow(ctx,
		"SELECT "+eventColumns+" FROM events WHERE id = $1", id))
	if err != nil {
		if trace.IsNotFound(ConvertError(err)) {
			return nil, trace.NotFound("event %v is not found", id)
		}
		return nil, ConvertError(err)
	}
	return event, nil
}

func (r events) List(ctx context.Context, filter storage.EventFilter) ([]*types.Event, error) {
	where, args := buildEventWhere(filter, nil)
	sql := "SELECT " + eventColumns + " FROM events" + where
	if filter.Ascending {
		sql += " ORDER BY timestamp ASC"
	} else {
		sql += " ORDER BY timestamp DESC"
	}
	sql += limitOffset(filter.Limit, filter.Offset)

	rows, err := r.s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, ConvertError(err)
	}
	defer rows.Close()

	var out []*types.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, ConvertError(err)
		}
		out = append(out, event)
	}
	return out, ConvertError(rows.Err())
}

func (r events) Count(ctx context.Context, filter storage.EventFilter) (int64, error) {
	where, args := buildEventWhere(filter, nil)
	var n int64
	if err := r.s.db.QueryRow(ctx, "SELECT count(*) FROM events"+where, args...).Scan(&n); err != nil {
		return 0, ConvertError(err)
	}
	return n, nil
}

func (r events) Delete(ctx context.Context, id string) error {
	tag, err := r.s.db.Exec(ctx, "DELETE FROM events WHERE id = $1", id)
	return rowsAffected(tag, err, "event %v is not found", id)
}

func (r events) GetUnprocessed(ctx context.Context, limit int) ([]*types.Event, error) {
	processed := false
	return r.List(ctx, storage.EventFilter{
		Processed: &processed,
		Ascending: true,
		Limit:     limit,
	})
}

func (r events) MarkProcessed(ctx context.Context, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.s.db.Exec(ctx,
		"UPDATE events SET processed = TRUE, processed_at = $2 WHERE id = ANY($1) AND NOT processed",
		ids, at.UTC(),
	)
	if err != nil {
		return 0, ConvertError(err)
	}
	return tag.RowsAffected(), nil
}

func (r events) AggregateByType(ctx context.Context, from, to time.Time, period types.Period, eventTypes []types.EventType) ([]storage.EventTypeBucket, error) {
	if err := period.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	args := []any{string(period), from, to}
	sql := `
		SELECT date_trunc($1, timestamp) AS bucket, event_type,
			count(*), count(DISTINCT user_id), count(DISTINCT session_id)
		FROM events
		WHERE timestamp >= $2 AND timestamp <= $3`
	if len(eventTypes) > 0 {
		args = append(args, eventTypeStrings(eventTypes))
		sql += fmt.Sprintf(" AND event_type = ANY($%d)", len(args))
	}
	sql += " GROUP BY 1, 2 ORDER BY 1 ASC, 2 ASC"

	rows, err := r.s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, ConvertError(err)
	}
	defer rows.Close()

	var out []storage.EventTypeBucket
	for rows.Next() {
		var b storage.EventTypeBucket
		if err := rows.Scan(&b.Period, &b.Type, &b.Count, &b.UniqueUsers, &b.UniqueSessions); err != nil {
			return nil, ConvertError(err)
		}
		b.Period = b.Period.UTC()
		out = append(out, b)
	}
	return out, ConvertError(rows.Err())
}

func (r events) AggregateByDimension(ctx context.Context, dimension string, from, to time.Time, eventTypes []types.EventType) ([]storage.DimensionBucket, error) {
	column, ok := storage.DimensionColumn(dimension)
	if !ok {
		return nil, nil
	}
	args := []any{from, to}
	sql := fmt.Sprintf(`
		SELECT %[1]s, count(*), count(DISTINCT user_id)
		FROM events
		WHERE %[1]s IS NOT NULL AND timestamp >= $1 AND timestamp <= $2`, column)
	if len(eventTypes) > 0 {
		args = append(args, eventTypeStrings(eventTypes))
		sql += fmt.Sprintf(" AND event_type = ANY($%d)", len(args))
	}
	sql += " GROUP BY 1 ORDER BY count(*) DESC"

	rows, err := r.s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, ConvertError(err)
	}
	defer rows.Close()

	var out []storage.DimensionBucket
	for rows.Next() {
		var b storage.DimensionBucket
		if err := rows.Scan(&b.Value, &b.Count, &b.UniqueUsers); err != nil {
			return nil, ConvertError(err)
		}
		out = append(out, b)
	}
	return out, ConvertError(rows.Err())
}

func (r events) DistinctUsers(ctx context.Context, filter storage.EventFilter) ([]string, error) {
	where, args := buildEventWhere(filter, nil)
	if where == "" {
		where = " WHERE user_id IS NOT NULL"
	} else {
		where += " AND user_id IS NOT NULL"
	}
	rows, err := r.s.db.Query(ctx, "SELECT DISTINCT user_id FROM events"+where, args...)
	if err != nil {
		return nil, ConvertError(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, ConvertError(err)
		}
		out = append(out, id)
	}
	return out, ConvertError(rows.Err())
}

func (r events) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	tag, err := r.s.db.Exec(ctx,
		"DELETE FROM events WHERE id = ANY(ARRAY(SELECT id FROM events WHERE timestamp < $1 LIMIT $2))",
		cutoff.UTC(), limit,
	)
	if err != nil {
		return 0, ConvertError(err)
	}
	return tag.RowsAffected(), nil
}

// placeholders renders "$1, $2, ..., $n".
func placeholders(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", i)
	}
	return b.String()
}

// limitOffset renders LIMIT and OFFSET clauses, skipping zero values.
func limitOffset(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	if offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", offset)
	}
	return b.String()
}
