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

	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype/zeronull"

	"github.com/northstarhq/northstar/lib/storage"
	"github.com/northstarhq/northstar/lib/types"
)

type conversions struct {
	s *Store
}

const conversionColumns = `id, goal_id, user_id, session_id, event_id, value, properties, converted_at`

func scanConversion(row pgx.Row) (*types.GoalConversion, error) {
	var c types.GoalConversion
	err := row.Scan(
		&c.ID, &c.GoalID, (*zeronull.Text)(&c.UserID), (*zeronull.Text)(&c.SessionID),
		&c.EventID, &c.Value, &c.Properties, &c.ConvertedAt,
	)
	if err != nil {
		return nil, err
	}
	c.ConvertedAt = c.ConvertedAt.UTC()
	return &c, nil
}

func buildConversionWhere(f storage.ConversionFilter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.GoalID != "" {
		add("goal_id = $%d", f.GoalID)
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.SessionID != "" {
		add("session_id = $%d", f.SessionID)
	}
	if !f.From.IsZero() {
		add("converted_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("converted_at <= $%d", f.To)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r conversions) Create(ctx context.Context, conversion *types.GoalConversion) error {
	props := conversion.Properties
	if props == nil {
		props = types.Properties{}
	}
	_, err := r.s.db.Exec(ctx, `
		INSERT INTO goal_conversions (`+conversionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		conversion.ID, conversion.GoalID,
		zeronull.Text(conversion.UserID), zeronull.Text(conversion.SessionID),
		conversion.EventID, conversion.Value, props, conversion.ConvertedAt,
	)
	return ConvertError(err)
}

func (r conversions) Get(ctx context.Context, id string) (*types.GoalConversion, error) {
	conversion, err := scanConversion(r.s.db.QueryRow(ctx,
		"SELECT "+conversionColumns+" FROM goal_conversions WHERE id = $1", id))
	if err != nil {
		if trace.IsNotFound(ConvertError(err)) {
			return nil, trace.NotFound("conversion %v is not found", id)
		}
		return nil, ConvertError(err)
	}
	return conversion, nil
}

func (r conversions) List(ctx context.Context, filter storage.ConversionFilter) ([]*types.GoalConversion, error) {
	where, args := buildConversionWhere(filter)
	sql := "SELECT " + conversionColumns + " FROM goal_conversions" + where +
		" ORDER BY converted_at DESC" + limitOffset(filter.Limit, filter.Offset)

	rows, err := r.s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, ConvertError(err)
	}
	defer rows.Close()

	var out []*types.GoalConversion
	for rows.Next() {
		conversion, err := scanConversion(rows)
		if err != nil {
			return nil, ConvertError(err)
		}
		out = append(out, conversion)
	}
	return out, ConvertError(rows.Err())
}

func (r conversions) Count(ctx context.Context, filter storage.ConversionFilter) (int64, error) {
	where, args := buildConversionWhere(filter)
	var n int64
	if err := r.s.db.QueryRow(ctx, "SELECT count(*) FROM goal_conversions"+where, args...).Scan(&n); err != nil {
		return 0, ConvertError(err)
	}
	return n, nil
}

func (r conversions) ExistsForEvent(ctx context.Context, goalID, eventID string) (bool, error) {
	var exists bool
	err := r.s.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM goal_conversions WHERE goal_id = $1 AND event_id = $2)",
		goalID, eventID,
	).Scan(&exists)
	if err != nil {
		return false, ConvertError(err)
	}
	return exists, nil
}
