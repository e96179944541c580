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

type users struct {
	s *Store
}

const userColumns = `id, external_id, email, name, properties,
	first_seen_at, last_seen_at,
	total_sessions, total_events, total_conversions, lifetime_value`

func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	err := row.Scan(
		&u.ID, (*zeronull.Text)(&u.ExternalID), (*zeronull.Text)(&u.Email), (*zeronull.Text)(&u.Name),
		&u.Properties,
		&u.FirstSeenAt, &u.LastSeenAt,
		&u.TotalSessions, &u.TotalEvents, &u.TotalConversions, &u.LifetimeValue,
	)
	if err != nil {
		return nil, err
	}
	u.FirstSeenAt = u.FirstSeenAt.UTC()
	u.LastSeenAt = u.LastSeenAt.UTC()
	return &u, nil
}

func buildUserWhere(f storage.UserFilter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.ExternalID != "" {
		add("external_id = $%d", f.ExternalID)
	}
	if f.Email != "" {
		add("email = $%d", f.Email)
	}
	if !f.FirstSeenFrom.IsZero() {
		add("first_seen_at >= $%d", f.FirstSeenFrom)
	}
	if !f.FirstSeenTo.IsZero() {
		add("first_seen_at < $%d", f.FirstSeenTo)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r users) Create(ctx context.Context, user *types.User) error {
	props := user.Properties
	if props == nil {
		props = types.Properties{}
	}
	_, err := r.s.db.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		user.ID, zeronull.Text(user.ExternalID), zeronull.Text(user.Email), zeronull.Text(user.Name),
		props,
		user.FirstSeenAt, user.LastSeenAt,
		user.TotalSessions, user.TotalEvents, user.TotalConversions, user.LifetimeValue,
	)
	return ConvertError(err)
}

func (r users) Ensure(ctx context.Context, id string, seenAt time.Time) error {
	if id == "" {
		return trace.BadParameter("missing user id")
	}
	_, err := r.s.db.Exec(ctx, `
		INSERT INTO users (id, first_seen_at, last_seen_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (id) DO NOTHING`,
		id, seenAt.UTC(),
	)
	return ConvertError(err)
}

func (r users) Get(ctx context.Context, id string) (*types.User, error) {
	user, err := scanUser(r.s.db.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id))
	if err != nil {
		if trace.IsNotFound(ConvertError(err)) {
			return nil, trace.NotFound("user %v is not found", id)
		}
		return nil, ConvertError(err)
	}
	return user, nil
}

func (r users) GetByExternalID(ctx context.Context, externalID string) (*types.User, error) {
	user, err := scanUser(r.s.db.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE external_id = $1", externalID))
	if err != nil {
		if trace.IsNotFound(ConvertError(err)) {
			return nil, trace.NotFound("user with external id %v is not found", externalID)
		}
		return nil, ConvertError(err)
	}
	return user, nil
}

func (r users) List(ctx context.Context, filter storage.UserFilter) ([]*types.User, error) {
	where, args := buildUserWhere(filter)
	sql := "SELECT " + userColumns + " FROM users" + where +
		" ORDER BY first_seen_at ASC" + limitOffset(filter.Limit, filter.Offset)

	rows, err := r.s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, ConvertError(err)
	}
	defer rows.Close()

	var out []*types.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, ConvertError(err)
		}
		out = append(out, user)
	}
	return out, ConvertError(rows.Err())
}

func (r users) Count(ctx context.Context, filter storage.UserFilter) (int64, error) {
	where, args := buildUserWhere(filter)
	var n int64
	if err := r.s.db.QueryRow(ctx, "SELECT count(*) FROM users"+where, args...).Scan(&n); err != nil {
		return 0, ConvertError(err)
	}
	return n, nil
}

func (r users) Update(ctx context.Context, user *types.User) error {
	props := user.Properties
	if props == nil {
		props = types.Properties{}
	}
	tag, err := r.s.db.Exec(ctx, `
		UPDATE users SET external_id = $2, email = $3, name = $4, properties = $5
		WHERE id = $1`,
		user.ID, zeronull.Text(user.ExternalID), zeronull.Text(user.Email), zeronull.Text(user.Name), props,
	)
	return rowsAffected(tag, err, "user %v is not found", user.ID)
}

func (r users) Delete(ctx context.Context, id string) error {
	tag, err := r.s.db.Exec(ctx, "DELETE FROM users WHERE id = $1", id)
	return rowsAffected(tag, err, "user %v is not found", id)
}

func (r users) IncrementStats(ctx context.Context, id string, delta types.UserStatsDelta, seenAt time.Time) error {
	if err := delta.Check(); err != nil {
		return trace.Wrap(err)
	}
	tag, err := r.s.db.Exec(ctx, `
		UPDATE users SET
			total_sessions = total_sessions + $2,
			total_events = total_events + $3,
			total_conversions = total_conversions + $4,
			lifetime_value = lifetime_value + $5,
			last_seen_at = GREATEST(last_seen_at, $6)
		WHERE id = $1`,
		id, delta.Sessions, delta.Events, delta.Conversions, delta.Value, seenAt.UTC(),
	)
	return rowsAffected(tag, err, "user %v is not found", id)
}

func (r users) ListIDsFirstSeenBetween(ctx context.Context, from, to time.Time) ([]string, error) {
	rows, err := r.s.db.Query(ctx,
		"SELECT id FROM users WHERE first_seen_at >= $1 AND first_seen_at < $2 ORDER BY first_seen_at ASC",
		from, to,
	)
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
