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

	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"

	"github.com/northstarhq/northstar/lib/types"
)

type goals struct {
	s *Store
}

const goalColumns = `id, name, enabled, event_type, conditions, value,
	total_conversions, total_value, created_at`

func scanGoal(row pgx.Row) (*types.Goal, error) {
	var g types.Goal
	err := row.Scan(
		&g.ID, &g.Name, &g.Enabled, &g.EventType, &g.Conditions, &g.Value,
		&g.TotalConversions, &g.TotalValue, &g.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	g.CreatedAt = g.CreatedAt.UTC()
	return &g, nil
}

func (r goals) Create(ctx context.Context, goal *types.Goal) error {
	conditions := goal.Conditions
	if conditions == nil {
		conditions = types.Properties{}
	}
	_, err := r.s.db.Exec(ctx, `
		INSERT INTO goals (`+goalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		goal.ID, goal.Name, goal.Enabled, string(goal.EventType), conditions, goal.Value,
		goal.TotalConversions, goal.TotalValue, goal.CreatedAt,
	)
	return ConvertError(err)
}

func (r goals) Get(ctx context.Context, id string) (*types.Goal, error) {
	goal, err := scanGoal(r.s.db.QueryRow(ctx,
		"SELECT "+goalColumns+" FROM goals WHERE id = $1", id))
	if err != nil {
		if trace.IsNotFound(ConvertError(err)) {
			return nil, trace.NotFound("goal %v is not found", id)
		}
		return nil, ConvertError(err)
	}
	return goal, nil
}

func (r goals) List(ctx context.Context) ([]*types.Goal, error) {
	return r.query(ctx, "SELECT "+goalColumns+" FROM goals ORDER BY created_at ASC")
}

func (r goals) ListEnabled(ctx context.Context) ([]*types.Goal, error) {
	return r.query(ctx, "SELECT "+goalColumns+" FROM goals WHERE enabled ORDER BY created_at ASC")
}

func (r goals) Update(ctx context.Context, goal *types.Goal) error {
	conditions := goal.Conditions
	if conditions == nil {
		conditions = types.Properties{}
	}
	tag, err := r.s.db.Exec(ctx, `
		UPDATE goals SET name = $2, enabled = $3, event_type = $4, conditions = $5, value = $6
		WHERE id = $1`,
		goal.ID, goal.Name, goal.Enabled, string(goal.EventType), conditions, goal.Value,
	)
	return rowsAffected(tag, err, "goal %v is not found", goal.ID)
}

func (r goals) Delete(ctx context.Context, id string) error {
	tag, err := r.s.db.Exec(ctx, "DELETE FROM goals WHERE id = $1", id)
	return rowsAffected(tag, err, "goal %v is not found", id)
}

func (r goals) IncrementConversions(ctx context.Context, id string, value float64) error {
	tag, err := r.s.db.Exec(ctx, `
		UPDATE goals SET total_conversions = total_conversions + 1, total_value = total_value + $2
		WHERE id = $1`,
		id, value,
	)
	return rowsAffected(tag, err, "goal %v is not found", id)
}

func (r goals) query(ctx context.Context, sql string, args ...any) ([]*types.Goal, error) {
	rows, err := r.s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, ConvertError(err)
	}
	defer rows.Close()

	var out []*types.Goal
	for rows.Next() {
		goal, err := scanGoal(rows)
		if err != nil {
			return nil, ConvertError(err)
		}
		out = append(out, goal)
	}
	return out, ConvertError(rows.Err())
}
