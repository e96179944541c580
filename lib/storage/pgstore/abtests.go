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

type abtests struct {
	s *Store
}

const abTestColumns = `id, name, enabled, variants, ended_at, created_at`

func scanABTest(row pgx.Row) (*types.ABTest, error) {
	var t types.ABTest
	err := row.Scan(&t.ID, &t.Name, &t.Enabled, &t.Variants, &t.EndedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	if t.EndedAt != nil {
		at := t.EndedAt.UTC()
		t.EndedAt = &at
	}
	return &t, nil
}

func (r abtests) Create(ctx context.Context, test *types.ABTest) error {
	_, err := r.s.db.Exec(ctx, `
		INSERT INTO ab_tests (`+abTestColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		test.ID, test.Name, test.Enabled, test.Variants, test.EndedAt, test.CreatedAt,
	)
	return ConvertError(err)
}

func (r abtests) Get(ctx context.Context, id string) (*types.ABTest, error) {
	test, err := scanABTest(r.s.db.QueryRow(ctx,
		"SELECT "+abTestColumns+" FROM ab_tests WHERE id = $1", id))
	if err != nil {
		if trace.IsNotFound(ConvertError(err)) {
			return nil, trace.NotFound("test %v is not found", id)
		}
		return nil, ConvertError(err)
	}
	return test, nil
}

func (r abtests) List(ctx context.Context) ([]*types.ABTest, error) {
	rows, err := r.s.db.Query(ctx,
		"SELECT "+abTestColumns+" FROM ab_tests ORDER BY created_at ASC")
	if err != nil {
		return nil, ConvertError(err)
	}
	defer rows.Close()

	var out []*types.ABTest
	for rows.Next() {
		test, err := scanABTest(rows)
		if err != nil {
			return nil, ConvertError(err)
		}
		out = append(out, test)
	}
	return out, ConvertError(rows.Err())
}

func (r abtests) Update(ctx context.Context, test *types.ABTest) error {
	tag, err := r.s.db.Exec(ctx, `
		UPDATE ab_tests SET name = $2, enabled = $3, variants = $4, ended_at = $5
		WHERE id = $1`,
		test.ID, test.Name, test.Enabled, test.Variants, test.EndedAt,
	)
	return rowsAffected(tag, err, "test %v is not found", test.ID)
}

func (r abtests) Delete(ctx context.Context, id string) error {
	tag, err := r.s.db.Exec(ctx, "DELETE FROM ab_tests WHERE id = $1", id)
	return rowsAffected(tag, err, "test %v is not found", id)
}

func (r abtests) GetAssignment(ctx context.Context, testID, userID string) (*types.ABAssignment, error) {
	var a types.ABAssignment
	err := r.s.db.QueryRow(ctx, `
		SELECT id, test_id, user_id, variant, assigned_at FROM ab_test_assignments
		WHERE test_id = $1 AND user_id = $2`,
		testID, userID,
	).Scan(&a.ID, &a.TestID, &a.UserID, &a.Variant, &a.AssignedAt)
	if err != nil {
		if trace.IsNotFound(ConvertError(err)) {
			return nil, trace.NotFound("user %v has no assignment in test %v", userID, testID)
		}
		return nil, ConvertError(err)
	}
	a.AssignedAt = a.AssignedAt.UTC()
	return &a, nil
}

func (r abtests) CreateAssignment(ctx context.Context, assignment *types.ABAssignment) error {
	_, err := r.s.db.Exec(ctx, `
		INSERT INTO ab_test_assignments (id, test_id, user_id, variant, assigned_at)
		VALUES ($1, $2, $3, $4, $5)`,
		assignment.ID, assignment.TestID, assignment.UserID, assignment.Variant, assignment.AssignedAt,
	)
	return ConvertError(err)
}

func (r abtests) CountAssignments(ctx context.Context, testID string) (map[string]int64, error) {
	rows, err := r.s.db.Query(ctx, `
		SELECT variant, count(*) FROM ab_test_assignments
		WHERE test_id = $1 GROUP BY variant`,
		testID,
	)
	if err != nil {
		return nil, ConvertError(err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var variant string
		var n int64
		if err := rows.Scan(&variant, &n); err != nil {
			return nil, ConvertError(err)
		}
		out[variant] = n
	}
	return out, ConvertError(rows.Err())
}
