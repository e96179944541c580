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

	"github.com/northstarhq/northstar/lib/types"
)

type cohorts struct {
	s *Store
}

const cohortColumns = `id, name, criteria, period_type, created_at`

func (r cohorts) Create(ctx context.Context, cohort *types.Cohort) error {
	criteria := cohort.Criteria
	if criteria == nil {
		criteria = types.Properties{}
	}
	_, err := r.s.db.Exec(ctx, `
		INSERT INTO cohorts (`+cohortColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		cohort.ID, cohort.Name, criteria, string(cohort.PeriodType), cohort.CreatedAt,
	)
	return ConvertError(err)
}

func (r cohorts) Get(ctx context.Context, id string) (*types.Cohort, error) {
	var c types.Cohort
	err := r.s.db.QueryRow(ctx,
		"SELECT "+cohortColumns+" FROM cohorts WHERE id = $1", id,
	).Scan(&c.ID, &c.Name, &c.Criteria, &c.PeriodType, &c.CreatedAt)
	if err != nil {
		if trace.IsNotFound(ConvertError(err)) {
			return nil, trace.NotFound("cohort %v is not found", id)
		}
		return nil, ConvertError(err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (r cohorts) List(ctx context.Context) ([]*types.Cohort, error) {
	rows, err := r.s.db.Query(ctx,
		"SELECT "+cohortColumns+" FROM cohorts ORDER BY created_at ASC")
	if err != nil {
		return nil, ConvertError(err)
	}
	defer rows.Close()

	var out []*types.Cohort
	for rows.Next() {
		var c types.Cohort
		if err := rows.Scan(&c.ID, &c.Name, &c.Criteria, &c.PeriodType, &c.CreatedAt); err != nil {
			return nil, ConvertError(err)
		}
		c.CreatedAt = c.CreatedAt.UTC()
		out = append(out, &c)
	}
	return out, ConvertError(rows.Err())
}

func (r cohorts) Delete(ctx context.Context, id string) error {
	tag, err := r.s.db.Exec(ctx, "DELETE FROM cohorts WHERE id = $1", id)
	return rowsAffected(tag, err, "cohort %v is not found", id)
}
