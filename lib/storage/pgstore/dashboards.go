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
	"github.com/jackc/pgx/v5/pgtype/zeronull"

	"github.com/northstarhq/northstar/lib/types"
)

type dashboards struct {
	s *Store
}

const dashboardColumns = `id, name, description, layout, created_at, updated_at`

func scanDashboard(row pgx.Row) (*types.Dashboard, error) {
	var d types.Dashboard
	err := row.Scan(
		&d.ID, &d.Name, (*zeronull.Text)(&d.Description), &d.Layout,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}

func (r dashboards) Create(ctx context.Context, dashboard *types.Dashboard) error {
	layout := dashboard.Layout
	if layout == nil {
		layout = types.Properties{}
	}
	_, err := r.s.db.Exec(ctx, `
		INSERT INTO dashboards (`+dashboardColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		dashboard.ID, dashboard.Name, zeronull.Text(dashboard.Description), layout,
		dashboard.CreatedAt, dashboard.UpdatedAt,
	)
	return ConvertError(err)
}

func (r dashboards) Get(ctx context.Context, id string) (*types.Dashboard, error) {
	dashboard, err := scanDashboard(r.s.db.QueryRow(ctx,
		"SELECT "+dashboardColumns+" FROM dashboards WHERE id = $1", id))
	if err != nil {
		if trace.IsNotFound(ConvertError(err)) {
			return nil, trace.NotFound("dashboard %v is not found", id)
		}
		return nil, ConvertError(err)
	}
	return dashboard, nil
}

func (r dashboards) List(ctx context.Context) ([]*types.Dashboard, error) {
	rows, err := r.s.db.Query(ctx,
		"SELECT "+dashboardColumns+" FROM dashboards ORDER BY created_at ASC")
	if err != nil {
		return nil, ConvertError(err)
	}
	defer rows.Close()

	var out []*types.Dashboard
	for rows.Next() {
		dashboard, err := scanDashboard(rows)
		if err != nil {
			return nil, ConvertError(err)
		}
		out = append(out, dashboard)
	}
	return out, ConvertError(rows.Err())
}

func (r dashboards) Update(ctx context.Context, dashboard *types.Dashboard) error {
	layout := dashboard.Layout
	if layout == nil {
		layout = types.Properties{}
	}
	tag, err := r.s.db.Exec(ctx, `
		UPDATE dashboards SET name = $2, description = $3, layout = $4, updated_at = $5
		WHERE id = $1`,
		dashboard.ID, dashboard.Name, zeronull.Text(dashboard.Description), layout, dashboard.UpdatedAt,
	)
	return rowsAffected(tag, err, "dashboard %v is not found", dashboard.ID)
}

func (r dashboards) Delete(ctx context.Context, id string) error {
	tag, err := r.s.db.Exec(ctx, "DELETE FROM dashboards WHERE id = $1", id)
	return rowsAffected(tag, err, "dashboard %v is not found", id)
}
