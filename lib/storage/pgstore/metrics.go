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

type metrics struct {
	s *Store
}

const metricColumns = `id, name, metric_type, value, period, module, dimensions, timestamp, created_at`

func scanMetric(row pgx.Row) (*types.Metric, error) {
	var m types.Metric
	err := row.Scan(
		&m.ID, &m.Name, &m.Type, &m.Value,
		(*zeronull.Text)(&m.Period), (*zeronull.Text)(&m.Module),
		&m.Dimensions, &m.Timestamp, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Timestamp = m.Timestamp.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

func buildMetricWhere(f storage.MetricFilter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Name != "" {
		add("name = $%d", f.Name)
	}
	if f.Period != "" {
		add("period = $%d", string(f.Period))
	}
	if f.Module != "" {
		add("module = $%d", f.Module)
	}
	if !f.From.IsZero() {
		add("timestamp >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("timestamp <= $%d", f.To)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r metrics) Create(ctx context.Context, metric *types.Metric) error {
	dims := metric.Dimensions
	if dims == nil {
		dims = types.Properties{}
	}
	_, err := r.s.db.Exec(ctx, `
		INSERT INTO metrics (`+metricColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		metric.ID, metric.Name, string(metric.Type), metric.Value,
		zeronull.Text(metric.Period), zeronull.Text(metric.Module),
		dims, metric.Timestamp, metric.CreatedAt,
	)
	return ConvertError(err)
}

func (r metrics) Get(ctx context.Context, id string) (*types.Metric, error) {
	metric, err := scanMetric(r.s.db.QueryRow(ctx,
		"SELECT "+metricColumns+" FROM metrics WHERE id = $1", id))
	if err != nil {
		if trace.IsNotFound(ConvertError(err)) {
			return nil, trace.NotFound("metric %v is not found", id)
		}
		return nil, ConvertError(err)
	}
	return metric, nil
}

func (r metrics) List(ctx context.Context, filter storage.MetricFilter) ([]*types.Metric, error) {
	where, args := buildMetricWhere(filter)
	sql := "SELECT " + metricColumns + " FROM metrics" + where +
		" ORDER BY timestamp DESC" + limitOffset(filter.Limit, filter.Offset)
	return r.query(ctx, sql, args...)
}

func (r metrics) Count(ctx context.Context, filter storage.MetricFilter) (int64, error) {
	where, args := buildMetricWhere(filter)
	var n int64
	if err := r.s.db.QueryRow(ctx, "SELECT count(*) FROM metrics"+where, args...).Scan(&n); err != nil {
		return 0, ConvertError(err)
	}
	return n, nil
}

func (r metrics) Delete(ctx context.Context, id string) error {
	tag, err := r.s.db.Exec(ctx, "DELETE FROM metrics WHERE id = $1", id)
	return rowsAffected(tag, err, "metric %v is not found", id)
}

func (r metrics) GetTimeSeries(ctx context.Context, name string, from, to time.Time, period types.Period) ([]*types.Metric, error) {
	args := []any{name, from, to}
	sql := "SELECT " + metricColumns + " FROM metrics WHERE name = $1 AND timestamp >= $2 AND timestamp <= $3"
	if period != "" {
		args = append(args, string(period))
		sql += fmt.Sprintf(" AND period = $%d", len(args))
	}
	sql += " ORDER BY timestamp ASC"
	return r.query(ctx, sql, args...)
}

func (r metrics) query(ctx context.Context, sql string, args ...any) ([]*types.Metric, error) {
	rows, err := r.s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, ConvertError(err)
	}
	defer rows.Close()

	var out []*types.Metric
	for rows.Next() {
		metric, err := scanMetric(rows)
		if err != nil {
			return nil, ConvertError(err)
		}
		out = append(out, metric)
	}
	return out, ConvertError(rows.Err())
}
