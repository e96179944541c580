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
	"time"

	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype/zeronull"

	"github.com/northstarhq/northstar/lib/types"
)

type exportjobs struct {
	s *Store
}

const exportJobColumns = `id, job_type, status, params, file_path, message,
	created_at, completed_at, expires_at`

func scanExportJob(row pgx.Row) (*types.ExportJob, error) {
	var j types.ExportJob
	err := row.Scan(
		&j.ID, &j.Type, &j.Status, &j.Params,
		(*zeronull.Text)(&j.FilePath), (*zeronull.Text)(&j.Message),
		&j.CreatedAt, &j.CompletedAt, &j.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	j.CreatedAt = j.CreatedAt.UTC()
	if j.CompletedAt != nil {
		at := j.CompletedAt.UTC()
		j.CompletedAt = &at
	}
	if j.ExpiresAt != nil {
		at := j.ExpiresAt.UTC()
		j.ExpiresAt = &at
	}
	return &j, nil
}

func exportJobArgs(job *types.ExportJob) []any {
	params := job.Params
	if params == nil {
		params = types.Properties{}
	}
	return []any{
		job.ID, job.Type, string(job.Status), params,
		zeronull.Text(job.FilePath), zeronull.Text(job.Message),
		job.CreatedAt, job.CompletedAt, job.ExpiresAt,
	}
}

func (r exportjobs) Create(ctx context.Context, job *types.ExportJob) error {
	_, err := r.s.db.Exec(ctx, `
		INSERT INTO export_jobs (`+exportJobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		exportJobArgs(job)...,
	)
	return ConvertError(err)
}

func (r exportjobs) Get(ctx context.Context, id string) (*types.ExportJob, error) {
	job, err := scanExportJob(r.s.db.QueryRow(ctx,
		"SELECT "+exportJobColumns+" FROM export_jobs WHERE id = $1", id))
	if err != nil {
		if trace.IsNotFound(ConvertError(err)) {
			return nil, trace.NotFound("export job %v is not found", id)
		}
		return nil, ConvertError(err)
	}
	return job, nil
}

func (r exportjobs) List(ctx context.Context, status types.ExportJobStatus) ([]*types.ExportJob, error) {
	sql := "SELECT " + exportJobColumns + " FROM export_jobs"
	var args []any
	if status != "" {
		sql += " WHERE status = $1"
		args = append(args, string(status))
	}
	sql += " ORDER BY created_at DESC"
	return r.query(ctx, sql, args...)
}

func (r exportjobs) Update(ctx context.Context, job *types.ExportJob) error {
	params := job.Params
	if params == nil {
		params = types.Properties{}
	}
	tag, err := r.s.db.Exec(ctx, `
		UPDATE export_jobs SET job_type = $2, status = $3, params = $4,
			file_path = $5, message = $6, completed_at = $7, expires_at = $8
		WHERE id = $1`,
		job.ID, job.Type, string(job.Status), params,
		zeronull.Text(job.FilePath), zeronull.Text(job.Message),
		job.CompletedAt, job.ExpiresAt,
	)
	return rowsAffected(tag, err, "export job %v is not found", job.ID)
}

func (r exportjobs) Delete(ctx context.Context, id string) error {
	tag, err := r.s.db.Exec(ctx, "DELETE FROM export_jobs WHERE id = $1", id)
	return rowsAffected(tag, err, "export job %v is not found", id)
}

func (r exportjobs) ListExpired(ctx context.Context, now time.Time) ([]*types.ExportJob, error) {
	return r.query(ctx,
		"SELECT "+exportJobColumns+` FROM export_jobs
		WHERE status = $1 AND expires_at IS NOT NULL AND expires_at <= $2
		ORDER BY expires_at ASC`,
		string(types.ExportJobCompleted), now.UTC(),
	)
}

func (r exportjobs) query(ctx context.Context, sql string, args ...any) ([]*types.ExportJob, error) {
	rows, err := r.s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, ConvertError(err)
	}
	defer rows.Close()

	var out []*types.ExportJob
	for rows.Next() {
		job, err := scanExportJob(rows)
		if err != nil {
			return nil, ConvertError(err)
		}
		out = append(out, job)
	}
	return out, ConvertError(rows.Err())
}
