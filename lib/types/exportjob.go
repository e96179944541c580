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

package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// ExportJobStatus is the lifecycle state of an export job.
type ExportJobStatus string

const (
	// ExportJobPending is a job waiting to run.
	ExportJobPending ExportJobStatus = "pending"
	// ExportJobRunning is a job in flight.
	ExportJobRunning ExportJobStatus = "running"
	// ExportJobCompleted is a finished job whose artifact is available
	// until it expires.
	ExportJobCompleted ExportJobStatus = "completed"
	// ExportJobFailed is a job that errored out.
	ExportJobFailed ExportJobStatus = "failed"
)

// Check validates the status.
func (s ExportJobStatus) Check() error {
	switch s {
	case ExportJobPending, ExportJobRunning, ExportJobCompleted, ExportJobFailed:
		return nil
	}
	return trace.BadParameter("unknown export job status %q", s)
}

// ExportJob tracks one requested data export. Completed jobs are swept by
// the scheduler once they expire.
type ExportJob struct {
	// ID uniquely identifies the job.
	ID string `json:"id"`
	// Type names the export kind, e.g. "events_csv".
	Type string `json:"type"`
	// Status is the lifecycle state.
	Status ExportJobStatus `json:"status"`
	// Params carries the export parameters: filters, window, format.
	Params Properties `json:"params,omitempty"`
	// FilePath locates the produced artifact, set on completion.
	FilePath string `json:"filePath,omitempty"`
	// Message carries the failure reason for failed jobs.
	Message string `json:"message,omitempty"`
	// CreatedAt is when the job was requested.
	CreatedAt time.Time `json:"createdAt"`
	// CompletedAt is when the job finished, successfully or not.
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	// ExpiresAt is when a completed job's artifact stops being retained.
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// CheckAndSetDefaults validates the job and fills generated fields.
func (j *ExportJob) CheckAndSetDefaults(now time.Time) error {
	if j.Type == "" {
		return trace.BadParameter("missing export job type")
	}
	if j.Status == "" {
		j.Status = ExportJobPending
	}
	if err := j.Status.Check(); err != nil {
		return trace.Wrap(err)
	}
	if err := j.Params.Check(); err != nil {
		return trace.Wrap(err)
	}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now.UTC()
	}
	return nil
}
