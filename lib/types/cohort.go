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

// CohortPeriod is the granularity retention is measured at.
type CohortPeriod string

const (
	// CohortPeriodDay groups users by acquisition day.
	CohortPeriodDay CohortPeriod = "day"
	// CohortPeriodWeek groups users by acquisition week.
	CohortPeriodWeek CohortPeriod = "week"
	// CohortPeriodMonth groups users by acquisition month. A month is a
	// fixed thirty days for retention math.
	CohortPeriodMonth CohortPeriod = "month"
)

// Check validates the cohort period.
func (p CohortPeriod) Check() error {
	switch p {
	case CohortPeriodDay, CohortPeriodWeek, CohortPeriodMonth:
		return nil
	}
	return trace.BadParameter("unknown cohort period %q", p)
}

// Delta returns the fixed width of one retention period.
func (p CohortPeriod) Delta() time.Duration {
	switch p {
	case CohortPeriodDay:
		return 24 * time.Hour
	case CohortPeriodWeek:
		return 7 * 24 * time.Hour
	case CohortPeriodMonth:
		return 30 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// Cohort is a saved user grouping definition.
type Cohort struct {
	// ID uniquely identifies the cohort.
	ID string `json:"id"`
	// Name is the display name.
	Name string `json:"name"`
	// Criteria is the free form membership definition.
	Criteria Properties `json:"criteria,omitempty"`
	// PeriodType is the retention granularity.
	PeriodType CohortPeriod `json:"periodType"`
	// CreatedAt is when the cohort was defined.
	CreatedAt time.Time `json:"createdAt"`
}

// CheckAndSetDefaults validates the cohort and fills generated fields.
func (c *Cohort) CheckAndSetDefaults(now time.Time) error {
	if c.Name == "" {
		return trace.BadParameter("missing cohort name")
	}
	if c.PeriodType == "" {
		c.PeriodType = CohortPeriodWeek
	}
	if err := c.PeriodType.Check(); err != nil {
		return trace.Wrap(err)
	}
	if err := c.Criteria.Check(); err != nil {
		return trace.Wrap(err)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now.UTC()
	}
	return nil
}
