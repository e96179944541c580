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

package analytics

import (
	"context"
	"time"

	"github.com/gravitational/trace"

	"github.com/northstarhq/northstar/lib/types"
)

// CohortAnalysis is the retention curve of one acquisition cohort.
type CohortAnalysis struct {
	// CohortDate is the acquisition day, midnight UTC.
	CohortDate time.Time `json:"cohortDate"`
	// PeriodType is the retention granularity: day, week or month.
	PeriodType types.Period `json:"periodType"`
	// InitialUsers is the cohort size.
	InitialUsers int `json:"initialUsers"`
	// Periods carries the per period activity, period 0 first.
	Periods []RetentionPeriod `json:"periods"`
	// AvgRetentionRate is the mean of the period retention rates.
	AvgRetentionRate float64 `json:"avgRetentionRate"`
	// ChurnRate is 100 minus AvgRetentionRate.
	ChurnRate float64 `json:"churnRate"`
}

// RetentionPeriod is the activity of a cohort in one period.
type RetentionPeriod struct {
	// Period is the zero based period index.
	Period int `json:"period"`
	// ActiveUsers is how many cohort users started a session in the
	// period.
	ActiveUsers int64 `json:"activeUsers"`
	// RetentionRate is ActiveUsers over the cohort size as a percentage.
	RetentionRate float64 `json:"retentionRate"`
	// CumulativeRetention is 100 at period 0 and equals RetentionRate
	// afterwards. Kept as two fields for API compatibility even though
	// the values coincide past period 0.
	CumulativeRetention float64 `json:"cumulativeRetention"`
}

// periodDelta returns the fixed width of one retention period. Months use
// thirty days, matching how the rest of the retention math treats them.
func periodDelta(periodType types.Period) (time.Duration, error) {
	switch periodType {
	case types.PeriodDay:
		return 24 * time.Hour, nil
	case types.PeriodWeek:
		return 7 * 24 * time.Hour, nil
	case types.PeriodMonth:
		return 30 * 24 * time.Hour, nil
	}
	return 0, trace.BadParameter("retention supports day, week and month periods, got %q", periodType)
}

// AnalyzeRetentionCohort computes the retention curve of the users acquired
// in the period starting at cohortDate (truncated to midnight UTC). Period
// 0 is the acquisition period itself and reports the full cohort by
// definition; later periods count cohort users who started a session in the
// period's window. An empty cohort resolves to trace.NotFound.
func (e *Engine) AnalyzeRetentionCohort(ctx context.Context, cohortDate time.Time, periods int, periodType types.Period) (*CohortAnalysis, error) {
	if periods < 1 {
		return nil, trace.BadParameter("periods must be positive, got %v", periods)
	}
	delta, err := periodDelta(periodType)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	cohortDate = cohortDate.UTC()
	cohortStart := time.Date(cohortDate.Year(), cohortDate.Month(), cohortDate.Day(), 0, 0, 0, 0, time.UTC)

	cohortUsers, err := e.cfg.Store.Users().ListIDsFirstSeenBetween(ctx, cohortStart, cohortStart.Add(delta))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(cohortUsers) == 0 {
		return nil, trace.NotFound("no users acquired on %v", cohortStart.Format("2006-01-02"))
	}

	analysis := &CohortAnalysis{
		CohortDate:   cohortStart,
		PeriodType:   periodType,
		InitialUsers: len(cohortUsers),
		Periods:      make([]RetentionPeriod, 0, periods),
	}

	var rateSum float64
	for i := 0; i < periods; i++ {
		var active int64
		var rate float64
		if i == 0 {
			// The acquisition period counts the whole cohort: membership
			// alone is the activity.
			active = int64(len(cohortUsers))
			rate = 100.0
		} else {
			from := cohortStart.Add(time.Duration(i) * delta)
			active, err = e.cfg.Store.Sessions().CountDistinctUsersStarted(ctx, cohortUsers, from, from.Add(delta))
			if err != nil {
				return nil, trace.Wrap(err)
			}
			rate = percentage(float64(active), float64(len(cohortUsers)))
		}
		analysis.Periods = append(analysis.Periods, RetentionPeriod{
			Period:              i,
			ActiveUsers:         active,
			RetentionRate:       rate,
			CumulativeRetention: rate,
		})
		rateSum += rate
	}

	mean := rateSum / float64(periods)
	analysis.AvgRetentionRate = round2(mean)
	analysis.ChurnRate = round2(100 - mean)
	return analysis, nil
}
