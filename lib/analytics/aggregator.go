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

	"github.com/northstarhq/northstar/lib/storage"
	"github.com/northstarhq/northstar/lib/types"
)

// SessionMetrics summarizes session behavior over a window. Rates are
// percentages rounded to two decimals.
type SessionMetrics struct {
	// TotalSessions is the number of sessions started in the window.
	TotalSessions int64 `json:"totalSessions"`
	// UniqueUsers is the number of distinct users owning those sessions.
	UniqueUsers int64 `json:"uniqueUsers"`
	// AvgDurationSeconds is the mean session duration.
	AvgDurationSeconds float64 `json:"avgDurationSeconds"`
	// AvgPageViews is the mean page view count per session.
	AvgPageViews float64 `json:"avgPageViews"`
	// BounceRate is the share of sessions flagged as bounces.
	BounceRate float64 `json:"bounceRate"`
	// ConversionRate is the share of sessions with a conversion.
	ConversionRate float64 `json:"conversionRate"`
	// TotalConversions is the number of converted sessions.
	TotalConversions int64 `json:"totalConversions"`
	// TotalConversionValue is the summed conversion value.
	TotalConversionValue float64 `json:"totalConversionValue"`
}

// TimeSeriesPoint is one sample of a materialized metric series.
type TimeSeriesPoint struct {
	// Timestamp anchors the sample, UTC.
	Timestamp time.Time `json:"timestamp"`
	// Value is the sample value.
	Value float64 `json:"value"`
}

// AggregateEvents buckets events by period and type over the closed window
// [from, to]. Store faults degrade to an empty result.
func (e *Engine) AggregateEvents(ctx context.Context, from, to time.Time, period types.Period, eventTypes []types.EventType) ([]storage.EventTypeBucket, error) {
	if err := period.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	buckets, err := e.cfg.Store.Events().AggregateByType(ctx, from, to, period, eventTypes)
	if err != nil {
		return []storage.EventTypeBucket{}, e.readFault(ctx, err, "aggregate_events")
	}
	return buckets, nil
}

// CalculateSessionMetrics summarizes the sessions started in the half open
// window [from, to). Store faults degrade to a zero result.
func (e *Engine) CalculateSessionMetrics(ctx context.Context, from, to time.Time) (*SessionMetrics, error) {
	agg, err := e.cfg.Store.Sessions().Aggregates(ctx, from, to)
	if err != nil {
		return &SessionMetrics{}, e.readFault(ctx, err, "session_metrics")
	}
	return &SessionMetrics{
		TotalSessions:        agg.TotalSessions,
		UniqueUsers:          agg.UniqueUsers,
		AvgDurationSeconds:   round2(agg.AvgDurationSeconds),
		AvgPageViews:         round2(agg.AvgPageViews),
		BounceRate:           percentage(float64(agg.BouncedSessions), float64(agg.TotalSessions)),
		ConversionRate:       percentage(float64(agg.ConvertedSessions), float64(agg.TotalSessions)),
		TotalConversions:     agg.ConvertedSessions,
		TotalConversionValue: agg.TotalConversionValue,
	}, nil
}

// GenerateTimeSeries returns the named materialized series over the closed
// window [from, to], ascending. An empty period matches every granularity.
func (e *Engine) GenerateTimeSeries(ctx context.Context, name string, from, to time.Time, period types.Period) ([]TimeSeriesPoint, error) {
	if name == "" {
		return nil, trace.BadParameter("missing metric name")
	}
	if period != "" {
		if err := period.Check(); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	rows, err := e.cfg.Store.Metrics().GetTimeSeries(ctx, name, from, to, period)
	if err != nil {
		return []TimeSeriesPoint{}, e.readFault(ctx, err, "time_series")
	}
	points := make([]TimeSeriesPoint, 0, len(rows))
	for _, row := range rows {
		points = append(points, TimeSeriesPoint{Timestamp: row.Timestamp, Value: row.Value})
	}
	return points, nil
}

// SaveMetric materializes one metric row. Unlike the reads, a failed write
// surfaces to the caller.
func (e *Engine) SaveMetric(ctx context.Context, metric *types.Metric) error {
	if err := metric.CheckAndSetDefaults(e.cfg.Clock.Now()); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(e.cfg.Store.Metrics().Create(ctx, metric))
}

// AggregateByDimension groups events over one event dimension (country,
// deviceType, browser, os, module) in the closed window [from, to]. An
// unknown dimension yields an empty result, not an error.
func (e *Engine) AggregateByDimension(ctx context.Context, dimension string, from, to time.Time, eventTypes []types.EventType) ([]storage.DimensionBucket, error) {
	if _, ok := storage.DimensionColumn(dimension); !ok {
		e.log.DebugContext(ctx, "Ignoring aggregation over unknown dimension.", "dimension", dimension)
		return []storage.DimensionBucket{}, nil
	}
	buckets, err := e.cfg.Store.Events().AggregateByDimension(ctx, dimension, from, to, eventTypes)
	if err != nil {
		return []storage.DimensionBucket{}, e.readFault(ctx, err, "aggregate_by_dimension")
	}
	return buckets, nil
}

// CalculateRetention is the aggregator facade over the cohort engine: day
// granularity retention for the cohort acquired on cohortDate. Faults and
// an empty cohort degrade to an empty result.
func (e *Engine) CalculateRetention(ctx context.Context, cohortDate time.Time, periods int) ([]RetentionPeriod, error) {
	analysis, err := e.AnalyzeRetentionCohort(ctx, cohortDate, periods, types.PeriodDay)
	if err != nil {
		if trace.IsNotFound(err) || trace.IsBadParameter(err) {
			return []RetentionPeriod{}, nil
		}
		return []RetentionPeriod{}, e.readFault(ctx, err, "retention")
	}
	return analysis.Periods, nil
}
