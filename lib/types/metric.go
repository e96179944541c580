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

// MetricType classifies a materialized metric value.
type MetricType string

const (
	// MetricTypeGauge is a point in time measurement.
	MetricTypeGauge MetricType = "gauge"
	// MetricTypeCounter is a monotonically accumulated count.
	MetricTypeCounter MetricType = "counter"
	// MetricTypeTimer is a duration measurement in seconds.
	MetricTypeTimer MetricType = "timer"
	// MetricTypeRate is a ratio expressed as a percentage.
	MetricTypeRate MetricType = "rate"
)

// Check validates the metric type.
func (t MetricType) Check() error {
	switch t {
	case MetricTypeGauge, MetricTypeCounter, MetricTypeTimer, MetricTypeRate:
		return nil
	}
	return trace.BadParameter("unknown metric type %q", t)
}

// Period is a time bucketing granularity.
type Period string

const (
	// PeriodMinute buckets by minute.
	PeriodMinute Period = "minute"
	// PeriodHour buckets by hour.
	PeriodHour Period = "hour"
	// PeriodDay buckets by calendar day, UTC.
	PeriodDay Period = "day"
	// PeriodWeek buckets by ISO week, starting Monday, UTC.
	PeriodWeek Period = "week"
	// PeriodMonth buckets by calendar month, UTC.
	PeriodMonth Period = "month"
	// PeriodQuarter buckets by calendar quarter, UTC.
	PeriodQuarter Period = "quarter"
	// PeriodYear buckets by calendar year, UTC.
	PeriodYear Period = "year"
)

// Check validates the period.
func (p Period) Check() error {
	switch p {
	case PeriodMinute, PeriodHour, PeriodDay, PeriodWeek, PeriodMonth, PeriodQuarter, PeriodYear:
		return nil
	}
	return trace.BadParameter("unknown period %q", p)
}

// Truncate returns the start of the period bucket containing t, matching
// the date_trunc behavior of the SQL side so that in memory aggregation and
// SQL aggregation land events in the same buckets.
func (p Period) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch p {
	case PeriodMinute:
		return t.Truncate(time.Minute)
	case PeriodHour:
		return t.Truncate(time.Hour)
	case PeriodDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodWeek:
		// date_trunc weeks start on Monday.
		daysPastMonday := (int(t.Weekday()) + 6) % 7
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return day.AddDate(0, 0, -daysPastMonday)
	case PeriodMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case PeriodQuarter:
		quarterStart := time.Month((int(t.Month())-1)/3*3 + 1)
		return time.Date(t.Year(), quarterStart, 1, 0, 0, 0, 0, time.UTC)
	case PeriodYear:
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// Metric is a materialized numeric value produced by the aggregator or
// submitted through the API.
type Metric struct {
	// ID uniquely identifies the metric row.
	ID string `json:"id"`
	// Name identifies the series, e.g. "sessions.bounce_rate".
	Name string `json:"name"`
	// Type classifies the value.
	Type MetricType `json:"metricType"`
	// Value is the measurement.
	Value float64 `json:"value"`
	// Period is the bucketing granularity the value was computed over,
	// empty for point submissions.
	Period Period `json:"period,omitempty"`
	// Module scopes the metric to an application module, when relevant.
	Module string `json:"module,omitempty"`
	// Dimensions carries free form grouping labels.
	Dimensions Properties `json:"dimensions,omitempty"`
	// Timestamp anchors the value in the series, UTC.
	Timestamp time.Time `json:"timestamp"`
	// CreatedAt is when the row was written.
	CreatedAt time.Time `json:"createdAt"`
}

// CheckAndSetDefaults validates the metric and fills generated fields.
func (m *Metric) CheckAndSetDefaults(now time.Time) error {
	if m.Name == "" {
		return trace.BadParameter("missing metric name")
	}
	if err := m.Type.Check(); err != nil {
		return trace.Wrap(err)
	}
	if m.Period != "" {
		if err := m.Period.Check(); err != nil {
			return trace.Wrap(err)
		}
	}
	if err := m.Dimensions.Check(); err != nil {
		return trace.Wrap(err)
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now.UTC()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = m.CreatedAt
	}
	m.Timestamp = m.Timestamp.UTC()
	return nil
}
