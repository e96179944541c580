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

// Package analytics implements the read side query engines: aggregation,
// funnels, cohort retention, attribution and behavioral scoring. Every
// engine is a pure reader over the store; derived state is produced by
// lib/processor, never here.
package analytics

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/northstarhq/northstar"
	"github.com/northstarhq/northstar/lib/cache"
	"github.com/northstarhq/northstar/lib/defaults"
	"github.com/northstarhq/northstar/lib/storage"
)

// Config configures the analytics engine.
type Config struct {
	// Store is the event and derived state source.
	Store storage.Store

	// Cache holds hot analysis results. Optional; a disabled cache is
	// used when unset.
	Cache cache.Cache

	// CacheTTL bounds how long analysis results stay cached.
	CacheTTL time.Duration

	// Clock is used to override time in tests.
	Clock clockwork.Clock

	// Logger emits engine logs.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("missing Store")
	}
	if c.Cache == nil {
		c.Cache = cache.Disabled()
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = defaults.AnalyticsCacheTTL
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(northstar.ComponentKey, northstar.ComponentAnalytics)
	}
	return nil
}

// Engine answers analytical queries. Methods are grouped by concern across
// the files of this package: aggregation, funnels, cohorts, attribution,
// scoring.
type Engine struct {
	cfg Config
	log *slog.Logger
}

// New returns an analytics engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Engine{cfg: cfg, log: cfg.Logger}, nil
}

// readFault downgrades a store fault on a dashboard read to an empty result
// so one failing query does not take a whole dashboard down. Context
// cancellation still surfaces to the caller.
func (e *Engine) readFault(ctx context.Context, err error, op string) error {
	if ctx.Err() != nil {
		return trace.Wrap(err)
	}
	e.log.WarnContext(ctx, "Analytics read failed, returning empty result.", "op", op, "error", err)
	return nil
}

// round2 rounds to two decimals, the precision every percentage in the API
// is reported at.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// percentage returns part/total as a percentage rounded to two decimals,
// and 0 when total is 0.
func percentage(part, total float64) float64 {
	if total == 0 {
		return 0
	}
	return round2(part / total * 100)
}
