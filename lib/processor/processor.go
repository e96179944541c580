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

// Package processor consumes unprocessed events and derives the analytical
// state from them: user counters, session activity and goal conversions.
// Processing is idempotent; a pass over already processed state never
// double counts.
package processor

import (
	"context"
	"log/slog"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/northstarhq/northstar"
	"github.com/northstarhq/northstar/lib/defaults"
	"github.com/northstarhq/northstar/lib/observability/metrics"
	"github.com/northstarhq/northstar/lib/storage"
	"github.com/northstarhq/northstar/lib/types"
)

// Config configures the event processor.
type Config struct {
	// Store holds the events and the derived state.
	Store storage.Store

	// BatchSize is how many unprocessed events one pass claims.
	BatchSize int

	// Clock is used to override time in tests.
	Clock clockwork.Clock

	// Logger emits processor logs.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("missing Store")
	}
	if c.BatchSize == 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.BatchSize < 1 {
		return trace.BadParameter("BatchSize must be positive, got %v", c.BatchSize)
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(northstar.ComponentKey, northstar.ComponentProcessor)
	}
	return nil
}

// Processor runs processing passes over unprocessed events.
type Processor struct {
	cfg     Config
	log     *slog.Logger
	metrics *processorMetrics
}

// New returns a processor.
func New(cfg Config) (*Processor, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	m, err := newProcessorMetrics()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Processor{cfg: cfg, log: cfg.Logger, metrics: m}, nil
}

// BatchResult summarizes one processing pass.
type BatchResult struct {
	// Claimed is how many unprocessed events the pass picked up.
	Claimed int
	// Processed is how many events were fully processed and marked.
	Processed int
	// Failed is how many events faulted and stay unprocessed.
	Failed int
	// Conversions is how many goal conversions the pass recorded.
	Conversions int
}

// ProcessBatch runs one processing pass inside a single store transaction:
// claim a batch of unprocessed events, derive user, session and goal state
// from each, and mark the successful ones processed. An event that faults
// is logged, skipped and stays unprocessed for a later pass.
func (p *Processor) ProcessBatch(ctx context.Context) (BatchResult, error) {
	var result BatchResult
	start := time.Now()
	err := p.cfg.Store.WithTx(ctx, func(tx storage.Store) error {
		batch, err := tx.Events().GetUnprocessed(ctx, p.cfg.BatchSize)
		if err != nil {
			return trace.Wrap(err)
		}
		if len(batch) == 0 {
			return nil
		}
		result.Claimed = len(batch)

		enabled, err := tx.Goals().ListEnabled(ctx)
		if err != nil {
			return trace.Wrap(err)
		}
		goalsByType := make(map[types.EventType][]*types.Goal)
		for _, goal := range enabled {
			goalsByType[goal.EventType] = append(goalsByType[goal.EventType], goal)
		}

		processed := make([]string, 0, len(batch))
		for _, event := range batch {
			conversions, err := p.processOne(ctx, tx, goalsByType[event.Type], event)
			if err != nil {
				result.Failed++
				p.log.WarnContext(ctx, "Failed to process event, leaving it unprocessed.",
					"error", err, "event_id", event.ID, "event_type", event.Type)
				continue
			}
			result.Conversions += conversions
			processed = append(processed, event.ID)
		}
		if len(processed) == 0 {
			return nil
		}
		n, err := tx.Events().MarkProcessed(ctx, processed, p.cfg.Clock.Now())
		if err != nil {
			return trace.Wrap(err)
		}
		result.Processed = int(n)
		return nil
	})
	if err != nil {
		return BatchResult{}, trace.Wrap(err)
	}
	p.metrics.processedEvents.Add(float64(result.Processed))
	p.metrics.failedEvents.Add(float64(result.Failed))
	p.metrics.conversions.Add(float64(result.Conversions))
	p.metrics.batchDuration.Observe(time.Since(start).Seconds())
	if result.Claimed > 0 {
		p.log.DebugContext(ctx, "Completed processing pass.",
			"claimed", result.Claimed, "processed", result.Processed,
			"failed", result.Failed, "conversions", result.Conversions)
	}
	return result, nil
}

// processOne derives state from a single event inside its own savepoint,
// so a fault rolls back that event's writes without poisoning the batch
// transaction.
func (p *Processor) processOne(ctx context.Context, store storage.Store, goals []*types.Goal, event *types.Event) (int, error) {
	var conversions int
	err := store.WithTx(ctx, func(tx storage.Store) error {
		if event.UserID != "" {
			if err := tx.Users().Ensure(ctx, event.UserID, event.Timestamp); err != nil {
				return trace.Wrap(err)
			}
			delta := types.UserStatsDelta{Events: 1}
			if err := tx.Users().IncrementStats(ctx, event.UserID, delta, event.Timestamp); err != nil {
				return trace.Wrap(err)
			}
		}
		if event.SessionID != "" {
			pageView := event.Type == types.EventTypePageView
			// An unknown session id is not a fault, the session may never
			// have been opened.
			_, err := tx.Sessions().RecordActivity(ctx, event.SessionID, event.Timestamp, pageView)
			if err != nil && !trace.IsNotFound(err) {
				return trace.Wrap(err)
			}
		}
		for _, goal := range goals {
			fired, err := p.fireGoal(ctx, tx, goal, event)
			if err != nil {
				return trace.Wrap(err)
			}
			if fired {
				conversions++
			}
		}
		return nil
	})
	if err != nil {
		return 0, trace.Wrap(err)
	}
	return conversions, nil
}

// fireGoal records a conversion when the goal matches the event and no
// conversion exists for the (goal, event) pair yet.
func (p *Processor) fireGoal(ctx context.Context, tx storage.Store, goal *types.Goal, event *types.Event) (bool, error) {
	if !goal.Matches(event) {
		return false, nil
	}
	exists, err := tx.Conversions().ExistsForEvent(ctx, goal.ID, event.ID)
	if err != nil {
		return false, trace.Wrap(err)
	}
	if exists {
		return false, nil
	}
	conversion := &types.GoalConversion{
		GoalID:      goal.ID,
		UserID:      event.UserID,
		SessionID:   event.SessionID,
		EventID:     event.ID,
		Value:       goal.Value,
		Properties:  event.Properties,
		ConvertedAt: event.Timestamp,
	}
	if err := conversion.CheckAndSetDefaults(p.cfg.Clock.Now()); err != nil {
		return false, trace.Wrap(err)
	}
	if err := tx.Conversions().Create(ctx, conversion); err != nil {
		return false, trace.Wrap(err)
	}
	if err := tx.Goals().IncrementConversions(ctx, goal.ID, goal.Value); err != nil {
		return false, trace.Wrap(err)
	}
	if event.SessionID != "" {
		err := tx.Sessions().MarkConverted(ctx, event.SessionID, goal.Value)
		if err != nil && !trace.IsNotFound(err) {
			return false, trace.Wrap(err)
		}
	}
	if event.UserID != "" {
		delta := types.UserStatsDelta{Conversions: 1, Value: goal.Value}
		if err := tx.Users().IncrementStats(ctx, event.UserID, delta, event.Timestamp); err != nil {
			return false, trace.Wrap(err)
		}
	}
	return true, nil
}

type processorMetrics struct {
	processedEvents prometheus.Counter
	failedEvents    prometheus.Counter
	conversions     prometheus.Counter
	batchDuration   prometheus.Histogram
}

func newProcessorMetrics() (*processorMetrics, error) {
	m := &processorMetrics{
		processedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: northstar.MetricNamespace,
			Name:      northstar.MetricProcessorProcessedEvents,
			Help:      "Number of events fully processed",
		}),
		failedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: northstar.MetricNamespace,
			Name:      northstar.MetricProcessorFailedEvents,
			Help:      "Number of events that faulted and stayed unprocessed",
		}),
		conversions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: northstar.MetricNamespace,
			Name:      northstar.MetricProcessorConversions,
			Help:      "Number of goal conversions recorded",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: northstar.MetricNamespace,
			Name:      northstar.MetricProcessorBatchDuration,
			Help:      "Duration of a full processing pass",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
	}
	return m, trace.Wrap(metrics.RegisterCollectors(
		m.processedEvents,
		m.failedEvents,
		m.conversions,
		m.batchDuration,
	))
}
