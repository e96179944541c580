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

// Package service wires the configured subsystems into one running process:
// store, cache, tracker, processor, sessions, analytics, experiments, the
// scheduler and the HTTP surfaces.
package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/northstarhq/northstar"
	"github.com/northstarhq/northstar/lib/analytics"
	"github.com/northstarhq/northstar/lib/cache"
	"github.com/northstarhq/northstar/lib/config"
	"github.com/northstarhq/northstar/lib/defaults"
	"github.com/northstarhq/northstar/lib/events"
	"github.com/northstarhq/northstar/lib/experiments"
	"github.com/northstarhq/northstar/lib/observability/metrics"
	"github.com/northstarhq/northstar/lib/processor"
	"github.com/northstarhq/northstar/lib/scheduler"
	"github.com/northstarhq/northstar/lib/sessions"
	"github.com/northstarhq/northstar/lib/storage"
	"github.com/northstarhq/northstar/lib/storage/memstore"
	"github.com/northstarhq/northstar/lib/storage/pgstore"
	"github.com/northstarhq/northstar/lib/types"
	"github.com/northstarhq/northstar/lib/web"
)

// shutdownTimeout bounds the graceful drain of the HTTP listeners.
const shutdownTimeout = 15 * time.Second

// Service is a fully wired northstar process.
type Service struct {
	cfg   *config.Config
	log   *slog.Logger
	clock clockwork.Clock

	store       storage.Store
	cache       cache.Cache
	tracker     *events.Tracker
	processor   *processor.Processor
	sessions    *sessions.Service
	engine      *analytics.Engine
	experiments *experiments.Service
	handler     *web.Handler
	scheduler   *scheduler.Scheduler

	retentionDeleted prometheus.Counter
}

// New builds a service from the validated config. Nothing runs until Run is
// called; New only opens the store and cache connections.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	if cfg == nil {
		return nil, trace.BadParameter("missing config")
	}
	s := &Service{
		cfg:   cfg,
		log:   slog.With(northstar.ComponentKey, northstar.ComponentService),
		clock: clockwork.NewRealClock(),
	}

	var err error
	if cfg.DatabaseURL != "" {
		s.store, err = pgstore.New(ctx, pgstore.Config{
			ConnString:  cfg.DatabaseURL,
			PoolSize:    cfg.DBPoolSize,
			MaxOverflow: cfg.DBMaxOverflow,
			PoolTimeout: cfg.DBPoolTimeout,
			PoolRecycle: cfg.DBPoolRecycle,
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
	} else {
		s.log.WarnContext(ctx, "No database configured, using the in-memory store. Data does not survive a restart.")
		s.store = memstore.New()
	}

	if cfg.CacheURL != "" {
		s.cache, err = cache.New(ctx, cache.Config{
			Addr:           cfg.CacheURL,
			Password:       cfg.CachePassword,
			MaxConnections: cfg.CacheMaxConnections,
			SocketTimeout:  cfg.CacheSocketTimeout,
		})
		if err != nil {
			return nil, trace.NewAggregate(err, s.store.Close())
		}
	} else {
		s.log.InfoContext(ctx, "No cache configured, caching and rate limiting are disabled.")
		s.cache = cache.Disabled()
	}

	if err := s.wire(ctx); err != nil {
		return nil, trace.NewAggregate(err, s.closeBackends())
	}
	return s, nil
}

// wire builds the stateless subsystems on top of the opened backends.
func (s *Service) wire(ctx context.Context) error {
	var err error
	// The tracker must outlive the signal context: shutdown calls
	// Close(true) to drain the queue after ctx is already canceled, and a
	// flusher tied to ctx would discard the queue before Close runs.
	s.tracker, err = events.NewTracker(events.TrackerConfig{
		Store:         s.store,
		Context:       context.WithoutCancel(ctx),
		BatchSize:     s.cfg.BatchSize,
		FlushInterval: s.cfg.FlushInterval,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	s.processor, err = processor.New(processor.Config{
		Store:     s.store,
		BatchSize: s.cfg.BatchSize,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	s.sessions, err = sessions.New(sessions.Config{
		Store:   s.store,
		Timeout: s.cfg.SessionTimeout,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	s.engine, err = analytics.New(analytics.Config{
		Store: s.store,
		Cache: s.cache,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	if s.cfg.Features.ABTesting {
		s.experiments, err = experiments.New(experiments.Config{
			Store:    s.store,
			Recorder: s.tracker,
		})
		if err != nil {
			return trace.Wrap(err)
		}
	}
	s.handler, err = web.NewHandler(web.Config{
		Tracker:   s.tracker,
		Engine:    s.engine,
		Store:     s.store,
		Cache:     s.cache,
		RateLimit: s.cfg.RateLimit,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	s.retentionDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: northstar.MetricNamespace,
		Name:      northstar.MetricStoreRetentionDeleted,
		Help:      "Number of events removed by the retention sweep",
	})
	if err := metrics.RegisterCollectors(s.retentionDeleted); err != nil {
		return trace.Wrap(err)
	}

	s.scheduler, err = scheduler.New(scheduler.Config{})
	if err != nil {
		return trace.Wrap(err)
	}
	if err := s.scheduler.AddJob("process-events", "@every 60s", s.processEvents); err != nil {
		return trace.Wrap(err)
	}
	if err := s.scheduler.AddJob("hourly-aggregation", "0 * * * *", s.hourlyAggregation); err != nil {
		return trace.Wrap(err)
	}
	if err := s.scheduler.AddJob("daily-maintenance", "0 2 * * *", s.dailyMaintenance); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// Experiments returns the experiment service, nil when the ab_testing
// feature is off.
func (s *Service) Experiments() *experiments.Service {
	return s.experiments
}

// Run starts every subsystem and blocks until ctx is canceled, then shuts
// down in dependency order: listeners first, then the scheduler, then the
// tracker with a final flush, finally the backends.
func (s *Service) Run(ctx context.Context) error {
	if err := s.tracker.Start(); err != nil {
		return trace.Wrap(err)
	}
	s.scheduler.Start()

	apiServer := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.handler.NewMux(),
	}
	diagServer := &http.Server{
		Addr:    s.cfg.DiagAddr,
		Handler: s.newDiagMux(),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		s.log.InfoContext(ctx, "API server listening.", "addr", apiServer.Addr)
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return trace.Wrap(err)
		}
		return nil
	})
	group.Go(func() error {
		s.log.InfoContext(ctx, "Diagnostics server listening.", "addr", diagServer.Addr, "debug", s.cfg.Debug)
		if err := diagServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return trace.Wrap(err)
		}
		return nil
	})
	group.Go(func() error {
		return trace.Wrap(s.sessions.RunJanitor(groupCtx))
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return trace.Wrap(s.shutdown(apiServer, diagServer))
	})

	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return trace.Wrap(err)
}

// shutdown drains and stops everything in dependency order. Runs once, from
// Run, after the parent context is canceled.
func (s *Service) shutdown(apiServer, diagServer *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.log.InfoContext(ctx, "Shutting down.")

	var errs []error
	// Listeners first so no new work arrives.
	errs = append(errs, apiServer.Shutdown(ctx))
	// Then the scheduler, so no job starts against a draining tracker.
	s.scheduler.Stop()
	// The tracker flushes what is still queued before the store goes away.
	errs = append(errs, s.tracker.Close(true))
	errs = append(errs, s.closeBackends())
	// The diag listener goes last so metrics stay scrapable through the
	// drain.
	errs = append(errs, diagServer.Shutdown(ctx))
	s.log.InfoContext(ctx, "Shutdown complete.")
	return trace.NewAggregate(errs...)
}

// newDiagMux serves prometheus metrics, liveness and optional pprof.
func (s *Service) newDiagMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.cfg.Debug {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// processEvents is the scheduled processing tick.
func (s *Service) processEvents(ctx context.Context) error {
	result, err := s.processor.ProcessBatch(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	if result.Claimed > 0 {
		s.log.DebugContext(ctx, "Processing pass finished.",
			"claimed", result.Claimed, "processed", result.Processed,
			"failed", result.Failed, "conversions", result.Conversions)
	}
	return nil
}

// hourlyAggregation materializes the previous hour: per-type event counts
// and the session rollup, written as metric rows so dashboards read cheap
// precomputed series instead of scanning the event log.
func (s *Service) hourlyAggregation(ctx context.Context) error {
	now := s.clock.Now().UTC()
	to := now.Truncate(time.Hour)
	from := to.Add(-time.Hour)

	buckets, err := s.engine.AggregateEvents(ctx, from, to, types.PeriodHour, nil)
	if err != nil {
		return trace.Wrap(err)
	}
	var errs []error
	for _, bucket := range buckets {
		errs = append(errs, s.engine.SaveMetric(ctx, &types.Metric{
			Name:      "events." + string(bucket.Type) + ".count",
			Type:      types.MetricTypeCounter,
			Value:     float64(bucket.Count),
			Period:    types.PeriodHour,
			Timestamp: bucket.Period,
		}))
	}

	sessionMetrics, err := s.engine.CalculateSessionMetrics(ctx, from, to)
	if err != nil {
		return trace.NewAggregate(append(errs, err)...)
	}
	for name, value := range map[string]float64{
		"sessions.total":           float64(sessionMetrics.TotalSessions),
		"sessions.bounce_rate":     sessionMetrics.BounceRate,
		"sessions.conversion_rate": sessionMetrics.ConversionRate,
		"sessions.avg_duration":    sessionMetrics.AvgDurationSeconds,
	} {
		metricType := types.MetricTypeGauge
		if name == "sessions.bounce_rate" || name == "sessions.conversion_rate" {
			metricType = types.MetricTypeRate
		}
		errs = append(errs, s.engine.SaveMetric(ctx, &types.Metric{
			Name:      name,
			Type:      metricType,
			Value:     value,
			Period:    types.PeriodHour,
			Timestamp: from,
		}))
	}
	return trace.NewAggregate(errs...)
}

// dailyMaintenance runs the 02:00 sweep: expired export jobs, raw event
// retention and a defensive idle session pass.
func (s *Service) dailyMaintenance(ctx context.Context) error {
	now := s.clock.Now().UTC()
	var errs []error

	expired, err := s.store.ExportJobs().ListExpired(ctx, now)
	if err != nil {
		errs = append(errs, err)
	}
	for _, job := range expired {
		if job.FilePath != "" {
			if err := os.Remove(job.FilePath); err != nil && !os.IsNotExist(err) {
				s.log.WarnContext(ctx, "Failed to remove export artifact.",
					"job_id", job.ID, "path", job.FilePath, "error", err)
			}
		}
		if err := s.store.ExportJobs().Delete(ctx, job.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		s.log.InfoContext(ctx, "Removed expired export job.", "job_id", job.ID)
	}

	cutoff := now.AddDate(0, 0, -s.cfg.RetentionDays)
	var totalDeleted int64
	for {
		deleted, err := s.store.Events().DeleteOlderThan(ctx, cutoff, defaults.RetentionSweepBatch)
		if err != nil {
			errs = append(errs, err)
			break
		}
		totalDeleted += deleted
		s.retentionDeleted.Add(float64(deleted))
		if deleted < defaults.RetentionSweepBatch {
			break
		}
	}
	if totalDeleted > 0 {
		s.log.InfoContext(ctx, "Retention sweep finished.",
			"deleted", totalDeleted, "cutoff", cutoff)
	}

	if _, err := s.sessions.CloseIdle(ctx, now); err != nil {
		errs = append(errs, err)
	}
	return trace.NewAggregate(errs...)
}

// closeBackends closes the store and cache connections.
func (s *Service) closeBackends() error {
	return trace.NewAggregate(s.store.Close(), s.cache.Close())
}
