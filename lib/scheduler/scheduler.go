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

// Package scheduler runs the periodic maintenance jobs: the processing tick,
// the hourly aggregation and the daily expiry sweep. A failing or panicking
// job is recorded and the schedule keeps running; a tick that fires while
// the previous run of the same job is still in flight is skipped.
package scheduler

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/northstarhq/northstar"
	"github.com/northstarhq/northstar/lib/observability/metrics"
)

// JobFunc is a single run of a scheduled job. The context is canceled when
// the scheduler stops.
type JobFunc func(ctx context.Context) error

// Config configures the scheduler.
type Config struct {
	// Logger emits per-job logs.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Logger == nil {
		c.Logger = slog.With(northstar.ComponentKey, northstar.ComponentScheduler)
	}
	return nil
}

// Scheduler dispatches registered jobs on their cron schedules.
type Scheduler struct {
	cfg     Config
	log     *slog.Logger
	cron    *cron.Cron
	metrics *schedulerMetrics

	closeCtx context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex
	started bool
}

// New returns a stopped scheduler. Register jobs with AddJob, then Start.
func New(cfg Config) (*Scheduler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	m, err := newSchedulerMetrics()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:      cfg,
		log:      cfg.Logger,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		metrics:  m,
		closeCtx: ctx,
		cancel:   cancel,
	}, nil
}

// AddJob registers fn to run on the cron schedule spec. Standard 5-field
// specs and the @every form are accepted.
func (s *Scheduler) AddJob(name, spec string, fn JobFunc) error {
	if name == "" {
		return trace.BadParameter("missing job name")
	}
	if fn == nil {
		return trace.BadParameter("missing job function for %v", name)
	}
	_, err := s.cron.AddFunc(spec, func() {
		s.runJob(name, fn)
	})
	if err != nil {
		return trace.BadParameter("invalid schedule %q for job %v: %v", spec, name, err)
	}
	return nil
}

// Start begins dispatching jobs. Safe to call once.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.log.InfoContext(s.closeCtx, "Scheduler started.")
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.InfoContext(context.Background(), "Scheduler stopped.")
}

// runJob executes one run of a job, recording duration and outcome. Panics
// are contained here so a broken job cannot take down the process.
func (s *Scheduler) runJob(name string, fn JobFunc) {
	start := time.Now()
	s.metrics.jobRuns.WithLabelValues(name).Inc()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			s.metrics.jobFailures.WithLabelValues(name).Inc()
			s.log.ErrorContext(s.closeCtx, "Scheduled job panicked.",
				"job", name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	if err := fn(s.closeCtx); err != nil {
		s.metrics.jobFailures.WithLabelValues(name).Inc()
		s.log.WarnContext(s.closeCtx, "Scheduled job failed.",
			"job", name, "error", err, "elapsed", time.Since(start))
		return
	}
	s.log.DebugContext(s.closeCtx, "Scheduled job completed.",
		"job", name, "elapsed", time.Since(start))
}

type schedulerMetrics struct {
	jobRuns     *prometheus.CounterVec
	jobFailures *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

func newSchedulerMetrics() (*schedulerMetrics, error) {
	m := &schedulerMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: northstar.MetricNamespace,
			Name:      northstar.MetricSchedulerJobRuns,
			Help:      "Number of scheduled job executions",
		}, []string{"job"}),
		jobFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: northstar.MetricNamespace,
			Name:      northstar.MetricSchedulerJobFailures,
			Help:      "Number of scheduled job executions that failed",
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: northstar.MetricNamespace,
			Name:      northstar.MetricSchedulerJobDuration,
			Help:      "Duration of a scheduled job execution",
			// lowest bucket start of upper bound 0.01 sec with factor 2
			// highest bucket start of 0.01 sec * 2^13 == 81.92 sec
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"job"}),
	}
	return m, trace.Wrap(metrics.RegisterCollectors(
		m.jobRuns,
		m.jobFailures,
		m.jobDuration,
	))
}
