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

// Package events implements the event intake pipeline: a bounded in-memory
// queue fed by Track calls and drained by a background flusher that writes
// batches to the store. Intake is at-most-once until a batch is persisted,
// at-least-once afterwards.
package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
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

// TrackerConfig configures the event tracker.
type TrackerConfig struct {
	// Store receives flushed event batches.
	Store storage.Store

	// Context is the parent context of the flusher. Canceling it abandons
	// queued events; use Close to drain first.
	Context context.Context

	// BatchSize is the largest batch a single flush writes. A queue at or
	// beyond this size triggers a flush on the next tick.
	BatchSize int

	// QueueSize bounds the intake queue. Events arriving beyond it are
	// dropped and counted.
	QueueSize int

	// FlushInterval is how long queued events may wait before a
	// time-triggered flush.
	FlushInterval time.Duration

	// FlushTick is the granularity at which the flusher re-checks its
	// flush conditions.
	FlushTick time.Duration

	// FlushRetryBase is the delay after the first failed flush. Doubled on
	// every consecutive failure up to FlushRetryMax.
	FlushRetryBase time.Duration

	// FlushRetryMax caps the flush retry delay.
	FlushRetryMax time.Duration

	// FailureWarningThreshold is the number of consecutive flush failures
	// after which the tracker logs at ERROR instead of WARN.
	FailureWarningThreshold int

	// CloseTimeout bounds the final drain performed by Close.
	CloseTimeout time.Duration

	// Clock is used to override time in tests.
	Clock clockwork.Clock

	// Logger emits tracker logs.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *TrackerConfig) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("missing Store")
	}
	if c.Context == nil {
		c.Context = context.Background()
	}
	if c.BatchSize == 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.BatchSize < 1 {
		return trace.BadParameter("BatchSize must be positive, got %v", c.BatchSize)
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaults.TrackerQueueSize
	}
	if c.QueueSize < c.BatchSize {
		return trace.BadParameter("QueueSize %v must hold at least one batch of %v", c.QueueSize, c.BatchSize)
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = defaults.FlushInterval
	}
	if c.FlushTick == 0 {
		c.FlushTick = defaults.FlushTick
	}
	if c.FlushRetryBase == 0 {
		c.FlushRetryBase = defaults.FlushRetryBase
	}
	if c.FlushRetryMax == 0 {
		c.FlushRetryMax = defaults.FlushRetryMax
	}
	if c.FailureWarningThreshold == 0 {
		c.FailureWarningThreshold = defaults.FlushFailureWarningThreshold
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = defaults.TrackerCloseTimeout
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(northstar.ComponentKey, northstar.ComponentTracker)
	}
	return nil
}

// Tracker accepts events, validates them and queues them for the background
// flusher. Within one producer goroutine enqueue order is preserved through
// the flusher; no ordering is promised across producers.
type Tracker struct {
	cfg TrackerConfig
	log *slog.Logger

	// mu serializes enqueues so TrackBatch can reserve queue capacity
	// for a whole batch.
	mu    sync.Mutex
	queue chan *types.Event

	closeCtx     context.Context
	cancel       context.CancelFunc
	started      atomic.Bool
	closeOnce    sync.Once
	flushOnClose atomic.Bool
	doneCh       chan struct{}
	flushCh      chan flushRequest

	// pendingCount mirrors the batch currently held by the flusher, it
	// counts toward QueueSize.
	pendingCount atomic.Int64

	acceptedEvents atomic.Int64
	droppedEvents  atomic.Int64
	invalidEvents  atomic.Int64
	flushedEvents  atomic.Int64
	lostEvents     atomic.Int64

	metrics *trackerMetrics
}

type flushRequest struct {
	result chan flushResult
}

type flushResult struct {
	n   int
	err error
}

// NewTracker returns a tracker ready to accept events. The background
// flusher does not run until Start is called.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	closeCtx, cancel := context.WithCancel(cfg.Context)
	t := &Tracker{
		cfg:      cfg,
		log:      cfg.Logger,
		queue:    make(chan *types.Event, cfg.QueueSize),
		closeCtx: closeCtx,
		cancel:   cancel,
		doneCh:   make(chan struct{}),
		flushCh:  make(chan flushRequest),
	}
	m, err := newTrackerMetrics(t.QueueSize)
	if err != nil {
		cancel()
		return nil, trace.Wrap(err)
	}
	t.metrics = m
	return t, nil
}

// Start launches the background flusher. Calling Start more than once has
// no effect.
func (t *Tracker) Start() error {
	select {
	case <-t.closeCtx.Done():
		return trace.Errorf("tracker is closed")
	default:
	}
	if t.started.CompareAndSwap(false, true) {
		go t.runFlusher()
	}
	return nil
}

// Track validates the event, assigns its id and ingest time and enqueues
// it. Returns the event id. When the queue is full the event is dropped,
// counted and trace.LimitExceeded returned.
func (t *Tracker) Track(event *types.Event) (string, error) {
	if err := event.CheckAndSetDefaults(t.cfg.Clock.Now()); err != nil {
		t.invalidEvents.Add(1)
		t.metrics.invalidEvents.Inc()
		t.log.WarnContext(t.closeCtx, "Rejected invalid event.", "error", err, "event_name", event.Name)
		return "", trace.Wrap(err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.closeCtx.Done():
		return "", trace.Errorf("tracker is closed")
	default:
	}
	select {
	case t.queue <- event:
		t.acceptedEvents.Add(1)
		t.metrics.acceptedEvents.Inc()
		return event.ID, nil
	default:
		t.droppedEvents.Add(1)
		t.metrics.droppedEvents.Inc()
		return "", trace.LimitExceeded("event queue is full, event dropped")
	}
}

// TrackBatch validates and enqueues all events or none of them. A batch
// that does not fit in the queue is dropped whole and counted.
func (t *Tracker) TrackBatch(batch []*types.Event) ([]string, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	now := t.cfg.Clock.Now()
	ids := make([]string, 0, len(batch))
	for _, event := range batch {
		if err := event.CheckAndSetDefaults(now); err != nil {
			t.invalidEvents.Add(1)
			t.metrics.invalidEvents.Inc()
			t.log.WarnContext(t.closeCtx, "Rejected event batch with invalid event.", "error", err, "event_name", event.Name)
			return nil, trace.Wrap(err)
		}
		ids = append(ids, event.ID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.closeCtx.Done():
		return nil, trace.Errorf("tracker is closed")
	default:
	}
	// Only enqueues run under mu, so the free capacity observed here
	// cannot shrink before the sends below.
	if len(batch) > t.cfg.QueueSize-len(t.queue) {
		t.droppedEvents.Add(int64(len(batch)))
		t.metrics.droppedEvents.Add(float64(len(batch)))
		return nil, trace.LimitExceeded("event queue cannot hold a batch of %v, batch dropped", len(batch))
	}
	for _, event := range batch {
		t.queue <- event
	}
	t.acceptedEvents.Add(int64(len(batch)))
	t.metrics.acceptedEvents.Add(float64(len(batch)))
	return ids, nil
}

// Flush synchronously drains up to one batch to the store and returns how
// many events were persisted. Requires a started tracker.
func (t *Tracker) Flush(ctx context.Context) (int, error) {
	if !t.started.Load() {
		return 0, trace.Errorf("tracker is not started")
	}
	req := flushRequest{result: make(chan flushResult, 1)}
	select {
	case t.flushCh <- req:
	case <-t.closeCtx.Done():
		return 0, trace.Errorf("tracker is closed")
	case <-ctx.Done():
		return 0, trace.Wrap(ctx.Err())
	}
	select {
	case res := <-req.result:
		return res.n, trace.Wrap(res.err)
	case <-ctx.Done():
		return 0, trace.Wrap(ctx.Err())
	}
}

// Close stops the flusher. With flushRemaining set the queue is drained to
// the store first, bounded by CloseTimeout; whatever cannot be persisted in
// time is dropped and counted.
func (t *Tracker) Close(flushRemaining bool) error {
	t.closeOnce.Do(func() {
		t.flushOnClose.Store(flushRemaining)
		t.cancel()
	})
	if !t.started.Load() {
		return nil
	}
	select {
	case <-t.doneCh:
		return nil
	case <-time.After(t.cfg.CloseTimeout):
		t.log.WarnContext(context.Background(), "Timed out waiting for the final event flush.",
			"timeout", t.cfg.CloseTimeout, "queued", t.QueueSize())
		return nil
	}
}

// QueueSize returns the number of events waiting to be persisted, counting
// the batch currently held by the flusher.
func (t *Tracker) QueueSize() int {
	return len(t.queue) + int(t.pendingCount.Load())
}

// TrackerStats is a point in time snapshot of the intake counters.
type TrackerStats struct {
	// AcceptedEvents is the total number of events accepted into the queue.
	AcceptedEvents int64
	// DroppedEvents is the total number of events dropped on a full queue.
	DroppedEvents int64
	// InvalidEvents is the total number of events rejected by validation.
	InvalidEvents int64
	// FlushedEvents is the total number of events persisted to the store.
	FlushedEvents int64
	// LostEvents is the total number of events abandoned at close.
	LostEvents int64
	// QueueDepth is the current queue size.
	QueueDepth int
}

// Stats returns up to date intake counters.
func (t *Tracker) Stats() TrackerStats {
	return TrackerStats{
		AcceptedEvents: t.acceptedEvents.Load(),
		DroppedEvents:  t.droppedEvents.Load(),
		InvalidEvents:  t.invalidEvents.Load(),
		FlushedEvents:  t.flushedEvents.Load(),
		LostEvents:     t.lostEvents.Load(),
		QueueDepth:     t.QueueSize(),
	}
}

func (t *Tracker) runFlusher() {
	defer close(t.doneCh)
	ticker := t.cfg.Clock.NewTicker(t.cfg.FlushTick)
	defer ticker.Stop()

	pending := make([]*types.Event, 0, t.cfg.BatchSize)
	lastFlush := t.cfg.Clock.Now()
	var failures int
	var retryDelay time.Duration
	var retryAt time.Time

	flush := func(now time.Time) (int, error) {
		pending = t.fill(pending)
		t.pendingCount.Store(int64(len(pending)))
		if len(pending) == 0 {
			lastFlush = now
			return 0, nil
		}
		n, err := t.writeBatch(t.cfg.Context, &pending)
		t.pendingCount.Store(int64(len(pending)))
		if err != nil {
			failures++
			if retryDelay == 0 {
				retryDelay = t.cfg.FlushRetryBase
			} else {
				retryDelay = min(retryDelay*2, t.cfg.FlushRetryMax)
			}
			retryAt = now.Add(retryDelay)
			t.metrics.flushFailures.Inc()
			if failures >= t.cfg.FailureWarningThreshold {
				t.log.ErrorContext(t.cfg.Context, "Event flush keeps failing, events remain queued.",
					"error", err, "consecutive_failures", failures, "queued", t.QueueSize())
			} else {
				t.log.WarnContext(t.cfg.Context, "Failed to flush events, will retry.",
					"error", err, "retry_in", retryDelay)
			}
			return 0, trace.Wrap(err)
		}
		lastFlush, failures, retryDelay, retryAt = now, 0, 0, time.Time{}
		return n, nil
	}

	for {
		select {
		case <-t.closeCtx.Done():
			t.drainOnClose(pending)
			return
		case req := <-t.flushCh:
			// An explicit flush attempts the write regardless of any
			// backoff in progress.
			n, err := flush(t.cfg.Clock.Now())
			req.result <- flushResult{n: n, err: err}
		case <-ticker.Chan():
			now := t.cfg.Clock.Now()
			if !retryAt.IsZero() && now.Before(retryAt) {
				continue
			}
			if t.QueueSize() >= t.cfg.BatchSize || now.Sub(lastFlush) >= t.cfg.FlushInterval {
				//nolint:errcheck // logged inside flush and retried on the next tick
				flush(now)
			}
		}
	}
}

// fill moves events from the queue into the pending batch up to BatchSize.
// A batch kept from a failed flush is retried before new events are taken.
func (t *Tracker) fill(pending []*types.Event) []*types.Event {
	for len(pending) < t.cfg.BatchSize {
		select {
		case event := <-t.queue:
			pending = append(pending, event)
		default:
			return pending
		}
	}
	return pending
}

// writeBatch persists the pending batch. On success the batch is emptied,
// on failure the unpersisted tail is kept for retry.
func (t *Tracker) writeBatch(ctx context.Context, pending *[]*types.Event) (int, error) {
	start := time.Now()
	n, err := t.createBatch(ctx, pending)
	if err != nil {
		return n, trace.Wrap(err)
	}
	t.flushedEvents.Add(int64(n))
	t.metrics.flushedEvents.Add(float64(n))
	t.metrics.flushDuration.Observe(time.Since(start).Seconds())
	t.log.DebugContext(ctx, "Flushed events.", "count", n)
	return n, nil
}

func (t *Tracker) createBatch(ctx context.Context, pending *[]*types.Event) (int, error) {
	batch := *pending
	n, err := t.cfg.Store.Events().CreateBatch(ctx, batch)
	if err == nil {
		*pending = batch[:0]
		return n, nil
	}
	if !trace.IsAlreadyExists(err) {
		return 0, trace.Wrap(err)
	}
	// Part of the batch is already persisted, which happens when a caller
	// replays events with its own ids. Write the rest one by one, skipping
	// the duplicates.
	var written int
	for i, event := range batch {
		err := t.cfg.Store.Events().Create(ctx, event)
		switch {
		case err == nil:
			written++
		case trace.IsAlreadyExists(err):
		default:
			*pending = batch[i:]
			return written, trace.Wrap(err)
		}
	}
	*pending = batch[:0]
	return written, nil
}

// drainOnClose runs after the close signal: either a bounded flush of
// everything still queued, or an accounting of what is being abandoned.
func (t *Tracker) drainOnClose(pending []*types.Event) {
	if !t.flushOnClose.Load() {
		if lost := len(pending) + len(t.queue); lost > 0 {
			t.lostEvents.Add(int64(lost))
			t.log.WarnContext(context.Background(), "Discarding queued events on close.", "count", lost)
		}
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(t.cfg.Context), t.cfg.CloseTimeout)
	defer cancel()
	for {
		pending = t.fill(pending)
		t.pendingCount.Store(int64(len(pending)))
		if len(pending) == 0 {
			return
		}
		if _, err := t.writeBatch(ctx, &pending); err != nil {
			lost := len(pending) + len(t.queue)
			t.lostEvents.Add(int64(lost))
			t.pendingCount.Store(int64(len(pending)))
			t.log.WarnContext(context.Background(), "Failed to flush remaining events on close, events lost.",
				"error", err, "count", lost)
			return
		}
		t.pendingCount.Store(0)
	}
}

type trackerMetrics struct {
	queueDepth     prometheus.GaugeFunc
	acceptedEvents prometheus.Counter
	droppedEvents  prometheus.Counter
	invalidEvents  prometheus.Counter
	flushedEvents  prometheus.Counter
	flushFailures  prometheus.Counter
	flushDuration  prometheus.Histogram
}

func newTrackerMetrics(queueDepth func() int) (*trackerMetrics, error) {
	m := &trackerMetrics{
		queueDepth: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: northstar.MetricNamespace,
				Name:      northstar.MetricTrackerQueueDepth,
				Help:      "Number of events waiting in the tracker queue",
			},
			func() float64 { return float64(queueDepth()) },
		),
		acceptedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: northstar.MetricNamespace,
			Name:      northstar.MetricTrackerAcceptedEvents,
			Help:      "Number of events accepted into the tracker queue",
		}),
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: northstar.MetricNamespace,
			Name:      northstar.MetricTrackerDroppedEvents,
			Help:      "Number of events dropped because the queue was full",
		}),
		invalidEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: northstar.MetricNamespace,
			Name:      northstar.MetricTrackerInvalidEvents,
			Help:      "Number of events rejected by validation",
		}),
		flushedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: northstar.MetricNamespace,
			Name:      northstar.MetricTrackerFlushedEvents,
			Help:      "Number of events persisted to the store",
		}),
		flushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: northstar.MetricNamespace,
			Name:      northstar.MetricTrackerFlushFailures,
			Help:      "Number of failed flush attempts",
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: northstar.MetricNamespace,
			Name:      northstar.MetricTrackerFlushDuration,
			Help:      "Duration of a single event flush to the store",
			// lowest bucket start of upper bound 0.001 sec (1 ms) with factor 2
			// highest bucket start of 0.001 sec * 2^15 == 32.768 sec
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
	}
	return m, trace.Wrap(metrics.RegisterCollectors(
		m.queueDepth,
		m.acceptedEvents,
		m.droppedEvents,
		m.invalidEvents,
		m.flushedEvents,
		m.flushFailures,
		m.flushDuration,
	))
}
