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

// Package sessions manages the session lifecycle. Sessions are opened
// explicitly with an acquisition snapshot, accumulate activity through the
// processor, and close on explicit end or when the inactivity janitor
// sweeps them.
package sessions

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

// Config configures the session service.
type Config struct {
	// Store holds the sessions and the user counters.
	Store storage.Store

	// Timeout is the inactivity period after which an open session is
	// considered idle and closed by the janitor.
	Timeout time.Duration

	// JanitorInterval is how often the janitor sweeps.
	JanitorInterval time.Duration

	// SweepBatch caps how many idle sessions one sweep round loads.
	SweepBatch int

	// Clock is used to override time in tests.
	Clock clockwork.Clock

	// Logger emits session lifecycle logs.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("missing Store")
	}
	if c.Timeout == 0 {
		c.Timeout = defaults.SessionTimeout
	}
	if c.Timeout < 0 {
		return trace.BadParameter("Timeout must be positive, got %v", c.Timeout)
	}
	if c.JanitorInterval == 0 {
		c.JanitorInterval = defaults.SessionJanitorInterval
	}
	if c.SweepBatch == 0 {
		c.SweepBatch = defaults.BatchSize
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(northstar.ComponentKey, northstar.ComponentSessions)
	}
	return nil
}

// Service opens, ends and sweeps sessions.
type Service struct {
	cfg     Config
	log     *slog.Logger
	metrics *sessionMetrics
}

// New returns a session service.
func New(cfg Config) (*Service, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	m, err := newSessionMetrics()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Service{cfg: cfg, log: cfg.Logger, metrics: m}, nil
}

// BeginRequest carries the attributes captured when a session opens.
type BeginRequest struct {
	// ID is the client supplied session id; generated when empty.
	ID string `json:"id,omitempty"`
	// UserID is the owning user.
	UserID string `json:"userId"`
	// StartedAt is the open time; defaults to now.
	StartedAt time.Time `json:"startedAt,omitempty"`
	// UTMSource is the acquisition source at open.
	UTMSource string `json:"utmSource,omitempty"`
	// UTMMedium is the acquisition medium at open.
	UTMMedium string `json:"utmMedium,omitempty"`
	// UTMCampaign is the acquisition campaign at open.
	UTMCampaign string `json:"utmCampaign,omitempty"`
	// Referrer is the document referrer at open.
	Referrer string `json:"referrer,omitempty"`
	// LandingPage is the first page of the session.
	LandingPage string `json:"landingPage,omitempty"`
}

// Begin opens a session and counts it on the owning user. The user is
// created on first contact.
func (s *Service) Begin(ctx context.Context, req BeginRequest) (*types.Session, error) {
	session := &types.Session{
		ID:          req.ID,
		UserID:      req.UserID,
		StartedAt:   req.StartedAt,
		UTMSource:   req.UTMSource,
		UTMMedium:   req.UTMMedium,
		UTMCampaign: req.UTMCampaign,
		Referrer:    req.Referrer,
		LandingPage: req.LandingPage,
	}
	if err := session.CheckAndSetDefaults(s.cfg.Clock.Now()); err != nil {
		return nil, trace.Wrap(err)
	}
	err := s.cfg.Store.WithTx(ctx, func(tx storage.Store) error {
		if err := tx.Users().Ensure(ctx, session.UserID, session.StartedAt); err != nil {
			return trace.Wrap(err)
		}
		delta := types.UserStatsDelta{Sessions: 1}
		if err := tx.Users().IncrementStats(ctx, session.UserID, delta, session.StartedAt); err != nil {
			return trace.Wrap(err)
		}
		return trace.Wrap(tx.Sessions().Create(ctx, session))
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.log.DebugContext(ctx, "Opened session.", "session_id", session.ID, "user_id", session.UserID)
	return session, nil
}

// Get returns a session by id.
func (s *Service) Get(ctx context.Context, id string) (*types.Session, error) {
	session, err := s.cfg.Store.Sessions().Get(ctx, id)
	return session, trace.Wrap(err)
}

// End closes a session, finalizing its duration and bounce flag. Ending an
// already closed session returns it unchanged.
func (s *Service) End(ctx context.Context, id string) (*types.Session, error) {
	existing, err := s.cfg.Store.Sessions().Get(ctx, id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if existing.Closed() {
		return existing, nil
	}
	session, err := s.cfg.Store.Sessions().End(ctx, id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.metrics.closed.WithLabelValues("explicit").Inc()
	return session, nil
}

// CloseIdle closes every open session whose last activity is older than
// the timeout relative to now. Returns how many sessions it closed.
func (s *Service) CloseIdle(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.cfg.Timeout)
	var closed int
	for {
		idle, err := s.cfg.Store.Sessions().ListIdleOpen(ctx, cutoff, s.cfg.SweepBatch)
		if err != nil {
			return closed, trace.Wrap(err)
		}
		if len(idle) == 0 {
			return closed, nil
		}
		var round int
		for _, session := range idle {
			if _, err := s.cfg.Store.Sessions().End(ctx, session.ID); err != nil {
				s.log.WarnContext(ctx, "Failed to close idle session.",
					"error", err, "session_id", session.ID)
				continue
			}
			round++
			s.metrics.closed.WithLabelValues("idle").Inc()
		}
		closed += round
		// Stop when the store has no more idle sessions to hand out, or
		// when nothing in this round went away and another round would
		// spin on the same sessions.
		if len(idle) < s.cfg.SweepBatch || round == 0 {
			return closed, nil
		}
	}
}

// RunJanitor sweeps idle sessions on the configured interval until the
// context is canceled.
func (s *Service) RunJanitor(ctx context.Context) error {
	ticker := s.cfg.Clock.NewTicker(s.cfg.JanitorInterval)
	defer ticker.Stop()
	s.log.InfoContext(ctx, "Session janitor started.",
		"timeout", s.cfg.Timeout, "interval", s.cfg.JanitorInterval)
	for {
		select {
		case <-ctx.Done():
			s.log.InfoContext(ctx, "Session janitor stopped.")
			return nil
		case <-ticker.Chan():
			n, err := s.CloseIdle(ctx, s.cfg.Clock.Now())
			if err != nil {
				s.log.WarnContext(ctx, "Idle session sweep failed.", "error", err)
				continue
			}
			if n > 0 {
				s.log.DebugContext(ctx, "Closed idle sessions.", "count", n)
			}
		}
	}
}

type sessionMetrics struct {
	closed *prometheus.CounterVec
}

func newSessionMetrics() (*sessionMetrics, error) {
	m := &sessionMetrics{
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: northstar.MetricNamespace,
			Name:      northstar.MetricSessionsClosed,
			Help:      "Number of sessions closed, by reason",
		}, []string{"reason"}),
	}
	return m, trace.Wrap(metrics.RegisterCollectors(m.closed))
}
