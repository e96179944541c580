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
	"math"
	"time"

	"github.com/gravitational/trace"

	"github.com/northstarhq/northstar/lib/storage"
	"github.com/northstarhq/northstar/lib/types"
)

// diversitySampleLimit caps how many recent events the diversity sub-score
// samples; a user with more keeps only the most recent ones.
const diversitySampleLimit = 1000

// userVitals carries the per user statistics the scoring rubrics share.
type userVitals struct {
	user *types.User
	// ageDays is how long the user has been known, floored at one day.
	ageDays float64
	// daysSinceLastSeen is the staleness of the user, fractional days.
	daysSinceLastSeen float64
	// sessionsPerWeek is the lifetime session frequency.
	sessionsPerWeek float64
	// avgSessionSeconds is the mean duration across the user's sessions,
	// zero when the user has none.
	avgSessionSeconds float64
	// trend is the relative change of the last seven days' session count
	// against the seven days before.
	trend float64
}

func (e *Engine) loadVitals(ctx context.Context, userID string) (*userVitals, error) {
	if userID == "" {
		return nil, trace.BadParameter("missing user id")
	}
	user, err := e.cfg.Store.Users().Get(ctx, userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	now := e.cfg.Clock.Now()

	v := &userVitals{user: user}
	v.ageDays = math.Max(1, now.Sub(user.FirstSeenAt).Hours()/24)
	v.daysSinceLastSeen = now.Sub(user.LastSeenAt).Hours() / 24
	v.sessionsPerWeek = float64(user.TotalSessions) / (v.ageDays / 7)

	sessions, err := e.cfg.Store.Sessions().List(ctx, storage.SessionFilter{UserID: userID})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(sessions) > 0 {
		var total int64
		for _, s := range sessions {
			total += s.DurationSeconds
		}
		v.avgSessionSeconds = float64(total) / float64(len(sessions))
	}

	week := 7 * 24 * time.Hour
	recent, err := e.cfg.Store.Sessions().Count(ctx, storage.SessionFilter{
		UserID: userID, From: now.Add(-week), To: now,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	previous, err := e.cfg.Store.Sessions().Count(ctx, storage.SessionFilter{
		UserID: userID, From: now.Add(-2 * week), To: now.Add(-week),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	v.trend = sessionTrend(recent, previous)
	return v, nil
}

// sessionTrend is the relative week over week change. A user going from
// nothing to something counts as full growth; nothing to nothing is flat.
func sessionTrend(recent, previous int64) float64 {
	switch {
	case previous > 0:
		return (float64(recent) - float64(previous)) / float64(previous)
	case recent > 0:
		return 1.0
	}
	return 0
}

// scoreFault downgrades a store fault during scoring to a zero score.
// Context cancellation still surfaces to the caller.
func (e *Engine) scoreFault(ctx context.Context, err error, op string) error {
	if ctx.Err() != nil {
		return trace.Wrap(err)
	}
	e.log.WarnContext(ctx, "Scoring read failed, returning zero score.", "op", op, "error", err)
	return nil
}

// PredictChurn estimates the probability the user is churning, in [0, 1].
// The score is an additive rubric over staleness, session depth, frequency
// and the week over week trend.
func (e *Engine) PredictChurn(ctx context.Context, userID string) (float64, error) {
	v, err := e.loadVitals(ctx, userID)
	if err != nil {
		if trace.IsNotFound(err) || trace.IsBadParameter(err) {
			return 0, trace.Wrap(err)
		}
		return 0, e.scoreFault(ctx, err, "predict_churn")
	}

	var score float64
	switch {
	case v.daysSinceLastSeen > 30:
		score += 0.4
	case v.daysSinceLastSeen > 14:
		score += 0.2
	case v.daysSinceLastSeen > 7:
		score += 0.1
	}
	if v.avgSessionSeconds < 60 {
		score += 0.2
	}
	if v.sessionsPerWeek < 1 {
		score += 0.2
	}
	if v.trend < -0.5 {
		score += 0.2
	}
	return math.Min(score, 1.0), nil
}

// PredictLTV projects the user's value over the given horizon in months
// (default 12) from the monthly run rate, adjusted by the session trend.
// Never negative.
func (e *Engine) PredictLTV(ctx context.Context, userID string, months int) (float64, error) {
	if months <= 0 {
		months = 12
	}
	v, err := e.loadVitals(ctx, userID)
	if err != nil {
		if trace.IsNotFound(err) || trace.IsBadParameter(err) {
			return 0, trace.Wrap(err)
		}
		return 0, e.scoreFault(ctx, err, "predict_ltv")
	}

	avgMonthlyValue := v.user.LifetimeValue / v.ageDays * 30
	growthFactor := 1 + 0.1*v.trend
	return math.Max(0, avgMonthlyValue*float64(months)*growthFactor), nil
}

// EngagementScore rates the user's engagement in [0, 100]: thirty percent
// recency, thirty percent frequency, twenty percent session depth, twenty
// percent event diversity, each sub-score from a bucket table.
func (e *Engine) EngagementScore(ctx context.Context, userID string) (float64, error) {
	v, err := e.loadVitals(ctx, userID)
	if err != nil {
		if trace.IsNotFound(err) || trace.IsBadParameter(err) {
			return 0, trace.Wrap(err)
		}
		return 0, e.scoreFault(ctx, err, "engagement_score")
	}
	now := e.cfg.Clock.Now()

	diversity, err := e.distinctEventTypes(ctx, userID, now)
	if err != nil {
		return 0, e.scoreFault(ctx, err, "engagement_score")
	}

	score := 0.3*recencyScore(now, v.user.LastSeenAt) +
		0.3*frequencyScore(v.sessionsPerWeek) +
		0.2*durationScore(v.avgSessionSeconds) +
		0.2*diversityScore(diversity)
	return round2(score * 100), nil
}

// distinctEventTypes counts the distinct event types the user produced in
// the last thirty days, sampled over the most recent events.
func (e *Engine) distinctEventTypes(ctx context.Context, userID string, now time.Time) (int, error) {
	events, err := e.cfg.Store.Events().List(ctx, storage.EventFilter{
		UserID: userID,
		From:   now.Add(-30 * 24 * time.Hour),
		To:     now,
		Limit:  diversitySampleLimit,
	})
	if err != nil {
		return 0, trace.Wrap(err)
	}
	seen := make(map[types.EventType]struct{})
	for _, event := range events {
		seen[event.Type] = struct{}{}
	}
	return len(seen), nil
}

func recencyScore(now, lastSeen time.Time) float64 {
	days := calendarDaysBetween(lastSeen, now)
	switch {
	case days <= 0:
		return 1.0
	case days <= 1:
		return 0.9
	case days <= 7:
		return 0.7
	case days <= 14:
		return 0.5
	case days <= 30:
		return 0.3
	}
	return 0.1
}

func frequencyScore(sessionsPerWeek float64) float64 {
	switch {
	case sessionsPerWeek >= 7:
		return 1.0
	case sessionsPerWeek >= 3:
		return 0.8
	case sessionsPerWeek >= 1:
		return 0.6
	case sessionsPerWeek >= 0.5:
		return 0.4
	case sessionsPerWeek > 0:
		return 0.2
	}
	return 0
}

func durationScore(avgSeconds float64) float64 {
	switch {
	case avgSeconds >= 600:
		return 1.0
	case avgSeconds >= 300:
		return 0.8
	case avgSeconds >= 120:
		return 0.6
	case avgSeconds >= 60:
		return 0.4
	case avgSeconds > 0:
		return 0.2
	}
	return 0
}

func diversityScore(distinctTypes int) float64 {
	switch {
	case distinctTypes >= 6:
		return 1.0
	case distinctTypes >= 4:
		return 0.8
	case distinctTypes == 3:
		return 0.6
	case distinctTypes == 2:
		return 0.4
	case distinctTypes == 1:
		return 0.2
	}
	return 0
}

// calendarDaysBetween counts whole UTC calendar days from one time to
// another.
func calendarDaysBetween(from, to time.Time) int {
	from, to = from.UTC(), to.UTC()
	fromDay := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	toDay := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(toDay.Sub(fromDay).Hours() / 24)
}
