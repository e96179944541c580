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

// Package experiments assigns users to A/B test variants. Assignment is
// deterministic per (test, user) pair and sticky: once persisted the user
// keeps the variant for the lifetime of the test.
package experiments

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/northstarhq/northstar"
	"github.com/northstarhq/northstar/lib/storage"
	"github.com/northstarhq/northstar/lib/types"
)

// Recorder accepts exposure events. Satisfied by the event tracker.
type Recorder interface {
	Track(event *types.Event) (string, error)
}

// Config configures the experiment service.
type Config struct {
	// Store persists tests and assignments.
	Store storage.Store

	// Recorder receives an exposure event whenever a new assignment is
	// made. Optional; no exposure events are emitted when unset.
	Recorder Recorder

	// Clock is used to override time in tests.
	Clock clockwork.Clock

	// Logger emits assignment logs.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("missing Store")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(northstar.ComponentKey, northstar.Component("experiments"))
	}
	return nil
}

// Service assigns users to test variants.
type Service struct {
	cfg Config
	log *slog.Logger
}

// New returns an experiment service.
func New(cfg Config) (*Service, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Service{cfg: cfg, log: cfg.Logger}, nil
}

// Assign returns the user's variant in the test, creating the assignment on
// first contact. The variant is picked by hashing (testID, userID) against
// the variant weights, so the same pair always lands in the same bucket even
// across processes. Inactive tests resolve to trace.NotFound.
func (s *Service) Assign(ctx context.Context, testID, userID string) (*types.ABAssignment, error) {
	if testID == "" {
		return nil, trace.BadParameter("missing test id")
	}
	if userID == "" {
		return nil, trace.BadParameter("missing user id")
	}

	if existing, err := s.cfg.Store.ABTests().GetAssignment(ctx, testID, userID); err == nil {
		return existing, nil
	} else if !trace.IsNotFound(err) {
		return nil, trace.Wrap(err)
	}

	test, err := s.cfg.Store.ABTests().Get(ctx, testID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	now := s.cfg.Clock.Now()
	if !test.Active(now) {
		return nil, trace.NotFound("test %v is not accepting assignments", testID)
	}

	assignment := &types.ABAssignment{
		TestID:  testID,
		UserID:  userID,
		Variant: pickVariant(test.Variants, testID, userID),
	}
	if err := assignment.CheckAndSetDefaults(now); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.cfg.Store.ABTests().CreateAssignment(ctx, assignment); err != nil {
		if trace.IsAlreadyExists(err) {
			// A concurrent caller assigned first; both computed the same
			// variant, return the persisted row.
			existing, err := s.cfg.Store.ABTests().GetAssignment(ctx, testID, userID)
			return existing, trace.Wrap(err)
		}
		return nil, trace.Wrap(err)
	}
	s.log.DebugContext(ctx, "Assigned user to variant.",
		"test_id", testID, "user_id", userID, "variant", assignment.Variant)
	s.recordExposure(ctx, test, assignment)
	return assignment, nil
}

// Variant returns the user's assigned variant name, or trace.NotFound if the
// user was never assigned.
func (s *Service) Variant(ctx context.Context, testID, userID string) (string, error) {
	assignment, err := s.cfg.Store.ABTests().GetAssignment(ctx, testID, userID)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return assignment.Variant, nil
}

// Results returns per variant assignment counts for the test.
func (s *Service) Results(ctx context.Context, testID string) (map[string]int64, error) {
	if _, err := s.cfg.Store.ABTests().Get(ctx, testID); err != nil {
		return nil, trace.Wrap(err)
	}
	counts, err := s.cfg.Store.ABTests().CountAssignments(ctx, testID)
	return counts, trace.Wrap(err)
}

// recordExposure emits an exposure event through the tracker so the analysis
// side can correlate outcomes with variants. Failure to record is logged and
// swallowed; the assignment itself already happened.
func (s *Service) recordExposure(ctx context.Context, test *types.ABTest, assignment *types.ABAssignment) {
	if s.cfg.Recorder == nil {
		return
	}
	_, err := s.cfg.Recorder.Track(&types.Event{
		Name:   "experiment_exposure",
		Type:   types.EventTypeCustom,
		UserID: assignment.UserID,
		Properties: types.Properties{
			"testId":   test.ID,
			"testName": test.Name,
			"variant":  assignment.Variant,
		},
		Timestamp: assignment.AssignedAt,
	})
	if err != nil {
		s.log.WarnContext(ctx, "Failed to record exposure event.",
			"error", err, "test_id", test.ID, "user_id", assignment.UserID)
	}
}

// pickVariant hashes the (test, user) pair onto [0, 1) and walks the
// cumulative variant weights. The hash makes assignment reproducible without
// coordination; weights need not sum to any particular total.
func pickVariant(variants []types.ABVariant, testID, userID string) string {
	h := fnv.New64a()
	h.Write([]byte(testID))
	h.Write([]byte{0})
	h.Write([]byte(userID))
	point := float64(h.Sum64()) / float64(math.MaxUint64)

	var total float64
	for _, v := range variants {
		total += v.Weight
	}
	point *= total
	var cumulative float64
	for _, v := range variants {
		cumulative += v.Weight
		if point < cumulative {
			return v.Name
		}
	}
	// Floating point rounding can leave the point a hair past the last
	// boundary.
	return variants[len(variants)-1].Name
}
