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

package scheduler

import (
	"context"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestAddJobValidation(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)

	noop := func(ctx context.Context) error { return nil }

	require.True(t, trace.IsBadParameter(s.AddJob("", "@every 60s", noop)))
	require.True(t, trace.IsBadParameter(s.AddJob("tick", "@every 60s", nil)))
	require.True(t, trace.IsBadParameter(s.AddJob("tick", "not a schedule", noop)))

	require.NoError(t, s.AddJob("tick", "@every 60s", noop))
	require.NoError(t, s.AddJob("hourly", "0 * * * *", noop))
	require.NoError(t, s.AddJob("daily", "0 2 * * *", noop))
}

func TestRunJobContainsPanics(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)

	// A panicking job must not take down the caller, and a subsequent job
	// still runs.
	require.NotPanics(t, func() {
		s.runJob("broken", func(ctx context.Context) error {
			panic("boom")
		})
	})

	ran := false
	s.runJob("healthy", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.True(t, ran)
}

func TestRunJobSwallowsErrors(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)

	s.runJob("failing", func(ctx context.Context) error {
		return trace.ConnectionProblem(nil, "store is down")
	})

	ran := false
	s.runJob("healthy", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.True(t, ran)
}

func TestStopCancelsJobContext(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)

	var jobCtx context.Context
	s.runJob("capture", func(ctx context.Context) error {
		jobCtx = ctx
		return nil
	})
	require.NoError(t, jobCtx.Err())

	s.Start()
	s.Stop()
	require.ErrorIs(t, jobCtx.Err(), context.Canceled)

	// Stop is idempotent.
	s.Stop()
}
