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
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/northstarhq/northstar/lib/types"
)

func withChannel(userID, utmSource string) func(*types.Event) {
	return func(e *types.Event) {
		e.UserID = userID
		if utmSource != "" {
			e.Properties = types.Properties{"utmSource": utmSource}
		}
	}
}

func requireCreditsSumToOne(t *testing.T, credits map[string]float64) {
	t.Helper()
	var sum float64
	for channel, credit := range credits {
		require.GreaterOrEqual(t, credit, 0.0, "channel %v", channel)
		sum += credit
	}
	require.InDelta(t, 1.0, sum, 1e-9)
}

func TestAttributionTimeDecay(t *testing.T) {
	engine, store := newEngine(t, Config{})
	ctx := context.Background()

	day := 24 * time.Hour
	addEvent(t, store, types.EventTypePageView, base.Add(-7*day), withChannel("u1", "google"))
	addEvent(t, store, types.EventTypePageView, base.Add(-3*day), withChannel("u1", "facebook"))
	addEvent(t, store, types.EventTypePageView, base.Add(-12*time.Hour), withChannel("u1", "facebook"))
	conversion := addConversion(t, store, "u1", base)

	credits, err := engine.CalculateAttribution(ctx, conversion.ID, types.AttributionTimeDecay)
	require.NoError(t, err)
	require.Len(t, credits, 2)
	requireCreditsSumToOne(t, credits)

	// Normalized exp(-daysAgo/7) over touchpoints 7, 3 and 0.5 days out.
	require.InDelta(t, 0.1886, credits["google"], 0.001)
	require.InDelta(t, 0.8114, credits["facebook"], 0.001)
}

func TestAttributionFirstAndLastTouch(t *testing.T) {
	engine, store := newEngine(t, Config{})
	ctx := context.Background()

	day := 24 * time.Hour
	addEvent(t, store, types.EventTypePageView, base.Add(-5*day), withChannel("u1", "google"))
	addEvent(t, store, types.EventTypeLinkClick, base.Add(-2*day), withChannel("u1", "newsletter"))
	addEvent(t, store, types.EventTypePageView, base.Add(-day), withChannel("u1", ""))
	conversion := addConversion(t, store, "u1", base)

	first, err := engine.CalculateAttribution(ctx, conversion.ID, types.AttributionFirstTouch)
	require.NoError(t, err)
	require.Equal(t, map[string]float64{"google": 1.0}, first)

	// The last touchpoint has no utm source and no referrer, so its
	// channel resolves to direct.
	last, err := engine.CalculateAttribution(ctx, conversion.ID, types.AttributionLastTouch)
	require.NoError(t, err)
	require.Equal(t, map[string]float64{"direct": 1.0}, last)
}

func TestAttributionLinear(t *testing.T) {
	engine, store := newEngine(t, Config{})
	ctx := context.Background()

	day := 24 * time.Hour
	addEvent(t, store, types.EventTypePageView, base.Add(-3*day), withChannel("u1", "google"))
	addEvent(t, store, types.EventTypePageView, base.Add(-2*day), withChannel("u1", "google"))
	addEvent(t, store, types.EventTypePageView, base.Add(-day), withChannel("u1", "facebook"))
	addEvent(t, store, types.EventTypePageView, base.Add(-time.Hour), withChannel("u1", "facebook"))
	conversion := addConversion(t, store, "u1", base)

	credits, err := engine.CalculateAttribution(ctx, conversion.ID, types.AttributionLinear)
	require.NoError(t, err)
	requireCreditsSumToOne(t, credits)
	require.InDelta(t, 0.5, credits["google"], 1e-9)
	require.InDelta(t, 0.5, credits["facebook"], 1e-9)
}

func TestAttributionPositionBased(t *testing.T) {
	engine, store := newEngine(t, Config{})
	ctx := context.Background()

	day := 24 * time.Hour
	addEvent(t, store, types.EventTypePageView, base.Add(-4*day), withChannel("u1", "google"))
	addEvent(t, store, types.EventTypePageView, base.Add(-3*day), withChannel("u1", "newsletter"))
	addEvent(t, store, types.EventTypePageView, base.Add(-2*day), withChannel("u1", "newsletter"))
	addEvent(t, store, types.EventTypePageView, base.Add(-day), withChannel("u1", "facebook"))
	conversion := addConversion(t, store, "u1", base)

	credits, err := engine.CalculateAttribution(ctx, conversion.ID, types.AttributionPositionBased)
	require.NoError(t, err)
	requireCreditsSumToOne(t, credits)
	require.InDelta(t, 0.4, credits["google"], 1e-9)
	require.InDelta(t, 0.4, credits["facebook"], 1e-9)
	require.InDelta(t, 0.2, credits["newsletter"], 1e-9)
}

func TestAttributionPositionBasedSmallSets(t *testing.T) {
	engine, store := newEngine(t, Config{})
	ctx := context.Background()

	addEvent(t, store, types.EventTypePageView, base.Add(-time.Hour), withChannel("solo", "google"))
	solo := addConversion(t, store, "solo", base)
	credits, err := engine.CalculateAttribution(ctx, solo.ID, types.AttributionPositionBased)
	require.NoError(t, err)
	require.Equal(t, map[string]float64{"google": 1.0}, credits)

	addEvent(t, store, types.EventTypePageView, base.Add(-2*time.Hour), withChannel("pair", "google"))
	addEvent(t, store, types.EventTypePageView, base.Add(-time.Hour), withChannel("pair", "facebook"))
	pair := addConversion(t, store, "pair", base)
	credits, err = engine.CalculateAttribution(ctx, pair.ID, types.AttributionPositionBased)
	require.NoError(t, err)
	require.InDelta(t, 0.5, credits["google"], 1e-9)
	require.InDelta(t, 0.5, credits["facebook"], 1e-9)
}

func TestAttributionCreditSumAcrossModels(t *testing.T) {
	engine, store := newEngine(t, Config{})
	ctx := context.Background()

	day := 24 * time.Hour
	channels := []string{"google", "", "facebook", "newsletter", "google"}
	for i, channel := range channels {
		addEvent(t, store, types.EventTypePageView, base.Add(-time.Duration(len(channels)-i)*day), withChannel("u1", channel))
	}
	conversion := addConversion(t, store, "u1", base)

	for _, model := range types.AllAttributionModels {
		credits, err := engine.CalculateAttribution(ctx, conversion.ID, model)
		require.NoError(t, err, "model %v", model)
		require.NotEmpty(t, credits, "model %v", model)
		requireCreditsSumToOne(t, credits)
	}
}

func TestAttributionWindowAndTypes(t *testing.T) {
	engine, store := newEngine(t, Config{})
	ctx := context.Background()

	day := 24 * time.Hour
	// Outside the thirty day lookback.
	addEvent(t, store, types.EventTypePageView, base.Add(-31*day), withChannel("u1", "google"))
	// Inside the window but not a touchpoint type.
	addEvent(t, store, types.EventTypePurchase, base.Add(-day), withChannel("u1", "facebook"))
	conversion := addConversion(t, store, "u1", base)

	credits, err := engine.CalculateAttribution(ctx, conversion.ID, types.AttributionLinear)
	require.NoError(t, err)
	require.Empty(t, credits)
}

func TestAttributionErrors(t *testing.T) {
	engine, store := newEngine(t, Config{})
	ctx := context.Background()

	_, err := engine.CalculateAttribution(ctx, "no-such-conversion", types.AttributionLinear)
	require.True(t, trace.IsNotFound(err))

	conversion := addConversion(t, store, "u1", base)
	_, err = engine.CalculateAttribution(ctx, conversion.ID, types.AttributionModel("bogus"))
	require.True(t, trace.IsBadParameter(err))

	// An anonymous conversion has nothing to attribute.
	anonymous := &types.GoalConversion{GoalID: "g", EventID: "e", ConvertedAt: base}
	require.NoError(t, anonymous.CheckAndSetDefaults(base))
	require.NoError(t, store.Conversions().Create(ctx, anonymous))
	credits, err := engine.CalculateAttribution(ctx, anonymous.ID, types.AttributionLinear)
	require.NoError(t, err)
	require.Empty(t, credits)
}
