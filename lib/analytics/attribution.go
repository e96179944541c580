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

	"github.com/northstarhq/northstar/lib/defaults"
	"github.com/northstarhq/northstar/lib/storage"
	"github.com/northstarhq/northstar/lib/types"
)

// touchpointTypes are the event types that count as marketing touchpoints
// when apportioning conversion credit.
var touchpointTypes = []types.EventType{
	types.EventTypePageView,
	types.EventTypeButtonClick,
	types.EventTypeLinkClick,
	types.EventTypeSearchQuery,
	types.EventTypeModuleOpen,
}

// CalculateAttribution apportions the credit for a conversion across the
// channels the converting user touched in the lookback window before the
// conversion. The returned credits sum to 1 unless the user has no
// touchpoints, in which case the mapping is empty.
func (e *Engine) CalculateAttribution(ctx context.Context, conversionID string, model types.AttributionModel) (map[string]float64, error) {
	if err := model.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	conversion, err := e.cfg.Store.Conversions().Get(ctx, conversionID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if conversion.UserID == "" {
		// An anonymous conversion has no event history to attribute.
		return map[string]float64{}, nil
	}

	lookback := time.Duration(defaults.AttributionLookbackDays) * 24 * time.Hour
	touchpoints, err := e.cfg.Store.Events().List(ctx, storage.EventFilter{
		UserID:    conversion.UserID,
		Types:     touchpointTypes,
		From:      conversion.ConvertedAt.Add(-lookback),
		To:        conversion.ConvertedAt,
		Ascending: true,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(touchpoints) == 0 {
		return map[string]float64{}, nil
	}

	switch model {
	case types.AttributionFirstTouch:
		return map[string]float64{channelOf(touchpoints[0]): 1.0}, nil
	case types.AttributionLastTouch:
		return map[string]float64{channelOf(touchpoints[len(touchpoints)-1]): 1.0}, nil
	case types.AttributionLinear:
		return linearCredits(touchpoints), nil
	case types.AttributionTimeDecay:
		return timeDecayCredits(touchpoints, conversion.ConvertedAt), nil
	case types.AttributionPositionBased:
		return positionBasedCredits(touchpoints), nil
	}
	return nil, trace.BadParameter("unknown attribution model %q", model)
}

// channelOf resolves the marketing channel of a touchpoint: the utmSource
// property if the client sent one, else the referrer, else direct.
func channelOf(event *types.Event) string {
	if source := event.Properties.String("utmSource"); source != "" {
		return source
	}
	if event.Referrer != "" {
		return event.Referrer
	}
	return "direct"
}

func linearCredits(touchpoints []*types.Event) map[string]float64 {
	credits := make(map[string]float64)
	share := 1.0 / float64(len(touchpoints))
	for _, tp := range touchpoints {
		credits[channelOf(tp)] += share
	}
	return credits
}

// timeDecayCredits weights each touchpoint by exp(-daysAgo/scale) relative
// to the conversion time and normalizes the weights to sum to 1.
func timeDecayCredits(touchpoints []*types.Event, convertedAt time.Time) map[string]float64 {
	weights := make([]float64, len(touchpoints))
	var total float64
	for i, tp := range touchpoints {
		daysAgo := convertedAt.Sub(tp.Timestamp).Hours() / 24
		weights[i] = math.Exp(-daysAgo / defaults.TimeDecayScaleDays)
		total += weights[i]
	}
	credits := make(map[string]float64)
	for i, tp := range touchpoints {
		credits[channelOf(tp)] += weights[i] / total
	}
	return credits
}

// positionBasedCredits gives the first and last touchpoints forty percent
// each and splits the remaining twenty percent across the middle. One
// touchpoint takes everything, two split evenly.
func positionBasedCredits(touchpoints []*types.Event) map[string]float64 {
	credits := make(map[string]float64)
	switch n := len(touchpoints); n {
	case 1:
		credits[channelOf(touchpoints[0])] = 1.0
	case 2:
		credits[channelOf(touchpoints[0])] += 0.5
		credits[channelOf(touchpoints[1])] += 0.5
	default:
		credits[channelOf(touchpoints[0])] += defaults.PositionBasedEdgeCredit
		credits[channelOf(touchpoints[n-1])] += defaults.PositionBasedEdgeCredit
		middleShare := defaults.PositionBasedMiddleCredit / float64(n-2)
		for _, tp := range touchpoints[1 : n-1] {
			credits[channelOf(tp)] += middleShare
		}
	}
	return credits
}
