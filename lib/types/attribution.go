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

package types

import (
	"github.com/gravitational/trace"
)

// AttributionModel selects how conversion credit is split across the
// channels that preceded a conversion.
type AttributionModel string

const (
	// AttributionFirstTouch credits the first touchpoint fully.
	AttributionFirstTouch AttributionModel = "first_touch"
	// AttributionLastTouch credits the last touchpoint fully.
	AttributionLastTouch AttributionModel = "last_touch"
	// AttributionLinear credits every touchpoint equally.
	AttributionLinear AttributionModel = "linear"
	// AttributionTimeDecay credits recent touchpoints more, with an
	// exponential decay over the lookback window.
	AttributionTimeDecay AttributionModel = "time_decay"
	// AttributionPositionBased credits the first and last touchpoints
	// forty percent each and splits the rest across the middle.
	AttributionPositionBased AttributionModel = "position_based"
)

// AllAttributionModels enumerates every supported attribution model.
var AllAttributionModels = []AttributionModel{
	AttributionFirstTouch,
	AttributionLastTouch,
	AttributionLinear,
	AttributionTimeDecay,
	AttributionPositionBased,
}

// Check validates the model.
func (m AttributionModel) Check() error {
	switch m {
	case AttributionFirstTouch, AttributionLastTouch, AttributionLinear,
		AttributionTimeDecay, AttributionPositionBased:
		return nil
	}
	return trace.BadParameter("unknown attribution model %q", m)
}
