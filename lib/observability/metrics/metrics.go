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

// Package metrics keeps the prometheus registration boilerplate in one place.
package metrics

import (
	"errors"

	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterCollectors registers every collector on the default registry.
// A collector that is already registered is left as is, so subsystems can be
// rebuilt without tripping duplicate registration. Inconsistent descriptors
// still fail.
func RegisterCollectors(collectors ...prometheus.Collector) error {
	for _, collector := range collectors {
		err := prometheus.Register(collector)
		var already prometheus.AlreadyRegisteredError
		switch {
		case err == nil, errors.As(err, &already):
		default:
			return trace.Wrap(err)
		}
	}
	return nil
}
