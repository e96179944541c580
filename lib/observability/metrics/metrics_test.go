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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRegisterCollectorsIdempotent(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "northstar_test_register_twice",
		Help: "a",
	})
	require.NoError(t, RegisterCollectors(counter))
	require.NoError(t, RegisterCollectors(counter))
}

func TestRegisterCollectorsInconsistent(t *testing.T) {
	a := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "northstar_test_register_conflict",
		Help: "a",
	})
	b := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "northstar_test_register_conflict",
		Help: "b",
	})
	require.NoError(t, RegisterCollectors(a))
	require.Error(t, RegisterCollectors(b))
}
