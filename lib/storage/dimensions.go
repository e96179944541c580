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

package storage

// eventDimensions maps the API facing dimension names to event columns.
// Only these dimensions may be aggregated over; the whitelist keeps
// caller supplied strings out of query text.
var eventDimensions = map[string]string{
	"country":    "country",
	"deviceType": "device_type",
	"browser":    "browser",
	"os":         "os",
	"module":     "module",
}

// DimensionColumn resolves an aggregation dimension to its storage column.
// Unknown dimensions return ok=false and must yield an empty aggregation,
// not an error.
func DimensionColumn(dimension string) (column string, ok bool) {
	column, ok = eventDimensions[dimension]
	return column, ok
}
