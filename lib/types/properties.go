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
	"encoding/json"

	"github.com/gravitational/trace"

	"github.com/northstarhq/northstar/lib/defaults"
)

// maxPropertyDepth caps the nesting of property values so that a hostile
// payload cannot smuggle arbitrarily deep JSON past the ingest boundary.
const maxPropertyDepth = 10

// Properties is the free form property bag carried by events, users,
// conversions and other entities. Values must be JSON serializable.
type Properties map[string]any

// Check validates the property bag against the ingest limits: at most
// MaxPropertyKeys entries, keys up to MaxPropertyKeyLen bytes, values up to
// MaxPropertyValueLen bytes after serialization.
func (p Properties) Check() error {
	if len(p) > defaults.MaxPropertyKeys {
		return trace.BadParameter("too many properties: %v, the limit is %v", len(p), defaults.MaxPropertyKeys)
	}
	for key, value := range p {
		if key == "" {
			return trace.BadParameter("property key is empty")
		}
		if len(key) > defaults.MaxPropertyKeyLen {
			return trace.BadParameter("property key %q exceeds %v bytes", key[:32]+"...", defaults.MaxPropertyKeyLen)
		}
		if err := checkPropertyValue(key, value, 0); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// String returns the value of a string property, or "" if the key is absent
// or holds a non-string value.
func (p Properties) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Clone returns a shallow copy of the bag. Nested values are shared; callers
// that mutate nested values must deep copy themselves.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func checkPropertyValue(key string, value any, depth int) error {
	if depth > maxPropertyDepth {
		return trace.BadParameter("property %q is nested deeper than %v levels", key, maxPropertyDepth)
	}
	switch v := value.(type) {
	case nil, bool, float64, float32, int, int32, int64, uint, uint32, uint64:
		return nil
	case string:
		if len(v) > defaults.MaxPropertyValueLen {
			return trace.BadParameter("property %q value exceeds %v bytes", key, defaults.MaxPropertyValueLen)
		}
		return nil
	case map[string]any:
		for _, nested := range v {
			if err := checkPropertyValue(key, nested, depth+1); err != nil {
				return trace.Wrap(err)
			}
		}
	case Properties:
		for _, nested := range v {
			if err := checkPropertyValue(key, nested, depth+1); err != nil {
				return trace.Wrap(err)
			}
		}
	case []any:
		for _, nested := range v {
			if err := checkPropertyValue(key, nested, depth+1); err != nil {
				return trace.Wrap(err)
			}
		}
	default:
		// Uncommon scalar types go through the serializer so the size
		// limit applies to what actually gets stored.
		raw, err := json.Marshal(value)
		if err != nil {
			return trace.BadParameter("property %q is not JSON serializable: %v", key, err)
		}
		if len(raw) > defaults.MaxPropertyValueLen {
			return trace.BadParameter("property %q value exceeds %v bytes", key, defaults.MaxPropertyValueLen)
		}
	}
	return nil
}
