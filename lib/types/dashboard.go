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
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// Dashboard is a saved arrangement of analytics widgets.
type Dashboard struct {
	// ID uniquely identifies the dashboard.
	ID string `json:"id"`
	// Name is the display name.
	Name string `json:"name"`
	// Description is an optional free text description.
	Description string `json:"description,omitempty"`
	// Layout is the widget layout definition.
	Layout Properties `json:"layout,omitempty"`
	// CreatedAt is when the dashboard was created.
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is when the dashboard was last modified.
	UpdatedAt time.Time `json:"updatedAt"`
}

// CheckAndSetDefaults validates the dashboard and fills generated fields.
func (d *Dashboard) CheckAndSetDefaults(now time.Time) error {
	if d.Name == "" {
		return trace.BadParameter("missing dashboard name")
	}
	if err := d.Layout.Check(); err != nil {
		return trace.Wrap(err)
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now.UTC()
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
	return nil
}
