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

package pgstore

import (
	"context"

	"github.com/gravitational/trace"

	"github.com/northstarhq/northstar/lib/storage"
	"github.com/northstarhq/northstar/lib/types"
)

type funnels struct {
	s *Store
}

const funnelColumns = `id, name, enabled, created_at`

const funnelStepColumns = `id, funnel_id, step_order, name, event_type`

func (r funnels) Create(ctx context.Context, funnel *types.Funnel) error {
	return r.s.WithTx(ctx, func(tx storage.Store) error {
		db := tx.(*Store).db
		_, err := db.Exec(ctx, `
			INSERT INTO funnels (`+funnelColumns+`) VALUES ($1, $2, $3, $4)`,
			funnel.ID, funnel.Name, funnel.Enabled, funnel.CreatedAt,
		)
		if err != nil {
			return ConvertError(err)
		}
		for _, step := range funnel.Steps {
			_, err := db.Exec(ctx, `
				INSERT INTO funnel_steps (`+funnelStepColumns+`) VALUES ($1, $2, $3, $4, $5)`,
				step.ID, step.FunnelID, step.Order, step.Name, string(step.EventType),
			)
			if err != nil {
				return ConvertError(err)
			}
		}
		return nil
	})
}

func (r funnels) Get(ctx context.Context, id string) (*types.Funnel, error) {
	var funnel types.Funnel
	err := r.s.db.QueryRow(ctx,
		"SELECT "+funnelColumns+" FROM funnels WHERE id = $1", id,
	).Scan(&funnel.ID, &funnel.Name, &funnel.Enabled, &funnel.CreatedAt)
	if err != nil {
		if trace.IsNotFound(ConvertError(err)) {
			return nil, trace.NotFound("funnel %v is not found", id)
		}
		return nil, ConvertError(err)
	}
	funnel.CreatedAt = funnel.CreatedAt.UTC()

	steps, err := r.listSteps(ctx, []string{id})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	funnel.Steps = steps[id]
	return &funnel, nil
}

func (r funnels) List(ctx context.Context) ([]*types.Funnel, error) {
	rows, err := r.s.db.Query(ctx,
		"SELECT "+funnelColumns+" FROM funnels ORDER BY created_at ASC")
	if err != nil {
		return nil, ConvertError(err)
	}
	defer rows.Close()

	var out []*types.Funnel
	var ids []string
	for rows.Next() {
		var funnel types.Funnel
		if err := rows.Scan(&funnel.ID, &funnel.Name, &funnel.Enabled, &funnel.CreatedAt); err != nil {
			return nil, ConvertError(err)
		}
		funnel.CreatedAt = funnel.CreatedAt.UTC()
		out = append(out, &funnel)
		ids = append(ids, funnel.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, ConvertError(err)
	}

	steps, err := r.listSteps(ctx, ids)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for _, funnel := range out {
		funnel.Steps = steps[funnel.ID]
	}
	return out, nil
}

func (r funnels) listSteps(ctx context.Context, funnelIDs []string) (map[string][]types.FunnelStep, error) {
	if len(funnelIDs) == 0 {
		return nil, nil
	}
	rows, err := r.s.db.Query(ctx,
		"SELECT "+funnelStepColumns+` FROM funnel_steps
		WHERE funnel_id = ANY($1) ORDER BY funnel_id, step_order ASC`,
		funnelIDs,
	)
	if err != nil {
		return nil, ConvertError(err)
	}
	defer rows.Close()

	out := make(map[string][]types.FunnelStep)
	for rows.Next() {
		var step types.FunnelStep
		if err := rows.Scan(&step.ID, &step.FunnelID, &step.Order, &step.Name, &step.EventType); err != nil {
			return nil, ConvertError(err)
		}
		out[step.FunnelID] = append(out[step.FunnelID], step)
	}
	return out, ConvertError(rows.Err())
}

func (r funnels) Update(ctx context.Context, funnel *types.Funnel) error {
	return r.s.WithTx(ctx, func(tx storage.Store) error {
		db := tx.(*Store).db
		tag, err := db.Exec(ctx,
			"UPDATE funnels SET name = $2, enabled = $3 WHERE id = $1",
			funnel.ID, funnel.Name, funnel.Enabled,
		)
		if err := rowsAffected(tag, err, "funnel %v is not found", funnel.ID); err != nil {
			return trace.Wrap(err)
		}
		// Steps are replaced wholesale, the definition is small.
		if _, err := db.Exec(ctx, "DELETE FROM funnel_steps WHERE funnel_id = $1", funnel.ID); err != nil {
			return ConvertError(err)
		}
		for _, step := range funnel.Steps {
			_, err := db.Exec(ctx, `
				INSERT INTO funnel_steps (`+funnelStepColumns+`) VALUES ($1, $2, $3, $4, $5)`,
				step.ID, step.FunnelID, step.Order, step.Name, string(step.EventType),
			)
			if err != nil {
				return ConvertError(err)
			}
		}
		return nil
	})
}

func (r funnels) Delete(ctx context.Context, id string) error {
	tag, err := r.s.db.Exec(ctx, "DELETE FROM funnels WHERE id = $1", id)
	return rowsAffected(tag, err, "funnel %v is not found", id)
}
