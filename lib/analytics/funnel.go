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
	"encoding/json"
	"fmt"
	"time"

	"github.com/gravitational/trace"

	"github.com/northstarhq/northstar/lib/storage"
	"github.com/northstarhq/northstar/lib/types"
)

// FunnelAnalysis is the per-step user survival of a funnel over a window.
type FunnelAnalysis struct {
	// FunnelID is the analyzed funnel.
	FunnelID string `json:"funnelId"`
	// FunnelName is the display name of the funnel.
	FunnelName string `json:"funnelName"`
	// Start is the inclusive window start.
	Start time.Time `json:"start"`
	// End is the inclusive window end.
	End time.Time `json:"end"`
	// TotalEntered is the number of distinct users who produced the first
	// step's event type in the window.
	TotalEntered int `json:"totalEntered"`
	// TotalCompleted is the number of users who survived every step.
	TotalCompleted int `json:"totalCompleted"`
	// OverallConversionRate is TotalCompleted over TotalEntered as a
	// percentage.
	OverallConversionRate float64 `json:"overallConversionRate"`
	// Steps carries the per step counts in order.
	Steps []FunnelStepStats `json:"steps"`
}

// FunnelStepStats is the survival record of one funnel step.
type FunnelStepStats struct {
	// StepID is the step.
	StepID string `json:"stepId"`
	// StepName is the display name of the step.
	StepName string `json:"stepName"`
	// Order is the zero based position of the step.
	Order int `json:"order"`
	// Entered is how many users reached the step.
	Entered int `json:"entered"`
	// Completed is how many of those produced the step's event type in the
	// window.
	Completed int `json:"completed"`
	// Dropped is Entered minus Completed.
	Dropped int `json:"dropped"`
	// CompletionRate is Completed over Entered as a percentage.
	CompletionRate float64 `json:"completionRate"`
	// DropOffRate is Dropped over Entered as a percentage.
	DropOffRate float64 `json:"dropOffRate"`
}

// AnalyzeFunnel measures per step user survival through the funnel in the
// closed window [start, end]. The funnel is loose: a user completes a step
// by producing its event type anywhere in the window, regardless of the
// order the events arrived in. Results are cached for the configured TTL.
func (e *Engine) AnalyzeFunnel(ctx context.Context, funnelID string, start, end time.Time) (*FunnelAnalysis, error) {
	if funnelID == "" {
		return nil, trace.BadParameter("missing funnel id")
	}
	cacheKey := funnelCacheKey(funnelID, start, end)
	if cached, err := e.cfg.Cache.Get(ctx, cacheKey); err == nil {
		var analysis FunnelAnalysis
		if err := json.Unmarshal([]byte(cached), &analysis); err == nil {
			return &analysis, nil
		}
		// An undecodable entry is stale garbage, drop it and recompute.
		_ = e.cfg.Cache.Delete(ctx, cacheKey)
	}

	funnel, err := e.cfg.Store.Funnels().Get(ctx, funnelID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if !funnel.Enabled {
		return nil, trace.NotFound("funnel %v is disabled", funnelID)
	}
	if len(funnel.Steps) == 0 {
		return nil, trace.BadParameter("funnel %v has no steps", funnelID)
	}

	analysis := &FunnelAnalysis{
		FunnelID:   funnel.ID,
		FunnelName: funnel.Name,
		Start:      start,
		End:        end,
		Steps:      make([]FunnelStepStats, 0, len(funnel.Steps)),
	}

	// The entered set is everyone who produced the first step's event type
	// in the window; each later step keeps only the users who produced its
	// event type too.
	current, err := e.cfg.Store.Events().DistinctUsers(ctx, storage.EventFilter{
		Types: []types.EventType{funnel.Steps[0].EventType},
		From:  start,
		To:    end,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	analysis.TotalEntered = len(current)

	for _, step := range funnel.Steps {
		var completers []string
		if len(current) > 0 {
			completers, err = e.cfg.Store.Events().DistinctUsers(ctx, storage.EventFilter{
				Types:   []types.EventType{step.EventType},
				From:    start,
				To:      end,
				UserIDs: current,
			})
			if err != nil {
				return nil, trace.Wrap(err)
			}
		}
		analysis.Steps = append(analysis.Steps, FunnelStepStats{
			StepID:         step.ID,
			StepName:       step.Name,
			Order:          step.Order,
			Entered:        len(current),
			Completed:      len(completers),
			Dropped:        len(current) - len(completers),
			CompletionRate: percentage(float64(len(completers)), float64(len(current))),
			DropOffRate:    percentage(float64(len(current)-len(completers)), float64(len(current))),
		})
		current = completers
	}

	analysis.TotalCompleted = len(current)
	analysis.OverallConversionRate = percentage(float64(analysis.TotalCompleted), float64(analysis.TotalEntered))

	if encoded, err := json.Marshal(analysis); err == nil {
		if err := e.cfg.Cache.Set(ctx, cacheKey, string(encoded), e.cfg.CacheTTL); err != nil {
			e.log.DebugContext(ctx, "Failed to cache funnel analysis.", "error", err)
		}
	}
	return analysis, nil
}

// InvalidateFunnel drops every cached analysis of the funnel. Called after
// the funnel definition changes.
func (e *Engine) InvalidateFunnel(ctx context.Context, funnelID string) error {
	_, err := e.cfg.Cache.DeletePattern(ctx, fmt.Sprintf("funnel:%v:*", funnelID))
	return trace.Wrap(err)
}

func funnelCacheKey(funnelID string, start, end time.Time) string {
	return fmt.Sprintf("funnel:%v:%v:%v", funnelID, start.UTC().Unix(), end.UTC().Unix())
}
