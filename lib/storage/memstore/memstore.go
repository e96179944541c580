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

// Package memstore implements the storage contract in process memory. It
// backs the test suites and single node development setups; nothing
// survives a restart.
//
// Every value handed in or out is cloned, so callers can never mutate
// stored state through a shared pointer. Mutating operations replace whole
// entries, which lets WithTx snapshot the maps shallowly and the event
// index through a copy on write btree clone.
package memstore

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/gravitational/trace"

	"github.com/northstarhq/northstar/lib/storage"
	"github.com/northstarhq/northstar/lib/types"
)

// btreeDegree is the branching factor of the event time index.
const btreeDegree = 8

// eventKey orders the event index by timestamp, breaking ties by id.
type eventKey struct {
	ts time.Time
	id string
}

func eventKeyLess(a, b eventKey) bool {
	if a.ts.Equal(b.ts) {
		return a.id < b.id
	}
	return a.ts.Before(b.ts)
}

type state struct {
	events     map[string]*types.Event
	eventIndex *btree.BTreeG[eventKey]

	users       map[string]*types.User
	sessions    map[string]*types.Session
	metrics     map[string]*types.Metric
	funnels     map[string]*types.Funnel
	goals       map[string]*types.Goal
	conversions map[string]*types.GoalConversion
	// conversionIndex maps goalID+"/"+eventID to the conversion id,
	// enforcing the one conversion per goal and event rule.
	conversionIndex map[string]string
	cohorts         map[string]*types.Cohort
	abtests         map[string]*types.ABTest
	assignments     map[string]*types.ABAssignment
	// assignmentIndex maps testID+"/"+userID to the assignment id.
	assignmentIndex map[string]string
	dashboards      map[string]*types.Dashboard
	exportJobs      map[string]*types.ExportJob
}

func newState() *state {
	return &state{
		events:          make(map[string]*types.Event),
		eventIndex:      btree.NewG(btreeDegree, eventKeyLess),
		users:           make(map[string]*types.User),
		sessions:        make(map[string]*types.Session),
		metrics:         make(map[string]*types.Metric),
		funnels:         make(map[string]*types.Funnel),
		goals:           make(map[string]*types.Goal),
		conversions:     make(map[string]*types.GoalConversion),
		conversionIndex: make(map[string]string),
		cohorts:         make(map[string]*types.Cohort),
		abtests:         make(map[string]*types.ABTest),
		assignments:     make(map[string]*types.ABAssignment),
		assignmentIndex: make(map[string]string),
		dashboards:      make(map[string]*types.Dashboard),
		exportJobs:      make(map[string]*types.ExportJob),
	}
}

// clone is cheap: entries are immutable once stored, so a shallow copy of
// each map is a consistent snapshot.
func (s *state) clone() *state {
	return &state{
		events:          maps.Clone(s.events),
		eventIndex:      s.eventIndex.Clone(),
		users:           maps.Clone(s.users),
		sessions:        maps.Clone(s.sessions),
		metrics:         maps.Clone(s.metrics),
		funnels:         maps.Clone(s.funnels),
		goals:           maps.Clone(s.goals),
		conversions:     maps.Clone(s.conversions),
		conversionIndex: maps.Clone(s.conversionIndex),
		cohorts:         maps.Clone(s.cohorts),
		abtests:         maps.Clone(s.abtests),
		assignments:     maps.Clone(s.assignments),
		assignmentIndex: maps.Clone(s.assignmentIndex),
		dashboards:      maps.Clone(s.dashboards),
		exportJobs:      maps.Clone(s.exportJobs),
	}
}

// Memory implements storage.Store in process memory.
type Memory struct {
	// txMu serializes transaction scopes.
	txMu sync.Mutex
	// mu guards state.
	mu    sync.Mutex
	state *state
}

var _ storage.Store = (*Memory)(nil)

// New returns an empty in memory store.
func New() *Memory {
	return &Memory{state: newState()}
}

func (m *Memory) Events() storage.Events           { return events{m} }
func (m *Memory) Users() storage.Users             { return users{m} }
func (m *Memory) Sessions() storage.Sessions       { return sessions{m} }
func (m *Memory) Metrics() storage.Metrics         { return metrics{m} }
func (m *Memory) Funnels() storage.Funnels         { return funnels{m} }
func (m *Memory) Goals() storage.Goals             { return goals{m} }
func (m *Memory) Conversions() storage.Conversions { return conversions{m} }
func (m *Memory) Cohorts() storage.Cohorts         { return cohorts{m} }
func (m *Memory) ABTests() storage.ABTests         { return abtests{m} }
func (m *Memory) Dashboards() storage.Dashboards   { return dashboards{m} }
func (m *Memory) ExportJobs() storage.ExportJobs   { return exportjobs{m} }

// WithTx serializes transaction scopes behind txMu and rolls the state back
// to a snapshot when fn fails.
func (m *Memory) WithTx(ctx context.Context, fn func(tx storage.Store) error) error {
	if err := ctx.Err(); err != nil {
		return trace.Wrap(err)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.runTx(fn)
}

func (m *Memory) runTx(fn func(tx storage.Store) error) error {
	m.mu.Lock()
	snapshot := m.state.clone()
	m.mu.Unlock()

	if err := fn(&txScope{m}); err != nil {
		m.mu.Lock()
		m.state = snapshot
		m.mu.Unlock()
		return trace.Wrap(err)
	}
	return nil
}

// txScope is the store view passed to WithTx callbacks. Nested WithTx calls
// act like savepoints: they snapshot and restore without reacquiring the
// scope lock.
type txScope struct {
	*Memory
}

func (t *txScope) WithTx(ctx context.Context, fn func(tx storage.Store) error) error {
	if err := ctx.Err(); err != nil {
		return trace.Wrap(err)
	}
	return t.Memory.runTx(fn)
}

// Ping always succeeds, memory is never unreachable.
func (m *Memory) Ping(ctx context.Context) error { return nil }

// Close drops the data.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = newState()
	return nil
}
