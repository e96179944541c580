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

// Package web exposes the analytics API over HTTP: typed request and
// response bodies, trace errors mapped onto status codes, per client rate
// limiting at the boundary.
package web

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/northstarhq/northstar"
	"github.com/northstarhq/northstar/lib/analytics"
	"github.com/northstarhq/northstar/lib/cache"
	"github.com/northstarhq/northstar/lib/defaults"
	"github.com/northstarhq/northstar/lib/observability/metrics"
	"github.com/northstarhq/northstar/lib/storage"
	"github.com/northstarhq/northstar/lib/types"
)

// Tracker accepts events for asynchronous persistence. Satisfied by
// events.Tracker.
type Tracker interface {
	Track(event *types.Event) (string, error)
	TrackBatch(batch []*types.Event) ([]string, error)
}

// Config configures the API handler.
type Config struct {
	// Tracker receives tracked events.
	Tracker Tracker

	// Engine answers analytical queries.
	Engine *analytics.Engine

	// Store serves synchronous reads and the health check.
	Store storage.Store

	// Cache backs the rate limiter and the health check. Optional; rate
	// limiting fails open without it.
	Cache cache.Cache

	// RateLimit is the per client requests-per-minute budget.
	RateLimit int

	// Clock is used to override time in tests.
	Clock clockwork.Clock

	// Logger emits request logs.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Tracker == nil {
		return trace.BadParameter("missing Tracker")
	}
	if c.Engine == nil {
		return trace.BadParameter("missing Engine")
	}
	if c.Store == nil {
		return trace.BadParameter("missing Store")
	}
	if c.Cache == nil {
		c.Cache = cache.Disabled()
	}
	if c.RateLimit == 0 {
		c.RateLimit = defaults.RateLimitPerMinute
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(northstar.ComponentKey, northstar.ComponentWeb)
	}
	return nil
}

// Handler serves the analytics API.
type Handler struct {
	cfg     Config
	log     *slog.Logger
	limiter *cache.RateLimiter
	metrics *webMetrics
}

// NewHandler returns an API handler. Mount it with NewMux or wire individual
// handlers into an existing router.
func NewHandler(cfg Config) (*Handler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	limiter, err := cache.NewRateLimiter(cfg.Cache, int64(cfg.RateLimit), defaults.RateLimitWindow)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	m, err := newWebMetrics()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Handler{cfg: cfg, log: cfg.Logger, limiter: limiter, metrics: m}, nil
}

// NewMux returns a ServeMux with every API route mounted. The health check
// is exempt from rate limiting so orchestrator probes cannot starve it.
func (h *Handler) NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/events", h.limited("create_event", http.StatusCreated, h.CreateEvent))
	mux.HandleFunc("POST /api/v1/events/batch", h.limited("batch_events", http.StatusOK, h.BatchEvents))
	mux.HandleFunc("GET /api/v1/events", h.limited("query_events", http.StatusOK, h.QueryEvents))
	mux.HandleFunc("POST /api/v1/metrics", h.limited("create_metric", http.StatusCreated, h.CreateMetric))
	mux.HandleFunc("GET /api/v1/metrics", h.limited("query_metrics", http.StatusOK, h.QueryMetrics))
	mux.HandleFunc("GET /api/v1/funnels/{id}/analysis", h.limited("analyze_funnel", http.StatusOK, h.AnalyzeFunnel))
	mux.HandleFunc("GET /api/v1/cohorts/retention", h.limited("analyze_cohort", http.StatusOK, h.AnalyzeCohort))
	mux.HandleFunc("GET /api/v1/overview", h.limited("overview", http.StatusOK, h.Overview))
	mux.HandleFunc("GET /healthz", h.MakeHandler("health", http.StatusOK, h.HealthCheck))
	return mux
}

// MakeHandler converts a HandlerFunc into an http.HandlerFunc replying with
// JSON and the given status code on success.
func (h *Handler) MakeHandler(name string, successCode int, fn HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := fn(w, r)
		if err != nil {
			code := ErrorToCode(err)
			h.metrics.requests.WithLabelValues(name, strconv.Itoa(code)).Inc()
			if code == http.StatusInternalServerError {
				h.log.ErrorContext(r.Context(), "Request failed.",
					"handler", name, "error", err)
			} else {
				h.log.DebugContext(r.Context(), "Request rejected.",
					"handler", name, "code", code, "error", err)
			}
			replyError(w, err)
			return
		}
		h.metrics.requests.WithLabelValues(name, strconv.Itoa(successCode)).Inc()
		replyJSON(w, successCode, out)
	}
}

// limited wraps fn with the per client rate limiter.
func (h *Handler) limited(name string, successCode int, fn HandlerFunc) http.HandlerFunc {
	inner := h.MakeHandler(name, successCode, fn)
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := h.limiter.Allow(r.Context(), clientID(r)); err != nil {
			if trace.IsLimitExceeded(err) {
				h.metrics.rateLimited.Inc()
			}
			replyError(w, err)
			return
		}
		inner(w, r)
	}
}

// clientID identifies the caller for rate limiting: the first address in
// X-Forwarded-For when present, the remote host otherwise.
func clientID(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// EventCreate is the request body of createEvent and the element of
// batchEvents.
type EventCreate struct {
	Name       string           `json:"name"`
	Type       types.EventType  `json:"type"`
	UserID     string           `json:"userId,omitempty"`
	SessionID  string           `json:"sessionId,omitempty"`
	Module     string           `json:"module,omitempty"`
	Properties types.Properties `json:"properties,omitempty"`
	PageURL    string           `json:"pageUrl,omitempty"`
	PageTitle  string           `json:"pageTitle,omitempty"`
	Referrer   string           `json:"referrer,omitempty"`
	Timestamp  time.Time        `json:"timestamp,omitzero"`
}

func (req *EventCreate) toEvent(r *http.Request) *types.Event {
	return &types.Event{
		Name:       req.Name,
		Type:       req.Type,
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		Module:     req.Module,
		Properties: req.Properties,
		PageURL:    req.PageURL,
		PageTitle:  req.PageTitle,
		Referrer:   req.Referrer,
		UserAgent:  r.UserAgent(),
		IPAddress:  clientID(r),
		Timestamp:  req.Timestamp,
	}
}

// eventAccepted is the createEvent response.
type eventAccepted struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreateEvent accepts one event into the tracker queue.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) (any, error) {
	var req EventCreate
	if err := readJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	id, err := h.cfg.Tracker.Track(req.toEvent(r))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return eventAccepted{ID: id, Status: "accepted"}, nil
}

// batchEventsRequest is the batchEvents request body.
type batchEventsRequest struct {
	Events []EventCreate `json:"events"`
}

// batchEventsResponse is the batchEvents response.
type batchEventsResponse struct {
	Created int      `json:"created"`
	IDs     []string `json:"ids"`
}

// BatchEvents accepts a batch of events into the tracker queue. The batch is
// all-or-nothing: one invalid event rejects the whole request.
func (h *Handler) BatchEvents(w http.ResponseWriter, r *http.Request) (any, error) {
	var req batchEventsRequest
	if err := readJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if len(req.Events) == 0 {
		return nil, trace.BadParameter("empty event batch")
	}
	batch := make([]*types.Event, 0, len(req.Events))
	for i := range req.Events {
		batch = append(batch, req.Events[i].toEvent(r))
	}
	ids, err := h.cfg.Tracker.TrackBatch(batch)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return batchEventsResponse{Created: len(ids), IDs: ids}, nil
}

// queryEventsResponse is the queryEvents response.
type queryEventsResponse struct {
	Events []*types.Event `json:"events"`
	Total  int64          `json:"total"`
}

// QueryEvents returns persisted events matching the query parameters:
// userId, sessionId, type, from, to, limit, offset.
func (h *Handler) QueryEvents(w http.ResponseWriter, r *http.Request) (any, error) {
	q := r.URL.Query()
	filter := storage.EventFilter{
		UserID:    q.Get("userId"),
		SessionID: q.Get("sessionId"),
	}
	if v := q.Get("type"); v != "" {
		eventType := types.EventType(v)
		if err := eventType.Check(); err != nil {
			return nil, trace.Wrap(err)
		}
		filter.Types = []types.EventType{eventType}
	}
	var err error
	if filter.From, err = parseTimeParam(q.Get("from")); err != nil {
		return nil, trace.Wrap(err)
	}
	if filter.To, err = parseTimeParam(q.Get("to")); err != nil {
		return nil, trace.Wrap(err)
	}
	if filter.Limit, err = parseIntParam(q.Get("limit"), 100); err != nil {
		return nil, trace.Wrap(err)
	}
	if filter.Offset, err = parseIntParam(q.Get("offset"), 0); err != nil {
		return nil, trace.Wrap(err)
	}

	events, err := h.cfg.Store.Events().List(r.Context(), filter)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	countFilter := filter
	countFilter.Limit, countFilter.Offset = 0, 0
	total, err := h.cfg.Store.Events().Count(r.Context(), countFilter)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return queryEventsResponse{Events: events, Total: total}, nil
}

// MetricCreate is the createMetric request body.
type MetricCreate struct {
	Name       string           `json:"name"`
	Type       types.MetricType `json:"metricType"`
	Value      float64          `json:"value"`
	Period     types.Period     `json:"period,omitempty"`
	Module     string           `json:"module,omitempty"`
	Dimensions types.Properties `json:"dimensions,omitempty"`
	Timestamp  time.Time        `json:"timestamp,omitzero"`
}

// CreateMetric persists one metric value.
func (h *Handler) CreateMetric(w http.ResponseWriter, r *http.Request) (any, error) {
	var req MetricCreate
	if err := readJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	metric := &types.Metric{
		Name:       req.Name,
		Type:       req.Type,
		Value:      req.Value,
		Period:     req.Period,
		Module:     req.Module,
		Dimensions: req.Dimensions,
		Timestamp:  req.Timestamp,
	}
	if err := h.cfg.Engine.SaveMetric(r.Context(), metric); err != nil {
		return nil, trace.Wrap(err)
	}
	return metric, nil
}

// queryMetricsResponse is the queryMetrics response.
type queryMetricsResponse struct {
	Metrics []*types.Metric `json:"metrics"`
}

// QueryMetrics returns persisted metrics matching the query parameters:
// name, period, module, from, to, limit, offset.
func (h *Handler) QueryMetrics(w http.ResponseWriter, r *http.Request) (any, error) {
	q := r.URL.Query()
	filter := storage.MetricFilter{
		Name:   q.Get("name"),
		Module: q.Get("module"),
	}
	if v := q.Get("period"); v != "" {
		period := types.Period(v)
		if err := period.Check(); err != nil {
			return nil, trace.Wrap(err)
		}
		filter.Period = period
	}
	var err error
	if filter.From, err = parseTimeParam(q.Get("from")); err != nil {
		return nil, trace.Wrap(err)
	}
	if filter.To, err = parseTimeParam(q.Get("to")); err != nil {
		return nil, trace.Wrap(err)
	}
	if filter.Limit, err = parseIntParam(q.Get("limit"), 100); err != nil {
		return nil, trace.Wrap(err)
	}
	if filter.Offset, err = parseIntParam(q.Get("offset"), 0); err != nil {
		return nil, trace.Wrap(err)
	}

	list, err := h.cfg.Store.Metrics().List(r.Context(), filter)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return queryMetricsResponse{Metrics: list}, nil
}

// AnalyzeFunnel runs a funnel analysis over the window given by the start
// and end query parameters.
func (h *Handler) AnalyzeFunnel(w http.ResponseWriter, r *http.Request) (any, error) {
	funnelID := r.PathValue("id")
	q := r.URL.Query()
	start, err := parseTimeParam(q.Get("start"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	end, err := parseTimeParam(q.Get("end"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if start.IsZero() || end.IsZero() {
		return nil, trace.BadParameter("start and end are required")
	}
	analysis, err := h.cfg.Engine.AnalyzeFunnel(r.Context(), funnelID, start, end)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return analysis, nil
}

// AnalyzeCohort runs a retention analysis for the cohort given by the
// cohortDate, periods and period query parameters.
func (h *Handler) AnalyzeCohort(w http.ResponseWriter, r *http.Request) (any, error) {
	q := r.URL.Query()
	cohortDate, err := parseTimeParam(q.Get("cohortDate"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if cohortDate.IsZero() {
		return nil, trace.BadParameter("cohortDate is required")
	}
	periods, err := parseIntParam(q.Get("periods"), 8)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	periodType := types.PeriodWeek
	if v := q.Get("period"); v != "" {
		periodType = types.Period(v)
	}
	analysis, err := h.cfg.Engine.AnalyzeRetentionCohort(r.Context(), cohortDate, periods, periodType)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return analysis, nil
}

// Overview returns the cached dashboard snapshot of the window given by the
// from and to query parameters, defaulting to the last 24 hours.
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) (any, error) {
	q := r.URL.Query()
	from, err := parseTimeParam(q.Get("from"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	to, err := parseTimeParam(q.Get("to"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	now := h.cfg.Clock.Now().UTC()
	if to.IsZero() {
		to = now
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}
	overview, err := h.cfg.Engine.OverviewSnapshot(r.Context(), from, to)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return overview, nil
}

// healthResponse is the healthCheck response.
type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// HealthCheck verifies the store and cache round trips within a fixed
// budget. A degraded dependency reports status "degraded" with 503 so load
// balancers drain the instance.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) (any, error) {
	ctx, cancel := context.WithTimeout(r.Context(), defaults.HealthCheckTimeout)
	defer cancel()

	if err := h.cfg.Store.Ping(ctx); err != nil {
		return nil, trace.ConnectionProblem(err, "store is unreachable")
	}
	// The disabled cache always reports healthy.
	if err := h.cfg.Cache.Ping(ctx); err != nil {
		return nil, trace.ConnectionProblem(err, "cache is unreachable")
	}
	return healthResponse{Status: "ok", Service: "northstar"}, nil
}

// parseTimeParam parses an RFC 3339 query parameter. Empty means unset.
func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, trace.BadParameter("invalid time %q, expected RFC 3339", v)
	}
	return t.UTC(), nil
}

// parseIntParam parses a non-negative integer query parameter with a
// default.
func parseIntParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, trace.BadParameter("invalid integer %q", v)
	}
	return n, nil
}

type webMetrics struct {
	requests    *prometheus.CounterVec
	rateLimited prometheus.Counter
}

func newWebMetrics() (*webMetrics, error) {
	m := &webMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: northstar.MetricNamespace,
			Name:      northstar.MetricWebRequests,
			Help:      "Number of API requests",
		}, []string{"handler", "code"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: northstar.MetricNamespace,
			Name:      northstar.MetricWebRateLimited,
			Help:      "Number of API requests rejected by the rate limiter",
		}),
	}
	return m, trace.Wrap(metrics.RegisterCollectors(
		m.requests,
		m.rateLimited,
	))
}
