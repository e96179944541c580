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

package cache

import (
	"context"
	"time"

	"github.com/gravitational/trace"

	"github.com/northstarhq/northstar/lib/defaults"
)

// RateLimiter enforces a fixed window request quota per client on top of
// the cache. The counter key expires with the window, so a client that
// goes quiet is forgotten without any sweeping.
type RateLimiter struct {
	cache  Cache
	limit  int64
	window time.Duration
}

// NewRateLimiter returns a limiter allowing limit requests per window.
// Zero values fall back to the defaults.
func NewRateLimiter(cache Cache, limit int64, window time.Duration) (*RateLimiter, error) {
	if cache == nil {
		return nil, trace.BadParameter("missing cache")
	}
	if limit == 0 {
		limit = defaults.RateLimitPerMinute
	}
	if limit < 0 {
		return nil, trace.BadParameter("limit must be positive, got %v", limit)
	}
	if window == 0 {
		window = defaults.RateLimitWindow
	}
	if window < 0 {
		return nil, trace.BadParameter("window must be positive, got %v", window)
	}
	return &RateLimiter{cache: cache, limit: limit, window: window}, nil
}

// Allow counts a request for clientID and returns the remaining quota for
// the current window, or trace.LimitExceeded once the client is over it.
// An unreachable cache fails open with the full quota.
func (l *RateLimiter) Allow(ctx context.Context, clientID string) (int64, error) {
	if clientID == "" {
		return 0, trace.BadParameter("missing client ID")
	}
	n, err := l.cache.IncrWithTTL(ctx, "rate_limit:"+clientID, l.window)
	if err != nil {
		return l.limit, nil
	}
	if n > l.limit {
		return 0, trace.LimitExceeded("client %v exceeded %v requests per %v", clientID, l.limit, l.window)
	}
	return l.limit - n, nil
}

// Limit returns the configured request quota per window.
func (l *RateLimiter) Limit() int64 {
	return l.limit
}
