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

package config

import (
	"bytes"
	"io"
	"os"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML schema of the northstar configuration file. Every
// field is optional; zero values fall back to defaults during validation.
type FileConfig struct {
	// Environment is development, staging or production.
	Environment string `yaml:"environment,omitempty"`

	Database  Database  `yaml:"database,omitempty"`
	Cache     CacheConf `yaml:"cache,omitempty"`
	Analytics Analytics `yaml:"analytics,omitempty"`
	API       API       `yaml:"api,omitempty"`
	Diag      Diag      `yaml:"diag,omitempty"`
	Features  Features  `yaml:"features,omitempty"`
}

// Database configures the PostgreSQL store. An empty URL selects the
// in-memory store, which is only suitable for development.
type Database struct {
	// URL is the PostgreSQL connection string.
	URL string `yaml:"url,omitempty"`
	// PoolSize is the base connection pool size, 1 to 100.
	PoolSize int `yaml:"pool_size,omitempty"`
	// MaxOverflow is how many connections beyond PoolSize may be opened
	// under load, 0 to 50.
	MaxOverflow int `yaml:"max_overflow,omitempty"`
	// PoolTimeoutSeconds bounds the wait for a free connection.
	PoolTimeoutSeconds int `yaml:"pool_timeout_seconds,omitempty"`
	// PoolRecycleSeconds is the maximum lifetime of a pooled connection.
	PoolRecycleSeconds int `yaml:"pool_recycle_seconds,omitempty"`
}

// CacheConf configures the Redis cache. An empty address disables caching
// and rate limiting degrades to fail-open.
type CacheConf struct {
	// URL is the host:port of the Redis server.
	URL string `yaml:"url,omitempty"`
	// Password authenticates the connection when set.
	Password string `yaml:"password,omitempty"`
	// MaxConnections caps the connection pool.
	MaxConnections int `yaml:"max_connections,omitempty"`
	// SocketTimeoutSeconds bounds individual Redis operations.
	SocketTimeoutSeconds int `yaml:"socket_timeout_seconds,omitempty"`
}

// Analytics configures the event pipeline.
type Analytics struct {
	// BatchSize is the tracker flush batch and the processor claim batch,
	// 1 to 10000.
	BatchSize int `yaml:"batch_size,omitempty"`
	// FlushIntervalSeconds is how long queued events may wait before a
	// time-triggered flush.
	FlushIntervalSeconds int `yaml:"flush_interval_seconds,omitempty"`
	// SessionTimeoutSeconds is the inactivity period after which the
	// janitor closes an open session.
	SessionTimeoutSeconds int `yaml:"session_timeout_seconds,omitempty"`
	// RetentionDays is how long raw events are kept.
	RetentionDays int `yaml:"retention_days,omitempty"`
}

// API configures the HTTP surface.
type API struct {
	// ListenAddr is the address the API server binds to.
	ListenAddr string `yaml:"listen_addr,omitempty"`
	// RateLimit is the number of requests a client may make per minute.
	RateLimit int `yaml:"rate_limit,omitempty"`
}

// Diag configures the diagnostics endpoint.
type Diag struct {
	// Addr is the address the diagnostics server binds to.
	Addr string `yaml:"addr,omitempty"`
	// Debug enables the pprof endpoints.
	Debug bool `yaml:"debug,omitempty"`
}

// Features toggles optional subsystems.
type Features struct {
	ABTesting        bool `yaml:"ab_testing,omitempty"`
	SessionReplay    bool `yaml:"session_replay,omitempty"`
	Heatmaps         bool `yaml:"heatmaps,omitempty"`
	Predictive       bool `yaml:"predictive,omitempty"`
	CustomDashboards bool `yaml:"custom_dashboards,omitempty"`
	DataExport       bool `yaml:"data_export,omitempty"`
}

// ReadConfig parses a YAML configuration from the reader. Unknown fields are
// rejected so a typoed key fails loudly instead of silently applying a
// default.
func ReadConfig(reader io.Reader) (*FileConfig, error) {
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, trace.Wrap(err, "reading config")
	}
	var fc FileConfig
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&fc); err != nil {
		if err == io.EOF {
			return &fc, nil
		}
		return nil, trace.BadParameter("failed to parse config: %v", err)
	}
	return &fc, nil
}

// ReadConfigFile loads the YAML configuration at path. A missing file is not
// an error: the caller proceeds on defaults, matching the behavior of an
// unset --config flag.
func ReadConfigFile(path string) (*FileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, trace.Wrap(err, "opening config file %v", path)
	}
	defer f.Close()
	fc, err := ReadConfig(f)
	return fc, trace.Wrap(err)
}
