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

// Package config loads the northstar runtime configuration from a YAML file
// and the environment and validates it into the typed Config the service
// layer consumes.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/gravitational/trace"

	"github.com/northstarhq/northstar/lib/defaults"
)

// Environments.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Config is the validated runtime configuration.
type Config struct {
	// Environment is one of development, staging, production.
	Environment string

	// DatabaseURL is the PostgreSQL connection string. Empty selects the
	// in-memory store; production requires it.
	DatabaseURL string
	// DBPoolSize is the base connection pool size.
	DBPoolSize int
	// DBMaxOverflow is the allowed burst beyond the base pool.
	DBMaxOverflow int
	// DBPoolTimeout bounds the wait for a free connection.
	DBPoolTimeout time.Duration
	// DBPoolRecycle is the maximum lifetime of a pooled connection.
	DBPoolRecycle time.Duration

	// CacheURL is the Redis host:port. Empty disables caching.
	CacheURL string
	// CachePassword authenticates the Redis connection when set.
	CachePassword string
	// CacheMaxConnections caps the Redis pool.
	CacheMaxConnections int
	// CacheSocketTimeout bounds individual Redis operations.
	CacheSocketTimeout time.Duration

	// BatchSize is the tracker flush batch and processor claim batch.
	BatchSize int
	// FlushInterval is the tracker's time-trigger flush interval.
	FlushInterval time.Duration
	// SessionTimeout is the session inactivity timeout.
	SessionTimeout time.Duration
	// RetentionDays is how long raw events are kept.
	RetentionDays int

	// ListenAddr is the API listen address.
	ListenAddr string
	// RateLimit is the per-client requests-per-minute budget.
	RateLimit int

	// DiagAddr is the diagnostics listen address.
	DiagAddr string
	// Debug enables pprof on the diagnostics listener.
	Debug bool

	// Features toggles optional subsystems.
	Features Features
}

// ApplyFileConfig merges a parsed file config into the runtime config. A nil
// file config (no file on disk) is a no-op. Fields already set on cfg keep
// their value; command line flags are applied before the file.
func ApplyFileConfig(fc *FileConfig, cfg *Config) error {
	if fc == nil {
		return nil
	}
	setString(&cfg.Environment, fc.Environment)
	setString(&cfg.DatabaseURL, fc.Database.URL)
	setInt(&cfg.DBPoolSize, fc.Database.PoolSize)
	setInt(&cfg.DBMaxOverflow, fc.Database.MaxOverflow)
	setSeconds(&cfg.DBPoolTimeout, fc.Database.PoolTimeoutSeconds)
	setSeconds(&cfg.DBPoolRecycle, fc.Database.PoolRecycleSeconds)
	setString(&cfg.CacheURL, fc.Cache.URL)
	setString(&cfg.CachePassword, fc.Cache.Password)
	setInt(&cfg.CacheMaxConnections, fc.Cache.MaxConnections)
	setSeconds(&cfg.CacheSocketTimeout, fc.Cache.SocketTimeoutSeconds)
	setInt(&cfg.BatchSize, fc.Analytics.BatchSize)
	setSeconds(&cfg.FlushInterval, fc.Analytics.FlushIntervalSeconds)
	setSeconds(&cfg.SessionTimeout, fc.Analytics.SessionTimeoutSeconds)
	setInt(&cfg.RetentionDays, fc.Analytics.RetentionDays)
	setString(&cfg.ListenAddr, fc.API.ListenAddr)
	setInt(&cfg.RateLimit, fc.API.RateLimit)
	setString(&cfg.DiagAddr, fc.Diag.Addr)
	if fc.Diag.Debug {
		cfg.Debug = true
	}
	cfg.Features = fc.Features
	return nil
}

// ApplyEnvironment overlays NORTHSTAR_* environment variables on top of the
// config. Environment wins over file and flags, matching twelve-factor
// deployments where the file is baked into the image and secrets arrive via
// env.
func ApplyEnvironment(cfg *Config) error {
	if v := os.Getenv("NORTHSTAR_ENV"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("NORTHSTAR_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("NORTHSTAR_CACHE_URL"); v != "" {
		cfg.CacheURL = v
	}
	if v := os.Getenv("NORTHSTAR_CACHE_PASSWORD"); v != "" {
		cfg.CachePassword = v
	}
	if v := os.Getenv("NORTHSTAR_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("NORTHSTAR_DIAG_ADDR"); v != "" {
		cfg.DiagAddr = v
	}
	for name, target := range map[string]*int{
		"NORTHSTAR_BATCH_SIZE":     &cfg.BatchSize,
		"NORTHSTAR_RATE_LIMIT":     &cfg.RateLimit,
		"NORTHSTAR_RETENTION_DAYS": &cfg.RetentionDays,
	} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return trace.BadParameter("%v: expected an integer, got %q", name, v)
		}
		*target = n
	}
	if v := os.Getenv("NORTHSTAR_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return trace.BadParameter("NORTHSTAR_DEBUG: expected a boolean, got %q", v)
		}
		cfg.Debug = debug
	}
	return nil
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Environment == "" {
		c.Environment = EnvDevelopment
	}
	switch c.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return trace.BadParameter("unknown environment %q", c.Environment)
	}
	if c.Environment == EnvProduction && c.DatabaseURL == "" {
		return trace.BadParameter("production requires a database URL")
	}

	if c.DBPoolSize == 0 {
		c.DBPoolSize = defaults.DBPoolSize
	}
	if c.DBPoolSize < 1 || c.DBPoolSize > 100 {
		return trace.BadParameter("database pool_size must be between 1 and 100, got %v", c.DBPoolSize)
	}
	if c.DBMaxOverflow == 0 {
		c.DBMaxOverflow = defaults.DBMaxOverflow
	}
	if c.DBMaxOverflow < 0 || c.DBMaxOverflow > 50 {
		return trace.BadParameter("database max_overflow must be between 0 and 50, got %v", c.DBMaxOverflow)
	}
	if c.DBPoolTimeout == 0 {
		c.DBPoolTimeout = defaults.DBPoolTimeout
	}
	if c.DBPoolRecycle == 0 {
		c.DBPoolRecycle = defaults.DBPoolRecycle
	}

	if c.CacheMaxConnections == 0 {
		c.CacheMaxConnections = defaults.CacheMaxConnections
	}
	if c.CacheSocketTimeout == 0 {
		c.CacheSocketTimeout = defaults.CacheSocketTimeout
	}

	if c.BatchSize == 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.BatchSize < 1 || c.BatchSize > 10000 {
		return trace.BadParameter("analytics batch_size must be between 1 and 10000, got %v", c.BatchSize)
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = defaults.FlushInterval
	}
	if c.FlushInterval < 0 {
		return trace.BadParameter("analytics flush_interval must not be negative")
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = defaults.SessionTimeout
	}
	if c.SessionTimeout < time.Minute {
		return trace.BadParameter("analytics session_timeout must be at least one minute, got %v", c.SessionTimeout)
	}
	if c.RetentionDays == 0 {
		c.RetentionDays = defaults.RetentionDays
	}
	if c.RetentionDays < 1 {
		return trace.BadParameter("analytics retention_days must be positive, got %v", c.RetentionDays)
	}

	if c.ListenAddr == "" {
		c.ListenAddr = defaults.HTTPListenAddr
	}
	if c.RateLimit == 0 {
		c.RateLimit = defaults.RateLimitPerMinute
	}
	if c.RateLimit < 1 {
		return trace.BadParameter("api rate_limit must be positive, got %v", c.RateLimit)
	}
	if c.DiagAddr == "" {
		c.DiagAddr = defaults.DiagAddr
	}
	return nil
}

// Load reads the optional config file at path, overlays the environment and
// validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		fc, err := ReadConfigFile(path)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if err := ApplyFileConfig(fc, &cfg); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	if err := ApplyEnvironment(&cfg); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &cfg, nil
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func setInt(target *int, value int) {
	if value != 0 {
		*target = value
	}
}

func setSeconds(target *time.Duration, seconds int) {
	if seconds != 0 {
		*target = time.Duration(seconds) * time.Second
	}
}
