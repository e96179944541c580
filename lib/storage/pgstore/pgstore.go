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

// Package pgstore implements the storage contract on PostgreSQL.
package pgstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gravitational/trace"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/northstarhq/northstar"
	"github.com/northstarhq/northstar/lib/defaults"
	"github.com/northstarhq/northstar/lib/storage"
)

// Config holds the PostgreSQL store configuration.
type Config struct {
	// ConnString is the PostgreSQL connection string, either URL or DSN
	// form.
	ConnString string
	// PoolSize is the base number of pooled connections, 1 to 100.
	PoolSize int
	// MaxOverflow is how many connections beyond PoolSize may be opened
	// under load, 0 to 50.
	MaxOverflow int
	// PoolTimeout bounds the wait for a connection.
	PoolTimeout time.Duration
	// PoolRecycle is the maximum lifetime of a pooled connection.
	PoolRecycle time.Duration
	// Clock overrides time in tests.
	Clock clockwork.Clock
	// Logger emits store level logs.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.ConnString == "" {
		return trace.BadParameter("missing ConnString")
	}
	if c.PoolSize == 0 {
		c.PoolSize = defaults.DBPoolSize
	}
	if c.PoolSize < 1 || c.PoolSize > 100 {
		return trace.BadParameter("PoolSize must be between 1 and 100, got %v", c.PoolSize)
	}
	if c.MaxOverflow == 0 {
		c.MaxOverflow = defaults.DBMaxOverflow
	}
	if c.MaxOverflow < 0 || c.MaxOverflow > 50 {
		return trace.BadParameter("MaxOverflow must be between 0 and 50, got %v", c.MaxOverflow)
	}
	if c.PoolTimeout == 0 {
		c.PoolTimeout = defaults.DBPoolTimeout
	}
	if c.PoolRecycle == 0 {
		c.PoolRecycle = defaults.DBPoolRecycle
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(northstar.ComponentKey, northstar.ComponentStore)
	}
	return nil
}

// querier is the subset of pgx shared by pools and transactions, so every
// repository method can run either autocommit or inside WithTx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store implements storage.Store on PostgreSQL.
type Store struct {
	cfg  Config
	pool *pgxpool.Pool
	db   querier
	// tx is set on stores scoped to a transaction by WithTx.
	tx pgx.Tx
}

// New connects to PostgreSQL, applies pending schema migrations and returns
// a ready store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, trace.Wrap(err, "parsing connection string")
	}
	poolConfig.MaxConns = int32(cfg.PoolSize + cfg.MaxOverflow)
	poolConfig.MinConns = int32(cfg.PoolSize)
	poolConfig.MaxConnLifetime = cfg.PoolRecycle
	poolConfig.ConnConfig.ConnectTimeout = cfg.PoolTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, trace.Wrap(err, "creating connection pool")
	}

	s := &Store{
		cfg:  cfg,
		pool: pool,
		db:   pool,
	}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, trace.Wrap(err, "applying schema migrations")
	}
	cfg.Logger.InfoContext(ctx, "Connected to PostgreSQL store.",
		"pool_size", cfg.PoolSize, "max_overflow", cfg.MaxOverflow)
	return s, nil
}

// scoped returns a view of the store bound to the given transaction.
func (s *Store) scoped(tx pgx.Tx) *Store {
	return &Store{cfg: s.cfg, pool: s.pool, db: tx, tx: tx}
}

// WithTx implements storage.Store. Nested calls open a savepoint on the
// enclosing transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Store) error) error {
	var tx pgx.Tx
	var err error
	if s.tx != nil {
		tx, err = s.tx.Begin(ctx)
	} else {
		tx, err = s.pool.BeginTx(ctx, pgx.TxOptions{})
	}
	if err != nil {
		return ConvertError(err)
	}

	if err := fn(s.scoped(tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.cfg.Logger.WarnContext(ctx, "Failed to roll back transaction.", "error", rbErr)
		}
		return trace.Wrap(err)
	}
	return ConvertError(tx.Commit(ctx))
}

// Ping implements storage.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return trace.ConnectionProblem(err, "database is unreachable")
	}
	return nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Events implements storage.Store.
func (s *Store) Events() storage.Events { return events{s} }

// Users implements storage.Store.
func (s *Store) Users() storage.Users { return users{s} }

// Sessions implements storage.Store.
func (s *Store) Sessions() storage.Sessions { return sessions{s} }

// Metrics implements storage.Store.
func (s *Store) Metrics() storage.Metrics { return metrics{s} }

// Funnels implements storage.Store.
func (s *Store) Funnels() storage.Funnels { return funnels{s} }

// Goals implements storage.Store.
func (s *Store) Goals() storage.Goals { return goals{s} }

// Conversions implements storage.Store.
func (s *Store) Conversions() storage.Conversions { return conversions{s} }

// Cohorts implements storage.Store.
func (s *Store) Cohorts() storage.Cohorts { return cohorts{s} }

// ABTests implements storage.Store.
func (s *Store) ABTests() storage.ABTests { return abtests{s} }

// Dashboards implements storage.Store.
func (s *Store) Dashboards() storage.Dashboards { return dashboards{s} }

// ExportJobs implements storage.Store.
func (s *Store) ExportJobs() storage.ExportJobs { return exportjobs{s} }

// ConvertError maps pgx and driver errors to the trace taxonomy shared by
// every storage implementation.
func ConvertError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return trace.NotFound("not found")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.UniqueViolation:
			return trace.AlreadyExists("already exists: %v", firstNonEmpty(pgErr.Detail, pgErr.Message))
		case pgErr.Code == pgerrcode.SerializationFailure,
			pgErr.Code == pgerrcode.DeadlockDetected:
			return trace.CompareFailed("transaction conflict: %v", pgErr.Message)
		case pgErr.Code == pgerrcode.CheckViolation,
			pgErr.Code == pgerrcode.ForeignKeyViolation,
			pgErr.Code == pgerrcode.NotNullViolation:
			return trace.BadParameter("constraint violation: %v", firstNonEmpty(pgErr.Detail, pgErr.Message))
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgerrcode.IsOperatorIntervention(pgErr.Code):
			return trace.ConnectionProblem(err, "database connection problem")
		}
	}
	return trace.Wrap(err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// rowsAffected converts an Exec result into a NotFound error when no row
// matched the id.
func rowsAffected(tag pgconn.CommandTag, err error, notFoundMsg string, args ...any) error {
	if err != nil {
		return ConvertError(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound(notFoundMsg, args...)
	}
	return nil
}
