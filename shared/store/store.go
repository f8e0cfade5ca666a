// Package store persists production metrics, the equipment list and the
// audit trail. It runs on PostgreSQL (lib/pq) in deployments and on SQLite
// (modernc.org/sqlite) for local runs and tests.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Driver names accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config for database connections
type Config struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Store wraps sql.DB with the queries of the platform
type Store struct {
	db     *sql.DB
	driver string
	logger *logrus.Entry
}

// Open connects, pings and migrates the schema.
func Open(ctx context.Context, cfg Config, logger *logrus.Logger) (*Store, error) {
	dsn := cfg.DSN
	switch cfg.Driver {
	case DriverPostgres:
	case DriverSQLite:
		if !strings.Contains(dsn, "_pragma") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite {
		// one writer at a time
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", cfg.Driver, err)
	}

	s := newStore(db, cfg.Driver, logger)
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	s.logger.Info("Database ready")
	return s, nil
}

func newStore(db *sql.DB, driver string, logger *logrus.Logger) *Store {
	return &Store{
		db:     db,
		driver: driver,
		logger: logger.WithFields(logrus.Fields{"component": "store", "driver": driver}),
	}
}

func (s *Store) migrate(ctx context.Context) error {
	serial := "BIGSERIAL PRIMARY KEY"
	if s.driver == DriverSQLite {
		serial = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS metrics (
			id ` + serial + `,
			equipment_id TEXT NOT NULL,
			status TEXT NOT NULL,
			production BIGINT NOT NULL,
			efficiency DOUBLE PRECISION NOT NULL,
			ts TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_metrics_equipment_ts ON metrics (equipment_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_ts ON metrics (ts)`,
		`CREATE TABLE IF NOT EXISTS equipment (
			id ` + serial + `,
			equipment_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'RUN',
			production BIGINT NOT NULL DEFAULT 0,
			efficiency DOUBLE PRECISION NOT NULL DEFAULT 0.9
		)`,
		`CREATE TABLE IF NOT EXISTS audits (
			id ` + serial + `,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			request_id TEXT NOT NULL,
			ip_address TEXT NOT NULL,
			user_agent TEXT NOT NULL,
			status INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind turns ? placeholders into $n for PostgreSQL
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Driver returns the driver name the store was opened with.
func (s *Store) Driver() string { return s.driver }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ExecWithRetry executes a write query with retry logic
func (s *Store) ExecWithRetry(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	query = s.rebind(query)
	var err error
	for i := 0; i < 3; i++ {
		var result sql.Result
		result, err = s.db.ExecContext(ctx, query, args...)
		if err == nil {
			return result, nil
		}
		if !isRetryable(err) {
			return nil, err
		}
		s.logger.WithError(err).WithField("attempt", i+1).Warn("Retrying write")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(1<<i) * 100 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("failed after 3 retries: %w", err)
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// isRetryable checks if an error is retryable
func isRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// serialization_failure, deadlock_detected
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "database is locked")
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
