package repository

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Config struct {
	Driver           string // postgres | sqlite
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// DB is an ent SQL driver plus the pgx pool behind it when running on Postgres.
type DB struct {
	Driver  *entsql.Driver
	Pool    *pgxpool.Pool
	dialect string
}

// Dialect returns the ent dialect name.
func (db *DB) Dialect() string { return db.dialect }

// Open connects to the configured database and bootstraps the schema.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		db  *DB
		err error
	)
	switch cfg.Driver {
	case "", "postgres":
		db, err = openPostgres(ctx, cfg, logger)
	case "sqlite":
		db, err = openSQLite(cfg, logger)
	default:
		err = fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		logger.Error("failed to connect to database", "driver", cfg.Driver, "error", err)
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close(logger)
		return nil, err
	}
	logger.Info("successfully connected to database", "driver", db.dialect)
	return db, nil
}

func openPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	logger.Info("connecting to database", "driver", "postgres")
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "evidence-pipeline"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprint(cfg.StatementTimeout.Milliseconds())
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}

	// Wrap pool as *sql.DB for Ent
	sqlDB := stdlib.OpenDBFromPool(pool)
	return &DB{
		Driver:  entsql.OpenDB(dialect.Postgres, sqlDB),
		Pool:    pool,
		dialect: dialect.Postgres,
	}, nil
}

// openSQLite uses a single connection so ":memory:" databases survive between calls.
func openSQLite(cfg Config, logger *slog.Logger) (*DB, error) {
	logger.Info("connecting to database", "driver", "sqlite", "dsn", cfg.DSN)
	sqlDB, err := stdsql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)
	return &DB{
		Driver:  entsql.OpenDB(dialect.SQLite, sqlDB),
		dialect: dialect.SQLite,
	}, nil
}

var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS evidence (
		id            TEXT PRIMARY KEY,
		type          TEXT NOT NULL,
		source        TEXT NOT NULL,
		filename      TEXT NOT NULL,
		mime_type     TEXT NOT NULL DEFAULT '',
		size          BIGINT NOT NULL DEFAULT 0,
		status        TEXT NOT NULL,
		quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		content       TEXT NOT NULL,
		metadata      TEXT NOT NULL,
		checksum      TEXT NOT NULL DEFAULT '',
		storage_key   TEXT NOT NULL DEFAULT '',
		created_at    BIGINT NOT NULL,
		processed_at  BIGINT,
		deleted_at    BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS evidence_status_idx ON evidence (status)`,
	`CREATE INDEX IF NOT EXISTS evidence_created_at_idx ON evidence (created_at)`,
	`CREATE INDEX IF NOT EXISTS evidence_deleted_at_idx ON evidence (deleted_at)`,
	`CREATE INDEX IF NOT EXISTS evidence_storage_key_idx ON evidence (storage_key)`,
}

// Migrate creates the evidence table and its indexes when missing.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schemaDDL {
		var res stdsql.Result
		if err := db.Driver.Exec(ctx, stmt, []any{}, &res); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connections gracefully
func (db *DB) Close(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("closing database connections")
	if db.Driver != nil {
		if err := db.Driver.Close(); err != nil {
			logger.Error("failed to close ent driver", "error", err)
		}
	}
	if db.Pool != nil {
		db.Pool.Close()
	}
	logger.Info("database connections closed")
}

// HealthCheck pings the database to catch DSN issues early.
func (db *DB) HealthCheck(ctx context.Context, timeout time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	logger.Debug("pinging database")
	var err error
	if db.Pool != nil {
		err = db.Pool.Ping(ctx)
	} else {
		err = db.Driver.DB().PingContext(ctx)
	}
	if err != nil {
		logger.Error("database ping failed", "error", err)
		return err
	}
	logger.Debug("database ping successful")
	return nil
}
