package server

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/evidence-pipeline/internal/common"
	repo "github.com/joseph-ayodele/evidence-pipeline/internal/repository"
)

// ConnectDB opens the evidence store described by cfg and bootstraps its schema.
func ConnectDB(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*repo.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := repo.Open(ctx, repo.Config{
		Driver:           cfg.Driver,
		DSN:              cfg.DSN,
		MaxConns:         cfg.MaxConns,
		MinConns:         cfg.MinConns,
		MaxConnLifetime:  cfg.MaxConnLifetime,
		MaxConnIdleTime:  cfg.MaxConnIdleTime,
		DialTimeout:      cfg.DialTimeout,
		StatementTimeout: cfg.StatementTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// CloseDB tolerates a nil db so it can be deferred before ConnectDB succeeds.
func CloseDB(db *repo.DB, logger *slog.Logger) {
	if db == nil {
		return
	}
	db.Close(logger)
}
