package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"fiiscrape/internal/config"
	"fiiscrape/internal/storage"
	"fiiscrape/internal/storage/mssql"
	"fiiscrape/internal/storage/sqlite"
)

// OpenRepository opens the configured run archive. It returns nil when
// storage is disabled.
func OpenRepository(cfg *config.Config, logger *slog.Logger) (storage.Repository, error) {
	switch cfg.Storage.Driver {
	case config.DriverNone:
		return nil, nil
	case config.DriverMSSQL:
		repo, err := mssql.NewRepository(cfg.Storage.DSN, cfg.GetCommandTimeout(), logger)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		repo, err := sqlite.NewRepository(cfg.Storage.DSN, cfg.GetCommandTimeout(), logger)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}
}

// Archive stores the records of a finished run.
func Archive(ctx context.Context, repo storage.Repository, job Job, res *Result) error {
	if repo == nil || res == nil {
		return nil
	}
	run := &storage.Run{
		ID:         res.RunID,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Tickers:    slices.Clone(job.Tickers),
		Cancelled:  res.Cancelled,
		Securities: len(res.Securities),
		Portfolio:  len(res.Portfolio),
	}
	records := append(slices.Clone(res.Securities), res.Portfolio...)
	if err := repo.SaveRun(ctx, run, records); err != nil {
		return fmt.Errorf("failed to archive run %s: %w", res.RunID, err)
	}
	return nil
}
