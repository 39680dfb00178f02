// Package sqlite is the default run archive, a single file database with
// embedded migrations.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"fiiscrape/internal/record"
	"fiiscrape/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Fixed width so the text column sorts chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Repository struct {
	db             *sql.DB
	commandTimeout time.Duration
	logger         *slog.Logger
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository opens the database at path and applies pending migrations.
func NewRepository(path string, commandTimeout time.Duration, logger *slog.Logger) (*Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Repository{db: db, commandTimeout: commandTimeout, logger: logger}, nil
}

func runMigrations(db *sql.DB, logger *slog.Logger) error {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("no new database migrations to apply")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	logger.Info("database migrations applied")
	return nil
}

func (r *Repository) SaveRun(ctx context.Context, run *storage.Run, records []*record.Record) error {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			r.logger.Error("failed to roll back", "error", err)
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, tickers, cancelled, securities, portfolio)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			tickers = excluded.tickers,
			cancelled = excluded.cancelled,
			securities = excluded.securities,
			portfolio = excluded.portfolio`,
		run.ID,
		run.StartedAt.UTC().Format(timeLayout),
		run.FinishedAt.UTC().Format(timeLayout),
		strings.Join(run.Tickers, ","),
		run.Cancelled,
		run.Securities,
		run.Portfolio,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_records WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("failed to clear run records: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_records (run_id, seq, origin, data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() {
		if err := stmt.Close(); err != nil {
			r.logger.Error("failed to close statement", "error", err)
		}
	}()

	for i, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode record %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, run.ID, i, string(rec.Origin()), string(data)); err != nil {
			return fmt.Errorf("failed to insert record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

func (r *Repository) ListRuns(ctx context.Context, limit int) ([]storage.Run, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, tickers, cancelled, securities, portfolio
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []storage.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return runs, nil
}

func (r *Repository) LoadRun(ctx context.Context, id string) (*storage.Run, []*record.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, tickers, cancelled, securities, portfolio
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: %s", storage.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := r.db.QueryContext(ctx, `SELECT data FROM run_records WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []*record.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec := record.New()
		if err := json.Unmarshal([]byte(data), rec); err != nil {
			return nil, nil, fmt.Errorf("failed to decode record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read records: %w", err)
	}
	return run, records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*storage.Run, error) {
	var (
		run              storage.Run
		started, stopped string
		tickers          string
	)
	err := s.Scan(&run.ID, &started, &stopped, &tickers, &run.Cancelled, &run.Securities, &run.Portfolio)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if run.FinishedAt, err = time.Parse(timeLayout, stopped); err != nil {
		return nil, fmt.Errorf("failed to parse finished_at: %w", err)
	}
	if tickers != "" {
		run.Tickers = strings.Split(tickers, ",")
	}
	return &run, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
