// Package mssql archives runs in SQL Server. The tables are expected to
// exist:
//
//	CREATE TABLE TblRuns (
//	    [ID] NVARCHAR(64) PRIMARY KEY, [StartedAt] DATETIME2 NOT NULL,
//	    [FinishedAt] DATETIME2 NOT NULL, [Tickers] NVARCHAR(MAX) NOT NULL,
//	    [Cancelled] BIT NOT NULL, [Securities] INT NOT NULL, [Portfolio] INT NOT NULL);
//	CREATE TABLE TblRunRecords (
//	    [RunID] NVARCHAR(64) NOT NULL REFERENCES TblRuns([ID]) ON DELETE CASCADE,
//	    [Seq] INT NOT NULL, [Origin] NVARCHAR(16) NOT NULL, [Data] NVARCHAR(MAX) NOT NULL,
//	    PRIMARY KEY ([RunID], [Seq]));
package mssql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"fiiscrape/internal/record"
	"fiiscrape/internal/storage"
)

type Repository struct {
	db             *sql.DB
	commandTimeout time.Duration
	logger         *slog.Logger
}

var _ storage.Repository = (*Repository)(nil)

func NewRepository(dsn string, commandTimeout time.Duration, logger *slog.Logger) (*Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Repository{db: db, commandTimeout: commandTimeout, logger: logger}, nil
}

// SaveRun upserts the run row and rewrites its records in one transaction.
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

	query := `
		MERGE INTO TblRuns AS target
		USING (SELECT @ID AS ID) AS source
		ON target.[ID] = source.ID
		WHEN MATCHED THEN
			UPDATE SET
				[StartedAt] = @StartedAt,
				[FinishedAt] = @FinishedAt,
				[Tickers] = @Tickers,
				[Cancelled] = @Cancelled,
				[Securities] = @Securities,
				[Portfolio] = @Portfolio
		WHEN NOT MATCHED THEN
			INSERT ([ID], [StartedAt], [FinishedAt], [Tickers], [Cancelled], [Securities], [Portfolio])
			VALUES (@ID, @StartedAt, @FinishedAt, @Tickers, @Cancelled, @Securities, @Portfolio);
	`
	_, err = tx.ExecContext(ctx, query,
		sql.Named("ID", run.ID),
		sql.Named("StartedAt", run.StartedAt.UTC()),
		sql.Named("FinishedAt", run.FinishedAt.UTC()),
		sql.Named("Tickers", strings.Join(run.Tickers, ",")),
		sql.Named("Cancelled", run.Cancelled),
		sql.Named("Securities", run.Securities),
		sql.Named("Portfolio", run.Portfolio),
	)
	if err != nil {
		return fmt.Errorf("failed to execute run upsert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM TblRunRecords WHERE [RunID] = @RunID`, sql.Named("RunID", run.ID)); err != nil {
		return fmt.Errorf("failed to clear run records: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO TblRunRecords ([RunID], [Seq], [Origin], [Data]) VALUES (@RunID, @Seq, @Origin, @Data)`)
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
		_, err = stmt.ExecContext(ctx,
			sql.Named("RunID", run.ID),
			sql.Named("Seq", i),
			sql.Named("Origin", string(rec.Origin())),
			sql.Named("Data", string(data)),
		)
		if err != nil {
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

	top := ""
	if limit > 0 {
		top = fmt.Sprintf("TOP (%d) ", limit)
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+top+`[ID], [StartedAt], [FinishedAt], [Tickers], [Cancelled], [Securities], [Portfolio]
		FROM TblRuns ORDER BY [StartedAt] DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query database: %w", err)
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
		SELECT [ID], [StartedAt], [FinishedAt], [Tickers], [Cancelled], [Securities], [Portfolio]
		FROM TblRuns WHERE [ID] = @ID`, sql.Named("ID", id))
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: %s", storage.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := r.db.QueryContext(ctx, `SELECT [Data] FROM TblRunRecords WHERE [RunID] = @RunID ORDER BY [Seq]`, sql.Named("RunID", id))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query database: %w", err)
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
	var run storage.Run
	var tickers string
	err := s.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &tickers, &run.Cancelled, &run.Securities, &run.Portfolio)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	if tickers != "" {
		run.Tickers = strings.Split(tickers, ",")
	}
	return &run, nil
}

// Close releases the connection pool.
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
