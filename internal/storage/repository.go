// Package storage archives the records of every run so a workbook can be
// rebuilt later.
package storage

import (
	"context"
	"errors"
	"time"

	"fiiscrape/internal/record"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// Run is the metadata of one extraction run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Tickers    []string
	Cancelled  bool
	Securities int
	Portfolio  int
}

// Repository stores runs and their records.
type Repository interface {
	// SaveRun stores the run and replaces its records.
	SaveRun(ctx context.Context, run *Run, records []*record.Record) error

	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// LoadRun returns a run and its records in insertion order.
	LoadRun(ctx context.Context, id string) (*Run, []*record.Record, error)

	Close() error
}

// Split separates records by their origin tag.
func Split(records []*record.Record) (securities, portfolio []*record.Record) {
	for _, r := range records {
		if r.Origin() == record.OriginPortfolio {
			portfolio = append(portfolio, r)
		} else {
			securities = append(securities, r)
		}
	}
	return securities, portfolio
}
