// Package app drives one extraction run: security pages first, then the
// portfolio table, reporting progress as it goes.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fiiscrape/internal/column"
	"fiiscrape/internal/config"
	"fiiscrape/internal/extractor"
	"fiiscrape/internal/fetcher"
	"fiiscrape/internal/page"
	"fiiscrape/internal/record"

	"github.com/google/uuid"
)

// Launcher starts a page accessor, e.g. a browser tab.
type Launcher func(ctx context.Context) (page.Accessor, error)

// Session prepares a freshly launched accessor, e.g. opens the home page
// and waits for the user to log in.
type Session func(ctx context.Context, p page.Accessor) error

// Job is what one run extracts.
type Job struct {
	Tickers       []string
	Columns       []column.Spec
	SkipPortfolio bool
}

// Result holds the records collected by a run. A cancelled run still
// carries everything extracted before the stop.
type Result struct {
	RunID      string
	Securities []*record.Record
	Portfolio  []*record.Record
	Cancelled  bool
	StartedAt  time.Time
	FinishedAt time.Time
}

type Orchestrator struct {
	cfg         *config.Config
	launch      Launcher
	session     Session
	logger      *slog.Logger
	status      StatusFunc
	canceller   *Canceller
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
	snapshotDir string

	fetcher *fetcher.Fetcher
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithSession(s Session) Option {
	return func(o *Orchestrator) { o.session = s }
}

func WithStatus(fn StatusFunc) Option {
	return func(o *Orchestrator) { o.status = fn }
}

func WithCanceller(c *Canceller) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.canceller = c
		}
	}
}

// WithSleep replaces the retry delay, mostly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// WithSnapshotDir saves the html of every loaded page under dir.
func WithSnapshotDir(dir string) Option {
	return func(o *Orchestrator) { o.snapshotDir = dir }
}

func NewOrchestrator(cfg *config.Config, launch Launcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		launch:    launch,
		logger:    slog.Default(),
		canceller: &Canceller{},
		sleep:     sleepContext,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Canceller returns the flag checked between steps.
func (o *Orchestrator) Canceller() *Canceller {
	return o.canceller
}

// Run executes job. Only setup failures are returned as errors; page level
// failures end up in the records or degrade the portfolio to empty.
func (o *Orchestrator) Run(ctx context.Context, job Job) (*Result, error) {
	res := &Result{RunID: uuid.NewString(), StartedAt: o.now()}
	logger := o.logger.With("run_id", res.RunID)
	rep := &reporter{sink: o.status, now: o.now}

	logger.Info("Starting run", "tickers", len(job.Tickers), "columns", len(job.Columns))

	rep.report("Starting browser...", 10)
	p, err := o.launch(ctx)
	if err != nil {
		logger.Error("Failed to launch page accessor", "error", err)
		return nil, &SetupError{Stage: "launch", Err: err}
	}
	o.fetcher = fetcher.New(p,
		fetcher.WithRate(o.cfg.Pacing.PerMinute, o.cfg.Pacing.Burst),
		fetcher.WithSnapshotDir(o.snapshotDir),
		fetcher.WithLogger(logger),
	)
	defer func() {
		if err := o.fetcher.Page().Close(); err != nil {
			logger.Warn("Failed to close page accessor", "error", err)
		}
	}()

	if o.cancelled(ctx) {
		return o.finish(res, rep, logger), nil
	}

	if o.session != nil {
		rep.report("Opening the site...", 20)
		if err := o.session(ctx, p); err != nil {
			logger.Error("Failed to establish session", "error", err)
			return nil, &SetupError{Stage: "session", Err: err}
		}
		rep.report("Session ready, starting extraction...", 25)
	}

	res.Securities = o.extractSecurities(ctx, job, rep, logger)

	if o.cfg.Portfolio.Enabled && !job.SkipPortfolio {
		res.Portfolio = o.extractPortfolio(ctx, rep, logger)
	}

	return o.finish(res, rep, logger), nil
}

func (o *Orchestrator) finish(res *Result, rep *reporter, logger *slog.Logger) *Result {
	res.Cancelled = o.canceller.Cancelled()
	res.FinishedAt = o.now()
	if res.Cancelled {
		rep.message("Extraction cancelled, keeping partial results")
	} else {
		rep.report("Extraction finished", 100)
	}
	logger.Info("Run finished",
		"securities", len(res.Securities),
		"portfolio", len(res.Portfolio),
		"cancelled", res.Cancelled,
		"duration", res.FinishedAt.Sub(res.StartedAt).String(),
	)
	return res
}

func (o *Orchestrator) cancelled(ctx context.Context) bool {
	return o.canceller.Cancelled() || ctx.Err() != nil
}

func (o *Orchestrator) extractSecurities(ctx context.Context, job Job, rep *reporter, logger *slog.Logger) []*record.Record {
	rep.report("Starting security extraction...", 30)
	total := len(job.Tickers)
	if total == 0 {
		rep.report("No tickers to process", 40)
		return nil
	}

	var out []*record.Record
	for i, ticker := range job.Tickers {
		if o.cancelled(ctx) {
			rep.message("Security extraction cancelled")
			return out
		}
		rep.report(fmt.Sprintf("Processing %s (%d/%d)...", ticker, i+1, total), 30+i*30/total)

		rec, ok := o.extractSecurity(ctx, ticker, job.Columns, logger)
		if !ok {
			rep.message("Security extraction cancelled")
			return out
		}
		out = append(out, rec)
		if msg, failed := rec.Get(record.KeyError); failed {
			rep.message(fmt.Sprintf("Failed %s: %s", ticker, msg))
		} else {
			rep.message(fmt.Sprintf("Extracted %s", ticker))
		}
	}

	rep.report("Security extraction finished", 60)
	return out
}

// extractSecurity loads one ticker page and reads every column. It reports
// false when the run was cancelled after the page loaded.
func (o *Orchestrator) extractSecurity(ctx context.Context, ticker string, columns []column.Spec, logger *slog.Logger) (rec *record.Record, ok bool) {
	rec = record.New()
	rec.Set(record.KeyTicker, ticker)
	rec.Set(record.KeyOrigin, string(record.OriginStock))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while extracting ticker", "ticker", ticker, "panic", r)
			rec.Set(record.KeyError, fmt.Sprintf("panic: %v", r))
			ok = true
		}
	}()

	url := o.cfg.StockURL(ticker)
	_, err := o.fetcher.Fetch(ctx, fetcher.Request{
		URL:      url,
		Wait:     fetcher.WaitStrategyElement,
		Target:   "body",
		Timeout:  o.cfg.GetPageTimeout(),
		Snapshot: true,
	})
	if err != nil {
		logger.Warn("Failed to load ticker page", "ticker", ticker, "url", url, "error", err)
		rec.Set(record.KeyError, err.Error())
		return rec, true
	}
	if o.cancelled(ctx) {
		return nil, false
	}

	o.engine(logger).ExtractColumns(ctx, columns, rec)
	logger.Debug("Ticker extracted", "ticker", ticker, "fields", rec.Len())
	return rec, true
}

func (o *Orchestrator) engine(logger *slog.Logger) *extractor.Engine {
	return extractor.New(o.fetcher.Page(),
		extractor.WithLogger(logger),
		extractor.WithWaits(o.cfg.GetSelectorTimeout(), o.cfg.GetCellTimeout()),
		extractor.WithTableFallbacks(o.cfg.Tables.FallbackSelectors),
		extractor.WithSnapshotTTL(o.cfg.GetSnapshotTTL()),
	)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
