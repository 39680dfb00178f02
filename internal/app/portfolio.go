package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fiiscrape/internal/browser"
	"fiiscrape/internal/extractor"
	"fiiscrape/internal/fetcher"
	"fiiscrape/internal/page"
	"fiiscrape/internal/record"
)

// Strategy is one way of reading the portfolio table.
type Strategy struct {
	Name    string
	Extract func(ctx context.Context, tables *extractor.TableReader) ([]*record.Record, error)
}

// PortfolioStrategies lists the table reads tried in order: the known id,
// each configured selector, then a script scan of every table.
func PortfolioStrategies(tableID string, selectors []string) []Strategy {
	var out []Strategy
	if tableID != "" {
		loc := extractor.Locator{ID: tableID}
		out = append(out, Strategy{Name: "table id " + tableID, Extract: readTable(loc)})
	}
	for _, sel := range selectors {
		loc := extractor.Locator{Selector: sel}
		out = append(out, Strategy{Name: sel, Extract: readTable(loc)})
	}
	out = append(out, Strategy{
		Name: "scan all tables",
		Extract: func(ctx context.Context, tables *extractor.TableReader) ([]*record.Record, error) {
			return tables.Scan(ctx)
		},
	})
	return out
}

func readTable(loc extractor.Locator) func(context.Context, *extractor.TableReader) ([]*record.Record, error) {
	return func(ctx context.Context, tables *extractor.TableReader) ([]*record.Record, error) {
		return tables.Read(ctx, loc), nil
	}
}

// extractPortfolio retries the portfolio page up to the configured number
// of attempts. Giving up yields an empty result, never an error.
func (o *Orchestrator) extractPortfolio(ctx context.Context, rep *reporter, logger *slog.Logger) []*record.Record {
	if o.cancelled(ctx) {
		rep.message("Portfolio extraction cancelled")
		return nil
	}
	rep.report("Starting portfolio extraction...", 65)

	attempts := o.cfg.Portfolio.MaxAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := time.Duration(attempt-1) * o.cfg.GetRetryDelay()
			if err := o.sleep(ctx, delay); err != nil {
				rep.message("Portfolio extraction cancelled")
				return nil
			}
		}

		records, err := o.portfolioAttempt(ctx, attempt, attempts, rep, logger)
		if err == nil {
			record.Tag(records, record.OriginPortfolio)
			rep.report("Portfolio extraction finished", 90)
			logger.Info("Portfolio extracted", "rows", len(records), "attempt", attempt)
			return records
		}
		if errors.Is(err, errCancelled) {
			rep.message("Portfolio extraction cancelled")
			return nil
		}

		logger.Warn("Portfolio attempt failed", "attempt", attempt, "error", err)
		rep.report(fmt.Sprintf("Attempt %d failed: %s", attempt, truncate(err.Error(), 50)), 75)

		if attempt < attempts && browser.IsCrash(err) {
			rep.report("Restarting the browser...", 76)
			if err := o.relaunch(ctx); err != nil {
				logger.Warn("Failed to restart page accessor", "error", err)
			}
		}
	}

	rep.report("Could not extract the portfolio, continuing with securities only", 85)
	return nil
}

func (o *Orchestrator) portfolioAttempt(ctx context.Context, attempt, attempts int, rep *reporter, logger *slog.Logger) ([]*record.Record, error) {
	url := o.cfg.Site.PortfolioURL
	rep.report(fmt.Sprintf("Opening portfolio page (attempt %d/%d)...", attempt, attempts), 70)
	if _, err := o.fetcher.Fetch(ctx, fetcher.Request{URL: url, Unpaced: true}); err != nil {
		return nil, fmt.Errorf("failed to navigate to portfolio: %w", err)
	}
	if o.cancelled(ctx) {
		return nil, errCancelled
	}

	rep.report("Waiting for the page to load...", 72)
	if err := o.waitAny(ctx, o.cfg.Portfolio.WaitSelectors); err != nil {
		return nil, err
	}
	o.fetcher.SaveSnapshot(ctx, url)

	rep.report("Reading the portfolio table...", 80)
	tables := o.engine(logger).Tables()
	for i, s := range PortfolioStrategies(o.cfg.Portfolio.TableID, o.cfg.Portfolio.TableSelectors) {
		rep.report(fmt.Sprintf("Trying extraction strategy %d (%s)...", i+1, s.Name), 82+i)
		records, err := s.Extract(ctx, tables)
		if err != nil {
			logger.Debug("Portfolio strategy failed", "strategy", s.Name, "error", err)
			rep.report(fmt.Sprintf("Strategy %d failed: %s", i+1, truncate(err.Error(), 50)), 82+i)
			continue
		}
		if len(records) > 0 {
			logger.Debug("Portfolio strategy succeeded", "strategy", s.Name, "rows", len(records))
			return records, nil
		}
	}
	return nil, errors.New("all portfolio extraction strategies failed")
}

// waitAny waits for the first selector that appears.
func (o *Orchestrator) waitAny(ctx context.Context, selectors []string) error {
	p := o.fetcher.Page()
	for _, sel := range selectors {
		if _, err := p.WaitFor(ctx, page.ByCSS, sel, o.cfg.GetPortfolioWaitTimeout()); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return errors.New("no portfolio page element found")
}

// relaunch replaces a crashed accessor and re-establishes the session. The
// old accessor is closed only after a new one is running.
func (o *Orchestrator) relaunch(ctx context.Context) error {
	p, err := o.launch(ctx)
	if err != nil {
		return fmt.Errorf("failed to relaunch: %w", err)
	}
	if err := o.fetcher.Page().Close(); err != nil {
		o.logger.Debug("Closing crashed page accessor failed", "error", err)
	}
	o.fetcher.SetPage(p)
	if o.session != nil {
		if err := o.session(ctx, p); err != nil {
			return fmt.Errorf("failed to re-establish session: %w", err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
