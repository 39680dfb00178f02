package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fiiscrape/internal/app"
	"fiiscrape/internal/browser"
	"fiiscrape/internal/config"
	"fiiscrape/internal/export"
	"fiiscrape/internal/formatter"
	"fiiscrape/internal/observability"
	"fiiscrape/internal/page"
	"fiiscrape/internal/record"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configPath string
	envFile    string

	showUI      bool
	replayDir   string
	recordDir   string
	noPortfolio bool
	runFormats  []string
	runTickers  []string
)

func main() {
	var rootCmd = &cobra.Command{
		Use:     "fiiscrape",
		Short:   "Extract real estate fund indicators into a spreadsheet",
		Version: version,
		Long: `fiiscrape opens each configured ticker page in a browser, reads the
configured columns, optionally reads the user's portfolio table, and writes
everything to a formatted Excel workbook.`,
		Example: `  # Extract every configured ticker and write Exports/FIIs_<timestamp>.xlsx
  fiiscrape run

  # Show the browser so you can log in, and also write csv and json
  fiiscrape run --showui --format xlsx,csv,json

  # Save every loaded page, then replay the run without a browser
  fiiscrape run --record snapshots
  fiiscrape run --replay snapshots

  # Try a selector before adding it as a column
  fiiscrape probe https://investidor10.com.br/fiis/mxrf11/ -s "div._card.dy div._card-body span"`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "fiiscrape.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before the config")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Extract the configured tickers and portfolio",
		Args:  cobra.NoArgs,
		RunE:  run,
	}
	runCmd.Flags().BoolVar(&showUI, "showui", false, "Show browser UI (disable headless mode) and wait for login")
	runCmd.Flags().StringVar(&replayDir, "replay", "", "Run against pages saved by --record instead of a browser")
	runCmd.Flags().StringVar(&recordDir, "record", "", "Save the html of every loaded page under this directory")
	runCmd.Flags().BoolVar(&noPortfolio, "no-portfolio", false, "Skip the portfolio table")
	runCmd.Flags().StringSliceVarP(&runFormats, "format", "f", nil, "Output formats (xlsx, csv, json, markdown), defaults to export.formats")
	runCmd.Flags().StringSliceVarP(&runTickers, "tickers", "t", nil, "Tickers to extract, defaults to the configured list")

	rootCmd.AddCommand(runCmd, newProbeCmd(), newTickersCmd(), newColumnsCmd(), newHistoryCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file with environment overrides applied.
// Commands that save the config use config.LoadConfig directly so the
// overrides are not written back.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, io.Closer) {
	o := cfg.Observability
	return observability.NewLogger(observability.LogConfig{
		Path:       o.LogPath,
		Level:      o.LogLevel,
		MaxSizeMB:  o.LogMaxSizeMB,
		MaxBackups: o.LogMaxBackups,
		MaxAgeDays: o.LogMaxAgeDays,
	})
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if showUI {
		cfg.Browser.Headless = false
	}

	tickers := cfg.Tickers
	if len(runTickers) > 0 {
		if tickers, err = config.NormalizeTickers(runTickers); err != nil {
			return err
		}
	}
	formats, err := validateFormats(runFormats, cfg.Export.Formats)
	if err != nil {
		return err
	}

	logger, closer := newLogger(cfg)
	defer closer.Close()

	canceller := &app.Canceller{}
	ctx, cancel := app.GracefulShutdown(cmd.Context(), logger, canceller)
	defer cancel()

	statuses := make(chan app.Status, 16)
	opts := []app.Option{
		app.WithLogger(logger),
		app.WithStatus(app.ChannelSink(statuses)),
		app.WithCanceller(canceller),
		app.WithSnapshotDir(recordDir),
	}
	launch := browserLauncher(cfg)
	if replayDir != "" {
		// Saved pages are served without pacing or a login session.
		cfg.Pacing.PerMinute = 0
		launch = replayLauncher(replayDir)
	} else {
		opts = append(opts, app.WithSession(siteSession(cfg, os.Stdin, os.Stderr)))
	}

	job := app.Job{Tickers: tickers, Columns: cfg.Columns, SkipPortfolio: noPortfolio}
	orch := app.NewOrchestrator(cfg, launch, opts...)

	type outcome struct {
		res *app.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := orch.Run(ctx, job)
		close(statuses)
		done <- outcome{res, err}
	}()
	for s := range statuses {
		printStatus(os.Stderr, s)
	}
	out := <-done
	if out.err != nil {
		return fmt.Errorf("extraction failed: %w", out.err)
	}
	res := out.res

	paths, err := exportRecords(cfg, formats, res.Securities, res.Portfolio, time.Time{}, logger)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintf(os.Stderr, "Output written to: %s\n", p)
	}

	repo, err := app.OpenRepository(cfg, logger)
	if err != nil {
		logger.Warn("Run archive unavailable", "error", err)
		return nil
	}
	if repo != nil {
		defer repo.Close()
		// The archive write is short and must not be skipped by a late signal.
		if err := app.Archive(context.WithoutCancel(ctx), repo, job, res); err != nil {
			logger.Warn("Failed to archive run", "error", err)
		}
	}
	return nil
}

func validateFormats(requested, fallback []string) ([]string, error) {
	if len(requested) == 0 {
		return fallback, nil
	}
	var out []string
	for _, f := range requested {
		f = strings.ToLower(strings.TrimSpace(f))
		switch f {
		case config.FormatXLSX, config.FormatCSV, config.FormatJSON, config.FormatMarkdown:
			out = append(out, f)
		default:
			return nil, fmt.Errorf("invalid output format: %s", f)
		}
	}
	return out, nil
}

func printStatus(w io.Writer, s app.Status) {
	if s.Progress == nil {
		fmt.Fprintf(w, "       %s\n", s.Message)
		return
	}
	fmt.Fprintf(w, "[%3d%%] %s\n", *s.Progress, s.Message)
}

func browserConfig(cfg *config.Config) browser.Config {
	return browser.Config{
		Headless:    cfg.Browser.Headless,
		ProxyURL:    cfg.Browser.Proxy,
		UserDataDir: cfg.Browser.UserDataDir,
		Bin:         cfg.Browser.Bin,
		NoSandbox:   cfg.Browser.NoSandbox,
	}
}

func browserLauncher(cfg *config.Config) app.Launcher {
	bc := browserConfig(cfg)
	return func(ctx context.Context) (page.Accessor, error) {
		p, err := browser.Launch(bc)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

func replayLauncher(dir string) app.Launcher {
	return func(ctx context.Context) (page.Accessor, error) {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("failed to open replay dir: %w", err)
		}
		return page.NewStaticLoader(page.DirLoader(dir)), nil
	}
}

// siteSession opens the home page. With a visible browser it waits for the
// user to log in and press Enter.
func siteSession(cfg *config.Config, in io.Reader, out io.Writer) app.Session {
	return func(ctx context.Context, p page.Accessor) error {
		if err := p.Navigate(ctx, cfg.Site.HomeURL); err != nil {
			return fmt.Errorf("failed to open %s: %w", cfg.Site.HomeURL, err)
		}
		if cfg.Browser.Headless {
			return nil
		}
		fmt.Fprintln(out, "Log in on the browser window if needed, then press Enter to continue...")
		return waitForEnter(ctx, in)
	}
}

func waitForEnter(ctx context.Context, in io.Reader) error {
	line := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(in).ReadString('\n')
		if errors.Is(err, io.EOF) {
			err = nil
		}
		line <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-line:
		return err
	}
}

// exportRecords writes the workbook and any extra renderings with the same
// base name. A zero now means the current time.
func exportRecords(cfg *config.Config, formats []string, securities, portfolio []*record.Record, now time.Time, logger *slog.Logger) ([]string, error) {
	x := export.New(export.Options{
		Dir:     cfg.Export.Dir,
		Prefix:  cfg.Export.Prefix,
		Columns: cfg.Columns,
		Rules:   cfg.Export.Rules,
		Now:     now,
		Logger:  logger,
	})

	var paths []string
	for _, f := range formats {
		if f == config.FormatXLSX {
			path, err := x.Write(securities, portfolio)
			if errors.Is(err, export.ErrNothingToExport) {
				fmt.Fprintln(os.Stderr, "No data to export.")
				return nil, nil
			}
			if err != nil {
				return paths, fmt.Errorf("failed to export workbook: %w", err)
			}
			paths = append(paths, path)
			continue
		}

		if len(securities) == 0 && len(portfolio) == 0 {
			fmt.Fprintln(os.Stderr, "No data to export.")
			return nil, nil
		}
		text, err := formatter.Format(formatter.RecordSet{Securities: securities, Portfolio: portfolio}, f)
		if err != nil {
			return paths, fmt.Errorf("failed to format output: %w", err)
		}
		path := x.Path(formatter.Extension(f))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return paths, fmt.Errorf("failed to create export dir: %w", err)
		}
		if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
			return paths, fmt.Errorf("failed to write to file: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
