package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"fiiscrape/internal/app"
	"fiiscrape/internal/column"
	"fiiscrape/internal/config"
	"fiiscrape/internal/extractor"
	"fiiscrape/internal/fetcher"
	"fiiscrape/internal/output"
	"fiiscrape/internal/storage"

	"github.com/spf13/cobra"
)

var (
	probeSelector   string
	probeFormat     string
	probeOutput     string
	probeWaitFor    string
	probeWaitTarget string
	probeTimeout    time.Duration

	columnKind        string
	columnSearchClass string
	columnReturnClass string
	columnCSS         string
	columnFormat      string

	historyLimit   int
	historyFormats []string
)

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe [URL]",
		Short: "Resolve one selector on a page the way a column would",
		Args:  cobra.ExactArgs(1),
		RunE:  probe,
	}
	cmd.Flags().StringVarP(&probeSelector, "selector", "s", "", "CSS or XPath selector; empty prints the whole page")
	cmd.Flags().StringVarP(&probeFormat, "format", "f", "text", "Output format (text, markdown, html, json)")
	cmd.Flags().StringVarP(&probeOutput, "output", "o", "", "Output file path (format inferred from extension if -f not specified)")
	cmd.Flags().StringVarP(&probeWaitFor, "wait-for", "w", "load", "Wait strategy (load, element, time)")
	cmd.Flags().StringVarP(&probeWaitTarget, "wait-target", "T", "", "Wait target (selector for 'element' strategy, milliseconds for 'time' strategy)")
	cmd.Flags().DurationVar(&probeTimeout, "timeout", 30*time.Second, "Page load timeout")
	return cmd
}

func probe(cmd *cobra.Command, args []string) error {
	target := normalizeURL(args[0])

	if probeOutput != "" && !cmd.Flags().Changed("format") {
		if inferred := inferFormatFromExtension(probeOutput); inferred != "" {
			probeFormat = inferred
		}
	}
	wait, err := fetcher.ParseWaitStrategy(probeWaitFor)
	if err != nil {
		return err
	}
	if probeTimeout <= 0 {
		return fmt.Errorf("--timeout must be > 0")
	}
	if wait != fetcher.WaitStrategyLoad && probeWaitTarget == "" {
		return fmt.Errorf("--wait-target is required when using '%s' wait strategy", wait)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closer := newLogger(cfg)
	defer closer.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
	defer cancel()

	p, err := browserLauncher(cfg)(ctx)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer p.Close()

	out, err := output.Capture(ctx, fetcher.New(p, fetcher.WithLogger(logger)),
		fetcher.Request{URL: target, Wait: wait, Target: probeWaitTarget, Timeout: probeTimeout},
		probeSelector,
		extractor.WithLogger(logger),
		extractor.WithWaits(cfg.GetSelectorTimeout(), cfg.GetCellTimeout()),
		extractor.WithTableFallbacks(cfg.Tables.FallbackSelectors),
	)
	if err != nil {
		return err
	}

	text, err := out.Format(probeFormat)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	if probeOutput != "" {
		if err := os.WriteFile(probeOutput, []byte(text), 0o644); err != nil {
			return fmt.Errorf("failed to write to file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Output written to: %s\n", probeOutput)
		return nil
	}
	fmt.Println(text)
	return nil
}

func newTickersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tickers",
		Short: "List or edit the configured tickers",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Print the configured tickers",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.LoadConfig(configPath)
				if err != nil {
					return err
				}
				for _, t := range cfg.Tickers {
					fmt.Println(t)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "add TICKER...",
			Short: "Add tickers (comma or space separated)",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.LoadConfig(configPath)
				if err != nil {
					return err
				}
				added, err := cfg.AddTickers(splitList(args)...)
				if err != nil {
					return err
				}
				if err := config.Save(configPath, cfg); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "Added %d ticker(s): %s\n", len(added), strings.Join(added, ", "))
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove TICKER...",
			Short: "Remove tickers",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.LoadConfig(configPath)
				if err != nil {
					return err
				}
				removed := cfg.RemoveTickers(splitList(args)...)
				if err := config.Save(configPath, cfg); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "Removed %d ticker(s): %s\n", len(removed), strings.Join(removed, ", "))
				return nil
			},
		},
	)
	return cmd
}

func newColumnsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "columns",
		Short: "List or edit the extracted columns",
	}

	addCmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Add a column",
		Example: `  fiiscrape columns add "Vacancia" --kind simple --search-class "vacancia" --return-class "value" --format percentage
  fiiscrape columns add "Cotacao" --kind advanced --css "div._card.cotacao div._card-body span" --format currency`,
		Args: cobra.ExactArgs(1),
		RunE: addColumn,
	}
	addCmd.Flags().StringVar(&columnKind, "kind", string(column.Advanced), "Column kind (simple, advanced)")
	addCmd.Flags().StringVar(&columnSearchClass, "search-class", "", "Class to search for (simple columns)")
	addCmd.Flags().StringVar(&columnReturnClass, "return-class", "", "Class of the value element (simple columns)")
	addCmd.Flags().StringVar(&columnCSS, "css", "", "CSS selector (advanced columns)")
	addCmd.Flags().StringVar(&columnFormat, "format", string(column.Text), "Excel format (text, number, currency, percentage, decimal)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Print the configured columns",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.LoadConfig(configPath)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "#\tNAME\tKIND\tFORMAT\tLOCATOR")
				for i, s := range cfg.Columns {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, s.Name, s.Kind, s.Format(), locatorText(s))
				}
				return tw.Flush()
			},
		},
		addCmd,
		&cobra.Command{
			Use:   "remove NAME",
			Short: "Remove a column",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return editColumns(func(cfg *config.Config) error { return cfg.RemoveColumn(args[0]) })
			},
		},
		&cobra.Command{
			Use:   "move NAME POSITION",
			Short: "Move a column to a 1-based position",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				pos, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("invalid position %q", args[1])
				}
				return editColumns(func(cfg *config.Config) error { return cfg.MoveColumn(args[0], pos-1) })
			},
		},
	)
	return cmd
}

func addColumn(cmd *cobra.Command, args []string) error {
	kind, err := column.ParseKind(columnKind)
	if err != nil {
		return err
	}
	format, err := column.ParseFormat(columnFormat)
	if err != nil {
		return err
	}
	spec := column.Spec{
		Name:        strings.TrimSpace(args[0]),
		Kind:        kind,
		SearchClass: columnSearchClass,
		ReturnClass: columnReturnClass,
		CSSSelector: columnCSS,
		ExcelFormat: format,
	}
	return editColumns(func(cfg *config.Config) error { return cfg.AddColumn(spec) })
}

func editColumns(edit func(cfg *config.Config) error) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := edit(cfg); err != nil {
		return err
	}
	return config.Save(configPath, cfg)
}

func locatorText(s column.Spec) string {
	if s.Kind == column.Simple {
		return s.SearchClass + " -> " + s.ReturnClass
	}
	return s.CSSSelector
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect archived runs",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent runs",
		Args:  cobra.NoArgs,
		RunE:  listRuns,
	}
	listCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show (-1 for all)")

	exportCmd := &cobra.Command{
		Use:   "export RUN_ID",
		Short: "Rebuild the workbook of an archived run",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}
	exportCmd.Flags().StringSliceVarP(&historyFormats, "format", "f", nil, "Output formats (xlsx, csv, json, markdown), defaults to export.formats")

	cmd.AddCommand(listCmd, exportCmd)
	return cmd
}

func openArchive() (*config.Config, storage.Repository, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, closer := newLogger(cfg)
	repo, err := app.OpenRepository(cfg, logger)
	if err == nil && repo == nil {
		err = errors.New("run archive is disabled (storage.driver: none)")
	}
	if err != nil {
		closer.Close()
		return nil, nil, nil, err
	}
	return cfg, repo, func() {
		repo.Close()
		closer.Close()
	}, nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	_, repo, done, err := openArchive()
	if err != nil {
		return err
	}
	defer done()

	runs, err := repo.ListRuns(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tDURATION\tTICKERS\tSECURITIES\tPORTFOLIO\tCANCELLED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%t\n",
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Second),
			len(r.Tickers), r.Securities, r.Portfolio, r.Cancelled)
	}
	return tw.Flush()
}

func exportRun(cmd *cobra.Command, args []string) error {
	cfg, repo, done, err := openArchive()
	if err != nil {
		return err
	}
	defer done()

	formats, err := validateFormats(historyFormats, cfg.Export.Formats)
	if err != nil {
		return err
	}
	run, records, err := repo.LoadRun(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	securities, portfolio := storage.Split(records)
	paths, err := exportRecords(cfg, formats, securities, portfolio, run.StartedAt.Local(), nil)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintf(os.Stderr, "Output written to: %s\n", p)
	}
	return nil
}

// splitList accepts "A,B C" style arguments.
func splitList(args []string) []string {
	var out []string
	for _, a := range args {
		out = append(out, strings.FieldsFunc(a, func(r rune) bool { return r == ',' || r == ' ' || r == ';' })...)
	}
	return out
}

// inferFormatFromExtension infers output format from file extension
func inferFormatFromExtension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".md", ".markdown":
		return "markdown"
	case ".json":
		return "json"
	case ".html", ".htm":
		return "html"
	case ".txt":
		return "text"
	default:
		return ""
	}
}

// normalizeURL adds https:// if no protocol prefix
func normalizeURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return rawURL
	}
	lower := strings.ToLower(rawURL)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return "https://" + rawURL
	}
	return rawURL
}
