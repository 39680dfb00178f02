// Package config loads and validates the fiiscrape YAML configuration.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"fiiscrape/internal/column"
	"fiiscrape/internal/export"
	"fiiscrape/internal/extractor"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Site          SiteConfig          `yaml:"site"`
	Browser       BrowserConfig       `yaml:"browser"`
	Timeouts      TimeoutsConfig      `yaml:"timeouts"`
	Portfolio     PortfolioConfig     `yaml:"portfolio"`
	Tables        TablesConfig        `yaml:"tables"`
	Pacing        PacingConfig        `yaml:"pacing"`
	Cache         CacheConfig         `yaml:"cache"`
	Export        ExportConfig        `yaml:"export"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
	Tickers       []string            `yaml:"tickers"`
	Columns       []column.Spec       `yaml:"columns"`
}

type SiteConfig struct {
	HomeURL      string `yaml:"home_url"`
	StockURL     string `yaml:"stock_url"` // %s is replaced by the lower-case ticker
	PortfolioURL string `yaml:"portfolio_url"`
}

type BrowserConfig struct {
	Headless    bool   `yaml:"headless"`
	Proxy       string `yaml:"proxy"`
	UserDataDir string `yaml:"user_data_dir"`
	Bin         string `yaml:"bin"`
	NoSandbox   bool   `yaml:"no_sandbox"`
}

type TimeoutsConfig struct {
	PageSeconds          int `yaml:"page_seconds"`
	SelectorSeconds      int `yaml:"selector_seconds"`
	CellSeconds          int `yaml:"cell_seconds"`
	PortfolioWaitSeconds int `yaml:"portfolio_wait_seconds"`
}

type PortfolioConfig struct {
	Enabled           bool     `yaml:"enabled"`
	MaxAttempts       int      `yaml:"max_attempts"`
	RetryDelaySeconds int      `yaml:"retry_delay_seconds"`
	WaitSelectors     []string `yaml:"wait_selectors"`
	TableID           string   `yaml:"table_id"`
	TableSelectors    []string `yaml:"table_selectors"`
}

type TablesConfig struct {
	FallbackSelectors []string `yaml:"fallback_selectors"`
}

type PacingConfig struct {
	PerMinute int `yaml:"per_minute"`
	Burst     int `yaml:"burst"`
}

type CacheConfig struct {
	SnapshotTTLSeconds int `yaml:"snapshot_ttl_seconds"`
}

type ExportConfig struct {
	Dir     string        `yaml:"dir"`
	Prefix  string        `yaml:"prefix"`
	Formats []string      `yaml:"formats"`
	Rules   []export.Rule `yaml:"rules"`
}

type StorageConfig struct {
	Driver           string `yaml:"driver"` // sqlite, mssql or none
	DSN              string `yaml:"dsn"`
	CommandTimeoutMS int    `yaml:"command_timeout_ms"`
}

type ObservabilityConfig struct {
	LogPath       string `yaml:"log_path"`
	LogLevel      string `yaml:"log_level"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogMaxAgeDays int    `yaml:"log_max_age_days"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			HomeURL:      "https://investidor10.com.br/",
			StockURL:     "https://investidor10.com.br/fiis/%s/",
			PortfolioURL: "https://investidor10.com.br/carteiras/resumo/",
		},
		Browser: BrowserConfig{
			Headless:    true,
			UserDataDir: "chrome_profile",
		},
		Timeouts: TimeoutsConfig{
			PageSeconds:          10,
			SelectorSeconds:      3,
			CellSeconds:          5,
			PortfolioWaitSeconds: 10,
		},
		Portfolio: PortfolioConfig{
			Enabled:           true,
			MaxAttempts:       3,
			RetryDelaySeconds: 2,
			WaitSelectors: []string{
				"#Ticker-tickers_wrapper > div:nth-child(3)",
				"#Ticker-tickers",
				".table-responsive table",
			},
			TableID: "Ticker-tickers",
			TableSelectors: []string{
				"#Ticker-tickers_wrapper table#Ticker-tickers",
				"#Ticker-tickers_wrapper table",
				".table-responsive table",
			},
		},
		Tables: TablesConfig{
			FallbackSelectors: slices.Clone(extractor.DefaultTableFallbacks),
		},
		Pacing: PacingConfig{PerMinute: 30, Burst: 1},
		Cache:  CacheConfig{SnapshotTTLSeconds: 30},
		Export: ExportConfig{
			Dir:     "Exports",
			Prefix:  "FIIs",
			Formats: []string{FormatXLSX},
			Rules:   export.DefaultRules(),
		},
		Storage: StorageConfig{
			Driver:           DriverSQLite,
			DSN:              "fiiscrape.db",
			CommandTimeoutMS: 5000,
		},
		Observability: ObservabilityConfig{
			LogPath:       "logs/fiiscrape.log",
			LogLevel:      "info",
			LogMaxSizeMB:  10,
			LogMaxBackups: 3,
			LogMaxAgeDays: 28,
		},
		Columns: []column.Spec{
			{Name: "Cotacao", Kind: column.Advanced, CSSSelector: "div._card.cotacao div._card-body span", ExcelFormat: column.Currency},
			{Name: "DY (12M)", Kind: column.Advanced, CSSSelector: "div._card.dy div._card-body span", ExcelFormat: column.Percentage},
			{Name: "P/VP Atual", Kind: column.Advanced, CSSSelector: "div._card.vp div._card-body span", ExcelFormat: column.Decimal},
		},
	}
}

// Output formats and storage drivers.
const (
	FormatXLSX     = "xlsx"
	FormatCSV      = "csv"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"

	DriverSQLite = "sqlite"
	DriverMSSQL  = "mssql"
	DriverNone   = "none"
)

var (
	validFormats   = map[string]bool{FormatXLSX: true, FormatCSV: true, FormatJSON: true, FormatMarkdown: true}
	validDrivers   = map[string]bool{DriverSQLite: true, DriverMSSQL: true, DriverNone: true}
	validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Site.HomeURL == "" {
		return fmt.Errorf("site.home_url is required")
	}
	if strings.Count(c.Site.StockURL, "%s") != 1 {
		return fmt.Errorf("site.stock_url must contain exactly one %%s")
	}
	if c.Portfolio.Enabled && c.Site.PortfolioURL == "" {
		return fmt.Errorf("site.portfolio_url is required when the portfolio is enabled")
	}

	if c.Timeouts.PageSeconds <= 0 {
		return fmt.Errorf("timeouts.page_seconds must be > 0")
	}
	if c.Timeouts.SelectorSeconds <= 0 {
		return fmt.Errorf("timeouts.selector_seconds must be > 0")
	}
	if c.Timeouts.CellSeconds <= 0 {
		return fmt.Errorf("timeouts.cell_seconds must be > 0")
	}
	if c.Timeouts.PortfolioWaitSeconds <= 0 {
		return fmt.Errorf("timeouts.portfolio_wait_seconds must be > 0")
	}

	if c.Portfolio.MaxAttempts <= 0 {
		return fmt.Errorf("portfolio.max_attempts must be > 0")
	}
	if c.Portfolio.RetryDelaySeconds < 0 {
		return fmt.Errorf("portfolio.retry_delay_seconds must be >= 0")
	}
	if c.Portfolio.Enabled && len(c.Portfolio.WaitSelectors) == 0 {
		return fmt.Errorf("portfolio.wait_selectors must not be empty")
	}

	if c.Pacing.PerMinute < 0 {
		return fmt.Errorf("pacing.per_minute must be >= 0")
	}
	if c.Pacing.PerMinute > 0 && c.Pacing.Burst <= 0 {
		return fmt.Errorf("pacing.burst must be > 0")
	}
	if c.Cache.SnapshotTTLSeconds < 0 {
		return fmt.Errorf("cache.snapshot_ttl_seconds must be >= 0")
	}

	if c.Export.Dir == "" {
		return fmt.Errorf("export.dir is required")
	}
	if len(c.Export.Formats) == 0 {
		return fmt.Errorf("export.formats must not be empty")
	}
	for _, f := range c.Export.Formats {
		if !validFormats[f] {
			return fmt.Errorf("export.formats: unknown format %q", f)
		}
	}
	for _, r := range c.Export.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("export.rules: %w", err)
		}
	}

	if !validDrivers[c.Storage.Driver] {
		return fmt.Errorf("storage.driver must be one of sqlite, mssql, none")
	}
	if c.Storage.Driver != DriverNone && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required")
	}
	if c.Storage.CommandTimeoutMS <= 0 {
		return fmt.Errorf("storage.command_timeout_ms must be > 0")
	}

	if !validLogLevels[c.Observability.LogLevel] {
		return fmt.Errorf("observability.log_level must be one of debug, info, warn, error")
	}

	for _, t := range c.Tickers {
		if !validTicker(t) {
			return fmt.Errorf("tickers: invalid ticker %q", t)
		}
	}
	if err := column.ValidateAll(c.Columns); err != nil {
		return fmt.Errorf("columns: %w", err)
	}
	return nil
}

func (c *Config) GetPageTimeout() time.Duration {
	return time.Duration(c.Timeouts.PageSeconds) * time.Second
}

func (c *Config) GetSelectorTimeout() time.Duration {
	return time.Duration(c.Timeouts.SelectorSeconds) * time.Second
}

func (c *Config) GetCellTimeout() time.Duration {
	return time.Duration(c.Timeouts.CellSeconds) * time.Second
}

func (c *Config) GetPortfolioWaitTimeout() time.Duration {
	return time.Duration(c.Timeouts.PortfolioWaitSeconds) * time.Second
}

func (c *Config) GetRetryDelay() time.Duration {
	return time.Duration(c.Portfolio.RetryDelaySeconds) * time.Second
}

func (c *Config) GetSnapshotTTL() time.Duration {
	return time.Duration(c.Cache.SnapshotTTLSeconds) * time.Second
}

func (c *Config) GetCommandTimeout() time.Duration {
	return time.Duration(c.Storage.CommandTimeoutMS) * time.Millisecond
}

// StockURL returns the page of one ticker.
func (c *Config) StockURL(ticker string) string {
	return fmt.Sprintf(c.Site.StockURL, strings.ToLower(ticker))
}
