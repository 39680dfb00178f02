package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dimchansky/utfbom"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment overrides applied by ApplyEnv.
const (
	EnvProxy    = "FIISCRAPE_PROXY"
	EnvHeadless = "FIISCRAPE_HEADLESS"
	EnvLogLevel = "FIISCRAPE_LOG_LEVEL"
	EnvDBDSN    = "FIISCRAPE_DB_DSN"
)

// LoadConfig reads path over the defaults. A missing file yields the
// defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close config file", "path", path, "error", err)
		}
	}()

	decoder := yaml.NewDecoder(utfbom.SkipOnly(file))
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Tickers, err = NormalizeTickers(cfg.Tickers)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv reads .env style files into the process environment. Missing
// files are ignored.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides settings from FIISCRAPE_* variables. It is kept apart
// from LoadConfig so commands that save the file do not persist them.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvProxy); ok {
		c.Browser.Proxy = v
	}
	if v, ok := os.LookupEnv(EnvHeadless); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvHeadless, err)
		}
		c.Browser.Headless = b
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		c.Observability.LogLevel = v
	}
	if v, ok := os.LookupEnv(EnvDBDSN); ok {
		c.Storage.DSN = v
	}
	return c.Validate()
}

// Save writes cfg as YAML, creating the parent directory.
func Save(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
