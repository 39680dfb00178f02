package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"fiiscrape/internal/column"
)

var tickerPattern = regexp.MustCompile(`^[A-Z0-9]+$`)

func validTicker(t string) bool {
	return tickerPattern.MatchString(t)
}

// NormalizeTickers trims and upper-cases tickers, dropping blanks. A
// duplicate is an error.
func NormalizeTickers(in []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool, len(in))
	for _, t := range in {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if seen[t] {
			return nil, fmt.Errorf("duplicate ticker %q", t)
		}
		seen[t] = true
		out = append(out, t)
	}
	return out, nil
}

// AddTickers appends the tickers not yet configured and returns them.
func (c *Config) AddTickers(tickers ...string) ([]string, error) {
	var added []string
	for _, t := range tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || slices.Contains(c.Tickers, t) || slices.Contains(added, t) {
			continue
		}
		if !validTicker(t) {
			return nil, fmt.Errorf("%w: invalid ticker %q", ErrInvalidConfig, t)
		}
		added = append(added, t)
	}
	c.Tickers = append(c.Tickers, added...)
	return added, nil
}

// RemoveTickers drops the given tickers and returns the ones that were present.
func (c *Config) RemoveTickers(tickers ...string) []string {
	drop := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		drop[strings.ToUpper(strings.TrimSpace(t))] = true
	}
	var removed []string
	c.Tickers = slices.DeleteFunc(c.Tickers, func(t string) bool {
		if drop[t] {
			removed = append(removed, t)
			return true
		}
		return false
	})
	return removed
}

// AddColumn appends a validated column.
func (c *Config) AddColumn(spec column.Spec) error {
	specs := append(slices.Clone(c.Columns), spec)
	if err := column.ValidateAll(specs); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	c.Columns = specs
	return nil
}

// RemoveColumn deletes the column called name.
func (c *Config) RemoveColumn(name string) error {
	i := c.columnIndex(name)
	if i < 0 {
		return fmt.Errorf("column %q not found", name)
	}
	c.Columns = slices.Delete(c.Columns, i, i+1)
	return nil
}

// MoveColumn places the column called name at position pos (0-based),
// clamped to the list bounds.
func (c *Config) MoveColumn(name string, pos int) error {
	i := c.columnIndex(name)
	if i < 0 {
		return fmt.Errorf("column %q not found", name)
	}
	spec := c.Columns[i]
	c.Columns = slices.Delete(c.Columns, i, i+1)
	pos = min(max(pos, 0), len(c.Columns))
	c.Columns = slices.Insert(c.Columns, pos, spec)
	return nil
}

func (c *Config) columnIndex(name string) int {
	return slices.IndexFunc(c.Columns, func(s column.Spec) bool { return s.Name == name })
}
