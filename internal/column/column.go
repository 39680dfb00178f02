// Package column defines user-authored column specifications.
package column

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind selects how a column is located on a page.
type Kind string

const (
	// Simple columns are found by a (search class, return class) pair.
	Simple Kind = "simple"
	// Advanced columns are found by a CSS or structural selector.
	Advanced Kind = "advanced"
)

// Format is the spreadsheet presentation of a column.
type Format string

const (
	Text       Format = "text"
	Number     Format = "number"
	Currency   Format = "currency"
	Percentage Format = "percentage"
	Decimal    Format = "decimal"
)

var kindAliases = map[string]Kind{
	"simple":   Simple,
	"simples":  Simple,
	"advanced": Advanced,
	"avancado": Advanced,
	"avançado": Advanced,
}

var formatAliases = map[string]Format{
	"text":        Text,
	"texto":       Text,
	"number":      Number,
	"numero":      Number,
	"número":      Number,
	"currency":    Currency,
	"moeda":       Currency,
	"percentage":  Percentage,
	"porcentagem": Percentage,
	"decimal":     Decimal,
}

// ParseKind accepts the English names and the legacy Portuguese ones.
func ParseKind(s string) (Kind, error) {
	if k, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown column kind %q", s)
}

// ParseFormat accepts the English names and the legacy Portuguese ones.
// An empty string means Text.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Text, nil
	}
	if f, ok := formatAliases[s]; ok {
		return f, nil
	}
	return "", fmt.Errorf("unknown excel format %q", s)
}

// Numeric reports whether values of this format are parsed as numbers.
func (f Format) Numeric() bool {
	switch f {
	case Number, Currency, Percentage, Decimal:
		return true
	}
	return false
}

// UnmarshalYAML lets config files use either naming.
func (k *Kind) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// UnmarshalYAML lets config files use either naming.
func (f *Format) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseFormat(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Spec is one configured column.
type Spec struct {
	Name        string `yaml:"name"`
	Kind        Kind   `yaml:"kind"`
	SearchClass string `yaml:"search_class,omitempty"`
	ReturnClass string `yaml:"return_class,omitempty"`
	CSSSelector string `yaml:"css_selector,omitempty"`
	ExcelFormat Format `yaml:"excel_format,omitempty"`
}

// Format returns the excel format, defaulting to Text.
func (s Spec) Format() Format {
	if s.ExcelFormat == "" {
		return Text
	}
	return s.ExcelFormat
}

// Complete reports whether the kind specific fields are filled in.
func (s Spec) Complete() bool {
	switch s.Kind {
	case Simple:
		return s.SearchClass != "" && s.ReturnClass != ""
	case Advanced:
		return s.CSSSelector != ""
	}
	return false
}

var reservedNames = map[string]bool{"Ticker": true, "Origin": true, "Error": true}

// Validate checks one spec. An advanced column without a selector is
// allowed; it always resolves to N/A.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("column name is required")
	}
	if reservedNames[s.Name] {
		return fmt.Errorf("column name %q is reserved", s.Name)
	}
	switch s.Kind {
	case Simple:
		if s.SearchClass == "" || s.ReturnClass == "" {
			return fmt.Errorf("column %q: simple columns need search_class and return_class", s.Name)
		}
	case Advanced:
	default:
		return fmt.Errorf("column %q: unknown kind %q", s.Name, s.Kind)
	}
	if s.ExcelFormat != "" {
		if _, err := ParseFormat(string(s.ExcelFormat)); err != nil {
			return fmt.Errorf("column %q: %w", s.Name, err)
		}
	}
	return nil
}

// ValidateAll checks every spec and name uniqueness.
func ValidateAll(specs []Spec) error {
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return err
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate column name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// Partition splits specs by kind, keeping their relative order.
func Partition(specs []Spec) (simple, advanced []Spec) {
	for _, s := range specs {
		if s.Kind == Simple {
			simple = append(simple, s)
		} else {
			advanced = append(advanced, s)
		}
	}
	return simple, advanced
}
