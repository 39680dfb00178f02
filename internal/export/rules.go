package export

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Highlight names one of the two conditional styles.
type Highlight string

const (
	Favorable   Highlight = "favorable"
	Unfavorable Highlight = "unfavorable"
)

// Condition highlights a cell when "cell Op Value" holds. In a rule with
// Against set, the right-hand side is the other column times the factor.
type Condition struct {
	Op        string    `yaml:"op"`
	Value     float64   `yaml:"value,omitempty"`
	Highlight Highlight `yaml:"highlight"`
}

// Rule is the conditional formatting of one named column.
type Rule struct {
	Column     string      `yaml:"column"`
	Against    string      `yaml:"against,omitempty"`
	Factor     float64     `yaml:"factor,omitempty"`
	Conditions []Condition `yaml:"conditions"`
}

var validOps = map[string]bool{">": true, ">=": true, "<": true, "<=": true, "=": true}

// Validate checks a rule.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Column) == "" {
		return fmt.Errorf("rule column is required")
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("rule %q has no conditions", r.Column)
	}
	for _, c := range r.Conditions {
		if !validOps[c.Op] {
			return fmt.Errorf("rule %q: invalid operator %q", r.Column, c.Op)
		}
		if c.Highlight != Favorable && c.Highlight != Unfavorable {
			return fmt.Errorf("rule %q: invalid highlight %q", r.Column, c.Highlight)
		}
	}
	return nil
}

func (r Rule) factor() float64 {
	if r.Factor == 0 {
		return 1
	}
	return r.Factor
}

// DefaultRules are the highlight thresholds for the standard FII indicators.
func DefaultRules() []Rule {
	split := func(col string, op string, v float64, good Highlight, elseOp string) Rule {
		bad := Unfavorable
		if good == Unfavorable {
			bad = Favorable
		}
		return Rule{Column: col, Conditions: []Condition{
			{Op: op, Value: v, Highlight: good},
			{Op: elseOp, Value: v, Highlight: bad},
		}}
	}
	return []Rule{
		split("P/VP Atual", "<=", 1, Favorable, ">"),
		split("DY ATUAL", ">", 0.01, Favorable, "<"),
		split("DY (12M)", ">=", 0.10, Favorable, "<"),
		split("VALORIZAÇÃO 12M", ">=", 0.10, Favorable, "<"),
		split("Rentabilidade 1 mes", ">=", 0.01, Favorable, "<"),
		split("Rentabilidade 1 ano", ">=", 0.10, Favorable, "<"),
		split("Vacancia", ">=", 0.02, Unfavorable, "<"),
		{
			Column:  "DIVIDENDO EM 12M",
			Against: "Cotacao",
			Factor:  0.1,
			Conditions: []Condition{
				{Op: ">", Highlight: Favorable},
				{Op: "<=", Highlight: Unfavorable},
			},
		},
	}
}

// NormalizeName folds case, accents and spacing so "Valorização 12M" and
// "VALORIZACAO  12m" compare equal.
func NormalizeName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.Join(strings.Fields(folded), " "))
}
