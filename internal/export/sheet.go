package export

import (
	"html"
	"strings"
	"unicode/utf8"

	"fiiscrape/internal/column"
	"fiiscrape/internal/record"

	"github.com/microcosm-cc/bluemonday"
)

const (
	minWidth    = 8
	maxWidth    = 50
	widthMargin = 2
)

var strict = bluemonday.StrictPolicy()

// Column is one typed column of a sheet.
type Column struct {
	Name    string
	Format  column.Format
	Numeric bool
	Text    []string
	Values  []*float64
}

// Width is the display width in characters, clamped to [8, 50].
func (c *Column) Width() float64 {
	w := utf8.RuneCountInString(c.Name)
	for i := range c.Text {
		var s string
		if c.Numeric {
			if c.Values[i] != nil {
				s = display(*c.Values[i], c.Format)
			}
		} else {
			s = c.Text[i]
		}
		if n := utf8.RuneCountInString(s); n > w {
			w = n
		}
	}
	w += widthMargin
	return float64(min(max(w, minWidth), maxWidth))
}

// Cell returns the value written at row i.
func (c *Column) Cell(i int) any {
	if !c.Numeric {
		return c.Text[i]
	}
	if c.Values[i] == nil {
		return nil
	}
	return *c.Values[i]
}

// Sheet is a record set typed for the workbook.
type Sheet struct {
	Name    string
	Columns []*Column
	Rows    int
}

// BuildSheet types the columns of records. formatOf returns the configured
// format for a column name.
func BuildSheet(name string, records []*record.Record, formatOf func(string) column.Format) *Sheet {
	sh := &Sheet{Name: name, Rows: len(records)}
	for _, key := range record.Columns(records, record.KeyOrigin) {
		col := &Column{Name: key, Format: formatOf(key), Text: make([]string, len(records))}
		for i, r := range records {
			v, _ := r.Get(key)
			col.Text[i] = stripMarkup(v)
		}
		if col.Format.Numeric() {
			typeColumn(col)
		}
		if !col.Numeric {
			col.Format = column.Text
		}
		sh.Columns = append(sh.Columns, col)
	}
	return sh
}

// typeColumn parses every cell. A column without a single number stays text.
func typeColumn(col *Column) {
	values := make([]*float64, len(col.Text))
	parsed := 0
	for i, s := range col.Text {
		if v, ok := ParseNumber(s, col.Format); ok {
			values[i] = &v
			parsed++
		}
	}
	if parsed == 0 {
		return
	}
	col.Values = values
	col.Numeric = true
}

func stripMarkup(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}
