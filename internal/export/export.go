// Package export renders record sets into a formatted xlsx workbook.
package export

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"fiiscrape/internal/column"
	"fiiscrape/internal/record"

	"github.com/xuri/excelize/v2"
)

const (
	SheetSecurities = "Securities"
	SheetPortfolio  = "Portfolio"

	tableStyle   = "TableStyleMedium15"
	stampLayout  = "2006-01-02_15-04-05"
	defaultSheet = "Sheet1"

	favorableFill   = "#228B22"
	unfavorableFill = "#C00000"
)

// ErrNothingToExport is returned when both record sets are empty.
var ErrNothingToExport = errors.New("no data to export")

// SheetError reports which part of a sheet failed to render.
type SheetError struct {
	Sheet     string
	Component string
	Err       error
}

func (e *SheetError) Error() string {
	return fmt.Sprintf("sheet %s: failed to write %s: %v", e.Sheet, e.Component, e.Err)
}

func (e *SheetError) Unwrap() error {
	return e.Err
}

var numFmts = map[column.Format]int{
	column.Text:       49, // @
	column.Number:     3,  // #,##0
	column.Decimal:    4,  // #,##0.00
	column.Percentage: 10, // 0.00%
}

const currencyFmt = `"R$ "#,##0.00`

// Options configures an Exporter.
type Options struct {
	Dir     string
	Prefix  string
	Columns []column.Spec
	Rules   []Rule
	Now     time.Time
	Logger  *slog.Logger
}

// Exporter writes one workbook per run.
type Exporter struct {
	opts    Options
	formats map[string]column.Format
	log     *slog.Logger
}

// New creates an Exporter. A zero Now means time.Now.
func New(opts Options) *Exporter {
	if opts.Dir == "" {
		opts.Dir = "Exports"
	}
	if opts.Prefix == "" {
		opts.Prefix = "FIIs"
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	x := &Exporter{opts: opts, formats: make(map[string]column.Format), log: opts.Logger}
	if x.log == nil {
		x.log = slog.Default()
	}
	for _, s := range opts.Columns {
		x.formats[NormalizeName(s.Name)] = s.Format()
	}
	return x
}

// Stem is the file name without extension, e.g. FIIs_2024-05-01_10-00-00.
func (x *Exporter) Stem() string {
	return x.opts.Prefix + "_" + x.opts.Now.Format(stampLayout)
}

// Path returns where a rendering with extension ext is written.
func (x *Exporter) Path(ext string) string {
	return filepath.Join(x.opts.Dir, x.Stem()+"."+ext)
}

// FormatOf returns the configured format of a column, Text when unknown.
func (x *Exporter) FormatOf(name string) column.Format {
	if f, ok := x.formats[NormalizeName(name)]; ok {
		return f
	}
	return column.Text
}

// Sheets types the non-empty record sets.
func (x *Exporter) Sheets(securities, portfolio []*record.Record) []*Sheet {
	var sheets []*Sheet
	if len(securities) > 0 {
		sheets = append(sheets, BuildSheet(SheetSecurities, securities, x.FormatOf))
	}
	if len(portfolio) > 0 {
		sheets = append(sheets, BuildSheet(SheetPortfolio, portfolio, x.FormatOf))
	}
	return sheets
}

// Write renders the workbook and returns its path.
func (x *Exporter) Write(securities, portfolio []*record.Record) (string, error) {
	sheets := x.Sheets(securities, portfolio)
	if len(sheets) == 0 {
		return "", ErrNothingToExport
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			x.log.Warn("failed to close workbook", "error", err)
		}
	}()

	st, err := newStyles(f)
	if err != nil {
		return "", fmt.Errorf("failed to create styles: %w", err)
	}

	for i, sh := range sheets {
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, sh.Name); err != nil {
				return "", &SheetError{Sheet: sh.Name, Component: "name", Err: err}
			}
		} else if _, err := f.NewSheet(sh.Name); err != nil {
			return "", &SheetError{Sheet: sh.Name, Component: "name", Err: err}
		}
		if err := writeSheet(f, sh, st, x.opts.Rules); err != nil {
			return "", err
		}
	}

	if err := os.MkdirAll(x.opts.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export dir: %w", err)
	}
	path := x.Path("xlsx")
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save workbook: %w", err)
	}
	x.log.Info("workbook written", "path", path, "sheets", len(sheets))
	return path, nil
}

type styles struct {
	header      int
	cells       map[column.Format]int
	favorable   int
	unfavorable int
}

func newStyles(f *excelize.File) (*styles, error) {
	center := &excelize.Alignment{Horizontal: "center", Vertical: "center"}
	st := &styles{cells: make(map[column.Format]int)}

	var err error
	if st.header, err = f.NewStyle(&excelize.Style{Alignment: center, Font: &excelize.Font{Bold: true}}); err != nil {
		return nil, err
	}
	for format, id := range numFmts {
		if st.cells[format], err = f.NewStyle(&excelize.Style{NumFmt: id, Alignment: center}); err != nil {
			return nil, err
		}
	}
	custom := currencyFmt
	if st.cells[column.Currency], err = f.NewStyle(&excelize.Style{CustomNumFmt: &custom, Alignment: center}); err != nil {
		return nil, err
	}

	highlight := func(fill string) (int, error) {
		return f.NewConditionalStyle(&excelize.Style{
			Font: &excelize.Font{Bold: true, Color: "#FFFFFF"},
			Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{fill}},
		})
	}
	if st.favorable, err = highlight(favorableFill); err != nil {
		return nil, err
	}
	if st.unfavorable, err = highlight(unfavorableFill); err != nil {
		return nil, err
	}
	return st, nil
}

func writeSheet(f *excelize.File, sh *Sheet, st *styles, rules []Rule) error {
	header := make([]any, len(sh.Columns))
	for i, c := range sh.Columns {
		header[i] = c.Name
	}
	if err := f.SetSheetRow(sh.Name, "A1", &header); err != nil {
		return &SheetError{Sheet: sh.Name, Component: "header", Err: err}
	}

	for r := 0; r < sh.Rows; r++ {
		row := make([]any, len(sh.Columns))
		for i, c := range sh.Columns {
			row[i] = c.Cell(r)
		}
		cell, _ := excelize.CoordinatesToCellName(1, r+2)
		if err := f.SetSheetRow(sh.Name, cell, &row); err != nil {
			return &SheetError{Sheet: sh.Name, Component: "row " + strconv.Itoa(r+2), Err: err}
		}
	}

	last := len(sh.Columns)
	lastRow := sh.Rows + 1
	topRight, _ := excelize.CoordinatesToCellName(last, 1)
	if err := f.SetCellStyle(sh.Name, "A1", topRight, st.header); err != nil {
		return &SheetError{Sheet: sh.Name, Component: "header style", Err: err}
	}

	for i, c := range sh.Columns {
		name, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetCellStyle(sh.Name, name+"2", name+strconv.Itoa(lastRow), st.cells[c.Format]); err != nil {
			return &SheetError{Sheet: sh.Name, Component: "style of " + c.Name, Err: err}
		}
		if err := f.SetColWidth(sh.Name, name, name, c.Width()); err != nil {
			return &SheetError{Sheet: sh.Name, Component: "width of " + c.Name, Err: err}
		}
	}

	bottomRight, _ := excelize.CoordinatesToCellName(last, lastRow)
	stripes := true
	if err := f.AddTable(sh.Name, &excelize.Table{
		Range:          "A1:" + bottomRight,
		Name:           sh.Name,
		StyleName:      tableStyle,
		ShowRowStripes: &stripes,
	}); err != nil {
		return &SheetError{Sheet: sh.Name, Component: "table", Err: err}
	}

	return applyRules(f, sh, st, rules)
}

// applyRules adds the conditional formats of every rule whose columns are
// present and numeric.
func applyRules(f *excelize.File, sh *Sheet, st *styles, rules []Rule) error {
	letters := make(map[string]string)
	for i, c := range sh.Columns {
		if c.Numeric {
			letters[NormalizeName(c.Name)], _ = excelize.ColumnNumberToName(i + 1)
		}
	}

	for _, rule := range rules {
		letter, ok := letters[NormalizeName(rule.Column)]
		if !ok {
			continue
		}
		against := ""
		if rule.Against != "" {
			if against, ok = letters[NormalizeName(rule.Against)]; !ok {
				continue
			}
		}

		opts := make([]excelize.ConditionalFormatOptions, 0, len(rule.Conditions))
		for _, c := range rule.Conditions {
			style := st.favorable
			if c.Highlight == Unfavorable {
				style = st.unfavorable
			}
			if against != "" {
				opts = append(opts, excelize.ConditionalFormatOptions{
					Type:     "formula",
					Criteria: fmt.Sprintf("%s2%s%s2*%s", letter, c.Op, against, formatFloat(rule.factor())),
					Format:   &style,
				})
				continue
			}
			opts = append(opts, excelize.ConditionalFormatOptions{
				Type:     "cell",
				Criteria: c.Op,
				Value:    formatFloat(c.Value),
				Format:   &style,
			})
		}

		ref := fmt.Sprintf("%s2:%s%d", letter, letter, sh.Rows+1)
		if err := f.SetConditionalFormat(sh.Name, ref, opts); err != nil {
			return &SheetError{Sheet: sh.Name, Component: "rule for " + rule.Column, Err: err}
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
