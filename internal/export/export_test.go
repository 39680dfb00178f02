package export

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"fiiscrape/internal/column"
	"fiiscrape/internal/record"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in     string
		format column.Format
		want   float64
		ok     bool
	}{
		{"R$ 1.234,56", column.Currency, 1234.56, true},
		{"9,8%", column.Percentage, 0.098, true},
		{"-1,5%", column.Percentage, -0.015, true},
		{"1.234.567", column.Number, 1234567, true},
		{"0,87", column.Decimal, 0.87, true},
		{"R$ 160,61", column.Currency, 160.61, true},
		{"abc", column.Number, 0, false},
		{"N/A", column.Decimal, 0, false},
		{"", column.Currency, 0, false},
		{"NaN", column.Number, 0, false},
		{"Inf", column.Number, 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseNumber(tt.in, tt.format)
		if ok != tt.ok || (ok && !almostEqual(got, tt.want)) {
			t.Errorf("ParseNumber(%q, %s) = %v, %v, want %v, %v", tt.in, tt.format, got, ok, tt.want, tt.ok)
		}
	}
}

func almostEqual(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}

func TestBrNumber(t *testing.T) {
	tests := []struct {
		v        float64
		decimals int
		want     string
	}{
		{1234.56, 2, "1.234,56"},
		{1234567, 0, "1.234.567"},
		{-0.5, 2, "-0,50"},
		{12, 2, "12,00"},
	}
	for _, tt := range tests {
		if got := brNumber(tt.v, tt.decimals); got != tt.want {
			t.Errorf("brNumber(%v, %d) = %q, want %q", tt.v, tt.decimals, got, tt.want)
		}
	}
}

func records(key string, values ...string) []*record.Record {
	out := make([]*record.Record, len(values))
	for i, v := range values {
		out[i] = record.FromFields(record.Field{Key: key, Value: v})
	}
	return out
}

func TestBuildSheetRevertsUnparsableColumn(t *testing.T) {
	formatOf := func(string) column.Format { return column.Percentage }

	sh := BuildSheet(SheetSecurities, records("DY", "x", "y"), formatOf)
	col := sh.Columns[0]
	if col.Numeric {
		t.Fatalf("column with no numbers was typed numeric")
	}
	if diff := cmp.Diff([]any{"x", "y"}, []any{col.Cell(0), col.Cell(1)}); diff != "" {
		t.Errorf("reverted cells mismatch (-want +got):\n%s", diff)
	}

	sh = BuildSheet(SheetSecurities, records("DY", "9,8%", "N/A"), formatOf)
	col = sh.Columns[0]
	if !col.Numeric {
		t.Fatalf("column with a number stayed text")
	}
	if v, ok := col.Cell(0).(float64); !ok || !almostEqual(v, 0.098) {
		t.Errorf("Cell(0) = %v, want 0.098", col.Cell(0))
	}
	if col.Cell(1) != nil {
		t.Errorf("Cell(1) = %v, want nil", col.Cell(1))
	}
}

func TestBuildSheetDropsOriginAndStripsMarkup(t *testing.T) {
	recs := []*record.Record{
		record.FromFields(
			record.Field{Key: record.KeyTicker, Value: "ABCD11"},
			record.Field{Key: "Nome", Value: "<b>Fundo</b> &amp; Cia"},
			record.Field{Key: record.KeyOrigin, Value: "Stock"},
		),
	}
	sh := BuildSheet(SheetSecurities, recs, func(string) column.Format { return column.Text })
	var names []string
	for _, c := range sh.Columns {
		names = append(names, c.Name)
	}
	if diff := cmp.Diff([]string{"Ticker", "Nome"}, names); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
	if got := sh.Columns[1].Text[0]; got != "Fundo & Cia" {
		t.Errorf("stripped text = %q, want %q", got, "Fundo & Cia")
	}
}

func TestColumnWidth(t *testing.T) {
	tests := []struct {
		col  Column
		want float64
	}{
		{Column{Name: "A", Text: []string{"x"}}, 8},
		{Column{Name: "Ticker", Text: []string{"ABCD11"}}, 8},
		{Column{Name: "Descricao", Text: []string{"um texto bem longo"}}, 20},
		{Column{Name: "Longo", Text: []string{string(make([]byte, 80))}}, 50},
	}
	v := 1234567.0
	tests = append(tests, struct {
		col  Column
		want float64
	}{Column{Name: "Cotacao", Format: column.Currency, Numeric: true, Text: []string{"x"}, Values: []*float64{&v}}, 17})

	for _, tt := range tests {
		if got := tt.col.Width(); got != tt.want {
			t.Errorf("Width(%s) = %v, want %v", tt.col.Name, got, tt.want)
		}
	}
}

func TestNormalizeName(t *testing.T) {
	if NormalizeName("Valorização  12M") != NormalizeName("VALORIZACAO 12m") {
		t.Errorf("accent and case folding mismatch: %q vs %q",
			NormalizeName("Valorização  12M"), NormalizeName("VALORIZACAO 12m"))
	}
}

func TestWriteNothingToExport(t *testing.T) {
	x := New(Options{Dir: t.TempDir()})
	if _, err := x.Write(nil, nil); !errors.Is(err, ErrNothingToExport) {
		t.Errorf("Write(nil, nil) error = %v, want ErrNothingToExport", err)
	}
}

func TestWriteWorkbook(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	x := New(Options{
		Dir: dir,
		Now: now,
		Columns: []column.Spec{
			{Name: "Cotacao", Kind: column.Advanced, CSSSelector: "span", ExcelFormat: column.Currency},
			{Name: "P/VP Atual", Kind: column.Advanced, CSSSelector: "span", ExcelFormat: column.Decimal},
			{Name: "DIVIDENDO EM 12M", Kind: column.Advanced, CSSSelector: "span", ExcelFormat: column.Currency},
		},
		Rules: DefaultRules(),
	})

	securities := []*record.Record{
		record.FromFields(
			record.Field{Key: "Ticker", Value: "ABCD11"},
			record.Field{Key: "Cotacao", Value: "R$ 100,00"},
			record.Field{Key: "P/VP Atual", Value: "0,95"},
			record.Field{Key: "DIVIDENDO EM 12M", Value: "R$ 12,00"},
			record.Field{Key: "Origin", Value: "Stock"},
		),
		record.FromFields(
			record.Field{Key: "Ticker", Value: "EFGH11"},
			record.Field{Key: "Cotacao", Value: "N/A"},
			record.Field{Key: "P/VP Atual", Value: "1,10"},
			record.Field{Key: "DIVIDENDO EM 12M", Value: "R$ 8,00"},
			record.Field{Key: "Origin", Value: "Stock"},
		),
	}

	path, err := x.Write(securities, nil)
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if want := filepath.Join(dir, "FIIs_2024-05-01_10-30-00.xlsx"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if diff := cmp.Diff([]string{SheetSecurities}, f.GetSheetList()); diff != "" {
		t.Errorf("sheets mismatch (-want +got):\n%s", diff)
	}

	header := []string{}
	for _, cell := range []string{"A1", "B1", "C1", "D1", "E1"} {
		v, _ := f.GetCellValue(SheetSecurities, cell)
		header = append(header, v)
	}
	if diff := cmp.Diff([]string{"Ticker", "Cotacao", "P/VP Atual", "DIVIDENDO EM 12M", ""}, header); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}

	raw, _ := f.GetCellValue(SheetSecurities, "C2", excelize.Options{RawCellValue: true})
	if raw != "0.95" {
		t.Errorf("C2 raw value = %q, want 0.95", raw)
	}
	if v, _ := f.GetCellValue(SheetSecurities, "B3"); v != "" {
		t.Errorf("B3 = %q, want empty for N/A", v)
	}

	tables, err := f.GetTables(SheetSecurities)
	if err != nil || len(tables) != 1 {
		t.Fatalf("GetTables = %v, %v", tables, err)
	}
	if tables[0].Range != "A1:D3" || tables[0].StyleName != tableStyle {
		t.Errorf("table = %+v", tables[0])
	}

	formats, err := f.GetConditionalFormats(SheetSecurities)
	if err != nil {
		t.Fatal(err)
	}
	pvp := formats["C2:C3"]
	if len(pvp) != 2 || pvp[0].Type != "cell" || pvp[0].Criteria != "less than or equal to" || pvp[0].Value != "1" {
		t.Errorf("P/VP rule = %+v", pvp)
	}
	div := formats["D2:D3"]
	if len(div) != 2 || div[0].Type != "formula" || div[0].Criteria != "D2>B2*0.1" {
		t.Errorf("dividend rule = %+v", div)
	}
	if len(formats) != 2 {
		t.Errorf("got %d conditional ranges, want 2", len(formats))
	}
}

func TestWriteSkipsFormulaRuleWhenCompareColumnIsText(t *testing.T) {
	x := New(Options{
		Dir: t.TempDir(),
		Columns: []column.Spec{
			{Name: "DIVIDENDO EM 12M", Kind: column.Advanced, CSSSelector: "span", ExcelFormat: column.Currency},
		},
		Rules: DefaultRules(),
	})
	recs := []*record.Record{record.FromFields(
		record.Field{Key: "Cotacao", Value: "R$ 100,00"},
		record.Field{Key: "DIVIDENDO EM 12M", Value: "R$ 12,00"},
	)}
	path, err := x.Write(nil, recs)
	if err != nil {
		t.Fatal(err)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if diff := cmp.Diff([]string{SheetPortfolio}, f.GetSheetList()); diff != "" {
		t.Errorf("sheets mismatch (-want +got):\n%s", diff)
	}
	formats, err := f.GetConditionalFormats(SheetPortfolio)
	if err != nil {
		t.Fatal(err)
	}
	if len(formats) != 0 {
		t.Errorf("conditional formats = %v, want none", formats)
	}
}
