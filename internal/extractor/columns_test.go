package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"fiiscrape/internal/column"
	"fiiscrape/internal/page"
	"fiiscrape/internal/record"

	"github.com/google/go-cmp/cmp"
)

const fundPage = `<html><body>
<div class="_card"><div class="_card-header">Cotação</div><div class="_card-body"><span></span></div></div>
<div class="_card"><div class="_card-header">P/VP</div><div class="_card-body"><span class="value">0,95</span></div></div>
<div class="cell"><span class="name">Liquidez Diária</span><div class="desc"><span class="value">R$ 9,1 M</span></div></div>
<div id="cotacao"><span class="value">R$ 160,10</span></div>
<table id="table-indicators"><tbody>
  <tr><td>DY</td><td>9,8%</td></tr>
  <tr><td>Vacância</td><td>1,2%</td></tr>
</tbody></table>
</body></html>`

var fundSpecs = []column.Spec{
	{Name: "P/VP", Kind: column.Simple, SearchClass: "_card", ReturnClass: "value"},
	{Name: "Cotacao", Kind: column.Advanced, CSSSelector: "#cotacao .value", ExcelFormat: column.Currency},
	{Name: "Liquidez", Kind: column.Simple, SearchClass: "desc", ReturnClass: "value"},
	{Name: "Vacancia", Kind: column.Advanced, CSSSelector: "#table-indicators > tbody > tr:nth-child(2) > td:nth-child(2)"},
	{Name: "Setor", Kind: column.Advanced, CSSSelector: "#setor"},
	{Name: "Vazio", Kind: column.Advanced},
	{Name: "Incompleta", Kind: column.Simple, SearchClass: "_card"},
}

func TestExtractColumnsWithoutScripts(t *testing.T) {
	rec := record.New()
	rec.Set(record.KeyTicker, "HGLG11")
	New(newStatic(t, fundPage)).ExtractColumns(context.Background(), fundSpecs, rec)

	want := []record.Field{
		{Key: "Ticker", Value: "HGLG11"},
		{Key: "P/VP", Value: "0,95"},
		{Key: "Cotacao", Value: "R$ 160,10"},
		{Key: "Liquidez", Value: "R$ 9,1 M"},
		{Key: "Vacancia", Value: "1,2%"},
		{Key: "Setor", Value: page.NotAvailable},
		{Key: "Vazio", Value: page.NotAvailable},
		{Key: "Incompleta", Value: page.NotAvailable},
	}
	if diff := cmp.Diff(want, rec.Fields()); diff != "" {
		t.Errorf("ExtractColumns mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractColumnsBatchScript(t *testing.T) {
	var batched []string
	sp := &scriptedPage{
		Static: newStatic(t, fundPage),
		eval: func(js string, args ...any) ([]byte, error) {
			if sels, ok := args[0].([]string); ok {
				batched = sels
				// The position selector is missing from the answer and the
				// id selector came back N/A.
				return json.Marshal(map[string]string{
					"#cotacao .value": "R$ 160,10",
					"#setor":          "N/A",
				})
			}
			t.Errorf("unexpected single-selector script for %v", args)
			return nil, errors.New("unexpected")
		},
	}

	rec := record.New()
	New(sp).ExtractColumns(context.Background(), fundSpecs[:5], rec)

	if sp.evals != 1 {
		t.Errorf("Eval called %d times, want 1", sp.evals)
	}
	if len(batched) != 3 {
		t.Errorf("batched %d selectors, want 3", len(batched))
	}
	if v, _ := rec.Get("Vacancia"); v != "1,2%" {
		t.Errorf("Vacancia = %q, want %q", v, "1,2%")
	}
	if v, _ := rec.Get("Setor"); v != page.NotAvailable {
		t.Errorf("Setor = %q, want N/A", v)
	}
}

func TestExtractColumnsBatchFailureIsolated(t *testing.T) {
	sp := &scriptedPage{
		Static: newStatic(t, fundPage),
		eval: func(js string, args ...any) ([]byte, error) {
			return nil, errors.New("Execution context was destroyed")
		},
	}

	rec := record.New()
	New(sp).ExtractColumns(context.Background(), fundSpecs, rec)

	checks := map[string]string{
		"P/VP":       "0,95",
		"Cotacao":    "R$ 160,10",
		"Vazio":      MsgNoSelector,
		"Incompleta": MsgIncompleteSimple,
		"Setor":      page.NotAvailable,
	}
	for name, want := range checks {
		if got, _ := rec.Get(name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
	if rec.Len() != len(fundSpecs) {
		t.Errorf("record has %d fields, want %d", rec.Len(), len(fundSpecs))
	}
}
