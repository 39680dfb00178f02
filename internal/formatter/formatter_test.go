package formatter

import (
	"encoding/json"
	"strings"
	"testing"

	"fiiscrape/internal/record"

	"github.com/google/go-cmp/cmp"
)

func rec(kv ...string) *record.Record {
	r := record.New()
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(kv[i], kv[i+1])
	}
	return r
}

func sample() RecordSet {
	return RecordSet{
		Securities: []*record.Record{rec("Ticker", "AAAA11", "Origin", "Stock", "Cotacao", "=1+1")},
		Portfolio:  []*record.Record{rec("Ticker", "BBBB11", "Origin", "Portfolio", "Qtd", "10")},
	}
}

func TestToCSV(t *testing.T) {
	got, err := sample().ToCSV()
	if err != nil {
		t.Fatalf("ToCSV() error = %v", err)
	}
	want := "Ticker,Origin,Cotacao,Qtd\n" +
		"AAAA11,Stock,'=1+1,\n" +
		"BBBB11,Portfolio,,10\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ToCSV() mismatch (-want +got):\n%s", diff)
	}
}

func TestGuardFormula(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"=SUM(A1)", "'=SUM(A1)"},
		{"+55", "'+55"},
		{"-3,2%", "'-3,2%"},
		{"@cmd", "'@cmd"},
		{"R$ 10,00", "R$ 10,00"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := guardFormula(tt.in); got != tt.want {
			t.Errorf("guardFormula(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestToJSON(t *testing.T) {
	b, err := sample().ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}
	var got map[string][]map[string]string
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	want := map[string][]map[string]string{
		"securities": {{"Ticker": "AAAA11", "Origin": "Stock", "Cotacao": "=1+1"}},
		"portfolio":  {{"Ticker": "BBBB11", "Origin": "Portfolio", "Qtd": "10"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ToJSON() mismatch (-want +got):\n%s", diff)
	}

	empty, err := RecordSet{}.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}
	if got := string(empty); got != "{\n  \"securities\": [],\n  \"portfolio\": []\n}" {
		t.Errorf("empty ToJSON() = %q", got)
	}
}

func TestToMarkdown(t *testing.T) {
	set := RecordSet{
		Securities: []*record.Record{rec("Ticker", "AAAA11", "Origin", "Stock", "Cotacao", "R$ 1 | 2")},
	}
	got, err := set.ToMarkdown()
	if err != nil {
		t.Fatalf("ToMarkdown() error = %v", err)
	}
	want := "## Securities\n\n" +
		"| Ticker | Cotacao |\n" +
		"| --- | --- |\n" +
		"| AAAA11 | R$ 1 \\| 2 |\n" +
		"\n## Portfolio\n\nNo records.\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ToMarkdown() mismatch (-want +got):\n%s", diff)
	}
}

func TestToTextAndHTML(t *testing.T) {
	set := sample()
	text, err := set.ToText()
	if err != nil {
		t.Fatalf("ToText() error = %v", err)
	}
	for _, s := range []string{"Securities (1)", "Portfolio (1)", "AAAA11", "BBBB11"} {
		if !strings.Contains(text, s) {
			t.Errorf("ToText() missing %q in:\n%s", s, text)
		}
	}
	if strings.Contains(text, "Origin") {
		t.Errorf("ToText() should not print the Origin column:\n%s", text)
	}

	set.Securities[0].Set("Nome", "<b>x</b>")
	h, err := set.ToHTML()
	if err != nil {
		t.Fatalf("ToHTML() error = %v", err)
	}
	if !strings.Contains(h, "<td>&lt;b&gt;x&lt;/b&gt;</td>") {
		t.Errorf("ToHTML() did not escape cell text:\n%s", h)
	}
}

func TestFormat(t *testing.T) {
	for _, f := range []string{"csv", "json", "markdown", "text", "html"} {
		if _, err := Format(sample(), f); err != nil {
			t.Errorf("Format(%q) error = %v", f, err)
		}
	}
	if _, err := Format(sample(), "pdf"); err == nil {
		t.Error("Format(pdf) error = nil, want error")
	}
	if got := Extension("markdown"); got != "md" {
		t.Errorf("Extension(markdown) = %q, want md", got)
	}
}
