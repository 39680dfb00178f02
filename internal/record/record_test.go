package record

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRecordKeepsInsertionOrder(t *testing.T) {
	r := New()
	r.Set("b", "1")
	r.Set("a", "2")
	r.Set("b", "3")
	r.Set("c", "4")
	r.Delete("a")

	want := []Field{{"b", "3"}, {"c", "4"}}
	if diff := cmp.Diff(want, r.Fields()); diff != "" {
		t.Errorf("Fields() mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordJSONRoundTripPreservesOrder(t *testing.T) {
	r := FromFields(Field{"Ticker", "HGLG11"}, Field{"Cotação", "R$ 160,00"}, Field{"A", "x"})
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), `{"Ticker":"HGLG11","Cotação":"R$ 160,00","A":"x"}`; got != want {
		t.Errorf("Marshal = %s, want %s", got, want)
	}

	var back Record
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(r.Fields(), back.Fields()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestColumns(t *testing.T) {
	records := []*Record{
		FromFields(Field{"Ticker", "A"}, Field{"Origin", "Stock"}, Field{"P/VP", "1"}),
		FromFields(Field{"Ticker", "B"}, Field{"Origin", "Stock"}, Field{"Error", "boom"}),
	}
	got := Columns(records, KeyOrigin)
	want := []string{"Ticker", "P/VP", "Error"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Columns mismatch (-want +got):\n%s", diff)
	}
}
