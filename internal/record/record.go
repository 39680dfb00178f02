// Package record holds the flat key/value rows produced by extraction.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Synthetic keys added by the orchestrator.
const (
	KeyTicker = "Ticker"
	KeyOrigin = "Origin"
	KeyError  = "Error"
)

// Origin tags which phase produced a record.
type Origin string

const (
	OriginStock     Origin = "Stock"
	OriginPortfolio Origin = "Portfolio"
)

// Field is one key/value pair of a Record.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Record is a string map that remembers insertion order.
type Record struct {
	keys   []string
	values map[string]string
}

// New returns an empty record.
func New() *Record {
	return &Record{values: make(map[string]string)}
}

// FromFields builds a record from ordered pairs. Later duplicates overwrite
// earlier values but keep the first position.
func FromFields(fields ...Field) *Record {
	r := New()
	for _, f := range fields {
		r.Set(f.Key, f.Value)
	}
	return r
}

// Set stores value under key.
func (r *Record) Set(key, value string) {
	if r.values == nil {
		r.values = make(map[string]string)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns the value stored under key.
func (r *Record) Get(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Delete removes key.
func (r *Record) Delete(key string) {
	if _, ok := r.values[key]; !ok {
		return
	}
	delete(r.values, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i:i], r.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (r *Record) Keys() []string {
	return append([]string(nil), r.keys...)
}

func (r *Record) Len() int {
	return len(r.keys)
}

// Fields returns the pairs in insertion order.
func (r *Record) Fields() []Field {
	out := make([]Field, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, Field{Key: k, Value: r.values[k]})
	}
	return out
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	return FromFields(r.Fields()...)
}

// Origin returns the origin tag, if any.
func (r *Record) Origin() Origin {
	return Origin(r.values[KeyOrigin])
}

// MarshalJSON encodes the record as an object with keys in insertion order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object, keeping the key order of the input.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("record: expected object, got %v", tok)
	}
	*r = Record{values: make(map[string]string)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("record: expected key, got %v", tok)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("record: value of %q: %w", key, err)
		}
		r.Set(key, value)
	}
	_, err = dec.Token()
	return err
}

// Columns returns the union of keys across records in first-seen order,
// leaving out the given keys.
func Columns(records []*Record, exclude ...string) []string {
	skip := make(map[string]bool, len(exclude))
	for _, k := range exclude {
		skip[k] = true
	}
	seen := make(map[string]bool)
	var cols []string
	for _, r := range records {
		for _, k := range r.keys {
			if skip[k] || seen[k] {
				continue
			}
			seen[k] = true
			cols = append(cols, k)
		}
	}
	return cols
}

// Tag sets the origin on every record.
func Tag(records []*Record, origin Origin) {
	for _, r := range records {
		r.Set(KeyOrigin, string(origin))
	}
}
