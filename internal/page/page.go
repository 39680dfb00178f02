// Package page describes the capabilities the extraction engine needs from a
// loaded document, independent of whether a live browser or a saved HTML
// snapshot is behind it.
package page

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NotAvailable marks a value that was looked for and not found.
const NotAvailable = "N/A"

var (
	ErrNotFound          = errors.New("element not found")
	ErrScriptUnsupported = errors.New("script evaluation not supported")
	ErrUnsupportedXPath  = errors.New("unsupported xpath expression")
)

// By is a locator strategy.
type By string

const (
	ByID    By = "id"
	ByClass By = "class"
	ByCSS   By = "css"
	ByXPath By = "xpath"
	ByTag   By = "tag"
)

// Element is a handle to one node of the loaded document.
type Element interface {
	Text() (string, error)
	Visible() (bool, error)
	HTML() (string, error)
	FindAll(by By, value string) ([]Element, error)
}

// Accessor loads pages and answers queries against the current one.
type Accessor interface {
	Navigate(ctx context.Context, url string) error
	// Eval runs a JS function expression with args and returns the JSON
	// encoding of its result.
	Eval(ctx context.Context, js string, args ...any) ([]byte, error)
	Find(ctx context.Context, by By, value string) (Element, error)
	FindAll(ctx context.Context, by By, value string) ([]Element, error)
	WaitFor(ctx context.Context, by By, value string, timeout time.Duration) (Element, error)
	// HTML returns the serialized document.
	HTML(ctx context.Context) (string, error)
	Close() error
}

// CSS converts a non-xpath locator into a CSS selector.
func CSS(by By, value string) (string, error) {
	switch by {
	case ByCSS:
		return value, nil
	case ByTag:
		return value, nil
	case ByID:
		return fmt.Sprintf(`[id="%s"]`, cssQuote(value)), nil
	case ByClass:
		return fmt.Sprintf(`[class~="%s"]`, cssQuote(value)), nil
	default:
		return "", fmt.Errorf("locator %q has no css form", by)
	}
}

func cssQuote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// First returns the first element matching the locator under el.
func First(el Element, by By, value string) (Element, error) {
	found, err := el.FindAll(by, value)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, ErrNotFound
	}
	return found[0], nil
}

// VisibleOnly filters elements down to the displayed ones. Elements whose
// visibility cannot be read are treated as hidden.
func VisibleOnly(elems []Element) []Element {
	out := make([]Element, 0, len(elems))
	for _, el := range elems {
		if ok, err := el.Visible(); err == nil && ok {
			out = append(out, el)
		}
	}
	return out
}

// TrimmedText returns the element text with whitespace runs collapsed.
// Errors read as empty text.
func TrimmedText(el Element) string {
	if el == nil {
		return ""
	}
	text, err := el.Text()
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}
