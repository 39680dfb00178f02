package page

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Loader returns the HTML for a URL.
type Loader func(ctx context.Context, url string) (io.ReadCloser, error)

// Static answers queries against parsed HTML. It cannot run scripts, so
// callers relying on Eval fall back to element queries.
type Static struct {
	mu   sync.RWMutex
	load Loader
	doc  *goquery.Document
	url  string
}

// NewStatic creates a Static accessor with html already loaded.
func NewStatic(htmlText string) (*Static, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlText))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return &Static{doc: doc}, nil
}

// NewStaticLoader creates a Static accessor that fetches pages through load.
func NewStaticLoader(load Loader) *Static {
	return &Static{load: load}
}

// DirLoader reads snapshots saved under dir, named by SnapshotName.
func DirLoader(dir string) Loader {
	return func(ctx context.Context, rawURL string) (io.ReadCloser, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return os.Open(filepath.Join(dir, SnapshotName(rawURL)))
	}
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SnapshotName maps a URL to a flat file name.
func SnapshotName(rawURL string) string {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		path = u.Host + u.Path
	}
	parts := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	name := unsafeNameChars.ReplaceAllString(strings.Join(parts, "_"), "_")
	if name == "" {
		name = "index"
	}
	return name + ".html"
}

func (s *Static) Navigate(ctx context.Context, rawURL string) error {
	if s.load == nil {
		return fmt.Errorf("failed to navigate to %s: no loader configured", rawURL)
	}
	rc, err := s.load(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", rawURL, err)
	}
	defer rc.Close()

	doc, err := goquery.NewDocumentFromReader(rc)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", rawURL, err)
	}

	s.mu.Lock()
	s.doc = doc
	s.url = rawURL
	s.mu.Unlock()
	return nil
}

func (s *Static) Eval(ctx context.Context, js string, args ...any) ([]byte, error) {
	return nil, ErrScriptUnsupported
}

func (s *Static) Find(ctx context.Context, by By, value string) (Element, error) {
	found, err := s.FindAll(ctx, by, value)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, ErrNotFound
	}
	return found[0], nil
}

func (s *Static) FindAll(ctx context.Context, by By, value string) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	doc := s.doc
	s.mu.RUnlock()
	if doc == nil {
		return nil, fmt.Errorf("no document loaded")
	}
	return query(doc.Selection, by, value)
}

// WaitFor does not poll: a parsed document never changes.
func (s *Static) WaitFor(ctx context.Context, by By, value string, timeout time.Duration) (Element, error) {
	return s.Find(ctx, by, value)
}

func (s *Static) HTML(ctx context.Context) (string, error) {
	s.mu.RLock()
	doc := s.doc
	s.mu.RUnlock()
	if doc == nil {
		return "", fmt.Errorf("no document loaded")
	}
	return doc.Html()
}

// URL returns the address of the loaded document.
func (s *Static) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.url
}

func (s *Static) Close() error {
	return nil
}

func query(root *goquery.Selection, by By, value string) ([]Element, error) {
	var (
		sel string
		err error
	)
	if by == ByXPath {
		sel, err = xpathToCSS(value)
	} else {
		sel, err = CSS(by, value)
	}
	if err != nil {
		return nil, err
	}
	matcher, err := cascadia.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", value, err)
	}

	found := root.FindMatcher(matcher)
	elems := make([]Element, 0, found.Length())
	found.Each(func(_ int, s *goquery.Selection) {
		elems = append(elems, staticElement{sel: s})
	})
	return elems, nil
}

type staticElement struct {
	sel *goquery.Selection
}

func (e staticElement) Text() (string, error) {
	return strings.TrimSpace(e.sel.Text()), nil
}

func (e staticElement) Visible() (bool, error) {
	for _, n := range e.sel.Nodes {
		for cur := n; cur != nil; cur = cur.Parent {
			if cur.Type == html.ElementNode && hiddenNode(cur) {
				return false, nil
			}
		}
	}
	return true, nil
}

func (e staticElement) HTML() (string, error) {
	return goquery.OuterHtml(e.sel)
}

func (e staticElement) FindAll(by By, value string) ([]Element, error) {
	return query(e.sel, by, value)
}

func hiddenNode(n *html.Node) bool {
	if n.Data == "input" && attr(n, "type") == "hidden" {
		return true
	}
	for _, a := range n.Attr {
		switch a.Key {
		case "hidden":
			return true
		case "style":
			style := strings.ToLower(strings.Join(strings.Fields(a.Val), ""))
			if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
				return true
			}
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
