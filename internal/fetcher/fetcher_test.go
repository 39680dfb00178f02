package fetcher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fiiscrape/internal/page"
)

func sitePages(pages map[string]string) *page.Static {
	return page.NewStaticLoader(func(ctx context.Context, url string) (io.ReadCloser, error) {
		body, ok := pages[url]
		if !ok {
			return nil, os.ErrNotExist
		}
		return io.NopCloser(strings.NewReader(body)), nil
	})
}

func TestFetchWaitsForElement(t *testing.T) {
	p := sitePages(map[string]string{
		"https://x.test/a": `<body><div id="ready">ok</div></body>`,
		"https://x.test/b": `<body><p>still loading</p></body>`,
	})
	f := New(p)
	ctx := context.Background()

	if _, err := f.Fetch(ctx, Request{URL: "https://x.test/a", Wait: WaitStrategyElement, Target: "#ready"}); err != nil {
		t.Errorf("Fetch(a) error: %v", err)
	}
	if _, err := f.Fetch(ctx, Request{URL: "https://x.test/b", Wait: WaitStrategyElement, Target: "#ready"}); err == nil {
		t.Errorf("Fetch(b) succeeded without the wait target")
	}
	if _, err := f.Fetch(ctx, Request{URL: "https://x.test/missing"}); err == nil {
		t.Errorf("Fetch(missing) succeeded")
	}
	if _, err := f.Fetch(ctx, Request{URL: "https://x.test/a", Wait: WaitStrategyTime, Target: "soon"}); err == nil {
		t.Errorf("Fetch with bad time target succeeded")
	}
}

func TestFetchSavesSnapshot(t *testing.T) {
	dir := t.TempDir()
	p := sitePages(map[string]string{
		"https://x.test/fiis/abcd11/": `<body><span class="v">1</span></body>`,
	})
	f := New(p, WithSnapshotDir(dir), WithRate(600, 2))

	if _, err := f.Fetch(context.Background(), Request{URL: "https://x.test/fiis/abcd11/", Snapshot: true}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "x.test_fiis_abcd11.html"))
	if err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}
	if !strings.Contains(string(data), `<span class="v">1</span>`) {
		t.Errorf("snapshot content = %q", data)
	}

	replay := page.NewStaticLoader(page.DirLoader(dir))
	if err := replay.Navigate(context.Background(), "https://x.test/fiis/abcd11/"); err != nil {
		t.Errorf("replaying snapshot failed: %v", err)
	}
}

func TestParseWaitStrategy(t *testing.T) {
	for _, s := range []string{"load", "element", "time"} {
		if _, err := ParseWaitStrategy(s); err != nil {
			t.Errorf("ParseWaitStrategy(%q) error: %v", s, err)
		}
	}
	if _, err := ParseWaitStrategy("idle"); err == nil {
		t.Errorf("ParseWaitStrategy(idle) accepted")
	}
}
