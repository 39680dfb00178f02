package app

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"fiiscrape/internal/column"
	"fiiscrape/internal/config"
	"fiiscrape/internal/page"
	"fiiscrape/internal/record"

	"github.com/google/go-cmp/cmp"
)

const portfolioHTML = `<html><body>
<div id="Ticker-tickers_wrapper">
  <table id="Ticker-tickers">
    <thead><tr><th>Ativo</th><th>Quantidade</th></tr></thead>
    <tbody>
      <tr><td>MXRF11</td><td>100</td></tr>
      <tr><td>HGLG11</td><td>5</td></tr>
    </tbody>
  </table>
</div>
</body></html>`

func stockHTML(price string) string {
	return `<html><body><div class="cotacao"><span class="v">` + price + `</span></div></body></html>`
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Site.StockURL = "https://site.test/fiis/%s/"
	cfg.Site.PortfolioURL = "https://site.test/carteiras/resumo/"
	cfg.Pacing.PerMinute = 0
	return cfg
}

// site serves fixed pages and remembers every url requested.
type site struct {
	mu      sync.Mutex
	pages   map[string]string
	visited []string
}

func (s *site) load(ctx context.Context, url string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visited = append(s.visited, url)
	body, ok := s.pages[url]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

// flakyPage fails the first navigations with err.
type flakyPage struct {
	*page.Static
	failures int
	err      error
}

func (f *flakyPage) Navigate(ctx context.Context, url string) error {
	if f.failures > 0 {
		f.failures--
		return f.err
	}
	return f.Static.Navigate(ctx, url)
}

// panicPage blows up when a script is evaluated.
type panicPage struct {
	*page.Static
}

func (panicPage) Eval(ctx context.Context, js string, args ...any) ([]byte, error) {
	panic("boom")
}

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func launcherOf(p page.Accessor, launches *int) Launcher {
	return func(ctx context.Context) (page.Accessor, error) {
		*launches++
		return p, nil
	}
}

func TestPortfolioRetriesUntilNavigationSucceeds(t *testing.T) {
	cfg := testConfig()
	s := &site{pages: map[string]string{cfg.Site.PortfolioURL: portfolioHTML}}
	p := &flakyPage{Static: page.NewStaticLoader(s.load), failures: 2, err: errors.New("net::ERR_CONNECTION_RESET")}
	sleeper := &sleepRecorder{}
	launches := 0
	var statuses []Status

	o := NewOrchestrator(cfg, launcherOf(p, &launches),
		WithSleep(sleeper.sleep),
		WithStatus(func(st Status) { statuses = append(statuses, st) }),
	)
	res, err := o.Run(context.Background(), Job{})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if diff := cmp.Diff([]time.Duration{2 * time.Second, 4 * time.Second}, sleeper.delays); diff != "" {
		t.Errorf("retry delays mismatch (-want +got):\n%s", diff)
	}
	if launches != 1 {
		t.Errorf("launches = %d, want 1 for non crash failures", launches)
	}
	if len(s.visited) != 1 {
		t.Errorf("successful navigations = %d, want 1 after two failures", len(s.visited))
	}

	want := [][]record.Field{
		{{Key: "Ativo", Value: "MXRF11"}, {Key: "Quantidade", Value: "100"}, {Key: "Origin", Value: "Portfolio"}},
		{{Key: "Ativo", Value: "HGLG11"}, {Key: "Quantidade", Value: "5"}, {Key: "Origin", Value: "Portfolio"}},
	}
	var got [][]record.Field
	for _, r := range res.Portfolio {
		got = append(got, r.Fields())
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("portfolio mismatch (-want +got):\n%s", diff)
	}

	last := 0
	for _, st := range statuses {
		if st.Progress == nil {
			continue
		}
		if *st.Progress < last {
			t.Errorf("progress went back from %d to %d at %q", last, *st.Progress, st.Message)
		}
		last = *st.Progress
	}
	if last != 100 {
		t.Errorf("final progress = %d, want 100", last)
	}
}

func TestPortfolioGivesUpWithEmptyResult(t *testing.T) {
	cfg := testConfig()
	s := &site{pages: map[string]string{cfg.Site.PortfolioURL: `<html><body><p>login required</p></body></html>`}}
	sleeper := &sleepRecorder{}
	launches := 0

	o := NewOrchestrator(cfg, launcherOf(page.NewStaticLoader(s.load), &launches), WithSleep(sleeper.sleep))
	res, err := o.Run(context.Background(), Job{})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(res.Portfolio) != 0 {
		t.Errorf("portfolio = %d records, want none", len(res.Portfolio))
	}
	if len(s.visited) != 3 {
		t.Errorf("portfolio navigations = %d, want 3", len(s.visited))
	}
}

func TestPortfolioCrashRelaunchesBrowser(t *testing.T) {
	cfg := testConfig()
	s := &site{pages: map[string]string{cfg.Site.PortfolioURL: portfolioHTML}}
	crashed := &flakyPage{Static: page.NewStaticLoader(s.load), failures: 1, err: errors.New("websocket: close 1006 (abnormal closure)")}
	fresh := page.NewStaticLoader(s.load)

	launches, sessions := 0, 0
	launch := func(ctx context.Context) (page.Accessor, error) {
		launches++
		if launches == 1 {
			return crashed, nil
		}
		return fresh, nil
	}
	session := func(ctx context.Context, p page.Accessor) error {
		sessions++
		return nil
	}

	o := NewOrchestrator(cfg, launch, WithSession(session), WithSleep((&sleepRecorder{}).sleep))
	res, err := o.Run(context.Background(), Job{})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if launches != 2 || sessions != 2 {
		t.Errorf("launches, sessions = %d, %d, want 2, 2", launches, sessions)
	}
	if len(res.Portfolio) != 2 {
		t.Errorf("portfolio = %d records, want 2", len(res.Portfolio))
	}
}

// closeCounter counts Close calls on a static page.
type closeCounter struct {
	*flakyPage
	closes int
}

func (c *closeCounter) Close() error {
	c.closes++
	return c.flakyPage.Close()
}

func TestPortfolioFailedRelaunchKeepsPage(t *testing.T) {
	cfg := testConfig()
	s := &site{pages: map[string]string{cfg.Site.PortfolioURL: portfolioHTML}}
	crash := errors.New("websocket: close 1006 (abnormal closure)")
	crashed := &closeCounter{flakyPage: &flakyPage{Static: page.NewStaticLoader(s.load), failures: 1, err: crash}}

	launches := 0
	launch := func(ctx context.Context) (page.Accessor, error) {
		launches++
		if launches == 1 {
			return crashed, nil
		}
		return nil, errors.New("chrome not found")
	}

	o := NewOrchestrator(cfg, launch, WithSleep((&sleepRecorder{}).sleep))
	res, err := o.Run(context.Background(), Job{})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if launches != 2 {
		t.Errorf("launches = %d, want 2", launches)
	}
	if crashed.closes != 1 {
		t.Errorf("crashed page closed %d times, want 1", crashed.closes)
	}
	// The old page recovers on the next attempt.
	if len(res.Portfolio) != 2 {
		t.Errorf("portfolio = %d records, want 2", len(res.Portfolio))
	}
}

func TestCancellationKeepsPartialSecurities(t *testing.T) {
	cfg := testConfig()
	s := &site{pages: map[string]string{
		"https://site.test/fiis/aaaa11/": stockHTML("R$ 10,00"),
		"https://site.test/fiis/bbbb11/": stockHTML("R$ 20,00"),
		"https://site.test/fiis/cccc11/": stockHTML("R$ 30,00"),
	}}
	launches := 0
	c := &Canceller{}

	o := NewOrchestrator(cfg, launcherOf(page.NewStaticLoader(s.load), &launches),
		WithCanceller(c),
		WithStatus(func(st Status) {
			if st.Message == "Extracted AAAA11" {
				c.Cancel()
			}
		}),
	)
	res, err := o.Run(context.Background(), Job{
		Tickers: []string{"AAAA11", "BBBB11", "CCCC11"},
		Columns: []column.Spec{{Name: "Cotacao", Kind: column.Advanced, CSSSelector: "div.cotacao span.v", ExcelFormat: column.Currency}},
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if !res.Cancelled {
		t.Errorf("Cancelled = false, want true")
	}
	if len(res.Securities) != 1 {
		t.Fatalf("securities = %d records, want 1", len(res.Securities))
	}
	want := []record.Field{
		{Key: "Ticker", Value: "AAAA11"},
		{Key: "Origin", Value: "Stock"},
		{Key: "Cotacao", Value: "R$ 10,00"},
	}
	if diff := cmp.Diff(want, res.Securities[0].Fields()); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"https://site.test/fiis/aaaa11/"}, s.visited); diff != "" {
		t.Errorf("visited mismatch (-want +got):\n%s", diff)
	}
	if res.Portfolio != nil {
		t.Errorf("portfolio extracted after cancellation")
	}
}

func TestFailedTickerDoesNotStopTheLoop(t *testing.T) {
	cfg := testConfig()
	s := &site{pages: map[string]string{
		"https://site.test/fiis/bbbb11/": stockHTML("R$ 20,00"),
	}}
	launches := 0

	o := NewOrchestrator(cfg, launcherOf(page.NewStaticLoader(s.load), &launches))
	res, err := o.Run(context.Background(), Job{
		Tickers:       []string{"AAAA11", "BBBB11"},
		Columns:       []column.Spec{{Name: "Cotacao", Kind: column.Advanced, CSSSelector: "span.v"}},
		SkipPortfolio: true,
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(res.Securities) != 2 {
		t.Fatalf("securities = %d, want 2", len(res.Securities))
	}
	if _, ok := res.Securities[0].Get(record.KeyError); !ok {
		t.Errorf("first ticker has no Error field: %v", res.Securities[0].Fields())
	}
	if v, _ := res.Securities[1].Get("Cotacao"); v != "R$ 20,00" {
		t.Errorf("second ticker Cotacao = %q", v)
	}
}

func TestPanicIsRecordedAsError(t *testing.T) {
	cfg := testConfig()
	s := &site{pages: map[string]string{"https://site.test/fiis/aaaa11/": stockHTML("R$ 10,00")}}
	launches := 0

	o := NewOrchestrator(cfg, launcherOf(panicPage{page.NewStaticLoader(s.load)}, &launches))
	res, err := o.Run(context.Background(), Job{
		Tickers:       []string{"AAAA11"},
		Columns:       []column.Spec{{Name: "Cotacao", Kind: column.Advanced, CSSSelector: "span.v"}},
		SkipPortfolio: true,
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if msg, _ := res.Securities[0].Get(record.KeyError); msg != "panic: boom" {
		t.Errorf("Error = %q, want panic: boom", msg)
	}
}

func TestLaunchFailureIsSetupError(t *testing.T) {
	boom := errors.New("no chrome found")
	o := NewOrchestrator(testConfig(), func(ctx context.Context) (page.Accessor, error) {
		return nil, boom
	})
	_, err := o.Run(context.Background(), Job{Tickers: []string{"AAAA11"}})

	var setupErr *SetupError
	if !errors.As(err, &setupErr) || setupErr.Stage != "launch" || !errors.Is(err, boom) {
		t.Errorf("Run error = %v, want launch SetupError", err)
	}
}

func TestCanceller(t *testing.T) {
	var c Canceller
	c.Cancel()
	c.Cancel()
	if !c.Cancelled() {
		t.Fatalf("Cancelled() = false after Cancel")
	}
	c.Reset()
	if c.Cancelled() {
		t.Errorf("Cancelled() = true after Reset")
	}
}

func TestPortfolioStrategiesOrder(t *testing.T) {
	var names []string
	for _, s := range PortfolioStrategies("Ticker-tickers", []string{"#w table", ".table-responsive table"}) {
		names = append(names, s.Name)
	}
	want := []string{"table id Ticker-tickers", "#w table", ".table-responsive table", "scan all tables"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("strategies mismatch (-want +got):\n%s", diff)
	}
}

func TestArchiveStoresRun(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.DSN = t.TempDir() + "/runs.db"
	repo, err := OpenRepository(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close()

	res := &Result{
		RunID:      "run-1",
		StartedAt:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2024, 5, 1, 10, 1, 0, 0, time.UTC),
		Securities: []*record.Record{record.FromFields(record.Field{Key: "Ticker", Value: "AAAA11"}, record.Field{Key: "Origin", Value: "Stock"})},
		Portfolio:  []*record.Record{record.FromFields(record.Field{Key: "Ativo", Value: "AAAA11"}, record.Field{Key: "Origin", Value: "Portfolio"})},
	}
	if err := Archive(context.Background(), repo, Job{Tickers: []string{"AAAA11"}}, res); err != nil {
		t.Fatal(err)
	}
	run, records, err := repo.LoadRun(context.Background(), "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if run.Securities != 1 || run.Portfolio != 1 || len(records) != 2 {
		t.Errorf("archived run = %+v with %d records", run, len(records))
	}
}
