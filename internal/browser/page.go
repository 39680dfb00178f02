package browser

import (
	"context"
	"fmt"
	"time"

	"fiiscrape/internal/page"

	"github.com/go-rod/rod"
)

const evalTimeout = 10 * time.Second

// Page 浏览器标签页，实现 page.Accessor
type Page struct {
	page    *rod.Page
	browser *Browser
	// owned 为 true 时，Close 会一并关闭浏览器
	owned bool
}

var _ page.Accessor = (*Page)(nil)

// Launch 启动浏览器并打开一个标签页
// 关闭返回的 Page 时会同时关闭浏览器
func Launch(cfg Config) (*Page, error) {
	b, err := New(cfg)
	if err != nil {
		return nil, err
	}
	p, err := b.Open()
	if err != nil {
		b.Close()
		return nil, err
	}
	p.owned = true
	return p, nil
}

// Open 在 b 上创建标签页
func (b *Browser) Open() (*Page, error) {
	p, err := b.NewPage()
	if err != nil {
		return nil, err
	}
	return &Page{page: p, browser: b}, nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("failed to wait for page load: %w", err)
	}
	return nil
}

func (p *Page) Eval(ctx context.Context, js string, args ...any) ([]byte, error) {
	pg := p.page.Context(ctx).Timeout(evalTimeout)
	defer pg.CancelTimeout()

	res, err := pg.Eval(js, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate script: %w", err)
	}
	return res.Value.MarshalJSON()
}

func (p *Page) Find(ctx context.Context, by page.By, value string) (page.Element, error) {
	pg := p.page.Context(ctx)
	var (
		has bool
		el  *rod.Element
		err error
	)
	if by == page.ByXPath {
		has, el, err = pg.HasX(value)
	} else {
		sel, cerr := page.CSS(by, value)
		if cerr != nil {
			return nil, cerr
		}
		has, el, err = pg.Has(sel)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s %q: %w", by, value, err)
	}
	if !has {
		return nil, page.ErrNotFound
	}
	return element{el: el}, nil
}

func (p *Page) FindAll(ctx context.Context, by page.By, value string) ([]page.Element, error) {
	pg := p.page.Context(ctx)
	var (
		els rod.Elements
		err error
	)
	if by == page.ByXPath {
		els, err = pg.ElementsX(value)
	} else {
		sel, cerr := page.CSS(by, value)
		if cerr != nil {
			return nil, cerr
		}
		els, err = pg.Elements(sel)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s %q: %w", by, value, err)
	}
	return wrap(els), nil
}

func (p *Page) WaitFor(ctx context.Context, by page.By, value string, timeout time.Duration) (page.Element, error) {
	pg := p.page.Context(ctx).Timeout(timeout)
	defer pg.CancelTimeout()

	var (
		el  *rod.Element
		err error
	)
	if by == page.ByXPath {
		el, err = pg.ElementX(value)
	} else {
		sel, cerr := page.CSS(by, value)
		if cerr != nil {
			return nil, cerr
		}
		el, err = pg.Element(sel)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to wait for %s %q: %w", by, value, err)
	}
	return element{el: el.Context(ctx)}, nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("failed to read page html: %w", err)
	}
	return html, nil
}

// Close 关闭标签页，由 Launch 创建的页面会同时关闭浏览器
func (p *Page) Close() error {
	err := p.page.Close()
	if p.owned {
		if cerr := p.browser.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

type element struct {
	el *rod.Element
}

func (e element) Text() (string, error) {
	return e.el.Text()
}

func (e element) Visible() (bool, error) {
	return e.el.Visible()
}

func (e element) HTML() (string, error) {
	return e.el.HTML()
}

func (e element) FindAll(by page.By, value string) ([]page.Element, error) {
	var (
		els rod.Elements
		err error
	)
	if by == page.ByXPath {
		els, err = e.el.ElementsX(value)
	} else {
		sel, cerr := page.CSS(by, value)
		if cerr != nil {
			return nil, cerr
		}
		els, err = e.el.Elements(sel)
	}
	if err != nil {
		return nil, err
	}
	return wrap(els), nil
}

func wrap(els rod.Elements) []page.Element {
	out := make([]page.Element, 0, len(els))
	for _, el := range els {
		out = append(out, element{el: el})
	}
	return out
}
