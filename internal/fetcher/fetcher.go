// Package fetcher 通过 page.Accessor 加载页面，并在交给提取前应用等待策略
package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"fiiscrape/internal/page"

	"golang.org/x/time/rate"
)

// WaitStrategy 等待策略类型
type WaitStrategy string

const (
	WaitStrategyLoad    WaitStrategy = "load"    // 仅等待页面加载事件
	WaitStrategyElement WaitStrategy = "element" // 等待 CSS 选择器对应元素出现
	WaitStrategyTime    WaitStrategy = "time"    // 等待固定毫秒数
)

// ParseWaitStrategy 校验等待策略
func ParseWaitStrategy(s string) (WaitStrategy, error) {
	switch WaitStrategy(s) {
	case WaitStrategyLoad, WaitStrategyElement, WaitStrategyTime:
		return WaitStrategy(s), nil
	}
	return "", fmt.Errorf("invalid wait strategy: %s", s)
}

// Request 单次页面加载请求
type Request struct {
	URL      string
	Wait     WaitStrategy
	Target   string // element 策略的选择器或 time 策略的毫秒数
	Timeout  time.Duration
	Unpaced  bool // 跳过限速
	Snapshot bool // 设置了快照目录时保存页面 html
}

// Result 抓取结果
type Result struct {
	URL      string
	LoadTime time.Duration
}

// Fetcher 页面抓取器，一次只加载一个页面
type Fetcher struct {
	mu          sync.Mutex
	page        page.Accessor
	limiter     *rate.Limiter
	snapshotDir string
	log         *slog.Logger
}

// Option Fetcher 配置项
type Option func(*Fetcher)

// WithRate 按每分钟 perMinute 次及突发量 burst 限制导航频率，为 0 时不限速
func WithRate(perMinute, burst int) Option {
	return func(f *Fetcher) {
		if perMinute <= 0 {
			f.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
	}
}

// WithSnapshotDir 将快照请求的 html 保存到 dir
func WithSnapshotDir(dir string) Option {
	return func(f *Fetcher) {
		f.snapshotDir = dir
	}
}

// WithLogger 设置日志记录器
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.log = l
		}
	}
}

// New 创建新的 Fetcher 实例
func New(p page.Accessor, opts ...Option) *Fetcher {
	f := &Fetcher{page: p, log: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetPage 替换页面访问器，例如浏览器重启之后
func (f *Fetcher) SetPage(p page.Accessor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.page = p
}

// Page 返回当前的页面访问器
func (f *Fetcher) Page() page.Accessor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.page
}

// Fetch 执行页面抓取，按 req 导航并等待
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	p := f.Page()
	if f.limiter != nil && !req.Unpaced {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("failed to wait for rate limiter: %w", err)
		}
	}

	start := time.Now()
	if err := p.Navigate(ctx, req.URL); err != nil {
		return nil, err
	}
	if err := applyWaitStrategy(ctx, p, req); err != nil {
		return nil, fmt.Errorf("wait strategy failed: %w", err)
	}

	if req.Snapshot {
		f.SaveSnapshot(ctx, req.URL)
	}

	return &Result{URL: req.URL, LoadTime: time.Since(start)}, nil
}

func applyWaitStrategy(ctx context.Context, p page.Accessor, req Request) error {
	switch req.Wait {
	case WaitStrategyLoad, "":
		return nil

	case WaitStrategyElement:
		if req.Target == "" {
			return fmt.Errorf("wait target is required for element strategy")
		}
		if _, err := p.WaitFor(ctx, page.ByCSS, req.Target, req.Timeout); err != nil {
			return fmt.Errorf("failed to wait for element '%s': %w", req.Target, err)
		}
		return nil

	case WaitStrategyTime:
		ms, err := strconv.Atoi(req.Target)
		if err != nil || ms < 0 {
			return fmt.Errorf("invalid wait time '%s'", req.Target)
		}
		t := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}

	default:
		return fmt.Errorf("invalid wait strategy: %s", req.Wait)
	}
}

// SaveSnapshot 将当前页面 html 保存到快照目录（如已设置），失败只记录日志
func (f *Fetcher) SaveSnapshot(ctx context.Context, url string) {
	if f.snapshotDir == "" {
		return
	}
	if err := f.saveSnapshot(ctx, f.Page(), url); err != nil {
		f.log.Warn("failed to save page snapshot", "url", url, "error", err)
	}
}

func (f *Fetcher) saveSnapshot(ctx context.Context, p page.Accessor, url string) error {
	html, err := p.HTML(ctx)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(f.snapshotDir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	return os.WriteFile(filepath.Join(f.snapshotDir, page.SnapshotName(url)), []byte(html), 0o644)
}
