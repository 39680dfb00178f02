// Package browser 通过 rod 启动 Chromium，并将其页面作为 page.Accessor 暴露
package browser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Config 浏览器启动配置
type Config struct {
	Headless bool
	ProxyURL string
	// UserDataDir 在多次运行之间保留 cookie，重启后仍保持登录
	UserDataDir string
	// Bin 指定浏览器可执行文件，为空时由 rod 自动查找或下载
	Bin       string
	NoSandbox bool
}

// Browser 封装 rod.Browser 实例及其背后的进程
type Browser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	cfg      Config
}

// New 启动浏览器进程并建立连接
func New(cfg Config) (*Browser, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		Leakless(true)

	if cfg.ProxyURL != "" {
		l = l.Proxy(cfg.ProxyURL)
	}
	if cfg.UserDataDir != "" {
		l = l.UserDataDir(cfg.UserDataDir)
	}
	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}
	if cfg.NoSandbox {
		l = l.NoSandbox(true)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	return &Browser{
		browser:  b,
		launcher: l,
		cfg:      cfg,
	}, nil
}

// Config 返回启动配置
func (b *Browser) Config() Config {
	return b.cfg
}

// NewPage 打开新标签页，覆盖 User-Agent 并隐藏 webdriver 标记
func (b *Browser) NewPage() (*rod.Page, error) {
	p, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: userAgent}); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to set user agent: %w", err)
	}
	if _, err := p.EvalOnNewDocument(`Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to hide webdriver flag: %w", err)
	}
	return p, nil
}

// Close 关闭浏览器并结束进程
func (b *Browser) Close() error {
	var err error
	if b.browser != nil {
		err = b.browser.Close()
	}
	if b.launcher != nil {
		b.launcher.Kill()
	}
	return err
}

var crashSignatures = []string{
	"gethandleverifier",
	"chrome",
	"chromium",
	"websocket",
	"target closed",
	"browser has disconnected",
}

// IsCrash 判断错误是否由浏览器进程崩溃引起，而不是页面本身出错
func IsCrash(err error) bool {
	if err == nil {
		return false
	}
	var closed *rod.PageCloseCanceledError
	if errors.As(err, &closed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range crashSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
