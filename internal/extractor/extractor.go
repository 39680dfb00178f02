// Package extractor 根据列定义从 page.Accessor 当前加载的页面中读取值
// 导出的操作不返回错误，失败时降级为 page.NotAvailable 或空结果
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fiiscrape/internal/page"
	"fiiscrape/internal/record"

	"github.com/patrickmn/go-cache"
)

const (
	DefaultElementWait = 3 * time.Second
	DefaultCellWait    = 5 * time.Second
	DefaultSnapshotTTL = 30 * time.Second

	evenRowMarker = "visible-even"
)

// Engine 在已加载的页面上解析选择器
// 每次导航后需新建 Engine，表格快照按 Engine 缓存
type Engine struct {
	page        page.Accessor
	tables      *TableReader
	log         *slog.Logger
	elementWait time.Duration
	cellWait    time.Duration
	snapshots   *cache.Cache
}

// Option Engine 配置项
type Option func(*Engine)

// WithLogger 设置调试日志记录器
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithWaits 覆盖元素和单元格的等待超时
func WithWaits(element, cell time.Duration) Option {
	return func(e *Engine) {
		if element > 0 {
			e.elementWait = element
		}
		if cell > 0 {
			e.cellWait = cell
		}
	}
}

// WithTableFallbacks 替换启发式表格选择器
func WithTableFallbacks(selectors []string) Option {
	return func(e *Engine) {
		if len(selectors) > 0 {
			e.tables.fallbacks = append([]string(nil), selectors...)
		}
	}
}

// WithSnapshotTTL 设置 Cell 复用表格读取结果的时长
func WithSnapshotTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.snapshots = cache.New(ttl, 2*ttl)
		}
	}
}

// New 为 p 创建 Engine
func New(p page.Accessor, opts ...Option) *Engine {
	e := &Engine{
		page:        p,
		tables:      NewTableReader(p, nil),
		log:         slog.Default(),
		elementWait: DefaultElementWait,
		cellWait:    DefaultCellWait,
		snapshots:   cache.New(DefaultSnapshotTTL, 2*DefaultSnapshotTTL),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.tables.log = e.log
	return e
}

// Tables 返回表格读取器
func (e *Engine) Tables() *TableReader {
	return e.tables
}

// Resolve 返回选择器对应的文本，找不到时返回 page.NotAvailable
func (e *Engine) Resolve(ctx context.Context, selector string) string {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return page.NotAvailable
	}
	if v := e.lookupScript(ctx, selector); usable(v) {
		return v
	}
	return e.resolveWithoutScript(ctx, selector)
}

// resolveWithoutScript 执行页面内脚本查找之后的解析步骤
func (e *Engine) resolveWithoutScript(ctx context.Context, selector string) string {
	if v := e.waitText(ctx, selector); usable(v) {
		return v
	}

	pos, ok := parsePosition(selector)
	if !ok {
		return page.NotAvailable
	}
	e.log.Debug("deriving table position from selector",
		"selector", selector, "row", pos.Row, "col", pos.Col, "row_class", pos.RowClass)

	switch {
	case strings.Contains(pos.RowClass, evenRowMarker):
		return e.evenRowCell(ctx, pos)
	case pos.RowClass != "":
		return e.classRowCell(ctx, pos)
	default:
		return e.Cell(ctx, pos.Row-1, pos.Col-1, "")
	}
}

func (e *Engine) lookupScript(ctx context.Context, selector string) string {
	raw, err := e.page.Eval(ctx, resolveScript, selector)
	if err != nil {
		e.log.Debug("script lookup failed", "selector", selector, "error", err)
		return page.NotAvailable
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return page.NotAvailable
	}
	return strings.TrimSpace(v)
}

func (e *Engine) waitText(ctx context.Context, selector string) string {
	el, err := e.page.WaitFor(ctx, page.ByCSS, selector, e.elementWait)
	if err != nil {
		return page.NotAvailable
	}
	return page.TrimmedText(el)
}

// evenRowCell 处理从使用 "visible-even" 类隔行着色的表格中复制的选择器
func (e *Engine) evenRowCell(ctx context.Context, pos position) string {
	xp := fmt.Sprintf("//tbody/tr[%d]/td[%d]", pos.Row, pos.Col)
	if el, err := e.page.WaitFor(ctx, page.ByXPath, xp, e.cellWait); err == nil {
		if visible, _ := el.Visible(); visible {
			if v := page.TrimmedText(el); v != "" {
				return v
			}
		}
	}

	rows, err := e.page.FindAll(ctx, page.ByCSS, "table tbody tr")
	if err == nil {
		var even []page.Element
		for i, row := range page.VisibleOnly(rows) {
			if i%2 == 1 {
				even = append(even, row)
			}
		}
		// 假设着色类与实际行号奇偶一致
		if idx := pos.Row/2 - 1; idx >= 0 && idx < len(even) {
			if v := cellText(even[idx], pos.Col); usable(v) {
				return v
			}
		}
	}
	return e.Cell(ctx, pos.Row-1, pos.Col-1, "")
}

func (e *Engine) classRowCell(ctx context.Context, pos position) string {
	rows, err := e.page.FindAll(ctx, page.ByCSS, fmt.Sprintf(`tr[class~="%s"]`, pos.RowClass))
	if err == nil {
		trs := page.VisibleOnly(rows)
		if pos.Row >= 1 && pos.Row <= len(trs) {
			if v := cellText(trs[pos.Row-1], pos.Col); usable(v) {
				return v
			}
		}
	}
	return e.Cell(ctx, pos.Row-1, pos.Col-1, "")
}

// Cell 读取从 0 开始的 (row, col) 单元格，可限定 id 为 tableID 的表格
// 先尝试直接 XPath，再按行和键位置查找表格快照
func (e *Engine) Cell(ctx context.Context, row, col int, tableID string) string {
	if row < 0 || col < 0 {
		return page.NotAvailable
	}

	xp := fmt.Sprintf("//tbody/tr[%d]/td[%d]", row+1, col+1)
	if tableID != "" {
		xp = fmt.Sprintf("//table[@id='%s']", tableID) + xp
	}
	if el, err := e.page.WaitFor(ctx, page.ByXPath, xp, e.cellWait); err == nil {
		if v := page.TrimmedText(el); v != "" {
			return v
		}
	}

	records := e.snapshot(ctx, tableID)
	if row >= len(records) {
		return page.NotAvailable
	}
	keys := records[row].Keys()
	if col >= len(keys) {
		return page.NotAvailable
	}
	if v, _ := records[row].Get(keys[col]); v != "" {
		return v
	}
	return page.NotAvailable
}

func (e *Engine) snapshot(ctx context.Context, tableID string) []*record.Record {
	key := "table#" + tableID
	if cached, ok := e.snapshots.Get(key); ok {
		return cached.([]*record.Record)
	}
	records := e.tables.Read(ctx, Locator{ID: tableID})
	if len(records) > 0 {
		e.snapshots.SetDefault(key, records)
	}
	return records
}

func cellText(row page.Element, col int) string {
	cells, err := row.FindAll(page.ByTag, "td")
	if err != nil || col < 1 || col > len(cells) {
		return page.NotAvailable
	}
	return page.TrimmedText(cells[col-1])
}

func usable(v string) bool {
	return v != "" && v != page.NotAvailable
}
