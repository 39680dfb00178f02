package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"fiiscrape/internal/page"
	"fiiscrape/internal/record"
)

// DefaultTableFallbacks 未指定 id 和选择器时依次尝试的表格选择器
// 页面上第一个 <table> 排在最后
var DefaultTableFallbacks = []string{
	".dataTables_wrapper table",
	".table-responsive table",
	"#Ticker-tickers",
	"div.table table",
}

// Locator 定位表格，ID 优先于 Selector，为空时使用启发式选择器
type Locator struct {
	ID       string
	Selector string
}

func (l Locator) String() string {
	switch {
	case l.ID != "":
		return "#" + l.ID
	case l.Selector != "":
		return l.Selector
	}
	return "<heuristic>"
}

type headerSource int

const (
	headersNone headerSource = iota
	headersThead
	headersFirstRowTH
	headersFirstRowTD
)

// TableReader 将整个 HTML 表格读取为以表头文本为键的记录
type TableReader struct {
	page      page.Accessor
	fallbacks []string
	log       *slog.Logger
}

// NewTableReader 创建表格读取器，fallbacks 为 nil 时使用 DefaultTableFallbacks
func NewTableReader(p page.Accessor, fallbacks []string) *TableReader {
	if fallbacks == nil {
		fallbacks = DefaultTableFallbacks
	}
	return &TableReader{page: p, fallbacks: fallbacks, log: slog.Default()}
}

// Read 为表格的每个可见数据行返回一条记录，找不到表格时返回 nil
func (r *TableReader) Read(ctx context.Context, loc Locator) []*record.Record {
	table, ok := r.locate(ctx, loc)
	if !ok {
		r.log.Debug("table not found", "locator", loc.String())
		return nil
	}

	headers, source := tableHeaders(table)
	var out []*record.Record
	for _, row := range tableRows(table, headers, source) {
		cells, err := row.FindAll(page.ByTag, "td")
		if err != nil || len(cells) == 0 {
			continue
		}
		rec := record.New()
		for i, cell := range cells {
			key := fmt.Sprintf("Column %d", i+1)
			if i < len(headers) {
				key = headers[i]
			}
			rec.Set(key, page.TrimmedText(cell))
		}
		out = append(out, rec)
	}
	return out
}

// Scan 对页面上所有表格执行一次脚本，返回第一个有可见数据行的表格
func (r *TableReader) Scan(ctx context.Context) ([]*record.Record, error) {
	raw, err := r.page.Eval(ctx, scanTablesScript)
	if err != nil {
		return nil, fmt.Errorf("failed to scan tables: %w", err)
	}
	var rows [][][2]string
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode table scan: %w", err)
	}
	if len(rows) > 0 && headerEcho(rows[0]) {
		rows = rows[1:]
	}
	out := make([]*record.Record, 0, len(rows))
	for _, row := range rows {
		rec := record.New()
		for _, kv := range row {
			rec.Set(kv[0], kv[1])
		}
		out = append(out, rec)
	}
	return out, nil
}

// headerEcho 判断该行每个单元格是否都与表头相同，即表头行被当作数据读回
func headerEcho(row [][2]string) bool {
	if len(row) == 0 {
		return false
	}
	for _, kv := range row {
		if kv[0] != kv[1] {
			return false
		}
	}
	return true
}

func (r *TableReader) locate(ctx context.Context, loc Locator) (page.Element, bool) {
	if loc.ID != "" {
		el, err := r.page.Find(ctx, page.ByID, loc.ID)
		return el, err == nil
	}
	if loc.Selector != "" {
		el, err := r.page.Find(ctx, page.ByCSS, loc.Selector)
		return el, err == nil
	}
	for _, sel := range r.fallbacks {
		if el, err := r.page.Find(ctx, page.ByCSS, sel); err == nil {
			return el, true
		}
	}
	el, err := r.page.Find(ctx, page.ByTag, "table")
	return el, err == nil
}

func tableHeaders(table page.Element) ([]string, headerSource) {
	if ths, err := table.FindAll(page.ByCSS, "thead th"); err == nil {
		if h := nonEmptyTexts(ths); len(h) > 0 {
			return h, headersThead
		}
	}

	first, err := page.First(table, page.ByTag, "tr")
	if err != nil {
		return nil, headersNone
	}
	if ths, err := first.FindAll(page.ByTag, "th"); err == nil {
		if h := nonEmptyTexts(ths); len(h) > 0 {
			return h, headersFirstRowTH
		}
	}
	if tds, err := first.FindAll(page.ByTag, "td"); err == nil {
		if h := nonEmptyTexts(tds); len(h) > 0 {
			return h, headersFirstRowTD
		}
	}
	return nil, headersNone
}

func tableRows(table page.Element, headers []string, source headerSource) []page.Element {
	if tbody, err := page.First(table, page.ByTag, "tbody"); err == nil {
		rows, err := tbody.FindAll(page.ByTag, "tr")
		if err != nil {
			return nil
		}
		// 由 td 组成的表头行位于 tbody 中，不能当作数据读取
		if source == headersFirstRowTD && len(rows) > 0 {
			if cells, err := rows[0].FindAll(page.ByTag, "td"); err == nil && slices.Equal(nonEmptyTexts(cells), headers) {
				rows = rows[1:]
			}
		}
		return page.VisibleOnly(rows)
	}

	rows, err := table.FindAll(page.ByTag, "tr")
	if err != nil {
		return nil
	}
	if source == headersFirstRowTH || source == headersFirstRowTD {
		if len(rows) > 0 {
			rows = rows[1:]
		}
	}
	return page.VisibleOnly(rows)
}

func nonEmptyTexts(elems []page.Element) []string {
	var out []string
	for _, el := range elems {
		if t := page.TrimmedText(el); t != "" {
			out = append(out, t)
		}
	}
	return out
}
