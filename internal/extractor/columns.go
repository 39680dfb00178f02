package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"fiiscrape/internal/column"
	"fiiscrape/internal/page"
	"fiiscrape/internal/record"
)

// 批量提取失败后逐列提取时写入的值
const (
	MsgIncompleteSimple = "incomplete simple column configuration"
	MsgNoSelector       = "CSS selector not defined"
)

// ExtractColumns 按列定义顺序为 rec 写入每一列的值
// 简单列按搜索类名合并查询，高级列共用一次脚本执行
// 批量提取失败时逐列提取，失败信息写入对应列
func (e *Engine) ExtractColumns(ctx context.Context, specs []column.Spec, rec *record.Record) {
	values, err := e.extractBatch(ctx, specs)
	if err != nil {
		e.log.Warn("batch extraction failed, extracting columns one by one", "error", err)
		values = make(map[string]string, len(specs))
		for _, s := range specs {
			values[s.Name] = e.extractOne(ctx, s)
		}
	}
	for _, s := range specs {
		rec.Set(s.Name, values[s.Name])
	}
}

func (e *Engine) extractBatch(ctx context.Context, specs []column.Spec) (map[string]string, error) {
	simple, advanced := column.Partition(specs)
	values := make(map[string]string, len(specs))

	byClass := make(map[string][]page.Element)
	for _, s := range simple {
		if !s.Complete() {
			values[s.Name] = page.NotAvailable
			continue
		}
		elems, ok := byClass[s.SearchClass]
		if !ok {
			var err error
			elems, err = e.page.FindAll(ctx, page.ByClass, s.SearchClass)
			if err != nil {
				return nil, fmt.Errorf("failed to query class %q: %w", s.SearchClass, err)
			}
			byClass[s.SearchClass] = elems
		}
		values[s.Name] = firstReturnText(elems, s.ReturnClass)
	}

	if err := e.batchAdvanced(ctx, advanced, values); err != nil {
		return nil, err
	}
	return values, nil
}

func (e *Engine) batchAdvanced(ctx context.Context, specs []column.Spec, values map[string]string) error {
	var selectors []string
	seen := make(map[string]bool)
	for _, s := range specs {
		if s.CSSSelector != "" && !seen[s.CSSSelector] {
			seen[s.CSSSelector] = true
			selectors = append(selectors, s.CSSSelector)
		}
	}
	if len(selectors) == 0 {
		for _, s := range specs {
			values[s.Name] = page.NotAvailable
		}
		return nil
	}

	results := make(map[string]string, len(selectors))
	scripted := true
	raw, err := e.page.Eval(ctx, batchScript, selectors)
	switch {
	case errors.Is(err, page.ErrScriptUnsupported):
		scripted = false
	case err != nil:
		return fmt.Errorf("batch script failed: %w", err)
	default:
		if err := json.Unmarshal(raw, &results); err != nil {
			return fmt.Errorf("failed to decode batch result: %w", err)
		}
	}

	resolved := make(map[string]string, len(selectors))
	for _, s := range specs {
		if s.CSSSelector == "" {
			values[s.Name] = page.NotAvailable
			continue
		}
		if v, ok := resolved[s.CSSSelector]; ok {
			values[s.Name] = v
			continue
		}
		v := results[s.CSSSelector]
		if !usable(v) {
			if scripted {
				v = e.resolveWithoutScript(ctx, s.CSSSelector)
			} else {
				v = e.Resolve(ctx, s.CSSSelector)
			}
		}
		resolved[s.CSSSelector] = v
		values[s.Name] = v
	}
	return nil
}

func (e *Engine) extractOne(ctx context.Context, s column.Spec) string {
	switch s.Kind {
	case column.Simple:
		if !s.Complete() {
			return MsgIncompleteSimple
		}
		elems, err := e.page.FindAll(ctx, page.ByClass, s.SearchClass)
		if err != nil {
			return fmt.Sprintf("column extraction failed: %v", err)
		}
		return firstReturnText(elems, s.ReturnClass)
	default:
		if s.CSSSelector == "" {
			return MsgNoSelector
		}
		return e.Resolve(ctx, s.CSSSelector)
	}
}

// firstReturnText 在容器中查找第一个带文本且类名为 returnClass 的后代元素
func firstReturnText(containers []page.Element, returnClass string) string {
	for _, c := range containers {
		found, err := c.FindAll(page.ByClass, returnClass)
		if err != nil {
			continue
		}
		for _, el := range found {
			if t := page.TrimmedText(el); t != "" {
				return t
			}
		}
	}
	return page.NotAvailable
}
