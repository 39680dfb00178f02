// Package output 渲染选择器在单个页面上的匹配结果，用于在写入配置前试用列选择器
package output

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"fiiscrape/internal/extractor"
	"fiiscrape/internal/fetcher"
	"fiiscrape/internal/page"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

const tablePlaceholder = "FIISCRAPETABLE%dEND"

var ugc = bluemonday.UGCPolicy()

// Output 单个选择器的试用结果
type Output struct {
	URL      string
	Selector string
	// Value 提取引擎为 Selector 解析出的文本
	Value string
	// HTML 第一个匹配元素的 outer html，未指定选择器时为整个页面
	HTML     string
	LoadTime time.Duration
}

// Capture 加载 req.URL，并按列提取的方式解析选择器
func Capture(ctx context.Context, f *fetcher.Fetcher, req fetcher.Request, selector string, opts ...extractor.Option) (*Output, error) {
	res, err := f.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", req.URL, err)
	}
	o := &Output{URL: req.URL, Selector: selector, Value: page.NotAvailable, LoadTime: res.LoadTime}
	p := f.Page()

	if selector == "" {
		if o.HTML, err = p.HTML(ctx); err != nil {
			return nil, fmt.Errorf("failed to read page html: %w", err)
		}
		return o, nil
	}

	o.Value = extractor.New(p, opts...).Resolve(ctx, selector)
	el, err := p.Find(ctx, locatorOf(selector), selector)
	if err != nil {
		return o, nil
	}
	if o.HTML, err = el.HTML(); err != nil {
		return nil, fmt.Errorf("failed to read element html: %w", err)
	}
	return o, nil
}

func locatorOf(selector string) page.By {
	if strings.HasPrefix(selector, "/") || strings.HasPrefix(selector, "(") {
		return page.ByXPath
	}
	return page.ByCSS
}

// OutputHTML 返回去除脚本和事件处理器后的匹配内容
func (o *Output) OutputHTML() (string, error) {
	if o.HTML == "" {
		return "", fmt.Errorf("no element matched %q", o.Selector)
	}
	return ugc.Sanitize(o.HTML), nil
}

// OutputText 返回解析出的值，未指定选择器时返回页面的纯 markdown
func (o *Output) OutputText() (string, error) {
	if o.Selector != "" {
		return o.Value, nil
	}
	html, err := o.OutputHTML()
	if err != nil {
		return "", err
	}
	converter := md.NewConverter("", true, nil)
	text, err := converter.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("failed to convert HTML to text: %w", err)
	}
	return text, nil
}

// OutputMarkdown 将匹配内容转换为 Markdown，表格转换为管道表格
func (o *Output) OutputMarkdown() (string, error) {
	html, err := o.OutputHTML()
	if err != nil {
		return "", err
	}

	html, tables, err := extractTables(html)
	if err != nil {
		return "", err
	}

	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("failed to convert HTML to Markdown: %w", err)
	}

	for i, t := range tables {
		markdown = strings.ReplaceAll(markdown, fmt.Sprintf(tablePlaceholder, i), t)
	}
	return markdown, nil
}

// extractTables 用占位段落替换最外层表格，并返回渲染为 Markdown 的表格
func extractTables(htmlContent string) (string, []string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return "", nil, fmt.Errorf("failed to parse html: %w", err)
	}

	var tables []string
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		if table.ParentsFiltered("table").Length() > 0 {
			return
		}
		rendered := tableToMarkdown(table)
		if rendered == "" {
			return
		}
		table.ReplaceWithHtml(fmt.Sprintf("<p>"+tablePlaceholder+"</p>", len(tables)))
		tables = append(tables, rendered)
	})

	body, err := doc.Find("body").Html()
	if err != nil {
		return "", nil, fmt.Errorf("failed to render html: %w", err)
	}
	return body, tables, nil
}

// tableToMarkdown 将表格转换为 Markdown，表头取自 thead 或第一行
func tableToMarkdown(table *goquery.Selection) string {
	headerRow := table.Find("thead tr").First()
	if headerRow.Length() == 0 {
		headerRow = table.Find("tr").First()
	}
	headers := cellTexts(headerRow)
	if len(headers) == 0 {
		return ""
	}

	var builder strings.Builder
	writeRow(&builder, headers)
	sep := make([]string, len(headers))
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(&builder, sep)

	dataRows := table.Find("tbody tr")
	if table.Find("thead tr").Length() == 0 {
		dataRows = table.Find("tr").Slice(1, goquery.ToEnd)
	}
	dataRows.Each(func(_ int, row *goquery.Selection) {
		if cells := cellTexts(row); len(cells) > 0 {
			writeRow(&builder, cells)
		}
	})
	return strings.TrimSuffix(builder.String(), "\n")
}

func cellTexts(row *goquery.Selection) []string {
	var cells []string
	row.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
		text := strings.Join(strings.Fields(cell.Text()), " ")
		cells = append(cells, strings.ReplaceAll(text, "|", `\|`))
	})
	return cells
}

func writeRow(b *strings.Builder, cells []string) {
	b.WriteString("| ")
	b.WriteString(strings.Join(cells, " | "))
	b.WriteString(" |\n")
}

// JSONOutput JSON 输出结构
type JSONOutput struct {
	URL      string `json:"url"`
	Selector string `json:"selector,omitempty"`
	Value    string `json:"value"`
	HTML     string `json:"html"`
	Markdown string `json:"markdown"`
	LoadTime int64  `json:"load_time"`
}

func (o *Output) OutputJSON() (string, error) {
	out := JSONOutput{
		URL:      o.URL,
		Selector: o.Selector,
		Value:    o.Value,
		LoadTime: o.LoadTime.Milliseconds(),
	}
	if o.HTML != "" {
		var err error
		if out.HTML, err = o.OutputHTML(); err != nil {
			return "", err
		}
		if out.Markdown, err = o.OutputMarkdown(); err != nil {
			return "", err
		}
	}

	jsonData, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonData), nil
}

// Format 根据格式名称选择输出方式
func (o *Output) Format(format string) (string, error) {
	switch strings.ToLower(format) {
	case "html":
		return o.OutputHTML()
	case "text", "value":
		return o.OutputText()
	case "markdown":
		return o.OutputMarkdown()
	case "json":
		return o.OutputJSON()
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}
