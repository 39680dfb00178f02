package extractor

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	tagRe      = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9]*`)
	nthChildRe = regexp.MustCompile(`:nth-child\(\s*(\d+)\s*\)`)
	classRe    = regexp.MustCompile(`\.([a-zA-Z0-9_-]+)`)
)

// position 选择器中编码的表格坐标，例如
// "tbody tr.visible-even:nth-child(4) > td:nth-child(2)"，Row 和 Col 从 1 开始
type position struct {
	Row      int
	Col      int
	RowClass string
}

// parsePosition 查找选择器中最后一个 tr 和最后一个 td/th 复合选择器，两者缺一时返回 false
func parsePosition(selector string) (position, bool) {
	var rowPart, colPart string
	for _, c := range compounds(selector) {
		switch strings.ToLower(tagRe.FindString(c)) {
		case "tr":
			rowPart = c
		case "td", "th":
			colPart = c
		}
	}
	if rowPart == "" || colPart == "" {
		return position{}, false
	}

	pos := position{Row: nthChild(rowPart), Col: nthChild(colPart)}
	if m := classRe.FindStringSubmatch(rowPart); m != nil {
		pos.RowClass = m[1]
	}
	return pos, true
}

// nthChild 返回复合选择器的 nth-child 序号（从 1 开始），缺失或小于 1 时返回 1
func nthChild(compound string) int {
	m := nthChildRe.FindStringSubmatch(compound)
	if m == nil {
		return 1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// compounds 按组合符拆分选择器，忽略括号和引号内的内容
func compounds(selector string) []string {
	var (
		out   []string
		cur   strings.Builder
		depth int
		quote rune
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range selector {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(' || r == '[':
			depth++
		case r == ')' || r == ']':
			depth--
		case depth == 0 && (r == ' ' || r == '\t' || r == '\n' || r == '>' || r == '+' || r == '~' || r == ','):
			flush()
			continue
		}
		cur.WriteRune(r)
	}
	flush()
	return out
}
