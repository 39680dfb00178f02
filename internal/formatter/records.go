package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"text/tabwriter"

	"fiiscrape/internal/record"
)

// RecordSet is the output of one run: security rows and portfolio rows.
type RecordSet struct {
	Securities []*record.Record
	Portfolio  []*record.Record
}

var _ Content = RecordSet{}

type section struct {
	title   string
	records []*record.Record
}

func (s RecordSet) sections() []section {
	return []section{
		{title: "Securities", records: s.Securities},
		{title: "Portfolio", records: s.Portfolio},
	}
}

func (s RecordSet) all() []*record.Record {
	out := make([]*record.Record, 0, len(s.Securities)+len(s.Portfolio))
	out = append(out, s.Securities...)
	return append(out, s.Portfolio...)
}

// ToCSV writes both sets in one table. The Origin column tells them apart.
func (s RecordSet) ToCSV() (string, error) {
	records := s.all()
	cols := record.Columns(records)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(cols); err != nil {
		return "", fmt.Errorf("failed to write csv header: %w", err)
	}
	row := make([]string, len(cols))
	for _, r := range records {
		for i, c := range cols {
			v, _ := r.Get(c)
			row[i] = guardFormula(v)
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.String(), nil
}

// guardFormula keeps spreadsheet apps from evaluating scraped text.
func guardFormula(v string) string {
	if v != "" && strings.ContainsRune("=+-@", rune(v[0])) {
		return "'" + v
	}
	return v
}

type jsonSet struct {
	Securities []*record.Record `json:"securities"`
	Portfolio  []*record.Record `json:"portfolio"`
}

func (s RecordSet) ToJSON() ([]byte, error) {
	out := jsonSet{Securities: s.Securities, Portfolio: s.Portfolio}
	if out.Securities == nil {
		out.Securities = []*record.Record{}
	}
	if out.Portfolio == nil {
		out.Portfolio = []*record.Record{}
	}
	return json.MarshalIndent(out, "", "  ")
}

func (s RecordSet) ToMarkdown() (string, error) {
	var sb strings.Builder
	for i, sec := range s.sections() {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "## %s\n\n", sec.title)
		if len(sec.records) == 0 {
			sb.WriteString("No records.\n")
			continue
		}
		cols := record.Columns(sec.records, record.KeyOrigin)
		writeMarkdownRow(&sb, cols)
		sep := make([]string, len(cols))
		for j := range sep {
			sep[j] = "---"
		}
		writeMarkdownRow(&sb, sep)
		for _, r := range sec.records {
			writeMarkdownRow(&sb, values(r, cols))
		}
	}
	return sb.String(), nil
}

func writeMarkdownRow(sb *strings.Builder, cells []string) {
	sb.WriteString("| ")
	for i, c := range cells {
		if i > 0 {
			sb.WriteString(" | ")
		}
		c = strings.ReplaceAll(c, "|", `\|`)
		sb.WriteString(strings.Join(strings.Fields(c), " "))
	}
	sb.WriteString(" |\n")
}

func (s RecordSet) ToText() (string, error) {
	var buf bytes.Buffer
	for i, sec := range s.sections() {
		if i > 0 {
			buf.WriteString("\n")
		}
		fmt.Fprintf(&buf, "%s (%d)\n", sec.title, len(sec.records))
		if len(sec.records) == 0 {
			continue
		}
		cols := record.Columns(sec.records, record.KeyOrigin)
		tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, strings.Join(cols, "\t"))
		for _, r := range sec.records {
			fmt.Fprintln(tw, strings.Join(values(r, cols), "\t"))
		}
		if err := tw.Flush(); err != nil {
			return "", fmt.Errorf("failed to render text table: %w", err)
		}
	}
	return buf.String(), nil
}

func (s RecordSet) ToHTML() (string, error) {
	var sb strings.Builder
	for _, sec := range s.sections() {
		fmt.Fprintf(&sb, "<h2>%s</h2>\n", html.EscapeString(sec.title))
		if len(sec.records) == 0 {
			sb.WriteString("<p>No records.</p>\n")
			continue
		}
		cols := record.Columns(sec.records, record.KeyOrigin)
		sb.WriteString("<table>\n<thead><tr>")
		for _, c := range cols {
			fmt.Fprintf(&sb, "<th>%s</th>", html.EscapeString(c))
		}
		sb.WriteString("</tr></thead>\n<tbody>\n")
		for _, r := range sec.records {
			sb.WriteString("<tr>")
			for _, v := range values(r, cols) {
				fmt.Fprintf(&sb, "<td>%s</td>", html.EscapeString(v))
			}
			sb.WriteString("</tr>\n")
		}
		sb.WriteString("</tbody>\n</table>\n")
	}
	return sb.String(), nil
}

func values(r *record.Record, cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i], _ = r.Get(c)
	}
	return out
}
