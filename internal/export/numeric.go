package export

import (
	"math"
	"strconv"
	"strings"

	"fiiscrape/internal/column"
)

// ParseNumber reads a Brazilian formatted value such as "R$ 1.234,56" or
// "9,8%". Percentages are returned as fractions.
func ParseNumber(s string, f column.Format) (float64, bool) {
	s = strings.ReplaceAll(s, "R$", "")
	s = strings.ReplaceAll(s, "%", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	s = dropThousands(s)
	s = strings.ReplaceAll(s, ",", ".")

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	if f == column.Percentage {
		v /= 100
	}
	return v, true
}

// dropThousands removes every '.' that is followed by exactly three digits.
func dropThousands(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '.' && digitsAt(s, i+1) == 3 {
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func digitsAt(s string, i int) int {
	n := 0
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n++
	}
	return n
}

// display renders v the way the cell number format shows it.
func display(v float64, f column.Format) string {
	switch f {
	case column.Number:
		return brNumber(v, 0)
	case column.Currency:
		return "R$ " + brNumber(v, 2)
	case column.Percentage:
		return brNumber(v*100, 2) + "%"
	default:
		return brNumber(v, 2)
	}
}

// brNumber formats with '.' grouping and ',' decimals.
func brNumber(v float64, decimals int) string {
	s := strconv.FormatFloat(math.Abs(v), 'f', decimals, 64)
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if v < 0 && strings.Trim(s, "0.") != "" {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if frac != "" {
		b.WriteByte(',')
		b.WriteString(frac)
	}
	return b.String()
}
