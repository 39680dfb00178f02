package page

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	xpathStepRe  = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9-]*|\*)((?:\[[^\]]+\])*)$`)
	xpathPredRe  = regexp.MustCompile(`\[([^\]]+)\]`)
	xpathIndexRe = regexp.MustCompile(`^\d+$`)
	xpathAttrRe  = regexp.MustCompile(`^@([a-zA-Z_][\w-]*)(?:\s*=\s*(?:'([^']*)'|"([^"]*)"))?$`)
)

// xpathToCSS translates the location paths the extractor builds
// (descendant/child steps with positional or attribute predicates) into CSS.
func xpathToCSS(expr string) (string, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "//") {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedXPath, expr)
	}

	var b strings.Builder
	rest := expr
	for rest != "" {
		combinator := " > "
		switch {
		case strings.HasPrefix(rest, "//"):
			combinator = " "
			rest = rest[2:]
		case strings.HasPrefix(rest, "/"):
			rest = rest[1:]
		default:
			return "", fmt.Errorf("%w: %s", ErrUnsupportedXPath, expr)
		}

		end := stepEnd(rest)
		step, err := xpathStep(rest[:end])
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrUnsupportedXPath, expr)
		}
		rest = rest[end:]

		if b.Len() > 0 {
			b.WriteString(combinator)
		}
		b.WriteString(step)
	}
	return b.String(), nil
}

// stepEnd returns the index of the next '/' outside a predicate.
func stepEnd(s string) int {
	depth := 0
	for i, r := range s {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
		case '/':
			if depth == 0 {
				return i
			}
		}
	}
	return len(s)
}

func xpathStep(step string) (string, error) {
	m := xpathStepRe.FindStringSubmatch(step)
	if m == nil {
		return "", fmt.Errorf("bad step %q", step)
	}
	name := m[1]
	var b strings.Builder
	b.WriteString(name)
	for _, p := range xpathPredRe.FindAllStringSubmatch(m[2], -1) {
		pred := strings.TrimSpace(p[1])
		if xpathIndexRe.MatchString(pred) {
			if name == "*" {
				fmt.Fprintf(&b, ":nth-child(%s)", pred)
			} else {
				fmt.Fprintf(&b, ":nth-of-type(%s)", pred)
			}
			continue
		}
		a := xpathAttrRe.FindStringSubmatch(pred)
		if a == nil {
			return "", fmt.Errorf("bad predicate %q", pred)
		}
		if !strings.Contains(pred, "=") {
			fmt.Fprintf(&b, "[%s]", a[1])
			continue
		}
		fmt.Fprintf(&b, `[%s="%s"]`, a[1], cssQuote(a[2]+a[3]))
	}
	return b.String(), nil
}
