package mongo

import (
	"regexp"
	"strings"
)

// Namespace is a parsed db.<collection>.<op>(<args>) expression.
type Namespace struct {
	Collection string
	Op         string
	Args       []string
}

var namespaceRe = regexp.MustCompile(`(?i)\bdb\.(\w+)\.(\w+)\s*\(([\s\S]*)\)\s*;?\s*$`)

// ParseNamespace extracts the shell-style call shape from an expression.
// Arguments are split at top-level commas only, so filter and update
// documents survive intact.
func ParseNamespace(expression string) (*Namespace, bool) {
	m := namespaceRe.FindStringSubmatch(strings.TrimSpace(expression))
	if m == nil {
		return nil, false
	}
	return &Namespace{
		Collection: m[1],
		Op:         strings.ToLower(m[2]),
		Args:       splitTopLevel(m[3]),
	}, true
}

// splitTopLevel splits on commas that sit outside every brace, bracket,
// parenthesis, and string literal.
func splitTopLevel(args string) []string {
	args = strings.TrimSpace(args)
	if args == "" {
		return nil
	}

	var out []string
	depth := 0
	var quote byte
	start := 0

	for i := 0; i < len(args); i++ {
		ch := args[i]
		if quote != 0 {
			if ch == quote && (i == 0 || args[i-1] != '\\') {
				quote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"':
			quote = ch
		case '{', '[', '(':
			depth++
		case '}', ']', ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(args[start:i]))
				start = i + 1
			}
		}
	}

	if tail := strings.TrimSpace(args[start:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

// NormalizeFilter makes shell-style documents parseable as extended JSON by
// quoting bare keys and rewriting single-quoted strings. It is intentionally
// conservative: anything it cannot fix is left for the driver to reject.
func NormalizeFilter(doc string) string {
	doc = strings.TrimSpace(doc)
	if doc == "" {
		return "{}"
	}
	doc = bareKeyRe.ReplaceAllString(doc, `$1"$2":`)
	doc = singleQuoteRe.ReplaceAllString(doc, `"$1"`)
	return doc
}

var (
	bareKeyRe     = regexp.MustCompile(`([{,]\s*)([A-Za-z_$][\w$.]*)\s*:`)
	singleQuoteRe = regexp.MustCompile(`'([^']*)'`)
)
