package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// QuestionFrom extracts the question from a decoded request body.
//
// The field counts as missing when it is absent or holds a falsy value:
// null, "", false, 0, or an empty array or object. Other non-string values
// are rendered by stringify. Whitespace-only strings are kept.
func QuestionFrom(body map[string]any) (string, error) {
	v, ok := body["question"]
	if !ok || isFalsy(v) {
		return "", NewValidationError("question", ErrMissingField)
	}
	return stringify(v), nil
}

func isFalsy(v any) bool {
	switch tv := v.(type) {
	case nil:
		return true
	case string:
		return tv == ""
	case bool:
		return !tv
	case float64:
		return tv == 0
	case json.Number:
		f, err := tv.Float64()
		return err == nil && f == 0
	case []any:
		return len(tv) == 0
	case map[string]any:
		return len(tv) == 0
	default:
		return false
	}
}

// stringify renders a non-string question in Python literal syntax, so
// true reads True and ["burn"] reads ['burn']. Object keys come out sorted.
func stringify(v any) string {
	if tv, ok := v.(string); ok {
		return tv
	}
	return literal(v)
}

func literal(v any) string {
	switch tv := v.(type) {
	case nil:
		return "None"
	case string:
		return quote(tv)
	case bool:
		if tv {
			return "True"
		}
		return "False"
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	case json.Number:
		return tv.String()
	case []any:
		parts := make([]string, len(tv))
		for i, e := range tv {
			parts[i] = literal(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(tv))
		for k := range tv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = quote(k) + ": " + literal(tv[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprint(tv)
	}
}

// quote uses single quotes unless the text holds a single quote and no
// double quote.
func quote(s string) string {
	q := '\''
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		q = '"'
	}
	var b strings.Builder
	b.WriteRune(q)
	for _, r := range s {
		switch {
		case r == q || r == '\\':
			b.WriteRune('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x80 && !unicode.IsPrint(r):
			fmt.Fprintf(&b, `\x%02x`, r)
		case !unicode.IsPrint(r) && r <= 0xffff:
			fmt.Fprintf(&b, `\u%04x`, r)
		case !unicode.IsPrint(r):
			fmt.Fprintf(&b, `\U%08x`, r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteRune(q)
	return b.String()
}
