package sqlparse

import (
	"strconv"
	"strings"
)

// skipLiteral returns the index just past the string literal, quoted
// identifier, dollar-quoted string or comment starting at i.
func skipLiteral(s string, i int) (int, bool) {
	switch {
	case s[i] == '\'':
		escapes := i > 0 && (s[i-1] == 'E' || s[i-1] == 'e')
		for j := i + 1; j < len(s); j++ {
			switch {
			case escapes && s[j] == '\\':
				j++
			case s[j] == '\'' && j+1 < len(s) && s[j+1] == '\'':
				j++
			case s[j] == '\'':
				return j + 1, true
			}
		}
		return len(s), true
	case s[i] == '"':
		for j := i + 1; j < len(s); j++ {
			if s[j] == '"' {
				if j+1 < len(s) && s[j+1] == '"' {
					j++
					continue
				}
				return j + 1, true
			}
		}
		return len(s), true
	case strings.HasPrefix(s[i:], "--"):
		if j := strings.IndexByte(s[i:], '\n'); j >= 0 {
			return i + j + 1, true
		}
		return len(s), true
	case strings.HasPrefix(s[i:], "/*"):
		if j := strings.Index(s[i+2:], "*/"); j >= 0 {
			return i + 2 + j + 2, true
		}
		return len(s), true
	case s[i] == '$':
		tag, ok := dollarTag(s, i)
		if !ok {
			return i, false
		}
		if j := strings.Index(s[i+len(tag):], tag); j >= 0 {
			return i + len(tag) + j + len(tag), true
		}
		return len(s), true
	}
	return i, false
}

// dollarTag reads "$tag$" or "$$" at i. "$1" is a placeholder, not a tag.
func dollarTag(s string, i int) (string, bool) {
	for j := i + 1; j < len(s); j++ {
		c := s[j]
		switch {
		case c == '$':
			return s[i : j+1], true
		case c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && j > i+1:
		default:
			return "", false
		}
	}
	return "", false
}

// placeholderAt parses "$n" at i and returns n and the end index.
func placeholderAt(s string, i int) (int, int, bool) {
	if s[i] != '$' || (i > 0 && isIdentChar(s[i-1])) {
		return 0, i, false
	}
	j := i + 1
	for j < len(s) && s[j] >= '0' && s[j] <= '9' {
		j++
	}
	if j == i+1 || (j < len(s) && isIdentChar(s[j])) {
		return 0, i, false
	}
	n, err := strconv.Atoi(s[i+1 : j])
	if err != nil {
		return 0, i, false
	}
	return n, j, true
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '$' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// Split breaks a script into statements on semicolons outside literals and comments.
func Split(script string) []string {
	var out []string
	start := 0
	for i := 0; i < len(script); {
		if next, ok := skipLiteral(script, i); ok {
			i = next
			continue
		}
		if script[i] == ';' {
			if stmt := strings.TrimSpace(script[start:i]); stmt != "" {
				out = append(out, stmt)
			}
			start = i + 1
		}
		i++
	}
	if stmt := strings.TrimSpace(script[start:]); stmt != "" {
		out = append(out, stmt)
	}
	return out
}

// MaxPlaceholder returns the highest $n referenced by sql, or 0.
func MaxPlaceholder(sql string) int {
	highest := 0
	for i := 0; i < len(sql); {
		if next, ok := skipLiteral(sql, i); ok {
			i = next
			continue
		}
		if n, next, ok := placeholderAt(sql, i); ok {
			if n > highest {
				highest = n
			}
			i = next
			continue
		}
		i++
	}
	return highest
}

// NormalizePlaceholders rewrites positional "?" markers as $1, $2, ...
// Statements that already use $n are returned unchanged.
func NormalizePlaceholders(sql string) string {
	if MaxPlaceholder(sql) > 0 {
		return sql
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(sql); {
		if next, ok := skipLiteral(sql, i); ok {
			b.WriteString(sql[i:next])
			i = next
			continue
		}
		if sql[i] == '?' && !jsonbOperator(sql, i) {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			i++
			continue
		}
		b.WriteByte(sql[i])
		i++
	}
	return b.String()
}

// jsonbOperator reports "?|" and "?&", which are operators rather than markers.
func jsonbOperator(s string, i int) bool {
	return i+1 < len(s) && (s[i+1] == '|' || s[i+1] == '&')
}

// BindPlaceholders substitutes each $n with a quoted literal from values,
// or NULL when no value is known.
func BindPlaceholders(sql string, values map[int]string) string {
	var b strings.Builder
	for i := 0; i < len(sql); {
		if next, ok := skipLiteral(sql, i); ok {
			b.WriteString(sql[i:next])
			i = next
			continue
		}
		if n, next, ok := placeholderAt(sql, i); ok {
			if v, found := values[n]; found {
				b.WriteString(QuoteLiteral(v))
			} else {
				b.WriteString("NULL")
			}
			i = next
			continue
		}
		b.WriteByte(sql[i])
		i++
	}
	return b.String()
}

// QuoteLiteral renders v as a standard-conforming string literal.
func QuoteLiteral(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}
