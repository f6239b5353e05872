package applier

import "strings"

// SplitStatements breaks PostgreSQL source text into statements at
// top-level semicolons. Semicolons inside quoted strings, quoted
// identifiers, dollar-quoted bodies and comments do not split. Segments
// containing only whitespace or comments are dropped, so a comment-only
// file yields no statements.
//
// Statements are returned without their terminating semicolon.
func SplitStatements(src string) []string {
	var out []string
	start := 0
	code := false

	flush := func(end int) {
		if code {
			if s := strings.TrimSpace(src[start:end]); s != "" {
				out = append(out, s)
			}
		}
		start = end + 1
		code = false
	}

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '-' && peek(src, i+1) == '-':
			nl := strings.IndexByte(src[i:], '\n')
			if nl < 0 {
				i = len(src)
			} else {
				i += nl
			}
		case c == '/' && peek(src, i+1) == '*':
			i = skipBlockComment(src, i)
		case c == '\'':
			code = true
			backslash := i > 0 && (src[i-1] == 'E' || src[i-1] == 'e') && (i < 2 || !isIdentByte(src[i-2]))
			i = skipQuoted(src, i, '\'', backslash)
		case c == '"':
			code = true
			i = skipQuoted(src, i, '"', false)
		case c == '$':
			code = true
			if tag, ok := dollarTag(src, i); ok {
				end := strings.Index(src[i+len(tag):], tag)
				if end < 0 {
					i = len(src) - 1
				} else {
					i += len(tag) + end + len(tag) - 1
				}
			}
		case c == ';':
			flush(i)
		case c != ' ' && c != '\t' && c != '\n' && c != '\r' && c != '\f':
			code = true
		}
	}
	if start < len(src) {
		flush(len(src))
	}
	return out
}

func peek(s string, i int) byte {
	if i < len(s) {
		return s[i]
	}
	return 0
}

// skipBlockComment returns the index of the closing '/' of the (possibly
// nested) block comment starting at i.
func skipBlockComment(s string, i int) int {
	depth := 0
	for j := i; j < len(s); j++ {
		switch {
		case s[j] == '/' && peek(s, j+1) == '*':
			depth++
			j++
		case s[j] == '*' && peek(s, j+1) == '/':
			depth--
			j++
			if depth == 0 {
				return j
			}
		}
	}
	return len(s) - 1
}

// skipQuoted returns the index of the closing quote q of the literal that
// opens at i. A doubled quote is an escaped quote.
func skipQuoted(s string, i int, q byte, backslash bool) int {
	for j := i + 1; j < len(s); j++ {
		switch {
		case backslash && s[j] == '\\':
			j++
		case s[j] == q:
			if peek(s, j+1) == q {
				j++
				continue
			}
			return j
		}
	}
	return len(s) - 1
}

// dollarTag returns the $tag$ opening at i, if any. Positional parameters
// ($1) and '$' inside identifiers are not tags.
func dollarTag(s string, i int) (string, bool) {
	if i > 0 && isIdentByte(s[i-1]) {
		return "", false
	}
	j := i + 1
	for j < len(s) && isIdentByte(s[j]) {
		j++
	}
	if j >= len(s) || s[j] != '$' {
		return "", false
	}
	if j > i+1 && s[i+1] >= '0' && s[i+1] <= '9' {
		return "", false
	}
	return s[i : j+1], true
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c >= 0x80
}
