package bootstrap

import (
	"regexp"
	"strings"
)

var createIndexPattern = regexp.MustCompile(`(?i)\bCREATE\s+(UNIQUE\s+)?INDEX\s+(CONCURRENTLY\s+)?(IF\s+NOT\s+EXISTS\s+)?`)

var unnamedIndexPattern = regexp.MustCompile(`(?i)^ON\s`)

// RewriteIndexStatements turns every CREATE [UNIQUE] INDEX [CONCURRENTLY]
// into its IF NOT EXISTS form. Unnamed indexes are left alone because
// Postgres requires a name with IF NOT EXISTS.
func RewriteIndexStatements(script string) string {
	matches := createIndexPattern.FindAllStringSubmatchIndex(script, -1)
	if len(matches) == 0 {
		return script
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		b.WriteString(script[last:start])
		last = end

		if unnamedIndexPattern.MatchString(script[end:]) {
			b.WriteString(script[start:end])
			continue
		}

		b.WriteString("CREATE ")
		if m[2] >= 0 {
			b.WriteString("UNIQUE ")
		}
		b.WriteString("INDEX ")
		if m[4] >= 0 {
			b.WriteString("CONCURRENTLY ")
		}
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(script[last:])
	return b.String()
}

// SplitStatements splits a SQL script on top-level semicolons. Quoted
// strings, quoted identifiers, comments and dollar-quoted bodies are kept
// intact. Empty statements are dropped.
func SplitStatements(script string) []string {
	var out []string
	var cur strings.Builder

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" && !isCommentOnly(s) {
			out = append(out, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case c == '\'' || c == '"':
			j := i + 1
			for j < len(script) {
				if script[j] == c {
					if j+1 < len(script) && script[j+1] == c {
						j += 2
						continue
					}
					break
				}
				j++
			}
			end := min(j+1, len(script))
			cur.WriteString(script[i:end])
			i = end - 1
		case c == '-' && i+1 < len(script) && script[i+1] == '-':
			j := strings.IndexByte(script[i:], '\n')
			if j < 0 {
				j = len(script) - i
			}
			cur.WriteString(script[i : i+j])
			i += j - 1
		case c == '/' && i+1 < len(script) && script[i+1] == '*':
			j := strings.Index(script[i+2:], "*/")
			end := len(script)
			if j >= 0 {
				end = i + 2 + j + 2
			}
			cur.WriteString(script[i:end])
			i = end - 1
		case c == '$':
			tag := dollarTag(script[i:])
			if tag == "" {
				cur.WriteByte(c)
				continue
			}
			j := strings.Index(script[i+len(tag):], tag)
			end := len(script)
			if j >= 0 {
				end = i + len(tag) + j + len(tag)
			}
			cur.WriteString(script[i:end])
			i = end - 1
		case c == ';':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return out
}

// dollarTag returns the opening $tag$ at the start of s, or "".
func dollarTag(s string) string {
	for i := 1; i < len(s); i++ {
		c := s[i]
		if c == '$' {
			return s[:i+1]
		}
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || i > 1 && c >= '0' && c <= '9') {
			return ""
		}
	}
	return ""
}

func isCommentOnly(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}
