package common

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Redact replaces every non-empty secret in s with "***". Provider URLs carry
// API keys in the path or query, so errors and logs pass through this first.
// A match is replaced only when it stands as a whole token, so a short key
// does not mangle words that happen to contain it.
func Redact(s string, secrets ...string) string {
	for _, sec := range secrets {
		if sec == "" {
			continue
		}
		s = replaceToken(s, sec, "***")
	}
	return s
}

func replaceToken(s, token, repl string) string {
	var b strings.Builder
	for {
		i := strings.Index(s, token)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := i + len(token)
		if isBoundary(s[:i], true) && isBoundary(s[end:], false) {
			b.WriteString(s[:i])
			b.WriteString(repl)
		} else {
			b.WriteString(s[:end])
		}
		s = s[end:]
	}
}

// isBoundary reports whether the rune adjacent to a match (the last rune of
// before, or the first rune of after) ends a token.
func isBoundary(side string, before bool) bool {
	if side == "" {
		return true
	}
	var r rune
	if before {
		r, _ = utf8.DecodeLastRuneInString(side)
	} else {
		r, _ = utf8.DecodeRuneInString(side)
	}
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
