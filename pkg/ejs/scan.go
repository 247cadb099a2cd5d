package ejs

import (
	"strings"
	"unicode"
)

// Quote- and bracket-aware string scanning shared by the parser and the
// evaluator. All positions are byte offsets; every delimiter the scanners
// look for is ASCII, so multi-byte text inside strings is skipped safely.

func isQuote(c byte) bool { return c == '"' || c == '\'' || c == '`' }

// skipString returns the offset just past the string literal starting at i.
// If the literal is unterminated it returns len(s).
func skipString(s string, i int) int {
	q := s[i]
	j := i + 1
	for j < len(s) {
		c := s[j]
		switch {
		case c == '\\':
			j += 2
			continue
		case c == q:
			return j + 1
		case q == '`' && c == '$' && j+1 < len(s) && s[j+1] == '{':
			end := matchingClose(s, j+1)
			if end < 0 {
				return len(s)
			}
			j = end + 1
			continue
		}
		j++
	}
	return len(s)
}

// matchingClose returns the offset of the bracket closing the one at open,
// or -1.
func matchingClose(s string, open int) int {
	depth := 0
	for i := open; i < len(s); {
		c := s[i]
		if isQuote(c) {
			i = skipString(s, i)
			continue
		}
		switch c {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth == 0 {
				return i
			}
		}
		i++
	}
	return -1
}

// braceBalance counts '{' minus '}' outside string literals.
func braceBalance(s string) (opens, balance int) {
	for i := 0; i < len(s); {
		c := s[i]
		if isQuote(c) {
			i = skipString(s, i)
			continue
		}
		switch c {
		case '{':
			opens++
			balance++
		case '}':
			balance--
		}
		i++
	}
	return opens, balance
}

// splitTopLevel splits s at sep where sep is outside strings and brackets.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); {
		c := s[i]
		if isQuote(c) {
			i = skipString(s, i)
			continue
		}
		switch c {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
		i++
	}
	return append(parts, s[start:])
}

// compact removes all whitespace, so "} else {" and "}else{" compare equal.
func compact(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// isIdentifier reports whether s is a single JavaScript identifier.
func isIdentifier(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentChar(s[i]) {
			return false
		}
	}
	return true
}

// hasKeyword reports whether s starts with keyword followed by a non-identifier character.
func hasKeyword(s, keyword string) bool {
	if !strings.HasPrefix(s, keyword) {
		return false
	}
	return len(s) == len(keyword) || !isIdentChar(s[len(keyword)])
}
