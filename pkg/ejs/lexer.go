package ejs

import "strings"

// The lexer splits template source into text and the four tag forms:
// <%= escaped output %>, <%- raw output %>, <%# comment %> and <% code %>.

// TokenKind identifies a token.
type TokenKind int

const (
	TokenText TokenKind = iota
	TokenEscaped
	TokenRaw
	TokenCode
	TokenComment
)

func (k TokenKind) String() string {
	switch k {
	case TokenText:
		return "text"
	case TokenEscaped:
		return "escaped"
	case TokenRaw:
		return "raw"
	case TokenCode:
		return "code"
	case TokenComment:
		return "comment"
	}
	return "unknown"
}

// Token is one lexical unit. Value holds the text, or the trimmed tag body.
// Line is the 1-based line the token starts on.
type Token struct {
	Kind  TokenKind
	Value string
	Line  int
}

type lexer struct {
	src  []rune
	i    int
	n    int
	line int

	text      strings.Builder
	textLine  int
	tokens    []Token
	trimNext  rune // trim marker of the previous tag
	slurpLead bool
}

func newLexer(src string) *lexer {
	r := []rune(src)
	return &lexer{src: r, n: len(r), line: 1, textLine: 1}
}

func (l *lexer) peekAt(off int) rune {
	if l.i+off >= l.n {
		return 0
	}
	return l.src[l.i+off]
}

func (l *lexer) hasPrefix(s string) bool {
	j := l.i
	for _, r := range s {
		if j >= l.n || l.src[j] != r {
			return false
		}
		j++
	}
	return true
}

func (l *lexer) advance() rune {
	r := l.src[l.i]
	l.i++
	if r == '\n' {
		l.line++
	}
	return r
}

// Lex tokenizes src. It fails only on an unterminated tag.
func Lex(src string) ([]Token, error) {
	l := newLexer(src)
	for l.i < l.n {
		if !l.hasPrefix("<%") {
			l.applyTrim()
			if l.i >= l.n {
				break
			}
			if l.text.Len() == 0 {
				l.textLine = l.line
			}
			l.text.WriteRune(l.advance())
			continue
		}
		// <%% is a literal <%.
		if l.peekAt(2) == '%' {
			if l.text.Len() == 0 {
				l.textLine = l.line
			}
			l.text.WriteString("<%")
			l.i += 3
			continue
		}
		if err := l.lexTag(); err != nil {
			return nil, err
		}
	}
	l.flushText()
	return l.tokens, nil
}

// applyTrim consumes whitespace requested by the previous tag's trim marker.
func (l *lexer) applyTrim() {
	switch l.trimNext {
	case '-':
		if l.hasPrefix("\r\n") {
			l.i += 2
			l.line++
		} else if l.hasPrefix("\n") {
			l.advance()
		}
	case '_':
		for l.i < l.n && (l.src[l.i] == ' ' || l.src[l.i] == '\t') {
			l.i++
		}
	}
	l.trimNext = 0
}

func (l *lexer) flushText() {
	if l.slurpLead {
		s := strings.TrimRight(l.text.String(), " \t")
		l.text.Reset()
		l.text.WriteString(s)
		l.slurpLead = false
	}
	if l.text.Len() > 0 {
		l.tokens = append(l.tokens, Token{Kind: TokenText, Value: l.text.String(), Line: l.textLine})
	}
	l.text.Reset()
}

func (l *lexer) lexTag() error {
	startLine := l.line
	l.i += 2
	if l.i >= l.n {
		return &ParseError{Line: startLine, Message: "Unexpected end of template after <%"}
	}
	kind := TokenCode
	switch l.src[l.i] {
	case '=':
		kind = TokenEscaped
		l.i++
	case '-':
		kind = TokenRaw
		l.i++
	case '#':
		kind = TokenComment
		l.i++
	case '_':
		l.slurpLead = true
		l.i++
	}
	l.flushText()

	var body strings.Builder
	for {
		if l.i >= l.n {
			return &ParseError{Line: startLine, Message: "Unclosed EJS tag"}
		}
		if l.hasPrefix("%%>") {
			body.WriteString("%>")
			l.i += 3
			continue
		}
		if l.hasPrefix("%>") {
			l.i += 2
			break
		}
		body.WriteRune(l.advance())
	}

	content := body.String()
	l.trimNext = 0
	if strings.HasSuffix(content, "-") || strings.HasSuffix(content, "_") {
		l.trimNext = rune(content[len(content)-1])
		content = content[:len(content)-1]
	}
	l.tokens = append(l.tokens, Token{Kind: kind, Value: strings.TrimSpace(content), Line: startLine})
	l.textLine = l.line
	return nil
}
