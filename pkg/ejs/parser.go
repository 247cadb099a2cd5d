package ejs

import (
	"fmt"
	"strings"
)

// Parse lexes and parses src into a Template named name.
//
// Nesting in the template language is carried only by braces inside code
// tags, so the parser rebuilds control flow from the flat token stream: an
// opening code tag such as `if (x) {` starts a recursive parse that stops at
// a terminator tag (`}`, `} else {`, `} else if ...`), which the caller then
// consumes. Constructs whose body cannot be located degrade to CodeNode.
func Parse(name, src string) (*Template, error) {
	tokens, err := Lex(src)
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			pe.Template = name
		}
		return nil, err
	}
	p := &parser{tokens: tokens, name: name}
	nodes, _, err := p.parseNodes(nil)
	if err != nil {
		return nil, err
	}
	return &Template{Name: name, Source: src, Nodes: nodes}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(name, src string) *Template {
	t, err := Parse(name, src)
	if err != nil {
		panic(err)
	}
	return t
}

var (
	ifTerminators   = []string{"}", "}else{", "}elseif"}
	eachTerminators = []string{"})", "});"}
	blockTerminator = []string{"}"}
)

type parser struct {
	tokens []Token
	pos    int
	name   string
}

func (p *parser) errorf(line int, format string, args ...any) error {
	return &ParseError{Template: p.name, Line: line, Message: fmt.Sprintf(format, args...)}
}

// parseNodes parses until a code token matching one of terminators, which is
// left unconsumed. The bool result reports whether a terminator was seen.
func (p *parser) parseNodes(terminators []string) ([]Node, bool, error) {
	nodes := []Node{}
	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		if tok.Kind == TokenCode && matchesTerminator(tok.Value, terminators) {
			return nodes, true, nil
		}
		p.pos++
		switch tok.Kind {
		case TokenText:
			nodes = append(nodes, &TextNode{Text: tok.Value})
		case TokenEscaped:
			nodes = append(nodes, &OutputNode{Expr: tok.Value, Line: tok.Line})
		case TokenRaw:
			nodes = append(nodes, &OutputNode{Expr: tok.Value, Raw: true, Line: tok.Line})
		case TokenComment:
			nodes = append(nodes, &CommentNode{Text: tok.Value})
		case TokenCode:
			n, err := p.parseCode(tok)
			if err != nil {
				return nil, false, err
			}
			if n != nil {
				nodes = append(nodes, n)
			}
		}
	}
	return nodes, false, nil
}

func matchesTerminator(code string, terminators []string) bool {
	c := compact(code)
	for _, t := range terminators {
		if strings.HasPrefix(c, t) {
			return true
		}
	}
	return false
}

// isCloser reports whether code only closes blocks that were already consumed.
func isCloser(code string) bool {
	c := compact(code)
	if c == "" {
		return true
	}
	if strings.HasPrefix(c, "}else") {
		return true
	}
	return strings.Trim(c, "});") == ""
}

func (p *parser) parseCode(tok Token) (Node, error) {
	code := strings.TrimSpace(tok.Value)
	if isCloser(code) {
		return nil, nil
	}
	if opens, balance := braceBalance(code); opens > 0 && balance == 0 && strings.Contains(code, "if") {
		return group(p.parseInline(code, tok.Line)), nil
	}

	stmts := splitStatements(code)
	var nodes []Node
	for _, s := range stmts[:len(stmts)-1] {
		nodes = append(nodes, parseSimple(s, tok.Line)...)
	}
	last, err := p.parseStructural(stmts[len(stmts)-1], tok.Line)
	if err != nil {
		return nil, err
	}
	if last != nil {
		nodes = append(nodes, last)
	}
	return group(nodes), nil
}

func group(nodes []Node) Node {
	switch len(nodes) {
	case 0:
		return nil
	case 1:
		return nodes[0]
	}
	return &SequenceNode{Nodes: nodes}
}

// parseStructural handles a statement that may open a block spanning the
// following tokens.
func (p *parser) parseStructural(code string, line int) (Node, error) {
	_, balance := braceBalance(code)
	switch {
	case hasKeyword(code, "if"):
		if balance > 0 {
			return p.parseIf(code, line)
		}
		return group(p.parseInline(code, line)), nil
	case strings.Contains(code, ".each(") || strings.Contains(code, ".forEach("):
		if balance > 0 {
			return p.parseEach(code, line)
		}
	case hasKeyword(code, "for"):
		if balance > 0 {
			return p.parseFor(code, line)
		}
		return group(p.parseInline(code, line)), nil
	}
	if balance > 0 {
		return &CodeNode{Code: code, Line: line}, nil
	}
	return group(parseSimple(code, line)), nil
}

// openerTail returns the statements written after the opening brace of a
// block opener, e.g. `var x = 1;` in `if (a) { var x = 1;`.
func (p *parser) openerTail(code string, from, line int) []Node {
	nodes := []Node{}
	i := strings.IndexByte(code[from:], '{')
	if i < 0 {
		return nodes
	}
	if tail := strings.TrimSpace(code[from+i+1:]); tail != "" {
		nodes = append(nodes, p.parseInline(tail, line)...)
	}
	return nodes
}

func (p *parser) parseIf(code string, line int) (Node, error) {
	cond, end := extractCondition(code)
	if end < 0 {
		return &CodeNode{Code: code, Line: line}, nil
	}
	n := &IfNode{Cond: cond, Line: line}
	then, ok, err := p.parseNodes(ifTerminators)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, p.errorf(line, "unclosed if block")
	}
	n.Then = append(p.openerTail(code, end, line), then...)

	for p.pos < len(p.tokens) {
		next := p.tokens[p.pos]
		c := compact(next.Value)
		switch {
		case strings.HasPrefix(c, "}elseif"):
			p.pos++
			rest := strings.TrimSpace(next.Value)
			rest = strings.TrimSpace(strings.TrimPrefix(rest, "}"))
			rest = strings.TrimSpace(strings.TrimPrefix(rest, "else"))
			cond, end := extractCondition(rest)
			body, ok, err := p.parseNodes(ifTerminators)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, p.errorf(next.Line, "unclosed else if block")
			}
			if end >= 0 {
				body = append(p.openerTail(rest, end, next.Line), body...)
			}
			n.ElseIfs = append(n.ElseIfs, ElseIfBranch{Cond: cond, Body: body})
		case strings.HasPrefix(c, "}else"):
			p.pos++
			body, ok, err := p.parseNodes(blockTerminator)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, p.errorf(next.Line, "unclosed else block")
			}
			n.Else = append(p.openerTail(next.Value, 0, next.Line), body...)
			p.consumeCloser("}")
			return n, nil
		default:
			p.consumeCloser("}")
			return n, nil
		}
	}
	return n, nil
}

// consumeCloser removes closer from the front of the current code token. A
// token holding only the closer is skipped; one holding more, such as `} })`,
// keeps the remainder for the enclosing block.
func (p *parser) consumeCloser(closer string) {
	if p.pos >= len(p.tokens) || p.tokens[p.pos].Kind != TokenCode {
		return
	}
	c := compact(p.tokens[p.pos].Value)
	if !strings.HasPrefix(c, closer) {
		return
	}
	rest := strings.TrimLeft(c[len(closer):], ";")
	if rest == "" {
		p.pos++
		return
	}
	code := strings.TrimSpace(p.tokens[p.pos].Value)
	for _, r := range closer {
		code = strings.TrimSpace(code)
		code = strings.TrimPrefix(code, string(r))
	}
	p.tokens[p.pos].Value = strings.TrimLeft(strings.TrimSpace(code), ";")
}

func (p *parser) parseEach(code string, line int) (Node, error) {
	var arrayExpr, rest string
	if i := strings.Index(code, ".each("); i >= 0 {
		arrayExpr, rest = code[:i], code[i+len(".each("):]
	} else {
		i := strings.Index(code, ".forEach(")
		arrayExpr, rest = code[:i], code[i+len(".forEach("):]
	}
	rest = strings.TrimSpace(rest)

	var params string
	var bodyFrom int
	switch {
	case hasKeyword(rest, "function"):
		open := strings.IndexByte(rest, '(')
		close := strings.IndexByte(rest, ')')
		if open < 0 || close < open {
			return &CodeNode{Code: code, Line: line}, nil
		}
		params, bodyFrom = rest[open+1:close], close
	case strings.Contains(rest, "=>"):
		arrow := strings.Index(rest, "=>")
		params = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(rest[:arrow]), "("), ")")
		bodyFrom = arrow
	default:
		return &CodeNode{Code: code, Line: line}, nil
	}
	names := strings.Split(params, ",")
	item := strings.TrimSpace(names[0])
	if !isIdentifier(item) {
		return &CodeNode{Code: code, Line: line}, nil
	}
	n := &EachNode{ArrayExpr: strings.TrimSpace(arrayExpr), ItemVar: item, Line: line}
	if len(names) > 1 {
		n.IndexVar = strings.TrimSpace(names[1])
	}

	body, ok, err := p.parseNodes(eachTerminators)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, p.errorf(line, "unclosed %s loop", strings.TrimSpace(arrayExpr))
	}
	n.Body = append(p.openerTail(rest, bodyFrom, line), body...)
	p.consumeCloser("})")
	return n, nil
}

func (p *parser) parseFor(code string, line int) (Node, error) {
	header, end := extractCondition(code)
	if end < 0 {
		return &CodeNode{Code: code, Line: line}, nil
	}
	v, expr, kind := splitForHeader(header)
	if kind == "" {
		return &CodeNode{Code: code, Line: line}, nil
	}
	body, ok, err := p.parseNodes(blockTerminator)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, p.errorf(line, "unclosed for loop")
	}
	body = append(p.openerTail(code, end, line), body...)
	p.consumeCloser("}")
	if kind == "of" {
		return &ForOfNode{ItemVar: v, Iterable: expr, Body: body, Line: line}, nil
	}
	return &ForInNode{KeyVar: v, ObjectExpr: expr, Body: body, Line: line}, nil
}

// splitForHeader splits `const x of xs` or `key in obj`.
func splitForHeader(header string) (name, expr, kind string) {
	for _, k := range []string{"of", "in"} {
		sep := " " + k + " "
		if i := strings.Index(header, sep); i >= 0 {
			name = strings.TrimSpace(header[:i])
			for _, kw := range []string{"const ", "let ", "var "} {
				name = strings.TrimSpace(strings.TrimPrefix(name, kw))
			}
			if !isIdentifier(name) {
				return "", "", ""
			}
			return name, strings.TrimSpace(header[i+len(sep):]), k
		}
	}
	return "", "", ""
}

// extractCondition returns the text inside the first parenthesised group of
// code and the offset just past its closing paren; -1 if there is none.
func extractCondition(code string) (string, int) {
	open := strings.IndexByte(code, '(')
	if open < 0 {
		return "", -1
	}
	close := matchingClose(code, open)
	if close < 0 {
		return "", -1
	}
	return strings.TrimSpace(code[open+1 : close]), close + 1
}

// parseInline parses a fragment whose blocks are all closed within it.
func (p *parser) parseInline(code string, line int) []Node {
	var nodes []Node
	s := code
	for {
		s = strings.TrimSpace(s)
		if s == "" {
			return nodes
		}
		switch {
		case strings.HasPrefix(s, "//"):
			if i := strings.IndexByte(s, '\n'); i >= 0 {
				s = s[i+1:]
				continue
			}
			return nodes
		case strings.HasPrefix(s, "/*"):
			if i := strings.Index(s, "*/"); i >= 0 {
				s = s[i+2:]
				continue
			}
			return nodes
		case s[0] == ';' || s[0] == '}':
			s = s[1:]
			continue
		case hasKeyword(s, "if"):
			n, used := p.parseInlineIf(s, line)
			nodes = append(nodes, n)
			s = s[used:]
			continue
		case hasKeyword(s, "for"):
			n, used := p.parseInlineFor(s, line)
			nodes = append(nodes, n)
			s = s[used:]
			continue
		}
		end := statementEnd(s)
		if end == 0 {
			s = s[1:]
			continue
		}
		nodes = append(nodes, parseSimple(s[:end], line)...)
		s = s[end:]
	}
}

// parseInlineIf parses an if/else-if/else chain at the start of s and
// returns it with the number of bytes consumed.
func (p *parser) parseInlineIf(s string, line int) (Node, int) {
	cond, end := extractCondition(s)
	if end < 0 {
		return &CodeNode{Code: s, Line: line}, len(s)
	}
	n := &IfNode{Cond: cond, Line: line}
	body, used, ok := p.inlineBody(s[end:], line)
	if !ok {
		return &CodeNode{Code: s, Line: line}, len(s)
	}
	n.Then = body
	pos := end + used
	for {
		rest := strings.TrimLeft(s[pos:], " \t\r\n")
		skipped := len(s[pos:]) - len(rest)
		if !hasKeyword(rest, "else") {
			return n, pos
		}
		after := strings.TrimLeft(rest[len("else"):], " \t\r\n")
		elsePos := pos + skipped + (len(rest) - len(after))
		if hasKeyword(after, "if") {
			cond, cend := extractCondition(after)
			if cend < 0 {
				return n, pos
			}
			body, used, ok := p.inlineBody(after[cend:], line)
			if !ok {
				return n, pos
			}
			n.ElseIfs = append(n.ElseIfs, ElseIfBranch{Cond: cond, Body: body})
			pos = elsePos + cend + used
			continue
		}
		body, used, ok := p.inlineBody(after, line)
		if !ok {
			return n, pos
		}
		n.Else = body
		return n, elsePos + used
	}
}

func (p *parser) parseInlineFor(s string, line int) (Node, int) {
	header, end := extractCondition(s)
	if end < 0 {
		return &CodeNode{Code: s, Line: line}, len(s)
	}
	v, expr, kind := splitForHeader(header)
	body, used, ok := p.inlineBody(s[end:], line)
	if kind == "" || !ok {
		return &CodeNode{Code: s, Line: line}, len(s)
	}
	if kind == "of" {
		return &ForOfNode{ItemVar: v, Iterable: expr, Body: body, Line: line}, end + used
	}
	return &ForInNode{KeyVar: v, ObjectExpr: expr, Body: body, Line: line}, end + used
}

// inlineBody parses a braced block or a single statement at the start of s.
func (p *parser) inlineBody(s string, line int) ([]Node, int, bool) {
	trimmed := strings.TrimLeft(s, " \t\r\n")
	lead := len(s) - len(trimmed)
	if trimmed == "" {
		return nil, 0, false
	}
	if trimmed[0] == '{' {
		close := matchingClose(trimmed, 0)
		if close < 0 {
			return nil, 0, false
		}
		body := p.parseInline(trimmed[1:close], line)
		if body == nil {
			body = []Node{}
		}
		return body, lead + close + 1, true
	}
	end := statementEnd(trimmed)
	return parseSimple(trimmed[:end], line), lead + end, true
}

// statementEnd returns the length of the first statement in s, including a
// terminating semicolon. A newline ends a statement when the next line
// starts a new one.
func statementEnd(s string) int {
	depth := 0
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
			if depth == 0 {
				return i
			}
			depth--
		case ';':
			if depth == 0 {
				return i + 1
			}
		case '\n':
			if depth == 0 && newlineEndsStatement(s[:i], s[i+1:]) {
				return i
			}
		}
		i++
	}
	return len(s)
}

func newlineEndsStatement(before, after string) bool {
	prev := strings.TrimRight(before, " \t\r")
	next := strings.TrimLeft(after, " \t\r\n")
	if prev == "" || next == "" {
		return false
	}
	if strings.ContainsRune("+-*/%=&|?:,.(<>!", rune(prev[len(prev)-1])) {
		return false
	}
	return !strings.ContainsRune("+-*/%=&|?:,.)]}<>", rune(next[0]))
}

// splitStatements splits code at top-level statement boundaries.
func splitStatements(code string) []string {
	var out []string
	s := strings.TrimSpace(code)
	for s != "" {
		end := statementEnd(s)
		if end == 0 {
			end = 1
		}
		if stmt := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s[:end]), ";")); stmt != "" {
			out = append(out, stmt)
		}
		s = strings.TrimSpace(s[end:])
	}
	if len(out) == 0 {
		out = []string{""}
	}
	return out
}

// parseSimple parses a statement that opens no block.
func parseSimple(stmt string, line int) []Node {
	stmt = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(stmt), ";"))
	if stmt == "" || strings.HasPrefix(stmt, "//") {
		return nil
	}
	for _, kw := range []string{"var", "let", "const"} {
		if !hasKeyword(stmt, kw) {
			continue
		}
		var nodes []Node
		for _, decl := range splitTopLevel(strings.TrimSpace(stmt[len(kw):]), ',') {
			decl = strings.TrimSpace(decl)
			name, expr := decl, ""
			if i := assignIndex(decl); i >= 0 {
				name, expr = strings.TrimSpace(decl[:i]), strings.TrimSpace(decl[i+1:])
			}
			if !isIdentifier(name) {
				return []Node{&CodeNode{Code: stmt, Line: line}}
			}
			nodes = append(nodes, &VarDeclNode{Kind: kw, Name: name, Expr: expr, Line: line})
		}
		return nodes
	}
	return []Node{&CodeNode{Code: stmt, Line: line}}
}

// assignIndex returns the offset of the first top-level '=' that is an
// assignment rather than part of ==, !=, <=, >= or =>.
func assignIndex(s string) int {
	depth := 0
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
		case '=':
			if depth != 0 {
				break
			}
			if i+1 < len(s) && (s[i+1] == '=' || s[i+1] == '>') {
				i += 2
				continue
			}
			if i > 0 && strings.IndexByte("=!<>", s[i-1]) >= 0 {
				break
			}
			return i
		}
		i++
	}
	return -1
}
