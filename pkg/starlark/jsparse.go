package starlark

import (
	"fmt"
	"strconv"
	"strings"
)

// The fallback engine accepts the JavaScript subset theme templates use in
// their scriptlets: declarations, if/for/while, function expressions and
// arrow functions, object and array literals, template strings and the
// usual operators. Regular expression literals, classes, switch and
// destructuring are rejected with an error.

type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokNumber
	tokString
	tokTemplate
	tokPunct
)

type jsToken struct {
	kind tokKind
	text string
	num  float64
	line int
	// nl is set when a line break precedes the token.
	nl bool
}

var puncts = []string{
	"...", "===", "!==", "**=", "??=", "||=", "&&=", ">>>",
	"=>", "==", "!=", "<=", ">=", "&&", "||", "??", "?.", "++", "--",
	"+=", "-=", "*=", "/=", "%=", "**", "<<", ">>",
	"{", "}", "(", ")", "[", "]", ";", ",", "<", ">", "+", "-", "*", "/",
	"%", "!", "?", ":", "=", ".", "&", "|", "^", "~",
}

func tokenize(src string) ([]jsToken, error) {
	var toks []jsToken
	line := 1
	nl := false
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '\n':
			line++
			nl = true
			i++
			continue
		case c == ' ' || c == '\t' || c == '\r':
			i++
			continue
		case strings.HasPrefix(src[i:], "//"):
			for i < len(src) && src[i] != '\n' {
				i++
			}
			continue
		case strings.HasPrefix(src[i:], "/*"):
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("line %d: unterminated comment", line)
			}
			line += strings.Count(src[i:i+2+end], "\n")
			i += end + 4
			continue
		}
		tok := jsToken{line: line, nl: nl}
		nl = false
		switch {
		case c == '"' || c == '\'':
			s, n, err := readQuoted(src[i:])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			tok.kind, tok.text = tokString, s
			i += n
		case c == '`':
			end := i + 1
			depth := 0
			for end < len(src) {
				if src[end] == '\\' {
					end += 2
					continue
				}
				if depth == 0 && src[end] == '`' {
					break
				}
				if strings.HasPrefix(src[end:], "${") {
					depth++
					end += 2
					continue
				}
				if depth > 0 && src[end] == '}' {
					depth--
				}
				end++
			}
			if end >= len(src) {
				return nil, fmt.Errorf("line %d: unterminated template literal", line)
			}
			tok.kind, tok.text = tokTemplate, src[i+1:end]
			line += strings.Count(tok.text, "\n")
			i = end + 1
		case c >= '0' && c <= '9' || c == '.' && i+1 < len(src) && src[i+1] >= '0' && src[i+1] <= '9':
			n, width := readNumber(src[i:])
			tok.kind, tok.num, tok.text = tokNumber, n, src[i:i+width]
			i += width
		case isIdentStartByte(c):
			j := i
			for j < len(src) && isIdentByte(src[j]) {
				j++
			}
			tok.kind, tok.text = tokIdent, src[i:j]
			i = j
		default:
			p := ""
			for _, cand := range puncts {
				if strings.HasPrefix(src[i:], cand) {
					p = cand
					break
				}
			}
			if p == "" {
				return nil, fmt.Errorf("line %d: unexpected character %q", line, c)
			}
			if p == "?." && i+2 < len(src) && src[i+2] >= '0' && src[i+2] <= '9' {
				p = "?"
			}
			tok.kind, tok.text = tokPunct, p
			i += len(p)
		}
		toks = append(toks, tok)
	}
	return append(toks, jsToken{kind: tokEOF, line: line, nl: true}), nil
}

func isIdentStartByte(c byte) bool {
	return c == '_' || c == '$' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

func isIdentByte(c byte) bool { return isIdentStartByte(c) || c >= '0' && c <= '9' }

// readQuoted decodes a '...' or "..." literal at the start of s.
func readQuoted(s string) (string, int, error) {
	q := s[0]
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == q:
			return b.String(), i + 1, nil
		case c == '\n':
			return "", 0, fmt.Errorf("newline in string literal")
		case c == '\\' && i+1 < len(s):
			i++
			n := unescape(&b, s, i)
			i += n
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, fmt.Errorf("unterminated string literal")
}

// unescape writes the escape sequence whose letter is at s[i] and returns
// how many further bytes it consumed.
func unescape(b *strings.Builder, s string, i int) int {
	switch s[i] {
	case 'n':
		b.WriteByte('\n')
	case 't':
		b.WriteByte('\t')
	case 'r':
		b.WriteByte('\r')
	case 'b':
		b.WriteByte('\b')
	case 'f':
		b.WriteByte('\f')
	case 'v':
		b.WriteByte('\v')
	case '0':
		b.WriteByte(0)
	case '\n':
	case 'x':
		if i+2 < len(s) {
			if r, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				b.WriteRune(rune(r))
				return 2
			}
		}
		b.WriteByte('x')
	case 'u':
		if i+4 < len(s) {
			if r, err := strconv.ParseUint(s[i+1:i+5], 16, 32); err == nil {
				b.WriteRune(rune(r))
				return 4
			}
		}
		b.WriteByte('u')
	default:
		b.WriteByte(s[i])
	}
	return 0
}

func readNumber(s string) (float64, int) {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		i := 2
		for i < len(s) && strings.IndexByte("0123456789abcdefABCDEF_", s[i]) >= 0 {
			i++
		}
		n, _ := strconv.ParseUint(strings.ReplaceAll(s[2:i], "_", ""), 16, 64)
		return float64(n), i
	}
	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.' || s[i] == '_') {
		i++
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		if j < len(s) && s[j] >= '0' && s[j] <= '9' {
			for j < len(s) && s[j] >= '0' && s[j] <= '9' {
				j++
			}
			i = j
		}
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s[:i], "_", ""), 64)
	if err != nil {
		return 0, i
	}
	return f, i
}

// Syntax tree of the accepted subset.

type jsExpr interface{ expr() }

type (
	numLit  struct{ v float64 }
	strLit  struct{ v string }
	tplLit  struct{ parts []jsExpr }
	ident   struct{ name string }
	spread  struct{ x jsExpr }
	arrLit  struct{ elems []jsExpr }
	objProp struct {
		key      string
		computed jsExpr
		value    jsExpr
		spread   bool
	}
	objLit  struct{ props []objProp }
	funcLit struct {
		params []string
		body   []jsStmt
		// result is the body of an expression-bodied arrow function.
		result jsExpr
	}
	unaryExpr struct {
		op string
		x  jsExpr
	}
	updateExpr struct {
		op     string
		prefix bool
		x      jsExpr
	}
	binaryExpr struct {
		op   string
		l, r jsExpr
	}
	condExpr   struct{ test, yes, no jsExpr }
	assignExpr struct {
		op            string
		target, value jsExpr
	}
	memberExpr struct {
		x    jsExpr
		name string
	}
	indexExpr struct{ x, key jsExpr }
	callExpr  struct {
		fn   jsExpr
		args []jsExpr
	}
	newExpr struct {
		name string
		args []jsExpr
	}
	seqExpr struct{ list []jsExpr }
)

func (numLit) expr()     {}
func (strLit) expr()     {}
func (tplLit) expr()     {}
func (ident) expr()      {}
func (spread) expr()     {}
func (arrLit) expr()     {}
func (objLit) expr()     {}
func (*funcLit) expr()   {}
func (unaryExpr) expr()  {}
func (updateExpr) expr() {}
func (binaryExpr) expr() {}
func (condExpr) expr()   {}
func (assignExpr) expr() {}
func (memberExpr) expr() {}
func (indexExpr) expr()  {}
func (callExpr) expr()   {}
func (newExpr) expr()    {}
func (seqExpr) expr()    {}

type jsStmt interface{ stmt() }

type (
	varStmt struct {
		names []string
		inits []jsExpr
	}
	exprStmt struct{ x jsExpr }
	ifStmt   struct {
		test      jsExpr
		then, els []jsStmt
	}
	forStmt struct {
		init []jsStmt
		test jsExpr
		step jsExpr
		body []jsStmt
	}
	forEachStmt struct {
		name string
		in   bool
		x    jsExpr
		body []jsStmt
	}
	whileStmt struct {
		test jsExpr
		body []jsStmt
	}
	blockStmt  struct{ body []jsStmt }
	returnStmt struct{ x jsExpr }
	jumpStmt   struct{ word string }
	funcDecl   struct {
		name string
		fn   *funcLit
	}
)

func (varStmt) stmt()     {}
func (exprStmt) stmt()    {}
func (ifStmt) stmt()      {}
func (forStmt) stmt()     {}
func (forEachStmt) stmt() {}
func (whileStmt) stmt()   {}
func (blockStmt) stmt()   {}
func (returnStmt) stmt()  {}
func (jumpStmt) stmt()    {}
func (funcDecl) stmt()    {}

type jsParser struct {
	toks []jsToken
	pos  int
}

func parseProgram(src string) ([]jsStmt, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &jsParser{toks: toks}
	var out []jsStmt
	for !p.at(tokEOF, "") {
		s, err := p.statement()
		if err != nil {
			return nil, err
		}
		if s != nil {
			out = append(out, s)
		}
	}
	return out, nil
}

func (p *jsParser) peek() jsToken { return p.toks[p.pos] }

func (p *jsParser) peekAt(n int) jsToken {
	if p.pos+n < len(p.toks) {
		return p.toks[p.pos+n]
	}
	return p.toks[len(p.toks)-1]
}

func (p *jsParser) next() jsToken {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

// at reports whether the current token has kind k and, when text is
// non-empty, that text.
func (p *jsParser) at(k tokKind, text string) bool {
	t := p.peek()
	return t.kind == k && (text == "" || t.text == text)
}

func (p *jsParser) punct(text string) bool { return p.at(tokPunct, text) }

func (p *jsParser) keyword(word string) bool { return p.at(tokIdent, word) }

func (p *jsParser) errorf(format string, args ...any) error {
	return fmt.Errorf("line %d: %s", p.peek().line, fmt.Sprintf(format, args...))
}

func (p *jsParser) expect(text string) error {
	if !p.punct(text) {
		got := p.peek().text
		if p.at(tokEOF, "") {
			got = "end of input"
		}
		return p.errorf("expected %q, found %q", text, got)
	}
	p.next()
	return nil
}

// endStatement consumes a ';' or accepts an automatic one before '}', a
// line break or the end of input.
func (p *jsParser) endStatement() error {
	switch {
	case p.punct(";"):
		p.next()
	case p.punct("}"), p.at(tokEOF, ""), p.peek().nl:
	default:
		return p.errorf("unexpected %q", p.peek().text)
	}
	return nil
}

func (p *jsParser) statement() (jsStmt, error) {
	t := p.peek()
	if t.kind == tokPunct {
		switch t.text {
		case ";":
			p.next()
			return nil, nil
		case "{":
			body, err := p.block()
			return blockStmt{body: body}, err
		}
	}
	if t.kind == tokIdent {
		switch t.text {
		case "var", "let", "const":
			s, err := p.varDecl()
			if err != nil {
				return nil, err
			}
			return s, p.endStatement()
		case "if":
			return p.ifStatement()
		case "for":
			return p.forStatement()
		case "while":
			p.next()
			test, err := p.parenExpr()
			if err != nil {
				return nil, err
			}
			body, err := p.body()
			return whileStmt{test: test, body: body}, err
		case "do":
			p.next()
			body, err := p.body()
			if err != nil {
				return nil, err
			}
			if !p.keyword("while") {
				return nil, p.errorf("expected while after do body")
			}
			p.next()
			test, err := p.parenExpr()
			if err != nil {
				return nil, err
			}
			// do { body } while (test) runs body once before testing.
			loop := whileStmt{test: test, body: body}
			return blockStmt{body: append(append([]jsStmt{}, body...), loop)}, p.endStatement()
		case "return":
			p.next()
			if p.punct(";") || p.punct("}") || p.at(tokEOF, "") || p.peek().nl {
				return returnStmt{}, p.endStatement()
			}
			x, err := p.expression()
			if err != nil {
				return nil, err
			}
			return returnStmt{x: x}, p.endStatement()
		case "break", "continue":
			p.next()
			return jumpStmt{word: t.text}, p.endStatement()
		case "function":
			if p.peekAt(1).kind == tokIdent {
				p.next()
				name := p.next().text
				fn, err := p.functionRest()
				return funcDecl{name: name, fn: fn}, err
			}
		case "try":
			return p.tryStatement()
		case "switch", "class", "import", "export", "with", "throw":
			return nil, p.errorf("%s statements are not supported", t.text)
		}
	}
	x, err := p.expression()
	if err != nil {
		return nil, err
	}
	return exprStmt{x: x}, p.endStatement()
}

func (p *jsParser) block() ([]jsStmt, error) {
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	var out []jsStmt
	for !p.punct("}") {
		if p.at(tokEOF, "") {
			return nil, p.errorf("unclosed block")
		}
		s, err := p.statement()
		if err != nil {
			return nil, err
		}
		if s != nil {
			out = append(out, s)
		}
	}
	p.next()
	return out, nil
}

// body parses a block or a single statement.
func (p *jsParser) body() ([]jsStmt, error) {
	if p.punct("{") {
		return p.block()
	}
	s, err := p.statement()
	if err != nil || s == nil {
		return nil, err
	}
	return []jsStmt{s}, nil
}

func (p *jsParser) parenExpr() (jsExpr, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	x, err := p.expression()
	if err != nil {
		return nil, err
	}
	return x, p.expect(")")
}

func (p *jsParser) varDecl() (varStmt, error) {
	p.next()
	var s varStmt
	for {
		t := p.next()
		if t.kind != tokIdent {
			return s, p.errorf("destructuring declarations are not supported")
		}
		var init jsExpr
		if p.punct("=") {
			p.next()
			x, err := p.assignment()
			if err != nil {
				return s, err
			}
			init = x
		}
		s.names = append(s.names, t.text)
		s.inits = append(s.inits, init)
		if !p.punct(",") {
			return s, nil
		}
		p.next()
	}
}

func (p *jsParser) ifStatement() (jsStmt, error) {
	p.next()
	test, err := p.parenExpr()
	if err != nil {
		return nil, err
	}
	then, err := p.body()
	if err != nil {
		return nil, err
	}
	s := ifStmt{test: test, then: then}
	if p.keyword("else") {
		p.next()
		if s.els, err = p.body(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (p *jsParser) forStatement() (jsStmt, error) {
	p.next()
	if err := p.expect("("); err != nil {
		return nil, err
	}
	// for (x of xs) / for (const x in obj)
	off := 0
	if p.keyword("var") || p.keyword("let") || p.keyword("const") {
		off = 1
	}
	if p.peekAt(off).kind == tokIdent && (p.peekAt(off+1).text == "of" || p.peekAt(off+1).text == "in") && p.peekAt(off+1).kind == tokIdent {
		p.pos += off
		name := p.next().text
		in := p.next().text == "in"
		x, err := p.expression()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		body, err := p.body()
		return forEachStmt{name: name, in: in, x: x, body: body}, err
	}

	var s forStmt
	switch {
	case p.punct(";"):
	case off == 1:
		d, err := p.varDecl()
		if err != nil {
			return nil, err
		}
		s.init = []jsStmt{d}
	default:
		x, err := p.expression()
		if err != nil {
			return nil, err
		}
		s.init = []jsStmt{exprStmt{x: x}}
	}
	if err := p.expect(";"); err != nil {
		return nil, err
	}
	if !p.punct(";") {
		x, err := p.expression()
		if err != nil {
			return nil, err
		}
		s.test = x
	}
	if err := p.expect(";"); err != nil {
		return nil, err
	}
	if !p.punct(")") {
		x, err := p.expression()
		if err != nil {
			return nil, err
		}
		s.step = x
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	body, err := p.body()
	s.body = body
	return s, err
}

// tryStatement keeps the try and finally bodies; the script engine has no
// exceptions to catch.
func (p *jsParser) tryStatement() (jsStmt, error) {
	p.next()
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	if p.keyword("catch") {
		p.next()
		if p.punct("(") {
			for !p.punct(")") && !p.at(tokEOF, "") {
				p.next()
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
		}
		if _, err := p.block(); err != nil {
			return nil, err
		}
	}
	if p.keyword("finally") {
		p.next()
		fin, err := p.block()
		if err != nil {
			return nil, err
		}
		body = append(body, fin...)
	}
	return blockStmt{body: body}, nil
}

func (p *jsParser) expression() (jsExpr, error) {
	x, err := p.assignment()
	if err != nil {
		return nil, err
	}
	if !p.punct(",") {
		return x, nil
	}
	seq := seqExpr{list: []jsExpr{x}}
	for p.punct(",") {
		p.next()
		y, err := p.assignment()
		if err != nil {
			return nil, err
		}
		seq.list = append(seq.list, y)
	}
	return seq, nil
}

var assignOps = map[string]bool{
	"=": true, "+=": true, "-=": true, "*=": true, "/=": true, "%=": true,
	"||=": true, "&&=": true, "??=": true,
}

func (p *jsParser) assignment() (jsExpr, error) {
	if fn, ok, err := p.arrowFunction(); ok || err != nil {
		return fn, err
	}
	x, err := p.conditional()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind == tokPunct && assignOps[t.text] {
		switch x.(type) {
		case ident, memberExpr, indexExpr:
		default:
			return nil, p.errorf("invalid assignment target")
		}
		p.next()
		v, err := p.assignment()
		if err != nil {
			return nil, err
		}
		return assignExpr{op: t.text, target: x, value: v}, nil
	}
	return x, nil
}

// arrowFunction parses `x => ...` and `(a, b) => ...` when the tokens
// ahead form one.
func (p *jsParser) arrowFunction() (jsExpr, bool, error) {
	start := p.pos
	var params []string
	switch {
	case p.at(tokIdent, "") && p.peekAt(1).text == "=>" && p.peekAt(1).kind == tokPunct:
		params = []string{p.next().text}
	case p.punct("("):
		depth := 0
		i := p.pos
		for ; i < len(p.toks); i++ {
			t := p.toks[i]
			if t.kind == tokEOF {
				return nil, false, nil
			}
			if t.kind != tokPunct {
				continue
			}
			if t.text == "(" || t.text == "[" || t.text == "{" {
				depth++
			} else if t.text == ")" || t.text == "]" || t.text == "}" {
				depth--
				if depth == 0 {
					break
				}
			}
		}
		if i+1 >= len(p.toks) || p.toks[i+1].kind != tokPunct || p.toks[i+1].text != "=>" {
			return nil, false, nil
		}
		p.next()
		var err error
		if params, err = p.paramList(); err != nil {
			return nil, true, err
		}
	default:
		return nil, false, nil
	}
	if !p.punct("=>") {
		p.pos = start
		return nil, false, nil
	}
	p.next()
	fn := &funcLit{params: params}
	if p.punct("{") {
		body, err := p.block()
		fn.body = body
		return fn, true, err
	}
	x, err := p.assignment()
	fn.result = x
	return fn, true, err
}

// paramList parses parameter names up to and including ')'. Default
// values are accepted and ignored.
func (p *jsParser) paramList() ([]string, error) {
	var params []string
	for !p.punct(")") {
		if p.punct("...") {
			p.next()
		}
		t := p.next()
		if t.kind != tokIdent {
			return nil, p.errorf("unsupported parameter %q", t.text)
		}
		params = append(params, t.text)
		if p.punct("=") {
			p.next()
			if _, err := p.assignment(); err != nil {
				return nil, err
			}
		}
		if p.punct(",") {
			p.next()
		} else if !p.punct(")") {
			return nil, p.errorf("expected ',' or ')' in parameters")
		}
	}
	p.next()
	return params, nil
}

// functionRest parses `(params) { body }` after `function [name]`.
func (p *jsParser) functionRest() (*funcLit, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	params, err := p.paramList()
	if err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	return &funcLit{params: params, body: body}, nil
}

func (p *jsParser) conditional() (jsExpr, error) {
	test, err := p.binary(0)
	if err != nil {
		return nil, err
	}
	if !p.punct("?") {
		return test, nil
	}
	p.next()
	yes, err := p.assignment()
	if err != nil {
		return nil, err
	}
	if err := p.expect(":"); err != nil {
		return nil, err
	}
	no, err := p.assignment()
	if err != nil {
		return nil, err
	}
	return condExpr{test: test, yes: yes, no: no}, nil
}

// binaryLevels lists binary operators from lowest to highest precedence.
var binaryLevels = [][]string{
	{"??"},
	{"||"},
	{"&&"},
	{"|"},
	{"^"},
	{"&"},
	{"===", "!==", "==", "!="},
	{"<", ">", "<=", ">=", "in", "instanceof"},
	{"<<", ">>", ">>>"},
	{"+", "-"},
	{"*", "/", "%"},
	{"**"},
}

func (p *jsParser) binaryOp(level int) (string, bool) {
	t := p.peek()
	if t.kind != tokPunct && !(t.kind == tokIdent && (t.text == "in" || t.text == "instanceof")) {
		return "", false
	}
	for _, op := range binaryLevels[level] {
		if t.text == op {
			return op, true
		}
	}
	return "", false
}

func (p *jsParser) binary(level int) (jsExpr, error) {
	if level == len(binaryLevels) {
		return p.unary()
	}
	x, err := p.binary(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.binaryOp(level)
		if !ok {
			return x, nil
		}
		p.next()
		y, err := p.binary(level + 1)
		if err != nil {
			return nil, err
		}
		x = binaryExpr{op: op, l: x, r: y}
	}
}

func (p *jsParser) unary() (jsExpr, error) {
	t := p.peek()
	if t.kind == tokPunct {
		switch t.text {
		case "!", "-", "+", "~":
			p.next()
			x, err := p.unary()
			return unaryExpr{op: t.text, x: x}, err
		case "++", "--":
			p.next()
			x, err := p.unary()
			return updateExpr{op: t.text, prefix: true, x: x}, err
		}
	}
	if t.kind == tokIdent {
		switch t.text {
		case "typeof", "void", "delete":
			p.next()
			x, err := p.unary()
			return unaryExpr{op: t.text, x: x}, err
		case "new":
			p.next()
			name := p.next()
			if name.kind != tokIdent {
				return nil, p.errorf("expected constructor name after new")
			}
			var args []jsExpr
			if p.punct("(") {
				p.next()
				var err error
				if args, err = p.arguments(); err != nil {
					return nil, err
				}
			}
			return p.postfix(newExpr{name: name.text, args: args})
		}
	}
	x, err := p.primary()
	if err != nil {
		return nil, err
	}
	return p.postfix(x)
}

func (p *jsParser) postfix(x jsExpr) (jsExpr, error) {
	for {
		t := p.peek()
		if t.kind != tokPunct {
			return x, nil
		}
		switch t.text {
		case ".", "?.":
			p.next()
			switch {
			case t.text == "?." && p.punct("("):
				p.next()
				args, err := p.arguments()
				if err != nil {
					return nil, err
				}
				x = callExpr{fn: x, args: args}
			case t.text == "?." && p.punct("["):
				p.next()
				key, err := p.expression()
				if err != nil {
					return nil, err
				}
				if err := p.expect("]"); err != nil {
					return nil, err
				}
				x = indexExpr{x: x, key: key}
			default:
				name := p.next()
				if name.kind != tokIdent {
					return nil, p.errorf("expected property name after %q", t.text)
				}
				x = memberExpr{x: x, name: name.text}
			}
		case "[":
			p.next()
			key, err := p.expression()
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			x = indexExpr{x: x, key: key}
		case "(":
			p.next()
			args, err := p.arguments()
			if err != nil {
				return nil, err
			}
			x = callExpr{fn: x, args: args}
		case "++", "--":
			if t.nl {
				return x, nil
			}
			p.next()
			x = updateExpr{op: t.text, x: x}
		default:
			return x, nil
		}
	}
}

// arguments parses a call's arguments up to and including ')'.
func (p *jsParser) arguments() ([]jsExpr, error) {
	var args []jsExpr
	for !p.punct(")") {
		var a jsExpr
		var err error
		if p.punct("...") {
			p.next()
			var x jsExpr
			x, err = p.assignment()
			a = spread{x: x}
		} else {
			a, err = p.assignment()
		}
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.punct(",") {
			p.next()
		} else if !p.punct(")") {
			return nil, p.errorf("expected ',' or ')' in arguments")
		}
	}
	p.next()
	return args, nil
}

func (p *jsParser) primary() (jsExpr, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return numLit{v: t.num}, nil
	case tokString:
		return strLit{v: t.text}, nil
	case tokTemplate:
		return parseTemplateLiteral(t.text)
	case tokIdent:
		if t.text == "function" {
			if p.at(tokIdent, "") {
				p.next()
			}
			return p.functionRest()
		}
		return ident{name: t.text}, nil
	case tokEOF:
		return nil, p.errorf("unexpected end of input")
	}
	switch t.text {
	case "(":
		x, err := p.expression()
		if err != nil {
			return nil, err
		}
		return x, p.expect(")")
	case "[":
		var elems []jsExpr
		for !p.punct("]") {
			if p.punct(",") {
				p.next()
				elems = append(elems, ident{name: "undefined"})
				continue
			}
			var x jsExpr
			var err error
			if p.punct("...") {
				p.next()
				var inner jsExpr
				inner, err = p.assignment()
				x = spread{x: inner}
			} else {
				x, err = p.assignment()
			}
			if err != nil {
				return nil, err
			}
			elems = append(elems, x)
			if p.punct(",") {
				p.next()
			} else if !p.punct("]") {
				return nil, p.errorf("expected ',' or ']' in array literal")
			}
		}
		p.next()
		return arrLit{elems: elems}, nil
	case "{":
		return p.objectLiteral()
	case "/":
		return nil, p.errorf("regular expression literals are not supported")
	}
	return nil, fmt.Errorf("line %d: unexpected %q", t.line, t.text)
}

func (p *jsParser) objectLiteral() (jsExpr, error) {
	var obj objLit
	for !p.punct("}") {
		var prop objProp
		t := p.peek()
		switch {
		case t.kind == tokPunct && t.text == "...":
			p.next()
			x, err := p.assignment()
			if err != nil {
				return nil, err
			}
			prop.spread, prop.value = true, x
		case t.kind == tokPunct && t.text == "[":
			p.next()
			k, err := p.assignment()
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			prop.computed = k
		case t.kind == tokIdent || t.kind == tokString:
			p.next()
			prop.key = t.text
		case t.kind == tokNumber:
			p.next()
			prop.key = strconv.FormatFloat(t.num, 'f', -1, 64)
		default:
			return nil, p.errorf("unexpected %q in object literal", t.text)
		}
		if !prop.spread {
			switch {
			case p.punct(":"):
				p.next()
				v, err := p.assignment()
				if err != nil {
					return nil, err
				}
				prop.value = v
			case p.punct("("):
				fn, err := p.functionRest()
				if err != nil {
					return nil, err
				}
				prop.value = fn
			case t.kind == tokIdent:
				prop.value = ident{name: t.text}
			default:
				return nil, p.errorf("expected ':' after object key")
			}
		}
		obj.props = append(obj.props, prop)
		if p.punct(",") {
			p.next()
		} else if !p.punct("}") {
			return nil, p.errorf("expected ',' or '}' in object literal")
		}
	}
	p.next()
	return obj, nil
}

// parseTemplateLiteral splits the raw body of a backtick literal into
// string parts and ${} expressions.
func parseTemplateLiteral(raw string) (jsExpr, error) {
	var lit tplLit
	var b strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c == '\\' && i+1 < len(raw) {
			i++
			i += unescape(&b, raw, i)
			continue
		}
		if c == '$' && i+1 < len(raw) && raw[i+1] == '{' {
			depth := 0
			end := i + 1
			for ; end < len(raw); end++ {
				if raw[end] == '{' {
					depth++
				} else if raw[end] == '}' {
					depth--
					if depth == 0 {
						break
					}
				}
			}
			if end >= len(raw) {
				return nil, fmt.Errorf("unclosed ${ in template literal")
			}
			if b.Len() > 0 {
				lit.parts = append(lit.parts, strLit{v: b.String()})
				b.Reset()
			}
			prog, err := parseExpression(raw[i+2 : end])
			if err != nil {
				return nil, err
			}
			lit.parts = append(lit.parts, prog)
			i = end
			continue
		}
		b.WriteByte(c)
	}
	if b.Len() > 0 || len(lit.parts) == 0 {
		lit.parts = append(lit.parts, strLit{v: b.String()})
	}
	return lit, nil
}

// parseExpression parses src as a single expression.
func parseExpression(src string) (jsExpr, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &jsParser{toks: toks}
	x, err := p.expression()
	if err != nil {
		return nil, err
	}
	if !p.at(tokEOF, "") {
		return nil, p.errorf("unexpected %q after expression", p.peek().text)
	}
	return x, nil
}
