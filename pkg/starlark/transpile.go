package starlark

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/hexgo/hexgo/pkg/ejs"
)

// A template compiles to one Starlark module:
//
//	_out = []
//	def _render():
//	    <statements>
//	_render()
//
// Template variables live in the predeclared dict _env and every function
// literal gets its own scope dict, so JavaScript's mutable closures map
// onto Starlark dict updates. Operators and member access go through the
// runtime builtins in builtins.go, which share their semantics with the
// native evaluator.

// templateScript turns EJS source into a script where text and output tags
// become __emit and __escape calls. Lines of the script follow the lines
// of the template.
func templateScript(src string) (string, error) {
	toks, err := ejs.Lex(src)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	line := 1
	pad := func(to int) {
		for ; line < to; line++ {
			b.WriteByte('\n')
		}
	}
	for _, t := range toks {
		pad(t.Line)
		switch t.Kind {
		case ejs.TokenText:
			if t.Value == "" {
				continue
			}
			b.WriteString("__emit(" + jsQuote(t.Value) + ");")
		case ejs.TokenEscaped, ejs.TokenRaw:
			fn := "__escape"
			if t.Kind == ejs.TokenRaw {
				fn = "__emit"
			}
			code := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t.Value), ";"))
			if code == "" {
				continue
			}
			b.WriteString(fn + "(" + code + "\n);")
			line += strings.Count(code, "\n") + 1
		case ejs.TokenCode:
			b.WriteString(t.Value + "\n")
			line += strings.Count(t.Value, "\n") + 1
		}
	}
	return b.String(), nil
}

// jsQuote renders s as a double-quoted script string literal on one line.
func jsQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\x%02x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

// Transpile compiles EJS template source to Starlark source.
func Transpile(src string) (string, error) {
	script, err := templateScript(src)
	if err != nil {
		return "", err
	}
	prog, err := parseProgram(script)
	if err != nil {
		return "", err
	}
	return generate(prog), nil
}

// TranspileExpression compiles a single expression to a Starlark module
// that stores its value in _result.
func TranspileExpression(expr string) (string, error) {
	x, err := parseExpression(expr)
	if err != nil {
		return "", err
	}
	g := newCodegen(nil)
	g.raw("_out = []\n\ndef _render():\n")
	g.indent = 1
	g.line("return " + g.expr(x))
	g.indent = 0
	g.raw("\n_result = _render()\n")
	return g.out.String(), nil
}

type scope struct {
	dict  string
	names map[string]bool
}

type codegen struct {
	out     *strings.Builder
	indent  int
	lines   int
	pending []string
	scopes  []*scope
	nfunc   int
	ntmp    int
}

func newCodegen(top []jsStmt) *codegen {
	return &codegen{
		out:    &strings.Builder{},
		scopes: []*scope{{dict: "_env", names: declaredNames(top, nil)}},
	}
}

func generate(prog []jsStmt) string {
	g := newCodegen(prog)
	g.raw("_out = []\n\ndef _render():\n")
	g.indent = 1
	g.body(prog)
	g.indent = 0
	g.raw("\n_render()\n")
	return g.out.String()
}

func (g *codegen) raw(s string) { g.out.WriteString(s) }

// line writes one statement, preceded by any function definitions its
// expressions produced.
func (g *codegen) line(s string) {
	pad := strings.Repeat("    ", g.indent)
	pending := g.pending
	g.pending = nil
	for _, def := range pending {
		for _, l := range strings.Split(strings.TrimRight(def, "\n"), "\n") {
			g.out.WriteString(pad + l + "\n")
		}
	}
	g.out.WriteString(pad + s + "\n")
	g.lines++
}

func (g *codegen) tmp(prefix string) string {
	g.ntmp++
	return fmt.Sprintf("_%s%d", prefix, g.ntmp)
}

// body writes stmts as an indented block, hoisting function declarations.
func (g *codegen) body(stmts []jsStmt) {
	start := g.lines
	for _, s := range stmts {
		if _, ok := s.(funcDecl); ok {
			g.stmt(s)
		}
	}
	for _, s := range stmts {
		if _, ok := s.(funcDecl); !ok {
			g.stmt(s)
		}
	}
	if g.lines == start {
		g.line("pass")
	}
}

func (g *codegen) block(header string, stmts []jsStmt) {
	g.line(header)
	g.indent++
	g.body(stmts)
	g.indent--
}

func (g *codegen) stmt(s jsStmt) {
	switch s := s.(type) {
	case varStmt:
		for i, name := range s.names {
			d, _ := g.lookup(name)
			if s.inits[i] == nil {
				g.line(fmt.Sprintf("%s.setdefault(%s, None)", d, strconv.Quote(name)))
				continue
			}
			g.line(fmt.Sprintf("%s[%s] = %s", d, strconv.Quote(name), g.expr(s.inits[i])))
		}
	case exprStmt:
		g.line(g.expr(s.x))
	case ifStmt:
		g.block("if "+g.expr(s.test)+":", s.then)
		if len(s.els) > 0 {
			g.block("else:", s.els)
		}
	case whileStmt:
		g.block("while "+g.expr(s.test)+":", s.body)
	case forStmt:
		for _, init := range s.init {
			g.stmt(init)
		}
		first := g.tmp("first")
		g.line(first + " = True")
		g.line("while True:")
		g.indent++
		if s.step != nil {
			g.block("if not "+first+":", []jsStmt{exprStmt{x: s.step}})
		}
		g.line(first + " = False")
		if s.test != nil {
			g.block("if not ("+g.expr(s.test)+"):", []jsStmt{jumpStmt{word: "break"}})
		}
		g.body(s.body)
		g.indent--
	case forEachStmt:
		it := g.tmp("it")
		src := "_iter(" + g.expr(s.x) + ")"
		if s.in {
			src = "_keys(" + g.expr(s.x) + ")"
		}
		d, _ := g.lookup(s.name)
		g.line("for " + it + " in " + src + ":")
		g.indent++
		g.line(fmt.Sprintf("%s[%s] = %s", d, strconv.Quote(s.name), it))
		g.body(s.body)
		g.indent--
	case blockStmt:
		for _, inner := range s.body {
			g.stmt(inner)
		}
	case returnStmt:
		if s.x == nil {
			g.line("return None")
		} else {
			g.line("return " + g.expr(s.x))
		}
	case jumpStmt:
		g.line(s.word)
	case funcDecl:
		d, _ := g.lookup(s.name)
		g.line(fmt.Sprintf("%s[%s] = %s", d, strconv.Quote(s.name), g.function(s.fn)))
	}
}

// declaredNames collects the names a function body declares, without
// descending into nested functions.
func declaredNames(stmts []jsStmt, into map[string]bool) map[string]bool {
	if into == nil {
		into = map[string]bool{}
	}
	for _, s := range stmts {
		switch s := s.(type) {
		case varStmt:
			for _, n := range s.names {
				into[n] = true
			}
		case funcDecl:
			into[s.name] = true
		case ifStmt:
			declaredNames(s.then, into)
			declaredNames(s.els, into)
		case whileStmt:
			declaredNames(s.body, into)
		case forStmt:
			declaredNames(s.init, into)
			declaredNames(s.body, into)
		case forEachStmt:
			into[s.name] = true
			declaredNames(s.body, into)
		case blockStmt:
			declaredNames(s.body, into)
		}
	}
	return into
}

// lookup returns the scope dict holding name, and whether any scope
// declares it. Undeclared names resolve to the template variables.
func (g *codegen) lookup(name string) (string, bool) {
	for i := len(g.scopes) - 1; i >= 0; i-- {
		if g.scopes[i].names[name] {
			return g.scopes[i].dict, true
		}
	}
	return "_env", false
}

// function emits a def for fn into the pending list and returns its name.
func (g *codegen) function(fn *funcLit) string {
	g.nfunc++
	name := fmt.Sprintf("_f%d", g.nfunc)
	dict := fmt.Sprintf("_s%d", g.nfunc)

	savedOut, savedIndent, savedPending := g.out, g.indent, g.pending
	g.out, g.indent, g.pending = &strings.Builder{}, 0, nil

	params := make([]string, 0, len(fn.params)+1)
	init := make([]string, 0, len(fn.params))
	names := declaredNames(fn.body, nil)
	for i, p := range fn.params {
		params = append(params, fmt.Sprintf("_p%d=None", i))
		init = append(init, fmt.Sprintf("%s: _p%d", strconv.Quote(p), i))
		names[p] = true
	}
	params = append(params, "*_rest")
	g.line(fmt.Sprintf("def %s(%s):", name, strings.Join(params, ", ")))
	g.indent = 1
	g.line(fmt.Sprintf("%s = {%s}", dict, strings.Join(init, ", ")))
	g.scopes = append(g.scopes, &scope{dict: dict, names: names})
	if fn.result != nil {
		g.line("return " + g.expr(fn.result))
	} else {
		g.body(fn.body)
	}
	g.scopes = g.scopes[:len(g.scopes)-1]

	def := g.out.String()
	g.out, g.indent, g.pending = savedOut, savedIndent, savedPending
	g.pending = append(g.pending, def)
	return name
}

func (g *codegen) expr(x jsExpr) string {
	switch x := x.(type) {
	case numLit:
		return formatNumber(x.v)
	case strLit:
		return strconv.Quote(x.v)
	case tplLit:
		return "_strcat(" + g.list(x.parts) + ")"
	case ident:
		return g.ident(x.name)
	case spread:
		return g.expr(x.x)
	case arrLit:
		return g.array(x)
	case objLit:
		return g.object(x)
	case *funcLit:
		return g.function(x)
	case unaryExpr:
		return g.unary(x)
	case updateExpr:
		target, key := g.reference(x.x)
		delta := "1"
		if x.op == "--" {
			delta = "-1"
		}
		return fmt.Sprintf("_update(%s, %s, %s, %s)", target, key, delta, pyBool(x.prefix))
	case binaryExpr:
		return g.binary(x)
	case condExpr:
		return fmt.Sprintf("(%s if %s else %s)", g.expr(x.yes), g.expr(x.test), g.expr(x.no))
	case assignExpr:
		return g.assign(x)
	case memberExpr:
		if base, ok := x.x.(ident); ok {
			if _, declared := g.lookup(base.name); !declared && ejs.IsNamespace(base.name) {
				return "_const(" + strconv.Quote(base.name+"."+x.name) + ")"
			}
		}
		return fmt.Sprintf("_get(%s, %s)", g.expr(x.x), strconv.Quote(x.name))
	case indexExpr:
		return fmt.Sprintf("_get(%s, %s)", g.expr(x.x), g.expr(x.key))
	case callExpr:
		return g.call(x)
	case newExpr:
		return "_new(" + joinArgs(strconv.Quote(x.name), g.args(x.args)) + ")"
	case seqExpr:
		return "_last(" + g.list(x.list) + ")"
	}
	return "None"
}

func (g *codegen) ident(name string) string {
	switch name {
	case "undefined", "null", "this":
		return "None"
	case "true":
		return "True"
	case "false":
		return "False"
	case "NaN":
		return `float("nan")`
	case "Infinity":
		return `float("inf")`
	}
	d, _ := g.lookup(name)
	return fmt.Sprintf("%s.get(%s)", d, strconv.Quote(name))
}

func (g *codegen) list(xs []jsExpr) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = g.expr(x)
	}
	return strings.Join(parts, ", ")
}

// args renders call arguments, packing spreads into one starred list.
func (g *codegen) args(xs []jsExpr) string {
	spreads := 0
	for _, x := range xs {
		if _, ok := x.(spread); ok {
			spreads++
		}
	}
	if spreads == 0 {
		return g.list(xs)
	}
	if _, last := xs[len(xs)-1].(spread); spreads == 1 && last {
		head := g.list(xs[:len(xs)-1])
		return joinArgs(head, "*_iter("+g.expr(xs[len(xs)-1])+")")
	}
	return "*" + g.array(arrLit{elems: xs})
}

func joinArgs(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}

func (g *codegen) array(a arrLit) string {
	var chunks []string
	var cur []string
	for _, e := range a.elems {
		if s, ok := e.(spread); ok {
			if cur != nil {
				chunks = append(chunks, "["+strings.Join(cur, ", ")+"]")
				cur = nil
			}
			chunks = append(chunks, g.expr(s.x))
			continue
		}
		cur = append(cur, g.expr(e))
	}
	if len(chunks) == 0 {
		return "[" + strings.Join(cur, ", ") + "]"
	}
	if cur != nil {
		chunks = append(chunks, "["+strings.Join(cur, ", ")+"]")
	}
	return "_concat(" + strings.Join(chunks, ", ") + ")"
}

func (g *codegen) object(o objLit) string {
	plain := true
	seen := map[string]bool{}
	for _, p := range o.props {
		if p.spread || p.computed != nil || seen[p.key] {
			plain = false
			break
		}
		seen[p.key] = true
	}
	if plain {
		entries := make([]string, len(o.props))
		for i, p := range o.props {
			entries[i] = strconv.Quote(p.key) + ": " + g.expr(p.value)
		}
		return "{" + strings.Join(entries, ", ") + "}"
	}
	parts := make([]string, len(o.props))
	for i, p := range o.props {
		switch {
		case p.spread:
			parts[i] = g.expr(p.value)
		case p.computed != nil:
			parts[i] = "{_key(" + g.expr(p.computed) + "): " + g.expr(p.value) + "}"
		default:
			parts[i] = "{" + strconv.Quote(p.key) + ": " + g.expr(p.value) + "}"
		}
	}
	return "_merge(" + strings.Join(parts, ", ") + ")"
}

func (g *codegen) unary(x unaryExpr) string {
	switch x.op {
	case "!":
		return "(not " + g.expr(x.x) + ")"
	case "-":
		if n, ok := x.x.(numLit); ok {
			return formatNumber(-n.v)
		}
		return `_op("-", 0, ` + g.expr(x.x) + ")"
	case "+":
		return "_num(" + g.expr(x.x) + ")"
	case "~":
		return `_bit("~", ` + g.expr(x.x) + ", 0)"
	case "void":
		return "_last(" + g.expr(x.x) + ", None)"
	case "delete":
		target, key := g.reference(x.x)
		return "_del(" + target + ", " + key + ")"
	case "typeof":
		if id, ok := x.x.(ident); ok {
			if _, declared := g.lookup(id.name); !declared && isHelper(id.name) {
				return `"function"`
			}
		}
		return "_typeof(" + g.expr(x.x) + ")"
	}
	return "None"
}

func (g *codegen) binary(x binaryExpr) string {
	l, r := g.expr(x.l), g.expr(x.r)
	switch x.op {
	case "&&":
		return "(" + l + " and " + r + ")"
	case "||":
		return "(" + l + " or " + r + ")"
	case "??":
		return "_coalesce(" + l + ", " + r + ")"
	case "in":
		return "_has(" + r + ", " + l + ")"
	case "instanceof":
		return "_last(" + l + ", " + r + ", False)"
	case "|", "&", "^", "<<", ">>", ">>>":
		return "_bit(" + strconv.Quote(x.op) + ", " + l + ", " + r + ")"
	}
	return "_op(" + strconv.Quote(x.op) + ", " + l + ", " + r + ")"
}

// reference returns the container and key expressions of an assignable
// expression.
func (g *codegen) reference(x jsExpr) (string, string) {
	switch x := x.(type) {
	case ident:
		d, _ := g.lookup(x.name)
		return d, strconv.Quote(x.name)
	case memberExpr:
		return g.expr(x.x), strconv.Quote(x.name)
	case indexExpr:
		return g.expr(x.x), g.expr(x.key)
	}
	return "{}", `""`
}

func (g *codegen) assign(x assignExpr) string {
	target, key := g.reference(x.target)
	value := g.expr(x.value)
	if x.op != "=" {
		cur := "_get(" + target + ", " + key + ")"
		switch x.op {
		case "||=":
			value = "(" + cur + " or " + value + ")"
		case "&&=":
			value = "(" + cur + " and " + value + ")"
		case "??=":
			value = "_coalesce(" + cur + ", " + value + ")"
		default:
			value = "_op(" + strconv.Quote(strings.TrimSuffix(x.op, "=")) + ", " + cur + ", " + value + ")"
		}
	}
	return "_set(" + target + ", " + key + ", " + value + ")"
}

func (g *codegen) call(c callExpr) string {
	args := g.args(c.args)
	switch fn := c.fn.(type) {
	case ident:
		switch fn.name {
		case "__emit":
			return "_out.append(_str(" + args + "))"
		case "__escape":
			return "_out.append(_esc(" + args + "))"
		}
		if _, declared := g.lookup(fn.name); !declared {
			return "_helper(" + joinArgs(strconv.Quote(fn.name), args) + ")"
		}
	case memberExpr:
		if base, ok := fn.x.(ident); ok {
			if _, declared := g.lookup(base.name); !declared && ejs.IsNamespace(base.name) {
				return "_helper(" + joinArgs(strconv.Quote(base.name+"."+fn.name), args) + ")"
			}
		}
		return "_call(" + joinArgs(g.expr(fn.x), strconv.Quote(fn.name), args) + ")"
	}
	return "_invoke(" + joinArgs(g.expr(c.fn), args) + ")"
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

var helperSet = func() map[string]bool {
	m := map[string]bool{}
	for _, n := range ejs.HelperNames() {
		m[n] = true
	}
	return m
}()

func isHelper(name string) bool { return helperSet[name] }

// predeclaredNames lists the globals a compiled template may reference.
func predeclaredNames() []string {
	names := []string{"_env"}
	for n := range runtimeBuiltins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
