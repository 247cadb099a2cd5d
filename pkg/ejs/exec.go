package ejs

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

// DefaultMaxDepth caps partial nesting when Renderer.MaxDepth is zero.
const DefaultMaxDepth = 8

// FallbackRenderer renders a template on the script engine. depth is the
// partial depth the template runs at.
type FallbackRenderer interface {
	RenderFallback(t *Template, ctx *Context, depth int) (string, error)
}

// Renderer executes parsed templates natively. Partials resolve against
// Registry; partials whose source needs the script engine go to Fallback
// when one is set.
//
// A Renderer holds no per-render state and may be used concurrently.
type Renderer struct {
	Registry *Registry
	Logger   *slog.Logger
	MaxDepth int
	Fallback FallbackRenderer

	// Now overrides the clock used by date helpers.
	Now func() time.Time
	// OnPartialFailure observes every partial that degrades to "".
	OnPartialFailure func(name string, err error)
}

// NewRenderer returns a Renderer over reg.
func NewRenderer(reg *Registry) *Renderer {
	return &Renderer{Registry: reg}
}

func (r *Renderer) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Renderer) maxDepth() int {
	if r.MaxDepth > 0 {
		return r.MaxDepth
	}
	return DefaultMaxDepth
}

// Render executes t against a private fork of ctx.
func (r *Renderer) Render(t *Template, ctx *Context) (string, error) {
	return r.RenderAt(t, ctx, 0)
}

// RenderAt is Render for a template running at partial depth depth.
func (r *Renderer) RenderAt(t *Template, ctx *Context, depth int) (string, error) {
	if ctx == nil {
		ctx = NewContext()
	}
	return r.execute(t, ctx.fork(), depth)
}

// RenderString parses and renders src in one step.
func (r *Renderer) RenderString(name, src string, ctx *Context) (string, error) {
	t, err := Parse(name, src)
	if err != nil {
		return "", err
	}
	return r.Render(t, ctx)
}

// Eval evaluates a single expression against ctx.
func (r *Renderer) Eval(expr string, ctx *Context) (Value, error) {
	if ctx == nil {
		ctx = NewContext()
	}
	e := &evaluator{r: r, ctx: ctx.fork(), tpl: &Template{Name: "<expr>"}}
	return e.evaluate(expr)
}

// CallHelper invokes a catalog helper by name against ctx, as a template
// running at depth would.
func (r *Renderer) CallHelper(ctx *Context, name string, args []Value, depth int) (Value, error) {
	e := &evaluator{r: r, ctx: ctx, tpl: &Template{Name: "<helper>"}, depth: depth}
	return e.callHelper(name, args)
}

// CallMethod invokes recv.name(args...) with the native method catalog.
func (r *Renderer) CallMethod(ctx *Context, recv Value, name string, args []Value) Value {
	e := &evaluator{r: r, ctx: ctx, tpl: &Template{Name: "<method>"}}
	return e.callMethod(recv, name, args, nil)
}

func (r *Renderer) execute(t *Template, ctx *Context, depth int) (string, error) {
	e := &evaluator{r: r, ctx: ctx, tpl: t, depth: depth}
	var b strings.Builder
	if err := e.run(&b, t.Nodes); err != nil {
		return "", err
	}
	return b.String(), nil
}

// partialCandidates lists the registry names tried for a partial, in order.
func partialCandidates(name string) []string {
	name = strings.TrimSuffix(name, ".ejs")
	c := []string{name, "_partial/" + name, "partial/" + name, "_widget/" + name, "widget/" + name}
	if s, ok := strings.CutPrefix(name, "_partial/"); ok {
		c = append(c, s)
	}
	if s, ok := strings.CutPrefix(name, "_widget/"); ok {
		c = append(c, s)
	}
	return append(c, "post/"+name, "_partial/post/"+name)
}

// ResolvePartial finds the template a partial call refers to.
func (r *Renderer) ResolvePartial(name string) (*Template, error) {
	if r.Registry == nil {
		return nil, &TemplateNotFoundError{Name: name}
	}
	for _, c := range partialCandidates(name) {
		if r.Registry.Has(c) {
			return r.Registry.Lookup(c)
		}
	}
	return nil, &TemplateNotFoundError{Name: name, Suggestions: r.Registry.suggest(name)}
}

// RenderPartial renders the partial name in a child of ctx with locals
// layered on top. depth is the depth of the caller.
func (r *Renderer) RenderPartial(ctx *Context, name string, locals *ObjectValue, depth int) (string, error) {
	out, err := r.renderPartial(ctx, name, locals, depth)
	if err != nil && r.OnPartialFailure != nil {
		r.OnPartialFailure(name, err)
	}
	return out, err
}

func (r *Renderer) renderPartial(ctx *Context, name string, locals *ObjectValue, depth int) (string, error) {
	if depth+1 > r.maxDepth() {
		return "", fmt.Errorf("%w: %s at depth %d", ErrDepthExceeded, name, depth+1)
	}
	t, err := r.ResolvePartial(name)
	if err != nil {
		return "", err
	}
	child := ctx.child(locals)
	if r.Fallback != nil && NeedsFallback(t.Source) {
		r.logger().Debug("partial routed to fallback engine", "partial", t.Name)
		return r.Fallback.RenderFallback(t, child, depth+1)
	}
	return r.execute(t, child, depth+1)
}

func (e *evaluator) fail(line int, err error) error {
	var re *RenderError
	if errors.As(err, &re) {
		return err
	}
	return &RenderError{Template: e.tpl.Name, Line: line, Err: err}
}

func (e *evaluator) run(b *strings.Builder, nodes []Node) error {
	for _, n := range nodes {
		if err := e.node(b, n); err != nil {
			return err
		}
	}
	return nil
}

// block runs body in a fresh local scope.
func (e *evaluator) block(b *strings.Builder, body []Node, bind func()) error {
	e.ctx.push()
	defer e.ctx.pop()
	if bind != nil {
		bind()
	}
	return e.run(b, body)
}

func (e *evaluator) node(b *strings.Builder, n Node) error {
	switch n := n.(type) {
	case *TextNode:
		b.WriteString(n.Text)
	case *CommentNode:
	case *OutputNode:
		v, err := e.evaluate(n.Expr)
		if err != nil {
			return e.fail(n.Line, err)
		}
		if n.Raw {
			b.WriteString(v.String())
		} else {
			b.WriteString(EscapeHTML(v.String()))
		}
	case *IfNode:
		c, err := e.evaluate(n.Cond)
		if err != nil {
			return e.fail(n.Line, err)
		}
		if c.Truth() {
			return e.block(b, n.Then, nil)
		}
		for _, br := range n.ElseIfs {
			c, err := e.evaluate(br.Cond)
			if err != nil {
				return e.fail(n.Line, err)
			}
			if c.Truth() {
				return e.block(b, br.Body, nil)
			}
		}
		if n.Else != nil {
			return e.block(b, n.Else, nil)
		}
	case *EachNode:
		v, err := e.evaluate(n.ArrayExpr)
		if err != nil {
			return e.fail(n.Line, err)
		}
		for i, item := range iterate(v) {
			err := e.block(b, n.Body, func() {
				e.ctx.declare(n.ItemVar, item)
				if n.IndexVar != "" {
					e.ctx.declare(n.IndexVar, NumberValue(i))
				}
			})
			if err != nil {
				return err
			}
		}
	case *ForOfNode:
		v, err := e.evaluate(n.Iterable)
		if err != nil {
			return e.fail(n.Line, err)
		}
		for _, item := range iterate(v) {
			if err := e.block(b, n.Body, func() { e.ctx.declare(n.ItemVar, item) }); err != nil {
				return err
			}
		}
	case *ForInNode:
		v, err := e.evaluate(n.ObjectExpr)
		if err != nil {
			return e.fail(n.Line, err)
		}
		var keys []string
		switch x := v.(type) {
		case *ObjectValue:
			keys = x.Keys()
		case ArrayValue:
			for i := range x {
				keys = append(keys, formatNumber(float64(i)))
			}
		}
		for _, k := range keys {
			if err := e.block(b, n.Body, func() { e.ctx.declare(n.KeyVar, StringValue(k)) }); err != nil {
				return err
			}
		}
	case *VarDeclNode:
		v := Null
		if strings.TrimSpace(n.Expr) != "" {
			var err error
			if v, err = e.evaluate(n.Expr); err != nil {
				return e.fail(n.Line, err)
			}
		}
		if n.Kind == "var" {
			e.ctx.hoist(n.Name, v)
		} else {
			e.ctx.declare(n.Name, v)
		}
	case *CodeNode:
		if err := e.exec(b, n.Code); err != nil {
			return e.fail(n.Line, err)
		}
	case *SequenceNode:
		return e.run(b, n.Nodes)
	default:
		return fmt.Errorf("unknown node type %T", n)
	}
	return nil
}

// iterate returns the elements a loop visits: array items, or the
// characters of a string.
func iterate(v Value) []Value {
	switch x := v.(type) {
	case ArrayValue:
		return x
	case *ObjectValue:
		if data, ok := x.Get("data"); ok {
			if arr, ok := data.(ArrayValue); ok {
				return arr
			}
		}
	case StringValue:
		var out []Value
		for _, r := range string(x) {
			out = append(out, StringValue(string(r)))
		}
		return out
	}
	return nil
}

// exec runs a statement kept verbatim by the parser: an assignment, an
// increment, or an expression. A call-shaped expression writes its result.
func (e *evaluator) exec(b *strings.Builder, code string) error {
	code = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(code), ";"))
	if code == "" {
		return nil
	}
	if hasKeyword(code, "return") || hasKeyword(code, "break") || hasKeyword(code, "continue") {
		e.logger().Debug("ignoring control statement", "code", code, "template", e.tpl.Name)
		return nil
	}
	// Block openers the parser could not structure (while, switch, C-style
	// for) render their body as plain statements; the opener itself is skipped.
	if _, balance := braceBalance(code); balance > 0 {
		e.logger().Debug("skipping unstructured block opener", "code", code, "template", e.tpl.Name)
		return nil
	}
	for _, op := range []string{"++", "--"} {
		name, ok := strings.CutSuffix(code, op)
		if !ok {
			name, ok = strings.CutPrefix(code, op)
		}
		if ok && isIdentifier(strings.TrimSpace(name)) {
			name = strings.TrimSpace(name)
			cur, _ := e.ctx.Get(name)
			n, _ := ToNumber(orNull(cur))
			if op == "++" {
				n++
			} else {
				n--
			}
			e.ctx.assign(name, NumberValue(n))
			return nil
		}
	}
	if lhs, op, rhs, ok := splitAssignment(code); ok {
		return e.assignment(lhs, op, rhs)
	}
	v, err := e.evaluate(code)
	if err != nil {
		return err
	}
	if strings.HasSuffix(code, ")") && strings.Contains(code, "(") {
		b.WriteString(v.String())
	}
	return nil
}

// splitAssignment splits `lhs op= rhs` at its top-level assignment operator.
func splitAssignment(code string) (lhs, op, rhs string, ok bool) {
	i := assignIndex(code)
	if i < 0 {
		return "", "", "", false
	}
	start := i
	switch {
	case i >= 2 && (code[i-2:i] == "||" || code[i-2:i] == "&&" || code[i-2:i] == "??"):
		start = i - 2
	case i >= 1 && strings.IndexByte("+-*/%", code[i-1]) >= 0:
		start = i - 1
	}
	lhs = strings.TrimSpace(code[:start])
	if lhs == "" {
		return "", "", "", false
	}
	return lhs, code[start : i+1], code[i+1:], true
}

func (e *evaluator) assignment(lhs, op, rhs string) error {
	v, err := e.evaluate(rhs)
	if err != nil {
		return err
	}
	cur, bound := e.ctx.Get(lhs)
	cur = orNull(cur)
	if !isIdentifier(lhs) {
		target, err := e.expr(lhs)
		if err != nil {
			return err
		}
		cur, bound = orNull(target), true
	}
	switch op {
	case "=":
		if isIdentifier(lhs) && isFallbackValue(v) && !isLiteral(rhs) && bound && !isFallbackValue(cur) {
			e.logger().Debug("keeping existing binding", "name", lhs, "template", e.tpl.Name)
			return nil
		}
	case "+=":
		v = add(cur, v)
	case "-=", "*=", "/=", "%=":
		x, _ := ToNumber(cur)
		y, _ := ToNumber(v)
		switch op {
		case "-=":
			v = NumberValue(x - y)
		case "*=":
			v = NumberValue(x * y)
		case "/=":
			v = NumberValue(x / y)
		default:
			v = NumberValue(math.Mod(x, y))
		}
	case "||=":
		if cur.Truth() {
			return nil
		}
	case "&&=":
		if !cur.Truth() {
			return nil
		}
	case "??=":
		if _, null := cur.(NullValue); !null {
			return nil
		}
	}
	if isIdentifier(lhs) {
		e.ctx.assign(lhs, v)
		return nil
	}
	return e.assignMember(lhs, v)
}

// assignMember handles a.b.c = v and a["b"] = v. The objects along the path
// are copied, so shared context data is never mutated.
func (e *evaluator) assignMember(lhs string, v Value) error {
	root, rest := scanIdent(lhs)
	if root == "" {
		e.logger().Debug("unsupported assignment target", "target", lhs)
		return nil
	}
	var path []string
	for rest = strings.TrimSpace(rest); rest != ""; rest = strings.TrimSpace(rest) {
		switch rest[0] {
		case '.':
			name, after := scanIdent(rest[1:])
			if name == "" {
				return nil
			}
			path, rest = append(path, name), after
		case '[':
			close := matchingClose(rest, 0)
			if close < 0 {
				return fmt.Errorf("unclosed index in %q", lhs)
			}
			key, err := e.expr(rest[1:close])
			if err != nil {
				return err
			}
			path, rest = append(path, key.String()), rest[close+1:]
		default:
			e.logger().Debug("unsupported assignment target", "target", lhs)
			return nil
		}
	}
	base, _ := e.ctx.Get(root)
	e.ctx.assign(root, setPath(orNull(base), path, v))
	return nil
}

func setPath(base Value, path []string, v Value) Value {
	if len(path) == 0 {
		return v
	}
	switch x := base.(type) {
	case *ObjectValue:
		c := x.Clone()
		child, _ := c.Get(path[0])
		c.Set(path[0], setPath(orNull(child), path[1:], v))
		return c
	case ArrayValue:
		var i int
		if _, err := fmt.Sscanf(path[0], "%d", &i); err == nil && i >= 0 {
			c := append(ArrayValue{}, x...)
			for len(c) <= i {
				c = append(c, Null)
			}
			c[i] = setPath(c[i], path[1:], v)
			return c
		}
		return x
	}
	o := NewObject()
	o.Set(path[0], setPath(Null, path[1:], v))
	return o
}

// isFallbackValue reports whether v looks like what an unresolved
// expression evaluates to: 0, "", null or [].
func isFallbackValue(v Value) bool {
	switch x := orNull(v).(type) {
	case NullValue:
		return true
	case NumberValue:
		return x == 0
	case StringValue:
		return x == ""
	case ArrayValue:
		return len(x) == 0
	}
	return false
}

// isLiteral reports whether expr is a plain literal, which is always
// assigned even when it evaluates to a fallback value.
func isLiteral(expr string) bool {
	s := strings.TrimSpace(expr)
	switch s {
	case "", "null", "undefined", "true", "false", "[]", "{}":
		return true
	}
	if isQuote(s[0]) && skipString(s, 0) == len(s) {
		return true
	}
	_, end := scanNumber(strings.TrimPrefix(s, "-"))
	return end > 0 && end == len(strings.TrimPrefix(s, "-"))
}
