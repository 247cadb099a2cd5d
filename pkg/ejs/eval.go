package ejs

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
)

// evaluator carries the state of one template render: the context it reads
// and writes, the template being executed (for error reporting) and the
// partial depth reached so far.
type evaluator struct {
	r     *Renderer
	ctx   *Context
	tpl   *Template
	depth int
}

func (e *evaluator) logger() *slog.Logger { return e.r.logger() }

// evaluate checks expr for structural errors and evaluates it. Everything
// short of unbalanced brackets or an unterminated string degrades to a value.
func (e *evaluator) evaluate(expr string) (Value, error) {
	if err := checkBalanced(expr); err != nil {
		return nil, err
	}
	return e.expr(expr)
}

func checkBalanced(s string) error {
	var stack []byte
	for i := 0; i < len(s); {
		c := s[i]
		if isQuote(c) {
			end := skipString(s, i)
			if end == len(s) && (end-i < 2 || s[end-1] != c || s[end-2] == '\\') {
				return fmt.Errorf("unterminated string literal in %q", s)
			}
			i = end
			continue
		}
		switch c {
		case '(', '[', '{':
			stack = append(stack, c)
		case ')', ']', '}':
			want := map[byte]byte{')': '(', ']': '[', '}': '{'}[c]
			if len(stack) == 0 || stack[len(stack)-1] != want {
				return fmt.Errorf("unbalanced %q in %q", c, s)
			}
			stack = stack[:len(stack)-1]
		}
		i++
	}
	if len(stack) > 0 {
		return fmt.Errorf("unclosed %q in %q", stack[len(stack)-1], s)
	}
	return nil
}

// expr evaluates one expression. Operators are located by scanning for them
// outside strings and brackets, from the lowest precedence level up; each
// match splits the text and both sides are evaluated recursively.
func (e *evaluator) expr(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Null, nil
	}
	if s[0] == '(' && matchingClose(s, 0) == len(s)-1 {
		return e.expr(s[1 : len(s)-1])
	}
	if isFunctionLiteral(s) {
		return Null, nil
	}

	if i, op := findOperator(s, []string{"||", "??"}, false); i >= 0 {
		left, err := e.expr(s[:i])
		if err != nil {
			return nil, err
		}
		if op == "||" && left.Truth() {
			return left, nil
		}
		if _, null := left.(NullValue); op == "??" && !null {
			return left, nil
		}
		return e.expr(s[i+len(op):])
	}
	if i, op := findOperator(s, []string{"&&"}, false); i >= 0 {
		left, err := e.expr(s[:i])
		if err != nil {
			return nil, err
		}
		if !left.Truth() {
			return left, nil
		}
		return e.expr(s[i+len(op):])
	}

	if cond, yes, no, ok := splitTernary(s); ok {
		c, err := e.expr(cond)
		if err != nil {
			return nil, err
		}
		if c.Truth() {
			return e.expr(yes)
		}
		return e.expr(no)
	}

	if i, op := findOperator(s, []string{"===", "!==", "==", "!="}, true); i >= 0 {
		left, right, err := e.operands(s, i, op)
		if err != nil {
			return nil, err
		}
		switch op {
		case "===":
			return BoolValue(Equal(left, right)), nil
		case "!==":
			return BoolValue(!Equal(left, right)), nil
		case "==":
			return BoolValue(LooseEqual(left, right)), nil
		}
		return BoolValue(!LooseEqual(left, right)), nil
	}

	if i, op := findOperator(s, []string{"<=", ">=", "<", ">"}, true); i >= 0 {
		left, right, err := e.operands(s, i, op)
		if err != nil {
			return nil, err
		}
		return BoolValue(relational(left, right, op)), nil
	}

	if i, op := findOperator(s, []string{"+", "-"}, true); i >= 0 {
		left, right, err := e.operands(s, i, op)
		if err != nil {
			return nil, err
		}
		if op == "+" {
			return add(left, right), nil
		}
		return subtract(left, right), nil
	}

	if i, op := findOperator(s, []string{"*", "/", "%"}, true); i >= 0 {
		left, right, err := e.operands(s, i, op)
		if err != nil {
			return nil, err
		}
		x, _ := ToNumber(left)
		y, _ := ToNumber(right)
		switch op {
		case "*":
			return NumberValue(x * y), nil
		case "/":
			return NumberValue(x / y), nil
		}
		return NumberValue(math.Mod(x, y)), nil
	}

	return e.unary(s)
}

func (e *evaluator) operands(s string, i int, op string) (Value, Value, error) {
	left, err := e.expr(s[:i])
	if err != nil {
		return nil, nil, err
	}
	right, err := e.expr(s[i+len(op):])
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

func relational(a, b Value, op string) bool {
	_, sa := a.(StringValue)
	_, sb := b.(StringValue)
	var c int
	if sa && sb {
		c = Compare(a, b)
	} else {
		x, ok1 := ToNumber(a)
		y, ok2 := ToNumber(b)
		if !ok1 || !ok2 || math.IsNaN(x) || math.IsNaN(y) {
			return false
		}
		c = Compare(NumberValue(x), NumberValue(y))
	}
	switch op {
	case "<":
		return c < 0
	case ">":
		return c > 0
	case "<=":
		return c <= 0
	}
	return c >= 0
}

// add is numeric when both sides are numbers and concatenation otherwise.
func add(a, b Value) Value {
	x, ok1 := a.(NumberValue)
	y, ok2 := b.(NumberValue)
	if ok1 && ok2 {
		return x + y
	}
	return StringValue(a.String() + b.String())
}

// subtract also accepts two date strings and yields their difference in
// milliseconds.
func subtract(a, b Value) Value {
	x, ok1 := ToNumber(a)
	y, ok2 := ToNumber(b)
	if ok1 && ok2 {
		return NumberValue(x - y)
	}
	ta, okA := parseDate(a, nil)
	tb, okB := parseDate(b, nil)
	if okA && okB {
		return NumberValue(ta.Sub(tb).Milliseconds())
	}
	return NumberValue(math.NaN())
}

func (e *evaluator) unary(s string) (Value, error) {
	switch {
	case s[0] == '!':
		v, err := e.expr(s[1:])
		if err != nil {
			return nil, err
		}
		return BoolValue(!v.Truth()), nil
	case s[0] == '-' && !strings.HasPrefix(s, "--"):
		v, err := e.expr(s[1:])
		if err != nil {
			return nil, err
		}
		n, _ := ToNumber(v)
		return NumberValue(-n), nil
	case s[0] == '+' && !strings.HasPrefix(s, "++"):
		v, err := e.expr(s[1:])
		if err != nil {
			return nil, err
		}
		n, _ := ToNumber(v)
		return NumberValue(n), nil
	case hasKeyword(s, "typeof"):
		v, err := e.expr(s[len("typeof"):])
		if err != nil {
			return nil, err
		}
		return StringValue(typeOf(s[len("typeof"):], v)), nil
	case hasKeyword(s, "void"):
		return Null, nil
	}
	return e.postfix(s)
}

func typeOf(expr string, v Value) string {
	switch v.(type) {
	case BoolValue:
		return "boolean"
	case NumberValue:
		return "number"
	case StringValue:
		return "string"
	case ArrayValue, *ObjectValue:
		return "object"
	}
	name := strings.TrimSpace(expr)
	if _, ok := helpers[name]; ok {
		return "function"
	}
	return "undefined"
}

// postfix evaluates a primary expression followed by any chain of member
// accesses, index expressions and calls.
func (e *evaluator) postfix(s string) (Value, error) {
	cur, date, rest, err := e.primary(s)
	if err != nil {
		return nil, err
	}
	for {
		rest = strings.TrimLeft(rest, " \t\r\n")
		if rest == "" {
			break
		}
		optional := false
		if strings.HasPrefix(rest, "?.") {
			optional = true
			rest = rest[1:]
			if len(rest) > 1 && (rest[1] == '[' || rest[1] == '(') {
				rest = rest[1:]
			}
		}
		if optional && date == nil {
			if _, null := cur.(NullValue); null {
				return Null, nil
			}
		}
		switch rest[0] {
		case '.':
			name, after := scanIdent(strings.TrimLeft(rest[1:], " \t\r\n"))
			if name == "" {
				e.logger().Debug("unsupported expression", "expr", s)
				return Null, nil
			}
			after = strings.TrimLeft(after, " \t")
			if strings.HasPrefix(after, "(") {
				close := matchingClose(after, 0)
				if close < 0 {
					return nil, fmt.Errorf("unclosed call in %q", s)
				}
				args, raw, err := e.args(after[1:close])
				if err != nil {
					return nil, err
				}
				if date != nil {
					cur, date = e.dateMethod(date, name, args)
				} else {
					cur = e.callMethod(cur, name, args, raw)
				}
				rest = after[close+1:]
				continue
			}
			if date != nil {
				cur, date = date.value(), nil
			}
			cur = Property(cur, name)
			rest = after
		case '[':
			close := matchingClose(rest, 0)
			if close < 0 {
				return nil, fmt.Errorf("unclosed index in %q", s)
			}
			key, err := e.expr(rest[1:close])
			if err != nil {
				return nil, err
			}
			if date != nil {
				cur, date = date.value(), nil
			}
			cur = Index(cur, key)
			rest = rest[close+1:]
		case '(':
			close := matchingClose(rest, 0)
			if close < 0 {
				return nil, fmt.Errorf("unclosed call in %q", s)
			}
			cur, date = Null, nil
			rest = rest[close+1:]
		default:
			e.logger().Debug("unsupported expression", "expr", s)
			return Null, nil
		}
	}
	if date != nil {
		return date.value(), nil
	}
	return cur, nil
}

// namespaces are the global objects whose members resolve to helpers named
// "Namespace.member" unless the context binds the name itself.
var namespaces = map[string]bool{
	"Math": true, "JSON": true, "Object": true, "Array": true,
	"String": true, "Number": true, "Date": true, "console": true,
}

var constants = map[string]Value{
	"Math.PI":                  NumberValue(math.Pi),
	"Math.E":                   NumberValue(math.E),
	"Number.MAX_SAFE_INTEGER":  NumberValue(1<<53 - 1),
	"Number.MIN_SAFE_INTEGER":  NumberValue(-(1<<53 - 1)),
	"Number.POSITIVE_INFINITY": NumberValue(math.Inf(1)),
}

func (e *evaluator) primary(s string) (Value, *dateState, string, error) {
	c := s[0]
	switch {
	case isQuote(c):
		end := skipString(s, 0)
		v, err := e.stringLiteral(s[:end])
		return v, nil, s[end:], err
	case isDigit(c) || (c == '.' && len(s) > 1 && isDigit(s[1])):
		n, end := scanNumber(s)
		return NumberValue(n), nil, s[end:], nil
	case c == '(':
		close := matchingClose(s, 0)
		if close < 0 {
			return nil, nil, "", fmt.Errorf("unclosed parenthesis in %q", s)
		}
		v, err := e.expr(s[1:close])
		return v, nil, s[close+1:], err
	case c == '[':
		close := matchingClose(s, 0)
		if close < 0 {
			return nil, nil, "", fmt.Errorf("unclosed array literal in %q", s)
		}
		v, err := e.arrayLiteral(s[1:close])
		return v, nil, s[close+1:], err
	case c == '{':
		close := matchingClose(s, 0)
		if close < 0 {
			return nil, nil, "", fmt.Errorf("unclosed object literal in %q", s)
		}
		v, err := e.objectLiteral(s[1:close])
		return v, nil, s[close+1:], err
	case !isIdentStart(c):
		e.logger().Debug("unsupported expression", "expr", s)
		return Null, nil, "", nil
	}

	name, rest := scanIdent(s)
	switch name {
	case "true":
		return BoolValue(true), nil, rest, nil
	case "false":
		return BoolValue(false), nil, rest, nil
	case "null", "undefined", "this":
		return Null, nil, rest, nil
	case "NaN":
		return NumberValue(math.NaN()), nil, rest, nil
	case "Infinity":
		return NumberValue(math.Inf(1)), nil, rest, nil
	case "new":
		return e.construct(strings.TrimSpace(rest))
	}

	trimmed := strings.TrimLeft(rest, " \t")
	if strings.HasPrefix(trimmed, "(") {
		close := matchingClose(trimmed, 0)
		if close < 0 {
			return nil, nil, "", fmt.Errorf("unclosed call in %q", s)
		}
		args, _, err := e.args(trimmed[1:close])
		if err != nil {
			return nil, nil, "", err
		}
		after := trimmed[close+1:]
		if name == "moment" {
			return Null, e.newDate(args), after, nil
		}
		v, err := e.callHelper(name, args)
		return v, nil, after, err
	}

	if _, bound := e.ctx.Get(name); !bound && namespaces[name] && strings.HasPrefix(rest, ".") {
		member, after := scanIdent(rest[1:])
		full := name + "." + member
		if v, ok := constants[full]; ok {
			return v, nil, after, nil
		}
		after = strings.TrimLeft(after, " \t")
		if strings.HasPrefix(after, "(") {
			close := matchingClose(after, 0)
			if close < 0 {
				return nil, nil, "", fmt.Errorf("unclosed call in %q", s)
			}
			args, _, err := e.args(after[1:close])
			if err != nil {
				return nil, nil, "", err
			}
			v, err := e.callHelper(full, args)
			return v, nil, after[close+1:], err
		}
		return Null, nil, after, nil
	}

	v, _ := e.ctx.Get(name)
	if v == nil {
		v = Null
	}
	return v, nil, rest, nil
}

// construct handles `new X(...)`. Only Date and Array are modelled.
func (e *evaluator) construct(s string) (Value, *dateState, string, error) {
	name, rest := scanIdent(s)
	var args []Value
	rest = strings.TrimLeft(rest, " \t")
	if strings.HasPrefix(rest, "(") {
		close := matchingClose(rest, 0)
		if close < 0 {
			return nil, nil, "", fmt.Errorf("unclosed call in %q", s)
		}
		var err error
		args, _, err = e.args(rest[1:close])
		if err != nil {
			return nil, nil, "", err
		}
		rest = rest[close+1:]
	}
	switch name {
	case "Date":
		return Null, e.newDate(args), rest, nil
	case "Array":
		return ArrayValue{}, nil, rest, nil
	case "Object":
		return NewObject(), nil, rest, nil
	}
	return Null, nil, rest, nil
}

// args evaluates a comma-separated argument list. Function literals
// evaluate to Null; raw keeps the source text of every argument.
func (e *evaluator) args(s string) ([]Value, []string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil, nil
	}
	parts := splitTopLevel(s, ',')
	vals := make([]Value, 0, len(parts))
	raw := make([]string, 0, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" && i == len(parts)-1 {
			break
		}
		if strings.HasPrefix(p, "...") {
			v, err := e.expr(p[3:])
			if err != nil {
				return nil, nil, err
			}
			if arr, ok := v.(ArrayValue); ok {
				for _, item := range arr {
					vals = append(vals, item)
					raw = append(raw, "")
				}
			}
			continue
		}
		v, err := e.expr(p)
		if err != nil {
			return nil, nil, err
		}
		vals = append(vals, v)
		raw = append(raw, p)
	}
	return vals, raw, nil
}

func (e *evaluator) arrayLiteral(inner string) (Value, error) {
	vals, _, err := e.args(inner)
	if err != nil {
		return nil, err
	}
	if vals == nil {
		return ArrayValue{}, nil
	}
	return ArrayValue(vals), nil
}

func (e *evaluator) objectLiteral(inner string) (Value, error) {
	obj := NewObject()
	if strings.TrimSpace(inner) == "" {
		return obj, nil
	}
	for _, part := range splitTopLevel(inner, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.HasPrefix(part, "...") {
			v, err := e.expr(part[3:])
			if err != nil {
				return nil, err
			}
			if src, ok := v.(*ObjectValue); ok {
				for _, k := range src.Keys() {
					sv, _ := src.Get(k)
					obj.Set(k, sv)
				}
			}
			continue
		}
		colon := topLevelColon(part)
		if colon < 0 {
			v, _ := e.ctx.Get(part)
			obj.Set(part, orNull(v))
			continue
		}
		key, err := e.objectKey(strings.TrimSpace(part[:colon]))
		if err != nil {
			return nil, err
		}
		v, err := e.expr(part[colon+1:])
		if err != nil {
			return nil, err
		}
		obj.Set(key, v)
	}
	return obj, nil
}

func (e *evaluator) objectKey(k string) (string, error) {
	switch {
	case k == "":
		return "", nil
	case isQuote(k[0]):
		v, err := e.stringLiteral(k)
		if err != nil {
			return "", err
		}
		return v.String(), nil
	case k[0] == '[' && strings.HasSuffix(k, "]"):
		v, err := e.expr(k[1 : len(k)-1])
		if err != nil {
			return "", err
		}
		return v.String(), nil
	}
	return k, nil
}

func topLevelColon(s string) int {
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
		case ':':
			if depth == 0 {
				return i
			}
		}
		i++
	}
	return -1
}

// stringLiteral decodes a quoted literal; backtick literals interpolate ${...}.
func (e *evaluator) stringLiteral(lit string) (Value, error) {
	if len(lit) < 2 {
		return StringValue(""), nil
	}
	q := lit[0]
	body := lit[1 : len(lit)-1]
	if lit[len(lit)-1] != q {
		body = lit[1:]
	}
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c == '\\' && i+1 < len(body) {
			i++
			switch body[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '0':
				b.WriteByte(0)
			case 'u':
				if i+4 < len(body) {
					if r, err := strconv.ParseUint(body[i+1:i+5], 16, 32); err == nil {
						b.WriteRune(rune(r))
						i += 4
						continue
					}
				}
				b.WriteByte('u')
			default:
				b.WriteByte(body[i])
			}
			continue
		}
		if q == '`' && c == '$' && i+1 < len(body) && body[i+1] == '{' {
			close := matchingClose(body, i+1)
			if close < 0 {
				return nil, fmt.Errorf("unclosed template substitution in %q", lit)
			}
			v, err := e.expr(body[i+2 : close])
			if err != nil {
				return nil, err
			}
			b.WriteString(v.String())
			i = close
			continue
		}
		b.WriteByte(c)
	}
	return StringValue(b.String()), nil
}

// isFunctionLiteral reports whether s is an arrow function or a function
// expression; the native evaluator has no closures.
func isFunctionLiteral(s string) bool {
	if hasKeyword(s, "function") {
		return true
	}
	i, _ := findOperator(s, []string{"=>"}, false)
	return i >= 0
}

// splitTernary splits `cond ? a : b` at the top-level '?' and its matching ':'.
func splitTernary(s string) (cond, yes, no string, ok bool) {
	q := -1
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
		case '?':
			if depth == 0 && !(i+1 < len(s) && (s[i+1] == '.' || s[i+1] == '?')) && !(i > 0 && s[i-1] == '?') {
				q = i
			}
		}
		if q >= 0 {
			break
		}
		i++
	}
	if q < 0 {
		return "", "", "", false
	}
	nest := 0
	depth = 0
	for i := q + 1; i < len(s); {
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
		case '?':
			if depth == 0 && !(i+1 < len(s) && (s[i+1] == '.' || s[i+1] == '?')) && s[i-1] != '?' {
				nest++
			}
		case ':':
			if depth == 0 {
				if nest == 0 {
					return s[:q], s[q+1 : i], s[i+1:], true
				}
				nest--
			}
		}
		i++
	}
	return "", "", "", false
}

// findOperator locates one of ops outside strings and brackets. With last
// set it returns the rightmost match, which gives left associativity when
// the caller splits there.
func findOperator(s string, ops []string, last bool) (int, string) {
	pos, found := -1, ""
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
			i++
			continue
		case ')', ']', '}':
			depth--
			i++
			continue
		}
		matched := ""
		if depth == 0 {
			for _, op := range ops {
				if strings.HasPrefix(s[i:], op) && validOperator(s, i, op) {
					matched = op
					break
				}
			}
		}
		if matched == "" {
			i++
			continue
		}
		pos, found = i, matched
		if !last {
			return pos, found
		}
		i += len(matched)
	}
	return pos, found
}

func validOperator(s string, i int, op string) bool {
	next := byte(0)
	if i+len(op) < len(s) {
		next = s[i+len(op)]
	}
	prev := byte(0)
	if i > 0 {
		prev = s[i-1]
	}
	switch op {
	case "==", "!=":
		return next != '='
	case "<", ">":
		return next != '=' && prev != '=' && next != op[0] && prev != op[0]
	case "<=", ">=":
		return prev != '<' && prev != '>'
	case "+", "-":
		if next == op[0] || next == '=' || prev == op[0] {
			return false
		}
		if !isBinaryPosition(s, i) {
			return false
		}
		return !isExponentSign(s, i)
	case "*", "/", "%":
		if next == '=' || next == '*' || prev == '*' {
			return false
		}
		return isBinaryPosition(s, i)
	case "=>":
		return true
	}
	return true
}

// isBinaryPosition reports whether an operator at i follows an operand.
func isBinaryPosition(s string, i int) bool {
	j := i - 1
	for j >= 0 && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
		j--
	}
	if j < 0 {
		return false
	}
	c := s[j]
	if isIdentChar(c) || c == ')' || c == ']' || c == '}' || isQuote(c) {
		word := j
		for word >= 0 && isIdentChar(s[word]) {
			word--
		}
		switch s[word+1 : j+1] {
		case "typeof", "return", "void", "in", "of":
			return false
		}
		return true
	}
	return false
}

func isExponentSign(s string, i int) bool {
	if i < 2 || (s[i-1] != 'e' && s[i-1] != 'E') {
		return false
	}
	j := i - 2
	for j >= 0 && (isDigit(s[j]) || s[j] == '.') {
		j--
	}
	return j < i-2 && (j < 0 || !isIdentChar(s[j]))
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func scanNumber(s string) (float64, int) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		i := 2
		for i < len(s) && strings.IndexByte("0123456789abcdefABCDEF", s[i]) >= 0 {
			i++
		}
		n, _ := strconv.ParseInt(s[2:i], 16, 64)
		return float64(n), i
	}
	i := 0
	for i < len(s) && (isDigit(s[i]) || s[i] == '.' || s[i] == '_') {
		if s[i] == '.' && i+1 < len(s) && !isDigit(s[i+1]) {
			break
		}
		i++
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		if j < len(s) && isDigit(s[j]) {
			for j < len(s) && isDigit(s[j]) {
				j++
			}
			i = j
		}
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(s[:i], "_", ""), 64)
	if err != nil {
		return math.NaN(), i
	}
	return n, i
}

func scanIdent(s string) (string, string) {
	if s == "" || !isIdentStart(s[0]) {
		return "", s
	}
	i := 1
	for i < len(s) && isIdentChar(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

// callHelper invokes a catalog helper. Unknown names yield "".
func (e *evaluator) callHelper(name string, args []Value) (Value, error) {
	fn, ok := helpers[name]
	if !ok {
		e.logger().Debug("unknown helper", "name", name, "template", e.tpl.Name)
		return StringValue(""), nil
	}
	return fn(e, args)
}

func (e *evaluator) config(key string) (Value, bool) {
	cfg, _ := e.ctx.Get("config")
	obj, ok := cfg.(*ObjectValue)
	if !ok {
		return nil, false
	}
	return obj.Get(key)
}

func (e *evaluator) configString(key, def string) string {
	if v, ok := e.config(key); ok && v.Truth() {
		return v.String()
	}
	return def
}

func (e *evaluator) page() *ObjectValue {
	v, _ := e.ctx.Get("page")
	obj, _ := v.(*ObjectValue)
	return obj
}
