package ejs

import "math"

// BinaryOp applies a template operator to two values with the same
// semantics the native evaluator uses. Unknown operators yield Null.
func BinaryOp(op string, a, b Value) Value {
	a, b = orNull(a), orNull(b)
	switch op {
	case "+":
		return add(a, b)
	case "-":
		return subtract(a, b)
	case "*", "/", "%":
		x, _ := ToNumber(a)
		y, _ := ToNumber(b)
		switch op {
		case "*":
			return NumberValue(x * y)
		case "/":
			return NumberValue(x / y)
		}
		return NumberValue(math.Mod(x, y))
	case "<", ">", "<=", ">=":
		return BoolValue(relational(a, b, op))
	case "===":
		return BoolValue(Equal(a, b))
	case "!==":
		return BoolValue(!Equal(a, b))
	case "==":
		return BoolValue(LooseEqual(a, b))
	case "!=":
		return BoolValue(!LooseEqual(a, b))
	}
	return Null
}

// Constant returns a namespaced global constant such as Math.PI.
func Constant(name string) (Value, bool) {
	v, ok := constants[name]
	return v, ok
}

// IsNamespace reports whether name is a global object (Math, JSON, ...)
// whose members are helpers.
func IsNamespace(name string) bool { return namespaces[name] }

// NewDate builds a date the way `new Date(args...)` does and returns it as
// an RFC 3339 string, or "Invalid date".
func (r *Renderer) NewDate(ctx *Context, args []Value) Value {
	if ctx == nil {
		ctx = NewContext()
	}
	e := &evaluator{r: r, ctx: ctx, tpl: &Template{Name: "<date>"}}
	return e.newDate(args).value()
}

// DateChain is a moment() or new Date() value between chained calls, for
// callers that evaluate the chain one call at a time.
type DateChain struct {
	e *evaluator
	d *dateState
}

// NewDateChain starts a chain the way moment(args...) does.
func (r *Renderer) NewDateChain(ctx *Context, args []Value) *DateChain {
	if ctx == nil {
		ctx = NewContext()
	}
	e := &evaluator{r: r, ctx: ctx, tpl: &Template{Name: "<date>"}}
	return &DateChain{e: e, d: e.newDate(args)}
}

// Call applies one method. It reports false when the method ends the
// chain, in which case v is the result.
func (c *DateChain) Call(name string, args []Value) (v Value, more bool) {
	v, next := c.e.dateMethod(c.d, name, args)
	if next != nil {
		c.d = next
		return c.d.value(), true
	}
	return v, false
}

// Value returns the date as an RFC 3339 string, or "Invalid date".
func (c *DateChain) Value() Value { return c.d.value() }
