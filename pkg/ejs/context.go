package ejs

import "strings"

// Context is the name→Value environment a template renders against: shared
// global bindings (config, site, page, theme, body, ...) plus a stack of
// local scopes that shadow them. Locals introduced by a block are discarded
// when the block exits.
//
// A Context is not safe for concurrent use. Render works on a private fork,
// so one Context may seed any number of renders.
type Context struct {
	globals *ObjectValue
	scopes  []map[string]Value
}

// NewContext returns an empty context.
func NewContext() *Context {
	return &Context{globals: NewObject()}
}

// NewContextFrom returns a context whose globals are the keys of obj.
func NewContextFrom(obj *ObjectValue) *Context {
	return &Context{globals: obj.Clone()}
}

// Set binds a global.
func (c *Context) Set(name string, v Value) {
	c.globals.Set(name, v)
}

// SetGo binds a global from plain Go data.
func (c *Context) SetGo(name string, v any) {
	c.globals.Set(name, FromGo(v))
}

// SetNested binds a dotted path such as "page.title", creating
// intermediate objects as needed.
func (c *Context) SetNested(path string, v Value) {
	parts := strings.Split(path, ".")
	if len(parts) == 1 {
		c.Set(path, v)
		return
	}
	root, _ := c.globals.Get(parts[0])
	obj, ok := root.(*ObjectValue)
	if !ok {
		obj = NewObject()
		c.globals.Set(parts[0], obj)
	}
	for _, p := range parts[1 : len(parts)-1] {
		next, _ := obj.Get(p)
		child, ok := next.(*ObjectValue)
		if !ok {
			child = NewObject()
			obj.Set(p, child)
		}
		obj = child
	}
	obj.Set(parts[len(parts)-1], v)
}

// Get resolves name against the locals, innermost first, then the globals.
func (c *Context) Get(name string) (Value, bool) {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if v, ok := c.scopes[i][name]; ok {
			return v, true
		}
	}
	return c.globals.Get(name)
}

// Lookup is Get that reports an unbound name as *UndefinedVariableError.
func (c *Context) Lookup(name string) (Value, error) {
	if v, ok := c.Get(name); ok {
		return v, nil
	}
	return Null, &UndefinedVariableError{Name: name}
}

// Globals returns the global bindings in insertion order.
func (c *Context) Globals() *ObjectValue {
	return c.globals.Clone()
}

// Flatten returns every visible binding, locals overriding globals.
func (c *Context) Flatten() *ObjectValue {
	out := c.globals.Clone()
	for _, scope := range c.scopes {
		for k, v := range scope {
			out.Set(k, v)
		}
	}
	return out
}

// Merge copies every global of other into c.
func (c *Context) Merge(other *Context) {
	for _, k := range other.globals.Keys() {
		v, _ := other.globals.Get(k)
		c.globals.Set(k, v)
	}
}

// fork returns a context sharing c's visible bindings with one fresh local
// scope. Writes to the fork never reach c.
func (c *Context) fork() *Context {
	f := &Context{globals: c.globals.Clone()}
	if len(c.scopes) > 0 {
		base := map[string]Value{}
		for _, scope := range c.scopes {
			for k, v := range scope {
				base[k] = v
			}
		}
		f.scopes = append(f.scopes, base)
	}
	f.scopes = append(f.scopes, map[string]Value{})
	return f
}

// child builds the context a partial renders in: every binding visible in
// c, overridden by locals.
func (c *Context) child(locals *ObjectValue) *Context {
	flat := c.Flatten()
	for _, k := range locals.Keys() {
		v, _ := locals.Get(k)
		flat.Set(k, v)
	}
	return &Context{globals: flat, scopes: []map[string]Value{{}}}
}

func (c *Context) push() { c.scopes = append(c.scopes, map[string]Value{}) }

func (c *Context) pop() { c.scopes = c.scopes[:len(c.scopes)-1] }

// declare binds name in the innermost scope.
func (c *Context) declare(name string, v Value) {
	if len(c.scopes) == 0 {
		c.push()
	}
	c.scopes[len(c.scopes)-1][name] = v
}

// assign updates the nearest scope binding name, or binds it in the
// outermost local scope so it outlives the current block. Globals are never
// mutated in place.
func (c *Context) assign(name string, v Value) {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if _, ok := c.scopes[i][name]; ok {
			c.scopes[i][name] = v
			return
		}
	}
	if len(c.scopes) == 0 {
		c.push()
	}
	c.scopes[0][name] = v
}

// hoist binds name in the outermost local scope, the way var declarations
// are visible for the rest of the template.
func (c *Context) hoist(name string, v Value) {
	if len(c.scopes) == 0 {
		c.push()
	}
	for i := len(c.scopes) - 1; i > 0; i-- {
		delete(c.scopes[i], name)
	}
	c.scopes[0][name] = v
}

// hasLocal reports whether name is bound in any local scope.
func (c *Context) hasLocal(name string) bool {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if _, ok := c.scopes[i][name]; ok {
			return true
		}
	}
	return false
}
