package starlark

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"unicode/utf8"

	"github.com/hexgo/hexgo/pkg/ejs"
	"go.starlark.net/starlark"
)

const stateKey = "hexgo.render"

// renderState is the per-execution state builtins read from the thread.
type renderState struct {
	r      *ejs.Renderer
	ctx    *ejs.Context
	depth  int
	name   string
	logger *slog.Logger
}

func stateOf(thread *starlark.Thread) *renderState {
	if s, ok := thread.Local(stateKey).(*renderState); ok {
		return s
	}
	return &renderState{r: ejs.NewRenderer(nil), ctx: ejs.NewContext(), logger: slog.Default()}
}

type builtinFunc = func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

// runtimeBuiltins are predeclared in every compiled template.
var runtimeBuiltins = map[string]*starlark.Builtin{}

func init() {
	for name, fn := range map[string]builtinFunc{
		"_str":      builtinStr,
		"_esc":      builtinEscape,
		"_strcat":   builtinStrcat,
		"_op":       builtinOp,
		"_num":      builtinNum,
		"_bit":      builtinBit,
		"_get":      builtinGet,
		"_set":      builtinSet,
		"_update":   builtinUpdate,
		"_del":      builtinDelete,
		"_has":      builtinHas,
		"_typeof":   builtinTypeof,
		"_coalesce": builtinCoalesce,
		"_iter":     builtinIter,
		"_keys":     builtinKeys,
		"_concat":   builtinConcat,
		"_merge":    builtinMerge,
		"_key":      builtinKey,
		"_const":    builtinConst,
		"_last":     builtinLast,
		"_helper":   builtinHelper,
		"_call":     builtinCall,
		"_invoke":   builtinInvoke,
		"_new":      builtinNew,
	} {
		runtimeBuiltins[name] = starlark.NewBuiltin(name, fn)
	}
}

func arg(args starlark.Tuple, i int) starlark.Value {
	if i < len(args) {
		return args[i]
	}
	return starlark.None
}

func strArg(args starlark.Tuple, i int) string {
	if s, ok := arg(args, i).(starlark.String); ok {
		return string(s)
	}
	return jsString(arg(args, i))
}

func number(v starlark.Value) float64 {
	switch v := v.(type) {
	case starlark.Int:
		return float64(v.Float())
	case starlark.Float:
		return float64(v)
	}
	n, ok := ejs.ToNumber(ConvertFromStarlark(v))
	if !ok {
		return math.NaN()
	}
	return n
}

func numberValue(f float64) starlark.Value { return ConvertToStarlark(ejs.NumberValue(f)) }

func builtinStr(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	return starlark.String(jsString(arg(args, 0))), nil
}

func builtinEscape(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	return starlark.String(ejs.EscapeHTML(jsString(arg(args, 0)))), nil
}

func builtinStrcat(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	var s string
	for _, a := range args {
		s += jsString(a)
	}
	return starlark.String(s), nil
}

func builtinOp(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	op := strArg(args, 0)
	a, b := arg(args, 1), arg(args, 2)
	switch op {
	case "**":
		return numberValue(math.Pow(number(a), number(b))), nil
	case "===", "==", "!==", "!=":
		if sameObject(a, b) {
			return starlark.Bool(op == "===" || op == "=="), nil
		}
	}
	return ConvertToStarlark(ejs.BinaryOp(op, ConvertFromStarlark(a), ConvertFromStarlark(b))), nil
}

// sameObject reports whether a and b are the same list or dict.
func sameObject(a, b starlark.Value) bool {
	switch x := a.(type) {
	case *starlark.List:
		y, ok := b.(*starlark.List)
		return ok && x == y
	case *starlark.Dict:
		y, ok := b.(*starlark.Dict)
		return ok && x == y
	}
	return false
}

func builtinNum(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	return numberValue(number(arg(args, 0))), nil
}

func builtinBit(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	toInt := func(v starlark.Value) int32 {
		f := number(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return int32(int64(f))
	}
	x, y := toInt(arg(args, 1)), toInt(arg(args, 2))
	var r int64
	switch strArg(args, 0) {
	case "|":
		r = int64(x | y)
	case "&":
		r = int64(x & y)
	case "^":
		r = int64(x ^ y)
	case "<<":
		r = int64(x << (uint32(y) & 31))
	case ">>":
		r = int64(x >> (uint32(y) & 31))
	case ">>>":
		r = int64(uint32(x) >> (uint32(y) & 31))
	case "~":
		r = int64(^x)
	}
	return starlark.MakeInt64(r), nil
}

// index converts a key to a list index.
func index(key starlark.Value) (int, bool) {
	switch k := key.(type) {
	case starlark.Int:
		i, ok := k.Int64()
		return int(i), ok
	case starlark.Float:
		if float64(k) == math.Trunc(float64(k)) {
			return int(k), true
		}
	case starlark.String:
		i, err := strconv.Atoi(string(k))
		return i, err == nil
	}
	return 0, false
}

func get(x, key starlark.Value) starlark.Value {
	switch v := x.(type) {
	case *starlark.Dict:
		if val, found, _ := v.Get(starlark.String(dictKey(key))); found {
			return val
		}
		return starlark.None
	case *starlark.List:
		if k, ok := key.(starlark.String); ok && k == "length" {
			return starlark.MakeInt(v.Len())
		}
		if i, ok := index(key); ok && i >= 0 && i < v.Len() {
			return v.Index(i)
		}
		return starlark.None
	case starlark.String:
		s := string(v)
		if k, ok := key.(starlark.String); ok && k == "length" {
			return starlark.MakeInt(utf8.RuneCountInString(s))
		}
		if i, ok := index(key); ok {
			r := []rune(s)
			if i >= 0 && i < len(r) {
				return starlark.String(string(r[i]))
			}
		}
		return starlark.None
	case starlark.NoneType:
		return starlark.None
	}
	return ConvertToStarlark(ejs.Property(ConvertFromStarlark(x), dictKey(key)))
}

func builtinGet(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	return get(arg(args, 0), arg(args, 1)), nil
}

func set(x, key, val starlark.Value) error {
	switch v := x.(type) {
	case *starlark.Dict:
		return v.SetKey(starlark.String(dictKey(key)), val)
	case *starlark.List:
		i, ok := index(key)
		if !ok || i < 0 {
			return nil
		}
		for v.Len() < i {
			if err := v.Append(starlark.None); err != nil {
				return err
			}
		}
		if i == v.Len() {
			return v.Append(val)
		}
		return v.SetIndex(i, val)
	}
	return nil
}

func builtinSet(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	val := arg(args, 2)
	if err := set(arg(args, 0), arg(args, 1), val); err != nil {
		return nil, err
	}
	return val, nil
}

// builtinUpdate implements ++ and --: _update(container, key, delta, prefix).
func builtinUpdate(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	x, key := arg(args, 0), arg(args, 1)
	old := number(get(x, key))
	updated := numberValue(old + number(arg(args, 2)))
	if err := set(x, key, updated); err != nil {
		return nil, err
	}
	if arg(args, 3).Truth() {
		return updated, nil
	}
	return numberValue(old), nil
}

func builtinDelete(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	if d, ok := arg(args, 0).(*starlark.Dict); ok {
		if _, _, err := d.Delete(starlark.String(dictKey(arg(args, 1)))); err != nil {
			return nil, err
		}
	}
	return starlark.True, nil
}

func builtinHas(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	switch v := arg(args, 0).(type) {
	case *starlark.Dict:
		_, found, _ := v.Get(starlark.String(dictKey(arg(args, 1))))
		return starlark.Bool(found), nil
	case *starlark.List:
		i, ok := index(arg(args, 1))
		return starlark.Bool(ok && i >= 0 && i < v.Len()), nil
	}
	return starlark.False, nil
}

func builtinTypeof(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	var t string
	switch arg(args, 0).(type) {
	case starlark.NoneType:
		t = "undefined"
	case starlark.Bool:
		t = "boolean"
	case starlark.Int, starlark.Float:
		t = "number"
	case starlark.String:
		t = "string"
	case starlark.Callable:
		t = "function"
	default:
		t = "object"
	}
	return starlark.String(t), nil
}

func builtinCoalesce(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	if a := arg(args, 0); a != starlark.None {
		return a, nil
	}
	return arg(args, 1), nil
}

// items lists what a for-of loop or a spread visits. Lists are copied so a
// loop body may modify the list it walks.
func items(x starlark.Value) []starlark.Value {
	switch v := x.(type) {
	case *starlark.List:
		out := make([]starlark.Value, v.Len())
		for i := range out {
			out[i] = v.Index(i)
		}
		return out
	case starlark.Tuple:
		return append([]starlark.Value(nil), v...)
	case *starlark.Dict:
		if data, found, _ := v.Get(starlark.String("data")); found {
			if _, ok := data.(*starlark.List); ok {
				return items(data)
			}
		}
		var out []starlark.Value
		for _, kv := range v.Items() {
			out = append(out, kv[1])
		}
		return out
	case starlark.String:
		var out []starlark.Value
		for _, r := range string(v) {
			out = append(out, starlark.String(string(r)))
		}
		return out
	}
	return nil
}

func builtinIter(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	return starlark.NewList(items(arg(args, 0))), nil
}

func builtinKeys(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	var out []starlark.Value
	switch v := arg(args, 0).(type) {
	case *starlark.Dict:
		for _, kv := range v.Items() {
			out = append(out, starlark.String(dictKey(kv[0])))
		}
	case *starlark.List, starlark.String:
		for i := range items(v) {
			out = append(out, starlark.String(strconv.Itoa(i)))
		}
	}
	return starlark.NewList(out), nil
}

func builtinConcat(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	var out []starlark.Value
	for _, a := range args {
		switch a.(type) {
		case *starlark.List, starlark.Tuple, *starlark.Dict, starlark.String:
			out = append(out, items(a)...)
		case starlark.NoneType:
		default:
			out = append(out, a)
		}
	}
	return starlark.NewList(out), nil
}

func builtinMerge(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	out := starlark.NewDict(0)
	for _, a := range args {
		switch v := a.(type) {
		case *starlark.Dict:
			for _, kv := range v.Items() {
				if err := out.SetKey(kv[0], kv[1]); err != nil {
					return nil, err
				}
			}
		case *starlark.List:
			for i, item := range items(v) {
				if err := out.SetKey(starlark.String(strconv.Itoa(i)), item); err != nil {
					return nil, err
				}
			}
		}
	}
	return out, nil
}

func builtinKey(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	return starlark.String(dictKey(arg(args, 0))), nil
}

func builtinConst(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	v, _ := ejs.Constant(strArg(args, 0))
	return ConvertToStarlark(v), nil
}

func builtinLast(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	if len(args) == 0 {
		return starlark.None, nil
	}
	return args[len(args)-1], nil
}

// builtinHelper calls a catalog helper. partial() writes a placeholder that
// is expanded once the script has finished; moment() starts a date chain.
func builtinHelper(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	st := stateOf(thread)
	name := strArg(args, 0)
	rest := args[min(1, len(args)):]
	switch name {
	case "partial":
		var locals *ejs.ObjectValue
		if obj, ok := ConvertFromStarlark(arg(rest, 1)).(*ejs.ObjectValue); ok {
			locals = obj
		}
		return starlark.String(ejs.EncodePlaceholder(strArg(rest, 0), locals)), nil
	case "moment":
		return &dateValue{chain: st.r.NewDateChain(st.ctx, convertArgs(rest))}, nil
	}
	v, err := st.r.CallHelper(st.ctx, name, convertArgs(rest), st.depth)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return ConvertToStarlark(v), nil
}

func callValue(thread *starlark.Thread, fn starlark.Value, args ...starlark.Value) (starlark.Value, error) {
	c, ok := fn.(starlark.Callable)
	if !ok {
		return starlark.None, nil
	}
	return starlark.Call(thread, c, starlark.Tuple(args), nil)
}

func builtinInvoke(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	if len(args) == 0 {
		return starlark.None, nil
	}
	return callValue(thread, args[0], args[1:]...)
}

// builtinCall implements recv.name(args...).
func builtinCall(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	recv, name := arg(args, 0), strArg(args, 1)
	rest := args[min(2, len(args)):]
	switch r := recv.(type) {
	case *dateValue:
		v, more := r.chain.Call(name, convertArgs(rest))
		if more {
			return r, nil
		}
		return ConvertToStarlark(v), nil
	case *starlark.List:
		if v, ok, err := listMethod(thread, r, name, rest); ok {
			return v, err
		}
	case *starlark.Dict:
		if fn, found, _ := r.Get(starlark.String(name)); found {
			if _, ok := fn.(starlark.Callable); ok {
				return callValue(thread, fn, rest...)
			}
		}
		if data, found, _ := r.Get(starlark.String("data")); found {
			if l, ok := data.(*starlark.List); ok {
				if v, ok, err := listMethod(thread, l, name, rest); ok {
					return v, err
				}
			}
		}
	case starlark.NoneType:
		return starlark.None, nil
	}
	st := stateOf(thread)
	return ConvertToStarlark(st.r.CallMethod(st.ctx, ConvertFromStarlark(recv), name, convertArgs(rest))), nil
}

// replace swaps the contents of l for vs.
func replace(l *starlark.List, vs []starlark.Value) error {
	if err := l.Clear(); err != nil {
		return err
	}
	for _, v := range vs {
		if err := l.Append(v); err != nil {
			return err
		}
	}
	return nil
}

// listMethod runs the array methods that mutate their receiver or take a
// callback. It reports false for everything else.
func listMethod(thread *starlark.Thread, l *starlark.List, name string, args starlark.Tuple) (starlark.Value, bool, error) {
	vs := items(l)
	switch name {
	case "push":
		err := replace(l, append(vs, args...))
		return starlark.MakeInt(l.Len()), true, err
	case "unshift":
		err := replace(l, append(append([]starlark.Value{}, args...), vs...))
		return starlark.MakeInt(l.Len()), true, err
	case "pop", "shift":
		if len(vs) == 0 {
			return starlark.None, true, nil
		}
		if name == "pop" {
			return vs[len(vs)-1], true, replace(l, vs[:len(vs)-1])
		}
		return vs[0], true, replace(l, vs[1:])
	case "splice":
		start, end := spliceBounds(args, len(vs))
		removed := append([]starlark.Value{}, vs[start:end]...)
		kept := append(append(append([]starlark.Value{}, vs[:start]...), args[min(2, len(args)):]...), vs[end:]...)
		return starlark.NewList(removed), true, replace(l, kept)
	case "reverse":
		for i, j := 0, len(vs)-1; i < j; i, j = i+1, j-1 {
			vs[i], vs[j] = vs[j], vs[i]
		}
		return l, true, replace(l, vs)
	}

	fn, ok := arg(args, 0).(starlark.Callable)
	if !ok {
		return nil, false, nil
	}
	call := func(v starlark.Value, i int) (starlark.Value, error) {
		return starlark.Call(thread, fn, starlark.Tuple{v, starlark.MakeInt(i), l}, nil)
	}
	switch name {
	case "forEach", "each":
		for i, v := range vs {
			if _, err := call(v, i); err != nil {
				return nil, true, err
			}
		}
		return starlark.None, true, nil
	case "map", "flatMap":
		out := make([]starlark.Value, 0, len(vs))
		for i, v := range vs {
			r, err := call(v, i)
			if err != nil {
				return nil, true, err
			}
			if inner, ok := r.(*starlark.List); ok && name == "flatMap" {
				out = append(out, items(inner)...)
				continue
			}
			out = append(out, r)
		}
		return starlark.NewList(out), true, nil
	case "filter":
		var out []starlark.Value
		for i, v := range vs {
			r, err := call(v, i)
			if err != nil {
				return nil, true, err
			}
			if r.Truth() {
				out = append(out, v)
			}
		}
		return starlark.NewList(out), true, nil
	case "find", "findIndex", "some":
		for i, v := range vs {
			r, err := call(v, i)
			if err != nil {
				return nil, true, err
			}
			if r.Truth() {
				switch name {
				case "find":
					return v, true, nil
				case "findIndex":
					return starlark.MakeInt(i), true, nil
				}
				return starlark.True, true, nil
			}
		}
		switch name {
		case "find":
			return starlark.None, true, nil
		case "findIndex":
			return starlark.MakeInt(-1), true, nil
		}
		return starlark.False, true, nil
	case "every":
		for i, v := range vs {
			r, err := call(v, i)
			if err != nil {
				return nil, true, err
			}
			if !r.Truth() {
				return starlark.False, true, nil
			}
		}
		return starlark.True, true, nil
	case "reduce":
		var acc starlark.Value
		start := 0
		if len(args) > 1 {
			acc = args[1]
		} else if len(vs) > 0 {
			acc, start = vs[0], 1
		} else {
			return starlark.None, true, nil
		}
		for i := start; i < len(vs); i++ {
			r, err := starlark.Call(thread, fn, starlark.Tuple{acc, vs[i], starlark.MakeInt(i), l}, nil)
			if err != nil {
				return nil, true, err
			}
			acc = r
		}
		return acc, true, nil
	case "sort":
		var callErr error
		sort.SliceStable(vs, func(i, j int) bool {
			if callErr != nil {
				return false
			}
			r, err := starlark.Call(thread, fn, starlark.Tuple{vs[i], vs[j]}, nil)
			if err != nil {
				callErr = err
				return false
			}
			return number(r) < 0
		})
		if callErr != nil {
			return nil, true, callErr
		}
		return l, true, replace(l, vs)
	}
	return nil, false, nil
}

func spliceBounds(args starlark.Tuple, n int) (int, int) {
	start := 0
	if len(args) > 0 {
		start = int(number(args[0]))
		if start < 0 {
			start += n
		}
		start = max(0, min(start, n))
	}
	end := n
	if len(args) > 1 {
		end = start + max(0, int(number(args[1])))
		end = min(end, n)
	}
	return start, end
}

func builtinNew(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	st := stateOf(thread)
	rest := args[min(1, len(args)):]
	switch strArg(args, 0) {
	case "Date":
		return &dateValue{chain: st.r.NewDateChain(st.ctx, convertArgs(rest))}, nil
	case "Array", "Set":
		return starlark.NewList(items(arg(rest, 0))), nil
	case "Object", "Map":
		return starlark.NewDict(0), nil
	case "String":
		return starlark.String(jsString(arg(rest, 0))), nil
	case "Number":
		return numberValue(number(arg(rest, 0))), nil
	}
	return starlark.None, nil
}
