package starlark

import (
	"fmt"
	"math"

	"github.com/hexgo/hexgo/pkg/ejs"
	"go.starlark.net/starlark"
)

// ConvertToStarlark converts a template Value to a Starlark value. Integral
// numbers become Int so they print and index the way scripts expect.
func ConvertToStarlark(val ejs.Value) starlark.Value {
	if val == nil {
		return starlark.None
	}

	switch v := val.(type) {
	case ejs.StringValue:
		return starlark.String(string(v))
	case ejs.NumberValue:
		f := float64(v)
		if f == math.Trunc(f) && math.Abs(f) <= 1<<53 {
			return starlark.MakeInt64(int64(f))
		}
		return starlark.Float(f)
	case ejs.BoolValue:
		return starlark.Bool(bool(v))
	case ejs.ArrayValue:
		items := make([]starlark.Value, len(v))
		for i, item := range v {
			items[i] = ConvertToStarlark(item)
		}
		return starlark.NewList(items)
	case *ejs.ObjectValue:
		dict := starlark.NewDict(v.Len())
		for _, key := range v.Keys() {
			value, _ := v.Get(key)
			dict.SetKey(starlark.String(key), ConvertToStarlark(value))
		}
		return dict
	case ejs.NullValue:
		return starlark.None
	default:
		return starlark.String(val.String())
	}
}

// ConvertFromStarlark converts a Starlark value to a template Value.
// Functions have no template representation and become null.
func ConvertFromStarlark(val starlark.Value) ejs.Value {
	if val == nil || val == starlark.None {
		return ejs.Null
	}

	switch v := val.(type) {
	case starlark.String:
		return ejs.StringValue(string(v))
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return ejs.NumberValue(float64(i))
		}
		return ejs.NumberValue(v.Float())
	case starlark.Float:
		return ejs.NumberValue(float64(v))
	case starlark.Bool:
		return ejs.BoolValue(bool(v))
	case *starlark.List:
		items := make(ejs.ArrayValue, v.Len())
		for i := 0; i < v.Len(); i++ {
			items[i] = ConvertFromStarlark(v.Index(i))
		}
		return items
	case starlark.Tuple:
		items := make(ejs.ArrayValue, len(v))
		for i, item := range v {
			items[i] = ConvertFromStarlark(item)
		}
		return items
	case *starlark.Dict:
		obj := ejs.NewObject()
		for _, item := range v.Items() {
			obj.Set(dictKey(item[0]), ConvertFromStarlark(item[1]))
		}
		return obj
	case *dateValue:
		return v.chain.Value()
	case starlark.Callable:
		return ejs.Null
	default:
		return ejs.StringValue(v.String())
	}
}

func dictKey(k starlark.Value) string {
	if s, ok := k.(starlark.String); ok {
		return string(s)
	}
	return jsString(k)
}

// jsString stringifies v the way template output does.
func jsString(v starlark.Value) string {
	switch v := v.(type) {
	case starlark.String:
		return string(v)
	case *dateValue:
		return v.chain.Value().String()
	}
	return ConvertFromStarlark(v).String()
}

func convertArgs(args starlark.Tuple) []ejs.Value {
	out := make([]ejs.Value, len(args))
	for i, a := range args {
		out[i] = ConvertFromStarlark(a)
	}
	return out
}

// dateValue is a moment() or new Date() value inside a script. Method
// calls advance the chain; anywhere else it behaves as its ISO string.
type dateValue struct {
	chain *ejs.DateChain
}

var _ starlark.Value = (*dateValue)(nil)

func (d *dateValue) String() string        { return d.chain.Value().String() }
func (d *dateValue) Type() string          { return "date" }
func (d *dateValue) Freeze()               {}
func (d *dateValue) Truth() starlark.Bool  { return starlark.True }
func (d *dateValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: date") }
