package ejs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Value is a dynamic template value. The set of implementations is closed:
// NullValue, BoolValue, NumberValue, StringValue, ArrayValue and *ObjectValue.
type Value interface {
	// String returns the text written to the output buffer for the value.
	String() string
	// Truth reports whether the value is truthy.
	Truth() bool
	value()
}

// NullValue represents null and undefined.
type NullValue struct{}

func (NullValue) String() string { return "" }
func (NullValue) Truth() bool    { return false }
func (NullValue) value()         {}

// Null is the shared null value.
var Null Value = NullValue{}

// BoolValue wraps a boolean.
type BoolValue bool

func (b BoolValue) String() string {
	if b {
		return "true"
	}
	return "false"
}
func (b BoolValue) Truth() bool { return bool(b) }
func (BoolValue) value()        {}

// NumberValue is a float64, like every number in the template language.
type NumberValue float64

func (n NumberValue) String() string { return formatNumber(float64(n)) }
func (n NumberValue) Truth() bool    { return n != 0 && !math.IsNaN(float64(n)) }
func (NumberValue) value()           {}

// StringValue wraps a string.
type StringValue string

func (s StringValue) String() string { return string(s) }
func (s StringValue) Truth() bool    { return s != "" }
func (StringValue) value()           {}

// ArrayValue is an ordered list of values.
type ArrayValue []Value

func (a ArrayValue) String() string {
	parts := make([]string, len(a))
	for i, v := range a {
		if v != nil {
			parts[i] = v.String()
		}
	}
	return strings.Join(parts, ",")
}
func (a ArrayValue) Truth() bool { return len(a) > 0 }
func (ArrayValue) value()        {}

// ObjectValue is a string-keyed map that remembers insertion order.
// Setting an existing key keeps its original position.
type ObjectValue struct {
	keys []string
	m    map[string]Value
}

// NewObject returns an empty object.
func NewObject() *ObjectValue {
	return &ObjectValue{m: map[string]Value{}}
}

func (o *ObjectValue) String() string { return "[object Object]" }
func (o *ObjectValue) Truth() bool    { return o != nil && len(o.keys) > 0 }
func (*ObjectValue) value()           {}

// Get returns the value stored under key.
func (o *ObjectValue) Get(key string) (Value, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o.m[key]
	return v, ok
}

// Set stores v under key.
func (o *ObjectValue) Set(key string, v Value) {
	if v == nil {
		v = Null
	}
	if o.m == nil {
		o.m = map[string]Value{}
	}
	if _, ok := o.m[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.m[key] = v
}

// Delete removes key, if present.
func (o *ObjectValue) Delete(key string) {
	if o == nil {
		return
	}
	if _, ok := o.m[key]; !ok {
		return
	}
	delete(o.m, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i:i], o.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (o *ObjectValue) Keys() []string {
	if o == nil {
		return nil
	}
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

// Len returns the number of keys.
func (o *ObjectValue) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Clone returns a shallow copy.
func (o *ObjectValue) Clone() *ObjectValue {
	c := NewObject()
	if o == nil {
		return c
	}
	for _, k := range o.keys {
		c.Set(k, o.m[k])
	}
	return c
}

// MarshalJSON encodes the object with its keys in insertion order.
func (o *ObjectValue) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	writeJSON(&buf, o)
	return buf.Bytes(), nil
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == math.Trunc(f) && math.Abs(f) < 1e15:
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Equal reports strict equality. Numbers compare with an epsilon tolerance.
// Arrays and objects never compare equal, not even to themselves.
func Equal(a, b Value) bool {
	a, b = orNull(a), orNull(b)
	switch x := a.(type) {
	case NullValue:
		_, ok := b.(NullValue)
		return ok
	case BoolValue:
		y, ok := b.(BoolValue)
		return ok && x == y
	case NumberValue:
		y, ok := b.(NumberValue)
		return ok && math.Abs(float64(x)-float64(y)) < epsilon
	case StringValue:
		y, ok := b.(StringValue)
		return ok && x == y
	}
	return false
}

const epsilon = 2.220446049250313e-16

// LooseEqual implements ==: like Equal, but numbers, booleans and numeric
// strings are compared as numbers when their kinds differ.
func LooseEqual(a, b Value) bool {
	a, b = orNull(a), orNull(b)
	if reflect.TypeOf(a) == reflect.TypeOf(b) {
		return Equal(a, b)
	}
	_, an := a.(NullValue)
	_, bn := b.(NullValue)
	if an || bn {
		return false
	}
	if isComposite(a) || isComposite(b) {
		return false
	}
	x, ok1 := ToNumber(a)
	y, ok2 := ToNumber(b)
	return ok1 && ok2 && math.Abs(x-y) < epsilon
}

func isComposite(v Value) bool {
	switch v.(type) {
	case ArrayValue, *ObjectValue:
		return true
	}
	return false
}

// Compare orders two numbers numerically or two strings lexically.
// Any other combination compares as equal.
func Compare(a, b Value) int {
	switch x := a.(type) {
	case NumberValue:
		if y, ok := b.(NumberValue); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	case StringValue:
		if y, ok := b.(StringValue); ok {
			return strings.Compare(string(x), string(y))
		}
	}
	return 0
}

// ToNumber converts v the way unary plus would. The second result is false
// when the value has no numeric reading.
func ToNumber(v Value) (float64, bool) {
	switch x := orNull(v).(type) {
	case NumberValue:
		return float64(x), true
	case BoolValue:
		if x {
			return 1, true
		}
		return 0, true
	case NullValue:
		return 0, true
	case StringValue:
		s := strings.TrimSpace(string(x))
		if s == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN(), false
		}
		return f, true
	}
	return math.NaN(), false
}

// Len returns the length of a string (in characters), array or object.
func Len(v Value) int {
	switch x := v.(type) {
	case StringValue:
		return utf8.RuneCountInString(string(x))
	case ArrayValue:
		return len(x)
	case *ObjectValue:
		return x.Len()
	}
	return 0
}

// Property reads a named property: object keys, array indexes and length,
// string length. Everything else yields Null.
func Property(v Value, key string) Value {
	switch x := v.(type) {
	case *ObjectValue:
		if r, ok := x.Get(key); ok {
			return r
		}
		if key == "length" {
			return Null
		}
	case ArrayValue:
		if key == "length" {
			return NumberValue(len(x))
		}
		if i, err := strconv.Atoi(key); err == nil && i >= 0 && i < len(x) {
			return orNull(x[i])
		}
	case StringValue:
		if key == "length" {
			return NumberValue(utf8.RuneCountInString(string(x)))
		}
		if i, err := strconv.Atoi(key); err == nil {
			r := []rune(string(x))
			if i >= 0 && i < len(r) {
				return StringValue(string(r[i]))
			}
		}
	}
	return Null
}

// Index reads v[key] where key is itself a value.
func Index(v Value, key Value) Value {
	if n, ok := key.(NumberValue); ok {
		return Property(v, formatNumber(float64(n)))
	}
	return Property(v, orNull(key).String())
}

func orNull(v Value) Value {
	if v == nil {
		return Null
	}
	return v
}

// FromGo converts plain Go data (as produced by encoding/json, yaml
// decoders or literals in host code) into a Value. Map keys are sorted
// because Go maps carry no order; use *ObjectValue directly when order
// matters.
func FromGo(x any) Value {
	switch v := x.(type) {
	case nil:
		return Null
	case Value:
		return v
	case bool:
		return BoolValue(v)
	case string:
		return StringValue(v)
	case int:
		return NumberValue(v)
	case int64:
		return NumberValue(v)
	case int32:
		return NumberValue(v)
	case uint64:
		return NumberValue(v)
	case float64:
		return NumberValue(v)
	case float32:
		return NumberValue(v)
	case json.Number:
		f, _ := v.Float64()
		return NumberValue(f)
	case time.Time:
		return StringValue(v.Format(time.RFC3339))
	case []string:
		out := make(ArrayValue, len(v))
		for i, s := range v {
			out[i] = StringValue(s)
		}
		return out
	case []any:
		out := make(ArrayValue, len(v))
		for i, e := range v {
			out[i] = FromGo(e)
		}
		return out
	case []Value:
		return ArrayValue(v)
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		o := NewObject()
		for _, k := range keys {
			o.Set(k, FromGo(v[k]))
		}
		return o
	case map[string]string:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		o := NewObject()
		for _, k := range keys {
			o.Set(k, StringValue(v[k]))
		}
		return o
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make(ArrayValue, rv.Len())
		for i := range out {
			out[i] = FromGo(rv.Index(i).Interface())
		}
		return out
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		f, _ := strconv.ParseFloat(fmt.Sprint(x), 64)
		return NumberValue(f)
	case reflect.Pointer:
		if rv.IsNil() {
			return Null
		}
		return FromGo(rv.Elem().Interface())
	}
	return StringValue(fmt.Sprint(x))
}

// ToGo converts v into plain Go data.
func ToGo(v Value) any {
	switch x := orNull(v).(type) {
	case NullValue:
		return nil
	case BoolValue:
		return bool(x)
	case NumberValue:
		return float64(x)
	case StringValue:
		return string(x)
	case ArrayValue:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = ToGo(e)
		}
		return out
	case *ObjectValue:
		out := make(map[string]any, x.Len())
		for _, k := range x.keys {
			out[k] = ToGo(x.m[k])
		}
		return out
	}
	return nil
}

// ToJSON renders v the way JSON.stringify does, keeping object key order.
func ToJSON(v Value) string {
	var buf bytes.Buffer
	writeJSON(&buf, v)
	return buf.String()
}

func writeJSON(buf *bytes.Buffer, v Value) {
	switch x := orNull(v).(type) {
	case NullValue:
		buf.WriteString("null")
	case BoolValue, NumberValue:
		if n, ok := x.(NumberValue); ok && (math.IsNaN(float64(n)) || math.IsInf(float64(n), 0)) {
			buf.WriteString("null")
			return
		}
		buf.WriteString(x.String())
	case StringValue:
		writeJSONString(buf, string(x))
	case ArrayValue:
		buf.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJSON(buf, e)
		}
		buf.WriteByte(']')
	case *ObjectValue:
		buf.WriteByte('{')
		for i, k := range x.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJSONString(buf, k)
			buf.WriteByte(':')
			e, _ := x.Get(k)
			writeJSON(buf, e)
		}
		buf.WriteByte('}')
	}
}

func writeJSONString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	// Encode appends a newline.
	buf.Truncate(buf.Len() - 1)
}

// ParseJSON decodes JSON text into a Value, keeping object key order.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeJSON(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}

func decodeJSON(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '[':
			arr := ArrayValue{}
			for dec.More() {
				e, err := decodeJSON(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, e)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		case '{':
			obj := NewObject()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("object key is %T, not string", kt)
				}
				e, err := decodeJSON(dec)
				if err != nil {
					return nil, err
				}
				obj.Set(key, e)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	default:
		return FromGo(t), nil
	}
}
