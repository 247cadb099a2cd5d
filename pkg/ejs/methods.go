package ejs

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxStringLength caps strings built by repeat and padStart/padEnd. Longer
// results degrade to the empty string or the unpadded receiver.
const MaxStringLength = 1 << 24

// callMethod dispatches recv.name(args...). raw holds the argument source
// text so closures can be recognised; their evaluated value is Null.
func (e *evaluator) callMethod(recv Value, name string, args []Value, raw []string) Value {
	if name == "toString" {
		return StringValue(recv.String())
	}
	switch x := recv.(type) {
	case ArrayValue:
		return arrayMethod(x, name, args, raw)
	case StringValue:
		if v, ok := stringMethod(x, name, args); ok {
			return v
		}
		if t, ok := parseDate(x, e.location()); ok {
			return e.dateStringMethod(t, name, args)
		}
	case NumberValue:
		return numberMethod(x, name, args)
	case *ObjectValue:
		return objectMethod(x, name, args)
	}
	e.logger().Debug("unknown method", "method", name, "template", e.tpl.Name)
	return Null
}

func hasClosure(raw []string) bool {
	for _, r := range raw {
		if isFunctionLiteral(strings.TrimSpace(r)) {
			return true
		}
	}
	return false
}

func intArg(args []Value, i int, def int) int {
	if i >= len(args) {
		return def
	}
	if _, null := args[i].(NullValue); null {
		return def
	}
	n, ok := ToNumber(args[i])
	if !ok || math.IsNaN(n) {
		return def
	}
	return int(n)
}

func strArg(args []Value, i int, def string) string {
	if i >= len(args) {
		return def
	}
	if _, null := args[i].(NullValue); null {
		return def
	}
	return args[i].String()
}

// sliceBounds resolves JavaScript slice(start, end) arguments against n.
func sliceBounds(args []Value, n int) (int, int) {
	clamp := func(i int) int {
		if i < 0 {
			i += n
		}
		return max(0, min(i, n))
	}
	start := clamp(intArg(args, 0, 0))
	end := clamp(intArg(args, 1, n))
	if end < start {
		end = start
	}
	return start, end
}

func arrayMethod(arr ArrayValue, name string, args []Value, raw []string) Value {
	switch name {
	case "sort":
		return sortArray(arr, args)
	case "limit":
		n := intArg(args, 0, len(arr))
		if n < 0 || n > len(arr) {
			n = len(arr)
		}
		return append(ArrayValue{}, arr[:n]...)
	case "slice":
		start, end := sliceBounds(args, len(arr))
		return append(ArrayValue{}, arr[start:end]...)
	case "filter", "toArray":
		return append(ArrayValue{}, arr...)
	case "reverse":
		out := make(ArrayValue, len(arr))
		for i, v := range arr {
			out[len(arr)-1-i] = v
		}
		return out
	case "count", "length", "size":
		return NumberValue(len(arr))
	case "first":
		if len(arr) == 0 {
			return Null
		}
		return arr[0]
	case "last":
		if len(arr) == 0 {
			return Null
		}
		return arr[len(arr)-1]
	case "join":
		sep := strArg(args, 0, ",")
		parts := make([]string, len(arr))
		for i, v := range arr {
			parts[i] = v.String()
		}
		return StringValue(strings.Join(parts, sep))
	case "indexOf":
		if len(args) == 0 {
			return NumberValue(-1)
		}
		for i, v := range arr {
			if Equal(v, args[0]) {
				return NumberValue(i)
			}
		}
		return NumberValue(-1)
	case "includes":
		if len(args) == 0 {
			return BoolValue(false)
		}
		for _, v := range arr {
			if Equal(v, args[0]) {
				return BoolValue(true)
			}
		}
		return BoolValue(false)
	case "concat":
		out := append(ArrayValue{}, arr...)
		for _, a := range args {
			if more, ok := a.(ArrayValue); ok {
				out = append(out, more...)
			} else {
				out = append(out, a)
			}
		}
		return out
	case "map":
		if hasClosure(raw) || len(args) == 0 {
			return ArrayValue{}
		}
		key := args[0].String()
		out := make(ArrayValue, len(arr))
		for i, v := range arr {
			out[i] = Property(v, key)
		}
		return out
	case "reduce":
		return NumberValue(0)
	case "find", "findLast":
		return Null
	case "some", "every":
		return BoolValue(false)
	case "findIndex":
		return NumberValue(-1)
	case "each", "forEach":
		return Null
	}
	return Null
}

// sortArray orders by a property (default "date"). A leading '-' on the
// key, a negative second argument or "desc" sorts descending.
func sortArray(arr ArrayValue, args []Value) Value {
	key := strArg(args, 0, "date")
	desc := false
	if strings.HasPrefix(key, "-") {
		desc = true
		key = key[1:]
	}
	if len(args) > 1 {
		switch d := args[1].(type) {
		case NumberValue:
			desc = d < 0
		case StringValue:
			desc = strings.HasPrefix(strings.ToLower(string(d)), "desc")
		}
	}
	out := append(ArrayValue{}, arr...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := Property(out[i], key), Property(out[j], key)
		if _, ok := out[i].(*ObjectValue); !ok {
			a, b = out[i], out[j]
		}
		c := compareSortKeys(a, b)
		if desc {
			return c > 0
		}
		return c < 0
	})
	return out
}

func compareSortKeys(a, b Value) int {
	x, okA := a.(NumberValue)
	y, okB := b.(NumberValue)
	if okA && okB {
		return Compare(x, y)
	}
	return strings.Compare(a.String(), b.String())
}

// stringMethod reports false when name is not a string method, so date
// methods can be tried next.
func stringMethod(s StringValue, name string, args []Value) (Value, bool) {
	str := string(s)
	switch name {
	case "replace", "replaceAll":
		return StringValue(strings.ReplaceAll(str, strArg(args, 0, ""), strArg(args, 1, ""))), true
	case "split":
		sep := strArg(args, 0, ",")
		var parts []string
		if sep == "" {
			for _, r := range str {
				parts = append(parts, string(r))
			}
		} else {
			parts = strings.Split(str, sep)
		}
		if limit := intArg(args, 1, -1); limit >= 0 && limit < len(parts) {
			parts = parts[:limit]
		}
		out := make(ArrayValue, len(parts))
		for i, p := range parts {
			out[i] = StringValue(p)
		}
		return out, true
	case "trim":
		return StringValue(strings.TrimSpace(str)), true
	case "trimStart", "trimLeft":
		return StringValue(strings.TrimLeft(str, " \t\r\n")), true
	case "trimEnd", "trimRight":
		return StringValue(strings.TrimRight(str, " \t\r\n")), true
	case "toLowerCase", "toLocaleLowerCase":
		return StringValue(strings.ToLower(str)), true
	case "toUpperCase", "toLocaleUpperCase":
		return StringValue(strings.ToUpper(str)), true
	case "substring":
		r := []rune(str)
		a := max(0, min(intArg(args, 0, 0), len(r)))
		b := max(0, min(intArg(args, 1, len(r)), len(r)))
		if a > b {
			a, b = b, a
		}
		return StringValue(string(r[a:b])), true
	case "substr":
		r := []rune(str)
		start := intArg(args, 0, 0)
		if start < 0 {
			start = max(0, len(r)+start)
		}
		start = min(start, len(r))
		end := len(r)
		if n := intArg(args, 1, -1); n >= 0 {
			end = min(start+n, len(r))
		}
		return StringValue(string(r[start:end])), true
	case "slice":
		r := []rune(str)
		start, end := sliceBounds(args, len(r))
		return StringValue(string(r[start:end])), true
	case "startsWith":
		return BoolValue(strings.HasPrefix(str, strArg(args, 0, ""))), true
	case "endsWith":
		return BoolValue(strings.HasSuffix(str, strArg(args, 0, ""))), true
	case "includes":
		return BoolValue(strings.Contains(str, strArg(args, 0, ""))), true
	case "indexOf":
		i := strings.Index(str, strArg(args, 0, ""))
		if i > 0 {
			i = utf8.RuneCountInString(str[:i])
		}
		return NumberValue(i), true
	case "lastIndexOf":
		i := strings.LastIndex(str, strArg(args, 0, ""))
		if i > 0 {
			i = utf8.RuneCountInString(str[:i])
		}
		return NumberValue(i), true
	case "charAt":
		return Property(s, strconv.Itoa(intArg(args, 0, 0))), true
	case "charCodeAt":
		r := []rune(str)
		i := intArg(args, 0, 0)
		if i < 0 || i >= len(r) {
			return NumberValue(math.NaN()), true
		}
		return NumberValue(r[i]), true
	case "length":
		return NumberValue(utf8.RuneCountInString(str)), true
	case "padStart", "padEnd":
		n := intArg(args, 0, 0)
		pad := strArg(args, 1, " ")
		missing := n - utf8.RuneCountInString(str)
		if missing <= 0 || pad == "" || n > MaxStringLength {
			return s, true
		}
		fill := []rune(strings.Repeat(pad, missing))[:missing]
		if name == "padStart" {
			return StringValue(string(fill) + str), true
		}
		return StringValue(str + string(fill)), true
	case "repeat":
		n := intArg(args, 0, 0)
		if n <= 0 || str == "" || n > MaxStringLength/len(str) {
			return StringValue(""), true
		}
		return StringValue(strings.Repeat(str, n)), true
	case "concat":
		var b strings.Builder
		b.WriteString(str)
		for _, a := range args {
			b.WriteString(a.String())
		}
		return StringValue(b.String()), true
	}
	return nil, false
}

func (e *evaluator) dateStringMethod(t time.Time, name string, args []Value) Value {
	switch name {
	case "valueOf":
		return NumberValue(t.Year()*10000 + int(t.Month())*100 + t.Day())
	case "date", "day":
		return NumberValue(t.Day())
	}
	v, next := e.dateMethod(&dateState{t: t, locale: e.configString("language", "en"), valid: true}, name, args)
	if next != nil {
		return next.value()
	}
	return v
}

func numberMethod(n NumberValue, name string, args []Value) Value {
	switch name {
	case "toFixed":
		return StringValue(strconv.FormatFloat(float64(n), 'f', max(0, intArg(args, 0, 0)), 64))
	case "toLocaleString":
		return StringValue(groupThousands(float64(n)))
	case "valueOf":
		return n
	}
	return Null
}

func groupThousands(f float64) string {
	s := formatNumber(math.Trunc(math.Abs(f)))
	frac := ""
	if f != math.Trunc(f) {
		frac = strings.TrimPrefix(strconv.FormatFloat(math.Abs(f)-math.Trunc(math.Abs(f)), 'f', 3, 64), "0")
		frac = strings.TrimRight(strings.TrimRight(frac, "0"), ".")
	}
	var b strings.Builder
	if f < 0 {
		b.WriteByte('-')
	}
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return b.String() + frac
}

func objectMethod(o *ObjectValue, name string, args []Value) Value {
	switch name {
	case "hasOwnProperty":
		_, ok := o.Get(strArg(args, 0, ""))
		return BoolValue(ok)
	case "get":
		v, _ := o.Get(strArg(args, 0, ""))
		return orNull(v)
	case "toArray":
		out := make(ArrayValue, 0, o.Len())
		for _, k := range o.Keys() {
			v, _ := o.Get(k)
			out = append(out, v)
		}
		return out
	}
	if v, ok := o.Get("data"); ok {
		if arr, ok := v.(ArrayValue); ok {
			return arrayMethod(arr, name, args, nil)
		}
	}
	return Null
}
