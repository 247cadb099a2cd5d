package starlark

import (
	"testing"

	"github.com/hexgo/hexgo/pkg/ejs"
	"go.starlark.net/starlark"
)

func TestConvertToStarlark(t *testing.T) {
	tests := []struct {
		name     string
		input    ejs.Value
		expected starlark.Value
	}{
		{
			name:     "string value",
			input:    ejs.StringValue("hello"),
			expected: starlark.String("hello"),
		},
		{
			name:     "integral number",
			input:    ejs.NumberValue(42),
			expected: starlark.MakeInt64(42),
		},
		{
			name:     "fractional number",
			input:    ejs.NumberValue(3.14),
			expected: starlark.Float(3.14),
		},
		{
			name:     "bool value",
			input:    ejs.BoolValue(true),
			expected: starlark.Bool(true),
		},
		{
			name:     "null value",
			input:    ejs.Null,
			expected: starlark.None,
		},
		{
			name:     "nil value",
			input:    nil,
			expected: starlark.None,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertToStarlark(tt.input)
			if result.String() != tt.expected.String() {
				t.Errorf("ConvertToStarlark() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestConvertFromStarlark(t *testing.T) {
	tests := []struct {
		name     string
		input    starlark.Value
		expected string
	}{
		{"string value", starlark.String("hello"), "hello"},
		{"int value", starlark.MakeInt64(42), "42"},
		{"float value", starlark.Float(3.14), "3.14"},
		{"bool value", starlark.Bool(false), "false"},
		{"none value", starlark.None, ""},
		{"tuple value", starlark.Tuple{starlark.String("a"), starlark.MakeInt(1)}, "a,1"},
		{"builtin function", runtimeBuiltins["_str"], ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertFromStarlark(tt.input)
			if result.String() != tt.expected {
				t.Errorf("ConvertFromStarlark() = %v, want %v", result.String(), tt.expected)
			}
		})
	}
}

func TestObjectConversionKeepsOrder(t *testing.T) {
	obj := ejs.NewObject()
	obj.Set("zeta", ejs.NumberValue(1))
	obj.Set("alpha", ejs.ArrayValue{ejs.StringValue("x"), ejs.Null})
	obj.Set("mid", ejs.NumberValue(2.5))

	dict, ok := ConvertToStarlark(obj).(*starlark.Dict)
	if !ok {
		t.Fatalf("Expected starlark.Dict, got %T", ConvertToStarlark(obj))
	}
	if dict.Len() != 3 {
		t.Errorf("Expected dict length 3, got %d", dict.Len())
	}

	back := ConvertFromStarlark(dict)
	if got, want := ejs.ToJSON(back), `{"zeta":1,"alpha":["x",null],"mid":2.5}`; got != want {
		t.Errorf("round trip = %s, want %s", got, want)
	}
}

func evalContext() *ejs.Context {
	ctx := ejs.NewContext()
	ctx.SetGo("a", 1)
	ctx.SetGo("b", 3)
	ctx.SetGo("name", "hexgo")
	ctx.SetGo("list", []string{"x", "y", "z"})
	ctx.SetGo("page", map[string]any{"title": "Post", "date": "2024-03-05 15:04:05"})
	ctx.SetGo("config", map[string]any{"root": "/", "language": "en"})
	return ctx
}

// Expressions both engines support must agree.
func TestEvalMatchesNativeEvaluator(t *testing.T) {
	r := ejs.NewRenderer(ejs.NewRegistry())
	engine := NewEngine(r, nil)
	ctx := evalContext()

	exprs := []string{
		"a + b * 2",
		"(a + b) * 2",
		"10 / 4",
		"7 % 4",
		`"x" + a`,
		"a + b + name",
		"a == '1'",
		"a === '1'",
		"a > b ? 'big' : 'small'",
		"missing ?? 'fallback'",
		"name || 'default'",
		"!name",
		"typeof name",
		"typeof url_for",
		"typeof missing",
		"page.title",
		"page['title']",
		"page.nothing",
		"list.length",
		"list[1]",
		"`Hi ${name}!`",
		"[1, 2, 3].slice(1).join('-')",
		"[...list, 'w'].length",
		"JSON.stringify({a: 1, b: [true, null]})",
		"Math.max(a, b, 2)",
		"Math.PI > 3",
		"parseInt('42px')",
		"'hexgo'.toUpperCase()",
		"'a,b'.split(',').length",
		"page.date.year()",
		"url_for('/about/')",
		"moment('2024-03-05').format('YYYY/MM/DD')",
		"new Date('2024-01-15').getMonth()",
		"0x10 + 1e1",
	}
	for _, expr := range exprs {
		t.Run(expr, func(t *testing.T) {
			want, err := r.Eval(expr, ctx)
			if err != nil {
				t.Fatalf("native eval error: %v", err)
			}
			got, err := engine.Eval(expr, ctx)
			if err != nil {
				t.Fatalf("eval error: %v", err)
			}
			if got.String() != want.String() {
				t.Fatalf("got %q, native evaluator gives %q", got.String(), want.String())
			}
		})
	}
}

func TestEvalScriptOnly(t *testing.T) {
	engine := NewEngine(ejs.NewRenderer(ejs.NewRegistry()), nil)
	ctx := evalContext()

	tests := []struct {
		expr string
		want string
	}{
		{"list.map(x => x.toUpperCase()).join('')", "XYZ"},
		{"list.filter(x => x !== 'y').length", "2"},
		{"list.reduce((acc, x) => acc + x, '>')", ">xyz"},
		{"list.find(x => x > 'x')", "y"},
		{"list.findIndex(x => x === 'z')", "2"},
		{"list.some(x => x === 'q')", "false"},
		{"list.every(x => x.length === 1)", "true"},
		{"[3, 1, 2].sort((p, q) => p - q).join()", "1,2,3"},
		{"((n) => n * 2)(21)", "42"},
		{"(function () { return 'iife' })()", "iife"},
		{"2 ** 10", "1024"},
		{"5 & 3 | 8", "9"},
		{"'title' in page", "true"},
		{"{...page, extra: 1}.extra", "1"},
		{"moment('2024-01-31').add(1, 'days').format('MM-DD')", "02-01"},
		{"new Date('2024-01-02T00:00:00Z') - new Date('2024-01-01T00:00:00Z')", "86400000"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			v, err := engine.Eval(tt.expr, ctx)
			if err != nil {
				t.Fatalf("eval error: %v", err)
			}
			if v.String() != tt.want {
				t.Fatalf("got %q, want %q", v.String(), tt.want)
			}
		})
	}
}
