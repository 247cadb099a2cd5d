package ejs

import (
	"testing"
	"time"
)

func evalContext() *Context {
	ctx := NewContext()
	ctx.SetGo("a", 1)
	ctx.SetGo("b", 3)
	ctx.SetGo("name", "hexgo")
	ctx.SetGo("empty", "")
	ctx.SetGo("list", []string{"x", "y", "z"})
	ctx.SetGo("page", map[string]any{
		"title": "Post",
		"tags":  []string{"go"},
		"date":  "2024-03-05 15:04:05",
	})
	posts := ArrayValue{}
	for _, p := range []struct {
		title, date string
	}{{"old", "2023-01-01"}, {"new", "2024-06-01"}, {"mid", "2023-09-15"}} {
		o := NewObject()
		o.Set("title", StringValue(p.title))
		o.Set("date", StringValue(p.date))
		posts = append(posts, o)
	}
	ctx.Set("posts", posts)
	ctx.SetGo("config", map[string]any{"root": "/blog/", "language": "en"})
	return ctx
}

func TestEvalExpressions(t *testing.T) {
	r := NewRenderer(NewRegistry())
	ctx := evalContext()
	tests := []struct {
		expr string
		want string
	}{
		{"a + b * 2", "7"},
		{"(a + b) * 2", "8"},
		{"b - a - 1", "1"},
		{"-5 + 2", "-3"},
		{"10 / 4", "2.5"},
		{"7 % 4", "3"},
		{`"x" + a`, "x1"},
		{"a + b + name", "4hexgo"},
		{"a < b", "true"},
		{"'abc' < 'abd'", "true"},
		{"a == '1'", "true"},
		{"a === '1'", "false"},
		{"a !== 1", "false"},
		{"a > b ? 'big' : 'small'", "small"},
		{"a ? b ? 'both' : 'a' : 'none'", "both"},
		{"empty || 'default'", "default"},
		{"name || 'default'", "hexgo"},
		{"a && name", "hexgo"},
		{"missing ?? 'fallback'", "fallback"},
		{"a ? '' : 'x' || 'fallback'", "fallback"},
		{"empty ? 'yes' : '' || 'no'", "no"},
		{"a && b ? 'both' : 'one'", "both"},
		{"!empty", "true"},
		{"!!name", "true"},
		{"typeof missing === 'undefined'", "true"},
		{"typeof name", "string"},
		{"typeof url_for", "function"},
		{"page.title", "Post"},
		{"page['title']", "Post"},
		{"page.tags.length", "1"},
		{"page.tags[0]", "go"},
		{"page.nothing.deeper", ""},
		{"page?.nothing?.deeper", ""},
		{"list.length > 2 && list[2]", "z"},
		{"`Hi ${name}!`", "Hi hexgo!"},
		{`'it\'s'`, "it's"},
		{"[1, 2, 3].slice(1).join('-')", "2-3"},
		{"[...list, 'w'].length", "4"},
		{"JSON.stringify({a: 1, b: [true, null], 'c d': 'x'})", `{"a":1,"b":[true,null],"c d":"x"}`},
		{"JSON.stringify({...page, title: 'T'}.title)", `"T"`},
		{"Object.keys(page).join(',')", "date,tags,title"},
		{"Array.isArray(list)", "true"},
		{"Math.max(a, b, 2)", "3"},
		{"Math.floor(7 / 2)", "3"},
		{"Math.round(2.5)", "3"},
		{"parseInt('42px')", "42"},
		{"parseFloat('3.5em')", "3.5"},
		{"encodeURIComponent('a b&c')", "a%20b%26c"},
		{"String(a) + String(b)", "13"},
		{"unknown_helper(1)", ""},
		{"posts.filter(p => p.title).length", "3"},
		{"1e3 + 1", "1001"},
		{"0x10", "16"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			v, err := r.Eval(tt.expr, ctx)
			if err != nil {
				t.Fatalf("eval error: %v", err)
			}
			if v.String() != tt.want {
				t.Fatalf("got %q, want %q", v.String(), tt.want)
			}
		})
	}
}

func TestEvalStructuralErrors(t *testing.T) {
	r := NewRenderer(NewRegistry())
	for _, expr := range []string{"(a", "a)", "'open", "[1, 2", "f(a]"} {
		if _, err := r.Eval(expr, NewContext()); err == nil {
			t.Fatalf("%q: want error", expr)
		}
	}
}

func TestMethods(t *testing.T) {
	r := NewRenderer(NewRegistry())
	ctx := evalContext()
	tests := []struct {
		expr string
		want string
	}{
		{"posts.sort('date').map('title').join(',')", "old,mid,new"},
		{"posts.sort('-date').map('title').join(',')", "new,mid,old"},
		{"posts.sort('title', -1).first().title", "old"},
		{"posts.sort('date').limit(2).length", "2"},
		{"posts.reverse().last().title", "old"},
		{"posts.map(p => p.title).length", "0"},
		{"posts.reduce((s, p) => s + 1, 0)", "0"},
		{"list.indexOf('y')", "1"},
		{"list.includes('q')", "false"},
		{"list.concat(['w']).count()", "4"},
		{"list.slice(-2).join('')", "yz"},
		{"'a,b,c'.split(',').length", "3"},
		{"'a b'.split().length", "1"},
		{"'Hello'.toUpperCase()", "HELLO"},
		{"'  pad '.trim()", "pad"},
		{"'hexgo'.substring(3, 0)", "hex"},
		{"'hexgo'.substr(-2)", "go"},
		{"'hexgo'.slice(1, -1)", "exg"},
		{"'a-b-c'.replace('-', '+')", "a+b+c"},
		{"'hexgo'.startsWith('hex') && 'hexgo'.endsWith('go')", "true"},
		{"'hexgo'.indexOf('g')", "3"},
		{"'7'.padStart(3, '0')", "007"},
		{"'ab'.repeat(2)", "abab"},
		{"'x'.repeat(1e12)", ""},
		{"'x'.repeat(-1)", ""},
		{"'7'.padStart(1e12, '0')", "7"},
		{"'héllo'.length", "5"},
		{"'héllo'.charAt(1)", "é"},
		{"(3.14159).toFixed(2)", "3.14"},
		{"(1234567).toLocaleString()", "1,234,567"},
		{"page.hasOwnProperty('title')", "true"},
		{"page.date.year()", "2024"},
		{"page.date.month()", "2"},
		{"page.date.date()", "5"},
		{"'2024-03-05'.valueOf()", "20240305"},
		{"name.unknownMethod()", ""},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			v, err := r.Eval(tt.expr, ctx)
			if err != nil {
				t.Fatalf("eval error: %v", err)
			}
			if v.String() != tt.want {
				t.Fatalf("got %q, want %q", v.String(), tt.want)
			}
		})
	}
}

func TestDateChains(t *testing.T) {
	r := NewRenderer(NewRegistry())
	r.Now = func() time.Time { return time.Date(2025, 7, 4, 9, 30, 0, 0, time.UTC) }
	ctx := evalContext()
	tests := []struct {
		expr string
		want string
	}{
		{"moment('2024-03-05').format('YYYY/MM/DD')", "2024/03/05"},
		{"moment('2024-03-05 15:04:05').format('MMMM Do, YYYY h:mm A')", "March 5th, 2024 3:04 PM"},
		{"moment('2024-03-05 15:04:05').locale('zh-cn').format('A h:mm')", "下午 3:04"},
		{"moment('2024-03-05T10:00:00Z').tz('UTC').format('HH:mm Z')", "10:00 +00:00"},
		{"moment('2024-01-31').add(1, 'days').format('YYYY-MM-DD')", "2024-02-01"},
		{"new Date().getFullYear()", "2025"},
		{"new Date('2024-01-15').getMonth()", "0"},
		{"new Date('2024-01-15 00:00:00').getDay()", "1"},
		{"moment('not a date').format('YYYY')", "Invalid date"},
		{"moment('2024-03-05T10:00:00Z').toISOString()", "2024-03-05T10:00:00.000Z"},
		{"new Date('2024-01-02T00:00:00Z') - new Date('2024-01-01T00:00:00Z')", "86400000"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			v, err := r.Eval(tt.expr, ctx)
			if err != nil {
				t.Fatalf("eval error: %v", err)
			}
			if v.String() != tt.want {
				t.Fatalf("got %q, want %q", v.String(), tt.want)
			}
		})
	}
}

func TestValueSemantics(t *testing.T) {
	obj := NewObject()
	obj.Set("b", NumberValue(1))
	obj.Set("a", NumberValue(2))
	obj.Set("b", NumberValue(3))
	if got := ToJSON(obj); got != `{"b":3,"a":2}` {
		t.Fatalf("object order not kept: %s", got)
	}
	if Equal(obj, obj) || Equal(ArrayValue{}, ArrayValue{}) {
		t.Fatalf("composite values must never compare equal")
	}
	if !Equal(NumberValue(0.1+0.2), NumberValue(0.3)) {
		t.Fatalf("numbers should compare with epsilon")
	}
	truthy := map[string]struct {
		v    Value
		want bool
	}{
		"null":         {Null, false},
		"zero":         {NumberValue(0), false},
		"empty string": {StringValue(""), false},
		"empty array":  {ArrayValue{}, false},
		"empty object": {NewObject(), false},
		"string":       {StringValue("0"), true},
		"object":       {obj, true},
	}
	for name, tt := range truthy {
		if tt.v.Truth() != tt.want {
			t.Errorf("%s: Truth() = %v", name, tt.v.Truth())
		}
	}
	if s := (ArrayValue{NumberValue(1), StringValue("a"), Null}).String(); s != "1,a," {
		t.Fatalf("array stringification: %q", s)
	}
	if s := NumberValue(3).String(); s != "3" {
		t.Fatalf("integral number stringification: %q", s)
	}
	v, err := ParseJSON([]byte(`{"z":1,"a":{"y":[1,"x"]}}`))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if got := ToJSON(v); got != `{"z":1,"a":{"y":[1,"x"]}}` {
		t.Fatalf("json round trip: %s", got)
	}
}
