package ejs

import (
	"errors"
	"strings"
	"testing"
)

func render(t *testing.T, r *Renderer, src string, ctx *Context) string {
	t.Helper()
	if r == nil {
		r = NewRenderer(NewRegistry())
	}
	out, err := r.RenderString("test", src, ctx)
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	return out
}

func TestScenarios(t *testing.T) {
	ctx := NewContext()
	ctx.SetGo("name", "World")
	ctx.SetGo("content", "<p>Hi</p>")
	ctx.SetGo("show", false)
	ctx.SetGo("items", []string{"x", "y"})

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"escaped output", "Hello <%= name %>!", "Hello World!"},
		{"raw output", "<%- content %>", "<p>Hi</p>"},
		{"if else", "<% if (show) { %>yes<% } else { %>no<% } %>", "no"},
		{"each with index", "<% items.each(function(item,i){ %><%= i %>:<%= item %> <% }) %>", "0:x 1:y "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := render(t, nil, tt.src, ctx); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOutputOnlyTemplates(t *testing.T) {
	ctx := NewContext()
	ctx.SetGo("s", `<b>"x"&'`)
	out := render(t, nil, "a <%= s %> b <%- s %> c", ctx)
	want := `a &lt;b&gt;&quot;x&quot;&amp;&#39; b <b>"x"&' c`
	if out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestRenderIsRepeatable(t *testing.T) {
	tpl := MustParse("t", "<% var n = 1; n += 1 %><%= n %><% items.forEach(function(x){ %><%= x %><% }) %>")
	ctx := NewContext()
	ctx.SetGo("items", []int{1, 2})
	r := NewRenderer(NewRegistry())
	first, err := r.Render(tpl, ctx)
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	second, err := r.Render(tpl, ctx)
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	if first != second || first != "212" {
		t.Fatalf("renders differ or wrong: %q vs %q", first, second)
	}
	if _, ok := ctx.Get("n"); ok {
		t.Fatalf("render leaked a local into the caller's context")
	}
}

func TestEmptyResults(t *testing.T) {
	ctx := NewContext()
	ctx.SetGo("flag", false)
	ctx.SetGo("empty", []string{})
	for _, src := range []string{
		"<% if (flag) { %>x<% } %>",
		"<% empty.each(function(e){ %>x<% }) %>",
		"<%- partial('does/not/exist') %>",
	} {
		if out := render(t, nil, src, ctx); out != "" {
			t.Fatalf("%q rendered %q, want empty", src, out)
		}
	}
}

func TestControlFlow(t *testing.T) {
	menu := NewObject()
	menu.Set("Home", StringValue("/"))
	menu.Set("Archives", StringValue("/archives"))
	ctx := NewContext()
	ctx.Set("menu", menu)
	ctx.SetGo("n", 1)
	ctx.SetGo("tags", []string{"go", "ejs"})
	ctx.SetGo("items", []string{"a", "b"})

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"else if", "<% if (n > 1) { %>many<% } else if (n == 1) { %>one<% } else { %>none<% } %>", "one"},
		{"for of", "<% for (const t of tags) { %>[<%= t %>]<% } %>", "[go][ejs]"},
		{"for in keeps order", "<% for (let k in menu) { %><%= k %>=<%= menu[k] %>;<% } %>", "Home=/;Archives=/archives;"},
		{"arrow forEach", "<% tags.forEach((t) => { %><%= t %>,<% }) %>", "go,ejs,"},
		{"inline if", "<% if (n === 1) { var label = 'single' } else { var label = 'multi' } %><%= label %>", "single"},
		{"loop var removed", "<% items.forEach(function(it){ %><%= it %><% }) %><%= typeof it %>", "abundefined"},
		{"var hoists out of block", "<% if (true) { %><% var seen = 'yes' %><% } %><%= seen %>", "yes"},
		{"let stays in block", "<% if (true) { %><% let inner = 'x' %><% } %><%= typeof inner %>", "undefined"},
		{"nested blocks", "<% items.forEach(function(i){ %><% if (i == 'b') { %>B<% } else { %>-<% } %><% }) %>", "-B"},
		{"compound assignment", "<% var s = 'a'; s += 'b'; s += n %><%= s %>", "ab1"},
		{"increment", "<% var c = 0; c++; c++ %><%= c %>", "2"},
		{"comment", "a<%# hidden %>b", "ab"},
		{"literal tag", "<%% not a tag %>", "<% not a tag %>"},
		{"call statement writes output", "<% url_for('x') %>", "/x"},
		{"multi-line if cascade", "<% var t = 1\nif (n > 1) {\n t = 2\n} else if (n == 1) {\n t = 3\n} else {\n t = 4\n}\n%><%= t %>", "3"},
		{"multi-line cascade falls to else", "<% var t = 'a'\nif (n > 5) {\n t = 'b'\n} else if (n > 2) {\n t = 'c'\n} else {\n t = 'd'\n}\n%><%= t %>", "d"},
		{"c-style for degrades", "<% for (;;) { %>z<% } %>d", "zd"},
		{"if without parens degrades", "<% if x { %>a<% } %>b", "ab"},
		{"while degrades", "<% while (n < 3) { %>w<% } %>!", "w!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := render(t, nil, tt.src, ctx); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTrimMarkers(t *testing.T) {
	out := render(t, nil, "a\n<% if (true) { -%>\nb\n<% } -%>\nc", NewContext())
	if out != "a\nb\nc" {
		t.Fatalf("got %q", out)
	}
	out = render(t, nil, "x  <%_ if (true) { _%>   y<% } %>", NewContext())
	if out != "xy" {
		t.Fatalf("got %q", out)
	}
}

func TestKeepExistingBinding(t *testing.T) {
	ctx := NewContext()
	ctx.SetGo("page", map[string]any{"title": "Post"})
	ctx.SetGo("config", map[string]any{})

	out := render(t, nil, "<% var title = page.title; title = config.missing; %><%= title %>", ctx)
	if out != "Post" {
		t.Fatalf("unresolved expression overwrote binding: %q", out)
	}
	out = render(t, nil, "<% var title = page.title; title = ''; %><%= title %>", ctx)
	if out != "" {
		t.Fatalf("literal assignment was ignored: %q", out)
	}
	out = render(t, nil, "<% var title = page.title; title = 'Other'; %><%= title %>", ctx)
	if out != "Other" {
		t.Fatalf("got %q", out)
	}
}

func TestMemberAssignmentDoesNotMutateContext(t *testing.T) {
	ctx := NewContext()
	ctx.SetGo("page", map[string]any{"title": "Post"})
	out := render(t, nil, "<% page.title = 'Changed' %><%= page.title %>", ctx)
	if out != "Changed" {
		t.Fatalf("got %q", out)
	}
	page, _ := ctx.Get("page")
	if Property(page, "title").String() != "Post" {
		t.Fatalf("caller's page was mutated")
	}
}

func TestPartials(t *testing.T) {
	reg := NewRegistry()
	for name, src := range map[string]string{
		"_partial/header": "<h1><%= title %></h1>",
		"_widget/tags":    "<%= site %>",
		"_partial/loop":   "x<%- partial('loop') %>",
		"_partial/broken": "<% if (a) { %>",
		"_partial/outer":  "[<%- partial('header') %>]",
	} {
		_ = reg.Add(name, src)
	}
	r := NewRenderer(reg)
	r.MaxDepth = 3
	var failures []string
	r.OnPartialFailure = func(name string, err error) { failures = append(failures, name) }

	ctx := NewContext()
	ctx.SetGo("title", "Site")
	ctx.SetGo("site", "S")

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"prefix resolution with locals", "<%- partial('header', {title: 'Hi'}) %>", "<h1>Hi</h1>"},
		{"inherits parent context", "<%- partial('_partial/header') %>", "<h1>Site</h1>"},
		{"widget prefix", "<%- partial('tags') %>", "S"},
		{"nested partial", "<%- partial('outer') %>", "[<h1>Site</h1>]"},
		{"depth capped", "<%- partial('loop') %>", "xxx"},
		{"parse failure degrades", "a<%- partial('broken') %>b", "ab"},
		{"missing degrades", "a<%- partial('nope') %>b", "ab"},
		{"locals from variable", "<% var opts = {title: 'V'} %><%- partial('header', opts) %>", "<h1>V</h1>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := render(t, r, tt.src, ctx); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
	if len(failures) != 3 {
		t.Fatalf("want 3 partial failures, got %v", failures)
	}
}

func TestRenderPartialErrors(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Add("_partial/header", "h")
	r := NewRenderer(reg)

	_, err := r.RenderPartial(NewContext(), "headr", nil, 0)
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("want ErrTemplateNotFound, got %v", err)
	}
	var nf *TemplateNotFoundError
	if !errors.As(err, &nf) || len(nf.Suggestions) == 0 || nf.Suggestions[0] != "_partial/header" {
		t.Fatalf("want suggestion _partial/header, got %v", err)
	}

	_, err = r.RenderPartial(NewContext(), "header", nil, DefaultMaxDepth)
	if !errors.Is(err, ErrDepthExceeded) {
		t.Fatalf("want ErrDepthExceeded, got %v", err)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		src  string
		line int
		msg  string
	}{
		{"ok\n<%= a", 2, "Unclosed EJS tag"},
		{"<%", 1, "Unexpected end of template after <%"},
		{"<% if (a) { %>x", 1, "unclosed if block"},
		{"<% if (a) { %>x<% } else { %>y", 1, "unclosed else block"},
		{"<% xs.each(function(x){ %>x", 1, "unclosed xs loop"},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			_, err := Parse("page", tt.src)
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("want *ParseError, got %v", err)
			}
			if pe.Line != tt.line || pe.Message != tt.msg || pe.Template != "page" {
				t.Fatalf("got %+v", pe)
			}
		})
	}
}

func TestRenderErrorCarriesTemplate(t *testing.T) {
	_, err := NewRenderer(NewRegistry()).RenderString("layout", "line\n<%= (a %>", NewContext())
	var re *RenderError
	if !errors.As(err, &re) {
		t.Fatalf("want *RenderError, got %v", err)
	}
	if re.Template != "layout" || re.Line != 2 {
		t.Fatalf("got %+v", re)
	}
	if !strings.Contains(err.Error(), "layout") {
		t.Fatalf("error does not name the template: %v", err)
	}
}

func TestContextLookup(t *testing.T) {
	ctx := NewContext()
	ctx.SetNested("page.meta.author", StringValue("ann"))
	v, err := ctx.Lookup("page")
	if err != nil {
		t.Fatalf("lookup error: %v", err)
	}
	if Property(Property(v, "meta"), "author").String() != "ann" {
		t.Fatalf("nested set failed: %s", ToJSON(v))
	}
	_, err = ctx.Lookup("missing")
	var uv *UndefinedVariableError
	if !errors.As(err, &uv) || uv.Name != "missing" {
		t.Fatalf("want UndefinedVariableError, got %v", err)
	}
}
