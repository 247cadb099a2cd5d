package starlark

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/hexgo/hexgo/pkg/ejs"
)

func siteContext() *ejs.Context {
	ctx := ejs.NewContext()
	posts := []any{
		map[string]any{"title": "old", "date": "2023-01-01", "tags": []any{"go"}},
		map[string]any{"title": "new", "date": "2024-06-01", "tags": []any{"web", "go"}},
		map[string]any{"title": "mid", "date": "2023-09-15", "tags": []any{}},
	}
	ctx.SetGo("posts", posts)
	ctx.SetGo("site", map[string]any{"posts": map[string]any{"data": posts}})
	ctx.SetGo("config", map[string]any{"root": "/", "language": "en"})
	return ctx
}

func renderScript(t *testing.T, reg *ejs.Registry, src string, ctx *ejs.Context) string {
	t.Helper()
	if reg == nil {
		reg = ejs.NewRegistry()
	}
	engine := NewEngine(ejs.NewRenderer(reg), nil)
	out, err := engine.RenderFallback(&ejs.Template{Name: "test", Source: src}, ctx, 0)
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	return out
}

func TestEngineTemplates(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			"c-style for loop",
			"<% for (var i = 0; i < 3; i++) { %><%= i %><% } %>",
			"012",
		},
		{
			"continue still steps",
			"<% for (let i = 0; i < 5; i++) { if (i % 2) continue; %><%= i %><% } %>",
			"024",
		},
		{
			"forEach pushing to an array",
			"<% var out = []; posts.forEach(function(p) { out.push(p.title) }) %><%= out.join(',') %>",
			"old,new,mid",
		},
		{
			"archive grouped by year",
			"<% var years = {}; posts.forEach(function(p) { var y = p.date.substring(0, 4); if (!years[y]) years[y] = []; years[y].push(p.title); }); %>" +
				"<% for (var y in years) { %><%= y %>:<%= years[y].length %>;<% } %>",
			"2023:2;2024:1;",
		},
		{
			"site.posts.each",
			"<% site.posts.each(function(post) { %>[<%= post.title %>]<% }) %>",
			"[old][new][mid]",
		},
		{
			"count on a collection",
			"<%= site.posts.count() %>",
			"3",
		},
		{
			"date methods on strings",
			"<% posts.forEach(p => { %><%= p.date.year() %> <% }) %>",
			"2023 2024 2023 ",
		},
		{
			"sort with a comparator",
			"<% posts.slice().sort((a, b) => b.date - a.date).forEach(p => { %><%= p.title %> <% }) %>",
			"new mid old ",
		},
		{
			"closures keep their own scope",
			"<% function counter() { var n = 0; return () => ++n; } var c = counter(); c(); c(); %><%= c() %>",
			"3",
		},
		{
			"recursion",
			"<% function fact(n) { return n <= 1 ? 1 : n * fact(n - 1); } %><%= fact(5) %>",
			"120",
		},
		{
			"while and do-while",
			"<% var n = 0; while (n < 3) { n += 1 } do { n++ } while (n < 2) %><%= n %>",
			"4",
		},
		{
			"escaping",
			`<%= "<b>" %><%- "<i>" %>`,
			"&lt;b&gt;<i>",
		},
		{
			"tag frequency",
			"<% const freq = {}; for (const p of posts) { for (const t of p.tags) { freq[t] = (freq[t] || 0) + 1 } } %>" +
				"<%- Object.keys(freq).map(k => `${k}=${freq[k]}`).join(' ') %>",
			"go=2 web=1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := renderScript(t, nil, tt.src, siteContext()); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPartialPlaceholders(t *testing.T) {
	reg := ejs.NewRegistry()
	if err := reg.Add("_partial/item", "<li><%= p.title %></li>"); err != nil {
		t.Fatalf("add error: %v", err)
	}
	src := "<ul><% posts.sort((a, b) => a.title < b.title ? -1 : 1).forEach(p => { %><%- partial('item', {p: p}) %><% }) %></ul>"

	engine := NewEngine(ejs.NewRenderer(reg), nil)
	tpl := &ejs.Template{Name: "list", Source: src}
	raw, err := engine.Execute(tpl, siteContext(), 0)
	if err != nil {
		t.Fatalf("execute error: %v", err)
	}
	if strings.Count(raw, "<!--PARTIAL:item:") != 3 {
		t.Fatalf("want three placeholders, got %q", raw)
	}

	got, err := engine.RenderFallback(tpl, siteContext(), 0)
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	if want := "<ul><li>mid</li><li>new</li><li>old</li></ul>"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEngineErrors(t *testing.T) {
	engine := NewEngine(ejs.NewRenderer(ejs.NewRegistry()), nil)
	engine.MaxSteps = 10_000

	tests := []struct {
		name string
		src  string
	}{
		{"unsupported statement", "<% switch (x) { } %>"},
		{"destructuring", "<% const {a} = page %>"},
		{"unclosed block", "<% if (a) { %>"},
		{"runaway loop", "<% while (true) { } %>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Execute(&ejs.Template{Name: tt.name, Source: tt.src}, ejs.NewContext(), 0)
			var renderErr *ejs.RenderError
			if !errors.As(err, &renderErr) || renderErr.Template != tt.name {
				t.Fatalf("want RenderError for %s, got %v", tt.name, err)
			}
		})
	}

	// The engine recovers after a cancelled run.
	if got := renderScript(t, nil, "<%= 1 + 1 %>", ejs.NewContext()); got != "2" {
		t.Fatalf("got %q after failure", got)
	}
	out, err := engine.Execute(&ejs.Template{Name: "ok", Source: "<%= 'fine' %>"}, ejs.NewContext(), 0)
	if err != nil || out != "fine" {
		t.Fatalf("engine unusable after error: %q %v", out, err)
	}
}

func TestCacheReusesPrograms(t *testing.T) {
	cache := NewCache()
	a, err := cache.Template("a", "<%= x %>")
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	b, err := cache.Template("b", "<%= x %>")
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	if a != b || cache.Len() != 1 {
		t.Fatalf("identical sources should share one program")
	}
	if _, err := cache.Expression("<%= x %>"); err == nil {
		t.Fatalf("template syntax is not an expression")
	}
	if hits, misses := cache.Stats(); hits != 1 || misses != 1 {
		t.Fatalf("hits=%d misses=%d", hits, misses)
	}
}

func TestPool(t *testing.T) {
	reg := ejs.NewRegistry()
	r := ejs.NewRenderer(reg)
	pool := NewPool(2, r, nil)
	r.Fallback = pool
	if pool.Size() != 2 {
		t.Fatalf("size = %d", pool.Size())
	}

	tpl := &ejs.Template{Name: "sorted", Source: "<% posts.slice().sort((a, b) => a.date - b.date).forEach(p => { %><%= p.title %>,<% }) %>"}
	var wg sync.WaitGroup
	results := make([]string, 16)
	errs := make([]error, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = pool.RenderFallback(tpl, siteContext(), 0)
		}()
	}
	wg.Wait()
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("render %d: %v", i, errs[i])
		}
		if results[i] != "old,mid,new," {
			t.Fatalf("render %d: got %q", i, results[i])
		}
	}
	if pool.Cache().Len() != 1 {
		t.Fatalf("engines should share the program cache, got %d programs", pool.Cache().Len())
	}
}

func TestPoolRenderKeepsPerRenderLogger(t *testing.T) {
	r := ejs.NewRenderer(ejs.NewRegistry())
	pool := NewPool(1, r, nil)
	plain := &ejs.Template{Name: "plain", Source: "<% posts.slice().sort((a, b) => a.date - b.date).forEach(p => { %><%= p.title %><% }) %>"}
	broken := &ejs.Template{Name: "broken", Source: "<% [1].sort((a, b) => a - b).forEach(x => { %><%- partial('missing') %><% }) %>"}

	const n = 8
	var wg sync.WaitGroup
	logs := make([]bytes.Buffer, n)
	errs := make([]error, 2*n)
	for i := range n {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, errs[i] = pool.RenderFallback(plain, siteContext(), 0)
		}()
		go func() {
			defer wg.Done()
			own := *r
			own.Logger = slog.New(slog.NewTextHandler(&logs[i], nil))
			_, errs[n+i] = pool.Render(context.Background(), &own, broken, ejs.NewContext(), 0)
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("render %d: %v", i, err)
		}
	}
	for i := range logs {
		if got := strings.Count(logs[i].String(), "partial failed"); got != 1 {
			t.Errorf("render %d logged %d partial failures, want 1:\n%s", i, got, logs[i].String())
		}
	}
}

func TestPoolGetHonoursContext(t *testing.T) {
	pool := NewPool(1, ejs.NewRenderer(ejs.NewRegistry()), nil)
	e, err := pool.Get(context.Background())
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Get(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	pool.Put(e)
	if _, err := pool.Get(context.Background()); err != nil {
		t.Fatalf("get after put: %v", err)
	}
}

func TestNestedFallbackPartials(t *testing.T) {
	reg := ejs.NewRegistry()
	r := ejs.NewRenderer(reg)
	r.Fallback = NewPool(1, r, nil)
	inner := "<% items.slice().sort((a, b) => b - a).forEach(n => { %><%= n %><% }) %>"
	if err := reg.Add("_partial/digits", inner); err != nil {
		t.Fatalf("add error: %v", err)
	}
	outer := "<% [1].sort((a, b) => a - b).forEach(x => { %><%- partial('digits', {items: [1, 3, 2]}) %><% }) %>"

	got, err := r.Fallback.RenderFallback(&ejs.Template{Name: "outer", Source: outer}, ejs.NewContext(), 0)
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	if got != "321" {
		t.Fatalf("got %q, want %q", got, "321")
	}
}
