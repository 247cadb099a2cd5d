package ejs

import (
	"strings"
	"testing"
	"time"
)

func helperContext(root string) *Context {
	ctx := NewContext()
	ctx.SetGo("config", map[string]any{
		"root":     root,
		"url":      "https://example.com",
		"title":    "My Blog",
		"timezone": "UTC",
		"language": "en",
	})
	ctx.SetGo("__", map[string]any{
		"greeting":   "Hello %s",
		"post.one":   "one post",
		"post.other": "%d posts",
	})
	return ctx
}

func TestHelpers(t *testing.T) {
	ctx := helperContext("/")
	ctx.SetGo("page", map[string]any{"current": 2, "total": 3, "layout": "index"})
	ctx.SetGo("site", map[string]any{
		"categories": map[string]any{"Go": 2, "Web Dev": 1},
		"tags":       []any{map[string]any{"name": "ejs", "count": 4, "path": "tags/ejs/"}},
	})

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"url_for", "<%- url_for('/about/') %>", "/about/"},
		{"url_for keeps absolute", "<%- url_for('https://x.io/a') %>", "https://x.io/a"},
		{"full_url_for", "<%- full_url_for('a.html') %>", "https://example.com/a.html"},
		{"css", "<%- css('style') %>", `<link rel="stylesheet" href="/style.css">`},
		{"css list", "<%- css(['a', 'b.css']) %>", "<link rel=\"stylesheet\" href=\"/a.css\">\n<link rel=\"stylesheet\" href=\"/b.css\">"},
		{"js", "<%- js('app') %>", `<script src="/app.js"></script>`},
		{"link_to external", "<%- link_to('https://x.io', 'X') %>", `<a href="https://x.io" target="_blank" rel="noopener" title="X">X</a>`},
		{"favicon default", "<%- favicon_tag() %>", `<link rel="icon" href="/favicon.ico">`},
		{"feed_tag", "<%- feed_tag() %>", `<link rel="alternate" href="/atom.xml" title="My Blog" type="application/atom+xml">`},
		{"meta_generator", "<%- meta_generator() %>", `<meta name="generator" content="hexgo">`},
		{
			"paginator",
			"<%- paginator() %>",
			`<a class="prev" rel="prev" href="/">&laquo; Prev</a>` +
				`<a class="page-number" href="/">1</a>` +
				`<span class="page-number current">2</span>` +
				`<a class="page-number" href="/page/3/">3</a>` +
				`<a class="next" rel="next" href="/page/3/">Next &raquo;</a>`,
		},
		{"paginator single page", "<%- paginator({total: 1}) %>", ""},
		{
			"list_categories",
			"<%- list_categories() %>",
			`<ul class="category-list">` +
				`<li class="category-list-item"><a class="category-list-link" href="/categories/go/">Go</a><span class="category-list-count">2</span></li>` +
				`<li class="category-list-item"><a class="category-list-link" href="/categories/web-dev/">Web Dev</a><span class="category-list-count">1</span></li>` +
				`</ul>`,
		},
		{
			"list_tags inline",
			"<%- list_tags({style: 'none', show_count: false}) %>",
			`<a class="tag-link" href="/tags/ejs/">ejs</a>`,
		},
		{"translate", "<%= __('greeting', 'Ann') %>", "Hello Ann"},
		{"translate missing key", "<%= __('nope') %>", "nope"},
		{"plural one", "<%= _p('post', 1) %>", "one post"},
		{"plural other", "<%= _p('post', 5) %>", "5 posts"},
		{"date", "<%= date('2024-03-05', 'MMM D, YYYY') %>", "Mar 5, 2024"},
		{"date default format", "<%= date('2024-03-05 10:00:00') %>", "2024-03-05"},
		{"date unparseable", "<%= date('soon') %>", "soon"},
		{"time_tag", "<%- time_tag('2024-03-05') %>", `<time datetime="2024-03-05T00:00:00Z">2024-03-05</time>`},
		{"date_xml", "<%= date_xml('2024-03-05 08:30:00') %>", "2024-03-05T08:30:00Z"},
		{"truncate", "<%= truncate('hello world', {length: 8}) %>", "hello..."},
		{"strip_html", "<%= strip_html('<p>a <b>b</b></p>') %>", "a b"},
		{"titlecase", "<%= titlecase('hello world') %>", "Hello World"},
		{"slugize", "<%= slugize('Hello, World!') %>", "hello-world"},
		{"word_count", "<%= word_count('one two 三四') %>", "4"},
		{"min2read", "<%= min2read('short') %>", "1"},
		{"number_format", "<%= number_format(9876543) %>", "9,876,543"},
		{"is_home on later page", "<%= is_home() %>", "false"},
		{"is_post", "<%= is_post() %>", "false"},
		{"escape_html", "<%- escape_html('<a>') %>", "&lt;a&gt;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := render(t, nil, tt.src, ctx); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestURLForRoot(t *testing.T) {
	ctx := helperContext("/blog/")
	tests := map[string]string{
		"<%- url_for('about/') %>": "/blog/about/",
		"<%- url_for('/') %>":      "/blog/",
		"<%- url_for('#top') %>":   "#top",
		"<%- css('style') %>":      `<link rel="stylesheet" href="/blog/style.css">`,
	}
	for src, want := range tests {
		if got := render(t, nil, src, ctx); got != want {
			t.Errorf("%s: got %q, want %q", src, got, want)
		}
	}
}

func TestLocalizedDates(t *testing.T) {
	ctx := helperContext("/")
	ctx.SetNested("config.language", StringValue("zh-CN"))
	r := NewRenderer(NewRegistry())
	r.Now = func() time.Time { return time.Date(2024, 3, 8, 15, 4, 0, 0, time.UTC) }

	tests := []struct {
		src  string
		want string
	}{
		{"<%= date('2024-03-05 15:04:00', 'A h:mm') %>", "下午 3:04"},
		{"<%= date('2024-03-05', 'MMMM') %>", "三月"},
		{"<%= relative_date('2024-03-05 15:04:00') %>", "3 days ago"},
		{"<%= date(null, 'YYYY') %>", "2024"},
	}
	for _, tt := range tests {
		if got := render(t, r, tt.src, ctx); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestHelperNames(t *testing.T) {
	names := strings.Join(HelperNames(), " ")
	for _, want := range []string{"partial", "url_for", "paginator", "Math.max", "JSON.stringify", "__"} {
		if !strings.Contains(" "+names+" ", " "+want+" ") {
			t.Errorf("catalog is missing %s", want)
		}
	}
}

func TestTextUtilities(t *testing.T) {
	if got := Truncate("abcdef", 4, "…"); got != "abc…" {
		t.Errorf("Truncate: %q", got)
	}
	if got := Truncate("abc", 4, "…"); got != "abc" {
		t.Errorf("Truncate short input: %q", got)
	}
	if got := EscapeHTML(`<"&'>`); got != "&lt;&quot;&amp;&#39;&gt;" {
		t.Errorf("EscapeHTML: %q", got)
	}
	if got := Slugify("  Über  Go 1.24 "); got != "über-go-1.24" {
		t.Errorf("Slugify: %q", got)
	}
	if got := StripHTML("a<br/>b"); got != "ab" {
		t.Errorf("StripHTML: %q", got)
	}
}
