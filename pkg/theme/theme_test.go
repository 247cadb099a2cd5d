package theme

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/hexgo/hexgo/pkg/ejs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func writeTheme(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func baseTheme() map[string]string {
	return map[string]string{
		"_config.yml":                "menu:\n  Home: /\n  Archives: /archives\n  About: /about\nsidebar: right\n",
		"languages/en.yml":           "menu:\n  home: Home\nmore: Read more\n",
		"languages/zh-cn.yml":        "menu:\n  home: 首页\n",
		"languages/broken.yml":       "menu: [unclosed\n",
		"layout/layout.ejs":          "<html><%- partial('_partial/header') %><%- body %></html>",
		"layout/_partial/header.ejs": "<h1><%= config.title %></h1>",
		"layout/_widget/tags.ejs":    "<%= Object.keys(site.tags).join(',') %>",
		"layout/index.ejs":           "<% page.posts.forEach(function(p) { %><%= p.title %>;<% }) %>",
		"layout/post.ejs":            "<article><%= page.title %></article>",
		"layout/notes.txt":           "not a template",
	}
}

func loadTheme(t *testing.T, files map[string]string, opts Options) *Theme {
	t.Helper()
	th, err := Load(writeTheme(t, files), opts)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	return th
}

func samplePosts() []Post {
	return []Post{
		{Title: "First", Date: "2024-01-02", Path: "2024/01/02/first/", Tags: []string{"go"}},
		{Title: "Second", Date: "2024-03-04", Path: "2024/03/04/second/", Tags: []string{"go", "web"}},
	}
}

func TestLoad(t *testing.T) {
	th := loadTheme(t, baseTheme(), Options{})

	want := []string{"_partial/header", "_widget/tags", "index", "layout", "post"}
	if got := th.TemplateNames(); !slices.Equal(got, want) {
		t.Fatalf("TemplateNames() = %v, want %v", got, want)
	}
	if !th.HasTemplate("post") || th.HasTemplate("header") {
		t.Errorf("HasTemplate should only report template files")
	}
	for _, short := range []string{"header", "tags"} {
		if !th.registry.Has(short) {
			t.Errorf("partial short name %q not registered", short)
		}
	}
	if f, _ := th.TemplateFile("_partial/header"); f != "_partial/header.ejs" {
		t.Errorf("TemplateFile() = %q", f)
	}
	if got := th.I18n.Languages(); !slices.Equal(got, []string{"en", "zh-cn"}) {
		t.Errorf("Languages() = %v, broken files should be skipped", got)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing"), Options{}); err == nil {
		t.Fatalf("missing directory should fail")
	}

	files := baseTheme()
	files["layout/layout.ejs"] = "<% if (a) { %>"
	_, err := Load(writeTheme(t, files), Options{})
	var parseErr *ejs.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("broken layout should abort with a ParseError, got %v", err)
	}

	files = baseTheme()
	files["_config.yml"] = "- just\n- a list\n"
	if _, err := Load(writeTheme(t, files), Options{}); err == nil {
		t.Fatalf("non-mapping theme config should fail")
	}
}

func TestRenderPage(t *testing.T) {
	th := loadTheme(t, baseTheme(), Options{})
	cfg := DefaultSiteConfig()
	posts := samplePosts()
	site := NewSiteData(posts, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		pt   PageType
		data *ejs.Context
		want string
	}{
		{"post", TypePost, BuildPostContext(posts[0], cfg, site), "<html><h1>Hexo</h1><article>First</article></html>"},
		{"page falls back to post", TypePage, BuildPostContext(posts[1], cfg, site), "<html><h1>Hexo</h1><article>Second</article></html>"},
		{"index", TypeIndex, BuildListContext(posts, cfg, site, DefaultPagination()), "<html><h1>Hexo</h1>First;Second;</html>"},
		{"tag falls back to index", TypeTag, BuildListContext(posts[1:], cfg, site, PaginationInfo{IsTag: true, Tag: "web", Current: 1, Total: 1}), "<html><h1>Hexo</h1>Second;</html>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := th.RenderPage(ctx, tt.pt, tt.data)
			if err != nil {
				t.Fatalf("render error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderPageWithoutTemplates(t *testing.T) {
	th := loadTheme(t, map[string]string{"layout/layout.ejs": "<%- body %>"}, Options{})
	_, err := th.RenderPage(context.Background(), TypeCategory, nil)
	if !errors.Is(err, ejs.ErrTemplateNotFound) {
		t.Fatalf("want ErrTemplateNotFound, got %v", err)
	}
	_, err = th.Render(context.Background(), "archive", nil)
	var nf *ejs.TemplateNotFoundError
	if !errors.As(err, &nf) || nf.Name != "archive" {
		t.Fatalf("want TemplateNotFoundError for archive, got %v", err)
	}
}

func TestRenderBindings(t *testing.T) {
	th := loadTheme(t, baseTheme(), Options{})
	ctx := context.Background()

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"menu keeps file order", "<% for (var k in theme.menu) { %><%= k %>=<%= theme.menu[k] %>;<% } %>", "Home=/;Archives=/archives;About=/about;"},
		{"theme scalars", "<%= theme.sidebar %>", "right"},
		{"nested translation", "<%= __('menu.home') %>|<%= __('more') %>|<%= __('nope') %>", "Home|Read more|nope"},
		{"default config", "<%= config.title %> <%= config.per_page %> <%= url_for('/about/') %>", "Hexo 10 /about/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := th.RenderString(ctx, tt.src, nil)
			if err != nil {
				t.Fatalf("render error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}

	data := ejs.NewContext()
	data.SetGo("config", map[string]any{"title": "Mine", "root": "/blog/"})
	got, err := th.RenderString(ctx, "<%= config.title %> <%= url_for('x') %>", data)
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	if got != "Mine /blog/x" {
		t.Fatalf("caller config should win, got %q", got)
	}
}

func TestLanguageSelection(t *testing.T) {
	tests := []struct {
		lang string
		want string
		home string
	}{
		{"zh-CN", "zh-cn", "首页|Read more"},
		{"en-GB", "en", "Home|Read more"},
		{"fr", "en", "Home|Read more"},
	}
	dir := writeTheme(t, baseTheme())
	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			th, err := Load(dir, Options{Language: tt.lang})
			if err != nil {
				t.Fatalf("load error: %v", err)
			}
			if th.I18n.Language() != tt.want {
				t.Fatalf("Language() = %q, want %q", th.I18n.Language(), tt.want)
			}
			got, err := th.RenderString(context.Background(), "<%= __('menu.home') %>|<%= __('more') %>", nil)
			if err != nil {
				t.Fatalf("render error: %v", err)
			}
			if got != tt.home {
				t.Fatalf("got %q, want %q", got, tt.home)
			}
		})
	}
}

func TestLayoutHandling(t *testing.T) {
	files := baseTheme()
	delete(files, "layout/layout.ejs")
	th := loadTheme(t, files, Options{})
	post := Post{Title: "Bare"}
	got, err := th.RenderPage(context.Background(), TypePost, BuildPostContext(post, DefaultSiteConfig(), SiteData{}))
	if err != nil {
		t.Fatalf("missing layout is not an error: %v", err)
	}
	if got != "<article>Bare</article>" {
		t.Fatalf("got %q", got)
	}

	th = loadTheme(t, baseTheme(), Options{})
	fm := ejs.NewObject()
	fm.Set("layout", ejs.BoolValue(false))
	post = Post{Title: "Raw", FrontMatter: fm}
	got, err = th.RenderPage(context.Background(), TypePost, BuildPostContext(post, DefaultSiteConfig(), SiteData{}))
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	if got != "<article>Raw</article>" {
		t.Fatalf("layout: false should skip the layout, got %q", got)
	}
}

func TestFallbackEngineAndMetrics(t *testing.T) {
	files := baseTheme()
	files["layout/index.ejs"] = "<% page.posts.slice().sort((a, b) => a.title < b.title ? 1 : -1).forEach(p => { %><%= p.title %>;<% }) %>" +
		"<%- partial('missing') %>"
	reg := prometheus.NewRegistry()
	th := loadTheme(t, files, Options{Registerer: reg, PoolSize: 2})
	if th.PoolSize() != 2 {
		t.Fatalf("PoolSize() = %d", th.PoolSize())
	}

	cfg := DefaultSiteConfig()
	posts := samplePosts()
	site := NewSiteData(posts, nil)
	list := BuildListContext(posts, cfg, site, DefaultPagination())

	const renders = 8
	var wg sync.WaitGroup
	results := make([]string, renders)
	errs := make([]error, renders)
	for i := range renders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = th.RenderPage(context.Background(), TypeIndex, list)
		}()
	}
	wg.Wait()
	for i := range renders {
		if errs[i] != nil {
			t.Fatalf("render %d: %v", i, errs[i])
		}
		if want := "<html><h1>Hexo</h1>Second;First;</html>"; results[i] != want {
			t.Fatalf("render %d: got %q, want %q", i, results[i], want)
		}
	}

	if _, err := th.RenderPage(context.Background(), TypePost, BuildPostContext(posts[0], cfg, site)); err != nil {
		t.Fatalf("native render: %v", err)
	}

	if got := testutil.ToFloat64(th.metrics.renders.WithLabelValues("fallback", "ok")); got != renders {
		t.Errorf("fallback renders = %v, want %d", got, renders)
	}
	if got := testutil.ToFloat64(th.metrics.renders.WithLabelValues("native", "ok")); got != 1 {
		t.Errorf("native renders = %v, want 1", got)
	}
	if got := testutil.ToFloat64(th.metrics.partialFailures); got != renders {
		t.Errorf("partial failures = %v, want %d", got, renders)
	}
	if got := testutil.ToFloat64(th.metrics.checkouts); got < renders {
		t.Errorf("pool checkouts = %v, want at least %d", got, renders)
	}
	if n := testutil.CollectAndCount(th.metrics.duration); n != 2 {
		t.Errorf("duration series = %d, want 2", n)
	}

	// A second theme on the same registry shares the collectors.
	other := loadTheme(t, baseTheme(), Options{Registerer: reg})
	if other.metrics.renders != th.metrics.renders {
		t.Errorf("second theme should reuse the registered collectors")
	}
}

func TestPartialParseFailureDegrades(t *testing.T) {
	files := baseTheme()
	files["layout/_partial/bad.ejs"] = "<% if (a) { %>"
	files["layout/post.ejs"] = "x<%- partial('bad') %>y"
	th := loadTheme(t, files, Options{})

	if _, ok := th.ParseErrors()["_partial/bad"]; !ok {
		t.Fatalf("ParseErrors() = %v", th.ParseErrors())
	}
	if src, ok := th.Source("_partial/bad"); !ok || src != "<% if (a) { %>" {
		t.Fatalf("Source() = %q, %v", src, ok)
	}
	got, err := th.RenderPage(context.Background(), TypePost, BuildPostContext(Post{}, DefaultSiteConfig(), SiteData{}))
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	if got != "<html><h1>Hexo</h1>xy</html>" {
		t.Fatalf("got %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		edit    func(map[string]string)
		wantErr string
	}{
		{"valid theme", func(map[string]string) {}, ""},
		{
			"menu entry must be a string",
			func(f map[string]string) { f["_config.yml"] = "menu:\n  Home: /\n  Count: 3\n" },
			`entry "Count" must be a string`,
		},
		{
			"menu entry with template tags",
			func(f map[string]string) { f["_config.yml"] = "menu:\n  Home: <%= url_for('/') %>\n" },
			"must not contain template tags",
		},
		{
			"declared widgets exist",
			func(f map[string]string) { f["_config.yml"] = "widgets: [tags]\n" },
			"",
		},
		{
			"unknown widget",
			func(f map[string]string) { f["_config.yml"] = "widgets:\n  - tags\n  - recent_posts\n" },
			"widget must be one of [tags], got recent_posts",
		},
		{
			"partial short names collide",
			func(f map[string]string) { f["layout/_partial/tags.ejs"] = "t" },
			"duplicate value: tags",
		},
		{
			"empty partial name",
			func(f map[string]string) { f["layout/_partial/.ejs"] = "e" },
			"must not be empty",
		},
		{
			"parent reference in path",
			func(f map[string]string) { f["layout/odd..name.ejs"] = "o" },
			`must not contain ".."`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := baseTheme()
			tt.edit(files)
			err := loadTheme(t, files, Options{}).Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestPageTypes(t *testing.T) {
	tests := []struct {
		pt        PageType
		name      string
		fallbacks []string
	}{
		{TypeIndex, "index", nil},
		{TypePost, "post", []string{"index"}},
		{TypePage, "page", []string{"post", "index"}},
		{TypeArchive, "archive", []string{"index"}},
		{TypeCategory, "category", []string{"archive", "index"}},
		{TypeTag, "tag", []string{"archive", "index"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.pt.TemplateName() != tt.name {
				t.Errorf("TemplateName() = %q", tt.pt.TemplateName())
			}
			if !slices.Equal(tt.pt.Fallbacks(), tt.fallbacks) {
				t.Errorf("Fallbacks() = %v, want %v", tt.pt.Fallbacks(), tt.fallbacks)
			}
			parsed, err := ParsePageType(tt.name)
			if err != nil || parsed != tt.pt {
				t.Errorf("ParsePageType(%q) = %v, %v", tt.name, parsed, err)
			}
		})
	}
	if _, err := ParsePageType("gallery"); err == nil {
		t.Errorf("unknown page type should fail")
	}
}

func TestContextBuilders(t *testing.T) {
	posts := samplePosts()
	site := NewSiteData(posts, []PageSummary{{Title: "About", Path: "about/"}})
	cfg := DefaultSiteConfig()

	post := BuildPostContext(posts[0], cfg, site)
	for name, want := range map[string]string{
		"path": "2024/01/02/first/",
		"url":  "",
	} {
		if v, _ := post.Get(name); v.String() != want {
			t.Errorf("%s = %q, want %q", name, v.String(), want)
		}
	}
	siteVal, _ := post.Get("site")
	if got := ejs.ToJSON(ejs.Property(siteVal, "tags")); got != `{"go":2,"web":1}` {
		t.Errorf("site.tags = %s", got)
	}
	if got := ejs.Len(ejs.Property(siteVal, "pages")); got != 1 {
		t.Errorf("site.pages length = %d", got)
	}

	p := DefaultPagination()
	if p.PerPage != 10 || p.Total != 1 || p.Current != 1 || p.CurrentURL != "/" {
		t.Errorf("DefaultPagination() = %+v", p)
	}
	p.CurrentURL = "/page/2/"
	list := BuildListContext(posts, cfg, site, p)
	page, _ := list.Get("page")
	if n := ejs.Len(ejs.Property(page, "posts")); n != 2 {
		t.Errorf("page.posts length = %d", n)
	}
	if v, _ := list.Get("url"); v.String() != "/page/2/" {
		t.Errorf("url = %q", v.String())
	}
	if ejs.Property(page, "current").String() != "1" {
		t.Errorf("page.current = %q", ejs.Property(page, "current").String())
	}
}
