package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func testTheme(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"_config.yml":                "menu:\n  Home: /\n",
		"layout/layout.ejs":          "<main><%- body %></main>",
		"layout/post.ejs":            "<h1><%= page.title %></h1><%- page.content %><%= page.tags.join(',') %>",
		"layout/index.ejs":           "<% page.posts.sort((a, b) => a.date - b.date).forEach(p => { %><%= p.title %><% }) %>",
		"layout/_partial/broken.ejs": "<% if (x) { %>",
	})
	return dir
}

// run executes the root command with args and returns what it printed.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	themeDir, rootConfig, verbose, profileMode = "", "hexgo.config.yaml", false, ""
	for _, fs := range []*pflag.FlagSet{rootCmd.PersistentFlags(), renderCmd.Flags()} {
		fs.VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
	}
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestParsePage(t *testing.T) {
	src := "---\ntitle: Hello World\ndate: 2024-05-06\ntags: go\ncategories: [notes, misc]\ncover: a.png\nlayout: false\n---\n" +
		"Intro *text*.\n\n<!-- more -->\n\n## Details\n"
	post, err := parsePage("hello.md", []byte(src))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if post.Title != "Hello World" || post.Date != "2024-05-06" || post.Path != "hello-world/" {
		t.Errorf("post = %+v", post)
	}
	if strings.Join(post.Tags, ",") != "go" || strings.Join(post.Categories, ",") != "notes,misc" {
		t.Errorf("tags = %v, categories = %v", post.Tags, post.Categories)
	}
	if !strings.Contains(post.Content, "<em>text</em>") || !strings.Contains(post.Content, `<h2 id="details">Details</h2>`) {
		t.Errorf("content = %q", post.Content)
	}
	if !strings.Contains(post.Excerpt, "Intro") || strings.Contains(post.Excerpt, "Details") {
		t.Errorf("excerpt = %q", post.Excerpt)
	}
	if got := post.FrontMatter.Keys(); strings.Join(got, ",") != "cover,layout" {
		t.Errorf("front matter keys = %v", got)
	}

	bare, err := parsePage("notes/plain.md", []byte("just text\n"))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if bare.Title != "plain" || bare.WordCount != 2 {
		t.Errorf("bare = %+v", bare)
	}
}

func TestRenderCommand(t *testing.T) {
	dir := testTheme(t)
	page := filepath.Join(t.TempDir(), "post.md")
	writeFiles(t, filepath.Dir(page), map[string]string{
		"post.md": "---\ntitle: Hi\ntags: [a, b]\n---\nBody\n",
	})

	out, err := run(t, "render", "--theme", dir, "--page", page)
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	if want := "<main><h1>Hi</h1><p>Body</p>\na,b</main>"; out != want {
		t.Fatalf("got %q, want %q", out, want)
	}

	out, err = run(t, "render", "--theme", dir, "--page", page, "--type", "tag")
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	if out != "<main>Hi</main>" {
		t.Fatalf("tag page: got %q", out)
	}

	target := filepath.Join(t.TempDir(), "public", "hi.html")
	if _, err := run(t, "render", "--theme", dir, "--page", page, "--out", target); err != nil {
		t.Fatalf("render error: %v", err)
	}
	if data, err := os.ReadFile(target); err != nil || !strings.HasPrefix(string(data), "<main>") {
		t.Fatalf("output file = %q, %v", data, err)
	}

	if _, err := run(t, "render", "--theme", dir, "--page", page, "--type", "gallery"); err == nil {
		t.Fatalf("unknown page type should fail")
	}
	if _, err := run(t, "render", "--page", page); err == nil {
		t.Fatalf("missing theme should fail")
	}
}

func TestConfigFile(t *testing.T) {
	dir := testTheme(t)
	work := t.TempDir()
	writeFiles(t, work, map[string]string{
		"site.yml":          "title: Configured\n",
		"hexgo.config.yaml": "theme: " + dir + "\nsite_config: " + filepath.Join(work, "site.yml") + "\npool_size: 1\n",
		"p.md":              "---\ntitle: From config\n---\n",
	})
	out, err := run(t, "--config", filepath.Join(work, "hexgo.config.yaml"), "render", "--page", filepath.Join(work, "p.md"))
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	if !strings.Contains(out, "<h1>From config</h1>") {
		t.Fatalf("got %q", out)
	}

	if _, err := run(t, "--config", filepath.Join(work, "missing.yaml"), "templates"); err == nil {
		t.Fatalf("an explicit missing config should fail")
	}
	if _, err := run(t, "--profile", "bogus", "templates", "--theme", dir); err == nil {
		t.Fatalf("unknown profile mode should fail")
	}
}

func TestCheckCommand(t *testing.T) {
	dir := testTheme(t)
	out, err := run(t, "check", "--theme", dir)
	if err != nil {
		t.Fatalf("check error: %v", err)
	}
	for _, want := range []string{"FAIL", "_partial/broken", "unclosed if block", "fallback", "native", "4 templates, 1 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}

	writeFiles(t, dir, map[string]string{"layout/layout.ejs": "<% if (x) { %>"})
	out, err = run(t, "check", "--theme", dir)
	if err == nil {
		t.Fatalf("a broken layout should fail the check")
	}
	if !strings.Contains(out, "FAIL") || !strings.Contains(out, "layout") {
		t.Errorf("report = %q", out)
	}
}

func TestTemplatesCommand(t *testing.T) {
	out, err := run(t, "templates", "--theme", testTheme(t))
	if err != nil {
		t.Fatalf("templates error: %v", err)
	}
	if want := "_partial/broken\nindex\nlayout\npost\n"; out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}
