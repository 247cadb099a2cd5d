package theme

import (
	"path/filepath"
	"slices"
	"testing"

	"github.com/hexgo/hexgo/pkg/ejs"
)

func TestParseSiteConfig(t *testing.T) {
	cfg, err := ParseSiteConfig([]byte("title: Notes\nper_page: 5\nzeta: 1\nalpha:\n  nested: true\nlanguage: zh-CN\n"))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if cfg.Title != "Notes" || cfg.PerPage != 5 || cfg.Language != "zh-CN" {
		t.Errorf("decoded fields = %+v", cfg)
	}
	if cfg.Author != "John Doe" || cfg.TagDir != "tags" || cfg.DateFormat != "YYYY-MM-DD" {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if got := cfg.Extra.Keys(); !slices.Equal(got, []string{"zeta", "alpha"}) {
		t.Errorf("Extra keys = %v", got)
	}

	keys := cfg.Value().Keys()
	if keys[0] != "title" || !slices.Equal(keys[len(keys)-2:], []string{"zeta", "alpha"}) {
		t.Errorf("Value() keys = %v", keys)
	}
	if got := ejs.ToJSON(ejs.Property(cfg.Value(), "alpha")); got != `{"nested":true}` {
		t.Errorf("alpha = %s", got)
	}
}

func TestSiteConfigDefaults(t *testing.T) {
	for _, data := range []string{"", "# only a comment\n"} {
		cfg, err := ParseSiteConfig([]byte(data))
		if err != nil {
			t.Fatalf("parse error: %v", err)
		}
		want := DefaultSiteConfig()
		if cfg.Title != want.Title || cfg.URL != "http://example.com" || cfg.Root != "/" || cfg.PerPage != 10 ||
			cfg.PaginationDir != "page" || cfg.ArchiveDir != "archives" || cfg.CategoryDir != "categories" ||
			cfg.TimeFormat != "HH:mm:ss" || cfg.Language != "en" {
			t.Errorf("ParseSiteConfig(%q) = %+v", data, cfg)
		}
	}

	cfg, err := LoadSiteConfig(filepath.Join(t.TempDir(), "_config.yml"))
	if err != nil || cfg.Title != "Hexo" {
		t.Errorf("missing site config should give defaults, got %+v, %v", cfg, err)
	}

	if _, err := ParseSiteConfig([]byte("[1, 2]")); err == nil {
		t.Errorf("a sequence is not a site config")
	}
	if _, err := ParseSiteConfig([]byte("per_page: many\n")); err == nil {
		t.Errorf("per_page must be a number")
	}
}

func TestParseConfig(t *testing.T) {
	src := `
base: &base
  a: 1
  b: two
derived:
  <<: *base
  b: three
list: [1, 2.5, null, true, "x"]
alias: *base
empty:
`
	cfg, err := ParseConfig([]byte(src))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	want := `{"base":{"a":1,"b":"two"},"derived":{"a":1,"b":"three"},"list":[1,2.5,null,true,"x"],"alias":{"a":1,"b":"two"},"empty":null}`
	if got := ejs.ToJSON(cfg); got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}

	empty, err := ParseConfig(nil)
	if err != nil || empty.Len() != 0 {
		t.Errorf("empty config = %v, %v", empty, err)
	}
	if _, err := ParseConfig([]byte("a: [")); err == nil {
		t.Errorf("invalid YAML should fail")
	}
}

func TestI18nTables(t *testing.T) {
	i := NewI18n("de", map[string]map[string]any{
		"en":      {"home": "Home", "menu": map[string]any{"about": "About"}, "count": 3},
		"de":      {"home": "Startseite"},
		"default": {"extra": "Extra"},
	})
	if i.Language() != "de" {
		t.Fatalf("Language() = %q", i.Language())
	}
	tests := map[string]string{
		"home":       "Startseite",
		"menu.about": "About",
		"count":      "3",
		"extra":      "Extra",
		"missing":    "missing",
	}
	for key, want := range tests {
		if got := i.Translate(key); got != want {
			t.Errorf("Translate(%q) = %q, want %q", key, got, want)
		}
	}
}
