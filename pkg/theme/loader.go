package theme

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/hexgo/hexgo/pkg/ejs"
	"github.com/hexgo/hexgo/pkg/starlark"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultLayout is the template every page body is wrapped in.
const DefaultLayout = "layout"

var templateExts = []string{".ejs", ".njk", ".swig", ".html"}

var partialDirs = []string{"_partial/", "_widget/"}

// Options configures Load.
type Options struct {
	// Language selects the translation file; defaults to DefaultLanguage.
	Language string
	Logger   *slog.Logger
	// PoolSize bounds concurrent fallback renders; zero means GOMAXPROCS.
	PoolSize int
	// MaxDepth caps partial nesting; zero means ejs.DefaultMaxDepth.
	MaxDepth int
	// Registerer receives the render metrics. Nil keeps them private.
	Registerer prometheus.Registerer
	// Now overrides the clock of date helpers.
	Now func() time.Time
}

// Theme is a loaded theme directory: its configuration, translations and
// parsed templates. A Theme is immutable after Load and safe for
// concurrent renders.
type Theme struct {
	Dir    string
	Config *ejs.ObjectValue
	I18n   *I18n

	registry     *ejs.Registry
	renderer     *ejs.Renderer
	pool         *starlark.Pool
	metrics      *renderMetrics
	logger       *slog.Logger
	translations *ejs.ObjectValue
	// files maps template names to their path relative to layout/.
	files map[string]string
}

// Load reads a theme from dir: `_config.yml`, `languages/` and every
// template under `layout/`. A template that fails to parse is recorded and
// only fails the pages that use it, except the layout, which aborts the
// load.
func Load(dir string, opts Options) (*Theme, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("theme directory not found: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("theme path %s is not a directory", dir)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lang := opts.Language
	if lang == "" {
		lang = DefaultLanguage
	}

	cfg, err := LoadConfig(filepath.Join(dir, "_config.yml"))
	if err != nil {
		return nil, err
	}
	i18n, err := LoadI18n(filepath.Join(dir, "languages"), lang, logger)
	if err != nil {
		return nil, err
	}
	metrics, err := newRenderMetrics(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	t := &Theme{
		Dir:          dir,
		Config:       cfg,
		I18n:         i18n,
		registry:     ejs.NewRegistry(),
		metrics:      metrics,
		logger:       logger,
		translations: i18n.Table(),
		files:        map[string]string{},
	}
	if err := t.loadTemplates(filepath.Join(dir, "layout")); err != nil {
		return nil, err
	}

	r := ejs.NewRenderer(t.registry)
	r.Logger = logger
	r.MaxDepth = opts.MaxDepth
	r.Now = opts.Now
	r.OnPartialFailure = func(string, error) { metrics.partialFailures.Inc() }
	t.pool = starlark.NewPool(opts.PoolSize, r, nil)
	t.pool.OnWait = metrics.observeCheckout
	r.Fallback = t.pool
	t.renderer = r

	logger.Debug("theme loaded", "dir", dir, "templates", len(t.files), "language", i18n.Language())
	return t, nil
}

func (t *Theme) loadTemplates(root string) error {
	if _, err := os.Stat(root); err != nil {
		t.logger.Warn("theme has no layout directory", "dir", root)
		return nil
	}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		ext := filepath.Ext(path)
		if d.IsDir() || !slices.Contains(templateExts, ext) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		name := strings.TrimSuffix(rel, ext)
		if prev, dup := t.files[name]; dup {
			t.logger.Warn("ignoring template with duplicate name", "name", name, "file", rel, "kept", prev)
			return nil
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading template %s: %w", rel, err)
		}
		t.files[name] = rel
		if err := t.registry.Add(name, string(src)); err != nil {
			if name == DefaultLayout {
				return fmt.Errorf("parsing layout: %w", err)
			}
			t.logger.Warn("template failed to parse", "template", name, "error", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, name := range t.TemplateNames() {
		for _, dir := range partialDirs {
			if short, ok := strings.CutPrefix(name, dir); ok {
				if !t.registry.Alias(short, name) {
					t.logger.Debug("partial short name taken", "partial", name, "short", short)
				}
			}
		}
	}
	return nil
}

// HasTemplate reports whether a template file named name was loaded.
func (t *Theme) HasTemplate(name string) bool {
	_, ok := t.files[name]
	return ok
}

// TemplateNames returns the names of all loaded template files, sorted.
func (t *Theme) TemplateNames() []string {
	names := make([]string, 0, len(t.files))
	for n := range t.files {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// TemplateFile returns the path of name relative to the layout directory.
func (t *Theme) TemplateFile(name string) (string, bool) {
	f, ok := t.files[name]
	return f, ok
}

// Template returns the parsed template name.
func (t *Theme) Template(name string) (*ejs.Template, error) {
	return t.registry.Lookup(name)
}

// Source returns the raw text of name even when it failed to parse.
func (t *Theme) Source(name string) (string, bool) {
	return t.registry.Source(name)
}

// ParseErrors returns the parse failure of every template that has one.
func (t *Theme) ParseErrors() map[string]error {
	out := map[string]error{}
	for name, err := range t.registry.Errors() {
		if t.HasTemplate(name) {
			out[name] = err
		}
	}
	return out
}

// FindTemplate returns the first of name and its fallbacks that exists.
func (t *Theme) FindTemplate(name string, fallbacks ...string) (string, bool) {
	for _, n := range append([]string{name}, fallbacks...) {
		if t.HasTemplate(n) {
			return n, true
		}
	}
	return "", false
}

// PoolSize returns the number of fallback engines the theme may run at
// once.
func (t *Theme) PoolSize() int { return t.pool.Size() }
