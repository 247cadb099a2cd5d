package theme

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hexgo/hexgo/pkg/ejs"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// DefaultLanguage fills in keys the selected language does not translate.
const DefaultLanguage = "en"

// I18n holds the translations found in a theme's languages/ directory.
type I18n struct {
	requested string
	selected  string
	tables    map[string]*ejs.ObjectValue
}

// LoadI18n reads every yml, yaml and json file in dir, keyed by file stem.
// Files that fail to parse are skipped with a warning.
func LoadI18n(dir, lang string, logger *slog.Logger) (*I18n, error) {
	if logger == nil {
		logger = slog.Default()
	}
	i := &I18n{requested: lang, tables: map[string]*ejs.ObjectValue{}}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		i.selected = i.match(lang)
		return i, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading languages: %w", err)
	}
	for _, ent := range entries {
		ext := filepath.Ext(ent.Name())
		if ent.IsDir() || (ext != ".yml" && ext != ".yaml" && ext != ".json") {
			continue
		}
		path := filepath.Join(dir, ent.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading language file: %w", err)
		}
		table, err := parseLanguage(data)
		if err != nil {
			logger.Warn("skipping language file", "path", path, "error", err)
			continue
		}
		i.tables[strings.TrimSuffix(ent.Name(), ext)] = table
		logger.Debug("loaded language file", "path", path, "keys", table.Len())
	}
	i.selected = i.match(lang)
	return i, nil
}

// NewI18n builds an I18n from nested translation tables keyed by language.
func NewI18n(lang string, tables map[string]map[string]any) *I18n {
	i := &I18n{requested: lang, tables: map[string]*ejs.ObjectValue{}}
	for name, t := range tables {
		flat := ejs.NewObject()
		if o, ok := ejs.FromGo(t).(*ejs.ObjectValue); ok {
			flatten(flat, "", o)
		}
		i.tables[name] = flat
	}
	i.selected = i.match(lang)
	return i
}

func parseLanguage(data []byte) (*ejs.ObjectValue, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	flat := ejs.NewObject()
	root := document(&doc)
	if root == nil {
		return flat, nil
	}
	o, ok := NodeValue(root).(*ejs.ObjectValue)
	if !ok {
		return nil, fmt.Errorf("language file must be a mapping, got %s", kindName(root.Kind))
	}
	flatten(flat, "", o)
	return flat, nil
}

// flatten writes nested keys of o into dst as dotted paths.
func flatten(dst *ejs.ObjectValue, prefix string, o *ejs.ObjectValue) {
	for _, k := range o.Keys() {
		v, _ := o.Get(k)
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch x := v.(type) {
		case *ejs.ObjectValue:
			flatten(dst, key, x)
		case ejs.StringValue, ejs.NumberValue, ejs.BoolValue:
			dst.Set(key, ejs.StringValue(x.String()))
		}
	}
}

// match picks the loaded language closest to lang. An exact file name wins;
// otherwise the language matcher decides, so "en-GB" uses "en" and "zh-CN"
// uses a "zh-cn" file.
func (i *I18n) match(lang string) string {
	names := make([]string, 0, len(i.tables))
	for n := range i.tables {
		names = append(names, n)
	}
	slices.Sort(names)
	for _, n := range names {
		if strings.EqualFold(n, lang) {
			return n
		}
	}

	var tags []language.Tag
	var owners []string
	for _, n := range names {
		tag, err := language.Parse(n)
		if err != nil {
			continue
		}
		tags = append(tags, tag)
		owners = append(owners, n)
	}
	want, err := language.Parse(lang)
	if len(tags) > 0 && err == nil {
		_, idx, conf := language.NewMatcher(tags).Match(want)
		if conf != language.No {
			return owners[idx]
		}
	}
	if _, ok := i.tables[DefaultLanguage]; ok {
		return DefaultLanguage
	}
	return lang
}

// Language returns the name of the language file in use.
func (i *I18n) Language() string { return i.selected }

// Languages lists the loaded language names.
func (i *I18n) Languages() []string {
	out := make([]string, 0, len(i.tables))
	for n := range i.tables {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Table returns the flat translation table bound as `__`: the selected
// language, then the default language and a "default" file for missing
// keys.
func (i *I18n) Table() *ejs.ObjectValue {
	out := ejs.NewObject()
	for _, name := range []string{i.selected, DefaultLanguage, "default"} {
		t, ok := i.tables[name]
		if !ok {
			continue
		}
		for _, k := range t.Keys() {
			if _, seen := out.Get(k); !seen {
				v, _ := t.Get(k)
				out.Set(k, v)
			}
		}
	}
	return out
}

// Translate looks key up in Table; an unknown key translates to itself.
func (i *I18n) Translate(key string) string {
	if v, ok := i.Table().Get(key); ok {
		return v.String()
	}
	return key
}
