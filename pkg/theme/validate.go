package theme

import (
	"fmt"
	"path"
	"strings"

	"github.com/hexgo/hexgo/pkg/ejs"
	"github.com/hexgo/hexgo/pkg/validator"
)

type templateFile struct {
	name string
	file string
}

func (f templateFile) Validate() error {
	return validator.All(
		validator.NotEmpty(f.name, "template name"),
		validator.NoPathTraversal(f.file, "template path"),
		validator.MatchesAllowed(path.Ext(f.file), templateExts, fmt.Sprintf("extension of %s", f.file)),
	)
}

// Validate checks the loaded theme: menu entries in `_config.yml` are plain
// strings, every name in its `widgets` list has a _widget/ template, partials
// have non-empty names that stay unique once their
// directory prefix is dropped, and no template path climbs out of layout/.
func (t *Theme) Validate() error {
	var files []templateFile
	var partials, widgets []string
	for _, name := range t.TemplateNames() {
		files = append(files, templateFile{name: name, file: t.files[name]})
		for _, dir := range partialDirs {
			if short, ok := strings.CutPrefix(name, dir); ok {
				partials = append(partials, short)
				if dir == "_widget/" {
					widgets = append(widgets, short)
				}
			}
		}
	}

	return validator.All(
		validator.Each(files),
		validator.Map(partials, validator.NotEmpty, "partial name"),
		validator.NoDuplicates(partials, "partial names"),
		validator.MapDict(t.menu(), validateMenuEntry, "menu"),
		validator.SliceHasElements(t.widgets(), widgets, "widget"),
	)
}

func (t *Theme) menu() map[string]ejs.Value {
	out := map[string]ejs.Value{}
	m, ok := t.Config.Get("menu")
	if !ok {
		return out
	}
	if obj, ok := m.(*ejs.ObjectValue); ok {
		for _, k := range obj.Keys() {
			out[k], _ = obj.Get(k)
		}
	}
	return out
}

// widgets returns the `widgets` list of the theme config; a single name is
// accepted as a list of one.
func (t *Theme) widgets() []string {
	v, ok := t.Config.Get("widgets")
	if !ok {
		return nil
	}
	switch x := v.(type) {
	case ejs.StringValue:
		return []string{string(x)}
	case ejs.ArrayValue:
		out := make([]string, 0, len(x))
		for _, item := range x {
			out = append(out, item.String())
		}
		return out
	}
	return nil
}

func validateMenuEntry(name string, v ejs.Value) error {
	s, ok := v.(ejs.StringValue)
	if !ok {
		return fmt.Errorf("entry %q must be a string, got %s", name, ejs.ToJSON(v))
	}
	return validator.HasNoTemplateTags(string(s), fmt.Sprintf("entry %q", name))
}
