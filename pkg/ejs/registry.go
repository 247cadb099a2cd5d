package ejs

import (
	"sort"

	"github.com/sahilm/fuzzy"
)

type entry struct {
	tpl *Template
	err error
}

// Registry maps template names to parsed templates. It is filled while a
// theme loads and only read afterwards; lookups are safe for concurrent use
// once loading is done.
type Registry struct {
	entries map[string]entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]entry{}}
}

// Add parses src and registers it under name. A parse failure is recorded
// and returned again from Lookup, so one broken partial only affects the
// pages that include it.
func (r *Registry) Add(name, src string) error {
	t, err := Parse(name, src)
	if err != nil {
		r.entries[name] = entry{tpl: &Template{Name: name, Source: src}, err: err}
		return err
	}
	r.entries[name] = entry{tpl: t}
	return nil
}

// AddTemplate registers an already parsed template.
func (r *Registry) AddTemplate(t *Template) {
	r.entries[t.Name] = entry{tpl: t}
}

// Alias registers name under alias as well, unless alias is taken.
func (r *Registry) Alias(alias, name string) bool {
	if _, taken := r.entries[alias]; taken {
		return false
	}
	e, ok := r.entries[name]
	if !ok {
		return false
	}
	r.entries[alias] = e
	return true
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// Lookup returns the template registered under name. An unknown name
// yields a *TemplateNotFoundError carrying close matches; a template that
// failed to parse yields its *ParseError.
func (r *Registry) Lookup(name string) (*Template, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, &TemplateNotFoundError{Name: name, Suggestions: r.suggest(name)}
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.tpl, nil
}

// Source returns the raw text registered under name, even when it failed
// to parse.
func (r *Registry) Source(name string) (string, bool) {
	e, ok := r.entries[name]
	if !ok {
		return "", false
	}
	return e.tpl.Source, true
}

// Names returns every registered name in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Errors returns the parse failure of every template that has one.
func (r *Registry) Errors() map[string]error {
	out := map[string]error{}
	for n, e := range r.entries {
		if e.err != nil {
			out[n] = e.err
		}
	}
	return out
}

func (r *Registry) suggest(name string) []string {
	matches := fuzzy.Find(name, r.Names())
	var out []string
	for i, m := range matches {
		if i == 3 {
			break
		}
		out = append(out, m.Str)
	}
	return out
}
