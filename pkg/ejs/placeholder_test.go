package ejs

import (
	"strings"
	"testing"
)

func TestPlaceholderRoundTrip(t *testing.T) {
	locals := NewObject()
	locals.Set("title", StringValue("a --> b & c"))
	locals.Set("n", NumberValue(2))
	marker := EncodePlaceholder("_partial/card", locals)
	if strings.Count(marker, "-->") != 1 {
		t.Fatalf("payload leaked a comment terminator: %s", marker)
	}
	m := placeholderRe.FindStringSubmatch(marker)
	if m == nil || m[1] != "_partial/card" {
		t.Fatalf("marker not recognised: %s", marker)
	}
	got, err := DecodePlaceholder(m[2])
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if ToJSON(got) != ToJSON(locals) {
		t.Fatalf("got %s, want %s", ToJSON(got), ToJSON(locals))
	}
}

func TestExpandPlaceholders(t *testing.T) {
	renderers := map[string]func(name string, locals *ObjectValue) string{
		"nested": func(name string, locals *ObjectValue) string {
			if name == "outer" {
				return "[" + EncodePlaceholder("inner", locals) + "]"
			}
			return optString(locals, "v", "?")
		},
		"self": func(name string, _ *ObjectValue) string {
			return "x" + EncodePlaceholder(name, nil)
		},
	}
	locals := NewObject()
	locals.Set("v", StringValue("I"))

	tests := []struct {
		name   string
		input  string
		render string
		want   string
	}{
		{"no markers", "plain", "nested", "plain"},
		{"nested expansion", "a" + EncodePlaceholder("outer", locals) + "b", "nested", "a[I]b"},
		{"pass limit", EncodePlaceholder("loop", nil), "self", strings.Repeat("x", MaxPlaceholderPasses)},
		{"undecodable payload", "a<!--PARTIAL:p:%ZZ-->b", "nested", "ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandPlaceholders(tt.input, nil, renderers[tt.render]); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRoute(t *testing.T) {
	tests := []struct {
		src  string
		want Engine
	}{
		{"<%= title %>", EngineNative},
		{"<% posts.map(p => p.title) %>", EngineNative},
		{"<% posts.sort((a, b) => b.date - a.date) %>", EngineFallback},
		{"<% const age = items.map(i => now - i.date) %>", EngineFallback},
		{"<%= a - b %>", EngineNative},
	}
	for _, tt := range tests {
		if got := Route(tt.src); got != tt.want {
			t.Errorf("Route(%q) = %s, want %s", tt.src, got, tt.want)
		}
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Add("layout", "<%= body %>"); err != nil {
		t.Fatalf("add error: %v", err)
	}
	if err := reg.Add("broken", "<% if (x) { %>"); err == nil {
		t.Fatalf("want parse error for broken template")
	}
	if !reg.Has("broken") {
		t.Fatalf("broken template should stay registered")
	}
	if _, err := reg.Lookup("broken"); err == nil {
		t.Fatalf("lookup of broken template should return its parse error")
	}
	if !reg.Alias("default", "layout") || reg.Alias("x", "missing") {
		t.Fatalf("alias results wrong")
	}
	tpl, err := reg.Lookup("default")
	if err != nil || tpl.Name != "layout" {
		t.Fatalf("alias lookup: %v %v", tpl, err)
	}
	if names := strings.Join(reg.Names(), ","); names != "broken,default,layout" {
		t.Fatalf("names: %s", names)
	}
	if len(reg.Errors()) != 1 {
		t.Fatalf("want 1 registry error, got %v", reg.Errors())
	}
}
