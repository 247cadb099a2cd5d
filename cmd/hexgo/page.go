package main

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/frontmatter"
	"github.com/hexgo/hexgo/pkg/ejs"
	"github.com/hexgo/hexgo/pkg/theme"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"gopkg.in/yaml.v3"
)

const moreMarker = "<!-- more -->"

var yamlFrontMatter = frontmatter.NewFormat("---", "---", yaml.Unmarshal)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithParserOptions(
		parser.WithAutoHeadingID(),
	),
)

// parsePage reads a markdown source with YAML front matter into a post.
// Known keys fill the post; the rest stay in FrontMatter in file order.
func parsePage(name string, data []byte) (theme.Post, error) {
	var node yaml.Node
	body, err := frontmatter.Parse(bytes.NewReader(data), &node, yamlFrontMatter)
	if err != nil {
		return theme.Post{}, fmt.Errorf("parsing front matter of %s: %w", name, err)
	}

	fm := ejs.NewObject()
	if v, ok := theme.NodeValue(&node).(*ejs.ObjectValue); ok {
		fm = v
	}
	take := func(key string) ejs.Value {
		v, ok := fm.Get(key)
		if !ok {
			return ejs.Null
		}
		fm.Delete(key)
		return v
	}

	post := theme.Post{
		Title:      take("title").String(),
		Date:       take("date").String(),
		Updated:    take("updated").String(),
		Path:       take("path").String(),
		Permalink:  take("permalink").String(),
		Tags:       stringList(take("tags")),
		Categories: stringList(take("categories")),
	}
	switch l := take("layout").(type) {
	case ejs.StringValue:
		post.Layout = string(l)
	case ejs.BoolValue:
		fm.Set("layout", l)
	}
	post.FrontMatter = fm

	if post.Title == "" {
		post.Title = strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	}
	if post.Date == "" {
		post.Date = time.Now().Format("2006-01-02 15:04:05")
	}
	if post.Path == "" {
		post.Path = ejs.Slugify(post.Title) + "/"
	}

	source := string(body)
	excerpt, _, hasMore := strings.Cut(source, moreMarker)
	content, err := renderMarkdown(source)
	if err != nil {
		return post, fmt.Errorf("rendering %s: %w", name, err)
	}
	post.Content = content
	if hasMore {
		if post.Excerpt, err = renderMarkdown(excerpt); err != nil {
			return post, fmt.Errorf("rendering excerpt of %s: %w", name, err)
		}
	}
	post.WordCount = len(strings.Fields(ejs.StripHTML(content)))
	return post, nil
}

func renderMarkdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// stringList accepts a single string or a list, as front matter writes
// tags and categories either way.
func stringList(v ejs.Value) []string {
	switch x := v.(type) {
	case ejs.StringValue:
		if x == "" {
			return nil
		}
		return []string{string(x)}
	case ejs.ArrayValue:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s := item.String(); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
