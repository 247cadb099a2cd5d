package theme

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/hexgo/hexgo/pkg/ejs"
	"gopkg.in/yaml.v3"
)

// SiteConfig is the site-wide configuration templates see as `config`.
// Keys the struct does not model are kept in Extra in file order.
type SiteConfig struct {
	Title         string `yaml:"title"`
	Subtitle      string `yaml:"subtitle"`
	Description   string `yaml:"description"`
	Author        string `yaml:"author"`
	Language      string `yaml:"language"`
	Timezone      string `yaml:"timezone"`
	URL           string `yaml:"url"`
	Root          string `yaml:"root"`
	Permalink     string `yaml:"permalink"`
	DateFormat    string `yaml:"date_format"`
	TimeFormat    string `yaml:"time_format"`
	PerPage       int    `yaml:"per_page"`
	PaginationDir string `yaml:"pagination_dir"`
	TagDir        string `yaml:"tag_dir"`
	ArchiveDir    string `yaml:"archive_dir"`
	CategoryDir   string `yaml:"category_dir"`
	Titlecase     bool   `yaml:"titlecase"`
	MetaGenerator bool   `yaml:"meta_generator"`

	Extra *ejs.ObjectValue `yaml:"-"`
}

var siteConfigKeys = map[string]bool{
	"title": true, "subtitle": true, "description": true,
	"author": true, "language": true, "timezone": true, "url": true,
	"root": true, "permalink": true, "date_format": true, "time_format": true,
	"per_page": true, "pagination_dir": true, "tag_dir": true,
	"archive_dir": true, "category_dir": true, "titlecase": true,
	"meta_generator": true,
}

// DefaultSiteConfig returns the configuration of a freshly created site.
func DefaultSiteConfig() SiteConfig {
	return SiteConfig{
		Title:         "Hexo",
		Author:        "John Doe",
		Language:      "en",
		URL:           "http://example.com",
		Root:          "/",
		Permalink:     ":year/:month/:day/:title/",
		DateFormat:    "YYYY-MM-DD",
		TimeFormat:    "HH:mm:ss",
		PerPage:       10,
		PaginationDir: "page",
		TagDir:        "tags",
		ArchiveDir:    "archives",
		CategoryDir:   "categories",
		MetaGenerator: true,
		Extra:         ejs.NewObject(),
	}
}

// ParseSiteConfig decodes YAML over the defaults.
func ParseSiteConfig(data []byte) (SiteConfig, error) {
	cfg := DefaultSiteConfig()
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return cfg, fmt.Errorf("decoding site config: %w", err)
	}
	root := document(&doc)
	if root == nil {
		return cfg, nil
	}
	if root.Kind != yaml.MappingNode {
		return cfg, fmt.Errorf("site config must be a mapping, got %s", kindName(root.Kind))
	}
	if err := root.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding site config: %w", err)
	}
	if cfg.Extra == nil {
		cfg.Extra = ejs.NewObject()
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		if !siteConfigKeys[key] {
			cfg.Extra.Set(key, NodeValue(root.Content[i+1]))
		}
	}
	return cfg, nil
}

// LoadSiteConfig reads a site configuration file. A missing file yields
// the defaults.
func LoadSiteConfig(path string) (SiteConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultSiteConfig(), nil
	}
	if err != nil {
		return DefaultSiteConfig(), fmt.Errorf("reading site config: %w", err)
	}
	return ParseSiteConfig(data)
}

// Value converts the configuration into the object bound as `config`.
func (c SiteConfig) Value() *ejs.ObjectValue {
	o := ejs.NewObject()
	o.Set("title", ejs.StringValue(c.Title))
	o.Set("subtitle", ejs.StringValue(c.Subtitle))
	o.Set("description", ejs.StringValue(c.Description))
	o.Set("author", ejs.StringValue(c.Author))
	o.Set("language", ejs.StringValue(c.Language))
	o.Set("timezone", ejs.StringValue(c.Timezone))
	o.Set("url", ejs.StringValue(c.URL))
	o.Set("root", ejs.StringValue(c.Root))
	o.Set("permalink", ejs.StringValue(c.Permalink))
	o.Set("date_format", ejs.StringValue(c.DateFormat))
	o.Set("time_format", ejs.StringValue(c.TimeFormat))
	o.Set("per_page", ejs.NumberValue(c.PerPage))
	o.Set("pagination_dir", ejs.StringValue(c.PaginationDir))
	o.Set("tag_dir", ejs.StringValue(c.TagDir))
	o.Set("archive_dir", ejs.StringValue(c.ArchiveDir))
	o.Set("category_dir", ejs.StringValue(c.CategoryDir))
	o.Set("titlecase", ejs.BoolValue(c.Titlecase))
	o.Set("meta_generator", ejs.BoolValue(c.MetaGenerator))
	if c.Extra != nil {
		for _, k := range c.Extra.Keys() {
			v, _ := c.Extra.Get(k)
			o.Set(k, v)
		}
	}
	return o
}

// LoadConfig reads a theme `_config.yml` into an object that keeps the
// file's key order. A missing file yields an empty object.
func LoadConfig(path string) (*ejs.ObjectValue, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ejs.NewObject(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading theme config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML theme configuration.
func ParseConfig(data []byte) (*ejs.ObjectValue, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding theme config: %w", err)
	}
	root := document(&doc)
	if root == nil {
		return ejs.NewObject(), nil
	}
	obj, ok := NodeValue(root).(*ejs.ObjectValue)
	if !ok {
		return nil, fmt.Errorf("theme config must be a mapping, got %s", kindName(root.Kind))
	}
	return obj, nil
}

func document(n *yaml.Node) *yaml.Node {
	if n.Kind == yaml.DocumentNode {
		if len(n.Content) == 0 {
			return nil
		}
		return n.Content[0]
	}
	if n.Kind == 0 {
		return nil
	}
	return n
}

// NodeValue converts a YAML node into a Value. Mappings keep their key
// order and honour `<<` merge keys.
func NodeValue(n *yaml.Node) ejs.Value {
	if n == nil {
		return ejs.Null
	}
	switch n.Kind {
	case yaml.DocumentNode:
		return NodeValue(document(n))
	case yaml.AliasNode:
		return NodeValue(n.Alias)
	case yaml.SequenceNode:
		out := make(ejs.ArrayValue, len(n.Content))
		for i, c := range n.Content {
			out[i] = NodeValue(c)
		}
		return out
	case yaml.MappingNode:
		o := ejs.NewObject()
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if k.ShortTag() == "!!merge" {
				mergeInto(o, NodeValue(v))
				continue
			}
			o.Set(k.Value, NodeValue(v))
		}
		return o
	case yaml.ScalarNode:
		return scalarValue(n)
	}
	return ejs.Null
}

func mergeInto(o *ejs.ObjectValue, v ejs.Value) {
	switch x := v.(type) {
	case *ejs.ObjectValue:
		for _, k := range x.Keys() {
			if _, ok := o.Get(k); !ok {
				mv, _ := x.Get(k)
				o.Set(k, mv)
			}
		}
	case ejs.ArrayValue:
		for _, item := range x {
			mergeInto(o, item)
		}
	}
}

func scalarValue(n *yaml.Node) ejs.Value {
	switch n.ShortTag() {
	case "!!null":
		return ejs.Null
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err == nil {
			return ejs.BoolValue(b)
		}
	case "!!int":
		var i int64
		if err := n.Decode(&i); err == nil {
			return ejs.NumberValue(i)
		}
	case "!!float":
		var f float64
		if err := n.Decode(&f); err == nil {
			return ejs.NumberValue(f)
		}
		if f, err := strconv.ParseFloat(n.Value, 64); err == nil {
			return ejs.NumberValue(f)
		}
	}
	return ejs.StringValue(n.Value)
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	case yaml.MappingNode:
		return "mapping"
	}
	return "document"
}
