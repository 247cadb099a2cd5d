package theme

import (
	"sort"

	"github.com/hexgo/hexgo/pkg/ejs"
)

// Post is a rendered post or page as templates see it through `page`.
type Post struct {
	Title      string
	Date       string
	Updated    string
	Path       string
	Permalink  string
	Layout     string
	Content    string
	Excerpt    string
	Tags       []string
	Categories []string
	WordCount  int
	// FrontMatter holds the remaining front-matter keys in file order.
	FrontMatter *ejs.ObjectValue
}

// Value converts p into the object bound as `page`.
func (p Post) Value() *ejs.ObjectValue {
	o := ejs.NewObject()
	if p.FrontMatter != nil {
		for _, k := range p.FrontMatter.Keys() {
			v, _ := p.FrontMatter.Get(k)
			o.Set(k, v)
		}
	}
	o.Set("title", ejs.StringValue(p.Title))
	o.Set("date", ejs.StringValue(p.Date))
	updated := p.Updated
	if updated == "" {
		updated = p.Date
	}
	o.Set("updated", ejs.StringValue(updated))
	o.Set("path", ejs.StringValue(p.Path))
	o.Set("permalink", ejs.StringValue(p.Permalink))
	if p.Layout != "" {
		o.Set("layout", ejs.StringValue(p.Layout))
	}
	o.Set("content", ejs.StringValue(p.Content))
	o.Set("excerpt", ejs.StringValue(p.Excerpt))
	o.Set("tags", ejs.FromGo(p.Tags))
	o.Set("categories", ejs.FromGo(p.Categories))
	o.Set("wordCount", ejs.NumberValue(p.WordCount))
	return o
}

// Summary reduces p to the entry listed in site.posts.
func (p Post) Summary() PostSummary {
	return PostSummary{
		Title:      p.Title,
		Date:       p.Date,
		Path:       p.Path,
		Permalink:  p.Permalink,
		Tags:       p.Tags,
		Categories: p.Categories,
		Content:    p.Content,
		WordCount:  p.WordCount,
	}
}

// SiteData is the site-wide data bound as `site`.
type SiteData struct {
	Posts      []PostSummary
	Pages      []PageSummary
	Tags       map[string]int
	Categories map[string]int
	WordCount  int
}

// PostSummary is one entry of site.posts.
type PostSummary struct {
	Title      string
	Date       string
	Path       string
	Permalink  string
	Tags       []string
	Categories []string
	Content    string
	WordCount  int
}

// PageSummary is one entry of site.pages.
type PageSummary struct {
	Title     string
	Path      string
	Permalink string
}

// PaginationInfo describes the list page being rendered.
type PaginationInfo struct {
	PerPage    int
	Total      int
	Current    int
	CurrentURL string
	Prev       int
	PrevLink   string
	Next       int
	NextLink   string
	IsHome     bool
	IsArchive  bool
	IsCategory bool
	IsTag      bool
	Year       int
	Month      int
	Category   string
	Tag        string
}

// DefaultPagination is the first page of a single-page listing.
func DefaultPagination() PaginationInfo {
	return PaginationInfo{PerPage: 10, Total: 1, Current: 1, CurrentURL: "/"}
}

// NewSiteData collects site data from posts and pages, counting tags and
// categories.
func NewSiteData(posts []Post, pages []PageSummary) SiteData {
	s := SiteData{Tags: map[string]int{}, Categories: map[string]int{}, Pages: pages}
	for _, p := range posts {
		s.Posts = append(s.Posts, p.Summary())
		s.WordCount += p.WordCount
		for _, t := range p.Tags {
			s.Tags[t]++
		}
		for _, c := range p.Categories {
			s.Categories[c]++
		}
	}
	return s
}

func (s PostSummary) Value() *ejs.ObjectValue {
	o := ejs.NewObject()
	o.Set("title", ejs.StringValue(s.Title))
	o.Set("date", ejs.StringValue(s.Date))
	o.Set("path", ejs.StringValue(s.Path))
	o.Set("permalink", ejs.StringValue(s.Permalink))
	o.Set("tags", ejs.FromGo(s.Tags))
	o.Set("categories", ejs.FromGo(s.Categories))
	o.Set("content", ejs.StringValue(s.Content))
	o.Set("wordCount", ejs.NumberValue(s.WordCount))
	return o
}

func (s PageSummary) Value() *ejs.ObjectValue {
	o := ejs.NewObject()
	o.Set("title", ejs.StringValue(s.Title))
	o.Set("path", ejs.StringValue(s.Path))
	o.Set("permalink", ejs.StringValue(s.Permalink))
	return o
}

// Value converts s into the object bound as `site`. Tag and category
// counts are keyed in name order.
func (s SiteData) Value() *ejs.ObjectValue {
	posts := make(ejs.ArrayValue, len(s.Posts))
	for i, p := range s.Posts {
		posts[i] = p.Value()
	}
	pages := make(ejs.ArrayValue, len(s.Pages))
	for i, p := range s.Pages {
		pages[i] = p.Value()
	}
	o := ejs.NewObject()
	o.Set("posts", posts)
	o.Set("pages", pages)
	o.Set("tags", counts(s.Tags))
	o.Set("categories", counts(s.Categories))
	o.Set("wordCount", ejs.NumberValue(s.WordCount))
	return o
}

func counts(m map[string]int) *ejs.ObjectValue {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	o := ejs.NewObject()
	for _, n := range names {
		o.Set(n, ejs.NumberValue(m[n]))
	}
	return o
}

// Value converts p into the object bound as `page` on list pages.
func (p PaginationInfo) Value() *ejs.ObjectValue {
	o := ejs.NewObject()
	o.Set("per_page", ejs.NumberValue(p.PerPage))
	o.Set("total", ejs.NumberValue(p.Total))
	o.Set("current", ejs.NumberValue(p.Current))
	o.Set("current_url", ejs.StringValue(p.CurrentURL))
	o.Set("prev", ejs.NumberValue(p.Prev))
	o.Set("prev_link", ejs.StringValue(p.PrevLink))
	o.Set("next", ejs.NumberValue(p.Next))
	o.Set("next_link", ejs.StringValue(p.NextLink))
	o.Set("is_home", ejs.BoolValue(p.IsHome))
	o.Set("is_archive", ejs.BoolValue(p.IsArchive))
	o.Set("is_category", ejs.BoolValue(p.IsCategory))
	o.Set("is_tag", ejs.BoolValue(p.IsTag))
	if p.IsArchive {
		o.Set("archive", ejs.BoolValue(true))
	}
	if p.Year > 0 {
		o.Set("year", ejs.NumberValue(p.Year))
	}
	if p.Month > 0 {
		o.Set("month", ejs.NumberValue(p.Month))
	}
	if p.Category != "" {
		o.Set("category", ejs.StringValue(p.Category))
	}
	if p.Tag != "" {
		o.Set("tag", ejs.StringValue(p.Tag))
	}
	return o
}

// BuildPostContext binds config, site, page, path and url for a post or
// standalone page.
func BuildPostContext(post Post, cfg SiteConfig, site SiteData) *ejs.Context {
	ctx := ejs.NewContext()
	ctx.Set("config", cfg.Value())
	ctx.Set("site", site.Value())
	ctx.Set("page", post.Value())
	ctx.Set("path", ejs.StringValue(post.Path))
	ctx.Set("url", ejs.StringValue(post.Permalink))
	return ctx
}

// BuildListContext binds the same names for an index, archive, category or
// tag page and lists posts as page.posts.
func BuildListContext(posts []Post, cfg SiteConfig, site SiteData, pagination PaginationInfo) *ejs.Context {
	ctx := ejs.NewContext()
	ctx.Set("config", cfg.Value())
	ctx.Set("site", site.Value())
	ctx.Set("page", pagination.Value())
	list := make(ejs.ArrayValue, len(posts))
	for i, p := range posts {
		list[i] = p.Value()
	}
	ctx.SetNested("page.posts", list)
	ctx.Set("path", ejs.StringValue(pagination.CurrentURL))
	ctx.Set("url", ejs.StringValue(pagination.CurrentURL))
	return ctx
}
