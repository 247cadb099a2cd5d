package ejs

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

func isAbsoluteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "//") ||
		strings.HasPrefix(s, "mailto:") || strings.HasPrefix(s, "data:")
}

func (e *evaluator) urlFor(path string) string {
	if isAbsoluteURL(path) || strings.HasPrefix(path, "#") {
		return path
	}
	root := strings.TrimRight(e.configString("root", "/"), "/")
	return root + "/" + strings.TrimLeft(path, "/")
}

func (e *evaluator) fullURLFor(path string) string {
	if isAbsoluteURL(path) {
		return path
	}
	base := strings.TrimRight(e.configString("url", "http://example.com"), "/")
	if strings.Count(base, "/") > 2 {
		// url already carries the root path
		return base + "/" + strings.TrimLeft(path, "/")
	}
	return base + e.urlFor(path)
}

func relativeURL(from, to string) string {
	fromParts := strings.Split(strings.Trim(from, "/"), "/")
	toParts := strings.Split(strings.Trim(to, "/"), "/")
	common := 0
	for common < len(fromParts) && common < len(toParts) && fromParts[common] == toParts[common] {
		common++
	}
	var b strings.Builder
	for range fromParts[common:] {
		b.WriteString("../")
	}
	b.WriteString(strings.Join(toParts[common:], "/"))
	if b.Len() == 0 {
		return "./"
	}
	return strings.TrimSuffix(b.String(), "/")
}

// assetTags renders css/js arguments. Each argument may be a string or an
// array of strings; the extension is added when missing.
func (e *evaluator) assetTags(args []Value, ext, tag string) string {
	var paths []string
	for _, a := range args {
		switch x := a.(type) {
		case ArrayValue:
			for _, item := range x {
				paths = append(paths, item.String())
			}
		case NullValue:
		default:
			paths = append(paths, x.String())
		}
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		href := p
		if !isAbsoluteURL(p) {
			if !strings.HasSuffix(p, ext) {
				p += ext
			}
			href = e.urlFor(p)
		}
		out = append(out, fmt.Sprintf(tag, href))
	}
	return strings.Join(out, "\n")
}

func helperCSS(e *evaluator, args []Value) string {
	return e.assetTags(args, ".css", `<link rel="stylesheet" href="%s">`)
}

func helperJS(e *evaluator, args []Value) string {
	return e.assetTags(args, ".js", `<script src="%s"></script>`)
}

func helperLinkTo(e *evaluator, args []Value) string {
	path := strArg(args, 0, "")
	text := strArg(args, 1, path)
	opts := objArg(args, 2)
	external := optBool(opts, "external", false)
	if len(args) > 2 {
		if b, ok := args[2].(BoolValue); ok {
			external = bool(b)
		}
	}
	attrs := ""
	if class := optString(opts, "class", ""); class != "" {
		attrs += fmt.Sprintf(` class="%s"`, EscapeHTML(class))
	}
	if external || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		attrs += ` target="_blank" rel="noopener"`
	}
	return fmt.Sprintf(`<a href="%s"%s title="%s">%s</a>`, e.urlFor(path), attrs, EscapeHTML(text), text)
}

func helperMailTo(_ *evaluator, args []Value) string {
	addr := strArg(args, 0, "")
	text := strArg(args, 1, addr)
	return fmt.Sprintf(`<a href="mailto:%s" title="%s">%s</a>`, addr, EscapeHTML(text), text)
}

func helperImageTag(e *evaluator, args []Value) string {
	opts := objArg(args, 1)
	var b strings.Builder
	fmt.Fprintf(&b, `<img src="%s"`, e.urlFor(strArg(args, 0, "")))
	for _, attr := range []string{"alt", "class", "width", "height", "title"} {
		if v := optString(opts, attr, ""); v != "" || attr == "alt" {
			fmt.Fprintf(&b, ` %s="%s"`, attr, EscapeHTML(v))
		}
	}
	b.WriteString(">")
	return b.String()
}

func helperFavicon(e *evaluator, args []Value) string {
	path := "/favicon.ico"
	if len(args) > 0 {
		if !args[0].Truth() {
			return ""
		}
		path = args[0].String()
	}
	return fmt.Sprintf(`<link rel="icon" href="%s">`, e.urlFor(path))
}

func helperFeedTag(e *evaluator, args []Value) string {
	path := strArg(args, 0, "atom.xml")
	if path == "" {
		return ""
	}
	opts := objArg(args, 1)
	title := optString(opts, "title", e.configString("title", ""))
	typ := "application/atom+xml"
	if optString(opts, "type", "") == "rss" || strings.Contains(path, "rss") {
		typ = "application/rss+xml"
	}
	return fmt.Sprintf(`<link rel="alternate" href="%s" title="%s" type="%s">`, e.urlFor(path), EscapeHTML(title), typ)
}

func helperOpenGraph(e *evaluator, args []Value) string {
	var b strings.Builder
	opts := objArg(args, 0)
	if p := e.page(); p != nil {
		title := optString(opts, "title", optString(p, "title", ""))
		desc := optString(p, "description", "")
		if desc == "" {
			desc = optString(p, "excerpt", "")
		}
		desc = optString(opts, "description", StripHTML(desc))
		permalink := optString(opts, "url", optString(p, "permalink", ""))
		if title != "" {
			fmt.Fprintf(&b, `<meta property="og:title" content="%s">`, EscapeHTML(title))
		}
		if desc = strings.TrimSpace(desc); desc != "" {
			fmt.Fprintf(&b, `<meta property="og:description" content="%s">`, EscapeHTML(Truncate(desc, 200, "")))
		}
		if permalink != "" {
			fmt.Fprintf(&b, `<meta property="og:url" content="%s">`, permalink)
		}
	}
	if site := optString(opts, "site_name", e.configString("title", "")); site != "" {
		fmt.Fprintf(&b, `<meta property="og:site_name" content="%s">`, EscapeHTML(site))
	}
	b.WriteString(`<meta property="og:type" content="website">`)
	if image := optString(opts, "image", ""); image != "" {
		fmt.Fprintf(&b, `<meta property="og:image" content="%s">`, e.fullURLFor(image))
	}
	if id := strings.TrimPrefix(optString(opts, "twitter_id", ""), "@"); id != "" {
		b.WriteString(`<meta name="twitter:card" content="summary">`)
		fmt.Fprintf(&b, `<meta name="twitter:site" content="@%s">`, id)
	}
	return b.String()
}

func helperSearchForm(e *evaluator, args []Value) string {
	opts := objArg(args, 0)
	class := optString(opts, "class", "search-form")
	text := optString(opts, "text", "Search")
	button := optString(opts, "button", "Search")
	site := e.configString("url", "")
	site = strings.TrimPrefix(strings.TrimPrefix(site, "https://"), "http://")
	return fmt.Sprintf(`<form action="//google.com/search" method="get" accept-charset="UTF-8" class="%[1]s">`+
		`<input type="search" name="q" class="%[1]s-input" placeholder="%[2]s">`+
		`<button type="submit" class="%[1]s-submit">%[3]s</button>`+
		`<input type="hidden" name="sitesearch" value="%[4]s"></form>`,
		class, EscapeHTML(text), button, site)
}

func helperGravatar(_ *evaluator, args []Value) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(strArg(args, 0, "")))))
	size := 80
	if o := objArg(args, 1); o != nil {
		size = int(optNumber(o, "s", optNumber(o, "size", 80)))
	} else {
		size = intArg(args, 1, 80)
	}
	return fmt.Sprintf("https://www.gravatar.com/avatar/%s?s=%d", hex.EncodeToString(sum[:]), size)
}

// helperPaginator renders prev/next links and page numbers for
// page.current of page.total. Page 1 links to the base; page N to
// base + pagination_dir + "/N/".
func helperPaginator(e *evaluator, args []Value) string {
	p := e.page()
	opts := objArg(args, 0)
	current := int(optNumber(opts, "current", optNumber(p, "current", 1)))
	total := int(optNumber(opts, "total", optNumber(p, "total", 1)))
	if total <= 1 {
		return ""
	}
	base := optString(opts, "base", optString(p, "base", ""))
	if base == "" {
		base = e.urlFor("")
	} else {
		base = e.urlFor(base)
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	dir := optString(opts, "format", e.configString("pagination_dir", "page")+"/%d/")
	link := func(n int) string {
		if n == 1 {
			return base
		}
		return base + fmt.Sprintf(dir, n)
	}
	prevText := optString(opts, "prev_text", "&laquo; Prev")
	nextText := optString(opts, "next_text", "Next &raquo;")
	if optBool(opts, "escape", false) {
		prevText, nextText = EscapeHTML(prevText), EscapeHTML(nextText)
	}
	midSize := int(optNumber(opts, "mid_size", 2))
	endSize := int(optNumber(opts, "end_size", 1))
	showAll := optBool(opts, "show_all", false)

	var b strings.Builder
	if current > 1 {
		fmt.Fprintf(&b, `<a class="prev" rel="prev" href="%s">%s</a>`, link(current-1), prevText)
	}
	spaced := false
	for i := 1; i <= total; i++ {
		switch {
		case i == current:
			fmt.Fprintf(&b, `<span class="page-number current">%d</span>`, i)
			spaced = false
		case showAll || i <= endSize || i > total-endSize || abs(i-current) <= midSize:
			fmt.Fprintf(&b, `<a class="page-number" href="%s">%d</a>`, link(i), i)
			spaced = false
		case !spaced:
			b.WriteString(`<span class="space">&hellip;</span>`)
			spaced = true
		}
	}
	if current < total {
		fmt.Fprintf(&b, `<a class="next" rel="next" href="%s">%s</a>`, link(current+1), nextText)
	}
	return b.String()
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

type term struct {
	name  string
	count int
	path  string
}

var termOptionKeys = []string{"show_count", "class", "style", "separator", "orderby", "order", "amount", "min_font", "max_font", "unit", "transform", "suffix"}

// termArgs splits helper arguments into an optional explicit term
// collection and the options object.
func termArgs(args []Value) (Value, *ObjectValue) {
	if len(args) == 0 {
		return nil, nil
	}
	if o, ok := args[0].(*ObjectValue); ok {
		for _, k := range termOptionKeys {
			if _, has := o.Get(k); has {
				return nil, o
			}
		}
		if o.Len() == 0 {
			return nil, o
		}
	}
	return args[0], objArg(args, 1)
}

// collectTerms reads categories or tags given either as name → count
// (or name → posts) or as an array of {name, count|length|posts, path}.
func collectTerms(v Value) []term {
	var out []term
	count := func(v Value) int {
		switch x := v.(type) {
		case NumberValue:
			return int(x)
		case ArrayValue:
			return len(x)
		case *ObjectValue:
			for _, k := range []string{"count", "length"} {
				if n, ok := x.Get(k); ok {
					f, _ := ToNumber(n)
					return int(f)
				}
			}
			return Len(Property(x, "posts"))
		}
		return 1
	}
	switch x := v.(type) {
	case *ObjectValue:
		for _, k := range x.Keys() {
			item, _ := x.Get(k)
			out = append(out, term{name: k, count: count(item), path: Property(item, "path").String()})
		}
	case ArrayValue:
		for _, item := range x {
			if s, ok := item.(StringValue); ok {
				out = append(out, term{name: string(s), count: 1})
				continue
			}
			name := Property(item, "name").String()
			if name == "" {
				continue
			}
			out = append(out, term{name: name, count: count(item), path: Property(item, "path").String()})
		}
	}
	return out
}

func (e *evaluator) siteTerms(key string) []term {
	site, _ := e.ctx.Get("site")
	return collectTerms(Property(orNull(site), key))
}

func sortTerms(terms []term, opts *ObjectValue) []term {
	orderby := optString(opts, "orderby", "name")
	desc := optNumber(opts, "order", 1) < 0
	sort.SliceStable(terms, func(i, j int) bool {
		a, b := terms[i], terms[j]
		var less bool
		if orderby == "count" || orderby == "length" {
			less = a.count < b.count
			if a.count == b.count {
				return a.name < b.name
			}
		} else {
			less = a.name < b.name
		}
		if desc {
			return !less
		}
		return less
	})
	if amount := int(optNumber(opts, "amount", 0)); amount > 0 && amount < len(terms) {
		terms = terms[:amount]
	}
	return terms
}

func (e *evaluator) termURL(t term, dirKey, dirDefault string) string {
	if t.path != "" {
		return e.urlFor(t.path)
	}
	return e.urlFor(e.configString(dirKey, dirDefault) + "/" + Slugify(t.name) + "/")
}

// listTerms implements list_categories and list_tags.
func (e *evaluator) listTerms(args []Value, key, class string) string {
	explicit, opts := termArgs(args)
	terms := e.siteTerms(key)
	if explicit != nil {
		terms = collectTerms(explicit)
	}
	if len(terms) == 0 {
		return ""
	}
	terms = sortTerms(terms, opts)
	class = optString(opts, "class", class)
	showCount := optBool(opts, "show_count", true)
	dirKey, dirDefault := "tag_dir", "tags"
	if key == "categories" {
		dirKey, dirDefault = "category_dir", "categories"
	}
	label := func(name string) string {
		if optString(opts, "transform", "") == "titlecase" || e.configString("titlecase", "") == "true" {
			return titleCase(name)
		}
		return name
	}

	var b strings.Builder
	if optString(opts, "style", "list") != "list" {
		sep := optString(opts, "separator", ", ")
		for i, t := range terms {
			if i > 0 {
				b.WriteString(sep)
			}
			fmt.Fprintf(&b, `<a class="%s-link" href="%s">%s`, class, e.termURL(t, dirKey, dirDefault), label(t.name))
			if showCount {
				fmt.Fprintf(&b, `<span class="%s-count">%d</span>`, class, t.count)
			}
			b.WriteString("</a>")
		}
		return b.String()
	}
	fmt.Fprintf(&b, `<ul class="%s-list">`, class)
	for _, t := range terms {
		fmt.Fprintf(&b, `<li class="%[1]s-list-item"><a class="%[1]s-list-link" href="%[2]s">%[3]s</a>`, class, e.termURL(t, dirKey, dirDefault), label(t.name))
		if showCount {
			fmt.Fprintf(&b, `<span class="%s-list-count">%d</span>`, class, t.count)
		}
		b.WriteString("</li>")
	}
	b.WriteString("</ul>")
	return b.String()
}

func (e *evaluator) sitePosts(args []Value) (ArrayValue, *ObjectValue) {
	if len(args) > 0 {
		if arr, ok := args[0].(ArrayValue); ok {
			return arr, objArg(args, 1)
		}
	}
	site, _ := e.ctx.Get("site")
	posts, _ := Property(orNull(site), "posts").(ArrayValue)
	return posts, objArg(args, 0)
}

func helperListArchives(e *evaluator, args []Value) string {
	posts, opts := e.sitePosts(args)
	yearly := optString(opts, "type", "monthly") == "yearly"
	format := optString(opts, "format", "MMMM YYYY")
	if yearly {
		format = optString(opts, "format", "YYYY")
	}
	class := optString(opts, "class", "archive")
	showCount := optBool(opts, "show_count", true)

	type bucket struct {
		key   string
		when  time.Time
		count int
	}
	index := map[string]*bucket{}
	var buckets []*bucket
	for _, p := range posts {
		t, ok := parseDate(Property(p, "date"), e.location())
		if !ok {
			continue
		}
		key := fmt.Sprintf("%04d/%02d", t.Year(), int(t.Month()))
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
		if yearly {
			key = strconv.Itoa(t.Year())
			start = time.Date(t.Year(), 1, 1, 0, 0, 0, 0, t.Location())
		}
		bk, ok := index[key]
		if !ok {
			bk = &bucket{key: key, when: start}
			index[key] = bk
			buckets = append(buckets, bk)
		}
		bk.count++
	}
	if len(buckets) == 0 {
		return ""
	}
	asc := optNumber(opts, "order", -1) > 0
	sort.Slice(buckets, func(i, j int) bool {
		if asc {
			return buckets[i].key < buckets[j].key
		}
		return buckets[i].key > buckets[j].key
	})

	dir := e.configString("archive_dir", "archives")
	var b strings.Builder
	fmt.Fprintf(&b, `<ul class="%s-list">`, class)
	for _, bk := range buckets {
		fmt.Fprintf(&b, `<li class="%[1]s-list-item"><a class="%[1]s-list-link" href="%[2]s">%[3]s</a>`,
			class, e.urlFor(dir+"/"+bk.key+"/"), formatMoment(bk.when, format, e.dateLocale()))
		if showCount {
			fmt.Fprintf(&b, `<span class="%s-list-count">%d</span>`, class, bk.count)
		}
		b.WriteString("</li>")
	}
	b.WriteString("</ul>")
	return b.String()
}

func helperListPosts(e *evaluator, args []Value) string {
	posts, opts := e.sitePosts(args)
	if len(posts) == 0 {
		return ""
	}
	orderby := optString(opts, "orderby", "date")
	order := optNumber(opts, "order", -1)
	sorted, _ := sortArray(posts, []Value{StringValue(orderby), NumberValue(order)}).(ArrayValue)
	if amount := int(optNumber(opts, "amount", 6)); amount > 0 && amount < len(sorted) {
		sorted = sorted[:amount]
	}
	class := optString(opts, "class", "post")
	var b strings.Builder
	fmt.Fprintf(&b, `<ul class="%s-list">`, class)
	for _, p := range sorted {
		href := Property(p, "path").String()
		if href == "" {
			href = Property(p, "permalink").String()
		}
		title := Property(p, "title").String()
		if title == "" {
			title = "(no title)"
		}
		fmt.Fprintf(&b, `<li class="%[1]s-list-item"><a class="%[1]s-list-link" href="%[2]s">%[3]s</a></li>`, class, e.urlFor(href), title)
	}
	b.WriteString("</ul>")
	return b.String()
}

func helperTagcloud(e *evaluator, args []Value) string {
	explicit, opts := termArgs(args)
	terms := e.siteTerms("tags")
	if explicit != nil {
		terms = collectTerms(explicit)
	}
	if len(terms) == 0 {
		return ""
	}
	terms = sortTerms(terms, opts)
	minFont := optNumber(opts, "min_font", 10)
	maxFont := optNumber(opts, "max_font", 20)
	unit := optString(opts, "unit", "px")

	lo, hi := math.MaxInt, 0
	for _, t := range terms {
		lo = min(lo, t.count)
		hi = max(hi, t.count)
	}
	spread := math.Max(1, float64(hi-lo))

	var b strings.Builder
	b.WriteString(`<div class="tagcloud">`)
	for _, t := range terms {
		size := minFont + float64(t.count-lo)/spread*(maxFont-minFont)
		fmt.Fprintf(&b, `<a href="%s" style="font-size: %.2f%s;">%s</a> `, e.termURL(t, "tag_dir", "tags"), size, unit, t.name)
	}
	b.WriteString("</div>")
	return b.String()
}

// helperTOC builds a nested list from the <h1>..<hN> headings of an HTML
// fragment.
func helperTOC(_ *evaluator, args []Value) string {
	content := strArg(args, 0, "")
	maxDepth := 6
	if o := objArg(args, 1); o != nil {
		maxDepth = int(optNumber(o, "max_depth", 6))
	}
	var b strings.Builder
	b.WriteString(`<ol class="toc">`)
	level := 0
	for i := 0; i < len(content); {
		start := strings.Index(content[i:], "<h")
		if start < 0 {
			break
		}
		start += i
		if start+2 >= len(content) || !isDigit(content[start+2]) {
			i = start + 2
			continue
		}
		n := int(content[start+2] - '0')
		open := strings.IndexByte(content[start:], '>')
		closeTag := fmt.Sprintf("</h%d>", n)
		end := strings.Index(content[start:], closeTag)
		if n < 1 || n > maxDepth || open < 0 || end < 0 || end < open {
			i = start + 2
			continue
		}
		tag := content[start : start+open]
		heading := StripHTML(content[start+open+1 : start+end])
		id := Slugify(heading)
		if k := strings.Index(tag, `id="`); k >= 0 {
			if q := strings.IndexByte(tag[k+4:], '"'); q >= 0 {
				id = tag[k+4 : k+4+q]
			}
		}
		for ; level < n; level++ {
			b.WriteString("<ol>")
		}
		for ; level > n; level-- {
			b.WriteString("</ol>")
		}
		fmt.Fprintf(&b, `<li class="toc-item toc-level-%d"><a class="toc-link" href="#%s"><span class="toc-text">%s</span></a></li>`, n, id, heading)
		i = start + end + len(closeTag)
	}
	for ; level > 0; level-- {
		b.WriteString("</ol>")
	}
	b.WriteString("</ol>")
	return b.String()
}
