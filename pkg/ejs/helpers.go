package ejs

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type helperFunc func(e *evaluator, args []Value) (Value, error)

// helpers is the native helper catalog, keyed by the name templates call.
// Namespaced globals use their dotted name ("Math.floor").
var helpers = map[string]helperFunc{}

func init() {
	register := func(fn helperFunc, names ...string) {
		for _, n := range names {
			helpers[n] = fn
		}
	}
	str := func(fn func(e *evaluator, args []Value) string) helperFunc {
		return func(e *evaluator, args []Value) (Value, error) {
			return StringValue(fn(e, args)), nil
		}
	}

	register(helperPartial, "partial")

	register(str(func(e *evaluator, args []Value) string { return e.urlFor(strArg(args, 0, "")) }), "url_for")
	register(str(func(e *evaluator, args []Value) string { return e.fullURLFor(strArg(args, 0, "")) }), "full_url_for")
	register(str(func(e *evaluator, args []Value) string {
		return relativeURL(strArg(args, 0, ""), strArg(args, 1, ""))
	}), "relative_url")
	register(str(helperCSS), "css")
	register(str(helperJS), "js")
	register(str(helperLinkTo), "link_to")
	register(str(helperMailTo), "mail_to")
	register(str(helperImageTag), "image_tag")
	register(str(helperFavicon), "favicon_tag")
	register(str(helperFeedTag), "feed_tag")
	register(str(helperOpenGraph), "open_graph")
	register(str(func(*evaluator, []Value) string {
		return `<meta name="generator" content="hexgo">`
	}), "meta_generator")
	register(str(helperSearchForm), "search_form")
	register(str(helperGravatar), "gravatar")

	register(str(helperTranslate), "__", "_t", "t")
	register(str(helperPlural), "_p")

	register(str(helperDate), "date")
	register(str(helperTime), "time")
	register(str(helperFullDate), "full_date")
	register(str(helperDateXML), "date_xml")
	register(str(helperTimeTag), "time_tag")
	register(str(helperRelativeDate), "relative_date")

	register(str(helperPaginator), "paginator")
	register(str(func(e *evaluator, args []Value) string { return e.listTerms(args, "categories", "category") }), "list_categories")
	register(str(func(e *evaluator, args []Value) string { return e.listTerms(args, "tags", "tag") }), "list_tags")
	register(str(helperListArchives), "list_archives")
	register(str(helperListPosts), "list_posts")
	register(str(helperTagcloud), "tagcloud", "tag_cloud")
	register(str(helperTOC), "toc")

	register(str(func(_ *evaluator, args []Value) string { return StripHTML(strArg(args, 0, "")) }), "strip_html", "stripHTML")
	register(str(helperTruncate), "truncate")
	register(str(func(_ *evaluator, args []Value) string { return strings.TrimSpace(strArg(args, 0, "")) }), "trim")
	register(str(func(_ *evaluator, args []Value) string { return EscapeHTML(strArg(args, 0, "")) }), "escape_html", "escapeHTML")
	register(str(func(_ *evaluator, args []Value) string { return titleCase(strArg(args, 0, "")) }), "titlecase")
	register(str(func(_ *evaluator, args []Value) string { return Slugify(strArg(args, 0, "")) }), "slugize")
	register(str(func(_ *evaluator, args []Value) string { return wordWrap(strArg(args, 0, ""), intArg(args, 1, 80)) }), "word_wrap")
	register(func(_ *evaluator, args []Value) (Value, error) {
		return NumberValue(wordCount(strArg(args, 0, ""))), nil
	}, "word_count", "wordcount")
	register(helperMin2Read, "min2read")
	register(str(func(_ *evaluator, args []Value) string {
		n, _ := ToNumber(orNull(firstArg(args)))
		return groupThousands(n)
	}), "number_format")

	register(pagePredicate(isHome), "is_home")
	register(pagePredicate(func(_ *evaluator, p *ObjectValue) bool {
		if layout := optString(p, "layout", ""); layout != "" {
			return layout == "post"
		}
		_, hasPosts := Property(p, "posts").(ArrayValue)
		return Property(p, "content").Truth() && !hasPosts
	}), "is_post")
	register(pagePredicate(func(_ *evaluator, p *ObjectValue) bool { return optString(p, "layout", "") == "page" }), "is_page")
	register(pagePredicate(pageFlag("archive")), "is_archive")
	register(pagePredicate(pageFlag("category")), "is_category")
	register(pagePredicate(pageFlag("tag")), "is_tag")
	register(pagePredicate(func(e *evaluator, p *ObjectValue) bool {
		return pageFlag("archive")(e, p) && Property(p, "year").Truth() && !Property(p, "month").Truth()
	}), "is_year")
	register(pagePredicate(func(e *evaluator, p *ObjectValue) bool {
		return pageFlag("archive")(e, p) && Property(p, "month").Truth()
	}), "is_month")
	register(helperIsCurrent, "is_current")

	registerGlobals(register)
}

// HelperNames lists the native helper catalog.
func HelperNames() []string {
	names := make([]string, 0, len(helpers))
	for n := range helpers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func firstArg(args []Value) Value {
	if len(args) == 0 {
		return Null
	}
	return args[0]
}

func objArg(args []Value, i int) *ObjectValue {
	if i >= len(args) {
		return nil
	}
	o, _ := args[i].(*ObjectValue)
	return o
}

func optString(o *ObjectValue, key, def string) string {
	if v, ok := o.Get(key); ok {
		if _, null := v.(NullValue); !null {
			return v.String()
		}
	}
	return def
}

func optNumber(o *ObjectValue, key string, def float64) float64 {
	if v, ok := o.Get(key); ok {
		if n, ok := ToNumber(v); ok && !math.IsNaN(n) {
			if _, null := v.(NullValue); !null {
				return n
			}
		}
	}
	return def
}

func optBool(o *ObjectValue, key string, def bool) bool {
	if v, ok := o.Get(key); ok {
		if _, null := v.(NullValue); !null {
			return v.Truth()
		}
	}
	return def
}

func helperPartial(e *evaluator, args []Value) (Value, error) {
	if len(args) == 0 {
		return StringValue(""), nil
	}
	out, err := e.r.RenderPartial(e.ctx, args[0].String(), objArg(args, 1), e.depth)
	if err != nil {
		e.logger().Warn("partial failed", "partial", args[0].String(), "template", e.tpl.Name, "error", err)
		return StringValue(""), nil
	}
	return StringValue(out), nil
}

func helperTranslate(e *evaluator, args []Value) string {
	key := strArg(args, 0, "")
	text := key
	table, _ := e.ctx.Get("__")
	if obj, ok := table.(*ObjectValue); ok {
		if v, ok := obj.Get(key); ok && v.Truth() {
			text = v.String()
		}
	}
	if len(args) > 1 {
		text = substitute(text, args[1:])
	}
	return text
}

// helperPlural picks key.zero, key.one or key.other by count.
func helperPlural(e *evaluator, args []Value) string {
	key := strArg(args, 0, "")
	n := 0.0
	if len(args) > 1 {
		n, _ = ToNumber(args[1])
	}
	table, _ := e.ctx.Get("__")
	obj, _ := table.(*ObjectValue)
	form := "other"
	switch n {
	case 0:
		form = "zero"
	case 1:
		form = "one"
	}
	text := key
	for _, k := range []string{key + "." + form, key + ".other", key} {
		if v, ok := obj.Get(k); ok && v.Truth() {
			text = v.String()
			break
		}
	}
	return substitute(text, args[1:])
}

// substitute replaces %s and %d placeholders in order.
func substitute(text string, args []Value) string {
	var b strings.Builder
	next := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '%' && i+1 < len(text) && (text[i+1] == 's' || text[i+1] == 'd') && next < len(args) {
			b.WriteString(args[next].String())
			next++
			i++
			continue
		}
		b.WriteByte(text[i])
	}
	return b.String()
}

func (e *evaluator) dateLocale() string {
	return e.configString("language", "en")
}

func helperDate(e *evaluator, args []Value) string {
	t, ok := e.dateArg(args, 0)
	if !ok {
		return strArg(args, 0, "")
	}
	return formatMoment(t, strArg(args, 1, e.configString("date_format", DefaultDateFormat)), e.dateLocale())
}

func helperTime(e *evaluator, args []Value) string {
	t, ok := e.dateArg(args, 0)
	if !ok {
		return strArg(args, 0, "")
	}
	return formatMoment(t, strArg(args, 1, e.configString("time_format", "HH:mm:ss")), e.dateLocale())
}

func helperFullDate(e *evaluator, args []Value) string {
	t, ok := e.dateArg(args, 0)
	if !ok {
		return strArg(args, 0, "")
	}
	def := e.configString("date_format", DefaultDateFormat) + " " + e.configString("time_format", "HH:mm:ss")
	return formatMoment(t, strArg(args, 1, def), e.dateLocale())
}

func helperDateXML(e *evaluator, args []Value) string {
	t, ok := e.dateArg(args, 0)
	if !ok {
		return strArg(args, 0, "")
	}
	return t.Format(time.RFC3339)
}

func helperTimeTag(e *evaluator, args []Value) string {
	t, ok := e.dateArg(args, 0)
	if !ok {
		return strArg(args, 0, "")
	}
	text := formatMoment(t, strArg(args, 1, e.configString("date_format", DefaultDateFormat)), e.dateLocale())
	return fmt.Sprintf(`<time datetime="%s">%s</time>`, t.Format(time.RFC3339), text)
}

func helperRelativeDate(e *evaluator, args []Value) string {
	t, ok := e.dateArg(args, 0)
	if !ok {
		return strArg(args, 0, "")
	}
	return relativeTime(t, e.now())
}

func helperTruncate(_ *evaluator, args []Value) string {
	s := strArg(args, 0, "")
	length, omission := 100, "..."
	if o := objArg(args, 1); o != nil {
		length = int(optNumber(o, "length", 100))
		omission = optString(o, "omission", omission)
	} else {
		length = intArg(args, 1, 100)
	}
	return Truncate(s, length, omission)
}

// Truncate shortens s to length characters, ending with omission.
func Truncate(s string, length int, omission string) string {
	r := []rune(s)
	if len(r) <= length {
		return s
	}
	keep := max(0, length-len([]rune(omission)))
	return strings.TrimRightFunc(string(r[:keep]), unicode.IsSpace) + omission
}

// StripHTML removes everything between '<' and '>'.
func StripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&#39;")

// EscapeHTML escapes & < > " and '.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}

// Slugify lower-cases s and joins its words with '-'. Letters outside
// ASCII are kept.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

func wordWrap(s string, width int) string {
	var b strings.Builder
	line := 0
	for _, word := range strings.Fields(s) {
		n := len([]rune(word))
		switch {
		case b.Len() == 0:
		case line+n+1 > width:
			b.WriteByte('\n')
			line = 0
		default:
			b.WriteByte(' ')
			line++
		}
		b.WriteString(word)
		line += n
	}
	return b.String()
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// countWords counts CJK characters and whitespace-separated words apart.
func countWords(s string) (cjk, words int) {
	s = StripHTML(s)
	inWord := false
	for _, r := range s {
		switch {
		case isCJK(r):
			cjk++
			inWord = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inWord {
				words++
			}
			inWord = true
		default:
			inWord = false
		}
	}
	return cjk, words
}

func wordCount(s string) int {
	cjk, words := countWords(s)
	return cjk + words
}

func helperMin2Read(_ *evaluator, args []Value) (Value, error) {
	cjk, words := countWords(strArg(args, 0, ""))
	cn, en := 300.0, 160.0
	if o := objArg(args, 1); o != nil {
		cn = optNumber(o, "cn", cn)
		en = optNumber(o, "en", en)
	}
	minutes := math.Ceil(float64(cjk)/cn + float64(words)/en)
	return NumberValue(max(1, minutes)), nil
}

func pagePredicate(fn func(e *evaluator, p *ObjectValue) bool) helperFunc {
	return func(e *evaluator, _ []Value) (Value, error) {
		p := e.page()
		if p == nil {
			return BoolValue(false), nil
		}
		return BoolValue(fn(e, p)), nil
	}
}

func pageFlag(name string) func(*evaluator, *ObjectValue) bool {
	return func(_ *evaluator, p *ObjectValue) bool {
		return Property(p, name).Truth()
	}
}

func isHome(_ *evaluator, p *ObjectValue) bool {
	if v, ok := p.Get("is_home"); ok {
		return v.Truth()
	}
	if Property(p, "archive").Truth() || Property(p, "category").Truth() || Property(p, "tag").Truth() {
		return false
	}
	if layout := optString(p, "layout", ""); layout != "" && layout != "index" {
		return false
	}
	current := optNumber(p, "current", 1)
	return current == 1
}

func helperIsCurrent(e *evaluator, args []Value) (Value, error) {
	target := strings.Trim(strArg(args, 0, ""), "/")
	current := ""
	if v, ok := e.ctx.Get("path"); ok {
		current = v.String()
	}
	if current == "" {
		if p := e.page(); p != nil {
			current = optString(p, "path", "")
		}
	}
	current = strings.TrimSuffix(strings.Trim(current, "/"), "index.html")
	current = strings.Trim(current, "/")
	if len(args) > 1 && args[1].Truth() {
		return BoolValue(current == target), nil
	}
	return BoolValue(strings.HasPrefix(current, target)), nil
}

// registerGlobals installs the JavaScript globals templates commonly use.
func registerGlobals(register func(helperFunc, ...string)) {
	num := func(fn func(float64) float64) helperFunc {
		return func(_ *evaluator, args []Value) (Value, error) {
			n, _ := ToNumber(orNull(firstArg(args)))
			return NumberValue(fn(n)), nil
		}
	}
	register(num(math.Floor), "Math.floor")
	register(num(math.Ceil), "Math.ceil")
	register(num(func(f float64) float64 { return math.Floor(f + 0.5) }), "Math.round")
	register(num(math.Abs), "Math.abs")
	register(num(math.Sqrt), "Math.sqrt")
	register(num(math.Trunc), "Math.trunc")
	register(func(_ *evaluator, args []Value) (Value, error) {
		return NumberValue(foldNumbers(args, math.Inf(-1), math.Max)), nil
	}, "Math.max")
	register(func(_ *evaluator, args []Value) (Value, error) {
		return NumberValue(foldNumbers(args, math.Inf(1), math.Min)), nil
	}, "Math.min")
	register(func(_ *evaluator, args []Value) (Value, error) {
		x, _ := ToNumber(orNull(firstArg(args)))
		y := 0.0
		if len(args) > 1 {
			y, _ = ToNumber(args[1])
		}
		return NumberValue(math.Pow(x, y)), nil
	}, "Math.pow")
	register(func(*evaluator, []Value) (Value, error) { return NumberValue(0.5), nil }, "Math.random")

	register(func(_ *evaluator, args []Value) (Value, error) {
		return StringValue(ToJSON(firstArg(args))), nil
	}, "JSON.stringify")
	register(func(_ *evaluator, args []Value) (Value, error) {
		v, err := ParseJSON([]byte(strArg(args, 0, "")))
		if err != nil {
			return Null, nil
		}
		return v, nil
	}, "JSON.parse")

	register(func(_ *evaluator, args []Value) (Value, error) {
		out := ArrayValue{}
		switch x := firstArg(args).(type) {
		case *ObjectValue:
			for _, k := range x.Keys() {
				out = append(out, StringValue(k))
			}
		case ArrayValue:
			for i := range x {
				out = append(out, StringValue(strconv.Itoa(i)))
			}
		}
		return out, nil
	}, "Object.keys")
	register(func(_ *evaluator, args []Value) (Value, error) {
		out := ArrayValue{}
		if o, ok := firstArg(args).(*ObjectValue); ok {
			for _, k := range o.Keys() {
				v, _ := o.Get(k)
				out = append(out, v)
			}
		}
		return out, nil
	}, "Object.values")
	register(func(_ *evaluator, args []Value) (Value, error) {
		out := ArrayValue{}
		if o, ok := firstArg(args).(*ObjectValue); ok {
			for _, k := range o.Keys() {
				v, _ := o.Get(k)
				out = append(out, ArrayValue{StringValue(k), v})
			}
		}
		return out, nil
	}, "Object.entries")
	register(func(_ *evaluator, args []Value) (Value, error) {
		out := NewObject()
		for _, a := range args {
			if o, ok := a.(*ObjectValue); ok {
				for _, k := range o.Keys() {
					v, _ := o.Get(k)
					out.Set(k, v)
				}
			}
		}
		return out, nil
	}, "Object.assign")

	register(func(_ *evaluator, args []Value) (Value, error) {
		_, ok := firstArg(args).(ArrayValue)
		return BoolValue(ok), nil
	}, "Array.isArray")
	register(func(_ *evaluator, args []Value) (Value, error) {
		switch x := firstArg(args).(type) {
		case ArrayValue:
			return append(ArrayValue{}, x...), nil
		case StringValue:
			out := ArrayValue{}
			for _, r := range string(x) {
				out = append(out, StringValue(string(r)))
			}
			return out, nil
		}
		return ArrayValue{}, nil
	}, "Array.from")

	register(func(e *evaluator, _ []Value) (Value, error) {
		return NumberValue(e.now().UnixMilli()), nil
	}, "Date.now")
	register(func(e *evaluator, args []Value) (Value, error) {
		t, ok := parseDate(firstArg(args), e.location())
		if !ok {
			return NumberValue(math.NaN()), nil
		}
		return NumberValue(t.UnixMilli()), nil
	}, "Date.parse")
	register(func(e *evaluator, args []Value) (Value, error) {
		e.logger().Debug("console.log", "template", e.tpl.Name, "args", ToJSON(ArrayValue(args)))
		return StringValue(""), nil
	}, "console.log", "console.warn", "console.error", "console.info")

	register(func(_ *evaluator, args []Value) (Value, error) {
		s := strings.TrimSpace(strArg(args, 0, ""))
		base := intArg(args, 1, 10)
		if base < 2 || base > 36 {
			base = 10
		}
		if base == 16 || strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
			base = 16
		}
		end := 0
		if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
			end = 1
		}
		for end < len(s) && strings.IndexByte("0123456789abcdefghijklmnopqrstuvwxyz"[:base], lower(s[end])) >= 0 {
			end++
		}
		n, err := strconv.ParseInt(s[:end], base, 64)
		if err != nil {
			return NumberValue(math.NaN()), nil
		}
		return NumberValue(n), nil
	}, "parseInt", "Number.parseInt")
	register(func(_ *evaluator, args []Value) (Value, error) {
		s := strings.TrimSpace(strArg(args, 0, ""))
		if s == "" || !(isDigit(s[0]) || s[0] == '.' || s[0] == '-' || s[0] == '+') {
			return NumberValue(math.NaN()), nil
		}
		start := 0
		if s[0] == '-' || s[0] == '+' {
			start = 1
		}
		n, end := scanNumber(s[start:])
		if end == 0 {
			return NumberValue(math.NaN()), nil
		}
		if s[0] == '-' {
			n = -n
		}
		return NumberValue(n), nil
	}, "parseFloat", "Number.parseFloat")
	register(func(_ *evaluator, args []Value) (Value, error) {
		return StringValue(orNull(firstArg(args)).String()), nil
	}, "String")
	register(func(_ *evaluator, args []Value) (Value, error) {
		n, _ := ToNumber(orNull(firstArg(args)))
		return NumberValue(n), nil
	}, "Number")
	register(func(_ *evaluator, args []Value) (Value, error) {
		return BoolValue(orNull(firstArg(args)).Truth()), nil
	}, "Boolean")
	register(func(_ *evaluator, args []Value) (Value, error) {
		n, ok := ToNumber(orNull(firstArg(args)))
		return BoolValue(!ok || math.IsNaN(n)), nil
	}, "isNaN", "Number.isNaN")
	register(func(_ *evaluator, args []Value) (Value, error) {
		n, ok := firstArg(args).(NumberValue)
		return BoolValue(ok && n == NumberValue(math.Trunc(float64(n)))), nil
	}, "Number.isInteger")
	register(func(_ *evaluator, args []Value) (Value, error) {
		return StringValue(encodeURIComponent(strArg(args, 0, ""))), nil
	}, "encodeURIComponent")
	register(func(_ *evaluator, args []Value) (Value, error) {
		return StringValue(encodeURI(strArg(args, 0, ""))), nil
	}, "encodeURI")
	register(func(_ *evaluator, args []Value) (Value, error) {
		s, err := url.PathUnescape(strArg(args, 0, ""))
		if err != nil {
			return StringValue(strArg(args, 0, "")), nil
		}
		return StringValue(s), nil
	}, "decodeURIComponent", "decodeURI")
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}

func foldNumbers(args []Value, init float64, fn func(a, b float64) float64) float64 {
	acc := init
	for _, a := range args {
		if arr, ok := a.(ArrayValue); ok {
			acc = fn(acc, foldNumbers(arr, init, fn))
			continue
		}
		n, ok := ToNumber(a)
		if !ok {
			return math.NaN()
		}
		acc = fn(acc, n)
	}
	return acc
}

func encodeWith(s, keep string) string {
	var b strings.Builder
	for _, c := range []byte(s) {
		if c < 0x80 && (isIdentChar(c) && c != '$' || strings.IndexByte(keep, c) >= 0) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func encodeURIComponent(s string) string { return encodeWith(s, "-.!~*'()") }

func encodeURI(s string) string { return encodeWith(s, "-.!~*'();/?:@&=+$,#") }
