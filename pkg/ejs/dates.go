package ejs

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// DefaultDateFormat is used when neither the call nor config.date_format
// names a format.
const DefaultDateFormat = "YYYY-MM-DD"

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05Z0700",
	time.RFC1123Z,
	time.RFC1123,
}

// Layouts without a zone are read in the configured location.
var localDateLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"2006-01",
}

// parseDate reads a date from a string in one of the accepted layouts or
// from a number of milliseconds since the epoch.
func parseDate(v Value, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	switch x := orNull(v).(type) {
	case NumberValue:
		if math.IsNaN(float64(x)) {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(x)).In(loc), true
	case StringValue:
		s := strings.TrimSpace(string(x))
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		for _, layout := range localDateLayouts {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// location returns config.timezone, or the local zone.
func (e *evaluator) location() *time.Location {
	if tz := e.configString("timezone", ""); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
		e.logger().Debug("unknown timezone", "timezone", tz)
	}
	return time.Local
}

func (e *evaluator) now() time.Time {
	if e.r.Now != nil {
		return e.r.Now().In(e.location())
	}
	return time.Now().In(e.location())
}

// dateArg resolves the date argument of a helper: a date value, or now
// when the argument is missing.
func (e *evaluator) dateArg(args []Value, i int) (time.Time, bool) {
	if i >= len(args) {
		return e.now(), true
	}
	if _, null := args[i].(NullValue); null {
		return e.now(), true
	}
	return parseDate(args[i], e.location())
}

// dateState is a moment() or new Date() value in the middle of a method
// chain. It collapses to an RFC 3339 string when the chain ends.
type dateState struct {
	t      time.Time
	locale string
	valid  bool
}

func (d *dateState) value() Value {
	if !d.valid {
		return StringValue("Invalid date")
	}
	return StringValue(d.t.Format(time.RFC3339))
}

func (e *evaluator) newDate(args []Value) *dateState {
	locale := e.configString("language", "en")
	if len(args) == 0 {
		return &dateState{t: e.now(), locale: locale, valid: true}
	}
	if len(args) >= 3 {
		var parts [6]int
		for i := 0; i < len(args) && i < 6; i++ {
			n, _ := ToNumber(args[i])
			parts[i] = int(n)
		}
		t := time.Date(parts[0], time.Month(parts[1]+1), parts[2], parts[3], parts[4], parts[5], 0, e.location())
		return &dateState{t: t, locale: locale, valid: true}
	}
	t, ok := parseDate(args[0], e.location())
	return &dateState{t: t, locale: locale, valid: ok}
}

// dateMethod applies one chained call. A nil state in the result ends the
// chain with the returned value.
func (e *evaluator) dateMethod(d *dateState, name string, args []Value) (Value, *dateState) {
	arg := func(i int) string {
		if i < len(args) {
			return args[i].String()
		}
		return ""
	}
	num := func(i int) float64 {
		if i < len(args) {
			n, _ := ToNumber(args[i])
			return n
		}
		return 0
	}
	if !d.valid && name != "isValid" && name != "format" {
		return Null, nil
	}
	switch name {
	case "tz":
		if loc, err := time.LoadLocation(arg(0)); err == nil {
			d.t = d.t.In(loc)
		}
		return nil, d
	case "locale", "lang":
		if len(args) == 0 {
			return StringValue(d.locale), nil
		}
		d.locale = arg(0)
		return nil, d
	case "utc":
		d.t = d.t.UTC()
		return nil, d
	case "local":
		d.t = d.t.In(e.location())
		return nil, d
	case "clone":
		c := *d
		return nil, &c
	case "add", "subtract":
		n := int(num(0))
		if name == "subtract" {
			n = -n
		}
		d.t = addUnit(d.t, n, arg(1))
		return nil, d
	case "startOf":
		d.t = startOf(d.t, arg(0))
		return nil, d
	case "format":
		if !d.valid {
			return StringValue("Invalid date"), nil
		}
		f := arg(0)
		if f == "" {
			f = "YYYY-MM-DDTHH:mm:ssZ"
		}
		return StringValue(formatMoment(d.t, f, d.locale)), nil
	case "toISOString", "toJSON":
		return StringValue(d.t.UTC().Format("2006-01-02T15:04:05.000Z")), nil
	case "toString":
		return StringValue(d.t.Format("Mon Jan 02 2006 15:04:05 GMT-0700")), nil
	case "toDateString":
		return StringValue(d.t.Format("Mon Jan 02 2006")), nil
	case "toLocaleDateString":
		return StringValue(formatMoment(d.t, "YYYY/M/D", d.locale)), nil
	case "valueOf", "getTime":
		return NumberValue(d.t.UnixMilli()), nil
	case "unix":
		return NumberValue(d.t.Unix()), nil
	case "isValid":
		return BoolValue(d.valid), nil
	case "year", "getFullYear":
		return NumberValue(d.t.Year()), nil
	case "month", "getMonth":
		return NumberValue(d.t.Month() - 1), nil
	case "date", "getDate":
		return NumberValue(d.t.Day()), nil
	case "day", "getDay":
		return NumberValue(d.t.Weekday()), nil
	case "hour", "hours", "getHours":
		return NumberValue(d.t.Hour()), nil
	case "minute", "minutes", "getMinutes":
		return NumberValue(d.t.Minute()), nil
	case "second", "seconds", "getSeconds":
		return NumberValue(d.t.Second()), nil
	case "fromNow":
		return StringValue(relativeTime(d.t, e.now())), nil
	case "isBefore", "isAfter", "isSame":
		other := e.now()
		if len(args) > 0 {
			t, ok := parseDate(args[0], e.location())
			if !ok {
				return BoolValue(false), nil
			}
			other = t
		}
		switch name {
		case "isBefore":
			return BoolValue(d.t.Before(other)), nil
		case "isAfter":
			return BoolValue(d.t.After(other)), nil
		}
		return BoolValue(d.t.Equal(other)), nil
	}
	e.logger().Debug("unknown date method", "method", name)
	return Null, nil
}

func addUnit(t time.Time, n int, unit string) time.Time {
	switch strings.TrimSuffix(unit, "s") {
	case "y", "year":
		return t.AddDate(n, 0, 0)
	case "M", "month":
		return t.AddDate(0, n, 0)
	case "w", "week":
		return t.AddDate(0, 0, 7*n)
	case "d", "day":
		return t.AddDate(0, 0, n)
	case "h", "hour":
		return t.Add(time.Duration(n) * time.Hour)
	case "m", "minute":
		return t.Add(time.Duration(n) * time.Minute)
	case "", "second":
		return t.Add(time.Duration(n) * time.Second)
	}
	return t
}

func startOf(t time.Time, unit string) time.Time {
	y, m, d := t.Date()
	switch unit {
	case "year":
		return time.Date(y, 1, 1, 0, 0, 0, 0, t.Location())
	case "month":
		return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
	case "day":
		return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	case "hour":
		return t.Truncate(time.Hour)
	}
	return t
}

func relativeTime(t, now time.Time) string {
	d := now.Sub(t)
	future := d < 0
	if future {
		d = -d
	}
	var s string
	switch {
	case d < 45*time.Second:
		s = "a few seconds"
	case d < 90*time.Second:
		s = "a minute"
	case d < 45*time.Minute:
		s = fmt.Sprintf("%d minutes", int(math.Round(d.Minutes())))
	case d < 90*time.Minute:
		s = "an hour"
	case d < 22*time.Hour:
		s = fmt.Sprintf("%d hours", int(math.Round(d.Hours())))
	case d < 36*time.Hour:
		s = "a day"
	case d < 26*24*time.Hour:
		s = fmt.Sprintf("%d days", int(math.Round(d.Hours()/24)))
	case d < 45*24*time.Hour:
		s = "a month"
	case d < 320*24*time.Hour:
		s = fmt.Sprintf("%d months", int(math.Round(d.Hours()/24/30)))
	case d < 548*24*time.Hour:
		s = "a year"
	default:
		s = fmt.Sprintf("%d years", int(math.Round(d.Hours()/24/365)))
	}
	if future {
		return "in " + s
	}
	return s + " ago"
}

type localeNames struct {
	months, monthsShort []string
	days, daysShort     []string
	am, pm              string
	ordinal             func(int) string
}

var englishNames = localeNames{
	months:      []string{"January", "February", "March", "April", "May", "June", "July", "August", "September", "October", "November", "December"},
	monthsShort: []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"},
	days:        []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"},
	daysShort:   []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"},
	am:          "AM",
	pm:          "PM",
	ordinal: func(n int) string {
		suffix := "th"
		if n%100 < 11 || n%100 > 13 {
			switch n % 10 {
			case 1:
				suffix = "st"
			case 2:
				suffix = "nd"
			case 3:
				suffix = "rd"
			}
		}
		return strconv.Itoa(n) + suffix
	},
}

var chineseNames = localeNames{
	months:      []string{"一月", "二月", "三月", "四月", "五月", "六月", "七月", "八月", "九月", "十月", "十一月", "十二月"},
	monthsShort: []string{"1月", "2月", "3月", "4月", "5月", "6月", "7月", "8月", "9月", "10月", "11月", "12月"},
	days:        []string{"星期日", "星期一", "星期二", "星期三", "星期四", "星期五", "星期六"},
	daysShort:   []string{"周日", "周一", "周二", "周三", "周四", "周五", "周六"},
	am:          "上午",
	pm:          "下午",
	ordinal:     func(n int) string { return strconv.Itoa(n) + "日" },
}

// namesFor picks month and weekday names by the base language of locale.
func namesFor(locale string) *localeNames {
	if locale == "" {
		return &englishNames
	}
	tag, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		return &englishNames
	}
	if base, _ := tag.Base(); base.String() == "zh" {
		return &chineseNames
	}
	return &englishNames
}

// momentTokens is ordered so that longer tokens win.
var momentTokens = []string{
	"YYYY", "MMMM", "dddd", "SSS",
	"MMM", "ddd", "DDD",
	"YY", "MM", "DD", "Do", "HH", "hh", "mm", "ss", "ZZ",
	"M", "D", "d", "H", "h", "m", "s", "A", "a", "Z", "X", "x",
}

// formatMoment formats t with moment.js-style tokens. Text in [brackets]
// is copied literally.
func formatMoment(t time.Time, layout, locale string) string {
	names := namesFor(locale)
	var b strings.Builder
	for i := 0; i < len(layout); {
		if layout[i] == '[' {
			if end := strings.IndexByte(layout[i:], ']'); end > 0 {
				b.WriteString(layout[i+1 : i+end])
				i += end + 1
				continue
			}
		}
		tok := ""
		for _, candidate := range momentTokens {
			if strings.HasPrefix(layout[i:], candidate) {
				tok = candidate
				break
			}
		}
		if tok == "" {
			b.WriteByte(layout[i])
			i++
			continue
		}
		b.WriteString(formatToken(t, tok, names))
		i += len(tok)
	}
	return b.String()
}

func formatToken(t time.Time, tok string, names *localeNames) string {
	hour12 := t.Hour() % 12
	if hour12 == 0 {
		hour12 = 12
	}
	switch tok {
	case "YYYY":
		return fmt.Sprintf("%04d", t.Year())
	case "YY":
		return fmt.Sprintf("%02d", t.Year()%100)
	case "MMMM":
		return names.months[t.Month()-1]
	case "MMM":
		return names.monthsShort[t.Month()-1]
	case "MM":
		return fmt.Sprintf("%02d", int(t.Month()))
	case "M":
		return strconv.Itoa(int(t.Month()))
	case "DDD":
		return strconv.Itoa(t.YearDay())
	case "DD":
		return fmt.Sprintf("%02d", t.Day())
	case "D":
		return strconv.Itoa(t.Day())
	case "Do":
		return names.ordinal(t.Day())
	case "dddd":
		return names.days[t.Weekday()]
	case "ddd":
		return names.daysShort[t.Weekday()]
	case "d":
		return strconv.Itoa(int(t.Weekday()))
	case "HH":
		return fmt.Sprintf("%02d", t.Hour())
	case "H":
		return strconv.Itoa(t.Hour())
	case "hh":
		return fmt.Sprintf("%02d", hour12)
	case "h":
		return strconv.Itoa(hour12)
	case "mm":
		return fmt.Sprintf("%02d", t.Minute())
	case "m":
		return strconv.Itoa(t.Minute())
	case "ss":
		return fmt.Sprintf("%02d", t.Second())
	case "s":
		return strconv.Itoa(t.Second())
	case "SSS":
		return fmt.Sprintf("%03d", t.Nanosecond()/1e6)
	case "A":
		if t.Hour() < 12 {
			return names.am
		}
		return names.pm
	case "a":
		if t.Hour() < 12 {
			return strings.ToLower(names.am)
		}
		return strings.ToLower(names.pm)
	case "Z":
		return t.Format("-07:00")
	case "ZZ":
		return t.Format("-0700")
	case "X":
		return strconv.FormatInt(t.Unix(), 10)
	case "x":
		return strconv.FormatInt(t.UnixMilli(), 10)
	}
	return tok
}
