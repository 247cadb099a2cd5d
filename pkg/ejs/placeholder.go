package ejs

import (
	"log/slog"
	"net/url"
	"regexp"
)

// MaxPlaceholderPasses bounds how many times ExpandPlaceholders rescans its
// output, since an expanded partial may itself emit placeholders.
const MaxPlaceholderPasses = 10

var placeholderRe = regexp.MustCompile(`<!--PARTIAL:([^:]+):(.*?)-->`)

// EncodePlaceholder returns the marker the script engine writes in place of
// a partial call. locals travel as percent-encoded JSON, which never
// contains "-->".
func EncodePlaceholder(name string, locals *ObjectValue) string {
	if locals == nil {
		locals = NewObject()
	}
	return "<!--PARTIAL:" + name + ":" + url.PathEscape(ToJSON(locals)) + "-->"
}

// DecodePlaceholder reverses EncodePlaceholder for the two captured groups.
func DecodePlaceholder(payload string) (*ObjectValue, error) {
	raw, err := url.PathUnescape(payload)
	if err != nil {
		return nil, err
	}
	v, err := ParseJSON([]byte(raw))
	if err != nil {
		return nil, err
	}
	obj, ok := v.(*ObjectValue)
	if !ok {
		return NewObject(), nil
	}
	return obj, nil
}

// ExpandPlaceholders replaces every placeholder in s with render(name,
// locals), rescanning until none remain or MaxPlaceholderPasses is hit.
// Placeholders left after the last pass are removed.
func ExpandPlaceholders(s string, logger *slog.Logger, render func(name string, locals *ObjectValue) string) string {
	if logger == nil {
		logger = slog.Default()
	}
	for pass := 1; pass <= MaxPlaceholderPasses; pass++ {
		if !placeholderRe.MatchString(s) {
			return s
		}
		logger.Debug("expanding partial placeholders", "pass", pass)
		s = placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
			groups := placeholderRe.FindStringSubmatch(m)
			locals, err := DecodePlaceholder(groups[2])
			if err != nil {
				logger.Warn("dropping undecodable partial placeholder", "partial", groups[1], "error", err)
				return ""
			}
			return render(groups[1], locals)
		})
	}
	if placeholderRe.MatchString(s) {
		logger.Warn("partial placeholders left after expansion limit", "passes", MaxPlaceholderPasses)
		s = placeholderRe.ReplaceAllString(s, "")
	}
	return s
}
