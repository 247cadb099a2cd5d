package theme

import "fmt"

// PageType selects the layout template a generated page renders with.
type PageType int

const (
	TypeIndex PageType = iota
	TypePost
	TypePage
	TypeArchive
	TypeCategory
	TypeTag
)

var pageTypeNames = [...]string{"index", "post", "page", "archive", "category", "tag"}

// TemplateName returns the template a page of this type prefers.
func (p PageType) TemplateName() string {
	if p < 0 || int(p) >= len(pageTypeNames) {
		return "index"
	}
	return pageTypeNames[p]
}

func (p PageType) String() string { return p.TemplateName() }

// Fallbacks lists the templates tried, in order, when the preferred one is
// missing.
func (p PageType) Fallbacks() []string {
	switch p {
	case TypePost, TypeArchive:
		return []string{"index"}
	case TypePage:
		return []string{"post", "index"}
	case TypeCategory, TypeTag:
		return []string{"archive", "index"}
	}
	return nil
}

// ParsePageType maps a template name such as "post" to its PageType.
func ParsePageType(s string) (PageType, error) {
	for i, n := range pageTypeNames {
		if n == s {
			return PageType(i), nil
		}
	}
	return TypeIndex, fmt.Errorf("unknown page type %q", s)
}
