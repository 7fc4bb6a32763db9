package services

import (
	"fmt"
	"regexp"
	"strconv"
)

// ContentLayout names the published objects of one content item. Names are a
// pure function of the content ref, the page number and the width, so a
// re-run overwrites the same paths.
type ContentLayout struct {
	Root string
}

func NewContentLayout(hubID, contentID string) ContentLayout {
	return ContentLayout{Root: fmt.Sprintf("hubs/%s/content/%s", hubID, contentID)}
}

func (l ContentLayout) OptimizedPDF() string { return l.Root + "/optimized.pdf" }
func (l ContentLayout) Manifest() string     { return l.Root + "/manifest.json" }
func (l ContentLayout) PagesPrefix() string  { return l.Root + "/pages/" }

func (l ContentLayout) Poster(width int) string {
	return fmt.Sprintf("%s/posters/poster-%d.webp", l.Root, width)
}

func (l ContentLayout) Page(n, width int) string {
	return fmt.Sprintf("%s%d-%d.webp", l.PagesPrefix(), n, width)
}

var pageObjectPattern = regexp.MustCompile(`/pages/(\d+)-(\d+)\.webp$`)

// PageNumber extracts n from a .../pages/{n}-{w}.webp object name.
func PageNumber(object string) (int, bool) {
	m := pageObjectPattern.FindStringSubmatch(object)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
