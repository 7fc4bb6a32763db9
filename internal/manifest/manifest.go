// Package manifest builds the JSON descriptor viewers use to lay out and
// lazy-load a rendered document.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
)

// Version is the current manifest schema version.
const Version = 1

// Page is the per-page geometry viewers use to reserve layout space.
type Page struct {
	N      int     `json:"n"`
	Aspect float64 `json:"aspect"`
}

// Manifest is the published description of a rendered document.
type Manifest struct {
	Version  int    `json:"version"`
	NumPages int    `json:"numPages"`
	Widths   []int  `json:"widths"`
	Poster   string `json:"poster"`
	LQIP     string `json:"lqip"`
	Pages    []Page `json:"pages"`
}

// Build assembles a manifest. pages must already be in page order and cover
// 1..len(pages) without gaps.
func Build(pages []Page, widths []int, posterURL, lqip string) (Manifest, error) {
	if len(pages) == 0 {
		return Manifest{}, fmt.Errorf("manifest has no pages")
	}
	if len(widths) == 0 {
		return Manifest{}, fmt.Errorf("manifest has no widths")
	}
	for i, p := range pages {
		if p.N != i+1 {
			return Manifest{}, fmt.Errorf("manifest page %d has number %d", i+1, p.N)
		}
	}

	return Manifest{
		Version:  Version,
		NumPages: len(pages),
		Widths:   append([]int(nil), widths...),
		Poster:   posterURL,
		LQIP:     lqip,
		Pages:    append([]Page(nil), pages...),
	}, nil
}

// WriteFile serializes m to path.
func WriteFile(path string, m Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
