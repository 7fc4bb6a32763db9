package pdftool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/Lllllllleong/pdfrenderer/internal/models"
	"github.com/Lllllllleong/pdfrenderer/internal/toolrun"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// DefaultDPI is the raster resolution used when none is configured.
const DefaultDPI = 200

// pagePrefix is the output root handed to pdftocairo; it writes
// page-1.png, page-2.png, ... (zero padded for longer documents).
const pagePrefix = "page"

var pageFilePattern = regexp.MustCompile(`^page-(\d+)\.png$`)

// RasterPage maps a 1-indexed page number to its rendered PNG.
type RasterPage struct {
	N    int
	Path string
}

// PageCounter reports the number of pages in a PDF file.
type PageCounter func(path string) (int, error)

// Rasterizer renders every page of a PDF to PNG with pdftocairo.
type Rasterizer struct {
	Runner toolrun.Runner
	Binary string
	DPI    int
	// Counter cross-checks the rendered page count. A nil Counter or a
	// counter error skips the check.
	Counter PageCounter
}

// NewRasterizer returns a Rasterizer that cross-checks page counts with pdfcpu.
func NewRasterizer(runner toolrun.Runner, binary string, dpi int) *Rasterizer {
	if binary == "" {
		binary = "pdftocairo"
	}
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &Rasterizer{Runner: runner, Binary: binary, DPI: dpi, Counter: api.PageCountFile}
}

// Rasterize renders pdfPath into dir and returns the pages in ascending page
// order. A document that renders no pages yields models.ErrEmptyDocument.
func (r *Rasterizer) Rasterize(ctx context.Context, pdfPath, dir string) ([]RasterPage, error) {
	args := []string{"-png", "-r", strconv.Itoa(r.DPI), pdfPath, filepath.Join(dir, pagePrefix)}
	if _, err := r.Runner.Run(ctx, dir, r.Binary, args...); err != nil {
		return nil, fmt.Errorf("rasterize %s: %w", filepath.Base(pdfPath), err)
	}

	pages, err := CollectPages(dir)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("rasterize %s: %w", filepath.Base(pdfPath), models.ErrEmptyDocument)
	}

	if r.Counter != nil {
		want, err := r.Counter(pdfPath)
		switch {
		case err != nil:
			slog.Warn("Page count cross-check skipped.", "pdf", filepath.Base(pdfPath), "error", err)
		case want != len(pages):
			return nil, fmt.Errorf("rasterize %s: rendered %d pages, document has %d", filepath.Base(pdfPath), len(pages), want)
		}
	}
	return pages, nil
}

// CollectPages lists the page-N.png files in dir, sorted by the numeric value
// of N, and checks that they form the contiguous range 1..len.
func CollectPages(dir string) ([]RasterPage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read raster dir: %w", err)
	}

	var pages []RasterPage
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := pageFilePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("parse page number from %s: %w", e.Name(), err)
		}
		pages = append(pages, RasterPage{N: n, Path: filepath.Join(dir, e.Name())})
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].N < pages[j].N })
	for i, p := range pages {
		if p.N != i+1 {
			return nil, fmt.Errorf("raster output is not contiguous: expected page %d, found %d", i+1, p.N)
		}
	}
	return pages, nil
}
