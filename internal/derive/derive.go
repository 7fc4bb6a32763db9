// Package derive produces the web derivatives of rasterized pages: the
// responsive WebP ladder for every page, plus the poster and the inline LQIP
// for page 1.
package derive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/png" // rasterizer output
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"

	"github.com/Lllllllleong/pdfrenderer/internal/models"
	"github.com/Lllllllleong/pdfrenderer/internal/pdftool"
	"github.com/chai2010/webp"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

// Encoder qualities. Page images are compressed harder than the poster.
const (
	PosterQuality = 78
	PageQuality   = 76
	LQIPQuality   = 30
)

// Default geometry.
const (
	DefaultPosterWidth = 1600
	DefaultLQIPWidth   = 32
)

// DefaultWidths is the responsive width ladder.
var DefaultWidths = []int{800, 1200, 1600}

// LQIPPrefix starts every LQIP data URI.
const LQIPPrefix = "data:image/webp;base64,"

// Encoder writes img in a compressed web format at the given quality (0-100).
type Encoder interface {
	Encode(w io.Writer, img image.Image, quality int) error
}

// WebPEncoder encodes lossy WebP through libwebp.
type WebPEncoder struct{}

func (WebPEncoder) Encode(w io.Writer, img image.Image, quality int) error {
	return webp.Encode(w, img, &webp.Options{Quality: float32(quality)})
}

// Options configures a Generator. Zero values fall back to the defaults.
type Options struct {
	Widths      []int
	PosterWidth int
	LQIPWidth   int
	Concurrency int
}

// PageImage is one encoded width variant of a page.
type PageImage struct {
	N     int
	Width int
	Path  string
}

// Page is the derived output of one rasterized page.
type Page struct {
	N      int
	Aspect float64
	Images []PageImage
}

// Result collects everything the generator wrote. Pages are ordered by page
// number regardless of the order in which they finished.
type Result struct {
	PosterPath  string
	PosterWidth int
	LQIP        string
	Pages       []Page
}

// Generator turns rasterized pages into web derivatives.
type Generator struct {
	opts Options
	enc  Encoder
}

// NewGenerator returns a Generator using enc, or WebPEncoder when enc is nil.
func NewGenerator(opts Options, enc Encoder) *Generator {
	if len(opts.Widths) == 0 {
		opts.Widths = DefaultWidths
	}
	if opts.PosterWidth <= 0 {
		opts.PosterWidth = DefaultPosterWidth
	}
	if opts.LQIPWidth <= 0 {
		opts.LQIPWidth = DefaultLQIPWidth
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.GOMAXPROCS(0)
	}
	if enc == nil {
		enc = WebPEncoder{}
	}
	return &Generator{opts: opts, enc: enc}
}

// Widths returns the configured width ladder.
func (g *Generator) Widths() []int { return g.opts.Widths }

// Generate writes pN-W.webp for every page and width, plus poster.webp, into
// outDir. Any single failure aborts the whole run.
func (g *Generator) Generate(ctx context.Context, pages []pdftool.RasterPage, outDir string) (*Result, error) {
	if len(pages) == 0 {
		return nil, models.ErrEmptyDocument
	}

	res := &Result{
		PosterWidth: g.opts.PosterWidth,
		Pages:       make([]Page, len(pages)),
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.Concurrency)

	for i, rp := range pages {
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			src, err := decodeFile(rp.Path)
			if err != nil {
				return fmt.Errorf("page %d: %w", rp.N, err)
			}

			if i == 0 {
				posterPath, lqip, err := g.cover(src, outDir)
				if err != nil {
					return fmt.Errorf("page %d: %w", rp.N, err)
				}
				res.PosterPath, res.LQIP = posterPath, lqip
			}

			page, err := g.page(gctx, rp.N, src, outDir)
			if err != nil {
				return fmt.Errorf("page %d: %w", rp.N, err)
			}
			res.Pages[i] = page
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

func (g *Generator) cover(src image.Image, outDir string) (string, string, error) {
	posterPath := filepath.Join(outDir, "poster.webp")
	if err := g.encodeFile(posterPath, ResizeToWidth(src, g.opts.PosterWidth), PosterQuality); err != nil {
		return "", "", fmt.Errorf("poster: %w", err)
	}

	var buf bytes.Buffer
	if err := g.enc.Encode(&buf, ResizeToWidth(src, g.opts.LQIPWidth), LQIPQuality); err != nil {
		return "", "", fmt.Errorf("lqip: %w", err)
	}
	return posterPath, LQIPPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (g *Generator) page(ctx context.Context, n int, src image.Image, outDir string) (Page, error) {
	b := src.Bounds()
	aspect, err := Aspect(b.Dx(), b.Dy())
	if err != nil {
		return Page{}, err
	}

	page := Page{N: n, Aspect: aspect, Images: make([]PageImage, 0, len(g.opts.Widths))}
	for _, w := range g.opts.Widths {
		if err := ctx.Err(); err != nil {
			return Page{}, err
		}
		path := filepath.Join(outDir, fmt.Sprintf("p%d-%d.webp", n, w))
		if err := g.encodeFile(path, ResizeToWidth(src, w), PageQuality); err != nil {
			return Page{}, fmt.Errorf("width %d: %w", w, err)
		}
		page.Images = append(page.Images, PageImage{N: n, Width: w, Path: path})
	}
	return page, nil
}

func (g *Generator) encodeFile(path string, img image.Image, quality int) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	bw := bufio.NewWriter(f)
	if err := g.enc.Encode(bw, img, quality); err != nil {
		return err
	}
	return bw.Flush()
}

// Aspect returns height/width rounded to 5 decimal places.
func Aspect(width, height int) (float64, error) {
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("invalid raster size %dx%d", width, height)
	}
	return math.Round(float64(height)/float64(width)*1e5) / 1e5, nil
}

// ResizeToWidth scales src to width pixels wide, keeping its aspect ratio.
func ResizeToWidth(src image.Image, width int) image.Image {
	b := src.Bounds()
	h := int(math.Round(float64(b.Dy()) * float64(width) / float64(b.Dx())))
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Src, nil)
	return dst
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
