package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/pdfrenderer/internal/blobstore"
	"golang.org/x/sync/errgroup"
)

// Content types of published artifacts.
const (
	contentTypeWebP = "image/webp"
	contentTypePDF  = "application/pdf"
	contentTypeJSON = "application/json"
)

type artifact struct {
	LocalPath   string
	Object      string
	ContentType string
}

type publisher struct {
	blobs       blobstore.Store
	concurrency int
}

// uploadAll uploads every artifact with the immutable cache directive. The
// first failure cancels the uploads still in flight.
func (p *publisher) uploadAll(ctx context.Context, logCtx *slog.Logger, bucket string, artifacts []artifact) error {
	logCtx.Info("Starting concurrent upload of artifacts.", "count", len(artifacts))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.concurrency)

	for _, a := range artifacts {
		eg.Go(func() error {
			attrs := blobstore.ObjectAttrs{ContentType: a.ContentType, CacheControl: blobstore.ImmutableCacheControl}
			if err := p.blobs.Upload(gctx, bucket, a.Object, a.LocalPath, attrs); err != nil {
				return fmt.Errorf("%s: %w", a.Object, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	logCtx.Info("All artifacts uploaded successfully.")
	return nil
}

// pruneStalePages deletes page images numbered above numPages, left behind by
// a longer earlier revision of the document.
func (p *publisher) pruneStalePages(ctx context.Context, logCtx *slog.Logger, bucket string, layout ContentLayout, numPages int) (int, error) {
	names, err := p.blobs.List(ctx, bucket, layout.PagesPrefix())
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, name := range names {
		n, ok := PageNumber(name)
		if !ok || n <= numPages {
			continue
		}
		if err := p.blobs.Delete(ctx, bucket, name); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			return deleted, err
		}
		deleted++
	}
	if deleted > 0 {
		logCtx.Info("Pruned stale page images.", "deleted", deleted, "numPages", numPages)
	}
	return deleted, nil
}
