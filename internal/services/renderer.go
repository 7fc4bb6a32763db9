package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/Lllllllleong/pdfrenderer/internal/blobstore"
	"github.com/Lllllllleong/pdfrenderer/internal/config"
	"github.com/Lllllllleong/pdfrenderer/internal/derive"
	"github.com/Lllllllleong/pdfrenderer/internal/gcp"
	"github.com/Lllllllleong/pdfrenderer/internal/manifest"
	"github.com/Lllllllleong/pdfrenderer/internal/metastore"
	"github.com/Lllllllleong/pdfrenderer/internal/models"
	"github.com/Lllllllleong/pdfrenderer/internal/pdftool"
	"github.com/Lllllllleong/pdfrenderer/internal/toolrun"
	"github.com/Lllllllleong/pdfrenderer/internal/workspace"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

type RendererConfig struct {
	PublicBaseURL     string
	WorkDir           string
	JobTimeout        time.Duration
	UploadConcurrency int
	LeaseEnabled      bool
	LeaseTTL          time.Duration
	PruneStalePages   bool
}

// PageRasterizer renders a PDF into page images.
type PageRasterizer interface {
	Rasterize(ctx context.Context, pdfPath, dir string) ([]pdftool.RasterPage, error)
}

// DerivativeGenerator produces the poster, LQIP and page ladder.
type DerivativeGenerator interface {
	Generate(ctx context.Context, pages []pdftool.RasterPage, outDir string) (*derive.Result, error)
	Widths() []int
}

// Deps are the collaborators of a RendererFunction.
type Deps struct {
	Blobs      blobstore.Store
	Meta       metastore.Store
	Optimizer  pdftool.Optimizer
	Rasterizer PageRasterizer
	Generator  DerivativeGenerator
}

type RendererFunction struct {
	blobs      blobstore.Store
	meta       metastore.Store
	optimizer  pdftool.Optimizer
	rasterizer PageRasterizer
	generator  DerivativeGenerator
	publisher  *publisher
	config     RendererConfig
	newID      func() string
	now        func() time.Time
}

// RenderResult describes a successful render.
type RenderResult struct {
	JobID      string
	SourceHash string
	Manifest   manifest.Manifest
	Record     models.ContentRecord
}

// NewRenderer builds a renderer and its backends from cfg.
func NewRenderer(ctx context.Context, cfg *config.Config) (*RendererFunction, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	runner := toolrun.NewExecRunner(cfg.ToolTimeout, cfg.MaxToolOutput)
	optimizer, err := pdftool.NewOptimizer(cfg.Optimizer, runner, cfg.GSBinary)
	if err != nil {
		return nil, err
	}
	blobs, meta, err := openBackends(ctx, cfg)
	if err != nil {
		return nil, err
	}

	f := NewRendererWithDeps(RendererConfig{
		PublicBaseURL:     cfg.PublicBaseURL,
		WorkDir:           cfg.WorkDir,
		JobTimeout:        cfg.JobTimeout,
		UploadConcurrency: cfg.UploadConcurrency,
		LeaseEnabled:      cfg.LeaseEnabled,
		LeaseTTL:          cfg.LeaseTTL,
		PruneStalePages:   cfg.PruneStalePages,
	}, Deps{
		Blobs:      blobs,
		Meta:       meta,
		Optimizer:  optimizer,
		Rasterizer: pdftool.NewRasterizer(runner, cfg.PdftocairoBinary, cfg.RasterDPI),
		Generator: derive.NewGenerator(derive.Options{
			Widths:      cfg.Widths,
			PosterWidth: cfg.PosterWidth,
			LQIPWidth:   cfg.LQIPWidth,
			Concurrency: cfg.DeriveConcurrency,
		}, nil),
	})
	slog.Info("PDF renderer initialized.", "backend", cfg.Backend, "optimizer", cfg.Optimizer, "widths", cfg.Widths)
	return f, nil
}

func openBackends(ctx context.Context, cfg *config.Config) (blobstore.Store, metastore.Store, error) {
	if cfg.Backend == config.BackendLocal {
		blobs, err := blobstore.NewFSStore(cfg.LocalRoot)
		if err != nil {
			return nil, nil, err
		}
		meta, err := metastore.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return blobs, meta, nil
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	blobs, err := gcp.NewGCSStore(ctx, cfg.UploadAttempts)
	if err != nil {
		_ = firestoreClient.Close()
		return nil, nil, err
	}
	return blobs, gcp.NewFirestoreStore(firestoreClient, cfg.JobsCollection, cfg.LeasesCollection), nil
}

// NewRendererWithDeps wires a renderer from explicit collaborators.
func NewRendererWithDeps(cfg RendererConfig, deps Deps) *RendererFunction {
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "https://storage.googleapis.com"
	}
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = 10
	}
	return &RendererFunction{
		blobs:      deps.Blobs,
		meta:       deps.Meta,
		optimizer:  deps.Optimizer,
		rasterizer: deps.Rasterizer,
		generator:  deps.Generator,
		publisher:  &publisher{blobs: deps.Blobs, concurrency: cfg.UploadConcurrency},
		config:     cfg,
		newID:      uuid.NewString,
		now:        time.Now,
	}
}

// Close releases the storage backends.
func (f *RendererFunction) Close() error {
	var errs []error
	if c, ok := f.blobs.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if f.meta != nil {
		errs = append(errs, f.meta.Close())
	}
	return errors.Join(errs...)
}

// Process renders one PDF into its published artifacts. Stages run strictly
// in order; the content record is only written after every upload succeeded.
// Returned errors are *models.JobError values.
func (f *RendererFunction) Process(ctx context.Context, req *models.ProcessRequest) (*RenderResult, error) {
	if err := req.Validate(); err != nil {
		return nil, models.NewJobError(models.ErrBadRequest, "validate", err)
	}
	norm := req.Normalized()
	req = &norm

	job := &models.RenderJob{
		JobID:      f.newID(),
		HubID:      req.HubID,
		ContentID:  req.ContentID,
		Bucket:     req.Bucket,
		ObjectName: req.Object(),
		Status:     models.JobStatusRunning,
		StartedAt:  f.now().UTC(),
	}
	logCtx := slog.With("jobId", job.JobID, "hubId", job.HubID, "contentId", job.ContentID, "gcsBucket", job.Bucket, "gcsObject", job.ObjectName)
	logCtx.Info("Processing render job.")

	if f.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.config.JobTimeout)
		defer cancel()
	}

	if f.config.LeaseEnabled {
		release, err := f.acquireLease(ctx, logCtx, job)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	ws, err := workspace.Acquire(f.config.WorkDir)
	if err != nil {
		return nil, f.handleError(ctx, logCtx, job, models.ErrWorkspace, "workspace", err)
	}
	defer ws.Release(logCtx)
	logCtx = logCtx.With("workspace", ws.Dir)
	f.recordJob(ctx, logCtx, job)

	layout := NewContentLayout(req.HubID, req.ContentID)

	// 1. source fetch
	if err := timed(logCtx, "fetch", func() error {
		return f.blobs.Download(ctx, req.Bucket, req.Object(), ws.InputPDF())
	}); err != nil {
		return nil, f.handleError(ctx, logCtx, job, models.ErrSourceFetch, "fetch", err)
	}
	hash, err := calculateFileHash(ws.InputPDF())
	if err != nil {
		return nil, f.handleError(ctx, logCtx, job, models.ErrSourceFetch, "fetch", err)
	}
	job.SourceHash = hash
	logCtx = logCtx.With("sourceHash", hash)

	// 2. optimize
	if err := timed(logCtx, "optimize", func() error {
		return f.optimizer.Optimize(ctx, ws.InputPDF(), ws.OptimizedPDF())
	}); err != nil {
		return nil, f.handleError(ctx, logCtx, job, models.ErrToolFailure, "optimize", err)
	}

	// 3. rasterize
	var pages []pdftool.RasterPage
	if err := timed(logCtx, "rasterize", func() (err error) {
		pages, err = f.rasterizer.Rasterize(ctx, ws.OptimizedPDF(), ws.Dir)
		return err
	}); err != nil {
		return nil, f.handleError(ctx, logCtx, job, models.ErrToolFailure, "rasterize", err)
	}
	job.PageCount = len(pages)
	logCtx.Info("PDF rasterized.", "pageCount", len(pages))

	// 4. derivatives
	var derived *derive.Result
	if err := timed(logCtx, "derive", func() (err error) {
		derived, err = f.generator.Generate(ctx, pages, ws.Dir)
		return err
	}); err != nil {
		return nil, f.handleError(ctx, logCtx, job, models.ErrDerivative, "derive", err)
	}

	// 5. manifest
	posterObject := layout.Poster(derived.PosterWidth)
	mf, err := buildManifest(derived, f.generator.Widths(), f.url(req.Bucket, posterObject))
	if err == nil {
		err = manifest.WriteFile(ws.Manifest(), mf)
	}
	if err != nil {
		return nil, f.handleError(ctx, logCtx, job, models.ErrManifest, "manifest", err)
	}

	// 6. publish
	artifacts := []artifact{
		{LocalPath: ws.OptimizedPDF(), Object: layout.OptimizedPDF(), ContentType: contentTypePDF},
		{LocalPath: derived.PosterPath, Object: posterObject, ContentType: contentTypeWebP},
		{LocalPath: ws.Manifest(), Object: layout.Manifest(), ContentType: contentTypeJSON},
	}
	for _, p := range derived.Pages {
		for _, img := range p.Images {
			artifacts = append(artifacts, artifact{LocalPath: img.Path, Object: layout.Page(img.N, img.Width), ContentType: contentTypeWebP})
		}
	}
	if err := timed(logCtx, "upload", func() error {
		return f.publisher.uploadAll(ctx, logCtx, req.Bucket, artifacts)
	}); err != nil {
		return nil, f.handleError(ctx, logCtx, job, models.ErrUploadFailure, "upload", err)
	}

	record := models.ContentRecord{
		ImageManifestURL: f.url(req.Bucket, layout.Manifest()),
		PosterURL:        mf.Poster,
		PosterLQIP:       mf.LQIP,
		FileURL:          f.url(req.Bucket, layout.OptimizedPDF()),
	}
	if err := timed(logCtx, "metadata", func() error {
		return f.meta.MergeContent(ctx, req.HubID, req.ContentID, record)
	}); err != nil {
		return nil, f.handleError(ctx, logCtx, job, models.ErrMetadataWrite, "metadata", err)
	}

	if f.config.PruneStalePages {
		if _, err := f.publisher.pruneStalePages(ctx, logCtx, req.Bucket, layout, mf.NumPages); err != nil {
			logCtx.Warn("Failed to prune stale page images.", "error", err)
		}
	}

	job.Status = models.JobStatusSucceeded
	job.FinishedAt = f.now().UTC()
	f.recordJob(ctx, logCtx, job)
	logCtx.Info("Render job complete.", "numPages", mf.NumPages, "durationMs", job.FinishedAt.Sub(job.StartedAt).Milliseconds())

	return &RenderResult{JobID: job.JobID, SourceHash: hash, Manifest: mf, Record: record}, nil
}

func (f *RendererFunction) acquireLease(ctx context.Context, logCtx *slog.Logger, job *models.RenderJob) (func(), error) {
	key := metastore.LeaseKey(job.HubID, job.ContentID)
	if err := f.meta.AcquireLease(ctx, key, job.JobID, f.config.LeaseTTL); err != nil {
		if errors.Is(err, models.ErrLeaseHeld) {
			logCtx.Warn("Render already in progress, rejecting job.", "lease", key)
			return nil, models.NewJobError(models.ErrLeaseHeld, "lease", err)
		}
		logCtx.Error("Failed to acquire render lease.", "lease", key, "error", err)
		return nil, models.NewJobError(models.ErrMetadataWrite, "lease", err)
	}
	return func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := f.meta.ReleaseLease(rctx, key, job.JobID); err != nil {
			logCtx.Warn("Failed to release render lease.", "lease", key, "error", err)
		}
	}, nil
}

func (f *RendererFunction) url(bucket, object string) string {
	return blobstore.ObjectURL(f.config.PublicBaseURL, bucket, object)
}

func (f *RendererFunction) handleError(ctx context.Context, logCtx *slog.Logger, job *models.RenderJob, kind error, stage string, originalErr error) error {
	jobErr := models.NewJobError(kind, stage, originalErr)
	logCtx.Error("Render job failed.", "stage", stage, "errorKind", models.KindName(jobErr), "error", originalErr)

	job.Status = models.JobStatusFailed
	job.ErrorKind = models.KindName(jobErr)
	job.ErrorDetails = jobErr.Error()
	job.FinishedAt = f.now().UTC()
	f.recordJob(ctx, logCtx, job)
	return jobErr
}

// recordJob never fails the job; the record is bookkeeping only.
func (f *RendererFunction) recordJob(ctx context.Context, logCtx *slog.Logger, job *models.RenderJob) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := f.meta.RecordJob(rctx, job); err != nil {
		logCtx.Error("Failed to write job record.", "status", job.Status, "error", err)
	}
}

func buildManifest(derived *derive.Result, widths []int, posterURL string) (manifest.Manifest, error) {
	pages := make([]manifest.Page, len(derived.Pages))
	for i, p := range derived.Pages {
		pages[i] = manifest.Page{N: p.N, Aspect: p.Aspect}
	}
	return manifest.Build(pages, widths, posterURL, derived.LQIP)
}

func timed(logCtx *slog.Logger, stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	logCtx.Info("Stage finished.", "stage", stage, "duration_ms", time.Since(start).Milliseconds(), "ok", err == nil)
	return err
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := blake3.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
