package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/pdfrenderer/internal/blobstore"
	"github.com/Lllllllleong/pdfrenderer/internal/derive"
	"github.com/Lllllllleong/pdfrenderer/internal/manifest"
	"github.com/Lllllllleong/pdfrenderer/internal/metastore"
	"github.com/Lllllllleong/pdfrenderer/internal/models"
	"github.com/Lllllllleong/pdfrenderer/internal/pdftool"
	"github.com/Lllllllleong/pdfrenderer/internal/toolrun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testBucket  = "hub-bucket"
	testHub     = "h1"
	testContent = "c1"
	testSource  = "hubs/h1/content/c1/original.pdf"
	testBaseURL = "https://cdn.example.com"
)

var testWidths = []int{80, 120, 160}

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}

// scriptedRunner stands in for gs and pdftocairo. gs copies its input to the
// requested output; pdftocairo writes pages synthetic PNGs.
type scriptedRunner struct {
	mu          sync.Mutex
	pages       int
	corruptPage int
	fail        map[string]error
	block       bool
	calls       []string
}

func (r *scriptedRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, name)
	pages, corrupt, block, failErr := r.pages, r.corruptPage, r.block, r.fail[name]
	r.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", &toolrun.Error{Tool: name, Args: args, ExitCode: -1, Err: ctx.Err()}
	}
	if failErr != nil {
		return "", failErr
	}
	switch name {
	case "gs":
		var out string
		for _, a := range args {
			if strings.HasPrefix(a, "-sOutputFile=") {
				out = strings.TrimPrefix(a, "-sOutputFile=")
			}
		}
		data, err := os.ReadFile(args[len(args)-1])
		if err != nil {
			return "", err
		}
		return "", os.WriteFile(out, data, 0o644)
	case "pdftocairo":
		prefix := args[len(args)-1]
		for n := 1; n <= pages; n++ {
			name := fmt.Sprintf("%s-%d.png", prefix, n)
			if pages >= 10 {
				name = fmt.Sprintf("%s-%02d.png", prefix, n)
			}
			if n == corrupt {
				if err := os.WriteFile(name, []byte("not a png"), 0o644); err != nil {
					return "", err
				}
				continue
			}
			if err := writePNG(name, 100, 150); err != nil {
				return "", err
			}
		}
		return "", nil
	}
	return "", fmt.Errorf("unexpected tool %s", name)
}

func writePNG(path string, w, h int) error {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

// recordingStore remembers upload attributes and can fail chosen uploads.
type recordingStore struct {
	blobstore.Store
	mu     sync.Mutex
	attrs  map[string]blobstore.ObjectAttrs
	failOn string
}

func (s *recordingStore) Upload(ctx context.Context, bucket, object, srcPath string, attrs blobstore.ObjectAttrs) error {
	if s.failOn != "" && strings.Contains(object, s.failOn) {
		return errors.New("injected upload failure")
	}
	s.mu.Lock()
	s.attrs[object] = attrs
	s.mu.Unlock()
	return s.Store.Upload(ctx, bucket, object, srcPath, attrs)
}

type failingMerge struct {
	*metastore.SQLiteStore
}

func (failingMerge) MergeContent(context.Context, string, string, models.ContentRecord) error {
	return errors.New("injected merge failure")
}

type harness struct {
	t        *testing.T
	runner   *scriptedRunner
	blobs    *recordingStore
	fs       *blobstore.FSStore
	meta     *metastore.SQLiteStore
	workDir  string
	renderer *RendererFunction
	cfg      RendererConfig
}

func newHarness(t *testing.T, pages int) *harness {
	t.Helper()
	root := t.TempDir()

	fs, err := blobstore.NewFSStore(filepath.Join(root, "blobs"))
	require.NoError(t, err)
	meta, err := metastore.OpenSQLite(context.Background(), filepath.Join(root, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	src := filepath.Join(root, "source.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4 synthetic"), 0o644))
	require.NoError(t, fs.Upload(context.Background(), testBucket, testSource, src, blobstore.ObjectAttrs{}))

	require.NoError(t, meta.PutContent(context.Background(), testHub, testContent, map[string]interface{}{
		"title":     "Product brochure",
		"posterUrl": "https://old.example.com/poster.webp",
	}))

	h := &harness{
		t:       t,
		runner:  &scriptedRunner{pages: pages, fail: map[string]error{}},
		blobs:   &recordingStore{Store: fs, attrs: map[string]blobstore.ObjectAttrs{}},
		fs:      fs,
		meta:    meta,
		workDir: filepath.Join(root, "work"),
	}
	h.cfg = RendererConfig{
		PublicBaseURL:     testBaseURL,
		WorkDir:           h.workDir,
		JobTimeout:        time.Minute,
		UploadConcurrency: 4,
		LeaseEnabled:      true,
		LeaseTTL:          time.Minute,
	}
	h.build(meta)
	return h
}

func (h *harness) build(meta metastore.Store) {
	h.renderer = NewRendererWithDeps(h.cfg, Deps{
		Blobs:      h.blobs,
		Meta:       meta,
		Optimizer:  &pdftool.GhostscriptOptimizer{Runner: h.runner, Binary: "gs"},
		Rasterizer: &pdftool.Rasterizer{Runner: h.runner, Binary: "pdftocairo", DPI: 200},
		Generator: derive.NewGenerator(derive.Options{
			Widths:      testWidths,
			PosterWidth: 160,
			LQIPWidth:   8,
			Concurrency: 2,
		}, nil),
	})
}

func (h *harness) process() (*RenderResult, error) {
	return h.renderer.Process(context.Background(), &models.ProcessRequest{
		Bucket:    testBucket,
		Name:      testSource,
		HubID:     testHub,
		ContentID: testContent,
	})
}

func (h *harness) content() map[string]interface{} {
	doc, err := h.meta.GetContent(context.Background(), testHub, testContent)
	require.NoError(h.t, err)
	return doc
}

func (h *harness) objects(prefix string) []string {
	names, err := h.fs.List(context.Background(), testBucket, prefix)
	require.NoError(h.t, err)
	return names
}

func (h *harness) assertWorkspaceClean() {
	entries, err := os.ReadDir(h.workDir)
	if os.IsNotExist(err) {
		return
	}
	require.NoError(h.t, err)
	assert.Empty(h.t, entries, "workspace left behind")
}

func (h *harness) lastJob() models.RenderJob {
	jobs, err := h.meta.Jobs(context.Background(), testHub, testContent)
	require.NoError(h.t, err)
	require.NotEmpty(h.t, jobs)
	return jobs[len(jobs)-1]
}

func TestProcessThreePageDocument(t *testing.T) {
	h := newHarness(t, 3)

	res, err := h.process()
	require.NoError(t, err)

	root := "hubs/h1/content/c1/"
	assert.Equal(t, []string{
		root + "pages/1-120.webp", root + "pages/1-160.webp", root + "pages/1-80.webp",
		root + "pages/2-120.webp", root + "pages/2-160.webp", root + "pages/2-80.webp",
		root + "pages/3-120.webp", root + "pages/3-160.webp", root + "pages/3-80.webp",
	}, h.objects(root+"pages/"))
	assert.Len(t, h.objects(root+"posters/poster-160.webp"), 1)
	assert.Len(t, h.objects(root+"optimized.pdf"), 1)
	assert.Len(t, h.objects(root+"manifest.json"), 1)

	// published manifest
	local := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, h.fs.Download(context.Background(), testBucket, root+"manifest.json", local))
	data, err := os.ReadFile(local)
	require.NoError(t, err)
	var m manifest.Manifest
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, 1, m.Version)
	assert.Equal(t, 3, m.NumPages)
	assert.Equal(t, testWidths, m.Widths)
	assert.Equal(t, testBaseURL+"/hub-bucket/hubs/h1/content/c1/posters/poster-160.webp", m.Poster)
	assert.True(t, strings.HasPrefix(m.LQIP, derive.LQIPPrefix))
	require.Len(t, m.Pages, 3)
	for i, p := range m.Pages {
		assert.Equal(t, i+1, p.N)
		assert.Equal(t, 1.5, p.Aspect)
	}
	assert.Equal(t, m, res.Manifest)

	// cache and content type on every artifact
	assert.Len(t, h.blobs.attrs, 12)
	for object, attrs := range h.blobs.attrs {
		assert.Equal(t, blobstore.ImmutableCacheControl, attrs.CacheControl, object)
	}
	assert.Equal(t, "application/pdf", h.blobs.attrs[root+"optimized.pdf"].ContentType)
	assert.Equal(t, "application/json", h.blobs.attrs[root+"manifest.json"].ContentType)
	assert.Equal(t, "image/webp", h.blobs.attrs[root+"pages/2-80.webp"].ContentType)

	// content record: four renderer fields replaced, others untouched
	doc := h.content()
	assert.Equal(t, "Product brochure", doc["title"])
	assert.Equal(t, testBaseURL+"/hub-bucket/hubs/h1/content/c1/manifest.json", doc["imageManifestUrl"])
	assert.Equal(t, m.Poster, doc["posterUrl"])
	assert.Equal(t, m.LQIP, doc["posterLqip"])
	assert.Equal(t, testBaseURL+"/hub-bucket/hubs/h1/content/c1/optimized.pdf", doc["fileUrl"])

	job := h.lastJob()
	assert.Equal(t, models.JobStatusSucceeded, job.Status)
	assert.Equal(t, 3, job.PageCount)
	assert.Equal(t, res.SourceHash, job.SourceHash)
	assert.Len(t, job.SourceHash, 64)

	h.assertWorkspaceClean()
}

func TestProcessSinglePageDocument(t *testing.T) {
	h := newHarness(t, 1)

	res, err := h.process()
	require.NoError(t, err)
	assert.Equal(t, 1, res.Manifest.NumPages)
	assert.Len(t, h.objects("hubs/h1/content/c1/pages/"), len(testWidths))
	assert.Equal(t, res.Manifest.Poster, h.content()["posterUrl"])
	h.assertWorkspaceClean()
}

func TestProcessManyPagesKeepsNumericOrder(t *testing.T) {
	h := newHarness(t, 11)

	res, err := h.process()
	require.NoError(t, err)
	require.Len(t, res.Manifest.Pages, 11)
	for i, p := range res.Manifest.Pages {
		assert.Equal(t, i+1, p.N)
	}
	assert.Len(t, h.objects("hubs/h1/content/c1/pages/11-"), len(testWidths))
}

func TestProcessRejectsIncompleteRequest(t *testing.T) {
	h := newHarness(t, 3)

	for _, req := range []*models.ProcessRequest{
		nil,
		{Bucket: testBucket, Name: testSource, HubID: testHub},
		{Bucket: testBucket, HubID: testHub, ContentID: testContent},
		{Name: testSource, HubID: testHub, ContentID: testContent},
		{Bucket: testBucket, Name: testSource, HubID: "  ", ContentID: testContent},
	} {
		_, err := h.renderer.Process(context.Background(), req)
		assert.ErrorIs(t, err, models.ErrBadRequest)
	}

	assert.Empty(t, h.runner.calls)
	_, statErr := os.Stat(h.workDir)
	assert.True(t, os.IsNotExist(statErr), "no workspace may exist for a rejected request")
	jobs, err := h.meta.Jobs(context.Background(), testHub, testContent)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestProcessAcceptsObjectName(t *testing.T) {
	h := newHarness(t, 1)
	_, err := h.renderer.Process(context.Background(), &models.ProcessRequest{
		Bucket:     testBucket,
		ObjectName: testSource,
		HubID:      testHub,
		ContentID:  testContent,
	})
	require.NoError(t, err)
}

func TestProcessTrimsRequestFields(t *testing.T) {
	h := newHarness(t, 1)
	res, err := h.renderer.Process(context.Background(), &models.ProcessRequest{
		Bucket:    " " + testBucket + " ",
		Name:      " " + testSource,
		HubID:     " " + testHub + " ",
		ContentID: testContent + "\t",
	})
	require.NoError(t, err)
	assert.Equal(t, testHub, h.lastJob().HubID)
	assert.Equal(t, testBaseURL+"/"+testBucket+"/hubs/h1/content/c1/manifest.json", res.Record.ImageManifestURL)
	assert.Contains(t, h.objects("hubs/h1/content/c1/"), "hubs/h1/content/c1/manifest.json")
	assert.Equal(t, res.Record.ImageManifestURL, h.content()["imageManifestUrl"])

	doc, err := h.meta.GetContent(context.Background(), " "+testHub+" ", testContent+"\t")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestProcessFailuresLeaveRecordUntouched(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness)
		kind    error
		uploads bool
	}{
		{
			name:  "missing source",
			setup: func(h *harness) { require.NoError(h.t, h.fs.Delete(context.Background(), testBucket, testSource)) },
			kind:  models.ErrSourceFetch,
		},
		{
			name: "optimizer exits non-zero",
			setup: func(h *harness) {
				h.runner.fail["gs"] = &toolrun.Error{Tool: "gs", ExitCode: 1, Stderr: "Error: /syntaxerror in pdfopen"}
			},
			kind: models.ErrToolFailure,
		},
		{
			name: "rasterizer exits non-zero",
			setup: func(h *harness) {
				h.runner.fail["pdftocairo"] = &toolrun.Error{Tool: "pdftocairo", ExitCode: 1, Stderr: "Syntax Error: Couldn't read xref table"}
			},
			kind: models.ErrToolFailure,
		},
		{
			name:  "zero pages",
			setup: func(h *harness) { h.runner.pages = 0 },
			kind:  models.ErrEmptyDocument,
		},
		{
			name:  "undecodable page",
			setup: func(h *harness) { h.runner.corruptPage = 2 },
			kind:  models.ErrDerivative,
		},
		{
			name:    "one upload fails",
			setup:   func(h *harness) { h.blobs.failOn = "pages/2-120" },
			kind:    models.ErrUploadFailure,
			uploads: true,
		},
		{
			name:    "merge write fails",
			setup:   func(h *harness) { h.build(failingMerge{h.meta}) },
			kind:    models.ErrMetadataWrite,
			uploads: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 3)
			before := h.content()
			tt.setup(h)

			_, err := h.process()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			var jobErr *models.JobError
			assert.True(t, errors.As(err, &jobErr))

			assert.Equal(t, before, h.content())
			if !tt.uploads {
				assert.Empty(t, h.objects("hubs/h1/content/c1/pages/"))
			}
			job := h.lastJob()
			assert.Equal(t, models.JobStatusFailed, job.Status)
			assert.Equal(t, models.KindName(tt.kind), job.ErrorKind)
			assert.NotEmpty(t, job.ErrorDetails)

			h.assertWorkspaceClean()
		})
	}
}

func TestProcessToolFailureCarriesDiagnostics(t *testing.T) {
	h := newHarness(t, 3)
	h.runner.fail["gs"] = &toolrun.Error{Tool: "gs", ExitCode: 1, Stderr: "Error: /syntaxerror in pdfopen"}

	_, err := h.process()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/syntaxerror")
}

func TestProcessJobTimeoutReclaimsWorkspace(t *testing.T) {
	h := newHarness(t, 3)
	h.cfg.JobTimeout = 300 * time.Millisecond
	h.build(h.meta)
	h.runner.block = true

	_, err := h.process()
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, models.ErrToolFailure)
	h.assertWorkspaceClean()

	// the lease is released after a failed job
	h.runner.block = false
	h.cfg.JobTimeout = time.Minute
	h.build(h.meta)
	_, err = h.process()
	require.NoError(t, err)
}

func TestProcessRerunIsStable(t *testing.T) {
	h := newHarness(t, 3)

	first, err := h.process()
	require.NoError(t, err)
	objectsBefore := h.objects("hubs/")
	recordBefore := h.content()

	second, err := h.process()
	require.NoError(t, err)

	assert.Equal(t, objectsBefore, h.objects("hubs/"))
	assert.Equal(t, recordBefore, h.content())
	assert.Equal(t, first.Manifest.Pages, second.Manifest.Pages)
	assert.Equal(t, first.Record, second.Record)
	assert.NotEqual(t, first.JobID, second.JobID)
	h.assertWorkspaceClean()
}

func TestProcessRejectsWhileLeaseHeld(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	key := metastore.LeaseKey(testHub, testContent)
	require.NoError(t, h.meta.AcquireLease(ctx, key, "other-job", time.Minute))

	_, err := h.process()
	assert.ErrorIs(t, err, models.ErrLeaseHeld)
	assert.Empty(t, h.runner.calls)

	require.NoError(t, h.meta.ReleaseLease(ctx, key, "other-job"))
	_, err = h.process()
	require.NoError(t, err)
}

func TestProcessWithoutLease(t *testing.T) {
	h := newHarness(t, 1)
	h.cfg.LeaseEnabled = false
	h.build(h.meta)
	require.NoError(t, h.meta.AcquireLease(context.Background(), metastore.LeaseKey(testHub, testContent), "other-job", time.Minute))

	_, err := h.process()
	require.NoError(t, err)
}

func TestProcessPrunesStalePages(t *testing.T) {
	h := newHarness(t, 3)
	_, err := h.process()
	require.NoError(t, err)

	h.runner.pages = 1
	_, err = h.process()
	require.NoError(t, err)
	// without pruning the higher pages of the earlier revision remain
	assert.Len(t, h.objects("hubs/h1/content/c1/pages/"), 9)

	h.cfg.PruneStalePages = true
	h.build(h.meta)
	_, err = h.process()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"hubs/h1/content/c1/pages/1-120.webp",
		"hubs/h1/content/c1/pages/1-160.webp",
		"hubs/h1/content/c1/pages/1-80.webp",
	}, h.objects("hubs/h1/content/c1/pages/"))
}
