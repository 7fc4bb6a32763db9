// Package metastore defines where render results and job bookkeeping are
// persisted, with a SQLite implementation for local runs.
package metastore

import (
	"context"
	"fmt"
	"time"

	"github.com/Lllllllleong/pdfrenderer/internal/models"
)

// ContentWriter merge-writes the renderer-owned fields of a content record.
// Fields outside models.ContentRecord must be left untouched.
type ContentWriter interface {
	MergeContent(ctx context.Context, hubID, contentID string, rec models.ContentRecord) error
}

// LeaseStore grants a time-bounded exclusive claim on a key. AcquireLease
// returns models.ErrLeaseHeld when another holder owns an unexpired lease.
type LeaseStore interface {
	AcquireLease(ctx context.Context, key, holder string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, key, holder string) error
}

// JobRecorder stores the audit record of a render job, replacing any earlier
// record with the same JobID.
type JobRecorder interface {
	RecordJob(ctx context.Context, job *models.RenderJob) error
}

// Store bundles everything the renderer persists outside blob storage.
type Store interface {
	ContentWriter
	LeaseStore
	JobRecorder
	Close() error
}

// LeaseKey is the lease identifier for one content record. The hub ID length
// prefix keeps distinct (hub, content) pairs from sharing a key when either ID
// contains the separator.
func LeaseKey(hubID, contentID string) string {
	return fmt.Sprintf("%d:%s__%s", len(hubID), hubID, contentID)
}
