package models

import (
	"errors"
	"fmt"
)

// Error kinds for a render job. Every failure surfaced by the orchestrator
// matches exactly one of these with errors.Is.
var (
	ErrBadRequest    = errors.New("missing bucket/name/hubId/contentId")
	ErrSourceFetch   = errors.New("source fetch failed")
	ErrToolFailure   = errors.New("external tool failed")
	ErrEmptyDocument = errors.New("no rendered pages found")
	ErrDerivative    = errors.New("derivative generation failed")
	ErrManifest      = errors.New("manifest build failed")
	ErrUploadFailure = errors.New("artifact upload failed")
	ErrMetadataWrite = errors.New("metadata write failed")
	ErrWorkspace     = errors.New("workspace unavailable")
	ErrLeaseHeld     = errors.New("render already in progress for this content")
)

// JobError records which stage failed and why. It unwraps to both the kind
// and the underlying cause.
type JobError struct {
	Kind  error
	Stage string
	Err   error
}

func (e *JobError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *JobError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// NewJobError wraps err as a failure of stage. If err already carries a more
// specific kind (for example ErrEmptyDocument from the rasterizer) that kind wins.
func NewJobError(kind error, stage string, err error) *JobError {
	for _, k := range []error{ErrEmptyDocument, ErrLeaseHeld, ErrBadRequest} {
		if k != kind && errors.Is(err, k) {
			kind = k
			break
		}
	}
	return &JobError{Kind: kind, Stage: stage, Err: err}
}

// KindName returns a stable name for the kind carried by err, or "Unknown".
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrBadRequest):
		return "BadRequest"
	case errors.Is(err, ErrLeaseHeld):
		return "LeaseHeld"
	case errors.Is(err, ErrEmptyDocument):
		return "EmptyDocument"
	case errors.Is(err, ErrToolFailure):
		return "ToolFailure"
	case errors.Is(err, ErrSourceFetch):
		return "SourceFetchFailure"
	case errors.Is(err, ErrDerivative):
		return "DerivativeFailure"
	case errors.Is(err, ErrManifest):
		return "ManifestFailure"
	case errors.Is(err, ErrUploadFailure):
		return "UploadFailure"
	case errors.Is(err, ErrMetadataWrite):
		return "MetadataWriteFailure"
	case errors.Is(err, ErrWorkspace):
		return "WorkspaceFailure"
	default:
		return "Unknown"
	}
}
