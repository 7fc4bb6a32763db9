package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobErrorUnwrapsKindAndCause(t *testing.T) {
	cause := errors.New("exit status 1")
	err := NewJobError(ErrToolFailure, "optimize", cause)

	assert.ErrorIs(t, err, ErrToolFailure)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrUploadFailure)
	assert.Equal(t, "optimize: exit status 1", err.Error())
	assert.Equal(t, "ToolFailure", KindName(err))
}

func TestNewJobErrorPrefersSpecificKind(t *testing.T) {
	cause := fmt.Errorf("rasterize opt.pdf: %w", ErrEmptyDocument)
	err := NewJobError(ErrToolFailure, "rasterize", cause)

	assert.ErrorIs(t, err, ErrEmptyDocument)
	assert.NotErrorIs(t, err, ErrToolFailure)
	assert.Equal(t, "EmptyDocument", KindName(err))
}

func TestKindName(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrBadRequest, "BadRequest"},
		{NewJobError(ErrUploadFailure, "publish", errors.New("boom")), "UploadFailure"},
		{NewJobError(ErrMetadataWrite, "publish", errors.New("boom")), "MetadataWriteFailure"},
		{NewJobError(ErrSourceFetch, "fetch", errors.New("boom")), "SourceFetchFailure"},
		{NewJobError(ErrWorkspace, "workspace", errors.New("boom")), "WorkspaceFailure"},
		{errors.New("other"), "Unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindName(tt.err))
	}
}
