package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	pages := []Page{{N: 1, Aspect: 1.29412}, {N: 2, Aspect: 0.77273}, {N: 3, Aspect: 1}}
	widths := []int{800, 1200, 1600}

	m, err := Build(pages, widths, "https://storage.googleapis.com/b/poster.webp", "data:image/webp;base64,AA==")
	require.NoError(t, err)

	assert.Equal(t, 1, m.Version)
	assert.Equal(t, 3, m.NumPages)
	assert.Equal(t, len(m.Pages), m.NumPages)
	assert.Equal(t, widths, m.Widths)

	widths[0] = 1
	assert.Equal(t, 800, m.Widths[0], "manifest must not alias the caller's slice")
}

func TestBuildRejectsBadPages(t *testing.T) {
	tests := []struct {
		name  string
		pages []Page
	}{
		{"empty", nil},
		{"starts at 2", []Page{{N: 2}}},
		{"gap", []Page{{N: 1}, {N: 3}}},
		{"unsorted", []Page{{N: 2}, {N: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.pages, []int{800}, "p", "l")
			assert.Error(t, err)
		})
	}

	_, err := Build([]Page{{N: 1}}, nil, "p", "l")
	assert.Error(t, err)
}

func TestWriteFileJSONShape(t *testing.T) {
	m, err := Build([]Page{{N: 1, Aspect: 1.41415}}, []int{800}, "https://x/poster.webp", "data:image/webp;base64,AA==")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, WriteFile(path, m))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"version": 1,
		"numPages": 1,
		"widths": [800],
		"poster": "https://x/poster.webp",
		"lqip": "data:image/webp;base64,AA==",
		"pages": [{"n": 1, "aspect": 1.41415}]
	}`, string(data))

	var back Manifest
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, m, back)
}
