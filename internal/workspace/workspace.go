// Package workspace manages the private scratch directory of a render job.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Prefix names every job workspace so Sweep can recognise them.
const Prefix = "pdf-"

// DefaultDirName is the directory under os.TempDir() that holds workspaces
// when no base directory is configured. Sweep never looks at the bare temp dir.
const DefaultDirName = "pdfrender"

// File names inside a workspace.
const (
	InputName     = "in.pdf"
	OptimizedName = "opt.pdf"
	ManifestName  = "manifest.json"
)

// Workspace is a job-scoped directory, exclusively owned by one job.
type Workspace struct {
	Dir      string
	released bool
}

// DefaultBaseDir is the workspace base used when none is configured.
func DefaultBaseDir() string {
	return filepath.Join(os.TempDir(), DefaultDirName)
}

// Acquire creates a fresh workspace under baseDir (DefaultBaseDir when empty).
func Acquire(baseDir string) (*Workspace, error) {
	if baseDir == "" {
		baseDir = DefaultBaseDir()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace base directory: %w", err)
	}
	dir, err := os.MkdirTemp(baseDir, Prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{Dir: dir}, nil
}

func (w *Workspace) InputPDF() string     { return filepath.Join(w.Dir, InputName) }
func (w *Workspace) OptimizedPDF() string { return filepath.Join(w.Dir, OptimizedName) }
func (w *Workspace) Manifest() string     { return filepath.Join(w.Dir, ManifestName) }

// Release removes the workspace tree. It is safe to call more than once;
// failures are logged and never returned.
func (w *Workspace) Release(logger *slog.Logger) {
	if w == nil || w.released {
		return
	}
	w.released = true
	if err := os.RemoveAll(w.Dir); err != nil {
		logger.Error("Failed to remove workspace.", "path", w.Dir, "error", err)
		return
	}
	logger.Debug("Workspace removed.", "path", w.Dir)
}

// Sweep removes workspaces under baseDir whose modification time is older
// than olderThan. These are left behind only when a process dies mid-job.
func Sweep(ctx context.Context, baseDir string, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	if baseDir == "" {
		baseDir = DefaultBaseDir()
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read workspace base directory: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !e.IsDir() || !strings.HasPrefix(e.Name(), Prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(baseDir, e.Name())); err != nil {
			return removed, fmt.Errorf("remove stale workspace %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}
