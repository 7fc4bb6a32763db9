// Package pdftool wraps the PDF toolchain used by the renderer: Ghostscript
// or pdfcpu for optimization, pdftocairo for rasterization, and pdfcpu for
// page counting.
package pdftool

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Lllllllleong/pdfrenderer/internal/toolrun"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Optimizer engine names accepted by NewOptimizer.
const (
	EngineGhostscript = "ghostscript"
	EnginePDFCPU      = "pdfcpu"
)

// Optimizer rewrites a PDF for smaller size and faster download.
type Optimizer interface {
	Optimize(ctx context.Context, inPath, outPath string) error
}

// NewOptimizer returns the optimizer for engine. gsBinary is only used by the
// Ghostscript engine.
func NewOptimizer(engine string, runner toolrun.Runner, gsBinary string) (Optimizer, error) {
	switch engine {
	case EngineGhostscript, "":
		if gsBinary == "" {
			gsBinary = "gs"
		}
		return &GhostscriptOptimizer{Runner: runner, Binary: gsBinary}, nil
	case EnginePDFCPU:
		return PDFCPUOptimizer{}, nil
	default:
		return nil, fmt.Errorf("unknown optimizer engine %q", engine)
	}
}

// GhostscriptOptimizer re-distills the PDF through pdfwrite with the
// /printer profile at compatibility level 1.6.
type GhostscriptOptimizer struct {
	Runner toolrun.Runner
	Binary string
}

func (o *GhostscriptOptimizer) Optimize(ctx context.Context, inPath, outPath string) error {
	if _, err := o.Runner.Run(ctx, filepath.Dir(outPath), o.Binary, GhostscriptArgs(inPath, outPath)...); err != nil {
		return fmt.Errorf("optimize %s: %w", filepath.Base(inPath), err)
	}
	return nil
}

// GhostscriptArgs is the fixed argument list for the print-quality profile.
func GhostscriptArgs(inPath, outPath string) []string {
	return []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.6",
		"-dPDFSETTINGS=/printer",
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		"-sOutputFile=" + outPath,
		inPath,
	}
}

// PDFCPUOptimizer optimizes in-process with pdfcpu, for hosts without Ghostscript.
type PDFCPUOptimizer struct{}

func (PDFCPUOptimizer) Optimize(ctx context.Context, inPath, outPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.OptimizeFile(inPath, outPath, cfg); err != nil {
		return fmt.Errorf("optimize %s with pdfcpu: %w", filepath.Base(inPath), err)
	}
	return nil
}
