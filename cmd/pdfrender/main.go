package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/Lllllllleong/pdfrenderer/internal/blobstore"
	"github.com/Lllllllleong/pdfrenderer/internal/config"
	"github.com/Lllllllleong/pdfrenderer/internal/logging"
	"github.com/Lllllllleong/pdfrenderer/internal/models"
	"github.com/Lllllllleong/pdfrenderer/internal/services"
	flag "github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"
)

// Exit codes.
const (
	ExitSuccess = 0
	ExitGeneral = 1
	ExitUsage   = 2
	ExitIO      = 3
	ExitTool    = 4
)

func main() {
	_, _ = maxprocs.Set(maxprocs.Logger(func(string, ...interface{}) {}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		fmt.Fprintln(stderr, err)
		return ExitUsage
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return ExitUsage
	}
	level := "warn"
	if flags.verbose {
		level = "debug"
	}
	// stdout carries only the manifest
	logging.Setup(stderr, level, "console")

	if _, err := os.Stat(flags.input); err != nil {
		fmt.Fprintln(stderr, err)
		return ExitIO
	}

	contentID := flags.contentID
	if contentID == "" {
		contentID = strings.TrimSuffix(filepath.Base(flags.input), filepath.Ext(flags.input))
	}
	source := fmt.Sprintf("hubs/%s/content/%s/%s", flags.hubID, contentID, cfg.TriggerObjectName)

	blobs, err := blobstore.NewFSStore(cfg.LocalRoot)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return ExitIO
	}
	if err := blobs.Upload(ctx, flags.bucket, source, flags.input, blobstore.ObjectAttrs{ContentType: "application/pdf"}); err != nil {
		fmt.Fprintln(stderr, err)
		return ExitIO
	}

	renderer, err := services.NewRenderer(ctx, cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return ExitGeneral
	}
	defer renderer.Close()

	res, err := renderer.Process(ctx, &models.ProcessRequest{
		Bucket:    flags.bucket,
		Name:      source,
		HubID:     flags.hubID,
		ContentID: contentID,
	})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitCodeFor(err)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res.Manifest); err != nil {
		fmt.Fprintln(stderr, err)
		return ExitGeneral
	}
	return ExitSuccess
}

// loadConfig applies flags on top of file and environment settings and forces
// the local backend.
func loadConfig(flags *cliFlags) (*config.Config, error) {
	cfg, err := config.LoadFrom(flags.config, os.LookupEnv)
	if err != nil {
		return nil, err
	}
	cfg.Backend = config.BackendLocal
	cfg.LocalRoot = flags.root
	cfg.SQLitePath = flags.db
	cfg.LeaseEnabled = false
	if flags.workDir != "" {
		cfg.WorkDir = flags.workDir
	}
	if flags.baseURL != "" {
		cfg.PublicBaseURL = strings.TrimRight(flags.baseURL, "/")
	} else if abs, err := filepath.Abs(flags.root); err == nil {
		cfg.PublicBaseURL = "file://" + filepath.ToSlash(abs)
	}
	if flags.optimizer != "" {
		cfg.Optimizer = flags.optimizer
	}
	if len(flags.widths) > 0 {
		cfg.Widths = flags.widths
	}
	if flags.dpi > 0 {
		cfg.RasterDPI = flags.dpi
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, models.ErrBadRequest):
		return ExitUsage
	case errors.Is(err, models.ErrSourceFetch), errors.Is(err, models.ErrWorkspace):
		return ExitIO
	case errors.Is(err, models.ErrToolFailure), errors.Is(err, models.ErrEmptyDocument):
		return ExitTool
	default:
		return ExitGeneral
	}
}
