package main

import (
	"fmt"
	"io"

	flag "github.com/spf13/pflag"
)

type cliFlags struct {
	input     string
	hubID     string
	contentID string
	bucket    string
	root      string
	db        string
	workDir   string
	baseURL   string
	config    string
	optimizer string
	widths    []int
	dpi       int
	verbose   bool
}

func parseFlags(args []string, stderr io.Writer) (*cliFlags, error) {
	f := &cliFlags{}
	fs := flag.NewFlagSet("pdfrender", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: pdfrender [flags] <file.pdf>\n\nRenders a PDF into the local content tree and prints its manifest.\n\n")
		fs.PrintDefaults()
	}

	fs.StringVar(&f.hubID, "hub", "local", "hub ID")
	fs.StringVar(&f.contentID, "content", "", "content ID (defaults to the file name)")
	fs.StringVar(&f.bucket, "bucket", "local", "bucket directory name under --root")
	fs.StringVar(&f.root, "root", "./data/blobs", "blob store root directory")
	fs.StringVar(&f.db, "db", "./data/render.db", "SQLite metadata database")
	fs.StringVar(&f.workDir, "work-dir", "", "directory for job workspaces (default: pdfrender under the system temp dir)")
	fs.StringVar(&f.baseURL, "base-url", "", "public base URL used in manifest links")
	fs.StringVarP(&f.config, "config", "c", "", "YAML config file")
	fs.StringVar(&f.optimizer, "optimizer", "", "optimizer engine: ghostscript or pdfcpu")
	fs.IntSliceVar(&f.widths, "widths", nil, "page width ladder, e.g. 800,1200,1600")
	fs.IntVar(&f.dpi, "dpi", 0, "rasterization DPI")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "log every stage")

	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, fmt.Errorf("expected exactly one PDF file, got %d", fs.NArg())
	}
	f.input = fs.Arg(0)
	return f, nil
}
