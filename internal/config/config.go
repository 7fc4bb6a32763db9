// Package config loads renderer settings from an optional YAML file and the
// process environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendGCP   = "gcp"
	BackendLocal = "local"
)

// Config is the complete renderer configuration.
type Config struct {
	Port          string `yaml:"port"`
	ProjectID     string `yaml:"project_id"`
	Backend       string `yaml:"backend"`
	LocalRoot     string `yaml:"local_root"`
	SQLitePath    string `yaml:"sqlite_path"`
	PublicBaseURL string `yaml:"public_base_url"`
	WorkDir       string `yaml:"work_dir"`

	JobTimeout  time.Duration `yaml:"job_timeout"`
	ToolTimeout time.Duration `yaml:"tool_timeout"`

	RasterDPI        int    `yaml:"raster_dpi"`
	Widths           []int  `yaml:"widths"`
	PosterWidth      int    `yaml:"poster_width"`
	LQIPWidth        int    `yaml:"lqip_width"`
	Optimizer        string `yaml:"optimizer"`
	GSBinary         string `yaml:"gs_binary"`
	PdftocairoBinary string `yaml:"pdftocairo_binary"`
	MaxToolOutput    int    `yaml:"max_tool_output"`

	DeriveConcurrency int `yaml:"derive_concurrency"`
	UploadConcurrency int `yaml:"upload_concurrency"`
	UploadAttempts    int `yaml:"upload_attempts"`

	LeaseEnabled     bool          `yaml:"lease_enabled"`
	LeaseTTL         time.Duration `yaml:"lease_ttl"`
	JobsCollection   string        `yaml:"jobs_collection"`
	LeasesCollection string        `yaml:"leases_collection"`

	PruneStalePages   bool          `yaml:"prune_stale_pages"`
	RedactErrors      bool          `yaml:"redact_errors"`
	TriggerObjectName string        `yaml:"trigger_object_name"`
	WorkspaceSweepAge time.Duration `yaml:"workspace_sweep_age"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Port:              "8080",
		Backend:           BackendGCP,
		LocalRoot:         "./data/blobs",
		SQLitePath:        "./data/render.db",
		PublicBaseURL:     "https://storage.googleapis.com",
		JobTimeout:        10 * time.Minute,
		ToolTimeout:       5 * time.Minute,
		RasterDPI:         200,
		Widths:            []int{800, 1200, 1600},
		PosterWidth:       1600,
		LQIPWidth:         32,
		Optimizer:         "ghostscript",
		GSBinary:          "gs",
		PdftocairoBinary:  "pdftocairo",
		MaxToolOutput:     1 << 20,
		DeriveConcurrency: runtime.NumCPU(),
		UploadConcurrency: 10,
		UploadAttempts:    1,
		LeaseEnabled:      true,
		LeaseTTL:          15 * time.Minute,
		JobsCollection:    "renderJobs",
		LeasesCollection:  "renderLeases",
		TriggerObjectName: "original.pdf",
		WorkspaceSweepAge: time.Hour,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// Load reads CONFIG_FILE (if set) and then applies environment overrides.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv("CONFIG_FILE"), os.LookupEnv)
}

// LoadFrom is Load with an explicit file path and environment lookup.
func LoadFrom(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}
	e.str("PORT", &c.Port)
	e.str("PROJECT_ID", &c.ProjectID)
	e.str("BACKEND", &c.Backend)
	e.str("LOCAL_ROOT", &c.LocalRoot)
	e.str("SQLITE_PATH", &c.SQLitePath)
	e.str("PUBLIC_BASE_URL", &c.PublicBaseURL)
	e.str("WORK_DIR", &c.WorkDir)
	e.duration("JOB_TIMEOUT", &c.JobTimeout)
	e.duration("TOOL_TIMEOUT", &c.ToolTimeout)
	e.integer("RASTER_DPI", &c.RasterDPI)
	e.intList("WIDTHS", &c.Widths)
	e.integer("POSTER_WIDTH", &c.PosterWidth)
	e.integer("LQIP_WIDTH", &c.LQIPWidth)
	e.str("OPTIMIZER", &c.Optimizer)
	e.str("GS_BINARY", &c.GSBinary)
	e.str("PDFTOCAIRO_BINARY", &c.PdftocairoBinary)
	e.integer("MAX_TOOL_OUTPUT", &c.MaxToolOutput)
	e.integer("DERIVE_CONCURRENCY", &c.DeriveConcurrency)
	e.integer("UPLOAD_CONCURRENCY", &c.UploadConcurrency)
	e.integer("UPLOAD_ATTEMPTS", &c.UploadAttempts)
	e.boolean("LEASE_ENABLED", &c.LeaseEnabled)
	e.duration("LEASE_TTL", &c.LeaseTTL)
	e.str("JOBS_COLLECTION", &c.JobsCollection)
	e.str("LEASES_COLLECTION", &c.LeasesCollection)
	e.boolean("PRUNE_STALE_PAGES", &c.PruneStalePages)
	e.boolean("REDACT_ERRORS", &c.RedactErrors)
	e.str("TRIGGER_OBJECT_NAME", &c.TriggerObjectName)
	e.duration("WORKSPACE_SWEEP_AGE", &c.WorkspaceSweepAge)
	e.str("LOG_LEVEL", &c.LogLevel)
	e.str("LOG_FORMAT", &c.LogFormat)
	return e.err
}

func (c *Config) normalize() {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	c.Optimizer = strings.ToLower(strings.TrimSpace(c.Optimizer))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")

	widths := append([]int(nil), c.Widths...)
	sort.Ints(widths)
	out := widths[:0]
	for i, w := range widths {
		if i > 0 && w == widths[i-1] {
			continue
		}
		out = append(out, w)
	}
	c.Widths = out
}

// Validate checks if the configuration is valid and reports the first problem.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendGCP:
		if c.ProjectID == "" {
			return fmt.Errorf("PROJECT_ID is required for the gcp backend")
		}
	case BackendLocal:
		if c.LocalRoot == "" || c.SQLitePath == "" {
			return fmt.Errorf("LOCAL_ROOT and SQLITE_PATH are required for the local backend")
		}
	default:
		return fmt.Errorf("invalid backend %q (must be %q or %q)", c.Backend, BackendGCP, BackendLocal)
	}

	u, err := url.Parse(c.PublicBaseURL)
	if err != nil || u.Scheme == "" || (u.Host == "" && u.Scheme != "file") {
		return fmt.Errorf("invalid public base url %q", c.PublicBaseURL)
	}

	if len(c.Widths) == 0 {
		return fmt.Errorf("at least one page width is required")
	}
	for _, w := range c.Widths {
		if w <= 0 {
			return fmt.Errorf("invalid page width %d", w)
		}
	}
	if c.PosterWidth <= 0 {
		return fmt.Errorf("poster width must be greater than 0")
	}
	if c.LQIPWidth <= 0 {
		return fmt.Errorf("lqip width must be greater than 0")
	}
	if c.RasterDPI <= 0 {
		return fmt.Errorf("raster dpi must be greater than 0")
	}
	if c.JobTimeout <= 0 || c.ToolTimeout <= 0 {
		return fmt.Errorf("job and tool timeouts must be greater than 0")
	}
	if c.Optimizer != "ghostscript" && c.Optimizer != "pdfcpu" {
		return fmt.Errorf("invalid optimizer %q (must be ghostscript or pdfcpu)", c.Optimizer)
	}
	if c.DeriveConcurrency < 1 || c.UploadConcurrency < 1 {
		return fmt.Errorf("concurrency limits must be at least 1")
	}
	if c.UploadAttempts < 1 {
		return fmt.Errorf("upload attempts must be at least 1")
	}
	if c.MaxToolOutput <= 0 {
		return fmt.Errorf("max tool output must be greater than 0")
	}
	if c.LeaseEnabled && c.LeaseTTL <= c.JobTimeout {
		return fmt.Errorf("lease ttl (%s) must exceed job timeout (%s) when leases are enabled", c.LeaseTTL, c.JobTimeout)
	}
	if c.TriggerObjectName == "" || strings.Contains(c.TriggerObjectName, "/") {
		return fmt.Errorf("invalid trigger object name %q", c.TriggerObjectName)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format %q (must be json or console)", c.LogFormat)
	}
	return nil
}

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(key, value string, err error) {
	e.err = fmt.Errorf("invalid %s=%q: %w", key, value, err)
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = b
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = d
}

func (e *envReader) intList(key string, dst *[]int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []int
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		out = append(out, n)
	}
	*dst = out
}
