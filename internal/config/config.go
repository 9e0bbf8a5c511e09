// Package config handles loading and validation of refiready.yaml service configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full service configuration.
type Config struct {
	Region     string `yaml:"region"`
	Bucket     string `yaml:"bucket"`
	Database   string `yaml:"database"`
	Crawler    string `yaml:"crawler"`
	ListenAddr string `yaml:"listenAddr"`

	// DataDir is the local directory holding the tabular source files that
	// the upload stage pushes to object storage.
	DataDir string `yaml:"dataDir"`

	RawPrefix     string `yaml:"rawPrefix"`
	OutputPrefix  string `yaml:"outputPrefix"`
	ScratchPrefix string `yaml:"scratchPrefix"`

	Match MatchConfig `yaml:"match"`
	Waits WaitConfig  `yaml:"waits"`
}

// MatchConfig configures the record-matching service integration.
type MatchConfig struct {
	SchemaName   string `yaml:"schemaName"`
	WorkflowName string `yaml:"workflowName"`
	// RoleARN is the execution role passed to the matching service. When
	// empty it is derived from the caller's account at client bootstrap.
	RoleARN string `yaml:"roleArn"`
}

// WaitConfig holds poll intervals and timeouts for the asynchronous stages.
// Durations are Go duration strings; zero values fall back to defaults.
type WaitConfig struct {
	CrawlerInterval  string `yaml:"crawlerInterval"`
	CrawlerTimeout   string `yaml:"crawlerTimeout"`
	WorkflowInterval string `yaml:"workflowInterval"`
	WorkflowTimeout  string `yaml:"workflowTimeout"`
	MatchJobInterval string `yaml:"matchJobInterval"`
	MatchJobTimeout  string `yaml:"matchJobTimeout"`
	QueryInterval    string `yaml:"queryInterval"`
	QueryTimeout     string `yaml:"queryTimeout"`
}

// Defaults matching the original dev deployment.
const (
	DefaultRegion        = "us-east-1"
	DefaultBucket        = "refi-ready-poc-dev"
	DefaultDatabase      = "refi_ready_db"
	DefaultCrawler       = "refi-ready-crawler"
	DefaultSchemaName    = "borrower_schema"
	DefaultWorkflowName  = "borrower_matching_workflow"
	DefaultListenAddr    = ":8080"
	DefaultDataDir       = "data"
	DefaultRawPrefix     = "raw/"
	DefaultOutputPrefix  = "output/"
	DefaultScratchPrefix = "athena-results/"
)

// Load reads and parses refiready.yaml from the given directory. A missing
// file is not an error; the defaults plus environment overrides apply.
func Load(dir string) (*Config, error) {
	cfg := &Config{}

	path := filepath.Join(dir, "refiready.yaml")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Region = v
	}
	if v := os.Getenv("REFI_S3_BUCKET"); v != "" {
		cfg.Bucket = v
	}
	if v := os.Getenv("REFI_S3_OUTPUT_PREFIX"); v != "" {
		cfg.OutputPrefix = v
	}
	if v := os.Getenv("REFI_S3_RAW_PREFIX"); v != "" {
		cfg.RawPrefix = v
	}
	if v := os.Getenv("REFI_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("REFI_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.Crawler == "" {
		cfg.Crawler = DefaultCrawler
	}
	if cfg.Match.SchemaName == "" {
		cfg.Match.SchemaName = DefaultSchemaName
	}
	if cfg.Match.WorkflowName == "" {
		cfg.Match.WorkflowName = DefaultWorkflowName
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	if cfg.RawPrefix == "" {
		cfg.RawPrefix = DefaultRawPrefix
	}
	if cfg.OutputPrefix == "" {
		cfg.OutputPrefix = DefaultOutputPrefix
	}
	if cfg.ScratchPrefix == "" {
		cfg.ScratchPrefix = DefaultScratchPrefix
	}
}

func validate(cfg *Config) error {
	if cfg.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if cfg.Region == "" {
		return fmt.Errorf("region is required")
	}
	if cfg.Database == "" {
		return fmt.Errorf("database is required")
	}
	for _, w := range []struct {
		name, value string
	}{
		{"waits.crawlerInterval", cfg.Waits.CrawlerInterval},
		{"waits.crawlerTimeout", cfg.Waits.CrawlerTimeout},
		{"waits.workflowInterval", cfg.Waits.WorkflowInterval},
		{"waits.workflowTimeout", cfg.Waits.WorkflowTimeout},
		{"waits.matchJobInterval", cfg.Waits.MatchJobInterval},
		{"waits.matchJobTimeout", cfg.Waits.MatchJobTimeout},
		{"waits.queryInterval", cfg.Waits.QueryInterval},
		{"waits.queryTimeout", cfg.Waits.QueryTimeout},
	} {
		if w.value == "" {
			continue
		}
		if _, err := time.ParseDuration(w.value); err != nil {
			return fmt.Errorf("%s: %w", w.name, err)
		}
	}
	return nil
}

// duration parses s, falling back to def when s is empty or invalid.
func duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// CrawlerWait returns the crawler poll interval and timeout.
func (c *Config) CrawlerWait() (interval, timeout time.Duration) {
	return duration(c.Waits.CrawlerInterval, 30*time.Second), duration(c.Waits.CrawlerTimeout, 20*time.Minute)
}

// WorkflowWait returns the workflow read-visibility poll interval and timeout.
func (c *Config) WorkflowWait() (interval, timeout time.Duration) {
	return duration(c.Waits.WorkflowInterval, 5*time.Second), duration(c.Waits.WorkflowTimeout, 2*time.Minute)
}

// MatchJobWait returns the matching-job poll interval and timeout.
func (c *Config) MatchJobWait() (interval, timeout time.Duration) {
	return duration(c.Waits.MatchJobInterval, 30*time.Second), duration(c.Waits.MatchJobTimeout, 30*time.Minute)
}

// QueryWait returns the query-execution poll interval and timeout.
func (c *Config) QueryWait() (interval, timeout time.Duration) {
	return duration(c.Waits.QueryInterval, 5*time.Second), duration(c.Waits.QueryTimeout, 10*time.Minute)
}
