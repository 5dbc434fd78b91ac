// Package config loads the YAML run configuration: which origin to scan,
// which aptly repository to reconcile it against, and how to apply the
// result.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is one sync run.
type Config struct {
	Aptly  Aptly  `yaml:"aptly"`
	Repo   string `yaml:"repo"`
	Origin Origin `yaml:"origin"`
	Upload Upload `yaml:"upload"`
	DryRun bool   `yaml:"dry_run"`
}

// Aptly locates the aptly server.
type Aptly struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// Origin names what to scan.
type Origin struct {
	Kind     string `yaml:"kind"`
	Location string `yaml:"location"`
}

// Upload tunes the application phase.
type Upload struct {
	// Directory is the server-side upload directory. Defaults to
	// "aptsync-<repo>" so concurrent syncs of different repos never share
	// staging space.
	Directory   string `yaml:"directory"`
	MaxParallel int    `yaml:"max_parallel"`
}

// Load reads a config file, expands ${ENV} references, applies defaults and
// validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Upload.Directory == "" && c.Repo != "" {
		c.Upload.Directory = "aptsync-" + c.Repo
	}
	if c.Upload.MaxParallel <= 0 {
		c.Upload.MaxParallel = 1
	}
}

// Validate checks the required fields.
func (c *Config) Validate() error {
	if c.Aptly.URL == "" {
		return fmt.Errorf("%w: aptly.url is required", ErrInvalid)
	}
	if c.Repo == "" {
		return fmt.Errorf("%w: repo is required", ErrInvalid)
	}
	if c.Origin.Kind == "" {
		return fmt.Errorf("%w: origin.kind is required", ErrInvalid)
	}
	if c.Origin.Location == "" {
		return fmt.Errorf("%w: origin.location is required", ErrInvalid)
	}
	return nil
}
