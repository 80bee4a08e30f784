// Package config handles the repository configuration file and its
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/fntb/stac-repository/internal/apperrors"
)

// FileName is the configuration file kept at the repository root.
const FileName = ".stac-repository.yaml"

// BackendKind selects the storage backend of a repository.
type BackendKind string

const (
	// BackendGit is the versioned git backend.
	BackendGit BackendKind = "git"
	// BackendFile is the plain filesystem backend without history.
	BackendFile BackendKind = "file"
)

// Author identifies who revisions are attributed to.
type Author struct {
	Name  string `yaml:"name" koanf:"name"`
	Email string `yaml:"email" koanf:"email"`
}

// Ingest tunes the ingestion runner.
type Ingest struct {
	// RateLimit is the maximum number of jobs started per second,
	// 0 means unlimited.
	RateLimit float64 `yaml:"rate_limit,omitempty" koanf:"rate_limit"`
	// Burst is the rate limiter burst size, defaults to 1 when rate
	// limiting is active.
	Burst int `yaml:"burst,omitempty" koanf:"burst"`
}

// Config is the content of the repository configuration file. Environment
// variables with the STAC_ prefix override the file on load.
type Config struct {
	Backend BackendKind `yaml:"backend" koanf:"backend"`
	Author  Author      `yaml:"author" koanf:"author"`
	// Remote is the default backup location, a local path or a git URL.
	Remote string `yaml:"remote,omitempty" koanf:"remote"`
	Ingest Ingest `yaml:"ingest,omitempty" koanf:"ingest"`
}

// Default returns the configuration used when initializing a new repository.
func Default() *Config {
	return &Config{
		Backend: BackendGit,
		Author: Author{
			Name:  "stac-repository",
			Email: "stac-repository@localhost",
		},
	}
}

// envKeys maps STAC_-prefixed environment variable suffixes to config keys.
var envKeys = map[string]string{
	"BACKEND":           "backend",
	"AUTHOR_NAME":       "author.name",
	"AUTHOR_EMAIL":      "author.email",
	"REMOTE":            "remote",
	"INGEST_RATE_LIMIT": "ingest.rate_limit",
	"INGEST_BURST":      "ingest.burst",
}

// Load reads the configuration file at the repository root and applies
// environment overrides. A missing file maps to ErrRepositoryNotFound since
// the file is written at init time.
func Load(rootPath string) (*Config, error) {
	content, err := os.ReadFile(filepath.Join(rootPath, FileName)) //nolint:gosec // repository root is caller provided
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.ErrRepositoryNotFound
		}
		return nil, fmt.Errorf("read %s: %w", FileName, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", FileName, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Encode renders the configuration as YAML.
func (c *Config) Encode() ([]byte, error) {
	content, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", FileName, err)
	}
	return content, nil
}

// Save writes the configuration file at the repository root.
func (c *Config) Save(rootPath string) error {
	content, err := c.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(rootPath, FileName), content, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", FileName, err)
	}
	return nil
}

// Validate checks the configuration for values no backend can honor.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendGit, BackendFile:
	default:
		return apperrors.Validation(fmt.Sprintf("unknown backend %q", c.Backend))
	}
	if c.Ingest.RateLimit < 0 {
		return apperrors.Validation("ingest rate limit cannot be negative")
	}
	if c.Ingest.Burst < 0 {
		return apperrors.Validation("ingest burst cannot be negative")
	}
	return nil
}

// applyEnv overlays STAC_-prefixed environment variables onto the config.
func (c *Config) applyEnv() error {
	k := koanf.New(".")
	err := k.Load(env.Provider(".", env.Opt{
		Prefix: "STAC_",
		TransformFunc: func(key, value string) (string, any) {
			mapped, ok := envKeys[strings.TrimPrefix(key, "STAC_")]
			if !ok {
				return "", nil
			}
			return mapped, value
		},
	}), nil)
	if err != nil {
		return fmt.Errorf("load environment: %w", err)
	}

	if k.Exists("backend") {
		c.Backend = BackendKind(k.String("backend"))
	}
	if k.Exists("author.name") {
		c.Author.Name = k.String("author.name")
	}
	if k.Exists("author.email") {
		c.Author.Email = k.String("author.email")
	}
	if k.Exists("remote") {
		c.Remote = k.String("remote")
	}
	if k.Exists("ingest.rate_limit") {
		limit, err := strconv.ParseFloat(k.String("ingest.rate_limit"), 64)
		if err != nil {
			return apperrors.Validation("STAC_INGEST_RATE_LIMIT is not a number")
		}
		c.Ingest.RateLimit = limit
	}
	if k.Exists("ingest.burst") {
		burst, err := strconv.Atoi(k.String("ingest.burst"))
		if err != nil {
			return apperrors.Validation("STAC_INGEST_BURST is not an integer")
		}
		c.Ingest.Burst = burst
	}
	return nil
}

// Get returns the value of a dotted configuration key as a string, for the
// config CLI.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "backend":
		return string(c.Backend), nil
	case "author.name":
		return c.Author.Name, nil
	case "author.email":
		return c.Author.Email, nil
	case "remote":
		return c.Remote, nil
	case "ingest.rate_limit":
		return strconv.FormatFloat(c.Ingest.RateLimit, 'f', -1, 64), nil
	case "ingest.burst":
		return strconv.Itoa(c.Ingest.Burst), nil
	}
	return "", apperrors.Validation(fmt.Sprintf("unknown configuration key %q", key))
}

// Set assigns a dotted configuration key from a string value, for the
// config CLI. Validation runs after assignment so a bad value never lands in
// the file.
func (c *Config) Set(key, value string) error {
	switch key {
	case "backend":
		c.Backend = BackendKind(value)
	case "author.name":
		c.Author.Name = value
	case "author.email":
		c.Author.Email = value
	case "remote":
		c.Remote = value
	case "ingest.rate_limit":
		limit, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return apperrors.Validation(fmt.Sprintf("%s is not a number", value))
		}
		c.Ingest.RateLimit = limit
	case "ingest.burst":
		burst, err := strconv.Atoi(value)
		if err != nil {
			return apperrors.Validation(fmt.Sprintf("%s is not an integer", value))
		}
		c.Ingest.Burst = burst
	default:
		return apperrors.Validation(fmt.Sprintf("unknown configuration key %q", key))
	}
	return c.Validate()
}

// Keys lists the settable configuration keys.
func Keys() []string {
	return []string{
		"backend",
		"author.name",
		"author.email",
		"remote",
		"ingest.rate_limit",
		"ingest.burst",
	}
}
