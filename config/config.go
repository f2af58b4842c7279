// Copyright 2026 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/poiesic/memex/ai"
	"github.com/poiesic/memex/core"
)

const (
	// FileName is the config file inside the root.
	FileName = "config.toml"

	// IndexDir is the index directory inside the root.
	IndexDir = "index"

	// EnvRoot overrides the default root.
	EnvRoot = "MEMEX_ROOT"
)

// Duration is a time.Duration written as a string such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Source is one directory of logs.
type Source struct {
	Path   string `toml:"path"`
	Format string `toml:"format"`
}

// Config holds the settings of one memex root.
type Config struct {
	// Root holds the index, the lock and the config file.
	Root string `toml:"-"`

	// Embeddings enables vector generation and semantic search.
	Embeddings bool `toml:"embeddings"`

	// AutoIndexOnSearch syncs the index before every search.
	AutoIndexOnSearch bool `toml:"auto_index_on_search"`

	// SyncTimeout bounds an automatic sync before search.
	SyncTimeout Duration `toml:"sync_timeout"`

	// LockTimeout bounds the wait for the writer lock.
	LockTimeout Duration `toml:"lock_timeout"`

	EmbeddingHost      string `toml:"embedding_host"`
	EmbeddingModel     string `toml:"embedding_model"`
	EmbeddingAPIToken  string `toml:"embedding_api_token"`
	EmbeddingBatchSize int    `toml:"embedding_batch_size"`

	HybridLexicalWeight  float64 `toml:"hybrid_lexical_weight"`
	HybridSemanticWeight float64 `toml:"hybrid_semantic_weight"`

	Sources []Source `toml:"sources"`
}

// Option is a functional option for configuring a Config.
type Option func(*Config)

// WithEmbeddings turns embeddings on or off.
func WithEmbeddings(enabled bool) Option {
	return func(c *Config) {
		c.Embeddings = enabled
	}
}

// WithSources replaces the log sources.
func WithSources(sources ...Source) Option {
	return func(c *Config) {
		c.Sources = sources
	}
}

// WithAutoIndex turns syncing before search on or off.
func WithAutoIndex(enabled bool) Option {
	return func(c *Config) {
		c.AutoIndexOnSearch = enabled
	}
}

// DefaultConfig returns the defaults for a root.
func DefaultConfig(root string) *Config {
	ac := ai.DefaultConfig()
	return &Config{
		Root:                 root,
		Embeddings:           true,
		AutoIndexOnSearch:    true,
		SyncTimeout:          Duration{2 * time.Minute},
		LockTimeout:          Duration{30 * time.Second},
		EmbeddingHost:        ac.EmbeddingHost,
		EmbeddingModel:       ac.EmbeddingModel,
		EmbeddingAPIToken:    ac.APIToken,
		EmbeddingBatchSize:   64,
		HybridLexicalWeight:  0.5,
		HybridSemanticWeight: 0.5,
		Sources: []Source{
			{Path: "~/.claude/projects", Format: core.SourceClaude.String()},
			{Path: "~/.codex/sessions", Format: core.SourceCodex.String()},
		},
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
func NewConfig(root string, opts ...Option) *Config {
	cfg := DefaultConfig(root)
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// ResolveRoot picks the root directory: the flag value, then $MEMEX_ROOT,
// then ~/.memex.
func ResolveRoot(flag string) (string, error) {
	root := flag
	if root == "" {
		root = os.Getenv(EnvRoot)
	}
	if root == "" {
		root = "~/.memex"
	}
	root, err := expandHome(root)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrConfig, err)
	}
	return filepath.Abs(root)
}

// Load reads <root>/config.toml on top of the defaults. A missing file
// yields the defaults.
func Load(root string, opts ...Option) (*Config, error) {
	cfg := DefaultConfig(root)
	// A file listing sources replaces the default list entirely.
	defaults := cfg.Sources
	cfg.Sources = nil

	path := filepath.Join(root, FileName)
	md, err := toml.DecodeFile(path, cfg)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("%w: %s: %w", core.ErrConfig, path, err)
	default:
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("%w: %s: unknown keys %v", core.ErrConfig, path, undecoded)
		}
	}
	if len(cfg.Sources) == 0 {
		cfg.Sources = defaults
	}
	cfg.Root = root

	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalize expands home-relative source paths.
func (c *Config) Normalize() error {
	for i := range c.Sources {
		p, err := expandHome(c.Sources[i].Path)
		if err != nil {
			return err
		}
		c.Sources[i].Path = filepath.Clean(p)
		c.Sources[i].Format = strings.ToLower(strings.TrimSpace(c.Sources[i].Format))
	}
	return nil
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	if err := c.Normalize(); err != nil {
		return fmt.Errorf("%w: %w", core.ErrConfig, err)
	}
	if c.Root == "" {
		return fmt.Errorf("%w: root is required", core.ErrConfig)
	}
	if c.SyncTimeout.Duration <= 0 || c.LockTimeout.Duration <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", core.ErrConfig)
	}
	if c.EmbeddingBatchSize < 1 {
		return fmt.Errorf("%w: embedding_batch_size must be at least 1", core.ErrConfig)
	}
	if c.HybridLexicalWeight < 0 || c.HybridSemanticWeight < 0 {
		return fmt.Errorf("%w: hybrid weights must not be negative", core.ErrConfig)
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("%w: at least one source is required", core.ErrConfig)
	}
	for _, s := range c.Sources {
		if s.Path == "" || s.Path == "." {
			return fmt.Errorf("%w: source path is required", core.ErrConfig)
		}
		if _, err := core.ParseSource(s.Format); err != nil {
			return fmt.Errorf("%w: source %s: %w", core.ErrConfig, s.Path, err)
		}
	}
	if c.Embeddings {
		if err := c.AIConfig().Validate(); err != nil {
			return fmt.Errorf("%w: %w", core.ErrConfig, err)
		}
	}
	return nil
}

// IndexPath is the BadgerDB directory.
func (c *Config) IndexPath() string {
	return filepath.Join(c.Root, IndexDir)
}

// AIConfig returns the embedding service settings.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.EmbeddingHost),
		ai.WithEmbeddingModel(c.EmbeddingModel),
		ai.WithAPIToken(c.EmbeddingAPIToken),
	)
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
