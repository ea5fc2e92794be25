// Package config holds the runtime configuration: project root, index mode,
// watcher switches, and trace-log options. Values come from built-in
// defaults, optionally overlaid by a TOML file, optionally overlaid by CLI
// flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pelletier/go-toml/v2"
)

const (
	// DefaultMaxFileSize is the indexing cutoff; larger files are skipped
	// entirely.
	DefaultMaxFileSize = 10 * 1024 * 1024

	// DefaultWorkers is the indexer pool size.
	DefaultWorkers = 4

	// DefaultConfigFile is looked up in the project root when no explicit
	// config path is given.
	DefaultConfigFile = ".lsi.toml"
)

type Config struct {
	Project Project  `toml:"project"`
	Index   Index    `toml:"index"`
	Logging Logging  `toml:"logging"`
	Exclude []string `toml:"exclude"`
}

type Project struct {
	Root string `toml:"root"`
	Name string `toml:"name"`
}

type Index struct {
	// Mode selects the tokenizer: "word" or "trigram".
	Mode string `toml:"mode"`

	// EnableWatcher switches live updates; off means a one-shot snapshot.
	EnableWatcher bool `toml:"enable_watcher"`

	MaxFileSize int64 `toml:"max_file_size"`
	Workers     int   `toml:"workers"`
}

type Logging struct {
	// File receives trace output when set; empty means stderr.
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Index: Index{
			Mode:          "word",
			EnableWatcher: true,
			MaxFileSize:   DefaultMaxFileSize,
			Workers:       DefaultWorkers,
		},
		Logging: Logging{MaxSizeMB: 10},
		Exclude: []string{".git/**", "node_modules/**"},
	}
}

// Load reads a TOML config file over the defaults. A missing file at the
// default location is not an error; an explicitly named missing file is.
func Load(path string, explicit bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Validate normalizes the root to an absolute path and rejects unusable
// values.
func (c *Config) Validate() error {
	if c.Project.Root == "" {
		return fmt.Errorf("config: project root is required")
	}
	absRoot, err := filepath.Abs(c.Project.Root)
	if err != nil {
		return fmt.Errorf("config: resolving root %q: %w", c.Project.Root, err)
	}
	c.Project.Root = absRoot

	switch c.Index.Mode {
	case "word", "trigram":
	default:
		return fmt.Errorf("config: unknown index mode %q (want word or trigram)", c.Index.Mode)
	}

	if c.Index.MaxFileSize <= 0 {
		return fmt.Errorf("config: max_file_size must be positive, got %d", c.Index.MaxFileSize)
	}
	if c.Index.Workers <= 0 {
		return fmt.Errorf("config: workers must be positive, got %d", c.Index.Workers)
	}

	for _, pattern := range c.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("config: invalid exclude pattern %q", pattern)
		}
	}
	return nil
}

// Excluded reports whether a path, relative to the project root, matches any
// exclude pattern. For directories, a pattern like ".git/**" also prunes the
// directory itself so the walk never descends into it.
func (c *Config) Excluded(relPath string, isDir bool) bool {
	relPath = filepath.ToSlash(relPath)
	for _, pattern := range c.Exclude {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
		if isDir {
			if dirPattern, ok := strings.CutSuffix(pattern, "/**"); ok {
				if matched, _ := doublestar.Match(dirPattern, relPath); matched {
					return true
				}
			}
		}
	}
	return false
}
