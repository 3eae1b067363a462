// Package config handles stackjvm.toml runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "stackjvm.toml"

// DefaultMaxFrameDepth is the call-stack ceiling used when none is configured.
const DefaultMaxFrameDepth = 1024

// Config represents a stackjvm.toml file.
type Config struct {
	VM        VM        `toml:"vm"`
	ClassPath ClassPath `toml:"classpath"`
	Log       Log       `toml:"log"`

	// Dir is the directory containing the stackjvm.toml file (set at load time).
	Dir string `toml:"-"`
}

// VM configures the interpreter.
type VM struct {
	MaxFrameDepth int `toml:"max-frame-depth"`
}

// ClassPath configures where classes are loaded from. Relative paths are
// resolved against Dir.
type ClassPath struct {
	Dirs    []string `toml:"dirs"`
	Jars    []string `toml:"jars"`
	Bundles []string `toml:"bundles"`
}

// Log configures commonlog output.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.VM.MaxFrameDepth <= 0 {
		c.VM.MaxFrameDepth = DefaultMaxFrameDepth
	}
	if len(c.ClassPath.Dirs) == 0 && len(c.ClassPath.Jars) == 0 && len(c.ClassPath.Bundles) == 0 {
		c.ClassPath.Dirs = []string{"."}
	}
}

// Parse decodes configuration from TOML text.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	return &c, nil
}

// Load parses the stackjvm.toml file in the given directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses the named configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a stackjvm.toml file and loads it.
// Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Resolve makes p absolute relative to the config directory.
func (c *Config) Resolve(p string) string {
	if filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// DirPaths returns the class path directories, resolved.
func (c *Config) DirPaths() []string { return c.resolveAll(c.ClassPath.Dirs) }

// JarPaths returns the jar/jmod class path entries, resolved.
func (c *Config) JarPaths() []string { return c.resolveAll(c.ClassPath.Jars) }

// BundlePaths returns the bundle files, resolved.
func (c *Config) BundlePaths() []string { return c.resolveAll(c.ClassPath.Bundles) }

func (c *Config) resolveAll(ps []string) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, c.Resolve(p))
	}
	return out
}
