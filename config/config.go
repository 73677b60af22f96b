package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
)

// ResolverConfig configures the hierarchical config resolver.
type ResolverConfig struct {
	// EnvPrefix is prepended to key names for environment variable lookup.
	// With EnvPrefix "PROMPTARENA_", key "max_files" maps to
	// PROMPTARENA_MAX_FILES.
	EnvPrefix string

	// GlobalConfigDir is the name of the directory under ~/.config/
	// where the global config is stored.
	GlobalConfigDir string

	// GlobalConfigFile is the filename for global config. Defaults to
	// "config"; a name without an extension is tried with every supported
	// extension.
	GlobalConfigFile string

	// LocalConfigName is the filename for local config in the git root,
	// with the same extension rule as GlobalConfigFile.
	LocalConfigName string

	// Defaults provides the default values for configuration keys.
	Defaults map[string]string

	// ValidKeys lists keys accepted from files and the environment. If nil,
	// all keys are accepted.
	ValidKeys []string

	// GitRootFinder finds the git root directory. If nil, the resolver
	// walks up from the working directory looking for .git.
	GitRootFinder func(startDir string) (string, error)

	Logger *slog.Logger
}

func (c ResolverConfig) globalConfigFile() string {
	if c.GlobalConfigFile != "" {
		return c.GlobalConfigFile
	}
	return "config"
}

// Resolver handles hierarchical configuration resolution.
type Resolver struct {
	config     ResolverConfig
	logger     *slog.Logger
	globalPath string
	localPath  string
	gitRoot    string

	// Warnings collects non-fatal issues during resolution.
	Warnings []string
}

// NewResolver creates a new configuration resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	r := newResolver(cfg)

	find := cfg.GitRootFinder
	if find == nil {
		find = func(dir string) (string, error) { return findGitRoot(dir), nil }
	}
	if root, err := find("."); err == nil && root != "" {
		r.gitRoot = root
		if cfg.LocalConfigName != "" {
			r.localPath = locate(filepath.Join(root, cfg.LocalConfigName))
		}
	}

	if cfg.GlobalConfigDir != "" {
		if home, err := os.UserHomeDir(); err == nil {
			r.globalPath = locate(filepath.Join(home, ".config", cfg.GlobalConfigDir, cfg.globalConfigFile()))
		}
	}
	return r
}

// NewResolverWithPaths creates a resolver with explicit global and local
// config files. Empty paths skip that layer.
func NewResolverWithPaths(cfg ResolverConfig, globalPath, localPath string) *Resolver {
	r := newResolver(cfg)
	r.globalPath = globalPath
	r.localPath = localPath
	return r
}

func newResolver(cfg ResolverConfig) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{config: cfg, logger: logger}
}

func (r *Resolver) warn(msg string, args ...any) {
	r.Warnings = append(r.Warnings, msg)
	r.logger.Warn(msg, args...)
}

// Resolved holds the final merged configuration.
type Resolved struct {
	values  map[string]string
	sources map[string]Source
}

// Get returns the value for a key, or empty string if not set.
func (c *Resolved) Get(key string) string {
	return c.values[key]
}

// Source returns the source of a key's value.
func (c *Resolved) Source(key string) Source {
	return c.sources[key]
}

// GetWithSource returns both the value and its source.
func (c *Resolved) GetWithSource(key string) (string, Source) {
	return c.values[key], c.sources[key]
}

// All returns a copy of all key-value pairs.
func (c *Resolved) All() map[string]string {
	result := make(map[string]string, len(c.values))
	for k, v := range c.values {
		result[k] = v
	}
	return result
}

// Keys returns all configuration keys in sorted order.
func (c *Resolved) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Resolve builds the final config by merging all sources.
// Priority (highest to lowest): env > local > global > defaults.
func (r *Resolver) Resolve() *Resolved {
	cfg := &Resolved{
		values:  make(map[string]string),
		sources: make(map[string]Source),
	}

	for key, value := range r.config.Defaults {
		cfg.set(key, value, SourceDefault)
	}
	r.applyFile(cfg, r.globalPath, SourceGlobal)
	r.applyFile(cfg, r.localPath, SourceLocal)
	r.applyEnv(cfg)

	return cfg
}

// ResolveWithFlags resolves config and applies flag overrides. Empty flag
// values are ignored.
func (r *Resolver) ResolveWithFlags(flags map[string]string) *Resolved {
	cfg := r.Resolve()

	for key, value := range flags {
		if value != "" {
			cfg.set(key, value, SourceFlag)
		}
	}
	return cfg
}

func (c *Resolved) set(key, value string, src Source) {
	c.values[key] = value
	c.sources[key] = src
}

func (r *Resolver) applyFile(cfg *Resolved, path string, src Source) {
	if path == "" {
		return
	}
	parsed, err := readFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.warn(fmt.Sprintf("could not parse %s: %v", path, err), "path", path, "layer", string(src))
		}
		return
	}

	for key, value := range parsed {
		if !r.valid(key) {
			r.warn(fmt.Sprintf("unknown key %q in %s", key, path), "path", path, "key", key)
			continue
		}
		strVal, ok := toString(value)
		if !ok {
			r.warn(fmt.Sprintf("unsupported value for %q in %s", key, path), "path", path, "key", key)
			continue
		}
		if strVal != "" {
			cfg.set(key, strVal, src)
		}
	}
}

func (r *Resolver) applyEnv(cfg *Resolved) {
	if r.config.EnvPrefix == "" {
		return
	}
	allKeys := make(map[string]bool)
	for k := range r.config.Defaults {
		allKeys[k] = true
	}
	for _, k := range r.config.ValidKeys {
		allKeys[k] = true
	}
	for k := range cfg.values {
		allKeys[k] = true
	}

	for key := range allKeys {
		if value := os.Getenv(EnvName(r.config.EnvPrefix, key)); value != "" {
			cfg.set(key, value, SourceEnv)
		}
	}
}

func (r *Resolver) valid(key string) bool {
	return len(r.config.ValidKeys) == 0 || slices.Contains(r.config.ValidKeys, key)
}

// EnvName returns the environment variable consulted for key.
func EnvName(prefix, key string) string {
	return prefix + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// GitRoot returns the detected git root directory.
func (r *Resolver) GitRoot() string {
	return r.gitRoot
}

// GlobalPath returns the path to the global config file.
func (r *Resolver) GlobalPath() string {
	return r.globalPath
}

// LocalPath returns the path to the local config file.
func (r *Resolver) LocalPath() string {
	return r.localPath
}

// findGitRoot finds the git root by looking for a .git entry. Worktrees
// and submodules have a .git file rather than a directory.
func findGitRoot(startDir string) string {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
