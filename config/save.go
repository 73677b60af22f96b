package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/promptarena/resolver"
)

// SaveConfig writes configuration values back to config files.
type SaveConfig struct {
	// GlobalConfigDir is the directory under ~/.config/ for global config.
	GlobalConfigDir string

	// GlobalConfigFile is the filename. Defaults to "config".
	GlobalConfigFile string

	// LocalConfigName is the filename for local config in git root.
	LocalConfigName string

	// ValidKeys lists keys that can be saved. If nil, all keys are valid.
	ValidKeys []string
}

// DefaultSaveConfig matches DefaultResolverConfig.
func DefaultSaveConfig() SaveConfig {
	rc := DefaultResolverConfig()
	return SaveConfig{
		GlobalConfigDir:  rc.GlobalConfigDir,
		GlobalConfigFile: rc.GlobalConfigFile,
		LocalConfigName:  rc.LocalConfigName,
		ValidKeys:        rc.ValidKeys,
	}
}

func (c SaveConfig) globalConfigFile() string {
	if c.GlobalConfigFile != "" {
		return c.GlobalConfigFile
	}
	return "config"
}

func (c SaveConfig) globalPath() (string, error) {
	if c.GlobalConfigDir == "" {
		return "", fmt.Errorf("global config directory not configured")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return locate(filepath.Join(home, ".config", c.GlobalConfigDir, c.globalConfigFile())), nil
}

// SaveGlobal saves a key-value pair to the global config file.
func (c SaveConfig) SaveGlobal(key, value string) error {
	if err := c.validate(key, value); err != nil {
		return err
	}
	path, err := c.globalPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return update(path, 0o600, func(m map[string]any) { m[key] = parseValue(value) })
}

// SaveLocal saves a key-value pair to the local config file in the git root.
func (c SaveConfig) SaveLocal(gitRoot, key, value string) error {
	if gitRoot == "" {
		return fmt.Errorf("git root not found")
	}
	if c.LocalConfigName == "" {
		return fmt.Errorf("local config name not configured")
	}
	if err := c.validate(key, value); err != nil {
		return err
	}
	path := locate(filepath.Join(gitRoot, c.LocalConfigName))
	// Local config is shared and should be readable
	return update(path, 0o644, func(m map[string]any) { m[key] = parseValue(value) }) //nolint:gosec
}

// DeleteGlobalKey removes a key from the global config. A missing file is
// not an error.
func (c SaveConfig) DeleteGlobalKey(key string) error {
	path, err := c.globalPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return update(path, 0o600, func(m map[string]any) { delete(m, key) })
}

// validate rejects unknown keys and values Options would reject.
func (c SaveConfig) validate(key, value string) error {
	if len(c.ValidKeys) > 0 && !slices.Contains(c.ValidKeys, key) {
		return fmt.Errorf("unknown config key: %s\n\nValid keys: %s",
			key, strings.Join(c.ValidKeys, ", "))
	}
	if set, ok := optionSetters[key]; ok && value != "" {
		opts := resolver.DefaultOptions()
		if err := set(&opts, value); err != nil {
			return &KeyError{Key: key, Value: value, Source: SourceFlag, Err: err}
		}
	}
	return nil
}

// update rewrites path after applying fn to its decoded keys. JSON files
// are not rewritten so their comments survive.
func update(path string, perm os.FileMode, fn func(map[string]any)) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" || ext == ".jsonc" {
		return fmt.Errorf("%s: JSON config files are edited by hand", path)
	}

	existing, err := readFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if existing == nil {
		existing = make(map[string]any)
	}
	fn(existing)

	var data []byte
	if ext == ".toml" {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(existing); err != nil {
			return err
		}
		data = buf.Bytes()
	} else {
		data, err = yaml.Marshal(existing)
		if err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, perm)
}

// parseValue converts string values to appropriate types for the file.
func parseValue(value string) any {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	return value
}
