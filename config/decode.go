package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// extensions are tried in order for a config name without one.
var extensions = []string{".yaml", ".yml", ".jsonc", ".json", ".toml"}

// locate returns the first existing file for base. A base that already has
// a supported extension is returned unchanged.
func locate(base string) string {
	if isSupported(filepath.Ext(base)) {
		return base
	}
	for _, ext := range extensions {
		if _, err := os.Stat(base + ext); err == nil {
			return base + ext
		}
	}
	// Nothing yet; SaveConfig writes YAML.
	return base + ".yaml"
}

func isSupported(ext string) bool {
	for _, e := range extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// readFile decodes a config file into top-level keys.
func readFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decode(filepath.Ext(path), data)
}

func decode(ext string, data []byte) (map[string]any, error) {
	var parsed map[string]any
	switch strings.ToLower(ext) {
	case ".toml":
		if err := toml.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("toml: %w", err)
		}
	case ".json", ".jsonc":
		// JSON is valid YAML, and the YAML decoder keeps integers intact.
		if err := yaml.Unmarshal(jsonc.ToJSON(data), &parsed); err != nil {
			return nil, fmt.Errorf("json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
	}
	return parsed, nil
}

// toString flattens a decoded value. Lists become comma-separated strings;
// nested maps are not supported.
func toString(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", true
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case uint64:
		return strconv.FormatUint(val, 10), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := toString(item)
			if !ok {
				return "", false
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), true
	default:
		return "", false
	}
}
