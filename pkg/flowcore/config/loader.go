package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every error returned while loading run
// configuration.
var ErrInvalid = errors.New("invalid run configuration")

// RunSection is the top-level key under which a file may nest its run
// configuration next to unrelated settings. When present, only that
// section is loaded.
const RunSection = "run"

// Load reads run configuration files in order and merges them, later
// files overriding earlier ones. Nested maps such as "configurable" are
// merged key by key.
func Load(paths ...string) (Config, error) {
	out := New(nil)
	for _, path := range paths {
		cfg, err := FromFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
		out = out.Merge(cfg)
	}
	return out, nil
}

// FromFile loads run configuration from a file. The format follows the
// extension: .yaml, .yml or .json.
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: read config file: %w", ErrInvalid, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Config{}, fmt.Errorf("%w: unsupported config file extension: %q", ErrInvalid, ext)
	}
}

// FromYAML parses a YAML document into run configuration.
func FromYAML(data []byte) (Config, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Config{}, fmt.Errorf("%w: parse yaml: %w", ErrInvalid, err)
	}
	return runConfig(doc)
}

// FromJSON parses a JSON object into run configuration.
func FromJSON(data []byte) (Config, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Config{}, fmt.Errorf("%w: parse json: %w", ErrInvalid, err)
	}
	return runConfig(doc)
}

// runConfig selects the run section of a decoded document.
func runConfig(doc map[string]any) (Config, error) {
	run, ok := doc[RunSection]
	if !ok {
		return New(doc), nil
	}
	switch section := run.(type) {
	case nil:
		return New(nil), nil
	case map[string]any:
		return New(section), nil
	default:
		return Config{}, fmt.Errorf("%w: %q must be a mapping, got %T", ErrInvalid, RunSection, run)
	}
}
