package assets

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DescriptorNames are the file names Discover looks for, in order
var DescriptorNames = []string{"bundlekit.yaml", "bundlekit.yml", "bundlekit.toml", "bundlekit.json"}

// Load reads a descriptor file. The format is chosen by extension and
// relative paths are resolved against the directory holding the file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, pathError(ErrConfig, "read descriptor", path, err)
	}

	cfg, err := Parse(data, strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return Config{}, pathError(ErrConfig, "parse descriptor", path, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, pathError(ErrConfig, "resolve descriptor", path, err)
	}
	cfg.BaseDir = filepath.Dir(absPath)

	return cfg, nil
}

// Parse decodes a descriptor. ext is the file extension including the dot.
// Unknown fields are rejected so a misspelt key fails loudly.
func Parse(data []byte, ext string) (Config, error) {
	var cfg Config

	switch ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("yaml: %w", err)
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("toml: %w", err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("json: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("unsupported descriptor format %q", ext)
	}

	return cfg.withDefaults(), nil
}

// Discover returns the first descriptor found in dir, or "" when there is none.
func Discover(dir string) (string, error) {
	for _, name := range DescriptorNames {
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", pathError(ErrConfig, "stat descriptor", candidate, err)
		}
		if info.Mode().IsRegular() {
			return candidate, nil
		}
	}
	return "", nil
}

// Marshal renders the descriptor as YAML
func Marshal(cfg Config) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := yaml.NewEncoder(buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
