package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Render formats.
const (
	FormatTOML = "toml"
	FormatYAML = "yaml"
)

// Render writes the configuration in the given format with the access token
// redacted.
func Render(w io.Writer, c *Config, format string) error {
	settings := c.Settings(true)
	switch format {
	case "", FormatTOML:
		if err := toml.NewEncoder(w).Encode(settings); err != nil {
			return fmt.Errorf("failed to encode toml: %w", err)
		}
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(settings); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return Errorf("format", "must be toml or yaml, got %q", format)
	}
	return nil
}

// WriteFile writes c as a TOML config file, token included, readable only
// by the owner. Existing files are not overwritten unless force is set.
func WriteFile(path string, c *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c.Settings(false)); err != nil {
		return fmt.Errorf("failed to encode toml: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
