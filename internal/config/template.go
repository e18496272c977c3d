package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const templateHeader = `# qbridge configuration.
# Durations use Go syntax ("5s", "1m30s"). Relative paths resolve against this file.
# Set bridge.api_token to require "Authorization: Bearer <token>" on POST routes.

`

// Render encodes cfg as a commented TOML document.
func Render(cfg Config) ([]byte, error) {
	body, err := toml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config render failed: %w", err)
	}
	return append([]byte(templateHeader), body...), nil
}

// WriteTemplate writes the rendered defaults to path.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite && Exists(path) {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}
	data, err := Render(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
