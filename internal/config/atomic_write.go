package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// AtomicWrite writes data to path atomically, keeping the existing file's
// permissions when it is replaced.
func AtomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}

	perm := os.FileMode(0o600)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	return renameio.WriteFile(path, data, perm)
}

// RenderYAML renders cfg as a commented config file.
func RenderYAML(cfg *Config) ([]byte, error) {
	body, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	header := "# Open Commander configuration\n" +
		"# Environment variables override these values, e.g. COMMANDER_SERVER_PORT=9090.\n\n"
	return append([]byte(header), body...), nil
}

// WriteDefault writes the built-in configuration to path. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	data, err := RenderYAML(Default())
	if err != nil {
		return err
	}
	return AtomicWrite(path, data)
}
