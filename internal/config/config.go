// Package config provides the YAML-loading helper used by the warehouse
// subcommand. The broker subcommand parses its own file with
// broker.LoadConfig.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads path and unmarshals it into out, which must be a pointer. A
// missing file is returned as the unwrapped os.ReadFile error, so callers
// can recognise it with os.IsNotExist; the warehouse subcommand uses this
// to treat a missing --config file as optional.
func Load(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
