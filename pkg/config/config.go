// Package config loads YAML configuration files with environment variable
// expansion.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Validator is implemented by configuration types that can check themselves.
type Validator interface {
	Validate() error
}

// Load reads filename, expands ${VAR} references and decodes it over target.
// Fields absent from the file keep the values target already holds.
func Load[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", filename, err)
	}

	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), target); err != nil {
		return fmt.Errorf("config: parse %s: %w", filename, err)
	}

	return validate(target)
}

// LoadWithDefaults loads filename, falling back to defaultFile when filename
// does not exist. With no defaultFile the values already in target are used
// as-is and only validated.
func LoadWithDefaults[T any](filename, defaultFile string, target *T) error {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		if defaultFile != "" {
			return Load(defaultFile, target)
		}
		return validate(target)
	}
	return Load(filename, target)
}

func validate[T any](target *T) error {
	if v, ok := any(target).(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("config: validate: %w", err)
		}
	}
	return nil
}
