package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// ValidationError lists every problem Validate found in one config.
type ValidationError struct {
	Path string
	Errs []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("config validation failed in %s:\n  %s", e.Path, strings.Join(msgs, "\n  "))
}

func (e *ValidationError) Unwrap() []error { return e.Errs }

// Find resolves the config file like Resolve and loads it. When no file
// exists anywhere it returns the defaults and an empty path.
func Find(explicit string) (cfg *Config, path string, warnings []string, err error) {
	path, err = Resolve(explicit)
	if errors.Is(err, ErrNotFound) {
		return Default(), "", nil, nil
	}
	if err != nil {
		return nil, "", nil, err
	}
	cfg, warnings, err = Load(path)
	return cfg, path, warnings, err
}

// Load reads a TOML config file and returns the checked config along with
// warnings for keys it did not recognise.
func Load(path string) (*Config, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot read config: %s: %w", path, err)
	}
	return LoadBytes(data, path)
}

// LoadBytes parses TOML from raw bytes. path names the source in errors
// and its directory is the value of %(here)s.
func LoadBytes(data []byte, path string) (*Config, []string, error) {
	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("config parse error in %s: %w", path, err)
	}
	warnings := unknownKeys(md)

	if err := ExpandVariables(&cfg, path); err != nil {
		return nil, warnings, fmt.Errorf("config expansion failed in %s: %w", path, err)
	}
	ApplyDefaults(&cfg)
	if errs := Validate(&cfg); len(errs) > 0 {
		return nil, warnings, &ValidationError{Path: path, Errs: errs}
	}
	return &cfg, warnings, nil
}

func unknownKeys(md toml.MetaData) []string {
	var warnings []string
	for _, key := range md.Undecoded() {
		warnings = append(warnings, "unknown config key: "+key.String())
	}
	return warnings
}
