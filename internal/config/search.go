package config

import (
	"errors"
	"fmt"
	"os"
)

// EnvVar names the environment variable that points at a config file.
const EnvVar = "COWFORK_CONFIG"

// ErrNotFound is returned by Resolve when no config file exists in any of
// the searched places.
var ErrNotFound = errors.New("no config file found")

// DefaultSearchPaths is the ordered list of config file paths to try.
var DefaultSearchPaths = []string{
	"./cowfork.toml",
	"/etc/cowfork/cowfork.toml",
	"/etc/cowfork.toml",
}

// Resolve picks the config file: the explicit --config path, then
// $COWFORK_CONFIG, then the first of DefaultSearchPaths that exists. A
// named file that is missing is an error; an empty search is ErrNotFound.
func Resolve(explicit string) (string, error) {
	for _, named := range []string{explicit, os.Getenv(EnvVar)} {
		if named == "" {
			continue
		}
		if _, err := os.Stat(named); err != nil {
			return "", fmt.Errorf("cannot read config: %s: %w", named, err)
		}
		return named, nil
	}
	for _, p := range DefaultSearchPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w; searched %v", ErrNotFound, DefaultSearchPaths)
}
