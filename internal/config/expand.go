package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExpandVariables expands %(here)s and ${ENV} references in the path
// fields of cfg. here is the directory holding the config file.
func ExpandVariables(cfg *Config, configPath string) error {
	here := filepath.Dir(configPath)
	fields := []struct {
		name string
		val  *string
	}{
		{"kernel.console_file", &cfg.Kernel.ConsoleFile},
		{"log.file", &cfg.Log.File},
	}
	for _, f := range fields {
		v, err := ExpandString(*f.val, here)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.val = v
	}
	return nil
}

// ExpandString expands one value. Environment values are not expanded
// again, and %% and $$ stand for literal % and $.
func ExpandString(s, here string) (string, error) {
	if s == "" {
		return s, nil
	}
	result, err := expandTemplateVars(s, here)
	if err != nil {
		return "", err
	}
	result, err = expandEnvVars(result)
	if err != nil {
		return "", err
	}
	result = strings.ReplaceAll(result, "%%", "%")
	result = strings.ReplaceAll(result, "$$", "$")
	return result, nil
}

func expandTemplateVars(s, here string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); {
		switch {
		case strings.HasPrefix(s[i:], "%%"):
			b.WriteString("%%")
			i += 2
		case strings.HasPrefix(s[i:], "%("):
			end := strings.Index(s[i:], ")s")
			if end < 0 {
				return "", fmt.Errorf("unclosed template variable at position %d in %q", i, s)
			}
			name := s[i+2 : i+end]
			if name != "here" {
				return "", fmt.Errorf("unknown template variable: %%(%s)s", name)
			}
			b.WriteString(here)
			i += end + 2
		default:
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String(), nil
}

func expandEnvVars(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); {
		switch {
		case strings.HasPrefix(s[i:], "$$"):
			b.WriteString("$$")
			i += 2
		case strings.HasPrefix(s[i:], "${"):
			end := strings.Index(s[i:], "}")
			if end < 0 {
				return "", fmt.Errorf("unclosed environment variable reference at position %d in %q", i, s)
			}
			name := s[i+2 : i+end]
			val, ok := os.LookupEnv(name)
			if !ok {
				return "", fmt.Errorf("undefined environment variable: ${%s}", name)
			}
			// Keep expanded text literal through the unescape pass.
			val = strings.ReplaceAll(val, "%", "%%")
			val = strings.ReplaceAll(val, "$", "$$")
			b.WriteString(val)
			i += end + 1
		default:
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String(), nil
}
