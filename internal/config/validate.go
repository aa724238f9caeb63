package config

import (
	"fmt"
	"strings"

	"github.com/kahiteam/cowfork/internal/kernel"
	"github.com/kahiteam/cowfork/internal/logging"
)

// maxFrames is the most frames a page-table entry can address.
const maxFrames = 1 << 20

var validFormats = map[string]bool{"json": true, "text": true}

// Validate checks the config for semantic errors and returns all of them.
func Validate(cfg *Config) []error {
	var errs []error

	if cfg.Kernel.Frames < 1 || cfg.Kernel.Frames > maxFrames {
		errs = append(errs, fmt.Errorf("kernel.frames must be between 1 and %d, got %d", maxFrames, cfg.Kernel.Frames))
	}
	if cfg.Kernel.MaxEnvs < 1 || cfg.Kernel.MaxEnvs > kernel.NEnv {
		errs = append(errs, fmt.Errorf("kernel.max_envs must be between 1 and %d, got %d", kernel.NEnv, cfg.Kernel.MaxEnvs))
	}
	if cfg.Kernel.ConsoleBytes < 1 {
		errs = append(errs, fmt.Errorf("kernel.console_bytes must be >= 1, got %d", cfg.Kernel.ConsoleBytes))
	}

	if err := logging.ValidateLevel(cfg.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if !validFormats[strings.ToLower(cfg.Log.Format)] {
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", cfg.Log.Format))
	}

	if strings.TrimSpace(cfg.Run.Program) == "" {
		errs = append(errs, fmt.Errorf("run.program is required"))
	}
	if cfg.Run.Timeout < 0 {
		errs = append(errs, fmt.Errorf("run.timeout must be >= 0, got %d", cfg.Run.Timeout))
	}
	return errs
}
