// Package config handles loading and validating cowfork configuration.
package config

// Config is the top-level cowfork configuration.
type Config struct {
	Kernel  KernelConfig  `toml:"kernel"`
	Log     LogConfig     `toml:"log"`
	Run     RunConfig     `toml:"run"`
	Metrics MetricsConfig `toml:"metrics"`
}

// KernelConfig sizes the simulated machine.
type KernelConfig struct {
	Frames       int    `toml:"frames"`
	MaxEnvs      int    `toml:"max_envs"`
	ConsoleBytes int    `toml:"console_bytes"`
	ConsoleFile  string `toml:"console_file"`
}

// LogConfig controls the diagnostic log.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// RunConfig holds defaults for `cowfork run`.
type RunConfig struct {
	Program string `toml:"program"`
	Dump    bool   `toml:"dump"`
	Timeout int    `toml:"timeout"` // seconds, 0 for none
}

// MetricsConfig controls the metrics dump printed after a run.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}
