package config

// Default values.
const (
	DefaultFrames       = 1024
	DefaultMaxEnvs      = 1024
	DefaultConsoleBytes = 4096
	DefaultProgram      = "fork"
)

// Default returns a config with every default applied.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

// ApplyDefaults fills in zero-value fields with their default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Kernel.Frames == 0 {
		cfg.Kernel.Frames = DefaultFrames
	}
	if cfg.Kernel.MaxEnvs == 0 {
		cfg.Kernel.MaxEnvs = DefaultMaxEnvs
	}
	if cfg.Kernel.ConsoleBytes == 0 {
		cfg.Kernel.ConsoleBytes = DefaultConsoleBytes
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Run.Program == "" {
		cfg.Run.Program = DefaultProgram
	}
}
