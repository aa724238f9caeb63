package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func withSearchPaths(t *testing.T, paths ...string) {
	t.Helper()
	orig := DefaultSearchPaths
	DefaultSearchPaths = paths
	t.Cleanup(func() { DefaultSearchPaths = orig })
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	explicit := touch(t, dir, "explicit.toml")
	fromEnv := touch(t, dir, "env.toml")
	first := touch(t, dir, "first.toml")
	second := touch(t, dir, "second.toml")
	missing := filepath.Join(dir, "missing.toml")

	tests := []struct {
		name     string
		explicit string
		env      string
		search   []string
		want     string
		wantErr  bool
	}{
		{name: "explicit wins", explicit: explicit, env: fromEnv, search: []string{first}, want: explicit},
		{name: "env before search", env: fromEnv, search: []string{first}, want: fromEnv},
		{name: "first search hit", search: []string{missing, first, second}, want: first},
		{name: "explicit missing", explicit: missing, search: []string{first}, wantErr: true},
		{name: "env missing", env: missing, search: []string{first}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvVar, tt.env)
			withSearchPaths(t, tt.search...)
			got, err := Resolve(tt.explicit)
			if tt.wantErr {
				if err == nil || errors.Is(err, ErrNotFound) {
					t.Fatalf("err = %v, want a read error", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveNoConfigFound(t *testing.T) {
	t.Setenv(EnvVar, "")
	withSearchPaths(t, "/nonexistent/a.toml", "/nonexistent/b.toml")
	if _, err := Resolve(""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFindFallsBackToDefaults(t *testing.T) {
	t.Setenv(EnvVar, "")
	withSearchPaths(t, "/nonexistent/a.toml")
	cfg, path, warnings, err := Find("")
	if err != nil {
		t.Fatal(err)
	}
	if path != "" || len(warnings) != 0 {
		t.Errorf("path = %q, warnings = %v", path, warnings)
	}
	if cfg.Kernel.Frames != DefaultFrames {
		t.Errorf("frames = %d, want default", cfg.Kernel.Frames)
	}
}

func TestFindLoadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cowfork.toml")
	if err := os.WriteFile(path, []byte("[kernel]\nframes = 64\nbogus = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvVar, path)
	cfg, got, warnings, err := Find("")
	if err != nil {
		t.Fatal(err)
	}
	if got != path || cfg.Kernel.Frames != 64 || len(warnings) != 1 {
		t.Fatalf("path = %q, frames = %d, warnings = %v", got, cfg.Kernel.Frames, warnings)
	}
}
