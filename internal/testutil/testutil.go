// Package testutil provides shared test helpers for the cowfork test suite.
package testutil

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kahiteam/cowfork/internal/config"
	"github.com/kahiteam/cowfork/internal/kernel"
)

// TempDir creates a temporary directory for testing and registers cleanup.
func TempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "cowfork-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

// WriteFile writes content to a file in the given directory.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("cannot write %s: %v", path, err)
	}
	return path
}

// MustParseConfig parses a TOML string into a Config struct, failing the
// test on error. Intended for concise test setup.
func MustParseConfig(t *testing.T, toml string) *config.Config {
	t.Helper()
	cfg, warnings, err := config.LoadBytes([]byte(toml), "test.toml")
	if err != nil {
		t.Fatalf("MustParseConfig: %v", err)
	}
	for _, w := range warnings {
		t.Logf("config warning: %s", w)
	}
	return cfg
}

// logWriter forwards whole lines to t.Log. Environments log from their own
// goroutines, so writes are serialized.
type logWriter struct {
	mu  sync.Mutex
	t   *testing.T
	buf bytes.Buffer
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			w.buf.WriteString(line)
			break
		}
		w.t.Log(line[:len(line)-1])
	}
	return len(p), nil
}

// Logger returns a debug-level text logger that writes to t.Log.
func Logger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(&logWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// NewKernel creates a kernel with the given frame count that logs to t.
func NewKernel(t *testing.T, frames int) *kernel.Kernel {
	t.Helper()
	return kernel.New(kernel.Options{Frames: frames, Logger: Logger(t)})
}

// RequireCleanExits fails the test if any environment of k aborted.
func RequireCleanExits(t *testing.T, k *kernel.Kernel) {
	t.Helper()
	for _, r := range k.Exits() {
		if r.Err != nil {
			t.Fatalf("env %s: %v", r.ID, r.Err)
		}
	}
}
