//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

// cowforkBinary is the path to the built cowfork binary, set by TestMain.
var cowforkBinary string

func TestMain(m *testing.M) {
	tmpDir, err := os.MkdirTemp("", "cowfork-e2e-bin-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(tmpDir)

	cowforkBinary = filepath.Join(tmpDir, "cowfork")
	cmd := exec.Command("go", "build", "-race", "-o", cowforkBinary, "github.com/kahiteam/cowfork/cmd/cowfork")
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to build cowfork binary: %v\n", err)
		os.Exit(1)
	}

	// Suite-wide timeout fallback.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	go func() {
		<-ctx.Done()
		if ctx.Err() == context.DeadlineExceeded {
			fmt.Fprintln(os.Stderr, "E2E suite timeout exceeded (5 minutes)")
			os.Exit(2)
		}
	}()

	os.Exit(m.Run())
}

// result is the outcome of one cowfork invocation.
type result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// cowfork runs the binary in dir with args and a 30s limit.
func cowfork(t *testing.T, dir string, env []string, args ...string) result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, cowforkBinary, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "COWFORK_CONFIG=")
	cmd.Env = append(cmd.Env, env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := result{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		t.Fatalf("cowfork %v: %v", args, err)
	}
	return res
}

// writeConfig writes a cowfork.toml into dir and returns its path.
func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "cowfork.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
