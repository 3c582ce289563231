package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHostRunsInWorkspaceWithEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	h := NewHost(discardLogger(), []string{"BASE_VAR=base"})
	res, err := h.Run(context.Background(), Command{
		Dir:  dir,
		Line: `sh -c 'ls; echo "$BASE_VAR $EXTRA_VAR"'`,
		Env:  []string{"EXTRA_VAR=extra"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(res.Output, "marker.txt") || !strings.Contains(res.Output, "base extra") {
		t.Fatalf("unexpected output %q", res.Output)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", res.ExitCode)
	}
}

func TestHostReportsExitStatus(t *testing.T) {
	h := NewHost(discardLogger(), nil)
	res, err := h.Run(context.Background(), Command{Dir: t.TempDir(), Line: `sh -c 'echo boom >&2; exit 3'`})
	if err == nil {
		t.Fatalf("expected failure")
	}
	if errors.Is(err, ErrTimedOut) {
		t.Fatalf("exit status must not look like a timeout: %v", err)
	}
	if res.ExitCode != 3 || !strings.Contains(res.Output, "boom") {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestHostTimesOut(t *testing.T) {
	h := NewHost(discardLogger(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := h.Run(ctx, Command{Dir: t.TempDir(), Line: "sleep 5"})
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}
}

func TestHostTimeoutKillsSpawnedProcesses(t *testing.T) {
	h := NewHost(discardLogger(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	res, err := h.Run(ctx, Command{Dir: t.TempDir(), Line: `sh -c 'sleep 5; echo x'`})
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("run returned after %s, want the deadline to stop it", elapsed)
	}
	if strings.Contains(res.Output, "x") {
		t.Fatalf("spawned process kept running: %q", res.Output)
	}
}

func TestSplitHonoursQuotes(t *testing.T) {
	args, err := Split(`npm run "build prod"`)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(args) != 3 || args[2] != "build prod" {
		t.Fatalf("unexpected args %q", args)
	}
	if _, err := Split("   "); err == nil {
		t.Fatalf("expected empty command to be rejected")
	}
}

func TestTail(t *testing.T) {
	if got := Tail("a\nb\nc\n", 2); got != "b\nc" {
		t.Fatalf("unexpected tail %q", got)
	}
	if got := Tail("", 5); got != "" {
		t.Fatalf("expected empty tail, got %q", got)
	}
}
