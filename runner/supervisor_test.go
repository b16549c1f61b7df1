// ABOUTME: Tests for the POSIX process supervisor using fake dev-server scripts.
// ABOUTME: Covers grace-period survival, early-exit failure, idempotent stop, and env filtering.
//go:build !windows

package runner

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/2389-research/previewd/gen"
)

// fakeNpx writes an executable script standing in for npx.
func fakeNpx(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "npx")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return path
}

func TestStartSurvivesGracePeriod(t *testing.T) {
	npx := fakeNpx(t, "sleep 30")
	sup := New(Config{NpmBin: "npm", NpxBin: npx, GracePeriod: 150 * time.Millisecond})
	wsPath := t.TempDir()

	pid, err := sup.Start(context.Background(), wsPath, gen.FamilyServer, 4399)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pid <= 0 {
		t.Fatalf("expected positive pid, got %d", pid)
	}
	t.Cleanup(func() {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		_ = syscall.Kill(pid, syscall.SIGKILL)
	})

	if err := syscall.Kill(pid, syscall.Signal(0)); err != nil {
		t.Errorf("expected process %d alive after grace period: %v", pid, err)
	}
}

func TestStartEarlyExitFails(t *testing.T) {
	npx := fakeNpx(t, "echo 'port already in use' >&2; exit 1")
	sup := New(Config{NpmBin: "npm", NpxBin: npx, GracePeriod: 150 * time.Millisecond})

	_, err := sup.Start(context.Background(), t.TempDir(), gen.FamilyServer, 4399)
	if !errors.Is(err, ErrServerStartFailed) {
		t.Fatalf("expected ErrServerStartFailed, got %v", err)
	}
}

func TestStartCancelledContext(t *testing.T) {
	npx := fakeNpx(t, "sleep 30")
	sup := New(Config{NpmBin: "npm", NpxBin: npx, GracePeriod: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := sup.Start(ctx, t.TempDir(), gen.FamilyServer, 4399); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStopByPortNothingListening(t *testing.T) {
	sup := New(Config{NpmBin: "npm", NpxBin: "npx"})

	// Grab a port that is definitely free, then release it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	if err := sup.StopByPort(port); err != nil {
		t.Errorf("expected no-op success for free port, got %v", err)
	}
	// Idempotent: a second call is still a no-op.
	if err := sup.StopByPort(port); err != nil {
		t.Errorf("expected no-op success on repeat stop, got %v", err)
	}
}

func TestChildEnvFiltersCredentials(t *testing.T) {
	t.Setenv("PREVIEWD_TEST_API_KEY", "secret")
	t.Setenv("PREVIEWD_TEST_HARMLESS", "ok")

	env := childEnv()
	for _, entry := range env {
		if strings.HasPrefix(entry, "PREVIEWD_TEST_API_KEY=") {
			t.Error("expected credential-shaped variable filtered from child env")
		}
	}

	found := false
	for _, entry := range env {
		if entry == "PREVIEWD_TEST_HARMLESS=ok" {
			found = true
		}
	}
	if !found {
		t.Error("expected harmless variable inherited by child env")
	}
}
