// ABOUTME: Windows process supervisor: netstat PID-on-port lookup and taskkill termination.
// ABOUTME: Guarantees SYSTEMROOT in the child env so Node's crypto subsystem initializes.
//go:build windows

package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/2389-research/previewd/gen"
)

type windowsSupervisor struct {
	cfg Config
}

func newPlatformSupervisor(cfg Config) Supervisor {
	return &windowsSupervisor{cfg: cfg}
}

// Start launches the dev server detached and verifies it survived the grace
// period.
func (s *windowsSupervisor) Start(ctx context.Context, wsPath string, family gen.OutputFamily, port int) (int, error) {
	argv, err := BuildCommand(s.cfg.NpmBin, s.cfg.NpxBin, wsPath, family, port)
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = wsPath
	cmd.Env = childEnv(systemRootExtras()...)

	logFile, err := os.OpenFile(filepath.Join(wsPath, ".previewd.log"),
		os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err == nil {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return 0, fmt.Errorf("%w: %v", ErrServerStartFailed, err)
	}
	pid := cmd.Process.Pid

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		if logFile != nil {
			_ = logFile.Close()
		}
		close(exited)
	}()

	select {
	case <-ctx.Done():
		_ = killTree(pid)
		return 0, ctx.Err()
	case <-exited:
		return 0, fmt.Errorf("%w: process %d exited within %s grace period", ErrServerStartFailed, pid, s.cfg.GracePeriod)
	case <-time.After(s.cfg.GracePeriod):
	}
	return pid, nil
}

// StopByPort terminates every process listening on the given TCP port via
// netstat PID discovery plus taskkill. Nothing listening is a no-op success.
func (s *windowsSupervisor) StopByPort(port int) error {
	out, err := exec.Command("netstat", "-ano", "-p", "tcp").Output()
	if err != nil {
		return fmt.Errorf("netstat: %w", err)
	}

	suffix := fmt.Sprintf(":%d", port)
	seen := map[int]bool{}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		// Proto LocalAddress ForeignAddress State PID
		if len(fields) < 5 || !strings.EqualFold(fields[3], "LISTENING") {
			continue
		}
		if !strings.HasSuffix(fields[1], suffix) {
			continue
		}
		pid, convErr := strconv.Atoi(fields[4])
		if convErr != nil || pid <= 0 || seen[pid] {
			continue
		}
		seen[pid] = true
		if killErr := killTree(pid); killErr != nil {
			return killErr
		}
	}
	return nil
}

// killTree forcibly terminates a process and its children.
func killTree(pid int) error {
	err := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid)).Run()
	if err != nil {
		// taskkill exits 128 when the process is already gone.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 128 {
			return nil
		}
		return fmt.Errorf("taskkill pid %d: %w", pid, err)
	}
	return nil
}

// systemRootExtras returns a SYSTEMROOT assignment when the parent env lacks
// one. Node's OpenSSL init aborts without it.
func systemRootExtras() []string {
	for _, entry := range os.Environ() {
		name, _, _ := strings.Cut(entry, "=")
		if strings.EqualFold(name, "SYSTEMROOT") {
			return nil
		}
	}
	return []string{`SYSTEMROOT=C:\Windows`}
}

var _ Supervisor = (*windowsSupervisor)(nil)
