// ABOUTME: POSIX process supervisor: detached process groups, lsof PID-on-port lookup,
// ABOUTME: SIGTERM-then-SIGKILL termination of whatever holds a port.
//go:build !windows

package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/2389-research/previewd/gen"
)

type posixSupervisor struct {
	cfg Config
}

func newPlatformSupervisor(cfg Config) Supervisor {
	return &posixSupervisor{cfg: cfg}
}

// Start launches the dev server in its own process group so the whole tree
// can be signalled together, then verifies it survived the grace period.
func (s *posixSupervisor) Start(ctx context.Context, wsPath string, family gen.OutputFamily, port int) (int, error) {
	argv, err := BuildCommand(s.cfg.NpmBin, s.cfg.NpxBin, wsPath, family, port)
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = wsPath
	cmd.Env = childEnv()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Dev-server output goes to a log file in the workspace; the process
	// runs indefinitely so nothing may block on its pipes.
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

	// Reap the child whenever it exits so it never zombies.
	go func() {
		_ = cmd.Wait()
		if logFile != nil {
			_ = logFile.Close()
		}
	}()

	select {
	case <-ctx.Done():
		s.killGroup(pid)
		return 0, ctx.Err()
	case <-time.After(s.cfg.GracePeriod):
	}

	// Signal 0 probes existence without delivering anything. A dead child
	// here usually means a bad manifest or a lost port-bind race.
	if err := syscall.Kill(pid, syscall.Signal(0)); err != nil {
		return 0, fmt.Errorf("%w: process %d exited within %s grace period", ErrServerStartFailed, pid, s.cfg.GracePeriod)
	}
	return pid, nil
}

// StopByPort terminates every process listening on the given TCP port.
// Nothing listening is a no-op success.
func (s *posixSupervisor) StopByPort(port int) error {
	out, err := exec.Command("lsof", "-ti", fmt.Sprintf("tcp:%d", port)).Output()
	if err != nil {
		// lsof exits 1 when no process matches.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil
		}
		return fmt.Errorf("lsof port %d: %w", port, err)
	}

	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		pid, convErr := strconv.Atoi(strings.TrimSpace(line))
		if convErr != nil || pid <= 0 {
			continue
		}
		s.killGroup(pid)
	}
	return nil
}

// killGroup sends SIGTERM to the process group (falling back to the pid),
// waits briefly, then SIGKILLs stragglers.
func (s *posixSupervisor) killGroup(pid int) {
	target := -pid
	if pgid, err := syscall.Getpgid(pid); err == nil {
		target = -pgid
	}
	if err := syscall.Kill(target, syscall.SIGTERM); err != nil {
		_ = syscall.Kill(pid, syscall.SIGTERM)
	}
	time.Sleep(500 * time.Millisecond)
	_ = syscall.Kill(target, syscall.SIGKILL)
	_ = syscall.Kill(pid, syscall.SIGKILL)
}

var _ Supervisor = (*posixSupervisor)(nil)
