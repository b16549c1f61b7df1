// ABOUTME: Dependency installer that runs the package manager against a materialized workspace.
// ABOUTME: Bounded timeout, bounded output capture, result-not-error semantics for install failures.
package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// ErrMissingManifest is returned when a workspace has no package.json. No
// process is spawned in that case.
var ErrMissingManifest = errors.New("workspace has no package.json")

// DefaultInstallTimeout bounds a single install run.
const DefaultInstallTimeout = 2 * time.Minute

// maxErrorDetail caps captured installer output; the tail is kept because
// npm prints the actionable error last.
const maxErrorDetail = 8 * 1024

// InstallResult reports the outcome of one install run. Install failures are
// data, not errors: non-zero exits land here with the captured output.
type InstallResult struct {
	Success     bool   `json:"success"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

// Installer runs `npm install` against workspaces. The npm binary path is
// resolved once at construction and injected, so tests can point it at a fake.
type Installer struct {
	npmBin  string
	timeout time.Duration
}

// NewInstaller returns an Installer using the given npm binary path. A zero
// timeout selects DefaultInstallTimeout.
func NewInstaller(npmBin string, timeout time.Duration) *Installer {
	if timeout <= 0 {
		timeout = DefaultInstallTimeout
	}
	return &Installer{npmBin: npmBin, timeout: timeout}
}

// Install runs the package manager's install step in wsPath. It returns
// ErrMissingManifest when there is no package.json; every other failure mode
// (non-zero exit, timeout) is reported through the result, never an error.
// Also usable standalone as a prewarm, decoupled from booting a server.
func (i *Installer) Install(ctx context.Context, wsPath string) (InstallResult, error) {
	if _, err := os.Stat(filepath.Join(wsPath, "package.json")); err != nil {
		if os.IsNotExist(err) {
			return InstallResult{}, ErrMissingManifest
		}
		return InstallResult{}, fmt.Errorf("stat package.json: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, i.npmBin, "install", "--no-audit", "--no-fund")
	cmd.Dir = wsPath

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	err := cmd.Run()
	if err == nil {
		return InstallResult{Success: true}, nil
	}

	detail := tailString(combined.String(), maxErrorDetail)
	if ctx.Err() == context.DeadlineExceeded {
		detail = fmt.Sprintf("install timed out after %s\n%s", i.timeout, detail)
	} else if detail == "" {
		detail = err.Error()
	}
	return InstallResult{Success: false, ErrorDetail: detail}, nil
}

// tailString returns at most the last max bytes of s.
func tailString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
