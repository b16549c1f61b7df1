// ABOUTME: Process supervisor contract for booting and stopping dev-server processes.
// ABOUTME: Platform variance (PID-on-port lookup, kill mechanism, child env) lives behind this interface.
package runner

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/2389-research/previewd/gen"
)

// ErrServerStartFailed is returned when the dev server dies within the grace
// window, including losing the probe-then-bind port race. It is an expected,
// retryable setup failure.
var ErrServerStartFailed = errors.New("dev server failed to start")

// DefaultGracePeriod is how long Start waits before checking the child is
// still alive.
const DefaultGracePeriod = 2 * time.Second

// Supervisor starts and stops dev-server processes. Implementations are
// selected per host OS at startup; the rest of the system stays
// platform-agnostic.
type Supervisor interface {
	// Start launches the dev server for the workspace as a detached
	// background process bound to port, waits the grace period, and returns
	// the pid if the process survived. The process is allowed to run
	// indefinitely; sending output anywhere visible is its own problem.
	Start(ctx context.Context, wsPath string, family gen.OutputFamily, port int) (pid int, err error)

	// StopByPort terminates whatever process is bound to the given port.
	// Idempotent: nothing listening is a no-op success.
	StopByPort(port int) error
}

// Config holds the tool binary paths and timing knobs for a Supervisor. The
// npm/npx paths are resolved once at process start and injected, never
// lazily memoized.
type Config struct {
	NpmBin      string
	NpxBin      string
	GracePeriod time.Duration
}

// New returns the Supervisor implementation for the current OS, selected by
// build tag.
func New(cfg Config) Supervisor {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	return newPlatformSupervisor(cfg)
}

// sensitiveSuffixes are env var name suffixes never passed to dev-server
// children.
var sensitiveSuffixes = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// childEnv builds the environment for a dev-server child: the parent
// environment minus credential-shaped variables, plus any platform extras
// (the Windows supervisor appends SYSTEMROOT so the child's crypto subsystem
// can initialize).
func childEnv(extra ...string) []string {
	var env []string
	for _, entry := range os.Environ() {
		name, _, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		if isSensitiveVar(name) {
			continue
		}
		env = append(env, entry)
	}
	return append(env, extra...)
}

func isSensitiveVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, suffix := range sensitiveSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}
