// ABOUTME: Port allocator that scans a reserved TCP range for a free loopback port.
// ABOUTME: Cross-checks an exclusion set of session-claimed ports plus a live connect probe.
package runner

import (
	"fmt"
	"net"
	"time"
)

// probeTimeout bounds each loopback connect attempt. The whole scan is
// bounded by range size times this value, so keep it short.
const probeTimeout = 250 * time.Millisecond

// FindAvailablePort scans [min, max] in ascending order and returns the first
// port that is neither in the excluded set nor accepting connections on
// loopback. A successful connect means something is listening, even a process
// outside this system, so the candidate is skipped. Returns false when the
// range is exhausted.
//
// The check is inherently racy against the eventual bind: callers must treat
// a later bind failure as a recoverable setup error, not a crash.
func FindAvailablePort(min, max int, excluded map[int]bool) (int, bool) {
	for port := min; port <= max; port++ {
		if excluded[port] {
			continue
		}
		if PortInUse(port) {
			continue
		}
		return port, true
	}
	return 0, false
}

// PortInUse reports whether something accepts TCP connections on the loopback
// interface at the given port.
func PortInUse(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), probeTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
