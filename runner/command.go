// ABOUTME: Dev-server launch command construction from a workspace's manifest.
// ABOUTME: Closed lookup table keyed by output family: preferred run script plus CLI fallback.
package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/2389-research/previewd/gen"
)

// launchSpec describes how to boot a dev server for one output family: the
// manifest script to prefer and the direct CLI invocation to fall back to.
type launchSpec struct {
	script   string
	fallback []string
}

// launchSpecs is the closed set of bootable output families. Static
// generations never boot a process and deliberately have no entry here.
var launchSpecs = map[gen.OutputFamily]launchSpec{
	gen.FamilyServer: {
		script:   "dev",
		fallback: []string{"vite"},
	},
}

// BuildCommand returns the argv to launch a dev server for the given family,
// bound to all interfaces on the given port so a proxy in another network
// namespace can reach it. The workspace manifest's declared run script wins
// when present; otherwise the build tool's CLI is invoked directly via npx.
func BuildCommand(npmBin, npxBin, wsPath string, family gen.OutputFamily, port int) ([]string, error) {
	spec, ok := launchSpecs[family]
	if !ok {
		return nil, fmt.Errorf("output family %q does not boot a dev server", family)
	}

	portArgs := []string{"--host", "0.0.0.0", "--port", strconv.Itoa(port)}

	if hasRunScript(wsPath, spec.script) {
		argv := []string{npmBin, "run", spec.script, "--"}
		return append(argv, portArgs...), nil
	}

	argv := append([]string{npxBin}, spec.fallback...)
	return append(argv, portArgs...), nil
}

// hasRunScript reports whether the workspace's package.json declares the
// named script. Unreadable or malformed manifests select the fallback.
func hasRunScript(wsPath, name string) bool {
	data, err := os.ReadFile(filepath.Join(wsPath, "package.json"))
	if err != nil {
		return false
	}
	var manifest struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return false
	}
	_, ok := manifest.Scripts[name]
	return ok
}
