// ABOUTME: Entrypoint normalization that reconciles generated index.html with the real source tree.
// ABOUTME: Fixes drifted script src extensions and mount element ids against the workspace's own files.
package workspace

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// entryCandidates are the entry scripts Vite conventionally resolves, in
// preference order. Generated scaffolds sometimes reference one extension
// while the generated source uses another.
var entryCandidates = []string{
	"src/main.ts",
	"src/main.tsx",
	"src/main.js",
	"src/main.jsx",
	"src/index.ts",
	"src/index.tsx",
	"src/index.js",
	"src/index.jsx",
}

var (
	moduleScriptRe = regexp.MustCompile(`(<script[^>]*type="module"[^>]*src=")(/[^"]+)(")`)
	mountDivRe     = regexp.MustCompile(`(<div\s+id=")([^"]+)("\s*>\s*</div>)`)

	getElementByIDRe = regexp.MustCompile(`getElementById\(\s*['"]([^'"]+)['"]\s*\)`)
	querySelectorRe  = regexp.MustCompile(`querySelector\(\s*['"]#([^'"]+)['"]\s*\)`)
	mountCallRe      = regexp.MustCompile(`\.mount\(\s*['"]#([^'"]+)['"]\s*\)`)
)

// NormalizeEntrypoint rewrites an HTML document so its module script src and
// DOM mount id match what the workspace's source tree will actually serve.
// The workspace is the source of truth, not the HTML: scaffold templates are
// known to drift (a .tsx reference against a .ts source, a stale mount id).
// The input is returned unchanged when nothing needs fixing or when the
// workspace holds no recognizable entry script.
func NormalizeEntrypoint(wsPath string, html []byte) []byte {
	entry := findEntryScript(wsPath)
	if entry == "" {
		return html
	}

	out := string(html)

	if m := moduleScriptRe.FindStringSubmatch(out); m != nil {
		referenced := strings.TrimPrefix(m[2], "/")
		if referenced != entry {
			out = moduleScriptRe.ReplaceAllString(out, "${1}/"+entry+"${3}")
		}
	}

	if mountID := findMountID(wsPath, entry); mountID != "" {
		if m := mountDivRe.FindStringSubmatch(out); m != nil && m[2] != mountID {
			out = mountDivRe.ReplaceAllString(out, "${1}"+mountID+"${3}")
		}
	}

	return []byte(out)
}

// findEntryScript returns the first conventional entry script that exists in
// the workspace, as a forward-slash relative path, or "".
func findEntryScript(wsPath string) string {
	for _, candidate := range entryCandidates {
		if _, err := os.Stat(filepath.Join(wsPath, filepath.FromSlash(candidate))); err == nil {
			return candidate
		}
	}
	return ""
}

// findMountID extracts the DOM element id the entry script mounts into, from
// the common framework idioms: getElementById, querySelector("#..."), and a
// Vue-style .mount("#...") call. Returns "" when none are present.
func findMountID(wsPath, entry string) string {
	src, err := os.ReadFile(filepath.Join(wsPath, filepath.FromSlash(entry)))
	if err != nil {
		return ""
	}
	for _, re := range []*regexp.Regexp{mountCallRe, getElementByIDRe, querySelectorRe} {
		if m := re.FindSubmatch(src); m != nil {
			return string(m[1])
		}
	}
	return ""
}
