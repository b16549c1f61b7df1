// ABOUTME: Tests for entrypoint normalization against real workspace trees.
// ABOUTME: Covers extension drift, mount id drift, and the no-op cases.
package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeWorkspaceFile(t *testing.T, wsPath, rel, content string) {
	t.Helper()
	full := filepath.Join(wsPath, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNormalizeEntrypointFixesExtensionAndMountID(t *testing.T) {
	wsPath := t.TempDir()
	writeWorkspaceFile(t, wsPath, "package.json", `{"name":"app"}`)
	writeWorkspaceFile(t, wsPath, "src/main.ts",
		`import { createApp } from "vue"
import App from "./App.vue"
createApp(App).mount("#app")
`)

	html := []byte(`<!doctype html>
<html>
  <body>
    <div id="root"></div>
    <script type="module" src="/src/main.tsx"></script>
  </body>
</html>`)

	out := string(NormalizeEntrypoint(wsPath, html))

	if !strings.Contains(out, `src="/src/main.ts"`) {
		t.Errorf("expected script src rewritten to /src/main.ts, got:\n%s", out)
	}
	if strings.Contains(out, "main.tsx") {
		t.Errorf("expected stale .tsx reference removed, got:\n%s", out)
	}
	if !strings.Contains(out, `<div id="app"></div>`) {
		t.Errorf("expected mount id rewritten to app, got:\n%s", out)
	}
}

func TestNormalizeEntrypointGetElementByID(t *testing.T) {
	wsPath := t.TempDir()
	writeWorkspaceFile(t, wsPath, "src/main.tsx",
		`import ReactDOM from "react-dom/client"
ReactDOM.createRoot(document.getElementById("root")!).render(<App />)
`)

	html := []byte(`<div id="app"></div>
<script type="module" src="/src/main.tsx"></script>`)

	out := string(NormalizeEntrypoint(wsPath, html))
	if !strings.Contains(out, `<div id="root"></div>`) {
		t.Errorf("expected mount id rewritten to root, got:\n%s", out)
	}
	if !strings.Contains(out, `src="/src/main.tsx"`) {
		t.Errorf("expected matching script src left alone, got:\n%s", out)
	}
}

func TestNormalizeEntrypointNoEntryIsNoop(t *testing.T) {
	wsPath := t.TempDir()
	html := []byte(`<script type="module" src="/src/main.tsx"></script>`)

	out := NormalizeEntrypoint(wsPath, html)
	if string(out) != string(html) {
		t.Error("expected no-op when workspace has no entry script")
	}
}

func TestNormalizeEntrypointMatchingInputUnchanged(t *testing.T) {
	wsPath := t.TempDir()
	writeWorkspaceFile(t, wsPath, "src/main.ts", `document.querySelector("#app")`)

	html := []byte(`<div id="app"></div>
<script type="module" src="/src/main.ts"></script>`)

	out := NormalizeEntrypoint(wsPath, html)
	if string(out) != string(html) {
		t.Errorf("expected already-correct HTML unchanged, got:\n%s", out)
	}
}
