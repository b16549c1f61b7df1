// ABOUTME: End-to-end handler tests over the full chi router with real sqlite
// ABOUTME: stores: ingest, file APIs, live edit, and the static preview flow.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/2389-research/previewd/gen"
	"github.com/2389-research/previewd/session"
	"github.com/2389-research/previewd/workspace"
)

type nullSupervisor struct{}

func (nullSupervisor) Start(ctx context.Context, wsPath string, family gen.OutputFamily, port int) (int, error) {
	return 4242, nil
}

func (nullSupervisor) StopByPort(port int) error { return nil }

type webEnv struct {
	server  *Server
	gens    *gen.Store
	manager *session.Manager
	wsRoot  string
}

func newWebEnv(t *testing.T) *webEnv {
	t.Helper()
	dir := t.TempDir()

	gens, err := gen.Open(filepath.Join(dir, "generations.db"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = gens.Close() })

	sessions, err := session.Open(filepath.Join(dir, "sessions.db"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = sessions.Close() })

	wsRoot := filepath.Join(dir, "workspaces")
	mat := workspace.NewMaterializer(wsRoot)
	installer := workspace.NewInstaller("npm", time.Minute)
	manager := session.NewManager(sessions, gens, mat, installer, nullSupervisor{}, session.Config{
		PortRangeMin:  43200,
		PortRangeMax:  43240,
		IdleTimeout:   30 * time.Minute,
		PublicBaseURL: "http://127.0.0.1:8700",
	})

	srv := NewServer(gens, manager, mat, installer)
	return &webEnv{server: srv, gens: gens, manager: manager, wsRoot: wsRoot}
}

func (e *webEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

func ingestStatic(t *testing.T, env *webEnv) string {
	t.Helper()
	rec := env.do(t, "POST", "/api/generations", map[string]any{
		"name":          "landing page",
		"output_family": "static",
		"files": []map[string]any{
			{"path": "index.html", "content": `<html><body><script src="/app.js"></script></body></html>`},
			{"path": "app.js", "content": "console.log('hi')"},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest status = %d, body %s", rec.Code, rec.Body.String())
	}
	var g gen.Generation
	decodeBody(t, rec, &g)
	if g.ID == "" || g.Status != gen.StatusComplete {
		t.Fatalf("unexpected generation: %+v", g)
	}
	return g.ID
}

func TestHealth(t *testing.T) {
	env := newWebEnv(t)
	rec := env.do(t, "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestIngestValidation(t *testing.T) {
	env := newWebEnv(t)

	rec := env.do(t, "POST", "/api/generations", map[string]any{"name": "empty", "files": []any{}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty files: status = %d", rec.Code)
	}

	rec = env.do(t, "POST", "/api/generations", map[string]any{
		"name":          "bad family",
		"output_family": "desktop",
		"files":         []map[string]any{{"path": "a.txt", "content": "x"}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad family: status = %d", rec.Code)
	}

	rec = env.do(t, "POST", "/api/generations", map[string]any{
		"name":  "traversal",
		"files": []map[string]any{{"path": "../evil.sh", "content": "x"}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("traversal path: status = %d", rec.Code)
	}
}

func TestFileTreeAndContent(t *testing.T) {
	env := newWebEnv(t)
	id := ingestStatic(t, env)

	rec := env.do(t, "GET", "/api/generations/"+id+"/files", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("tree status = %d", rec.Code)
	}
	var tree struct {
		Files []gen.TreeEntry `json:"files"`
	}
	decodeBody(t, rec, &tree)
	if len(tree.Files) != 2 {
		t.Fatalf("tree entries = %d, want 2", len(tree.Files))
	}

	rec = env.do(t, "GET", "/api/generations/"+id+"/files/content?path=index.html", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("content status = %d", rec.Code)
	}
	var f gen.GenerationFile
	decodeBody(t, rec, &f)
	if !strings.Contains(f.Content, "app.js") {
		t.Errorf("content = %q", f.Content)
	}

	rec = env.do(t, "GET", "/api/generations/"+id+"/files/content?path=missing.txt", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing file: status = %d", rec.Code)
	}
}

func TestStaticPreviewLifecycle(t *testing.T) {
	env := newWebEnv(t)
	id := ingestStatic(t, env)

	// No session yet.
	rec := env.do(t, "GET", "/api/generations/"+id+"/preview", nil)
	var status map[string]any
	decodeBody(t, rec, &status)
	if status["status"] != "none" {
		t.Fatalf("initial status = %v", status["status"])
	}

	// Setup goes straight to running for static generations.
	rec = env.do(t, "POST", "/api/generations/"+id+"/preview", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("setup status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result session.SetupResult
	decodeBody(t, rec, &result)
	if result.Status != session.SetupStatic || !result.Session.Running() {
		t.Fatalf("unexpected setup result: %+v", result)
	}

	// Proxy serves the materialized workspace with rewritten HTML.
	rec = env.do(t, "GET", "/preview/"+id+"/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("proxy status = %d", rec.Code)
	}
	if want := fmt.Sprintf(`src="/preview/%s/app.js"`, id); !strings.Contains(rec.Body.String(), want) {
		t.Errorf("proxied html missing %q:\n%s", want, rec.Body.String())
	}

	// Bare mount redirects to the trailing-slash form.
	rec = env.do(t, "GET", "/preview/"+id, nil)
	if rec.Code != http.StatusMovedPermanently {
		t.Errorf("redirect status = %d", rec.Code)
	}

	// Stop, then status reports the stopped session and the proxy refuses.
	rec = env.do(t, "POST", "/api/generations/"+id+"/preview/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d", rec.Code)
	}
	rec = env.do(t, "GET", "/api/generations/"+id+"/preview", nil)
	decodeBody(t, rec, &status)
	if status["status"] != string(session.StatusStopped) {
		t.Errorf("post-stop status = %v", status["status"])
	}
	rec = env.do(t, "GET", "/preview/"+id+"/", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("proxy after stop: status = %d", rec.Code)
	}

	// Stopping again stays a success.
	rec = env.do(t, "POST", "/api/generations/"+id+"/preview/stop", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("second stop status = %d", rec.Code)
	}
}

func TestLiveEditWriteThrough(t *testing.T) {
	env := newWebEnv(t)
	id := ingestStatic(t, env)

	rec := env.do(t, "POST", "/api/generations/"+id+"/preview", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("setup status = %d", rec.Code)
	}

	rec = env.do(t, "PUT", "/api/generations/"+id+"/files", map[string]any{
		"path":    "app.js",
		"content": "console.log('edited')",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d, body %s", rec.Code, rec.Body.String())
	}
	var put map[string]any
	decodeBody(t, rec, &put)
	if put["live_updated"] != true {
		t.Fatalf("live_updated = %v", put["live_updated"])
	}

	onDisk, err := os.ReadFile(filepath.Join(env.wsRoot, id, "app.js"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(onDisk) != "console.log('edited')" {
		t.Errorf("workspace content = %q", onDisk)
	}

	f, err := env.gens.GetFile(id, "app.js")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Content != "console.log('edited')" {
		t.Errorf("stored content = %q", f.Content)
	}

	rec = env.do(t, "PUT", "/api/generations/"+id+"/files", map[string]any{
		"path":    "../outside.js",
		"content": "x",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("traversal put: status = %d", rec.Code)
	}
}

func TestPrewarm(t *testing.T) {
	env := newWebEnv(t)
	id := ingestStatic(t, env)

	// No package.json: prewarm reports a skipped install.
	rec := env.do(t, "POST", "/api/generations/"+id+"/prewarm", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("prewarm status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	decodeBody(t, rec, &resp)
	if resp["skipped"] != "no package.json" {
		t.Errorf("prewarm response = %v", resp)
	}

	// Refused while a preview is live.
	if rec = env.do(t, "POST", "/api/generations/"+id+"/preview", nil); rec.Code != http.StatusOK {
		t.Fatalf("setup status = %d", rec.Code)
	}
	rec = env.do(t, "POST", "/api/generations/"+id+"/prewarm", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("prewarm during preview: status = %d", rec.Code)
	}
}

func TestUnknownGeneration(t *testing.T) {
	env := newWebEnv(t)

	for _, tc := range []struct{ method, path string }{
		{"GET", "/api/generations/nope/"},
		{"GET", "/api/generations/nope/files"},
		{"POST", "/api/generations/nope/preview"},
		{"POST", "/api/generations/nope/prewarm"},
	} {
		rec := env.do(t, tc.method, tc.path, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: status = %d, want 404", tc.method, tc.path, rec.Code)
		}
	}
}
