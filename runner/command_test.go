// ABOUTME: Tests for dev-server launch command construction from workspace manifests.
// ABOUTME: Covers run-script preference, CLI fallback, and the non-bootable static family.
package runner

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/2389-research/previewd/gen"
)

func writeManifest(t *testing.T, wsPath, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(wsPath, "package.json"), []byte(content), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBuildCommandPrefersDevScript(t *testing.T) {
	wsPath := t.TempDir()
	writeManifest(t, wsPath, `{"name":"app","scripts":{"dev":"vite"}}`)

	argv, err := BuildCommand("/usr/bin/npm", "/usr/bin/npx", wsPath, gen.FamilyServer, 4310)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"/usr/bin/npm", "run", "dev", "--", "--host", "0.0.0.0", "--port", "4310"}
	if !reflect.DeepEqual(argv, want) {
		t.Errorf("expected %v, got %v", want, argv)
	}
}

func TestBuildCommandFallsBackToCLI(t *testing.T) {
	wsPath := t.TempDir()
	writeManifest(t, wsPath, `{"name":"app"}`)

	argv, err := BuildCommand("/usr/bin/npm", "/usr/bin/npx", wsPath, gen.FamilyServer, 4310)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"/usr/bin/npx", "vite", "--host", "0.0.0.0", "--port", "4310"}
	if !reflect.DeepEqual(argv, want) {
		t.Errorf("expected %v, got %v", want, argv)
	}
}

func TestBuildCommandMissingManifestUsesFallback(t *testing.T) {
	argv, err := BuildCommand("npm", "npx", t.TempDir(), gen.FamilyServer, 4310)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if argv[0] != "npx" {
		t.Errorf("expected npx fallback, got %v", argv)
	}
}

func TestBuildCommandStaticFamilyRejected(t *testing.T) {
	if _, err := BuildCommand("npm", "npx", t.TempDir(), gen.FamilyStatic, 4310); err == nil {
		t.Fatal("expected error for static family")
	}
}
