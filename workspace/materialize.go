// ABOUTME: Materializer writes a generation's file set into an isolated on-disk workspace.
// ABOUTME: Wipe-and-rewrite semantics with traversal guards on every written path.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389-research/previewd/gen"
)

// ErrPathEscape is returned when a relative path resolves outside the
// workspace root.
var ErrPathEscape = errors.New("path escapes workspace root")

// Materializer creates and maintains per-generation workspace directories
// under a single root.
type Materializer struct {
	root string
}

// NewMaterializer returns a Materializer rooted at the given directory. The
// directory is created on first materialize, not here.
func NewMaterializer(root string) *Materializer {
	return &Materializer{root: root}
}

// Path returns the workspace directory for a generation id. The directory may
// not exist yet.
func (m *Materializer) Path(generationID string) string {
	return filepath.Join(m.root, generationID)
}

// Materialize writes every file of a generation into a fresh workspace
// directory and returns its path. Any pre-existing workspace for the
// generation is destroyed first: callers must not assume incremental behavior.
func (m *Materializer) Materialize(generationID string, files []gen.GenerationFile) (string, error) {
	wsPath := m.Path(generationID)

	if err := os.RemoveAll(wsPath); err != nil {
		return "", fmt.Errorf("clear workspace %s: %w", wsPath, err)
	}
	if err := os.MkdirAll(wsPath, 0o755); err != nil {
		return "", fmt.Errorf("create workspace %s: %w", wsPath, err)
	}

	for _, f := range files {
		if err := WriteFile(wsPath, f.Path, []byte(f.Content)); err != nil {
			return "", fmt.Errorf("materialize %s: %w", f.Path, err)
		}
	}
	return wsPath, nil
}

// Destroy removes a generation's workspace directory entirely. Removing a
// workspace that does not exist is a no-op.
func (m *Materializer) Destroy(generationID string) error {
	if err := os.RemoveAll(m.Path(generationID)); err != nil {
		return fmt.Errorf("destroy workspace: %w", err)
	}
	return nil
}

// WriteFile writes a single file under wsPath, creating parent directories as
// needed. It rejects relative paths that resolve outside the workspace, which
// defends against a generated path containing "..".
func WriteFile(wsPath, relPath string, content []byte) error {
	target, err := securePath(wsPath, relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directories for %s: %w", relPath, err)
	}
	if err := os.WriteFile(target, content, 0o644); err != nil {
		return fmt.Errorf("write file %s: %w", relPath, err)
	}
	return nil
}

// ReadFile reads a single file under wsPath with the same traversal guard as
// WriteFile. Used by the proxy when serving static-family workspaces.
func ReadFile(wsPath, relPath string) ([]byte, error) {
	target, err := securePath(wsPath, relPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", relPath, err)
	}
	return data, nil
}

// securePath joins relPath onto wsPath and verifies the result is still inside
// the workspace.
func securePath(wsPath, relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathEscape)
	}
	target := filepath.Join(wsPath, filepath.FromSlash(relPath))

	absRoot, err := filepath.Abs(wsPath)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve target path: %w", err)
	}
	if absTarget != absRoot && !strings.HasPrefix(absTarget, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, relPath)
	}
	return target, nil
}
