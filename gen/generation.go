// ABOUTME: Generation and GenerationFile data models consumed by the preview orchestrator.
// ABOUTME: Defines output families, generation statuses, and file path validation.
package gen

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// OutputFamily determines how a generation's files are made browsable: behind a
// dev-server process, or served directly as static files.
type OutputFamily string

const (
	FamilyServer OutputFamily = "server"
	FamilyStatic OutputFamily = "static"
)

// GenerationStatus is the lifecycle status of a generation. Preview setup is
// refused unless the generation is complete.
type GenerationStatus string

const (
	StatusPending  GenerationStatus = "pending"
	StatusComplete GenerationStatus = "complete"
	StatusFailed   GenerationStatus = "failed"
)

// Generation is one completed (or in-progress) code-generation run. The
// orchestrator consumes its file set and output family; it does not produce them.
type Generation struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	OutputFamily OutputFamily     `json:"output_family"`
	Status       GenerationStatus `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
}

// GenerationFile is one file belonging to a generation. Immutable once written,
// except through the single-file live-edit path.
type GenerationFile struct {
	ID           int64     `json:"id"`
	GenerationID string    `json:"generation_id"`
	Path         string    `json:"path"`
	Content      string    `json:"content"`
	FileType     string    `json:"file_type"`
	IsScaffold   bool      `json:"is_scaffold"`
	CreatedAt    time.Time `json:"created_at"`
}

// ErrInvalidPath is returned when a file path is absolute, empty, or escapes
// the generation root via "..".
var ErrInvalidPath = errors.New("invalid generation file path")

// ValidatePath checks that a generation file path is a clean, relative,
// forward-slash path with no traversal segments. Generated paths are untrusted
// input: a hostile ".." would otherwise escape the workspace on materialize.
func ValidatePath(p string) error {
	if p == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	if strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return fmt.Errorf("%w: %q must be relative with forward slashes", ErrInvalidPath, p)
	}
	clean := path.Clean(p)
	if clean != p {
		return fmt.Errorf("%w: %q is not in canonical form", ErrInvalidPath, p)
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: %q escapes the generation root", ErrInvalidPath, p)
	}
	return nil
}

// ValidOutputFamily reports whether f is a known output family.
func ValidOutputFamily(f OutputFamily) bool {
	return f == FamilyServer || f == FamilyStatic
}
