// ABOUTME: PreviewSession data model: one attempt to make a generation live-browsable.
// ABOUTME: Tracks the creating/installing/booting/running/stopped/error lifecycle.
package session

import (
	"time"

	"github.com/2389-research/previewd/gen"
)

// Status is the lifecycle state of a preview session.
type Status string

const (
	StatusCreating   Status = "creating"
	StatusInstalling Status = "installing"
	StatusBooting    Status = "booting"
	StatusRunning    Status = "running"
	StatusStopped    Status = "stopped"
	StatusError      Status = "error"
)

// PreviewSession is the orchestrator's primary mutable record. A new record is
// created for every setup lifecycle; stop/restart never reuses one. Port stays
// zero for static sessions and for server sessions that never reached boot.
type PreviewSession struct {
	ID             string           `json:"id"`
	GenerationID   string           `json:"generation_id"`
	UserID         string           `json:"user_id,omitempty"`
	WorkspacePath  string           `json:"workspace_path,omitempty"`
	Port           int              `json:"port"`
	PreviewType    gen.OutputFamily `json:"preview_type"`
	Status         Status           `json:"status"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	LastActivityAt time.Time        `json:"last_activity_at"`
	StoppedAt      *time.Time       `json:"stopped_at,omitempty"`
}

// Running reports whether the session currently claims a live preview.
func (s *PreviewSession) Running() bool {
	return s.Status == StatusRunning
}

// IdleFor returns how long the session has gone without proxied activity.
func (s *PreviewSession) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivityAt)
}
