// ABOUTME: Tests for the session store: lifecycle updates, latest-per-generation, port queries.
// ABOUTME: Uses a throwaway SQLite database per test.
package session

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/2389-research/previewd/gen"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := openTestStore(t)

	sess, err := s.Create("gen-1", "user-1", gen.FamilyServer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected non-empty session ID")
	}
	if sess.Status != StatusCreating {
		t.Errorf("expected status %q, got %q", StatusCreating, sess.Status)
	}

	got, err := s.Get(sess.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.GenerationID != "gen-1" || got.UserID != "user-1" {
		t.Errorf("unexpected session fields: %+v", got)
	}
	if got.Port != 0 {
		t.Errorf("expected zero port before allocation, got %d", got.Port)
	}
}

func TestGetNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLatestByGenerationOrdersByCreation(t *testing.T) {
	s := openTestStore(t)

	older, err := s.Create("gen-1", "", gen.FamilyServer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// ULIDs embed millisecond timestamps; ensure distinct ordering.
	time.Sleep(2 * time.Millisecond)
	newer, err := s.Create("gen-1", "", gen.FamilyServer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	latest, err := s.LatestByGeneration("gen-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest.ID != newer.ID {
		t.Errorf("expected latest session %s, got %s (older was %s)", newer.ID, latest.ID, older.ID)
	}
}

func TestStatusTransitionsAndError(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.Create("gen-1", "", gen.FamilyServer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, status := range []Status{StatusInstalling, StatusBooting, StatusRunning} {
		if err := s.SetStatus(sess.ID, status); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if err := s.SetError(sess.ID, "npm exploded"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.Get(sess.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusError {
		t.Errorf("expected status %q, got %q", StatusError, got.Status)
	}
	if got.ErrorMessage != "npm exploded" {
		t.Errorf("expected error message recorded, got %q", got.ErrorMessage)
	}
}

func TestMarkStoppedStampsTime(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.Create("gen-1", "", gen.FamilyStatic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.MarkStopped(sess.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.Get(sess.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusStopped {
		t.Errorf("expected status %q, got %q", StatusStopped, got.Status)
	}
	if got.StoppedAt == nil {
		t.Error("expected stopped_at to be set")
	}
}

func TestRunningPortsExcludesNonRunning(t *testing.T) {
	s := openTestStore(t)

	running, err := s.Create("gen-1", "", gen.FamilyServer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SetPort(running.ID, 4311); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SetStatus(running.ID, StatusRunning); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	errored, err := s.Create("gen-2", "", gen.FamilyServer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SetPort(errored.ID, 4312); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SetError(errored.ID, "boot raced"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ports, err := s.RunningPorts()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ports[4311] {
		t.Error("expected running session's port in exclusion set")
	}
	if ports[4312] {
		t.Error("expected errored session's port released from exclusion set")
	}
}

func TestTouchUpdatesActivity(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.Create("gen-1", "", gen.FamilyServer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	past := time.Now().Add(-time.Hour)
	if err := s.SetLastActivity(sess.ID, past); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Touch(sess.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.Get(sess.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.IdleFor(time.Now()) > time.Minute {
		t.Errorf("expected recent activity after touch, idle for %s", got.IdleFor(time.Now()))
	}
}
