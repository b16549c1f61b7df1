// ABOUTME: SQLite-backed store for preview sessions with ULID ids.
// ABOUTME: ULIDs sort lexically by creation time, so newest-per-generation is a plain ORDER BY.
package session

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/2389-research/previewd/gen"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Store persists preview sessions in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the session database at the given path and ensures
// the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS preview_sessions (
			session_id TEXT PRIMARY KEY,
			generation_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			workspace_path TEXT NOT NULL DEFAULT '',
			port INTEGER NOT NULL DEFAULT 0,
			preview_type TEXT NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			last_activity_at TEXT NOT NULL,
			stopped_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_generation
			ON preview_sessions(generation_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_status
			ON preview_sessions(status);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a fresh session in the creating state and returns it.
func (s *Store) Create(generationID, userID string, previewType gen.OutputFamily) (*PreviewSession, error) {
	now := time.Now().UTC()
	sess := &PreviewSession{
		ID:             ulid.Make().String(),
		GenerationID:   generationID,
		UserID:         userID,
		PreviewType:    previewType,
		Status:         StatusCreating,
		StartedAt:      now,
		LastActivityAt: now,
	}

	_, err := s.db.Exec(
		`INSERT INTO preview_sessions
			(session_id, generation_id, user_id, preview_type, status, started_at, last_activity_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.GenerationID, sess.UserID, string(sess.PreviewType), string(sess.Status),
		now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

const sessionColumns = `session_id, generation_id, user_id, workspace_path, port,
	preview_type, status, error_message, started_at, last_activity_at, stopped_at`

// Get returns the session with the given id, or ErrNotFound.
func (s *Store) Get(id string) (*PreviewSession, error) {
	row := s.db.QueryRow(
		"SELECT "+sessionColumns+" FROM preview_sessions WHERE session_id = ?", id)
	return scanSession(row)
}

// LatestByGeneration returns the most recently created session for a
// generation, regardless of status, or ErrNotFound when none exists.
func (s *Store) LatestByGeneration(generationID string) (*PreviewSession, error) {
	row := s.db.QueryRow(
		"SELECT "+sessionColumns+" FROM preview_sessions WHERE generation_id = ? ORDER BY session_id DESC LIMIT 1",
		generationID)
	return scanSession(row)
}

// RunningByGeneration returns the running session for a generation, or
// ErrNotFound. The state machine enforces at most one.
func (s *Store) RunningByGeneration(generationID string) (*PreviewSession, error) {
	row := s.db.QueryRow(
		"SELECT "+sessionColumns+` FROM preview_sessions
		 WHERE generation_id = ? AND status = ? ORDER BY session_id DESC LIMIT 1`,
		generationID, string(StatusRunning))
	return scanSession(row)
}

// Running returns every session currently in the running state.
func (s *Store) Running() ([]*PreviewSession, error) {
	rows, err := s.db.Query(
		"SELECT "+sessionColumns+" FROM preview_sessions WHERE status = ? ORDER BY session_id ASC",
		string(StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("query running sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*PreviewSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// RunningPorts returns the ports claimed by running sessions, for the port
// allocator's exclusion set.
func (s *Store) RunningPorts() (map[int]bool, error) {
	rows, err := s.db.Query(
		"SELECT port FROM preview_sessions WHERE status = ? AND port > 0", string(StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("query running ports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ports := make(map[int]bool)
	for rows.Next() {
		var port int
		if err := rows.Scan(&port); err != nil {
			return nil, fmt.Errorf("scan port: %w", err)
		}
		ports[port] = true
	}
	return ports, rows.Err()
}

// SetStatus updates a session's status.
func (s *Store) SetStatus(id string, status Status) error {
	return s.update(id, "UPDATE preview_sessions SET status = ? WHERE session_id = ?", string(status), id)
}

// SetWorkspace records the materialized workspace path.
func (s *Store) SetWorkspace(id, wsPath string) error {
	return s.update(id, "UPDATE preview_sessions SET workspace_path = ? WHERE session_id = ?", wsPath, id)
}

// SetPort records the allocated port.
func (s *Store) SetPort(id string, port int) error {
	return s.update(id, "UPDATE preview_sessions SET port = ? WHERE session_id = ?", port, id)
}

// SetError moves a session to the error state with a human-readable message.
func (s *Store) SetError(id, message string) error {
	return s.update(id,
		"UPDATE preview_sessions SET status = ?, error_message = ? WHERE session_id = ?",
		string(StatusError), message, id)
}

// MarkStopped moves a session to the stopped state and stamps stopped_at.
func (s *Store) MarkStopped(id string) error {
	return s.update(id,
		"UPDATE preview_sessions SET status = ?, stopped_at = ? WHERE session_id = ?",
		string(StatusStopped), time.Now().UTC().Format(timeLayout), id)
}

// Touch updates last_activity_at to now. Concurrent touches race benignly:
// last write wins, and any write keeps the session alive.
func (s *Store) Touch(id string) error {
	return s.SetLastActivity(id, time.Now().UTC())
}

// SetLastActivity stamps an explicit activity time.
func (s *Store) SetLastActivity(id string, t time.Time) error {
	return s.update(id,
		"UPDATE preview_sessions SET last_activity_at = ? WHERE session_id = ?",
		t.UTC().Format(timeLayout), id)
}

func (s *Store) update(id, query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*PreviewSession, error) {
	var sess PreviewSession
	var startedAt, lastActivityAt string
	var stoppedAt sql.NullString

	err := row.Scan(&sess.ID, &sess.GenerationID, &sess.UserID, &sess.WorkspacePath, &sess.Port,
		(*string)(&sess.PreviewType), (*string)(&sess.Status), &sess.ErrorMessage,
		&startedAt, &lastActivityAt, &stoppedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	sess.StartedAt, _ = time.Parse(timeLayout, startedAt)
	sess.LastActivityAt, _ = time.Parse(timeLayout, lastActivityAt)
	if stoppedAt.Valid {
		t, parseErr := time.Parse(timeLayout, stoppedAt.String)
		if parseErr == nil {
			sess.StoppedAt = &t
		}
	}
	return &sess, nil
}
