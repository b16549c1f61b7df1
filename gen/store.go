// ABOUTME: SQLite-backed store for generations and their file sets.
// ABOUTME: Backs the ingest endpoint, file-tree reads, and the orchestrator's file lookups.
package gen

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a generation or file does not exist.
var ErrNotFound = errors.New("not found")

// Store persists generations and generation files in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the generation database at the given path and ensures
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
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS generations (
			generation_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			output_family TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS generation_files (
			file_id INTEGER PRIMARY KEY AUTOINCREMENT,
			generation_id TEXT NOT NULL,
			path TEXT NOT NULL,
			content TEXT NOT NULL,
			file_type TEXT NOT NULL,
			is_scaffold INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			UNIQUE (generation_id, path),
			FOREIGN KEY (generation_id) REFERENCES generations(generation_id)
		);`

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

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// CreateGeneration inserts a new generation record and returns it.
func (s *Store) CreateGeneration(name string, family OutputFamily, status GenerationStatus) (*Generation, error) {
	if !ValidOutputFamily(family) {
		return nil, fmt.Errorf("unknown output family %q", family)
	}
	g := &Generation{
		ID:           uuid.New().String(),
		Name:         name,
		OutputFamily: family,
		Status:       status,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO generations (generation_id, name, output_family, status, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		g.ID, g.Name, string(g.OutputFamily), string(g.Status), g.CreatedAt.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("insert generation: %w", err)
	}
	return g, nil
}

// GetGeneration returns the generation with the given id, or ErrNotFound.
func (s *Store) GetGeneration(id string) (*Generation, error) {
	row := s.db.QueryRow(
		"SELECT generation_id, name, output_family, status, created_at FROM generations WHERE generation_id = ?", id)

	var g Generation
	var createdAt string
	err := row.Scan(&g.ID, &g.Name, (*string)(&g.OutputFamily), (*string)(&g.Status), &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("generation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan generation: %w", err)
	}
	g.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &g, nil
}

// SetGenerationStatus updates a generation's lifecycle status.
func (s *Store) SetGenerationStatus(id string, status GenerationStatus) error {
	res, err := s.db.Exec("UPDATE generations SET status = ? WHERE generation_id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("update generation status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("generation %s: %w", id, ErrNotFound)
	}
	return nil
}

// PutFiles replaces the full file set for a generation. Paths are validated
// before any row is written so a bad path rejects the whole batch.
func (s *Store) PutFiles(generationID string, files []GenerationFile) error {
	for _, f := range files {
		if err := ValidatePath(f.Path); err != nil {
			return err
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM generation_files WHERE generation_id = ?", generationID); err != nil {
		return fmt.Errorf("clear files: %w", err)
	}
	now := time.Now().UTC().Format(timeLayout)
	for _, f := range files {
		if _, err := tx.Exec(
			`INSERT INTO generation_files (generation_id, path, content, file_type, is_scaffold, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			generationID, f.Path, f.Content, f.FileType, boolToInt(f.IsScaffold), now); err != nil {
			return fmt.Errorf("insert file %s: %w", f.Path, err)
		}
	}
	return tx.Commit()
}

// PutFile upserts a single file record. This backs the live-edit path, which
// updates one file without replacing the set.
func (s *Store) PutFile(generationID string, f GenerationFile) error {
	if err := ValidatePath(f.Path); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO generation_files (generation_id, path, content, file_type, is_scaffold, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(generation_id, path) DO UPDATE SET
			content = excluded.content,
			file_type = excluded.file_type,
			is_scaffold = excluded.is_scaffold`,
		generationID, f.Path, f.Content, f.FileType, boolToInt(f.IsScaffold),
		time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("upsert file %s: %w", f.Path, err)
	}
	return nil
}

// FilesForGeneration returns all files for a generation ordered by path.
func (s *Store) FilesForGeneration(generationID string) ([]GenerationFile, error) {
	rows, err := s.db.Query(
		`SELECT file_id, generation_id, path, content, file_type, is_scaffold, created_at
		 FROM generation_files WHERE generation_id = ? ORDER BY path ASC`, generationID)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var files []GenerationFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// GetFile returns a single file by generation id and relative path.
func (s *Store) GetFile(generationID, path string) (*GenerationFile, error) {
	rows, err := s.db.Query(
		`SELECT file_id, generation_id, path, content, file_type, is_scaffold, created_at
		 FROM generation_files WHERE generation_id = ? AND path = ?`, generationID, path)
	if err != nil {
		return nil, fmt.Errorf("query file: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return nil, fmt.Errorf("file %s/%s: %w", generationID, path, ErrNotFound)
	}
	f, err := scanFile(rows)
	if err != nil {
		return nil, err
	}
	return &f, rows.Err()
}

// TreeEntry is one node in the file-tree listing exposed to API clients.
type TreeEntry struct {
	Path       string `json:"path"`
	FileType   string `json:"file_type"`
	IsScaffold bool   `json:"is_scaffold"`
	Size       int    `json:"size"`
}

// FileTree returns lightweight tree entries for a generation, sorted by path.
// Reads come from persisted records, never from a live workspace.
func (s *Store) FileTree(generationID string) ([]TreeEntry, error) {
	files, err := s.FilesForGeneration(generationID)
	if err != nil {
		return nil, err
	}
	entries := make([]TreeEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, TreeEntry{
			Path:       f.Path,
			FileType:   f.FileType,
			IsScaffold: f.IsScaffold,
			Size:       len(f.Content),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func scanFile(rows *sql.Rows) (GenerationFile, error) {
	var f GenerationFile
	var scaffold int
	var createdAt string
	if err := rows.Scan(&f.ID, &f.GenerationID, &f.Path, &f.Content, &f.FileType, &scaffold, &createdAt); err != nil {
		return f, fmt.Errorf("scan file row: %w", err)
	}
	f.IsScaffold = scaffold != 0
	f.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return f, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
