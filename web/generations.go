// ABOUTME: Generation ingest and file API handlers: batch ingest, tree listing,
// ABOUTME: content reads, and the single-file live-edit path with workspace write-through.
package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/2389-research/previewd/gen"
	"github.com/2389-research/previewd/session"
	"github.com/2389-research/previewd/workspace"
)

// maxIngestBytes caps generation ingest payloads. Generated frontends are
// text; anything larger is a client bug.
const maxIngestBytes = 16 << 20

type ingestFile struct {
	Path       string `json:"path"`
	Content    string `json:"content"`
	FileType   string `json:"type,omitempty"`
	IsScaffold bool   `json:"is_scaffold,omitempty"`
}

type ingestRequest struct {
	Name         string       `json:"name"`
	OutputFamily string       `json:"output_family"`
	Files        []ingestFile `json:"files"`
}

// handleGenerationIngest accepts a complete generated file set and stores it
// as a new generation, marked complete and ready for preview setup.
func (s *Server) handleGenerationIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxIngestBytes)

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Files) == 0 {
		writeError(w, http.StatusBadRequest, "files must not be empty")
		return
	}

	family := gen.OutputFamily(req.OutputFamily)
	if req.OutputFamily == "" {
		family = gen.FamilyServer
	}
	if !gen.ValidOutputFamily(family) {
		writeError(w, http.StatusBadRequest, "output_family must be server or static")
		return
	}

	files := make([]gen.GenerationFile, 0, len(req.Files))
	for _, f := range req.Files {
		files = append(files, gen.GenerationFile{
			Path:       f.Path,
			Content:    f.Content,
			FileType:   fileTypeFor(f.Path, f.FileType),
			IsScaffold: f.IsScaffold,
		})
	}

	g, err := s.gens.CreateGeneration(req.Name, family, gen.StatusPending)
	if err != nil {
		log.Printf("error creating generation: %v", err)
		writeError(w, http.StatusInternalServerError, "could not create generation")
		return
	}

	if err := s.gens.PutFiles(g.ID, files); err != nil {
		if errors.Is(err, gen.ErrInvalidPath) {
			_ = s.gens.SetGenerationStatus(g.ID, gen.StatusFailed)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("error storing files for generation %s: %v", g.ID, err)
		writeError(w, http.StatusInternalServerError, "could not store files")
		return
	}

	if err := s.gens.SetGenerationStatus(g.ID, gen.StatusComplete); err != nil {
		log.Printf("error completing generation %s: %v", g.ID, err)
		writeError(w, http.StatusInternalServerError, "could not complete generation")
		return
	}
	g.Status = gen.StatusComplete

	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleGenerationGet(w http.ResponseWriter, r *http.Request) {
	g, err := s.gens.GetGeneration(chi.URLParam(r, "generationID"))
	if err != nil {
		if errors.Is(err, gen.ErrNotFound) {
			writeError(w, http.StatusNotFound, "generation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// handleFileTree lists a generation's files as lightweight tree entries.
func (s *Server) handleFileTree(w http.ResponseWriter, r *http.Request) {
	generationID := chi.URLParam(r, "generationID")
	if _, err := s.gens.GetGeneration(generationID); err != nil {
		writeError(w, http.StatusNotFound, "generation not found")
		return
	}

	tree, err := s.gens.FileTree(generationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list files")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": tree})
}

// handleFileContent returns one file's stored content. Reads always come from
// the persisted record, not the live workspace.
func (s *Server) handleFileContent(w http.ResponseWriter, r *http.Request) {
	generationID := chi.URLParam(r, "generationID")
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path query parameter required")
		return
	}

	f, err := s.gens.GetFile(generationID, path)
	if err != nil {
		if errors.Is(err, gen.ErrNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

type filePutRequest struct {
	Path       string `json:"path"`
	Content    string `json:"content"`
	FileType   string `json:"type,omitempty"`
	IsScaffold bool   `json:"is_scaffold,omitempty"`
}

// handleFilePut upserts a single file record (live edit). When the generation
// has a running session the edit is also written through to the live
// workspace so the dev server's watcher picks it up.
func (s *Server) handleFilePut(w http.ResponseWriter, r *http.Request) {
	generationID := chi.URLParam(r, "generationID")
	if _, err := s.gens.GetGeneration(generationID); err != nil {
		writeError(w, http.StatusNotFound, "generation not found")
		return
	}

	var req filePutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	file := gen.GenerationFile{
		Path:       req.Path,
		Content:    req.Content,
		FileType:   fileTypeFor(req.Path, req.FileType),
		IsScaffold: req.IsScaffold,
	}
	if err := s.gens.PutFile(generationID, file); err != nil {
		if errors.Is(err, gen.ErrInvalidPath) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "could not store file")
		return
	}

	liveUpdated := false
	if sess, err := s.manager.RunningByGeneration(generationID); err == nil {
		if werr := workspace.WriteFile(sess.WorkspacePath, req.Path, []byte(req.Content)); werr != nil {
			log.Printf("error writing through to workspace session=%s path=%s: %v", sess.ID, req.Path, werr)
		} else {
			liveUpdated = true
		}
	} else if !errors.Is(err, session.ErrNotFound) {
		log.Printf("error looking up session for write-through generation=%s: %v", generationID, err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"path":         req.Path,
		"live_updated": liveUpdated,
	})
}

// fileTypeFor picks an explicit file type, falling back to the extension.
func fileTypeFor(path, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if i := strings.LastIndex(path, "."); i >= 0 && i < len(path)-1 {
		return path[i+1:]
	}
	return ""
}
