// ABOUTME: Preview lifecycle handlers: setup, status polling, stop, and the
// ABOUTME: standalone dependency-prewarm endpoint.
package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/2389-research/previewd/gen"
	"github.com/2389-research/previewd/session"
	"github.com/2389-research/previewd/workspace"
)

type previewSetupRequest struct {
	UserID string `json:"user_id,omitempty"`
}

// handlePreviewSetup starts (or reuses) a preview session for a generation.
// Server-family installs and boots continue in the background; clients poll
// the status endpoint until the session leaves installing/booting.
func (s *Server) handlePreviewSetup(w http.ResponseWriter, r *http.Request) {
	generationID := chi.URLParam(r, "generationID")

	var req previewSetupRequest
	if r.Body != nil {
		// Body is optional; a decode failure on an empty body is fine.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	result, err := s.manager.SetupPreview(r.Context(), generationID, req.UserID)
	if err != nil {
		switch {
		case errors.Is(err, gen.ErrNotFound):
			writeError(w, http.StatusNotFound, "generation not found")
		case errors.Is(err, session.ErrGenerationIncomplete):
			writeError(w, http.StatusConflict, "generation is not complete")
		default:
			log.Printf("error setting up preview for generation %s: %v", generationID, err)
			writeError(w, http.StatusInternalServerError, "preview setup failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handlePreviewStatus returns the latest session for a generation without
// touching its activity clock. Status polling must not keep a session alive.
func (s *Server) handlePreviewStatus(w http.ResponseWriter, r *http.Request) {
	generationID := chi.URLParam(r, "generationID")

	sess, err := s.manager.Status(generationID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "none"})
			return
		}
		writeError(w, http.StatusInternalServerError, "status lookup failed")
		return
	}

	resp := map[string]any{
		"status":  sess.Status,
		"session": sess,
	}
	if sess.Running() {
		resp["url"] = s.manager.PreviewURL(generationID)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePreviewStop stops whatever session is live for a generation. Stopping
// with nothing running is a success.
func (s *Server) handlePreviewStop(w http.ResponseWriter, r *http.Request) {
	generationID := chi.URLParam(r, "generationID")

	if err := s.manager.StopByGeneration(generationID); err != nil && !errors.Is(err, session.ErrNotFound) {
		log.Printf("error stopping preview for generation %s: %v", generationID, err)
		writeError(w, http.StatusInternalServerError, "stop failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// handlePrewarm materializes a generation's workspace and installs its
// dependencies ahead of the first preview request, synchronously. Refused
// while a session is live so it cannot churn files under a dev server.
func (s *Server) handlePrewarm(w http.ResponseWriter, r *http.Request) {
	generationID := chi.URLParam(r, "generationID")

	g, err := s.gens.GetGeneration(generationID)
	if err != nil {
		writeError(w, http.StatusNotFound, "generation not found")
		return
	}
	if g.Status != gen.StatusComplete {
		writeError(w, http.StatusConflict, "generation is not complete")
		return
	}
	if _, err := s.manager.RunningByGeneration(generationID); err == nil {
		writeError(w, http.StatusConflict, "preview is running; stop it before prewarming")
		return
	}

	files, err := s.gens.FilesForGeneration(generationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load files")
		return
	}
	wsPath, err := s.mat.Materialize(generationID, files)
	if err != nil {
		log.Printf("error materializing workspace for prewarm generation=%s: %v", generationID, err)
		writeError(w, http.StatusInternalServerError, "could not materialize workspace")
		return
	}

	result, err := s.installer.Install(r.Context(), wsPath)
	if err != nil {
		if errors.Is(err, workspace.ErrMissingManifest) {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "skipped": "no package.json"})
			return
		}
		log.Printf("error prewarming generation %s: %v", generationID, err)
		writeError(w, http.StatusInternalServerError, "install failed to run")
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}
