// ABOUTME: previewd HTTP server: generation ingest/file APIs, preview lifecycle
// ABOUTME: endpoints, and the /preview/{id}/* proxy mount behind a single chi router.
package web

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389-research/previewd/gen"
	"github.com/2389-research/previewd/proxy"
	"github.com/2389-research/previewd/session"
	"github.com/2389-research/previewd/workspace"
)

// Server exposes the preview orchestrator over HTTP. The caller owns the
// listener; Server is just the http.Handler.
type Server struct {
	gens      *gen.Store
	manager   *session.Manager
	mat       *workspace.Materializer
	installer *workspace.Installer
	proxy     *proxy.Handler
	router    chi.Router
}

// NewServer creates a Server over already-opened stores and a session manager.
func NewServer(gens *gen.Store, manager *session.Manager,
	mat *workspace.Materializer, installer *workspace.Installer) *Server {
	s := &Server{
		gens:      gens,
		manager:   manager,
		mat:       mat,
		installer: installer,
		proxy:     proxy.NewHandler(manager),
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP implements http.Handler by delegating to the chi router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// buildRouter constructs the chi router with all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(webRequestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api/generations", func(r chi.Router) {
		r.Post("/", s.handleGenerationIngest)

		r.Route("/{generationID}", func(r chi.Router) {
			r.Get("/", s.handleGenerationGet)
			r.Get("/files", s.handleFileTree)
			r.Get("/files/content", s.handleFileContent)
			r.Put("/files", s.handleFilePut)

			r.Post("/preview", s.handlePreviewSetup)
			r.Get("/preview", s.handlePreviewStatus)
			r.Post("/preview/stop", s.handlePreviewStop)
			r.Post("/prewarm", s.handlePrewarm)
		})
	})

	// Browser-facing preview traffic. Everything below the mount goes to the
	// proxy; the bare mount redirects so relative URLs resolve.
	r.HandleFunc("/preview/{generationID}", s.handlePreviewRedirect)
	r.HandleFunc("/preview/{generationID}/*", s.handlePreviewProxy)

	return r
}

// handleHealth returns a JSON health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePreviewRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, r.URL.Path+"/", http.StatusMovedPermanently)
}

func (s *Server) handlePreviewProxy(w http.ResponseWriter, r *http.Request) {
	generationID := chi.URLParam(r, "generationID")
	subPath := chi.URLParam(r, "*")
	s.proxy.Serve(w, r, generationID, subPath)
}

// writeJSON encodes v as the JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("error encoding response: %v", err)
	}
}

// writeError writes a JSON error envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
