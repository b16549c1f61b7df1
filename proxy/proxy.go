// ABOUTME: Reverse proxy that forwards preview traffic to per-session dev servers.
// ABOUTME: Decompressed upstream fetch, content-type-aware rewriting, one heuristic unprefixed retry.
package proxy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/2389-research/previewd/gen"
	"github.com/2389-research/previewd/session"
	"github.com/2389-research/previewd/workspace"
)

// UpstreamTimeout bounds each proxied request to a dev server.
const UpstreamTimeout = 10 * time.Second

// SessionSource is the slice of the session manager the proxy consumes.
type SessionSource interface {
	RunningByGeneration(generationID string) (*session.PreviewSession, error)
	Touch(sessionID string) error
	MountPath(generationID string) string
}

// Handler proxies preview requests into dev servers and serves static-family
// workspaces directly.
type Handler struct {
	sessions SessionSource
	client   *http.Client
}

// NewHandler returns a proxy handler over the given session source.
func NewHandler(sessions SessionSource) *Handler {
	return &Handler{
		sessions: sessions,
		client:   &http.Client{Timeout: UpstreamTimeout},
	}
}

// Serve handles one preview request for a generation. subPath is the request
// path below the proxy mount, without a leading slash.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, generationID, subPath string) {
	sess, err := h.sessions.RunningByGeneration(generationID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			http.Error(w, "no active preview", http.StatusNotFound)
			return
		}
		http.Error(w, "preview lookup failed", http.StatusInternalServerError)
		return
	}

	if err := h.sessions.Touch(sess.ID); err != nil {
		log.Printf("component=proxy action=touch_failed session=%s err=%v", sess.ID, err)
	}

	mount := h.sessions.MountPath(generationID)

	if sess.PreviewType == gen.FamilyStatic {
		h.serveStatic(w, sess, mount, subPath)
		return
	}

	h.serveUpstream(w, r, sess, mount, subPath)
}

// serveUpstream forwards the request to the session's dev server and applies
// the rewriting rules to the response.
func (h *Handler) serveUpstream(w http.ResponseWriter, r *http.Request, sess *session.PreviewSession, mount, subPath string) {
	rawQuery := normalizeQuery(r.URL.RawQuery)

	// Buffered once so the heuristic retry can resend it.
	var reqBody []byte
	if r.Body != nil {
		var err error
		reqBody, err = io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "could not read request body", http.StatusBadRequest)
			return
		}
	}

	// The dev server is launched with no base-path configuration, so the
	// unprefixed path is the primary target. Tooling that is configured
	// with a base serves everything prefixed instead; that is what the
	// mismatch retry compensates for.
	resp, err := h.fetch(sess.Port, "/"+subPath, rawQuery, r, reqBody)
	if err != nil {
		log.Printf("component=proxy action=upstream_failed session=%s port=%d err=%v", sess.ID, sess.Port, err)
		http.Error(w, "could not reach preview server", http.StatusBadGateway)
		return
	}

	if rule, ok := mismatchRule(subPath, resp.StatusCode, resp.Header.Get("Content-Type")); ok {
		log.Printf("component=proxy action=prefixed_retry rule=%s path=%s", rule, subPath)
		retried, retryErr := h.fetch(sess.Port, mount+"/"+subPath, rawQuery, r, reqBody)
		if retryErr == nil {
			_ = resp.Body.Close()
			resp = retried
		}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		http.Error(w, "could not reach preview server", http.StatusBadGateway)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "text/html"):
		// The workspace's own source tree, not the proxied HTML, decides
		// the real entry script and mount id.
		body = workspace.NormalizeEntrypoint(sess.WorkspacePath, body)
		body = StripHMRClient(body)
		body = RewriteHTML(body, mount)
	case isScriptContentType(contentType):
		body = RewriteJS(body, mount)
	}

	copyHeaders(w.Header(), resp.Header)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}

// fetch performs one upstream request. Compression is disabled so the
// rewriter always operates on decoded bytes.
func (h *Handler) fetch(port int, upstreamPath, rawQuery string, r *http.Request, body []byte) (*http.Response, error) {
	target := fmt.Sprintf("http://127.0.0.1:%d%s", port, upstreamPath)
	if rawQuery != "" {
		target += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if accept := r.Header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	req.Header.Set("Accept-Encoding", "identity")

	return h.client.Do(req)
}

// serveStatic serves a static-family workspace straight from disk. HTML still
// passes through the rewriter so root-relative assets stay under the mount.
func (h *Handler) serveStatic(w http.ResponseWriter, sess *session.PreviewSession, mount, subPath string) {
	filePath := subPath
	if filePath == "" || strings.HasSuffix(filePath, "/") {
		filePath += "index.html"
	}

	data, err := workspace.ReadFile(sess.WorkspacePath, filePath)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	contentType := mime.TypeByExtension(path.Ext(filePath))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if strings.Contains(contentType, "text/html") {
		data = RewriteHTML(data, mount)
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

// copyHeaders forwards upstream headers, dropping hop-by-hop and
// length/encoding headers the rewrite invalidates.
func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		switch http.CanonicalHeaderKey(key) {
		case "Content-Length", "Content-Encoding", "Transfer-Encoding", "Connection":
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

// isScriptContentType reports whether a response body is JavaScript and
// therefore eligible for import-specifier rewriting.
func isScriptContentType(contentType string) bool {
	for _, marker := range []string{"javascript", "ecmascript", "text/jsx", "text/tsx"} {
		if strings.Contains(contentType, marker) {
			return true
		}
	}
	return false
}
