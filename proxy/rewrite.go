// ABOUTME: Byte-level HTML/JS rewriting so proxied dev-server responses work under a mount path.
// ABOUTME: Prefixes root-relative asset URLs, strips the HMR client, spares virtual modules.
package proxy

import (
	"regexp"
	"strings"
)

// virtualMarkers identify the build tool's internal module addressing.
// Rewriting these breaks its module resolution, so they pass through
// untouched.
var virtualMarkers = []string{
	"/@id/",
	"__x00__",
	"/@vite/",
	"/@fs/",
	"/@react-refresh",
}

var (
	htmlAttrRe = regexp.MustCompile(`\b(src|href)=(["'])(/[^"']*)(["'])`)
	jsImportRe = regexp.MustCompile(`(\bfrom\s*|\bimport\s*\(\s*|\bimport\s+)(["'])(/[^"']+)(["'])`)

	hmrClientRe = regexp.MustCompile(`(?s)<script[^>]*src=["']/@vite/client["'][^>]*>\s*</script>\s*`)
)

// RewriteHTML rewrites root-relative src/href attributes and inline module
// imports in an HTML document to live under the mount prefix. Idempotent:
// URLs already under the prefix are left alone, as are protocol-relative
// URLs and virtual-module specifiers.
func RewriteHTML(body []byte, prefix string) []byte {
	out := htmlAttrRe.ReplaceAllStringFunc(string(body), func(match string) string {
		m := htmlAttrRe.FindStringSubmatch(match)
		if !rewritable(m[3], prefix) {
			return match
		}
		return m[1] + "=" + m[2] + prefix + m[3] + m[4]
	})
	return rewriteImports([]byte(out), prefix)
}

// RewriteJS rewrites root-relative import specifiers in a JavaScript module
// body. HTML-specific elements are never touched here.
func RewriteJS(body []byte, prefix string) []byte {
	return rewriteImports(body, prefix)
}

func rewriteImports(body []byte, prefix string) []byte {
	out := jsImportRe.ReplaceAllStringFunc(string(body), func(match string) string {
		m := jsImportRe.FindStringSubmatch(match)
		if !rewritable(m[3], prefix) {
			return match
		}
		return m[1] + m[2] + prefix + m[3] + m[4]
	})
	return []byte(out)
}

// StripHMRClient removes the dev server's injected live-reload client script.
// The proxy's containing page handles reload out of band; forwarding the
// injection double-injects.
func StripHMRClient(body []byte) []byte {
	return []byte(hmrClientRe.ReplaceAllString(string(body), ""))
}

// rewritable decides whether a root-relative URL gets the mount prefix.
func rewritable(url, prefix string) bool {
	if !strings.HasPrefix(url, "/") || strings.HasPrefix(url, "//") {
		return false
	}
	if url == prefix || strings.HasPrefix(url, prefix+"/") {
		return false
	}
	for _, marker := range virtualMarkers {
		if strings.Contains(url, marker) {
			return false
		}
	}
	return true
}

// booleanQueryFlags are framework query flags that carry meaning bare
// (?vue&type=style). Coercing them to key= form changes how some upstream
// tools parse the request.
var booleanQueryFlags = map[string]bool{
	"vue":    true,
	"svelte": true,
	"raw":    true,
	"url":    true,
	"direct": true,
	"worker": true,
	"init":   true,
	"inline": true,
}

// normalizeQuery preserves bare boolean-style flags across proxying. The raw
// query is otherwise passed through verbatim.
func normalizeQuery(raw string) string {
	if raw == "" {
		return ""
	}
	segs := strings.Split(raw, "&")
	for i, seg := range segs {
		if key, ok := strings.CutSuffix(seg, "="); ok && booleanQueryFlags[key] {
			segs[i] = key
		}
	}
	return strings.Join(segs, "&")
}
