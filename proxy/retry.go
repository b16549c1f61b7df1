// ABOUTME: Heuristic classification of upstream responses that signal a path-resolution mismatch.
// ABOUTME: Ordered rule table; new build-tool behaviors become appended rules, not rewrites.
package proxy

import (
	"path"
	"strings"
)

// assetExts are extensions that clearly mark an asset request; an HTML 404
// on one of these is a mismatch, not content.
var assetExts = map[string]bool{
	".js": true, ".mjs": true, ".cjs": true, ".ts": true, ".tsx": true, ".jsx": true,
	".css": true, ".vue": true, ".svelte": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true, ".ico": true,
	".woff": true, ".woff2": true, ".ttf": true, ".map": true, ".json": true,
}

// sourceExts are compiled-on-the-fly source files; a 5xx on one of these
// usually means the tool resolved the wrong path.
var sourceExts = map[string]bool{
	".js": true, ".mjs": true, ".ts": true, ".tsx": true, ".jsx": true,
	".css": true, ".vue": true, ".svelte": true,
}

// retryRule names one mismatch signal. The set is deliberately a slice:
// these are approximations, and new dev-tooling behaviors get new entries.
type retryRule struct {
	name    string
	applies func(subPath string, status int, contentType string) bool
}

var retryRules = []retryRule{
	{
		name: "asset_404",
		applies: func(subPath string, status int, contentType string) bool {
			return status == 404 && assetExts[path.Ext(subPath)]
		},
	},
	{
		name: "html_for_module",
		applies: func(subPath string, status int, contentType string) bool {
			if !strings.Contains(contentType, "text/html") {
				return false
			}
			return assetExts[path.Ext(subPath)] || strings.HasPrefix(subPath, "@")
		},
	},
	{
		name: "source_5xx",
		applies: func(subPath string, status int, contentType string) bool {
			return status >= 500 && sourceExts[path.Ext(subPath)]
		},
	},
}

// mismatchRule returns the name of the first rule matching the upstream
// response, classifying it as a likely path-resolution mismatch worth one
// retry against the mount-prefixed path. The bare root request never
// qualifies: a plain HTML 200 at the root is the real response.
func mismatchRule(subPath string, status int, contentType string) (string, bool) {
	if subPath == "" {
		return "", false
	}
	for _, rule := range retryRules {
		if rule.applies(subPath, status, contentType) {
			return rule.name, true
		}
	}
	return "", false
}
