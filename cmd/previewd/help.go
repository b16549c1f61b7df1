// ABOUTME: Help display for the previewd CLI with grouped flags and examples.
package main

import (
	"fmt"
	"io"
)

// printHelp writes a formatted usage message to w.
func printHelp(w io.Writer, ver string) {
	fmt.Fprintf(w, "previewd %s — preview workspace orchestrator\n", ver)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Materializes generated frontend projects into workspaces, boots their dev")
	fmt.Fprintln(w, "servers, and proxies browser traffic to them under /preview/{generation}/.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  previewd [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config PATH           Path to YAML config file")
	fmt.Fprintln(w, "  -bind ADDR             Listen address (default: 127.0.0.1:8700)")
	fmt.Fprintln(w, "  -data-dir DIR          Data directory (default: $XDG_DATA_HOME/previewd)")
	fmt.Fprintln(w, "  -workspace-root DIR    Workspace directory (default: {data-dir}/workspaces)")
	fmt.Fprintln(w, "  -version               Print version and exit")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  PREVIEWD_* variables override config file values; see previewd.yaml keys.")
	fmt.Fprintln(w, "  A .env file in the working directory is loaded at startup.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  previewd")
	fmt.Fprintln(w, "  previewd -bind 127.0.0.1:9100 -data-dir /srv/previewd")
	fmt.Fprintln(w, "  PREVIEWD_PORT_RANGE_MIN=50000 PREVIEWD_PORT_RANGE_MAX=50100 previewd")
}
