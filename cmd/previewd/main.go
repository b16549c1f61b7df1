// ABOUTME: CLI entrypoint for the previewd daemon.
// ABOUTME: Wires stores, session manager, reaper, HTTP server, and signal handling.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/2389-research/previewd/config"
	"github.com/2389-research/previewd/gen"
	"github.com/2389-research/previewd/runner"
	"github.com/2389-research/previewd/session"
	"github.com/2389-research/previewd/web"
	"github.com/2389-research/previewd/workspace"
)

var version = "dev"

// cliConfig holds command-line flag values. Flags override both the config
// file and PREVIEWD_* environment variables.
type cliConfig struct {
	configPath    string
	bind          string
	dataDir       string
	workspaceRoot string
	showVersion   bool
}

func main() {
	// Best-effort .env load; absence is normal.
	_ = godotenv.Load()

	cfg := parseFlags()

	if cfg.showVersion {
		fmt.Printf("previewd %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(cfg))
}

// parseFlags parses command-line flags and returns a populated cliConfig.
func parseFlags() cliConfig {
	var cfg cliConfig

	fs := flag.NewFlagSet("previewd", flag.ContinueOnError)
	fs.StringVar(&cfg.configPath, "config", "", "Path to YAML config file")
	fs.StringVar(&cfg.bind, "bind", "", "Listen address (default: 127.0.0.1:8700)")
	fs.StringVar(&cfg.dataDir, "data-dir", "", "Data directory for persistent state (default: $XDG_DATA_HOME/previewd)")
	fs.StringVar(&cfg.workspaceRoot, "workspace-root", "", "Directory for materialized workspaces (default: {data-dir}/workspaces)")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	fs.Usage = func() {
		printHelp(os.Stderr, version)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	return cfg
}

// run boots the daemon. Returns an exit code: 0 for success, 1 for failure.
func run(cli cliConfig) int {
	cfg, err := config.Load(cli.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if cli.bind != "" {
		cfg.Bind = cli.bind
	}
	if cli.dataDir != "" {
		cfg.DataDir = cli.dataDir
	}
	if cli.workspaceRoot != "" {
		cfg.WorkspaceRoot = cli.workspaceRoot
	}

	dataDir, err := resolveDataDir(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error: creating data directory: %v\n", err)
		return 1
	}

	workspaceRoot := cfg.WorkspaceRoot
	if workspaceRoot == "" {
		workspaceRoot = filepath.Join(dataDir, "workspaces")
	}

	gens, err := gen.Open(filepath.Join(dataDir, "generations.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: opening generation store: %v\n", err)
		return 1
	}
	defer gens.Close()

	sessions, err := session.Open(filepath.Join(dataDir, "sessions.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: opening session store: %v\n", err)
		return 1
	}
	defer sessions.Close()

	npmBin := resolveBinary(cfg.NpmBin)
	npxBin := resolveBinary(cfg.NpxBin)

	mat := workspace.NewMaterializer(workspaceRoot)
	installer := workspace.NewInstaller(npmBin, time.Duration(cfg.InstallTimeoutSeconds)*time.Second)
	supervisor := runner.New(runner.Config{NpmBin: npmBin, NpxBin: npxBin})

	manager := session.NewManager(sessions, gens, mat, installer, supervisor, session.Config{
		PortRangeMin:  cfg.PortRangeMin,
		PortRangeMax:  cfg.PortRangeMax,
		IdleTimeout:   time.Duration(cfg.IdleTimeoutMinutes) * time.Minute,
		PublicBaseURL: cfg.PublicBaseURL,
	})

	server := web.NewServer(gens, manager, mat, installer)

	// Set up context with signal handling for graceful shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()

	reaper := session.NewReaper(manager, time.Duration(cfg.IdleTimeoutMinutes)*time.Minute)
	go reaper.Run(ctx, time.Duration(cfg.ReaperIntervalSeconds)*time.Second)

	httpServer := &http.Server{
		Addr:              cfg.Bind,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(os.Stderr, "previewd %s listening on http://%s\n", version, cfg.Bind)
	err = httpServer.ListenAndServe()

	// Dev servers must not outlive the daemon.
	manager.StopAll()
	manager.Wait()

	if err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// resolveBinary resolves a tool name through PATH, keeping the configured
// value when lookup fails so the eventual exec error names the real problem.
func resolveBinary(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	return name
}
