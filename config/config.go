// ABOUTME: Daemon configuration: YAML file, then PREVIEWD_* environment overrides.
// ABOUTME: Enforces security constraint: non-loopback binds require explicit opt-in.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

var (
	ErrNonLoopbackBind = errors.New(
		"bind is a non-loopback address but PREVIEWD_ALLOW_REMOTE is not true; set PREVIEWD_ALLOW_REMOTE=true to allow remote access",
	)
	ErrBadPortRange = errors.New("port_range_min must be a valid port not greater than port_range_max")
)

// Config holds the daemon configuration. YAML tags name the file keys; each
// field also answers to a PREVIEWD_* environment variable.
type Config struct {
	Bind          string `yaml:"bind"`            // PREVIEWD_BIND (default: 127.0.0.1:8700)
	DataDir       string `yaml:"data_dir"`        // PREVIEWD_DATA_DIR (default: XDG data dir)
	WorkspaceRoot string `yaml:"workspace_root"`  // PREVIEWD_WORKSPACE_ROOT (default: {data_dir}/workspaces)
	PublicBaseURL string `yaml:"public_base_url"` // PREVIEWD_PUBLIC_BASE_URL (default: http://{bind})
	AllowRemote   bool   `yaml:"allow_remote"`    // PREVIEWD_ALLOW_REMOTE (default: false)

	PortRangeMin int `yaml:"port_range_min"` // PREVIEWD_PORT_RANGE_MIN (default: 43000)
	PortRangeMax int `yaml:"port_range_max"` // PREVIEWD_PORT_RANGE_MAX (default: 43999)

	IdleTimeoutMinutes    int `yaml:"idle_timeout_minutes"`    // PREVIEWD_IDLE_TIMEOUT_MINUTES (default: 30)
	InstallTimeoutSeconds int `yaml:"install_timeout_seconds"` // PREVIEWD_INSTALL_TIMEOUT_SECONDS (default: 120)
	ReaperIntervalSeconds int `yaml:"reaper_interval_seconds"` // PREVIEWD_REAPER_INTERVAL_SECONDS (default: 60)

	NpmBin string `yaml:"npm_bin"` // PREVIEWD_NPM_BIN (default: npm, resolved from PATH)
	NpxBin string `yaml:"npx_bin"` // PREVIEWD_NPX_BIN (default: npx, resolved from PATH)
}

// Load reads configuration in precedence order: defaults, then the YAML file
// at path (skipped when path is empty or the file is absent), then PREVIEWD_*
// environment variables. The result is validated.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Optional file.
		default:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = fmt.Sprintf("http://%s", cfg.Bind)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Bind:                  "127.0.0.1:8700",
		PortRangeMin:          43000,
		PortRangeMax:          43999,
		IdleTimeoutMinutes:    30,
		InstallTimeoutSeconds: 120,
		ReaperIntervalSeconds: 60,
		NpmBin:                "npm",
		NpxBin:                "npx",
	}
}

func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString("PREVIEWD_BIND", &cfg.Bind)
	setString("PREVIEWD_DATA_DIR", &cfg.DataDir)
	setString("PREVIEWD_WORKSPACE_ROOT", &cfg.WorkspaceRoot)
	setString("PREVIEWD_PUBLIC_BASE_URL", &cfg.PublicBaseURL)
	setString("PREVIEWD_NPM_BIN", &cfg.NpmBin)
	setString("PREVIEWD_NPX_BIN", &cfg.NpxBin)

	setInt("PREVIEWD_PORT_RANGE_MIN", &cfg.PortRangeMin)
	setInt("PREVIEWD_PORT_RANGE_MAX", &cfg.PortRangeMax)
	setInt("PREVIEWD_IDLE_TIMEOUT_MINUTES", &cfg.IdleTimeoutMinutes)
	setInt("PREVIEWD_INSTALL_TIMEOUT_SECONDS", &cfg.InstallTimeoutSeconds)
	setInt("PREVIEWD_REAPER_INTERVAL_SECONDS", &cfg.ReaperIntervalSeconds)

	if v := os.Getenv("PREVIEWD_ALLOW_REMOTE"); v == "true" || v == "1" || v == "yes" {
		cfg.AllowRemote = true
	}
}

func (c *Config) validate() error {
	if c.PortRangeMin < 1 || c.PortRangeMin > 65535 || c.PortRangeMin > c.PortRangeMax || c.PortRangeMax > 65535 {
		return fmt.Errorf("%w: min=%d max=%d", ErrBadPortRange, c.PortRangeMin, c.PortRangeMax)
	}

	// Refuse non-loopback binds unless explicitly opting into remote access.
	// Only 127.0.0.0/8, ::1, and "localhost" are considered safe.
	if !c.AllowRemote {
		if host, _, err := net.SplitHostPort(c.Bind); err == nil && host != "" {
			ip := net.ParseIP(host)
			switch {
			case ip != nil && ip.IsLoopback():
			case host == "localhost":
			default:
				return fmt.Errorf("%w: bind=%s", ErrNonLoopbackBind, c.Bind)
			}
		}
	}

	return nil
}
