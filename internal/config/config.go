// Package config loads the process-wide hub configuration (component H).
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level hub configuration, loaded from YAML and
// overridable with environment variables.
type Config struct {
	Port           int    `yaml:"port"`
	WorkspaceRoot  string `yaml:"workspaceRoot"`
	EnableAntiEcho bool   `yaml:"enableAntiEcho"`

	IdleSessionTimeout        time.Duration `yaml:"-"`
	IdleSessionTimeoutSeconds int           `yaml:"idleSessionTimeoutSeconds"`

	ServerVersion string `yaml:"serverVersion"`

	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// Defaults returns the baseline configuration applied before a file or env
// overrides are layered on.
func Defaults() *Config {
	return &Config{
		Port:                      8765,
		WorkspaceRoot:             ".",
		EnableAntiEcho:            false,
		IdleSessionTimeoutSeconds: 300,
		IdleSessionTimeout:        5 * time.Minute,
		ServerVersion:             "1.0.0",
	}
}

// Load reads YAML config from path, layering it onto Defaults(). A missing
// file is not an error; the defaults are used as-is.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if cfg.IdleSessionTimeoutSeconds > 0 {
		cfg.IdleSessionTimeout = time.Duration(cfg.IdleSessionTimeoutSeconds) * time.Second
	}

	return cfg, nil
}

// applyEnvOverrides lets operators override a handful of settings without
// editing the YAML file, the way cmd/cliaimonitor's main.go does for flags.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTMESH_PORT"); v != "" {
		if p, err := parsePositiveInt(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("AGENTMESH_WORKSPACE"); v != "" {
		cfg.WorkspaceRoot = v
	}
	if v := os.Getenv("AGENTMESH_ENABLE_ANTI_ECHO"); v == "true" {
		cfg.EnableAntiEcho = true
	}
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

// Paths groups the fixed on-disk artifact locations under the workspace root.
type Paths struct {
	Root            string
	IdentitiesJSON  string
	TaskClaimsDB    string
	TaskClaimsJSON  string
	DiscussionBoard string
	TasksDir        string
	MessagesDir     string
	MemoryDir       string
	DecisionsDir    string
}

// ResolvePaths derives every fixed artifact path from the configured
// workspace root and ensures the expected subdirectories exist.
func ResolvePaths(workspaceRoot string) (Paths, error) {
	p := Paths{
		Root:            workspaceRoot,
		IdentitiesJSON:  filepath.Join(workspaceRoot, "identities.json"),
		TaskClaimsDB:    filepath.Join(workspaceRoot, "task-claims.db"),
		TaskClaimsJSON:  filepath.Join(workspaceRoot, "task-claims.json"),
		DiscussionBoard: filepath.Join(workspaceRoot, "DISCUSSION_BOARD.md"),
		TasksDir:        filepath.Join(workspaceRoot, "tasks"),
		MessagesDir:     filepath.Join(workspaceRoot, "messages"),
		MemoryDir:       filepath.Join(workspaceRoot, "memory"),
		DecisionsDir:    filepath.Join(workspaceRoot, "decisions"),
	}

	for _, dir := range []string{p.TasksDir, p.MessagesDir, p.MemoryDir, p.DecisionsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Paths{}, err
		}
	}
	return p, nil
}
