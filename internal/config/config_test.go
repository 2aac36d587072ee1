package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 8765 {
		t.Fatalf("expected default port 8765, got %d", cfg.Port)
	}
	if cfg.IdleSessionTimeout != 5*time.Minute {
		t.Fatalf("expected default idle timeout 5m, got %v", cfg.IdleSessionTimeout)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("expected missing config file to be tolerated, got %v", err)
	}
	if cfg.Port != 8765 {
		t.Fatalf("expected defaults to apply, got port %d", cfg.Port)
	}
}

func TestLoadOverridesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: 9999\nenableAntiEcho: true\nidleSessionTimeoutSeconds: 60\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 9999 {
		t.Fatalf("expected port 9999, got %d", cfg.Port)
	}
	if !cfg.EnableAntiEcho {
		t.Fatal("expected enableAntiEcho to be true")
	}
	if cfg.IdleSessionTimeout != 60*time.Second {
		t.Fatalf("expected idle timeout 60s, got %v", cfg.IdleSessionTimeout)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: 1111\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	os.Setenv("AGENTMESH_PORT", "2222")
	defer os.Unsetenv("AGENTMESH_PORT")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 2222 {
		t.Fatalf("expected env override to win with port 2222, got %d", cfg.Port)
	}
}

func TestResolvePathsCreatesSubdirectories(t *testing.T) {
	root := t.TempDir()
	paths, err := ResolvePaths(root)
	if err != nil {
		t.Fatalf("ResolvePaths failed: %v", err)
	}

	for _, dir := range []string{paths.TasksDir, paths.MessagesDir, paths.MemoryDir, paths.DecisionsDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected %s to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %s to be a directory", dir)
		}
	}

	if paths.IdentitiesJSON != filepath.Join(root, "identities.json") {
		t.Fatalf("unexpected identities path: %s", paths.IdentitiesJSON)
	}
}
