package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.ListenAddr() != "127.0.0.1:8099" {
		t.Errorf("listen addr = %s", cfg.ListenAddr())
	}
	if cfg.Graph.NodeHalfLife != 24*time.Hour || cfg.Graph.EdgeHalfLife != 12*time.Hour {
		t.Errorf("half-lives = %v, %v", cfg.Graph.NodeHalfLife, cfg.Graph.EdgeHalfLife)
	}
	if cfg.Graph.MaxNodes != 500 || cfg.Graph.MaxEdges != 1500 {
		t.Errorf("graph caps = %d, %d", cfg.Graph.MaxNodes, cfg.Graph.MaxEdges)
	}
	if cfg.Mood.Alpha != 0.3 {
		t.Errorf("alpha = %f", cfg.Mood.Alpha)
	}
	if cfg.Candidates.OfferThreshold != 0.7 {
		t.Errorf("offer threshold = %f", cfg.Candidates.OfferThreshold)
	}
	if cfg.Server.Token != "" {
		t.Error("default token must be empty")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8099 {
		t.Errorf("port = %d, want default", cfg.Server.Port)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hearth.yaml")
	raw := `
server:
  port: 9000
  token: secret
graph:
  max_nodes: 50
habitus:
  min_confidence: 0.6
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 || cfg.Server.Token != "secret" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Graph.MaxNodes != 50 {
		t.Errorf("max_nodes = %d", cfg.Graph.MaxNodes)
	}
	if cfg.Habitus.MinConfidence != 0.6 {
		t.Errorf("min_confidence = %f", cfg.Habitus.MinConfidence)
	}
	// Untouched sections keep their defaults.
	if cfg.Graph.MaxEdges != 1500 {
		t.Errorf("max_edges = %d, want default", cfg.Graph.MaxEdges)
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hearth.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("malformed yaml accepted")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HEARTH_TOKEN", "env-token")
	t.Setenv("HEARTH_DATA_DIR", "/tmp/hearth-test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Token != "env-token" {
		t.Errorf("token = %q", cfg.Server.Token)
	}
	if cfg.Data.Dir != "/tmp/hearth-test" {
		t.Errorf("data dir = %q", cfg.Data.Dir)
	}
}
