package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reviewherd.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[discovery]
owner = "acme"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Review.Mode != "plan" {
		t.Errorf("default mode = %q, want plan", cfg.Review.Mode)
	}
	if cfg.Review.Parallel != 3 {
		t.Errorf("default parallel = %d, want 3", cfg.Review.Parallel)
	}
	if cfg.Discovery.Threshold != "all" {
		t.Errorf("default threshold = %q, want all", cfg.Discovery.Threshold)
	}
	if cfg.Session.Agent != "claude" {
		t.Errorf("default agent = %q, want claude", cfg.Session.Agent)
	}
	if cfg.Discovery.APIBaseURL != "https://api.github.com" {
		t.Errorf("default api base = %q", cfg.Discovery.APIBaseURL)
	}
}

func TestLoadRejectsInvalidMode(t *testing.T) {
	path := writeConfig(t, `
[review]
mode = "yolo"
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "invalid review mode") {
		t.Fatalf("expected invalid mode error, got %v", err)
	}
}

func TestLoadRejectsInvalidThreshold(t *testing.T) {
	path := writeConfig(t, `
[discovery]
threshold = "urgent"
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "invalid discovery threshold") {
		t.Fatalf("expected invalid threshold error, got %v", err)
	}
}

func TestHashChangesWithSchedulingKnobs(t *testing.T) {
	t.Parallel()
	a := Default()
	b := Default()
	if a.Hash() != b.Hash() {
		t.Fatalf("identical configs must hash identically")
	}
	b.Review.Parallel = 9
	if a.Hash() == b.Hash() {
		t.Fatalf("parallelism change must change the hash")
	}
	c := Default()
	c.Review.MaxRepos = 5
	if a.Hash() == c.Hash() {
		t.Fatalf("budget change must change the hash")
	}
}

func TestPathsRespectXDGOverrides(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	t.Setenv("XDG_DATA_HOME", tmp)
	t.Setenv("XDG_STATE_HOME", tmp)

	for name, fn := range map[string]func() (string, error){
		"ConfigDir": ConfigDir,
		"DataDir":   DataDir,
		"StateDir":  StateDir,
	} {
		got, err := fn()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !strings.HasPrefix(got, tmp) {
			t.Errorf("%s = %q, want under %q", name, got, tmp)
		}
	}
}
