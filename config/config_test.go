package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Index.Backend != "marqo" {
		t.Errorf("Backend = %s, want marqo", cfg.Index.Backend)
	}
	if cfg.Index.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Index.Workers)
	}
	if cfg.Index.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Index.MaxAttempts)
	}
	if cfg.Watch.QuietWindowMs != 1500 {
		t.Errorf("QuietWindowMs = %d, want 1500", cfg.Watch.QuietWindowMs)
	}
	if cfg.Watch.MaxPendingMs != 10000 {
		t.Errorf("MaxPendingMs = %d, want 10000", cfg.Watch.MaxPendingMs)
	}
	if len(cfg.Ignore) == 0 {
		t.Error("default Ignore list is empty")
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Sources.Codebases = []ProjectSource{{Name: "proj", Path: "/src/proj"}}
	cfg.Sources.Conversations = []ConversationSource{{Type: "chatgpt", Path: "/exports"}}

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if !Exists(path) {
		t.Fatal("config file was not created")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if len(loaded.Sources.Codebases) != 1 || loaded.Sources.Codebases[0].Name != "proj" {
		t.Errorf("Codebases = %+v, want proj", loaded.Sources.Codebases)
	}
	if len(loaded.Sources.Conversations) != 1 || loaded.Sources.Conversations[0].Type != "chatgpt" {
		t.Errorf("Conversations = %+v, want chatgpt", loaded.Sources.Conversations)
	}
	if loaded.Index.Backend != "marqo" {
		t.Errorf("Backend = %s, want marqo", loaded.Index.Backend)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	// A sparse config from an older version.
	sparse := `version: 1
sources:
  codebases:
    - name: proj
      path: /src/proj
`
	if err := os.WriteFile(path, []byte(sparse), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Index.Backend != "marqo" {
		t.Errorf("Backend = %s, want default marqo", cfg.Index.Backend)
	}
	if cfg.Watch.QuietWindowMs != 1500 {
		t.Errorf("QuietWindowMs = %d, want default 1500", cfg.Watch.QuietWindowMs)
	}
	if cfg.Watch.RestartMax != 5 {
		t.Errorf("RestartMax = %d, want default 5", cfg.Watch.RestartMax)
	}
	if len(cfg.Ignore) == 0 {
		t.Error("Ignore not defaulted")
	}
}

func TestSourceEnabledDefaultsTrue(t *testing.T) {
	src := ProjectSource{Name: "p", Path: "/p"}
	if !src.IsEnabled() {
		t.Error("IsEnabled() = false with no explicit setting, want true")
	}

	off := false
	src.Enabled = &off
	if src.IsEnabled() {
		t.Error("IsEnabled() = true with enabled: false, want false")
	}

	conv := ConversationSource{Type: "claude", Path: "/c"}
	if !conv.IsEnabled() {
		t.Error("ConversationSource.IsEnabled() = false with no explicit setting, want true")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() succeeded on a missing file, want error")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("{not yaml"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() succeeded on invalid YAML, want error")
	}
}
