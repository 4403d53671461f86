package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadClassifierConfigDefaults(t *testing.T) {
	path := writeConfig(t, "empty.json", `{}`)
	cfg, err := LoadClassifierConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GetForestCount() != DefaultForestCount {
		t.Errorf("forest count: got %d, want %d", cfg.GetForestCount(), DefaultForestCount)
	}
	if cfg.GetTreeCount() != DefaultTreeCount {
		t.Errorf("tree count: got %d, want %d", cfg.GetTreeCount(), DefaultTreeCount)
	}
	if cfg.GetMaxDepth() != 0 {
		t.Errorf("max depth: got %d, want 0", cfg.GetMaxDepth())
	}
	if cfg.GetMinSamples() != DefaultMinSamples {
		t.Errorf("min samples: got %d, want %d", cfg.GetMinSamples(), DefaultMinSamples)
	}
	if cfg.GetPoolWorkers() != 0 {
		t.Errorf("pool workers: got %d, want 0", cfg.GetPoolWorkers())
	}
	if cfg.GetSeed() != 0 {
		t.Errorf("seed: got %d, want 0", cfg.GetSeed())
	}
}

func TestLoadClassifierConfigPartialOverride(t *testing.T) {
	path := writeConfig(t, "partial.json", `{"tree_count": 50, "seed": 12345}`)
	cfg, err := LoadClassifierConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GetTreeCount() != 50 {
		t.Errorf("tree count: got %d, want 50", cfg.GetTreeCount())
	}
	if cfg.GetSeed() != 12345 {
		t.Errorf("seed: got %d, want 12345", cfg.GetSeed())
	}
	// Untouched fields keep their defaults.
	if cfg.GetForestCount() != DefaultForestCount {
		t.Errorf("forest count: got %d, want %d", cfg.GetForestCount(), DefaultForestCount)
	}
}

func TestLoadClassifierConfigRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"zero forest count", `{"forest_count": 0}`},
		{"zero tree count", `{"tree_count": 0}`},
		{"negative max depth", `{"max_depth": -1}`},
		{"min samples below two", `{"min_samples": 1}`},
		{"negative pool workers", `{"pool_workers": -2}`},
		{"malformed json", `{"tree_count": `},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, "bad.json", tc.content)
			if _, err := LoadClassifierConfig(path); err == nil {
				t.Error("expected load error")
			}
		})
	}
}

func TestLoadClassifierConfigRejectsNonJSONExtension(t *testing.T) {
	path := writeConfig(t, "config.yaml", `{}`)
	if _, err := LoadClassifierConfig(path); err == nil {
		t.Error("expected error for non-json extension")
	}
}

func TestLoadClassifierConfigMissingFile(t *testing.T) {
	if _, err := LoadClassifierConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
