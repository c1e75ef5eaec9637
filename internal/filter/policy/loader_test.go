package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRegoFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(rel, content string) {
		t.Helper()
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("chorus.rego", "package chorus.policy")
	write("teams/research.rego", "package chorus.teams")
	write("chorus_test.rego", "package chorus.policy_test")
	write("README.md", "# policies")

	modules, err := LoadRegoFiles(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(modules) != 2 {
		t.Fatalf("expected 2 modules, got %d: %v", len(modules), modules)
	}
	if modules["teams/research.rego"] != "package chorus.teams" {
		t.Errorf("nested module missing or wrong: %q", modules["teams/research.rego"])
	}
	if _, ok := modules["chorus_test.rego"]; ok {
		t.Error("rego unit tests should be skipped")
	}
}

func TestLoadRegoFiles_MissingDir(t *testing.T) {
	if _, err := LoadRegoFiles(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("expected error for a missing directory")
	}
}
