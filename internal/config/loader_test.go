package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "hello")

	tests := []struct {
		input    string
		expected string
	}{
		{"${TEST_VAR}", "hello"},
		{"${TEST_VAR:default}", "hello"},
		{"${UNSET_CHORUS_VAR:fallback}", "fallback"},
		{"${UNSET_CHORUS_VAR}", ""},
		{"no vars here", "no vars here"},
		{"prefix-${TEST_VAR}-suffix", "prefix-hello-suffix"},
	}

	for _, tt := range tests {
		got := expandEnvVars(tt.input)
		if got != tt.expected {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFile_WithEnvVars(t *testing.T) {
	t.Setenv("TEST_PORT", "7777")
	dir := t.TempDir()
	writeFile(t, dir, "chorus.yaml", `
server:
  host: "${TEST_HOST:127.0.0.1}"
  port: ${TEST_PORT}
chorus:
  evaluator_temperature: 0.1
`)

	cfg := DefaultConfig()
	if err := LoadFile(filepath.Join(dir, "chorus.yaml"), cfg); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1 (default), got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("expected port 7777, got %d", cfg.Server.Port)
	}
	if cfg.Chorus.EvaluatorTemperature != 0.1 {
		t.Errorf("expected evaluator temperature 0.1, got %v", cfg.Chorus.EvaluatorTemperature)
	}
	// Untouched sections keep their defaults.
	if cfg.Chorus.ResponderTemperature != 0.7 {
		t.Errorf("expected default responder temperature 0.7, got %v", cfg.Chorus.ResponderTemperature)
	}
	if cfg.Retrieval.DefaultRAGCount != 5 {
		t.Errorf("expected default rag count 5, got %d", cfg.Retrieval.DefaultRAGCount)
	}
}

func TestLoader_Load(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-test")
	dir := t.TempDir()
	writeFile(t, dir, "chorus.yaml", "server:\n  port: 8181\n")
	writeFile(t, dir, "providers.yaml", `
providers:
  openai:
    type: openai
    base_url: https://api.openai.com/v1
    api_key: ${TEST_OPENAI_KEY}
    no_temperature_prefixes: ["gpt-5", "o3"]
`)

	l := NewLoader(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := l.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if l.Config().Server.Port != 8181 {
		t.Errorf("expected port 8181, got %d", l.Config().Server.Port)
	}
	p, ok := l.Providers().Providers["openai"]
	if !ok {
		t.Fatal("expected openai provider")
	}
	if p.APIKey != "sk-test" {
		t.Errorf("expected expanded api key, got %q", p.APIKey)
	}
	if len(p.NoTemperaturePrefixes) != 2 {
		t.Errorf("expected 2 prefixes, got %v", p.NoTemperaturePrefixes)
	}
	// models.yaml is optional
	if l.Models().Classifier.Model == "" {
		t.Error("expected default classifier model")
	}
}

func TestLoader_InvalidModelProvider(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "chorus.yaml", "{}\n")
	writeFile(t, dir, "providers.yaml", "providers: {}\n")
	writeFile(t, dir, "models.yaml", `
classifier:
  provider: cohere
  model: command-r
`)

	l := NewLoader(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := l.Load(); err == nil {
		t.Fatal("expected validation error for unknown provider")
	}
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, Name: "chorus", User: "chorus", Password: "p@ss"}
	want := "postgres://chorus:p%40ss@db:5432/chorus?sslmode=disable"
	if got := d.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}

	d.URL = "postgres://override"
	if got := d.DSN(); got != "postgres://override" {
		t.Errorf("expected URL override, got %q", got)
	}
}

func TestModelRoute_TemperatureOr(t *testing.T) {
	r := ModelRoute{Provider: "openai", Model: "gpt-4o"}
	if got := r.TemperatureOr(0.5); got != 0.5 {
		t.Errorf("expected default 0.5, got %v", got)
	}
	v := 0.0
	r.Temperature = &v
	if got := r.TemperatureOr(0.5); got != 0 {
		t.Errorf("expected explicit 0, got %v", got)
	}
}
