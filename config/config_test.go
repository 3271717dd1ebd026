package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 8000 || cfg.Models.Dir != "models" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Sentiment.CacheEntries() != 1024 {
		t.Fatalf("expected default cache size, got %d", cfg.Sentiment.CacheEntries())
	}
	if cfg.Training.Churn.Forest.Trees != 100 || cfg.Training.Churn.Forest.Seed != 42 {
		t.Fatalf("unexpected churn defaults: %+v", cfg.Training.Churn)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
http:
  port: 9100
  timeout: 5s
models:
  dir: /var/lib/clinique/models
sentiment:
  cache_size: 0
training:
  churn:
    synthetic_samples: 400
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 9100 || cfg.HTTP.Timeout != 5*time.Second {
		t.Fatalf("http section not applied: %+v", cfg.HTTP)
	}
	if cfg.HTTP.MaxBodyBytes != 1<<20 {
		t.Fatalf("unset field should keep default, got %d", cfg.HTTP.MaxBodyBytes)
	}
	if cfg.Models.Dir != "/var/lib/clinique/models" {
		t.Fatalf("unexpected models dir %q", cfg.Models.Dir)
	}
	if cfg.Sentiment.CacheEntries() != 0 {
		t.Fatalf("explicit zero should disable the cache, got %d", cfg.Sentiment.CacheEntries())
	}
	if cfg.Training.Churn.SyntheticSamples != 400 || cfg.Training.Churn.ChurnAfterDays != 90 {
		t.Fatalf("unexpected churn config: %+v", cfg.Training.Churn)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "http: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CLINIQUE_HTTP_PORT":  "7000",
		"CLINIQUE_MODELS_DIR": "/models",
		"CLINIQUE_DB_DRIVER":  "pgx",
		"CLINIQUE_DB_DSN":     "postgres://localhost/clinique_db",
		"CLINIQUE_LOG_LEVEL":  "debug",
		"CLINIQUE_TIMEZONE":   "Europe/Paris",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	cfg := Default()
	if err := applyEnv(&cfg, lookup); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 7000 || cfg.Models.Dir != "/models" || cfg.Database.Driver != "pgx" ||
		cfg.Database.DSN != "postgres://localhost/clinique_db" || cfg.Log.Level != "debug" ||
		cfg.Training.Timezone != "Europe/Paris" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}

	env["CLINIQUE_HTTP_PORT"] = "eighty"
	if err := applyEnv(&cfg, lookup); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.HTTP.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected port error")
	}
	cfg = Default()
	cfg.Models.Dir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected models dir error")
	}
	cfg = Default()
	cfg.Training.Timezone = "Mars/Olympus_Mons"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected timezone error")
	}
	cfg.Training.Timezone = "Europe/Paris"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("named zone should validate: %v", err)
	}
}
