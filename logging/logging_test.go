package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"clinique/config"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")
	logger, err := New(config.LogConfig{Level: "info", Format: "json", File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("model artifact loaded")
	logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "model artifact loaded") {
		t.Fatalf("expected entry in log file, got %q", data)
	}
	if strings.Contains(string(data), "hidden") {
		t.Fatal("debug entry should be filtered at info level")
	}
}

func TestNewRejectsBadSettings(t *testing.T) {
	if _, err := New(config.LogConfig{Level: "loud"}); err == nil {
		t.Fatal("expected level error")
	}
	if _, err := New(config.LogConfig{Level: "info", Format: "xml"}); err == nil {
		t.Fatal("expected format error")
	}
}
