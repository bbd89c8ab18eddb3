package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "usage.log")
	logger, err := New(Options{File: path})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	logger.Cache.Printf("opened %s", "usage.db")
	logger.Error.Printf("boom")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "CACHE: ") || !strings.Contains(content, "opened usage.db") {
		t.Errorf("Missing cache line in %q", content)
	}
	if !strings.Contains(content, "ERROR: ") {
		t.Errorf("Missing error line in %q", content)
	}
}

func TestDiscardCloses(t *testing.T) {
	logger := Discard()
	logger.Access.Printf("ignored")
	if err := logger.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
