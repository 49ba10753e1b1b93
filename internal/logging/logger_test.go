package logging_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reel/internal/config"
	"reel/internal/logging"
)

func TestNewWritesToFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "nested", "reel.log")

	logger, err := logging.New(logging.Options{
		Level:       "debug",
		Format:      "json",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Info("hello", logging.String(logging.FieldSessionID, "s-1"))

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"session_id":"s-1"`) {
		t.Fatalf("expected structured session field in output, got %s", data)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewFromConfigCreatesLogDir(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "logs")
	cfg.Logging.Format = "console"

	if _, err := logging.NewFromConfig(&cfg); err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	if _, err := os.Stat(cfg.Paths.LogDir); err != nil {
		t.Fatalf("expected log dir to be created: %v", err)
	}
}

func TestNopLoggerIsSafe(t *testing.T) {
	logger := logging.NewNop()
	logger.Error("discarded", logging.Error(nil))
	component := logging.NewComponentLogger(nil, "outbox")
	component.Info("also discarded")
}
