package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewLogger_WritesJSONWithTSKey(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	log, err := NewLogger(Options{Dir: dir, Level: "debug"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	log.Debug("test_message_from_logging_test")
	_ = log.Sync()

	b, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := strings.TrimSpace(strings.Split(string(b), "\n")[0])
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("not JSON: %q", line)
	}
	if m["msg"] != "test_message_from_logging_test" {
		t.Fatalf("unexpected msg: %v", m["msg"])
	}
	if _, ok := m["ts"]; !ok {
		t.Fatalf("missing ts key: %v", m)
	}
}

func TestNewLogger_LevelFilters(t *testing.T) {
	dir := t.TempDir()
	log, err := NewLogger(Options{Dir: dir, Level: "warn"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	log.Info("dropped")
	log.Warn("kept")
	_ = log.Sync()

	b, _ := os.ReadFile(filepath.Join(dir, FileName))
	if strings.Contains(string(b), "dropped") || !strings.Contains(string(b), "kept") {
		t.Fatalf("level not applied: %s", b)
	}
}

func TestNewLogger_UnknownLevel(t *testing.T) {
	if _, err := NewLogger(Options{Dir: t.TempDir(), Level: "loud"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewLogger_EmptyLevelIsInfo(t *testing.T) {
	log, err := NewLogger(Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if log.Core().Enabled(zap.DebugLevel) || !log.Core().Enabled(zap.InfoLevel) {
		t.Fatal("empty level should mean info")
	}
}
