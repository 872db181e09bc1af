package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestNewLogger_WritesJSONToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	log, err := NewLogger(dir, "debug", false)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	log.Debug("test_message_from_logging_test")
	_ = log.Sync()

	f, err := os.Open(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("log file missing: %v", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		t.Fatalf("log file is empty")
	}
	var entry map[string]any
	if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
		t.Fatalf("entry is not JSON: %v (%s)", err, sc.Text())
	}
	if entry["msg"] != "test_message_from_logging_test" || entry["level"] != "debug" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("missing ts key: %v", entry)
	}
}

func TestNewLogger_LevelFilters(t *testing.T) {
	dir := t.TempDir()
	log, err := NewLogger(dir, "warn", false)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	log.Info("dropped")
	_ = log.Sync()

	b, _ := os.ReadFile(filepath.Join(dir, FileName))
	if len(b) != 0 {
		t.Fatalf("info entry should be filtered at warn level: %s", b)
	}
}

func TestNewLogger_BadLevel(t *testing.T) {
	if _, err := NewLogger(t.TempDir(), "loud", false); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
