package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"info":    zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_WritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obumon.log")
	logger, err := New(config.LoggingConfig{Level: "info", File: path})
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("hidden")
	logger.Info("Tick", zap.String("rx", "1,024"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1:\n%s", len(lines), data)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["msg"] != "Tick" || entry["rx"] != "1,024" {
		t.Errorf("entry = %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Error("missing time key")
	}
}

func TestNew_BadFileStillLogs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "obumon.log")
	logger, err := New(config.LoggingConfig{File: path})
	if err == nil {
		t.Error("expected error for unopenable log file")
	}
	if logger == nil {
		t.Fatal("logger is nil")
	}
}
