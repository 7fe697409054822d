package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf)
	defer Close()
	SetLevel(LevelWarn)
	defer SetLevel(LevelDebug)

	Debug("hidden %d", 1)
	Info("hidden %d", 2)
	Warn("shown %d", 3)
	Error("shown %d", 4)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("messages below warn should be dropped: %q", out)
	}
	if !strings.Contains(out, "[WARN] shown 3") || !strings.Contains(out, "[ERROR] shown 4") {
		t.Errorf("missing warn/error lines: %q", out)
	}
}

func TestInitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selfheal.log")
	if err := Init(path); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Info("resolved %s", "deal_again_button")
	if GetWriter() == nil {
		t.Error("GetWriter should not be nil after Init")
	}
	Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "[INFO] resolved deal_again_button") {
		t.Errorf("log file missing line: %q", data)
	}
}

func TestNoLoggerIsSilent(t *testing.T) {
	Close()
	Info("nobody hears this")
	if w := GetWriter(); w == nil {
		t.Error("GetWriter should fall back to io.Discard")
	}
}

func TestBadgerAdapter(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf)
	defer Close()
	SetLevel(LevelDebug)

	b := Badger()
	b.Errorf("value log %s\n", "corrupt")
	b.Warningf("slow compaction")
	b.Infof("opened %d tables", 3)

	out := buf.String()
	if !strings.Contains(out, "[ERROR] badger: value log corrupt") {
		t.Errorf("missing error line: %q", out)
	}
	if !strings.Contains(out, "[DEBUG] badger: opened 3 tables") {
		t.Errorf("badger info should be demoted to debug: %q", out)
	}
}
