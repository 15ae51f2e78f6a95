package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Level
		ok   bool
	}{
		{"", LevelInfo, true},
		{"DEBUG", LevelDebug, true},
		{" warning ", LevelWarn, true},
		{"error", LevelError, true},
		{"loud", LevelInfo, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestJSONLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewJSON(&buf, "info").With(Comp("relay"))
	log.Debug("hidden")
	log.Info("published", String("channel", "staff-7"), Int("delivered", 2), Duration("took", 1500*time.Millisecond), Err(nil))
	log.Warn("failed", Err(errors.New("boom")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2:\n%s", len(lines), buf.String())
	}
	var ev map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatal(err)
	}
	if ev["comp"] != "relay" || ev["channel"] != "staff-7" || ev["delivered"] != float64(2) || ev["took"] != "1.5s" {
		t.Fatalf("event = %v", ev)
	}
	if _, ok := ev["err"]; ok {
		t.Fatal("nil error produced an err field")
	}
	if c, _ := ev["caller"].(string); !strings.HasPrefix(c, "logx_test.go:") {
		t.Fatalf("caller = %v", ev["caller"])
	}
	if !strings.Contains(lines[1], `"err":"boom"`) {
		t.Fatalf("warn line = %s", lines[1])
	}
}

func TestZeroAndNop(t *testing.T) {
	t.Parallel()
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero Logger not IsZero")
	}
	zero.Info("dropped")
	if Nop().IsZero() {
		t.Fatal("Nop reported IsZero")
	}
}

func TestServiceApplySwapsLevelAndFile(t *testing.T) {
	t.Parallel()
	var stdout bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "relay.log")
	svc, log := newService(Config{Level: "info", Console: true, Format: "json"}, &stdout)
	defer func() { _ = svc.Close() }()
	child := log.With(Comp("app"))

	child.Debug("before")
	if stdout.Len() != 0 {
		t.Fatalf("debug written at info level: %s", stdout.String())
	}

	svc.Apply(Config{Level: "debug", Console: true, Format: "json", File: FileConfig{Enabled: true, Path: path}})
	child.Debug("after")
	if !strings.Contains(stdout.String(), `"message":"after"`) {
		t.Fatalf("stdout = %s", stdout.String())
	}
	first := svc.file

	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	if svc.file != first {
		t.Fatal("file reopened for an unchanged path")
	}
	child.Info("file only")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "after") || !strings.Contains(string(data), "file only") {
		t.Fatalf("file = %s", data)
	}
	if strings.Contains(stdout.String(), "file only") {
		t.Fatal("console disabled but still written")
	}
}
