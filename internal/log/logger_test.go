package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestSetupOnlyOnce(t *testing.T) {
	logger = nil
	once = *new(sync.Once)

	var first, second bytes.Buffer
	Setup(Options{Level: "DEBUG", writer: &first})
	Setup(Options{Level: "ERROR", writer: &second})

	Debug("hello")
	if first.Len() == 0 {
		t.Fatal("expected first Setup to win and accept DEBUG")
	}
	if second.Len() != 0 {
		t.Fatalf("second Setup should be ignored, got %q", second.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bananas": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(Options{Format: "text", writer: &buf})
	l.Info("plain")
	if !strings.Contains(buf.String(), "msg=plain") {
		t.Fatalf("expected text handler output, got %q", buf.String())
	}
}

func TestFileOutputRotatesThroughLumberjack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "runner.log")
	l := newLogger(Options{File: path})
	l.Info("to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"to file"`) {
		t.Fatalf("unexpected log file contents: %s", data)
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithComponent("dispatch").Info("one")
	WithScript("/tmp/a.sh").Info("two")
	WithRun("run-1").Info("three")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 log lines, got %d", len(lines))
	}

	want := []struct{ key, value string }{
		{"component", "dispatch"},
		{"script", "/tmp/a.sh"},
		{"run_id", "run-1"},
	}
	for i, w := range want {
		var out map[string]any
		if err := json.Unmarshal([]byte(lines[i]), &out); err != nil {
			t.Fatalf("decode line %d: %v", i, err)
		}
		if out[w.key] != w.value {
			t.Errorf("line %d: expected %s=%q, got %v", i, w.key, w.value, out[w.key])
		}
	}
}
