package convlog

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoggerWritesPerPresetNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	global := filepath.Join(dir, "all.ndjson")
	logger, err := New(Config{Enabled: true, Dir: dir, QueueSize: 16, GlobalFile: global}, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Log(Event{
		Preset:     "chat",
		Channel:    "prompt_http",
		Direction:  "outbound",
		EventType:  "user_prompt",
		ContentRaw: "hello there",
	})

	line := waitForLogLine(t, filepath.Join(dir, "chat.ndjson"))
	var got Event
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.ContentRaw != "hello there" || got.Content == "" || got.Timestamp == "" {
		t.Fatalf("unexpected event %+v", got)
	}
	waitForLogLine(t, global)
}

func TestCloseFlushesQueue(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := New(Config{Enabled: true, Dir: dir, QueueSize: 64}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for range 10 {
		logger.Log(Event{Preset: "polisher", ContentRaw: "x"})
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "polisher.ndjson"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n := len(strings.Split(strings.TrimSpace(string(data)), "\n")); n != 10 {
		t.Fatalf("expected 10 lines, got %d", n)
	}
	// Logging after close is ignored.
	logger.Log(Event{Preset: "polisher", ContentRaw: "late"})
}

func TestDisabledIsNoop(t *testing.T) {
	t.Parallel()

	l, err := New(Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := l.(Noop); !ok {
		t.Fatalf("expected Noop, got %T", l)
	}
}

func TestCleanForReadabilityStripsANSI(t *testing.T) {
	t.Parallel()

	raw := "\x1b[31merror\x1b[0m plain\x07"
	clean := CleanForReadability(raw)
	if strings.Contains(clean, "\x1b") || strings.Contains(clean, "\x07") {
		t.Fatalf("expected escapes to be stripped: %q", clean)
	}
	if clean != "error plain" {
		t.Fatalf("unexpected clean text: %q", clean)
	}
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			return lines[len(lines)-1]
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log file %s", path)
	return ""
}
