// Package convlog writes prompt and answer events to NDJSON files without
// blocking the request path.
package convlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Event is one logged conversation message.
type Event struct {
	Timestamp  string         `json:"ts"`
	ClientID   string         `json:"client_id,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	Preset     string         `json:"preset"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Logger records conversation events.
type Logger interface {
	Log(ev Event)
	Close() error
}

// Config controls the file logger.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
	// GlobalFile, when set, receives every event in addition to the per-preset file.
	GlobalFile string
}

// Noop discards every event.
type Noop struct{}

func (Noop) Log(Event)    {}
func (Noop) Close() error { return nil }

type fileLogger struct {
	cfg    Config
	queue  chan Event
	done   chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	files  map[string]*os.File
}

// New returns a Logger for cfg. A disabled config yields Noop.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("conversation log dir is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}

	l := &fileLogger{
		cfg:    cfg,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
		files:  make(map[string]*os.File),
	}
	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Log enqueues ev. When the queue is full the oldest event is dropped.
func (l *fileLogger) Log(ev Event) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return
	}

	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if ev.Content == "" {
		ev.Content = CleanForReadability(ev.ContentRaw)
	}

	select {
	case l.queue <- ev:
		return
	default:
	}

	l.logger.Warn("[CONVLOG] Queue full, dropping oldest event", "queue_len", len(l.queue))
	select {
	case <-l.queue:
	default:
	}
	select {
	case l.queue <- ev:
	default:
		l.logger.Warn("[CONVLOG] Failed to queue event after backpressure", "preset", ev.Preset)
	}
}

func (l *fileLogger) run() {
	defer l.wg.Done()
	for {
		select {
		case ev := <-l.queue:
			l.write(ev)
		case <-l.done:
			// Flush whatever is still queued.
			for {
				select {
				case ev := <-l.queue:
					l.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (l *fileLogger) write(ev Event) {
	line, err := json.Marshal(ev)
	if err != nil {
		l.logger.Warn("[CONVLOG] Failed to marshal event", "error", err)
		return
	}
	line = append(line, '\n')

	name := ev.Preset
	if name == "" {
		name = "unknown"
	}
	targets := []string{filepath.Join(l.cfg.Dir, sanitize(name)+".ndjson")}
	if l.cfg.GlobalFile != "" {
		targets = append(targets, l.cfg.GlobalFile)
	}
	for _, path := range targets {
		f, err := l.file(path)
		if err != nil {
			l.logger.Warn("[CONVLOG] Failed to open log file", "path", path, "error", err)
			continue
		}
		if _, err := f.Write(line); err != nil {
			l.logger.Warn("[CONVLOG] Failed to write event", "path", path, "error", err)
		}
	}
}

func (l *fileLogger) file(path string) (*os.File, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.files[path]; ok {
		return f, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	l.files[path] = f
	return f, nil
}

// Close flushes queued events and closes every file.
func (l *fileLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.done)
	waited := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		l.logger.Warn("[CONVLOG] Writer shutdown timeout", "queue_remaining", len(l.queue))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for path, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", path, err)
		}
	}
	l.files = map[string]*os.File{}
	return firstErr
}

var (
	ansiPattern     = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	safeNamePattern = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// CleanForReadability strips terminal escapes and control characters.
func CleanForReadability(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

func sanitize(name string) string {
	return safeNamePattern.ReplaceAllString(name, "_")
}
