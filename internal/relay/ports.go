package relay

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/atotto/clipboard"
	"github.com/containerd/errdefs"
)

// Clipboard receives the answer of a one-shot request.
type Clipboard interface {
	WriteText(text string) error
}

// AppActivator brings the previously focused application back to the front.
type AppActivator interface {
	Activate(ctx context.Context) error
}

// SystemClipboard writes to the OS clipboard.
type SystemClipboard struct{}

// WriteText implements Clipboard.
func (SystemClipboard) WriteText(text string) error {
	if clipboard.Unsupported {
		return fmt.Errorf("system clipboard: %w", errdefs.ErrNotImplemented)
	}
	return clipboard.WriteAll(text)
}

// LastAppActivator remembers the application a selection came from and
// re-activates it on request. Only macOS is supported.
type LastAppActivator struct {
	mu   sync.Mutex
	last string
	run  func(ctx context.Context, app string) error
}

// NewLastAppActivator returns an activator backed by osascript.
func NewLastAppActivator() *LastAppActivator {
	return &LastAppActivator{run: runOSAScript}
}

// Remember records app as the application to re-activate.
func (a *LastAppActivator) Remember(app string) {
	app = strings.TrimSpace(app)
	if app == "" {
		return
	}
	a.mu.Lock()
	a.last = app
	a.mu.Unlock()
}

// Last returns the remembered application.
func (a *LastAppActivator) Last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Activate implements AppActivator.
func (a *LastAppActivator) Activate(ctx context.Context) error {
	app := a.Last()
	if app == "" {
		return nil
	}
	return a.run(ctx, app)
}

func runOSAScript(ctx context.Context, app string) error {
	if runtime.GOOS != "darwin" {
		return fmt.Errorf("activate %s: %w", app, errdefs.ErrNotImplemented)
	}
	script := fmt.Sprintf("tell application %q to activate", app)
	if out, err := exec.CommandContext(ctx, "osascript", "-e", script).CombinedOutput(); err != nil {
		return fmt.Errorf("activate %s: %w: %s", app, err, strings.TrimSpace(string(out)))
	}
	return nil
}
