// Package selection tracks text and URLs captured by the desktop
// collaborator until they are either dispatched or dismissed.
package selection

import (
	"fmt"
	"strings"
	"sync"

	"github.com/containerd/errdefs"

	"github.com/ashureev/askbar/internal/domain"
)

// Event types emitted by the capture collaborator.
const (
	EventClipboardChange = "clipboard_change"
	EventSelectionChange = "selection_change"
	EventURLChange       = "url_change"
)

// Event is one message from the collaborator.
type Event struct {
	Type string `json:"type"`
	Text string `json:"txt,omitempty"`
	App  string `json:"app,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Controller holds the pending selection. Dismissing it never reaches the
// relay and never touches conversation state.
type Controller struct {
	mu       sync.Mutex
	current  domain.SelectionContext
	onChange []func(domain.SelectionContext)
}

// NewController creates an empty controller.
func NewController() *Controller {
	return &Controller{}
}

// OnChange registers fn to be called with every new selection, including
// the empty one left by Dismiss and Take.
func (c *Controller) OnChange(fn func(domain.SelectionContext)) {
	c.mu.Lock()
	c.onChange = append(c.onChange, fn)
	c.mu.Unlock()
}

// Apply updates the pending selection from ev.
func (c *Controller) Apply(ev Event) error {
	var next domain.SelectionContext
	switch ev.Type {
	case EventClipboardChange:
		next = domain.SelectionContext{Text: ev.Text}
	case EventSelectionChange:
		next = domain.SelectionContext{Text: ev.Text, SourceApp: ev.App}
	case EventURLChange:
		u := strings.TrimSpace(ev.URL)
		if u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("url %q: %w", u, errdefs.ErrInvalidArgument)
		}
		next = domain.SelectionContext{URL: u, SourceApp: ev.App}
	default:
		return fmt.Errorf("event type %q: %w", ev.Type, errdefs.ErrInvalidArgument)
	}
	c.set(next)
	return nil
}

// Current returns the pending selection without consuming it.
func (c *Controller) Current() domain.SelectionContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Dismiss discards the pending selection. It always succeeds.
func (c *Controller) Dismiss() {
	c.set(domain.SelectionContext{})
}

// Take returns the pending selection and clears it.
func (c *Controller) Take() domain.SelectionContext {
	c.mu.Lock()
	sel := c.current
	c.current = domain.SelectionContext{}
	observers := c.onChange
	c.mu.Unlock()

	for _, fn := range observers {
		fn(domain.SelectionContext{})
	}
	return sel
}

func (c *Controller) set(sel domain.SelectionContext) {
	c.mu.Lock()
	c.current = sel
	observers := c.onChange
	c.mu.Unlock()

	for _, fn := range observers {
		fn(sel)
	}
}
