package selection

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/containerd/errdefs"

	"github.com/ashureev/askbar/internal/domain"
)

func TestControllerApply(t *testing.T) {
	t.Parallel()

	c := NewController()
	if err := c.Apply(Event{Type: EventSelectionChange, Text: "func main()", App: "Code"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := c.Current(); got.Text != "func main()" || got.SourceApp != "Code" || got.Kind() != domain.SelectionText {
		t.Fatalf("unexpected selection %+v", got)
	}

	if err := c.Apply(Event{Type: EventURLChange, URL: " https://example.com/a "}); err != nil {
		t.Fatalf("Apply url: %v", err)
	}
	if got := c.Current(); got.URL != "https://example.com/a" || got.Kind() != domain.SelectionURL {
		t.Fatalf("unexpected selection %+v", got)
	}

	if err := c.Apply(Event{Type: EventURLChange, URL: "file:///etc/passwd"}); !errdefs.IsInvalidArgument(err) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if err := c.Apply(Event{Type: "hotkey"}); !errdefs.IsInvalidArgument(err) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if c.Current().URL != "https://example.com/a" {
		t.Fatal("rejected events must not change the selection")
	}
}

func TestDismissAndTake(t *testing.T) {
	t.Parallel()

	c := NewController()
	var seen []domain.SelectionContext
	c.OnChange(func(s domain.SelectionContext) { seen = append(seen, s) })

	_ = c.Apply(Event{Type: EventClipboardChange, Text: "copied"})
	c.Dismiss()
	c.Dismiss()
	if !c.Current().Empty() {
		t.Fatalf("dismiss should clear, got %+v", c.Current())
	}

	_ = c.Apply(Event{Type: EventClipboardChange, Text: "again"})
	if got := c.Take(); got.Text != "again" {
		t.Fatalf("Take = %+v", got)
	}
	if !c.Take().Empty() {
		t.Fatal("Take should consume the selection")
	}
	if len(seen) != 6 || seen[0].Text != "copied" || !seen[1].Empty() {
		t.Fatalf("unexpected change notifications %+v", seen)
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(url, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubAppliesEventsAndReplacesConnection(t *testing.T) {
	t.Parallel()

	ctrl := NewController()
	hub := NewHub(ctrl, nil, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first := dial(t, srv.URL)
	defer first.CloseNow()
	if err := wsjson.Write(ctx, first, Event{Type: EventSelectionChange, Text: "hello", App: "Notes"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, func() bool { return ctrl.Current().Text == "hello" })

	if err := wsjson.Write(ctx, first, Event{Type: "bogus"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var reply map[string]string
	if err := wsjson.Read(ctx, first, &reply); err != nil || reply["error"] == "" {
		t.Fatalf("expected error reply, got %v %v", reply, err)
	}

	second := dial(t, srv.URL)
	defer second.CloseNow()

	var ignored Event
	err := wsjson.Read(ctx, first, &ignored)
	if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Fatalf("first connection should be closed normally, got %v", err)
	}

	if err := wsjson.Write(ctx, second, Event{Type: EventURLChange, URL: "https://go.dev"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, func() bool { return ctrl.Current().URL == "https://go.dev" })
}
