package relay

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/ashureev/askbar/internal/provider"
	"github.com/ashureev/askbar/internal/sentinel"
)

type fakeProvider struct {
	mu       sync.Mutex
	deltas   []string
	err      error
	complete string
	usage    float64
	requests []provider.ChatRequest
	// block, when set, holds the stream open until ctx is done.
	block bool
}

func (f *fakeProvider) StreamChat(ctx context.Context, req provider.ChatRequest) iter.Seq2[string, error] {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return func(yield func(string, error) bool) {
		for _, d := range f.deltas {
			if !yield(d, nil) {
				return
			}
		}
		if f.block {
			<-ctx.Done()
			yield("", ctx.Err())
			return
		}
		if f.err != nil {
			yield("", f.err)
		}
	}
}

func (f *fakeProvider) Complete(_ context.Context, req provider.ChatRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.complete, f.err
}

func (f *fakeProvider) Usage(context.Context, string, string, string) (float64, error) {
	return f.usage, f.err
}

func (f *fakeProvider) BaseURL() string { return "https://relay.example" }
func (f *fakeProvider) Model() string   { return "gpt-3.5-turbo" }

func (f *fakeProvider) lastRequest() provider.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakeSettings struct {
	key        string
	contextual int
}

func (s fakeSettings) APIKey(context.Context) (string, error)  { return s.key, nil }
func (s fakeSettings) Contextual(context.Context) (int, error) { return s.contextual, nil }

type fakeClipboard struct {
	mu   sync.Mutex
	text string
}

func (c *fakeClipboard) WriteText(text string) error {
	c.mu.Lock()
	c.text = text
	c.mu.Unlock()
	return nil
}

type fakeActivator struct{ calls int }

func (a *fakeActivator) Activate(context.Context) error {
	a.calls++
	return errors.New("no window server")
}

type recordingWriter struct {
	data     []string
	controls []int
}

func (w *recordingWriter) WriteData(s string) error { w.data = append(w.data, s); return nil }
func (w *recordingWriter) WriteControl(c sentinel.Code) error {
	w.controls = append(w.controls, int(c))
	return nil
}
