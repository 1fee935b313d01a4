package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
)

func TestStreamChatYieldsDeltasInOrder(t *testing.T) {
	t.Parallel()

	var got chatPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", d)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, nil)
	var parts []string
	for delta, err := range c.StreamChat(context.Background(), ChatRequest{APIKey: "sk-test", Messages: []Message{{Role: "user", Content: "hi"}}}) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		parts = append(parts, delta)
	}

	if strings.Join(parts, "|") != "Hel|lo" {
		t.Fatalf("unexpected deltas %v", parts)
	}
	if !got.Stream || got.Model != DefaultModel {
		t.Fatalf("unexpected payload %+v", got)
	}
	if got.Temperature != 0 || got.TopP != 1 || got.FrequencyPenalty != 1 || got.PresencePenalty != 1 {
		t.Fatalf("sampling parameters not fixed: %+v", got)
	}
}

func TestStreamChatStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"context_length_exceeded","message":"This model's maximum context length is 4097 tokens"}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, nil)
	var gotErr error
	for _, err := range c.StreamChat(context.Background(), ChatRequest{APIKey: "k"}) {
		gotErr = err
	}
	if gotErr == nil {
		t.Fatal("expected an error")
	}
	if !IsContextLengthExceeded(gotErr) {
		t.Fatalf("expected context length error, got %v", gotErr)
	}
	if !errdefs.IsInvalidArgument(gotErr) {
		t.Fatalf("400 should map to invalid argument, got %v", gotErr)
	}
}

func collectStream(t *testing.T, body string) ([]string, error) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, nil)
	var parts []string
	var gotErr error
	for delta, err := range c.StreamChat(context.Background(), ChatRequest{APIKey: "k"}) {
		if err != nil {
			gotErr = err
			continue
		}
		parts = append(parts, delta)
	}
	return parts, gotErr
}

func TestStreamChatErrorEventStopsStream(t *testing.T) {
	t.Parallel()

	body := "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		"data: {\"error\":{\"code\":\"context_length_exceeded\",\"message\":\"too long\"}}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
		"data: [DONE]\n\n"
	parts, err := collectStream(t, body)
	if strings.Join(parts, "") != "Hel" {
		t.Fatalf("deltas after the error event must not be delivered: %v", parts)
	}
	var se *StreamError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StreamError, got %v", err)
	}
	if !IsContextLengthExceeded(err) {
		t.Fatalf("in-stream context length error not recognised: %v", err)
	}

	_, err = collectStream(t, "data: {\"error\":{\"code\":\"server_error\",\"message\":\"overloaded\"}}\n\n")
	if err == nil || IsContextLengthExceeded(err) || !errdefs.IsUnavailable(err) {
		t.Fatalf("expected unavailable stream error, got %v", err)
	}
}

func TestStreamChatTruncatedBodyIsError(t *testing.T) {
	t.Parallel()

	parts, err := collectStream(t, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
	if strings.Join(parts, "") != "Hel" {
		t.Fatalf("unexpected deltas %v", parts)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
}

func TestStreamChatUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(Config{BaseURL: url}, nil)
	var gotErr error
	for _, err := range c.StreamChat(context.Background(), ChatRequest{APIKey: "k"}) {
		gotErr = err
	}
	if gotErr == nil || IsContextLengthExceeded(gotErr) {
		t.Fatalf("expected transport error, got %v", gotErr)
	}
}

func TestCompleteAndUsage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/chat/completions":
			_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"summary"}}]}`))
		case "/dashboard/billing/usage":
			if r.URL.Query().Get("start_date") != "2024-01-01" {
				t.Errorf("missing start_date")
			}
			_, _ = w.Write([]byte(`{"total_usage": 12.5}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/"}, nil)
	text, err := c.Complete(context.Background(), ChatRequest{APIKey: "k"})
	if err != nil || text != "summary" {
		t.Fatalf("Complete = %q, %v", text, err)
	}
	usage, err := c.Usage(context.Background(), "k", "2024-01-01", "2024-01-31")
	if err != nil || usage != 12.5 {
		t.Fatalf("Usage = %v, %v", usage, err)
	}
}
