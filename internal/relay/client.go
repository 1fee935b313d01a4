package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/containerd/errdefs/pkg/errhttp"

	"github.com/ashureev/askbar/internal/domain"
	"github.com/ashureev/askbar/internal/identity"
	"github.com/ashureev/askbar/internal/sentinel"
	"github.com/ashureev/askbar/internal/stream"
)

// AppError is a non-zero application code returned by /crawl or /account.
type AppError struct {
	Code    int
	Message string
}

func (e *AppError) Error() string {
	return fmt.Sprintf("relay error %d: %s", e.Code, e.Message)
}

// Unwrap exposes the sentinel meaning of the code, if it has one.
func (e *AppError) Unwrap() error {
	if c := sentinel.Code(e.Code); c.Valid() {
		return sentinel.Err(c)
	}
	return nil
}

// Client talks to a remote relay.
type Client struct {
	baseURL  string
	http     *http.Client
	clientID string
}

// NewClient creates a relay client. httpClient should not carry a total
// timeout because prompt bodies stream for as long as the answer takes.
func NewClient(baseURL, clientID string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpClient,
		clientID: clientID,
	}
}

func (c *Client) body(req domain.PromptRequest) PromptBody {
	window := req.ContextWindow
	return PromptBody{
		Prompt:        req.Text,
		Preset:        req.Preset.String(),
		OneShot:       req.OneShot,
		ContextWindow: &window,
		History:       req.ContextTurns(),
	}
}

func (c *Client) post(ctx context.Context, path string, v any) (*http.Response, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.clientID != "" {
		httpReq.Header.Set(identity.ClientHeaderName, c.clientID)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("post %s: status %d: %s: %w", path, resp.StatusCode, strings.TrimSpace(string(msg)), errhttp.ToNative(resp.StatusCode))
	}
	return resp, nil
}

// Prompt sends req over the legacy text protocol and decodes the body into
// frames with the sentinel rule.
func (c *Client) Prompt(ctx context.Context, req domain.PromptRequest) iter.Seq2[sentinel.Frame, error] {
	return func(yield func(sentinel.Frame, error) bool) {
		path := "/prompt"
		if req.OneShot {
			path = "/ask"
		}
		resp, err := c.post(ctx, path, c.body(req))
		if err != nil {
			yield(sentinel.Frame{}, err)
			return
		}
		defer resp.Body.Close()
		for f, err := range stream.DecodeChunks(stream.Chunks(ctx, resp.Body, 0)) {
			if !yield(f, err) || err != nil {
				return
			}
		}
	}
}

// PromptFrames sends req over the websocket protocol, where control and data
// frames are distinguished out-of-band.
func (c *Client) PromptFrames(ctx context.Context, req domain.PromptRequest) iter.Seq2[sentinel.Frame, error] {
	return func(yield func(sentinel.Frame, error) bool) {
		u := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws/prompt"
		opts := &websocket.DialOptions{HTTPClient: c.http}
		if c.clientID != "" {
			opts.HTTPHeader = http.Header{identity.ClientHeaderName: []string{c.clientID}}
		}
		conn, _, err := websocket.Dial(ctx, u, opts)
		if err != nil {
			yield(sentinel.Frame{}, fmt.Errorf("dial relay: %w", err))
			return
		}
		defer conn.CloseNow()

		if err := wsjson.Write(ctx, conn, c.body(req)); err != nil {
			yield(sentinel.Frame{}, fmt.Errorf("send prompt: %w", err))
			return
		}
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
					return
				}
				yield(sentinel.Frame{}, fmt.Errorf("read frame: %w", err))
				return
			}
			f, err := sentinel.UnmarshalFrame(data)
			if err != nil {
				yield(sentinel.Frame{}, err)
				return
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

// Crawl asks the relay to summarise a page.
func (c *Client) Crawl(ctx context.Context, pageURL string, preset domain.Preset) (string, error) {
	resp, err := c.post(ctx, "/crawl", CrawlBody{URL: pageURL, Preset: preset.String()})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out CrawlResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode crawl response: %w", err)
	}
	if out.Code != 0 {
		return "", &AppError{Code: out.Code, Message: out.Message}
	}
	return out.Result, nil
}

// Account fetches the relay's account detail. The detail is returned even
// when the relay reports a failure code.
func (c *Client) Account(ctx context.Context, start, end string) (domain.AccountDetail, error) {
	resp, err := c.post(ctx, "/account", AccountBody{StartDate: start, EndDate: end})
	if err != nil {
		return domain.AccountDetail{}, err
	}
	defer resp.Body.Close()
	var out AccountResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.AccountDetail{}, fmt.Errorf("decode account response: %w", err)
	}
	if out.Code != 0 {
		return out.Result, &AppError{Code: out.Code, Message: out.Message}
	}
	return out.Result, nil
}
