// Package provider is a minimal client for OpenAI-compatible chat completion APIs.
package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/errdefs/pkg/errhttp"
)

const (
	// DefaultBaseURL is used when no base URL is configured.
	DefaultBaseURL = "https://api.openai.com"
	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-3.5-turbo"

	maxErrorBody = 64 << 10
	maxBody      = 8 << 20
)

// Sampling parameters are fixed for every request and not exposed to users.
const (
	Temperature      = 0
	TopP             = 1
	FrequencyPenalty = 1
	PresencePenalty  = 1
)

// Message is one entry of a chat completion message list.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a single completion call. APIKey is resolved by the caller.
type ChatRequest struct {
	APIKey   string
	Model    string
	Messages []Message
}

// Config holds provider client configuration.
type Config struct {
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	// StreamClient is used for streaming calls and should not carry a total timeout.
	StreamClient *http.Client
}

// Client talks to the completion provider over HTTP.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
	stream  *http.Client
	logger  *slog.Logger
}

// New creates a provider client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	sc := cfg.StreamClient
	if sc == nil {
		sc = &http.Client{}
	}
	return &Client{baseURL: base, model: model, http: hc, stream: sc, logger: logger}
}

// BaseURL returns the configured API host.
func (c *Client) BaseURL() string { return c.baseURL }

// Model returns the default model id.
func (c *Client) Model() string { return c.model }

// StatusError is returned for non-2xx provider responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// Unwrap maps the HTTP status onto an errdefs class.
func (e *StatusError) Unwrap() error {
	return errhttp.ToNative(e.StatusCode)
}

// IsContextLengthExceeded reports whether the provider rejected the request
// because the prompt did not fit the model context.
func IsContextLengthExceeded(err error) bool {
	var body string
	var se *StatusError
	var ev *StreamError
	switch {
	case errors.As(err, &se):
		body = se.Body
	case errors.As(err, &ev):
		body = ev.Code + " " + ev.Message
	default:
		return false
	}
	body = strings.ToLower(body)
	return strings.Contains(body, "context_length_exceeded") || strings.Contains(body, "maximum context length")
}

// StreamError is an error event the provider sent inside an accepted stream.
type StreamError struct {
	Code    string
	Message string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("provider stream error %s: %s", e.Code, e.Message)
}

// Unwrap classifies the failure as unavailable.
func (e *StreamError) Unwrap() error {
	return errdefs.ErrUnavailable
}

type chatPayload struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	Temperature      float64   `json:"temperature"`
	TopP             float64   `json:"top_p"`
	FrequencyPenalty float64   `json:"frequency_penalty"`
	PresencePenalty  float64   `json:"presence_penalty"`
	Stream           bool      `json:"stream,omitempty"`
}

func (c *Client) payload(req ChatRequest, stream bool) chatPayload {
	model := req.Model
	if model == "" {
		model = c.model
	}
	return chatPayload{
		Model:            model,
		Messages:         req.Messages,
		Temperature:      Temperature,
		TopP:             TopP,
		FrequencyPenalty: FrequencyPenalty,
		PresencePenalty:  PresencePenalty,
		Stream:           stream,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path, key string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}

// StreamChat performs a streaming completion and yields content deltas in
// the order the provider sends them. An error event or a body that ends
// before [DONE] is yielded as an error.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		httpReq, err := c.newRequest(ctx, http.MethodPost, "/v1/chat/completions", req.APIKey, c.payload(req, true))
		if err != nil {
			yield("", err)
			return
		}
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := c.stream.Do(httpReq)
		if err != nil {
			yield("", fmt.Errorf("stream request failed: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			yield("", statusError(resp))
			return
		}

		br := bufio.NewReader(resp.Body)
		for {
			line, err := br.ReadString('\n')
			if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data:"); ok {
				data = strings.TrimSpace(data)
				if data == "[DONE]" {
					return
				}
				delta, perr := parseDelta(data)
				var se *StreamError
				switch {
				case errors.As(perr, &se):
					yield("", se)
					return
				case perr != nil:
					c.logger.Warn("skipping malformed stream event", "error", perr)
				case delta != "":
					if !yield(delta, nil) {
						return
					}
				}
			}
			// The answer is only complete once [DONE] arrived.
			if errors.Is(err, io.EOF) {
				yield("", fmt.Errorf("read stream: %w", io.ErrUnexpectedEOF))
				return
			}
			if err != nil {
				yield("", fmt.Errorf("read stream: %w", err))
				return
			}
		}
	}
}

type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func parseDelta(data string) (string, error) {
	var ev streamEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return "", fmt.Errorf("decode stream event: %w", err)
	}
	if ev.Error != nil {
		return "", &StreamError{Code: ev.Error.Code, Message: ev.Error.Message}
	}
	if len(ev.Choices) == 0 {
		return "", nil
	}
	return ev.Choices[0].Delta.Content, nil
}

// Complete performs a non-streaming completion and returns the answer text.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (string, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/v1/chat/completions", req.APIKey, c.payload(req, false))
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError(resp)
	}

	var parsed struct {
		Choices []struct {
			Message Message `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}

// Usage returns the billed usage between start and end (YYYY-MM-DD).
func (c *Client) Usage(ctx context.Context, key, start, end string) (float64, error) {
	q := url.Values{}
	q.Set("start_date", start)
	q.Set("end_date", end)
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/dashboard/billing/usage?"+q.Encode(), key, nil)
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("usage request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, statusError(resp)
	}

	var parsed struct {
		TotalUsage float64 `json:"total_usage"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode usage: %w", err)
	}
	return parsed.TotalUsage, nil
}
