// Package relay forwards prompts to the completion provider and streams the
// answer back, multiplexing sentinel codes into the stream.
package relay

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ashureev/askbar/internal/domain"
	"github.com/ashureev/askbar/internal/provider"
	"github.com/ashureev/askbar/internal/sentinel"
)

// DefaultMaxPromptTokens bounds the estimated prompt size.
const DefaultMaxPromptTokens = 3000

// Provider is the completion backend.
type Provider interface {
	StreamChat(ctx context.Context, req provider.ChatRequest) iter.Seq2[string, error]
	Complete(ctx context.Context, req provider.ChatRequest) (string, error)
	Usage(ctx context.Context, key, start, end string) (float64, error)
	BaseURL() string
	Model() string
}

// Settings is the subset of user settings the relay reads per request.
type Settings interface {
	APIKey(ctx context.Context) (string, error)
	Contextual(ctx context.Context) (int, error)
}

// Deps are the collaborators of an Adapter. Clipboard and Activator are optional.
type Deps struct {
	Provider  Provider
	Settings  Settings
	Clipboard Clipboard
	Activator AppActivator
	// Fetcher is used by Crawl. Defaults to a client with a 10 second timeout.
	Fetcher *http.Client
}

// AdapterConfig holds relay limits and the fallback credential.
type AdapterConfig struct {
	DefaultAPIKey   string
	MaxPromptTokens int
}

// Adapter turns one PromptRequest into a provider call. It keeps no state
// across requests besides its dependencies and fixed configuration.
type Adapter struct {
	deps   Deps
	cfg    AdapterConfig
	logger *slog.Logger
}

// NewAdapter creates a relay adapter.
func NewAdapter(deps Deps, cfg AdapterConfig, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxPromptTokens <= 0 {
		cfg.MaxPromptTokens = DefaultMaxPromptTokens
	}
	if deps.Fetcher == nil {
		deps.Fetcher = &http.Client{Timeout: 10 * time.Second}
	}
	return &Adapter{deps: deps, cfg: cfg, logger: logger}
}

// apiKey resolves the credential: the stored setting wins over config.
func (a *Adapter) apiKey(ctx context.Context) string {
	if a.deps.Settings != nil {
		key, err := a.deps.Settings.APIKey(ctx)
		if err != nil {
			a.logger.Warn("failed to read api key setting", "error", err)
		}
		if key != "" {
			return key
		}
	}
	return strings.TrimSpace(a.cfg.DefaultAPIKey)
}

// DefaultContextWindow reads the contextual-turn setting.
func (a *Adapter) DefaultContextWindow(ctx context.Context) int {
	if a.deps.Settings == nil {
		return 0
	}
	n, err := a.deps.Settings.Contextual(ctx)
	if err != nil {
		a.logger.Warn("failed to read contextual setting", "error", err)
		return 0
	}
	return n
}

// messages builds the provider message list: system prompt, up to
// ContextWindow of the requester's most recent turns, then the prompt
// itself. The relay never reads context from its own store, so one client's
// conversation cannot reach another client's prompt.
func messages(req domain.PromptRequest) []provider.Message {
	msgs := []provider.Message{{Role: "system", Content: req.Preset.SystemPrompt()}}
	for _, turn := range req.ContextTurns() {
		msgs = append(msgs,
			provider.Message{Role: "user", Content: turn.Prompt},
			provider.Message{Role: "assistant", Content: turn.Response},
		)
	}
	return append(msgs, provider.Message{Role: "user", Content: req.Text})
}

// EstimateTokens approximates the prompt size at four characters per token.
func EstimateTokens(msgs []provider.Message) int {
	chars := 0
	for _, m := range msgs {
		chars += utf8.RuneCountInString(m.Content)
	}
	return (chars + 3) / 4
}

func (a *Adapter) control(w FrameWriter, code sentinel.Code) error {
	if err := w.WriteControl(code); err != nil {
		return fmt.Errorf("write %s: %w", code, err)
	}
	return sentinel.Err(code)
}

// Stream runs req against the provider and writes the answer to w. Failures
// are written to w as control codes and also returned as *sentinel.Error.
// Raw transport errors never reach w.
func (a *Adapter) Stream(ctx context.Context, req domain.PromptRequest, w FrameWriter) (string, error) {
	key := a.apiKey(ctx)
	if key == "" {
		return "", a.control(w, sentinel.NotSetAPIKey)
	}

	msgs := messages(req)
	if est := EstimateTokens(msgs); est > a.cfg.MaxPromptTokens {
		a.logger.Info("prompt rejected before dispatch", "request_id", req.ID, "estimated_tokens", est, "limit", a.cfg.MaxPromptTokens)
		return "", a.control(w, sentinel.TokenTooLong)
	}

	var answer strings.Builder
	for delta, err := range a.deps.Provider.StreamChat(ctx, provider.ChatRequest{APIKey: key, Messages: msgs}) {
		if err != nil {
			if ctx.Err() != nil {
				return answer.String(), ctx.Err()
			}
			code := sentinel.NetworkCongestion
			if provider.IsContextLengthExceeded(err) {
				code = sentinel.TokenTooLong
			}
			a.logger.Warn("provider stream failed", "request_id", req.ID, "preset", req.Preset, "code", code, "error", err)
			return answer.String(), a.control(w, code)
		}
		answer.WriteString(delta)
		if err := w.WriteData(delta); err != nil {
			return answer.String(), fmt.Errorf("write data: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return answer.String(), err
	}

	if req.OneShot {
		a.oneShot(ctx, answer.String())
	}
	return answer.String(), nil
}

// oneShot copies the answer and re-activates the previous application.
// Failures are logged only.
func (a *Adapter) oneShot(ctx context.Context, answer string) {
	if a.deps.Clipboard != nil {
		if err := a.deps.Clipboard.WriteText(answer); err != nil {
			a.logger.Warn("failed to copy answer to clipboard", "error", err)
		}
	}
	if a.deps.Activator != nil {
		if err := a.deps.Activator.Activate(ctx); err != nil {
			a.logger.Debug("failed to re-activate previous application", "error", err)
		}
	}
}

// Open runs Stream in its own goroutine and exposes its output as frames.
// The goroutine observes ctx, so cancelling ctx tears down the provider call.
// Breaking out of the returned sequence stops further frame delivery.
func (a *Adapter) Open(ctx context.Context, req domain.PromptRequest) iter.Seq2[sentinel.Frame, error] {
	return func(yield func(sentinel.Frame, error) bool) {
		frames := make(chan sentinel.Frame)
		done := make(chan struct{})
		result := make(chan error, 1)
		defer close(done)

		go func() {
			defer close(frames)
			_, err := a.Stream(ctx, req, &chanWriter{ctx: ctx, ch: frames, done: done})
			result <- err
		}()

		for f := range frames {
			if !yield(f, nil) {
				return
			}
		}
		if err := <-result; err != nil && ctx.Err() != nil {
			yield(sentinel.Frame{}, ctx.Err())
		}
	}
}
