// Package pipeline turns UI intents into supervised relay requests and
// routes their output into the conversation store.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/containerd/errdefs"

	"github.com/ashureev/askbar/internal/conversation"
	"github.com/ashureev/askbar/internal/domain"
	"github.com/ashureev/askbar/internal/selection"
	"github.com/ashureev/askbar/internal/sentinel"
	"github.com/ashureev/askbar/internal/supervisor"
)

// Ancillary is the non-streaming part of the relay.
type Ancillary interface {
	Crawl(ctx context.Context, pageURL string, preset domain.Preset) (string, error)
	Account(ctx context.Context, start, end string) (domain.AccountDetail, error)
}

// ContextSource reports how many prior turns are sent with a prompt.
type ContextSource interface {
	Contextual(ctx context.Context) (int, error)
}

// Deps are the collaborators of a Pipeline. Settings may be nil.
type Deps struct {
	Open         supervisor.Opener
	Ancillary    Ancillary
	Conversation *conversation.Store
	Selection    *selection.Controller
	Supervisor   *supervisor.Supervisor
	Settings     ContextSource
}

type inflight struct {
	id     string
	cancel context.CancelFunc
}

// Pipeline dispatches prompts. At most one prompt per preset is in flight;
// a new one supersedes the previous.
type Pipeline struct {
	deps   Deps
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[domain.Preset]inflight
	session  domain.SessionContext
}

// New creates a Pipeline with a fresh SessionContext.
func New(deps Deps, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		deps:     deps,
		logger:   logger,
		inflight: make(map[domain.Preset]inflight),
		session:  domain.SessionContext{LastPreset: domain.PresetChat},
	}
}

// SessionContext returns the last used preset.
func (p *Pipeline) SessionContext() domain.SessionContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// Submit sends text for preset and blocks until the session is terminal.
// The returned error is only set for invalid input or a failed history
// write; relay failures are reported through the Outcome.
func (p *Pipeline) Submit(ctx context.Context, preset domain.Preset, text string) (supervisor.Outcome, error) {
	return p.dispatch(ctx, preset, text, false)
}

// Ask is Submit for one-shot prompts: the answer also goes to the
// clipboard and focus returns to the previous application.
func (p *Pipeline) Ask(ctx context.Context, preset domain.Preset, text string) (supervisor.Outcome, error) {
	return p.dispatch(ctx, preset, text, true)
}

// SubmitSelection dispatches the pending text selection for preset.
func (p *Pipeline) SubmitSelection(ctx context.Context, preset domain.Preset) (supervisor.Outcome, error) {
	sel := p.deps.Selection.Take()
	if sel.Kind() != domain.SelectionText {
		return supervisor.Outcome{}, fmt.Errorf("no text selection pending: %w", errdefs.ErrFailedPrecondition)
	}
	return p.dispatch(ctx, preset, sel.Text, false)
}

// Dismiss discards the pending selection without contacting the relay.
func (p *Pipeline) Dismiss() {
	p.deps.Selection.Dismiss()
}

// Cancel aborts the in-flight prompt of preset, if any.
func (p *Pipeline) Cancel(preset domain.Preset) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.inflight[preset]
	if !ok {
		return false
	}
	cur.cancel()
	delete(p.inflight, preset)
	return true
}

func (p *Pipeline) contextWindow(ctx context.Context) int {
	if p.deps.Settings == nil {
		return 0
	}
	n, err := p.deps.Settings.Contextual(ctx)
	if err != nil {
		p.logger.Warn("Failed to read contextual setting", "error", err)
		return 0
	}
	return n
}

// contextTurns loads the preset's own history for the context window. The
// history is read before BeginTurn, so the new turn is never part of it.
func (p *Pipeline) contextTurns(ctx context.Context, req domain.PromptRequest) []domain.ChatContent {
	if req.ContextWindow <= 0 {
		return nil
	}
	h, err := p.deps.Conversation.History(ctx, req.Preset)
	if err != nil {
		p.logger.Warn("Failed to load context history", "preset", req.Preset, "error", err)
		return nil
	}
	req.History = h
	return req.ContextTurns()
}

// begin registers a new in-flight request for preset, cancelling the one it
// supersedes.
func (p *Pipeline) begin(ctx context.Context, req domain.PromptRequest) (context.Context, func()) {
	runCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	if prev, ok := p.inflight[req.Preset]; ok {
		p.logger.Info("Superseding in-flight prompt", "preset", req.Preset, "request_id", prev.id)
		prev.cancel()
	}
	p.inflight[req.Preset] = inflight{id: req.ID, cancel: cancel}
	p.session.LastPreset = req.Preset
	p.mu.Unlock()

	return runCtx, func() {
		cancel()
		p.mu.Lock()
		if cur, ok := p.inflight[req.Preset]; ok && cur.id == req.ID {
			delete(p.inflight, req.Preset)
		}
		p.mu.Unlock()
	}
}

func (p *Pipeline) dispatch(ctx context.Context, preset domain.Preset, text string, oneShot bool) (supervisor.Outcome, error) {
	if !preset.Valid() {
		return supervisor.Outcome{}, fmt.Errorf("preset %d: %w", int(preset), errdefs.ErrInvalidArgument)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return supervisor.Outcome{}, fmt.Errorf("prompt is empty: %w", errdefs.ErrInvalidArgument)
	}

	req := domain.NewPromptRequest(preset, preset.PromptPrefix()+text, p.contextWindow(ctx))
	req.OneShot = oneShot
	req.History = p.contextTurns(ctx, req)

	runCtx, done := p.begin(ctx, req)
	defer done()

	conv := p.deps.Conversation
	turn := conv.BeginTurn(preset, text)
	p.logger.Debug("Dispatching prompt", "preset", preset, "request_id", req.ID, "context_window", req.ContextWindow)

	out := p.deps.Supervisor.Run(runCtx, req, p.deps.Open, func(snapshot string) {
		conv.ApplySnapshot(turn, snapshot)
	})

	switch out.Session.State {
	case domain.SessionCompleted:
		if err := conv.CommitTurn(context.WithoutCancel(ctx), turn); err != nil {
			return out, err
		}
	case domain.SessionFailed:
		conv.Fail(turn, out.Warning)
		p.logger.Info("Prompt failed", "preset", preset, "request_id", req.ID,
			"code", out.Session.Code, "latency_warning", out.LatencyWarning)
	default:
		conv.Abandon(turn)
	}
	return out, nil
}

// Summarize crawls the pending URL selection with preset under the crawl
// deadline and records the result as a turn.
func (p *Pipeline) Summarize(ctx context.Context, preset domain.Preset) (string, error) {
	if !preset.Flags().MonitorBrowser {
		return "", fmt.Errorf("preset %s does not summarise pages: %w", preset, errdefs.ErrInvalidArgument)
	}
	sel := p.deps.Selection.Take()
	if sel.Kind() != domain.SelectionURL {
		return "", fmt.Errorf("no url selection pending: %w", errdefs.ErrFailedPrecondition)
	}

	p.Cancel(preset)
	p.mu.Lock()
	p.session.LastPreset = preset
	p.mu.Unlock()

	conv := p.deps.Conversation
	turn := conv.BeginTurn(preset, sel.URL)
	summary, err := supervisor.Call(ctx, p.deps.Supervisor.Deadlines().Crawl, func(ctx context.Context) (string, error) {
		return p.deps.Ancillary.Crawl(ctx, sel.URL, preset)
	})
	if err != nil {
		conv.Fail(turn, warning(err))
		return "", err
	}
	conv.ApplySnapshot(turn, summary)
	if err := conv.CommitTurn(context.WithoutCancel(ctx), turn); err != nil {
		return summary, err
	}
	return summary, nil
}

// Account fetches account details under the account deadline.
func (p *Pipeline) Account(ctx context.Context, start, end string) (domain.AccountDetail, error) {
	return supervisor.Call(ctx, p.deps.Supervisor.Deadlines().Account, func(ctx context.Context) (domain.AccountDetail, error) {
		return p.deps.Ancillary.Account(ctx, start, end)
	})
}

func warning(err error) string {
	if code, ok := sentinel.FromError(err); ok {
		return sentinel.Message(code)
	}
	if errdefs.IsInvalidArgument(err) {
		return err.Error()
	}
	return sentinel.Message(sentinel.NetworkCongestion)
}
