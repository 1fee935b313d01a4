// Package conversation holds the per-preset conversation state observed by
// the UI: the current prompt, the live response of the active turn and the
// persisted history.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/askbar/internal/domain"
	"github.com/ashureev/askbar/internal/store"
)

// View is what the UI renders for one preset.
type View struct {
	Preset        domain.Preset      `json:"preset"`
	Prompt        string             `json:"prompt"`
	LiveResponse  string             `json:"live_response"`
	Error         string             `json:"error,omitempty"`
	InputDisabled bool               `json:"input_disabled"`
	Generating    bool               `json:"generating"`
	Generation    uint64             `json:"generation"`
	Last          domain.ChatContent `json:"last"`
}

// Turn identifies one prompt's lifetime in the store. A turn becomes stale
// as soon as a newer turn begins for the same preset.
type Turn struct {
	Preset     domain.Preset
	Generation uint64
	Prompt     string
}

// HistoryPolicy reports whether completed turns should be persisted.
type HistoryPolicy interface {
	StoreHistory(ctx context.Context) (bool, error)
}

type entry struct {
	mu       sync.Mutex
	view     View
	finished bool
}

func (e *entry) current(t Turn) bool {
	return t.Generation == e.view.Generation && !e.finished
}

// Store is the conversation state for every preset. Writes to one preset
// are serialized by that preset's mutex and observers see them in order.
type Store struct {
	entries map[domain.Preset]*entry
	history store.HistoryRepository
	policy  HistoryPolicy
	logger  *slog.Logger

	subMu   sync.Mutex
	subs    map[int]chan View
	nextSub int
}

// New creates a Store backed by history. policy may be nil, in which case
// every eligible turn is persisted.
func New(history store.HistoryRepository, policy HistoryPolicy, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	entries := make(map[domain.Preset]*entry, len(domain.AllPresets()))
	for _, p := range domain.AllPresets() {
		entries[p] = &entry{view: View{Preset: p}, finished: true}
	}
	return &Store{
		entries: entries,
		history: history,
		policy:  policy,
		logger:  logger,
		subs:    make(map[int]chan View),
	}
}

func (s *Store) entry(p domain.Preset) *entry {
	e, ok := s.entries[p]
	if !ok {
		panic(fmt.Sprintf("conversation: unknown preset %d", int(p)))
	}
	return e
}

// BeginTurn starts a new turn for preset. Any live turn is superseded and
// its later snapshots are ignored.
func (s *Store) BeginTurn(preset domain.Preset, prompt string) Turn {
	e := s.entry(preset)
	e.mu.Lock()
	if !e.finished {
		s.logger.Debug("Superseding live turn", "preset", preset, "generation", e.view.Generation)
	}
	gen := e.view.Generation + 1
	e.view = View{
		Preset:        preset,
		Prompt:        prompt,
		InputDisabled: true,
		Generating:    true,
		Generation:    gen,
	}
	e.finished = false
	s.notify(e.view)
	e.mu.Unlock()
	return Turn{Preset: preset, Generation: gen, Prompt: prompt}
}

// ApplySnapshot replaces the live response of turn with text. It returns
// false when turn is stale or already finished.
func (s *Store) ApplySnapshot(turn Turn, text string) bool {
	e := s.entry(turn.Preset)
	e.mu.Lock()
	if !e.current(turn) {
		e.mu.Unlock()
		return false
	}
	e.view.LiveResponse = text
	s.notify(e.view)
	e.mu.Unlock()
	return true
}

// Fail finishes turn with a user-visible warning. History is untouched.
func (s *Store) Fail(turn Turn, message string) bool {
	e := s.entry(turn.Preset)
	e.mu.Lock()
	if !e.current(turn) {
		e.mu.Unlock()
		return false
	}
	e.finished = true
	e.view.Error = message
	e.view.InputDisabled = false
	e.view.Generating = false
	s.notify(e.view)
	e.mu.Unlock()
	return true
}

// Abandon finishes turn without a warning, e.g. after cancellation.
func (s *Store) Abandon(turn Turn) bool {
	e := s.entry(turn.Preset)
	e.mu.Lock()
	if !e.current(turn) {
		e.mu.Unlock()
		return false
	}
	e.finished = true
	e.view.InputDisabled = false
	e.view.Generating = false
	s.notify(e.view)
	e.mu.Unlock()
	return true
}

// CommitTurn completes turn. The (prompt, response) pair is appended to the
// history unless the preset never stores, the store-history setting is off,
// or the response is empty. The prompt and live response are cleared either
// way. Committing a stale turn is a no-op.
func (s *Store) CommitTurn(ctx context.Context, turn Turn) error {
	e := s.entry(turn.Preset)
	e.mu.Lock()
	if !e.current(turn) {
		e.mu.Unlock()
		return nil
	}
	e.finished = true
	pair := domain.ChatContent{Prompt: e.view.Prompt, Response: e.view.LiveResponse}
	e.mu.Unlock()

	var err error
	if s.shouldPersist(ctx, turn.Preset, pair) {
		if err = s.history.AppendHistory(ctx, turn.Preset, pair); err != nil {
			err = fmt.Errorf("append history: %w", err)
		}
	}

	e.mu.Lock()
	if e.view.Generation != turn.Generation {
		e.mu.Unlock()
		return err
	}
	e.view.Prompt = ""
	e.view.LiveResponse = ""
	e.view.InputDisabled = false
	e.view.Generating = false
	e.view.Last = pair
	s.notify(e.view)
	e.mu.Unlock()
	return err
}

func (s *Store) shouldPersist(ctx context.Context, preset domain.Preset, pair domain.ChatContent) bool {
	if pair.Response == "" || preset.Flags().NoStore || s.history == nil {
		return false
	}
	if s.policy == nil {
		return true
	}
	ok, err := s.policy.StoreHistory(ctx)
	if err != nil {
		s.logger.Warn("Failed to read store-history setting", "error", err)
		return false
	}
	return ok
}

// DeleteHistoryEntry removes the pair at index. An out-of-range index is a
// silent no-op. The current prompt and live response of an idle preset are
// cleared as well.
func (s *Store) DeleteHistoryEntry(ctx context.Context, preset domain.Preset, index int) error {
	if index < 0 || s.history == nil {
		return nil
	}
	removed, err := s.history.DeleteHistory(ctx, preset, index)
	if err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	if !removed {
		return nil
	}

	e := s.entry(preset)
	e.mu.Lock()
	if !e.finished {
		e.mu.Unlock()
		return nil
	}
	e.view.Prompt = ""
	e.view.LiveResponse = ""
	e.view.Last = domain.ChatContent{}
	s.notify(e.view)
	e.mu.Unlock()
	return nil
}

// History returns the persisted turns for preset, oldest first.
func (s *Store) History(ctx context.Context, preset domain.Preset) ([]domain.ChatContent, error) {
	if s.history == nil {
		return nil, nil
	}
	h, err := s.history.History(ctx, preset)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return h, nil
}

// View returns the current view of preset.
func (s *Store) View(preset domain.Preset) View {
	e := s.entry(preset)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view
}

// Views returns the current view of every preset.
func (s *Store) Views() []View {
	out := make([]View, 0, len(s.entries))
	for _, p := range domain.AllPresets() {
		out = append(out, s.View(p))
	}
	return out
}
