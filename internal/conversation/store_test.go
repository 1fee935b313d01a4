package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/ashureev/askbar/internal/domain"
	"github.com/ashureev/askbar/internal/store"
)

type policy struct {
	store bool
	err   error
}

func (p policy) StoreHistory(context.Context) (bool, error) { return p.store, p.err }

type failingHistory struct{ store.HistoryRepository }

func (failingHistory) AppendHistory(context.Context, domain.Preset, domain.ChatContent) error {
	return errors.New("disk full")
}

func newStore(t *testing.T, storeHistory bool) (*Store, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemory()
	return New(mem, policy{store: storeHistory}, nil), mem
}

func TestCommitTurnAppendsHistoryAndClearsView(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t, true)
	ctx := context.Background()

	turn := s.BeginTurn(domain.PresetChat, "hi")
	v := s.View(domain.PresetChat)
	if !v.InputDisabled || !v.Generating || v.Prompt != "hi" {
		t.Fatalf("unexpected view after begin: %+v", v)
	}
	s.ApplySnapshot(turn, "Hel")
	s.ApplySnapshot(turn, "Hello")
	if got := s.View(domain.PresetChat).LiveResponse; got != "Hello" {
		t.Fatalf("expected live response Hello, got %q", got)
	}

	if err := s.CommitTurn(ctx, turn); err != nil {
		t.Fatalf("CommitTurn: %v", err)
	}
	h, err := s.History(ctx, domain.PresetChat)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(h) != 1 || h[0] != (domain.ChatContent{Prompt: "hi", Response: "Hello"}) {
		t.Fatalf("unexpected history %+v", h)
	}
	v = s.View(domain.PresetChat)
	if v.Prompt != "" || v.LiveResponse != "" || v.InputDisabled || v.Generating {
		t.Fatalf("view not cleared: %+v", v)
	}
	if v.Last.Response != "Hello" {
		t.Fatalf("last pair not kept for display: %+v", v.Last)
	}
}

func TestCommitTurnSuppression(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cases := []struct {
		name     string
		preset   domain.Preset
		store    bool
		response string
	}{
		{"no-store preset", domain.PresetTranslator, true, "bonjour"},
		{"store setting off", domain.PresetChat, false, "hello"},
		{"empty response", domain.PresetChat, true, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s, _ := newStore(t, tc.store)
			turn := s.BeginTurn(tc.preset, "prompt")
			if tc.response != "" {
				s.ApplySnapshot(turn, tc.response)
			}
			if err := s.CommitTurn(ctx, turn); err != nil {
				t.Fatalf("CommitTurn: %v", err)
			}
			h, _ := s.History(ctx, tc.preset)
			if len(h) != 0 {
				t.Fatalf("history should be unchanged, got %+v", h)
			}
			v := s.View(tc.preset)
			if v.Prompt != "" || v.LiveResponse != "" {
				t.Fatalf("view should still be cleared: %+v", v)
			}
		})
	}
}

func TestSupersededTurnIsIgnored(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t, true)
	ctx := context.Background()

	old := s.BeginTurn(domain.PresetChat, "first")
	s.ApplySnapshot(old, "partial")
	cur := s.BeginTurn(domain.PresetChat, "second")

	if s.ApplySnapshot(old, "stale") {
		t.Fatal("stale snapshot must be rejected")
	}
	if s.Fail(old, "boom") {
		t.Fatal("stale failure must be rejected")
	}
	if err := s.CommitTurn(ctx, old); err != nil {
		t.Fatalf("stale commit: %v", err)
	}
	v := s.View(domain.PresetChat)
	if v.Prompt != "second" || v.LiveResponse != "" || v.Error != "" {
		t.Fatalf("current turn disturbed: %+v", v)
	}

	s.ApplySnapshot(cur, "answer")
	if err := s.CommitTurn(ctx, cur); err != nil {
		t.Fatalf("CommitTurn: %v", err)
	}
	h, _ := s.History(ctx, domain.PresetChat)
	if len(h) != 1 || h[0].Prompt != "second" {
		t.Fatalf("unexpected history %+v", h)
	}
}

func TestFailKeepsHistoryAndIgnoresLateSnapshots(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t, true)
	turn := s.BeginTurn(domain.PresetChat, "hi")
	if !s.Fail(turn, "High network latency") {
		t.Fatal("Fail should apply to the live turn")
	}
	if s.ApplySnapshot(turn, "late chunk") {
		t.Fatal("snapshot after failure must be ignored")
	}
	v := s.View(domain.PresetChat)
	if v.Error != "High network latency" || v.InputDisabled || v.Generating || v.LiveResponse != "" {
		t.Fatalf("unexpected view %+v", v)
	}
	h, _ := s.History(context.Background(), domain.PresetChat)
	if len(h) != 0 {
		t.Fatalf("failure must not touch history: %+v", h)
	}
}

func TestDeleteHistoryEntry(t *testing.T) {
	t.Parallel()

	s, mem := newStore(t, true)
	ctx := context.Background()
	for _, p := range []string{"a", "b", "c"} {
		_ = mem.AppendHistory(ctx, domain.PresetChat, domain.ChatContent{Prompt: p, Response: p + "!"})
	}

	for _, idx := range []int{3, 10, -1} {
		if err := s.DeleteHistoryEntry(ctx, domain.PresetChat, idx); err != nil {
			t.Fatalf("out of range delete %d: %v", idx, err)
		}
	}
	h, _ := s.History(ctx, domain.PresetChat)
	if len(h) != 3 {
		t.Fatalf("out of range delete changed history: %+v", h)
	}

	if err := s.DeleteHistoryEntry(ctx, domain.PresetChat, 1); err != nil {
		t.Fatalf("DeleteHistoryEntry: %v", err)
	}
	h, _ = s.History(ctx, domain.PresetChat)
	if len(h) != 2 || h[0].Prompt != "a" || h[1].Prompt != "c" {
		t.Fatalf("unexpected history %+v", h)
	}
}

func TestCommitTurnPersistenceErrorStillReleasesInput(t *testing.T) {
	t.Parallel()

	s := New(failingHistory{store.NewMemory()}, nil, nil)
	turn := s.BeginTurn(domain.PresetChat, "hi")
	s.ApplySnapshot(turn, "there")
	if err := s.CommitTurn(context.Background(), turn); err == nil {
		t.Fatal("expected append error")
	}
	if v := s.View(domain.PresetChat); v.InputDisabled {
		t.Fatalf("input should be re-enabled: %+v", v)
	}
}

func TestSubscribeReceivesUpdatesInOrder(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t, false)
	ch, cancel := s.Subscribe()
	defer cancel()

	turn := s.BeginTurn(domain.PresetPolisher, "fix this")
	s.ApplySnapshot(turn, "fixed")

	first := <-ch
	second := <-ch
	if first.Prompt != "fix this" || first.LiveResponse != "" {
		t.Fatalf("unexpected first view %+v", first)
	}
	if second.LiveResponse != "fixed" {
		t.Fatalf("unexpected second view %+v", second)
	}
}

func TestSlowSubscriberKeepsNewestView(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t, false)
	ch, cancel := s.Subscribe()

	turn := s.BeginTurn(domain.PresetChat, "x")
	for i := range subscriberBuffer * 2 {
		s.ApplySnapshot(turn, string(rune('a'+i%26)))
	}
	s.ApplySnapshot(turn, "final")
	cancel()
	cancel()

	var last View
	n := 0
	for v := range ch {
		last = v
		n++
	}
	if n > subscriberBuffer {
		t.Fatalf("buffer overrun: %d views", n)
	}
	if last.LiveResponse != "final" {
		t.Fatalf("newest view lost, last=%+v", last)
	}
}
