package settings

import (
	"context"
	"testing"

	"github.com/containerd/errdefs"

	"github.com/ashureev/askbar/internal/store"
)

func TestDefaults(t *testing.T) {
	t.Parallel()

	s := New(store.NewMemory())
	snap, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Language != DefaultLanguage || snap.StoreHistory || snap.Contextual != 0 || snap.Minimal || snap.HasAPIKey {
		t.Fatalf("unexpected defaults %+v", snap)
	}
}

func TestReadsAreNeverCached(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := store.NewMemory()
	s := New(repo)

	if on, _ := s.StoreHistory(ctx); on {
		t.Fatal("store history should default off")
	}
	// A write that bypasses the service is visible on the next read.
	_ = repo.SetSetting(ctx, KeyStoreHistory, "1")
	if on, _ := s.StoreHistory(ctx); !on {
		t.Fatal("expected store history on after external write")
	}
}

func TestSetValidates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New(store.NewMemory())

	cases := []struct {
		key, value string
		ok         bool
	}{
		{KeyContextual, "10", true},
		{KeyContextual, "7", false},
		{KeyStoreHistory, "1", true},
		{KeyStoreHistory, "maybe", false},
		{KeyMinimal, "true", true},
		{KeyLanguage, "中文", true},
		{KeyLanguage, "Klingon", false},
		{KeyAPIKey, "sk-abc", true},
	}
	for _, tc := range cases {
		err := s.Set(ctx, tc.key, tc.value)
		if tc.ok && err != nil {
			t.Errorf("Set(%s, %q) unexpected error: %v", tc.key, tc.value, err)
		}
		if !tc.ok && !errdefs.IsInvalidArgument(err) {
			t.Errorf("Set(%s, %q) expected invalid argument, got %v", tc.key, tc.value, err)
		}
	}

	if err := s.Set(ctx, "unknown", "x"); !errdefs.IsNotFound(err) {
		t.Fatalf("unknown key should be not found, got %v", err)
	}
	if n, _ := s.Contextual(ctx); n != 10 {
		t.Fatalf("expected contextual 10, got %d", n)
	}
	if k, _ := s.APIKey(ctx); k != "sk-abc" {
		t.Fatalf("expected api key, got %q", k)
	}
}
