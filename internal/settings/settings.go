// Package settings reads the collaborator key/value settings on demand.
//
// Values are never cached: every accessor hits the repository so a change
// made by another writer is visible on the next read.
package settings

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"

	"github.com/ashureev/askbar/internal/store"
)

// Keys understood by the settings service.
const (
	KeyLanguage     = "Set_Lng"
	KeyStoreHistory = "Set_StoreChat"
	KeyContextual   = "Set_Contexual"
	KeyMinimal      = "Set_SimpleMode"
	KeyAPIKey       = "ChatGPT_apikey"
)

// Defaults.
const (
	DefaultLanguage = "English"
)

// Languages lists the accepted language values.
var Languages = []string{"English", "中文"}

// ContextualChoices lists the accepted context-turn counts.
var ContextualChoices = []int{0, 5, 10, 15, 20}

// Snapshot is one consistent read of every setting.
type Snapshot struct {
	Language     string `json:"lng"`
	StoreHistory bool   `json:"store"`
	Contextual   int    `json:"contextual"`
	Minimal      bool   `json:"minimal"`
	HasAPIKey    bool   `json:"has_api_key"`
}

// Service is a typed accessor over the settings repository.
type Service struct {
	repo store.SettingsRepository
}

// New creates a settings service.
func New(repo store.SettingsRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) raw(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := s.repo.GetSetting(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("read setting %s: %w", key, err)
	}
	return strings.TrimSpace(v), ok, nil
}

// Language returns the UI language.
func (s *Service) Language(ctx context.Context) (string, error) {
	v, ok, err := s.raw(ctx, KeyLanguage)
	if err != nil || !ok || v == "" {
		return DefaultLanguage, err
	}
	return v, nil
}

// StoreHistory reports whether completed turns are persisted. Off by default.
func (s *Service) StoreHistory(ctx context.Context) (bool, error) {
	v, ok, err := s.raw(ctx, KeyStoreHistory)
	if err != nil || !ok {
		return false, err
	}
	return parseBool(v), nil
}

// Contextual returns how many prior turns are sent with a prompt.
func (s *Service) Contextual(ctx context.Context) (int, error) {
	v, ok, err := s.raw(ctx, KeyContextual)
	if err != nil || !ok {
		return 0, err
	}
	n, convErr := strconv.Atoi(v)
	if convErr != nil || !slices.Contains(ContextualChoices, n) {
		return 0, nil
	}
	return n, nil
}

// Minimal reports whether minimal mode is on.
func (s *Service) Minimal(ctx context.Context) (bool, error) {
	v, ok, err := s.raw(ctx, KeyMinimal)
	if err != nil || !ok {
		return false, err
	}
	return parseBool(v), nil
}

// APIKey returns the stored provider credential, if any.
func (s *Service) APIKey(ctx context.Context) (string, error) {
	v, _, err := s.raw(ctx, KeyAPIKey)
	return v, err
}

// Snapshot reads every setting once.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	var err error
	if snap.Language, err = s.Language(ctx); err != nil {
		return Snapshot{}, err
	}
	if snap.StoreHistory, err = s.StoreHistory(ctx); err != nil {
		return Snapshot{}, err
	}
	if snap.Contextual, err = s.Contextual(ctx); err != nil {
		return Snapshot{}, err
	}
	if snap.Minimal, err = s.Minimal(ctx); err != nil {
		return Snapshot{}, err
	}
	key, err := s.APIKey(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap.HasAPIKey = key != ""
	return snap, nil
}

// Set validates and stores a setting.
func (s *Service) Set(ctx context.Context, key, value string) error {
	value = strings.TrimSpace(value)
	switch key {
	case KeyLanguage:
		if !slices.Contains(Languages, value) {
			return fmt.Errorf("language %q: %w", value, errdefs.ErrInvalidArgument)
		}
	case KeyStoreHistory, KeyMinimal:
		if _, err := strconv.ParseBool(normalizeBool(value)); err != nil {
			return fmt.Errorf("%s must be a boolean, got %q: %w", key, value, errdefs.ErrInvalidArgument)
		}
	case KeyContextual:
		n, err := strconv.Atoi(value)
		if err != nil || !slices.Contains(ContextualChoices, n) {
			return fmt.Errorf("%s must be one of %v, got %q: %w", key, ContextualChoices, value, errdefs.ErrInvalidArgument)
		}
	case KeyAPIKey:
	default:
		return fmt.Errorf("setting %q: %w", key, errdefs.ErrNotFound)
	}
	if err := s.repo.SetSetting(ctx, key, value); err != nil {
		return fmt.Errorf("write setting %s: %w", key, err)
	}
	return nil
}

// normalizeBool accepts the numeric 0/1 values the store has always used.
func normalizeBool(v string) string {
	switch v {
	case "1":
		return "true"
	case "0":
		return "false"
	}
	return v
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(normalizeBool(v))
	return err == nil && b
}
