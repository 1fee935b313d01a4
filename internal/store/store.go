// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/askbar/internal/domain"
)

// HistoryRepository persists committed conversation turns per preset.
type HistoryRepository interface {
	// History returns the committed turns for a preset, oldest first.
	History(ctx context.Context, preset domain.Preset) ([]domain.ChatContent, error)

	// AppendHistory adds one committed turn to the end of the preset history.
	AppendHistory(ctx context.Context, preset domain.Preset, turn domain.ChatContent) error

	// DeleteHistory removes the turn at index. It reports false when the
	// index is out of range.
	DeleteHistory(ctx context.Context, preset domain.Preset, index int) (bool, error)
}

// SettingsRepository is the collaborator key/value store.
type SettingsRepository interface {
	// GetSetting returns the raw value for key and whether it was set.
	GetSetting(ctx context.Context, key string) (string, bool, error)

	// SetSetting creates or replaces the value for key.
	SetSetting(ctx context.Context, key, value string) error
}

// Repository is the full persistence surface used by the server.
type Repository interface {
	HistoryRepository
	SettingsRepository

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
