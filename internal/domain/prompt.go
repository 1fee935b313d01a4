package domain

import (
	"github.com/google/uuid"
)

// PromptRequest is one user submission. It is consumed exactly once by the relay.
type PromptRequest struct {
	ID            string `json:"id"`
	Preset        Preset `json:"preset"`
	Text          string `json:"prompt"`
	ContextWindow int    `json:"context_window,omitempty"`
	// History holds the requester's prior turns, oldest first. At most the
	// last ContextWindow of them are sent to the provider.
	History []ChatContent `json:"history,omitempty"`
	// OneShot requests skip the chat panel: the answer is copied to the
	// clipboard and the previously focused application is re-activated.
	OneShot bool `json:"one_shot,omitempty"`
}

// NewPromptRequest builds a request with a fresh UUIDv7 identifier.
func NewPromptRequest(preset Preset, text string, contextWindow int) PromptRequest {
	if contextWindow < 0 {
		contextWindow = 0
	}
	return PromptRequest{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Preset:        preset,
		Text:          text,
		ContextWindow: contextWindow,
	}
}

// ContextTurns returns the prior turns that fit the context window.
func (r PromptRequest) ContextTurns() []ChatContent {
	if r.ContextWindow <= 0 || len(r.History) == 0 {
		return nil
	}
	if len(r.History) > r.ContextWindow {
		return r.History[len(r.History)-r.ContextWindow:]
	}
	return r.History
}

// ChatContent is one persisted (prompt, response) pair.
type ChatContent struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// AccountDetail is the relay's view of the configured provider account.
type AccountDetail struct {
	Basic     AccountBasic `json:"basic"`
	UsageData AccountUsage `json:"usageData"`
}

// AccountBasic describes the provider endpoint in use.
type AccountBasic struct {
	APIHost  string `json:"apiHost"`
	APIKey   string `json:"apiKey"`
	UseModel string `json:"usemodel"`
}

// AccountUsage carries billing usage for the requested window.
type AccountUsage struct {
	TotalUsage float64 `json:"total_usage"`
}

// SessionContext carries the "last used preset" across the collaborator
// boundary, e.g. for hotkey dispatch. It lives as long as its owning pipeline.
type SessionContext struct {
	LastPreset Preset `json:"last_preset"`
}
