// Package domain contains core domain types for the askbar relay.
package domain

import (
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
)

// Preset is a named conversation mode with its own isolated history.
// The set is closed: switches over Preset must handle every constant.
type Preset int

const (
	PresetChat Preset = iota
	PresetTranslator
	PresetProgrammer
	PresetSummarizer
	PresetPolisher
)

// PresetFlags are the behaviour switches attached to a preset.
type PresetFlags struct {
	// NoStore presets never persist turns to history.
	NoStore bool
	// InputDisable presets operate on a captured selection instead of typed input.
	InputDisable bool
	// MonitorBrowser presets offer to summarise the page the browser reports.
	MonitorBrowser bool
}

// AllPresets returns every preset in display order.
func AllPresets() []Preset {
	return []Preset{PresetChat, PresetTranslator, PresetProgrammer, PresetSummarizer, PresetPolisher}
}

// String returns the wire id of the preset.
func (p Preset) String() string {
	switch p {
	case PresetChat:
		return "chat"
	case PresetTranslator:
		return "translator"
	case PresetProgrammer:
		return "programmer"
	case PresetSummarizer:
		return "summarizer"
	case PresetPolisher:
		return "polisher"
	}
	return fmt.Sprintf("preset(%d)", int(p))
}

// Valid reports whether p is one of the declared presets.
func (p Preset) Valid() bool {
	return p >= PresetChat && p <= PresetPolisher
}

// Title returns the human-readable preset name.
func (p Preset) Title() string {
	switch p {
	case PresetChat:
		return "Chat"
	case PresetTranslator:
		return "Translator"
	case PresetProgrammer:
		return "Programmer"
	case PresetSummarizer:
		return "Summarizer"
	case PresetPolisher:
		return "Polisher"
	}
	return ""
}

// Flags returns the behaviour flags of the preset.
func (p Preset) Flags() PresetFlags {
	switch p {
	case PresetChat:
		return PresetFlags{}
	case PresetTranslator:
		return PresetFlags{NoStore: true}
	case PresetProgrammer:
		return PresetFlags{InputDisable: true}
	case PresetSummarizer:
		return PresetFlags{MonitorBrowser: true}
	case PresetPolisher:
		return PresetFlags{NoStore: true}
	}
	return PresetFlags{}
}

// SystemPrompt returns the instruction sent ahead of the conversation.
func (p Preset) SystemPrompt() string {
	switch p {
	case PresetChat:
		return "You are a helpful assistant. Answer concisely."
	case PresetTranslator:
		return "I want you to act as an English translator. I will speak to you in any language and you translate it and answer in the corrected and improved version of my text in English. Only reply with the translation and nothing else, do not write explanations."
	case PresetProgrammer:
		return "You are a senior software engineer. Improve, fix or explain the code you are given. Reply with code in a single fenced block unless an explanation is requested."
	case PresetSummarizer:
		return "Summarize the following content in a few short bullet points."
	case PresetPolisher:
		return "Polish the following text: fix grammar and spelling, keep the original meaning and language. Only reply with the polished text."
	}
	return ""
}

// PromptPrefix is prepended to the user's text before dispatch.
func (p Preset) PromptPrefix() string {
	switch p {
	case PresetChat:
		return ""
	case PresetTranslator:
		return "The text or word is: "
	case PresetProgrammer:
		return "The code is:\n"
	case PresetSummarizer:
		return "The content is:\n"
	case PresetPolisher:
		return "The text is: "
	}
	return ""
}

// ParsePreset resolves a wire id or title to a Preset.
func ParsePreset(s string) (Preset, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, p := range AllPresets() {
		if key == p.String() || key == strings.ToLower(p.Title()) {
			return p, nil
		}
	}
	return PresetChat, fmt.Errorf("unknown preset %q: %w", s, errdefs.ErrInvalidArgument)
}

// MarshalText implements encoding.TextMarshaler.
func (p Preset) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid preset %d: %w", int(p), errdefs.ErrInvalidArgument)
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Preset) UnmarshalText(b []byte) error {
	parsed, err := ParsePreset(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
