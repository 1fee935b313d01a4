// Package tui is the askbar terminal client. It renders the conversation
// store of every preset and dispatches typed prompts through the pipeline.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ashureev/askbar/internal/conversation"
	"github.com/ashureev/askbar/internal/domain"
	"github.com/ashureev/askbar/internal/sentinel"
	"github.com/ashureev/askbar/internal/supervisor"
)

// Dispatcher sends prompts. *pipeline.Pipeline satisfies it.
type Dispatcher interface {
	Submit(ctx context.Context, preset domain.Preset, text string) (supervisor.Outcome, error)
	Cancel(preset domain.Preset) bool
}

// Conversation is the read side of the conversation store plus history
// deletion. *conversation.Store satisfies it.
type Conversation interface {
	View(preset domain.Preset) conversation.View
	History(ctx context.Context, preset domain.Preset) ([]domain.ChatContent, error)
	DeleteHistoryEntry(ctx context.Context, preset domain.Preset, index int) error
}

type viewMsg conversation.View

type outcomeMsg struct {
	preset  domain.Preset
	outcome supervisor.Outcome
	err     error
}

type historyMsg struct {
	preset  domain.Preset
	history []domain.ChatContent
	err     error
}

type deletedMsg struct {
	preset domain.Preset
	err    error
}

// Model is the bubbletea model of the client.
type Model struct {
	ctx     context.Context
	pipe    Dispatcher
	conv    Conversation
	updates <-chan conversation.View

	preset   domain.Preset
	views    map[domain.Preset]conversation.View
	history  map[domain.Preset][]domain.ChatContent
	inflight map[domain.Preset]bool

	statusLine string
	statusErr  bool
	warning    string

	width  int
	height int

	input    textinput.Model
	timeline viewport.Model
	spinner  spinner.Model
	theme    theme
}

// New creates the model. updates is a subscription to conv; ctx bounds every
// request the model dispatches.
func New(ctx context.Context, pipe Dispatcher, conv Conversation, updates <-chan conversation.View, preset domain.Preset) Model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 8000
	input.Placeholder = "Ask anything. Enter sends, Tab switches preset."
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points

	timeline := viewport.New(0, 0)
	timeline.MouseWheelEnabled = true
	timeline.MouseWheelDelta = 3

	if !preset.Valid() {
		preset = domain.PresetChat
	}
	views := make(map[domain.Preset]conversation.View, len(domain.AllPresets()))
	for _, p := range domain.AllPresets() {
		views[p] = conv.View(p)
	}

	m := Model{
		ctx:        ctx,
		pipe:       pipe,
		conv:       conv,
		updates:    updates,
		preset:     preset,
		views:      views,
		history:    make(map[domain.Preset][]domain.ChatContent),
		inflight:   make(map[domain.Preset]bool),
		statusLine: "ready",
		input:      input,
		timeline:   timeline,
		spinner:    sp,
		theme:      newTheme(),
	}
	m.spinner.Style = m.theme.status
	return m
}

// Init starts the spinner, the store subscription and the history load of
// the initial preset.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		waitView(m.updates),
		m.historyCmd(m.preset),
		textinput.Blink,
	)
}

// Preset returns the selected preset.
func (m Model) Preset() domain.Preset { return m.preset }

func waitView(ch <-chan conversation.View) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return nil
		}
		return viewMsg(v)
	}
}

func (m Model) historyCmd(preset domain.Preset) tea.Cmd {
	ctx, conv := m.ctx, m.conv
	return func() tea.Msg {
		h, err := conv.History(ctx, preset)
		return historyMsg{preset: preset, history: h, err: err}
	}
}

func (m Model) submitCmd(preset domain.Preset, text string) tea.Cmd {
	ctx, pipe := m.ctx, m.pipe
	return func() tea.Msg {
		out, err := pipe.Submit(ctx, preset, text)
		return outcomeMsg{preset: preset, outcome: out, err: err}
	}
}

func (m Model) deleteLastCmd(preset domain.Preset) tea.Cmd {
	n := len(m.history[preset])
	if n == 0 {
		return nil
	}
	ctx, conv := m.ctx, m.conv
	return func() tea.Msg {
		return deletedMsg{preset: preset, err: conv.DeleteHistoryEntry(ctx, preset, n-1)}
	}
}

func (m *Model) setStatus(s string, isErr bool) {
	m.statusLine = s
	m.statusErr = isErr
}

// Update handles store updates, request outcomes and key presses.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case viewMsg:
		v := conversation.View(msg)
		m.views[v.Preset] = v
		cmds = append(cmds, waitView(m.updates))
	case historyMsg:
		if msg.err != nil {
			m.setStatus("history unavailable: "+msg.err.Error(), true)
			break
		}
		m.history[msg.preset] = msg.history
	case deletedMsg:
		if msg.err != nil {
			m.setStatus(msg.err.Error(), true)
			break
		}
		m.setStatus("deleted last entry", false)
		cmds = append(cmds, m.historyCmd(msg.preset))
	case outcomeMsg:
		m.inflight[msg.preset] = false
		cmds = append(cmds, m.handleOutcome(msg)...)
	case tea.MouseMsg:
		var cmd tea.Cmd
		m.timeline, cmd = m.timeline.Update(msg)
		cmds = append(cmds, cmd)
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.switchPreset(1)
			cmds = append(cmds, m.historyCmd(m.preset))
		case "shift+tab":
			m.switchPreset(-1)
			cmds = append(cmds, m.historyCmd(m.preset))
		case "esc":
			if m.pipe.Cancel(m.preset) {
				m.setStatus("cancelled "+m.preset.Title(), false)
			}
		case "ctrl+d":
			cmds = append(cmds, m.deleteLastCmd(m.preset))
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.timeline, cmd = m.timeline.Update(msg)
			cmds = append(cmds, cmd)
		case "enter":
			if cmd := m.submit(); cmd != nil {
				cmds = append(cmds, cmd)
			}
		default:
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
		}
	}
	m.renderTimeline()
	return m, tea.Batch(cmds...)
}

func (m *Model) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	if m.views[m.preset].InputDisabled || m.inflight[m.preset] {
		m.setStatus("waiting for the current answer, Esc cancels", false)
		return nil
	}
	m.input.Reset()
	m.inflight[m.preset] = true
	m.warning = ""
	m.setStatus("asking "+m.preset.Title()+"...", false)
	return m.submitCmd(m.preset, text)
}

func (m *Model) handleOutcome(msg outcomeMsg) []tea.Cmd {
	if msg.err != nil {
		m.setStatus(msg.err.Error(), true)
		return nil
	}
	out := msg.outcome
	switch out.Session.State {
	case domain.SessionCompleted:
		m.setStatus(fmt.Sprintf("%s answered", msg.preset.Title()), false)
		return []tea.Cmd{m.historyCmd(msg.preset)}
	case domain.SessionFailed:
		if out.LatencyWarning {
			m.warning = out.Warning
		}
		m.setStatus(failureStatus(out), true)
	case domain.SessionCancelled:
		m.setStatus(msg.preset.Title()+" request cancelled", false)
	}
	return nil
}

func failureStatus(out supervisor.Outcome) string {
	if out.Warning != "" {
		return out.Warning
	}
	return sentinel.Message(out.Session.Code)
}

func (m *Model) switchPreset(step int) {
	all := domain.AllPresets()
	idx := 0
	for i, p := range all {
		if p == m.preset {
			idx = i
			break
		}
	}
	m.preset = all[(idx+step+len(all))%len(all)]
	m.warning = ""
	m.setStatus(m.preset.Title(), false)
	m.timeline.GotoBottom()
}

func (m *Model) resize() {
	w := max(20, m.width-6)
	m.timeline.Width = w
	m.timeline.Height = max(3, m.height-10)
	m.input.Width = max(10, w-4)
}
