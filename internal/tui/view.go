package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ashureev/askbar/internal/domain"
)

// View renders the preset tabs, the timeline of the selected preset, the
// input line and the status footer.
func (m Model) View() string {
	width := max(40, m.width-4)
	out := lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(width),
		m.theme.panel.Width(width).Render(m.timeline.View()),
		m.renderInput(width),
		m.renderFooter(width),
	)
	return m.theme.root.Render(out)
}

func (m Model) renderHeader(width int) string {
	all := domain.AllPresets()
	segments := make([]string, 0, len(all))
	for _, p := range all {
		style := m.theme.tabInactive
		if p == m.preset {
			style = m.theme.tabActive
		}
		label := p.Title()
		if m.views[p].Generating {
			label += " •"
		}
		segments = append(segments, style.Render(label))
	}
	return m.theme.header.Width(width).Render(lipgloss.JoinHorizontal(lipgloss.Left, segments...))
}

func (m Model) renderInput(width int) string {
	inputView := m.input.View()
	if m.views[m.preset].Generating || m.inflight[m.preset] {
		inputView = m.spinner.View() + " " + inputView
	}
	return m.theme.inputPanel.Width(width).Render(inputView)
}

func (m Model) renderFooter(width int) string {
	style := m.theme.status
	if m.statusErr {
		style = m.theme.errorStatus
	}
	lines := []string{style.Render(m.statusLine)}
	if m.warning != "" {
		lines = append(lines, m.theme.warning.Render("⚠ "+m.warning))
	}
	lines = append(lines, m.theme.helpText.Render("Enter send · Tab/Shift+Tab preset · Esc cancel · Ctrl+D delete last · PgUp/PgDn scroll · Ctrl+C quit"))
	return m.theme.footer.Width(width).Render(strings.Join(lines, "\n"))
}

// timelineContent is the plain text of the selected preset: its history,
// then the turn in progress or the last completed pair when it was not
// persisted, then any error.
func (m Model) timelineContent() string {
	var b strings.Builder
	pair := func(prompt, response string) {
		b.WriteString(m.theme.you.Render("you"))
		b.WriteString("\n")
		b.WriteString(prompt)
		b.WriteString("\n\n")
		if response != "" {
			b.WriteString(m.theme.assistant.Render("askbar"))
			b.WriteString("\n")
			b.WriteString(response)
			b.WriteString("\n\n")
		}
	}

	hist := m.history[m.preset]
	for _, h := range hist {
		pair(h.Prompt, h.Response)
	}

	v := m.views[m.preset]
	switch {
	case v.Prompt != "":
		pair(v.Prompt, v.LiveResponse)
	case v.Last.Prompt != "" && !inHistory(hist, v.Last):
		pair(v.Last.Prompt, v.Last.Response)
	}
	if v.Error != "" {
		b.WriteString(m.theme.errorStatus.Render(v.Error))
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return m.theme.helpText.Render("No conversation yet for " + m.preset.Title() + ".")
	}
	return strings.TrimRight(b.String(), "\n")
}

func inHistory(hist []domain.ChatContent, c domain.ChatContent) bool {
	return len(hist) > 0 && hist[len(hist)-1] == c
}

// renderTimeline refreshes the viewport, following the bottom unless the
// user scrolled away from it.
func (m *Model) renderTimeline() {
	atBottom := m.timeline.AtBottom()
	offset := m.timeline.YOffset
	m.timeline.SetContent(m.timelineContent())
	if atBottom {
		m.timeline.GotoBottom()
	} else {
		m.timeline.SetYOffset(offset)
	}
}
