package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NYU-robot-learning/AnySense/cli/reader"
)

// StatsModel shows catalog totals as stat boxes.
type StatsModel struct {
	stats    *reader.Stats
	width    int
	quitting bool
}

// NewStatsModel creates the stats view. data must be *reader.Stats.
func NewStatsModel(data any) StatsModel {
	st, _ := data.(*reader.Stats)
	return StatsModel{stats: st}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}
	st := m.stats
	if st == nil {
		return "Invalid data for " + string(ViewSessionStats)
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Recorded Sessions"))
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		statBox("Sessions", fmt.Sprint(st.Sessions), accentColor),
		statBox("With depth", fmt.Sprint(st.WithDepth), depthColor),
		statBox("Incomplete", fmt.Sprint(st.Incomplete), warningColor),
		statBox("Recorded", st.TotalDuration.String(), successColor),
	))
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		statBox("Color frames", fmt.Sprint(st.ColorFrames), accentColor),
		statBox("Depth frames", fmt.Sprint(st.DepthFrames), depthColor),
		statBox("Dropped", fmt.Sprint(st.ColorDropped+st.DepthDropped), errorColor),
		statBox("On disk", humanBytes(st.TotalBytes), mutedColor),
	))
	if st.Latest != "" {
		fmt.Fprintf(&b, "\n%s %s", LabelStyle.Render("Latest:"), ValueStyle.Render(st.Latest))
	}
	return b.String() + "\n" + HelpStyle.Render("Press q to quit")
}

func statBox(label, value string, color lipgloss.Color) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		StatValueStyle.Foreground(color).Render(value),
		StatLabelStyle.Render(label),
	)
	return StatBoxStyle.BorderForeground(color).Render(content)
}
