package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// View names an interactive view.
type View string

// Supported views.
const (
	ViewInspectSession View = "inspect_session"
	ViewSessionStats   View = "stats_sessions"
)

// IsSupported reports whether v has an interactive view.
func IsSupported(v View) bool {
	return v == ViewInspectSession || v == ViewSessionStats
}

// NewModel builds the model for a view.
func NewModel(v View, data any) (tea.Model, error) {
	switch v {
	case ViewInspectSession:
		return NewInspectModel(data), nil
	case ViewSessionStats:
		return NewStatsModel(data), nil
	default:
		return nil, fmt.Errorf("--tui is not supported for %s", v)
	}
}

// Run shows the view full screen until the user quits.
func Run(v View, data any) error {
	m, err := NewModel(v, data)
	if err != nil {
		return err
	}
	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// RenderStatic renders a view once without a terminal program.
func RenderStatic(v View, data any) (string, error) {
	m, err := NewModel(v, data)
	if err != nil {
		return "", err
	}
	return lipgloss.NewStyle().Padding(1, 2).Render(m.View()), nil
}

type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c", "esc"),
		key.WithHelp("q", "quit"),
	),
}
