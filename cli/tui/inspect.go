package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/NYU-robot-learning/AnySense/session"
)

// InspectModel shows one session's manifest and a scrollable file list.
type InspectModel struct {
	details  *session.Details
	files    table.Model
	quitting bool
}

// NewInspectModel creates the inspect view. data must be *session.Details.
func NewInspectModel(data any) InspectModel {
	d, _ := data.(*session.Details)
	m := InspectModel{details: d}

	rows := []table.Row{}
	if d != nil {
		for _, f := range d.Files {
			rows = append(rows, table.Row{f.Name, humanBytes(f.Size)})
		}
	}
	m.files = table.New(
		table.WithColumns([]table.Column{
			{Title: "File", Width: 48},
			{Title: "Size", Width: 12},
		}),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(min(len(rows)+1, 12)),
	)
	return m
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.files, cmd = m.files.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}
	if m.details == nil {
		return "Invalid data for " + string(ViewInspectSession)
	}
	d := m.details

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Session " + d.Name))
	b.WriteString("\n")

	rows := [][2]string{
		{"Started", d.Start.Format("2006-01-02 15:04:05")},
		{"Directory", d.Dir},
		{"Snapshots", fmt.Sprintf("%d", d.Snapshots)},
		{"Size", humanBytes(d.TotalBytes)},
	}
	complete, depth := false, false
	if mf := d.Manifest; mf != nil {
		complete, depth = mf.Stop != nil, mf.Depth
		c := mf.Counters
		rows = append(rows,
			[2]string{"Session ID", mf.SessionID},
			[2]string{"Duration", mf.Duration().String()},
			[2]string{"Viewport", mf.Viewport.String()},
			[2]string{"Color frames", fmt.Sprintf("%d (%d dropped)", c.ColorFrames, c.ColorDropped)},
			[2]string{"Depth frames", fmt.Sprintf("%d (%d dropped)", c.DepthFrames, c.DepthDropped)},
			[2]string{"Poses", fmt.Sprintf("%d", c.Poses)},
		)
	}
	status := "incomplete"
	switch {
	case complete && depth:
		status = "complete, depth"
	case complete:
		status = "complete, color only"
	}
	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Status:"), CompletionStyle(complete, depth).Render(status))
	for _, r := range rows {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render(r[0]+":"), ValueStyle.Render(r[1]))
	}

	out := BoxStyle.Render(b.String())
	if len(d.Files) > 0 {
		out += "\n" + m.files.View()
	}
	return out + "\n" + HelpStyle.Render("↑/↓ scroll files, q to quit")
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
