// Package tui provides the Bubble Tea live-tail view for gantry attach.
//
// The TUI is opt-in (--tui flag) and read-only: it renders the same
// record payloads as the plain streaming output, inside a scrollable
// viewport that follows the tail until the user scrolls up.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/justapithecus/gantry/cli/render"
	"github.com/justapithecus/gantry/types"
)

// maxTailLines bounds TUI memory; older lines scroll away for good.
const maxTailLines = 5000

// keyMap defines tail view key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// recordMsg delivers one decoded record to the model.
type recordMsg types.Record

// streamClosedMsg signals that the record channel was closed.
type streamClosedMsg struct{}

// TailModel is a Bubble Tea model streaming records into a viewport.
type TailModel struct {
	endpoint string
	records  <-chan types.Record
	viewport viewport.Model
	lines    []string
	ready    bool
	closed   bool
	quitting bool
}

// NewTailModel creates a tail model consuming records from the channel.
func NewTailModel(endpoint string, records <-chan types.Record) TailModel {
	return TailModel{
		endpoint: endpoint,
		records:  records,
	}
}

// RunTail runs the tail TUI until quit or stream close + quit.
func RunTail(endpoint string, records <-chan types.Record) error {
	p := tea.NewProgram(NewTailModel(endpoint, records), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// waitForRecord blocks on the channel and converts it to a message.
func waitForRecord(records <-chan types.Record) tea.Cmd {
	return func() tea.Msg {
		rec, ok := <-records
		if !ok {
			return streamClosedMsg{}
		}
		return recordMsg(rec)
	}
}

// Init implements tea.Model.
func (m TailModel) Init() tea.Cmd {
	return waitForRecord(m.records)
}

// Update implements tea.Model.
func (m TailModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		headerHeight := 2
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight)
			m.viewport.SetContent(strings.Join(m.lines, "\n"))
			m.viewport.GotoBottom()
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight
		}
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}

	case recordMsg:
		m.lines = append(m.lines, render.Record(types.Record(msg)))
		if len(m.lines) > maxTailLines {
			m.lines = m.lines[len(m.lines)-maxTailLines:]
		}
		atBottom := m.viewport.AtBottom()
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		if atBottom {
			m.viewport.GotoBottom()
		}
		return m, waitForRecord(m.records)

	case streamClosedMsg:
		m.closed = true
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m TailModel) View() string {
	if m.quitting {
		return ""
	}
	status := "streaming"
	if m.closed {
		status = "stream ended"
	}
	header := fmt.Sprintf("%s - %s (q to quit)",
		headerStyle.Render("gantry attach "+m.endpoint),
		statusStyle(m.closed).Render(status))
	if !m.ready {
		return header + "\nconnecting..."
	}
	return header + "\n" + m.viewport.View()
}
