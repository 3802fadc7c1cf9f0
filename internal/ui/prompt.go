package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// commandPrompt reads a command line for one host.
type commandPrompt struct {
	alias string
	input textinput.Model
}

func newCommandPrompt(alias string) *commandPrompt {
	ti := textinput.New()
	ti.Placeholder = "uname -a"
	ti.CharLimit = 1024
	ti.Width = 60
	return &commandPrompt{alias: alias, input: ti}
}

func (p *commandPrompt) focus() tea.Cmd {
	return p.input.Focus()
}

// update returns done once the prompt is submitted or cancelled. A
// cancelled prompt yields an empty command.
func (p *commandPrompt) update(msg tea.KeyMsg) (string, bool, tea.Cmd) {
	switch msg.String() {
	case "esc", "ctrl+c":
		return "", true, nil
	case "enter":
		return strings.TrimSpace(p.input.Value()), true, nil
	}
	var cmd tea.Cmd
	p.input, cmd = p.input.Update(msg)
	return "", false, cmd
}

func (p *commandPrompt) view() string {
	hint := lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Render("Enter to run, Esc to cancel")
	return p.input.View() + "\n" + hint
}
