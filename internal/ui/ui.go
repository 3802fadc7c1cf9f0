// Package ui implements the interactive host browser.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/treykane/sshexec/internal/auth"
	"github.com/treykane/sshexec/internal/config"
	"github.com/treykane/sshexec/internal/events"
	"github.com/treykane/sshexec/internal/remote"
	"github.com/treykane/sshexec/internal/security"
	"github.com/treykane/sshexec/internal/util"
)

const (
	execTimeout   = 2 * time.Minute
	recentEntries = 8
)

// hostRow is the browser's view of one resolved alias.
type hostRow struct {
	Alias    string
	HostName string
	Port     string
	User     string
	Identity string
	Auth     string
}

type tickMsg time.Time

type statusMsg string

// execDoneMsg carries the outcome of a command run from the browser.
type execDoneMsg struct {
	alias   string
	command string
	output  string
	err     error
}

type browser struct {
	env *remote.Environment

	hosts      []hostRow
	filtered   []hostRow
	sel        int
	filter     string
	filterMode bool
	showHelp   bool

	prompt  *commandPrompt
	running string
	output  string
	status  string
	recent  []events.Event

	width  int
	height int
}

func newBrowser(env *remote.Environment) browser {
	m := browser{env: env}
	m.reload()
	if m.status == "" {
		m.status = "Ready. Enter runs the default command, x runs a custom one."
	}
	return m
}

func (m *browser) reload() {
	file, err := m.env.ConfigFile()
	if err != nil {
		m.status = "config error: " + security.UserMessage(err, m.redact())
		m.hosts = nil
		m.applyFilter()
		return
	}
	m.hosts = nil
	for _, alias := range config.Aliases(file) {
		eff, err := config.Resolve(file, alias)
		if err != nil {
			continue
		}
		row := hostRow{
			Alias:    alias,
			HostName: eff.HostName(),
			Port:     "-",
			User:     eff.User(),
			Identity: eff.IdentityFile(),
		}
		if p, err := eff.Port(); err == nil {
			row.Port = fmt.Sprint(p)
		}
		if spec, err := m.env.Resolver.Resolve(eff, "", ""); err == nil {
			row.Auth = describeAuth(spec)
			row.User = spec.Username()
		} else {
			row.Auth = "unresolved"
		}
		m.hosts = append(m.hosts, row)
	}
	m.applyFilter()
	m.loadRecent()
}

func (m *browser) loadRecent() {
	if m.env.Journal == nil {
		m.recent = nil
		return
	}
	list, err := m.env.Journal.Read(events.Query{Limit: recentEntries})
	if err != nil {
		m.status = "journal error: " + err.Error()
		return
	}
	m.recent = list
}

func (m *browser) applyFilter() {
	f := strings.ToLower(strings.TrimSpace(m.filter))
	m.filtered = nil
	for _, h := range m.hosts {
		if f == "" || strings.Contains(strings.ToLower(h.Alias), f) || strings.Contains(strings.ToLower(h.HostName), f) {
			m.filtered = append(m.filtered, h)
		}
	}
	if m.sel >= len(m.filtered) {
		m.sel = len(m.filtered) - 1
	}
	if m.sel < 0 {
		m.sel = 0
	}
}

func (m browser) selected() (hostRow, bool) {
	if len(m.filtered) == 0 {
		return hostRow{}, false
	}
	return m.filtered[m.sel], true
}

func (m browser) redact() bool {
	return m.env.App.Security.RedactErrors
}

func describeAuth(spec auth.Spec) string {
	if k, ok := spec.(auth.PublicKeyFile); ok {
		return "publickey " + k.PrivateKeyPath
	}
	return spec.Kind()
}

func tickCmd(seconds int) tea.Cmd {
	return tea.Tick(time.Duration(clampRefresh(seconds))*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// runCmd opens a fresh session for alias and runs command on it.
func runCmd(env *remote.Environment, alias, command string) tea.Cmd {
	return func() tea.Msg {
		done := execDoneMsg{alias: alias, command: command}
		target, err := env.Resolve(alias, "", "")
		if err != nil {
			done.err = security.Classify(alias, err)
			return done
		}
		sess, err := env.Open(target)
		if err != nil {
			done.err = security.Classify(alias, err)
			return done
		}
		defer sess.Close()

		ctx, cancel := context.WithTimeout(context.Background(), execTimeout)
		defer cancel()
		done.output, err = env.Run(ctx, sess, alias, command)
		done.err = security.Classify(alias, err)
		return done
	}
}

func (m browser) Init() tea.Cmd {
	return tickCmd(m.env.App.UI.RefreshSeconds)
}

func (m browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.loadRecent()
		return m, tickCmd(m.env.App.UI.RefreshSeconds)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case statusMsg:
		m.status = string(msg)
		return m, nil
	case execDoneMsg:
		m.running = ""
		m.output = msg.output
		if msg.err != nil {
			m.status = fmt.Sprintf("%s: %s", msg.alias, security.UserMessage(msg.err, m.redact()))
		} else {
			m.status = fmt.Sprintf("%s: %q finished", msg.alias, msg.command)
		}
		m.loadRecent()
		return m, nil
	case tea.KeyMsg:
		if m.prompt != nil {
			return m.updatePrompt(msg)
		}
		if m.filterMode {
			return m.updateFilter(msg), nil
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m browser) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	command, done, cmd := m.prompt.update(msg)
	if !done {
		return m, cmd
	}
	alias := m.prompt.alias
	m.prompt = nil
	if command == "" {
		m.status = "Cancelled."
		return m, nil
	}
	return m.start(alias, command)
}

func (m browser) updateFilter(msg tea.KeyMsg) browser {
	switch msg.String() {
	case "enter", "esc":
		m.filterMode = false
	case "backspace":
		if len(m.filter) > 0 {
			m.filter = m.filter[:len(m.filter)-1]
		}
	default:
		if len(msg.Runes) > 0 {
			m.filter += string(msg.Runes)
		}
	}
	m.applyFilter()
	return m
}

func (m browser) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "j", "down":
		if m.sel < len(m.filtered)-1 {
			m.sel++
		}
	case "k", "up":
		if m.sel > 0 {
			m.sel--
		}
	case "/":
		m.filterMode = true
		m.status = "Filter mode: type and press Enter"
	case "?":
		m.showHelp = !m.showHelp
	case "r":
		m.reload()
		m.status = "Reloaded ssh config and journal"
	case "enter":
		h, ok := m.selected()
		if !ok {
			break
		}
		if strings.TrimSpace(m.env.App.DefaultCommand) == "" {
			m.prompt = newCommandPrompt(h.Alias)
			return m, m.prompt.focus()
		}
		return m.start(h.Alias, m.env.App.DefaultCommand)
	case "x", ":":
		h, ok := m.selected()
		if !ok {
			break
		}
		m.prompt = newCommandPrompt(h.Alias)
		return m, m.prompt.focus()
	}
	return m, nil
}

func (m browser) start(alias, command string) (tea.Model, tea.Cmd) {
	if m.running != "" {
		m.status = "A command is already running on " + m.running
		return m, nil
	}
	m.running = alias
	m.output = ""
	m.status = fmt.Sprintf("Running %q on %s...", command, alias)
	return m, runCmd(m.env, alias, command)
}

func (m browser) View() string {
	head := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Render("sshexec")
	subhead := fmt.Sprintf("hosts=%d shown=%d config=%s", len(m.hosts), len(m.filtered), m.env.SSHConfigPath)

	left := strings.Builder{}
	for i, h := range m.filtered {
		cursor := " "
		if i == m.sel {
			cursor = ">"
		}
		busy := " "
		if h.Alias == m.running {
			busy = "*"
		}
		left.WriteString(fmt.Sprintf("%s%s %-22s %s\n", cursor, busy, util.Truncate(h.Alias, 22), util.Truncate(h.HostName, 28)))
	}
	if len(m.filtered) == 0 {
		left.WriteString("  (no hosts matched)\n")
	}

	detail := strings.Builder{}
	if h, ok := m.selected(); ok {
		detail.WriteString(fmt.Sprintf("Alias: %s\nHost: %s\nPort: %s\nUser: %s\nIdentity: %s\nAuth: %s\n",
			h.Alias, h.HostName, h.Port, util.EmptyDash(h.User), util.EmptyDash(h.Identity), h.Auth))
		detail.WriteString(fmt.Sprintf("\nDefault command: %s\n", util.EmptyDash(m.env.App.DefaultCommand)))
	} else {
		detail.WriteString("Pick a host to see how it resolves.\n")
	}

	filterLine := fmt.Sprintf("Filter: %s", m.filter)
	if m.filterMode {
		filterLine += " (typing...)"
	}
	quickHelp := "Keys: Enter run default | x command | / filter | r reload | ? help | q quit"

	width := m.effectiveWidth()
	blocks := []string{head, subhead, filterLine, quickHelp, m.renderMainPanels(left.String(), detail.String())}
	if m.prompt != nil {
		blocks = append(blocks, renderPanel("Run on "+m.prompt.alias, m.prompt.view(), width, lipgloss.Color("212")))
	}
	if m.output != "" {
		blocks = append(blocks, renderPanel("Output", m.output, width, lipgloss.Color("63")))
	}
	if m.env.Journal != nil {
		blocks = append(blocks, renderPanel("Recent", m.recentBlock(), width, lipgloss.Color("244")))
	}
	if m.showHelp {
		blocks = append(blocks, renderPanel("Help", helpBlock(), width, lipgloss.Color("244")))
	}
	blocks = append(blocks, renderPanel("Status", m.status, width, lipgloss.Color("205")))
	return lipgloss.JoinVertical(lipgloss.Left, blocks...)
}

func (m browser) recentBlock() string {
	if len(m.recent) == 0 {
		return "(none)"
	}
	b := strings.Builder{}
	for _, evt := range m.recent {
		b.WriteString(fmt.Sprintf("%s %-16s %-7s %s\n",
			evt.Timestamp.Local().Format("15:04:05"), util.Truncate(evt.HostAlias, 16), evt.Status, util.Truncate(evt.Command, 48)))
	}
	return b.String()
}

func helpBlock() string {
	return strings.Join([]string{
		"  Navigation: j/k or arrow keys move selection.",
		"  Filtering: press /, type alias or hostname text, then Enter.",
		"  Run: Enter runs the default command from config.yaml on the selected host.",
		"  Command: x or : prompts for a command to run; Esc cancels.",
		"  Reload: r reparses the ssh config and reloads the journal.",
		"  Quit: q or Ctrl+C.",
	}, "\n")
}

func (m browser) renderMainPanels(hostsPanel, detailsPanel string) string {
	width := m.effectiveWidth()
	if width < 96 {
		return lipgloss.JoinVertical(
			lipgloss.Left,
			renderPanel("Hosts", hostsPanel, width, lipgloss.Color("39")),
			renderPanel("Details", detailsPanel, width, lipgloss.Color("69")),
		)
	}
	leftWidth := width / 2
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		renderPanel("Hosts", hostsPanel, leftWidth, lipgloss.Color("39")),
		renderPanel("Details", detailsPanel, width-leftWidth, lipgloss.Color("69")),
	)
}

func (m browser) effectiveWidth() int {
	if m.width <= 0 {
		return 100
	}
	return m.width
}

func renderPanel(title, body string, width int, accent lipgloss.Color) string {
	if width < 24 {
		width = 24
	}
	header := lipgloss.NewStyle().Bold(true).Foreground(accent).Render(title)
	panel := strings.TrimSpace(header + "\n" + strings.TrimSuffix(body, "\n"))
	return lipgloss.NewStyle().
		Width(width).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Padding(0, 1).
		Render(panel)
}

func clampRefresh(seconds int) int {
	if seconds <= 0 {
		return 3
	}
	return seconds
}

// Run starts the browser. Encrypted keys cannot be unlocked from inside the
// browser since the terminal belongs to it.
func Run(env *remote.Environment) error {
	browse := *env
	browse.Passphrase = nil
	p := tea.NewProgram(newBrowser(&browse), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
