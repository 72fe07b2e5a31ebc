package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/tomaslejdung/cowatch/pkg/relay"
)

// debugLogFile receives the server log while the dashboard owns the terminal
const debugLogFile = "cowatch-debug.log"

// roomLister is the part of the registry the dashboard reads
type roomLister interface {
	Snapshot() []relay.RoomInfo
}

// clipboardCommands are tried in order until one is installed
var clipboardCommands = [][]string{
	{"pbcopy"},
	{"wl-copy"},
	{"xclip", "-selection", "clipboard"},
	{"xsel", "--clipboard", "--input"},
}

// copyToClipboard pipes text into the first available clipboard tool
func copyToClipboard(text string) error {
	for _, args := range clipboardCommands {
		if _, err := exec.LookPath(args[0]); err != nil {
			continue
		}
		cmd := exec.Command(args[0], args[1:]...)
		pipe, err := cmd.StdinPipe()
		if err != nil {
			return err
		}
		if err := cmd.Start(); err != nil {
			return err
		}
		if _, err := pipe.Write([]byte(text)); err != nil {
			return err
		}
		if err := pipe.Close(); err != nil {
			return err
		}
		return cmd.Wait()
	}
	return errors.New("no clipboard tool found")
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))

	normalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("7"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	urlStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("13"))

	memberStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	// Keybind styles
	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14")) // Cyan for keys

	keySepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Dim separator

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1)

	boxTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))
)

// Messages
type tickMsg time.Time

type copiedMsg struct {
	text string
	err  error
}

type suggestion struct {
	roomID string
	pin    string
}

type model struct {
	rooms     roomLister
	addr      string
	snapshot  []relay.RoomInfo
	cursor    int
	startTime time.Time
	now       time.Time
	suggested *suggestion
	status    string
	lastError string
	width     int
	height    int
}

func initialModel(rooms roomLister, addr string) model {
	now := time.Now()
	return model{
		rooms:     rooms,
		addr:      addr,
		snapshot:  rooms.Snapshot(),
		startTime: now,
		now:       now,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.SetWindowTitle("CoWatch - Relay"),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func copyCmd(text string) tea.Cmd {
	return func() tea.Msg {
		return copiedMsg{text: text, err: copyToClipboard(text)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.now = time.Time(msg)
		m.refresh()
		return m, tickCmd()

	case copiedMsg:
		if msg.err != nil {
			m.lastError = msg.err.Error()
			m.status = ""
		} else {
			m.lastError = ""
			m.status = "Copied " + msg.text
		}
		return m, nil
	}

	return m, nil
}

// refresh reloads the room list and keeps the cursor on the same room when
// it still exists
func (m *model) refresh() {
	var selected string
	if m.cursor < len(m.snapshot) {
		selected = m.snapshot[m.cursor].ID
	}

	m.snapshot = m.rooms.Snapshot()
	m.cursor = 0
	for i, info := range m.snapshot {
		if info.ID == selected {
			m.cursor = i
			break
		}
	}
}

func (m model) selected() (relay.RoomInfo, bool) {
	if m.cursor < 0 || m.cursor >= len(m.snapshot) {
		return relay.RoomInfo{}, false
	}
	return m.snapshot[m.cursor], true
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.snapshot)-1 {
			m.cursor++
		}

	case "r":
		m.refresh()

	case "n":
		m.suggested = &suggestion{roomID: relay.GenerateRoomCode(), pin: relay.GeneratePIN()}
		m.status = ""

	case "c":
		if m.suggested != nil {
			return m, copyCmd(fmt.Sprintf("%s %s", m.suggested.roomID, m.suggested.pin))
		}
		if info, ok := m.selected(); ok {
			return m, copyCmd(info.ID)
		}
	}

	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	// Title
	b.WriteString(titleStyle.Render("CoWatch"))
	b.WriteString(dimStyle.Render(" - Watch Party Relay"))
	b.WriteString("\n\n")

	b.WriteString(m.renderStatus())
	b.WriteString("\n\n")

	b.WriteString(boxStyle.Render(m.renderRooms()))
	b.WriteString("\n")

	if m.suggested != nil {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("New room: "))
		b.WriteString(urlStyle.Render(m.suggested.roomID))
		b.WriteString(dimStyle.Render("  PIN: "))
		b.WriteString(urlStyle.Render(m.suggested.pin))
		b.WriteString("\n")
	}

	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(statusStyle.Render(m.status))
		b.WriteString("\n")
	}

	// Error message
	if m.lastError != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("Error: " + m.lastError))
		b.WriteString("\n")
	}

	// Help
	b.WriteString("\n")
	b.WriteString(m.renderHelp())

	return b.String()
}

func (m model) renderStatus() string {
	members := 0
	for _, info := range m.snapshot {
		members += len(info.Members)
	}

	uptime := m.now.Sub(m.startTime).Truncate(time.Second)
	return fmt.Sprintf("%s %s   %s   %s   %s",
		dimStyle.Render("Listening on"),
		urlStyle.Render("http://"+m.addr),
		statusStyle.Render(fmt.Sprintf("%d rooms", len(m.snapshot))),
		statusStyle.Render(fmt.Sprintf("%d members", members)),
		dimStyle.Render("up "+formatDuration(uptime)),
	)
}

func (m model) renderRooms() string {
	var content strings.Builder
	content.WriteString(boxTitleStyle.Render(" Rooms "))
	content.WriteString(dimStyle.Render(fmt.Sprintf("(%d)", len(m.snapshot))))
	content.WriteString("\n")

	if len(m.snapshot) == 0 {
		content.WriteString(dimStyle.Render("Waiting for the first create..."))
		return content.String()
	}

	for i, info := range m.snapshot {
		age := m.now.Sub(info.CreatedAt).Truncate(time.Second)
		idle := m.now.Sub(info.LastActive).Truncate(time.Second)
		line := fmt.Sprintf("%-24s %2d  age %s  idle %s",
			truncate(info.ID, 24), len(info.Members), formatDuration(age), formatDuration(idle))

		if i == m.cursor {
			content.WriteString(selectedStyle.Render("> " + line))
			content.WriteString("\n")
			content.WriteString("  ")
			content.WriteString(memberStyle.Render(strings.Join(info.Members, ", ")))
		} else {
			content.WriteString(normalStyle.Render("  " + line))
		}
		content.WriteString("\n")
	}

	return strings.TrimSuffix(content.String(), "\n")
}

func (m model) renderHelp() string {
	sep := keySepStyle.Render("  ")

	var actions []string
	actions = append(actions, keyStyle.Render("↑↓")+helpStyle.Render(" select"))
	actions = append(actions, keyStyle.Render("n")+helpStyle.Render(" new code"))
	actions = append(actions, keyStyle.Render("c")+helpStyle.Render(" copy"))
	actions = append(actions, keyStyle.Render("r")+helpStyle.Render(" refresh"))
	actions = append(actions, keyStyle.Render("q")+helpStyle.Render(" quit"))

	return strings.Join(actions, sep)
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// truncate shortens s to maxLen terminal cells. Room ids come from clients,
// so cuts fall on grapheme boundaries.
func truncate(s string, maxLen int) string {
	return ansi.Truncate(s, maxLen, "...")
}

// openDebugLog creates the file the server logs to while the dashboard runs
func openDebugLog() (*os.File, error) {
	return os.Create(debugLogFile)
}

// RunTUI shows the live room dashboard until the user quits or ctx ends
func RunTUI(ctx context.Context, rooms roomLister, addr string) error {
	p := tea.NewProgram(
		initialModel(rooms, addr),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
