// Package guiterm is a terminal consumer of internal/guibridge's outgoing
// message queue, standing in for a pixel-level GUI renderer. It follows a
// bubbletea Program/Init/Update/View shape: a tea.Tick-driven poll drains
// whatever guibridge.Message records are waiting and folds them into a
// small on-screen log, rendered with lipgloss. The system-colour header
// and the popup countdown use colorful.Hex + termenv.ColorProfile for
// true-colour-aware rendering, and bubbles/progress for a ticking bar.
package guiterm

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/termenv"

	"github.com/schollz/duovox/internal/guibridge"
)

const (
	maxLogLines = 12
	popupWindow = 2 * time.Second
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	lineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	popupStyle  = lipgloss.NewStyle().Background(lipgloss.Color("3")).Foreground(lipgloss.Color("0"))
)

// renderSystemColour renders label in the instrument's current system
// colour, converted through the active terminal's colour profile.
func renderSystemColour(label, hexColour string) string {
	c, err := colorful.Hex(hexColour)
	if err != nil {
		return headerStyle.Render(label)
	}
	profile := termenv.ColorProfile()
	termColor := profile.Color(c.Hex())
	return termenv.String(label).Bold().Foreground(termColor).String()
}

// drainTickMsg fires on a fixed schedule to pull pending messages off the
// bridge's queue without blocking the bubbletea event loop.
type drainTickMsg struct{}

func drainTick() tea.Cmd {
	return tea.Tick(33*time.Millisecond, func(time.Time) tea.Msg { return drainTickMsg{} })
}

// Model implements tea.Model, draining a guibridge.Bridge's outgoing
// queue and rendering its last few messages plus the current system
// colour and soft-button text.
type Model struct {
	bridge *guibridge.Bridge

	lines        []string
	systemColour string
	softLeft     string
	softRight    string
	popup        string
	popupUntil   time.Time
	popupBar     progress.Model
}

// New constructs a terminal GUI model bound to bridge.
func New(bridge *guibridge.Bridge) *Model {
	return &Model{
		bridge:       bridge,
		systemColour: "#FFFFFF",
		popupBar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
	}
}

func (m *Model) Init() tea.Cmd {
	return drainTick()
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg.(type) {
	case drainTickMsg:
		m.drain()
		return m, drainTick()
	case tea.KeyMsg:
		if msg.(tea.KeyMsg).String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *Model) drain() {
	for {
		select {
		case msg := <-m.bridge.Messages():
			m.apply(msg)
		default:
			return
		}
	}
}

func (m *Model) apply(msg guibridge.Message) {
	switch msg.Kind {
	case guibridge.MsgSetSystemColour:
		m.systemColour = msg.SystemColour
	case guibridge.MsgSoftButtonText:
		m.softLeft, m.softRight = msg.Text, msg.Text2
	case guibridge.MsgPopup:
		m.popup = msg.Text
		m.popupUntil = time.Now().Add(popupWindow)
	case guibridge.MsgEnumParamUpdate:
		m.appendLine(fmt.Sprintf("%s -> position %d", msg.ParamRef, int(msg.Value)))
	case guibridge.MsgListItemUpdate:
		m.appendLine(fmt.Sprintf("%s -> %.3f", msg.ParamRef, msg.Value))
	case guibridge.MsgListUpdate:
		m.appendLine("list refreshed")
	case guibridge.MsgHomeRefresh:
		m.appendLine("home refreshed")
	case guibridge.MsgBootWarningClear:
		m.appendLine("boot warning cleared")
	case guibridge.MsgScreenCapture:
		m.appendLine("screen capture requested")
	}
}

func (m *Model) appendLine(s string) {
	m.lines = append(m.lines, s)
	if len(m.lines) > maxLogLines {
		m.lines = m.lines[len(m.lines)-maxLogLines:]
	}
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(renderSystemColour(fmt.Sprintf("system colour: %s", m.systemColour), m.systemColour))
	b.WriteString("\n")
	if remaining := time.Until(m.popupUntil); remaining > 0 {
		b.WriteString(popupStyle.Render(m.popup))
		b.WriteString("\n")
		b.WriteString(m.popupBar.ViewAs(remaining.Seconds() / popupWindow.Seconds()))
		b.WriteString("\n")
	}
	for _, l := range m.lines {
		b.WriteString(lineStyle.Render(l))
		b.WriteString("\n")
	}
	if m.softLeft != "" || m.softRight != "" {
		b.WriteString(fmt.Sprintf("[%s]                    [%s]\n", m.softLeft, m.softRight))
	}
	return b.String()
}
