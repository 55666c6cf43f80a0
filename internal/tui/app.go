// Package tui is the terminal view of a live session: the transcript panel,
// a start/stop control and the stream indicator.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/astra-live-lab/internal/live"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#2563EB")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#374151")).
			Padding(0, 1)

	headingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280")).
			Bold(true)

	userLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#60A5FA")).
			Bold(true)

	assistantLabelStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#9CA3AF")).
				Bold(true)

	waitingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4B5563")).
			Italic(true)

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#60A5FA")).
			Bold(true)

	stopStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#DC2626")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF4444"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))
)

// Session is what the view drives.
type Session interface {
	Start(ctx context.Context) error
	Stop() error
	Transcript() []live.TranscriptEntry
}

type startedMsg struct{ err error }
type stoppedMsg struct{ err error }

// Model is the bubbletea model for the live view.
type Model struct {
	sess   Session
	events <-chan uiEvent
	// bounds one start request
	startTimeout time.Duration

	state      live.State
	sessionID  string
	transcript []live.TranscriptEntry
	err        string
	width      int
	height     int
}

// NewModel builds the view over sess, fed by bridge.
func NewModel(sess Session, bridge *Bridge, startTimeout time.Duration) Model {
	if startTimeout <= 0 {
		startTimeout = time.Minute
	}
	return Model{
		sess:         sess,
		events:       bridge.events,
		startTimeout: startTimeout,
		transcript:   sess.Transcript(),
	}
}

func (m Model) Init() tea.Cmd {
	return m.listenForEvents()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Sequence(m.stop(), tea.Quit)
		case " ", "enter", "s":
			switch m.state {
			case live.StateIdle:
				m.err = ""
				m.state = live.StateConnecting
				return m, m.start()
			case live.StateActive:
				return m, m.stop()
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case startedMsg:
		if msg.err != nil {
			m.err = msg.err.Error()
			m.state = live.StateIdle
		}

	case stoppedMsg:
		if msg.err != nil {
			m.err = msg.err.Error()
		}

	case stateMsg:
		m.state = msg.state
		m.sessionID = msg.sessionID
		return m, m.listenForEvents()

	case transcriptMsg:
		m.transcript = m.sess.Transcript()
		return m, m.listenForEvents()
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("ASTRA LIVE"))
	b.WriteString("  ")
	b.WriteString(m.renderControl())
	b.WriteString("\n\n")

	b.WriteString(panelStyle.Width(m.panelWidth()).Render(m.renderTranscript()))
	b.WriteString("\n\n")

	if m.state == live.StateActive {
		b.WriteString(activeStyle.Render("PCM Stream Active • 16kHz"))
		b.WriteString("\n\n")
	}
	if m.err != "" {
		b.WriteString(errorStyle.Render("⚠ " + m.err))
		b.WriteString("\n\n")
	}
	b.WriteString(helpStyle.Render("space: start/stop • q: quit"))
	return b.String()
}

func (m Model) panelWidth() int {
	if m.width > 4 {
		return m.width - 4
	}
	return 72
}

func (m Model) renderControl() string {
	switch m.state {
	case live.StateConnecting:
		return headingStyle.Render("ESTABLISHING LINK...")
	case live.StateActive:
		return stopStyle.Render("● TERMINATE SESSION")
	case live.StateClosing:
		return headingStyle.Render("closing...")
	default:
		return headingStyle.Render("INITIATE LIVE SYNC")
	}
}

func (m Model) renderTranscript() string {
	var b strings.Builder
	b.WriteString(headingStyle.Render("NEURAL FEEDBACK"))
	b.WriteString("\n")
	if len(m.transcript) == 0 {
		b.WriteString(waitingStyle.Render("Waiting for vocal input stream..."))
		return b.String()
	}
	for i, e := range m.transcript {
		if i > 0 {
			b.WriteString("\n")
		}
		label := assistantLabelStyle.Render("ASTRA")
		if e.Speaker == live.SpeakerUser {
			label = userLabelStyle.Render("YOU")
		}
		b.WriteString(fmt.Sprintf("%s  %s", label, e.Text))
	}
	return b.String()
}

func (m Model) start() tea.Cmd {
	sess, timeout := m.sess, m.startTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return startedMsg{err: sess.Start(ctx)}
	}
}

func (m Model) stop() tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		return stoppedMsg{err: sess.Stop()}
	}
}

func (m Model) listenForEvents() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return ev
	}
}

// Run shows the view until the user quits or ctx is done.
func Run(ctx context.Context, sess Session, bridge *Bridge, startTimeout time.Duration, autostart bool) error {
	m := NewModel(sess, bridge, startTimeout)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if autostart {
		go p.Send(tea.KeyMsg{Type: tea.KeySpace})
	}
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
