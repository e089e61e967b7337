// Package console is a terminal host for the Omni session: a scrolling
// transcript, a text input for typed commands, and a status bar showing the
// wake engine, the workspace and the voice toggles.
package console

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/normanking/vitalisomni/internal/bus"
	"github.com/normanking/vitalisomni/internal/host"
	"github.com/normanking/vitalisomni/internal/logging"
	"github.com/normanking/vitalisomni/internal/omni"
	"github.com/normanking/vitalisomni/internal/registry"
	"github.com/normanking/vitalisomni/internal/settings"
	"github.com/normanking/vitalisomni/internal/wake"
)

// Conversation is the session the console drives.
type Conversation interface {
	Send(ctx context.Context, text string) (omni.Message, error)
	Messages() []omni.Message
	Pending() bool
	LastReply() (omni.Message, bool)
}

// Voice is the speech output the console can interrupt or ask to narrate.
type Voice interface {
	Narrate(text string)
	Stop()
	IsSpeaking() bool
}

// Toggles are the user settings the console can flip.
type Toggles interface {
	Current() settings.Settings
	SetAlwaysListen(on bool) bool
	SetVoiceResponse(on bool) bool
}

// WakeStatus reports the wake engine state.
type WakeStatus interface {
	State() wake.State
}

// Workspace exposes what directives have done.
type Workspace interface {
	Snapshot() host.Snapshot
}

// Patients lists the registry for /patients.
type Patients interface {
	List(ctx context.Context) ([]registry.Patient, error)
}

// LogTail is the recent log history for /log.
type LogTail interface {
	History(limit int) []logging.Entry
}

// Deps wires the console to the rest of the app. Only Conversation is
// required.
type Deps struct {
	Conversation Conversation
	Voice        Voice
	Toggles      Toggles
	Wake         WakeStatus
	Workspace    Workspace
	Patients     Patients
	Logs         LogTail
}

// refreshMsg asks the model to re-read its collaborators.
type refreshMsg struct{}

// sentMsg reports the end of a turn started from the input.
type sentMsg struct{ err error }

// Model is the bubbletea model.
type Model struct {
	ctx  context.Context
	deps Deps

	width, height int
	viewport      viewport.Model
	input         textinput.Model
	help          help.Model
	keys          KeyMap

	renderer      *glamour.TermRenderer
	rendererWidth int

	notice string
}

// New creates the console model. ctx bounds every turn it starts.
func New(ctx context.Context, deps Deps) *Model {
	ti := textinput.New()
	ti.Placeholder = "Type a command, or /help"
	ti.CharLimit = 500
	ti.Focus()

	return &Model{
		ctx:      ctx,
		deps:     deps,
		viewport: viewport.New(0, 0),
		input:    ti,
		help:     help.New(),
		keys:     DefaultKeyMap,
	}
}

func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.StopVoice):
			if m.deps.Voice != nil {
				m.deps.Voice.Stop()
			}
			return m, nil
		case key.Matches(msg, m.keys.Send):
			text := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if text == "" {
				return m, nil
			}
			if strings.HasPrefix(text, "/") {
				return m, m.command(text)
			}
			m.notice = ""
			return m, m.send(text)
		case key.Matches(msg, m.keys.ScrollUp, m.keys.ScrollDown):
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.refresh()

	case refreshMsg:
		m.refresh()

	case sentMsg:
		if msg.err != nil && !errors.Is(msg.err, omni.ErrEmptyMessage) {
			m.notice = "Assistant unreachable: " + msg.err.Error()
		}
		m.refresh()

	case noticeMsg:
		m.notice = string(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) send(text string) tea.Cmd {
	ctx, conv := m.ctx, m.deps.Conversation
	return func() tea.Msg {
		_, err := conv.Send(ctx, text)
		return sentMsg{err: err}
	}
}

func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	status := StatusBarStyle.Width(m.width).Render(m.statusLine())
	input := InputBarStyle.Width(m.width - 2).Render(m.input.View())
	footer := m.footer()

	return lipgloss.JoinVertical(lipgloss.Left,
		status,
		TranscriptStyle.Width(m.width-2).Render(m.viewport.View()),
		input,
		footer,
	)
}

func (m *Model) footer() string {
	if m.notice != "" {
		return NoticeStyle.Render(m.notice)
	}
	if m.deps.Conversation.Pending() {
		return NoticeStyle.Render("Omni is thinking...")
	}
	return m.help.View(m.keys)
}

func (m *Model) statusLine() string {
	parts := []string{"Vitalis Omni"}

	if m.deps.Wake != nil {
		parts = append(parts, wakeIndicator(m.deps.Wake.State()))
	}
	if m.deps.Workspace != nil {
		snap := m.deps.Workspace.Snapshot()
		parts = append(parts, "screen: "+string(snap.Screen))
		if snap.Selected {
			parts = append(parts, fmt.Sprintf("patient: %d", snap.Patient))
		}
	}
	if m.deps.Toggles != nil {
		cur := m.deps.Toggles.Current()
		parts = append(parts, "listen "+onOff(cur.AlwaysListen), "voice "+onOff(cur.VoiceResponse))
	}
	if m.deps.Voice != nil && m.deps.Voice.IsSpeaking() {
		parts = append(parts, "speaking (esc to stop)")
	}
	return strings.Join(parts, " | ")
}

func wakeIndicator(state wake.State) string {
	switch state {
	case wake.StateActive:
		return ActiveStyle.Render("● awake")
	case wake.StateListening:
		return ListeningStyle.Render("● listening")
	default:
		return InactiveStyle.Render("○ off")
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (m *Model) resize() {
	chrome := lipgloss.Height(StatusBarStyle.Render("x")) + 3 + 2 + 1
	m.viewport.Width = max(m.width-4, 10)
	m.viewport.Height = max(m.height-chrome, 3)
}

// refresh re-renders the transcript and scrolls to the newest message.
func (m *Model) refresh() {
	m.viewport.SetContent(m.transcript())
	m.viewport.GotoBottom()
}

func (m *Model) transcript() string {
	var sb strings.Builder
	for _, msg := range m.deps.Conversation.Messages() {
		if msg.Role == omni.RoleUser {
			sb.WriteString(UserMessageStyle.Render("you: " + msg.Text))
			sb.WriteString("\n\n")
			continue
		}
		sb.WriteString(AssistantLabelStyle.Render("omni:"))
		sb.WriteString("\n")
		sb.WriteString(m.markdown(msg.Text))
		sb.WriteString("\n\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// markdown renders assistant text, falling back to plain text.
func (m *Model) markdown(text string) string {
	width := max(m.viewport.Width-2, 20)
	if m.renderer == nil || m.rendererWidth != width {
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle("dark"),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return text
		}
		m.renderer, m.rendererWidth = r, width
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}

// Forward turns bus events that change what the console shows into refresh
// messages for the program. Sends never block the publisher, which may be the
// wake engine holding its transition lock. The returned func detaches it.
func Forward(b *bus.EventBus, p *tea.Program) (stop func()) {
	if b == nil || p == nil {
		return func() {}
	}
	return b.SubscribeMultiple([]bus.EventType{
		bus.EventTypeWakeStateChanged,
		bus.EventTypeMessageAppended,
		bus.EventTypePendingChanged,
		bus.EventTypeSpeakingStarted,
		bus.EventTypeSpeakingStopped,
		bus.EventTypeNavigated,
		bus.EventTypePatientSelected,
		bus.EventTypeSettingsChanged,
	}, func(bus.Event) { go p.Send(refreshMsg{}) })
}

// Run shows the console until the user quits or ctx is cancelled.
func Run(ctx context.Context, deps Deps, b *bus.EventBus) error {
	p := tea.NewProgram(New(ctx, deps), tea.WithAltScreen(), tea.WithContext(ctx))
	stop := Forward(b, p)
	defer stop()
	if _, err := p.Run(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("console: %w", err)
	}
	return nil
}
