package console

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// noticeMsg replaces the footer line.
type noticeMsg string

// logLines is how many log entries /log shows.
const logLines = 3

const helpText = "/listen [on|off]  /voice [on|off]  /read  /stop  /patients  /log  /quit"

// command runs a slash command typed into the input.
func (m *Model) command(line string) tea.Cmd {
	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(fields) == 0 {
		m.notice = helpText
		return nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "quit", "exit":
		return tea.Quit

	case "help":
		m.notice = helpText

	case "listen":
		if m.deps.Toggles == nil {
			m.notice = "Settings are not available."
			return nil
		}
		on, ok := toggleArg(args, m.deps.Toggles.Current().AlwaysListen)
		if !ok {
			m.notice = "Usage: /listen [on|off]"
			return nil
		}
		m.deps.Toggles.SetAlwaysListen(on)
		m.notice = "Always listen " + onOff(on)

	case "voice":
		if m.deps.Toggles == nil {
			m.notice = "Settings are not available."
			return nil
		}
		on, ok := toggleArg(args, m.deps.Toggles.Current().VoiceResponse)
		if !ok {
			m.notice = "Usage: /voice [on|off]"
			return nil
		}
		m.deps.Toggles.SetVoiceResponse(on)
		if !on && m.deps.Voice != nil {
			m.deps.Voice.Stop()
		}
		m.notice = "Voice response " + onOff(on)

	case "stop":
		if m.deps.Voice != nil {
			m.deps.Voice.Stop()
		}
		m.notice = ""

	case "read":
		if m.deps.Voice == nil {
			m.notice = "Speech output is not available."
			return nil
		}
		last, ok := m.deps.Conversation.LastReply()
		if !ok {
			return nil
		}
		m.deps.Voice.Narrate(last.Text)
		m.notice = ""

	case "patients":
		if m.deps.Patients == nil {
			m.notice = "No patient registry is configured."
			return nil
		}
		ctx, patients := m.ctx, m.deps.Patients
		return func() tea.Msg {
			list, err := patients.List(ctx)
			if err != nil {
				return noticeMsg("Patient lookup failed: " + err.Error())
			}
			if len(list) == 0 {
				return noticeMsg("No patients are registered yet.")
			}
			parts := make([]string, len(list))
			for i, p := range list {
				parts[i] = fmt.Sprintf("%d: %s, %dy", p.ID, p.Name, p.Age)
			}
			return noticeMsg(strings.Join(parts, "; "))
		}

	case "log":
		if m.deps.Logs == nil {
			m.notice = "Logging is not available."
			return nil
		}
		entries := m.deps.Logs.History(logLines)
		if len(entries) == 0 {
			m.notice = "No log entries yet."
			return nil
		}
		parts := make([]string, len(entries))
		for i, e := range entries {
			parts[i] = e.String()
		}
		m.notice = strings.Join(parts, " | ")

	default:
		m.notice = fmt.Sprintf("Unknown command /%s. %s", name, helpText)
	}
	return nil
}

// toggleArg reads on/off, flipping current when no argument is given.
func toggleArg(args []string, current bool) (bool, bool) {
	if len(args) == 0 {
		return !current, true
	}
	switch strings.ToLower(args[0]) {
	case "on", "true", "yes", "1":
		return true, true
	case "off", "false", "no", "0":
		return false, true
	}
	return false, false
}
