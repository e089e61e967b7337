package directive

import (
	"github.com/rs/zerolog"

	"github.com/normanking/vitalisomni/internal/bus"
)

// Host is the capability set the embedding application exposes to directives.
// Calls are synchronous.
type Host interface {
	NavigateTo(screen ScreenID)
	SelectPatient(id int)
	AppendToField(field FieldID, content string)
}

// Result is the outcome of processing one reply.
type Result struct {
	// Text is the reply with every span removed and whitespace trimmed. It is
	// what gets displayed and spoken.
	Text string
	// Executed lists the commands run against the host, in text order.
	Executed []Command
	// Ignored lists spans that were stripped without a side effect.
	Ignored []Span
}

// Protocol turns free-text replies into host side effects plus clean text.
// It holds no per-reply state and is safe for concurrent use.
type Protocol struct {
	bus    *bus.EventBus
	logger zerolog.Logger
}

// NewProtocol creates a Protocol. eventBus may be nil.
func NewProtocol(eventBus *bus.EventBus, logger zerolog.Logger) *Protocol {
	return &Protocol{
		bus:    eventBus,
		logger: logger.With().Str("component", "directive").Logger(),
	}
}

// Process scans reply, executes every valid directive left to right (repeated
// kinds included), and returns the stripped text. Invalid or unknown spans are
// removed silently. host may be nil, in which case nothing is executed.
func (p *Protocol) Process(reply string, host Host) Result {
	spans := Scan(reply)
	res := Result{Text: Strip(reply, spans)}

	for _, s := range spans {
		cmd, ok := Parse(s)
		if !ok || host == nil {
			p.logger.Debug().
				Str("name", s.Name).
				Str("raw", s.Raw(reply)).
				Msg("Directive ignored")
			res.Ignored = append(res.Ignored, s)
			continue
		}

		cmd.Apply(host)
		res.Executed = append(res.Executed, cmd)

		p.logger.Info().
			Str("kind", string(cmd.Kind())).
			Interface("command", cmd).
			Msg("Directive executed")
		p.bus.PublishSync(bus.Event{
			Type: bus.EventTypeCommandDispatched,
			Data: map[string]any{"kind": string(cmd.Kind()), "command": cmd},
		})
	}

	return res
}

// HostFuncs adapts plain functions to Host. Nil functions are skipped.
type HostFuncs struct {
	Navigate func(ScreenID)
	Select   func(int)
	Append   func(FieldID, string)
}

func (h HostFuncs) NavigateTo(screen ScreenID) {
	if h.Navigate != nil {
		h.Navigate(screen)
	}
}

func (h HostFuncs) SelectPatient(id int) {
	if h.Select != nil {
		h.Select(id)
	}
}

func (h HostFuncs) AppendToField(field FieldID, content string) {
	if h.Append != nil {
		h.Append(field, content)
	}
}
