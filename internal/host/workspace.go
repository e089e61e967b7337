// Package host is the in-process workspace that directives act on: the active
// screen, the selected patient and the consultation fields.
package host

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/vitalisomni/internal/bus"
	"github.com/normanking/vitalisomni/internal/directive"
)

// PatientDirectory validates patient ids before they are selected.
type PatientDirectory interface {
	Exists(ctx context.Context, id int) (bool, error)
}

// Snapshot is a point-in-time copy of the workspace.
type Snapshot struct {
	Screen   directive.ScreenID           `json:"screen"`
	Patient  int                          `json:"patient,omitempty"`
	Selected bool                         `json:"selected"`
	Fields   map[directive.FieldID]string `json:"fields"`
}

// Workspace implements directive.Host.
type Workspace struct {
	directory PatientDirectory
	bus       *bus.EventBus
	logger    zerolog.Logger
	timeout   time.Duration

	mu       sync.RWMutex
	screen   directive.ScreenID
	patient  int
	selected bool
	fields   map[directive.FieldID]string
}

var _ directive.Host = (*Workspace)(nil)

// NewWorkspace creates a workspace showing the omni screen. directory and
// eventBus may be nil; without a directory every id is accepted.
func NewWorkspace(directory PatientDirectory, eventBus *bus.EventBus, logger zerolog.Logger) *Workspace {
	return &Workspace{
		directory: directory,
		bus:       eventBus,
		logger:    logger.With().Str("component", "host").Logger(),
		timeout:   2 * time.Second,
		screen:    directive.ScreenOmni,
		fields:    make(map[directive.FieldID]string),
	}
}

// NavigateTo switches the active screen. Unknown screens are ignored.
func (w *Workspace) NavigateTo(screen directive.ScreenID) {
	if !screen.Valid() {
		w.logger.Debug().Str("screen", string(screen)).Msg("Unknown screen ignored")
		return
	}

	w.mu.Lock()
	from := w.screen
	w.screen = screen
	w.mu.Unlock()

	w.logger.Info().Str("from", string(from)).Str("to", string(screen)).Msg("Navigated")
	w.bus.PublishSync(bus.Event{
		Type: bus.EventTypeNavigated,
		Data: map[string]any{"from": from, "to": screen},
	})
}

// SelectPatient makes id the active patient if the directory knows it.
func (w *Workspace) SelectPatient(id int) {
	if w.directory != nil {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		ok, err := w.directory.Exists(ctx, id)
		cancel()
		if err != nil {
			w.logger.Warn().Err(err).Int("patient", id).Msg("Patient lookup failed")
			return
		}
		if !ok {
			w.logger.Debug().Int("patient", id).Msg("Unknown patient skipped")
			return
		}
	}

	w.mu.Lock()
	w.patient = id
	w.selected = true
	w.mu.Unlock()

	w.logger.Info().Int("patient", id).Msg("Patient selected")
	w.bus.PublishSync(bus.Event{
		Type: bus.EventTypePatientSelected,
		Data: map[string]any{"patient": id},
	})
}

// AppendToField adds content to a field using that field's join rule.
func (w *Workspace) AppendToField(field directive.FieldID, content string) {
	if !field.Valid() {
		return
	}

	w.mu.Lock()
	value := join(field, w.fields[field], content)
	w.fields[field] = value
	w.mu.Unlock()

	w.logger.Debug().Str("field", string(field)).Int("length", len(value)).Msg("Field updated")
	w.bus.PublishSync(bus.Event{
		Type: bus.EventTypeFieldUpdated,
		Data: map[string]any{"field": field, "content": content, "value": value},
	})
}

// join appends bullets to the SOAP note, lines to history and words to the
// transcript. An empty field takes the content without a leading separator,
// so the first SOAP bullet is "• x" rather than "\n• x".
func join(field directive.FieldID, current, content string) string {
	if current == "" {
		if field == directive.FieldSoapNote {
			return "• " + content
		}
		return content
	}
	switch field {
	case directive.FieldSoapNote:
		return current + "\n• " + content
	case directive.FieldHistory:
		return current + "\n" + content
	default:
		return current + " " + content
	}
}

// Screen returns the active screen.
func (w *Workspace) Screen() directive.ScreenID {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.screen
}

// SelectedPatient returns the active patient id, if any.
func (w *Workspace) SelectedPatient() (int, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.patient, w.selected
}

// Field returns the current value of a field.
func (w *Workspace) Field(field directive.FieldID) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.fields[field]
}

// Snapshot copies the whole workspace.
func (w *Workspace) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	fields := make(map[directive.FieldID]string, len(w.fields))
	for k, v := range w.fields {
		fields[k] = v
	}
	return Snapshot{
		Screen:   w.screen,
		Patient:  w.patient,
		Selected: w.selected,
		Fields:   fields,
	}
}

// Clear empties the fields and deselects the patient. The screen is kept.
func (w *Workspace) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.patient = 0
	w.selected = false
	w.fields = make(map[directive.FieldID]string)
}
