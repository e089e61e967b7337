// Package directive extracts and executes the in-band commands embedded in
// assistant replies as <<DIRECTIVE:PAYLOAD>> tags.
package directive

import (
	"strconv"
	"strings"
)

const (
	openDelim  = "<<"
	closeDelim = ">>"
)

// Kind identifies the directive named in a span.
type Kind string

const (
	KindNavigate      Kind = "NAVIGATE"
	KindSelectPatient Kind = "SELECT_PATIENT"
	KindUpdateField   Kind = "UPDATE_FIELD"
	KindUnknown       Kind = ""
)

// Span is one <<...>> region found in a reply. Start and End are byte offsets
// into the scanned text with End exclusive.
type Span struct {
	Kind    Kind
	Name    string
	Payload string
	Start   int
	End     int
}

// Raw returns the span's text including delimiters.
func (s Span) Raw(text string) string {
	return text[s.Start:s.End]
}

// Scan walks text once and returns every <<...>> span in order. A span closes
// at the first ">>" after its opener; when another "<<" appears before that
// close, the innermost opener wins so "<<x <<NAVIGATE:labs>>" still yields the
// NAVIGATE tag.
func Scan(text string) []Span {
	var spans []Span
	pos := 0
	for pos < len(text) {
		rel := strings.Index(text[pos:], openDelim)
		if rel < 0 {
			break
		}
		start := pos + rel

		relClose := strings.Index(text[start+len(openDelim):], closeDelim)
		if relClose < 0 {
			break
		}
		end := start + len(openDelim) + relClose + len(closeDelim)

		if inner := strings.LastIndex(text[start+len(openDelim):end-len(closeDelim)], openDelim); inner >= 0 {
			start = start + len(openDelim) + inner
		}

		spans = append(spans, newSpan(text[start+len(openDelim):end-len(closeDelim)], start, end))
		pos = end
	}
	return spans
}

func newSpan(body string, start, end int) Span {
	name, payload, _ := strings.Cut(body, ":")
	name = strings.TrimSpace(name)

	kind := KindUnknown
	for _, k := range []Kind{KindNavigate, KindSelectPatient, KindUpdateField} {
		if strings.EqualFold(name, string(k)) {
			kind = k
			break
		}
	}

	return Span{Kind: kind, Name: name, Payload: payload, Start: start, End: end}
}

// Strip removes spans from text. Removing a span can join two fragments into a
// new "<<...>>" (as in "<<<<x>>>>"), so leftovers are rescanned and removed
// until none remain; only the first pass is ever dispatched.
func Strip(text string, spans []Span) string {
	for len(spans) > 0 {
		var sb strings.Builder
		sb.Grow(len(text))
		last := 0
		for _, s := range spans {
			sb.WriteString(text[last:s.Start])
			last = s.End
		}
		sb.WriteString(text[last:])
		text = sb.String()
		spans = Scan(text)
	}
	return strings.TrimSpace(text)
}

// Command is a validated directive ready to run against a Host.
type Command interface {
	Kind() Kind
	Apply(h Host)
}

// Navigate switches the host's active screen.
type Navigate struct {
	Target ScreenID
}

func (Navigate) Kind() Kind { return KindNavigate }
func (c Navigate) Apply(h Host) { h.NavigateTo(c.Target) }
func (c Navigate) String() string { return "NAVIGATE:" + string(c.Target) }

// SelectPatient sets the host's selected patient.
type SelectPatient struct {
	ID int
}

func (SelectPatient) Kind() Kind { return KindSelectPatient }
func (c SelectPatient) Apply(h Host) { h.SelectPatient(c.ID) }
func (c SelectPatient) String() string { return "SELECT_PATIENT:" + strconv.Itoa(c.ID) }

// UpdateField appends dictated content to a host field.
type UpdateField struct {
	Field   FieldID
	Content string
}

func (UpdateField) Kind() Kind { return KindUpdateField }
func (c UpdateField) Apply(h Host) { h.AppendToField(c.Field, c.Content) }
func (c UpdateField) String() string { return "UPDATE_FIELD:" + string(c.Field) + "|" + c.Content }

// Parse validates a span's payload against its kind. It returns false for
// unknown kinds and for payloads outside the closed vocabularies.
func Parse(s Span) (Command, bool) {
	switch s.Kind {
	case KindNavigate:
		target, ok := ParseScreen(s.Payload)
		if !ok {
			return nil, false
		}
		return Navigate{Target: target}, true

	case KindSelectPatient:
		raw := strings.TrimSpace(s.Payload)
		if raw == "" || strings.TrimLeft(raw, "0123456789") != "" {
			return nil, false
		}
		id, err := strconv.Atoi(raw)
		if err != nil {
			return nil, false
		}
		return SelectPatient{ID: id}, true

	case KindUpdateField:
		rawField, content, found := strings.Cut(s.Payload, "|")
		if !found {
			return nil, false
		}
		field, ok := ParseField(rawField)
		content = strings.TrimSpace(content)
		if !ok || content == "" {
			return nil, false
		}
		return UpdateField{Field: field, Content: content}, true
	}
	return nil, false
}
