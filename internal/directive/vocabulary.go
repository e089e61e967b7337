package directive

import "strings"

// ScreenID names a destination the host can navigate to.
type ScreenID string

const (
	ScreenAbout        ScreenID = "about"
	ScreenConsultation ScreenID = "consultation"
	ScreenPatients     ScreenID = "patients"
	ScreenRecords      ScreenID = "records"
	ScreenKnowledge    ScreenID = "knowledge"
	ScreenLabs         ScreenID = "labs"
	ScreenPassport     ScreenID = "passport"
	ScreenOmni         ScreenID = "omni"
)

// Screens lists every valid ScreenID.
var Screens = []ScreenID{
	ScreenAbout,
	ScreenConsultation,
	ScreenPatients,
	ScreenRecords,
	ScreenKnowledge,
	ScreenLabs,
	ScreenPassport,
	ScreenOmni,
}

// ParseScreen normalises s and reports whether it names a known screen.
func ParseScreen(s string) (ScreenID, bool) {
	id := ScreenID(strings.ToLower(strings.TrimSpace(s)))
	return id, id.Valid()
}

// Valid reports whether id is in the closed set.
func (id ScreenID) Valid() bool {
	for _, s := range Screens {
		if s == id {
			return true
		}
	}
	return false
}

// FieldID names a writable field in the consultation workspace.
type FieldID string

const (
	FieldSoapNote   FieldID = "soap_note"
	FieldTranscript FieldID = "transcript"
	FieldHistory    FieldID = "history"
)

// Fields lists every writable FieldID.
var Fields = []FieldID{FieldSoapNote, FieldTranscript, FieldHistory}

// ParseField normalises s and reports whether it names a writable field.
func ParseField(s string) (FieldID, bool) {
	id := FieldID(strings.ToLower(strings.TrimSpace(s)))
	return id, id.Valid()
}

// Valid reports whether id is in the closed set.
func (id FieldID) Valid() bool {
	for _, f := range Fields {
		if f == id {
			return true
		}
	}
	return false
}
