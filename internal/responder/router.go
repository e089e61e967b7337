// Package responder answers /omni/chat/ requests without a language model. It
// routes each query by keyword and replies in the directive protocol so the
// desktop side can be driven end to end against a local patient registry.
package responder

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/normanking/vitalisomni/internal/directive"
	"github.com/normanking/vitalisomni/internal/registry"
)

// Intent is the routing category of a query.
type Intent string

const (
	IntentNavigation Intent = "NAVIGATION"
	IntentDataEntry  Intent = "DATA_ENTRY"
	IntentAction     Intent = "ACTION"
	IntentData       Intent = "DATA"
	IntentGeneral    Intent = "GENERAL"
)

// Replies that do not depend on the query.
const (
	GeneralReply     = "I'm Vitalis Omni. I can open screens, select patients, take notes and create patients."
	DataEntryFailure = "I couldn't parse that data entry request."
	CreateFailure    = "Failed to create patient. Try 'Create patient X, age Y'."
	NoPatientsReply  = "No patients are registered yet."
)

// Directory is the patient store the responder reads and writes.
type Directory interface {
	List(ctx context.Context) ([]registry.Patient, error)
	Add(ctx context.Context, name string, age int, history string) (registry.Patient, error)
}

type route struct {
	keyword string
	screen  directive.ScreenID
}

// First match wins, so the order matters.
var routes = []route{
	{"consult", directive.ScreenConsultation},
	{"soap", directive.ScreenConsultation},
	{"start", directive.ScreenConsultation},
	{"registry", directive.ScreenPatients},
	{"add patient", directive.ScreenPatients},
	{"record", directive.ScreenRecords},
	{"history", directive.ScreenRecords},
	{"file", directive.ScreenRecords},
	{"chart", directive.ScreenRecords},
	{"lab", directive.ScreenLabs},
	{"result", directive.ScreenLabs},
	{"passport", directive.ScreenPassport},
	{"knowledge", directive.ScreenKnowledge},
}

var (
	entryPrefixRe = regexp.MustCompile(`(?i)^\s*(?:please\s+)?(?:add|note|update)\b(?:\s+(?:that|an?|the|new)\b)*(?:\s+(?:symptoms?|complaints?|subjective|history)\b)?(?:\s+(?:of|that|to)\b)?\s*[:,-]?\s*`)
	createRe      = regexp.MustCompile(`(?i)\bcreate\s+(?:a\s+)?(?:new\s+)?patient\b(?:\s+(?:named|called))?\s*(.*)$`)
	historyRe     = regexp.MustCompile(`(?i)[,;]?\s*(?:with\s+)?(?:medical\s+)?history\s*(?:of|:)?\s*(.*)$`)
	ageRe         = regexp.MustCompile(`(?i)[,;]?\s*\b(?:aged?\s*)?(\d{1,3})\b(?:\s*(?:years?\s*old|y/?o))?`)
)

// Responder routes queries to handlers.
type Responder struct {
	dir    Directory
	logger zerolog.Logger
}

// New creates a Responder backed by dir.
func New(dir Directory, logger zerolog.Logger) *Responder {
	return &Responder{
		dir:    dir,
		logger: logger.With().Str("component", "responder").Logger(),
	}
}

// Classify picks the intent of a query. Keyword overrides apply in order, so
// "create" beats data entry, which beats navigation.
func Classify(query string) Intent {
	q := strings.ToLower(query)
	intent := IntentGeneral
	if containsAny(q, "who is", "who's", "how many", "list patients", "which patients") {
		intent = IntentData
	}
	if containsAny(q, "open", "go to", "show", "start") {
		intent = IntentNavigation
	}
	if containsAny(q, "add", "note", "symptom") {
		intent = IntentDataEntry
	}
	if strings.Contains(q, "create") {
		intent = IntentAction
	}
	return intent
}

// Respond answers one query.
func (r *Responder) Respond(ctx context.Context, query string) (string, error) {
	intent := Classify(query)
	r.logger.Info().Str("intent", string(intent)).Str("query", query).Msg("Query routed")

	switch intent {
	case IntentNavigation:
		return r.navigate(ctx, query)
	case IntentDataEntry:
		return dataEntry(query), nil
	case IntentAction:
		return r.create(ctx, query), nil
	case IntentData:
		return r.describe(ctx, query)
	default:
		return GeneralReply, nil
	}
}

// Screen maps a query to a screen by keyword, defaulting to omni.
func Screen(query string) directive.ScreenID {
	q := strings.ToLower(query)
	for _, rt := range routes {
		if strings.Contains(q, rt.keyword) {
			return rt.screen
		}
	}
	return directive.ScreenOmni
}

func (r *Responder) navigate(ctx context.Context, query string) (string, error) {
	screen := Screen(query)

	patients, err := r.dir.List(ctx)
	if err != nil {
		return "", fmt.Errorf("list patients: %w", err)
	}
	p, found := registry.Mentioned(patients, query)
	if !found {
		return fmt.Sprintf("<<NAVIGATE:%s>> Opening %s view.", screen, screen), nil
	}

	// A bare patient name means their records.
	if screen == directive.ScreenOmni {
		screen = directive.ScreenRecords
	}
	return fmt.Sprintf("<<NAVIGATE:%s>> <<SELECT_PATIENT:%d>> Opening %s for %s.", screen, p.ID, screen, p.Name), nil
}

// EntryField picks the field a data entry request writes to.
func EntryField(query string) directive.FieldID {
	q := strings.ToLower(query)
	switch {
	case containsAny(q, "symptom", "complaint", "subjective"):
		return directive.FieldSoapNote
	case containsAny(q, "note that", "history", "allergy"):
		return directive.FieldHistory
	default:
		return directive.FieldTranscript
	}
}

func dataEntry(query string) string {
	field := EntryField(query)
	text := entryPrefixRe.ReplaceAllString(query, "")
	text = strings.NewReplacer("<<", "", ">>", "", "|", "/").Replace(text)
	text = strings.Trim(strings.TrimSpace(text), ".")
	if text == "" {
		return DataEntryFailure
	}
	return fmt.Sprintf("<<UPDATE_FIELD:%s|%s>> Added to %s.", field, text, field)
}

func (r *Responder) create(ctx context.Context, query string) string {
	name, age, history, ok := parseCreate(query)
	if !ok {
		return CreateFailure
	}
	p, err := r.dir.Add(ctx, name, age, history)
	if err != nil {
		r.logger.Warn().Err(err).Str("name", name).Msg("Create patient failed")
		return CreateFailure
	}
	return fmt.Sprintf("✅ Created patient %s.", p.Name)
}

// parseCreate reads "create patient <name>[, age N][, history ...]".
func parseCreate(query string) (name string, age int, history string, ok bool) {
	m := createRe.FindStringSubmatch(query)
	if m == nil {
		return "", 0, "", false
	}
	rest := m[1]

	if loc := historyRe.FindStringSubmatchIndex(rest); loc != nil {
		history = strings.TrimSpace(strings.TrimRight(rest[loc[2]:loc[3]], "."))
		rest = rest[:loc[0]]
	}
	if loc := ageRe.FindStringSubmatchIndex(rest); loc != nil {
		age, _ = strconv.Atoi(rest[loc[2]:loc[3]])
		rest = rest[:loc[0]] + rest[loc[1]:]
	}

	name = strings.Trim(strings.TrimSpace(rest), ",.;")
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return "", 0, "", false
	}
	return cases.Title(language.English).String(name), age, history, true
}

func (r *Responder) describe(ctx context.Context, query string) (string, error) {
	patients, err := r.dir.List(ctx)
	if err != nil {
		return "", fmt.Errorf("list patients: %w", err)
	}
	if len(patients) == 0 {
		return NoPatientsReply, nil
	}

	if p, ok := registry.Mentioned(patients, query); ok {
		reply := fmt.Sprintf("%s (id %d) is %d years old.", p.Name, p.ID, p.Age)
		if p.History != "" {
			reply += " History: " + p.History + "."
		}
		return reply, nil
	}

	lines := make([]string, len(patients))
	for i, p := range patients {
		lines[i] = fmt.Sprintf("%d: %s, %dy", p.ID, p.Name, p.Age)
	}
	return "Patients on file: " + strings.Join(lines, "; ") + ".", nil
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
