package omni

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/vitalisomni/internal/bus"
	"github.com/normanking/vitalisomni/internal/directive"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	// Greeting opens every session.
	Greeting = "Systems Online. I am **Vitalis Omni**. Accessing secure medical protocols. How may I assist you today?"
	// FailureText replaces the reply when the endpoint cannot be used.
	FailureText = "⚠️ Command Failed."
)

// Message is one transcript entry. Messages are never modified once appended.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Chatter is the remote assistant.
type Chatter interface {
	Chat(ctx context.Context, message string) (string, error)
}

// Speaker voices cleaned replies.
type Speaker interface {
	Speak(text string)
}

// SessionDeps are the collaborators of a Session. Host and Speaker may be nil.
type SessionDeps struct {
	Chat     Chatter
	Protocol *directive.Protocol
	Host     directive.Host
	Speaker  Speaker
	Bus      *bus.EventBus
}

// Session owns the transcript and runs conversation turns.
type Session struct {
	deps   SessionDeps
	logger zerolog.Logger

	mu       sync.RWMutex
	messages []Message
	inFlight int
}

// NewSession creates a session seeded with the greeting.
func NewSession(deps SessionDeps, logger zerolog.Logger) *Session {
	if deps.Protocol == nil {
		deps.Protocol = directive.NewProtocol(deps.Bus, logger)
	}
	s := &Session{
		deps:   deps,
		logger: logger.With().Str("component", "conversation").Logger(),
	}
	s.append(RoleAssistant, Greeting)
	return s
}

// Send runs one turn: the user text is recorded at once, posted to the
// assistant, and the reply's directives are executed before the cleaned text
// is spoken and recorded. Whitespace-only text is ignored with ErrEmptyMessage.
// On endpoint failure the fixed failure message is recorded and the error is
// returned; nothing is retried.
//
// Overlapping calls are allowed. Pending stays true until every call returns.
func (s *Session) Send(ctx context.Context, text string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrEmptyMessage
	}

	s.append(RoleUser, text)
	s.setPending(+1)
	defer s.setPending(-1)

	reply, err := s.deps.Chat.Chat(ctx, text)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Assistant request failed")
		return s.append(RoleAssistant, FailureText), err
	}

	res := s.deps.Protocol.Process(reply, s.deps.Host)
	if s.deps.Speaker != nil {
		s.deps.Speaker.Speak(res.Text)
	}

	s.logger.Info().
		Int("directives", len(res.Executed)).
		Int("ignored", len(res.Ignored)).
		Msg("Turn complete")

	return s.append(RoleAssistant, res.Text), nil
}

// Pending reports whether a Send is in flight.
func (s *Session) Pending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inFlight > 0
}

// Messages returns a copy of the transcript in order.
func (s *Session) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// LastUserUtterance returns the most recent user message.
func (s *Session) LastUserUtterance() (Message, bool) {
	return s.last(RoleUser)
}

// LastReply returns the most recent assistant message.
func (s *Session) LastReply() (Message, bool) {
	return s.last(RoleAssistant)
}

func (s *Session) last(role Role) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == role {
			return s.messages[i], true
		}
	}
	return Message{}, false
}

func (s *Session) append(role Role, text string) Message {
	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	s.deps.Bus.PublishSync(bus.Event{
		Type: bus.EventTypeMessageAppended,
		Data: map[string]any{"message": msg},
	})
	return msg
}

func (s *Session) setPending(delta int) {
	s.mu.Lock()
	before := s.inFlight > 0
	s.inFlight += delta
	after := s.inFlight > 0
	s.mu.Unlock()

	if before != after {
		s.deps.Bus.PublishSync(bus.Event{
			Type: bus.EventTypePendingChanged,
			Data: map[string]any{"pending": after},
		})
	}
}
