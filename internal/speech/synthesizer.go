package speech

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/normanking/vitalisomni/internal/bus"
	"github.com/normanking/vitalisomni/internal/settings"
)

type slot struct {
	id uint64
	u  Utterance
}

// Synthesizer owns the single speech output slot. Starting a new utterance
// cancels the previous one.
type Synthesizer struct {
	voice    Voice
	settings settings.Source
	opts     Options
	bus      *bus.EventBus
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	current  *slot
	seq      uint64
	closed   bool
	notifier Notifier
	notified bool
}

// Notifier shows the one-time notice that speech output is missing.
type Notifier interface {
	Notify(title, message string) error
}

// UnavailableNotice is shown once when a reply cannot be spoken because the
// environment has no voice.
const UnavailableNotice = "Speech synthesis is not available in this environment."

// NewSynthesizer creates a Synthesizer. voice may be nil, which behaves as an
// environment without speech output.
func NewSynthesizer(voice Voice, src settings.Source, opts Options, eventBus *bus.EventBus, logger zerolog.Logger) *Synthesizer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Synthesizer{
		voice:    voice,
		settings: src,
		opts:     opts,
		bus:      eventBus,
		logger:   logger.With().Str("component", "speech").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetNotifier sets where the missing-voice notice goes.
func (s *Synthesizer) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// Speak says text when voice responses are enabled. It does nothing when the
// toggle is off or no voice is available.
func (s *Synthesizer) Speak(text string) {
	if !s.settings.Current().VoiceResponse {
		return
	}
	s.say(text, "reply")
}

// Narrate says text regardless of the voice-response toggle. Used for
// explicit "read this aloud" requests.
func (s *Synthesizer) Narrate(text string) {
	s.say(text, "narration")
}

// Stop cancels whatever is being spoken. Calling it while idle is a no-op.
func (s *Synthesizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

// IsSpeaking reports whether the current utterance is still playing.
func (s *Synthesizer) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// IsAvailable reports whether a voice can be used.
func (s *Synthesizer) IsAvailable() bool {
	return s.voice != nil && s.voice.IsAvailable()
}

// Close stops speech and waits for bookkeeping goroutines to exit.
func (s *Synthesizer) Close() {
	s.mu.Lock()
	s.closed = true
	s.cancelLocked()
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Synthesizer) say(text, kind string) {
	if n := s.start(Clean(text), kind); n != nil {
		s.notifyMissing(n)
	}
}

// start replaces the slot with a new utterance. It returns a notifier when the
// missing-voice notice is due.
func (s *Synthesizer) start(clean, kind string) Notifier {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.cancelLocked()

	if clean == "" {
		return nil
	}
	if !s.IsAvailable() {
		s.logger.Debug().Str("kind", kind).Msg("No voice available; not speaking")
		if s.notified {
			return nil
		}
		s.notified = true
		s.bus.Publish(bus.Event{
			Type: bus.EventTypeCapabilityMissing,
			Data: map[string]any{"capability": "speech_synthesis"},
		})
		if s.notifier == nil {
			return nil
		}
		return s.notifier
	}

	u, err := s.voice.Say(s.ctx, clean, s.opts)
	if err != nil {
		s.logger.Warn().Err(err).Str("voice", s.voice.Name()).Msg("Failed to start speech")
		return nil
	}

	s.seq++
	cur := &slot{id: s.seq, u: u}
	s.current = cur

	s.logger.Debug().
		Str("kind", kind).
		Int("textLen", len(clean)).
		Msg("Speaking")
	s.bus.Publish(bus.Event{
		Type: bus.EventTypeSpeakingStarted,
		Data: map[string]any{"kind": kind, "text": clean},
	})

	s.wg.Add(1)
	go s.watch(cur)
	return nil
}

func (s *Synthesizer) notifyMissing(n Notifier) {
	s.logger.Warn().Msg("Speech synthesis is not available; replies stay silent")
	if err := n.Notify("Vitalis Omni", UnavailableNotice); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to show notification")
	}
}

// watch clears the slot when its utterance ends on its own. An utterance that
// was replaced or cancelled no longer owns the slot and is ignored.
func (s *Synthesizer) watch(cur *slot) {
	defer s.wg.Done()
	<-cur.u.Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.id == cur.id {
		s.current = nil
		s.bus.Publish(bus.Event{Type: bus.EventTypeSpeakingStopped, Data: map[string]any{"cancelled": false}})
	}
}

func (s *Synthesizer) cancelLocked() {
	if s.current == nil {
		return
	}
	s.current.u.Cancel()
	s.current = nil
	s.bus.Publish(bus.Event{Type: bus.EventTypeSpeakingStopped, Data: map[string]any{"cancelled": true}})
}
