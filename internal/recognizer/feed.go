package recognizer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/normanking/vitalisomni/internal/wake"
)

// Feed is a recognizer driven by text instead of a microphone. The console
// and stdin mode push utterances into whatever session is open.
type Feed struct {
	mu      sync.Mutex
	current *feedSession
	logger  zerolog.Logger
}

// NewFeed creates a Feed.
func NewFeed(logger zerolog.Logger) *Feed {
	return &Feed{logger: logger.With().Str("provider", "feed-recognizer").Logger()}
}

func (f *Feed) Name() string {
	return "feed"
}

// IsAvailable is always true; typing needs no hardware.
func (f *Feed) IsAvailable() bool {
	return true
}

// Start opens a new session and makes it the target of Say, Hear and End.
func (f *Feed) Start(ctx context.Context, emit wake.Emit) (wake.Session, error) {
	s := &feedSession{
		events: make(chan wake.Event, 16),
		done:   make(chan struct{}),
	}

	f.mu.Lock()
	f.current = s
	f.mu.Unlock()

	go s.run(ctx, emit)
	return s, nil
}

// Say delivers text as a final result. It returns false when no session is
// open to hear it.
func (f *Feed) Say(text string) bool {
	return f.push(wake.Event{Kind: wake.FinalResult, Text: text})
}

// Hear delivers text as an interim result.
func (f *Feed) Hear(text string) bool {
	return f.push(wake.Event{Kind: wake.PartialResult, Text: text})
}

// End closes the open session the way a recognizer timeout would.
func (f *Feed) End() bool {
	return f.push(wake.Event{Kind: wake.SessionEnded})
}

// Listening reports whether a session is open.
func (f *Feed) Listening() bool {
	f.mu.Lock()
	s := f.current
	f.mu.Unlock()
	return s != nil && !s.closed()
}

func (f *Feed) push(ev wake.Event) bool {
	f.mu.Lock()
	s := f.current
	f.mu.Unlock()

	if s == nil || s.closed() {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Pipe feeds every non-empty line of r as a final result until r is exhausted
// or ctx is done.
func (f *Feed) Pipe(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !f.Say(line) {
			f.logger.Warn().Str("text", line).Msg("No recognition session open; utterance dropped")
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read utterances: %w", err)
	}
	return nil
}

type feedSession struct {
	events chan wake.Event
	done   chan struct{}
	once   sync.Once
}

func (s *feedSession) Stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *feedSession) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *feedSession) run(ctx context.Context, emit wake.Emit) {
	defer s.Stop()

	emit(wake.Event{Kind: wake.SessionStarted})
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case ev := <-s.events:
			if s.closed() {
				return
			}
			emit(ev)
			if ev.Kind == wake.SessionEnded {
				return
			}
		}
	}
}
