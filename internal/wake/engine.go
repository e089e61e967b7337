// Package wake implements hands-free listening: it keeps a continuous
// recognition session alive while always-listen is on, watches the transcript
// for a wake phrase and hands the command that follows to a dispatcher.
package wake

import (
	"context"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/normanking/vitalisomni/internal/bus"
	"github.com/normanking/vitalisomni/internal/capability"
	"github.com/normanking/vitalisomni/internal/config"
	"github.com/normanking/vitalisomni/internal/settings"
)

// State is the engine's listening mode.
type State string

const (
	// StateInactive means no recognition session is wanted or possible.
	StateInactive State = "inactive"
	// StateListening means a session is running and waiting for a wake phrase.
	StateListening State = "listening"
	// StateActive means a wake phrase was heard and the next final result is
	// the command.
	StateActive State = "active"
)

// EventKind identifies a recognition session event.
type EventKind int

const (
	SessionStarted EventKind = iota + 1
	PartialResult
	FinalResult
	SessionEnded
)

func (k EventKind) String() string {
	switch k {
	case SessionStarted:
		return "session_started"
	case PartialResult:
		return "partial_result"
	case FinalResult:
		return "final_result"
	case SessionEnded:
		return "session_ended"
	}
	return "unknown"
}

// Event is delivered by a recognition session. Text is set for results; Err
// optionally explains a SessionEnded.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// Emit delivers events for one session.
type Emit func(Event)

// Session is a running recognition session. Stop must be idempotent and must
// not wait for the session's own goroutines to finish delivering events.
type Session interface {
	Stop()
}

// Recognizer starts continuous recognition sessions. Implementations deliver
// events from their own goroutine, never synchronously inside Start.
type Recognizer interface {
	Start(ctx context.Context, emit Emit) (Session, error)
}

// ErrRecognitionUnavailable is returned by Start when the environment cannot
// recognize speech at all, as opposed to a transient failure.
var ErrRecognitionUnavailable = errors.New("speech recognition unavailable")

// Dispatcher receives a recognized command. It runs on the engine's event path
// and must hand long work off to another goroutine.
type Dispatcher func(command string)

// Notifier shows the one-time capability notice.
type Notifier interface {
	Notify(title, message string) error
}

// Config tunes detection.
type Config struct {
	Phrases          []string
	RestartDelay     time.Duration
	MinCommandLength int
}

// DefaultConfig returns the stock phrases and timings.
func DefaultConfig() Config {
	return Config{
		Phrases:          []string{"hey vitalis", "hey omni", "vitalis"},
		RestartDelay:     200 * time.Millisecond,
		MinCommandLength: 3,
	}
}

// ConfigFrom converts the loaded wake section, keeping defaults for zero values.
func ConfigFrom(c config.WakeConfig) Config {
	cfg := DefaultConfig()
	if len(c.Phrases) > 0 {
		cfg.Phrases = c.Phrases
	}
	if c.RestartDelay > 0 {
		cfg.RestartDelay = c.RestartDelay
	}
	if c.MinCommandLength > 0 {
		cfg.MinCommandLength = c.MinCommandLength
	}
	return cfg
}

// Deps are the engine's collaborators. Recognizer and Settings are required.
type Deps struct {
	Recognizer Recognizer
	Probe      capability.Probe
	Settings   settings.Source
	Dispatch   Dispatcher
	Notifier   Notifier
	Bus        *bus.EventBus
	Clock      Clock
}

// Engine is the wake-word state machine.
type Engine struct {
	cfg     Config
	deps    Deps
	matcher *Matcher
	logger  zerolog.Logger

	// serial orders every transition: session events, restarts, Reconfigure
	// and Close. Fields below it are only touched while it is held.
	serial    sync.Mutex
	gen       uint64 // generation of the live session, 0 when none
	lastGen   uint64
	session   Session
	cancel    context.CancelFunc
	restart   Timer
	restartID uint64
	notified  bool
	closed    bool

	mu            sync.RWMutex
	state         State
	onStateChange func(old, new State)
}

// NewEngine creates an inactive engine. Call Reconfigure to apply settings.
func NewEngine(cfg Config, deps Deps, logger zerolog.Logger) *Engine {
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	return &Engine{
		cfg:     cfg,
		deps:    deps,
		matcher: NewMatcher(cfg.Phrases),
		logger:  logger.With().Str("component", "wake").Logger(),
		state:   StateInactive,
	}
}

// State returns the current mode.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// OnStateChange registers a callback for state transitions. It runs on the
// engine's event path and must not call back into Reconfigure or Close.
func (e *Engine) OnStateChange(fn func(old, new State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStateChange = fn
}

// Reconfigure reads the current settings and starts or tears down the
// recognition session to match. A running session is left alone when it is
// still wanted.
func (e *Engine) Reconfigure() {
	e.serial.Lock()
	defer e.serial.Unlock()

	if e.closed {
		return
	}

	if !e.deps.Settings.Current().AlwaysListen {
		e.teardown()
		e.setState(StateInactive)
		return
	}

	if !e.canRecognize() {
		e.teardown()
		e.setState(StateInactive)
		return
	}

	if e.session != nil || e.restart != nil {
		return
	}

	e.setState(StateListening)
	e.start()
}

// Close stops the session and any pending restart. The engine stays inactive
// afterwards.
func (e *Engine) Close() {
	e.serial.Lock()
	defer e.serial.Unlock()

	if e.closed {
		return
	}
	e.teardown()
	e.setState(StateInactive)
	e.closed = true
	e.logger.Debug().Msg("Wake engine closed")
}

func (e *Engine) start() {
	if e.deps.Recognizer == nil {
		e.notifyMissing()
		e.setState(StateInactive)
		return
	}

	e.lastGen++
	gen := e.lastGen
	ctx, cancel := context.WithCancel(context.Background())
	e.gen = gen

	sess, err := e.deps.Recognizer.Start(ctx, func(ev Event) { e.handle(gen, ev) })
	if err != nil {
		cancel()
		e.gen = 0
		if errors.Is(err, ErrRecognitionUnavailable) {
			e.notifyMissing()
			e.setState(StateInactive)
			return
		}
		e.logger.Debug().Err(err).Msg("Recognition start failed; waiting for restart")
		e.scheduleRestart()
		return
	}

	e.session = sess
	e.cancel = cancel
	e.notified = false
	e.logger.Debug().Uint64("session", gen).Msg("Recognition session starting")
}

func (e *Engine) handle(gen uint64, ev Event) {
	e.serial.Lock()
	defer e.serial.Unlock()

	if e.closed || gen == 0 || gen != e.gen {
		e.logger.Debug().
			Uint64("session", gen).
			Stringer("event", ev.Kind).
			Msg("Dropping event from stale session")
		return
	}

	switch ev.Kind {
	case SessionStarted:
		if e.State() != StateActive {
			e.setState(StateListening)
		}
	case PartialResult:
		e.onResult(ev.Text, false)
	case FinalResult:
		e.onResult(ev.Text, true)
	case SessionEnded:
		e.onEnded(ev.Err)
	}
}

func (e *Engine) onResult(text string, final bool) {
	heard := e.matcher.Normalize(text)

	switch e.State() {
	case StateActive:
		if !final {
			return
		}
		// The wake phrase is still in the final when it was first caught on a
		// partial result. A final that is only the wake phrase keeps us armed.
		command := heard
		if _, woke := e.matcher.Match(heard); woke {
			command = e.matcher.Strip(heard)
			if utf8.RuneCountInString(command) < e.cfg.MinCommandLength {
				return
			}
		}
		if command != "" {
			e.dispatch(command)
		}
		e.setState(StateListening)

	case StateListening:
		phrase, ok := e.matcher.Match(heard)
		if !ok {
			return
		}
		e.setState(StateActive)
		e.logger.Info().Str("phrase", phrase).Bool("final", final).Msg("Wake phrase detected")
		e.deps.Bus.PublishSync(bus.Event{
			Type: bus.EventTypeWakeDetected,
			Data: map[string]any{"phrase": phrase, "text": heard},
		})

		command := e.matcher.Strip(heard)
		if final && utf8.RuneCountInString(command) >= e.cfg.MinCommandLength {
			e.dispatch(command)
			e.setState(StateListening)
		}
	}
}

func (e *Engine) onEnded(err error) {
	if e.cancel != nil {
		e.cancel()
	}
	e.session, e.cancel, e.gen = nil, nil, 0

	if err != nil {
		e.logger.Debug().Err(err).Msg("Recognition session ended with error")
	}

	if !e.deps.Settings.Current().AlwaysListen {
		e.setState(StateInactive)
		return
	}
	e.scheduleRestart()
}

func (e *Engine) scheduleRestart() {
	e.cancelRestart()
	id := e.restartID
	e.restart = e.deps.Clock.AfterFunc(e.cfg.RestartDelay, func() { e.fireRestart(id) })
}

func (e *Engine) fireRestart(id uint64) {
	e.serial.Lock()
	defer e.serial.Unlock()

	if e.closed || e.restart == nil || id != e.restartID {
		return
	}
	e.restart = nil

	if !e.deps.Settings.Current().AlwaysListen || !e.canRecognize() {
		e.setState(StateInactive)
		return
	}
	if e.session != nil {
		return
	}
	e.logger.Debug().Msg("Restarting recognition session")
	e.start()
}

// cancelRestart stops the pending timer. Bumping restartID also voids a
// callback that already fired and is waiting on serial.
func (e *Engine) cancelRestart() {
	if e.restart != nil {
		e.restart.Stop()
		e.restart = nil
	}
	e.restartID++
}

func (e *Engine) teardown() {
	e.cancelRestart()
	if e.session == nil {
		return
	}
	sess, cancel := e.session, e.cancel
	e.session, e.cancel, e.gen = nil, nil, 0
	cancel()
	sess.Stop()
	e.logger.Debug().Msg("Recognition session stopped")
}

func (e *Engine) canRecognize() bool {
	if e.deps.Probe == nil {
		return true
	}
	if !e.deps.Probe.Probe().CanRecognizeSpeech {
		e.notifyMissing()
		return false
	}
	return true
}

func (e *Engine) notifyMissing() {
	if e.notified {
		return
	}
	e.notified = true

	e.logger.Warn().Msg("Speech recognition is not available; always-listen stays off")
	e.deps.Bus.PublishSync(bus.Event{
		Type: bus.EventTypeCapabilityMissing,
		Data: map[string]any{"capability": "speech_recognition"},
	})
	if e.deps.Notifier != nil {
		if err := e.deps.Notifier.Notify("Vitalis Omni", "Speech recognition is not available in this environment."); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to show notification")
		}
	}
}

func (e *Engine) dispatch(command string) {
	e.logger.Info().Str("command", command).Msg("Dispatching voice command")
	e.deps.Bus.PublishSync(bus.Event{
		Type: bus.EventTypeCommandHeard,
		Data: map[string]any{"command": command},
	})
	if e.deps.Dispatch != nil {
		e.deps.Dispatch(command)
	}
}

func (e *Engine) setState(next State) {
	e.mu.Lock()
	prev := e.state
	e.state = next
	fn := e.onStateChange
	e.mu.Unlock()

	if prev == next {
		return
	}

	e.logger.Debug().Str("from", string(prev)).Str("to", string(next)).Msg("Wake state changed")
	e.deps.Bus.PublishSync(bus.Event{
		Type: bus.EventTypeWakeStateChanged,
		Data: map[string]any{"from": prev, "to": next},
	})
	if fn != nil {
		fn(prev, next)
	}
}
