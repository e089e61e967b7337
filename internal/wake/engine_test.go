package wake

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/normanking/vitalisomni/internal/bus"
	"github.com/normanking/vitalisomni/internal/capability"
	"github.com/normanking/vitalisomni/internal/config"
	"github.com/normanking/vitalisomni/internal/settings"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeClock struct {
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) pending() []*fakeTimer {
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

func (c *fakeClock) fire() {
	for _, t := range c.pending() {
		t.fired = true
		t.f()
	}
}

type fakeSession struct {
	emit    Emit
	ctx     context.Context
	stopped bool
	ended   bool
}

func (s *fakeSession) Stop() { s.stopped = true }

func (s *fakeSession) live() bool { return !s.stopped && !s.ended }

type fakeRecognizer struct {
	err      error
	sessions []*fakeSession
}

func (r *fakeRecognizer) Start(ctx context.Context, emit Emit) (Session, error) {
	if r.err != nil {
		return nil, r.err
	}
	s := &fakeSession{emit: emit, ctx: ctx}
	r.sessions = append(r.sessions, s)
	return s, nil
}

func (r *fakeRecognizer) current() *fakeSession {
	return r.sessions[len(r.sessions)-1]
}

func (r *fakeRecognizer) live() int {
	n := 0
	for _, s := range r.sessions {
		if s.live() {
			n++
		}
	}
	return n
}

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) Notify(title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
	return nil
}

type harness struct {
	engine     *Engine
	store      *settings.Store
	recognizer *fakeRecognizer
	clock      *fakeClock
	probe      *capability.Static
	notifier   *countingNotifier
	bus        *bus.EventBus
	dispatched []string
}

func newHarness(t *testing.T, alwaysListen bool) *harness {
	t.Helper()

	s := settings.Defaults()
	s.AlwaysListen = alwaysListen

	h := &harness{
		store:      settings.NewStore(s, nil, zerolog.Nop()),
		recognizer: &fakeRecognizer{},
		clock:      &fakeClock{},
		probe:      capability.NewStatic(true, true),
		notifier:   &countingNotifier{},
		bus:        bus.NewEventBus(),
	}
	h.engine = NewEngine(DefaultConfig(), Deps{
		Recognizer: h.recognizer,
		Probe:      h.probe,
		Settings:   h.store,
		Dispatch:   func(cmd string) { h.dispatched = append(h.dispatched, cmd) },
		Notifier:   h.notifier,
		Bus:        h.bus,
		Clock:      h.clock,
	}, zerolog.Nop())
	t.Cleanup(h.engine.Close)
	return h
}

func (h *harness) emit(kind EventKind, text string) {
	h.recognizer.current().emit(Event{Kind: kind, Text: text})
}

func (h *harness) end() {
	s := h.recognizer.current()
	s.ended = true
	s.emit(Event{Kind: SessionEnded})
}

func TestEngine_EnabledStartsListening(t *testing.T) {
	h := newHarness(t, true)
	h.engine.Reconfigure()

	assert.Equal(t, StateListening, h.engine.State())
	require.Len(t, h.recognizer.sessions, 1)

	h.emit(SessionStarted, "")
	assert.Equal(t, StateListening, h.engine.State())
}

func TestEngine_DisabledStaysInactive(t *testing.T) {
	h := newHarness(t, false)
	h.engine.Reconfigure()

	assert.Equal(t, StateInactive, h.engine.State())
	assert.Empty(t, h.recognizer.sessions)
}

func TestEngine_ReconfigureKeepsRunningSession(t *testing.T) {
	h := newHarness(t, true)
	h.engine.Reconfigure()
	h.engine.Reconfigure()

	assert.Len(t, h.recognizer.sessions, 1)
	assert.Equal(t, 1, h.recognizer.live())
}

func TestEngine_Transcripts(t *testing.T) {
	type step struct {
		kind EventKind
		text string
	}
	tests := []struct {
		name         string
		steps        []step
		wantCommands []string
		wantState    State
	}{
		{
			name:         "wake phrase with command in one final result",
			steps:        []step{{FinalResult, "Hey Vitalis open labs"}},
			wantCommands: []string{"open labs"},
			wantState:    StateListening,
		},
		{
			name:      "wake phrase alone arms the engine",
			steps:     []step{{FinalResult, "hey vitalis"}},
			wantState: StateActive,
		},
		{
			name: "command follows wake phrase",
			steps: []step{
				{FinalResult, "hey vitalis"},
				{FinalResult, "show patient records"},
			},
			wantCommands: []string{"show patient records"},
			wantState:    StateListening,
		},
		{
			name: "partial result arms, final dispatches command without wake phrase",
			steps: []step{
				{PartialResult, "hey omni"},
				{PartialResult, "hey omni open"},
				{FinalResult, "hey omni open the labs"},
			},
			wantCommands: []string{"open the labs"},
			wantState:    StateListening,
		},
		{
			name: "interim wake then final with command",
			steps: []step{
				{PartialResult, "hey vitalis open"},
				{FinalResult, "hey vitalis open labs"},
			},
			wantCommands: []string{"open labs"},
			wantState:    StateListening,
		},
		{
			name: "interim wake then final with only the wake phrase stays armed",
			steps: []step{
				{PartialResult, "hey vitalis"},
				{FinalResult, "hey vitalis"},
				{FinalResult, "open labs"},
			},
			wantCommands: []string{"open labs"},
			wantState:    StateListening,
		},
		{
			name:      "short remainder is not dispatched",
			steps:     []step{{FinalResult, "hey omni ok"}},
			wantState: StateActive,
		},
		{
			name:      "speech without wake phrase is ignored",
			steps:     []step{{FinalResult, "open labs"}, {PartialResult, "record this"}},
			wantState: StateListening,
		},
		{
			name:         "bare vitalis is a wake phrase",
			steps:        []step{{FinalResult, "  VITALIS, start consultation. "}},
			wantCommands: []string{"start consultation"},
			wantState:    StateListening,
		},
		{
			name:      "empty final while active resets without dispatch",
			steps:     []step{{FinalResult, "hey vitalis"}, {FinalResult, "   "}},
			wantState: StateListening,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, true)
			h.engine.Reconfigure()
			h.emit(SessionStarted, "")

			for _, s := range tt.steps {
				h.emit(s.kind, s.text)
			}

			assert.Equal(t, tt.wantCommands, h.dispatched)
			assert.Equal(t, tt.wantState, h.engine.State())
		})
	}
}

func TestEngine_SessionEndSchedulesOneRestart(t *testing.T) {
	h := newHarness(t, true)
	h.engine.Reconfigure()
	h.emit(SessionStarted, "")
	first := h.recognizer.current()

	h.end()

	pending := h.clock.pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 200*time.Millisecond, pending[0].d)
	assert.Equal(t, StateListening, h.engine.State())
	assert.Error(t, first.ctx.Err(), "ended session context is cancelled")

	h.clock.fire()

	require.Len(t, h.recognizer.sessions, 2)
	assert.Empty(t, h.clock.pending())

	// Events from the ended session no longer count.
	first.emit(Event{Kind: FinalResult, Text: "hey vitalis open labs"})
	assert.Empty(t, h.dispatched)

	h.emit(FinalResult, "hey vitalis open labs")
	assert.Equal(t, []string{"open labs"}, h.dispatched)
}

func TestEngine_ActiveSurvivesRestart(t *testing.T) {
	h := newHarness(t, true)
	h.engine.Reconfigure()
	h.emit(FinalResult, "hey vitalis")
	h.end()
	h.clock.fire()
	h.emit(SessionStarted, "")

	assert.Equal(t, StateActive, h.engine.State())
	h.emit(FinalResult, "open labs")
	assert.Equal(t, []string{"open labs"}, h.dispatched)
}

func TestEngine_SessionEndWhileDisabled(t *testing.T) {
	h := newHarness(t, true)
	h.engine.Reconfigure()

	h.store.SetAlwaysListen(false)
	h.end()

	assert.Equal(t, StateInactive, h.engine.State())
	assert.Empty(t, h.clock.pending())
	assert.Len(t, h.recognizer.sessions, 1)
}

func TestEngine_DisableTearsDown(t *testing.T) {
	h := newHarness(t, true)
	h.engine.Reconfigure()
	h.emit(FinalResult, "hey vitalis")
	s := h.recognizer.current()

	h.store.SetAlwaysListen(false)
	h.engine.Reconfigure()

	assert.Equal(t, StateInactive, h.engine.State())
	assert.True(t, s.stopped)
	assert.Error(t, s.ctx.Err())

	// Late events from the torn down session are dropped.
	s.emit(Event{Kind: FinalResult, Text: "open labs"})
	s.emit(Event{Kind: SessionEnded})
	assert.Empty(t, h.dispatched)
	assert.Empty(t, h.clock.pending())
	assert.Equal(t, StateInactive, h.engine.State())
}

func TestEngine_DisableCancelsPendingRestart(t *testing.T) {
	h := newHarness(t, true)
	h.engine.Reconfigure()
	h.end()

	pending := h.clock.pending()
	require.Len(t, pending, 1)

	h.store.SetAlwaysListen(false)
	h.engine.Reconfigure()

	assert.True(t, pending[0].stopped)

	// A callback that raced the cancellation must still be a no-op.
	pending[0].f()
	assert.Len(t, h.recognizer.sessions, 1)
	assert.Equal(t, StateInactive, h.engine.State())
}

func TestEngine_OnChangeWiring(t *testing.T) {
	h := newHarness(t, false)
	h.store.OnChange(func(old, new settings.Settings) {
		if old.AlwaysListen != new.AlwaysListen {
			h.engine.Reconfigure()
		}
	})

	h.store.SetAlwaysListen(true)
	assert.Equal(t, StateListening, h.engine.State())
	require.Len(t, h.recognizer.sessions, 1)

	h.store.SetVoiceResponse(false)
	assert.Len(t, h.recognizer.sessions, 1)

	h.store.SetAlwaysListen(false)
	assert.Equal(t, StateInactive, h.engine.State())
	assert.True(t, h.recognizer.current().stopped)
}

func TestEngine_CapabilityMissingNotifiesOnce(t *testing.T) {
	h := newHarness(t, true)
	h.probe.Set(capability.Report{CanRecognizeSpeech: false, CanSynthesizeSpeech: true})

	var missing int
	h.bus.Subscribe(bus.EventTypeCapabilityMissing, func(bus.Event) { missing++ })

	h.engine.Reconfigure()
	h.engine.Reconfigure()

	assert.Equal(t, StateInactive, h.engine.State())
	assert.Equal(t, 1, h.notifier.count)
	assert.Equal(t, 1, missing)
	assert.Empty(t, h.recognizer.sessions)
	assert.Empty(t, h.clock.pending())

	// Once recognition appears the engine starts normally.
	h.probe.Set(capability.Report{CanRecognizeSpeech: true, CanSynthesizeSpeech: true})
	h.engine.Reconfigure()
	assert.Equal(t, StateListening, h.engine.State())
	assert.Len(t, h.recognizer.sessions, 1)
}

func TestEngine_UnavailableFromStart(t *testing.T) {
	h := newHarness(t, true)
	h.recognizer.err = ErrRecognitionUnavailable

	h.engine.Reconfigure()
	h.engine.Reconfigure()

	assert.Equal(t, StateInactive, h.engine.State())
	assert.Equal(t, 1, h.notifier.count)
	assert.Empty(t, h.clock.pending())
}

func TestEngine_TransientStartFailureWaitsForRestart(t *testing.T) {
	h := newHarness(t, true)
	h.recognizer.err = errors.New("device busy")

	h.engine.Reconfigure()

	assert.Equal(t, StateListening, h.engine.State())
	assert.Len(t, h.clock.pending(), 1)
	assert.Zero(t, h.notifier.count)

	h.recognizer.err = nil
	h.clock.fire()

	assert.Len(t, h.recognizer.sessions, 1)
	assert.Empty(t, h.clock.pending())
}

func TestEngine_PublishesEvents(t *testing.T) {
	h := newHarness(t, true)

	var states []State
	var detected []string
	var commands []string
	h.bus.Subscribe(bus.EventTypeWakeStateChanged, func(e bus.Event) {
		states = append(states, e.Data["to"].(State))
	})
	h.bus.Subscribe(bus.EventTypeWakeDetected, func(e bus.Event) {
		detected = append(detected, e.Data["phrase"].(string))
	})
	h.bus.Subscribe(bus.EventTypeCommandHeard, func(e bus.Event) {
		commands = append(commands, e.Data["command"].(string))
	})

	var callbacks int
	h.engine.OnStateChange(func(old, new State) { callbacks++ })

	h.engine.Reconfigure()
	h.emit(FinalResult, "hey vitalis open labs")

	assert.Equal(t, []State{StateListening, StateActive, StateListening}, states)
	assert.Equal(t, []string{"hey vitalis"}, detected)
	assert.Equal(t, []string{"open labs"}, commands)
	assert.Equal(t, 3, callbacks)
}

func TestEngine_Close(t *testing.T) {
	h := newHarness(t, true)
	h.engine.Reconfigure()
	s := h.recognizer.current()

	h.engine.Close()
	h.engine.Close()

	assert.Equal(t, StateInactive, h.engine.State())
	assert.True(t, s.stopped)

	s.emit(Event{Kind: FinalResult, Text: "hey vitalis open labs"})
	h.engine.Reconfigure()
	assert.Empty(t, h.dispatched)
	assert.Len(t, h.recognizer.sessions, 1)
}

// Random event sequences never leave more than one live session or more than
// one pending restart, and a disabled engine always settles inactive.
func TestEngine_RandomSequences(t *testing.T) {
	texts := []string{"", "hey vitalis", "hey vitalis open labs", "vitalis ok", "open records", "hey omni start consultation"}
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 50; run++ {
		h := newHarness(t, true)
		h.engine.Reconfigure()

		for step := 0; step < 200; step++ {
			switch rng.Intn(7) {
			case 0:
				if len(h.recognizer.sessions) > 0 {
					h.emit(SessionStarted, "")
				}
			case 1:
				if len(h.recognizer.sessions) > 0 {
					h.emit(PartialResult, texts[rng.Intn(len(texts))])
				}
			case 2:
				if len(h.recognizer.sessions) > 0 {
					h.emit(FinalResult, texts[rng.Intn(len(texts))])
				}
			case 3:
				if len(h.recognizer.sessions) > 0 && !h.recognizer.current().ended {
					h.end()
				}
			case 4:
				h.store.SetAlwaysListen(rng.Intn(2) == 0)
				h.engine.Reconfigure()
			case 5:
				h.clock.fire()
			case 6:
				if n := len(h.recognizer.sessions); n > 1 {
					old := h.recognizer.sessions[rng.Intn(n-1)]
					old.emit(Event{Kind: FinalResult, Text: "hey vitalis stale"})
				}
			}

			require.LessOrEqual(t, h.recognizer.live(), 1)
			require.LessOrEqual(t, len(h.clock.pending()), 1)
			require.Contains(t, []State{StateInactive, StateListening, StateActive}, h.engine.State())
			require.NotContains(t, h.dispatched, "stale")
		}

		h.store.SetAlwaysListen(false)
		h.engine.Reconfigure()
		assert.Equal(t, StateInactive, h.engine.State())
		assert.Zero(t, h.recognizer.live())
		assert.Empty(t, h.clock.pending())
	}
}

func TestMatcher(t *testing.T) {
	m := NewMatcher([]string{"vitalis", "Hey  Vitalis", "", "hey omni", "vitalis"})

	assert.Equal(t, []string{"hey vitalis", "hey omni", "vitalis"}, m.Phrases())

	heard := m.Normalize("  Hey VITALIS, open labs ")
	phrase, ok := m.Match(heard)
	require.True(t, ok)
	assert.Equal(t, "hey vitalis", phrase)
	assert.Equal(t, "open labs", m.Strip(heard))

	_, ok = m.Match("open labs")
	assert.False(t, ok)
	assert.Equal(t, "", m.Strip("hey omni"))
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.WakeConfig{})
	assert.Equal(t, DefaultConfig(), cfg)

	cfg = ConfigFrom(config.WakeConfig{
		Phrases:          []string{"computer"},
		RestartDelay:     time.Second,
		MinCommandLength: 5,
	})
	assert.Equal(t, []string{"computer"}, cfg.Phrases)
	assert.Equal(t, time.Second, cfg.RestartDelay)
	assert.Equal(t, 5, cfg.MinCommandLength)
}

func TestSystemClock(t *testing.T) {
	done := make(chan struct{})
	SystemClock{}.AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	stopped := SystemClock{}.AfterFunc(time.Hour, func() {}).Stop()
	assert.True(t, stopped)
}
