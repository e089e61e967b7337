// Package settings holds the process-wide Omni toggles. The host owns the
// Store; components receive it and read Current() at each decision point
// instead of keeping their own copy.
package settings

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/normanking/vitalisomni/internal/bus"
	"github.com/normanking/vitalisomni/internal/config"
)

// Settings is the set of user toggles.
type Settings struct {
	AlwaysListen  bool `json:"alwaysListen"`
	VoiceResponse bool `json:"voiceResponse"`
	SurgicalMode  bool `json:"surgicalMode"`
	DeepMemory    bool `json:"deepMemory"`
}

// Defaults matches the values a fresh install starts with.
func Defaults() Settings {
	return Settings{
		AlwaysListen:  false,
		VoiceResponse: true,
		SurgicalMode:  true,
		DeepMemory:    true,
	}
}

// FromConfig converts the config section into Settings.
func FromConfig(c config.SettingsConfig) Settings {
	return Settings{
		AlwaysListen:  c.AlwaysListen,
		VoiceResponse: c.VoiceResponse,
		SurgicalMode:  c.SurgicalMode,
		DeepMemory:    c.DeepMemory,
	}
}

// ToConfig converts Settings back into its config section.
func (s Settings) ToConfig() config.SettingsConfig {
	return config.SettingsConfig{
		AlwaysListen:  s.AlwaysListen,
		VoiceResponse: s.VoiceResponse,
		SurgicalMode:  s.SurgicalMode,
		DeepMemory:    s.DeepMemory,
	}
}

// Source is the read side handed to components.
type Source interface {
	Current() Settings
}

// ChangeFunc observes a settings change.
type ChangeFunc func(old, new Settings)

// Store is the single mutable owner of Settings.
type Store struct {
	mu        sync.RWMutex
	current   Settings
	observers []ChangeFunc

	// updateMu serialises Update so observers see changes in order.
	updateMu sync.Mutex

	bus    *bus.EventBus
	logger zerolog.Logger
}

// NewStore creates a store seeded with initial.
func NewStore(initial Settings, eventBus *bus.EventBus, logger zerolog.Logger) *Store {
	return &Store{
		current: initial,
		bus:     eventBus,
		logger:  logger.With().Str("component", "settings").Logger(),
	}
}

// Current returns the live settings value.
func (s *Store) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// OnChange registers fn to run synchronously after each effective change.
func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Update applies fn to a copy of the current settings and commits it. Observers
// run before Update returns, so the next decision point already sees the new
// value. Returns false if nothing changed.
func (s *Store) Update(fn func(*Settings)) bool {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	s.mu.Lock()
	old := s.current
	next := old
	fn(&next)
	if next == old {
		s.mu.Unlock()
		return false
	}
	s.current = next
	observers := make([]ChangeFunc, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	s.logger.Info().
		Bool("alwaysListen", next.AlwaysListen).
		Bool("voiceResponse", next.VoiceResponse).
		Bool("surgicalMode", next.SurgicalMode).
		Bool("deepMemory", next.DeepMemory).
		Msg("Settings updated")

	for _, o := range observers {
		o(old, next)
	}

	s.bus.Publish(bus.Event{
		Type: bus.EventTypeSettingsChanged,
		Data: map[string]any{"settings": next},
	})
	return true
}

// Set replaces all settings at once.
func (s *Store) Set(next Settings) bool {
	return s.Update(func(cur *Settings) { *cur = next })
}

// SetAlwaysListen toggles hands-free listening.
func (s *Store) SetAlwaysListen(on bool) bool {
	return s.Update(func(cur *Settings) { cur.AlwaysListen = on })
}

// SetVoiceResponse toggles spoken replies.
func (s *Store) SetVoiceResponse(on bool) bool {
	return s.Update(func(cur *Settings) { cur.VoiceResponse = on })
}
