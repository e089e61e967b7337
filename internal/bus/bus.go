// Package bus carries in-process notifications between the Omni components:
// wake engine, conversation, speech, workspace and the console.
package bus

import (
	"sync"
)

// EventType names an event.
type EventType string

// Event types for Omni
const (
	// Wake word events
	EventTypeWakeStateChanged EventType = "wake.state_changed"
	EventTypeWakeDetected     EventType = "wake.detected"
	EventTypeCommandHeard     EventType = "wake.command"

	// Directive events
	EventTypeCommandDispatched EventType = "command.dispatched"

	// Speech events
	EventTypeSpeakingStarted EventType = "speech.started"
	EventTypeSpeakingStopped EventType = "speech.stopped"

	// Conversation events
	EventTypeMessageAppended EventType = "conversation.message"
	EventTypePendingChanged  EventType = "conversation.pending"

	// Host workspace events
	EventTypeNavigated       EventType = "host.navigated"
	EventTypePatientSelected EventType = "host.patient_selected"
	EventTypeFieldUpdated    EventType = "host.field_updated"

	// Settings and capability events
	EventTypeSettingsChanged   EventType = "settings.changed"
	EventTypeCapabilityMissing EventType = "notify.capability_missing"
)

// Event is what handlers receive. Data keys are documented next to the
// publisher.
type Event struct {
	Type EventType
	Data map[string]any
}

// Handler reacts to one event.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// EventBus is a small pub/sub hub. A nil *EventBus is valid and drops
// everything, which keeps optional wiring free of nil checks.
type EventBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[EventType][]subscription
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[EventType][]subscription)}
}

// Subscribe registers handler for eventType. The returned func removes it and
// is safe to call more than once.
func (b *EventBus) Subscribe(eventType EventType, handler Handler) (unsubscribe func()) {
	if b == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() { b.remove(eventType, id) }
}

// SubscribeMultiple registers one handler for several event types and returns
// a single func that removes all of them.
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) (unsubscribe func()) {
	cancels := make([]func(), 0, len(eventTypes))
	for _, et := range eventTypes {
		cancels = append(cancels, b.Subscribe(et, handler))
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}

func (b *EventBus) remove(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, s := range subs {
		if s.id == id {
			b.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

func (b *EventBus) handlers(t EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, len(b.subs[t]))
	for i, s := range b.subs[t] {
		out[i] = s.handler
	}
	return out
}

// Publish runs each handler on its own goroutine and returns immediately.
func (b *EventBus) Publish(event Event) {
	if b == nil {
		return
	}
	for _, h := range b.handlers(event.Type) {
		go h(event)
	}
}

// PublishSync delivers the event to each handler in subscription order on the
// caller's goroutine. State-machine transitions use this so observers see
// events in the order they happened.
func (b *EventBus) PublishSync(event Event) {
	if b == nil {
		return
	}
	for _, h := range b.handlers(event.Type) {
		h(event)
	}
}
