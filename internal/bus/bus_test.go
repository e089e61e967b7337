package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSync_DeliversInOrder(t *testing.T) {
	b := NewEventBus()

	var got []string
	b.Subscribe(EventTypeWakeStateChanged, func(e Event) {
		got = append(got, "first:"+e.Data["state"].(string))
	})
	b.Subscribe(EventTypeWakeStateChanged, func(e Event) {
		got = append(got, "second:"+e.Data["state"].(string))
	})

	b.PublishSync(Event{Type: EventTypeWakeStateChanged, Data: map[string]any{"state": "listening"}})
	b.PublishSync(Event{Type: EventTypeWakeStateChanged, Data: map[string]any{"state": "active"}})

	assert.Equal(t, []string{"first:listening", "second:listening", "first:active", "second:active"}, got)
}

func TestPublish_Async(t *testing.T) {
	b := NewEventBus()

	var wg sync.WaitGroup
	wg.Add(1)
	b.Subscribe(EventTypeSpeakingStarted, func(e Event) { wg.Done() })
	b.Publish(Event{Type: EventTypeSpeakingStarted})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler not invoked")
	}
}

func TestSubscribeMultipleAndUnsubscribe(t *testing.T) {
	b := NewEventBus()

	count := 0
	stop := b.SubscribeMultiple([]EventType{EventTypeNavigated, EventTypeFieldUpdated}, func(Event) { count++ })
	b.PublishSync(Event{Type: EventTypeNavigated})
	b.PublishSync(Event{Type: EventTypeFieldUpdated})
	b.PublishSync(Event{Type: EventTypePatientSelected})
	require.Equal(t, 2, count)

	stop()
	stop()
	b.PublishSync(Event{Type: EventTypeNavigated})
	assert.Equal(t, 2, count)
}

func TestUnsubscribeKeepsOthers(t *testing.T) {
	b := NewEventBus()

	var got []string
	b.Subscribe(EventTypeNavigated, func(Event) { got = append(got, "a") })
	drop := b.Subscribe(EventTypeNavigated, func(Event) { got = append(got, "b") })
	b.Subscribe(EventTypeNavigated, func(Event) { got = append(got, "c") })

	drop()
	b.PublishSync(Event{Type: EventTypeNavigated})
	assert.Equal(t, []string{"a", "c"}, got)
}

func TestNilBusIsInert(t *testing.T) {
	var b *EventBus
	assert.NotPanics(t, func() {
		b.Subscribe(EventTypeNavigated, func(Event) {})
		b.Publish(Event{Type: EventTypeNavigated})
		b.PublishSync(Event{Type: EventTypeNavigated})
		b.Subscribe(EventTypeNavigated, func(Event) {})()
	})
}
