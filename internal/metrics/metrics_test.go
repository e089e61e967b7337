package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/vitalisomni/internal/bus"
	"github.com/normanking/vitalisomni/internal/omni"
	"github.com/normanking/vitalisomni/internal/wake"
)

func TestObserve_Counters(t *testing.T) {
	b := bus.NewEventBus()
	Observe(b)

	wakeBefore := testutil.ToFloat64(WakeDetections)
	cmdBefore := testutil.ToFloat64(VoiceCommands)
	navBefore := testutil.ToFloat64(Directives.WithLabelValues("NAVIGATE"))
	userBefore := testutil.ToFloat64(Messages.WithLabelValues("user"))
	failBefore := testutil.ToFloat64(TurnFailures)
	missingBefore := testutil.ToFloat64(CapabilityMissing.WithLabelValues("speech_synthesis"))

	b.PublishSync(bus.Event{Type: bus.EventTypeWakeDetected})
	b.PublishSync(bus.Event{Type: bus.EventTypeCommandHeard, Data: map[string]any{"command": "open labs"}})
	b.PublishSync(bus.Event{Type: bus.EventTypeCommandDispatched, Data: map[string]any{"kind": "NAVIGATE"}})
	b.PublishSync(bus.Event{Type: bus.EventTypeCapabilityMissing, Data: map[string]any{"capability": "speech_synthesis"}})
	b.PublishSync(bus.Event{Type: bus.EventTypeMessageAppended, Data: map[string]any{
		"message": omni.Message{Role: omni.RoleUser, Text: "open labs"},
	}})
	b.PublishSync(bus.Event{Type: bus.EventTypeMessageAppended, Data: map[string]any{
		"message": omni.Message{Role: omni.RoleAssistant, Text: omni.FailureText},
	}})

	assert.Equal(t, wakeBefore+1, testutil.ToFloat64(WakeDetections))
	assert.Equal(t, cmdBefore+1, testutil.ToFloat64(VoiceCommands))
	assert.Equal(t, navBefore+1, testutil.ToFloat64(Directives.WithLabelValues("NAVIGATE")))
	assert.Equal(t, userBefore+1, testutil.ToFloat64(Messages.WithLabelValues("user")))
	assert.Equal(t, failBefore+1, testutil.ToFloat64(TurnFailures))
	assert.Equal(t, missingBefore+1, testutil.ToFloat64(CapabilityMissing.WithLabelValues("speech_synthesis")))
}

func TestObserve_WakeState(t *testing.T) {
	b := bus.NewEventBus()
	Observe(b)

	b.PublishSync(bus.Event{Type: bus.EventTypeWakeStateChanged, Data: map[string]any{
		"from": wake.StateInactive, "to": wake.StateListening,
	}})
	assert.Equal(t, 0.0, testutil.ToFloat64(WakeState.WithLabelValues(string(wake.StateInactive))))
	assert.Equal(t, 1.0, testutil.ToFloat64(WakeState.WithLabelValues(string(wake.StateListening))))
}

func TestObserve_Utterances(t *testing.T) {
	b := bus.NewEventBus()
	Observe(b)

	before := testutil.ToFloat64(Utterances.WithLabelValues("true"))
	b.Publish(bus.Event{Type: bus.EventTypeSpeakingStopped, Data: map[string]any{"cancelled": true}})

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(Utterances.WithLabelValues("true")) == before+1
	}, time.Second, 5*time.Millisecond)
}

func TestObserve_NilBus(t *testing.T) {
	assert.NotPanics(t, func() { Observe(nil) })
}

func TestInstrument(t *testing.T) {
	h := Instrument("/test/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(RequestCount.WithLabelValues(http.MethodGet, "/test/", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test/", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(RequestCount.WithLabelValues(http.MethodGet, "/test/", "418")))
}

func TestHandler(t *testing.T) {
	VoiceCommands.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "vitalis_omni_voice_commands_total"))
}
