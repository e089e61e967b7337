// Package metrics exposes Prometheus collectors for the voice pipeline and the
// local responder.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/normanking/vitalisomni/internal/bus"
	"github.com/normanking/vitalisomni/internal/omni"
	"github.com/normanking/vitalisomni/internal/wake"
)

var (
	WakeDetections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalis_omni_wake_detections_total",
			Help: "Total number of wake phrases heard",
		},
	)

	VoiceCommands = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalis_omni_voice_commands_total",
			Help: "Total number of voice commands dispatched to the conversation",
		},
	)

	WakeState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vitalis_omni_wake_state",
			Help: "1 for the current wake engine state, 0 otherwise",
		},
		[]string{"state"},
	)

	Directives = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalis_omni_directives_total",
			Help: "Total number of directives executed against the host",
		},
		[]string{"kind"},
	)

	Messages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalis_omni_messages_total",
			Help: "Total number of transcript messages",
		},
		[]string{"role"},
	)

	TurnFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalis_omni_turn_failures_total",
			Help: "Total number of turns that ended with the failure message",
		},
	)

	Utterances = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalis_omni_utterances_total",
			Help: "Total number of finished utterances",
		},
		[]string{"cancelled"},
	)

	CapabilityMissing = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalis_omni_capability_missing_total",
			Help: "Total number of missing speech capability notices",
		},
		[]string{"capability"},
	)

	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalis_omni_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "vitalis_omni_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "endpoint"},
	)
)

// Observe feeds the collectors from bus events.
func Observe(b *bus.EventBus) {
	if b == nil {
		return
	}

	b.Subscribe(bus.EventTypeWakeDetected, func(bus.Event) { WakeDetections.Inc() })
	b.Subscribe(bus.EventTypeCommandHeard, func(bus.Event) { VoiceCommands.Inc() })
	b.Subscribe(bus.EventTypeCapabilityMissing, func(e bus.Event) {
		name, _ := e.Data["capability"].(string)
		CapabilityMissing.WithLabelValues(name).Inc()
	})

	b.Subscribe(bus.EventTypeWakeStateChanged, func(e bus.Event) {
		if from, ok := e.Data["from"].(wake.State); ok {
			WakeState.WithLabelValues(string(from)).Set(0)
		}
		if to, ok := e.Data["to"].(wake.State); ok {
			WakeState.WithLabelValues(string(to)).Set(1)
		}
	})

	b.Subscribe(bus.EventTypeCommandDispatched, func(e bus.Event) {
		if kind, ok := e.Data["kind"].(string); ok {
			Directives.WithLabelValues(kind).Inc()
		}
	})

	b.Subscribe(bus.EventTypeMessageAppended, func(e bus.Event) {
		msg, ok := e.Data["message"].(omni.Message)
		if !ok {
			return
		}
		Messages.WithLabelValues(string(msg.Role)).Inc()
		if msg.Role == omni.RoleAssistant && msg.Text == omni.FailureText {
			TurnFailures.Inc()
		}
	})

	b.Subscribe(bus.EventTypeSpeakingStopped, func(e bus.Event) {
		cancelled, _ := e.Data["cancelled"].(bool)
		Utterances.WithLabelValues(strconv.FormatBool(cancelled)).Inc()
	})
}

// Handler serves the default registry in the text exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument records request count and duration for next under endpoint.
func Instrument(endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		RequestCount.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}
