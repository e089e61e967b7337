// Package notify shows system notifications for capability notices and the
// wake toast.
package notify

import (
	"sync"

	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"

	"github.com/normanking/vitalisomni/internal/bus"
)

const appName = "Vitalis Omni"

// maxMessage bounds toast bodies.
const maxMessage = 100

// Notifier shows a titled message to the user.
type Notifier interface {
	Notify(title, message string) error
}

// send is swapped in tests.
var send = beeep.Notify

// Desktop sends notifications through the OS notification service.
type Desktop struct {
	mu      sync.RWMutex
	enabled bool
}

// NewDesktop creates a desktop notifier.
func NewDesktop(enabled bool) *Desktop {
	return &Desktop{enabled: enabled}
}

// SetEnabled turns notifications on or off.
func (d *Desktop) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
}

// Notify shows message. It does nothing while disabled.
func (d *Desktop) Notify(title, message string) error {
	d.mu.RLock()
	enabled := d.enabled
	d.mu.RUnlock()
	if !enabled {
		return nil
	}

	if title != "" && title != appName {
		title = appName + ": " + title
	} else {
		title = appName
	}
	return send(title, truncate(message), "")
}

// Log writes notifications to a logger instead of the desktop.
type Log struct {
	logger zerolog.Logger
}

// NewLog creates a logging notifier.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("component", "notify").Logger()}
}

// Notify logs the notification at warn level.
func (l *Log) Notify(title, message string) error {
	l.logger.Warn().Str("title", title).Msg(message)
	return nil
}

// Multi fans a notification out to several notifiers and returns the first
// error.
type Multi []Notifier

// Notify calls every notifier.
func (m Multi) Notify(title, message string) error {
	var first error
	for _, n := range m {
		if err := n.Notify(title, message); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// WakeToasts shows a toast whenever a wake phrase is heard. The toast is sent
// off the publisher's goroutine since detection is published under the wake
// engine's lock.
func WakeToasts(b *bus.EventBus, n Notifier, logger zerolog.Logger) {
	if b == nil || n == nil {
		return
	}
	b.Subscribe(bus.EventTypeWakeDetected, func(e bus.Event) {
		phrase, _ := e.Data["phrase"].(string)
		go func() {
			if err := n.Notify("Listening", "Heard \""+phrase+"\". Go ahead."); err != nil {
				logger.Debug().Err(err).Msg("Wake toast failed")
			}
		}()
	})
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxMessage {
		return s
	}
	return string(r[:maxMessage]) + "..."
}
