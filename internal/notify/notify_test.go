package notify

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/vitalisomni/internal/bus"
)

type sent struct {
	title, message, icon string
}

func captureSend(t *testing.T, err error) *[]sent {
	t.Helper()
	var got []sent
	prev := send
	send = func(title, message, icon string) error {
		got = append(got, sent{title, message, icon})
		return err
	}
	t.Cleanup(func() { send = prev })
	return &got
}

func TestDesktop_Notify(t *testing.T) {
	got := captureSend(t, nil)

	d := NewDesktop(true)
	require.NoError(t, d.Notify("Microphone", "Speech recognition is not available."))
	require.NoError(t, d.Notify(appName, "hello"))

	assert.Equal(t, []sent{
		{"Vitalis Omni: Microphone", "Speech recognition is not available.", ""},
		{"Vitalis Omni", "hello", ""},
	}, *got)
}

func TestDesktop_Disabled(t *testing.T) {
	got := captureSend(t, nil)

	d := NewDesktop(false)
	require.NoError(t, d.Notify("x", "y"))
	assert.Empty(t, *got)

	d.SetEnabled(true)
	require.NoError(t, d.Notify("x", "y"))
	assert.Len(t, *got, 1)
}

func TestDesktop_Truncates(t *testing.T) {
	got := captureSend(t, nil)

	NewDesktop(true).Notify("", strings.Repeat("é", 150))
	require.Len(t, *got, 1)
	assert.Equal(t, strings.Repeat("é", maxMessage)+"...", (*got)[0].message)
}

func TestDesktop_Error(t *testing.T) {
	captureSend(t, errors.New("no dbus"))
	assert.Error(t, NewDesktop(true).Notify("x", "y"))
}

func TestLog_Notify(t *testing.T) {
	var buf bytes.Buffer
	n := NewLog(zerolog.New(&buf))

	require.NoError(t, n.Notify("Vitalis Omni", "Speech recognition is not available."))
	assert.Contains(t, buf.String(), `"title":"Vitalis Omni"`)
	assert.Contains(t, buf.String(), `"component":"notify"`)
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingNotifier) Notify(title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, title+"|"+message)
	return r.err
}

func (r *recordingNotifier) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestMulti(t *testing.T) {
	a := &recordingNotifier{err: errors.New("first")}
	b := &recordingNotifier{err: errors.New("second")}

	err := Multi{a, b}.Notify("t", "m")
	assert.EqualError(t, err, "first")
	assert.Equal(t, []string{"t|m"}, a.calls)
	assert.Equal(t, []string{"t|m"}, b.calls)
}

func TestWakeToasts(t *testing.T) {
	b := bus.NewEventBus()
	n := &recordingNotifier{}
	WakeToasts(b, n, zerolog.Nop())

	b.PublishSync(bus.Event{Type: bus.EventTypeWakeDetected, Data: map[string]any{"phrase": "hey vitalis"}})
	require.Eventually(t, func() bool { return len(n.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{`Listening|Heard "hey vitalis". Go ahead.`}, n.snapshot())

	assert.NotPanics(t, func() { WakeToasts(nil, n, zerolog.Nop()) })
}
