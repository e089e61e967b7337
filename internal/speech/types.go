// Package speech speaks assistant replies aloud through a single output slot.
package speech

import (
	"context"
	"errors"
	"strings"

	"github.com/normanking/vitalisomni/internal/config"
	"github.com/normanking/vitalisomni/internal/directive"
)

// Common errors
var (
	ErrVoiceUnavailable = errors.New("speech synthesis unavailable")
	ErrEmptyText        = errors.New("nothing to speak")
)

// Options shape one utterance.
type Options struct {
	Voice string  `json:"voice"`
	Rate  float64 `json:"rate"` // 1.0 is the voice's normal pace
}

// DefaultOptions speaks slightly faster than normal.
func DefaultOptions() Options {
	return Options{Rate: 1.1}
}

// OptionsFrom converts the loaded speech section.
func OptionsFrom(c config.SpeechConfig) Options {
	opts := DefaultOptions()
	opts.Voice = c.Voice
	if c.Rate > 0 {
		opts.Rate = c.Rate
	}
	return opts
}

// Utterance is speech in progress. Done is closed when it finishes or after
// Cancel; Cancel is idempotent.
type Utterance interface {
	Done() <-chan struct{}
	Cancel()
}

// Voice produces audible speech. Say returns once speaking has started.
type Voice interface {
	Name() string
	IsAvailable() bool
	Say(ctx context.Context, text string, opts Options) (Utterance, error)
}

// Clean prepares reply text for speaking: directive tags and their leftover
// delimiters go, as does markdown bold.
func Clean(text string) string {
	text = directive.Strip(text, directive.Scan(text))
	text = strings.NewReplacer("<<", " ", ">>", " ", "**", "").Replace(text)
	return strings.Join(strings.Fields(text), " ")
}
