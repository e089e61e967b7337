// Package recognizer provides continuous speech recognition sessions for the
// wake engine.
package recognizer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/vitalisomni/internal/config"
	"github.com/normanking/vitalisomni/internal/wake"
)

// Config configures the streaming recognizer.
type Config struct {
	URL            string        `json:"url"`
	Language       string        `json:"language"`
	InterimResults bool          `json:"interim_results"`
	DialTimeout    time.Duration `json:"dial_timeout"`
}

// DefaultConfig returns defaults with no endpoint configured.
func DefaultConfig() *Config {
	return &Config{
		Language:       "en-US",
		InterimResults: true,
		DialTimeout:    10 * time.Second,
	}
}

// ConfigFrom converts the loaded recognizer section.
func ConfigFrom(c config.RecognizerConfig) *Config {
	cfg := DefaultConfig()
	cfg.URL = c.URL
	if c.Language != "" {
		cfg.Language = c.Language
	}
	cfg.InterimResults = c.InterimResults
	if c.DialTimeout > 0 {
		cfg.DialTimeout = c.DialTimeout
	}
	return cfg
}

// Message is one frame from the recognition server.
type Message struct {
	Type       string  `json:"type"` // start, result, end, error
	Transcript string  `json:"transcript,omitempty"`
	IsFinal    bool    `json:"is_final,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Message    string  `json:"message,omitempty"`
}

// Stream recognizes speech through a websocket recognition server. Each
// session is one non-continuous utterance window; the server closes it when
// the speaker pauses and the wake engine starts the next one.
type Stream struct {
	config *Config
	dialer websocket.Dialer
	logger zerolog.Logger
}

// NewStream creates a streaming recognizer.
func NewStream(logger zerolog.Logger, cfg *Config) *Stream {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Stream{
		config: cfg,
		dialer: websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		logger: logger.With().Str("provider", "stream-recognizer").Logger(),
	}
}

func (r *Stream) Name() string {
	return "stream"
}

// IsAvailable reports whether a recognition server is configured.
func (r *Stream) IsAvailable() bool {
	return r.config.URL != ""
}

func (r *Stream) sessionURL(id string) (string, error) {
	u, err := url.Parse(r.config.URL)
	if err != nil {
		return "", fmt.Errorf("parse recognizer url: %w", err)
	}
	q := u.Query()
	q.Set("session", id)
	q.Set("language", r.config.Language)
	q.Set("interim_results", strconv.FormatBool(r.config.InterimResults))
	q.Set("continuous", "false")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Start returns a session at once and dials the server on the session's own
// goroutine, so a slow handshake never holds up the caller. A failed dial is
// reported as SessionEnded with the error; Stop or cancelling ctx abandons a
// dial in progress.
func (r *Stream) Start(ctx context.Context, emit wake.Emit) (wake.Session, error) {
	if !r.IsAvailable() {
		return nil, wake.ErrRecognitionUnavailable
	}

	id := uuid.NewString()
	target, err := r.sessionURL(id)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &streamSession{
		id:     id,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: r.logger.With().Str("session", id).Logger(),
	}
	go s.watch(sctx)
	go s.run(sctx, r.dialer, target, emit)
	return s, nil
}

type streamSession struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn // nil until the dial completes
}

// Stop abandons the dial or closes the connection. The read loop exits on its
// own.
func (s *streamSession) Stop() {
	s.once.Do(func() {
		close(s.done)
		s.cancel()

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			s.logger.Debug().Err(err).Msg("Failed to send close frame")
		}
		conn.Close()
	})
}

func (s *streamSession) run(ctx context.Context, dialer websocket.Dialer, target string, emit wake.Emit) {
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if !s.stopped() {
			if resp != nil {
				s.logger.Error().
					Int("status", resp.StatusCode).
					Err(err).
					Msg("Recognizer WebSocket connection failed")
			}
			emit(wake.Event{Kind: wake.SessionEnded, Err: fmt.Errorf("websocket dial: %w", err)})
		}
		s.Stop()
		return
	}

	s.mu.Lock()
	if s.stopped() {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	s.logger.Debug().Msg("Recognition session opened")
	s.readMessages(conn, emit)
}

func (s *streamSession) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *streamSession) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		s.Stop()
	case <-s.done:
	}
}

func (s *streamSession) readMessages(conn *websocket.Conn, emit wake.Emit) {
	var endErr error
	defer func() {
		if !s.stopped() {
			emit(wake.Event{Kind: wake.SessionEnded, Err: endErr})
		}
		s.Stop()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.stopped() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Msg("Recognition session closed")
				return
			}
			endErr = fmt.Errorf("read recognizer message: %w", err)
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn().Err(err).Str("message", string(data)).Msg("Failed to parse recognizer message")
			continue
		}

		switch msg.Type {
		case "start":
			emit(wake.Event{Kind: wake.SessionStarted})

		case "result":
			kind := wake.PartialResult
			if msg.IsFinal {
				kind = wake.FinalResult
			}
			s.logger.Debug().
				Str("text", msg.Transcript).
				Bool("final", msg.IsFinal).
				Float64("confidence", msg.Confidence).
				Msg("Transcript")
			emit(wake.Event{Kind: kind, Text: msg.Transcript})

		case "end":
			return

		case "error":
			endErr = fmt.Errorf("recognizer error: %s", msg.Message)
			return
		}
	}
}
