package speech

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
)

// baseWordsPerMinute is the pace "say" and espeak use at rate 1.0.
const baseWordsPerMinute = 175

// ExecVoice speaks through a system speech command: say on macOS, spd-say or
// espeak elsewhere.
type ExecVoice struct {
	logger  zerolog.Logger
	command string
}

// NewExecVoice creates a voice. An empty command picks the first one found on
// PATH for this platform.
func NewExecVoice(logger zerolog.Logger, command string) *ExecVoice {
	return &ExecVoice{
		logger:  logger.With().Str("provider", "exec-voice").Logger(),
		command: command,
	}
}

func candidates() []string {
	if runtime.GOOS == "darwin" {
		return []string{"say"}
	}
	return []string{"spd-say", "espeak-ng", "espeak"}
}

func (v *ExecVoice) resolve() (string, bool) {
	names := candidates()
	if v.command != "" {
		names = []string{v.command}
	}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path, true
		}
	}
	return "", false
}

func (v *ExecVoice) Name() string {
	if path, ok := v.resolve(); ok {
		return filepath.Base(path)
	}
	return "exec"
}

// IsAvailable checks the command exists on PATH.
func (v *ExecVoice) IsAvailable() bool {
	_, ok := v.resolve()
	return ok
}

func buildArgs(command, text string, opts Options) []string {
	wpm := strconv.Itoa(int(baseWordsPerMinute * opts.Rate))

	var args []string
	switch filepath.Base(command) {
	case "say":
		if opts.Voice != "" {
			args = append(args, "-v", opts.Voice)
		}
		args = append(args, "-r", wpm)
	case "espeak", "espeak-ng":
		if opts.Voice != "" {
			args = append(args, "-v", opts.Voice)
		}
		args = append(args, "-s", wpm)
	case "spd-say":
		args = append(args, "-w", "-r", strconv.Itoa(int((opts.Rate-1)*100)))
		if opts.Voice != "" {
			args = append(args, "-y", opts.Voice)
		}
	}
	return append(args, text)
}

// Say starts the speech command and returns while it is still speaking.
func (v *ExecVoice) Say(ctx context.Context, text string, opts Options) (Utterance, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	path, ok := v.resolve()
	if !ok {
		return nil, ErrVoiceUnavailable
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, path, buildArgs(path, text, opts)...)
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", filepath.Base(path), err)
	}

	v.logger.Debug().
		Str("command", filepath.Base(path)).
		Int("textLen", len(text)).
		Msg("Speaking with system voice")

	u := &process{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(u.done)
		defer cancel()
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			v.logger.Warn().Err(err).Msg("Speech command failed")
		}
	}()
	return u, nil
}

type process struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (p *process) Done() <-chan struct{} { return p.done }

// Cancel kills the speech command.
func (p *process) Cancel() {
	p.once.Do(p.cancel)
}
