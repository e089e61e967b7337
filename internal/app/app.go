// Package app wires the Omni components into one running assistant: settings,
// wake engine, recognizer, conversation session, speech and the workspace the
// directives act on.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/normanking/vitalisomni/internal/bus"
	"github.com/normanking/vitalisomni/internal/capability"
	"github.com/normanking/vitalisomni/internal/config"
	"github.com/normanking/vitalisomni/internal/console"
	"github.com/normanking/vitalisomni/internal/directive"
	"github.com/normanking/vitalisomni/internal/host"
	"github.com/normanking/vitalisomni/internal/metrics"
	"github.com/normanking/vitalisomni/internal/notify"
	"github.com/normanking/vitalisomni/internal/omni"
	"github.com/normanking/vitalisomni/internal/recognizer"
	"github.com/normanking/vitalisomni/internal/registry"
	"github.com/normanking/vitalisomni/internal/settings"
	"github.com/normanking/vitalisomni/internal/speech"
	"github.com/normanking/vitalisomni/internal/wake"
)

// Options override the components App would otherwise build from Config.
type Options struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Recognizer wake.Recognizer
	Voice      speech.Voice
	Chat       omni.Chatter
	Notifier   notify.Notifier
}

// App holds the wired components.
type App struct {
	Config     *config.Config
	Bus        *bus.EventBus
	Settings   *settings.Store
	Registry   *registry.Store
	Workspace  *host.Workspace
	Session    *omni.Session
	Speech     *speech.Synthesizer
	Engine     *wake.Engine
	Recognizer wake.Recognizer

	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	turns  sync.WaitGroup
	once   sync.Once
}

// New builds the app. Nothing listens until Start.
func New(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := opts.Logger

	eventBus := bus.NewEventBus()
	metrics.Observe(eventBus)

	path := cfg.Registry.Path
	if path == "" {
		path = registry.MemoryPath
	}
	reg, err := registry.Open(path, logger)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		Config:   cfg,
		Bus:      eventBus,
		Settings: settings.NewStore(settings.FromConfig(cfg.Settings), eventBus, logger),
		Registry: reg,
		logger:   logger.With().Str("component", "app").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
	a.Workspace = host.NewWorkspace(reg, eventBus, logger)

	voice := opts.Voice
	if voice == nil {
		voice = speech.NewExecVoice(logger, cfg.Speech.Command)
	}
	a.Speech = speech.NewSynthesizer(voice, a.Settings, speech.OptionsFrom(cfg.Speech), eventBus, logger)

	chat := opts.Chat
	if chat == nil {
		chat = omni.NewClient(omni.ClientConfigFrom(cfg.Endpoint), logger)
	}
	a.Session = omni.NewSession(omni.SessionDeps{
		Chat:     chat,
		Protocol: directive.NewProtocol(eventBus, logger),
		Host:     a.Workspace,
		Speaker:  a.Speech,
		Bus:      eventBus,
	}, logger)

	a.Recognizer = opts.Recognizer
	if a.Recognizer == nil {
		a.Recognizer = recognizer.NewStream(logger, recognizer.ConfigFrom(cfg.Recognizer))
	}

	notifier := opts.Notifier
	if notifier == nil {
		desktop := notify.NewDesktop(cfg.Notify.Desktop)
		notifier = notify.Multi{notify.NewLog(logger), desktop}
		notify.WakeToasts(eventBus, desktop, logger)
	} else {
		notify.WakeToasts(eventBus, notifier, logger)
	}
	a.Speech.SetNotifier(notifier)

	a.Engine = wake.NewEngine(wake.ConfigFrom(cfg.Wake), wake.Deps{
		Recognizer: a.Recognizer,
		Probe:      capability.Detector{Recognizer: availability(a.Recognizer), Voice: voice},
		Settings:   a.Settings,
		Dispatch:   a.dispatch,
		Notifier:   notifier,
		Bus:        eventBus,
	}, logger)

	a.Settings.OnChange(func(old, next settings.Settings) {
		if old.AlwaysListen != next.AlwaysListen {
			a.Engine.Reconfigure()
		}
	})

	return a, nil
}

// availability treats recognizers that cannot report themselves as present.
func availability(r wake.Recognizer) capability.Availability {
	if av, ok := r.(capability.Availability); ok {
		return av
	}
	return always{}
}

type always struct{}

func (always) IsAvailable() bool { return true }

// Start applies the current settings to the wake engine.
func (a *App) Start() {
	a.logger.Info().
		Bool("alwaysListen", a.Settings.Current().AlwaysListen).
		Bool("voiceResponse", a.Settings.Current().VoiceResponse).
		Msg("Omni starting")
	a.Engine.Reconfigure()
}

// WatchConfig pushes settings edits made on disk into the store.
func (a *App) WatchConfig(loader *config.Loader) {
	loader.Watch(func(cfg *config.Config) {
		if a.Settings.Set(settings.FromConfig(cfg.Settings)) {
			a.logger.Info().Msg("Settings reloaded from config file")
		}
	}, func(err error) {
		a.logger.Warn().Err(err).Msg("Config reload failed")
	})
}

// Ask runs one typed turn and waits for the reply.
func (a *App) Ask(ctx context.Context, text string) (omni.Message, error) {
	return a.Session.Send(ctx, text)
}

// dispatch hands a voice command to the session without blocking the engine.
func (a *App) dispatch(command string) {
	a.turns.Add(1)
	go func() {
		defer a.turns.Done()
		if _, err := a.Session.Send(a.ctx, command); err != nil {
			a.logger.Debug().Err(err).Str("command", command).Msg("Voice command failed")
		}
	}()
}

// ConsoleDeps returns the collaborators the terminal console needs.
func (a *App) ConsoleDeps() console.Deps {
	return console.Deps{
		Conversation: a.Session,
		Voice:        a.Speech,
		Toggles:      a.Settings,
		Wake:         a.Engine,
		Workspace:    a.Workspace,
		Patients:     a.Registry,
	}
}

// Close stops listening, waits for in-flight voice turns, silences speech and
// closes the registry.
func (a *App) Close() error {
	var err error
	a.once.Do(func() {
		a.Engine.Close()
		a.cancel()
		a.turns.Wait()
		a.Speech.Close()
		err = a.Registry.Close()
		a.logger.Info().Msg("Omni stopped")
	})
	return err
}
