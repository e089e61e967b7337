// Package main provides the CLI entry point for Vitalis Omni.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/normanking/vitalisomni/internal/app"
	"github.com/normanking/vitalisomni/internal/bus"
	"github.com/normanking/vitalisomni/internal/config"
	"github.com/normanking/vitalisomni/internal/console"
	"github.com/normanking/vitalisomni/internal/logging"
	"github.com/normanking/vitalisomni/internal/omni"
	"github.com/normanking/vitalisomni/internal/recognizer"
	"github.com/normanking/vitalisomni/internal/registry"
	"github.com/normanking/vitalisomni/internal/responder"
)

var (
	// Version information (set at build time)
	version = "dev"

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#0d7377"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))
)

// Global flags
var (
	configPath string
	logLevel   string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "omni",
		Short: "Vitalis Omni - voice command layer for the Vitalis workspace",
		Long: titleStyle.Render("Vitalis Omni") + `

Hands-free control of the Vitalis clinical workspace:
• Wake-phrase listening ("hey vitalis, open labs")
• Assistant replies that navigate, select patients and fill notes
• Spoken replies with a voice-response toggle

` + dimStyle.Render("Use 'omni [command] --help' for more information."),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.vitalis/omni.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")

	rootCmd.AddCommand(runCmd(), serveCmd(), askCmd(), configCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *config.Loader, error) {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, loader, nil
}

func newLogger(cfg *config.Config, toStderr bool) (*logging.Logger, error) {
	return logging.New(&logging.Config{
		Dir:     cfg.Logging.Dir,
		Level:   logging.ParseLevel(cfg.Logging.Level),
		Console: toStderr && (cfg.Logging.Console || verbose),
	})
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runCmd() *cobra.Command {
	var listen, stdin bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the assistant with the terminal console",
		Long: `Start the wake engine, conversation session and speech output.

By default a terminal console shows the transcript and accepts typed commands.
With --stdin, each line read from standard input is treated as a recognized
utterance instead, which is handy for scripted sessions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, loader, err := loadConfig()
			if err != nil {
				return err
			}
			if listen {
				cfg.Settings.AlwaysListen = true
			}

			logger, err := newLogger(cfg, stdin)
			if err != nil {
				return err
			}
			defer logger.Close()

			opts := app.Options{Config: cfg, Logger: logger.Zerolog()}
			var feed *recognizer.Feed
			if stdin {
				feed = recognizer.NewFeed(logger.Zerolog())
				opts.Recognizer = feed
			}

			a, err := app.New(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			a.WatchConfig(loader)
			a.Start()

			ctx, stop := signalContext()
			defer stop()

			if feed == nil {
				deps := a.ConsoleDeps()
				deps.Logs = logger
				return console.Run(ctx, deps, a.Bus)
			}

			printReplies(a.Bus)
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return feed.Pipe(ctx, os.Stdin)
			})
			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&listen, "listen", false, "turn always-listen on for this run")
	cmd.Flags().BoolVar(&stdin, "stdin", false, "read utterances from standard input instead of showing the console")
	return cmd
}

// printReplies echoes transcript messages for the stdin mode.
func printReplies(b *bus.EventBus) {
	b.Subscribe(bus.EventTypeMessageAppended, func(e bus.Event) {
		msg, ok := e.Data["message"].(omni.Message)
		if !ok {
			return
		}
		if msg.Role == omni.RoleUser {
			fmt.Println(dimStyle.Render("> " + msg.Text))
			return
		}
		fmt.Println(msg.Text)
	})
}

func serveCmd() *cobra.Command {
	var addr string
	var seed bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local assistant endpoint",
		Long: `Serve POST /omni/chat/ from a keyword router over the patient registry,
plus /health and /metrics. Point the endpoint url at this address to use Omni
without a remote model.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			logger, err := newLogger(cfg, true)
			if err != nil {
				return err
			}
			defer logger.Close()
			zl := logger.Zerolog()

			store, err := registry.Open(cfg.Registry.Path, zl)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, stop := signalContext()
			defer stop()

			if seed {
				if err := seedRegistry(ctx, store, zl); err != nil {
					return err
				}
			}

			fmt.Println(successStyle.Render("✓ Omni responder listening on " + cfg.Server.Addr))

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return responder.NewServer(cfg.Server.Addr, store, zl).Run(ctx)
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&seed, "seed", false, "add demo patients when the registry is empty")
	return cmd
}

var demoPatients = []registry.Patient{
	{Name: "Victor Dam", Age: 54, History: "Hypertension"},
	{Name: "Alice Moreau", Age: 37, History: "Asthma"},
	{Name: "Samuel Okafor", Age: 68, History: "Type 2 diabetes"},
}

func seedRegistry(ctx context.Context, store *registry.Store, logger zerolog.Logger) error {
	existing, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, p := range demoPatients {
		if _, err := store.Add(ctx, p.Name, p.Age, p.History); err != nil {
			return err
		}
	}
	logger.Info().Int("count", len(demoPatients)).Msg("Registry seeded")
	return nil
}

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask [text...]",
		Short: "Send one command and print the reply",
		Long:  "Send one typed command to the assistant, run its directives and print the cleaned reply.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Settings.AlwaysListen = false
			cfg.Settings.VoiceResponse = false

			logger, err := newLogger(cfg, true)
			if err != nil {
				return err
			}
			defer logger.Close()

			a, err := app.New(app.Options{Config: cfg, Logger: logger.Zerolog()})
			if err != nil {
				return err
			}
			defer a.Close()

			var directives []string
			a.Bus.Subscribe(bus.EventTypeCommandDispatched, func(e bus.Event) {
				if c, ok := e.Data["command"].(fmt.Stringer); ok {
					directives = append(directives, c.String())
				}
			})

			ctx, stop := signalContext()
			defer stop()

			reply, err := a.Ask(ctx, strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("%s: %w", reply.Text, err)
			}

			fmt.Println(reply.Text)
			for _, d := range directives {
				fmt.Println(dimStyle.Render("  → " + d))
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			fmt.Print(string(out))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(config.NewLoader(configPath).Path())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(configPath)
			if _, err := os.Stat(loader.Path()); err == nil {
				return fmt.Errorf("config already exists: %s", loader.Path())
			}
			if err := loader.Save(config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Println(successStyle.Render("✓ Wrote " + loader.Path()))
			return nil
		},
	})

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("omni " + version)
		},
	}
}
