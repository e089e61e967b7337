// Package config provides configuration management for Vitalis Omni
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Endpoint   EndpointConfig   `mapstructure:"endpoint" yaml:"endpoint"`
	Settings   SettingsConfig   `mapstructure:"settings" yaml:"settings"`
	Wake       WakeConfig       `mapstructure:"wake" yaml:"wake"`
	Recognizer RecognizerConfig `mapstructure:"recognizer" yaml:"recognizer"`
	Speech     SpeechConfig     `mapstructure:"speech" yaml:"speech"`
	Registry   RegistryConfig   `mapstructure:"registry" yaml:"registry"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Notify     NotifyConfig     `mapstructure:"notify" yaml:"notify"`
}

// EndpointConfig configures the remote assistant endpoint
type EndpointConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SettingsConfig holds the user-facing toggles seeded into the settings store
type SettingsConfig struct {
	AlwaysListen  bool `mapstructure:"always_listen" yaml:"always_listen"`
	VoiceResponse bool `mapstructure:"voice_response" yaml:"voice_response"`
	SurgicalMode  bool `mapstructure:"surgical_mode" yaml:"surgical_mode"`
	DeepMemory    bool `mapstructure:"deep_memory" yaml:"deep_memory"`
}

// WakeConfig configures wake phrase detection
type WakeConfig struct {
	Phrases          []string      `mapstructure:"phrases" yaml:"phrases"`
	RestartDelay     time.Duration `mapstructure:"restart_delay" yaml:"restart_delay"`
	MinCommandLength int           `mapstructure:"min_command_length" yaml:"min_command_length"`
}

// RecognizerConfig configures the streaming recognition backend
type RecognizerConfig struct {
	URL            string        `mapstructure:"url" yaml:"url"`
	Language       string        `mapstructure:"language" yaml:"language"`
	InterimResults bool          `mapstructure:"interim_results" yaml:"interim_results"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

// SpeechConfig configures spoken output
type SpeechConfig struct {
	Command string  `mapstructure:"command" yaml:"command"` // say, espeak, spd-say; empty autodetects
	Voice   string  `mapstructure:"voice" yaml:"voice"`
	Rate    float64 `mapstructure:"rate" yaml:"rate"`
}

// RegistryConfig points at the patient directory database
type RegistryConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ServerConfig configures the local responder
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LoggingConfig configures the logger
type LoggingConfig struct {
	Dir     string `mapstructure:"dir" yaml:"dir"`
	Level   string `mapstructure:"level" yaml:"level"`
	Console bool   `mapstructure:"console" yaml:"console"`
}

// NotifyConfig toggles desktop notifications
type NotifyConfig struct {
	Desktop bool `mapstructure:"desktop" yaml:"desktop"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	dir := defaultDir()
	return &Config{
		Endpoint: EndpointConfig{
			URL:     "http://127.0.0.1:8000",
			Timeout: 60 * time.Second,
		},
		Settings: SettingsConfig{
			AlwaysListen:  false,
			VoiceResponse: true,
			SurgicalMode:  true,
			DeepMemory:    true,
		},
		Wake: WakeConfig{
			Phrases:          []string{"hey vitalis", "hey omni", "vitalis"},
			RestartDelay:     200 * time.Millisecond,
			MinCommandLength: 3,
		},
		Recognizer: RecognizerConfig{
			URL:            "",
			Language:       "en-US",
			InterimResults: true,
			DialTimeout:    5 * time.Second,
		},
		Speech: SpeechConfig{
			Command: "",
			Rate:    1.1,
		},
		Registry: RegistryConfig{
			Path: filepath.Join(dir, "vitalis.db"),
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8000",
		},
		Logging: LoggingConfig{
			Dir:     filepath.Join(dir, "logs"),
			Level:   "info",
			Console: false,
		},
		Notify: NotifyConfig{
			Desktop: true,
		},
	}
}

func defaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vitalis"
	}
	return filepath.Join(home, ".vitalis")
}

// Loader reads and watches a config file through its own viper instance.
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader creates a loader for path. An empty path resolves to
// ~/.vitalis/omni.yaml.
func NewLoader(path string) *Loader {
	if path == "" {
		path = DefaultPath()
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("OMNI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	return &Loader{v: v, path: path}
}

// DefaultPath returns the default config file path
func DefaultPath() string {
	return filepath.Join(defaultDir(), "omni.yaml")
}

// Path returns the config file path this loader reads
func (l *Loader) Path() string {
	return l.path
}

// Load reads configuration from file and environment. A missing file is not
// an error; defaults and environment overrides apply.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return DefaultConfig(), fmt.Errorf("read config %s: %w", l.path, err)
		}
	}

	cfg := DefaultConfig()
	if err := l.v.Unmarshal(cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to the loader's path
func (l *Loader) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	// A scratch instance keeps Set overrides out of the watched one.
	out := viper.New()
	out.SetConfigType("yaml")
	setValues(out, cfg)
	if err := out.WriteConfigAs(l.path); err != nil {
		return fmt.Errorf("write config %s: %w", l.path, err)
	}
	return nil
}

// Watch re-reads the file whenever it changes on disk and hands the decoded
// config to fn. Decode failures are reported through onErr and skipped.
func (l *Loader) Watch(fn func(*Config), onErr func(error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg := DefaultConfig()
		if err := l.v.Unmarshal(cfg); err != nil {
			if onErr != nil {
				onErr(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		fn(cfg)
	})
	l.v.WatchConfig()
}

func setDefaults(v *viper.Viper, cfg *Config) {
	for key, val := range flatten(cfg) {
		v.SetDefault(key, val)
	}
}

func setValues(v *viper.Viper, cfg *Config) {
	for key, val := range flatten(cfg) {
		v.Set(key, val)
	}
}

func flatten(cfg *Config) map[string]any {
	return map[string]any{
		"endpoint.url":               cfg.Endpoint.URL,
		"endpoint.timeout":           cfg.Endpoint.Timeout,
		"settings.always_listen":     cfg.Settings.AlwaysListen,
		"settings.voice_response":    cfg.Settings.VoiceResponse,
		"settings.surgical_mode":     cfg.Settings.SurgicalMode,
		"settings.deep_memory":       cfg.Settings.DeepMemory,
		"wake.phrases":               cfg.Wake.Phrases,
		"wake.restart_delay":         cfg.Wake.RestartDelay,
		"wake.min_command_length":    cfg.Wake.MinCommandLength,
		"recognizer.url":             cfg.Recognizer.URL,
		"recognizer.language":        cfg.Recognizer.Language,
		"recognizer.interim_results": cfg.Recognizer.InterimResults,
		"recognizer.dial_timeout":    cfg.Recognizer.DialTimeout,
		"speech.command":             cfg.Speech.Command,
		"speech.voice":               cfg.Speech.Voice,
		"speech.rate":                cfg.Speech.Rate,
		"registry.path":              cfg.Registry.Path,
		"server.addr":                cfg.Server.Addr,
		"logging.dir":                cfg.Logging.Dir,
		"logging.level":              cfg.Logging.Level,
		"logging.console":            cfg.Logging.Console,
		"notify.desktop":             cfg.Notify.Desktop,
	}
}
