package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/soundkeeplab/michold/internal/capture"
)

// DelayPolicy is the screen-on activation delay in milliseconds, or one of
// the two sentinel modes below.
type DelayPolicy int64

const (
	// DelayNever permanently suppresses screen-on activation.
	DelayNever DelayPolicy = -1
	// DelayAlwaysOn means the capture is never released for screen-off, so
	// delayed activation never engages.
	DelayAlwaysOn DelayPolicy = -2

	// MaxScreenOnDelayMs bounds the configurable delay range.
	MaxScreenOnDelayMs = 5000
)

// Duration converts a plain-millisecond policy to a duration. Sentinel
// policies convert to zero; callers must branch on them first.
func (p DelayPolicy) Duration() time.Duration {
	if p < 0 {
		return 0
	}
	return time.Duration(p) * time.Millisecond
}

type Config struct {
	Capture     CaptureConfig     `mapstructure:"capture" yaml:"capture"`
	Arbitration ArbitrationConfig `mapstructure:"arbitration" yaml:"arbitration"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	StateFile   string            `mapstructure:"state_file" yaml:"state_file"`

	// Parsed during validation so callers never re-parse.
	screenOnDelay DelayPolicy
}

type CaptureConfig struct {
	PreferredMechanism string   `mapstructure:"preferred_mechanism" yaml:"preferred_mechanism"` // "lowlevel", "recorder"
	Device             string   `mapstructure:"device" yaml:"device"`                           // target capture node, empty for default
	SampleRate         int      `mapstructure:"sample_rate" yaml:"sample_rate"`
	ChannelMode        string   `mapstructure:"channel_mode" yaml:"channel_mode"` // "mono", "stereo"
	Encoding           string   `mapstructure:"encoding" yaml:"encoding"`
	KnownBadAddresses  []string `mapstructure:"known_bad_addresses" yaml:"known_bad_addresses"`
}

type ArbitrationConfig struct {
	// ScreenOnDelay is "0".."5000" (milliseconds), "never", or "always-on".
	ScreenOnDelay string `mapstructure:"screen_on_delay" yaml:"screen_on_delay"`
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/michold.yaml")
}

func defaultConfig() *Config {
	return &Config{
		Capture: CaptureConfig{
			PreferredMechanism: string(capture.MechanismLowLevel),
			SampleRate:         48000,
			ChannelMode:        "mono",
			Encoding:           "s16le",
		},
		Arbitration: ArbitrationConfig{
			ScreenOnDelay: "0",
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8383",
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		StateFile: filepath.Join(os.Getenv("HOME"), ".local", "state", "michold", "state.yaml"),
	}
}

// Load reads and validates the configuration. A missing file at the default
// location is not an error: built-in defaults apply. An explicitly requested
// file must exist.
func Load(configFile string) (*Config, error) {
	explicit := configFile != ""
	if configFile == "" {
		configFile = DefaultPath()
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetEnvPrefix("MICHOLD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if explicit {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		slog.Debug("config file not readable, using defaults", "path", configFile, "error", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := defaultConfig()
	v.SetDefault("capture.preferred_mechanism", def.Capture.PreferredMechanism)
	v.SetDefault("capture.sample_rate", def.Capture.SampleRate)
	v.SetDefault("capture.channel_mode", def.Capture.ChannelMode)
	v.SetDefault("capture.encoding", def.Capture.Encoding)
	v.SetDefault("arbitration.screen_on_delay", def.Arbitration.ScreenOnDelay)
	v.SetDefault("server.enabled", def.Server.Enabled)
	v.SetDefault("server.addr", def.Server.Addr)
	v.SetDefault("log.max_size_mb", def.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", def.Log.MaxBackups)
	v.SetDefault("log.max_age_days", def.Log.MaxAgeDays)
	v.SetDefault("state_file", def.StateFile)
}

func (c *Config) validate() error {
	switch c.Capture.PreferredMechanism {
	case string(capture.MechanismLowLevel), string(capture.MechanismRecorder):
	default:
		return fmt.Errorf("capture.preferred_mechanism must be 'lowlevel' or 'recorder', got: %s", c.Capture.PreferredMechanism)
	}

	switch c.Capture.ChannelMode {
	case "mono", "stereo":
	default:
		return fmt.Errorf("capture.channel_mode must be 'mono' or 'stereo', got: %s", c.Capture.ChannelMode)
	}

	if c.Capture.SampleRate <= 0 {
		return fmt.Errorf("capture.sample_rate must be > 0, got: %d", c.Capture.SampleRate)
	}

	delay, err := ParseDelayPolicy(c.Arbitration.ScreenOnDelay)
	if err != nil {
		return fmt.Errorf("arbitration.screen_on_delay: %w", err)
	}
	c.screenOnDelay = delay

	return nil
}

// ParseDelayPolicy parses a screen-on delay policy value. Plain values are
// milliseconds and must fall inside [0, 5000]; "never" and "always-on" are
// the sentinel modes.
func ParseDelayPolicy(s string) (DelayPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "never":
		return DelayNever, nil
	case "always-on", "always_on":
		return DelayAlwaysOn, nil
	}

	ms, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimSpace(s), "ms"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("must be milliseconds in [0, %d], 'never' or 'always-on', got: %s", MaxScreenOnDelayMs, s)
	}
	if ms < 0 || ms > MaxScreenOnDelayMs {
		return 0, fmt.Errorf("milliseconds must be in [0, %d], got: %d", MaxScreenOnDelayMs, ms)
	}
	return DelayPolicy(ms), nil
}

// Mechanism returns the validated preferred capture mechanism.
func (c *Config) Mechanism() capture.Mechanism {
	return capture.Mechanism(c.Capture.PreferredMechanism)
}

// Format returns the capture format requested from the mechanisms.
func (c *Config) Format() capture.Format {
	channels := 1
	if c.Capture.ChannelMode == "stereo" {
		channels = 2
	}
	return capture.Format{
		SampleRate: c.Capture.SampleRate,
		Channels:   channels,
		Encoding:   c.Capture.Encoding,
	}
}

// ScreenOnDelay returns the validated screen-on delay policy.
func (c *Config) ScreenOnDelay() DelayPolicy {
	return c.screenOnDelay
}

// Watch reloads the config file on change and hands the freshly validated
// config to onChange. Invalid edits are logged and skipped so a half-saved
// file never reaches the engine.
func Watch(configFile string, onChange func(*Config)) {
	if configFile == "" {
		configFile = DefaultPath()
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		slog.Debug("config watch: initial read failed, watching anyway", "path", configFile, "error", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		slog.Info("config file changed", "path", e.Name, "op", e.Op.String())
		cfg, err := Load(configFile)
		if err != nil {
			slog.Warn("ignoring invalid config change", "path", e.Name, "error", err)
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}
