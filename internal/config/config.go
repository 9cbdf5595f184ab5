// Package config loads the client configuration from defaults, an optional
// YAML file, HUDDLE_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. HUDDLE_RELAY_URL.
const EnvPrefix = "HUDDLE"

type Config struct {
	RelayURL string   `mapstructure:"relay_url"`
	Room     string   `mapstructure:"room"`
	Name     string   `mapstructure:"name"`
	Secure   bool     `mapstructure:"secure"`
	ICE      []string `mapstructure:"ice_servers"`

	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	RetryMaxAttempts int           `mapstructure:"retry_max_attempts"`
	RejoinDelay      time.Duration `mapstructure:"rejoin_delay"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`

	CameraFile      string `mapstructure:"camera_file"`
	MicFile         string `mapstructure:"mic_file"`
	ScreenFile      string `mapstructure:"screen_file"`
	ScreenAudioFile string `mapstructure:"screen_audio_file"`

	StateFile         string        `mapstructure:"state_file"`
	SpeakingThreshold int           `mapstructure:"speaking_threshold"`
	StatsInterval     time.Duration `mapstructure:"stats_interval"`
	Debug             bool          `mapstructure:"debug"`

	// File is the config file that was read, "" when none was found.
	File string `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("relay_url", "ws://localhost:8000")
	v.SetDefault("secure", false)
	v.SetDefault("ice_servers", []string{})
	v.SetDefault("retry_delay", "1s")
	v.SetDefault("retry_max_attempts", 0)
	v.SetDefault("rejoin_delay", "1s")
	v.SetDefault("ping_period", "25s")
	v.SetDefault("state_file", defaultStateFile())
	v.SetDefault("speaking_threshold", 50)
	v.SetDefault("stats_interval", "0s")
	v.SetDefault("debug", false)
}

func defaultStateFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".huddle-call.yaml"
	}
	return filepath.Join(dir, "huddle", "call.yaml")
}

// NewFlagSet declares every flag Load understands. Flag names use dashes;
// the matching config key uses underscores.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("config", "f", "", "config file (default ./huddle.yaml or <user config dir>/huddle/huddle.yaml)")

	fs.String("relay-url", "", "relay base URL, e.g. wss://relay.example.com")
	fs.StringP("room", "r", "", "room to join")
	fs.StringP("name", "n", "", "display name")
	fs.Bool("secure", false, "force wss:// for the relay")
	fs.StringSlice("ice-servers", nil, "STUN/TURN URLs (comma separated)")

	fs.Duration("retry-delay", 0, "delay before rebuilding a failed peer connection")
	fs.Int("retry-max-attempts", 0, "consecutive rebuilds per peer, 0 = unbounded")
	fs.Duration("rejoin-delay", 0, "delay before redialing a lost relay")
	fs.Duration("ping-period", 0, "relay keepalive interval")

	fs.String("camera-file", "", "IVF file played as the camera")
	fs.String("mic-file", "", "Ogg/Opus file played as the microphone (default silence)")
	fs.String("screen-file", "", "IVF file played as the screen share")
	fs.String("screen-audio-file", "", "Ogg/Opus file sent as system audio while sharing")

	fs.String("state-file", "", "where the current call is saved for automatic rejoin")
	fs.Int("speaking-threshold", 0, "speaking threshold in -dBov (1~127)")
	fs.Duration("stats-interval", 0, "print traffic stats at this interval, 0 = off")
	fs.Bool("debug", false, "enable debug logging")
	return fs
}

// Load parses args with fs and merges every source into a Config.
func Load(fs *pflag.FlagSet, args []string) (*Config, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Only flags given on the command line override; unset flags would
	// otherwise shadow file and env values with their zero defaults.
	var bindErr error
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = errors.Join(bindErr, err)
		}
	})
	if bindErr != nil {
		return nil, fmt.Errorf("bind flags: %w", bindErr)
	}

	file, err := readFile(v, fs)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.File = file

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// readFile reads an explicit --config file, or huddle.yaml from the working
// directory or the user config directory when present.
func readFile(v *viper.Viper, fs *pflag.FlagSet) (string, error) {
	explicit, _ := fs.GetString("config")
	if explicit == "" {
		explicit = os.Getenv(EnvPrefix + "_CONFIG")
	}

	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName("huddle")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "huddle"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit == "" && errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("read config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

// Validate checks ranges. Room and name may still be empty: the CLI asks
// for them or takes them from the saved call.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.RelayURL) == "":
		return errors.New("relay_url is required")
	case c.RetryDelay <= 0:
		return fmt.Errorf("retry_delay must be positive, got %s", c.RetryDelay)
	case c.RetryMaxAttempts < 0:
		return fmt.Errorf("retry_max_attempts must be >= 0, got %d", c.RetryMaxAttempts)
	case c.RejoinDelay <= 0:
		return fmt.Errorf("rejoin_delay must be positive, got %s", c.RejoinDelay)
	case c.PingPeriod <= 0:
		return fmt.Errorf("ping_period must be positive, got %s", c.PingPeriod)
	case c.SpeakingThreshold < 1 || c.SpeakingThreshold > 127:
		return fmt.Errorf("speaking_threshold must be 1~127, got %d", c.SpeakingThreshold)
	case c.StatsInterval < 0:
		return fmt.Errorf("stats_interval must be >= 0, got %s", c.StatsInterval)
	}
	return nil
}
