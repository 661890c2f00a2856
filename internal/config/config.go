package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"livescribe/internal/archive"
)

const (
	envPrefix     = "LIVESCRIBE"
	configFileEnv = "LIVESCRIBE_CONFIG"
)

// Config stores runtime configuration for the desktop client.
type Config struct {
	Backend     BackendConfig     `mapstructure:"backend"`
	Audio       AudioConfig       `mapstructure:"audio"`
	Session     SessionConfig     `mapstructure:"session"`
	Translation TranslationConfig `mapstructure:"translation"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Log         LogConfig         `mapstructure:"log"`
}

type BackendConfig struct {
	BaseURL          string        `mapstructure:"base_url" validate:"required,url"`
	TranscribePath   string        `mapstructure:"transcribe_path" validate:"required,startswith=/"`
	TranslatePath    string        `mapstructure:"translate_path" validate:"required,startswith=/"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" validate:"gt=0"`
	CloseGrace       time.Duration `mapstructure:"close_grace" validate:"gte=0"`
}

type AudioConfig struct {
	RecorderCommand string `mapstructure:"ffmpeg_command" validate:"required"`
	InputFormat     string `mapstructure:"input_format" validate:"required"`
	InputDevice     string `mapstructure:"input_device" validate:"required"`
	MonitorDevice   string `mapstructure:"monitor_device"`
	SampleRate      int    `mapstructure:"sample_rate" validate:"min=8000,max=48000"`
	Channels        int    `mapstructure:"channels" validate:"min=1,max=2"`
}

type SessionConfig struct {
	Quantum     int           `mapstructure:"quantum" validate:"min=16,max=4096"`
	PortDepth   int           `mapstructure:"port_depth" validate:"min=1"`
	DoneTimeout time.Duration `mapstructure:"done_timeout" validate:"gt=0"`
}

type TranslationConfig struct {
	RetranslateInterval int           `mapstructure:"retranslate_interval" validate:"min=1"`
	CloseGrace          time.Duration `mapstructure:"close_grace" validate:"gte=0"`
}

type ArchiveConfig struct {
	Dir string `mapstructure:"dir"`
	DSN string `mapstructure:"dsn"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=json console"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
}

// Load resolves configuration from LIVESCRIBE_* environment variables, an
// optional env file named by LIVESCRIBE_CONFIG, and defaults. Nested keys use
// a double underscore, e.g. LIVESCRIBE_BACKEND__BASE_URL.
func Load() (Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	setDefaults(v)

	if path := strings.TrimSpace(os.Getenv(configFileEnv)); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	normalize(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			return Config{}, fmt.Errorf("invalid config: %w", invalid)
		}
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("BACKEND__BASE_URL", "ws://localhost:8000")
	v.SetDefault("BACKEND__TRANSCRIBE_PATH", "/transcribe")
	v.SetDefault("BACKEND__TRANSLATE_PATH", "/translate")
	v.SetDefault("BACKEND__HANDSHAKE_TIMEOUT", 10*time.Second)
	v.SetDefault("BACKEND__CLOSE_GRACE", time.Second)

	v.SetDefault("AUDIO__FFMPEG_COMMAND", "ffmpeg")
	v.SetDefault("AUDIO__INPUT_FORMAT", "pulse")
	v.SetDefault("AUDIO__INPUT_DEVICE", "default")
	v.SetDefault("AUDIO__MONITOR_DEVICE", "")
	v.SetDefault("AUDIO__SAMPLE_RATE", 16000)
	v.SetDefault("AUDIO__CHANNELS", 1)

	v.SetDefault("SESSION__QUANTUM", 128)
	v.SetDefault("SESSION__PORT_DEPTH", 64)
	v.SetDefault("SESSION__DONE_TIMEOUT", 10*time.Second)

	v.SetDefault("TRANSLATION__RETRANSLATE_INTERVAL", 10)
	v.SetDefault("TRANSLATION__CLOSE_GRACE", 1500*time.Millisecond)

	v.SetDefault("ARCHIVE__DIR", archive.DefaultDir())
	v.SetDefault("ARCHIVE__DSN", "")

	v.SetDefault("LOG__LEVEL", "info")
	v.SetDefault("LOG__FORMAT", "console")
	v.SetDefault("LOG__FILE", "")
	v.SetDefault("LOG__MAX_SIZE_MB", 20)
	v.SetDefault("LOG__MAX_BACKUPS", 3)
}

func normalize(cfg *Config) {
	cfg.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Backend.BaseURL), "/")
	cfg.Audio.InputDevice = strings.TrimSpace(cfg.Audio.InputDevice)
	cfg.Audio.MonitorDevice = strings.TrimSpace(cfg.Audio.MonitorDevice)
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
}
