// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrDeckPathRequired is returned when DECK_PATH is not set.
	ErrDeckPathRequired = errors.New("config: DECK_PATH is required")
	// ErrInvalidConfig is returned when a value is out of range.
	ErrInvalidConfig = errors.New("config: invalid value")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port" validate:"min=1,max=65535"`

	// Deck settings
	DeckPath string `env:"DECK_PATH, required" json:"deck_path"`

	// Asset resolution
	AudioPrefix     string `env:"AUDIO_PREFIX, default=audio/" json:"audio_prefix"`
	AudioSuffix     string `env:"AUDIO_SUFFIX, default=.ogg" json:"audio_suffix"`
	AudioBaseURL    string `env:"AUDIO_BASE_URL" json:"audio_base_url,omitempty" validate:"omitempty,url"`
	DefaultAudios   bool   `env:"DEFAULT_AUDIOS, default=true" json:"default_audios"`
	TTSURL          string `env:"TTS_URL" json:"tts_url,omitempty"`
	DefaultNotes    bool   `env:"DEFAULT_NOTES, default=false" json:"default_notes"`
	DefaultText     bool   `env:"DEFAULT_TEXT, default=false" json:"default_text"`
	DefaultDuration int    `env:"DEFAULT_DURATION, default=5" json:"default_duration" validate:"min=0"`

	// Playback settings
	// Advance stays a raw string; a malformed value is reported and treated
	// as "no automatic advance" rather than refusing to start.
	Advance         string  `env:"ADVANCE, default=0" json:"advance"`
	Autoplay        bool    `env:"AUTOPLAY, default=false" json:"autoplay"`
	StartAtFragment bool    `env:"START_AT_FRAGMENT, default=false" json:"start_at_fragment"`
	PlayerOpacity   float64 `env:"PLAYER_OPACITY, default=0.05" json:"player_opacity" validate:"min=0,max=1"`
	PlayerPlacement string  `env:"PLAYER_PLACEMENT, default=bottom" json:"player_placement" validate:"oneof=top bottom left right"`

	// Recorder settings
	RecorderBitRate    int    `env:"RECORDER_BIT_RATE, default=64" json:"recorder_bit_rate" validate:"min=8,max=512"`
	RecorderSampleRate int    `env:"RECORDER_SAMPLE_RATE, default=44100" json:"recorder_sample_rate" validate:"min=8000,max=192000"`
	RecorderBufferSize int    `env:"RECORDER_BUFFER_SIZE, default=4096" json:"recorder_buffer_size" validate:"min=256"`
	RecorderChannels   int    `env:"RECORDER_CHANNELS, default=1" json:"recorder_channels" validate:"oneof=1 2"`
	RecorderFormat     string `env:"RECORDER_FORMAT, default=ogg" json:"recorder_format" validate:"oneof=ogg webm mp3 wav"`
	CaptureFormat      string `env:"CAPTURE_FORMAT, default=pulse" json:"capture_format"`
	CaptureDevice      string `env:"CAPTURE_DEVICE, default=default" json:"capture_device"`

	// Media tooling
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/slidecast" json:"temp_dir"`

	// Batch fetch settings
	// JobHistory is how many finished fetch jobs stay listed; 0 keeps all.
	JobHistory int `env:"JOB_HISTORY, default=20" json:"job_history" validate:"min=0"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty" validate:"omitempty,url"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format" validate:"oneof=text json"`
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"` // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	return load(envconfig.OsLookuper())
}

func load(l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   cfg,
		Lookuper: l,
	}); err != nil {
		if strings.Contains(err.Error(), "DECK_PATH") {
			return nil, ErrDeckPathRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.DeckPath == "" {
		return ErrDeckPathRequired
	}
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %s=%s", ErrInvalidConfig, fe.Field(), fe.Tag(), fe.Param())
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, DeckPath: %s, AudioPrefix: %s, AudioSuffix: %s, TTSURL: %s, DefaultDuration: %d, Advance: %s, Autoplay: %t, RecorderFormat: %s, TempDir: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.DeckPath,
		c.AudioPrefix,
		c.AudioSuffix,
		c.TTSURL,
		c.DefaultDuration,
		c.Advance,
		c.Autoplay,
		c.RecorderFormat,
		c.TempDir,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
