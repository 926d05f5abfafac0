package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	DownloadsDir string `envconfig:"DOWNLOADS_DIR" required:"true"`
	HLSDir       string `envconfig:"HLS_DIR" required:"true"`

	OMDBBaseURL string `envconfig:"OMDB_BASE_URL" default:"https://www.omdbapi.com"`
	OMDBAPIKey  string `envconfig:"OMDB_API_KEY"`

	YTSBaseURL string `envconfig:"YTS_BASE_URL" default:"https://yts.mx/api/v2"`

	PollInterval         time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
	PollBackoffInterval  time.Duration `envconfig:"POLL_BACKOFF_INTERVAL" default:"10s"`
	ReconcileMaxFailures int           `envconfig:"RECONCILE_MAX_FAILURES" default:"0"`

	ConvertTimeout time.Duration `envconfig:"HLS_CONVERT_TIMEOUT" default:"2h"`
	FFmpegPath     string        `envconfig:"FFMPEG_PATH" default:"ffmpeg"`

	KeepUnwatchedFor time.Duration `envconfig:"KEEP_UNWATCHED_FOR" default:"720h"`
	CleanupInterval  time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`
	DBPath            string `envconfig:"DB_PATH" default:"cinepipe.db"`

	Transmission struct {
		URL      string        `split_words:"true" default:"http://localhost:9091/transmission/rpc"`
		Username string        `split_words:"true"`
		Password string        `split_words:"true"`
		Timeout  time.Duration `split_words:"true" default:"15s"`
	}

	Telemetry struct {
		Enabled bool `split_words:"true" default:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8080"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"120s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
