package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendFFMPEG = "ffmpeg"
	BackendPulse  = "pulse"
)

// Config stores runtime configuration for the voice pilot.
type Config struct {
	Audio    AudioConfig
	Session  SessionConfig
	Pipeline PipelineConfig
	Log      LogConfig
}

type AudioConfig struct {
	Backend         string
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
}

type SessionConfig struct {
	ChunkInterval time.Duration
}

type PipelineConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// Load resolves configuration from an optional .env file, environment
// variables and defaults. Variables already set in the environment win over
// the file.
func Load() (Config, error) {
	envFile := envOrDefault("VOXPILOT_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg := Config{
		Audio: AudioConfig{
			Backend:         strings.ToLower(envOrDefault("VOXPILOT_AUDIO_BACKEND", BackendFFMPEG)),
			RecorderCommand: envOrDefault("VOXPILOT_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("VOXPILOT_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice:     envOrDefault("VOXPILOT_AUDIO_INPUT_DEVICE", "default"),
			SampleRate:      envOrDefaultInt("VOXPILOT_SAMPLE_RATE", 16000),
			Channels:        envOrDefaultInt("VOXPILOT_CHANNELS", 1),
		},
		Session: SessionConfig{
			ChunkInterval: envOrDefaultMillis("VOXPILOT_CHUNK_INTERVAL_MS", 500),
		},
		Pipeline: PipelineConfig{
			URL:     envOrDefault("VOXPILOT_PIPELINE_URL", "ws://localhost:8000/ws/voice"),
			Token:   strings.TrimSpace(os.Getenv("VOXPILOT_PIPELINE_TOKEN")),
			Timeout: envOrDefaultMillis("VOXPILOT_PIPELINE_TIMEOUT_MS", 30000),
		},
		Log: LogConfig{
			Level:  strings.ToLower(envOrDefault("VOXPILOT_LOG_LEVEL", "info")),
			Format: strings.ToLower(envOrDefault("VOXPILOT_LOG_FORMAT", "console")),
		},
	}

	if cfg.Audio.Backend != BackendFFMPEG && cfg.Audio.Backend != BackendPulse {
		return Config{}, fmt.Errorf("unknown audio backend %q", cfg.Audio.Backend)
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Session.ChunkInterval <= 0 {
		cfg.Session.ChunkInterval = 500 * time.Millisecond
	}
	if cfg.Pipeline.Timeout <= 0 {
		cfg.Pipeline.Timeout = 30 * time.Second
	}

	return cfg, nil
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultMillis(key string, fallback int) time.Duration {
	return time.Duration(envOrDefaultInt(key, fallback)) * time.Millisecond
}
