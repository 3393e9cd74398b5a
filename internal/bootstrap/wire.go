package bootstrap

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"voxpilot/internal/audio"
	"voxpilot/internal/config"
	"voxpilot/internal/logging"
	"voxpilot/internal/ports"
	"voxpilot/internal/providers/pipeline"
	"voxpilot/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Pipeline   ports.IntentPipeline
	Config     config.Config
	Logger     zerolog.Logger
}

type captureBackend interface {
	ports.Microphone
	ports.RecorderFactory
}

// Build loads configuration and wires all backend dependencies for the current runtime.
func Build(events ports.EventSink, sink ports.RecordingSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	return Assemble(cfg, log, events, sink)
}

// Assemble wires services from an already resolved configuration.
func Assemble(cfg config.Config, log zerolog.Logger, events ports.EventSink, sink ports.RecordingSink) (Services, error) {
	backend, err := newCaptureBackend(cfg.Audio)
	if err != nil {
		return Services{}, err
	}

	controller := usecase.NewSessionController(
		backend,
		backend,
		sink,
		events,
		log,
		usecase.Config{
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			Timeslice: cfg.Session.ChunkInterval,
		},
	)

	client := pipeline.NewClient(pipeline.Config{
		BaseURL: cfg.Pipeline.URL,
		Token:   cfg.Pipeline.Token,
		Timeout: cfg.Pipeline.Timeout,
	}, log)

	log.Info().
		Str("backend", cfg.Audio.Backend).
		Str("pipeline", cfg.Pipeline.URL).
		Msg("services assembled")

	return Services{Controller: controller, Pipeline: client, Config: cfg, Logger: log}, nil
}

func newCaptureBackend(cfg config.AudioConfig) (captureBackend, error) {
	switch cfg.Backend {
	case config.BackendFFMPEG, "":
		return audio.NewFFMPEGCapture(cfg.RecorderCommand), nil
	case config.BackendPulse:
		return audio.NewPulseCapture(), nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", cfg.Backend)
	}
}
