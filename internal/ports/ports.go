package ports

import (
	"context"
	"errors"
	"time"

	"voxpilot/internal/domain"
)

// ErrPermissionDenied is returned by microphones that could not be opened.
var ErrPermissionDenied = errors.New("microphone access denied")

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioStream is an acquired device stream. Release frees every device track
// and is safe to call more than once.
type AudioStream interface {
	Release() error
}

// Microphone grants access to the capture device.
type Microphone interface {
	RequestAccess(ctx context.Context, cfg AudioConfig) (AudioStream, error)
}

// RecorderOptions controls chunk delivery.
type RecorderOptions struct {
	Timeslice time.Duration
}

// Recorder turns an acquired stream into ordered binary chunks. Chunks is closed
// once the recorder has fully stopped; no chunk is delivered after that.
type Recorder interface {
	Start() error
	Chunks() <-chan []byte
	Stop() error
	ContentType() string
}

// RecorderFactory creates recorders over acquired streams.
type RecorderFactory interface {
	NewRecorder(stream AudioStream, opts RecorderOptions) (Recorder, error)
}

// RecordingSink receives the controller's outbound callbacks.
type RecordingSink interface {
	// Recorded takes ownership of a finished, non-empty payload.
	Recorded(payload domain.AudioPayload)
	// TranscriptConsumed acknowledges a delivered transcript.
	TranscriptConsumed()
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	StatusMessage(text string)
	HistoryChanged(recent []domain.TranscriptEntry)
	SessionError(code domain.ErrorCode, detail string)
}

// PipelineResult is what the transcription/intent pipeline returns for a payload.
type PipelineResult struct {
	Transcript string
	Intent     *domain.IntentResult
}

// IntentPipeline submits recordings for transcription and intent extraction.
type IntentPipeline interface {
	Submit(ctx context.Context, payload domain.AudioPayload) (PipelineResult, error)
}
