package domain

import "time"

// SessionState models the microphone capture lifecycle.
type SessionState string

const (
	SessionStateIdle             SessionState = "idle"
	SessionStateRequesting       SessionState = "requesting"
	SessionStateRecording        SessionState = "recording"
	SessionStateStopped          SessionState = "stopped"
	SessionStatePermissionDenied SessionState = "permission_denied"
	SessionStateError            SessionState = "error"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonMicCold          SessionStateReason = "mic_cold"
	SessionReasonRequestingAccess SessionStateReason = "requesting_access"
	SessionReasonRecordingStarted SessionStateReason = "recording_started"
	SessionReasonPermissionDenied SessionStateReason = "permission_denied"
	SessionReasonRecorderFailed   SessionStateReason = "recorder_failed"
	SessionReasonPayloadDelivered SessionStateReason = "payload_delivered"
	SessionReasonEmptyPayload     SessionStateReason = "empty_payload"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup    ErrorCode = "startup"
	ErrorCodeMicrophone ErrorCode = "microphone"
	ErrorCodeAudioStop  ErrorCode = "audio_stop"
	ErrorCodePipeline   ErrorCode = "pipeline"
)

// Status messages surfaced to the user while a session runs.
const (
	StatusListening        = "Listening…"
	StatusPermissionDenied = "Microphone access denied. Please allow microphone and try again."
	PromptIdle             = "Tap the microphone to start speaking"
)

// AudioPayload is one finished recording, handed off to transcription.
type AudioPayload struct {
	ContentType string `json:"contentType"`
	Data        []byte `json:"-"`
}

// Size returns the payload length in bytes.
func (p AudioPayload) Size() int {
	return len(p.Data)
}

// TranscriptEntry is one recognized spoken command kept for replay.
type TranscriptEntry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Status summarizes the current runtime status.
type Status struct {
	State    SessionState `json:"state"`
	Active   bool         `json:"active"`
	Disabled bool         `json:"disabled"`
	Message  string       `json:"message,omitempty"`
}

// Prompt is the text shown under the microphone button.
func (s Status) Prompt() string {
	if s.Message != "" {
		return s.Message
	}
	return PromptIdle
}
