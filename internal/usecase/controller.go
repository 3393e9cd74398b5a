package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voxpilot/internal/domain"
	"voxpilot/internal/ports"
)

var (
	ErrSessionActive = errors.New("a capture session is already active")
	ErrDisabled      = errors.New("recording is disabled")
)

const (
	defaultTimeslice   = 500 * time.Millisecond
	defaultStopTimeout = 4 * time.Second

	// recentLimit is the number of transcript entries surfaced for replay.
	recentLimit = 3
)

// Config controls capture behavior.
type Config struct {
	Audio       ports.AudioConfig
	Timeslice   time.Duration
	StopTimeout time.Duration
}

// SessionController owns the microphone, runs one capture session at a time
// and keeps the transcript replay history.
type SessionController struct {
	microphone ports.Microphone
	recorders  ports.RecorderFactory
	sink       ports.RecordingSink
	events     ports.EventSink
	log        zerolog.Logger
	cfg        Config

	now   func() time.Time
	newID func() string

	history *transcriptHistory

	mu       sync.Mutex
	state    domain.SessionState
	status   string
	disabled bool
	current  *activeSession
}

func NewSessionController(
	microphone ports.Microphone,
	recorders ports.RecorderFactory,
	sink ports.RecordingSink,
	events ports.EventSink,
	log zerolog.Logger,
	cfg Config,
) *SessionController {
	if cfg.Timeslice <= 0 {
		cfg.Timeslice = defaultTimeslice
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	return &SessionController{
		microphone: microphone,
		recorders:  recorders,
		sink:       sink,
		events:     events,
		log:        log.With().Str("component", "capture").Logger(),
		cfg:        cfg,
		now:        time.Now,
		newID:      uuid.NewString,
		history:    newTranscriptHistory(),
		state:      domain.SessionStateIdle,
	}
}

// StartRecording requests the microphone and begins buffering audio.
// A denied or failed request is not returned as an error: the controller moves
// to PermissionDenied and publishes a status message instead. A grant that
// arrives after ctx is done is released and ctx.Err() is returned.
func (c *SessionController) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.disabled {
		c.mu.Unlock()
		return ErrDisabled
	}
	if c.busyLocked() {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.state = domain.SessionStateRequesting
	c.status = ""
	c.mu.Unlock()

	c.events.SessionStateChanged(domain.SessionStateRequesting, domain.SessionReasonRequestingAccess)
	c.events.StatusMessage("")

	stream, err := c.microphone.RequestAccess(ctx, c.cfg.Audio)
	if err != nil {
		c.deny(err)
		return nil
	}
	if err := ctx.Err(); err != nil {
		// Access was granted after the caller gave up.
		_ = stream.Release()
		c.reset(domain.SessionReasonMicCold)
		return err
	}

	recorder, err := c.recorders.NewRecorder(stream, ports.RecorderOptions{Timeslice: c.cfg.Timeslice})
	if err != nil {
		_ = stream.Release()
		c.deny(err)
		return nil
	}

	active := newActiveSession(stream, recorder)
	if err := recorder.Start(); err != nil {
		active.abandon()
		c.deny(err)
		return nil
	}

	c.mu.Lock()
	c.current = active
	c.state = domain.SessionStateRecording
	c.status = domain.StatusListening
	c.mu.Unlock()

	c.log.Debug().Str("content_type", recorder.ContentType()).Msg("recording started")
	c.events.SessionStateChanged(domain.SessionStateRecording, domain.SessionReasonRecordingStarted)
	c.events.StatusMessage(domain.StatusListening)
	return nil
}

// StopRecording ends the active session and hands a non-empty payload to the
// recording sink exactly once. It is a no-op unless a session is recording.
func (c *SessionController) StopRecording() {
	c.mu.Lock()
	active := c.current
	if active == nil || c.state != domain.SessionStateRecording {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.state = domain.SessionStateStopped
	c.mu.Unlock()

	payload, err := active.finish(c.cfg.StopTimeout)
	if err != nil {
		c.log.Warn().Err(err).Msg("recorder did not stop cleanly")
		c.events.SessionError(domain.ErrorCodeAudioStop, err.Error())
	}

	reason := domain.SessionReasonEmptyPayload
	if payload.Size() > 0 {
		reason = domain.SessionReasonPayloadDelivered
		c.log.Debug().Int("bytes", payload.Size()).Str("content_type", payload.ContentType).Msg("payload assembled")
		c.sink.Recorded(payload)
	} else {
		c.log.Debug().Msg("discarding empty recording")
	}

	c.reset(reason)
}

// ConsumeExternalTranscript appends a delivered transcript to the history and
// acknowledges it. Blank input is ignored and reported as false.
func (c *SessionController) ConsumeExternalTranscript(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}

	entry := domain.TranscriptEntry{
		ID:        c.newID(),
		Text:      trimmed,
		Timestamp: c.now(),
	}
	c.history.Append(entry)
	c.log.Debug().Str("entry_id", entry.ID).Int("chars", len(trimmed)).Msg("transcript appended")

	c.events.HistoryChanged(c.Recent())
	c.sink.TranscriptConsumed()
	return true
}

// Replay shows a previous transcript as the status message.
func (c *SessionController) Replay(entryID string) bool {
	entry, ok := c.history.Find(entryID)
	if !ok {
		return false
	}

	c.mu.Lock()
	c.status = entry.Text
	c.mu.Unlock()

	c.events.StatusMessage(entry.Text)
	return true
}

// Recent returns the entries surfaced for replay, oldest first.
func (c *SessionController) Recent() []domain.TranscriptEntry {
	return c.history.Recent(recentLimit)
}

// History returns every transcript entry in insertion order.
func (c *SessionController) History() []domain.TranscriptEntry {
	return c.history.All()
}

// SetDisabled blocks or allows new recordings. A running session is unaffected.
func (c *SessionController) SetDisabled(disabled bool) {
	c.mu.Lock()
	c.disabled = disabled
	c.mu.Unlock()
}

// Status returns the current backend status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.Status{
		State:    c.state,
		Active:   c.state == domain.SessionStateRecording,
		Disabled: c.disabled,
		Message:  c.status,
	}
}

func (c *SessionController) busyLocked() bool {
	switch c.state {
	case domain.SessionStateRequesting, domain.SessionStateRecording, domain.SessionStateStopped:
		return true
	default:
		return false
	}
}

func (c *SessionController) reset(reason domain.SessionStateReason) {
	c.mu.Lock()
	c.state = domain.SessionStateIdle
	c.status = ""
	c.mu.Unlock()

	c.events.StatusMessage("")
	c.events.SessionStateChanged(domain.SessionStateIdle, reason)
}

func (c *SessionController) deny(err error) {
	reason := domain.SessionReasonPermissionDenied
	if !errors.Is(err, ports.ErrPermissionDenied) {
		reason = domain.SessionReasonRecorderFailed
	}
	c.log.Warn().Err(err).Str("reason", string(reason)).Msg("microphone unavailable")

	c.mu.Lock()
	c.state = domain.SessionStatePermissionDenied
	c.status = domain.StatusPermissionDenied
	c.mu.Unlock()

	c.events.SessionStateChanged(domain.SessionStatePermissionDenied, reason)
	c.events.StatusMessage(domain.StatusPermissionDenied)
	c.events.SessionError(domain.ErrorCodeMicrophone, err.Error())
}
