package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"voxpilot/internal/bootstrap"
	"voxpilot/internal/config"
	"voxpilot/internal/domain"
	"voxpilot/internal/ports"
	"voxpilot/internal/presenter"
	"voxpilot/internal/providers/pipeline"
	"voxpilot/internal/usecase"
)

const (
	eventSession = "voxpilot:session"
	eventStatus  = "voxpilot:status"
	eventHistory = "voxpilot:history"
	eventIntent  = "voxpilot:intent"
	eventError   = "voxpilot:error"
)

// App is the Wails application root. It receives finished recordings from
// the controller, runs them through the pipeline and drives the result panel.
type App struct {
	ctx  context.Context
	emit func(ctx context.Context, name string, data ...interface{})

	controller *usecase.SessionController
	pipeline   ports.IntentPipeline
	log        zerolog.Logger
	cfg        config.Config
	bootErr    error

	mu                sync.Mutex
	inputs            presenter.Inputs
	pendingTranscript string
	sessionCtx        context.Context
	cancelSessions    context.CancelFunc
	closing           bool
	starts            sync.WaitGroup
	submissions       sync.WaitGroup
}

var errShuttingDown = errors.New("application is shutting down")

func NewApp() *App {
	return &App{emit: runtime.EventsEmit, log: zerolog.Nop()}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a, a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.cfg = services.Config
	a.log = services.Logger
	a.controller = services.Controller
	a.pipeline = services.Pipeline
	a.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonMicCold)
}

// shutdown cancels pending microphone requests and pipeline calls, waits for
// in-flight starts to settle, then stops any running session.
func (a *App) shutdown(_ context.Context) {
	a.mu.Lock()
	a.closing = true
	cancel := a.cancelSessions
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.starts.Wait()
	if a.controller != nil {
		a.controller.StopRecording()
	}
	a.submissions.Wait()
}

// StartRecording opens the microphone and starts a capture session.
func (a *App) StartRecording() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	ctx, err := a.beginStart()
	if err != nil {
		return a.controller.Status(), err
	}
	defer a.starts.Done()

	if err := a.controller.StartRecording(ctx); err != nil {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

func (a *App) beginStart() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closing {
		return nil, errShuttingDown
	}
	a.starts.Add(1)
	return a.sessionContextLocked(), nil
}

// StopRecording ends the capture session. The recording, if any, is analyzed
// in the background and reported through the intent event.
func (a *App) StopRecording() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	a.controller.StopRecording()
	return a.controller.Status(), nil
}

// Replay shows a previously recognized command as the status message.
func (a *App) Replay(entryID string) bool {
	if a.controller == nil {
		return false
	}
	return a.controller.Replay(entryID)
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.SessionStateError, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.SessionStateIdle}
	}
	return a.controller.Status()
}

// GetPrompt returns the text shown under the microphone button.
func (a *App) GetPrompt() string {
	return a.GetStatus().Prompt()
}

// GetRecentTranscripts returns the replayable commands, oldest first.
func (a *App) GetRecentTranscripts() []domain.TranscriptEntry {
	if a.controller == nil {
		return []domain.TranscriptEntry{}
	}
	return a.controller.Recent()
}

// GetHistory returns every recognized command.
func (a *App) GetHistory() []domain.TranscriptEntry {
	if a.controller == nil {
		return []domain.TranscriptEntry{}
	}
	return a.controller.History()
}

// GetIntentView returns the current result panel.
func (a *App) GetIntentView() presenter.View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return presenter.Render(a.inputs)
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"audioBackend":     a.cfg.Audio.Backend,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
		"pipeline":         a.cfg.Pipeline.URL,
	}
}

// Recorded takes a finished recording and submits it for analysis. Recording
// stays disabled until the pipeline answers.
func (a *App) Recorded(payload domain.AudioPayload) {
	a.mu.Lock()
	a.inputs.Loading = true
	a.inputs.Error = ""
	a.mu.Unlock()

	if a.controller != nil {
		a.controller.SetDisabled(true)
	}
	a.emitIntent()

	a.submissions.Add(1)
	go a.submit(payload)
}

// TranscriptConsumed clears the transcript handed to the controller.
func (a *App) TranscriptConsumed() {
	a.mu.Lock()
	a.pendingTranscript = ""
	a.mu.Unlock()
}

func (a *App) submit(payload domain.AudioPayload) {
	defer a.submissions.Done()

	var (
		result ports.PipelineResult
		err    error
	)
	if a.pipeline == nil {
		err = errors.New("voice pipeline is not configured")
	} else {
		result, err = a.pipeline.Submit(a.sessionContext(), payload)
	}

	a.mu.Lock()
	a.inputs.Loading = false
	if err != nil {
		a.inputs.Error = pipelineErrorMessage(err)
	} else {
		a.inputs.Intent = result.Intent
		a.pendingTranscript = result.Transcript
	}
	pending := a.pendingTranscript
	a.mu.Unlock()

	if err != nil {
		a.log.Error().Err(err).Int("bytes", payload.Size()).Msg("voice pipeline failed")
		a.SessionError(domain.ErrorCodePipeline, err.Error())
	} else if pending != "" && a.controller != nil {
		a.controller.ConsumeExternalTranscript(pending)
	}

	if a.controller != nil {
		a.controller.SetDisabled(false)
	}
	a.emitIntent()
}

func (a *App) sessionContext() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionContextLocked()
}

func (a *App) sessionContextLocked() context.Context {
	if a.sessionCtx == nil {
		parent := a.ctx
		if parent == nil {
			parent = context.Background()
		}
		a.sessionCtx, a.cancelSessions = context.WithCancel(parent)
	}
	return a.sessionCtx
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

func (a *App) send(name string, data interface{}) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, name, data)
}

func (a *App) emitIntent() {
	a.send(eventIntent, a.GetIntentView())
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	a.send(eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// StatusMessage emits the status line together with the prompt it resolves to.
func (a *App) StatusMessage(text string) {
	a.send(eventStatus, map[string]string{
		"text":   text,
		"prompt": domain.Status{Message: text}.Prompt(),
	})
}

// HistoryChanged emits the replayable transcript entries.
func (a *App) HistoryChanged(recent []domain.TranscriptEntry) {
	a.send(eventHistory, recent)
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.send(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonMicCold:
		return "Mic cold"
	case domain.SessionReasonRequestingAccess:
		return "Requesting microphone access"
	case domain.SessionReasonRecordingStarted:
		return "Recording started"
	case domain.SessionReasonPermissionDenied:
		return "Microphone access denied"
	case domain.SessionReasonRecorderFailed:
		return "Recorder failed to start"
	case domain.SessionReasonPayloadDelivered:
		return "Recording sent for analysis"
	case domain.SessionReasonEmptyPayload:
		return "Nothing was recorded"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeMicrophone:
		return "Microphone unavailable"
	case domain.ErrorCodeAudioStop:
		return "Audio stop issue"
	case domain.ErrorCodePipeline:
		return "Voice pipeline error"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

func pipelineErrorMessage(err error) string {
	var remote *pipeline.RemoteError
	switch {
	case errors.As(err, &remote):
		return remote.Message
	case errors.Is(err, context.DeadlineExceeded):
		return "Voice pipeline timed out"
	default:
		return "Could not reach the voice pipeline"
	}
}
