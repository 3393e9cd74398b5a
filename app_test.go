package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"voxpilot/internal/domain"
	"voxpilot/internal/ports"
	"voxpilot/internal/presenter"
	"voxpilot/internal/providers/pipeline"
	"voxpilot/internal/usecase"
)

func TestRecordedDrivesPresenterAndHistory(t *testing.T) {
	t.Parallel()

	intent := &domain.IntentResult{Action: "search", Site: "youtube.com"}
	intent.Params = intent.Params.Set("query", "lofi")
	pipe := &fakePipeline{
		result:  ports.PipelineResult{Transcript: "  search lofi on youtube ", Intent: intent},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	app, events := newTestApp(pipe)

	app.Recorded(domain.AudioPayload{ContentType: "audio/webm", Data: []byte("abc")})
	<-pipe.started

	if view := app.GetIntentView(); view.Kind != presenter.KindLoading || !view.Spinner {
		t.Fatalf("expected loading view, got %+v", view)
	}
	if !app.GetStatus().Disabled {
		t.Fatalf("expected recording disabled while analyzing")
	}
	if _, err := app.StartRecording(); !errors.Is(err, usecase.ErrDisabled) {
		t.Fatalf("expected ErrDisabled during analysis, got %v", err)
	}

	close(pipe.release)
	app.submissions.Wait()

	view := app.GetIntentView()
	if view.Kind != presenter.KindReady || view.Headline != presenter.TextReady {
		t.Fatalf("expected ready view, got %+v", view)
	}
	if app.GetStatus().Disabled {
		t.Fatalf("expected recording re-enabled")
	}

	recent := app.GetRecentTranscripts()
	if len(recent) != 1 || recent[0].Text != "search lofi on youtube" {
		t.Fatalf("unexpected recent transcripts: %+v", recent)
	}
	if app.pendingTranscript != "" {
		t.Fatalf("expected pending transcript cleared, got %q", app.pendingTranscript)
	}
	if got := pipe.submitted(); len(got) != 1 || string(got[0].Data) != "abc" {
		t.Fatalf("unexpected submissions: %+v", got)
	}

	if events.count(eventHistory) != 1 {
		t.Fatalf("expected one history event, got %d", events.count(eventHistory))
	}
	if events.count(eventIntent) != 2 {
		t.Fatalf("expected loading and ready intent events, got %d", events.count(eventIntent))
	}
}

func TestRecordedPipelineErrorShowsMessage(t *testing.T) {
	t.Parallel()

	pipe := &fakePipeline{err: &pipeline.RemoteError{Message: "Could not understand the command"}}
	app, events := newTestApp(pipe)

	app.Recorded(domain.AudioPayload{Data: []byte("x")})
	app.submissions.Wait()

	view := app.GetIntentView()
	if view.Kind != presenter.KindError || view.Message != "Could not understand the command" {
		t.Fatalf("unexpected view: %+v", view)
	}
	if len(app.GetHistory()) != 0 {
		t.Fatalf("expected no history on failure")
	}
	if app.GetStatus().Disabled {
		t.Fatalf("expected recording re-enabled after failure")
	}
	if events.count(eventError) != 1 {
		t.Fatalf("expected one error event, got %d", events.count(eventError))
	}
}

func TestRecordedWithoutTranscriptKeepsHistoryEmpty(t *testing.T) {
	t.Parallel()

	pipe := &fakePipeline{result: ports.PipelineResult{Intent: &domain.IntentResult{Action: "click_button"}}}
	app, _ := newTestApp(pipe)

	app.Recorded(domain.AudioPayload{Data: []byte("x")})
	app.submissions.Wait()

	if len(app.GetHistory()) != 0 {
		t.Fatalf("expected empty history, got %+v", app.GetHistory())
	}
	view := app.GetIntentView()
	if view.Kind != presenter.KindReady || len(view.Fields) != 1 {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestRecordedClearsPreviousError(t *testing.T) {
	t.Parallel()

	pipe := &fakePipeline{err: errors.New("dial tcp: refused")}
	app, _ := newTestApp(pipe)

	app.Recorded(domain.AudioPayload{Data: []byte("x")})
	app.submissions.Wait()
	if view := app.GetIntentView(); view.Message != "Could not reach the voice pipeline" {
		t.Fatalf("unexpected error view: %+v", view)
	}

	pipe.setResult(ports.PipelineResult{Intent: &domain.IntentResult{Action: "scroll"}}, nil)
	app.Recorded(domain.AudioPayload{Data: []byte("y")})
	app.submissions.Wait()
	if view := app.GetIntentView(); view.Kind != presenter.KindReady {
		t.Fatalf("expected ready view after retry, got %+v", view)
	}
}

func TestReplayShowsStatusMessage(t *testing.T) {
	t.Parallel()

	app, events := newTestApp(&fakePipeline{})
	app.controller.ConsumeExternalTranscript("open github")
	entry := app.GetRecentTranscripts()[0]

	if !app.Replay(entry.ID) {
		t.Fatalf("expected replay to succeed")
	}
	if app.GetPrompt() != "open github" {
		t.Fatalf("unexpected prompt: %q", app.GetPrompt())
	}
	if app.Replay("missing") {
		t.Fatalf("expected unknown entry replay to fail")
	}
	if events.count(eventStatus) != 1 {
		t.Fatalf("expected one status event, got %d", events.count(eventStatus))
	}
}

func TestShutdownReleasesMicrophoneGrantedLate(t *testing.T) {
	t.Parallel()

	mic := &slowMicrophone{requested: make(chan struct{}), stream: &countingStream{}}
	app, _ := newTestAppWithMicrophone(&fakePipeline{}, mic, silentRecorders{})

	started := make(chan error, 1)
	go func() {
		_, err := app.StartRecording()
		started <- err
	}()
	<-mic.requested

	app.shutdown(context.Background())

	if err := <-started; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled start, got %v", err)
	}
	if mic.stream.releases() != 1 {
		t.Fatalf("expected late grant to be released once, got %d", mic.stream.releases())
	}
	if status := app.GetStatus(); status.State != domain.SessionStateIdle || status.Active {
		t.Fatalf("unexpected status after shutdown: %+v", status)
	}
	if _, err := app.StartRecording(); !errors.Is(err, errShuttingDown) {
		t.Fatalf("expected start after shutdown to fail, got %v", err)
	}
}

func TestShutdownStopsActiveRecording(t *testing.T) {
	t.Parallel()

	mic := &readyMicrophone{stream: &countingStream{}}
	app, _ := newTestAppWithMicrophone(&fakePipeline{}, mic, silentRecorders{})

	status, err := app.StartRecording()
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if status.State != domain.SessionStateRecording {
		t.Fatalf("expected recording, got %+v", status)
	}

	app.shutdown(context.Background())

	if mic.stream.releases() != 1 {
		t.Fatalf("expected stream released on shutdown, got %d", mic.stream.releases())
	}
	if status := app.GetStatus(); status.State != domain.SessionStateIdle {
		t.Fatalf("unexpected status after shutdown: %+v", status)
	}
}

func TestSessionReasonMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.SessionStateReason]string{
		domain.SessionReasonMicCold:          "Mic cold",
		domain.SessionReasonRequestingAccess: "Requesting microphone access",
		domain.SessionReasonRecordingStarted: "Recording started",
		domain.SessionReasonPermissionDenied: "Microphone access denied",
		domain.SessionReasonRecorderFailed:   "Recorder failed to start",
		domain.SessionReasonPayloadDelivered: "Recording sent for analysis",
		domain.SessionReasonEmptyPayload:     "Nothing was recorded",
	}

	for reason, want := range cases {
		reason := reason
		want := want
		t.Run(string(reason), func(t *testing.T) {
			t.Parallel()
			if got := sessionReasonMessage(reason); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := sessionReasonMessage("unknown"); got != "" {
		t.Fatalf("expected empty unknown reason message, got %q", got)
	}
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.ErrorCode]string{
		domain.ErrorCodeStartup:    "Startup failed",
		domain.ErrorCodeMicrophone: "Microphone unavailable",
		domain.ErrorCodeAudioStop:  "Audio stop issue",
		domain.ErrorCodePipeline:   "Voice pipeline error",
	}
	for code, want := range cases {
		if got := errorMessage(code, "ignored"); got != want {
			t.Fatalf("errorMessage(%q) = %q", code, got)
		}
	}

	if got := errorMessage("unknown", "detail"); got != "detail" {
		t.Fatalf("expected detail fallback, got %q", got)
	}
	if got := errorMessage("unknown", ""); got != "Unknown error" {
		t.Fatalf("expected unknown fallback, got %q", got)
	}
}

func TestPipelineErrorMessage(t *testing.T) {
	t.Parallel()

	remote := fmt.Errorf("wrapped: %w", &pipeline.RemoteError{Message: "No intent found"})
	if got := pipelineErrorMessage(remote); got != "No intent found" {
		t.Fatalf("unexpected remote message: %q", got)
	}
	timeout := fmt.Errorf("read: %w", context.DeadlineExceeded)
	if got := pipelineErrorMessage(timeout); got != "Voice pipeline timed out" {
		t.Fatalf("unexpected timeout message: %q", got)
	}
}

func TestRequireReady(t *testing.T) {
	t.Parallel()

	app := &App{}
	if err := app.requireReady(); err == nil {
		t.Fatalf("expected uninitialized error")
	}

	bootErr := errors.New("boot")
	app.bootErr = bootErr
	if err := app.requireReady(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error, got %v", err)
	}
	if _, err := app.StartRecording(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error from start, got %v", err)
	}
}

func TestGetStatusWhenNotInitialized(t *testing.T) {
	t.Parallel()

	app := &App{}
	status := app.GetStatus()
	if status.State != domain.SessionStateIdle || status.Active {
		t.Fatalf("unexpected status: %+v", status)
	}
	if app.GetPrompt() != domain.PromptIdle {
		t.Fatalf("unexpected prompt: %q", app.GetPrompt())
	}
	if view := app.GetIntentView(); view.Kind != presenter.KindIdle {
		t.Fatalf("unexpected view: %+v", view)
	}

	app.bootErr = errors.New("boot")
	status = app.GetStatus()
	if status.State != domain.SessionStateError || status.Active || status.Message != "boot" {
		t.Fatalf("unexpected boot status: %+v", status)
	}
}

func newTestApp(pipe ports.IntentPipeline) (*App, *emitRecorder) {
	return newTestAppWithMicrophone(pipe, nil, nil)
}

func newTestAppWithMicrophone(pipe ports.IntentPipeline, mic ports.Microphone, recorders ports.RecorderFactory) (*App, *emitRecorder) {
	events := &emitRecorder{}
	app := &App{ctx: context.Background(), emit: events.emit, log: zerolog.Nop(), pipeline: pipe}
	app.controller = usecase.NewSessionController(mic, recorders, app, app, zerolog.Nop(), usecase.Config{})
	return app, events
}

// slowMicrophone blocks until the request context is done and then grants access anyway.
type slowMicrophone struct {
	requested chan struct{}
	stream    *countingStream
	once      sync.Once
}

func (m *slowMicrophone) RequestAccess(ctx context.Context, _ ports.AudioConfig) (ports.AudioStream, error) {
	m.once.Do(func() { close(m.requested) })
	<-ctx.Done()
	return m.stream, nil
}

type readyMicrophone struct {
	stream *countingStream
}

func (m *readyMicrophone) RequestAccess(_ context.Context, _ ports.AudioConfig) (ports.AudioStream, error) {
	return m.stream, nil
}

type countingStream struct {
	mu       sync.Mutex
	released int
}

func (s *countingStream) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
	return nil
}

func (s *countingStream) releases() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

type silentRecorders struct{}

func (silentRecorders) NewRecorder(_ ports.AudioStream, _ ports.RecorderOptions) (ports.Recorder, error) {
	return &silentRecorder{chunks: make(chan []byte)}, nil
}

type silentRecorder struct {
	chunks chan []byte
	once   sync.Once
}

func (r *silentRecorder) Start() error          { return nil }
func (r *silentRecorder) Chunks() <-chan []byte { return r.chunks }
func (r *silentRecorder) ContentType() string   { return "audio/webm" }
func (r *silentRecorder) Stop() error {
	r.once.Do(func() { close(r.chunks) })
	return nil
}

type fakePipeline struct {
	mu       sync.Mutex
	result   ports.PipelineResult
	err      error
	payloads []domain.AudioPayload

	started chan struct{}
	release chan struct{}
}

func (p *fakePipeline) Submit(_ context.Context, payload domain.AudioPayload) (ports.PipelineResult, error) {
	p.mu.Lock()
	p.payloads = append(p.payloads, payload)
	result, err := p.result, p.err
	p.mu.Unlock()

	if p.started != nil {
		p.started <- struct{}{}
	}
	if p.release != nil {
		<-p.release
	}
	return result, err
}

func (p *fakePipeline) setResult(result ports.PipelineResult, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result = result
	p.err = err
}

func (p *fakePipeline) submitted() []domain.AudioPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.AudioPayload(nil), p.payloads...)
}

type emitRecorder struct {
	mu    sync.Mutex
	names []string
}

func (r *emitRecorder) emit(_ context.Context, name string, _ ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
}

func (r *emitRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.names {
		if got == name {
			n++
		}
	}
	return n
}
