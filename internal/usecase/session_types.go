package usecase

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"voxpilot/internal/domain"
	"voxpilot/internal/ports"
)

var errRecorderStalled = errors.New("recorder did not signal completion")

// activeSession exclusively owns the device stream and recorder of one capture.
type activeSession struct {
	stream   ports.AudioStream
	recorder ports.Recorder

	buffer    chunkBuffer
	collected chan struct{}

	releaseOnce sync.Once
	releaseErr  error
}

func newActiveSession(stream ports.AudioStream, recorder ports.Recorder) *activeSession {
	s := &activeSession{
		stream:    stream,
		recorder:  recorder,
		collected: make(chan struct{}),
	}
	go collectChunks(recorder.Chunks(), &s.buffer, s.collected)
	return s
}

func (s *activeSession) release() error {
	s.releaseOnce.Do(func() {
		s.releaseErr = s.stream.Release()
	})
	return s.releaseErr
}

// finish stops the recorder, waits for its completion signal, releases the
// device stream and assembles the payload. The stream is released on every path.
func (s *activeSession) finish(timeout time.Duration) (domain.AudioPayload, error) {
	defer s.release()

	var errs []error
	if err := s.recorder.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop recorder: %w", err))
	}
	if !waitForCompletion(s.collected, timeout) {
		errs = append(errs, errRecorderStalled)
	}
	if err := s.release(); err != nil {
		errs = append(errs, fmt.Errorf("release audio stream: %w", err))
	}

	return s.buffer.assemble(s.recorder.ContentType()), errors.Join(errs...)
}

// abandon tears down a session that never reached Recording.
func (s *activeSession) abandon() {
	_ = s.recorder.Stop()
	_ = s.release()
}
