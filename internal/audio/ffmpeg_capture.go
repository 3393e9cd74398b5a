package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"voxpilot/internal/ports"
)

const (
	ffmpegContentType = "audio/webm"
	startupProbe      = 250 * time.Millisecond
	interruptGrace    = 1200 * time.Millisecond
	readBufferSize    = 4096
)

// FFMPEGCapture records the microphone as webm/opus through an ffmpeg subprocess.
type FFMPEGCapture struct {
	command string
}

func NewFFMPEGCapture(command string) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{command: command}
}

// RequestAccess opens the capture device. An ffmpeg process that exits during
// the startup probe is reported as ports.ErrPermissionDenied.
func (c *FFMPEGCapture) RequestAccess(ctx context.Context, cfg ports.AudioConfig) (ports.AudioStream, error) {
	cfg = withAudioDefaults(cfg)

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-c:a", "libopus",
		"-f", "webm",
		"-",
	}

	reader, writer, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create capture pipe: %w", err)
	}

	cmd := exec.Command(c.command, args...)
	stderr := &lockedBuffer{}
	cmd.Stdout = writer
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		_ = reader.Close()
		_ = writer.Close()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	_ = writer.Close()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	stream := &ffmpegStream{
		stdout:  reader,
		stderr:  stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}

	timer := time.NewTimer(startupProbe)
	defer timer.Stop()
	select {
	case err := <-waitErr:
		_ = reader.Close()
		detail := stringsTrimSpaceSafe(stderr.String())
		if err != nil {
			return nil, fmt.Errorf("%w: ffmpeg exited before capture started: %v: %s", ports.ErrPermissionDenied, err, detail)
		}
		return nil, fmt.Errorf("%w: ffmpeg exited before capture started", ports.ErrPermissionDenied)
	case <-ctx.Done():
		_ = stream.Release()
		return nil, ctx.Err()
	case <-timer.C:
	}

	return stream, nil
}

// NewRecorder wraps a stream opened by RequestAccess.
func (c *FFMPEGCapture) NewRecorder(stream ports.AudioStream, opts ports.RecorderOptions) (ports.Recorder, error) {
	s, ok := stream.(*ffmpegStream)
	if !ok {
		return nil, fmt.Errorf("ffmpeg recorder cannot use stream of type %T", stream)
	}
	return newFFMPEGRecorder(s, opts.Timeslice), nil
}

type ffmpegStream struct {
	stdout  *os.File
	stderr  *lockedBuffer
	process *os.Process
	waitErr <-chan error

	interruptOnce sync.Once
	exitErr       error

	releaseOnce sync.Once
	releaseErr  error
}

// interrupt asks ffmpeg to finalize the container and exit, killing it after a grace period.
func (s *ffmpegStream) interrupt() error {
	s.interruptOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.exitErr = normalizeStopErr(err)
			}
		case <-time.After(interruptGrace):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.exitErr = normalizeStopErr(err)
			}
		}
	})
	return s.exitErr
}

func (s *ffmpegStream) Release() error {
	s.releaseOnce.Do(func() {
		s.releaseErr = s.interrupt()

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.releaseErr == nil {
				s.releaseErr = closeErr
			}
		}

		if s.releaseErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.releaseErr = fmt.Errorf("%w: %s", s.releaseErr, stringsTrimSpaceSafe(s.stderr.String()))
		}
	})
	return s.releaseErr
}

type ffmpegRecorder struct {
	stream    *ffmpegStream
	timeslice time.Duration
	chunks    chan []byte
	done      chan struct{}

	mu       sync.Mutex
	started  bool
	stopped  bool
	readErr  error
	stopOnce sync.Once
	stopErr  error
}

func newFFMPEGRecorder(stream *ffmpegStream, timeslice time.Duration) *ffmpegRecorder {
	if timeslice <= 0 {
		timeslice = 500 * time.Millisecond
	}
	return &ffmpegRecorder{
		stream:    stream,
		timeslice: timeslice,
		chunks:    make(chan []byte, 16),
		done:      make(chan struct{}),
	}
}

func (r *ffmpegRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return errors.New("recorder already stopped")
	}
	if r.started {
		return nil
	}
	r.started = true
	go r.run()
	return nil
}

func (r *ffmpegRecorder) Chunks() <-chan []byte {
	return r.chunks
}

func (r *ffmpegRecorder) ContentType() string {
	return ffmpegContentType
}

// Stop finalizes the recording and returns once every chunk has been delivered.
func (r *ffmpegRecorder) Stop() error {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		started := r.started
		r.stopped = true
		r.mu.Unlock()

		if !started {
			close(r.chunks)
			close(r.done)
			return
		}

		r.stopErr = r.stream.interrupt()
		<-r.done

		r.mu.Lock()
		if r.stopErr == nil {
			r.stopErr = r.readErr
		}
		r.mu.Unlock()
	})
	return r.stopErr
}

func (r *ffmpegRecorder) run() {
	defer close(r.done)
	defer close(r.chunks)

	reads := make(chan []byte, 16)
	go r.readLoop(reads)

	ticker := time.NewTicker(r.timeslice)
	defer ticker.Stop()

	var pending []byte
	flush := func() {
		if len(pending) == 0 {
			return
		}
		r.chunks <- pending
		pending = nil
	}

	for {
		select {
		case data, ok := <-reads:
			if !ok {
				flush()
				return
			}
			pending = append(pending, data...)
		case <-ticker.C:
			flush()
		}
	}
}

func (r *ffmpegRecorder) readLoop(reads chan<- []byte) {
	defer close(reads)

	buf := make([]byte, readBufferSize)
	for {
		n, err := r.stream.stdout.Read(buf)
		if n > 0 {
			reads <- append([]byte(nil), buf[:n]...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				r.mu.Lock()
				r.readErr = fmt.Errorf("audio capture error: %w", err)
				r.mu.Unlock()
			}
			return
		}
	}
}

func withAudioDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}

// lockedBuffer collects ffmpeg stderr written from the exec copy goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}
