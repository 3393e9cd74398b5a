package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"

	"voxpilot/internal/ports"
)

// PulseCapture records raw 16-bit mono PCM straight from a PulseAudio server.
type PulseCapture struct{}

func NewPulseCapture() *PulseCapture {
	return &PulseCapture{}
}

// RequestAccess connects to the PulseAudio server and resolves the source.
// A server that refuses the connection is reported as ports.ErrPermissionDenied.
func (c *PulseCapture) RequestAccess(ctx context.Context, cfg ports.AudioConfig) (ports.AudioStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg = withAudioDefaults(cfg)

	client, err := pulse.NewClient()
	if err != nil {
		return nil, fmt.Errorf("%w: pulse: %v", ports.ErrPermissionDenied, err)
	}

	var source *pulse.Source
	if cfg.InputDevice != "" && cfg.InputDevice != "default" {
		source, err = client.SourceByID(cfg.InputDevice)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("%w: pulse source %q: %v", ports.ErrPermissionDenied, cfg.InputDevice, err)
		}
	}

	return &pulseStream{client: client, source: source, sampleRate: cfg.SampleRate}, nil
}

func (c *PulseCapture) NewRecorder(stream ports.AudioStream, opts ports.RecorderOptions) (ports.Recorder, error) {
	s, ok := stream.(*pulseStream)
	if !ok {
		return nil, fmt.Errorf("pulse recorder cannot use stream of type %T", stream)
	}
	timeslice := opts.Timeslice
	if timeslice <= 0 {
		timeslice = 500 * time.Millisecond
	}
	return &pulseRecorder{
		stream:    s,
		timeslice: timeslice,
		chunks:    make(chan []byte, 16),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

type pulseStream struct {
	client     *pulse.Client
	source     *pulse.Source
	sampleRate int

	releaseOnce sync.Once
}

func (s *pulseStream) Release() error {
	s.releaseOnce.Do(func() {
		if s.client != nil {
			s.client.Close()
		}
	})
	return nil
}

type pulseRecorder struct {
	stream    *pulseStream
	timeslice time.Duration
	chunks    chan []byte
	quit      chan struct{}
	done      chan struct{}

	mu      sync.Mutex
	record  *pulse.RecordStream
	pending []byte
	started bool

	stopOnce sync.Once
}

func (r *pulseRecorder) Start() error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	opts := []pulse.RecordOption{
		pulse.RecordMono,
		pulse.RecordSampleRate(r.stream.sampleRate),
		pulse.RecordLatency(0.05),
	}
	if r.stream.source != nil {
		opts = append(opts, pulse.RecordSource(r.stream.source))
	}

	record, err := r.stream.client.NewRecord(pulse.Int16Writer(r.write), opts...)
	if err != nil {
		return fmt.Errorf("pulse record: %w", err)
	}

	r.mu.Lock()
	r.record = record
	r.started = true
	r.mu.Unlock()

	record.Start()
	go r.flushLoop()
	return nil
}

func (r *pulseRecorder) Chunks() <-chan []byte {
	return r.chunks
}

func (r *pulseRecorder) ContentType() string {
	return pcmContentType(r.stream.sampleRate, 1)
}

func (r *pulseRecorder) Stop() error {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		record := r.record
		started := r.started
		r.mu.Unlock()

		if !started {
			close(r.chunks)
			close(r.done)
			return
		}

		record.Stop()
		record.Close()
		close(r.quit)
		<-r.done
	})
	return nil
}

func (r *pulseRecorder) write(buf []int16) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	data := encodePCM16(buf)

	r.mu.Lock()
	r.pending = append(r.pending, data...)
	r.mu.Unlock()
	return len(buf), nil
}

func (r *pulseRecorder) flushLoop() {
	defer close(r.done)
	defer close(r.chunks)

	ticker := time.NewTicker(r.timeslice)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.flush()
		case <-r.quit:
			r.flush()
			return
		}
	}
}

func (r *pulseRecorder) flush() {
	r.mu.Lock()
	chunk := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(chunk) > 0 {
		r.chunks <- chunk
	}
}

func encodePCM16(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

func pcmContentType(sampleRate, channels int) string {
	return fmt.Sprintf("audio/L16;rate=%d;channels=%d", sampleRate, channels)
}
