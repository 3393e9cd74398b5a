package usecase

import (
	"sync"
	"time"

	"voxpilot/internal/domain"
)

type chunkBuffer struct {
	mu     sync.Mutex
	chunks [][]byte
	size   int
}

func (b *chunkBuffer) append(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = append(b.chunks, append([]byte(nil), chunk...))
	b.size += len(chunk)
}

// assemble concatenates every buffered chunk, in arrival order, into a fresh payload.
func (b *chunkBuffer) assemble(contentType string) domain.AudioPayload {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := make([]byte, 0, b.size)
	for _, chunk := range b.chunks {
		data = append(data, chunk...)
	}
	b.chunks = nil
	b.size = 0
	return domain.AudioPayload{ContentType: contentType, Data: data}
}

func collectChunks(chunks <-chan []byte, buf *chunkBuffer, done chan struct{}) {
	defer close(done)

	for chunk := range chunks {
		if len(chunk) == 0 {
			continue
		}
		buf.append(chunk)
	}
}

func waitForCompletion(done <-chan struct{}, timeout time.Duration) bool {
	if timeout <= 0 {
		<-done
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
