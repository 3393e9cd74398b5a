package usecase

import (
	"sync"

	"voxpilot/internal/domain"
)

// transcriptHistory is an append-only log of transcript entries. Entries are
// never removed; Recent only narrows the view.
type transcriptHistory struct {
	mu      sync.RWMutex
	entries []domain.TranscriptEntry
}

func newTranscriptHistory() *transcriptHistory {
	return &transcriptHistory{}
}

func (h *transcriptHistory) Append(entry domain.TranscriptEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
}

// Recent returns a copy of the last n entries in insertion order.
func (h *transcriptHistory) Recent(n int) []domain.TranscriptEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 {
		return []domain.TranscriptEntry{}
	}
	start := len(h.entries) - n
	if start < 0 {
		start = 0
	}
	return cloneEntries(h.entries[start:])
}

func (h *transcriptHistory) All() []domain.TranscriptEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return cloneEntries(h.entries)
}

func (h *transcriptHistory) Find(id string) (domain.TranscriptEntry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, entry := range h.entries {
		if entry.ID == id {
			return entry, true
		}
	}
	return domain.TranscriptEntry{}, false
}

func cloneEntries(entries []domain.TranscriptEntry) []domain.TranscriptEntry {
	out := make([]domain.TranscriptEntry, len(entries))
	copy(out, entries)
	return out
}
