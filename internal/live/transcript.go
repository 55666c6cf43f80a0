package live

import "sync"

// TranscriptWindow is how many entries the rolling transcript keeps.
const TranscriptWindow = 11

// Transcript is a bounded rolling window of the most recent entries.
type Transcript struct {
	mu      sync.Mutex
	size    int
	entries []TranscriptEntry
}

// NewTranscript returns a window of size entries; size <= 0 selects
// TranscriptWindow.
func NewTranscript(size int) *Transcript {
	if size <= 0 {
		size = TranscriptWindow
	}
	return &Transcript{size: size, entries: make([]TranscriptEntry, 0, size)}
}

// Append adds e, evicting the oldest entry when full.
func (t *Transcript) Append(e TranscriptEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.entries) == t.size {
		copy(t.entries, t.entries[1:])
		t.entries = t.entries[:t.size-1]
	}
	t.entries = append(t.entries, e)
}

// Entries returns a copy, oldest first.
func (t *Transcript) Entries() []TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries held.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
