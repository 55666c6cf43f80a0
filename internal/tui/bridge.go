package tui

import (
	"sync/atomic"

	"github.com/astra-live-lab/internal/live"
	"github.com/astra-live-lab/internal/logging"
)

// Bridge is a live.Listener that hands controller callbacks to the UI.
// Events are dropped when the UI falls behind.
type Bridge struct {
	events  chan uiEvent
	dropped int64
}

type uiEvent any

type stateMsg struct {
	sessionID string
	state     live.State
}

type transcriptMsg struct {
	sessionID string
	entry     live.TranscriptEntry
}

// NewBridge returns a bridge buffering up to size events.
func NewBridge(size int) *Bridge {
	if size <= 0 {
		size = 64
	}
	return &Bridge{events: make(chan uiEvent, size)}
}

func (b *Bridge) OnState(sessionID string, st live.State) {
	b.push(stateMsg{sessionID: sessionID, state: st})
}

func (b *Bridge) OnTranscript(sessionID string, e live.TranscriptEntry) {
	b.push(transcriptMsg{sessionID: sessionID, entry: e})
}

func (b *Bridge) push(ev uiEvent) {
	select {
	case b.events <- ev:
	default:
		if n := atomic.AddInt64(&b.dropped, 1); n == 1 || n%100 == 0 {
			logging.Warnw("tui: dropping ui event; ui is behind", "dropped", n)
		}
	}
}

// Dropped reports how many events were discarded.
func (b *Bridge) Dropped() int64 { return atomic.LoadInt64(&b.dropped) }
