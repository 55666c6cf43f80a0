// Package playback schedules decoded audio buffers back to back on an output
// clock so consecutive responses play without gaps or overlap.
package playback

import (
	"errors"
	"sync"

	"github.com/astra-live-lab/internal/audio"
	"github.com/astra-live-lab/internal/logging"
	"github.com/astra-live-lab/internal/metrics"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("playback scheduler closed")

// Clock reports the output device's current time in seconds.
type Clock interface {
	Now() float64
}

// Node is one scheduled buffer on an output device.
type Node interface {
	Stop()
}

// Sink places a buffer on the output device to start at the given clock
// time. onEnded runs once the buffer has finished or been stopped; it must
// not be invoked while the sink holds locks a caller of Schedule may need.
type Sink interface {
	Schedule(buf *audio.Buffer, at float64, onEnded func()) (Node, error)
}

// Scheduler keeps the playback cursor and the set of buffers that are
// scheduled but not yet ended.
type Scheduler struct {
	mu     sync.Mutex
	clock  Clock
	sink   Sink
	cursor float64
	nextID uint64
	live   map[uint64]Node
	closed bool
}

// NewScheduler returns a scheduler whose cursor starts at zero.
func NewScheduler(clock Clock, sink Sink) *Scheduler {
	return &Scheduler{clock: clock, sink: sink, live: make(map[uint64]Node)}
}

// Enqueue schedules buf at max(cursor, now) and advances the cursor by the
// buffer's duration. It returns the start time used.
func (s *Scheduler) Enqueue(buf *audio.Buffer) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	now := s.clock.Now()
	startAt := s.cursor
	if now > startAt {
		startAt = now
	}
	s.nextID++
	id := s.nextID
	node, err := s.sink.Schedule(buf, startAt, func() { s.ended(id) })
	if err != nil {
		return 0, err
	}
	s.cursor = startAt + buf.Duration()
	s.live[id] = node
	metrics.PlaybackLiveNodes.Set(float64(len(s.live)))
	metrics.PlaybackLead.Observe(startAt - now)
	logging.Debugw("playback: scheduled buffer", logging.PlaybackFields(startAt, buf.Duration(), s.cursor)...)
	return startAt, nil
}

func (s *Scheduler) ended(id uint64) {
	s.mu.Lock()
	delete(s.live, id)
	metrics.PlaybackLiveNodes.Set(float64(len(s.live)))
	s.mu.Unlock()
}

// Cursor returns the time at which the next buffer would start if the
// clock has not passed it.
func (s *Scheduler) Cursor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Live returns the number of scheduled buffers that have not ended.
func (s *Scheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// StopAll stops every in-flight buffer and clears the set.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	nodes := s.live
	s.live = make(map[uint64]Node)
	metrics.PlaybackLiveNodes.Set(0)
	s.mu.Unlock()
	for _, n := range nodes {
		n.Stop()
	}
}

// Close stops everything and rejects further Enqueue calls.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.StopAll()
}
