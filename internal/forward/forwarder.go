// Package forward delivers transcript lines to external sinks (an HTTP
// endpoint, a Discord webhook) off the session's goroutines.
package forward

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/astra-live-lab/internal/live"
	"github.com/astra-live-lab/internal/logging"
	"github.com/astra-live-lab/internal/metrics"
)

// DefaultQueueSize bounds the pending records.
const DefaultQueueSize = 128

// Record is one forwarded transcript line.
type Record struct {
	SessionID string    `json:"session_id"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}

// Sink delivers records somewhere.
type Sink interface {
	Name() string
	Send(ctx context.Context, r Record) error
}

// Forwarder is a live.Listener that queues transcript entries and sends
// them to every sink from a single worker. A full queue drops entries.
type Forwarder struct {
	sinks []Sink
	queue chan Record

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	dropped int64
}

// New starts a forwarder over sinks.
func New(sinks []Sink, queueSize int) *Forwarder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	f := &Forwarder{sinks: sinks, queue: make(chan Record, queueSize), ctx: ctx, cancel: cancel}
	f.wg.Add(1)
	go f.run()
	return f
}

func (f *Forwarder) OnState(sessionID string, st live.State) {}

func (f *Forwarder) OnTranscript(sessionID string, e live.TranscriptEntry) {
	if strings.TrimSpace(e.Text) == "" {
		return
	}
	r := Record{SessionID: sessionID, Speaker: string(e.Speaker), Text: e.Text, At: e.At}
	select {
	case <-f.ctx.Done():
		return
	default:
	}
	select {
	case f.queue <- r:
	default:
		n := atomic.AddInt64(&f.dropped, 1)
		metrics.ForwardedTranscripts.WithLabelValues("queue", "dropped").Inc()
		if n == 1 || n%100 == 0 {
			logging.Warnw("forward: queue full, dropping transcript", "dropped", n, "session.id", sessionID)
		}
	}
}

// Dropped returns how many records were dropped on a full queue.
func (f *Forwarder) Dropped() int64 { return atomic.LoadInt64(&f.dropped) }

func (f *Forwarder) run() {
	defer f.wg.Done()
	for {
		select {
		case <-f.ctx.Done():
			f.drain()
			return
		case r := <-f.queue:
			f.deliver(f.ctx, r)
		}
	}
}

// drain sends what is already queued with a short deadline.
func (f *Forwarder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case r := <-f.queue:
			f.deliver(ctx, r)
		default:
			return
		}
	}
}

func (f *Forwarder) deliver(ctx context.Context, r Record) {
	for _, s := range f.sinks {
		if err := s.Send(ctx, r); err != nil {
			metrics.ForwardedTranscripts.WithLabelValues(s.Name(), "error").Inc()
			logging.Warnw("forward: delivery failed", "sink", s.Name(), "err", err, "session.id", r.SessionID)
			continue
		}
		metrics.ForwardedTranscripts.WithLabelValues(s.Name(), "ok").Inc()
	}
}

// Close stops the worker after flushing queued records.
func (f *Forwarder) Close() error {
	f.once.Do(func() {
		f.cancel()
		f.wg.Wait()
	})
	return nil
}
