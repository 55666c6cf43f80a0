package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/astra-live-lab/internal/audio"
	"github.com/astra-live-lab/internal/capture"
	"github.com/astra-live-lab/internal/logging"
	"github.com/astra-live-lab/internal/metrics"
	"github.com/astra-live-lab/internal/playback"
)

// DefaultQueueSize bounds the outbound chunk queue.
const DefaultQueueSize = 64

// Options wires a Controller to its collaborators. Transport, Devices and
// OpenOutput are required.
type Options struct {
	Transport  Transport
	Devices    capture.DeviceOpener
	OpenOutput func(ctx context.Context, sampleRate int) (playback.Device, error)
	Session    SessionConfig
	Capture    capture.PipelineOptions
	QueueSize  int
	Listeners  []Listener
	// Recorder, when set, is asked for a Recording each time a session
	// becomes active.
	Recorder         func(sessionID string) (Recording, error)
	TranscriptWindow int
}

// Controller owns at most one live session at a time.
type Controller struct {
	opts       Options
	transcript *Transcript

	mu    sync.Mutex
	state State
	sess  *session
}

// NewController returns an idle controller.
func NewController(opts Options) *Controller {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Session.Model == "" {
		opts.Session = DefaultSessionConfig()
	}
	metrics.SetState(StateIdle.String(), stateNames)
	return &Controller{opts: opts, transcript: NewTranscript(opts.TranscriptWindow)}
}

// Status is a point-in-time summary of the controller.
type Status struct {
	State         string  `json:"state"`
	SessionID     string  `json:"session_id,omitempty"`
	Cursor        float64 `json:"playback_cursor"`
	LivePlayback  int     `json:"live_playback"`
	ActiveTracks  int     `json:"active_tracks"`
	Transcript    int     `json:"transcript_entries"`
	ChunksSent    int64   `json:"chunks_sent"`
	ChunksDropped int64   `json:"chunks_dropped"`
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the current session id, or "" when idle.
func (c *Controller) SessionID() string {
	if s := c.current(); s != nil {
		return s.id
	}
	return ""
}

// Transcript returns the rolling transcript, oldest first.
func (c *Controller) Transcript() []TranscriptEntry { return c.transcript.Entries() }

// Cursor returns the playback cursor of the current session.
func (c *Controller) Cursor() float64 {
	if s := c.current(); s != nil {
		if sched := s.getScheduler(); sched != nil {
			return sched.Cursor()
		}
	}
	return 0
}

// LivePlayback returns the number of scheduled buffers still playing.
func (c *Controller) LivePlayback() int {
	if s := c.current(); s != nil {
		if sched := s.getScheduler(); sched != nil {
			return sched.Live()
		}
	}
	return 0
}

// ActiveTracks returns how many device tracks the current session holds.
func (c *Controller) ActiveTracks() int {
	if s := c.current(); s != nil {
		return s.getMedia().ActiveTracks()
	}
	return 0
}

// Status summarizes the controller.
func (c *Controller) Status() Status {
	st := Status{
		State:        c.State().String(),
		SessionID:    c.SessionID(),
		Cursor:       c.Cursor(),
		LivePlayback: c.LivePlayback(),
		ActiveTracks: c.ActiveTracks(),
		Transcript:   c.transcript.Len(),
	}
	if s := c.current(); s != nil {
		st.ChunksSent, st.ChunksDropped = s.counts()
	}
	return st
}

func (c *Controller) current() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Start opens devices and the remote stream and begins streaming. It
// returns once the session is active or has failed; on failure the
// controller is idle again. ctx bounds only the start itself.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		st := c.state
		c.mu.Unlock()
		logging.Warnw("live: start rejected", "state", st.String())
		return fmt.Errorf("%w: state is %s", ErrAlreadyActive, st)
	}
	s := newSession(c, uuid.NewString())
	c.sess = s
	c.state = StateConnecting
	c.mu.Unlock()
	c.notifyState(s.id, StateConnecting)
	logging.Infow("live: session starting", logging.SessionFields(s.id)...)

	startCtx, cancelStart := context.WithCancel(ctx)
	defer cancelStart()
	stopWatch := context.AfterFunc(s.ctx, cancelStart)
	defer stopWatch()

	if err := c.open(startCtx, s); err != nil {
		if s.isClosed() {
			metrics.Sessions.WithLabelValues("stopped").Inc()
			return ErrStopped
		}
		switch {
		case errors.Is(err, ErrDeviceAcquisition):
			metrics.Sessions.WithLabelValues("device_error").Inc()
		default:
			metrics.Sessions.WithLabelValues("connection_error").Inc()
		}
		logging.Warnw("live: session start failed", append(logging.SessionFields(s.id), "err", err)...)
		c.shutdown(s, true, err)
		return err
	}

	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		metrics.Sessions.WithLabelValues("stopped").Inc()
		return ErrStopped
	}
	c.state = StateActive
	c.mu.Unlock()
	metrics.Sessions.WithLabelValues("active").Inc()
	c.notifyState(s.id, StateActive)
	logging.Infow("live: session active", logging.SessionFields(s.id)...)
	return nil
}

// open performs the Connecting phase: devices, output, stream, then the
// session goroutines and capture.
func (c *Controller) open(ctx context.Context, s *session) error {
	media, err := capture.Acquire(ctx, c.opts.Devices)
	if err != nil {
		return err
	}
	if !s.attach(func() { s.media = media }) {
		_ = media.Stop()
		return ErrStopped
	}

	out, err := c.opts.OpenOutput(ctx, audio.OutputSampleRate)
	if err != nil {
		return fmt.Errorf("%w: output: %v", ErrDeviceAcquisition, err)
	}
	if !s.attach(func() {
		s.output = out
		s.scheduler = playback.NewScheduler(out, out)
	}) {
		_ = out.Close()
		return ErrStopped
	}

	stream, err := c.opts.Transport.Connect(ctx, c.opts.Session)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if !s.attach(func() { s.stream = stream }) {
		_ = stream.Close()
		return ErrStopped
	}

	if c.opts.Recorder != nil {
		rec, err := c.opts.Recorder(s.id)
		if err != nil {
			logging.Warnw("live: recording disabled for session", append(logging.SessionFields(s.id), "err", err)...)
		} else if !s.attach(func() { s.recording = rec }) {
			_ = rec.Close()
			return ErrStopped
		}
	}

	pipeline := capture.NewPipeline(media, s.enqueue, c.opts.Capture)
	if !s.attach(func() {
		s.pipeline = pipeline
		s.loopDone = make(chan struct{})
		s.wg.Add(1)
		go s.sendLoop(stream)
		go c.eventLoop(s, stream)
	}) {
		return ErrStopped
	}
	if err := pipeline.Start(s.ctx); err != nil {
		return fmt.Errorf("%w: capture: %v", ErrDeviceAcquisition, err)
	}
	return nil
}

// Stop tears the session down and returns the controller to idle. It is
// safe in any state and a no-op when idle.
func (c *Controller) Stop() error {
	c.shutdown(c.current(), true, nil)
	return nil
}

// shutdown moves s through Closing to Idle if s is still the current
// session. waitLoop is false when called from the event loop itself. A
// caller that finds teardown already running waits for it to finish unless
// it is the event loop.
func (c *Controller) shutdown(s *session, waitLoop bool, reason error) {
	if s == nil {
		return
	}
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}
	if s.closing {
		c.mu.Unlock()
		if waitLoop {
			<-s.done
		}
		return
	}
	s.closing = true
	c.state = StateClosing
	c.mu.Unlock()
	c.notifyState(s.id, StateClosing)

	s.teardown(waitLoop)

	c.mu.Lock()
	c.sess = nil
	c.state = StateIdle
	c.mu.Unlock()
	c.notifyState(s.id, StateIdle)
	close(s.done)
	fields := logging.SessionFields(s.id)
	if reason != nil {
		fields = append(fields, "reason", reason.Error())
	}
	logging.Infow("live: session closed", fields...)
}

func (c *Controller) notifyState(sessionID string, st State) {
	metrics.SetState(st.String(), stateNames)
	for _, l := range c.opts.Listeners {
		l.OnState(sessionID, st)
	}
}

func (c *Controller) eventLoop(s *session, stream Stream) {
	defer close(s.loopDone)
	events := stream.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				c.shutdown(s, false, errors.New("stream ended"))
				return
			}
			if s.ctx.Err() != nil {
				return
			}
			if c.handle(s, ev) {
				return
			}
		}
	}
}

// handle processes one event and reports whether the loop should exit.
func (c *Controller) handle(s *session, ev Event) bool {
	switch e := ev.(type) {
	case AudioPacket:
		c.playAudio(s, e)
	case TranscriptFragment:
		c.appendTranscript(s, e)
	case ErrorEvent:
		metrics.TransportErrors.Inc()
		logging.Warnw("live: stream error", append(logging.SessionFields(s.id), "err", fmt.Errorf("%w: %v", ErrTransport, e.Err))...)
	case Closed:
		c.shutdown(s, false, e.Err)
		return true
	default:
		logging.Debugw("live: ignoring unknown event", "type", fmt.Sprintf("%T", ev))
	}
	return false
}

func (c *Controller) playAudio(s *session, p AudioPacket) {
	data, err := audio.Decode(p.Data)
	if err != nil {
		metrics.AudioPackets.WithLabelValues("malformed").Inc()
		logging.Warnw("live: dropping undecodable audio packet", append(logging.SessionFields(s.id), "err", fmt.Errorf("%w: %v", audio.ErrMalformedAudio, err))...)
		return
	}
	buf, err := audio.DecodeAudioBuffer(data, audio.OutputSampleRate, 1)
	if err != nil {
		metrics.AudioPackets.WithLabelValues("malformed").Inc()
		logging.Warnw("live: dropping malformed audio packet", append(logging.SessionFields(s.id), "bytes", len(data), "err", err)...)
		return
	}
	sched := s.getScheduler()
	if sched == nil {
		return
	}
	if _, err := sched.Enqueue(buf); err != nil {
		metrics.AudioPackets.WithLabelValues("rejected").Inc()
		logging.Debugw("live: playback rejected buffer", append(logging.SessionFields(s.id), "err", err)...)
		return
	}
	metrics.AudioPackets.WithLabelValues("ok").Inc()
	if rec := s.getRecording(); rec != nil {
		rec.AssistantAudio(buf.Mono(), buf.SampleRate)
	}
}

func (c *Controller) appendTranscript(s *session, f TranscriptFragment) {
	entry := TranscriptEntry{Speaker: f.Speaker, Text: f.Text, At: time.Now()}
	c.transcript.Append(entry)
	metrics.TranscriptFragments.WithLabelValues(string(f.Speaker)).Inc()
	if rec := s.getRecording(); rec != nil {
		rec.Transcript(string(entry.Speaker), entry.Text, entry.At)
	}
	for _, l := range c.opts.Listeners {
		l.OnTranscript(s.id, entry)
	}
}
