// Package gemini speaks the bidirectional Live protocol over a websocket and
// adapts it to live.Transport.
package gemini

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astra-live-lab/internal/capture"
	"github.com/astra-live-lab/internal/live"
	"github.com/astra-live-lab/internal/logging"
)

// DefaultEndpoint is the public Live API websocket.
const DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

const (
	maxMessageSize   = 16 * 1024 * 1024
	writeWait        = 10 * time.Second
	closeGracePeriod = time.Second
)

// ErrSetup is returned when the service does not acknowledge the session.
var ErrSetup = errors.New("gemini: setup not acknowledged")

// Config configures a Transport. Zero durations select defaults.
type Config struct {
	Endpoint         string
	APIKey           string
	HandshakeTimeout time.Duration
	SetupTimeout     time.Duration
	PingInterval     time.Duration
	EventBuffer      int
}

func (c *Config) defaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 45 * time.Second
	}
	if c.SetupTimeout <= 0 {
		c.SetupTimeout = 30 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
}

// Transport dials one websocket per session. It never reconnects.
type Transport struct {
	cfg Config
}

// NewTransport returns a Transport for cfg.
func NewTransport(cfg Config) *Transport {
	cfg.defaults()
	return &Transport{cfg: cfg}
}

// Connect dials the endpoint, sends the setup message and waits for the
// service to acknowledge it.
func (t *Transport) Connect(ctx context.Context, sc live.SessionConfig) (live.Stream, error) {
	header := http.Header{}
	if t.cfg.APIKey != "" {
		header.Set("x-goog-api-key", t.cfg.APIKey)
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: t.cfg.HandshakeTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
	}
	logging.Debugw("gemini: dialing", "endpoint", t.cfg.Endpoint, "model", sc.Model)
	conn, resp, err := dialer.DialContext(ctx, t.cfg.Endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("gemini: dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	// Unblock the setup read if ctx ends first.
	stopWatch := context.AfterFunc(ctx, func() { _ = conn.Close() })
	if err := t.setup(conn, sc); err != nil {
		stopWatch()
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if !stopWatch() {
		return nil, ctx.Err()
	}

	s := newStream(conn, t.cfg)
	logging.Infow("gemini: session established", "model", sc.Model, "voice", sc.VoiceName)
	return s, nil
}

func (t *Transport) setup(conn *websocket.Conn, sc live.SessionConfig) error {
	data, err := json.Marshal(newSetup(sc))
	if err != nil {
		return fmt.Errorf("gemini: encode setup: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("gemini: send setup: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	_ = conn.SetReadDeadline(time.Now().Add(t.cfg.SetupTimeout))
	defer conn.SetReadDeadline(time.Time{})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSetup, err)
		}
		msg, _, err := decodeServerMessage(raw)
		if err != nil {
			logging.Debugw("gemini: ignoring undecodable frame during setup", "err", err)
			continue
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

type stream struct {
	conn   *websocket.Conn
	events chan live.Event

	writeMu sync.Mutex

	closeOnce sync.Once
	closing   chan struct{}
	wg        sync.WaitGroup
}

func newStream(conn *websocket.Conn, cfg Config) *stream {
	s := &stream{
		conn:    conn,
		events:  make(chan live.Event, cfg.EventBuffer),
		closing: make(chan struct{}),
	}
	s.wg.Add(2)
	go s.readLoop()
	go s.heartbeat(cfg.PingInterval)
	return s
}

func (s *stream) Events() <-chan live.Event { return s.events }

// Send encodes ch as realtime input. Writes are serialized with pings.
func (s *stream) Send(ctx context.Context, ch capture.Chunk) error {
	msg, err := newRealtimeInput(ch)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("gemini: encode input: %w", err)
	}
	select {
	case <-s.closing:
		return errors.New("gemini: stream closed")
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	deadline := time.Now().Add(writeWait)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("gemini: write: %w", err)
	}
	return nil
}

// Close sends a normal close frame and releases the connection. The event
// channel is closed once the read loop has exited.
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closing)
		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(closeGracePeriod))
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}

func (s *stream) emit(ev live.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.closing:
		return false
	}
}

func (s *stream) readLoop() {
	defer s.wg.Done()
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closing:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.emit(live.Closed{})
			} else {
				s.emit(live.Closed{Err: fmt.Errorf("gemini: read: %w", err)})
			}
			return
		}
		msg, events, err := decodeServerMessage(data)
		if err != nil {
			if !s.emit(live.ErrorEvent{Err: err}) {
				return
			}
			continue
		}
		if msg.ServerContent != nil && msg.ServerContent.Interrupted {
			logging.Debugw("gemini: model turn interrupted")
		}
		for _, ev := range events {
			if !s.emit(ev) {
				return
			}
		}
	}
}

func (s *stream) heartbeat(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.closing:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				logging.Debugw("gemini: ping failed", "err", err)
				return
			}
		}
	}
}
