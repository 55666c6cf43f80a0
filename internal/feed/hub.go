// Package feed broadcasts session state, transcript lines and monitor audio
// to websocket clients.
package feed

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astra-live-lab/internal/audio"
	"github.com/astra-live-lab/internal/live"
	"github.com/astra-live-lab/internal/logging"
	"github.com/astra-live-lab/internal/metrics"
)

const (
	clientBuffer = 64
	writeWait    = 5 * time.Second
	// FrameMillis is the monitor audio frame length.
	FrameMillis = 20
)

// Message is a JSON text frame.
type Message struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id,omitempty"`
	State       string `json:"state,omitempty"`
	Speaker     string `json:"speaker,omitempty"`
	Text        string `json:"text,omitempty"`
	At          string `json:"at,omitempty"`
	AudioFormat string `json:"audio_format,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`
	FrameMillis int    `json:"frame_ms,omitempty"`
}

type outbound struct {
	kind int
	data []byte
}

type client struct {
	conn *websocket.Conn
	send chan outbound
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Hub fans messages out to connected clients. Slow clients lose frames
// rather than block the session.
type Hub struct {
	upgrader websocket.Upgrader
	enc      frameEncoder

	mu        sync.Mutex
	clients   map[*client]struct{}
	lastState *Message
	closed    bool

	monMu   sync.Mutex
	pending []float32

	dropped int64
}

// NewHub returns a hub whose monitor audio is encoded at sampleRate.
func NewHub(sampleRate int) (*Hub, error) {
	if sampleRate <= 0 {
		sampleRate = audio.OutputSampleRate
	}
	enc, err := newFrameEncoder(sampleRate)
	if err != nil {
		return nil, err
	}
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		enc:      enc,
		clients:  make(map[*client]struct{}),
	}, nil
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("feed: upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan outbound, clientBuffer), done: make(chan struct{})}

	hello, _ := json.Marshal(Message{Type: "hello", AudioFormat: h.enc.Format(), SampleRate: h.enc.SampleRate(), FrameMillis: FrameMillis})
	c.send <- outbound{websocket.TextMessage, hello}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.close()
		return
	}
	if h.lastState != nil {
		if b, err := json.Marshal(h.lastState); err == nil {
			c.send <- outbound{websocket.TextMessage, b}
		}
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.FeedClients.Set(float64(n))
	logging.Infow("feed: client connected", "remote", r.RemoteAddr, "clients", n)

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop discards client input and notices disconnects.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer h.remove(c)
	for {
		select {
		case <-c.done:
			return
		case m := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(m.kind, m.data); err != nil {
				logging.Debugw("feed: write failed", "err", err)
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	if ok {
		metrics.FeedClients.Set(float64(n))
		logging.Infow("feed: client disconnected", "clients", n)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many frames were dropped for slow clients.
func (h *Hub) Dropped() int64 { return atomic.LoadInt64(&h.dropped) }

func (h *Hub) broadcast(kind int, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- outbound{kind, data}:
		default:
			atomic.AddInt64(&h.dropped, 1)
		}
	}
}

func (h *Hub) broadcastJSON(m Message) {
	b, err := json.Marshal(m)
	if err != nil {
		logging.Warnw("feed: encode message failed", "err", err)
		return
	}
	h.broadcast(websocket.TextMessage, b)
}

// OnState implements live.Listener.
func (h *Hub) OnState(sessionID string, st live.State) {
	m := Message{Type: "state", SessionID: sessionID, State: st.String()}
	h.mu.Lock()
	h.lastState = &m
	h.mu.Unlock()
	if st == live.StateIdle {
		h.resetMonitor()
	}
	h.broadcastJSON(m)
}

// OnTranscript implements live.Listener.
func (h *Hub) OnTranscript(sessionID string, e live.TranscriptEntry) {
	h.broadcastJSON(Message{Type: "transcript", SessionID: sessionID, Speaker: string(e.Speaker), Text: e.Text, At: e.At.UTC().Format(time.RFC3339Nano)})
}

// Monitor receives rendered output blocks and sends them to clients in
// FrameMillis frames. It copies block before returning.
func (h *Hub) Monitor(block []float32) {
	frame := h.enc.SampleRate() * FrameMillis / 1000
	h.monMu.Lock()
	h.pending = append(h.pending, block...)
	var frames [][]float32
	for len(h.pending) >= frame {
		f := make([]float32, frame)
		copy(f, h.pending[:frame])
		frames = append(frames, f)
		h.pending = h.pending[frame:]
	}
	if len(h.pending) == 0 {
		h.pending = nil
	}
	h.monMu.Unlock()

	if h.Clients() == 0 {
		return
	}
	for _, f := range frames {
		pkt, err := h.enc.Encode(audio.FloatToPCM16(f))
		if err != nil {
			logging.Debugw("feed: encode monitor frame failed", "err", err)
			continue
		}
		h.broadcast(websocket.BinaryMessage, pkt)
	}
}

func (h *Hub) resetMonitor() {
	h.monMu.Lock()
	h.pending = nil
	h.monMu.Unlock()
}

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
	return nil
}
