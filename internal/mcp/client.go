// Package mcp holds the websocket MCP transport shared by the control server
// and its command-line client.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/astra-live-lab/internal/logging"
)

// DefaultKeepAlive is the ping period of a connected wrapper.
const DefaultKeepAlive = 30 * time.Second

// ClientWrapper connects to an MCP server over websocket and manages the
// client session lifecycle.
type ClientWrapper struct {
	// KeepAlive is the ping period; zero means DefaultKeepAlive.
	KeepAlive time.Duration

	client          *sdk.Client
	session         *sdk.ClientSession
	keepaliveCancel context.CancelFunc
	mu              sync.Mutex
}

// NewClientWrapper creates a new wrapper with the given name/version.
func NewClientWrapper(name, version string) *ClientWrapper {
	impl := &sdk.Implementation{Name: name, Version: version}
	return &ClientWrapper{client: sdk.NewClient(impl, nil), KeepAlive: DefaultKeepAlive}
}

// ConnectWebSocket dials the server's websocket endpoint and creates a
// session. http(s) URLs are rewritten to ws(s).
func (w *ClientWrapper) ConnectWebSocket(ctx context.Context, rawurl string) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return err
	}
	if err := w.connect(ctx, NewWebSocketTransport(conn)); err != nil {
		_ = conn.Close()
		return err
	}
	logging.Debugw("mcp: client connected", "url", u.String())
	return nil
}

func (w *ClientWrapper) connect(ctx context.Context, transport sdk.Transport) error {
	sess, err := w.client.Connect(ctx, transport, nil)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.session = sess
	kaCtx, cancel := context.WithCancel(context.Background())
	if prev := w.keepaliveCancel; prev != nil {
		prev()
	}
	w.keepaliveCancel = cancel
	period := w.KeepAlive
	w.mu.Unlock()
	if period <= 0 {
		period = DefaultKeepAlive
	}
	go keepalive(kaCtx, sess, period)
	return nil
}

func keepalive(ctx context.Context, sess *sdk.ClientSession, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, period)
			err := sess.Ping(pingCtx, nil)
			cancel()
			if err != nil && ctx.Err() == nil {
				logging.Debugw("mcp: keepalive ping failed", "err", err)
			}
		}
	}
}

func (w *ClientWrapper) current() (*sdk.ClientSession, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session == nil {
		return nil, errors.New("mcp: not connected")
	}
	return w.session, nil
}

// Tools lists the names of the server's tools.
func (w *ClientWrapper) Tools(ctx context.Context) ([]string, error) {
	sess, err := w.current()
	if err != nil {
		return nil, err
	}
	res, err := sess.ListTools(ctx, &sdk.ListToolsParams{})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(res.Tools))
	for _, t := range res.Tools {
		names = append(names, t.Name)
	}
	return names, nil
}

// CallTool invokes name and returns the concatenated text content. A tool
// that reports an error yields its text as the error.
func (w *ClientWrapper) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	sess, err := w.current()
	if err != nil {
		return "", err
	}
	if args == nil {
		args = map[string]any{}
	}
	res, err := sess.CallTool(ctx, &sdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", err
	}
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*sdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if res.IsError {
		return "", fmt.Errorf("%s: %s", name, text)
	}
	return text, nil
}

// Close ends the session and stops the keepalive.
func (w *ClientWrapper) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.keepaliveCancel != nil {
		w.keepaliveCancel()
		w.keepaliveCancel = nil
	}
	if w.session != nil {
		err := w.session.Close()
		w.session = nil
		return err
	}
	return nil
}
