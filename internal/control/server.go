// Package control exposes the live session over HTTP: MCP tools on a
// websocket, Prometheus metrics, a health check and the feed.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/astra-live-lab/internal/live"
	"github.com/astra-live-lab/internal/logging"
	"github.com/astra-live-lab/internal/mcp"
	"github.com/astra-live-lab/internal/metrics"
)

// Session is the part of live.Controller the tools drive.
type Session interface {
	Start(ctx context.Context) error
	Stop() error
	Status() live.Status
	Transcript() []live.TranscriptEntry
}

// Options configures a Server.
type Options struct {
	Name    string
	Version string
	// Registry backs /metrics; nil disables the endpoint.
	Registry *prometheus.Registry
	// Feed, when set, is mounted on /feed.
	Feed http.Handler
	// StartTimeout bounds live_start.
	StartTimeout time.Duration
}

// Server serves the control endpoints.
type Server struct {
	sess     Session
	opts     Options
	mcp      *sdk.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*sdk.ServerSession]struct{}
	wg       sync.WaitGroup
}

type emptyArgs struct{}

type transcriptArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of most recent entries to return"`
}

// NewServer registers the live_* tools over sess.
func NewServer(sess Session, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "astra-live"
	}
	if opts.Version == "" {
		opts.Version = "v0.0.0"
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = time.Minute
	}
	s := &Server{
		sess:     sess,
		opts:     opts,
		mcp:      sdk.NewServer(&sdk.Implementation{Name: opts.Name, Version: opts.Version}, nil),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		sessions: make(map[*sdk.ServerSession]struct{}),
	}
	s.registerTools()
	return s
}

func textResult(v interface{}) *sdk.CallToolResult {
	var text string
	switch t := v.(type) {
	case string:
		text = t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return errorResult(err)
		}
		text = string(b)
	}
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: text}}}
}

func errorResult(err error) *sdk.CallToolResult {
	return &sdk.CallToolResult{IsError: true, Content: []sdk.Content{&sdk.TextContent{Text: err.Error()}}}
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcp, &sdk.Tool{Name: "live_start", Description: "Open the microphone, camera and speaker and start a live session"},
		func(ctx context.Context, req *sdk.CallToolRequest, _ emptyArgs) (*sdk.CallToolResult, any, error) {
			startCtx, cancel := context.WithTimeout(ctx, s.opts.StartTimeout)
			defer cancel()
			if err := s.sess.Start(startCtx); err != nil {
				logging.Warnw("control: live_start failed", "err", err)
				return errorResult(err), nil, nil
			}
			return textResult(s.sess.Status()), nil, nil
		})
	sdk.AddTool(s.mcp, &sdk.Tool{Name: "live_stop", Description: "Stop the live session and release all devices"},
		func(ctx context.Context, req *sdk.CallToolRequest, _ emptyArgs) (*sdk.CallToolResult, any, error) {
			if err := s.sess.Stop(); err != nil {
				return errorResult(err), nil, nil
			}
			return textResult(s.sess.Status()), nil, nil
		})
	sdk.AddTool(s.mcp, &sdk.Tool{Name: "live_status", Description: "Report session state, playback cursor and stream counters"},
		func(ctx context.Context, req *sdk.CallToolRequest, _ emptyArgs) (*sdk.CallToolResult, any, error) {
			return textResult(s.sess.Status()), nil, nil
		})
	sdk.AddTool(s.mcp, &sdk.Tool{Name: "live_transcript", Description: "Return the rolling transcript, oldest first"},
		func(ctx context.Context, req *sdk.CallToolRequest, args transcriptArgs) (*sdk.CallToolResult, any, error) {
			entries := s.sess.Transcript()
			if args.Limit > 0 && len(entries) > args.Limit {
				entries = entries[len(entries)-args.Limit:]
			}
			return textResult(entries), nil, nil
		})
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "state": s.sess.Status().State})
	})
	mux.HandleFunc("/mcp/ws", s.serveMCP)
	if s.opts.Registry != nil {
		mux.Handle("/metrics", metrics.Handler(s.opts.Registry))
	}
	if s.opts.Feed != nil {
		mux.Handle("/feed", s.opts.Feed)
	}
	return mux
}

func (s *Server) serveMCP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("control: ws upgrade failed", "err", err)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ss, err := s.mcp.Connect(context.Background(), mcp.NewWebSocketTransport(conn), nil)
		if err != nil {
			logging.Warnw("control: mcp connect failed", "err", err)
			_ = conn.Close()
			return
		}
		s.mu.Lock()
		s.sessions[ss] = struct{}{}
		s.mu.Unlock()
		logging.Debugw("control: mcp client connected", "remote", r.RemoteAddr)
		if err := ss.Wait(); err != nil {
			logging.Debugw("control: mcp session ended with error", "err", err)
		}
		s.mu.Lock()
		delete(s.sessions, ss)
		s.mu.Unlock()
	}()
}

// closeSessions ends every connected MCP session.
func (s *Server) closeSessions() {
	s.mu.Lock()
	sessions := make([]*sdk.ServerSession, 0, len(s.sessions))
	for ss := range s.sessions {
		sessions = append(sessions, ss)
	}
	s.mu.Unlock()
	for _, ss := range sessions {
		_ = ss.Close()
	}
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	logging.Infow("control: listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.closeSessions()
	s.wg.Wait()
	logging.Infow("control: stopped")
	return err
}
