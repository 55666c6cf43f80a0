// Command live runs the Astra live session: microphone and camera streamed to
// the model, spoken replies played back, transcripts shown and forwarded.
// With -mode chat|image|search it answers a single prompt instead.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/astra-live-lab/internal/audio"
	"github.com/astra-live-lab/internal/config"
	"github.com/astra-live-lab/internal/control"
	"github.com/astra-live-lab/internal/feed"
	"github.com/astra-live-lab/internal/forward"
	"github.com/astra-live-lab/internal/gemini"
	"github.com/astra-live-lab/internal/live"
	"github.com/astra-live-lab/internal/logging"
	"github.com/astra-live-lab/internal/metrics"
	"github.com/astra-live-lab/internal/playback"
	"github.com/astra-live-lab/internal/record"
	"github.com/astra-live-lab/internal/tui"
	"github.com/astra-live-lab/llm"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code so deferred cleanup, including the
// final log flush, happens on every path.
func run(args []string) int {
	fs := flag.NewFlagSet("live", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file (default live.yaml if present)")
	mode := fs.String("mode", "live", "live, chat, image or search")
	useTUI := fs.Bool("tui", false, "show the terminal view (live mode)")
	autostart := fs.Bool("autostart", false, "start a session immediately (live mode)")
	outDir := fs.String("out", ".", "directory for generated images (image mode)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}

	if *useTUI {
		logFile := cfg.LogFile
		if logFile == "" {
			logFile = "astra-live.log"
		}
		logging.InitFile(logFile)
	} else {
		logging.Init()
	}
	logging.SetLevel(cfg.LogLevel)
	defer func() { _ = logging.Sync() }()

	if cfg.APIKey == "" {
		logging.Errorw("GEMINI_API_KEY or API_KEY required")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *mode != "live" {
		m, err := llm.ParseMode(*mode)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		return runGenerate(ctx, cfg, m, strings.Join(fs.Args(), " "), *outDir)
	}

	if err := runLive(ctx, cfg, *useTUI, *autostart); err != nil {
		logging.Errorw("live: exited with error", "err", err)
		return 1
	}
	logging.Infow("shutdown complete")
	return 0
}

func runLive(ctx context.Context, cfg config.Config, useTUI, autostart bool) error {
	reg := metrics.NewRegistry()

	hub, err := feed.NewHub(audio.OutputSampleRate)
	if err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	defer hub.Close()

	fwd := forward.New(sinks(cfg), cfg.Forward.QueueSize)
	defer fwd.Close()

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bridge := tui.NewBridge(0)
	listeners := []live.Listener{hub, fwd}
	if useTUI {
		listeners = append(listeners, bridge)
	}

	opts := live.Options{
		Transport: gemini.NewTransport(gemini.Config{
			Endpoint:     cfg.Live.Endpoint,
			APIKey:       cfg.APIKey,
			SetupTimeout: cfg.Live.SetupTimeout,
			PingInterval: cfg.Live.PingInterval,
		}),
		Devices:          cfg.Devices(),
		OpenOutput:       openOutput(hub),
		Session:          cfg.Session(),
		Capture:          cfg.Pipeline(),
		QueueSize:        cfg.Live.QueueSize,
		Listeners:        listeners,
		TranscriptWindow: cfg.Live.TranscriptWindow,
	}

	if cfg.Record.Enabled {
		store := record.NewStore(cfg.Record.Dir)
		store.MaxDuration = cfg.Record.MaxDuration
		store.Sidecars = record.NewSidecarManager(cfg.Record.Dir, cfg.Record.Locking)
		opts.Recorder = func(sessionID string) (live.Recording, error) {
			s, err := store.Begin(sessionID)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
		cleaner := record.Cleaner{Dir: cfg.Record.Dir, Retention: cfg.Record.Retention, MaxFiles: cfg.Record.MaxFiles}
		wg.Add(1)
		cleaner.Start(ctx, &wg)
		logging.Infow("recording enabled", "dir", cfg.Record.Dir)
	}

	ctrl := live.NewController(opts)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Control.Addr != "" {
		srv := control.NewServer(ctrl, control.Options{
			Registry:     reg,
			Feed:         hub,
			StartTimeout: cfg.Live.StartTimeout,
		})
		g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Control.Addr) })
	}

	ui, cancelUI := context.WithCancel(gctx)
	defer cancelUI()
	switch {
	case useTUI:
		g.Go(func() error {
			// quitting the view ends the process
			defer cancelUI()
			err := tui.Run(ui, ctrl, bridge, cfg.Live.StartTimeout, autostart)
			if err != nil {
				return fmt.Errorf("tui: %w", err)
			}
			return errQuit
		})
	case autostart:
		g.Go(func() error {
			startCtx, cancel := context.WithTimeout(gctx, cfg.Live.StartTimeout)
			defer cancel()
			if err := ctrl.Start(startCtx); err != nil {
				logging.Errorw("live: start failed", "err", err)
			}
			return nil
		})
	case cfg.Control.Addr == "":
		logging.Warnw("nothing to do: enable -tui, -autostart or control.addr")
		return nil
	}

	g.Go(func() error {
		<-ui.Done()
		return ctrl.Stop()
	})

	err = g.Wait()
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		err = nil
	}
	st := ctrl.Status()
	logging.Infow("live: stopped", "chunks_sent", st.ChunksSent, "chunks_dropped", st.ChunksDropped, "feed_dropped", hub.Dropped(), "forward_dropped", fwd.Dropped())
	return err
}

// errQuit ends the errgroup when the user leaves the terminal view.
var errQuit = errors.New("quit")

func sinks(cfg config.Config) []forward.Sink {
	var out []forward.Sink
	if cfg.Forward.URL != "" {
		out = append(out, &forward.HTTPSink{
			URL:       cfg.Forward.URL,
			AuthToken: cfg.Forward.AuthToken,
			Timeout:   cfg.Forward.Timeout,
			Attempts:  cfg.Forward.Attempts,
		})
	}
	if cfg.Forward.DiscordWebhookID != "" {
		d, err := forward.NewDiscordSink(cfg.Forward.DiscordWebhookID, cfg.Forward.DiscordToken)
		if err != nil {
			logging.Warnw("discord forwarding disabled", "err", err)
		} else {
			if cfg.Forward.DiscordUsername != "" {
				d.Username = cfg.Forward.DiscordUsername
			}
			out = append(out, d)
		}
	}
	return out
}

// openOutput prefers the speaker and falls back to a silent clocked output
// so sessions still run on hosts without one. Both feed the monitor tap.
func openOutput(hub *feed.Hub) func(ctx context.Context, sampleRate int) (playback.Device, error) {
	return func(ctx context.Context, sampleRate int) (playback.Device, error) {
		out, err := playback.OpenSpeaker(sampleRate, hub.Monitor)
		if err != nil {
			logging.Warnw("speaker unavailable; playing to monitor only", "err", err)
			return playback.NewTickerOutput(sampleRate, playback.DefaultTick, hub.Monitor), nil
		}
		return out, nil
	}
}

func runGenerate(ctx context.Context, cfg config.Config, mode llm.Mode, prompt, outDir string) int {
	if strings.TrimSpace(prompt) == "" {
		fmt.Fprintln(os.Stderr, "usage: live -mode chat|image|search <prompt>")
		return 2
	}
	client, err := llm.NewGenAIClient(ctx, cfg.APIKey, cfg.Models)
	if err != nil {
		logging.Errorw("llm: client init failed", "err", err)
		fmt.Println(llm.FailureMessage)
		return 1
	}
	resp, err := client.Generate(ctx, llm.Request{Mode: mode, Prompt: prompt})
	if err != nil {
		logging.Errorw("llm: generate failed", "mode", string(mode), "err", err)
		fmt.Println(llm.FailureMessage)
		return 1
	}

	fmt.Println(resp.Text)
	for i, img := range resp.Images {
		path := filepath.Join(outDir, fmt.Sprintf("astra-%d%s", i+1, imageExt(img.MIMEType)))
		if err := record.SaveFileAtomic(path, img.Data, 0o644); err != nil {
			logging.Errorw("llm: saving image failed", "path", path, "err", err)
			return 1
		}
		fmt.Println(path)
	}
	for _, l := range resp.Links {
		title := l.Title
		if title == "" {
			title = l.URI
		}
		fmt.Printf("- %s (%s)\n", title, l.URI)
	}
	return 0
}

func imageExt(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
