package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "live.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Capture.FrameSamples != 4096 || cfg.Capture.JPEGQuality != 60 || cfg.Capture.VideoInterval != time.Second {
		t.Fatalf("capture defaults: %+v", cfg.Capture)
	}
	sc := cfg.Session()
	if sc.VoiceName != "Zephyr" || !sc.InputTranscription || !sc.OutputTranscription || len(sc.ResponseModalities) != 1 {
		t.Fatalf("session defaults: %+v", sc)
	}
}

func TestLoadFileOverDefaults(t *testing.T) {
	p := writeFile(t, `
live:
  voice: Puck
  transcript_window: 5
capture:
  video_interval: 2s
  jpeg_quality: 80
record:
  enabled: true
  dir: /tmp/rec
models:
  chat: custom-chat
`)
	t.Setenv("LIVE_VOICE", "")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Path != p {
		t.Fatalf("path: %q", cfg.Path)
	}
	if cfg.Live.Voice != "Puck" || cfg.Live.TranscriptWindow != 5 {
		t.Fatalf("live: %+v", cfg.Live)
	}
	if cfg.Live.Model == "" || cfg.Capture.FrameSamples != 4096 {
		t.Fatalf("defaults lost: %+v %+v", cfg.Live, cfg.Capture)
	}
	if cfg.Capture.VideoInterval != 2*time.Second || cfg.Capture.JPEGQuality != 80 {
		t.Fatalf("capture: %+v", cfg.Capture)
	}
	if !cfg.Record.Enabled || cfg.Record.Dir != "/tmp/rec" {
		t.Fatalf("record: %+v", cfg.Record)
	}
	if cfg.Models.Chat != "custom-chat" || cfg.Models.Image == "" {
		t.Fatalf("models: %+v", cfg.Models)
	}
}

func TestEnvironmentWins(t *testing.T) {
	p := writeFile(t, "live:\n  model: from-file\n")
	t.Setenv("GEMINI_API_KEY", "k1")
	t.Setenv("API_KEY", "k2")
	t.Setenv("LIVE_MODEL", "from-env")
	t.Setenv("CONTROL_ADDR", "")
	t.Setenv("SAVE_AUDIO_ENABLED", "true")
	t.Setenv("SAVE_AUDIO_DIR", "/var/rec")
	t.Setenv("TEXT_FORWARD_URL", "http://example.invalid/hook")
	t.Setenv("DISCORD_WEBHOOK_ID", "1")
	t.Setenv("DISCORD_WEBHOOK_TOKEN", "t")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIKey != "k1" || cfg.Live.Model != "from-env" {
		t.Fatalf("overrides: key=%q model=%q", cfg.APIKey, cfg.Live.Model)
	}
	if cfg.Control.Addr != "" {
		t.Fatalf("empty CONTROL_ADDR should disable control, got %q", cfg.Control.Addr)
	}
	if !cfg.Record.Enabled || cfg.Record.Dir != "/var/rec" {
		t.Fatalf("record: %+v", cfg.Record)
	}
	if cfg.Forward.URL == "" || cfg.Forward.DiscordWebhookID != "1" || cfg.Forward.DiscordToken != "t" {
		t.Fatalf("forward: %+v", cfg.Forward)
	}
}

func TestAPIKeyFallback(t *testing.T) {
	cfg := Default()
	env := map[string]string{"API_KEY": " secondary "}
	cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if cfg.APIKey != "secondary" {
		t.Fatalf("api key: %q", cfg.APIKey)
	}
}

func TestMissingDefaultFileIsFine(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if _, err := Load(""); err != nil {
		t.Fatalf("Load without file: %v", err)
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("explicit missing file should fail")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"frame size":   func(c *Config) { c.Capture.FrameSamples = 0 },
		"interval":     func(c *Config) { c.Capture.VideoInterval = 0 },
		"quality low":  func(c *Config) { c.Capture.JPEGQuality = 0 },
		"quality high": func(c *Config) { c.Capture.JPEGQuality = 101 },
		"record dir":   func(c *Config) { c.Record.Enabled = true },
		"discord pair": func(c *Config) { c.Forward.DiscordWebhookID = "1" },
		"model":        func(c *Config) { c.Live.Model = "" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
}

func TestBadYAML(t *testing.T) {
	p := writeFile(t, "live: [unclosed")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected parse error")
	}
}
