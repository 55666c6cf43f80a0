// Package config loads runtime settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/astra-live-lab/internal/capture"
	"github.com/astra-live-lab/internal/live"
	"github.com/astra-live-lab/llm"
)

// DefaultPath is read when no path is given. A missing default file is not
// an error.
const DefaultPath = "live.yaml"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	APIKey   string `yaml:"api_key"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	Live    LiveConfig    `yaml:"live"`
	Capture CaptureConfig `yaml:"capture"`
	Control ControlConfig `yaml:"control"`
	Record  RecordConfig  `yaml:"record"`
	Forward ForwardConfig `yaml:"forward"`
	Models  llm.Models    `yaml:"models"`

	// Path is the file the config was read from, empty if none.
	Path string `yaml:"-"`
}

type LiveConfig struct {
	Endpoint            string        `yaml:"endpoint"`
	Model               string        `yaml:"model"`
	Voice               string        `yaml:"voice"`
	SystemInstruction   string        `yaml:"system_instruction"`
	InputTranscription  bool          `yaml:"input_transcription"`
	OutputTranscription bool          `yaml:"output_transcription"`
	TranscriptWindow    int           `yaml:"transcript_window"`
	QueueSize           int           `yaml:"queue_size"`
	SetupTimeout        time.Duration `yaml:"setup_timeout"`
	PingInterval        time.Duration `yaml:"ping_interval"`
	StartTimeout        time.Duration `yaml:"start_timeout"`
}

type CaptureConfig struct {
	FrameSamples  int           `yaml:"frame_samples"`
	VideoInterval time.Duration `yaml:"video_interval"`
	JPEGQuality   int           `yaml:"jpeg_quality"`
	CameraDevice  int           `yaml:"camera_device"`
	CameraWidth   int           `yaml:"camera_width"`
	CameraHeight  int           `yaml:"camera_height"`
}

type ControlConfig struct {
	// Addr is the listen address; empty disables the control server.
	Addr string `yaml:"addr"`
}

type RecordConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Dir         string        `yaml:"dir"`
	MaxDuration time.Duration `yaml:"max_duration"`
	Retention   time.Duration `yaml:"retention"`
	MaxFiles    int           `yaml:"max_files"`
	Locking     bool          `yaml:"sidecar_locking"`
}

type ForwardConfig struct {
	URL              string        `yaml:"url"`
	AuthToken        string        `yaml:"auth_token"`
	Timeout          time.Duration `yaml:"timeout"`
	Attempts         int           `yaml:"attempts"`
	QueueSize        int           `yaml:"queue_size"`
	DiscordWebhookID string        `yaml:"discord_webhook_id"`
	DiscordToken     string        `yaml:"discord_webhook_token"`
	DiscordUsername  string        `yaml:"discord_username"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	sc := live.DefaultSessionConfig()
	return Config{
		LogLevel: "info",
		Live: LiveConfig{
			Model:               sc.Model,
			Voice:               sc.VoiceName,
			SystemInstruction:   sc.SystemInstruction,
			InputTranscription:  sc.InputTranscription,
			OutputTranscription: sc.OutputTranscription,
			TranscriptWindow:    live.TranscriptWindow,
			QueueSize:           live.DefaultQueueSize,
			SetupTimeout:        30 * time.Second,
			PingInterval:        30 * time.Second,
			StartTimeout:        time.Minute,
		},
		Capture: CaptureConfig{
			FrameSamples:  capture.FrameSamples,
			VideoInterval: capture.DefaultVideoInterval,
			JPEGQuality:   capture.DefaultJPEGQuality,
			CameraWidth:   640,
			CameraHeight:  480,
		},
		Control: ControlConfig{Addr: "127.0.0.1:8765"},
		Record: RecordConfig{
			MaxDuration: 30 * time.Minute,
			Retention:   7 * 24 * time.Hour,
			MaxFiles:    200,
		},
		Forward: ForwardConfig{
			Timeout:         5 * time.Second,
			Attempts:        3,
			DiscordUsername: "Astra Live",
		},
		Models: llm.DefaultModels(),
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path means DefaultPath, which may be absent.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
		cfg.Path = path
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}
	if v := get("GEMINI_API_KEY"); v != "" {
		c.APIKey = v
	} else if v := get("API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := get("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := get("LIVE_MODEL"); v != "" {
		c.Live.Model = v
	}
	if v := get("LIVE_VOICE"); v != "" {
		c.Live.Voice = v
	}
	if v, ok := lookup("CONTROL_ADDR"); ok {
		c.Control.Addr = strings.TrimSpace(v)
	}
	if v := get("SAVE_AUDIO_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Record.Enabled = b
		}
	}
	if v := get("SAVE_AUDIO_DIR"); v != "" {
		c.Record.Dir = v
	}
	if v := get("SIDECAR_LOCKING"); v != "" {
		c.Record.Locking = strings.EqualFold(v, "true")
	}
	if v := get("TEXT_FORWARD_URL"); v != "" {
		c.Forward.URL = v
	}
	if v := get("FORWARD_AUTH_TOKEN"); v != "" {
		c.Forward.AuthToken = v
	}
	if v := get("DISCORD_WEBHOOK_ID"); v != "" {
		c.Forward.DiscordWebhookID = v
	}
	if v := get("DISCORD_WEBHOOK_TOKEN"); v != "" {
		c.Forward.DiscordToken = v
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Capture.FrameSamples <= 0:
		return fmt.Errorf("%w: capture.frame_samples must be positive", ErrInvalid)
	case c.Capture.VideoInterval <= 0:
		return fmt.Errorf("%w: capture.video_interval must be positive", ErrInvalid)
	case c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100:
		return fmt.Errorf("%w: capture.jpeg_quality must be within 1..100", ErrInvalid)
	case c.Live.Model == "":
		return fmt.Errorf("%w: live.model is required", ErrInvalid)
	case c.Live.TranscriptWindow < 0:
		return fmt.Errorf("%w: live.transcript_window must not be negative", ErrInvalid)
	case c.Record.Enabled && c.Record.Dir == "":
		return fmt.Errorf("%w: record.dir is required when recording is enabled", ErrInvalid)
	case (c.Forward.DiscordWebhookID == "") != (c.Forward.DiscordToken == ""):
		return fmt.Errorf("%w: discord webhook id and token must be set together", ErrInvalid)
	}
	return nil
}

// Session returns the settings sent when a live stream opens.
func (c Config) Session() live.SessionConfig {
	return live.SessionConfig{
		Model:               c.Live.Model,
		ResponseModalities:  []string{"AUDIO"},
		VoiceName:           c.Live.Voice,
		SystemInstruction:   c.Live.SystemInstruction,
		InputTranscription:  c.Live.InputTranscription,
		OutputTranscription: c.Live.OutputTranscription,
	}
}

// Pipeline returns the capture tuning.
func (c Config) Pipeline() capture.PipelineOptions {
	return capture.PipelineOptions{
		FrameSamples:  c.Capture.FrameSamples,
		VideoInterval: c.Capture.VideoInterval,
		JPEGQuality:   c.Capture.JPEGQuality,
	}
}

// Devices returns the host device opener.
func (c Config) Devices() capture.SystemDevices {
	return capture.SystemDevices{
		Camera: capture.CameraConfig{
			Device: c.Capture.CameraDevice,
			Width:  c.Capture.CameraWidth,
			Height: c.Capture.CameraHeight,
		},
		FrameSamples: c.Capture.FrameSamples,
	}
}
