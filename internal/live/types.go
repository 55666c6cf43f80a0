// Package live runs one bidirectional audio/video session against the
// streaming service: it acquires devices, streams captured media out,
// schedules returned audio for gapless playback and keeps a short rolling
// transcript.
package live

import (
	"context"
	"errors"
	"time"

	"github.com/astra-live-lab/internal/capture"
)

var (
	// ErrDeviceAcquisition means the microphone, camera or output device
	// could not be opened.
	ErrDeviceAcquisition = capture.ErrDeviceAcquisition
	// ErrConnection means the streaming session could not be established.
	ErrConnection = errors.New("connection failed")
	// ErrTransport marks non-fatal errors reported on an open stream.
	ErrTransport = errors.New("transport error")
	// ErrAlreadyActive is returned by Start when a session is not idle.
	ErrAlreadyActive = errors.New("session already active")
	// ErrStopped is returned by Start when Stop ran before it completed.
	ErrStopped = errors.New("session stopped during start")
)

// State is the controller lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

var stateNames = []string{"idle", "connecting", "active", "closing"}

// Speaker attributes a transcript entry.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// TranscriptEntry is one transcribed fragment.
type TranscriptEntry struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Event is a message delivered by an open Stream. It is one of AudioPacket,
// TranscriptFragment, ErrorEvent or Closed.
type Event interface {
	liveEvent()
}

// AudioPacket carries base64 PCM returned by the service (24 kHz mono int16).
type AudioPacket struct {
	Data     string
	MIMEType string
}

// TranscriptFragment is a transcription of either side of the conversation.
type TranscriptFragment struct {
	Speaker Speaker
	Text    string
}

// ErrorEvent reports a problem on the stream that does not end it.
type ErrorEvent struct {
	Err error
}

// Closed is the last event of a stream. Err is nil for a clean close.
type Closed struct {
	Err error
}

func (AudioPacket) liveEvent()        {}
func (TranscriptFragment) liveEvent() {}
func (ErrorEvent) liveEvent()         {}
func (Closed) liveEvent()             {}

// SessionConfig is sent to the service when a stream is opened.
type SessionConfig struct {
	Model               string
	ResponseModalities  []string
	VoiceName           string
	SystemInstruction   string
	InputTranscription  bool
	OutputTranscription bool
}

// DefaultSessionConfig returns the Astra persona with audio responses and
// both transcriptions enabled.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Model:               "gemini-2.5-flash-native-audio-preview-12-2025",
		ResponseModalities:  []string{"AUDIO"},
		VoiceName:           "Zephyr",
		SystemInstruction:   "You are Astra, a sophisticated AI entity capable of seeing and hearing. Respond concisely and with a calm, intellectual tone.",
		InputTranscription:  true,
		OutputTranscription: true,
	}
}

// Transport opens streams to the service. Connect returns only once the
// service has acknowledged the session.
type Transport interface {
	Connect(ctx context.Context, cfg SessionConfig) (Stream, error)
}

// Stream is one open session. Events is closed after the stream ends. Send
// is only called from a single goroutine.
type Stream interface {
	Send(ctx context.Context, chunk capture.Chunk) error
	Events() <-chan Event
	Close() error
}

// Listener observes session state and transcript changes. Calls come from
// the controller's goroutines and must not block.
type Listener interface {
	OnState(sessionID string, state State)
	OnTranscript(sessionID string, entry TranscriptEntry)
}

// Recording receives a session's media and transcript as it happens.
type Recording interface {
	UserAudio(samples []int16)
	AssistantAudio(samples []float32, sampleRate int)
	Transcript(speaker, text string, at time.Time)
	Close() error
}
