package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/astra-live-lab/internal/audio"
	"github.com/astra-live-lab/internal/capture"
	"github.com/astra-live-lab/internal/live"
)

// Client messages.

type clientMessage struct {
	Setup         *setupMessage  `json:"setup,omitempty"`
	RealtimeInput *realtimeInput `json:"realtimeInput,omitempty"`
}

type setupMessage struct {
	Model                    string            `json:"model"`
	GenerationConfig         *generationConfig `json:"generationConfig,omitempty"`
	SystemInstruction        *content          `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}         `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}         `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoice `json:"prebuiltVoiceConfig"`
}

type prebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Parts []part `json:"parts"`
}

type realtimeInput struct {
	Audio *blob `json:"audio,omitempty"`
	Video *blob `json:"video,omitempty"`
}

type blob struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// Server messages.

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	GoAway        *goAway        `json:"goAway,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

func modelName(m string) string {
	if strings.HasPrefix(m, "models/") {
		return m
	}
	return "models/" + m
}

func newSetup(cfg live.SessionConfig) clientMessage {
	s := &setupMessage{Model: modelName(cfg.Model)}
	gc := &generationConfig{ResponseModalities: cfg.ResponseModalities}
	if cfg.VoiceName != "" {
		gc.SpeechConfig = &speechConfig{VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoice{VoiceName: cfg.VoiceName}}}
	}
	s.GenerationConfig = gc
	if cfg.SystemInstruction != "" {
		s.SystemInstruction = &content{Parts: []part{{Text: cfg.SystemInstruction}}}
	}
	if cfg.InputTranscription {
		s.InputAudioTranscription = &struct{}{}
	}
	if cfg.OutputTranscription {
		s.OutputAudioTranscription = &struct{}{}
	}
	return clientMessage{Setup: s}
}

// newRealtimeInput wraps a captured chunk. Audio goes out as base64 PCM16LE,
// video as base64 JPEG.
func newRealtimeInput(ch capture.Chunk) (clientMessage, error) {
	b := &blob{MIMEType: ch.MIMEType()}
	switch ch.Kind {
	case capture.KindAudio:
		b.Data = audio.Encode(audio.PCM16ToBytes(ch.Samples))
		return clientMessage{RealtimeInput: &realtimeInput{Audio: b}}, nil
	case capture.KindVideo:
		b.Data = audio.Encode(ch.JPEG)
		return clientMessage{RealtimeInput: &realtimeInput{Video: b}}, nil
	default:
		return clientMessage{}, fmt.Errorf("gemini: unsupported chunk kind %v", ch.Kind)
	}
}

// decodeServerMessage maps one server frame to session events. Every inline
// audio part of a model turn becomes its own packet, in order.
func decodeServerMessage(data []byte) (serverMessage, []live.Event, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, nil, fmt.Errorf("gemini: decode server message: %w", err)
	}
	var events []live.Event
	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData == nil || p.InlineData.Data == "" {
					continue
				}
				if p.InlineData.MIMEType != "" && !strings.HasPrefix(p.InlineData.MIMEType, "audio/") {
					continue
				}
				events = append(events, live.AudioPacket{Data: p.InlineData.Data, MIMEType: p.InlineData.MIMEType})
			}
		}
		if sc.InputTranscription != nil {
			events = append(events, live.TranscriptFragment{Speaker: live.SpeakerUser, Text: sc.InputTranscription.Text})
		}
		if sc.OutputTranscription != nil {
			events = append(events, live.TranscriptFragment{Speaker: live.SpeakerAssistant, Text: sc.OutputTranscription.Text})
		}
	}
	if msg.GoAway != nil {
		events = append(events, live.ErrorEvent{Err: fmt.Errorf("gemini: server going away, time left %s", msg.GoAway.TimeLeft)})
	}
	return msg, events, nil
}
