// Package record keeps a copy of each live session on disk: the captured
// microphone audio, the assistant's audio and a JSON sidecar carrying the
// transcript.
package record

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/astra-live-lab/internal/audio"
	"github.com/astra-live-lab/internal/logging"
)

// DefaultMaxDuration caps how much audio per side a session keeps in memory.
const DefaultMaxDuration = 30 * time.Minute

// Store creates Sessions under Dir.
type Store struct {
	Dir         string
	MaxDuration time.Duration
	// Sidecars, when set, is used to find recordings after the fact.
	Sidecars *SidecarManager
}

// NewStore returns a Store writing into dir.
func NewStore(dir string) *Store {
	return &Store{Dir: dir, MaxDuration: DefaultMaxDuration, Sidecars: NewSidecarManager(dir, false)}
}

// Begin starts recording sessionID. Nothing is written until Close.
func (s *Store) Begin(sessionID string) (*Session, error) {
	if s == nil || s.Dir == "" {
		return nil, errors.New("record: no directory configured")
	}
	max := s.MaxDuration
	if max <= 0 {
		max = DefaultMaxDuration
	}
	now := time.Now().UTC()
	return &Session{
		dir:      s.Dir,
		base:     fmt.Sprintf("%s_%s", now.Format("20060102T150405Z"), sessionID),
		id:       sessionID,
		started:  now,
		maxUser:  int(max.Seconds() * audio.InputSampleRate),
		maxModel: int(max.Seconds() * audio.OutputSampleRate),
	}, nil
}

// Session accumulates one session's media. Methods are safe for concurrent
// use; calls after Close are ignored.
type Session struct {
	dir     string
	base    string
	id      string
	started time.Time

	maxUser  int
	maxModel int

	mu         sync.Mutex
	closed     bool
	truncated  bool
	user       []int16
	model      []int16
	modelRate  int
	transcript []TranscriptEntry
}

// Base returns the file name prefix used for this session.
func (r *Session) Base() string { return r.base }

// UserAudio appends captured microphone samples.
func (r *Session) UserAudio(samples []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.user = r.appendCapped(r.user, samples, r.maxUser)
}

// AssistantAudio appends assistant audio. The first call fixes the file's
// sample rate.
func (r *Session) AssistantAudio(samples []float32, sampleRate int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.modelRate == 0 {
		r.modelRate = sampleRate
	}
	r.model = r.appendCapped(r.model, audio.FloatToPCM16(samples), r.maxModel)
}

// Transcript records one transcript entry for the sidecar.
func (r *Session) Transcript(speaker, text string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.transcript = append(r.transcript, TranscriptEntry{Speaker: speaker, Text: text, At: at})
}

func (r *Session) appendCapped(dst, src []int16, max int) []int16 {
	room := max - len(dst)
	if room <= 0 {
		if !r.truncated {
			r.truncated = true
			logging.Warnw("record: session audio exceeds limit, truncating", "session.id", r.id)
		}
		return dst
	}
	if len(src) > room {
		src = src[:room]
	}
	return append(dst, src...)
}

// Close writes the WAV files and the sidecar. Only the first call writes.
func (r *Session) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	user, model, transcript := r.user, r.model, r.transcript
	modelRate := r.modelRate
	if modelRate == 0 {
		modelRate = audio.OutputSampleRate
	}
	sc := Sidecar{
		SessionID:           r.id,
		StartedAt:           r.started,
		EndedAt:             time.Now().UTC(),
		UserSamples:         len(user),
		UserSampleRate:      audio.InputSampleRate,
		AssistantSamples:    len(model),
		AssistantSampleRate: modelRate,
		Transcript:          transcript,
		Truncated:           r.truncated,
	}
	r.mu.Unlock()

	if sc.Transcript == nil {
		sc.Transcript = []TranscriptEntry{}
	}
	var errs []error
	if len(user) > 0 {
		name := r.base + "_user.wav"
		if err := SaveFileAtomic(filepath.Join(r.dir, name), audio.MonoWAV16(user, audio.InputSampleRate), 0o644); err != nil {
			errs = append(errs, fmt.Errorf("user wav: %w", err))
		} else {
			sc.UserWAV = name
		}
	}
	if len(model) > 0 {
		name := r.base + "_assistant.wav"
		if err := SaveFileAtomic(filepath.Join(r.dir, name), audio.MonoWAV16(model, modelRate), 0o644); err != nil {
			errs = append(errs, fmt.Errorf("assistant wav: %w", err))
		} else {
			sc.AssistantWAV = name
		}
	}
	if err := saveJSONAtomic(filepath.Join(r.dir, r.base+".json"), sc); err != nil {
		errs = append(errs, fmt.Errorf("sidecar: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	logging.Infow("record: session saved", "session.id", r.id, "base", r.base,
		"user_samples", sc.UserSamples, "assistant_samples", sc.AssistantSamples, "transcript_entries", len(sc.Transcript))
	return nil
}
