package record

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/astra-live-lab/internal/logging"
)

// Sidecar is the JSON document written next to a session's WAV files.
type Sidecar struct {
	SessionID           string            `json:"session_id"`
	StartedAt           time.Time         `json:"started_at"`
	EndedAt             time.Time         `json:"ended_at"`
	UserWAV             string            `json:"user_wav,omitempty"`
	AssistantWAV        string            `json:"assistant_wav,omitempty"`
	UserSamples         int               `json:"user_samples"`
	UserSampleRate      int               `json:"user_sample_rate"`
	AssistantSamples    int               `json:"assistant_samples"`
	AssistantSampleRate int               `json:"assistant_sample_rate"`
	Transcript          []TranscriptEntry `json:"transcript"`
	Truncated           bool              `json:"truncated,omitempty"`
}

// TranscriptEntry is one line of the recorded transcript.
type TranscriptEntry struct {
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// SidecarManager finds and updates sidecars in Dir. A nil manager is a
// no-op for lookups.
type SidecarManager struct {
	Dir string
	// Locking takes an advisory flock on <sidecar>.lock around updates.
	Locking bool
}

func NewSidecarManager(dir string, locking bool) *SidecarManager {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	return &SidecarManager{Dir: dir, Locking: locking}
}

// FindBySession returns the path of the sidecar recorded for sessionID, or
// "" when there is none.
func (s *SidecarManager) FindBySession(sessionID string) string {
	if s == nil || s.Dir == "" || sessionID == "" {
		return ""
	}
	files, err := os.ReadDir(s.Dir)
	if err != nil {
		logging.Warnw("sidecar: failed to list dir", "dir", s.Dir, "err", err)
		return ""
	}
	for _, fi := range files {
		name := fi.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(s.Dir, name)
		b, err := os.ReadFile(path)
		if err != nil {
			logging.Debugw("sidecar: failed to read file while searching", "path", path, "err", err, "session.id", sessionID)
			continue
		}
		var sc struct {
			SessionID string `json:"session_id"`
		}
		if json.Unmarshal(b, &sc) == nil && sc.SessionID == sessionID {
			return path
		}
	}
	// fallback: the id is part of the file name
	for _, fi := range files {
		if name := fi.Name(); strings.HasSuffix(name, ".json") && strings.Contains(name, sessionID) {
			return filepath.Join(s.Dir, name)
		}
	}
	return ""
}

// Load reads the sidecar for sessionID.
func (s *SidecarManager) Load(sessionID string) (*Sidecar, error) {
	path := s.FindBySession(sessionID)
	if path == "" {
		return nil, fmt.Errorf("sidecar not found for session=%s", sessionID)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Sidecar
	if err := json.Unmarshal(b, &sc); err != nil {
		return nil, fmt.Errorf("invalid sidecar JSON %s: %w", path, err)
	}
	return &sc, nil
}

// MergeUpdates merges updates into the sidecar recorded for sessionID and
// writes it back atomically.
func (s *SidecarManager) MergeUpdates(sessionID string, updates map[string]interface{}) error {
	if s == nil {
		return fmt.Errorf("sidecar manager not configured")
	}
	path := s.FindBySession(sessionID)
	if path == "" {
		return fmt.Errorf("sidecar not found for session=%s (searched dir=%s)", sessionID, s.Dir)
	}
	if s.Locking {
		unlock, err := lockFile(path + ".lock")
		if err != nil {
			logging.Warnw("sidecar: failed to lock", "path", path, "err", err, "session.id", sessionID)
			return err
		}
		defer unlock()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read sidecar %s: %w", path, err)
	}
	var sc map[string]interface{}
	if err := json.Unmarshal(b, &sc); err != nil {
		return fmt.Errorf("invalid sidecar JSON %s: %w", path, err)
	}
	for k, v := range updates {
		sc[k] = v
	}
	if err := saveJSONAtomic(path, sc); err != nil {
		logging.Warnw("sidecar: failed to save updates", "path", path, "err", err, "session.id", sessionID)
		return fmt.Errorf("failed to write sidecar %s: %w", path, err)
	}
	logging.Infow("sidecar: saved updates", "path", path, "session.id", sessionID)
	return nil
}

func lockFile(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to lock file %s: %w", path, err)
	}
	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
	}, nil
}
