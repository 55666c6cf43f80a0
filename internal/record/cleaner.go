package record

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/astra-live-lab/internal/logging"
)

// Cleaner removes old recordings: anything older than Retention, then the
// oldest sessions beyond MaxFiles. A session is its sidecar plus the WAVs it
// names.
type Cleaner struct {
	Dir       string
	Retention time.Duration
	Interval  time.Duration
	MaxFiles  int
}

type recordedSession struct {
	files []string
	mod   time.Time
}

// Start runs Sweep every Interval until ctx is done. Caller must call
// wg.Add(1) first; the goroutine calls wg.Done on exit.
func (c Cleaner) Start(ctx context.Context, wg *sync.WaitGroup) {
	interval := c.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep(time.Now())
			}
		}
	}()
}

// Sweep applies the retention and count limits once and returns how many
// sessions it removed.
func (c Cleaner) Sweep(now time.Time) int {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		logging.Debugw("record: cleanup readDir failed", "dir", c.Dir, "err", err)
		return 0
	}
	var sessions []recordedSession
	for _, fi := range entries {
		name := fi.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		jsonPath := filepath.Join(c.Dir, name)
		st, err := os.Stat(jsonPath)
		if err != nil {
			continue
		}
		rs := recordedSession{files: []string{jsonPath}, mod: st.ModTime()}
		if b, err := os.ReadFile(jsonPath); err == nil {
			var sc Sidecar
			if json.Unmarshal(b, &sc) == nil {
				for _, w := range []string{sc.UserWAV, sc.AssistantWAV} {
					if w != "" {
						rs.files = append(rs.files, filepath.Join(c.Dir, filepath.Base(w)))
					}
				}
			}
		}
		sessions = append(sessions, rs)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].mod.Before(sessions[j].mod) })

	removed := 0
	remove := func(rs recordedSession) {
		for _, f := range rs.files {
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				logging.Debugw("record: cleanup remove failed", "path", f, "err", err)
			}
		}
		removed++
	}
	keep := sessions[:0]
	if c.Retention > 0 {
		cutoff := now.Add(-c.Retention)
		for _, rs := range sessions {
			if rs.mod.Before(cutoff) {
				remove(rs)
				continue
			}
			keep = append(keep, rs)
		}
	} else {
		keep = sessions
	}
	if c.MaxFiles > 0 && len(keep) > c.MaxFiles {
		for _, rs := range keep[:len(keep)-c.MaxFiles] {
			remove(rs)
		}
	}
	if removed > 0 {
		logging.Infow("record: cleanup removed sessions", "dir", c.Dir, "removed", removed)
	}
	return removed
}
