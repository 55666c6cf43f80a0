package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/astra-live-lab/internal/live"
)

type fakeSession struct {
	mu       sync.Mutex
	startErr error
	starts   int
	stops    int
	entries  []live.TranscriptEntry
}

func (f *fakeSession) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeSession) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeSession) Transcript() []live.TranscriptEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]live.TranscriptEntry(nil), f.entries...)
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	mm, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return mm, cmd
}

func TestSpaceStartsSession(t *testing.T) {
	sess := &fakeSession{}
	m := NewModel(sess, NewBridge(4), 0)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeySpace})
	if m.state != live.StateConnecting || cmd == nil {
		t.Fatalf("state=%v cmd=%v", m.state, cmd)
	}
	if !strings.Contains(m.View(), "ESTABLISHING LINK") {
		t.Fatalf("view while connecting:\n%s", m.View())
	}
	msg := cmd()
	if _, ok := msg.(startedMsg); !ok || sess.starts != 1 {
		t.Fatalf("start cmd returned %T, starts=%d", msg, sess.starts)
	}
}

func TestStartFailureShowsError(t *testing.T) {
	sess := &fakeSession{startErr: errors.New("device acquisition failed: no microphone")}
	m := NewModel(sess, NewBridge(4), 0)
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeySpace})
	m, _ = update(t, m, cmd())
	if m.state != live.StateIdle {
		t.Fatalf("state after failure: %v", m.state)
	}
	if !strings.Contains(m.View(), "no microphone") {
		t.Fatalf("error not shown:\n%s", m.View())
	}
}

func TestBridgeEventsDriveView(t *testing.T) {
	sess := &fakeSession{}
	b := NewBridge(8)
	m := NewModel(sess, b, 0)
	if !strings.Contains(m.View(), "Waiting for vocal input stream") {
		t.Fatalf("empty transcript view:\n%s", m.View())
	}

	b.OnState("s1", live.StateActive)
	m, cmd := update(t, m, m.listenForEvents()())
	if m.state != live.StateActive || m.sessionID != "s1" || cmd == nil {
		t.Fatalf("state msg not applied: %+v", m.state)
	}
	view := m.View()
	if !strings.Contains(view, "PCM Stream Active • 16kHz") || !strings.Contains(view, "TERMINATE SESSION") {
		t.Fatalf("active view:\n%s", view)
	}

	sess.entries = []live.TranscriptEntry{
		{Speaker: live.SpeakerUser, Text: "what do you see"},
		{Speaker: live.SpeakerAssistant, Text: "a desk"},
	}
	b.OnTranscript("s1", sess.entries[1])
	m, _ = update(t, m, m.listenForEvents()())
	view = m.View()
	if !strings.Contains(view, "YOU") || !strings.Contains(view, "what do you see") || !strings.Contains(view, "ASTRA") || !strings.Contains(view, "a desk") {
		t.Fatalf("transcript view:\n%s", view)
	}

	m, cmd = update(t, m, tea.KeyMsg{Type: tea.KeySpace})
	if cmd == nil {
		t.Fatalf("expected stop cmd")
	}
	if _, ok := cmd().(stoppedMsg); !ok || sess.stops != 1 {
		t.Fatalf("stop not issued: stops=%d", sess.stops)
	}
	_ = m
}

func TestQuitStopsSession(t *testing.T) {
	sess := &fakeSession{}
	m := NewModel(sess, NewBridge(1), 0)
	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatalf("expected quit cmd")
	}
}

func TestBridgeDropsWhenFull(t *testing.T) {
	b := NewBridge(1)
	b.OnState("s", live.StateConnecting)
	b.OnState("s", live.StateActive)
	b.OnState("s", live.StateClosing)
	if b.Dropped() != 2 {
		t.Fatalf("dropped: %d", b.Dropped())
	}
}
