package forward

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/astra-live-lab/internal/live"
)

func TestPostWithRetriesRecoversFromServerError(t *testing.T) {
	var calls int32
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	status, err := PostWithRetries(context.Background(), nil, ts.URL, []byte(`{}`), "tok", time.Second, 3, "s1")
	if err != nil {
		t.Fatalf("PostWithRetries: %v", err)
	}
	if status != http.StatusNoContent || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("status=%d calls=%d", status, calls)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("auth header: %q", gotAuth)
	}
}

func TestPostWithRetriesGivesUp(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer ts.Close()
	if _, err := PostWithRetries(context.Background(), nil, ts.URL, nil, "", time.Second, 2, ""); err == nil {
		t.Fatalf("expected error")
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls: %d", calls)
	}
}

func TestHTTPSinkClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer ts.Close()
	s := &HTTPSink{URL: ts.URL, Attempts: 3}
	if err := s.Send(context.Background(), Record{Text: "x"}); err == nil {
		t.Fatalf("expected error for 400")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls: %d", calls)
	}
}

func TestForwarderDeliversToHTTP(t *testing.T) {
	var mu sync.Mutex
	var got []Record
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rec Record
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		got = append(got, rec)
		mu.Unlock()
	}))
	defer ts.Close()

	f := New([]Sink{&HTTPSink{URL: ts.URL}}, 8)
	f.OnState("s1", live.StateActive)
	f.OnTranscript("s1", live.TranscriptEntry{Speaker: live.SpeakerUser, Text: "hello", At: time.Now()})
	f.OnTranscript("s1", live.TranscriptEntry{Speaker: live.SpeakerAssistant, Text: "   "})
	f.OnTranscript("s1", live.TranscriptEntry{Speaker: live.SpeakerAssistant, Text: "hi"})
	_ = f.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("delivered: %+v", got)
	}
	if got[0].SessionID != "s1" || got[0].Speaker != "user" || got[1].Text != "hi" {
		t.Fatalf("records: %+v", got)
	}
}

type blockingSink struct {
	release chan struct{}
	sent    int32
}

func (b *blockingSink) Name() string { return "block" }
func (b *blockingSink) Send(ctx context.Context, r Record) error {
	<-b.release
	atomic.AddInt32(&b.sent, 1)
	return nil
}

func TestForwarderDropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	f := New([]Sink{sink}, 1)
	for i := 0; i < 10; i++ {
		f.OnTranscript("s", live.TranscriptEntry{Text: "x"})
	}
	if f.Dropped() == 0 {
		t.Fatalf("expected drops with a full queue")
	}
	close(sink.release)
	_ = f.Close()
	_ = f.Close()
	if sent := atomic.LoadInt32(&sink.sent); sent < 1 || sent > 2 {
		t.Fatalf("sent: %d", sent)
	}
}

type fakeWebhook struct {
	id, token string
	params    *discordgo.WebhookParams
	err       error
}

func (f *fakeWebhook) WebhookExecute(id, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.id, f.token, f.params = id, token, data
	return nil, f.err
}

func TestDiscordSinkFormatsSpeaker(t *testing.T) {
	fw := &fakeWebhook{}
	s := &DiscordSink{WebhookID: "123", Token: "abc", Username: "Astra Live", exec: fw}
	if err := s.Send(context.Background(), Record{Speaker: "user", Text: "hello"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if fw.id != "123" || fw.token != "abc" || fw.params.Content != "**YOU**: hello" || fw.params.Username != "Astra Live" {
		t.Fatalf("webhook call: id=%s token=%s params=%+v", fw.id, fw.token, fw.params)
	}
	_ = s.Send(context.Background(), Record{Speaker: "assistant", Text: "hi"})
	if fw.params.Content != "**ASTRA**: hi" {
		t.Fatalf("assistant label: %q", fw.params.Content)
	}
	fw.err = errors.New("rate limited")
	if err := s.Send(context.Background(), Record{Text: "x"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewDiscordSinkRequiresCredentials(t *testing.T) {
	if _, err := NewDiscordSink("", "tok"); err == nil {
		t.Fatalf("expected error")
	}
	s, err := NewDiscordSink("1", "tok")
	if err != nil || s.exec == nil {
		t.Fatalf("NewDiscordSink: %v", err)
	}
}
