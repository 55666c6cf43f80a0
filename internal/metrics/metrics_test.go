package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesCollectors(t *testing.T) {
	reg := NewRegistry()
	ChunksSent.WithLabelValues("audio").Inc()
	SetState("active", []string{"idle", "active"})

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`astra_live_chunks_sent_total{kind="audio"}`,
		`astra_live_session_state{state="active"} 1`,
		`astra_live_session_state{state="idle"} 0`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
