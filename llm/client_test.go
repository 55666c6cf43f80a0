package llm

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/genai"
)

type call struct {
	model string
	cfg   *genai.GenerateContentConfig
}

type fakeGenerator struct {
	calls []call
	// errs maps model name to the error it returns.
	errs map[string]error
	resp *genai.GenerateContentResponse
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls = append(f.calls, call{model: model, cfg: cfg})
	if err, ok := f.errs[model]; ok {
		return nil, err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return textResponse("ok from " + model), nil
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
	}}}
}

func newTestClient(gen Generator) *Client {
	c := NewClient(gen, DefaultModels())
	c.backoff = 0
	return c
}

func TestModelSelectionAndFallback(t *testing.T) {
	models := DefaultModels()
	gen := &fakeGenerator{errs: map[string]error{models.Chat: genai.APIError{Code: 500, Message: "server error"}}}
	client := newTestClient(gen)

	resp, err := client.Generate(context.Background(), Request{Prompt: "hello"})
	if err != nil {
		t.Fatalf("expected success via fallback, got err: %v", err)
	}
	if resp.Text != "ok from "+models.Fallback || resp.Model != models.Fallback {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(gen.calls) != 2 || gen.calls[0].model != models.Chat {
		t.Fatalf("calls: %+v", gen.calls)
	}
}

func TestPermanentError(t *testing.T) {
	gen := &fakeGenerator{errs: map[string]error{DefaultModels().Chat: &genai.APIError{Code: 401, Message: "unauthorized"}}}
	client := newTestClient(gen)

	_, err := client.Generate(context.Background(), Request{Prompt: "hi"})
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("expected permanent error, got: %v", err)
	}
	if len(gen.calls) != 1 {
		t.Fatalf("permanent errors must not fall back, calls=%d", len(gen.calls))
	}
}

func TestRateLimitIsTransient(t *testing.T) {
	models := DefaultModels()
	gen := &fakeGenerator{errs: map[string]error{
		models.Search:   genai.APIError{Code: 429},
		models.Fallback: errors.New("connection reset"),
	}}
	_, err := newTestClient(gen).Generate(context.Background(), Request{Mode: ModeSearch, Prompt: "news"})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient error, got: %v", err)
	}
	if len(gen.calls) != 2 {
		t.Fatalf("calls: %d", len(gen.calls))
	}
}

func TestChatUsesThinkingBudget(t *testing.T) {
	gen := &fakeGenerator{}
	if _, err := newTestClient(gen).Generate(context.Background(), Request{Mode: ModeChat, Prompt: "why"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	tc := gen.calls[0].cfg.ThinkingConfig
	if tc == nil || tc.ThinkingBudget == nil || *tc.ThinkingBudget != 4096 {
		t.Fatalf("thinking config: %+v", tc)
	}
}

func TestImageModeReturnsImage(t *testing.T) {
	gen := &fakeGenerator{resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}},
		}},
	}}}}
	resp, err := newTestClient(gen).Generate(context.Background(), Request{Mode: ModeImage, Prompt: "a nebula"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gen.calls[0].model != DefaultModels().Image {
		t.Fatalf("model: %s", gen.calls[0].model)
	}
	ic := gen.calls[0].cfg.ImageConfig
	if ic == nil || ic.AspectRatio != "1:1" || ic.ImageSize != "1K" {
		t.Fatalf("image config: %+v", ic)
	}
	if len(resp.Images) != 1 || resp.Images[0].MIMEType != "image/png" {
		t.Fatalf("images: %+v", resp.Images)
	}
	if resp.Text != DefaultImageCaption {
		t.Fatalf("caption: %q", resp.Text)
	}
}

func TestSearchModeReturnsLinks(t *testing.T) {
	gen := &fakeGenerator{resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{{Text: "It is sunny."}}},
		GroundingMetadata: &genai.GroundingMetadata{GroundingChunks: []*genai.GroundingChunk{
			{Web: &genai.GroundingChunkWeb{Title: "Weather", URI: "https://example.com/w"}},
			{},
			{Web: &genai.GroundingChunkWeb{URI: "https://example.com/x"}},
		}},
	}}}}
	resp, err := newTestClient(gen).Generate(context.Background(), Request{Mode: ModeSearch, Prompt: "weather"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(gen.calls[0].cfg.Tools) != 1 || gen.calls[0].cfg.Tools[0].GoogleSearch == nil {
		t.Fatalf("search tool not enabled")
	}
	if len(resp.Links) != 2 || resp.Links[0].Title != "Weather" || resp.Links[1].Title != "Source" {
		t.Fatalf("links: %+v", resp.Links)
	}
	if resp.Text != "It is sunny." {
		t.Fatalf("text: %q", resp.Text)
	}
}

func TestEmptyPromptRejected(t *testing.T) {
	gen := &fakeGenerator{}
	if _, err := newTestClient(gen).Generate(context.Background(), Request{Prompt: "  "}); !errors.Is(err, ErrPermanent) {
		t.Fatalf("expected ErrPermanent, got %v", err)
	}
	if len(gen.calls) != 0 {
		t.Fatalf("generator should not be called")
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeChat, "IMAGE": ModeImage, " search ": ModeSearch} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseMode("video"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
