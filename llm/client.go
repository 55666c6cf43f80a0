// Package llm performs the request/response generation modes (reasoning
// chat, image generation and search-grounded answers) on top of the genai
// SDK.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/astra-live-lab/internal/logging"
	"github.com/astra-live-lab/internal/metrics"
)

var (
	ErrPermanent = errors.New("permanent error")
	ErrTransient = errors.New("transient error")
)

// Mode selects how a prompt is answered.
type Mode string

const (
	ModeChat   Mode = "chat"
	ModeImage  Mode = "image"
	ModeSearch Mode = "search"
)

// ParseMode accepts the mode names used on the command line.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeChat, ModeImage, ModeSearch:
		return m, nil
	case "":
		return ModeChat, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

const (
	chatThinkingBudget = 4096
	imageAspectRatio   = "1:1"
	imageSize          = "1K"

	// Shown in place of an empty answer.
	DefaultImageCaption  = "Here is your generated masterpiece:"
	DefaultSearchMissing = "I couldn't find specific information on that."
	// FailureMessage is what a front-end shows when Generate fails.
	FailureMessage = "I encountered a digital singularity error. Please verify your connection or try a different request."
)

// Models names the model used for each mode and the fallback tried once on
// transient failures.
type Models struct {
	Chat          string `yaml:"chat"`
	Image         string `yaml:"image"`
	Search        string `yaml:"search"`
	Fallback      string `yaml:"fallback"`
	ImageFallback string `yaml:"image_fallback"`
}

// DefaultModels returns the models the chat front-end ships with.
func DefaultModels() Models {
	return Models{
		Chat:          "gemini-3-pro-preview",
		Image:         "gemini-3-pro-image-preview",
		Search:        "gemini-3-flash-preview",
		Fallback:      "gemini-2.5-flash",
		ImageFallback: "gemini-2.5-flash-image",
	}
}

func (m Models) primary(mode Mode) string {
	switch mode {
	case ModeImage:
		return m.Image
	case ModeSearch:
		return m.Search
	default:
		return m.Chat
	}
}

func (m Models) fallback(mode Mode) string {
	if mode == ModeImage {
		return m.ImageFallback
	}
	return m.Fallback
}

// Generator is the subset of genai.Models the client needs.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client answers prompts in one of the Modes.
type Client struct {
	gen    Generator
	models Models
	// backoff before the fallback attempt
	backoff time.Duration
}

// NewClient wraps gen. Empty model names fall back to DefaultModels.
func NewClient(gen Generator, models Models) *Client {
	def := DefaultModels()
	if models.Chat == "" {
		models.Chat = def.Chat
	}
	if models.Image == "" {
		models.Image = def.Image
	}
	if models.Search == "" {
		models.Search = def.Search
	}
	return &Client{gen: gen, models: models, backoff: 250 * time.Millisecond}
}

// NewClientFromEnv builds a genai-backed client using GEMINI_API_KEY (or
// API_KEY).
func NewClientFromEnv(ctx context.Context, models Models) (*Client, error) {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		key = os.Getenv("API_KEY")
	}
	return NewGenAIClient(ctx, key, models)
}

// NewGenAIClient builds a client on the Gemini API backend.
func NewGenAIClient(ctx context.Context, apiKey string, models Models) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing API key", ErrPermanent)
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("llm: create genai client: %w", err)
	}
	return NewClient(gc.Models, models), nil
}

// Request is one prompt.
type Request struct {
	Mode   Mode
	Prompt string
	// Model overrides the mode's default model.
	Model string
}

// Image is a generated image.
type Image struct {
	MIMEType string
	Data     []byte
}

// Link is a web source used to ground a search answer.
type Link struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Response is the answer to a Request.
type Response struct {
	Model  string
	Text   string
	Images []Image
	Links  []Link
}

// Generate answers req. Transient failures are retried once on the mode's
// fallback model when it differs from the one that failed.
func (c *Client) Generate(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Response{}, fmt.Errorf("%w: empty prompt", ErrPermanent)
	}
	if req.Mode == "" {
		req.Mode = ModeChat
	}
	model := req.Model
	if model == "" {
		model = c.models.primary(req.Mode)
	}

	resp, err := c.call(ctx, req, model)
	if err == nil {
		return resp, nil
	}
	fallback := c.models.fallback(req.Mode)
	if !errors.Is(err, ErrTransient) || fallback == "" || fallback == model || ctx.Err() != nil {
		return Response{}, err
	}
	logging.Warnw("llm: primary model failed, trying fallback", "mode", string(req.Mode), "model", model, "fallback", fallback, "err", err)
	select {
	case <-ctx.Done():
		return Response{}, fmt.Errorf("%w: %v", ErrTransient, ctx.Err())
	case <-time.After(c.backoff):
	}
	return c.call(ctx, req, fallback)
}

func (c *Client) call(ctx context.Context, req Request, model string) (Response, error) {
	contents := genai.Text(req.Prompt)
	cfg := configFor(req.Mode)
	out, err := c.gen.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		err = classify(err)
		status := "transient"
		if errors.Is(err, ErrPermanent) {
			status = "permanent"
		}
		metrics.GenerateRequests.WithLabelValues(string(req.Mode), model, status).Inc()
		return Response{}, err
	}
	metrics.GenerateRequests.WithLabelValues(string(req.Mode), model, "ok").Inc()
	resp := parseResponse(req.Mode, out)
	resp.Model = model
	logging.Debugw("llm: generated", "mode", string(req.Mode), "model", model, "text_len", len(resp.Text), "images", len(resp.Images), "links", len(resp.Links))
	return resp, nil
}

func configFor(mode Mode) *genai.GenerateContentConfig {
	switch mode {
	case ModeImage:
		return &genai.GenerateContentConfig{
			ImageConfig: &genai.ImageConfig{AspectRatio: imageAspectRatio, ImageSize: imageSize},
		}
	case ModeSearch:
		return &genai.GenerateContentConfig{
			Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
		}
	default:
		return &genai.GenerateContentConfig{
			ThinkingConfig: &genai.ThinkingConfig{ThinkingBudget: genai.Ptr[int32](chatThinkingBudget)},
		}
	}
}

func parseResponse(mode Mode, out *genai.GenerateContentResponse) Response {
	var resp Response
	if out == nil || len(out.Candidates) == 0 || out.Candidates[0] == nil {
		return withDefaults(mode, resp)
	}
	cand := out.Candidates[0]
	var text strings.Builder
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			if p == nil || p.Thought {
				continue
			}
			if p.InlineData != nil && len(p.InlineData.Data) > 0 {
				resp.Images = append(resp.Images, Image{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data})
				continue
			}
			text.WriteString(p.Text)
		}
	}
	resp.Text = text.String()
	if gm := cand.GroundingMetadata; gm != nil {
		for _, ch := range gm.GroundingChunks {
			if ch == nil || ch.Web == nil {
				continue
			}
			title := ch.Web.Title
			if title == "" {
				title = "Source"
			}
			resp.Links = append(resp.Links, Link{Title: title, URI: ch.Web.URI})
		}
	}
	return withDefaults(mode, resp)
}

func withDefaults(mode Mode, resp Response) Response {
	if resp.Text != "" {
		return resp
	}
	switch mode {
	case ModeImage:
		resp.Text = DefaultImageCaption
	case ModeSearch:
		resp.Text = DefaultSearchMissing
	}
	return resp
}

// classify maps SDK errors onto ErrPermanent / ErrTransient: 4xx other than
// 429 are permanent, everything else transient.
func classify(err error) error {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}
	if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
		return fmt.Errorf("%w: status %d: %v", ErrPermanent, code, err)
	}
	if code != 0 {
		return fmt.Errorf("%w: status %d: %v", ErrTransient, code, err)
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}
