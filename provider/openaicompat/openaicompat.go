package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	gen "github.com/ineyio/gengateway"
)

// Provider is a universal OpenAI-compatible API adapter.
// Works with OpenAI, Grok/xAI, Cerebras, Together, Ollama, and others.
// Text kinds use chat completions; IMAGE uses the images endpoint.
type Provider struct {
	name       string
	baseURL    string
	httpClient *http.Client
	models     []string
	keyless    bool
}

var _ gen.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithModels sets the list of supported models.
func WithModels(models ...string) Option {
	return func(p *Provider) { p.models = models }
}

// WithoutAPIKey accepts empty credentials, for local servers such as Ollama.
func WithoutAPIKey() Option {
	return func(p *Provider) { p.keyless = true }
}

// New creates a new OpenAI-compatible provider.
func New(name, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewOpenAI creates a provider for OpenAI.
func NewOpenAI(opts ...Option) *Provider {
	return New("openai", "https://api.openai.com/v1", opts...)
}

// NewGrok creates a provider for Grok/xAI.
func NewGrok(opts ...Option) *Provider {
	return New("grok", "https://api.x.ai/v1", opts...)
}

// NewCerebras creates a provider for Cerebras.
func NewCerebras(opts ...Option) *Provider {
	return New("cerebras", "https://api.cerebras.ai/v1", opts...)
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) SupportsModel(model string) bool {
	if len(p.models) == 0 {
		return true // no filter → accept all
	}
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return false
}

func (p *Provider) Validate(auth gen.Auth) error {
	if p.keyless {
		return nil
	}
	key := strings.TrimSpace(auth.APIKey)
	if key == "" || strings.HasPrefix(strings.ToLower(key), "your") {
		return fmt.Errorf("%w: %s: api key is not configured", gen.ErrAuthFailed, p.name)
	}
	return nil
}

// chatRequest is the OpenAI chat completion request format.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the OpenAI chat completion response format.
type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
}

func (p *Provider) Generate(ctx context.Context, req gen.ProviderRequest) (gen.ProviderResponse, error) {
	if req.Kind == gen.KindImage {
		return p.generateImage(ctx, req)
	}

	body := chatRequest{
		Model:       req.Model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	var resp chatResponse
	if err := p.post(ctx, "/chat/completions", req.Auth, body, &resp); err != nil {
		return gen.ProviderResponse{}, err
	}
	if len(resp.Choices) == 0 {
		return gen.ProviderResponse{}, fmt.Errorf("%w: %s returned no choices", gen.ErrEmptyResponse, p.name)
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return gen.ProviderResponse{
		Text:         resp.Choices[0].Message.Content,
		FinishReason: resp.Choices[0].FinishReason,
		Model:        model,
	}, nil
}

func (p *Provider) generateImage(ctx context.Context, req gen.ProviderRequest) (gen.ProviderResponse, error) {
	body := imageRequest{
		Model:          req.Model,
		Prompt:         req.Prompt,
		N:              1,
		Size:           imageSize(req.AspectRatio),
		ResponseFormat: "b64_json",
	}

	var resp imageResponse
	if err := p.post(ctx, "/images/generations", req.Auth, body, &resp); err != nil {
		return gen.ProviderResponse{}, err
	}
	if len(resp.Data) == 0 {
		return gen.ProviderResponse{}, fmt.Errorf("%w: %s returned no images", gen.ErrEmptyResponse, p.name)
	}

	img := resp.Data[0]
	switch {
	case img.B64JSON != "":
		return gen.ProviderResponse{ImageURL: "data:image/png;base64," + img.B64JSON, Model: req.Model}, nil
	case img.URL != "":
		return gen.ProviderResponse{ImageURL: img.URL, Model: req.Model}, nil
	default:
		return gen.ProviderResponse{}, fmt.Errorf("%w: %s image has no data", gen.ErrEmptyResponse, p.name)
	}
}

// imageSize maps an aspect ratio onto the nearest size the images API accepts.
func imageSize(aspect string) string {
	switch aspect {
	case "1:1":
		return "1024x1024"
	case "9:16", "3:4":
		return "1024x1792"
	default:
		return "1792x1024"
	}
}

func (p *Provider) post(ctx context.Context, path string, auth gen.Auth, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("gengateway: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("gengateway: create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if auth.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+auth.APIKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s: %v", gen.ErrTransport, p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return gen.ErrorFromStatus(resp.StatusCode, string(data))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", gen.ErrMalformedResponse, p.name, err)
	}
	return nil
}
