// Package gemini implements the Gemini generateContent adapter used for
// text and structured content kinds.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	gen "github.com/ineyio/gengateway"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Provider is the Gemini API adapter.
type Provider struct {
	baseURL    string
	httpClient *http.Client
	models     []string
}

var _ gen.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithModels sets the list of supported models.
func WithModels(models ...string) Option {
	return func(p *Provider) { p.models = models }
}

// New creates a new Gemini provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) SupportsModel(model string) bool {
	if len(p.models) == 0 {
		return true
	}
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return false
}

// Validate requires a non-placeholder API key.
func (p *Provider) Validate(auth gen.Auth) error {
	key := strings.TrimSpace(auth.APIKey)
	if key == "" {
		return fmt.Errorf("%w: gemini: api key is not set", gen.ErrAuthFailed)
	}
	if strings.HasPrefix(strings.ToLower(key), "your") {
		return fmt.Errorf("%w: gemini: api key is a placeholder", gen.ErrAuthFailed)
	}
	return nil
}

// Gemini API types.
type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	ModelVersion string `json:"modelVersion"`
}

func (p *Provider) Generate(ctx context.Context, req gen.ProviderRequest) (gen.ProviderResponse, error) {
	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
	}
	if req.Temperature != nil || req.MaxTokens != nil {
		body.GenerationConfig = &geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		}
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		p.baseURL, url.PathEscape(req.Model), url.QueryEscape(req.Auth.APIKey))

	httpResp, err := p.doRequest(ctx, endpoint, body)
	if err != nil {
		return gen.ProviderResponse{}, err
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return gen.ProviderResponse{}, err
	}

	var resp geminiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return gen.ProviderResponse{}, fmt.Errorf("%w: decode gemini response: %v", gen.ErrMalformedResponse, err)
	}

	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback.BlockReason != "" {
			return gen.ProviderResponse{}, fmt.Errorf("%w: gemini blocked prompt: %s", gen.ErrEmptyResponse, resp.PromptFeedback.BlockReason)
		}
		return gen.ProviderResponse{}, fmt.Errorf("%w: no candidates in gemini response", gen.ErrEmptyResponse)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}

	model := req.Model
	if resp.ModelVersion != "" {
		model = resp.ModelVersion
	}

	return gen.ProviderResponse{
		Text:         sb.String(),
		FinishReason: strings.ToLower(resp.Candidates[0].FinishReason),
		Model:        model,
	}, nil
}

func (p *Provider) doRequest(ctx context.Context, endpoint string, body geminiRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gengateway: marshal gemini request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("gengateway: create gemini request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: gemini: %v", gen.ErrTransport, redactKey(err))
	}

	return resp, nil
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return gen.ErrorFromStatus(resp.StatusCode, string(body))
}

// redactKey strips the query string from URL errors so the API key never
// reaches logs.
func redactKey(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	u := uerr.URL
	if i := strings.IndexByte(u, '?'); i >= 0 {
		u = u[:i]
	}
	return &url.Error{Op: uerr.Op, URL: u, Err: uerr.Err}
}
