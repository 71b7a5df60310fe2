// Package imagen implements the Vertex AI Imagen predict adapter used for
// IMAGE requests. It authenticates with a service account: a signed JWT is
// exchanged for an access token, which is cached until shortly before it
// expires.
package imagen

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

const (
	defaultLocation = "us-central1"
	defaultModel    = "imagen-4.0-fast-generate-preview-06-06"
)

// Provider is the Vertex AI Imagen adapter.
type Provider struct {
	baseURL    string
	httpClient *http.Client
	models     []string
	tokens     TokenSource
}

var _ gen.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithBaseURL overrides the regional Vertex endpoint
// (https://{location}-aiplatform.googleapis.com/v1).
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets a custom HTTP client for predict calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithModels sets the list of supported models.
func WithModels(models ...string) Option {
	return func(p *Provider) { p.models = models }
}

// WithTokenSource replaces the service-account token exchange.
func WithTokenSource(ts TokenSource) Option {
	return func(p *Provider) { p.tokens = ts }
}

// New creates a new Imagen provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.tokens == nil {
		p.tokens = NewServiceAccountTokens(p.httpClient)
	}
	return p
}

func (p *Provider) Name() string { return "imagen" }

func (p *Provider) SupportsModel(model string) bool {
	if len(p.models) == 0 {
		return strings.HasPrefix(model, "imagen-")
	}
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return false
}

// Validate rejects missing or sample service-account credentials.
func (p *Provider) Validate(auth gen.Auth) error {
	switch {
	case placeholder(auth.ProjectID):
		return fmt.Errorf("%w: imagen: project id is not configured", gen.ErrAuthFailed)
	case placeholder(auth.ClientEmail):
		return fmt.Errorf("%w: imagen: client email is not configured", gen.ErrAuthFailed)
	case placeholder(auth.PrivateKey),
		strings.Contains(auth.PrivateKey, "your-private-key"),
		!strings.Contains(auth.PrivateKey, "PRIVATE KEY"):
		return fmt.Errorf("%w: imagen: private key is not configured", gen.ErrAuthFailed)
	}
	return nil
}

func placeholder(v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	return v == "" || strings.HasPrefix(v, "your-") || strings.HasPrefix(v, "your_")
}

type predictRequest struct {
	Instances  []predictInstance `json:"instances"`
	Parameters predictParameters `json:"parameters"`
}

type predictInstance struct {
	Prompt string `json:"prompt"`
}

type predictParameters struct {
	SampleCount       int    `json:"sampleCount"`
	AspectRatio       string `json:"aspectRatio,omitempty"`
	SafetyFilterLevel string `json:"safetyFilterLevel"`
	PersonGeneration  string `json:"personGeneration"`
}

type predictResponse struct {
	Predictions []struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded"`
		MimeType           string `json:"mimeType"`
	} `json:"predictions"`
}

func (p *Provider) Generate(ctx context.Context, req gen.ProviderRequest) (gen.ProviderResponse, error) {
	token, err := p.tokens.Token(ctx, req.Auth)
	if err != nil {
		return gen.ProviderResponse{}, err
	}

	model := req.Model
	if model == "" {
		model = defaultModel
	}
	location := req.Auth.Location
	if location == "" {
		location = defaultLocation
	}
	base := p.baseURL
	if base == "" {
		base = fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1", location)
	}
	endpoint := fmt.Sprintf("%s/projects/%s/locations/%s/publishers/google/models/%s:predict",
		base, req.Auth.ProjectID, location, model)

	body := predictRequest{
		Instances: []predictInstance{{Prompt: req.Prompt}},
		Parameters: predictParameters{
			SampleCount:       1,
			AspectRatio:       req.AspectRatio,
			SafetyFilterLevel: "block_some",
			PersonGeneration:  "allow_adult",
		},
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return gen.ProviderResponse{}, fmt.Errorf("gengateway: marshal imagen request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return gen.ProviderResponse{}, fmt.Errorf("gengateway: create imagen request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return gen.ProviderResponse{}, ctx.Err()
		}
		return gen.ProviderResponse{}, fmt.Errorf("%w: imagen: %v", gen.ErrTransport, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1024))
		return gen.ProviderResponse{}, gen.ErrorFromStatus(httpResp.StatusCode, string(data))
	}

	var resp predictResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return gen.ProviderResponse{}, fmt.Errorf("%w: decode imagen response: %v", gen.ErrMalformedResponse, err)
	}
	if len(resp.Predictions) == 0 {
		return gen.ProviderResponse{}, fmt.Errorf("%w: imagen returned no predictions", gen.ErrEmptyResponse)
	}
	pred := resp.Predictions[0]
	if pred.BytesBase64Encoded == "" {
		return gen.ProviderResponse{}, fmt.Errorf("%w: imagen prediction has no image data", gen.ErrEmptyResponse)
	}

	mime := pred.MimeType
	if mime == "" {
		mime = "image/png"
	}
	return gen.ProviderResponse{
		ImageURL: "data:" + mime + ";base64," + pred.BytesBase64Encoded,
		Model:    model,
	}, nil
}
