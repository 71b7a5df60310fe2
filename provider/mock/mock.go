package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	gen "github.com/ineyio/gengateway"
)

// DefaultText is long enough to pass the gateway's minimum response length.
const DefaultText = "Hello from the mock provider. This text is deliberately longer than fifty characters."

// DefaultImage is a tiny data URL returned for image requests.
const DefaultImage = "data:image/png;base64,iVBORw0KGgo="

// Provider is a mock generative provider for testing.
type Provider struct {
	name         string
	models       []string
	latency      time.Duration
	failAfter    int
	callCount    atomic.Int64
	staticErr    error
	validateErr  error
	responseFunc func(gen.ProviderRequest) (gen.ProviderResponse, error)

	mu       sync.Mutex
	requests []gen.ProviderRequest
	script   []Step
}

// Step is one scripted result consumed in order by Generate.
type Step struct {
	Response gen.ProviderResponse
	Err      error
}

var _ gen.Provider = (*Provider)(nil)

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:   "mock",
		models: []string{"mock-model"},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithName sets the provider name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithModels sets supported models.
func WithModels(models ...string) Option {
	return func(p *Provider) { p.models = models }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithFailAfter makes the provider fail after N successful calls.
func WithFailAfter(n int) Option {
	return func(p *Provider) { p.failAfter = n }
}

// WithError makes the provider always return this error.
func WithError(err error) Option {
	return func(p *Provider) { p.staticErr = err }
}

// WithValidateError makes Validate reject any credentials.
func WithValidateError(err error) Option {
	return func(p *Provider) { p.validateErr = err }
}

// WithResponseFunc sets a custom response function.
func WithResponseFunc(fn func(gen.ProviderRequest) (gen.ProviderResponse, error)) Option {
	return func(p *Provider) { p.responseFunc = fn }
}

// WithScript queues results returned in order before falling back to the
// other options.
func WithScript(steps ...Step) Option {
	return func(p *Provider) { p.script = append(p.script, steps...) }
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) SupportsModel(model string) bool {
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return false
}

func (p *Provider) Validate(gen.Auth) error { return p.validateErr }

func (p *Provider) Generate(ctx context.Context, req gen.ProviderRequest) (gen.ProviderResponse, error) {
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return gen.ProviderResponse{}, ctx.Err()
		}
	}

	count := p.callCount.Add(1)

	p.mu.Lock()
	p.requests = append(p.requests, req)
	var step *Step
	if len(p.script) > 0 {
		s := p.script[0]
		p.script = p.script[1:]
		step = &s
	}
	p.mu.Unlock()

	if step != nil {
		resp := step.Response
		if resp.Model == "" {
			resp.Model = req.Model
		}
		return resp, step.Err
	}

	if p.staticErr != nil {
		return gen.ProviderResponse{}, p.staticErr
	}

	if p.failAfter > 0 && int(count) > p.failAfter {
		return gen.ProviderResponse{}, gen.ErrProviderUnavailable
	}

	if p.responseFunc != nil {
		return p.responseFunc(req)
	}

	if req.Kind == gen.KindImage {
		return gen.ProviderResponse{ImageURL: DefaultImage, Model: req.Model}, nil
	}
	return gen.ProviderResponse{Text: DefaultText, FinishReason: "stop", Model: req.Model}, nil
}

// CallCount returns the number of Generate calls.
func (p *Provider) CallCount() int64 {
	return p.callCount.Load()
}

// Requests returns a copy of every request received.
func (p *Provider) Requests() []gen.ProviderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]gen.ProviderRequest(nil), p.requests...)
}

// Text returns a response step carrying text.
func Text(s string) Step {
	return Step{Response: gen.ProviderResponse{Text: s}}
}

// Fail returns a step that fails with err.
func Fail(err error) Step {
	return Step{Err: err}
}
