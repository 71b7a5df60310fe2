package gengateway

import "context"

// Provider is the interface that generative provider adapters must implement.
type Provider interface {
	// Name returns the provider identifier (e.g. "gemini", "imagen").
	Name() string

	// SupportsModel returns true if this provider can handle the given model.
	SupportsModel(model string) bool

	// Validate reports whether the credentials are usable at all. It must not
	// contact the provider.
	Validate(auth Auth) error

	// Generate performs one synchronous generation attempt.
	Generate(ctx context.Context, req ProviderRequest) (ProviderResponse, error)
}

// Auth holds credentials for a provider. API-key providers use APIKey; the
// Vertex image adapter uses the service-account fields.
type Auth struct {
	APIKey       string `yaml:"api_key" json:"api_key"`
	ProjectID    string `yaml:"project_id" json:"project_id"`
	Location     string `yaml:"location" json:"location"`
	ClientEmail  string `yaml:"client_email" json:"client_email"`
	PrivateKeyID string `yaml:"private_key_id" json:"private_key_id"`
	PrivateKey   string `yaml:"private_key" json:"private_key"`
}

// ProviderRequest is the request sent to a provider adapter.
type ProviderRequest struct {
	Auth        Auth
	Kind        ContentKind
	Model       string
	Prompt      string
	Temperature *float64
	MaxTokens   *int
	AspectRatio string
}

// ProviderResponse is the raw output of one attempt. Text kinds fill Text,
// image kinds fill ImageURL (typically a data URL).
type ProviderResponse struct {
	Text         string
	ImageURL     string
	FinishReason string
	Model        string
}
