package gengateway

// ResponseParser turns raw provider text into structured content.
type ResponseParser interface {
	// Parse returns ErrMalformedResponse when no strategy yields usable content.
	Parse(raw string, kind ContentKind) (Content, error)
}

// FallbackSynthesizer builds a deterministic artifact without the provider.
type FallbackSynthesizer interface {
	Synthesize(req GenerationRequest) Artifact
}
