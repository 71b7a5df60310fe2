package gengateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("github.com/ineyio/gengateway")

// errCircuitOpen is returned by an admitted attempt that finds the breaker
// open. It is not a provider failure.
var errCircuitOpen = fmt.Errorf("%w: circuit open", ErrQuotaExhausted)

// Gateway mediates every call to the generative providers.
type Gateway struct {
	limits    Limits
	routes    map[ContentKind]*route
	cache     CacheStore
	parser    ResponseParser
	fallback  FallbackSynthesizer
	meter     Meter
	logger    *slog.Logger
	clock     Clock
	breaker   *CircuitBreaker
	failures  *FailureTracker
	scheduler *AdmissionScheduler
	group     singleflight.Group
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithCacheStore sets the cache store.
func WithCacheStore(c CacheStore) Option {
	return func(g *Gateway) { g.cache = c }
}

// WithParser sets the response parser.
func WithParser(p ResponseParser) Option {
	return func(g *Gateway) { g.parser = p }
}

// WithFallback sets the fallback synthesizer.
func WithFallback(f FallbackSynthesizer) Option {
	return func(g *Gateway) { g.fallback = f }
}

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(g *Gateway) { g.meter = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithClock sets the clock used by the breaker and failure tracker.
func WithClock(c Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

// WithScheduler replaces the admission scheduler built from Limits.
func WithScheduler(s *AdmissionScheduler) Option {
	return func(g *Gateway) { g.scheduler = s }
}

// NewGateway creates a Gateway for cfg. Providers are matched to routes by
// Name(). Routes whose provider is missing or rejects its credentials are
// kept and always served by fallback.
func NewGateway(cfg Config, providers []Provider, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	provMap := make(map[string]Provider, len(providers))
	for _, p := range providers {
		provMap[p.Name()] = p
	}

	g := &Gateway{
		limits: cfg.Limits.WithDefaults(),
		routes: buildRoutes(cfg, provMap),
	}

	for _, opt := range opts {
		opt(g)
	}

	// Apply defaults after options.
	if g.clock == nil {
		g.clock = systemClock{}
	}
	if g.cache == nil {
		g.cache = noopCacheStore{}
	}
	if g.parser == nil {
		g.parser = jsonParser{}
	}
	if g.fallback == nil {
		g.fallback = plainFallback{}
	}
	if g.meter == nil {
		g.meter = noopMeter{}
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.scheduler == nil {
		g.scheduler = NewAdmissionScheduler(g.limits.MaxConcurrent, g.limits.MinInterval, WithAdmissionClock(g.clock))
	}
	g.breaker = NewCircuitBreaker(g.clock)
	g.failures = NewFailureTracker(g.clock, g.limits.MaxFailures, g.limits.FailureTimeout)

	for kind, rt := range g.routes {
		if rt.err != nil {
			g.logger.Warn("route unusable, serving fallback", "kind", kind, "error", rt.err)
		}
	}

	return g, nil
}

// Generate serves one request. The only error it returns is
// ErrInvalidRequest; every other failure yields a fallback result.
func (g *Gateway) Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error) {
	start := time.Now()

	norm, err := Normalize(req)
	if err != nil {
		return GenerationResult{}, err
	}

	requestID := uuid.NewString()
	fp := Fingerprint(norm)

	ctx, span := tracer.Start(ctx, "gengateway.Generate", trace.WithAttributes(
		attribute.String("gen.kind", string(norm.Kind)),
		attribute.String("gen.fingerprint", fp),
		attribute.String("gen.request_id", requestID),
	))
	defer span.End()

	var res GenerationResult
	if entry, ok := g.lookup(ctx, fp, norm.SkipCache); ok {
		res = resultFromEntry(entry)
	} else {
		// Production outlives the caller: attempts are bounded by
		// AttemptTimeout, and the result is cached for coalesced callers.
		ch := g.group.DoChan(fp, func() (any, error) {
			return g.produce(context.WithoutCancel(ctx), norm, fp, requestID, start), nil
		})
		select {
		case r := <-ch:
			res = r.Val.(GenerationResult)
			if r.Shared {
				span.SetAttributes(attribute.Bool("gen.shared", true))
			}
		case <-ctx.Done():
			g.logger.Info("caller gone, generation continues in background",
				"request_id", requestID, "fingerprint", fp, "error", ctx.Err())
			res = g.abandonedResult(norm, ctx.Err())
		}
	}
	res.RequestID = requestID
	res.Fingerprint = fp
	if !res.FromCache {
		res.GenerationTimeMs = time.Since(start).Milliseconds()
	}

	span.SetAttributes(
		attribute.Bool("gen.from_cache", res.FromCache),
		attribute.Bool("gen.used_fallback", res.UsedFallback),
	)
	if res.Diagnostic != "" {
		span.SetStatus(codes.Error, res.Diagnostic)
	}

	g.meter.OnOutcome(OutcomeEvent{
		RequestID:    requestID,
		Kind:         norm.Kind,
		FromCache:    res.FromCache,
		UsedFallback: res.UsedFallback,
		Diagnostic:   res.Diagnostic,
		Duration:     time.Since(start),
	})

	return res, nil
}

// Stats returns a snapshot of breaker and failure tracker state.
func (g *Gateway) Stats() CircuitStats {
	return CircuitStats{
		BreakerOpen:     g.breaker.IsOpen(),
		OpenUntil:       g.breaker.OpenUntil(),
		TrackedFailures: g.failures.Len(),
	}
}

// Breaker exposes the gateway's circuit breaker.
func (g *Gateway) Breaker() *CircuitBreaker { return g.breaker }

// Failures exposes the gateway's failure tracker.
func (g *Gateway) Failures() *FailureTracker { return g.failures }

func (g *Gateway) lookup(ctx context.Context, fp string, skip bool) (CacheEntry, bool) {
	if skip {
		return CacheEntry{}, false
	}
	entry, ok, err := g.cache.Lookup(ctx, fp)
	if err != nil {
		g.logger.Warn("cache lookup failed, treating as miss", "fingerprint", fp, "error", err)
		return CacheEntry{}, false
	}
	if !ok {
		return CacheEntry{}, false
	}
	if err := g.cache.TouchUsage(ctx, fp); err != nil {
		g.logger.Warn("cache touch failed", "fingerprint", fp, "error", err)
	}
	return entry, true
}

func resultFromEntry(e CacheEntry) GenerationResult {
	return GenerationResult{
		Artifact:         e.Artifact,
		ArtifactKind:     e.Artifact.Kind,
		FromCache:        true,
		UsedFallback:     e.Fallback,
		GenerationTimeMs: e.GenerationTime.Milliseconds(),
		Diagnostic:       e.Diagnostic,
		Model:            e.Model,
	}
}

// produce runs the protection checks and the attempt loop for a cache miss.
func (g *Gateway) produce(ctx context.Context, req GenerationRequest, fp, requestID string, start time.Time) GenerationResult {
	log := g.logger.With("request_id", requestID, "kind", req.Kind, "fingerprint", fp)

	rt := g.routes[req.Kind]
	if rt == nil {
		return g.fallbackResult(ctx, req, fp, req.Prompt, DiagProviderUnavailable, start)
	}
	final := rt.finalPrompt(req.Prompt)
	if rt.err != nil {
		return g.fallbackResult(ctx, req, fp, final, DiagProviderUnavailable, start)
	}

	if g.breaker.IsOpen() {
		log.Info("quota breaker open, serving fallback", "open_until", g.breaker.OpenUntil())
		return g.fallbackResult(ctx, req, fp, final, DiagQuotaExhausted, start)
	}

	key := FailureKey(req.Prompt, g.limits.FailureKeyLength)
	if g.failures.IsBlocked(key) {
		log.Info("prompt blocked by failure tracker, serving fallback")
		return g.fallbackResult(ctx, req, fp, final, DiagRateLimited, start)
	}

	resp, err := g.attempt(ctx, rt, req, final, requestID)
	if err != nil {
		class := Classify(err)
		switch {
		case errors.Is(err, errCircuitOpen):
		case class == ClassQuotaExhausted:
			g.failures.RecordFailure(key)
			log.Error("provider quota exhausted, breaker tripped",
				"open_until", g.breaker.OpenUntil(), "error", err)
		case class == ClassRateLimited, class == ClassUnknown:
			g.failures.RecordFailure(key)
			log.Warn("generation failed", "class", class, "error", err)
		default:
			log.Warn("generation failed", "class", class, "error", err)
		}
		return g.fallbackResult(ctx, req, fp, final, Diagnostic(err), start)
	}

	artifact, err := g.buildArtifact(req.Kind, resp)
	if err != nil {
		log.Warn("provider output could not be parsed", "model", resp.Model, "error", err)
		return g.fallbackResult(ctx, req, fp, final, DiagMalformedResponse, start)
	}

	g.failures.Clear(key)

	elapsed := time.Since(start)
	now := g.clock.Now()
	g.store(ctx, CacheEntry{
		Fingerprint:    fp,
		Kind:           req.Kind,
		OriginalPrompt: req.Prompt,
		FinalPrompt:    final,
		Artifact:       artifact,
		Model:          resp.Model,
		GenerationTime: elapsed,
		CreatedAt:      now,
		LastUsedAt:     now,
		UsageCount:     1,
	})

	return GenerationResult{
		Artifact:     artifact,
		ArtifactKind: artifact.Kind,
		Model:        resp.Model,
	}
}

// attempt walks the candidate plan through the scheduler until one attempt
// yields a usable response.
func (g *Gateway) attempt(ctx context.Context, rt *route, req GenerationRequest, prompt, requestID string) (ProviderResponse, error) {
	cands := rt.candidates(g.limits.Temperatures)

	var lastErr error
	for i, c := range cands {
		var resp ProviderResponse
		err := g.scheduler.Submit(ctx, func(ctx context.Context) error {
			if g.breaker.IsOpen() {
				return errCircuitOpen
			}
			var err error
			resp, err = g.call(ctx, c, req, prompt, requestID, i+1, rt.maxTokens)
			// Trip before the slot is released so queued attempts see it.
			if Classify(err) == ClassQuotaExhausted {
				g.breaker.Trip(g.limits.QuotaCooldown)
			}
			return err
		})
		if err == nil {
			return resp, nil
		}

		lastErr = &AttemptError{
			Err:      err,
			Provider: c.Provider.Name(),
			Model:    c.Model,
			Attempts: i + 1,
		}
		g.logger.Debug("attempt failed",
			"request_id", requestID,
			"model", c.Model,
			"temperature", c.Temperature,
			"attempt", i+1,
			"error", err,
		)

		if IsFatal(err) || ctx.Err() != nil {
			break
		}
	}

	if lastErr == nil {
		return ProviderResponse{}, ErrAllFailed
	}
	return ProviderResponse{}, lastErr
}

func (g *Gateway) call(ctx context.Context, c Candidate, req GenerationRequest, prompt, requestID string, attemptNum, maxTokens int) (ProviderResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, g.limits.AttemptTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "gengateway.attempt", trace.WithAttributes(
		attribute.String("gen.provider", c.Provider.Name()),
		attribute.String("gen.model", c.Model),
		attribute.Float64("gen.temperature", c.Temperature),
		attribute.Int("gen.attempt", attemptNum),
	))
	defer span.End()

	g.meter.OnAttempt(AttemptEvent{
		RequestID:   requestID,
		Kind:        req.Kind,
		Provider:    c.Provider.Name(),
		Model:       c.Model,
		Temperature: c.Temperature,
		AttemptNum:  attemptNum,
	})

	temp := c.Temperature
	preq := ProviderRequest{
		Auth:        c.Auth,
		Kind:        req.Kind,
		Model:       c.Model,
		Prompt:      prompt,
		Temperature: &temp,
		AspectRatio: req.Params[ParamAspectRatio],
	}
	if maxTokens > 0 {
		preq.MaxTokens = &maxTokens
	}

	t0 := time.Now()
	resp, err := c.Provider.Generate(ctx, preq)
	if err == nil {
		err = g.checkUsable(req.Kind, resp)
	}
	duration := time.Since(t0)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if resp.Model == "" {
		resp.Model = c.Model
	}

	g.meter.OnResult(ResultEvent{
		RequestID: requestID,
		Kind:      req.Kind,
		Provider:  c.Provider.Name(),
		Model:     c.Model,
		Success:   err == nil,
		Duration:  duration,
		Class:     Classify(err),
		Error:     err,
	})

	return resp, err
}

// checkUsable rejects empty images and text shorter than MinResponseChars.
func (g *Gateway) checkUsable(kind ContentKind, resp ProviderResponse) error {
	if kind == KindImage {
		if resp.ImageURL == "" {
			return fmt.Errorf("%w: no image data", ErrEmptyResponse)
		}
		return nil
	}
	text := strings.TrimSpace(resp.Text)
	if len(text) < g.limits.MinResponseChars {
		return fmt.Errorf("%w: %d chars, want at least %d", ErrEmptyResponse, len(text), g.limits.MinResponseChars)
	}
	return nil
}

func (g *Gateway) buildArtifact(kind ContentKind, resp ProviderResponse) (Artifact, error) {
	switch {
	case kind == KindImage:
		return Artifact{Kind: ArtifactAIGenerated, ImageURL: resp.ImageURL}, nil
	case kind.Structured():
		content, err := g.parser.Parse(resp.Text, kind)
		if err != nil {
			return Artifact{}, err
		}
		return Artifact{Kind: ArtifactStructured, Content: &content}, nil
	default:
		return Artifact{Kind: ArtifactText, Text: strings.TrimSpace(resp.Text)}, nil
	}
}

func (g *Gateway) fallbackResult(ctx context.Context, req GenerationRequest, fp, final, diag string, start time.Time) GenerationResult {
	artifact := g.synthesize(req)

	now := g.clock.Now()
	g.store(ctx, CacheEntry{
		Fingerprint:    fp,
		Kind:           req.Kind,
		OriginalPrompt: req.Prompt,
		FinalPrompt:    final,
		Artifact:       artifact,
		Fallback:       true,
		Diagnostic:     diag,
		GenerationTime: time.Since(start),
		CreatedAt:      now,
		LastUsedAt:     now,
		UsageCount:     1,
	})

	return GenerationResult{
		Artifact:     artifact,
		ArtifactKind: artifact.Kind,
		UsedFallback: true,
		Diagnostic:   diag,
	}
}

// abandonedResult answers a caller that stopped waiting. It is never cached
// and never counts against the prompt key.
func (g *Gateway) abandonedResult(req GenerationRequest, err error) GenerationResult {
	artifact := g.synthesize(req)
	return GenerationResult{
		Artifact:     artifact,
		ArtifactKind: artifact.Kind,
		UsedFallback: true,
		Diagnostic:   Diagnostic(err),
	}
}

func (g *Gateway) synthesize(req GenerationRequest) Artifact {
	artifact := g.fallback.Synthesize(req)
	if artifact.Kind == "" {
		artifact.Kind = ArtifactText
		if req.Kind == KindImage {
			artifact.Kind = ArtifactGradient
		}
	}
	return artifact
}

func (g *Gateway) store(ctx context.Context, entry CacheEntry) {
	if err := g.cache.Store(ctx, entry); err != nil {
		g.logger.Warn("cache store failed", "fingerprint", entry.Fingerprint, "error", err)
	}
}

// jsonParser is the inline default parser: a plain JSON decode of the
// response into Content. The parse package provides the tolerant chain.
type jsonParser struct{}

func (jsonParser) Parse(raw string, _ ContentKind) (Content, error) {
	var c Content
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &c); err != nil || c.Empty() {
		return Content{}, ErrMalformedResponse
	}
	return c, nil
}

// plainFallback is the inline default synthesizer: a neutral gradient for
// images and the prompt echoed back for text kinds.
type plainFallback struct{}

func (plainFallback) Synthesize(req GenerationRequest) Artifact {
	if req.Kind == KindImage {
		return Artifact{
			Kind:     ArtifactGradient,
			ImageURL: "linear-gradient(135deg, #667eea 0%, #764ba2 50%, #f093fb 100%)",
		}
	}
	if req.Kind.Structured() {
		return Artifact{Kind: ArtifactStructured, Content: &Content{}}
	}
	return Artifact{Kind: ArtifactText, Text: req.Prompt}
}
