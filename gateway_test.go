package gengateway_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gen "github.com/ineyio/gengateway"
	"github.com/ineyio/gengateway/cache/memory"
	"github.com/ineyio/gengateway/fallback"
	"github.com/ineyio/gengateway/parse"
	"github.com/ineyio/gengateway/provider/mock"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testConfig(provider string, models ...string) gen.Config {
	if len(models) == 0 {
		models = []string{"mock-model"}
	}
	cfg := gen.Config{Providers: []gen.ProviderConfig{{Name: provider}}}
	for _, k := range gen.Kinds {
		cfg.Routes = append(cfg.Routes, gen.RouteConfig{Kind: k, Provider: provider, Models: models})
	}
	return cfg
}

type testEnv struct {
	gw    *gen.Gateway
	store *memory.Store
	clock *fakeClock
}

func newTestGateway(t *testing.T, cfg gen.Config, prov gen.Provider, opts ...gen.Option) testEnv {
	t.Helper()
	clock := newFakeClock()
	store := memory.New(memory.WithClock(clock.Now))
	base := []gen.Option{
		gen.WithClock(clock),
		gen.WithCacheStore(store),
		gen.WithParser(parse.New()),
		gen.WithFallback(fallback.New()),
		gen.WithScheduler(gen.NewAdmissionScheduler(1, 0)),
		gen.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	gw, err := gen.NewGateway(cfg, []gen.Provider{prov}, append(base, opts...)...)
	require.NoError(t, err)
	return testEnv{gw: gw, store: store, clock: clock}
}

func TestGenerate_FirstCallThenCacheHit(t *testing.T) {
	ctx := context.Background()
	prov := mock.New()
	env := newTestGateway(t, testConfig("mock"), prov)
	req := gen.GenerationRequest{Kind: gen.KindImage, Prompt: "ocean adventure story"}

	first, err := env.gw.Generate(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.False(t, first.UsedFallback)
	assert.Equal(t, gen.ArtifactAIGenerated, first.ArtifactKind)
	assert.Equal(t, mock.DefaultImage, first.Artifact.ImageURL)
	assert.Empty(t, first.Diagnostic)
	assert.NotEmpty(t, first.RequestID)

	entry, ok, err := env.store.Lookup(ctx, first.Fingerprint)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), entry.UsageCount)

	second, err := env.gw.Generate(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.False(t, second.UsedFallback)
	assert.Equal(t, first.Artifact, second.Artifact)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.NotEqual(t, first.RequestID, second.RequestID)
	assert.Equal(t, int64(1), prov.CallCount())

	entry, _, _ = env.store.Lookup(ctx, first.Fingerprint)
	assert.Equal(t, int64(2), entry.UsageCount)
}

func TestGenerate_DefaultAspectRatioSharesCacheEntry(t *testing.T) {
	ctx := context.Background()
	prov := mock.New()
	env := newTestGateway(t, testConfig("mock"), prov)

	a, err := env.gw.Generate(ctx, gen.GenerationRequest{Kind: gen.KindImage, Prompt: "forest"})
	require.NoError(t, err)
	b, err := env.gw.Generate(ctx, gen.GenerationRequest{
		Kind:   gen.KindImage,
		Prompt: "  forest ",
		Params: map[string]string{gen.ParamAspectRatio: "16:9"},
	})
	require.NoError(t, err)

	assert.Equal(t, a.Fingerprint, b.Fingerprint)
	assert.True(t, b.FromCache)
	assert.Equal(t, "16:9", prov.Requests()[0].AspectRatio)
}

func TestGenerate_InvalidRequest(t *testing.T) {
	prov := mock.New()
	env := newTestGateway(t, testConfig("mock"), prov)

	_, err := env.gw.Generate(context.Background(), gen.GenerationRequest{Kind: gen.KindText, Prompt: "  "})
	assert.ErrorIs(t, err, gen.ErrInvalidRequest)

	_, err = env.gw.Generate(context.Background(), gen.GenerationRequest{Kind: "VIDEO", Prompt: "x"})
	assert.ErrorIs(t, err, gen.ErrInvalidRequest)

	assert.Equal(t, int64(0), prov.CallCount())
}

func TestGenerate_RateLimitedBlocksSharedPrefix(t *testing.T) {
	ctx := context.Background()
	prov := mock.New(mock.WithError(gen.ErrRateLimited))
	env := newTestGateway(t, testConfig("mock"), prov)

	// All prompts share the first 50 characters, so they share a failure key.
	prefix := strings.Repeat("ocean adventure story about whales ", 2)

	for _, suffix := range []string{"one", "two", "three"} {
		res, err := env.gw.Generate(ctx, gen.GenerationRequest{Kind: gen.KindText, Prompt: prefix + suffix})
		require.NoError(t, err)
		assert.True(t, res.UsedFallback)
		assert.Equal(t, gen.DiagRateLimited, res.Diagnostic)
	}
	calls := prov.CallCount()
	assert.Equal(t, int64(6), calls, "two temperatures per request")

	res, err := env.gw.Generate(ctx, gen.GenerationRequest{Kind: gen.KindText, Prompt: prefix + "four"})
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, gen.DiagRateLimited, res.Diagnostic)
	assert.Equal(t, calls, prov.CallCount(), "blocked key must not reach the provider")

	// Other prompts are unaffected.
	_, err = env.gw.Generate(ctx, gen.GenerationRequest{Kind: gen.KindText, Prompt: "volcanoes and lava"})
	require.NoError(t, err)
	assert.Greater(t, prov.CallCount(), calls)
}

func TestGenerate_FailureTrackerResumesAfterTimeout(t *testing.T) {
	ctx := context.Background()
	prov := mock.New(mock.WithScript(
		mock.Fail(gen.ErrRateLimited), mock.Fail(gen.ErrRateLimited),
		mock.Fail(gen.ErrRateLimited), mock.Fail(gen.ErrRateLimited),
		mock.Fail(gen.ErrRateLimited), mock.Fail(gen.ErrRateLimited),
	))
	env := newTestGateway(t, testConfig("mock"), prov)

	req := gen.GenerationRequest{Kind: gen.KindText, Prompt: "Why is the sky blue?", SkipCache: true}
	for i := 0; i < 3; i++ {
		_, err := env.gw.Generate(ctx, req)
		require.NoError(t, err)
	}
	key := gen.FailureKey(req.Prompt, 50)
	assert.True(t, env.gw.Failures().IsBlocked(key))

	blocked, err := env.gw.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, gen.DiagRateLimited, blocked.Diagnostic)
	assert.Equal(t, int64(6), prov.CallCount())

	env.clock.Advance(15 * time.Minute)

	res, err := env.gw.Generate(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.UsedFallback)
	assert.Equal(t, int64(7), prov.CallCount())
	assert.Equal(t, 0, env.gw.Failures().Count(key))
}

func TestGenerate_QuotaTripsBreakerForEveryPrompt(t *testing.T) {
	ctx := context.Background()
	quotaErr := fmt.Errorf("%w: Quota exceeded for aiplatform.googleapis.com", gen.ErrQuotaExhausted)
	prov := mock.New(mock.WithScript(mock.Fail(quotaErr)))
	env := newTestGateway(t, testConfig("mock"), prov)

	res, err := env.gw.Generate(ctx, gen.GenerationRequest{Kind: gen.KindImage, Prompt: "volcano eruption"})
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, gen.DiagQuotaExhausted, res.Diagnostic)
	assert.Equal(t, gen.ArtifactGradient, res.ArtifactKind)
	assert.Equal(t, "birds", res.Artifact.Effect)
	assert.Equal(t, int64(1), prov.CallCount(), "quota exhaustion stops the attempt loop")
	assert.True(t, env.gw.Stats().BreakerOpen)

	env.clock.Advance(10 * time.Second)
	res, err = env.gw.Generate(ctx, gen.GenerationRequest{Kind: gen.KindText, Prompt: "a completely different prompt about magnets"})
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, gen.DiagQuotaExhausted, res.Diagnostic)
	assert.Equal(t, int64(1), prov.CallCount())

	env.clock.Advance(time.Hour)
	res, err = env.gw.Generate(ctx, gen.GenerationRequest{Kind: gen.KindText, Prompt: "yet another prompt about plants"})
	require.NoError(t, err)
	assert.False(t, res.UsedFallback)
	assert.Equal(t, int64(2), prov.CallCount())
	assert.False(t, env.gw.Stats().BreakerOpen)
}

func TestGenerate_BreakerTripWhileQueued(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	prov := mock.New(mock.WithResponseFunc(func(gen.ProviderRequest) (gen.ProviderResponse, error) {
		once.Do(func() { close(entered) })
		<-release
		return gen.ProviderResponse{}, fmt.Errorf("%w: RESOURCE_EXHAUSTED", gen.ErrQuotaExhausted)
	}))
	env := newTestGateway(t, testConfig("mock"), prov)
	ctx := context.Background()

	var wg sync.WaitGroup
	var first, second gen.GenerationResult
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, _ = env.gw.Generate(ctx, gen.GenerationRequest{Kind: gen.KindText, Prompt: "first prompt about oceans"})
	}()
	<-entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		second, _ = env.gw.Generate(ctx, gen.GenerationRequest{Kind: gen.KindText, Prompt: "second prompt about deserts"})
	}()
	// Let the second request pass the breaker check and queue on the scheduler.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, gen.DiagQuotaExhausted, first.Diagnostic)
	assert.Equal(t, gen.DiagQuotaExhausted, second.Diagnostic)
	assert.True(t, second.UsedFallback)
	assert.Equal(t, int64(1), prov.CallCount())
	assert.Equal(t, 0, env.gw.Failures().Count(gen.FailureKey("second prompt about deserts", 50)))
}

func TestGenerate_UnusableRouteFallsBack(t *testing.T) {
	ctx := context.Background()
	prov := mock.New(mock.WithValidateError(fmt.Errorf("placeholder credentials")))
	env := newTestGateway(t, testConfig("mock"), prov)

	res, err := env.gw.Generate(ctx, gen.GenerationRequest{Kind: gen.KindImage, Prompt: "space station"})
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, gen.DiagProviderUnavailable, res.Diagnostic)
	assert.Equal(t, "globe", res.Artifact.Effect)
	assert.Equal(t, int64(0), prov.CallCount())
	assert.Equal(t, 0, env.gw.Failures().Len())
}

func TestGenerate_MissingRouteFallsBack(t *testing.T) {
	cfg := gen.Config{
		Providers: []gen.ProviderConfig{{Name: "mock"}},
		Routes:    []gen.RouteConfig{{Kind: gen.KindImage, Provider: "mock", Models: []string{"mock-model"}}},
	}
	prov := mock.New()
	env := newTestGateway(t, cfg, prov)

	res, err := env.gw.Generate(context.Background(), gen.GenerationRequest{
		Kind:   gen.KindQuestions,
		Prompt: "daily questions",
		Params: map[string]string{gen.ParamGradeLevel: "2"},
	})
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, gen.DiagProviderUnavailable, res.Diagnostic)
	require.NotNil(t, res.Artifact.Content)
	assert.Equal(t, "What do plants need to grow?", res.Artifact.Content.Questions[0])
}

func TestGenerate_RetriesAcrossTemperaturesAndModels(t *testing.T) {
	ctx := context.Background()
	prov := mock.New(
		mock.WithModels("primary", "secondary"),
		mock.WithScript(
			mock.Text("too short"),
			mock.Fail(gen.ErrUpstream),
			mock.Text("A long enough explanation of photosynthesis for young learners to enjoy."),
		),
	)
	env := newTestGateway(t, testConfig("mock", "primary", "secondary"), prov)

	res, err := env.gw.Generate(ctx, gen.GenerationRequest{Kind: gen.KindText, Prompt: "photosynthesis"})
	require.NoError(t, err)
	assert.False(t, res.UsedFallback)
	assert.Equal(t, "secondary", res.Model)
	assert.Contains(t, res.Artifact.Text, "photosynthesis")

	reqs := prov.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "primary", reqs[0].Model)
	assert.Equal(t, 0.7, *reqs[0].Temperature)
	assert.Equal(t, "primary", reqs[1].Model)
	assert.Equal(t, 0.5, *reqs[1].Temperature)
	assert.Equal(t, "secondary", reqs[2].Model)
	assert.Equal(t, 0.7, *reqs[2].Temperature)
}

func TestGenerate_AuthFailureStopsAttempts(t *testing.T) {
	prov := mock.New(mock.WithError(gen.ErrAuthFailed))
	env := newTestGateway(t, testConfig("mock"), prov)

	res, err := env.gw.Generate(context.Background(), gen.GenerationRequest{Kind: gen.KindText, Prompt: "cells"})
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, gen.DiagProviderUnavailable, res.Diagnostic)
	assert.Equal(t, int64(1), prov.CallCount())
	assert.Equal(t, 0, env.gw.Failures().Len())
}

func TestGenerate_UnknownErrorReportsMessage(t *testing.T) {
	prov := mock.New(mock.WithError(fmt.Errorf("%w: status 503: backend overloaded", gen.ErrUpstream)))
	env := newTestGateway(t, testConfig("mock"), prov)

	res, err := env.gw.Generate(context.Background(), gen.GenerationRequest{Kind: gen.KindText, Prompt: "tides"})
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	assert.Contains(t, res.Diagnostic, "backend overloaded")
	assert.Equal(t, 1, env.gw.Failures().Count("tides"))
}

func TestGenerate_StructuredContentParsed(t *testing.T) {
	raw := "Sure! Here are your cards:\n```json\n{\"cards\":[{\"q\":\"What is an atom?\",\"a\":\"The smallest unit of matter.\"}]}\n```"
	prov := mock.New(mock.WithScript(mock.Text(raw)))
	env := newTestGateway(t, testConfig("mock"), prov)

	res, err := env.gw.Generate(context.Background(), gen.GenerationRequest{Kind: gen.KindFlashcards, Prompt: "atoms"})
	require.NoError(t, err)
	assert.False(t, res.UsedFallback)
	assert.Equal(t, gen.ArtifactStructured, res.ArtifactKind)
	require.NotNil(t, res.Artifact.Content)
	assert.Equal(t, []gen.Flashcard{{Front: "What is an atom?", Back: "The smallest unit of matter."}}, res.Artifact.Content.Cards)
}

func TestGenerate_MalformedResponseFallsBackWithoutPenalty(t *testing.T) {
	prov := mock.New(mock.WithScript(mock.Text("I'm sorry, but I cannot produce a quiz on that topic right now.")))
	env := newTestGateway(t, testConfig("mock"), prov)

	res, err := env.gw.Generate(context.Background(), gen.GenerationRequest{Kind: gen.KindQuiz, Prompt: "planets"})
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, gen.DiagMalformedResponse, res.Diagnostic)
	require.NotNil(t, res.Artifact.Content)
	assert.Len(t, res.Artifact.Content.Items, 1)
	assert.Equal(t, 0, env.gw.Failures().Len())
}

func TestGenerate_FallbackIsCached(t *testing.T) {
	ctx := context.Background()
	prov := mock.New(mock.WithError(gen.ErrRateLimited))
	env := newTestGateway(t, testConfig("mock"), prov)
	req := gen.GenerationRequest{Kind: gen.KindImage, Prompt: "crystal cave"}

	first, err := env.gw.Generate(ctx, req)
	require.NoError(t, err)
	assert.True(t, first.UsedFallback)

	second, err := env.gw.Generate(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.True(t, second.UsedFallback)
	assert.Equal(t, gen.DiagRateLimited, second.Diagnostic)
	assert.Equal(t, first.Artifact, second.Artifact)
}

func TestGenerate_SkipCacheBypassesLookup(t *testing.T) {
	ctx := context.Background()
	prov := mock.New()
	env := newTestGateway(t, testConfig("mock"), prov)
	req := gen.GenerationRequest{Kind: gen.KindText, Prompt: "rainbows", SkipCache: true}

	for i := 0; i < 2; i++ {
		res, err := env.gw.Generate(ctx, req)
		require.NoError(t, err)
		assert.False(t, res.FromCache)
	}
	assert.Equal(t, int64(2), prov.CallCount())
}

func TestGenerate_SuccessClearsFailures(t *testing.T) {
	ctx := context.Background()
	prov := mock.New(mock.WithScript(mock.Fail(gen.ErrRateLimited), mock.Fail(gen.ErrRateLimited)))
	env := newTestGateway(t, testConfig("mock"), prov)

	_, err := env.gw.Generate(ctx, gen.GenerationRequest{Kind: gen.KindText, Prompt: "Comets", SkipCache: true})
	require.NoError(t, err)
	assert.Equal(t, 1, env.gw.Failures().Count("comets"))

	res, err := env.gw.Generate(ctx, gen.GenerationRequest{Kind: gen.KindText, Prompt: "comets", SkipCache: true})
	require.NoError(t, err)
	assert.False(t, res.UsedFallback)
	assert.Equal(t, 0, env.gw.Failures().Count("comets"))
}

func TestGenerate_CoalescesConcurrentIdenticalRequests(t *testing.T) {
	prov := mock.New(mock.WithLatency(100 * time.Millisecond))
	env := newTestGateway(t, testConfig("mock"), prov)

	var wg sync.WaitGroup
	results := make([]gen.GenerationResult, 5)
	for i := range results {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			res, err := env.gw.Generate(context.Background(), gen.GenerationRequest{Kind: gen.KindImage, Prompt: "jungle expedition"})
			assert.NoError(t, err)
			results[idx] = res
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), prov.CallCount())
	for _, r := range results {
		assert.False(t, r.UsedFallback)
		assert.Equal(t, results[0].Fingerprint, r.Fingerprint)
	}
}

func TestGenerate_CancelledCallerDoesNotPoisonCache(t *testing.T) {
	prov := mock.New(mock.WithLatency(50 * time.Millisecond))
	env := newTestGateway(t, testConfig("mock"), prov)
	req := gen.GenerationRequest{Kind: gen.KindText, Prompt: "How do tides work?"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := env.gw.Generate(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	assert.Contains(t, res.Diagnostic, "context canceled")

	res, err = env.gw.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.UsedFallback)
	assert.Empty(t, res.Diagnostic)
	assert.Equal(t, int64(1), prov.CallCount())

	entry, ok, err := env.store.Lookup(context.Background(), res.Fingerprint)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, entry.Fallback)
	assert.Equal(t, 0, env.gw.Failures().Count(gen.FailureKey(req.Prompt, 50)))
}

func TestGenerate_RoutePromptSuffix(t *testing.T) {
	cfg := testConfig("mock")
	cfg.Routes[0].PromptSuffix = "Style: storybook illustration."
	prov := mock.New()
	env := newTestGateway(t, cfg, prov)

	res, err := env.gw.Generate(context.Background(), gen.GenerationRequest{Kind: gen.KindImage, Prompt: "a fossil dig"})
	require.NoError(t, err)

	assert.Equal(t, "a fossil dig\n\nStyle: storybook illustration.", prov.Requests()[0].Prompt)
	entry, ok, _ := env.store.Lookup(context.Background(), res.Fingerprint)
	require.True(t, ok)
	assert.Equal(t, "a fossil dig", entry.OriginalPrompt)
	assert.Equal(t, "a fossil dig\n\nStyle: storybook illustration.", entry.FinalPrompt)
}

func TestNewGateway_InvalidConfig(t *testing.T) {
	cfg := gen.Config{Routes: []gen.RouteConfig{{Kind: gen.KindText, Provider: "ghost", Models: []string{"m"}}}}
	_, err := gen.NewGateway(cfg, []gen.Provider{mock.New()})
	assert.Error(t, err)
}
