package gengateway_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gen "github.com/ineyio/gengateway"
)

const sampleConfig = `
limits:
  max_concurrent: 2
  min_interval: 2s
  quota_cooldown: 30m
  temperatures: [0.9, 0.4]
providers:
  - name: gemini
    auth:
      api_key: ${TEST_GEMINI_KEY}
  - name: imagen
    auth:
      project_id: demo
      location: us-central1
routes:
  - kind: QUESTIONS
    provider: gemini
    models: [gemini-2.5-flash-lite, gemini-1.5-flash-latest]
  - kind: IMAGE
    provider: imagen
    models: [imagen-4.0-fast-generate-preview-06-06]
    prompt_suffix: "Avoid any text in the image."
cache:
  backend: sqlite
  path: /tmp/gen.db
  ttl: 168h
`

func TestLoadConfig(t *testing.T) {
	t.Setenv("TEST_GEMINI_KEY", "secret")
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := gen.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Limits.MaxConcurrent)
	assert.Equal(t, 2*time.Second, cfg.Limits.MinInterval)
	assert.Equal(t, []float64{0.9, 0.4}, cfg.Limits.Temperatures)
	assert.Equal(t, 168*time.Hour, cfg.Cache.TTL)

	p, ok := cfg.Provider("gemini")
	require.True(t, ok)
	assert.Equal(t, "secret", p.Auth.APIKey)

	require.Len(t, cfg.Routes, 2)
	assert.Equal(t, gen.KindImage, cfg.Routes[1].Kind)
	assert.Equal(t, "Avoid any text in the image.", cfg.Routes[1].PromptSuffix)
}

func TestLimits_WithDefaults(t *testing.T) {
	l := gen.Limits{}.WithDefaults()

	assert.Equal(t, 1, l.MaxConcurrent)
	assert.Equal(t, 1500*time.Millisecond, l.MinInterval)
	assert.Equal(t, 3, l.MaxFailures)
	assert.Equal(t, 15*time.Minute, l.FailureTimeout)
	assert.Equal(t, time.Hour, l.QuotaCooldown)
	assert.Equal(t, 50, l.FailureKeyLength)
	assert.Equal(t, 50, l.MinResponseChars)
	assert.Equal(t, []float64{0.7, 0.5}, l.Temperatures)
	assert.Equal(t, 60*time.Second, l.AttemptTimeout)

	custom := gen.Limits{MaxFailures: 5, MinInterval: -1}.WithDefaults()
	assert.Equal(t, 5, custom.MaxFailures)
	assert.Equal(t, time.Duration(-1), custom.MinInterval)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  gen.Config
	}{
		{"provider without name", gen.Config{Providers: []gen.ProviderConfig{{}}}},
		{"duplicate provider", gen.Config{Providers: []gen.ProviderConfig{{Name: "a"}, {Name: "a"}}}},
		{"invalid kind", gen.Config{
			Providers: []gen.ProviderConfig{{Name: "a"}},
			Routes:    []gen.RouteConfig{{Kind: "VIDEO", Provider: "a", Models: []string{"m"}}},
		}},
		{"duplicate route", gen.Config{
			Providers: []gen.ProviderConfig{{Name: "a"}},
			Routes: []gen.RouteConfig{
				{Kind: gen.KindText, Provider: "a", Models: []string{"m"}},
				{Kind: gen.KindText, Provider: "a", Models: []string{"m"}},
			},
		}},
		{"route without models", gen.Config{
			Providers: []gen.ProviderConfig{{Name: "a"}},
			Routes:    []gen.RouteConfig{{Kind: gen.KindText, Provider: "a"}},
		}},
		{"temperature out of range", gen.Config{Limits: gen.Limits{Temperatures: []float64{3}}}},
		{"sqlite without path", gen.Config{Cache: gen.CacheConfig{Backend: "sqlite"}}},
		{"redis without url", gen.Config{Cache: gen.CacheConfig{Backend: "redis"}}},
		{"unknown backend", gen.Config{Cache: gen.CacheConfig{Backend: "mongo"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Validate())
		})
	}

	assert.NoError(t, gen.Config{}.Validate())
}
