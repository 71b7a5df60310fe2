package gengateway

import (
	"fmt"
	"strings"
)

// Candidate is one planned provider attempt.
type Candidate struct {
	Provider    Provider
	Auth        Auth
	Model       string
	Temperature float64
}

// route is a resolved RouteConfig. err is set when the route cannot be used;
// requests for its kind go straight to fallback.
type route struct {
	kind         ContentKind
	provider     Provider
	auth         Auth
	models       []string
	promptSuffix string
	maxTokens    int
	err          error
}

// buildRoutes resolves every configured route against the registered providers.
func buildRoutes(cfg Config, providers map[string]Provider) map[ContentKind]*route {
	routes := make(map[ContentKind]*route, len(cfg.Routes))
	for _, rc := range cfg.Routes {
		rt := &route{
			kind:         rc.Kind,
			promptSuffix: rc.PromptSuffix,
			maxTokens:    rc.MaxTokens,
		}
		routes[rc.Kind] = rt

		prov, ok := providers[rc.Provider]
		if !ok {
			rt.err = fmt.Errorf("%w: provider %q not registered", ErrNoRoute, rc.Provider)
			continue
		}
		rt.provider = prov
		if pc, ok := cfg.Provider(rc.Provider); ok {
			rt.auth = pc.Auth
		}

		if err := prov.Validate(rt.auth); err != nil {
			rt.err = fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, prov.Name(), err)
			continue
		}

		for _, m := range rc.Models {
			if prov.SupportsModel(m) {
				rt.models = append(rt.models, m)
			}
		}
		if len(rt.models) == 0 {
			rt.err = fmt.Errorf("%w: %s supports none of %v", ErrProviderUnavailable, prov.Name(), rc.Models)
		}
	}
	return routes
}

// candidates expands the route into models × temperatures, model-major.
func (r *route) candidates(temperatures []float64) []Candidate {
	out := make([]Candidate, 0, len(r.models)*len(temperatures))
	for _, m := range r.models {
		for _, t := range temperatures {
			out = append(out, Candidate{
				Provider:    r.provider,
				Auth:        r.auth,
				Model:       m,
				Temperature: t,
			})
		}
	}
	return out
}

// finalPrompt appends the route's prompt suffix.
func (r *route) finalPrompt(prompt string) string {
	suffix := strings.TrimSpace(r.promptSuffix)
	if suffix == "" {
		return prompt
	}
	return prompt + "\n\n" + suffix
}
