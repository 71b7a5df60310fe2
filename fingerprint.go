package gengateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultAspectRatio is applied to image requests that do not name one.
const DefaultAspectRatio = "16:9"

// Normalize validates req and returns a copy with prompt whitespace trimmed
// and default parameters filled in.
func Normalize(req GenerationRequest) (GenerationRequest, error) {
	if req.Kind == "" {
		return req, fmt.Errorf("%w: kind is required", ErrInvalidRequest)
	}
	if !req.Kind.Valid() {
		return req, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, req.Kind)
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return req, fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}

	params := make(map[string]string, len(req.Params)+2)
	for k, v := range req.Params {
		params[k] = strings.TrimSpace(v)
	}
	if req.Kind == KindImage && params[ParamAspectRatio] == "" {
		params[ParamAspectRatio] = DefaultAspectRatio
	}
	if params[ParamGradeLevel] == "" {
		params[ParamGradeLevel] = "any"
	}

	return GenerationRequest{
		Kind:      req.Kind,
		Prompt:    prompt,
		Params:    params,
		SkipCache: req.SkipCache,
	}, nil
}

// Fingerprint returns the content hash of a normalized request. Param key
// order does not affect the result.
func Fingerprint(req GenerationRequest) string {
	// encoding/json writes map keys in sorted order.
	data, _ := json.Marshal(struct {
		Kind   ContentKind       `json:"kind"`
		Prompt string            `json:"prompt"`
		Params map[string]string `json:"params"`
	}{req.Kind, req.Prompt, req.Params})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FailureKey derives the failure-tracking key from a prompt: the first n
// runes of its lower-cased, whitespace-collapsed form.
func FailureKey(prompt string, n int) string {
	key := strings.ToLower(strings.Join(strings.Fields(prompt), " "))
	if n <= 0 || utf8.RuneCountInString(key) <= n {
		return key
	}
	runes := []rune(key)
	return string(runes[:n])
}
