package gengateway_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gen "github.com/ineyio/gengateway"
)

func fingerprint(t *testing.T, req gen.GenerationRequest) string {
	t.Helper()
	norm, err := gen.Normalize(req)
	require.NoError(t, err)
	return gen.Fingerprint(norm)
}

func TestFingerprint_StableAcrossParamOrder(t *testing.T) {
	a := fingerprint(t, gen.GenerationRequest{
		Kind:   gen.KindImage,
		Prompt: "ocean adventure story",
		Params: map[string]string{"aspect_ratio": "4:3", "grade_level": "5"},
	})
	b := fingerprint(t, gen.GenerationRequest{
		Kind:   gen.KindImage,
		Prompt: "ocean adventure story",
		Params: map[string]string{"grade_level": "5", "aspect_ratio": "4:3"},
	})
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprint_DiffersOnAnyInput(t *testing.T) {
	base := gen.GenerationRequest{Kind: gen.KindImage, Prompt: "ocean", Params: map[string]string{"grade_level": "5"}}
	fp := fingerprint(t, base)

	otherKind := base
	otherKind.Kind = gen.KindText
	assert.NotEqual(t, fp, fingerprint(t, otherKind))

	otherPrompt := base
	otherPrompt.Prompt = "oceans"
	assert.NotEqual(t, fp, fingerprint(t, otherPrompt))

	otherParam := base
	otherParam.Params = map[string]string{"grade_level": "6"}
	assert.NotEqual(t, fp, fingerprint(t, otherParam))
}

func TestFingerprint_SkipCacheIgnored(t *testing.T) {
	a := fingerprint(t, gen.GenerationRequest{Kind: gen.KindText, Prompt: "x"})
	b := fingerprint(t, gen.GenerationRequest{Kind: gen.KindText, Prompt: "x", SkipCache: true})
	assert.Equal(t, a, b)
}

func TestNormalize(t *testing.T) {
	norm, err := gen.Normalize(gen.GenerationRequest{Kind: gen.KindImage, Prompt: "  lava  "})
	require.NoError(t, err)
	assert.Equal(t, "lava", norm.Prompt)
	assert.Equal(t, gen.DefaultAspectRatio, norm.Params[gen.ParamAspectRatio])
	assert.Equal(t, "any", norm.Params[gen.ParamGradeLevel])

	text, err := gen.Normalize(gen.GenerationRequest{Kind: gen.KindText, Prompt: "lava"})
	require.NoError(t, err)
	_, has := text.Params[gen.ParamAspectRatio]
	assert.False(t, has)

	_, err = gen.Normalize(gen.GenerationRequest{Prompt: "lava"})
	assert.ErrorIs(t, err, gen.ErrInvalidRequest)
}

func TestFailureKey(t *testing.T) {
	assert.Equal(t, "why is the sky blue?", gen.FailureKey("  Why is   the SKY\tblue? ", 50))

	long := strings.Repeat("é", 80)
	key := gen.FailureKey(long, 50)
	assert.Equal(t, strings.Repeat("é", 50), key)

	assert.Equal(t,
		gen.FailureKey(strings.Repeat("a", 50)+" first", 50),
		gen.FailureKey(strings.Repeat("a", 50)+" second", 50))
}
