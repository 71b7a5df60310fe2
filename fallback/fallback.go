// Package fallback synthesizes deterministic artifacts when the provider
// cannot be used.
package fallback

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	gen "github.com/ineyio/gengateway"
)

// Preset is a named gradient selected by keyword.
type Preset struct {
	Keyword  string
	Gradient string
}

// Presets are matched in order against the lower-cased prompt; the first
// keyword contained in the prompt wins.
var Presets = []Preset{
	{"space", "linear-gradient(135deg, #667eea 0%, #764ba2 50%, #f093fb 100%)"},
	{"ocean", "linear-gradient(135deg, #74b9ff 0%, #0984e3 50%, #6c5ce7 100%)"},
	{"forest", "linear-gradient(135deg, #00b894 0%, #00a085 50%, #2d3436 100%)"},
	{"mountain", "linear-gradient(135deg, #fd79a8 0%, #fdcb6e 50%, #6c5ce7 100%)"},
	{"desert", "linear-gradient(135deg, #fdcb6e 0%, #fd79a8 50%, #e17055 100%)"},
	{"arctic", "linear-gradient(135deg, #74b9ff 0%, #a29bfe 50%, #fd79a8 100%)"},
	{"volcano", "linear-gradient(135deg, #fd63a8 0%, #fc7303 50%, #2d3436 100%)"},
	{"garden", "linear-gradient(135deg, #00b894 0%, #fd79a8 50%, #fdcb6e 100%)"},
	{"laboratory", "linear-gradient(135deg, #a29bfe 0%, #74b9ff 50%, #0984e3 100%)"},
	{"jungle", "linear-gradient(135deg, #00b894 0%, #55a3ff 50%, #fd79a8 100%)"},
	{"cave", "linear-gradient(135deg, #636e72 0%, #2d3436 50%, #ddd 100%)"},
	{"crystal", "linear-gradient(135deg, #a29bfe 0%, #fd79a8 50%, #fdcb6e 100%)"},
	{"underwater", "linear-gradient(135deg, #0984e3 0%, #74b9ff 50%, #00b894 100%)"},
	{"magical", "linear-gradient(135deg, #fd79a8 0%, #a29bfe 50%, #fdcb6e 100%)"},
	{"cosmic", "linear-gradient(135deg, #2d3436 0%, #6c5ce7 50%, #fd79a8 100%)"},
	{"fossil", "linear-gradient(135deg, #ddd 0%, #b2bec3 50%, #636e72 100%)"},
}

// DefaultGradient is used when no preset keyword matches.
const DefaultGradient = "linear-gradient(135deg, #667eea 0%, #764ba2 50%, #f093fb 100%)"

// effectGroups map background effects to the words that select them, in
// priority order.
var effectGroups = []struct {
	effect string
	words  []string
}{
	{"globe", []string{"space", "cosmic", "galaxy", "stars"}},
	{"waves", []string{"ocean", "underwater", "sea", "water"}},
	{"net", []string{"laboratory", "science", "experiment", "research"}},
	{"cells", []string{"forest", "jungle", "nature", "garden"}},
	{"topology", []string{"cave", "crystal", "mineral", "geology"}},
	{"halo", []string{"magical", "fantasy", "mystical", "enchanted"}},
	{"rings", []string{"desert", "sand", "archaeology", "dig"}},
	{"clouds2", []string{"arctic", "ice", "snow", "frozen"}},
	{"birds", []string{"volcano", "fire", "lava", "eruption"}},
}

const defaultEffect = "globe"

// Synthesizer is the default FallbackSynthesizer.
type Synthesizer struct{}

var _ gen.FallbackSynthesizer = (*Synthesizer)(nil)

// New creates a Synthesizer.
func New() *Synthesizer { return &Synthesizer{} }

// Synthesize returns the artifact for req. Equal requests give equal artifacts.
func (s *Synthesizer) Synthesize(req gen.GenerationRequest) gen.Artifact {
	switch req.Kind {
	case gen.KindImage:
		return gen.Artifact{
			Kind:     gen.ArtifactGradient,
			ImageURL: Gradient(req.Prompt),
			Effect:   Effect(req.Prompt),
		}
	case gen.KindText:
		return gen.Artifact{Kind: gen.ArtifactText, Text: textFor(req)}
	case gen.KindQuestions:
		return structured(gen.Content{Questions: DefaultQuestions(grade(req))})
	case gen.KindFlashcards:
		t := topic(req)
		return structured(gen.Content{Cards: []gen.Flashcard{{
			Front: fmt.Sprintf("What is %s?", t),
			Back:  fmt.Sprintf("%s is a topic worth exploring. Ask your teacher or look it up to learn more.", capitalize(t)),
		}}})
	case gen.KindQuiz:
		t := capitalize(topic(req))
		return structured(gen.Content{Items: []gen.QuizItem{{
			Type:     "MCQ",
			Question: "Which subject does this lesson focus on?",
			Options:  quizOptions(t),
			Answer:   t,
		}}})
	case gen.KindCrossword:
		return structured(gen.Content{Words: crosswordWords(req)})
	}
	return gen.Artifact{Kind: gen.ArtifactText, Text: req.Prompt}
}

// Gradient returns the gradient for the first preset keyword found in prompt.
func Gradient(prompt string) string {
	lower := strings.ToLower(prompt)
	for _, p := range Presets {
		if strings.Contains(lower, p.Keyword) {
			return p.Gradient
		}
	}
	return DefaultGradient
}

// Effect returns the animated background effect for prompt.
func Effect(prompt string) string {
	lower := strings.ToLower(prompt)
	for _, g := range effectGroups {
		for _, w := range g.words {
			if strings.Contains(lower, w) {
				return g.effect
			}
		}
	}
	return defaultEffect
}

// DefaultQuestions returns the grade-banded default question set. Grades
// below 1 (unknown) use the middle band.
func DefaultQuestions(grade int) []string {
	switch {
	case grade >= 1 && grade <= 2:
		return []string{
			"What do plants need to grow?",
			"What do animals eat?",
			"How do we take care of pets?",
			"Why do I need to eat food?",
			"What makes my heart beat?",
			"Why do I have teeth?",
			"Why does it rain?",
			"What makes it sunny?",
			"Why is it cold in winter?",
		}
	case grade <= 5:
		return []string{
			"How do plants make their own food?",
			"How do our bodies digest food?",
			"Why do animals hibernate?",
			"Why do objects fall down?",
			"How do magnets work?",
			"What makes things float?",
			"What makes the weather change?",
			"How are rocks formed?",
			"What are the phases of the moon?",
		}
	default:
		return []string{
			"How do cells divide and grow?",
			"What is photosynthesis?",
			"How does the circulatory system work?",
			"What is the difference between mass and weight?",
			"How do chemical reactions work?",
			"What are the states of matter?",
			"How are mountains formed?",
			"What causes earthquakes?",
			"How does the water cycle work?",
		}
	}
}

func structured(c gen.Content) gen.Artifact {
	return gen.Artifact{Kind: gen.ArtifactStructured, Content: &c}
}

func textFor(req gen.GenerationRequest) string {
	g := grade(req)
	audience := "Students"
	if g > 0 {
		audience = fmt.Sprintf("Grade %d students", g)
	}
	return fmt.Sprintf("%s are exploring %s. Read about it with a partner, write down one thing you learned and one question you still have.",
		audience, topic(req))
}

func crosswordWords(req gen.GenerationRequest) []string {
	words := []string{"SCIENCE", "ATOM", "CELL"}
	seen := map[string]bool{"SCIENCE": true, "ATOM": true, "CELL": true}
	var extra []string
	for _, f := range strings.Fields(topic(req)) {
		w := strings.ToUpper(strings.Trim(f, ".,;:!?\"'()"))
		if len(w) < 3 || seen[w] || !isLetters(w) {
			continue
		}
		seen[w] = true
		extra = append(extra, w)
	}
	return append(extra, words...)
}

func isLetters(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// topic prefers the explicit topic parameter, then the prompt.
func topic(req gen.GenerationRequest) string {
	if t := strings.TrimSpace(req.Params[gen.ParamTopic]); t != "" {
		return t
	}
	t := strings.TrimSpace(req.Prompt)
	if t == "" {
		return "the lesson"
	}
	return t
}

// grade returns the grade_level parameter, or 0 when absent or not numeric.
func grade(req gen.GenerationRequest) int {
	g, err := strconv.Atoi(strings.TrimSpace(req.Params[gen.ParamGradeLevel]))
	if err != nil {
		return 0
	}
	return g
}

var distractors = []string{"Music", "History", "Sports", "Art"}

// quizOptions returns the answer followed by three distractors that differ from it.
func quizOptions(answer string) []string {
	opts := []string{answer}
	for _, d := range distractors {
		if len(opts) == 4 {
			break
		}
		if !strings.EqualFold(d, answer) {
			opts = append(opts, d)
		}
	}
	return opts
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
