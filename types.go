package gengateway

import "time"

// ContentKind identifies what a request asks the provider to produce.
type ContentKind string

const (
	KindImage      ContentKind = "IMAGE"
	KindText       ContentKind = "TEXT"
	KindQuestions  ContentKind = "QUESTIONS"
	KindFlashcards ContentKind = "FLASHCARDS"
	KindQuiz       ContentKind = "QUIZ"
	KindCrossword  ContentKind = "CROSSWORD"
)

// Kinds lists every supported content kind.
var Kinds = []ContentKind{KindImage, KindText, KindQuestions, KindFlashcards, KindQuiz, KindCrossword}

// Valid reports whether k is a known content kind.
func (k ContentKind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Structured reports whether provider output for k must go through the parser.
func (k ContentKind) Structured() bool {
	switch k {
	case KindQuestions, KindFlashcards, KindQuiz, KindCrossword:
		return true
	}
	return false
}

// ArtifactKind describes how an artifact was produced.
type ArtifactKind string

const (
	ArtifactAIGenerated ArtifactKind = "ai-generated"
	ArtifactGradient    ArtifactKind = "gradient"
	ArtifactText        ArtifactKind = "text"
	ArtifactStructured  ArtifactKind = "structured"
)

// Well-known request parameters.
const (
	ParamAspectRatio = "aspect_ratio"
	ParamGradeLevel  = "grade_level"
	ParamTopic       = "topic"
)

// GenerationRequest is a caller's request for one piece of content.
type GenerationRequest struct {
	Kind      ContentKind       `json:"kind"`
	Prompt    string            `json:"prompt"`
	Params    map[string]string `json:"params,omitempty"`
	SkipCache bool              `json:"skip_cache,omitempty"`
}

// GenerationResult is always returned for a valid request, even when the
// provider could not be used.
type GenerationResult struct {
	RequestID        string       `json:"request_id"`
	Fingerprint      string       `json:"fingerprint"`
	Artifact         Artifact     `json:"artifact"`
	ArtifactKind     ArtifactKind `json:"artifact_kind"`
	FromCache        bool         `json:"from_cache"`
	UsedFallback     bool         `json:"used_fallback"`
	GenerationTimeMs int64        `json:"generation_time_ms"`
	Diagnostic       string       `json:"diagnostic,omitempty"`
	Model            string       `json:"model,omitempty"`
}

// Artifact is the produced content.
type Artifact struct {
	Kind     ArtifactKind `json:"kind"`
	ImageURL string       `json:"image_url,omitempty"`
	Effect   string       `json:"effect,omitempty"`
	Text     string       `json:"text,omitempty"`
	Content  *Content     `json:"content,omitempty"`
}

// Content is the structured payload of question, flashcard, quiz and crossword artifacts.
type Content struct {
	Questions []string        `json:"questions,omitempty"`
	Cards     []Flashcard     `json:"cards,omitempty"`
	Items     []QuizItem      `json:"items,omitempty"`
	Clues     []CrosswordClue `json:"clues,omitempty"`
	Words     []string        `json:"words,omitempty"`
}

// Empty reports whether c carries no usable data.
func (c Content) Empty() bool {
	return len(c.Questions) == 0 && len(c.Cards) == 0 && len(c.Items) == 0 &&
		len(c.Clues) == 0 && len(c.Words) == 0
}

// Flashcard is a single front/back card.
type Flashcard struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

// QuizItem is one quiz question. Type is MCQ, TF or FIB.
type QuizItem struct {
	Type        string   `json:"type"`
	Question    string   `json:"question"`
	Options     []string `json:"options,omitempty"`
	Answer      string   `json:"answer"`
	Explanation string   `json:"explanation,omitempty"`
}

// CrosswordClue pairs an answer word with its clue.
type CrosswordClue struct {
	Clue      string `json:"clue"`
	Answer    string `json:"answer"`
	Direction string `json:"direction,omitempty"`
}

// CircuitStats is a snapshot of gateway protection state.
type CircuitStats struct {
	BreakerOpen     bool      `json:"breaker_open"`
	OpenUntil       time.Time `json:"open_until,omitempty"`
	TrackedFailures int       `json:"tracked_failures"`
}
