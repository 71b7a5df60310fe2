// Package parse extracts structured content from semi-structured model output.
//
// A Chain tries strategies in order and returns the first non-empty result:
// direct JSON, JSON inside markdown fences, the first balanced JSON object in
// surrounding prose, a truncated object with its open brackets closed, and
// finally line-oriented heuristics per content kind.
package parse

import (
	"strings"

	"github.com/tidwall/gjson"

	gen "github.com/ineyio/gengateway"
)

// Strategy attempts to extract content of the given kind from raw.
type Strategy interface {
	Name() string
	Extract(raw string, kind gen.ContentKind) (gen.Content, bool)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc struct {
	name string
	fn   func(raw string, kind gen.ContentKind) (gen.Content, bool)
}

func (s StrategyFunc) Name() string { return s.name }

func (s StrategyFunc) Extract(raw string, kind gen.ContentKind) (gen.Content, bool) {
	return s.fn(raw, kind)
}

// Chain is a ResponseParser that tries its strategies in order.
type Chain struct {
	strategies []Strategy
}

var _ gen.ResponseParser = (*Chain)(nil)

// New returns the default chain: Direct, StripFences, BalancedObject,
// RepairTruncated, LineHeuristic.
func New() *Chain {
	return NewChain(Direct, StripFences, BalancedObject, RepairTruncated, LineHeuristic)
}

// NewChain builds a chain from the given strategies.
func NewChain(strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies}
}

// Parse returns the first strategy's non-empty content, or ErrMalformedResponse.
func (c *Chain) Parse(raw string, kind gen.ContentKind) (gen.Content, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return gen.Content{}, gen.ErrMalformedResponse
	}
	for _, s := range c.strategies {
		if content, ok := s.Extract(raw, kind); ok && !content.Empty() {
			return content, nil
		}
	}
	return gen.Content{}, gen.ErrMalformedResponse
}

// Direct decodes raw as a JSON document.
var Direct Strategy = StrategyFunc{name: "direct", fn: func(raw string, kind gen.ContentKind) (gen.Content, bool) {
	return fromJSON(raw, kind)
}}

// StripFences removes markdown code fences and decodes what remains.
var StripFences Strategy = StrategyFunc{name: "strip_fences", fn: func(raw string, kind gen.ContentKind) (gen.Content, bool) {
	body, ok := fenced(raw)
	if !ok {
		return gen.Content{}, false
	}
	return fromJSON(body, kind)
}}

// BalancedObject decodes the first balanced {...} object found in raw.
var BalancedObject Strategy = StrategyFunc{name: "balanced_object", fn: func(raw string, kind gen.ContentKind) (gen.Content, bool) {
	obj := firstObject(raw)
	if obj == "" {
		return gen.Content{}, false
	}
	return fromJSON(obj, kind)
}}

// RepairTruncated closes an object the model stopped writing before its
// closing braces. An unterminated string at the cut is dropped.
var RepairTruncated Strategy = StrategyFunc{name: "repair_truncated", fn: func(raw string, kind gen.ContentKind) (gen.Content, bool) {
	obj := closeTruncated(raw)
	if obj == "" {
		return gen.Content{}, false
	}
	return fromJSON(obj, kind)
}}

// LineHeuristic scans raw line by line for kind-specific patterns.
var LineHeuristic Strategy = StrategyFunc{name: "line_heuristic", fn: func(raw string, kind gen.ContentKind) (gen.Content, bool) {
	switch kind {
	case gen.KindQuestions:
		return questionLines(raw)
	case gen.KindFlashcards:
		return flashcardLines(raw)
	case gen.KindQuiz:
		return quizLines(raw)
	case gen.KindCrossword:
		return crosswordLines(raw)
	}
	return gen.Content{}, false
}}

// fenced returns the body of the first ``` block, without a language tag.
func fenced(raw string) (string, bool) {
	start := strings.Index(raw, "```")
	if start < 0 {
		return "", false
	}
	rest := raw[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.ContainsAny(rest[:nl], "{[") {
		rest = rest[nl+1:]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	rest = strings.TrimSpace(rest)
	return rest, rest != ""
}

// firstObject returns the first balanced JSON object in s, honouring string
// literals and escapes.
func firstObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// closeTruncated returns the object starting at the first '{' completed with
// the closers it is missing, or "" when the object is balanced or not JSON-like.
func closeTruncated(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	var closers []byte
	inString, escaped := false, false
	strStart := 0
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString, strStart = true, i
		case '{':
			closers = append(closers, '}')
		case '[':
			closers = append(closers, ']')
		case '}', ']':
			if len(closers) == 0 || closers[len(closers)-1] != ch {
				return ""
			}
			closers = closers[:len(closers)-1]
			if len(closers) == 0 {
				return ""
			}
		}
	}

	body := s[start:]
	if inString {
		body = s[start:strStart]
	}
	body = strings.TrimRight(body, " \t\r\n,")
	if strings.HasSuffix(body, ":") {
		body += "null"
	}

	var b strings.Builder
	b.WriteString(body)
	for i := len(closers) - 1; i >= 0; i-- {
		b.WriteByte(closers[i])
	}
	return b.String()
}

// fromJSON validates doc and extracts content for kind.
func fromJSON(doc string, kind gen.ContentKind) (gen.Content, bool) {
	doc = strings.TrimSpace(doc)
	if !gjson.Valid(doc) {
		return gen.Content{}, false
	}
	root := gjson.Parse(doc)
	var c gen.Content
	switch kind {
	case gen.KindQuestions:
		c.Questions = questionsFrom(root)
	case gen.KindFlashcards:
		c.Cards = cardsFrom(root)
	case gen.KindQuiz:
		c.Items = itemsFrom(root)
	case gen.KindCrossword:
		c.Clues, c.Words = crosswordFrom(root)
	default:
		return gen.Content{}, false
	}
	return c, !c.Empty()
}

// pick returns the first existing result among the paths, or root itself
// when root is an array.
func pick(root gjson.Result, paths ...string) gjson.Result {
	if root.IsArray() {
		return root
	}
	for _, p := range paths {
		if r := root.Get(p); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && strings.TrimSpace(v.String()) != "" {
			return strings.TrimSpace(v.String())
		}
	}
	return ""
}

func questionsFrom(root gjson.Result) []string {
	var out []string
	pick(root, "questions", "suggestions", "items").ForEach(func(_, v gjson.Result) bool {
		var q string
		if v.IsObject() {
			q = firstString(v, "question", "text", "q")
		} else {
			q = strings.TrimSpace(v.String())
		}
		if q != "" {
			out = append(out, q)
		}
		return true
	})
	// Category-grouped form: [{"category": "...", "questions": [...]}].
	if len(out) == 0 && root.IsArray() {
		root.ForEach(func(_, group gjson.Result) bool {
			out = append(out, questionsFrom(group)...)
			return true
		})
	}
	return out
}

func cardsFrom(root gjson.Result) []gen.Flashcard {
	var out []gen.Flashcard
	pick(root, "cards", "flashcards", "items").ForEach(func(_, v gjson.Result) bool {
		front := firstString(v, "front", "q", "question", "term")
		back := firstString(v, "back", "a", "answer", "definition")
		if front != "" {
			out = append(out, gen.Flashcard{Front: front, Back: back})
		}
		return true
	})
	return out
}

func itemsFrom(root gjson.Result) []gen.QuizItem {
	var out []gen.QuizItem
	pick(root, "items", "quiz", "questions").ForEach(func(_, v gjson.Result) bool {
		q := firstString(v, "question", "q", "prompt")
		if q == "" {
			return true
		}
		item := gen.QuizItem{
			Type:        strings.ToUpper(firstString(v, "type")),
			Question:    q,
			Answer:      firstString(v, "answer", "correct", "correctAnswer"),
			Explanation: firstString(v, "explanation"),
		}
		for _, o := range pick(v, "options", "choices").Array() {
			if s := strings.TrimSpace(o.String()); s != "" {
				item.Options = append(item.Options, s)
			}
		}
		if item.Type == "" {
			switch {
			case len(item.Options) > 0:
				item.Type = "MCQ"
			case item.Answer == "true" || item.Answer == "false":
				item.Type = "TF"
			default:
				item.Type = "FIB"
			}
		}
		out = append(out, item)
		return true
	})
	return out
}

func crosswordFrom(root gjson.Result) ([]gen.CrosswordClue, []string) {
	var clues []gen.CrosswordClue
	var words []string
	pick(root, "clues", "entries").ForEach(func(_, v gjson.Result) bool {
		answer := strings.ToUpper(firstString(v, "answer", "word"))
		if answer == "" {
			return true
		}
		clues = append(clues, gen.CrosswordClue{
			Clue:      firstString(v, "clue", "hint"),
			Answer:    answer,
			Direction: strings.ToLower(firstString(v, "direction")),
		})
		words = append(words, answer)
		return true
	})
	if len(words) == 0 {
		root.Get("words").ForEach(func(_, v gjson.Result) bool {
			w := v.String()
			if v.IsObject() {
				w = firstString(v, "word", "answer")
			}
			if w = strings.ToUpper(strings.TrimSpace(w)); w != "" {
				words = append(words, w)
			}
			return true
		})
	}
	return clues, words
}
