package parse

import (
	"regexp"
	"strings"

	gen "github.com/ineyio/gengateway"
)

const (
	maxQuestions      = 9
	minQuestionLength = 10
	maxCrosswordWords = 10
)

var (
	numberedRe     = regexp.MustCompile(`^\d+[.)]?\s*`)
	bulletRe       = regexp.MustCompile(`^[-*•]\s*`)
	questionWordRe = regexp.MustCompile(`(?i)^(what|how|why|when|where|which|who)\b`)
	qPrefixRe      = regexp.MustCompile(`(?i)^(q|question|front)\s*[:\-]\s*`)
	aPrefixRe      = regexp.MustCompile(`(?i)^(a|answer|back)\s*[:\-]\s*`)
	optionRe       = regexp.MustCompile(`^\(?([A-Da-d])[).:]\s*(.+)$`)
	answerLineRe   = regexp.MustCompile(`(?i)^(correct\s+)?answer\s*[:\-]\s*(.+)$`)
	clueLineRe     = regexp.MustCompile(`^([A-Z]{3,})\s*[:\-–]\s*(.+)$`)
	upperWordRe    = regexp.MustCompile(`\b[A-Z]{3,}\b`)
)

func lines(raw string) []string {
	var out []string
	for _, l := range strings.Split(raw, "\n") {
		if l = strings.TrimSpace(l); l != "" && !strings.HasPrefix(l, "```") {
			out = append(out, l)
		}
	}
	return out
}

func stripMarker(l string) string {
	l = numberedRe.ReplaceAllString(l, "")
	l = bulletRe.ReplaceAllString(l, "")
	return strings.TrimSpace(l)
}

func questionLines(raw string) (gen.Content, bool) {
	var qs []string
	for _, l := range lines(raw) {
		if !strings.HasSuffix(l, "?") && !numberedRe.MatchString(l) && !questionWordRe.MatchString(l) {
			continue
		}
		q := stripMarker(l)
		if len(q) > minQuestionLength && len(qs) < maxQuestions {
			qs = append(qs, q)
		}
	}
	return gen.Content{Questions: qs}, len(qs) > 0
}

// flashcardLines reads Q:/A: pairs, or alternating question/answer lines
// when no prefixes are present.
func flashcardLines(raw string) (gen.Content, bool) {
	ls := lines(raw)
	var cards []gen.Flashcard

	prefixed := false
	for _, l := range ls {
		if qPrefixRe.MatchString(l) {
			prefixed = true
			break
		}
	}

	if prefixed {
		var cur *gen.Flashcard
		for _, l := range ls {
			switch {
			case qPrefixRe.MatchString(l):
				cards = append(cards, gen.Flashcard{Front: qPrefixRe.ReplaceAllString(l, "")})
				cur = &cards[len(cards)-1]
			case aPrefixRe.MatchString(l) && cur != nil:
				cur.Back = aPrefixRe.ReplaceAllString(l, "")
				cur = nil
			}
		}
	} else {
		for i := 0; i+1 < len(ls); i += 2 {
			cards = append(cards, gen.Flashcard{Front: stripMarker(ls[i]), Back: stripMarker(ls[i+1])})
		}
	}

	return gen.Content{Cards: cards}, len(cards) > 0
}

// quizLines reads question lines followed by lettered options and an
// optional Answer: line.
func quizLines(raw string) (gen.Content, bool) {
	var items []gen.QuizItem
	var cur *gen.QuizItem
	for _, l := range lines(raw) {
		if m := optionRe.FindStringSubmatch(l); m != nil && cur != nil {
			cur.Options = append(cur.Options, strings.TrimSpace(m[2]))
			continue
		}
		if m := answerLineRe.FindStringSubmatch(l); m != nil && cur != nil {
			cur.Answer = strings.TrimSpace(m[2])
			continue
		}
		if strings.HasSuffix(l, "?") || numberedRe.MatchString(l) {
			items = append(items, gen.QuizItem{Question: stripMarker(l)})
			cur = &items[len(items)-1]
		}
	}

	out := items[:0]
	for _, it := range items {
		if len(it.Options) == 0 {
			continue
		}
		it.Type = "MCQ"
		out = append(out, it)
	}
	return gen.Content{Items: out}, len(out) > 0
}

// crosswordLines reads "ANSWER: clue" lines, falling back to bare upper
// case words.
func crosswordLines(raw string) (gen.Content, bool) {
	var clues []gen.CrosswordClue
	var words []string
	seen := make(map[string]bool)

	for _, l := range lines(raw) {
		m := clueLineRe.FindStringSubmatch(stripMarker(l))
		if m == nil || seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		clues = append(clues, gen.CrosswordClue{Answer: m[1], Clue: strings.TrimSpace(m[2])})
		words = append(words, m[1])
	}

	if len(words) == 0 {
		for _, w := range upperWordRe.FindAllString(raw, -1) {
			if seen[w] {
				continue
			}
			seen[w] = true
			words = append(words, w)
			if len(words) == maxCrosswordWords {
				break
			}
		}
	}

	return gen.Content{Clues: clues, Words: words}, len(words) > 0
}
