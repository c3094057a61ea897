package quality

import (
	"context"
	"math"
	"strings"
	"unicode"
)

// HeuristicScorer scores sections without any model call. It rewards length and structure,
// penalizes repeated sentences, and prefers concrete detail over stock phrasing.
type HeuristicScorer struct {
	// TargetWords is the length at which completeness stops growing (default 150).
	TargetWords int
}

var genericPhrases = []string{
	"various", "things", "stuff", "in general", "generally", "etc", "many aspects",
	"a lot", "some things", "kind of", "sort of", "overall", "it depends", "and so on",
	"unique individual", "values relationships", "enjoys life",
}

func (h HeuristicScorer) ScoreSection(_ context.Context, _ Section, content string) (Scores, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Scores{}, nil
	}
	target := h.TargetWords
	if target <= 0 {
		target = 150
	}

	words := strings.Fields(content)
	lines := strings.Split(content, "\n")
	sentences := splitSentences(content)

	return Scores{
		Completeness: completeness(words, lines, target),
		Coherence:    coherence(sentences),
		Specificity:  specificity(content, words),
	}.Clamp(), nil
}

func completeness(words, lines []string, target int) int {
	score := math.Min(1, float64(len(words))/float64(target)) * 70

	var headings, bullets int
	for _, l := range lines {
		l = strings.TrimSpace(l)
		switch {
		case strings.HasPrefix(l, "#"):
			headings++
		case strings.HasPrefix(l, "- "), strings.HasPrefix(l, "* "), numbered(l):
			bullets++
		}
	}
	if headings > 0 {
		score += 15
	}
	if bullets > 0 {
		score += 15
	}
	return int(math.Round(score))
}

func coherence(sentences []string) int {
	if len(sentences) == 0 {
		return 0
	}
	score := 100.0

	seen := make(map[string]struct{}, len(sentences))
	var dupes, totalWords int
	for _, s := range sentences {
		key := strings.ToLower(strings.Join(strings.Fields(s), " "))
		if _, ok := seen[key]; ok {
			dupes++
		}
		seen[key] = struct{}{}
		totalWords += len(strings.Fields(s))
	}
	score -= 60 * float64(dupes) / float64(len(sentences))

	avg := float64(totalWords) / float64(len(sentences))
	if avg < 4 || avg > 35 {
		score -= 20
	}
	if len(sentences) < 2 {
		score -= 20
	}
	return int(math.Round(score))
}

func specificity(content string, words []string) int {
	lower := strings.ToLower(content)

	var generic int
	for _, p := range genericPhrases {
		generic += strings.Count(lower, p)
	}

	var concrete int
	unique := make(map[string]struct{}, len(words))
	for i, w := range words {
		unique[strings.ToLower(strings.Trim(w, ".,;:!?\"'()"))] = struct{}{}
		if strings.IndexFunc(w, unicode.IsDigit) >= 0 {
			concrete++
			continue
		}
		// Capitalized words mid-sentence are usually names, places or tools.
		if i > 0 && !endsSentence(words[i-1]) {
			if r := []rune(w); len(r) > 1 && unicode.IsUpper(r[0]) {
				concrete++
			}
		}
	}
	concrete += strings.Count(content, "\"") / 2

	score := 50.0
	score += math.Min(30, 3*float64(concrete))
	score -= math.Min(40, 8*float64(generic))
	if len(words) > 0 {
		score += 20 * float64(len(unique)) / float64(len(words))
	}
	return int(math.Round(score))
}

func splitSentences(s string) []string {
	var out []string
	f := func(r rune) bool { return r == '.' || r == '!' || r == '?' || r == '\n' }
	for _, part := range strings.FieldsFunc(s, f) {
		part = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(part), "#-*"))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func endsSentence(w string) bool {
	return strings.HasSuffix(w, ".") || strings.HasSuffix(w, "!") || strings.HasSuffix(w, "?") || strings.HasSuffix(w, ":")
}

func numbered(l string) bool {
	i := 0
	for i < len(l) && l[i] >= '0' && l[i] <= '9' {
		i++
	}
	return i > 0 && i < len(l) && (l[i] == '.' || l[i] == ')')
}
