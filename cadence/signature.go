package cadence

import (
	"math"
	"strings"
	"unicode"
)

const (
	// MinPauseMS is the smallest inter-word gap counted as a pause.
	MinPauseMS = 150
	// MediumPauseMS and LongPauseMS bound the short/medium/long pause buckets.
	MediumPauseMS = 300
	LongPauseMS   = 800

	// LowConfidence flags words the recognizer was unsure about.
	LowConfidence = 0.7

	rushGapMS         = 100
	rushPauseMS       = 600
	hesitationMinMS   = 400
	hesitationMaxMS   = 1500
	emphasisFactor    = 1.5
	emphasisMinLength = 3
)

var fillerWords = map[string]struct{}{
	"um": {}, "umm": {}, "uh": {}, "uhm": {}, "er": {}, "erm": {}, "ah": {}, "hmm": {},
	"like": {}, "basically": {}, "actually": {}, "literally": {}, "totally": {},
}

var fillerPhrases = [][2]string{
	{"you", "know"},
	{"i", "mean"},
	{"kind", "of"},
	{"sort", "of"},
}

// Pause is a gap between two words longer than MinPauseMS.
type Pause struct {
	// BeforeWord is the index of the word that follows the gap.
	BeforeWord int   `json:"before_word"`
	OffsetMS   int64 `json:"offset_ms"`
	DurationMS int64 `json:"duration_ms"`
}

// PauseBuckets counts pauses by length.
type PauseBuckets struct {
	Short  int `json:"short"`
	Medium int `json:"medium"`
	Long   int `json:"long"`
}

// Segment is a contiguous run of low-confidence words.
type Segment struct {
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
	Text       string `json:"text"`
	StartMS    int64  `json:"start_ms"`
	EndMS      int64  `json:"end_ms"`
}

// Signature is the per-recording bundle of cadence markers.
type Signature struct {
	WordCount  int   `json:"word_count"`
	DurationMS int64 `json:"duration_ms"`

	Pauses       []Pause      `json:"pauses"`
	PauseCount   int          `json:"pause_count"`
	PauseBuckets PauseBuckets `json:"pause_buckets"`
	AvgPauseMS   float64      `json:"avg_pause_ms"`

	WordsPerMinute    float64 `json:"words_per_minute"`
	AvgWordDurationMS float64 `json:"avg_word_duration_ms"`
	TempoVariance     float64 `json:"tempo_variance"`

	FillerCount int            `json:"filler_count"`
	FillerRatio float64        `json:"filler_ratio"` // per 100 words
	Fillers     map[string]int `json:"fillers,omitempty"`

	EmphasisWords []string `json:"emphasis_words"`

	PositivePercent      float64 `json:"positive_percent"`
	NegativePercent      float64 `json:"negative_percent"`
	NeutralPercent       float64 `json:"neutral_percent"`
	SentimentVariability float64 `json:"sentiment_variability"`

	ConfidenceMean        float64   `json:"confidence_mean"`
	ConfidenceStdDev      float64   `json:"confidence_stddev"`
	LowConfidenceSegments []Segment `json:"low_confidence_segments"`

	RushingCount    int `json:"rushing_count"`
	HesitationCount int `json:"hesitation_count"`

	SilenceRatio float64 `json:"silence_ratio"` // percent of the span spent in pauses
}

// Extract computes the cadence markers of a single transcript. Words are expected in spoken order.
// A transcript without words yields a zero signature with SilenceRatio 100.
func Extract(t Transcript) Signature {
	words := t.Words
	if len(words) == 0 {
		return Signature{SilenceRatio: 100}
	}

	sig := Signature{WordCount: len(words)}
	start, end := words[0].StartMS, words[len(words)-1].EndMS
	if end > start {
		sig.DurationMS = end - start
	}

	gaps := wordGaps(words)
	extractPauses(&sig, words, gaps, start)
	extractTempo(&sig, words)
	extractFillers(&sig, words)
	extractEmphasis(&sig, words)
	extractSentiment(&sig, t.Sentences)
	extractConfidence(&sig, words)
	extractRhythm(&sig, gaps)

	return sig
}

// wordGaps[i] is the silence before words[i+1], never negative.
func wordGaps(words []Word) []int64 {
	if len(words) < 2 {
		return nil
	}
	gaps := make([]int64, len(words)-1)
	for i := 1; i < len(words); i++ {
		g := words[i].StartMS - words[i-1].EndMS
		if g < 0 {
			g = 0
		}
		gaps[i-1] = g
	}
	return gaps
}

func extractPauses(sig *Signature, words []Word, gaps []int64, start int64) {
	var total int64
	for i, g := range gaps {
		if g <= MinPauseMS {
			continue
		}
		sig.Pauses = append(sig.Pauses, Pause{
			BeforeWord: i + 1,
			OffsetMS:   words[i].EndMS - start,
			DurationMS: g,
		})
		total += g
		switch {
		case g < MediumPauseMS:
			sig.PauseBuckets.Short++
		case g <= LongPauseMS:
			sig.PauseBuckets.Medium++
		default:
			sig.PauseBuckets.Long++
		}
	}
	sig.PauseCount = len(sig.Pauses)
	sig.AvgPauseMS = ratio(float64(total), float64(sig.PauseCount))
	sig.SilenceRatio = clamp(ratio(float64(total), float64(sig.DurationMS))*100, 0, 100)
}

func extractTempo(sig *Signature, words []Word) {
	minutes := float64(sig.DurationMS) / 60000
	sig.WordsPerMinute = ratio(float64(len(words)), minutes)

	durations := make([]float64, len(words))
	for i, w := range words {
		if d := w.EndMS - w.StartMS; d > 0 {
			durations[i] = float64(d)
		}
	}
	mean, std := meanStdDev(durations)
	sig.AvgWordDurationMS = mean
	sig.TempoVariance = clamp(ratio(std, mean), 0, 1)
}

func extractFillers(sig *Signature, words []Word) {
	norm := make([]string, len(words))
	for i, w := range words {
		norm[i] = normalizeWord(w.Text)
	}

	counts := make(map[string]int)
	for i := 0; i < len(norm); i++ {
		if i+1 < len(norm) && isFillerPhrase(norm[i], norm[i+1]) {
			counts[norm[i]+" "+norm[i+1]]++
			i++
			continue
		}
		if _, ok := fillerWords[norm[i]]; ok {
			counts[norm[i]]++
		}
	}

	for _, n := range counts {
		sig.FillerCount += n
	}
	if len(counts) > 0 {
		sig.Fillers = counts
	}
	sig.FillerRatio = ratio(float64(sig.FillerCount), float64(len(words))) * 100
}

func isFillerPhrase(a, b string) bool {
	for _, p := range fillerPhrases {
		if p[0] == a && p[1] == b {
			return true
		}
	}
	return false
}

func extractEmphasis(sig *Signature, words []Word) {
	threshold := sig.AvgWordDurationMS * emphasisFactor
	if threshold <= 0 {
		return
	}
	seen := make(map[string]struct{})
	for _, w := range words {
		n := normalizeWord(w.Text)
		if len([]rune(n)) < emphasisMinLength {
			continue
		}
		if float64(w.EndMS-w.StartMS) < threshold {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		sig.EmphasisWords = append(sig.EmphasisWords, n)
	}
}

func extractSentiment(sig *Signature, sentences []SentenceSentiment) {
	if len(sentences) == 0 {
		return
	}
	var pos, neg, neu, changes int
	for i, s := range sentences {
		tag := ParseSentiment(string(s.Sentiment))
		switch tag {
		case SentimentPositive:
			pos++
		case SentimentNegative:
			neg++
		default:
			neu++
		}
		if i > 0 && ParseSentiment(string(sentences[i-1].Sentiment)) != tag {
			changes++
		}
	}
	n := float64(len(sentences))
	sig.PositivePercent = clamp(float64(pos)/n*100, 0, 100)
	sig.NegativePercent = clamp(float64(neg)/n*100, 0, 100)
	sig.NeutralPercent = clamp(float64(neu)/n*100, 0, 100)
	sig.SentimentVariability = clamp(ratio(float64(changes), n-1), 0, 1)
}

func extractConfidence(sig *Signature, words []Word) {
	conf := make([]float64, len(words))
	for i, w := range words {
		conf[i] = clamp(w.Confidence, 0, 1)
	}
	sig.ConfidenceMean, sig.ConfidenceStdDev = meanStdDev(conf)

	runStart := -1
	flush := func(endIdx int) {
		if runStart < 0 {
			return
		}
		texts := make([]string, 0, endIdx-runStart+1)
		for j := runStart; j <= endIdx; j++ {
			texts = append(texts, strings.TrimSpace(words[j].Text))
		}
		sig.LowConfidenceSegments = append(sig.LowConfidenceSegments, Segment{
			StartIndex: runStart,
			EndIndex:   endIdx,
			Text:       strings.Join(texts, " "),
			StartMS:    words[runStart].StartMS,
			EndMS:      words[endIdx].EndMS,
		})
		runStart = -1
	}
	for i, c := range conf {
		if c < LowConfidence {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		flush(i - 1)
	}
	flush(len(words) - 1)
}

func extractRhythm(sig *Signature, gaps []int64) {
	// A rushed run is three words separated by tiny gaps, then a long stop after the third.
	for i := 0; i+2 < len(gaps); i++ {
		if gaps[i] < rushGapMS && gaps[i+1] < rushGapMS && gaps[i+2] > rushPauseMS {
			sig.RushingCount++
		}
	}
	for _, g := range gaps {
		if g >= hesitationMinMS && g < hesitationMaxMS {
			sig.HesitationCount++
		}
	}
}

func normalizeWord(s string) string {
	return strings.TrimFunc(lower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ratio divides with a zero guard so nothing downstream sees NaN or Inf.
func ratio(num, den float64) float64 {
	if den == 0 || math.IsNaN(num) || math.IsNaN(den) {
		return 0
	}
	r := num / den
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}

func meanStdDev(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
