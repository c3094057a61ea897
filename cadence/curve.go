package cadence

import "sort"

// Stats are the raw corpus-wide numbers behind a Curve.
type Stats struct {
	Recordings      int   `json:"recordings"`
	TotalWords      int   `json:"total_words"`
	TotalDurationMS int64 `json:"total_duration_ms"`

	WordsPerMinute          float64 `json:"words_per_minute"`
	AvgWordDurationMS       float64 `json:"avg_word_duration_ms"`
	TempoConsistency        float64 `json:"tempo_consistency"`
	PauseCount              int     `json:"pause_count"`
	PauseFrequencyPerMinute float64 `json:"pause_frequency_per_minute"`
	AvgPauseMS              float64 `json:"avg_pause_ms"`
	LongPauseRatio          float64 `json:"long_pause_ratio"`

	FillerRatio   float64  `json:"filler_ratio"`
	EmphasisWords []string `json:"emphasis_words"`

	PositivePercent      float64 `json:"positive_percent"`
	NegativePercent      float64 `json:"negative_percent"`
	NeutralPercent       float64 `json:"neutral_percent"`
	SentimentVariability float64 `json:"sentiment_variability"`

	ConfidenceMean float64 `json:"confidence_mean"`

	RushingCount    int     `json:"rushing_count"`
	HesitationCount int     `json:"hesitation_count"`
	SilenceRatio    float64 `json:"silence_ratio"`
}

// Curve is the per-user Emotional Signature Curve. Each axis runs 0 to 100.
type Curve struct {
	// ReactivityVsReflection: 0 is reactive, 100 is reflective.
	ReactivityVsReflection float64 `json:"reactivity_vs_reflection"`
	// TensionVsRelease: 0 is release, 100 is tension.
	TensionVsRelease float64 `json:"tension_vs_release"`
	// LateralJumps: how often the speaker changes emotional register or stalls with fillers.
	LateralJumps float64 `json:"lateral_jumps"`
	// GutPunchesVsRational: 0 is rational, 100 is gut punches.
	GutPunchesVsRational float64 `json:"gut_punches_vs_rational"`

	Stats Stats `json:"stats"`
}

// RecordingSet holds one signature per pillar key.
type RecordingSet map[string]Signature

// Missing returns the keys that have no recording yet, in the order given.
func (s RecordingSet) Missing(keys ...string) []string {
	var out []string
	for _, k := range keys {
		if _, ok := s[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

// Curve aggregates the set in key order.
func (s RecordingSet) Curve() Curve {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sigs := make([]Signature, 0, len(keys))
	for _, k := range keys {
		sigs = append(sigs, s[k])
	}
	return Aggregate(sigs)
}

// Aggregate recomputes the curve from scratch. Rates are averaged over recordings that contain
// speech; pause lists and emphasis words are pooled before corpus-wide ratios are derived.
func Aggregate(sigs []Signature) Curve {
	if len(sigs) == 0 {
		return Curve{}
	}

	st := Stats{Recordings: len(sigs)}
	var (
		voiced        int
		sentimentRecs int
		pauseMS       int64
		longPauses    int
		tempoVariance float64
		seen          = make(map[string]struct{})
	)

	for _, sig := range sigs {
		st.TotalWords += sig.WordCount
		st.TotalDurationMS += sig.DurationMS
		st.RushingCount += sig.RushingCount
		st.HesitationCount += sig.HesitationCount

		for _, p := range sig.Pauses {
			st.PauseCount++
			pauseMS += p.DurationMS
			if p.DurationMS > LongPauseMS {
				longPauses++
			}
		}
		for _, w := range sig.EmphasisWords {
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			st.EmphasisWords = append(st.EmphasisWords, w)
		}

		if sig.WordCount == 0 {
			continue
		}
		voiced++
		st.WordsPerMinute += sig.WordsPerMinute
		st.AvgWordDurationMS += sig.AvgWordDurationMS
		st.FillerRatio += sig.FillerRatio
		st.ConfidenceMean += sig.ConfidenceMean
		tempoVariance += sig.TempoVariance

		if sig.PositivePercent+sig.NegativePercent+sig.NeutralPercent > 0 {
			sentimentRecs++
			st.PositivePercent += sig.PositivePercent
			st.NegativePercent += sig.NegativePercent
			st.NeutralPercent += sig.NeutralPercent
			st.SentimentVariability += sig.SentimentVariability
		}
	}

	n := float64(voiced)
	st.WordsPerMinute = ratio(st.WordsPerMinute, n)
	st.AvgWordDurationMS = ratio(st.AvgWordDurationMS, n)
	st.FillerRatio = ratio(st.FillerRatio, n)
	st.ConfidenceMean = clamp(ratio(st.ConfidenceMean, n), 0, 1)
	if voiced > 0 {
		st.TempoConsistency = clamp(1-ratio(tempoVariance, n), 0, 1)
	}

	m := float64(sentimentRecs)
	st.PositivePercent = clamp(ratio(st.PositivePercent, m), 0, 100)
	st.NegativePercent = clamp(ratio(st.NegativePercent, m), 0, 100)
	st.NeutralPercent = clamp(ratio(st.NeutralPercent, m), 0, 100)
	st.SentimentVariability = clamp(ratio(st.SentimentVariability, m), 0, 1)

	minutes := float64(st.TotalDurationMS) / 60000
	st.PauseFrequencyPerMinute = ratio(float64(st.PauseCount), minutes)
	st.AvgPauseMS = ratio(float64(pauseMS), float64(st.PauseCount))
	st.LongPauseRatio = clamp(ratio(float64(longPauses), float64(st.PauseCount)), 0, 1)
	if st.TotalWords == 0 {
		st.SilenceRatio = 100
	} else {
		st.SilenceRatio = clamp(ratio(float64(pauseMS), float64(st.TotalDurationMS))*100, 0, 100)
	}

	return curveFromStats(st, minutes)
}

func curveFromStats(st Stats, minutes float64) Curve {
	hesitationRate := clamp(ratio(float64(st.HesitationCount), minutes)/6, 0, 1)
	rushingRate := clamp(ratio(float64(st.RushingCount), minutes)/3, 0, 1)

	// Positive when faster than a conversational ~140 wpm.
	var pace float64
	if st.WordsPerMinute > 0 {
		pace = clamp((st.WordsPerMinute-140)/60, -1, 1)
	}

	reflect := 50 + 20*hesitationRate + 20*st.LongPauseRatio - 20*rushingRate - 20*pace

	var lowConfidence float64
	if st.TotalWords > 0 {
		lowConfidence = clamp((0.85-st.ConfidenceMean)/0.35, 0, 1)
	}
	tension := 50 + (st.NegativePercent-st.PositivePercent)/2 + 20*lowConfidence

	lateral := 100 * (0.7*st.SentimentVariability + 0.3*clamp(st.FillerRatio/10, 0, 1))

	emphasisDensity := clamp(ratio(float64(len(st.EmphasisWords)), float64(st.TotalWords))*100/5, 0, 1)
	gut := 50 + 25*emphasisDensity + 25*rushingRate - 25*hesitationRate

	return Curve{
		ReactivityVsReflection: clamp(reflect, 0, 100),
		TensionVsRelease:       clamp(tension, 0, 100),
		LateralJumps:           clamp(lateral, 0, 100),
		GutPunchesVsRational:   clamp(gut, 0, 100),
		Stats:                  st,
	}
}
