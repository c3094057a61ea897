// Package cadence turns word-level speech timing into an emotional signature per recording and
// aggregates recordings into a per-user curve. Everything here is pure computation.
package cadence

// Sentiment is a sentence-level sentiment tag.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// ParseSentiment maps vendor tags ("POSITIVE", "Negative", ...) onto the three tags, defaulting to neutral.
func ParseSentiment(s string) Sentiment {
	switch Sentiment(lower(s)) {
	case SentimentPositive:
		return SentimentPositive
	case SentimentNegative:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// Word is one recognized word with its timing in milliseconds from the start of the recording.
type Word struct {
	Text       string  `json:"text"`
	StartMS    int64   `json:"start_ms"`
	EndMS      int64   `json:"end_ms"`
	Confidence float64 `json:"confidence"`
}

// SentenceSentiment is a per-sentence sentiment annotation.
type SentenceSentiment struct {
	Text       string    `json:"text"`
	Sentiment  Sentiment `json:"sentiment"`
	Confidence float64   `json:"confidence"`
}

// Transcript is the vendor-neutral transcription result fed to Extract.
type Transcript struct {
	Text       string              `json:"text,omitempty"`
	Confidence float64             `json:"confidence,omitempty"`
	Words      []Word              `json:"words"`
	Sentences  []SentenceSentiment `json:"sentences,omitempty"`
}
