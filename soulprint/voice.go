package soulprint

import (
	"strings"
	"unicode"

	"github.com/theimaginaryfoundation/soulprint/archive"
	"github.com/theimaginaryfoundation/soulprint/cadence"
)

const (
	rapidWPM      = 165
	deliberateWPM = 115
)

// VoiceFromCurve reads voice vectors off a speech curve. Fields speech cannot tell us about
// (emoji, sign-offs) are left empty, as is everything when the curve holds no speech.
func VoiceFromCurve(c cadence.Curve) VoiceVectors {
	st := c.Stats
	if st.WordsPerMinute <= 0 {
		return VoiceVectors{}
	}

	var v VoiceVectors
	switch {
	case st.WordsPerMinute >= rapidWPM:
		v.CadenceSpeed = CadenceRapid
	case st.WordsPerMinute <= deliberateWPM:
		v.CadenceSpeed = CadenceDeliberate
	default:
		v.CadenceSpeed = CadenceModerate
	}

	lean := st.PositivePercent - st.NegativePercent
	switch {
	case lean >= 30 && c.LateralJumps >= 60:
		v.ToneWarmth = TonePlayful
	case lean >= 30:
		v.ToneWarmth = ToneWarm
	case lean <= -30:
		v.ToneWarmth = ToneCool
	default:
		v.ToneWarmth = ToneNeutral
	}

	switch {
	case st.PauseFrequencyPerMinute >= 20 || c.ReactivityVsReflection <= 30:
		v.SentenceStructure = StructureFragmented
	case st.TempoConsistency >= 0.75 && c.ReactivityVsReflection >= 60:
		v.SentenceStructure = StructureComplex
	default:
		v.SentenceStructure = StructureBalanced
	}
	return v
}

var (
	casualSignOffs = []string{"cheers", "thanks", "thx", "ty", "ttyl", "later", "best", "xo", "xx", "peace", "talk soon"}
	playfulMarkers = []string{"lol", "haha", "lmao", "hehe", ":p", ";)"}
	warmMarkers    = []string{"thank", "love", "appreciate", "awesome", "amazing", "<3"}
)

// VoiceFromMessages derives voice vectors from what the user wrote. Only user messages count;
// without any the defaults are returned.
func VoiceFromMessages(msgs []archive.NormalizedMessage) VoiceVectors {
	user := archive.UserMessages(msgs)
	if len(user) == 0 {
		return DefaultVoice()
	}

	var (
		words, sentences       int
		withEmoji, casual, sig int
		playful, warm          int
	)
	for _, m := range user {
		text := m.Content
		words += len(strings.Fields(text))
		sentences += countSentences(text)
		if hasEmoji(text) {
			withEmoji++
		}
		switch signOffOf(text) {
		case SignOffSignature:
			sig++
		case SignOffCasual:
			casual++
		}
		lower := strings.ToLower(text)
		if containsAny(lower, playfulMarkers) {
			playful++
		}
		if containsAny(lower, warmMarkers) || strings.Contains(text, "!") {
			warm++
		}
	}

	n := float64(len(user))
	v := DefaultVoice()

	switch avg := float64(words) / n; {
	case avg <= 12:
		v.CadenceSpeed = CadenceRapid
	case avg >= 60:
		v.CadenceSpeed = CadenceDeliberate
	}

	if sentences > 0 {
		switch per := float64(words) / float64(sentences); {
		case per <= 6:
			v.SentenceStructure = StructureFragmented
		case per >= 22:
			v.SentenceStructure = StructureComplex
		}
	}

	switch r := float64(withEmoji) / n; {
	case r == 0:
		v.EmojiUsage = EmojiNone
	case r < 0.2:
		v.EmojiUsage = EmojiMinimal
	default:
		v.EmojiUsage = EmojiFrequent
	}

	switch {
	case float64(sig)/n >= 0.3:
		v.SignOffStyle = SignOffSignature
	case float64(sig+casual)/n >= 0.15:
		v.SignOffStyle = SignOffCasual
	}

	switch {
	case float64(playful)/n >= 0.15:
		v.ToneWarmth = TonePlayful
	case float64(warm)/n >= 0.3:
		v.ToneWarmth = ToneWarm
	}
	return v
}

func countSentences(s string) int {
	n := 0
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '.' || r == '!' || r == '?' || r == '\n' }) {
		if strings.TrimSpace(part) != "" {
			n++
		}
	}
	return n
}

func hasEmoji(s string) bool {
	for _, r := range s {
		if isEmoji(r) {
			return true
		}
	}
	return false
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case r >= 0x1F1E6 && r <= 0x1F1FF:
		return true
	}
	return false
}

// signOffOf looks at the last line of a multi-line message for a closing.
func signOffOf(text string) SignOffStyle {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) < 2 {
		return SignOffNone
	}
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" || len(strings.Fields(last)) > 4 {
		return SignOffNone
	}
	if strings.HasPrefix(last, "-") || strings.HasPrefix(last, "—") || strings.HasPrefix(last, "~") {
		rest := strings.TrimLeft(last, "-—~ ")
		if rs := []rune(rest); len(rs) > 0 && unicode.IsLetter(rs[0]) {
			return SignOffSignature
		}
	}
	lower := strings.ToLower(strings.TrimRight(last, ",.!"))
	for _, s := range casualSignOffs {
		if lower == s || strings.HasPrefix(lower, s+" ") || strings.HasPrefix(lower, s+",") {
			return SignOffCasual
		}
	}
	return SignOffNone
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
