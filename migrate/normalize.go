package migrate

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/theimaginaryfoundation/soulprint/soulprint"
)

// Normalize rebuilds a stored profile of the given format into the current schema.
// Prompts are always regenerated. Only a current-format document that cannot be decoded is an error;
// every other format is normalized from whatever fields are usable.
func Normalize(raw []byte, format Format) (soulprint.SoulPrint, error) {
	obj, _ := decodeObject(raw)

	var sp soulprint.SoulPrint
	switch format {
	case FormatCurrent:
		decoded, err := soulprint.Decode(raw)
		if err != nil {
			return soulprint.SoulPrint{}, fmt.Errorf("Normalize: %w", err)
		}
		sp = decoded
	case FormatLegacyTraits:
		sp = fromLegacyTraits(obj)
	case FormatDoubleEncoded:
		sp = lenientDecode(mergeEmbedded(obj))
	default:
		sp = lenientDecode(obj)
	}
	return soulprint.Finalize(sp), nil
}

// mergeEmbedded lifts fields out of a prompt string that holds serialized JSON.
// Fields present on the outer document win.
func mergeEmbedded(obj map[string]json.RawMessage) map[string]json.RawMessage {
	merged := make(map[string]json.RawMessage, len(obj))
	for k, v := range obj {
		merged[k] = v
	}
	for _, k := range promptFields {
		inner, ok := embeddedJSON(obj[k])
		if !ok {
			continue
		}
		delete(merged, k)

		innerObj, ok := decodeObject(inner)
		if !ok {
			continue
		}
		if nested, ok := innerObj["soulprint"]; ok {
			if o, ok := decodeObject(nested); ok {
				innerObj = o
			}
		}
		for ik, iv := range innerObj {
			if cur, ok := merged[ik]; ok && !isEmptyValue(cur) {
				continue
			}
			merged[ik] = iv
		}
	}
	return merged
}

func isEmptyValue(v json.RawMessage) bool {
	if isNull(v) {
		return true
	}
	switch strings.TrimSpace(string(v)) {
	case `""`, `{}`, `[]`:
		return true
	}
	return false
}

// pillarAliases maps older pillar names onto the current keys.
var pillarAliases = map[string]soulprint.PillarKey{
	"communication":        soulprint.PillarCommunicationStyle,
	"communication_style":  soulprint.PillarCommunicationStyle,
	"emotional":            soulprint.PillarEmotionalAlignment,
	"emotional_alignment":  soulprint.PillarEmotionalAlignment,
	"decision":             soulprint.PillarDecisionMaking,
	"decisions":            soulprint.PillarDecisionMaking,
	"decision_making":      soulprint.PillarDecisionMaking,
	"social":               soulprint.PillarSocialCultural,
	"social_cultural":      soulprint.PillarSocialCultural,
	"cognitive":            soulprint.PillarCognitiveProcessing,
	"cognitive_processing": soulprint.PillarCognitiveProcessing,
	"conflict":             soulprint.PillarConflictResolution,
	"conflict_resolution":  soulprint.PillarConflictResolution,
}

func pillarKeyFor(name string) (soulprint.PillarKey, bool) {
	k, ok := pillarAliases[strings.ToLower(strings.TrimSpace(name))]
	return k, ok
}

// lenientDecode reads each known field on its own so one badly typed field does not lose the rest.
func lenientDecode(obj map[string]json.RawMessage) soulprint.SoulPrint {
	sp := soulprint.SoulPrint{
		Archetype:         stringField(obj["archetype"]),
		IdentitySignature: stringField(obj["identity_signature"]),
		Name:              stringField(obj["name"]),
		FlinchWarnings:    stringList(obj["flinch_warnings"]),
		Pillars:           make(map[soulprint.PillarKey]soulprint.Pillar),
	}

	var voice map[string]json.RawMessage
	if err := json.Unmarshal(obj["voice_vectors"], &voice); err == nil {
		sp.VoiceVectors = soulprint.VoiceVectors{
			CadenceSpeed:      soulprint.CadenceSpeed(stringField(voice["cadence_speed"])),
			ToneWarmth:        soulprint.ToneWarmth(stringField(voice["tone_warmth"])),
			SentenceStructure: soulprint.SentenceStructure(stringField(voice["sentence_structure"])),
			EmojiUsage:        soulprint.EmojiUsage(stringField(voice["emoji_usage"])),
			SignOffStyle:      soulprint.SignOffStyle(stringField(voice["sign_off_style"])),
		}
	}

	var pillars map[string]json.RawMessage
	if err := json.Unmarshal(obj["pillars"], &pillars); err == nil {
		for _, name := range pillarNamesByPriority(pillars) {
			k, _ := pillarKeyFor(name)
			if _, taken := sp.Pillars[k]; taken {
				continue
			}
			if p, ok := pillarField(pillars[name]); ok {
				sp.Pillars[k] = p
			}
		}
	}
	return sp
}

// pillarNamesByPriority lists the recognised pillar names so that, per pillar, the canonical key
// comes first and aliases follow in name order. The first usable one wins.
func pillarNamesByPriority(pillars map[string]json.RawMessage) []string {
	names := make([]string, 0, len(pillars))
	for name := range pillars {
		if _, ok := pillarKeyFor(name); ok {
			names = append(names, name)
		}
	}
	canonical := func(name string) bool {
		k, _ := pillarKeyFor(name)
		return strings.ToLower(strings.TrimSpace(name)) == string(k)
	}
	sort.Slice(names, func(i, j int) bool {
		if ci, cj := canonical(names[i]), canonical(names[j]); ci != cj {
			return ci
		}
		return names[i] < names[j]
	})
	return names
}

func pillarField(raw json.RawMessage) (soulprint.Pillar, bool) {
	if s := stringField(raw); s != "" {
		return soulprint.Pillar{Summary: s}, true
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return soulprint.Pillar{}, false
	}
	p := soulprint.Pillar{
		Summary:       stringField(fields["summary"]),
		AIInstruction: stringField(fields["ai_instruction"]),
		Markers:       stringList(fields["markers"]),
	}
	if p.AIInstruction == "" {
		p.AIInstruction = stringField(fields["instruction"])
	}
	return p, true
}

func stringField(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// stringList accepts an array of strings or a single comma separated string.
func stringList(raw json.RawMessage) []string {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	if s := stringField(raw); s != "" {
		parts := strings.Split(s, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return nil
}

const (
	traitHigh = 70
	traitLow  = 30
)

type traitLevel int

const (
	levelUnknown traitLevel = iota
	levelLow
	levelMid
	levelHigh
)

func levelOf(v float64, ok bool) traitLevel {
	switch {
	case !ok:
		return levelUnknown
	case v > traitHigh:
		return levelHigh
	case v < traitLow:
		return levelLow
	default:
		return levelMid
	}
}

// traitPillar describes how one legacy trait becomes a pillar at each level.
type traitPillar struct {
	traits []string
	pillar soulprint.PillarKey
	high   soulprint.Pillar
	mid    soulprint.Pillar
	low    soulprint.Pillar
}

var traitPillars = []traitPillar{
	{
		traits: []string{"decision_speed", "speed"},
		pillar: soulprint.PillarCommunicationStyle,
		high:   soulprint.Pillar{Summary: "Direct and fast-paced.", AIInstruction: "Get to the point in the first sentence; skip preamble."},
		mid:    soulprint.Pillar{Summary: "Even-paced and conversational.", AIInstruction: "Keep a steady, conversational pace."},
		low:    soulprint.Pillar{Summary: "Deliberate; takes time to think things through.", AIInstruction: "Give room for reflection and do not rush to conclusions."},
	},
	{
		traits: []string{"risk_tolerance", "risk"},
		pillar: soulprint.PillarDecisionMaking,
		high:   soulprint.Pillar{Summary: "Comfortable with risk; commits quickly.", AIInstruction: "Lead with the bold option and name the main risk in one line."},
		mid:    soulprint.Pillar{Summary: "Weighs risk against upside before committing.", AIInstruction: "Lay out the options and give a clear recommendation."},
		low:    soulprint.Pillar{Summary: "Cautious; wants the downside understood first.", AIInstruction: "Surface risks and fallbacks before recommending anything."},
	},
	{
		traits: []string{"gut_trust", "intuition"},
		pillar: soulprint.PillarCognitiveProcessing,
		high:   soulprint.Pillar{Summary: "Trusts gut instinct; intuition first, analysis second.", AIInstruction: "Offer a quick read before the detailed reasoning."},
		mid:    soulprint.Pillar{Summary: "Blends intuition with analysis.", AIInstruction: "Pair a short take with the reasoning behind it."},
		low:    soulprint.Pillar{Summary: "Analytical; wants evidence before trusting a conclusion.", AIInstruction: "Show the evidence and reasoning step by step."},
	},
	{
		traits: []string{"emotional_expressiveness", "emotional_openness", "empathy"},
		pillar: soulprint.PillarEmotionalAlignment,
		high:   soulprint.Pillar{Summary: "Emotionally expressive; says how they feel.", AIInstruction: "Name the feeling you hear before moving to solutions."},
		mid:    soulprint.Pillar{Summary: "Open about feelings when it matters.", AIInstruction: "Acknowledge feelings briefly, then get practical."},
		low:    soulprint.Pillar{Summary: "Emotionally reserved; keeps feelings private.", AIInstruction: "Stay practical and do not probe emotions."},
	},
	{
		traits: []string{"social_energy", "sociability", "extraversion"},
		pillar: soulprint.PillarSocialCultural,
		high:   soulprint.Pillar{Summary: "Energized by people and community.", AIInstruction: "Relate ideas to people and shared experiences."},
		mid:    soulprint.Pillar{Summary: "Comfortable in groups and on their own.", AIInstruction: "Respect their references and context without over-explaining them."},
		low:    soulprint.Pillar{Summary: "Prefers small circles and independent work.", AIInstruction: "Keep suggestions solo-friendly and low on social overhead."},
	},
	{
		traits: []string{"assertiveness", "directness", "confrontation"},
		pillar: soulprint.PillarConflictResolution,
		high:   soulprint.Pillar{Summary: "Confronts issues head-on.", AIInstruction: "Disagree directly and keep it short."},
		mid:    soulprint.Pillar{Summary: "Addresses conflict when it matters.", AIInstruction: "Disagree plainly and respectfully; do not lecture."},
		low:    soulprint.Pillar{Summary: "Avoids confrontation and prefers to smooth things over.", AIInstruction: "Frame disagreement gently and offer a way forward."},
	},
}

// fromLegacyTraits maps numeric 0-100 trait scores onto pillars by threshold.
// Traits with no score leave their pillar to the placeholder.
func fromLegacyTraits(obj map[string]json.RawMessage) soulprint.SoulPrint {
	sp := lenientDecode(obj)

	var traits map[string]json.RawMessage
	_ = json.Unmarshal(obj["traits"], &traits)
	scores := make(map[string]float64, len(traits))
	for name, raw := range traits {
		if v, ok := traitNumber(raw); ok {
			scores[strings.ToLower(strings.TrimSpace(name))] = math.Max(0, math.Min(100, v))
		}
	}

	for _, tp := range traitPillars {
		name, v, ok := firstTrait(scores, tp.traits)
		var p soulprint.Pillar
		switch levelOf(v, ok) {
		case levelHigh:
			p = tp.high
		case levelMid:
			p = tp.mid
		case levelLow:
			p = tp.low
		default:
			continue
		}
		p.Markers = []string{fmt.Sprintf("%s %.0f/100", strings.ReplaceAll(name, "_", " "), v)}
		sp.Pillars[tp.pillar] = p
	}

	_, v, ok := firstTrait(scores, traitPillars[0].traits)
	switch levelOf(v, ok) {
	case levelHigh:
		sp.VoiceVectors.CadenceSpeed = soulprint.CadenceRapid
	case levelLow:
		sp.VoiceVectors.CadenceSpeed = soulprint.CadenceDeliberate
	}
	return sp
}

func firstTrait(scores map[string]float64, names []string) (string, float64, bool) {
	for _, n := range names {
		if v, ok := scores[n]; ok {
			return n, v, true
		}
	}
	return "", 0, false
}
