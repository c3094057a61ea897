package soulprint

import "strings"

const (
	placeholderSummary = "Not enough signal yet."
	maxMarkers         = 10
	maxFlinchWarnings  = 10
)

var defaultInstructions = map[PillarKey]string{
	PillarCommunicationStyle:  "Mirror their message length and register.",
	PillarEmotionalAlignment:  "Acknowledge feelings briefly, then get practical.",
	PillarDecisionMaking:      "Lay out the options and give a clear recommendation.",
	PillarSocialCultural:      "Respect their references and context without over-explaining them.",
	PillarCognitiveProcessing: "Structure answers the way they think: lead with the main point.",
	PillarConflictResolution:  "Disagree plainly and respectfully; do not lecture.",
}

// PlaceholderPillar is what a missing or empty pillar is filled with.
func PlaceholderPillar(k PillarKey) Pillar {
	return Pillar{Summary: placeholderSummary, AIInstruction: defaultInstructions[k], Markers: []string{}}
}

// IsPlaceholder reports whether p carries no information of its own.
func (p Pillar) IsPlaceholder() bool {
	return strings.TrimSpace(p.Summary) == "" || strings.TrimSpace(p.Summary) == placeholderSummary
}

// EnforceShape closes the schema: the version is stamped, unknown pillar keys are dropped, missing
// pillars get a placeholder, voice values outside their vocabulary fall back to defaults, and
// markers and flinch warnings are trimmed and deduplicated. Prompt fields are left as they are.
// The input is not modified.
func EnforceShape(sp SoulPrint) SoulPrint {
	out := SoulPrint{
		SoulPrintVersion:  CurrentVersion,
		Archetype:         collapseSpace(sp.Archetype),
		IdentitySignature: strings.TrimSpace(sp.IdentitySignature),
		Name:              collapseSpace(sp.Name),
		VoiceVectors:      enforceVoice(sp.VoiceVectors),
		Pillars:           make(map[PillarKey]Pillar, len(PillarKeys())),
		FlinchWarnings:    dedupeStrings(sp.FlinchWarnings, maxFlinchWarnings),
		PromptCore:        sp.PromptCore,
		PromptPillars:     sp.PromptPillars,
		PromptFull:        sp.PromptFull,
	}

	for _, k := range PillarKeys() {
		p, ok := sp.Pillars[k]
		if !ok {
			out.Pillars[k] = PlaceholderPillar(k)
			continue
		}
		p = Pillar{
			Summary:       strings.TrimSpace(p.Summary),
			AIInstruction: strings.TrimSpace(p.AIInstruction),
			Markers:       dedupeStrings(p.Markers, maxMarkers),
		}
		if p.Summary == "" {
			p.Summary = placeholderSummary
		}
		if p.AIInstruction == "" {
			p.AIInstruction = defaultInstructions[k]
		}
		out.Pillars[k] = p
	}
	return out
}

// Finalize enforces the shape and regenerates the prompts.
func Finalize(sp SoulPrint) SoulPrint {
	return RegeneratePrompts(EnforceShape(sp))
}

func enforceVoice(v VoiceVectors) VoiceVectors {
	d := DefaultVoice()
	out := VoiceVectors{
		CadenceSpeed:      CadenceSpeed(normEnum(string(v.CadenceSpeed))),
		ToneWarmth:        ToneWarmth(normEnum(string(v.ToneWarmth))),
		SentenceStructure: SentenceStructure(normEnum(string(v.SentenceStructure))),
		EmojiUsage:        EmojiUsage(normEnum(string(v.EmojiUsage))),
		SignOffStyle:      SignOffStyle(normEnum(string(v.SignOffStyle))),
	}
	if !validCadence(out.CadenceSpeed) {
		out.CadenceSpeed = d.CadenceSpeed
	}
	if !validTone(out.ToneWarmth) {
		out.ToneWarmth = d.ToneWarmth
	}
	if !validStructure(out.SentenceStructure) {
		out.SentenceStructure = d.SentenceStructure
	}
	if !validEmoji(out.EmojiUsage) {
		out.EmojiUsage = d.EmojiUsage
	}
	if !validSignOff(out.SignOffStyle) {
		out.SignOffStyle = d.SignOffStyle
	}
	return out
}

// MergeVoice overlays the non-empty fields of override onto base.
func MergeVoice(base, override VoiceVectors) VoiceVectors {
	if override.CadenceSpeed != "" {
		base.CadenceSpeed = override.CadenceSpeed
	}
	if override.ToneWarmth != "" {
		base.ToneWarmth = override.ToneWarmth
	}
	if override.SentenceStructure != "" {
		base.SentenceStructure = override.SentenceStructure
	}
	if override.EmojiUsage != "" {
		base.EmojiUsage = override.EmojiUsage
	}
	if override.SignOffStyle != "" {
		base.SignOffStyle = override.SignOffStyle
	}
	return base
}

// Edit is a user-initiated change. Nil fields are left alone.
type Edit struct {
	Name      *string `json:"name,omitempty"`
	Archetype *string `json:"archetype,omitempty"`
}

// ApplyEdit applies a user edit and regenerates the prompts so the cache stays consistent.
func ApplyEdit(sp SoulPrint, e Edit) SoulPrint {
	if e.Name != nil {
		sp.Name = *e.Name
	}
	if e.Archetype != nil {
		sp.Archetype = *e.Archetype
	}
	return Finalize(sp)
}

func normEnum(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// dedupeStrings trims, drops empties and case-insensitive repeats, and keeps at most max items.
// It always returns a non-nil slice so the JSON form is [] rather than null.
func dedupeStrings(in []string, max int) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = collapseSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}
