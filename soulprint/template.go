package soulprint

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/theimaginaryfoundation/soulprint/quality"
)

// TemplateGenerator drafts profiles and sections without any model call. It is the degraded path
// when the model is unavailable and the quick draft shown while the full synthesis runs.
type TemplateGenerator struct{}

var archetypes = []struct {
	match func(VoiceVectors) bool
	name  string
}{
	{func(v VoiceVectors) bool { return v.CadenceSpeed == CadenceRapid && v.SentenceStructure == StructureFragmented }, "The Sprinter"},
	{func(v VoiceVectors) bool { return v.CadenceSpeed == CadenceDeliberate && v.SentenceStructure == StructureComplex }, "The Architect"},
	{func(v VoiceVectors) bool { return v.ToneWarmth == TonePlayful }, "The Spark"},
	{func(v VoiceVectors) bool { return v.ToneWarmth == ToneWarm }, "The Connector"},
	{func(v VoiceVectors) bool { return v.ToneWarmth == ToneCool }, "The Analyst"},
}

func templateArchetype(v VoiceVectors) string {
	for _, a := range archetypes {
		if a.match(v) {
			return a.name
		}
	}
	return "The Navigator"
}

func (TemplateGenerator) DraftProfile(_ context.Context, req ProfileRequest) (SoulPrint, error) {
	v := enforceVoice(req.Voice)
	name := collapseSpace(req.Name)
	who := name
	if who == "" {
		who = "They"
	}

	speed := map[CadenceSpeed]string{CadenceRapid: "quick", CadenceModerate: "steady", CadenceDeliberate: "considered"}[v.CadenceSpeed]
	tone := map[ToneWarmth]string{ToneWarm: "warm", ToneNeutral: "direct", ToneCool: "matter-of-fact", TonePlayful: "playful"}[v.ToneWarmth]
	identity := fmt.Sprintf("%s writes %s, %s messages", who, speed, tone)
	if v.EmojiUsage == EmojiFrequent {
		identity += " with plenty of emoji"
	}
	identity += "."

	markers := topTerms(req.Sample, 5)
	sp := SoulPrint{
		Archetype:         templateArchetype(v),
		IdentitySignature: identity,
		Name:              name,
		VoiceVectors:      v,
		Pillars: map[PillarKey]Pillar{
			PillarCommunicationStyle: {
				Summary:       fmt.Sprintf("Writes at a %s pace with %s sentence structure.", v.CadenceSpeed, v.SentenceStructure),
				AIInstruction: communicationInstruction(v),
				Markers:       markers,
			},
			PillarEmotionalAlignment: {
				Summary:       fmt.Sprintf("Comes across as %s.", tone),
				AIInstruction: defaultInstructions[PillarEmotionalAlignment],
			},
		},
		FlinchWarnings: []string{},
	}
	if req.Curve != nil {
		c := req.Curve
		reflective := "leans reflective"
		if c.ReactivityVsReflection < 50 {
			reflective = "leans reactive"
		}
		sp.Pillars[PillarDecisionMaking] = Pillar{
			Summary:       fmt.Sprintf("In speech, %s (%.0f/100).", reflective, c.ReactivityVsReflection),
			AIInstruction: defaultInstructions[PillarDecisionMaking],
		}
	}
	return sp, nil
}

func communicationInstruction(v VoiceVectors) string {
	switch v.CadenceSpeed {
	case CadenceRapid:
		return "Answer in a line or two unless asked for more."
	case CadenceDeliberate:
		return "Give complete answers; they read the whole thing."
	default:
		return defaultInstructions[PillarCommunicationStyle]
	}
}

func (TemplateGenerator) DraftSections(_ context.Context, req SectionRequest) (map[quality.Section]string, error) {
	sp := Finalize(req.SoulPrint)
	v := sp.VoiceVectors

	var soul strings.Builder
	soul.WriteString("# Soul\n\n")
	if sp.IdentitySignature != "" {
		soul.WriteString(sp.IdentitySignature + "\n\n")
	}
	if sp.Archetype != "" {
		soul.WriteString("Archetype: " + sp.Archetype + ".\n\n")
	}
	soul.WriteString("## Voice\n")
	fmt.Fprintf(&soul, "- Cadence: %s\n- Tone: %s\n- Sentences: %s\n- Emoji: %s\n- Sign-off: %s\n",
		v.CadenceSpeed, v.ToneWarmth, v.SentenceStructure, v.EmojiUsage, v.SignOffStyle)

	var identity strings.Builder
	identity.WriteString("# Identity\n\n")
	if sp.Name != "" {
		identity.WriteString("- Name: " + sp.Name + "\n")
	}
	if sp.Archetype != "" {
		identity.WriteString("- Archetype: " + sp.Archetype + "\n")
	}
	identity.WriteString("- Profile version: " + sp.SoulPrintVersion + "\n")

	var user strings.Builder
	user.WriteString("# User\n\n")
	for _, k := range PillarKeys() {
		p := sp.Pillars[k]
		if p.IsPlaceholder() {
			continue
		}
		fmt.Fprintf(&user, "## %s\n%s\n", k.Label(), p.Summary)
		for _, m := range p.Markers {
			user.WriteString("- " + m + "\n")
		}
		user.WriteString("\n")
	}
	if terms := topTerms(req.Excerpts, 8); len(terms) > 0 {
		user.WriteString("## Recurring topics\n")
		for _, t := range terms {
			user.WriteString("- " + t + "\n")
		}
	}

	var tools strings.Builder
	tools.WriteString("# Tools\n\n")
	if len(sp.FlinchWarnings) > 0 {
		tools.WriteString("## Avoid\n")
		for _, w := range sp.FlinchWarnings {
			tools.WriteString("- " + w + "\n")
		}
		tools.WriteString("\n")
	}
	tools.WriteString("## Formatting\n")
	for _, r := range closingRules {
		tools.WriteString("- " + r + "\n")
	}

	return map[quality.Section]string{
		quality.SectionSoul:     strings.TrimSpace(soul.String()),
		quality.SectionIdentity: strings.TrimSpace(identity.String()),
		quality.SectionUser:     strings.TrimSpace(user.String()),
		quality.SectionAgents:   "# Agents\n\n" + sp.PromptPillars,
		quality.SectionTools:    strings.TrimSpace(tools.String()),
	}, nil
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "that": {}, "this": {}, "with": {}, "you": {}, "your": {}, "are": {},
	"was": {}, "have": {}, "has": {}, "but": {}, "not": {}, "can": {}, "what": {}, "how": {}, "why": {},
	"when": {}, "from": {}, "just": {}, "about": {}, "like": {}, "would": {}, "could": {}, "should": {},
	"there": {}, "their": {}, "they": {}, "them": {}, "then": {}, "than": {}, "will": {}, "into": {},
	"some": {}, "any": {}, "all": {}, "also": {}, "more": {}, "make": {}, "does": {}, "did": {}, "its": {},
	"it's": {}, "i'm": {}, "don't": {}, "want": {}, "need": {}, "know": {}, "get": {}, "use": {}, "one": {},
	"user": {}, "assistant": {}, "system": {}, "here": {}, "please": {}, "thanks": {}, "which": {}, "been": {},
}

// topTerms returns the most frequent non-trivial words across texts, ties broken alphabetically.
func topTerms(texts []string, n int) []string {
	counts := make(map[string]int)
	for _, t := range texts {
		for _, w := range strings.Fields(strings.ToLower(t)) {
			w = strings.Trim(w, ".,;:!?\"'()[]{}*#-_`")
			if len(w) < 4 {
				continue
			}
			if _, ok := stopwords[w]; ok {
				continue
			}
			counts[w]++
		}
	}
	type kv struct {
		term  string
		count int
	}
	all := make([]kv, 0, len(counts))
	for k, v := range counts {
		if v < 2 {
			continue
		}
		all = append(all, kv{k, v})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].term < all[j].term
	})
	out := []string{}
	for i := 0; i < len(all) && i < n; i++ {
		out = append(out, all[i].term)
	}
	return out
}
