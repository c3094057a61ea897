package soulprint

import "strings"

// Prompts are the three derived prompt strings.
type Prompts struct {
	Core    string
	Pillars string
	Full    string
}

const maxAvoidLines = 3

var groundRules = []string{
	"Be concise. Say the useful thing first.",
	"No corporate filler: skip openers like \"Great question\" and closers like \"I hope this helps\".",
	"Match the length of their messages. Short questions get short answers.",
}

var closingRules = []string{
	"Formatting: plain prose by default; use lists only when they make things clearer.",
	"Never answer with raw JSON or code unless they ask for it.",
}

// BuildPrompts renders the prompts from the canonical fields. It is a pure function: the same
// profile always produces byte-identical output.
func BuildPrompts(sp SoulPrint) Prompts {
	var core []string
	if name := collapseSpace(sp.Name); name != "" {
		core = append(core, "You are talking with "+name+".")
	}
	core = append(core, groundRules...)
	if a := collapseSpace(sp.Archetype); a != "" {
		core = append(core, "Their archetype: "+a+".")
	}
	if id := collapseSpace(sp.IdentitySignature); id != "" {
		core = append(core, "Who they are: "+id)
	}
	core = append(core, voiceDirectives(enforceVoice(sp.VoiceVectors))...)

	pillarLines := []string{"How to work with them:"}
	for _, k := range PillarKeys() {
		p, ok := sp.Pillars[k]
		instr := ""
		if ok {
			instr = collapseSpace(p.AIInstruction)
		}
		if instr == "" {
			instr = defaultInstructions[k]
		}
		pillarLines = append(pillarLines, "- "+k.Label()+": "+instr)
	}

	var avoid []string
	for _, w := range dedupeStrings(sp.FlinchWarnings, maxAvoidLines) {
		avoid = append(avoid, "Avoid: "+w)
	}

	p := Prompts{
		Core:    strings.Join(core, "\n"),
		Pillars: strings.Join(pillarLines, "\n"),
	}
	blocks := []string{p.Core, p.Pillars}
	if len(avoid) > 0 {
		blocks = append(blocks, strings.Join(avoid, "\n"))
	}
	blocks = append(blocks, strings.Join(closingRules, "\n"))
	p.Full = strings.Join(blocks, "\n\n")
	return p
}

// RegeneratePrompts returns sp with its prompt fields rebuilt from the canonical fields.
func RegeneratePrompts(sp SoulPrint) SoulPrint {
	p := BuildPrompts(sp)
	sp.PromptCore = p.Core
	sp.PromptPillars = p.Pillars
	sp.PromptFull = p.Full
	return sp
}

// PromptsCurrent reports whether the stored prompt fields equal a fresh rendering.
func PromptsCurrent(sp SoulPrint) bool {
	p := BuildPrompts(sp)
	return sp.PromptCore == p.Core && sp.PromptPillars == p.Pillars && sp.PromptFull == p.Full
}

func voiceDirectives(v VoiceVectors) []string {
	var out []string
	switch v.CadenceSpeed {
	case CadenceRapid:
		out = append(out, "Keep it punchy: short sentences, no warm-up.")
	case CadenceDeliberate:
		out = append(out, "Take your time; walk through reasoning when it matters.")
	default:
		out = append(out, "Keep a steady, conversational pace.")
	}
	switch v.ToneWarmth {
	case ToneWarm:
		out = append(out, "Be warm and personal.")
	case ToneCool:
		out = append(out, "Stay matter-of-fact; skip emotional padding.")
	case TonePlayful:
		out = append(out, "Light humor is welcome.")
	default:
		out = append(out, "Keep the tone even and direct.")
	}
	switch v.SentenceStructure {
	case StructureFragmented:
		out = append(out, "Fragments are fine. Bullets over paragraphs.")
	case StructureComplex:
		out = append(out, "Full sentences with nuance are welcome.")
	default:
		out = append(out, "Mix short and medium sentences.")
	}
	switch v.EmojiUsage {
	case EmojiFrequent:
		out = append(out, "Emoji are welcome where they fit.")
	case EmojiMinimal:
		out = append(out, "Use emoji rarely, at most one per message.")
	default:
		out = append(out, "Do not use emoji.")
	}
	switch v.SignOffStyle {
	case SignOffCasual:
		out = append(out, "A casual sign-off is fine.")
	case SignOffSignature:
		out = append(out, "Close longer replies with a short signature sign-off.")
	default:
		out = append(out, "No sign-offs.")
	}
	return out
}
