// Package soulprint defines the profile schema, keeps it closed against whatever a model returns,
// and renders the derived prompt strings from the canonical fields.
package soulprint

import (
	"encoding/json"
	"fmt"
)

// CurrentVersion is stamped on every profile written by this package.
const CurrentVersion = "3.1"

// PillarKey names one of the six fixed personality dimensions.
type PillarKey string

const (
	PillarCommunicationStyle  PillarKey = "communication_style"
	PillarEmotionalAlignment  PillarKey = "emotional_alignment"
	PillarDecisionMaking      PillarKey = "decision_making"
	PillarSocialCultural      PillarKey = "social_cultural"
	PillarCognitiveProcessing PillarKey = "cognitive_processing"
	PillarConflictResolution  PillarKey = "conflict_resolution"
)

// PillarKeys returns the six keys in prompt order.
func PillarKeys() []PillarKey {
	return []PillarKey{
		PillarCommunicationStyle,
		PillarEmotionalAlignment,
		PillarDecisionMaking,
		PillarSocialCultural,
		PillarCognitiveProcessing,
		PillarConflictResolution,
	}
}

// Valid reports whether k is one of the six pillars.
func (k PillarKey) Valid() bool {
	for _, p := range PillarKeys() {
		if k == p {
			return true
		}
	}
	return false
}

// Label is the human-readable pillar name used in prompts and documents.
func (k PillarKey) Label() string {
	switch k {
	case PillarCommunicationStyle:
		return "Communication"
	case PillarEmotionalAlignment:
		return "Emotional alignment"
	case PillarDecisionMaking:
		return "Decision making"
	case PillarSocialCultural:
		return "Social & cultural"
	case PillarCognitiveProcessing:
		return "Cognitive processing"
	case PillarConflictResolution:
		return "Conflict resolution"
	default:
		return string(k)
	}
}

// Pillar is one personality dimension.
type Pillar struct {
	Summary       string   `json:"summary"`
	AIInstruction string   `json:"ai_instruction"`
	Markers       []string `json:"markers"`
}

type (
	CadenceSpeed      string
	ToneWarmth        string
	SentenceStructure string
	EmojiUsage        string
	SignOffStyle      string
)

const (
	CadenceRapid      CadenceSpeed = "rapid"
	CadenceModerate   CadenceSpeed = "moderate"
	CadenceDeliberate CadenceSpeed = "deliberate"

	ToneWarm    ToneWarmth = "warm"
	ToneNeutral ToneWarmth = "neutral"
	ToneCool    ToneWarmth = "cool"
	TonePlayful ToneWarmth = "playful"

	StructureFragmented SentenceStructure = "fragmented"
	StructureBalanced   SentenceStructure = "balanced"
	StructureComplex    SentenceStructure = "complex"

	EmojiNone     EmojiUsage = "none"
	EmojiMinimal  EmojiUsage = "minimal"
	EmojiFrequent EmojiUsage = "frequent"

	SignOffNone      SignOffStyle = "none"
	SignOffCasual    SignOffStyle = "casual"
	SignOffSignature SignOffStyle = "signature"
)

// VoiceVectors are the closed-vocabulary descriptors of how someone writes and speaks.
// An empty field means "no opinion" until EnforceShape fills the default.
type VoiceVectors struct {
	CadenceSpeed      CadenceSpeed      `json:"cadence_speed" jsonschema:"enum=rapid,enum=moderate,enum=deliberate"`
	ToneWarmth        ToneWarmth        `json:"tone_warmth" jsonschema:"enum=warm,enum=neutral,enum=cool,enum=playful"`
	SentenceStructure SentenceStructure `json:"sentence_structure" jsonschema:"enum=fragmented,enum=balanced,enum=complex"`
	EmojiUsage        EmojiUsage        `json:"emoji_usage" jsonschema:"enum=none,enum=minimal,enum=frequent"`
	SignOffStyle      SignOffStyle      `json:"sign_off_style" jsonschema:"enum=none,enum=casual,enum=signature"`
}

// DefaultVoice is what out-of-vocabulary values are coerced to.
func DefaultVoice() VoiceVectors {
	return VoiceVectors{
		CadenceSpeed:      CadenceModerate,
		ToneWarmth:        ToneNeutral,
		SentenceStructure: StructureBalanced,
		EmojiUsage:        EmojiNone,
		SignOffStyle:      SignOffNone,
	}
}

// Complete reports whether every field holds an in-vocabulary value.
func (v VoiceVectors) Complete() bool {
	return validCadence(v.CadenceSpeed) && validTone(v.ToneWarmth) && validStructure(v.SentenceStructure) &&
		validEmoji(v.EmojiUsage) && validSignOff(v.SignOffStyle)
}

// SoulPrint is the persisted personality profile. The three prompt fields are a cache derived
// from the rest by BuildPrompts.
type SoulPrint struct {
	SoulPrintVersion  string               `json:"soulprint_version"`
	Archetype         string               `json:"archetype"`
	IdentitySignature string               `json:"identity_signature"`
	Name              string               `json:"name"`
	VoiceVectors      VoiceVectors         `json:"voice_vectors"`
	Pillars           map[PillarKey]Pillar `json:"pillars"`
	FlinchWarnings    []string             `json:"flinch_warnings"`

	PromptCore    string `json:"prompt_core"`
	PromptPillars string `json:"prompt_pillars"`
	PromptFull    string `json:"prompt_full"`
}

// Decode parses a stored profile document. It does not fix its shape; see EnforceShape.
func Decode(raw []byte) (SoulPrint, error) {
	var sp SoulPrint
	if err := json.Unmarshal(raw, &sp); err != nil {
		return SoulPrint{}, fmt.Errorf("soulprint.Decode: %w", err)
	}
	return sp, nil
}

// Encode marshals a profile for storage.
func Encode(sp SoulPrint) ([]byte, error) {
	b, err := json.Marshal(sp)
	if err != nil {
		return nil, fmt.Errorf("soulprint.Encode: %w", err)
	}
	return b, nil
}

func validCadence(v CadenceSpeed) bool {
	return v == CadenceRapid || v == CadenceModerate || v == CadenceDeliberate
}

func validTone(v ToneWarmth) bool {
	return v == ToneWarm || v == ToneNeutral || v == ToneCool || v == TonePlayful
}

func validStructure(v SentenceStructure) bool {
	return v == StructureFragmented || v == StructureBalanced || v == StructureComplex
}

func validEmoji(v EmojiUsage) bool {
	return v == EmojiNone || v == EmojiMinimal || v == EmojiFrequent
}

func validSignOff(v SignOffStyle) bool {
	return v == SignOffNone || v == SignOffCasual || v == SignOffSignature
}
