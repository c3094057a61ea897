package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/theimaginaryfoundation/soulprint/cadence"
	"github.com/theimaginaryfoundation/soulprint/quality"
	"github.com/theimaginaryfoundation/soulprint/soulprint"
)

// Generator drafts profiles and section documents with a model.
type Generator struct {
	Client *Client
}

var _ soulprint.Generator = Generator{}

type profilePayload struct {
	Name         string                 `json:"name,omitempty"`
	Voice        soulprint.VoiceVectors `json:"computed_voice"`
	Curve        *cadence.Curve         `json:"emotional_signature_curve,omitempty"`
	UserMessages []string               `json:"user_messages"`
}

// pillarSet spells out the six pillars as fields; strict schemas cannot describe a keyed map.
type pillarSet struct {
	CommunicationStyle  soulprint.Pillar `json:"communication_style"`
	EmotionalAlignment  soulprint.Pillar `json:"emotional_alignment"`
	DecisionMaking      soulprint.Pillar `json:"decision_making"`
	SocialCultural      soulprint.Pillar `json:"social_cultural"`
	CognitiveProcessing soulprint.Pillar `json:"cognitive_processing"`
	ConflictResolution  soulprint.Pillar `json:"conflict_resolution"`
}

func (p pillarSet) toMap() map[soulprint.PillarKey]soulprint.Pillar {
	return map[soulprint.PillarKey]soulprint.Pillar{
		soulprint.PillarCommunicationStyle:  p.CommunicationStyle,
		soulprint.PillarEmotionalAlignment:  p.EmotionalAlignment,
		soulprint.PillarDecisionMaking:      p.DecisionMaking,
		soulprint.PillarSocialCultural:      p.SocialCultural,
		soulprint.PillarCognitiveProcessing: p.CognitiveProcessing,
		soulprint.PillarConflictResolution:  p.ConflictResolution,
	}
}

type profileDraft struct {
	Archetype         string                 `json:"archetype"`
	IdentitySignature string                 `json:"identity_signature"`
	VoiceVectors      soulprint.VoiceVectors `json:"voice_vectors"`
	Pillars           pillarSet              `json:"pillars"`
	FlinchWarnings    []string               `json:"flinch_warnings"`
}

var profileDraftSchema = GenerateSchema[profileDraft]()

// DraftProfile returns the model's draft. The caller enforces shape and regenerates prompts.
func (g Generator) DraftProfile(ctx context.Context, req soulprint.ProfileRequest) (soulprint.SoulPrint, error) {
	payload, err := json.Marshal(profilePayload{
		Name:         req.Name,
		Voice:        req.Voice,
		Curve:        req.Curve,
		UserMessages: nonNilStrings(req.Sample),
	})
	if err != nil {
		return soulprint.SoulPrint{}, fmt.Errorf("DraftProfile: %w", err)
	}

	var out profileDraft
	if err := g.Client.complete(ctx, structuredCall{
		name:            "SoulPrintDraft",
		description:     "SoulPrint profile draft JSON",
		schema:          profileDraftSchema,
		instructions:    profileDraftPrompt,
		input:           string(payload),
		maxOutputTokens: 3000,
	}, &out); err != nil {
		return soulprint.SoulPrint{}, fmt.Errorf("DraftProfile: %w", err)
	}

	return soulprint.SoulPrint{
		Archetype:         out.Archetype,
		IdentitySignature: out.IdentitySignature,
		Name:              req.Name,
		VoiceVectors:      out.VoiceVectors,
		Pillars:           out.Pillars.toMap(),
		FlinchWarnings:    out.FlinchWarnings,
	}, nil
}

type sectionPayload struct {
	Profile  sectionProfile `json:"profile"`
	Excerpts []string       `json:"excerpts"`
}

// sectionProfile is the profile without its rendered prompts.
type sectionProfile struct {
	Archetype         string                                   `json:"archetype"`
	IdentitySignature string                                   `json:"identity_signature"`
	Name              string                                   `json:"name,omitempty"`
	VoiceVectors      soulprint.VoiceVectors                   `json:"voice_vectors"`
	Pillars           map[soulprint.PillarKey]soulprint.Pillar `json:"pillars"`
	FlinchWarnings    []string                                 `json:"flinch_warnings"`
}

type sectionDraft struct {
	Soul     string `json:"soul"`
	Identity string `json:"identity"`
	User     string `json:"user"`
	Agents   string `json:"agents"`
	Tools    string `json:"tools"`
}

var sectionDraftSchema = GenerateSchema[sectionDraft]()

func (g Generator) DraftSections(ctx context.Context, req soulprint.SectionRequest) (map[quality.Section]string, error) {
	sp := req.SoulPrint
	payload, err := json.Marshal(sectionPayload{
		Profile: sectionProfile{
			Archetype:         sp.Archetype,
			IdentitySignature: sp.IdentitySignature,
			Name:              sp.Name,
			VoiceVectors:      sp.VoiceVectors,
			Pillars:           sp.Pillars,
			FlinchWarnings:    sp.FlinchWarnings,
		},
		Excerpts: nonNilStrings(req.Excerpts),
	})
	if err != nil {
		return nil, fmt.Errorf("DraftSections: %w", err)
	}

	var out sectionDraft
	if err := g.Client.complete(ctx, structuredCall{
		name:            "SectionDrafts",
		description:     "Markdown section documents JSON",
		schema:          sectionDraftSchema,
		instructions:    sectionDraftPrompt,
		input:           string(payload),
		maxOutputTokens: 4000,
	}, &out); err != nil {
		return nil, fmt.Errorf("DraftSections: %w", err)
	}
	return out.toMap(), nil
}

// toMap drops empty documents so the caller can fill them from another source.
func (d sectionDraft) toMap() map[quality.Section]string {
	out := make(map[quality.Section]string, 5)
	for sec, v := range map[quality.Section]string{
		quality.SectionSoul:     d.Soul,
		quality.SectionIdentity: d.Identity,
		quality.SectionUser:     d.User,
		quality.SectionAgents:   d.Agents,
		quality.SectionTools:    d.Tools,
	} {
		if v != "" {
			out[sec] = v
		}
	}
	return out
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
