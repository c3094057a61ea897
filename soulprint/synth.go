package soulprint

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/soulprint/archive"
	"github.com/theimaginaryfoundation/soulprint/cadence"
	"github.com/theimaginaryfoundation/soulprint/fileutils"
	"github.com/theimaginaryfoundation/soulprint/quality"
)

// ProfileRequest is what a Generator sees when drafting a profile.
type ProfileRequest struct {
	UserID string
	Name   string
	// Sample is a bounded, evenly spread selection of the user's own messages.
	Sample []string
	Voice  VoiceVectors
	Curve  *cadence.Curve
}

// SectionRequest is what a Generator sees when drafting section documents.
type SectionRequest struct {
	SoulPrint SoulPrint
	Excerpts  []string
}

// Generator produces the semantic parts of a profile. Its output is never trusted for shape.
type Generator interface {
	DraftProfile(ctx context.Context, req ProfileRequest) (SoulPrint, error)
	DraftSections(ctx context.Context, req SectionRequest) (map[quality.Section]string, error)
}

// SynthesisInput is everything known about a user at synthesis time.
type SynthesisInput struct {
	UserID   string
	Name     string
	Messages []archive.NormalizedMessage
	Curve    *cadence.Curve
}

// Synthesizer turns conversation history (and optionally a speech curve) into a SoulPrint.
type Synthesizer struct {
	// Generator is the primary drafter, typically a model. Nil means template only.
	Generator Generator
	// Fallback is used when Generator fails (default TemplateGenerator).
	Fallback Generator

	// SampleSize caps how many user messages are shown to the generator (default 120).
	SampleSize int
	// SampleChars caps each sampled message (default 600 bytes).
	SampleChars int
	// ExcerptChars caps the chunk text passed when drafting sections (default 24000 bytes).
	ExcerptChars int

	Logger *zap.Logger
}

func (s *Synthesizer) fallback() Generator {
	if s.Fallback != nil {
		return s.Fallback
	}
	return TemplateGenerator{}
}

func (s *Synthesizer) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}

// Synthesize drafts a profile. Computed voice vectors override whatever the generator proposed,
// with speech-derived values winning over text-derived ones. A failing generator degrades to the
// template draft; the result is never blank.
func (s *Synthesizer) Synthesize(ctx context.Context, in SynthesisInput) (SoulPrint, error) {
	if ctx == nil {
		return SoulPrint{}, errors.New("Synthesize: ctx is nil")
	}

	voice := VoiceFromMessages(in.Messages)
	if in.Curve != nil {
		voice = MergeVoice(voice, VoiceFromCurve(*in.Curve))
	}

	size, chars := s.SampleSize, s.SampleChars
	if size <= 0 {
		size = 120
	}
	if chars <= 0 {
		chars = 600
	}
	req := ProfileRequest{
		UserID: in.UserID,
		Name:   in.Name,
		Sample: SampleUserMessages(in.Messages, size, chars),
		Voice:  voice,
		Curve:  in.Curve,
	}

	draft, err := s.draftProfile(ctx, req)
	if err != nil {
		return SoulPrint{}, err
	}
	if in.Name != "" {
		draft.Name = in.Name
	}
	draft.VoiceVectors = MergeVoice(draft.VoiceVectors, voice)
	return Finalize(draft), nil
}

// QuickProfile is the template-only draft used before the model pass completes.
func QuickProfile(in SynthesisInput) SoulPrint {
	// Without a Generator only the template runs, and it does not fail.
	sp, _ := (&Synthesizer{}).Synthesize(context.Background(), in)
	return sp
}

func (s *Synthesizer) draftProfile(ctx context.Context, req ProfileRequest) (SoulPrint, error) {
	log := s.logger().With(zap.String("user_id", req.UserID))
	if s.Generator != nil {
		sp, err := s.Generator.DraftProfile(ctx, req)
		if err == nil {
			return sp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return SoulPrint{}, ctxErr
		}
		log.Warn("profile generator failed, using fallback draft", zap.Error(err))
	}
	sp, err := s.fallback().DraftProfile(ctx, req)
	if err != nil {
		return SoulPrint{}, fmt.Errorf("Synthesize: fallback draft: %w", err)
	}
	return sp, nil
}

// DraftSections regenerates all five section documents for a profile from its source chunks.
// Sections the generator leaves out are rendered from the template.
func (s *Synthesizer) DraftSections(ctx context.Context, sp SoulPrint, chunks []archive.Chunk) (map[quality.Section]string, error) {
	if ctx == nil {
		return nil, errors.New("DraftSections: ctx is nil")
	}
	sp = Finalize(sp)

	maxChars := s.ExcerptChars
	if maxChars <= 0 {
		maxChars = 24000
	}
	var excerpts []string
	if batches := archive.BatchChunks(chunks, maxChars); len(batches) > 0 {
		for _, ch := range batches[0] {
			excerpts = append(excerpts, fileutils.Truncate(ch.Text(), maxChars))
		}
	}
	req := SectionRequest{SoulPrint: sp, Excerpts: excerpts}

	var out map[quality.Section]string
	if s.Generator != nil {
		drafts, err := s.Generator.DraftSections(ctx, req)
		if err == nil {
			out = drafts
		} else {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			s.logger().Warn("section generator failed, using template sections", zap.Error(err))
		}
	}

	tmpl, err := s.fallback().DraftSections(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("DraftSections: fallback: %w", err)
	}
	if out == nil {
		out = make(map[quality.Section]string, len(quality.AllSections()))
	}
	for _, sec := range quality.AllSections() {
		if out[sec] == "" {
			out[sec] = tmpl[sec]
		}
	}
	for k := range out {
		if !k.Valid() {
			delete(out, k)
		}
	}
	return out, nil
}

// QualityDrafter adapts a Synthesizer to the refinement scheduler.
type QualityDrafter struct {
	Synth *Synthesizer
}

func (d QualityDrafter) DraftSections(ctx context.Context, c quality.Candidate, chunks []archive.Chunk) (map[quality.Section]string, error) {
	if d.Synth == nil {
		return nil, errors.New("QualityDrafter: synthesizer is nil")
	}
	var sp SoulPrint
	if len(c.SoulPrint) > 0 {
		decoded, err := Decode(c.SoulPrint)
		if err != nil {
			return nil, fmt.Errorf("QualityDrafter: %w", err)
		}
		sp = decoded
	}
	return d.Synth.DraftSections(ctx, sp, chunks)
}

// SampleUserMessages picks up to n user messages spread evenly across the history, each cut to maxBytes.
func SampleUserMessages(msgs []archive.NormalizedMessage, n, maxBytes int) []string {
	user := archive.UserMessages(msgs)
	if len(user) == 0 || n <= 0 {
		return nil
	}
	if len(user) <= n {
		out := make([]string, 0, len(user))
		for _, m := range user {
			out = append(out, fileutils.Truncate(m.Content, maxBytes))
		}
		return out
	}
	out := make([]string, 0, n)
	step := float64(len(user)) / float64(n)
	for i := 0; i < n; i++ {
		out = append(out, fileutils.Truncate(user[int(float64(i)*step)].Content, maxBytes))
	}
	return out
}
