// Package quality scores profile sections and runs the bounded refinement batch.
package quality

import (
	"context"
	"errors"
	"fmt"
)

// DefaultThreshold is the sub-score below which a section is considered low quality.
const DefaultThreshold = 60

// Section is one of the five documents rendered from a profile.
type Section string

const (
	SectionSoul     Section = "soul"
	SectionIdentity Section = "identity"
	SectionUser     Section = "user"
	SectionAgents   Section = "agents"
	SectionTools    Section = "tools"
)

// AllSections returns every section in canonical order.
func AllSections() []Section {
	return []Section{SectionSoul, SectionIdentity, SectionUser, SectionAgents, SectionTools}
}

// Valid reports whether s is a known section.
func (s Section) Valid() bool {
	for _, k := range AllSections() {
		if s == k {
			return true
		}
	}
	return false
}

// Scores is the judgment of one section. Each value is 0 to 100.
type Scores struct {
	Completeness int `json:"completeness"`
	Coherence    int `json:"coherence"`
	Specificity  int `json:"specificity"`
}

// IsLow reports whether any sub-score falls below threshold.
func (s Scores) IsLow(threshold int) bool {
	return s.Completeness < threshold || s.Coherence < threshold || s.Specificity < threshold
}

// Clamp forces every sub-score into [0,100].
func (s Scores) Clamp() Scores {
	return Scores{
		Completeness: clampScore(s.Completeness),
		Coherence:    clampScore(s.Coherence),
		Specificity:  clampScore(s.Specificity),
	}
}

// Breakdown holds per-section scores.
type Breakdown map[Section]Scores

// LowSections returns the distinct flagged sections in canonical order. A section with several
// low sub-scores appears once.
func (b Breakdown) LowSections(threshold int) []Section {
	var out []Section
	for _, s := range AllSections() {
		sc, ok := b[s]
		if ok && sc.IsLow(threshold) {
			out = append(out, s)
		}
	}
	return out
}

// IsLow reports whether any section is flagged.
func (b Breakdown) IsLow(threshold int) bool {
	return len(b.LowSections(threshold)) > 0
}

// Clone returns an independent copy.
func (b Breakdown) Clone() Breakdown {
	if b == nil {
		return nil
	}
	out := make(Breakdown, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Scorer judges one section's content.
type Scorer interface {
	ScoreSection(ctx context.Context, section Section, content string) (Scores, error)
}

// CalculateBreakdown scores every section. Sections missing from the map are scored as empty.
func CalculateBreakdown(ctx context.Context, scorer Scorer, sections map[Section]string) (Breakdown, error) {
	if scorer == nil {
		return nil, errors.New("CalculateBreakdown: scorer is nil")
	}
	out := make(Breakdown, len(AllSections()))
	for _, s := range AllSections() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sc, err := scorer.ScoreSection(ctx, s, sections[s])
		if err != nil {
			return nil, fmt.Errorf("CalculateBreakdown: score %s: %w", s, err)
		}
		out[s] = sc.Clamp()
	}
	return out, nil
}

// FallbackScorer tries Primary and falls back to Secondary when it fails.
type FallbackScorer struct {
	Primary   Scorer
	Secondary Scorer
}

func (f FallbackScorer) ScoreSection(ctx context.Context, section Section, content string) (Scores, error) {
	if f.Primary != nil {
		sc, err := f.Primary.ScoreSection(ctx, section, content)
		if err == nil {
			return sc, nil
		}
		if ctx.Err() != nil || f.Secondary == nil {
			return Scores{}, err
		}
	}
	if f.Secondary == nil {
		return Scores{}, errors.New("FallbackScorer: no scorer configured")
	}
	return f.Secondary.ScoreSection(ctx, section, content)
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
