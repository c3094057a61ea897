package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/soulprint/fileutils"
	"github.com/theimaginaryfoundation/soulprint/quality"
)

// Judge scores profile sections with a model.
type Judge struct {
	Client *Client

	// MaxContentBytes caps the section text sent for grading (default 12000).
	MaxContentBytes int
}

var _ quality.Scorer = Judge{}

type judgeRequest struct {
	Section quality.Section `json:"section"`
	Content string          `json:"content"`
}

type judgement struct {
	Completeness int    `json:"completeness"`
	Coherence    int    `json:"coherence"`
	Specificity  int    `json:"specificity"`
	Rationale    string `json:"rationale"`
}

var judgementSchema = GenerateSchema[judgement]()

// ScoreSection grades one section. Empty content scores zero without a model call.
func (j Judge) ScoreSection(ctx context.Context, section quality.Section, content string) (quality.Scores, error) {
	if strings.TrimSpace(content) == "" {
		return quality.Scores{}, nil
	}
	maxBytes := j.MaxContentBytes
	if maxBytes <= 0 {
		maxBytes = 12000
	}
	payload, err := json.Marshal(judgeRequest{Section: section, Content: fileutils.Truncate(content, maxBytes)})
	if err != nil {
		return quality.Scores{}, fmt.Errorf("ScoreSection: %w", err)
	}

	var out judgement
	if err := j.Client.complete(ctx, structuredCall{
		name:            "SectionScore",
		description:     "Section quality scores JSON",
		schema:          judgementSchema,
		instructions:    sectionJudgePrompt,
		input:           string(payload),
		maxOutputTokens: 400,
	}, &out); err != nil {
		return quality.Scores{}, fmt.Errorf("ScoreSection %s: %w", section, err)
	}
	j.Client.logger().Debug("section judged",
		zap.String("section", string(section)),
		zap.String("rationale", out.Rationale))

	return quality.Scores{
		Completeness: out.Completeness,
		Coherence:    out.Coherence,
		Specificity:  out.Specificity,
	}.Clamp(), nil
}
