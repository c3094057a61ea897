package provider

import (
	"context"
	"encoding/json"

	"github.com/theimaginaryfoundation/soulprint/archive"
	"github.com/theimaginaryfoundation/soulprint/fileutils"
)

// BreakpointDecider asks the model where topic boundaries fall in a long thread.
type BreakpointDecider struct {
	Client *Client
}

var _ archive.BreakpointDecider = BreakpointDecider{}

type breakpointRequest struct {
	ThreadID            string            `json:"conversation_id"`
	Title               string            `json:"title,omitempty"`
	TargetTurnsPerChunk int               `json:"target_turns_per_chunk"`
	TotalTurns          int               `json:"total_turns"`
	Turns               []turnForDecision `json:"turns"`
}

type turnForDecision struct {
	Turn      int     `json:"turn"`
	StartTime float64 `json:"start_time,omitempty"`
	User      string  `json:"user,omitempty"`
	Assistant string  `json:"assistant,omitempty"`
}

type breakpointResponse struct {
	Breakpoints []int `json:"breakpoints"`
}

var breakpointSchema = GenerateSchema[breakpointResponse]()

func (d BreakpointDecider) DecideBreakpoints(ctx context.Context, thread archive.ConversationThread, turns []archive.Turn, targetTurnsPerChunk int) ([]int, error) {
	// Nothing to decide for a thread that fits in one chunk.
	if len(turns) <= targetTurnsPerChunk {
		return nil, nil
	}
	payload, err := buildBreakpointRequestPayload(thread, turns, targetTurnsPerChunk)
	if err != nil {
		return nil, err
	}

	var out breakpointResponse
	if err := d.Client.complete(ctx, structuredCall{
		name:            "TurnBreakpoints",
		description:     "Turn breakpoints JSON",
		schema:          breakpointSchema,
		instructions:    chunkBreakpointsPrompt,
		input:           string(payload),
		maxOutputTokens: 1500,
	}, &out); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Unusable model output should not stall the import.
		d.Client.logger().Debug("breakpoint decision failed, using fixed breakpoints")
		return archive.FallbackBreakpoints(len(turns), targetTurnsPerChunk), nil
	}
	return out.Breakpoints, nil
}

func buildBreakpointRequestPayload(thread archive.ConversationThread, turns []archive.Turn, targetTurnsPerChunk int) ([]byte, error) {
	payload, err := json.Marshal(buildBreakpointRequest(thread, turns, targetTurnsPerChunk, true))
	if err != nil {
		return nil, err
	}

	// Huge threads go structure-only; omitempty drops the text.
	const maxRequestBytes = 250_000
	const maxTurnsWithText = 250
	if len(payload) > maxRequestBytes || len(turns) > maxTurnsWithText {
		return json.Marshal(buildBreakpointRequest(thread, turns, targetTurnsPerChunk, false))
	}
	return payload, nil
}

func buildBreakpointRequest(thread archive.ConversationThread, turns []archive.Turn, targetTurnsPerChunk int, includeText bool) breakpointRequest {
	req := breakpointRequest{
		ThreadID:            thread.ThreadID,
		Title:               thread.Title,
		TargetTurnsPerChunk: targetTurnsPerChunk,
		TotalTurns:          len(turns),
		Turns:               make([]turnForDecision, 0, len(turns)),
	}
	for _, t := range turns {
		td := turnForDecision{Turn: t.TurnIndex, StartTime: t.StartTime}
		if includeText {
			td.User = fileutils.Truncate(t.UserText, 400)
			td.Assistant = fileutils.Truncate(t.AssistantText, 600)
		}
		req.Turns = append(req.Turns, td)
	}
	return req
}
