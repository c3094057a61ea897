package archive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Turn represents a user-led segment of a thread: a user message plus any following assistant/system
// messages until the next user message.
type Turn struct {
	TurnIndex         int
	StartMessageIndex int
	EndMessageIndex   int

	StartTime float64

	UserText      string
	AssistantText string
}

// Chunk is a turn-aligned slice of one thread, persisted per user as the source material for
// profile synthesis and section refinement.
type Chunk struct {
	ThreadID    string              `json:"thread_id"`
	Title       string              `json:"title,omitempty"`
	ThreadStart float64             `json:"thread_start_time,omitempty"`
	ChunkNumber int                 `json:"chunk_number"`
	TurnStart   int                 `json:"turn_start"`
	TurnEnd     int                 `json:"turn_end"` // exclusive
	Messages    []NormalizedMessage `json:"messages"`
}

// Text renders the chunk as a plain "role: content" transcript.
func (c Chunk) Text() string {
	var b strings.Builder
	if c.Title != "" {
		b.WriteString("# ")
		b.WriteString(c.Title)
		b.WriteString("\n")
	}
	for _, m := range c.Messages {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// BreakpointDecider decides where to split a thread into chunks.
// Breakpoints are expressed as turn indices (0-based) where a new chunk should start.
// Example: totalTurns=55, breakpoints=[20,40] produces chunks [0..20), [20..40), [40..55).
type BreakpointDecider interface {
	DecideBreakpoints(ctx context.Context, thread ConversationThread, turns []Turn, targetTurnsPerChunk int) ([]int, error)
}

// FixedDecider splits every targetTurnsPerChunk turns.
type FixedDecider struct{}

func (FixedDecider) DecideBreakpoints(_ context.Context, _ ConversationThread, turns []Turn, targetTurnsPerChunk int) ([]int, error) {
	return FallbackBreakpoints(len(turns), targetTurnsPerChunk), nil
}

// BuildTurns groups a thread into user-led turns.
func BuildTurns(thread ConversationThread) []Turn {
	msgs := thread.Messages
	if len(msgs) == 0 {
		return nil
	}

	userIdxs := make([]int, 0, 64)
	for i := range msgs {
		if msgs[i].Role == RoleUser {
			userIdxs = append(userIdxs, i)
		}
	}

	if len(userIdxs) == 0 {
		// No explicit user messages; treat entire thread as one turn.
		return []Turn{turnFromRange(0, 0, len(msgs)-1, msgs)}
	}

	turns := make([]Turn, 0, len(userIdxs))
	for ti, start := range userIdxs {
		// Messages before the first user message belong to the first turn.
		if ti == 0 {
			start = 0
		}
		end := len(msgs) - 1
		if ti+1 < len(userIdxs) {
			end = userIdxs[ti+1] - 1
		}
		turns = append(turns, turnFromRange(ti, start, end, msgs))
	}
	return turns
}

func turnFromRange(turnIndex, start, end int, msgs []NormalizedMessage) Turn {
	var userParts, assistantParts []string
	for i := start; i <= end && i < len(msgs); i++ {
		m := msgs[i]
		if m.Role == RoleUser {
			userParts = append(userParts, m.Content)
		} else {
			assistantParts = append(assistantParts, m.Content)
		}
	}

	return Turn{
		TurnIndex:         turnIndex,
		StartMessageIndex: start,
		EndMessageIndex:   end,
		StartTime:         msgs[start].CreatedAt,
		UserText:          strings.Join(userParts, "\n"),
		AssistantText:     strings.Join(assistantParts, "\n"),
	}
}

// ChunkThread splits a thread at the decider's breakpoints. A nil decider, a decider error, or an
// empty answer all fall back to fixed breakpoints every targetTurnsPerChunk turns.
func ChunkThread(ctx context.Context, thread ConversationThread, decider BreakpointDecider, targetTurnsPerChunk int) ([]Chunk, error) {
	if ctx == nil {
		return nil, errors.New("ChunkThread: ctx is nil")
	}
	if targetTurnsPerChunk <= 0 {
		return nil, errors.New("ChunkThread: targetTurnsPerChunk must be > 0")
	}

	turns := BuildTurns(thread)
	if len(turns) == 0 {
		return nil, nil
	}

	var breakpoints []int
	if decider != nil && len(turns) > 1 {
		bps, err := decider.DecideBreakpoints(ctx, thread, turns, targetTurnsPerChunk)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
		} else {
			breakpoints = bps
		}
	}
	if len(breakpoints) == 0 {
		breakpoints = FallbackBreakpoints(len(turns), targetTurnsPerChunk)
	}

	chunks, err := ApplyTurnBreakpoints(thread, turns, breakpoints)
	if err != nil {
		return nil, err
	}
	for i := range chunks {
		chunks[i].ChunkNumber = i + 1
		chunks[i].ThreadStart = thread.StartTime()
	}
	return chunks, nil
}

// ApplyTurnBreakpoints converts turn breakpoints into chunk objects.
func ApplyTurnBreakpoints(thread ConversationThread, turns []Turn, breakpoints []int) ([]Chunk, error) {
	totalTurns := len(turns)
	if totalTurns == 0 {
		return nil, errors.New("ApplyTurnBreakpoints: no turns")
	}

	bps := normalizeBreakpoints(breakpoints, totalTurns)

	// Build boundaries: always include 0 and totalTurns.
	boundaries := make([]int, 0, len(bps)+2)
	boundaries = append(boundaries, 0)
	boundaries = append(boundaries, bps...)
	boundaries = append(boundaries, totalTurns)

	var chunks []Chunk
	for i := 0; i+1 < len(boundaries); i++ {
		ts := boundaries[i]
		te := boundaries[i+1]
		ms := turns[ts].StartMessageIndex
		me := turns[te-1].EndMessageIndex
		if ms < 0 || me < ms || me >= len(thread.Messages) {
			return nil, fmt.Errorf("ApplyTurnBreakpoints: invalid message range for turns [%d,%d): %d..%d", ts, te, ms, me)
		}

		chunks = append(chunks, Chunk{
			ThreadID:  thread.ThreadID,
			Title:     thread.Title,
			TurnStart: ts,
			TurnEnd:   te,
			Messages:  append([]NormalizedMessage(nil), thread.Messages[ms:me+1]...),
		})
	}
	return chunks, nil
}

// normalizeBreakpoints sorts, dedupes and drops out-of-range breakpoints.
func normalizeBreakpoints(breakpoints []int, totalTurns int) []int {
	if totalTurns <= 1 || len(breakpoints) == 0 {
		return nil
	}

	bps := append([]int(nil), breakpoints...)
	sort.Ints(bps)

	out := bps[:0]
	prev := -1
	for _, b := range bps {
		if b <= 0 || b >= totalTurns || b == prev {
			continue
		}
		out = append(out, b)
		prev = b
	}
	return out
}

// FallbackBreakpoints places a breakpoint every targetTurnsPerChunk turns.
func FallbackBreakpoints(totalTurns int, targetTurnsPerChunk int) []int {
	if targetTurnsPerChunk <= 0 || totalTurns <= targetTurnsPerChunk {
		return nil
	}
	var bps []int
	for i := targetTurnsPerChunk; i < totalTurns; i += targetTurnsPerChunk {
		bps = append(bps, i)
	}
	return bps
}

// BatchChunks packs chunks, in order, into batches whose rendered text stays within maxChars.
// A chunk larger than maxChars on its own gets a batch of its own.
func BatchChunks(chunks []Chunk, maxChars int) [][]Chunk {
	if len(chunks) == 0 {
		return nil
	}
	if maxChars <= 0 {
		return [][]Chunk{append([]Chunk(nil), chunks...)}
	}

	var (
		batches [][]Chunk
		cur     []Chunk
		size    int
	)
	for _, ch := range chunks {
		n := len(ch.Text())
		if len(cur) > 0 && size+n > maxChars {
			batches = append(batches, cur)
			cur, size = nil, 0
		}
		cur = append(cur, ch)
		size += n
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}
