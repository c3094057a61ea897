package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/theimaginaryfoundation/soulprint/archive"
	"github.com/theimaginaryfoundation/soulprint/quality"
	"github.com/theimaginaryfoundation/soulprint/soulprint"
)

func TestGenerateSchemaIsStrict(t *testing.T) {
	t.Parallel()

	s := GenerateSchema[profileDraft]()
	if _, ok := s["$schema"]; ok {
		t.Fatalf("schema keeps $schema")
	}
	if s[additionalPropertiesKey] != false {
		t.Fatalf("top-level additionalProperties=%v", s[additionalPropertiesKey])
	}
	req, _ := s[requiredKey].([]string)
	if strings.Join(req, ",") != "archetype,flinch_warnings,identity_signature,pillars,voice_vectors" {
		t.Fatalf("required=%v", req)
	}

	props := s[propertiesKey].(map[string]interface{})
	pillars := props["pillars"].(map[string]interface{})
	pillarProps := pillars[propertiesKey].(map[string]interface{})
	if len(pillarProps) != 6 {
		t.Fatalf("pillar properties=%d want 6", len(pillarProps))
	}
	comm := pillarProps["communication_style"].(map[string]interface{})
	if r, _ := comm[requiredKey].([]string); strings.Join(r, ",") != "ai_instruction,markers,summary" {
		t.Fatalf("pillar required=%v", r)
	}
	if comm[additionalPropertiesKey] != false {
		t.Fatalf("pillar not closed")
	}

	voice := props["voice_vectors"].(map[string]interface{})[propertiesKey].(map[string]interface{})
	enum, _ := voice["cadence_speed"].(map[string]interface{})["enum"].([]interface{})
	if len(enum) != 3 || enum[0] != "rapid" {
		t.Fatalf("cadence enum=%v", enum)
	}
}

func TestDraftConversions(t *testing.T) {
	t.Parallel()

	m := pillarSet{DecisionMaking: soulprint.Pillar{Summary: "fast"}}.toMap()
	if len(m) != 6 || m[soulprint.PillarDecisionMaking].Summary != "fast" {
		t.Fatalf("pillars=%+v", m)
	}
	for _, k := range soulprint.PillarKeys() {
		if _, ok := m[k]; !ok {
			t.Fatalf("missing pillar %s", k)
		}
	}

	secs := sectionDraft{Soul: "# Soul", Tools: "# Tools"}.toMap()
	if len(secs) != 2 || secs[quality.SectionSoul] != "# Soul" {
		t.Fatalf("sections=%v", secs)
	}
}

func TestRetryPolicy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := RetryPolicy{RateLimitWaits: []time.Duration{0, 0}, ServerErrorWaits: []time.Duration{0}}

	calls := 0
	resp, err := p.do(ctx, func() (*responses.Response, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("429 Too Many Requests")
		}
		return &responses.Response{}, nil
	})
	if err != nil || resp == nil || calls != 3 {
		t.Fatalf("rate limit: calls=%d err=%v", calls, err)
	}

	calls = 0
	_, err = p.do(ctx, func() (*responses.Response, error) {
		calls++
		return nil, errors.New("500 internal server error")
	})
	if err == nil || calls != 2 {
		t.Fatalf("server error: calls=%d err=%v", calls, err)
	}

	calls = 0
	_, err = p.do(ctx, func() (*responses.Response, error) {
		calls++
		return nil, errors.New("400 bad request")
	})
	if err == nil || calls != 1 {
		t.Fatalf("client error retried: calls=%d", calls)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	slow := RetryPolicy{RateLimitWaits: []time.Duration{time.Hour}}
	_, err = slow.do(canceled, func() (*responses.Response, error) {
		return nil, errors.New("rate limit reached")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRetryClassifiesAPIErrors(t *testing.T) {
	t.Parallel()

	if !isRateLimitError(&openai.Error{StatusCode: http.StatusTooManyRequests}) {
		t.Fatalf("429 not treated as rate limit")
	}
	if !isServerError(&openai.Error{StatusCode: http.StatusServiceUnavailable}) {
		t.Fatalf("503 not treated as server error")
	}
	if isServerError(&openai.Error{StatusCode: http.StatusBadRequest}) {
		t.Fatalf("400 treated as server error")
	}
}

func TestBreakpointPayloadDropsTextForLongThreads(t *testing.T) {
	t.Parallel()

	thread := archive.ConversationThread{ThreadID: "t1", Title: "Long"}
	turns := make([]archive.Turn, 300)
	for i := range turns {
		turns[i] = archive.Turn{TurnIndex: i, StartTime: float64(i + 1), UserText: "question", AssistantText: "answer"}
	}
	b, err := buildBreakpointRequestPayload(thread, turns, 20)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.Contains(string(b), `"user"`) {
		t.Fatalf("long thread payload still carries text")
	}

	b, err = buildBreakpointRequestPayload(thread, turns[:10], 20)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var req breakpointRequest
	if err := json.Unmarshal(b, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.TotalTurns != 10 || req.Turns[3].User != "question" || req.ThreadID != "t1" {
		t.Fatalf("short payload=%+v", req)
	}
}

// fakeResponses serves canned Responses API replies and records request bodies.
func fakeResponses(t *testing.T, outputText string) (*Client, *atomic.Int32, *atomic.Value) {
	t.Helper()
	var (
		calls   atomic.Int32
		lastReq atomic.Value
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		lastReq.Store(string(body))
		if !strings.HasSuffix(r.URL.Path, "/responses") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":         "resp_1",
			"object":     "response",
			"created_at": 1,
			"status":     "completed",
			"model":      "test-model",
			"output": []any{map[string]any{
				"type":   "message",
				"id":     "msg_1",
				"status": "completed",
				"role":   "assistant",
				"content": []any{map[string]any{
					"type":        "output_text",
					"text":        outputText,
					"annotations": []any{},
				}},
			}},
			"parallel_tool_calls": false,
			"tool_choice":         "auto",
			"tools":               []any{},
		})
	}))
	t.Cleanup(srv.Close)

	c := NewClient("test-key", "test-model", option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	c.Retry = RetryPolicy{}
	return c, &calls, &lastReq
}

func TestJudgeScoresAndClamps(t *testing.T) {
	t.Parallel()

	c, calls, lastReq := fakeResponses(t, `{"completeness":120,"coherence":70,"specificity":-5,"rationale":"mixed"}`)
	j := Judge{Client: c}

	sc, err := j.ScoreSection(context.Background(), quality.SectionUser, "# User\n\nLikes short answers.")
	if err != nil {
		t.Fatalf("ScoreSection: %v", err)
	}
	if sc != (quality.Scores{Completeness: 100, Coherence: 70, Specificity: 0}) {
		t.Fatalf("scores=%+v", sc)
	}
	body, _ := lastReq.Load().(string)
	if !strings.Contains(body, "SectionScore") || !strings.Contains(body, "flex") {
		t.Fatalf("request body missing schema name or tier: %s", body)
	}

	// Empty sections are scored locally.
	before := calls.Load()
	if sc, err := j.ScoreSection(context.Background(), quality.SectionTools, "  "); err != nil || sc != (quality.Scores{}) {
		t.Fatalf("empty section scores=%+v err=%v", sc, err)
	}
	if calls.Load() != before {
		t.Fatalf("empty section called the model")
	}
}

func TestGeneratorDraftProfile(t *testing.T) {
	t.Parallel()

	out, _ := json.Marshal(profileDraft{
		Archetype:         "The Tinkerer",
		IdentitySignature: "Builds things at night.",
		VoiceVectors:      soulprint.DefaultVoice(),
		Pillars:           pillarSet{DecisionMaking: soulprint.Pillar{Summary: "Prototypes first.", AIInstruction: "Suggest a quick experiment."}},
		FlinchWarnings:    []string{"meetings"},
	})
	c, _, lastReq := fakeResponses(t, string(out))

	sp, err := Generator{Client: c}.DraftProfile(context.Background(), soulprint.ProfileRequest{
		UserID: "u1",
		Name:   "Max",
		Sample: []string{"what if we just try it"},
		Voice:  soulprint.DefaultVoice(),
	})
	if err != nil {
		t.Fatalf("DraftProfile: %v", err)
	}
	if sp.Archetype != "The Tinkerer" || sp.Name != "Max" || sp.Pillars[soulprint.PillarDecisionMaking].Summary != "Prototypes first." {
		t.Fatalf("draft=%+v", sp)
	}
	body, _ := lastReq.Load().(string)
	if !strings.Contains(body, "what if we just try it") {
		t.Fatalf("sample not sent: %s", body)
	}
}

func TestBreakpointDeciderFallsBackOnBadOutput(t *testing.T) {
	t.Parallel()

	c, calls, _ := fakeResponses(t, "I think you should split it somewhere in the middle.")
	turns := make([]archive.Turn, 30)
	for i := range turns {
		turns[i] = archive.Turn{TurnIndex: i}
	}
	bps, err := BreakpointDecider{Client: c}.DecideBreakpoints(context.Background(), archive.ConversationThread{ThreadID: "t"}, turns, 10)
	if err != nil {
		t.Fatalf("DecideBreakpoints: %v", err)
	}
	if len(bps) != 2 || bps[0] != 10 || bps[1] != 20 {
		t.Fatalf("breakpoints=%v", bps)
	}
	// One retry for unparseable output.
	if calls.Load() != 2 {
		t.Fatalf("calls=%d want 2", calls.Load())
	}

	bps, err = BreakpointDecider{Client: c}.DecideBreakpoints(context.Background(), archive.ConversationThread{}, turns[:5], 10)
	if err != nil || bps != nil {
		t.Fatalf("short thread: %v %v", bps, err)
	}
}
