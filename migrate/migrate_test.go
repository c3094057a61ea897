package migrate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/theimaginaryfoundation/soulprint/soulprint"
)

func currentProfile(t *testing.T, pretty bool) []byte {
	t.Helper()
	sp := soulprint.Finalize(soulprint.SoulPrint{
		Name:      "Rin",
		Archetype: "The Navigator",
		Pillars: map[soulprint.PillarKey]soulprint.Pillar{
			soulprint.PillarDecisionMaking: {Summary: "Decides after sleeping on it.", AIInstruction: "Offer two options."},
		},
		FlinchWarnings: []string{"small talk"},
	})
	var (
		b   []byte
		err error
	)
	if pretty {
		b, err = json.MarshalIndent(sp, "", "    ")
	} else {
		b, err = soulprint.Encode(sp)
	}
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

func doubleEncoded(t *testing.T) []byte {
	t.Helper()
	inner, err := json.Marshal(map[string]any{
		"archetype": "The Analyst",
		"name":      "Ignored",
		"pillars": map[string]any{
			"decision_making": map[string]any{"summary": "Decides slowly.", "ai_instruction": "Give options."},
		},
		"voice_vectors": map[string]any{"cadence_speed": "deliberate"},
	})
	if err != nil {
		t.Fatalf("marshal inner: %v", err)
	}
	outer, err := json.Marshal(map[string]any{
		"name":        "Bo",
		"pillars":     map[string]any{},
		"prompt_full": string(inner),
	})
	if err != nil {
		t.Fatalf("marshal outer: %v", err)
	}
	return outer
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	stale, err := soulprint.Decode(currentProfile(t, false))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	stale.PromptFull = "You are a helpful assistant."
	staleRaw, err := soulprint.Encode(stale)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	cases := []struct {
		name string
		raw  []byte
		want Format
	}{
		{"current", currentProfile(t, false), FormatCurrent},
		{"current pretty", currentProfile(t, true), FormatCurrent},
		{"legacy traits", []byte(`{"traits":{"decision_speed":80,"gut_trust":"25"}}`), FormatLegacyTraits},
		{"double encoded", doubleEncoded(t), FormatDoubleEncoded},
		{"stale prompt", staleRaw, FormatPartial},
		{"missing voice", []byte(`{"pillars":{"communication_style":{"summary":"Blunt."}},"prompt_full":"Be blunt."}`), FormatPartial},
		{"name only", []byte(`{"name":"Zed"}`), FormatPartial},
		{"non-numeric traits", []byte(`{"traits":{"speed":"fast"}}`), FormatUnrecognized},
		{"empty object", []byte(`{}`), FormatUnrecognized},
		{"array", []byte(`[1,2]`), FormatUnrecognized},
		{"not json", []byte(`soulprint`), FormatUnrecognized},
	}
	for _, tc := range cases {
		if got := DetectFormat(tc.raw); got != tc.want {
			t.Fatalf("%s: DetectFormat=%q want %q", tc.name, got, tc.want)
		}
	}
}

func TestNormalizeLegacyTraits(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"name":"Ana","traits":{"decision_speed":85,"gut_trust":20,"risk_tolerance":70,"social_energy":30}}`)
	sp, err := Normalize(raw, FormatLegacyTraits)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if got := sp.Pillars[soulprint.PillarCommunicationStyle].Summary; got != "Direct and fast-paced." {
		t.Fatalf("communication summary=%q", got)
	}
	if got := sp.Pillars[soulprint.PillarCognitiveProcessing].Summary; !strings.HasPrefix(got, "Analytical") {
		t.Fatalf("cognitive summary=%q", got)
	}
	// 70 and 30 sit on the boundary and count as mid.
	if got := sp.Pillars[soulprint.PillarDecisionMaking].Summary; got != "Weighs risk against upside before committing." {
		t.Fatalf("decision summary=%q", got)
	}
	if got := sp.Pillars[soulprint.PillarSocialCultural].Summary; got != "Comfortable in groups and on their own." {
		t.Fatalf("social summary=%q", got)
	}
	if !sp.Pillars[soulprint.PillarEmotionalAlignment].IsPlaceholder() {
		t.Fatalf("expected placeholder for unscored trait, got %+v", sp.Pillars[soulprint.PillarEmotionalAlignment])
	}
	if got := sp.Pillars[soulprint.PillarCommunicationStyle].Markers; len(got) != 1 || got[0] != "decision speed 85/100" {
		t.Fatalf("markers=%v", got)
	}
	if sp.VoiceVectors.CadenceSpeed != soulprint.CadenceRapid {
		t.Fatalf("cadence=%q want rapid", sp.VoiceVectors.CadenceSpeed)
	}
	if sp.SoulPrintVersion != soulprint.CurrentVersion {
		t.Fatalf("version=%q", sp.SoulPrintVersion)
	}
	if !strings.HasPrefix(sp.PromptFull, "You are talking with Ana.") {
		t.Fatalf("prompt=%q", sp.PromptFull)
	}

	out, err := soulprint.Encode(sp)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if got := DetectFormat(out); got != FormatCurrent {
		t.Fatalf("migrated profile detected as %q", got)
	}
}

func TestNormalizeDoubleEncoded(t *testing.T) {
	t.Parallel()

	sp, err := Normalize(doubleEncoded(t), FormatDoubleEncoded)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if sp.Name != "Bo" {
		t.Fatalf("name=%q want outer value", sp.Name)
	}
	if sp.Archetype != "The Analyst" {
		t.Fatalf("archetype=%q", sp.Archetype)
	}
	if got := sp.Pillars[soulprint.PillarDecisionMaking]; got.Summary != "Decides slowly." || got.AIInstruction != "Give options." {
		t.Fatalf("decision pillar=%+v", got)
	}
	if sp.VoiceVectors.CadenceSpeed != soulprint.CadenceDeliberate {
		t.Fatalf("cadence=%q", sp.VoiceVectors.CadenceSpeed)
	}
	if strings.HasPrefix(strings.TrimSpace(sp.PromptFull), "{") {
		t.Fatalf("prompt still holds JSON: %q", sp.PromptFull)
	}
}

func TestNormalizeToleratesJunk(t *testing.T) {
	t.Parallel()

	for _, raw := range [][]byte{
		[]byte(`not json`),
		[]byte(`{"pillars":"oops","flinch_warnings":"politics, sports"}`),
		[]byte(`{"pillars":{"decision":"Quick to commit.","communication":{"summary":7}}}`),
	} {
		sp, err := Normalize(raw, DetectFormat(raw))
		if err != nil {
			t.Fatalf("Normalize(%s): %v", raw, err)
		}
		if len(sp.Pillars) != 6 || sp.PromptFull == "" {
			t.Fatalf("Normalize(%s) not closed: %+v", raw, sp)
		}
	}

	sp, _ := Normalize([]byte(`{"pillars":{"decision":"Quick to commit."},"flinch_warnings":"politics, sports"}`), FormatPartial)
	if got := sp.Pillars[soulprint.PillarDecisionMaking].Summary; got != "Quick to commit." {
		t.Fatalf("alias pillar summary=%q", got)
	}
	if len(sp.FlinchWarnings) != 2 || sp.FlinchWarnings[1] != "sports" {
		t.Fatalf("flinch=%v", sp.FlinchWarnings)
	}
}

var errConflict = errors.New("revision conflict")

type memStore struct {
	rows     map[string]Record
	conflict map[string]bool
	writes   int
}

func (s *memStore) ListSoulPrints(_ context.Context, after string, limit int) ([]Record, error) {
	ids := make([]string, 0, len(s.rows))
	for id := range s.rows {
		if id > after {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.rows[id])
	}
	return out, nil
}

func (s *memStore) SaveSoulPrint(_ context.Context, userID string, raw json.RawMessage, revision int64) (int64, error) {
	rec := s.rows[userID]
	if s.conflict[userID] || rec.Revision != revision {
		return 0, errConflict
	}
	rec.SoulPrint = append(json.RawMessage(nil), raw...)
	rec.Revision++
	s.rows[userID] = rec
	s.writes++
	return rec.Revision, nil
}

func newMemStore(t *testing.T) *memStore {
	t.Helper()
	rows := map[string]Record{
		"u1": {UserID: "u1", SoulPrint: currentProfile(t, true), Revision: 4},
		"u2": {UserID: "u2", SoulPrint: []byte(`{"traits":{"decision_speed":90}}`), Revision: 1},
		"u3": {UserID: "u3", SoulPrint: doubleEncoded(t), Revision: 1},
		"u4": {UserID: "u4", SoulPrint: []byte(`{"name":"Kit"}`), Revision: 2},
		"u5": {UserID: "u5", SoulPrint: []byte(`[]`), Revision: 1},
	}
	return &memStore{rows: rows, conflict: map[string]bool{}}
}

func TestRunnerMigratesAndSkipsCurrent(t *testing.T) {
	t.Parallel()

	store := newMemStore(t)
	before := append([]byte(nil), store.rows["u1"].SoulPrint...)

	r := &Runner{Store: store, PageSize: 2}
	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sum.Scanned != 5 || sum.Skipped != 1 || sum.Migrated != 4 || sum.Failed != 0 {
		t.Fatalf("summary=%+v", sum)
	}
	for f, want := range map[Format]int{FormatCurrent: 1, FormatLegacyTraits: 1, FormatDoubleEncoded: 1, FormatPartial: 1, FormatUnrecognized: 1} {
		if sum.Formats[f] != want {
			t.Fatalf("formats[%s]=%d want %d", f, sum.Formats[f], want)
		}
	}
	if !bytes.Equal(store.rows["u1"].SoulPrint, before) || store.rows["u1"].Revision != 4 {
		t.Fatalf("current row was rewritten")
	}
	for _, id := range []string{"u2", "u3", "u4", "u5"} {
		if got := DetectFormat(store.rows[id].SoulPrint); got != FormatCurrent {
			t.Fatalf("%s after migration: %q", id, got)
		}
	}

	// A second pass finds nothing left to do.
	again, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if again.Migrated != 0 || again.Skipped != 5 {
		t.Fatalf("second summary=%+v", again)
	}
}

func TestRunnerCountsStalePrompts(t *testing.T) {
	t.Parallel()

	var obj map[string]any
	if err := json.Unmarshal(currentProfile(t, false), &obj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	obj["prompt_full"] = "You are talking with Rin. Keep answers short and kind."
	stale, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got := DetectFormat(stale); got != FormatPartial || !StalePrompt(stale) {
		t.Fatalf("format=%q stale=%v", got, StalePrompt(stale))
	}
	if StalePrompt(currentProfile(t, false)) || StalePrompt([]byte(`{"name":"Kit"}`)) {
		t.Fatalf("StalePrompt true for a current or half-filled row")
	}

	store := &memStore{rows: map[string]Record{
		"s1": {UserID: "s1", SoulPrint: stale, Revision: 1},
		"s2": {UserID: "s2", SoulPrint: []byte(`{"name":"Kit"}`), Revision: 1},
	}, conflict: map[string]bool{}}
	sum, err := (&Runner{Store: store}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.StalePrompts != 1 || sum.Migrated != 2 {
		t.Fatalf("summary=%+v", sum)
	}
	sp, err := soulprint.Decode(store.rows["s1"].SoulPrint)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !soulprint.PromptsCurrent(sp) || sp.Name != "Rin" {
		t.Fatalf("stale row not regenerated: %+v", sp)
	}
	var buf bytes.Buffer
	sum.Print(&buf)
	if !strings.Contains(buf.String(), "stale_prompts=1\n") {
		t.Fatalf("summary output:\n%s", buf.String())
	}
}

func TestNormalizePillarAliasesAreDeterministic(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"name":"Ana","pillars":{
		"decisions":{"summary":"From decisions."},
		"decision":{"summary":"From decision."},
		"communication":{"summary":"From communication."},
		"communication_style":{"summary":"From canonical."},
		"conflict":42,
		"conflict_resolution":"Names the problem early."
	}}`)
	for i := 0; i < 20; i++ {
		sp, err := Normalize(raw, FormatPartial)
		if err != nil {
			t.Fatalf("Normalize: %v", err)
		}
		if got := sp.Pillars[soulprint.PillarDecisionMaking].Summary; got != "From decision." {
			t.Fatalf("decision_making=%q, want the first alias by name", got)
		}
		if got := sp.Pillars[soulprint.PillarCommunicationStyle].Summary; got != "From canonical." {
			t.Fatalf("communication_style=%q, want the canonical key", got)
		}
		if got := sp.Pillars[soulprint.PillarConflictResolution].Summary; got != "Names the problem early." {
			t.Fatalf("conflict_resolution=%q", got)
		}
	}
}

func TestRunnerDryRunWritesNothing(t *testing.T) {
	t.Parallel()

	store := newMemStore(t)
	sum, err := (&Runner{Store: store, DryRun: true}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.writes != 0 {
		t.Fatalf("dry run wrote %d rows", store.writes)
	}
	if sum.Migrated != 4 || !sum.DryRun {
		t.Fatalf("summary=%+v", sum)
	}
}

func TestRunnerRecordsConflictsAndContinues(t *testing.T) {
	t.Parallel()

	store := newMemStore(t)
	store.conflict["u3"] = true
	sum, err := (&Runner{Store: store}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Failed != 1 || sum.Migrated != 3 {
		t.Fatalf("summary=%+v", sum)
	}
	if len(sum.Errors) != 1 || sum.Errors[0].UserID != "u3" || sum.Errors[0].Format != FormatDoubleEncoded {
		t.Fatalf("errors=%+v", sum.Errors)
	}
	if DetectFormat(store.rows["u3"].SoulPrint) != FormatDoubleEncoded {
		t.Fatalf("conflicting row should be untouched")
	}

	var out bytes.Buffer
	sum.Print(&out)
	for _, want := range []string{"scanned=5\n", "format_double_encoded=1\n", "failed=1\n", "error user_id=u3"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("summary output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunnerCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (&Runner{Store: newMemStore(t)}).Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
