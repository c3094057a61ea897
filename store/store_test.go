package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/theimaginaryfoundation/soulprint/archive"
	"github.com/theimaginaryfoundation/soulprint/migrate"
	"github.com/theimaginaryfoundation/soulprint/quality"
	"github.com/theimaginaryfoundation/soulprint/soulprint"
)

type tickClock struct{ t time.Time }

func (c *tickClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestMemory() *Memory {
	m := NewMemory()
	m.Now = (&tickClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}).Now
	return m
}

func TestMemoryProfileRevisions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newTestMemory()

	if _, err := m.GetProfile(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	p, err := m.SaveProfile(ctx, Profile{UserID: "u1", SoulPrint: json.RawMessage(`{"name":"A"}`)})
	if err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	if p.Revision != 1 || p.CreatedAt.IsZero() {
		t.Fatalf("first save=%+v", p)
	}

	rev, err := m.SaveQuality(ctx, "u1", quality.Breakdown{quality.SectionSoul: {Completeness: 80, Coherence: 80, Specificity: 80}}, 1)
	if err != nil || rev != 2 {
		t.Fatalf("SaveQuality rev=%d err=%v", rev, err)
	}
	if _, err := m.SaveQuality(ctx, "u1", nil, 1); !errors.Is(err, ErrRevisionConflict) {
		t.Fatalf("stale write: expected ErrRevisionConflict, got %v", err)
	}
	if !errors.Is(ErrRevisionConflict, quality.ErrRevisionConflict) {
		t.Fatalf("store and quality conflict errors differ")
	}
	if _, err := m.SaveSoulPrint(ctx, "missing", json.RawMessage(`{}`), 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	again, err := m.SaveProfile(ctx, Profile{UserID: "u1", SoulPrint: json.RawMessage(`{"name":"B"}`)})
	if err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	if again.Revision != 3 || !again.CreatedAt.Equal(p.CreatedAt) {
		t.Fatalf("second save=%+v", again)
	}
}

func TestMemorySaveSectionsMergesOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newTestMemory()

	_, err := m.SaveProfile(ctx, Profile{
		UserID:    "u1",
		SoulPrint: json.RawMessage(`{}`),
		Sections:  map[quality.Section]string{quality.SectionSoul: "keep", quality.SectionUser: "old"},
		Quality: quality.Breakdown{
			quality.SectionSoul: {Completeness: 90, Coherence: 90, Specificity: 90},
			quality.SectionUser: {Completeness: 10, Coherence: 90, Specificity: 90},
		},
	})
	if err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}

	if _, err := m.SaveSections(ctx, "u1",
		map[quality.Section]string{quality.SectionUser: "new"},
		quality.Breakdown{quality.SectionUser: {Completeness: 75, Coherence: 75, Specificity: 75}},
		1); err != nil {
		t.Fatalf("SaveSections: %v", err)
	}

	p, err := m.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.Sections[quality.SectionSoul] != "keep" || p.Sections[quality.SectionUser] != "new" {
		t.Fatalf("sections=%v", p.Sections)
	}
	if p.Quality[quality.SectionSoul].Completeness != 90 || p.Quality[quality.SectionUser].Completeness != 75 {
		t.Fatalf("quality=%v", p.Quality)
	}
}

func TestMemoryCandidateQueries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newTestMemory()

	high := quality.Scores{Completeness: 90, Coherence: 90, Specificity: 90}
	low := quality.Scores{Completeness: 90, Coherence: 20, Specificity: 90}
	for _, p := range []Profile{
		{UserID: "b-unscored"},
		{UserID: "a-unscored"},
		{UserID: "healthy", Quality: quality.Breakdown{quality.SectionSoul: high}},
		{UserID: "low", Quality: quality.Breakdown{quality.SectionSoul: high, quality.SectionTools: low}},
	} {
		p.SoulPrint = json.RawMessage(`{}`)
		if _, err := m.SaveProfile(ctx, p); err != nil {
			t.Fatalf("SaveProfile: %v", err)
		}
	}

	unscored, err := m.ListUnscored(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnscored: %v", err)
	}
	// Least recently updated first.
	if len(unscored) != 2 || unscored[0].UserID != "b-unscored" || unscored[1].UserID != "a-unscored" {
		t.Fatalf("unscored=%+v", unscored)
	}
	if one, _ := m.ListUnscored(ctx, 1); len(one) != 1 {
		t.Fatalf("limit ignored: %d", len(one))
	}

	lows, err := m.ListBelowThreshold(ctx, quality.DefaultThreshold, 10)
	if err != nil {
		t.Fatalf("ListBelowThreshold: %v", err)
	}
	if len(lows) != 1 || lows[0].UserID != "low" || lows[0].Revision != 1 {
		t.Fatalf("below threshold=%+v", lows)
	}

	// Candidates are copies.
	lows[0].Quality[quality.SectionTools] = high
	again, _ := m.ListBelowThreshold(ctx, quality.DefaultThreshold, 10)
	if len(again) != 1 {
		t.Fatalf("candidate mutation leaked into the store")
	}
}

func TestMemoryImportProgressIsMonotonic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newTestMemory()

	if _, err := m.UpdateImport(ctx, "u1", ImportUpdate{Status: ImportProcessing}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	job, err := m.StartImport(ctx, "u1", "server")
	if err != nil {
		t.Fatalf("StartImport: %v", err)
	}
	if job.Status != ImportQueued || job.ID == "" || job.ExtractionPath != "server" {
		t.Fatalf("job=%+v", job)
	}

	job, _ = m.UpdateImport(ctx, "u1", ImportUpdate{Status: ImportProcessing, Stage: "chunking", Progress: 30})
	started := job.ProcessingStartedAt
	if started.IsZero() {
		t.Fatalf("processing start not recorded")
	}
	job, _ = m.UpdateImport(ctx, "u1", ImportUpdate{Status: ImportProcessing, Stage: "parsing", Progress: 5})
	if job.ProgressPercent != 30 {
		t.Fatalf("progress went backwards: %d", job.ProgressPercent)
	}
	if !job.ProcessingStartedAt.Equal(started) {
		t.Fatalf("processing start moved")
	}
	job, _ = m.UpdateImport(ctx, "u1", ImportUpdate{Status: ImportFailed, Error: "boom"})
	if job.ProgressPercent != 30 || job.Error != "boom" || !job.Status.Terminal() {
		t.Fatalf("failed job=%+v", job)
	}

	retry, err := m.StartImport(ctx, "u1", "client")
	if err != nil {
		t.Fatalf("StartImport retry: %v", err)
	}
	if retry.ProgressPercent != 0 || retry.Error != "" || retry.ID == job.ID || !retry.ProcessingStartedAt.IsZero() {
		t.Fatalf("retry did not reset: %+v", retry)
	}

	if _, err := m.UpdateImport(ctx, "u1", ImportUpdate{JobID: job.ID, Status: ImportComplete, Progress: 100}); !errors.Is(err, ErrJobSuperseded) {
		t.Fatalf("update for replaced job: err=%v, want ErrJobSuperseded", err)
	}
	got, _ := m.GetImport(ctx, "u1")
	if got.ID != retry.ID || got.Status != ImportQueued || got.ProgressPercent != 0 {
		t.Fatalf("retry row changed: %+v", got)
	}
	if _, err := m.UpdateImport(ctx, "u1", ImportUpdate{JobID: retry.ID, Status: ImportProcessing, Progress: 5}); err != nil {
		t.Fatalf("update for current job: %v", err)
	}
}

func TestMonotonicProgress(t *testing.T) {
	t.Parallel()
	cases := []struct{ prev, next, want int }{
		{0, 5, 5},
		{50, 30, 50},
		{50, 150, 100},
		{0, -3, 0},
	}
	for _, tc := range cases {
		if got := MonotonicProgress(tc.prev, tc.next); got != tc.want {
			t.Fatalf("MonotonicProgress(%d,%d)=%d want %d", tc.prev, tc.next, got, tc.want)
		}
	}
}

func TestMemoryChunks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newTestMemory()

	if got, err := m.LoadChunks(ctx, "u1"); err != nil || len(got) != 0 {
		t.Fatalf("empty LoadChunks=%v err=%v", got, err)
	}
	in := []archive.Chunk{{ThreadID: "t1", ChunkNumber: 1}, {ThreadID: "t1", ChunkNumber: 2}}
	if err := m.SaveChunks(ctx, "u1", in); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}
	in[0].ThreadID = "mutated"
	got, _ := m.LoadChunks(ctx, "u1")
	if len(got) != 2 || got[0].ThreadID != "t1" {
		t.Fatalf("chunks=%+v", got)
	}
}

type lengthScorer struct{}

func (lengthScorer) ScoreSection(_ context.Context, _ quality.Section, content string) (quality.Scores, error) {
	if content == "" {
		return quality.Scores{}, nil
	}
	return quality.Scores{Completeness: 90, Coherence: 90, Specificity: 90}, nil
}

func TestSchedulerAgainstMemory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newTestMemory()

	raw, err := soulprint.Encode(soulprint.Finalize(soulprint.SoulPrint{Name: "Lee"}))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := m.SaveProfile(ctx, Profile{
		UserID:    "u1",
		SoulPrint: raw,
		Sections:  map[quality.Section]string{quality.SectionSoul: "hand written soul"},
	}); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	if _, err := m.SaveProfile(ctx, Profile{UserID: "u2", SoulPrint: raw}); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	if err := m.SaveChunks(ctx, "u1", []archive.Chunk{{
		ThreadID: "t1",
		Messages: []archive.NormalizedMessage{{ThreadID: "t1", Role: archive.RoleUser, Content: "ship it", CreatedAt: 1}},
	}}); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}

	sched := &quality.Scheduler{
		Store:   m,
		Chunks:  m,
		Drafter: soulprint.QualityDrafter{Synth: &soulprint.Synthesizer{}},
		Scorer:  lengthScorer{},
	}
	res, err := sched.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ProfilesChecked != 2 || res.SectionsRefined != 4 {
		t.Fatalf("result=%+v", res)
	}

	p, _ := m.GetProfile(ctx, "u1")
	if p.Sections[quality.SectionSoul] != "hand written soul" {
		t.Fatalf("healthy section overwritten: %q", p.Sections[quality.SectionSoul])
	}
	for _, sec := range quality.AllSections() {
		if p.Sections[sec] == "" || p.Quality[sec].IsLow(quality.DefaultThreshold) {
			t.Fatalf("section %s not refined: %q %+v", sec, p.Sections[sec], p.Quality[sec])
		}
	}
	if p.Revision != 3 {
		t.Fatalf("revision=%d want 3", p.Revision)
	}

	p2, _ := m.GetProfile(ctx, "u2")
	if p2.Quality == nil || len(p2.Sections) != 0 {
		t.Fatalf("u2 should be scored but untouched: %+v", p2)
	}

	// migrate and quality views share one revision counter.
	recs, err := m.ListSoulPrints(ctx, "", 10)
	if err != nil || len(recs) != 2 || recs[0].Revision != 3 {
		t.Fatalf("records=%+v err=%v", recs, err)
	}
	var _ migrate.Store = m
}
