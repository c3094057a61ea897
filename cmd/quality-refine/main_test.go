package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/theimaginaryfoundation/soulprint/archive"
	"github.com/theimaginaryfoundation/soulprint/config"
	"github.com/theimaginaryfoundation/soulprint/quality"
	"github.com/theimaginaryfoundation/soulprint/soulprint"
	"github.com/theimaginaryfoundation/soulprint/store"
)

func TestParseFlags_Overrides(t *testing.T) {
	t.Parallel()

	cfg, err := parseFlags([]string{"--threshold", "70", "--max-profiles", "3", "--json"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.Threshold != 70 || cfg.MaxProfiles != 3 || !cfg.JSON {
		t.Fatalf("cfg=%+v", cfg)
	}
	if err := (Config{Threshold: 101}).Validate(); err == nil {
		t.Fatalf("expected threshold error")
	}
}

func TestConfig_WithService(t *testing.T) {
	t.Parallel()

	svc := config.Config{Quality: config.QualityConfig{Threshold: 60, MaxProfiles: 10}}
	c, merged := Config{Threshold: 75}.withService(svc)
	if c.Threshold != 75 || c.MaxProfiles != 10 {
		t.Fatalf("cfg=%+v", c)
	}
	if merged.Quality.Threshold != 75 || merged.Quality.MaxProfiles != 10 {
		t.Fatalf("service quality=%+v", merged.Quality)
	}
}

func TestRun_PrintsSummary(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemory()
	raw, _ := soulprint.Encode(soulprint.Finalize(soulprint.SoulPrint{Name: "Sam"}))
	if _, err := st.SaveProfile(ctx, store.Profile{UserID: "u1", SoulPrint: raw, Sections: map[quality.Section]string{}}); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	if err := st.SaveChunks(ctx, "u1", []archive.Chunk{{
		ThreadID: "t1",
		Messages: []archive.NormalizedMessage{{ThreadID: "t1", Role: archive.RoleUser, Content: "I plan every trip down to the hour.", CreatedAt: 1}},
	}}); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}

	sched := &quality.Scheduler{
		Store:   st,
		Chunks:  st,
		Drafter: soulprint.QualityDrafter{Synth: &soulprint.Synthesizer{}},
		Scorer:  quality.HeuristicScorer{},
	}
	var out bytes.Buffer
	if err := run(ctx, sched, false, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if !strings.HasPrefix(lines[0], "profiles_checked=1 ") {
		t.Fatalf("summary=%q", lines[0])
	}
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "profile user_id=u1 status=") {
		t.Fatalf("output=%q", out.String())
	}

	out.Reset()
	if err := run(ctx, sched, true, &out); err != nil {
		t.Fatalf("run json: %v", err)
	}
	var res quality.RunResult
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("json output: %v", err)
	}
}
