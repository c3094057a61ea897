package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/theimaginaryfoundation/soulprint/config"
	"github.com/theimaginaryfoundation/soulprint/importer"
	"github.com/theimaginaryfoundation/soulprint/store"
)

func TestParseFlags_Overrides(t *testing.T) {
	t.Parallel()

	cfg, err := parseFlags([]string{"--user", "u1", "--in", "x.zip", "--name", "Ada", "--template-only"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.UserID != "u1" || cfg.InputPath != "x.zip" || cfg.Name != "Ada" || !cfg.TemplateOnly {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	if err := (Config{InputPath: "x"}).Validate(); err == nil {
		t.Fatalf("expected error for missing user")
	}
	if err := (Config{UserID: "u"}).Validate(); err == nil {
		t.Fatalf("expected error for missing input")
	}
	_, svc := Config{TemplateOnly: true}.withService(config.Config{OpenAI: config.OpenAIConfig{APIKey: "sk"}})
	if svc.OpenAI.APIKey != "" {
		t.Fatalf("template-only kept the API key")
	}
}

func TestRun_ImportsArchive(t *testing.T) {
	t.Parallel()

	in := filepath.Join(t.TempDir(), "conversations.json")
	export := `[{"conversation_id":"c1","title":"Plans","mapping":{
		"a":{"id":"a","message":{"author":{"role":"user"},"create_time":10,"content":{"parts":["Can you help me plan a week in Lisbon?"]}}},
		"b":{"id":"b","message":{"author":{"role":"assistant"},"create_time":20,"content":{"parts":["Sure, here is a plan."]}}},
		"c":{"id":"c","message":{"author":{"role":"user"},"create_time":30,"content":{"parts":["Great, make day two slower."]}}}
	}}]`
	if err := os.WriteFile(in, []byte(export), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	st := store.NewMemory()
	var out bytes.Buffer
	err := run(context.Background(), &importer.Service{Store: st}, Config{UserID: "u1", InputPath: in}, &out)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out.String())
	}
	for _, want := range []string{"status=complete", "progress=100", "threads=1 messages=3", "profile_revision=2"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRun_ReportsFailure(t *testing.T) {
	t.Parallel()

	in := filepath.Join(t.TempDir(), "conversations.json")
	if err := os.WriteFile(in, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	var out bytes.Buffer
	err := run(context.Background(), &importer.Service{Store: store.NewMemory()}, Config{UserID: "u1", InputPath: in}, &out)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(out.String(), "status=failed") || !strings.Contains(out.String(), "import_error=") {
		t.Fatalf("output=%q", out.String())
	}
}
