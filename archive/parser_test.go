package archive

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseConversations_OrdersByTimestampAndDropsToolRole(t *testing.T) {
	t.Parallel()

	in := `[{"title":"T","conversation_id":"c1","mapping":{
		"A":{"id":"A","message":{"author":{"role":"user"},"create_time":100,"content":{"content_type":"text","parts":["hi"]}},"parent":"B","children":[]},
		"B":{"id":"B","message":{"author":{"role":"assistant"},"create_time":90,"content":{"content_type":"text","parts":["hello"]}},"parent":null,"children":["A"]},
		"C":{"id":"C","message":{"author":{"role":"tool"},"create_time":95,"content":{"content_type":"text","parts":["x"]}},"parent":"B","children":[]}
	}}]`

	msgs, stats, err := ParseConversations(context.Background(), strings.NewReader(in), ParseOptions{})
	if err != nil {
		t.Fatalf("ParseConversations: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs)=%d, want 2: %+v", len(msgs), msgs)
	}
	if msgs[0].Content != "hello" || msgs[0].CreatedAt != 90 || msgs[0].Role != RoleAssistant {
		t.Fatalf("msgs[0]=%+v, want assistant@90 hello", msgs[0])
	}
	if msgs[1].Content != "hi" || msgs[1].CreatedAt != 100 || msgs[1].Role != RoleUser {
		t.Fatalf("msgs[1]=%+v, want user@100 hi", msgs[1])
	}
	if msgs[0].ThreadID != "c1" || msgs[0].ThreadTitle != "T" {
		t.Fatalf("thread fields=%q/%q, want c1/T", msgs[0].ThreadID, msgs[0].ThreadTitle)
	}
	if stats.DroppedRole != 1 || stats.Kept != 2 {
		t.Fatalf("stats=%+v, want DroppedRole=1 Kept=2", stats)
	}
}

func TestParseConversations_DropsEmptyUntimedAndMalformedNodes(t *testing.T) {
	t.Parallel()

	in := `[{"id":"c1","mapping":{
		"root":{"id":"root","message":null,"children":["a"]},
		"a":{"id":"a","message":{"author":{"role":"user"},"create_time":1,"content":{"parts":["   "]}}},
		"b":{"id":"b","message":{"author":{"role":"user"},"create_time":null,"content":{"parts":["no time"]}}},
		"c":{"id":"c","message":{"author":{"role":"system"},"create_time":null,"update_time":5,"content":{"parts":["from update_time"]}}},
		"d":"not a node",
		"e":{"id":"e","message":{"author":{"role":"user"},"create_time":3,"content":{"content_type":"multimodal_text","parts":[{"asset_pointer":"file://x"},"look",{"text":"caption"}]}}}
	}}]`

	msgs, stats, err := ParseConversations(context.Background(), strings.NewReader(in), ParseOptions{})
	if err != nil {
		t.Fatalf("ParseConversations: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs)=%d, want 2: %+v", len(msgs), msgs)
	}
	if msgs[0].Content != "look\ncaption" {
		t.Fatalf("msgs[0].Content=%q, want multimodal text", msgs[0].Content)
	}
	if msgs[1].Content != "from update_time" || msgs[1].CreatedAt != 5 {
		t.Fatalf("msgs[1]=%+v, want update_time fallback", msgs[1])
	}
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" || m.CreatedAt <= 0 || !m.Role.Valid() {
			t.Fatalf("invalid message survived: %+v", m)
		}
	}
	if stats.DroppedEmpty != 1 || stats.DroppedNoTime != 1 || stats.DroppedMalformed != 1 {
		t.Fatalf("stats=%+v, want one each of empty/no-time/malformed", stats)
	}
	if stats.Dropped() != 3 {
		t.Fatalf("Dropped()=%d, want 3", stats.Dropped())
	}
}

func TestParseConversations_ThreadOrderByFirstMessage(t *testing.T) {
	t.Parallel()

	in := `[
		{"id":"late","mapping":{"x":{"message":{"author":{"role":"user"},"create_time":50,"content":{"parts":["late"]}}}}},
		{"id":"early","mapping":{"y":{"message":{"author":{"role":"user"},"create_time":10,"content":{"parts":["early"]}}}}},
		{"id":"empty","mapping":{}}
	]`

	msgs, stats, err := ParseConversations(context.Background(), strings.NewReader(in), ParseOptions{})
	if err != nil {
		t.Fatalf("ParseConversations: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ThreadID != "early" || msgs[1].ThreadID != "late" {
		t.Fatalf("msgs=%+v, want early then late", msgs)
	}
	if stats.Conversations != 3 {
		t.Fatalf("Conversations=%d, want 3", stats.Conversations)
	}
}

func TestParseConversations_RepeatedIDsStaySeparateAndOrdered(t *testing.T) {
	t.Parallel()

	in := `[
		{"id":"x","mapping":{
			"a":{"message":{"author":{"role":"user"},"create_time":100,"content":{"parts":["a"]}}},
			"b":{"message":{"author":{"role":"assistant"},"create_time":200,"content":{"parts":["b"]}}}}},
		{"id":"x","mapping":{"c":{"message":{"author":{"role":"user"},"create_time":150,"content":{"parts":["c"]}}}}},
		{"mapping":{"d":{"message":{"author":{"role":"user"},"create_time":300,"content":{"parts":["d"]}}}}},
		{"id":"thread-3","mapping":{"e":{"message":{"author":{"role":"user"},"create_time":400,"content":{"parts":["e"]}}}}}
	]`

	var threads []ConversationThread
	if _, err := StreamConversations(context.Background(), strings.NewReader(in), ParseOptions{}, func(th ConversationThread) error {
		threads = append(threads, th)
		return nil
	}); err != nil {
		t.Fatalf("StreamConversations: %v", err)
	}
	var ids []string
	for _, th := range threads {
		ids = append(ids, th.ThreadID)
		for _, m := range th.Messages {
			if m.ThreadID != th.ThreadID {
				t.Fatalf("message %q has thread id %q, want %q", m.Content, m.ThreadID, th.ThreadID)
			}
		}
	}
	if got := strings.Join(ids, ","); got != "x,x-2,thread-3,thread-3-2" {
		t.Fatalf("thread ids=%s", got)
	}

	msgs, _, err := ParseConversations(context.Background(), strings.NewReader(in), ParseOptions{})
	if err != nil {
		t.Fatalf("ParseConversations: %v", err)
	}
	last := map[string]float64{}
	for _, m := range msgs {
		if m.CreatedAt < last[m.ThreadID] {
			t.Fatalf("thread %s goes back in time at %q: %+v", m.ThreadID, m.Content, msgs)
		}
		last[m.ThreadID] = m.CreatedAt
	}
}

func TestParseConversations_ObjectWrappedAndSingleConversation(t *testing.T) {
	t.Parallel()

	wrapped := `{"meta":{"v":1},"conversations":[{"id":"c1","mapping":{"a":{"message":{"author":{"role":"user"},"create_time":1,"content":{"parts":["one"]}}}}}]}`
	msgs, _, err := ParseConversations(context.Background(), strings.NewReader(wrapped), ParseOptions{})
	if err != nil {
		t.Fatalf("wrapped: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "one" {
		t.Fatalf("wrapped msgs=%+v", msgs)
	}

	custom := `{"items":[{"id":"c2","mapping":{"a":{"message":{"author":{"role":"user"},"create_time":1,"content":{"parts":["two"]}}}}}]}`
	msgs, _, err = ParseConversations(context.Background(), strings.NewReader(custom), ParseOptions{ArrayField: "items"})
	if err != nil {
		t.Fatalf("custom field: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ThreadID != "c2" {
		t.Fatalf("custom msgs=%+v", msgs)
	}

	single := `{"id":"solo","title":"Solo","mapping":{"a":{"message":{"author":{"role":"user"},"create_time":2,"content":{"text":"plain text"}}}}}`
	msgs, _, err = ParseConversations(context.Background(), strings.NewReader(single), ParseOptions{})
	if err != nil {
		t.Fatalf("single: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ThreadID != "solo" || msgs[0].Content != "plain text" {
		t.Fatalf("single msgs=%+v", msgs)
	}
}

func TestParseConversations_MalformedTopLevelIsTerminal(t *testing.T) {
	t.Parallel()

	cases := []string{
		``,
		`[{"id":"c1","mapping":{}}`,
		`[{"id":"c1",]`,
		`"just a string"`,
		`{"nothing":"here"}`,
	}
	for _, in := range cases {
		msgs, _, err := ParseConversations(context.Background(), strings.NewReader(in), ParseOptions{})
		if err == nil {
			t.Fatalf("input %q: expected error", in)
		}
		if !errors.Is(err, ErrMalformedArchive) {
			t.Fatalf("input %q: err=%v, want ErrMalformedArchive", in, err)
		}
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("input %q: err=%T, want *ParseError", in, err)
		}
		if msgs != nil {
			t.Fatalf("input %q: got partial result %+v", in, msgs)
		}
	}
}

func TestParseConversations_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := ParseConversations(ctx, strings.NewReader(`[{"id":"c1","mapping":{}}]`), ParseOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}

func TestParseArchiveFile_ZipWithNestedConversations(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	zipPath := filepath.Join(dir, "export.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	zw := zip.NewWriter(f)
	for name, body := range map[string]string{
		"export/user.json":          `{"id":"u"}`,
		"export/conversations.json": `[{"id":"z1","mapping":{"a":{"message":{"author":{"role":"user"},"create_time":7,"content":{"parts":["zipped"]}}}}}]`,
	} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("file close: %v", err)
	}

	msgs, stats, err := ParseArchiveFile(context.Background(), zipPath, ParseOptions{})
	if err != nil {
		t.Fatalf("ParseArchiveFile: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "zipped" || msgs[0].ThreadID != "z1" {
		t.Fatalf("msgs=%+v", msgs)
	}
	if stats.Kept != 1 {
		t.Fatalf("Kept=%d, want 1", stats.Kept)
	}
}

func TestParseArchiveFile_ZipWithoutConversations(t *testing.T) {
	t.Parallel()

	zipPath := filepath.Join(t.TempDir(), "export.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("readme.txt")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	_, _ = w.Write([]byte("nothing"))
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	_ = f.Close()

	_, _, err = ParseArchiveFile(context.Background(), zipPath, ParseOptions{})
	if !errors.Is(err, ErrConversationsNotFound) {
		t.Fatalf("err=%v, want ErrConversationsNotFound", err)
	}
}

func TestGroupThreads(t *testing.T) {
	t.Parallel()

	msgs := []NormalizedMessage{
		{ThreadID: "b", Role: RoleUser, Content: "b2", CreatedAt: 30},
		{ThreadID: "a", Role: RoleUser, Content: "a1", CreatedAt: 20},
		{ThreadID: "b", Role: RoleAssistant, Content: "b1", CreatedAt: 10},
	}
	threads := GroupThreads(msgs)
	if len(threads) != 2 {
		t.Fatalf("len(threads)=%d, want 2", len(threads))
	}
	if threads[0].ThreadID != "b" || threads[0].Messages[0].Content != "b1" || threads[0].Messages[1].Content != "b2" {
		t.Fatalf("threads[0]=%+v, want b sorted", threads[0])
	}
	if threads[1].ThreadID != "a" {
		t.Fatalf("threads[1].ThreadID=%q, want a", threads[1].ThreadID)
	}
	if got := Flatten(threads); len(got) != 3 || got[0].Content != "b1" || got[2].Content != "a1" {
		t.Fatalf("Flatten=%+v", got)
	}
}
