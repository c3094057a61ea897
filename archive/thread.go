package archive

import (
	"fmt"
	"sort"
)

// ConversationThread is the per-conversation view of normalized messages, ascending by time.
type ConversationThread struct {
	ThreadID string              `json:"thread_id"`
	Title    string              `json:"title,omitempty"`
	Messages []NormalizedMessage `json:"messages"`
}

func (t *ConversationThread) setID(id string) {
	t.ThreadID = id
	for i := range t.Messages {
		t.Messages[i].ThreadID = id
	}
}

// threadIDs hands out unique thread ids. Exports can repeat a conversation id, and the
// positional thread-N fallback can clash with a real id; later ones get -2, -3 suffixes.
type threadIDs map[string]struct{}

func (s threadIDs) claim(id string) string {
	cand := id
	for n := 2; ; n++ {
		if _, taken := s[cand]; !taken {
			s[cand] = struct{}{}
			return cand
		}
		cand = fmt.Sprintf("%s-%d", id, n)
	}
}

// StartTime is the timestamp of the first message, or 0 for an empty thread.
func (t ConversationThread) StartTime() float64 {
	if len(t.Messages) == 0 {
		return 0
	}
	return t.Messages[0].CreatedAt
}

// GroupThreads groups a flat message list by ThreadID. Messages are sorted ascending inside each
// thread (stable, so equal timestamps keep their input order) and threads are ordered by first
// message time, then id.
func GroupThreads(msgs []NormalizedMessage) []ConversationThread {
	if len(msgs) == 0 {
		return nil
	}

	idx := make(map[string]int)
	var threads []ConversationThread
	for _, m := range msgs {
		i, ok := idx[m.ThreadID]
		if !ok {
			i = len(threads)
			idx[m.ThreadID] = i
			threads = append(threads, ConversationThread{ThreadID: m.ThreadID, Title: m.ThreadTitle})
		}
		if threads[i].Title == "" && m.ThreadTitle != "" {
			threads[i].Title = m.ThreadTitle
		}
		threads[i].Messages = append(threads[i].Messages, m)
	}

	for i := range threads {
		ms := threads[i].Messages
		sort.SliceStable(ms, func(a, b int) bool { return ms[a].CreatedAt < ms[b].CreatedAt })
	}
	sortThreads(threads)
	return threads
}

// Flatten orders threads by first message time and concatenates their messages.
func Flatten(threads []ConversationThread) []NormalizedMessage {
	sorted := append([]ConversationThread(nil), threads...)
	sortThreads(sorted)

	n := 0
	for _, t := range sorted {
		n += len(t.Messages)
	}
	out := make([]NormalizedMessage, 0, n)
	for _, t := range sorted {
		out = append(out, t.Messages...)
	}
	return out
}

// UserMessages returns only the user-authored messages, preserving order.
func UserMessages(msgs []NormalizedMessage) []NormalizedMessage {
	var out []NormalizedMessage
	for _, m := range msgs {
		if m.Role == RoleUser {
			out = append(out, m)
		}
	}
	return out
}

func sortThreads(threads []ConversationThread) {
	sort.SliceStable(threads, func(i, j int) bool {
		si, sj := threads[i].StartTime(), threads[j].StartTime()
		if si != sj {
			return si < sj
		}
		return threads[i].ThreadID < threads[j].ThreadID
	})
}
