package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// ParseOptions controls how an export is decoded.
type ParseOptions struct {
	// ArrayField is the JSON field name that contains the conversation array,
	// when the top-level JSON value is an object wrapping it.
	//
	// If empty, a "conversations" field is streamed when present; otherwise the
	// first array-valued field is used, unless the object is itself a conversation.
	ArrayField string
}

// ThreadFunc receives each parsed conversation as soon as it has been normalized.
type ThreadFunc func(thread ConversationThread) error

// ParseConversations decodes a whole export into a flat list of normalized messages,
// ordered by thread (earliest first message) and ascending time within each thread.
//
// Malformed top-level JSON is terminal and returns a *ParseError with no messages.
func ParseConversations(ctx context.Context, r io.Reader, opts ParseOptions) ([]NormalizedMessage, ParseStats, error) {
	var threads []ConversationThread
	stats, err := StreamConversations(ctx, r, opts, func(thread ConversationThread) error {
		threads = append(threads, thread)
		return nil
	})
	if err != nil {
		return nil, ParseStats{}, err
	}
	return Flatten(threads), stats, nil
}

// StreamConversations walks the export one conversation at a time and hands every normalized,
// non-empty thread to fn. Only a single conversation element is held in memory at once.
func StreamConversations(ctx context.Context, r io.Reader, opts ParseOptions, fn ThreadFunc) (ParseStats, error) {
	if ctx == nil {
		return ParseStats{}, errors.New("StreamConversations: ctx is nil")
	}
	if r == nil {
		return ParseStats{}, errors.New("StreamConversations: reader is nil")
	}
	if fn == nil {
		return ParseStats{}, errors.New("StreamConversations: fn is nil")
	}

	// Exports are typically one huge line; use a larger buffer than default.
	dec := json.NewDecoder(bufio.NewReaderSize(r, 1<<20))

	w := &walker{ctx: ctx, dec: dec, fn: fn, ids: make(threadIDs)}
	tok, err := dec.Token()
	if err != nil {
		return ParseStats{}, w.syntaxErr(err)
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return ParseStats{}, &ParseError{Offset: dec.InputOffset(), Err: fmt.Errorf("expected JSON array/object, got %T", tok)}
	}

	switch delim {
	case '[':
		if err := w.walkArray(); err != nil {
			return ParseStats{}, err
		}
	case '{':
		if err := w.walkObject(opts.ArrayField); err != nil {
			return ParseStats{}, err
		}
	default:
		return ParseStats{}, &ParseError{Offset: dec.InputOffset(), Err: fmt.Errorf("unsupported top-level delimiter %q", delim)}
	}

	// Anything after the top-level value means the document is not a single JSON value.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errors.New("unexpected data after top-level value")
		}
		return ParseStats{}, w.syntaxErr(err)
	}
	return w.stats, nil
}

type walker struct {
	ctx   context.Context
	dec   *json.Decoder
	fn    ThreadFunc
	stats ParseStats
	index int
	ids   threadIDs
}

func (w *walker) syntaxErr(err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return &ParseError{Offset: w.dec.InputOffset(), Err: err}
}

// walkArray consumes conversation elements up to and including the closing ']'.
func (w *walker) walkArray() error {
	for w.dec.More() {
		if err := w.ctx.Err(); err != nil {
			return err
		}
		var raw json.RawMessage
		if err := w.dec.Decode(&raw); err != nil {
			return w.syntaxErr(err)
		}
		if err := w.handle(raw); err != nil {
			return err
		}
	}
	tok, err := w.dec.Token()
	if err != nil {
		return w.syntaxErr(err)
	}
	if d, ok := tok.(json.Delim); !ok || d != ']' {
		return w.syntaxErr(fmt.Errorf("expected closing ']', got %v", tok))
	}
	return nil
}

// walkObject handles a top-level object: either a wrapper around the conversations array,
// or a single conversation exported on its own.
func (w *walker) walkObject(arrayField string) error {
	var (
		streamed bool
		order    []string
		fields   = make(map[string]json.RawMessage)
	)

	for w.dec.More() {
		if err := w.ctx.Err(); err != nil {
			return err
		}
		keyTok, err := w.dec.Token()
		if err != nil {
			return w.syntaxErr(err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return w.syntaxErr(fmt.Errorf("expected string key, got %T", keyTok))
		}

		target := !streamed && (key == arrayField || (arrayField == "" && key == "conversations"))
		if target {
			tok, err := w.dec.Token()
			if err != nil {
				return w.syntaxErr(err)
			}
			if d, ok := tok.(json.Delim); !ok || d != '[' {
				return w.syntaxErr(fmt.Errorf("field %q is not an array", key))
			}
			if err := w.walkArray(); err != nil {
				return err
			}
			streamed = true
			continue
		}

		var raw json.RawMessage
		if err := w.dec.Decode(&raw); err != nil {
			return w.syntaxErr(err)
		}
		order = append(order, key)
		fields[key] = raw
	}
	tok, err := w.dec.Token()
	if err != nil {
		return w.syntaxErr(err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '}' {
		return w.syntaxErr(fmt.Errorf("expected closing '}', got %v", tok))
	}
	if streamed {
		return nil
	}

	if _, ok := fields["mapping"]; ok {
		raw, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("StreamConversations: re-encode conversation: %w", err)
		}
		return w.handle(raw)
	}

	for _, key := range order {
		var elems []json.RawMessage
		if err := json.Unmarshal(fields[key], &elems); err != nil {
			continue
		}
		for _, raw := range elems {
			if err := w.ctx.Err(); err != nil {
				return err
			}
			if err := w.handle(raw); err != nil {
				return err
			}
		}
		return nil
	}
	return &ParseError{Offset: w.dec.InputOffset(), Err: errors.New("no conversations array found in top-level object")}
}

func (w *walker) handle(raw json.RawMessage) error {
	idx := w.index
	w.index++

	thread, stats := normalizeConversation(raw, idx)
	w.stats.add(stats)
	if len(thread.Messages) == 0 {
		return nil
	}
	thread.setID(w.ids.claim(thread.ThreadID))
	return w.fn(thread)
}

type rawConversation struct {
	ConversationID string                     `json:"conversation_id"`
	ID             string                     `json:"id"`
	Title          string                     `json:"title"`
	Mapping        map[string]json.RawMessage `json:"mapping"`
}

type rawMapNode struct {
	ID      string      `json:"id"`
	Message *rawMessage `json:"message"`
}

type rawMessage struct {
	ID         string          `json:"id"`
	Author     rawAuthor       `json:"author"`
	CreateTime *float64        `json:"create_time"`
	UpdateTime *float64        `json:"update_time"`
	Content    json.RawMessage `json:"content"`
}

type rawAuthor struct {
	Role string `json:"role"`
}

type candidate struct {
	nodeID string
	msg    NormalizedMessage
}

// normalizeConversation extracts every mapping node independently and sorts the survivors by time.
// The mapping is an unordered object, so neither key order nor parent/child links are trusted for ordering.
func normalizeConversation(raw json.RawMessage, index int) (ConversationThread, ParseStats) {
	stats := ParseStats{Conversations: 1}

	var conv rawConversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		stats.DroppedMalformed++
		return ConversationThread{}, stats
	}

	id := strings.TrimSpace(conv.ConversationID)
	if id == "" {
		id = strings.TrimSpace(conv.ID)
	}
	if id == "" {
		id = "thread-" + strconv.Itoa(index+1)
	}
	title := strings.TrimSpace(conv.Title)

	cands := make([]candidate, 0, len(conv.Mapping))
	for key, rawNode := range conv.Mapping {
		var node rawMapNode
		if err := json.Unmarshal(rawNode, &node); err != nil {
			stats.Nodes++
			stats.DroppedMalformed++
			continue
		}
		if node.Message == nil {
			// Structural root nodes carry no message.
			continue
		}
		stats.Nodes++

		m := node.Message
		role := Role(strings.ToLower(strings.TrimSpace(m.Author.Role)))
		if !role.Valid() {
			stats.DroppedRole++
			continue
		}
		ts, ok := messageTime(m)
		if !ok {
			stats.DroppedNoTime++
			continue
		}
		text := ExtractText(m.Content)
		if text == "" {
			stats.DroppedEmpty++
			continue
		}

		nodeID := node.ID
		if nodeID == "" {
			nodeID = key
		}
		cands = append(cands, candidate{
			nodeID: nodeID,
			msg: NormalizedMessage{
				ThreadID:    id,
				ThreadTitle: title,
				Role:        role,
				Content:     text,
				CreatedAt:   ts,
			},
		})
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].msg.CreatedAt != cands[j].msg.CreatedAt {
			return cands[i].msg.CreatedAt < cands[j].msg.CreatedAt
		}
		return cands[i].nodeID < cands[j].nodeID
	})

	msgs := make([]NormalizedMessage, 0, len(cands))
	for _, c := range cands {
		msgs = append(msgs, c.msg)
	}
	stats.Kept = len(msgs)
	return ConversationThread{ThreadID: id, Title: title, Messages: msgs}, stats
}

func messageTime(m *rawMessage) (float64, bool) {
	if m.CreateTime != nil && *m.CreateTime > 0 {
		return *m.CreateTime, true
	}
	if m.UpdateTime != nil && *m.UpdateTime > 0 {
		return *m.UpdateTime, true
	}
	return 0, false
}
