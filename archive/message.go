package archive

import (
	"errors"
	"fmt"
)

// Role is the author role of a normalized message. Only user, assistant and system survive parsing.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the three roles kept by the parser.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// NormalizedMessage is one message of an imported export, flattened out of its conversation tree.
// Content is never empty and CreatedAt is always set (unix seconds).
type NormalizedMessage struct {
	ThreadID    string  `json:"thread_id"`
	ThreadTitle string  `json:"thread_title,omitempty"`
	Role        Role    `json:"role"`
	Content     string  `json:"content"`
	CreatedAt   float64 `json:"created_at"`
}

// ErrMalformedArchive marks a terminal parse failure of the top-level export JSON.
var ErrMalformedArchive = errors.New("malformed archive")

// ParseError is returned when the export cannot be read as JSON at all. No partial result accompanies it.
type ParseError struct {
	Offset int64
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed archive at byte %d: %v", e.Offset, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrMalformedArchive, e.Err}
}

// ParseStats counts what the parser kept and what it silently dropped.
type ParseStats struct {
	Conversations    int `json:"conversations"`
	Nodes            int `json:"nodes"`
	Kept             int `json:"kept"`
	DroppedRole      int `json:"dropped_role"`
	DroppedEmpty     int `json:"dropped_empty"`
	DroppedNoTime    int `json:"dropped_no_time"`
	DroppedMalformed int `json:"dropped_malformed"`
}

// Dropped is the total number of rows that did not make it into the output.
func (s ParseStats) Dropped() int {
	return s.DroppedRole + s.DroppedEmpty + s.DroppedNoTime + s.DroppedMalformed
}

func (s *ParseStats) add(o ParseStats) {
	s.Conversations += o.Conversations
	s.Nodes += o.Nodes
	s.Kept += o.Kept
	s.DroppedRole += o.DroppedRole
	s.DroppedEmpty += o.DroppedEmpty
	s.DroppedNoTime += o.DroppedNoTime
	s.DroppedMalformed += o.DroppedMalformed
}
