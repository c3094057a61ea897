package archive

import (
	"encoding/json"
	"strings"
)

// ExtractText pulls the readable text out of a message content value.
//
// Supported shapes:
//   - { "content_type": "text", "parts": ["..."] }
//   - { "content_type": "multimodal_text", "parts": ["...", {"text": "..."}, {"asset_pointer": "..."}] }
//   - { "content_type": "tether_quote", "text": "..." }
//
// String parts and nested "text" fields are joined with newlines; anything else is dropped.
func ExtractText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var shape struct {
		Parts []json.RawMessage `json:"parts"`
		Text  *string           `json:"text"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil {
		// Some exports inline the content as a bare string.
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return strings.TrimSpace(s)
		}
		return ""
	}

	var parts []string
	for _, p := range shape.Parts {
		parts = collectText(p, parts, 0)
	}
	if len(parts) > 0 {
		return strings.TrimSpace(strings.Join(parts, "\n"))
	}
	if shape.Text != nil {
		return strings.TrimSpace(*shape.Text)
	}
	return ""
}

const maxContentDepth = 8

func collectText(raw json.RawMessage, out []string, depth int) []string {
	if depth > maxContentDepth || len(raw) == 0 {
		return out
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err == nil {
			for _, e := range elems {
				out = collectText(e, out, depth+1)
			}
		}
	case '{':
		var obj struct {
			Text  json.RawMessage   `json:"text"`
			Parts []json.RawMessage `json:"parts"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return out
		}
		if len(obj.Text) > 0 {
			out = collectText(obj.Text, out, depth+1)
		}
		for _, p := range obj.Parts {
			out = collectText(p, out, depth+1)
		}
	}
	return out
}
