// Package migrate brings stored profiles of any historical shape to the current schema.
// Formats are recognized by structure, not by a stored version tag.
package migrate

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/theimaginaryfoundation/soulprint/soulprint"
)

// Format is the structural fingerprint of a stored profile.
type Format string

const (
	FormatLegacyTraits  Format = "legacy_traits"
	FormatDoubleEncoded Format = "double_encoded"
	FormatCurrent       Format = "current"
	FormatPartial       Format = "partial"
	FormatUnrecognized  Format = "unrecognized"
)

// Formats lists every format in summary order.
func Formats() []Format {
	return []Format{FormatCurrent, FormatLegacyTraits, FormatDoubleEncoded, FormatPartial, FormatUnrecognized}
}

// promptFields are the keys historical rows used for the rendered prompt.
var promptFields = []string{"prompt_full", "system_prompt", "prompt"}

// profileFields are keys that mark an object as some version of a profile.
var profileFields = []string{
	"pillars", "voice_vectors", "archetype", "identity_signature", "name", "flinch_warnings",
	"prompt_full", "prompt_core", "prompt_pillars", "system_prompt", "prompt", "soulprint_version",
}

// DetectFormat fingerprints a stored profile document.
func DetectFormat(raw []byte) Format {
	obj, ok := decodeObject(raw)
	if !ok {
		return FormatUnrecognized
	}

	if hasNumericTraits(obj["traits"]) {
		return FormatLegacyTraits
	}
	if _, ok := obj["pillars"]; ok {
		for _, k := range promptFields {
			if _, embedded := embeddedJSON(obj[k]); embedded {
				return FormatDoubleEncoded
			}
		}
	}
	if isCurrent(raw, obj) {
		return FormatCurrent
	}
	for _, k := range profileFields {
		if v, ok := obj[k]; ok && !isNull(v) {
			return FormatPartial
		}
	}
	return FormatUnrecognized
}

// isCurrent requires the stored prompts to match a fresh rendering of the structured fields, not
// just to be prose. A row in the current shape whose prompts came from an older template is
// detected as partial and gets its prompts regenerated; see StalePrompt.
func isCurrent(raw []byte, obj map[string]json.RawMessage) bool {
	sp, ok := currentShape(raw, obj)
	return ok && soulprint.PromptsCurrent(sp)
}

// StalePrompt reports a row that has the current shape but whose prompts no longer match the
// template rendering of its own fields.
func StalePrompt(raw []byte) bool {
	obj, ok := decodeObject(raw)
	if !ok {
		return false
	}
	sp, ok := currentShape(raw, obj)
	return ok && !soulprint.PromptsCurrent(sp)
}

// currentShape checks all six pillars, complete voice vectors and a prose prompt_full.
func currentShape(raw []byte, obj map[string]json.RawMessage) (soulprint.SoulPrint, bool) {
	var pillars map[string]json.RawMessage
	if err := json.Unmarshal(obj["pillars"], &pillars); err != nil || len(pillars) != len(soulprint.PillarKeys()) {
		return soulprint.SoulPrint{}, false
	}
	for _, k := range soulprint.PillarKeys() {
		p, ok := pillars[string(k)]
		if !ok {
			return soulprint.SoulPrint{}, false
		}
		var pillar map[string]json.RawMessage
		if err := json.Unmarshal(p, &pillar); err != nil {
			return soulprint.SoulPrint{}, false
		}
	}

	var prompt string
	if err := json.Unmarshal(obj["prompt_full"], &prompt); err != nil || strings.TrimSpace(prompt) == "" {
		return soulprint.SoulPrint{}, false
	}
	if _, embedded := embeddedJSON(obj["prompt_full"]); embedded {
		return soulprint.SoulPrint{}, false
	}

	sp, err := soulprint.Decode(raw)
	if err != nil {
		return soulprint.SoulPrint{}, false
	}
	return sp, sp.VoiceVectors.Complete()
}

func decodeObject(raw []byte) (map[string]json.RawMessage, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// embeddedJSON reports whether v is a JSON string whose content is itself a JSON object or array.
func embeddedJSON(v json.RawMessage) (json.RawMessage, bool) {
	if len(v) == 0 {
		return nil, false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return nil, false
	}
	s = strings.TrimSpace(s)
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return nil, false
	}
	if !json.Valid([]byte(s)) {
		return nil, false
	}
	return json.RawMessage(s), true
}

func hasNumericTraits(v json.RawMessage) bool {
	var traits map[string]json.RawMessage
	if err := json.Unmarshal(v, &traits); err != nil {
		return false
	}
	for _, t := range traits {
		if _, ok := traitNumber(t); ok {
			return true
		}
	}
	return false
}

// traitNumber accepts a JSON number or a numeric string.
func traitNumber(v json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func isNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
