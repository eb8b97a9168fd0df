package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSONFound is returned when no parsing strategy could recover a JSON
// object from a model response. It is distinct from transient provider errors
// on purpose: an unparseable response means the prompt/response contract is
// broken, and retrying will not fix it.
var ErrNoJSONFound = errors.New("no JSON object found in model response")

// ParseStrategy attempts to recover a JSON object from raw model output.
type ParseStrategy func(raw string) (json.RawMessage, bool)

// parseStrategies are tried in order; the first success wins.
var parseStrategies = []ParseStrategy{
	StrictParse,
	FencedBlockParse,
	BraceSliceParse,
}

// ParseJSONObject recovers a JSON object from model output that may be wrapped
// in markdown fences or conversational padding. Returns ErrNoJSONFound when
// every strategy fails.
func ParseJSONObject(raw string) (json.RawMessage, error) {
	for _, strategy := range parseStrategies {
		if value, ok := strategy(raw); ok {
			return value, nil
		}
	}
	return nil, ErrNoJSONFound
}

// StrictParse parses the whole trimmed response as JSON.
func StrictParse(raw string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, false
	}
	if !json.Valid([]byte(trimmed)) {
		return nil, false
	}
	return json.RawMessage(trimmed), true
}

// FencedBlockParse parses the interior of the first ``` fenced code block,
// skipping an optional language identifier on the opening line.
func FencedBlockParse(raw string) (json.RawMessage, bool) {
	start := strings.Index(raw, "```")
	if start < 0 {
		return nil, false
	}
	rest := raw[start+3:]

	// Drop the language identifier, if any, up to the first newline.
	if nl := strings.Index(rest, "\n"); nl >= 0 {
		firstLine := strings.TrimSpace(rest[:nl])
		if firstLine == "" || (!strings.ContainsAny(firstLine, "{[ ") && len(firstLine) < 20) {
			rest = rest[nl+1:]
		}
	}

	end := strings.Index(rest, "```")
	if end < 0 {
		return nil, false
	}
	return StrictParse(rest[:end])
}

// BraceSliceParse falls back to the substring between the first '{' and the
// last '}'.
func BraceSliceParse(raw string) (json.RawMessage, bool) {
	first := strings.Index(raw, "{")
	last := strings.LastIndex(raw, "}")
	if first < 0 || last <= first {
		return nil, false
	}
	return StrictParse(raw[first : last+1])
}
