// Package jsonutil extracts and parses JSON from model responses that may be
// wrapped in markdown code fences or surrounded by prose.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StripMarkdownFences removes ```json ... ``` or ``` ... ``` wrapping from text.
// Returns the content between the fences, or the trimmed text if no fences are found.
func StripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "```")
	if start == -1 {
		return text
	}

	body := text[start+3:]
	// Drop the language tag on the opening fence line.
	if nl := strings.IndexByte(body, '\n'); nl != -1 {
		body = body[nl+1:]
	} else {
		return text
	}

	if end := strings.LastIndex(body, "```"); end != -1 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// FirstObject returns the first balanced JSON object in text. Braces inside
// string literals are ignored.
func FirstObject(text string) (string, error) {
	return firstBalanced(text, '{', '}')
}

// ExtractJSON returns the first balanced JSON object or array in text,
// whichever starts earlier.
func ExtractJSON(text string) (string, error) {
	objIdx := strings.IndexByte(text, '{')
	arrIdx := strings.IndexByte(text, '[')

	switch {
	case objIdx == -1 && arrIdx == -1:
		return "", fmt.Errorf("no JSON content found")
	case arrIdx == -1 || (objIdx != -1 && objIdx < arrIdx):
		return firstBalanced(text, '{', '}')
	default:
		return firstBalanced(text, '[', ']')
	}
}

func firstBalanced(text string, open, close byte) (string, error) {
	start := strings.IndexByte(text, open)
	if start == -1 {
		return "", fmt.Errorf("no %q found", open)
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("no closing %q found", close)
}

// ParseJSON strips markdown fences from raw model text, extracts the first
// JSON object or array and unmarshals it into T.
func ParseJSON[T any](raw string) (T, error) {
	var zero T
	jsonStr, err := ExtractJSON(StripMarkdownFences(raw))
	if err != nil {
		return zero, fmt.Errorf("%w (raw length: %d)", err, len(raw))
	}

	var result T
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return zero, fmt.Errorf("invalid JSON: %w (text: %s)", err, Preview(jsonStr, 200))
	}
	return result, nil
}

// ParseObject is like ParseJSON but decodes the first object into a generic map.
func ParseObject(raw string) (map[string]any, error) {
	obj, err := FirstObject(StripMarkdownFences(raw))
	if err != nil {
		return nil, fmt.Errorf("%w (raw length: %d)", err, len(raw))
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(obj), &m); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w (text: %s)", err, Preview(obj, 200))
	}
	return m, nil
}

// Preview truncates s to n bytes for log and error messages.
func Preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
