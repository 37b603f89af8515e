package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON returns the first balanced JSON object or array in a model reply.
// Markdown code fences and surrounding prose are ignored.
func ExtractJSON(reply string) (string, bool) {
	s := strings.TrimSpace(reply)
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
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
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// DecodeJSON extracts the JSON payload from reply and unmarshals it into v.
func DecodeJSON(reply string, v any) error {
	raw, ok := ExtractJSON(reply)
	if !ok {
		return fmt.Errorf("no JSON found in reply %q", truncate(reply, 120))
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
