package memory

import (
	"fmt"
	"strings"
)

// FormatForPrompt renders records as a bullet list for prompt injection.
// An empty slice renders as the empty string.
func FormatForPrompt(records []Record) string {
	if len(records) == 0 {
		return ""
	}
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "- %s\n", r.Content)
	}
	return b.String()
}

// FormatWithTimes is FormatForPrompt with the creation time prefixed,
// used where the model has to reason about ordering.
func FormatWithTimes(records []Record) string {
	if len(records) == 0 {
		return ""
	}
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "- [%s] %s\n", r.CreatedAt.Format("2006-01-02 15:04"), r.Content)
	}
	return b.String()
}
