package agent

import (
	"os"
	"path/filepath"
	"strings"
)

// LoadProfile reads backstory files for the given agent from
// <dir>/<agentID>/ (PROFILE.md, then GOALS.md) and returns their
// concatenated content. Missing files are skipped.
func LoadProfile(dir, agentID string) string {
	base := filepath.Join(dir, agentID)
	var parts []string
	for _, f := range []string{"PROFILE.md", "GOALS.md"} {
		data, err := os.ReadFile(filepath.Join(base, f))
		if err != nil {
			continue
		}
		if s := strings.TrimSpace(string(data)); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}
