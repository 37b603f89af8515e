package agent

import (
	"sort"
	"strings"
)

// Surroundings is the controller's optional view of the world beyond the
// observation strings.
type Surroundings interface {
	// MapDescription lists locations and objects with their ids.
	MapDescription() string
	IsLocation(id string) bool
	IsObject(id string) bool
	// LocationAliases maps lowercase names and ids to location ids.
	LocationAliases() map[string]string
}

// ExtractTarget is a heuristic that finds the location an action text refers
// to. The longest alias contained in the lowercased action wins; ties go to
// the alphabetically first alias. It returns "" when nothing matches.
func ExtractTarget(action string, aliases map[string]string) string {
	text := strings.ToLower(action)
	keys := make([]string, 0, len(aliases))
	for k := range aliases {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		if k != "" && strings.Contains(text, strings.ToLower(k)) {
			return aliases[k]
		}
	}
	return ""
}
