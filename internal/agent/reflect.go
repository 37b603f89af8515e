package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kji7666/AI-agent-MVP/internal/memory"
	"github.com/kji7666/AI-agent-MVP/internal/provider"
)

const (
	reflectK           = 20
	reflectFetchK      = 40
	reflectInsights    = 3
	reflectTemperature = 0.5
	minInsightRunes    = 6
)

// Reflector turns recent memories into higher-level insights.
type Reflector struct {
	gen    provider.Generator
	mem    Memory
	logger *zap.Logger
}

// NewReflector creates a Reflector writing Reflection memories into mem.
func NewReflector(gen provider.Generator, mem Memory, logger *zap.Logger) *Reflector {
	return &Reflector{gen: gen, mem: mem, logger: logger}
}

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)

// Reflect stores up to three insights about name drawn from recent memories
// and returns them. Each insight cites its source memories in the
// "evidence" metadata field.
func (r *Reflector) Reflect(ctx context.Context, name string, now time.Time) ([]memory.Record, error) {
	recent, err := r.mem.Query(ctx, fmt.Sprintf("What has happened to %s recently?", name),
		memory.QueryOptions{K: reflectK, FetchK: reflectFetchK, Now: now})
	if err != nil {
		return nil, fmt.Errorf("reflection lookup: %w", err)
	}
	if len(recent) == 0 {
		return nil, nil
	}

	prompt := fmt.Sprintf(`%s
Given only the statements above, what are the %d most important high-level insights
we can infer about %s? Write %d different sentences, one per line, without numbering.`,
		memory.FormatForPrompt(recent), reflectInsights, name, reflectInsights)

	reply, err := r.gen.Generate(ctx, []provider.Message{provider.User(prompt)}, reflectTemperature)
	if err != nil {
		return nil, fmt.Errorf("reflect: %w", err)
	}

	ids := make([]string, len(recent))
	for i, rec := range recent {
		ids[i] = rec.ID
	}
	evidence := map[string]string{"evidence": strings.Join(ids, ",")}

	var out []memory.Record
	for _, line := range strings.Split(reply, "\n") {
		insight := strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if utf8.RuneCountInString(insight) < minInsightRunes {
			continue
		}
		rec, err := r.mem.Insert(ctx, insight, memory.KindReflection, memory.At(now), memory.WithMetadata(evidence))
		if err != nil {
			return out, fmt.Errorf("store insight: %w", err)
		}
		r.logger.Info("insight recorded", zap.String("agent", name), zap.String("insight", insight))
		out = append(out, rec)
		if len(out) == reflectInsights {
			break
		}
	}
	return out, nil
}
