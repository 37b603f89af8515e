package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/kji7666/AI-agent-MVP/internal/provider"
	"go.uber.org/zap"
)

// Importance rates how poignant a memory is, from 1 to 10.
type Importance interface {
	Score(ctx context.Context, content string) (int, error)
}

const importancePrompt = `Rate the importance of the memory below on a scale of 1 to 10,
where 1 is purely mundane (brushing teeth, making the bed) and 10 is extremely
poignant (a break up, a college acceptance).

Memory: %s

Respond with JSON only: {"score": <integer 1-10>}`

// Scorer asks the fast model for an importance score. Scores are cached by
// content when a ScoreCache is configured.
type Scorer struct {
	gen    provider.Generator
	cache  ScoreCache
	logger *zap.Logger
}

// NewScorer creates a Scorer. cache may be nil.
func NewScorer(gen provider.Generator, cache ScoreCache, logger *zap.Logger) *Scorer {
	return &Scorer{gen: gen, cache: cache, logger: logger}
}

// Score returns the clamped 1-10 importance of content.
func (s *Scorer) Score(ctx context.Context, content string) (int, error) {
	key := CacheKey(content)
	if s.cache != nil {
		if v, ok := s.cache.Get(ctx, key); ok {
			return v, nil
		}
	}

	reply, err := s.gen.Generate(ctx, []provider.Message{
		provider.User(fmt.Sprintf(importancePrompt, content)),
	}, 0)
	if err != nil {
		return 0, fmt.Errorf("score importance: %w", err)
	}
	score, err := parseScore(reply)
	if err != nil {
		return 0, err
	}

	if s.cache != nil {
		s.cache.Set(ctx, key, score)
	}
	s.logger.Debug("scored memory", zap.Int("score", score), zap.Int("len", len(content)))
	return score, nil
}

var (
	firstInt = regexp.MustCompile(`-?\d+`)
	anyInt   = regexp.MustCompile(`\d+`)

	// "1 to 10", "1-10", "out of 10", "/10" describe the scale, not the score.
	scalePhrase = regexp.MustCompile(`(?i)\b1\s*(?:to|-)\s*10\b|\s*(?:out of|/)\s*10\b`)
	keywordInt  = regexp.MustCompile(`(?i)\b(?:score|rate|rated|rating|importance|poignancy)\b\D{0,30}?(\d+)`)
)

// parseScore reads {"score": n}. Prose replies are read by the number after
// a rating keyword, else the last integer within 1-10. The result is clamped
// to 1-10.
func parseScore(reply string) (int, error) {
	var v struct {
		Score json.RawMessage `json:"score"`
	}
	if err := provider.DecodeJSON(reply, &v); err == nil && len(v.Score) > 0 {
		if m := firstInt.FindString(string(v.Score)); m != "" {
			n, _ := strconv.Atoi(m)
			return clampScore(n), nil
		}
	}

	prose := scalePhrase.ReplaceAllString(reply, " ")
	if m := keywordInt.FindStringSubmatch(prose); m != nil {
		n, _ := strconv.Atoi(m[1])
		return clampScore(n), nil
	}
	ints := anyInt.FindAllString(prose, -1)
	for i := len(ints) - 1; i >= 0; i-- {
		if n, err := strconv.Atoi(ints[i]); err == nil && n >= 1 && n <= 10 {
			return n, nil
		}
	}
	return 0, fmt.Errorf("score importance: no score in reply %q", reply)
}

func clampScore(n int) int {
	if n < 1 {
		return 1
	}
	if n > 10 {
		return 10
	}
	return n
}
