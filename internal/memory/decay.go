package memory

import (
	"math"
	"time"
)

// Weights scales the three retrieval signals in the composite score.
type Weights struct {
	Recency    float64 `json:"recency"`
	Importance float64 `json:"importance"`
	Relevance  float64 `json:"relevance"`
}

// DecayConfig controls how retrieval ranks candidates.
type DecayConfig struct {
	Factor  float64 // per-hour recency multiplier (default 0.995)
	Weights Weights // default 1/1/1
}

// DefaultDecayConfig returns the standard generative-agents settings.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		Factor:  0.995,
		Weights: Weights{Recency: 1, Importance: 1, Relevance: 1},
	}
}

func (c DecayConfig) withDefaults() DecayConfig {
	d := DefaultDecayConfig()
	if c.Factor <= 0 || c.Factor > 1 {
		c.Factor = d.Factor
	}
	if c.Weights == (Weights{}) {
		c.Weights = d.Weights
	}
	return c
}

// Recency is factor^hours since the last access. Access times in the
// future count as zero hours.
func Recency(factor float64, lastAccessed, now time.Time) float64 {
	hours := now.Sub(lastAccessed).Hours()
	if hours < 0 {
		hours = 0
	}
	return math.Pow(factor, hours)
}

// Relevance converts a cosine distance in [0, 2] into a similarity.
func Relevance(distance float64) float64 {
	return 1 - distance
}

// ImportanceSignal maps a 1-10 importance onto [0.1, 1].
func ImportanceSignal(importance int) float64 {
	return float64(importance) / 10
}
