package memory

import (
	"sort"
	"time"
)

// scored pairs a candidate with its composite retrieval score.
type scored struct {
	record Record
	score  float64
}

// Rank orders candidates by the weighted sum of min-max normalized recency,
// importance and relevance, and returns the top k records. Ties keep the
// store's order.
func Rank(cands []Candidate, now time.Time, cfg DecayConfig, k int) []Record {
	if len(cands) == 0 || k <= 0 {
		return nil
	}
	cfg = cfg.withDefaults()

	recency := make([]float64, len(cands))
	importance := make([]float64, len(cands))
	relevance := make([]float64, len(cands))
	for i, c := range cands {
		recency[i] = Recency(cfg.Factor, c.Record.LastAccessedAt, now)
		importance[i] = ImportanceSignal(c.Record.Importance)
		relevance[i] = Relevance(c.Distance)
	}
	normalize(recency)
	normalize(importance)
	normalize(relevance)

	results := make([]scored, len(cands))
	w := cfg.Weights
	for i, c := range cands {
		results[i] = scored{
			record: c.Record,
			score:  w.Recency*recency[i] + w.Importance*importance[i] + w.Relevance*relevance[i],
		}
	}
	sortScored(results)

	if k > len(results) {
		k = len(results)
	}
	out := make([]Record, k)
	for i := range out {
		out[i] = results[i].record
	}
	return out
}

// normalize min-max scales xs into [0, 1] in place. A constant vector is
// left unscaled.
func normalize(xs []float64) {
	if len(xs) == 0 {
		return
	}
	lo, hi := xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	if hi == lo {
		return
	}
	span := hi - lo
	for i := range xs {
		xs[i] = (xs[i] - lo) / span
	}
}

// sortScored sorts by score descending, stable.
func sortScored(results []scored) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
}
