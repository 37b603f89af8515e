package memory

import (
	"math"
	"testing"
	"time"
)

func TestRecency(t *testing.T) {
	now := time.Date(2024, 2, 13, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		last time.Time
		want float64
	}{
		{"just accessed", now, 1},
		{"one hour", now.Add(-time.Hour), 0.995},
		{"future clamps to zero hours", now.Add(time.Hour), 1},
		{"one day", now.Add(-24 * time.Hour), math.Pow(0.995, 24)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Recency(0.995, tt.last, now); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("got %f, want %f", got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	xs := []float64{2, 4, 6}
	normalize(xs)
	want := []float64{0, 0.5, 1}
	for i := range xs {
		if math.Abs(xs[i]-want[i]) > 1e-9 {
			t.Errorf("xs[%d] = %f, want %f", i, xs[i], want[i])
		}
	}

	constant := []float64{0.3, 0.3}
	normalize(constant)
	if constant[0] != 0.3 || constant[1] != 0.3 {
		t.Errorf("constant vector should be left unscaled, got %v", constant)
	}
}

func rec(id string, importance int, last time.Time) Record {
	return Record{ID: id, Content: id, Importance: importance, CreatedAt: last, LastAccessedAt: last}
}

func TestRank_EachSignalIsMonotonic(t *testing.T) {
	now := time.Date(2024, 2, 13, 12, 0, 0, 0, time.UTC)
	cfg := DefaultDecayConfig()

	t.Run("importance", func(t *testing.T) {
		got := Rank([]Candidate{
			{Record: rec("low", 2, now), Distance: 0.4},
			{Record: rec("high", 8, now), Distance: 0.4},
		}, now, cfg, 2)
		if got[0].ID != "high" {
			t.Errorf("got %s first, want high", got[0].ID)
		}
	})
	t.Run("relevance", func(t *testing.T) {
		got := Rank([]Candidate{
			{Record: rec("far", 5, now), Distance: 0.9},
			{Record: rec("near", 5, now), Distance: 0.1},
		}, now, cfg, 2)
		if got[0].ID != "near" {
			t.Errorf("got %s first, want near", got[0].ID)
		}
	})
	t.Run("recency", func(t *testing.T) {
		got := Rank([]Candidate{
			{Record: rec("old", 5, now.Add(-48*time.Hour)), Distance: 0.4},
			{Record: rec("fresh", 5, now.Add(-time.Hour)), Distance: 0.4},
		}, now, cfg, 2)
		if got[0].ID != "fresh" {
			t.Errorf("got %s first, want fresh", got[0].ID)
		}
	})
}

func TestRank_StableOnTies(t *testing.T) {
	now := time.Now()
	cands := []Candidate{
		{Record: rec("first", 5, now), Distance: 0.5},
		{Record: rec("second", 5, now), Distance: 0.5},
		{Record: rec("third", 5, now), Distance: 0.5},
	}
	got := Rank(cands, now, DefaultDecayConfig(), 3)
	for i, id := range []string{"first", "second", "third"} {
		if got[i].ID != id {
			t.Errorf("position %d = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestRank_TopK(t *testing.T) {
	now := time.Now()
	var cands []Candidate
	for i := 1; i <= 10; i++ {
		cands = append(cands, Candidate{Record: rec(string(rune('a'+i)), i, now), Distance: 0.5})
	}
	if got := Rank(cands, now, DefaultDecayConfig(), 3); len(got) != 3 {
		t.Errorf("got %d, want 3", len(got))
	}
	if got := Rank(cands, now, DefaultDecayConfig(), 50); len(got) != 10 {
		t.Errorf("got %d, want all 10", len(got))
	}
	if got := Rank(nil, now, DefaultDecayConfig(), 5); got != nil {
		t.Errorf("got %v for no candidates", got)
	}
}

func TestRank_Weights(t *testing.T) {
	now := time.Now()
	cfg := DefaultDecayConfig()
	cfg.Weights = Weights{Recency: 0, Importance: 0, Relevance: 1}
	got := Rank([]Candidate{
		{Record: rec("important", 10, now), Distance: 0.9},
		{Record: rec("relevant", 1, now), Distance: 0.1},
	}, now, cfg, 1)
	if got[0].ID != "relevant" {
		t.Errorf("relevance-only weights picked %s", got[0].ID)
	}
}
