package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/kji7666/AI-agent-MVP/internal/provider"
	"go.uber.org/zap"
)

type scriptedGen struct {
	reply string
	err   error
	calls int
}

func (g *scriptedGen) Generate(context.Context, []provider.Message, float64) (string, error) {
	g.calls++
	return g.reply, g.err
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		reply   string
		want    int
		wantErr bool
	}{
		{`{"score": 7}`, 7, false},
		{"```json\n{\"score\": 3}\n```", 3, false},
		{`{"score": "8"}`, 8, false},
		{`{"score": 42}`, 10, false},
		{`{"score": 0}`, 1, false},
		{`I'd say 6 out of 10`, 6, false},
		{`On a scale of 1 to 10, I would rate this a 9.`, 9, false},
		{`Score: 4/10`, 4, false},
		{`Rating 1-10: this is mundane, 2.`, 2, false},
		{`I have 3 thoughts; overall a 7.`, 7, false},
		{`Somewhere around 250 dollars`, 0, true},
		{`not sure`, 0, true},
	}
	for _, tt := range tests {
		got, err := parseScore(tt.reply)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseScore(%q) err = %v", tt.reply, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseScore(%q) = %d, want %d", tt.reply, got, tt.want)
		}
	}
}

func TestScorerUsesCache(t *testing.T) {
	gen := &scriptedGen{reply: `{"score": 9}`}
	cache, err := NewRistrettoCache(100)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	defer cache.Close()
	s := NewScorer(gen, cache, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := s.Score(ctx, "Klaus won the research award")
		if err != nil {
			t.Fatalf("score: %v", err)
		}
		if got != 9 {
			t.Errorf("got %d, want 9", got)
		}
		cache.Wait()
	}
	if gen.calls != 1 {
		t.Errorf("model called %d times, want 1", gen.calls)
	}
}

func TestScorerError(t *testing.T) {
	s := NewScorer(&scriptedGen{err: errors.New("timeout")}, nil, zap.NewNop())
	if _, err := s.Score(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestCacheKeyStable(t *testing.T) {
	if CacheKey("a") != CacheKey("a") || CacheKey("a") == CacheKey("b") {
		t.Error("cache keys must be stable and distinct")
	}
}
