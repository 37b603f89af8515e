package vectorstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kji7666/AI-agent-MVP/internal/embedding"
	"github.com/kji7666/AI-agent-MVP/internal/memory"
)

func newTestChromem(t *testing.T) memory.Store {
	t.Helper()
	db, err := NewChromem("", embedding.NewHashProvider(128), zap.NewNop())
	if err != nil {
		t.Fatalf("new chromem: %v", err)
	}
	s, err := db.Open(context.Background(), "Klaus Mueller")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func testRecord(id, content string, at time.Time) memory.Record {
	return memory.Record{
		ID: id, Content: content, CreatedAt: at, LastAccessedAt: at,
		Importance: 5, Kind: memory.KindObservation,
	}
}

func TestChromemStore_QuerySimilar(t *testing.T) {
	s := newTestChromem(t)
	ctx := context.Background()
	at := time.Date(2024, 2, 13, 8, 0, 0, 0, time.UTC)

	if cands, err := s.QuerySimilar(ctx, "anything", 10); err != nil || len(cands) != 0 {
		t.Fatalf("empty store query = %v, %v", cands, err)
	}

	s.Add(ctx, testRecord("1", "Klaus is eating breakfast in the kitchen", at))
	s.Add(ctx, testRecord("2", "Maria is studying physics at the library", at))
	s.Add(ctx, testRecord("3", "The cafe opens at seven", at))

	cands, err := s.QuerySimilar(ctx, "what did Klaus eat for breakfast", 100)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(cands) != 3 {
		t.Fatalf("got %d candidates, want all 3 (k clamped to count)", len(cands))
	}
	if cands[0].Record.ID != "1" {
		t.Errorf("closest = %s, want 1", cands[0].Record.ID)
	}
	for _, c := range cands {
		if c.Distance < 0 || c.Distance > 2 {
			t.Errorf("distance %f out of [0,2]", c.Distance)
		}
	}
	if !cands[0].Record.CreatedAt.Equal(at) || cands[0].Record.Importance != 5 {
		t.Errorf("record not restored: %+v", cands[0].Record)
	}
}

func TestChromemStore_UpdateAccessed(t *testing.T) {
	s := newTestChromem(t)
	ctx := context.Background()
	at := time.Date(2024, 2, 13, 8, 0, 0, 0, time.UTC)
	s.Add(ctx, testRecord("a", "walked to the park", at))
	s.Add(ctx, testRecord("b", "read a book", at))

	later := at.Add(3 * time.Hour)
	err := s.UpdateAccessed(ctx, map[string]time.Time{
		"a": later,
		"b": at.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	recs, err := s.GetByIDs(ctx, []string{"a", "b", "missing"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	for _, r := range recs {
		switch r.ID {
		case "a":
			if !r.LastAccessedAt.Equal(later) {
				t.Errorf("a accessed at %v, want %v", r.LastAccessedAt, later)
			}
		case "b":
			if !r.LastAccessedAt.Equal(at) {
				t.Errorf("b moved backwards to %v", r.LastAccessedAt)
			}
		}
	}

	// Touching must not change what the record matches.
	cands, _ := s.QuerySimilar(ctx, "walked to the park", 1)
	if len(cands) != 1 || cands[0].Record.ID != "a" {
		t.Errorf("query after touch = %+v", cands)
	}
}

func TestChromemStore_WithRetriever(t *testing.T) {
	s := newTestChromem(t)
	cfg := memory.DefaultRetrieverConfig()
	cfg.FlushInterval = time.Hour
	r := memory.NewRetriever(s, nil, cfg, zap.NewNop())
	defer r.Close()
	ctx := context.Background()

	for _, c := range []string{"You are in the bedroom.", "There is a bed here.", "Isabella is planning a party"} {
		if _, err := r.Insert(ctx, c, memory.KindObservation); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	got, err := r.Query(ctx, "Valentine's day party", memory.QueryOptions{K: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if n, _ := s.Count(ctx); n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
}

func TestCollectionName(t *testing.T) {
	tests := map[string]string{
		"klaus":         "memories_klaus_",
		"Klaus Mueller": "memories_klaus_mueller_",
		"角色-1":          "memories____1_",
	}
	for in, prefix := range tests {
		got := CollectionName(in)
		if !strings.HasPrefix(got, prefix) || len(got) != len(prefix)+8 {
			t.Errorf("CollectionName(%q) = %q, want %q plus 8 hex chars", in, got, prefix)
		}
		if again := CollectionName(in); again != got {
			t.Errorf("CollectionName(%q) not stable: %q then %q", in, got, again)
		}
	}

	seen := map[string]string{}
	for _, id := range []string{"bob-1", "bob_1", "Bob 1", "BOB_1"} {
		name := CollectionName(id)
		if prev, ok := seen[name]; ok {
			t.Errorf("%q and %q share collection %q", prev, id, name)
		}
		seen[name] = id
	}
}

func TestChromemSeparatesLookalikeAgents(t *testing.T) {
	ctx := context.Background()
	db, err := NewChromem("", embedding.NewHashProvider(128), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	dash, err := db.Open(ctx, "bob-1")
	if err != nil {
		t.Fatal(err)
	}
	under, err := db.Open(ctx, "bob_1")
	if err != nil {
		t.Fatal(err)
	}
	at := time.Date(2024, 2, 13, 8, 0, 0, 0, time.UTC)
	if err := dash.Add(ctx, testRecord("1", "Bob is painting the fence", at)); err != nil {
		t.Fatal(err)
	}
	if n, _ := under.Count(ctx); n != 0 {
		t.Errorf("bob_1 sees %d memories of bob-1", n)
	}
}
