//go:build integration

package memory

import (
	"context"
	"testing"
	"time"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })
	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatal(err)
	}

	c, err := NewRedisCache(url, time.Minute, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	key := CacheKey("Klaus is reading a book on urban sociology")
	if _, ok := c.Get(ctx, key); ok {
		t.Fatal("unexpected hit on empty cache")
	}
	c.Set(ctx, key, 6)
	if n, ok := c.Get(ctx, key); !ok || n != 6 {
		t.Errorf("get = %d, %v", n, ok)
	}

	// A second client sees the same score.
	other, err := NewRedisCache(url, time.Minute, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()
	gen := &scriptedGen{reply: `{"score": 9}`}
	s := NewScorer(gen, other, zap.NewNop())
	if n, err := s.Score(ctx, "Klaus is reading a book on urban sociology"); err != nil || n != 6 {
		t.Errorf("score = %d, %v; want cached 6", n, err)
	}
	if gen.calls != 0 {
		t.Errorf("model called %d times despite a shared cache hit", gen.calls)
	}
}
