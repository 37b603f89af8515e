package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/kji7666/AI-agent-MVP/internal/embedding"
	"github.com/kji7666/AI-agent-MVP/internal/memory"
)

// Backend hands out one memory store per agent.
type Backend interface {
	Open(ctx context.Context, agentID string) (memory.Store, error)
	Close() error
}

// CollectionName derives a store-safe collection name from an agent id. A
// short hash of the raw id keeps ids that sanitize alike apart.
func CollectionName(agentID string) string {
	var b strings.Builder
	b.WriteString("memories_")
	for _, r := range strings.ToLower(agentID) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	sum := sha256.Sum256([]byte(agentID))
	b.WriteByte('_')
	b.WriteString(hex.EncodeToString(sum[:4]))
	return b.String()
}

// similarityToDistance converts a cosine similarity into a distance in [0, 2].
func similarityToDistance(sim float64) float64 {
	return clampDistance(1 - sim)
}

// dimension returns the embedder's vector size, probing it once if unknown.
func dimension(ctx context.Context, p embedding.Provider) (int, error) {
	if d := p.Dimension(); d > 0 {
		return d, nil
	}
	vec, err := embedding.EmbedOne(ctx, p, "dimension probe")
	if err != nil {
		return 0, err
	}
	return len(vec), nil
}
