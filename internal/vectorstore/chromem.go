package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/kji7666/AI-agent-MVP/internal/embedding"
	"github.com/kji7666/AI-agent-MVP/internal/memory"
)

// Chromem is an embedded vector database backend.
// chromem-go keeps collections in memory and optionally persists them to a directory.
type Chromem struct {
	db       *chromem.DB
	embedder embedding.Provider
	logger   *zap.Logger

	mu          sync.Mutex
	collections map[string]*ChromemStore
}

// NewChromem opens a chromem database. An empty path keeps everything in memory.
func NewChromem(path string, embedder embedding.Provider, logger *zap.Logger) (*Chromem, error) {
	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db %s: %w", path, err)
		}
	}
	return &Chromem{
		db:          db,
		embedder:    embedder,
		logger:      logger,
		collections: make(map[string]*ChromemStore),
	}, nil
}

// Open returns the agent's collection, creating it on first use.
func (c *Chromem) Open(_ context.Context, agentID string) (memory.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.collections[agentID]; ok {
		return s, nil
	}
	name := CollectionName(agentID)
	col, err := c.db.GetOrCreateCollection(name, nil, c.embedFunc())
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	s := &ChromemStore{col: col, logger: c.logger.With(zap.String("collection", name))}
	c.collections[agentID] = s
	return s, nil
}

func (c *Chromem) embedFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return embedding.EmbedOne(ctx, c.embedder, text)
	}
}

// Close is a no-op; persistent databases write through on every change.
func (c *Chromem) Close() error { return nil }

// ChromemStore is one agent's memory collection.
type ChromemStore struct {
	col    *chromem.Collection
	logger *zap.Logger
	mu     sync.Mutex // serializes read-modify-write access updates
}

func (s *ChromemStore) Add(ctx context.Context, rec memory.Record) error {
	return s.col.AddDocument(ctx, chromem.Document{
		ID:       rec.ID,
		Content:  rec.Content,
		Metadata: rec.Fields(),
	})
}

func (s *ChromemStore) QuerySimilar(ctx context.Context, text string, k int) ([]memory.Candidate, error) {
	// chromem-go requires nResults <= collection size.
	n := s.col.Count()
	if n == 0 || k <= 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}
	results, err := s.col.Query(ctx, text, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	cands := make([]memory.Candidate, 0, len(results))
	for _, r := range results {
		rec, err := memory.RecordFromFields(r.ID, r.Content, r.Metadata)
		if err != nil {
			s.logger.Warn("skipping unreadable memory", zap.String("id", r.ID), zap.Error(err))
			continue
		}
		cands = append(cands, memory.Candidate{
			Record:   rec,
			Distance: similarityToDistance(float64(r.Similarity)),
		})
	}
	return cands, nil
}

func (s *ChromemStore) GetByIDs(ctx context.Context, ids []string) ([]memory.Record, error) {
	out := make([]memory.Record, 0, len(ids))
	for _, id := range ids {
		doc, err := s.col.GetByID(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		rec, err := memory.RecordFromFields(doc.ID, doc.Content, doc.Metadata)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// UpdateAccessed rewrites each document with its new access time, keeping
// the stored embedding so nothing is re-embedded.
func (s *ChromemStore) UpdateAccessed(ctx context.Context, touches map[string]time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for id, at := range touches {
		doc, err := s.col.GetByID(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("get %s: %w", id, err))
			continue
		}
		rec, err := memory.RecordFromFields(doc.ID, doc.Content, doc.Metadata)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		touched := rec.Touched(at)
		if touched.LastAccessedAt.Equal(rec.LastAccessedAt) {
			continue
		}
		doc.Metadata = touched.Fields()
		if err := s.col.AddDocument(ctx, doc); err != nil {
			errs = append(errs, fmt.Errorf("update %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (s *ChromemStore) Count(context.Context) (int, error) {
	return s.col.Count(), nil
}

func (s *ChromemStore) Close() error { return nil }
