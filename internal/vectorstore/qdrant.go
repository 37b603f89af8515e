package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/kji7666/AI-agent-MVP/internal/embedding"
	"github.com/kji7666/AI-agent-MVP/internal/memory"
)

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Client wraps gRPC connections to Qdrant's collections and points services.
type Client struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
}

// NewClient dials the Qdrant gRPC endpoint and returns a ready Client.
func NewClient(cfg QdrantConfig) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &Client{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
	}, nil
}

// EnsureCollection creates the named cosine collection if it does not already exist.
func (c *Client) EnsureCollection(ctx context.Context, name string, dimension uint64) error {
	_, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err == nil {
		return nil
	}
	_, err = c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// Upsert inserts or updates a single point in the given collection.
func (c *Client) Upsert(ctx context.Context, collection string, id string, vector []float32, payload map[string]string) error {
	wait := true
	_, err := c.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{
			{
				Id:      pointID(id),
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}}},
				Payload: toPayload(payload),
			},
		},
	})
	return err
}

// Search performs a nearest-neighbor search and returns the top-K results.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, topK uint64) ([]*SearchResult, error) {
	resp, err := c.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          topK,
		WithPayload:    withPayload(),
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	results := make([]*SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, &SearchResult{
			ID:      r.Id.GetUuid(),
			Score:   r.Score,
			Payload: fromPayload(r.Payload),
		})
	}
	return results, nil
}

// Get fetches points with their payloads.
func (c *Client) Get(ctx context.Context, collection string, ids []string) ([]*SearchResult, error) {
	pids := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pids[i] = pointID(id)
	}
	resp, err := c.points.Get(ctx, &pb.GetPoints{
		CollectionName: collection,
		Ids:            pids,
		WithPayload:    withPayload(),
	})
	if err != nil {
		return nil, fmt.Errorf("get points %s: %w", collection, err)
	}
	results := make([]*SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, &SearchResult{ID: r.Id.GetUuid(), Payload: fromPayload(r.Payload)})
	}
	return results, nil
}

// SetPayload merges payload into every listed point.
func (c *Client) SetPayload(ctx context.Context, collection string, ids []string, payload map[string]string) error {
	pids := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pids[i] = pointID(id)
	}
	wait := true
	_, err := c.points.SetPayload(ctx, &pb.SetPayloadPoints{
		CollectionName: collection,
		Wait:           &wait,
		Payload:        toPayload(payload),
		PointsSelector: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{Points: &pb.PointsIdsList{Ids: pids}},
		},
	})
	if err != nil {
		return fmt.Errorf("set payload %s: %w", collection, err)
	}
	return nil
}

// Count returns the exact number of points in a collection.
func (c *Client) Count(ctx context.Context, collection string) (int, error) {
	exact := true
	resp, err := c.points.Count(ctx, &pb.CountPoints{CollectionName: collection, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// SearchResult holds a single vector search hit.
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]string
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func pointID(id string) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
}

func withPayload() *pb.WithPayloadSelector {
	return &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}}
}

func toPayload(m map[string]string) map[string]*pb.Value {
	out := make(map[string]*pb.Value, len(m))
	for k, v := range m {
		out[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}
	return out
}

func fromPayload(m map[string]*pb.Value) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if sv, ok := v.Kind.(*pb.Value_StringValue); ok {
			out[k] = sv.StringValue
		}
	}
	return out
}

const contentKey = "content"

// Qdrant is a backend storing each agent's memories in its own collection.
type Qdrant struct {
	client   *Client
	embedder embedding.Provider
	logger   *zap.Logger

	mu    sync.Mutex
	ready map[string]bool
}

// NewQdrant creates a Qdrant backend.
func NewQdrant(cfg QdrantConfig, embedder embedding.Provider, logger *zap.Logger) (*Qdrant, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Qdrant{client: client, embedder: embedder, logger: logger, ready: make(map[string]bool)}, nil
}

// Open ensures the agent's collection exists.
func (q *Qdrant) Open(ctx context.Context, agentID string) (memory.Store, error) {
	name := CollectionName(agentID)

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.ready[name] {
		dim, err := dimension(ctx, q.embedder)
		if err != nil {
			return nil, fmt.Errorf("qdrant %s: %w", name, err)
		}
		if err := q.client.EnsureCollection(ctx, name, uint64(dim)); err != nil {
			return nil, err
		}
		q.ready[name] = true
	}
	return &QdrantStore{client: q.client, embedder: q.embedder, collection: name, logger: q.logger}, nil
}

// Close closes the gRPC connection.
func (q *Qdrant) Close() error { return q.client.Close() }

// QdrantStore is one agent's memory collection in Qdrant.
type QdrantStore struct {
	client     *Client
	embedder   embedding.Provider
	collection string
	logger     *zap.Logger
}

func (s *QdrantStore) Add(ctx context.Context, rec memory.Record) error {
	vec, err := embedding.EmbedOne(ctx, s.embedder, rec.Content)
	if err != nil {
		return err
	}
	payload := rec.Fields()
	payload[contentKey] = rec.Content
	if err := s.client.Upsert(ctx, s.collection, rec.ID, vec, payload); err != nil {
		return fmt.Errorf("upsert %s: %w", rec.ID, err)
	}
	return nil
}

// QuerySimilar searches by cosine similarity; Qdrant reports the similarity
// as the score.
func (s *QdrantStore) QuerySimilar(ctx context.Context, text string, k int) ([]memory.Candidate, error) {
	if k <= 0 {
		return nil, nil
	}
	vec, err := embedding.EmbedOne(ctx, s.embedder, text)
	if err != nil {
		return nil, err
	}
	hits, err := s.client.Search(ctx, s.collection, vec, uint64(k))
	if err != nil {
		return nil, err
	}
	cands := make([]memory.Candidate, 0, len(hits))
	for _, h := range hits {
		rec, err := s.decode(h)
		if err != nil {
			s.logger.Warn("skipping unreadable memory", zap.String("id", h.ID), zap.Error(err))
			continue
		}
		cands = append(cands, memory.Candidate{Record: rec, Distance: similarityToDistance(float64(h.Score))})
	}
	return cands, nil
}

func (s *QdrantStore) GetByIDs(ctx context.Context, ids []string) ([]memory.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	points, err := s.client.Get(ctx, s.collection, ids)
	if err != nil {
		return nil, err
	}
	out := make([]memory.Record, 0, len(points))
	for _, p := range points {
		rec, err := s.decode(p)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// UpdateAccessed reads the current access times and sets the advanced ones.
// Ids sharing a timestamp go out in one SetPayload call.
func (s *QdrantStore) UpdateAccessed(ctx context.Context, touches map[string]time.Time) error {
	ids := make([]string, 0, len(touches))
	for id := range touches {
		ids = append(ids, id)
	}
	current, err := s.GetByIDs(ctx, ids)
	if err != nil {
		return err
	}

	groups := make(map[string][]string)
	for _, rec := range current {
		touched := rec.Touched(touches[rec.ID])
		if touched.LastAccessedAt.Equal(rec.LastAccessedAt) {
			continue
		}
		at := touched.Fields()[memory.FieldLastAccessedAt]
		groups[at] = append(groups[at], rec.ID)
	}
	for at, group := range groups {
		if err := s.client.SetPayload(ctx, s.collection, group, map[string]string{memory.FieldLastAccessedAt: at}); err != nil {
			return err
		}
	}
	return nil
}

func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	return s.client.Count(ctx, s.collection)
}

func (s *QdrantStore) Close() error { return nil }

func (s *QdrantStore) decode(r *SearchResult) (memory.Record, error) {
	content := r.Payload[contentKey]
	fields := make(map[string]string, len(r.Payload))
	for k, v := range r.Payload {
		if k != contentKey {
			fields[k] = v
		}
	}
	return memory.RecordFromFields(r.ID, content, fields)
}
