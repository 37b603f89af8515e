package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/kji7666/AI-agent-MVP/internal/embedding"
	"github.com/kji7666/AI-agent-MVP/internal/memory"
)

const (
	neo4jIndex = "memory_embedding"
	// Fixed-width UTC timestamps compare correctly as strings in Cypher.
	neo4jTime = "2006-01-02T15:04:05.000000000Z"
	// Over-fetch factor: the vector index spans all agents, so results are
	// filtered by agent after the index lookup.
	neo4jOverfetch = 4
)

// Neo4j stores memories as (:Memory) nodes with a cosine vector index.
type Neo4j struct {
	driver   neo4j.DriverWithContext
	embedder embedding.Provider
	logger   *zap.Logger

	once    sync.Once
	initErr error
}

// NewNeo4j creates a Neo4j backend and verifies connectivity.
func NewNeo4j(ctx context.Context, uri, user, password string, embedder embedding.Provider, logger *zap.Logger) (*Neo4j, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return &Neo4j{driver: driver, embedder: embedder, logger: logger}, nil
}

// Open ensures the vector index exists and returns the agent's store.
func (n *Neo4j) Open(ctx context.Context, agentID string) (memory.Store, error) {
	n.once.Do(func() { n.initErr = n.ensureIndex(ctx) })
	if n.initErr != nil {
		return nil, n.initErr
	}
	return &Neo4jStore{driver: n.driver, embedder: n.embedder, agentID: agentID, logger: n.logger}, nil
}

func (n *Neo4j) ensureIndex(ctx context.Context) error {
	dim, err := dimension(ctx, n.embedder)
	if err != nil {
		return fmt.Errorf("neo4j index: %w", err)
	}
	session := n.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	// Index options cannot be parameterized.
	_, err = session.Run(ctx, fmt.Sprintf(
		"CREATE VECTOR INDEX %s IF NOT EXISTS FOR (m:Memory) ON m.embedding "+
			"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}",
		neo4jIndex, dim), nil)
	if err != nil {
		return fmt.Errorf("create vector index: %w", err)
	}
	_, err = session.Run(ctx,
		`CREATE INDEX memory_agent_id IF NOT EXISTS FOR (m:Memory) ON (m.agent_id, m.id)`, nil)
	if err != nil {
		return fmt.Errorf("create id index: %w", err)
	}
	n.logger.Info("neo4j memory index ready", zap.Int("dimension", dim))
	return nil
}

// Close shuts down the Neo4j driver.
func (n *Neo4j) Close() error {
	return n.driver.Close(context.Background())
}

// Neo4jStore is one agent's slice of the memory graph.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	embedder embedding.Provider
	agentID  string
	logger   *zap.Logger
}

func (s *Neo4jStore) Add(ctx context.Context, rec memory.Record) error {
	vec, err := embedding.EmbedOne(ctx, s.embedder, rec.Content)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err = session.Run(ctx,
		`MERGE (m:Memory {id: $id})
		 SET m.agent_id = $agentId, m.content = $content, m.kind = $kind,
		     m.importance = $importance, m.created_at = $createdAt,
		     m.last_accessed_at = $accessedAt, m.metadata = $metadata,
		     m.embedding = $embedding`,
		map[string]interface{}{
			"id":         rec.ID,
			"agentId":    s.agentID,
			"content":    rec.Content,
			"kind":       string(rec.Kind),
			"importance": rec.Importance,
			"createdAt":  rec.CreatedAt.UTC().Format(neo4jTime),
			"accessedAt": rec.LastAccessedAt.UTC().Format(neo4jTime),
			"metadata":   string(meta),
			"embedding":  toFloat64(vec),
		})
	if err != nil {
		return fmt.Errorf("create memory %s: %w", rec.ID, err)
	}
	return nil
}

// QuerySimilar uses the vector index. Neo4j reports cosine scores as
// (1 + cos) / 2, so distance = 2 - 2*score.
func (s *Neo4jStore) QuerySimilar(ctx context.Context, text string, k int) ([]memory.Candidate, error) {
	if k <= 0 {
		return nil, nil
	}
	vec, err := embedding.EmbedOne(ctx, s.embedder, text)
	if err != nil {
		return nil, err
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`CALL db.index.vector.queryNodes($index, $fetch, $embedding) YIELD node, score
		 WHERE node.agent_id = $agentId
		 RETURN node, score ORDER BY score DESC LIMIT $k`,
		map[string]interface{}{
			"index":     neo4jIndex,
			"fetch":     k * neo4jOverfetch,
			"embedding": toFloat64(vec),
			"agentId":   s.agentID,
			"k":         k,
		})
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	var cands []memory.Candidate
	for result.Next(ctx) {
		rec := result.Record()
		nodeVal, _ := rec.Get("node")
		scoreVal, _ := rec.Get("score")
		node, ok := nodeVal.(neo4j.Node)
		if !ok {
			continue
		}
		mem, err := nodeToRecord(node)
		if err != nil {
			s.logger.Warn("skipping unreadable memory", zap.Error(err))
			continue
		}
		score, _ := scoreVal.(float64)
		cands = append(cands, memory.Candidate{Record: mem, Distance: clampDistance(2 - 2*score)})
	}
	return cands, result.Err()
}

func (s *Neo4jStore) GetByIDs(ctx context.Context, ids []string) ([]memory.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (m:Memory {agent_id: $agentId}) WHERE m.id IN $ids RETURN m`,
		map[string]interface{}{"agentId": s.agentID, "ids": ids})
	if err != nil {
		return nil, err
	}
	var out []memory.Record
	for result.Next(ctx) {
		v, _ := result.Record().Get("m")
		node, ok := v.(neo4j.Node)
		if !ok {
			continue
		}
		rec, err := nodeToRecord(node)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, result.Err()
}

// UpdateAccessed sets every touched node in one UNWIND statement. The WHERE
// clause keeps access times from moving backwards.
func (s *Neo4jStore) UpdateAccessed(ctx context.Context, touches map[string]time.Time) error {
	rows := make([]map[string]interface{}, 0, len(touches))
	for id, at := range touches {
		rows = append(rows, map[string]interface{}{"id": id, "at": at.UTC().Format(neo4jTime)})
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`UNWIND $rows AS row
		 MATCH (m:Memory {agent_id: $agentId, id: row.id})
		 WHERE m.last_accessed_at < row.at
		 SET m.last_accessed_at = row.at`,
		map[string]interface{}{"agentId": s.agentID, "rows": rows})
	if err != nil {
		return fmt.Errorf("update access times: %w", err)
	}
	return nil
}

func (s *Neo4jStore) Count(ctx context.Context) (int, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (m:Memory {agent_id: $agentId}) RETURN count(m) AS n`,
		map[string]interface{}{"agentId": s.agentID})
	if err != nil {
		return 0, err
	}
	if result.Next(ctx) {
		if v, ok := result.Record().Get("n"); ok {
			return int(v.(int64)), nil
		}
	}
	return 0, result.Err()
}

func (s *Neo4jStore) Close() error { return nil }

func nodeToRecord(node neo4j.Node) (memory.Record, error) {
	p := node.Props
	str := func(k string) string {
		v, _ := p[k].(string)
		return v
	}
	rec := memory.Record{
		ID:      str("id"),
		Content: str("content"),
		Kind:    memory.Kind(str("kind")),
	}
	if imp, ok := p["importance"].(int64); ok {
		rec.Importance = int(imp)
	}

	var err error
	if rec.CreatedAt, err = time.Parse(neo4jTime, str("created_at")); err != nil {
		return memory.Record{}, fmt.Errorf("memory %s: created_at: %w", rec.ID, err)
	}
	if rec.LastAccessedAt, err = time.Parse(neo4jTime, str("last_accessed_at")); err != nil {
		return memory.Record{}, fmt.Errorf("memory %s: last_accessed_at: %w", rec.ID, err)
	}
	if raw := str("metadata"); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &rec.Metadata); err != nil {
			return memory.Record{}, fmt.Errorf("memory %s: metadata: %w", rec.ID, err)
		}
	}
	return rec, nil
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func clampDistance(d float64) float64 {
	if d < 0 {
		return 0
	}
	if d > 2 {
		return 2
	}
	return d
}
