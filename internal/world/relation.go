package world

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

const (
	encounterBoost   = 0.05
	encounterHistory = 10
)

// Relation is a directed acquaintance between two residents, built up by
// the time they spend in the same place.
type Relation struct {
	FromAgentID string    `json:"from_agent_id"`
	ToAgentID   string    `json:"to_agent_id"`
	Strength    float64   `json:"strength"` // 0-1
	Encounters  int64     `json:"encounters"`
	History     []string  `json:"history"` // most recent encounters, newest last
	UpdatedAt   time.Time `json:"updated_at"`
}

// RelationGraph records encounters between residents in Neo4j.
type RelationGraph struct {
	driver    neo4j.DriverWithContext
	decayRate float64 // strength decay per tick, e.g. 0.001
	logger    *zap.Logger
}

// NewRelationGraph creates a relation graph backed by Neo4j.
func NewRelationGraph(driver neo4j.DriverWithContext, decayRate float64, logger *zap.Logger) *RelationGraph {
	return &RelationGraph{
		driver:    driver,
		decayRate: decayRate,
		logger:    logger,
	}
}

// RecordEncounter notes that a and b were at place together at the given
// world time. Both directions of the relationship are strengthened.
func (g *RelationGraph) RecordEncounter(ctx context.Context, a, b, place string, at time.Time) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	entry := fmt.Sprintf("%s at %s", at.Format("2006-01-02 15:04"), place)
	for _, pair := range [2][2]string{{a, b}, {b, a}} {
		_, err := session.Run(ctx,
			`MERGE (x:Resident {id: $from})
			 MERGE (y:Resident {id: $to})
			 MERGE (x)-[r:KNOWS]->(y)
			 ON CREATE SET r.strength = 0.0, r.encounters = 0, r.history = []
			 SET r.strength = CASE WHEN r.strength + $boost > 1.0 THEN 1.0 ELSE r.strength + $boost END,
			     r.encounters = r.encounters + 1,
			     r.history = (r.history + $entry)[-$keep..],
			     r.updated_at = $at`,
			map[string]any{
				"from":  pair[0],
				"to":    pair[1],
				"boost": encounterBoost,
				"entry": entry,
				"keep":  encounterHistory,
				"at":    at.UTC(),
			})
		if err != nil {
			return fmt.Errorf("record encounter: %w", err)
		}
	}
	return nil
}

// Relations returns all outgoing relationships for an agent, strongest first.
func (g *RelationGraph) Relations(ctx context.Context, agentID string) ([]Relation, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (a:Resident {id: $agentId})-[r:KNOWS]->(b:Resident)
		 RETURN b.id AS to, r.strength AS strength, r.encounters AS encounters,
		        r.history AS history, r.updated_at AS updated_at
		 ORDER BY r.strength DESC, b.id`,
		map[string]any{"agentId": agentID})
	if err != nil {
		return nil, fmt.Errorf("get relations: %w", err)
	}

	var relations []Relation
	for result.Next(ctx) {
		rec := result.Record()
		to, _ := rec.Get("to")
		strength, _ := rec.Get("strength")
		encounters, _ := rec.Get("encounters")
		history, _ := rec.Get("history")
		updated, _ := rec.Get("updated_at")

		rel := Relation{FromAgentID: agentID}
		rel.ToAgentID, _ = to.(string)
		rel.Strength, _ = strength.(float64)
		rel.Encounters, _ = encounters.(int64)
		if h, ok := history.([]any); ok {
			for _, v := range h {
				if s, ok := v.(string); ok {
					rel.History = append(rel.History, s)
				}
			}
		}
		if t, ok := updated.(time.Time); ok {
			rel.UpdatedAt = t
		}
		relations = append(relations, rel)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("get relations: %w", err)
	}
	return relations, nil
}

// OnTick implements ClockListener. Decays all relationship strengths.
func (g *RelationGraph) OnTick(ctx context.Context, _ time.Time) {
	if g.decayRate <= 0 {
		return
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MATCH ()-[r:KNOWS]->()
		 WHERE r.strength > 0
		 SET r.strength = CASE WHEN r.strength - $decay < 0 THEN 0.0 ELSE r.strength - $decay END`,
		map[string]any{"decay": g.decayRate})
	if err != nil {
		g.logger.Warn("relation decay tick failed", zap.Error(err))
	}
}
