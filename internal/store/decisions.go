package store

import (
	"context"
	"fmt"
	"time"

	"github.com/kji7666/AI-agent-MVP/internal/agent"
)

const defaultDecisionLimit = 50

// DecisionEntry is one logged decision.
type DecisionEntry struct {
	AgentID   string    `json:"agent_id"`
	WorldTime time.Time `json:"world_time"`
	Action    string    `json:"action"`
	Emoji     string    `json:"emoji"`
	Reason    string    `json:"reason,omitempty"`
	Target    string    `json:"target,omitempty"`
	Skipped   bool      `json:"skipped"`
}

// NewDecisionEntry flattens a decision for the log.
func NewDecisionEntry(agentID string, worldTime time.Time, dec agent.Decision) DecisionEntry {
	target := dec.TargetLocationID
	if target == "" {
		target = dec.TargetObjectID
	}
	return DecisionEntry{
		AgentID:   agentID,
		WorldTime: worldTime.UTC(),
		Action:    dec.Action,
		Emoji:     dec.Emoji,
		Reason:    dec.Reason,
		Target:    target,
		Skipped:   dec.Skipped,
	}
}

// AppendDecision stores a decision in the agent's log.
func (s *Store) AppendDecision(ctx context.Context, agentID string, worldTime time.Time, dec agent.Decision) error {
	e := NewDecisionEntry(agentID, worldTime, dec)
	_, err := s.db.Exec(ctx, `
		INSERT INTO decisions (agent_id, world_time, action, emoji, reason, target, skipped)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.AgentID, e.WorldTime, e.Action, e.Emoji, e.Reason, e.Target, e.Skipped,
	)
	if err != nil {
		return fmt.Errorf("append decision: %w", err)
	}
	return nil
}

// RecentDecisions returns the agent's latest decisions, newest first.
func (s *Store) RecentDecisions(ctx context.Context, agentID string, limit int) ([]DecisionEntry, error) {
	if limit <= 0 {
		limit = defaultDecisionLimit
	}

	rows, err := s.db.Query(ctx, `
		SELECT agent_id, world_time, action, emoji, reason, target, skipped
		FROM decisions
		WHERE agent_id = $1
		ORDER BY world_time DESC, id DESC
		LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("get decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionEntry
	for rows.Next() {
		var e DecisionEntry
		if err := rows.Scan(&e.AgentID, &e.WorldTime, &e.Action, &e.Emoji, &e.Reason, &e.Target, &e.Skipped); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
