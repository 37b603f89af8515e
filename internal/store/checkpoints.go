package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kji7666/AI-agent-MVP/internal/agent"
)

var _ agent.StateStore = (*Store)(nil)

// SaveState upserts an agent's checkpoint. An older version never
// overwrites a newer one.
func (s *Store) SaveState(ctx context.Context, agentID string, st agent.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO agent_states (agent_id, version, state, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (agent_id) DO UPDATE SET
			version = EXCLUDED.version,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at
		WHERE agent_states.version <= EXCLUDED.version`,
		agentID, st.Version, data,
	)
	if err != nil {
		return fmt.Errorf("save state %s: %w", agentID, err)
	}
	return nil
}

// LoadState returns the agent's latest checkpoint.
func (s *Store) LoadState(ctx context.Context, agentID string) (agent.State, bool, error) {
	var data []byte
	err := s.db.QueryRow(ctx,
		`SELECT state FROM agent_states WHERE agent_id = $1`, agentID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return agent.State{}, false, nil
	}
	if err != nil {
		return agent.State{}, false, fmt.Errorf("load state %s: %w", agentID, err)
	}
	var st agent.State
	if err := json.Unmarshal(data, &st); err != nil {
		return agent.State{}, false, fmt.Errorf("decode state %s: %w", agentID, err)
	}
	return st, true, nil
}
