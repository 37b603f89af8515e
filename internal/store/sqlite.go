package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/kji7666/AI-agent-MVP/internal/agent"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS agent_states (
	agent_id   TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	state      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS decisions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id   TEXT NOT NULL,
	world_time TEXT NOT NULL,
	action     TEXT NOT NULL,
	emoji      TEXT NOT NULL DEFAULT '',
	reason     TEXT NOT NULL DEFAULT '',
	target     TEXT NOT NULL DEFAULT '',
	skipped    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS decisions_agent_time ON decisions (agent_id, world_time DESC, id DESC);
`

// Fixed-width so stored times sort as strings.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore keeps checkpoints and the decision log in a local file.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ agent.StateStore = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite store: db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite store: create dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	logger.Info("SQLite checkpoint store opened", zap.String("path", path))
	return &SQLiteStore{db: db, logger: logger}, nil
}

// SaveState upserts an agent's checkpoint. An older version never
// overwrites a newer one.
func (s *SQLiteStore) SaveState(ctx context.Context, agentID string, st agent.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_states (agent_id, version, state, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			version = excluded.version,
			state = excluded.state,
			updated_at = excluded.updated_at
		WHERE agent_states.version <= excluded.version`,
		agentID, st.Version, string(data), time.Now().UTC().Format(sqliteTime),
	)
	if err != nil {
		return fmt.Errorf("save state %s: %w", agentID, err)
	}
	return nil
}

// LoadState returns the agent's latest checkpoint.
func (s *SQLiteStore) LoadState(ctx context.Context, agentID string) (agent.State, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM agent_states WHERE agent_id = ?`, agentID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return agent.State{}, false, nil
	}
	if err != nil {
		return agent.State{}, false, fmt.Errorf("load state %s: %w", agentID, err)
	}
	var st agent.State
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return agent.State{}, false, fmt.Errorf("decode state %s: %w", agentID, err)
	}
	return st, true, nil
}

// AppendDecision stores a decision in the agent's log.
func (s *SQLiteStore) AppendDecision(ctx context.Context, agentID string, worldTime time.Time, dec agent.Decision) error {
	e := NewDecisionEntry(agentID, worldTime, dec)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (agent_id, world_time, action, emoji, reason, target, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.AgentID, e.WorldTime.Format(sqliteTime), e.Action, e.Emoji, e.Reason, e.Target, e.Skipped,
	)
	if err != nil {
		return fmt.Errorf("append decision: %w", err)
	}
	return nil
}

// RecentDecisions returns the agent's latest decisions, newest first.
func (s *SQLiteStore) RecentDecisions(ctx context.Context, agentID string, limit int) ([]DecisionEntry, error) {
	if limit <= 0 {
		limit = defaultDecisionLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, world_time, action, emoji, reason, target, skipped
		FROM decisions
		WHERE agent_id = ?
		ORDER BY world_time DESC, id DESC
		LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("get decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionEntry
	for rows.Next() {
		var e DecisionEntry
		var wt string
		if err := rows.Scan(&e.AgentID, &wt, &e.Action, &e.Emoji, &e.Reason, &e.Target, &e.Skipped); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if e.WorldTime, err = time.Parse(sqliteTime, wt); err != nil {
			return nil, fmt.Errorf("decision time %q: %w", wt, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
