package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kji7666/AI-agent-MVP/internal/memory"
)

// StateStore persists cognitive state checkpoints.
type StateStore interface {
	SaveState(ctx context.Context, agentID string, st State) error
	// LoadState returns false when no checkpoint exists.
	LoadState(ctx context.Context, agentID string) (State, bool, error)
}

// Engine manages the town's agents. Ticks for one agent are serialized;
// distinct agents tick concurrently.
type Engine struct {
	agents map[string]*Agent
	store  StateStore
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewEngine creates a new agent engine. store may be nil.
func NewEngine(store StateStore, logger *zap.Logger) *Engine {
	return &Engine{
		agents: make(map[string]*Agent),
		store:  store,
		logger: logger,
	}
}

// Register adds an agent to the engine and restores its last checkpoint.
func (e *Engine) Register(ctx context.Context, a *Agent) error {
	if a.Persona.ID == "" {
		a.Persona.ID = uuid.New().String()
	}
	if e.store != nil {
		st, ok, err := e.store.LoadState(ctx, a.Persona.ID)
		if err != nil {
			return fmt.Errorf("load state for %s: %w", a.Persona.ID, err)
		}
		if ok {
			a.State = st
			e.logger.Info("restored agent state",
				zap.String("id", a.Persona.ID),
				zap.Int64("version", st.Version),
				zap.Int("plan_blocks", len(st.DailyPlan)))
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	a.Status = StatusIdle
	e.agents[a.Persona.ID] = a
	e.logger.Info("registered agent",
		zap.String("id", a.Persona.ID),
		zap.String("name", a.Persona.Name))
	return nil
}

// Get returns an agent by ID.
func (e *Engine) Get(id string) (*Agent, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.agents[id]
	return a, ok
}

// IDs returns the registered agent ids in sorted order.
func (e *Engine) IDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.agents))
	for id := range e.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot is a read-only copy of an agent for callers outside the engine.
type Snapshot struct {
	Persona   Persona   `json:"persona"`
	Status    Status    `json:"status"`
	State     State     `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`

	// DroppedTouches counts access-time updates lost to a full write-back queue.
	DroppedTouches int64 `json:"dropped_touches"`
}

// Snapshot returns a copy of the agent's persona, status and state.
func (e *Engine) Snapshot(id string) (Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.agents[id]
	if !ok {
		return Snapshot{}, ErrAgentNotFound
	}
	snap := Snapshot{Persona: a.Persona, Status: a.Status, State: a.State.Clone(), UpdatedAt: a.UpdatedAt}
	if a.memory != nil {
		snap.DroppedTouches = a.memory.Dropped()
	}
	return snap, nil
}

// List returns snapshots of all registered agents ordered by id.
func (e *Engine) List() []Snapshot {
	ids := e.IDs()
	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		if s, err := e.Snapshot(id); err == nil {
			out = append(out, s)
		}
	}
	return out
}

// Tick runs one cognitive cycle for the agent at world time now. A failed
// tick leaves the agent's state as it was.
func (e *Engine) Tick(ctx context.Context, agentID string, observations []string, now time.Time) (Decision, error) {
	a, ok := e.Get(agentID)
	if !ok {
		return Decision{}, ErrAgentNotFound
	}
	a.tickMu.Lock()
	defer a.tickMu.Unlock()

	e.mu.Lock()
	prev := a.State.Clone()
	a.Status = StatusThinking
	e.mu.Unlock()

	next, dec, err := a.controller.Tick(ctx, prev, observations, now)
	if err != nil {
		e.setStatus(agentID, StatusIdle)
		e.logger.Warn("tick failed", zap.String("agent", agentID), zap.Error(err))
		return Decision{}, err
	}

	status := StatusBusy
	if dec.Idle {
		status = StatusIdle
	}
	e.mu.Lock()
	a.State = next
	a.Status = status
	a.UpdatedAt = time.Now()
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.SaveState(ctx, agentID, next); err != nil {
			e.logger.Warn("checkpoint failed", zap.String("agent", agentID), zap.Error(err))
		}
	}
	e.logger.Debug("tick complete",
		zap.String("agent", agentID),
		zap.Time("world_time", now),
		zap.String("action", dec.Action),
		zap.Bool("skipped", dec.Skipped))
	return dec, nil
}

// Recall queries an agent's memory directly.
func (e *Engine) Recall(ctx context.Context, agentID, query string, k int, now time.Time) ([]memory.Record, error) {
	a, ok := e.Get(agentID)
	if !ok {
		return nil, ErrAgentNotFound
	}
	if a.memory == nil {
		return nil, fmt.Errorf("recall %s: %w", agentID, ErrNoMemory)
	}
	return a.memory.Query(ctx, query, memory.QueryOptions{K: k, Now: now})
}

// Close shuts down every agent's memory stream, flushing pending access
// times.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for id, a := range e.agents {
		if a.memory == nil {
			continue
		}
		if err := a.memory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close memory of %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) setStatus(agentID string, s Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok := e.agents[agentID]; ok {
		a.Status = s
		a.UpdatedAt = time.Now()
	}
}
