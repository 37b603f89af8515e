package world

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kji7666/AI-agent-MVP/internal/agent"
)

// AgentState represents the current activity state of a resident.
type AgentState string

const (
	StateIdle        AgentState = "idle"
	StateWorking     AgentState = "working"
	StateResting     AgentState = "resting"
	StateSocializing AgentState = "socializing"
	StateLearning    AgentState = "learning"
	StateEating      AgentState = "eating"
)

// activityKeywords map action words to states, checked in order.
var activityKeywords = []struct {
	state    AgentState
	keywords []string
}{
	{StateResting, []string{"sleep", "nap", "rest", "lying", "relax", "睡", "休息"}},
	{StateEating, []string{"breakfast", "lunch", "dinner", "eat", "coffee", "snack", "吃", "咖啡"}},
	{StateSocializing, []string{"talk", "chat", "meet", "greet", "visit", "聊", "見面"}},
	{StateLearning, []string{"study", "read", "research", "lecture", "class", "learn", "讀", "學", "研究"}},
}

// Classify maps an action description to an activity state.
func Classify(action string) AgentState {
	a := strings.ToLower(action)
	if a == "" {
		return StateIdle
	}
	for _, k := range activityKeywords {
		for _, w := range k.keywords {
			if strings.Contains(a, w) {
				return k.state
			}
		}
	}
	return StateWorking
}

// StateManager tracks each resident's activity state, derived from the
// decisions the heartbeat applies.
type StateManager struct {
	states map[string]AgentState // agentID -> current state
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewStateManager creates an empty state manager.
func NewStateManager(logger *zap.Logger) *StateManager {
	return &StateManager{
		states: make(map[string]AgentState),
		logger: logger,
	}
}

// GetState returns the current state of an agent.
func (m *StateManager) GetState(agentID string) AgentState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.states[agentID]; ok {
		return s
	}
	return StateIdle
}

// States returns a copy of all tracked states.
func (m *StateManager) States() map[string]AgentState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]AgentState, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}
	return out
}

// Observe updates an agent's state from its latest decision. Skipped
// decisions keep the current state.
func (m *StateManager) Observe(agentID string, dec agent.Decision) AgentState {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.states[agentID]
	if dec.Skipped && ok {
		return prev
	}
	next := Classify(dec.Action)
	if dec.Idle {
		next = StateIdle
	}
	if next != prev {
		m.states[agentID] = next
		m.logger.Debug("agent state changed",
			zap.String("agent", agentID),
			zap.String("from", string(prev)),
			zap.String("to", string(next)))
	}
	return next
}
