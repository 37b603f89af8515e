package world

import (
	"testing"

	"go.uber.org/zap"

	"github.com/kji7666/AI-agent-MVP/internal/agent"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		action string
		want   AgentState
	}{
		{"", StateIdle},
		{"Going to sleep", StateResting},
		{"Having breakfast in the kitchen", StateEating},
		{"Chatting with Maria", StateSocializing},
		{"Reading papers at the library", StateLearning},
		{"Writing the research proposal", StateLearning},
		{"Fixing the projector", StateWorking},
		{"在廚房煮咖啡", StateEating},
	}
	for _, tt := range tests {
		if got := Classify(tt.action); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.action, got, tt.want)
		}
	}
}

func TestStateManagerObserve(t *testing.T) {
	m := NewStateManager(zap.NewNop())
	if m.GetState("klaus") != StateIdle {
		t.Error("unknown agents are idle")
	}
	if got := m.Observe("klaus", agent.Decision{Action: "eating lunch"}); got != StateEating {
		t.Errorf("state = %s", got)
	}
	// A skipped tick keeps the ongoing state.
	if got := m.Observe("klaus", agent.Decision{Action: "eating lunch", Skipped: true}); got != StateEating {
		t.Errorf("skipped state = %s", got)
	}
	if got := m.Observe("klaus", agent.Decision{Action: "Idling", Idle: true}); got != StateIdle {
		t.Errorf("idle state = %s", got)
	}
	m.Observe("maria", agent.Decision{Action: "talking to Klaus"})
	if states := m.States(); len(states) != 2 || states["maria"] != StateSocializing {
		t.Errorf("states = %v", states)
	}
}
