package agent

import (
	"strings"
	"sync"
	"time"

	"github.com/kji7666/AI-agent-MVP/internal/memory"
)

// Persona defines an agent's identity and personality.
type Persona struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Age         int    `json:"age,omitempty"`
	Role        string `json:"role,omitempty"`
	Personality string `json:"personality,omitempty"`
	Backstory   string `json:"backstory"`
	Home        string `json:"home"`
}

// Profile is the free-text description handed to the planner and the
// decision prompt.
func (p Persona) Profile() string {
	var parts []string
	if p.Role != "" {
		parts = append(parts, p.Name+" is a "+p.Role+".")
	}
	if p.Personality != "" {
		parts = append(parts, "Personality: "+p.Personality+".")
	}
	if p.Backstory != "" {
		parts = append(parts, p.Backstory)
	}
	return strings.Join(parts, " ")
}

// Status represents an agent's current state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusThinking Status = "thinking"
	StatusBusy     Status = "busy"
)

// Agent is a resident of the town.
type Agent struct {
	Persona   Persona   `json:"persona"`
	Status    Status    `json:"status"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	controller *Controller
	memory     *memory.Retriever
	tickMu     sync.Mutex
}

// NewAgent binds a persona to its controller and memory stream. The agent
// owns mem and closes it when the engine shuts down.
func NewAgent(p Persona, ctrl *Controller, mem *memory.Retriever) *Agent {
	return &Agent{Persona: p, controller: ctrl, memory: mem}
}
