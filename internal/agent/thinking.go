package agent

import (
	"time"

	"github.com/google/uuid"
)

// StepType identifies the kind of thinking step.
type StepType string

const (
	StepPerceive StepType = "perceive"
	StepSkip     StepType = "skip"
	StepPlan     StepType = "plan"
	StepRetrieve StepType = "retrieve"
	StepReact    StepType = "react"
	StepReplan   StepType = "replan"
	StepReflect  StepType = "reflect"
)

// ThinkingChain records the cognitive trace of one tick.
type ThinkingChain struct {
	ID        string        `json:"id"`
	AgentID   string        `json:"agent_id"`
	WorldTime time.Time     `json:"world_time"`
	Steps     []ThinkStep   `json:"steps"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// ThinkStep is a single step in the thinking chain.
type ThinkStep struct {
	Type      StepType    `json:"type"`
	Content   string      `json:"content"`
	Detail    interface{} `json:"detail,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func newChain(agentID string, worldTime time.Time) *ThinkingChain {
	return &ThinkingChain{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		WorldTime: worldTime,
		StartedAt: time.Now(),
	}
}

// add appends a step. A nil chain ignores it.
func (c *ThinkingChain) add(t StepType, content string, detail interface{}) {
	if c == nil {
		return
	}
	c.Steps = append(c.Steps, ThinkStep{Type: t, Content: content, Detail: detail, Timestamp: time.Now()})
}

func (c *ThinkingChain) finish() {
	if c != nil {
		c.Duration = time.Since(c.StartedAt)
	}
}
