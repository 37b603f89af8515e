package agent

import (
	"fmt"
	"time"

	"github.com/kji7666/AI-agent-MVP/internal/planning"
)

// State is an agent's cognitive state between ticks. A tick takes a State by
// value and returns a new one; slices are never shared between snapshots.
type State struct {
	Version              int64                `json:"version"`
	DailyPlan            []planning.PlanBlock `json:"daily_plan"`
	ShortTermPlan        []planning.SubTask   `json:"short_term_plan"`
	BusyUntil            *time.Time           `json:"busy_until,omitempty"`
	CurrentBlockActivity string               `json:"current_block_activity"`
	PlanDate             string               `json:"plan_date,omitempty"`
	Action               string               `json:"action,omitempty"`
	Emoji                string               `json:"emoji,omitempty"`
	// Sum of importance scores recorded since the last reflection.
	PendingImportance int `json:"pending_importance"`

	SkipThinking bool `json:"-"`
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	if s.DailyPlan != nil {
		out.DailyPlan = append([]planning.PlanBlock(nil), s.DailyPlan...)
	}
	if s.ShortTermPlan != nil {
		out.ShortTermPlan = append([]planning.SubTask(nil), s.ShortTermPlan...)
	}
	if s.BusyUntil != nil {
		t := *s.BusyUntil
		out.BusyUntil = &t
	}
	return out
}

// Busy reports whether the agent is still committed to its action at now.
func (s State) Busy(now time.Time) bool {
	return s.BusyUntil != nil && now.Before(*s.BusyUntil)
}

// Decision is the outcome of one tick.
type Decision struct {
	Action           string         `json:"action"`
	Emoji            string         `json:"emoji"`
	Reason           string         `json:"reason,omitempty"`
	TargetLocationID string         `json:"target_location_id,omitempty"`
	TargetObjectID   string         `json:"target_object_id,omitempty"`
	DurationMinutes  int            `json:"duration_minutes"`
	Replan           bool           `json:"replan"`
	BusyUntil        *time.Time     `json:"busy_until,omitempty"`
	Skipped          bool           `json:"skipped"`
	Idle             bool           `json:"idle"`
	Trace            *ThinkingChain `json:"trace,omitempty"`
}

const (
	idleAction = "Idling"
	idleEmoji  = "😴"

	// maxActionMinutes caps a single action commitment at one day.
	maxActionMinutes = 24 * 60
)

// ErrAgentNotFound is returned when an agent ID doesn't exist.
var ErrAgentNotFound = fmt.Errorf("agent not found")

// ErrNoMemory is returned when an agent has no memory stream attached.
var ErrNoMemory = fmt.Errorf("agent has no memory stream")

// ParseError reports a decision reply that could not be used.
type ParseError struct {
	Reply string
	Err   error
}

func (e *ParseError) Error() string { return fmt.Sprintf("decision reply: %v", e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }
