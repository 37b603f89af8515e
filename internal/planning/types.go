package planning

import (
	"fmt"
	"strings"
	"time"
)

// PlanBlock is one coarse entry of a daily plan.
type PlanBlock struct {
	StartTime string `json:"start_time"`
	Activity  string `json:"activity"`
	Location  string `json:"location"`
}

// SubTask is a fine-grained step of the active plan block.
type SubTask struct {
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Description string `json:"description"`
	Location    string `json:"location,omitempty"`
}

// End places the sub-task's end time on day's date. An end at or before a
// readable start time falls on the following day.
func (t SubTask) End(day time.Time) (time.Time, error) {
	end, err := ParseClock(day, t.EndTime)
	if err != nil {
		return time.Time{}, err
	}
	if start, err := ParseClock(day, t.StartTime); err == nil && !end.After(start) {
		end = end.Add(24 * time.Hour)
	}
	return end, nil
}

// ParseError reports a model reply that could not be turned into a plan.
type ParseError struct {
	Op    string
	Reply string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: unusable reply: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Summarize renders a plan one block per line, "08:00: activity at location".
func Summarize(plan []PlanBlock) string {
	var b strings.Builder
	for _, blk := range plan {
		if blk.Location != "" {
			fmt.Fprintf(&b, "%s: %s at %s\n", blk.StartTime, blk.Activity, blk.Location)
		} else {
			fmt.Fprintf(&b, "%s: %s\n", blk.StartTime, blk.Activity)
		}
	}
	return b.String()
}

// SummarizeTasks renders sub-tasks one per line, "08:00-08:30: description".
func SummarizeTasks(tasks []SubTask) string {
	var b strings.Builder
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s-%s: %s", t.StartTime, t.EndTime, t.Description)
		if t.Location != "" {
			fmt.Fprintf(&b, " (%s)", t.Location)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
