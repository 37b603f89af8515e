package planning

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kji7666/AI-agent-MVP/internal/memory"
	"github.com/kji7666/AI-agent-MVP/internal/provider"
)

// Memory is the part of an agent's memory stream the planner reads and
// writes. *memory.Retriever satisfies it.
type Memory interface {
	Insert(ctx context.Context, content string, kind memory.Kind, opts ...memory.InsertOption) (memory.Record, error)
	Query(ctx context.Context, text string, opts memory.QueryOptions) ([]memory.Record, error)
}

const (
	planTemperature = 0.2
	contextK        = 5
	fallbackGoal    = "live a balanced, meaningful life"
	minBlocks       = 5
	maxBlocks       = 8
)

// Planner produces daily plans and sub-task breakdowns for one agent.
type Planner struct {
	gen    provider.Generator
	mem    Memory
	logger *zap.Logger
}

// NewPlanner creates a Planner that records its plans in mem.
func NewPlanner(gen provider.Generator, mem Memory, logger *zap.Logger) *Planner {
	return &Planner{gen: gen, mem: mem, logger: logger}
}

// CreateInitialPlan builds a wake-to-sleep schedule for the day of now.
// On failure the plan is empty and the error says why; an empty plan means
// "no plan yet".
func (p *Planner) CreateInitialPlan(ctx context.Context, name, profile string, now time.Time) ([]PlanBlock, error) {
	goal := p.longTermGoal(ctx, name, profile)

	var unresolved, mood, progress string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		unresolved = p.recall(gctx, fmt.Sprintf("What did %s leave unfinished yesterday?", name), now)
		return nil
	})
	g.Go(func() error {
		mood = p.recall(gctx, fmt.Sprintf("How has %s been feeling lately?", name), now)
		return nil
	})
	g.Go(func() error {
		progress = p.recall(gctx, fmt.Sprintf("%s's progress toward the goal: %s", name, goal), now)
		return nil
	})
	_ = g.Wait()

	prompt := fmt.Sprintf(`You are %s.
Background: %s
Long-term goal: %s
Current time: %s

Unfinished from yesterday:
%s
Recent mood and reflections:
%s
Progress toward the goal:
%s
Create a broad schedule for today covering waking up to going to sleep,
broken into %d-%d major blocks in chronological order.

Respond with JSON only:
{"schedule": [{"start_time": "HH:MM", "activity": "...", "location": "..."}]}`,
		name, profile, goal, now.Format("Monday 2006-01-02 15:04"),
		orNone(unresolved), orNone(mood), orNone(progress), minBlocks, maxBlocks)

	reply, err := p.gen.Generate(ctx, []provider.Message{provider.User(prompt)}, planTemperature)
	if err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}
	plan, err := parseSchedule("create plan", reply, now)
	if err != nil {
		return nil, err
	}
	if len(plan) < minBlocks || len(plan) > maxBlocks {
		p.logger.Debug("plan size outside requested range", zap.String("agent", name), zap.Int("blocks", len(plan)))
	}

	p.remember(ctx, fmt.Sprintf("Daily plan for %s:\n%s", now.Format("2006-01-02"), Summarize(plan)), now)
	p.logger.Info("daily plan created", zap.String("agent", name), zap.Int("blocks", len(plan)))
	return plan, nil
}

// DecomposeActivity breaks one block into 15-60 minute steps covering
// [start, end]. The coverage is not checked. On failure the result is empty.
func (p *Planner) DecomposeActivity(ctx context.Context, name, activity string, start, end time.Time) ([]SubTask, error) {
	prompt := fmt.Sprintf(`You are %s. From %s to %s you plan to: %s.
Break this into consecutive steps of 15 to 60 minutes that together cover the whole period.

Respond with JSON only:
{"subtasks": [{"start_time": "HH:MM", "end_time": "HH:MM", "description": "...", "location": "..."}]}`,
		name, FormatClock(start), FormatClock(end), activity)

	reply, err := p.gen.Generate(ctx, []provider.Message{provider.User(prompt)}, planTemperature)
	if err != nil {
		return nil, fmt.Errorf("decompose %q: %w", activity, err)
	}

	var out struct {
		Subtasks []SubTask `json:"subtasks"`
	}
	if err := provider.DecodeJSON(reply, &out); err != nil {
		return nil, &ParseError{Op: "decompose activity", Reply: reply, Err: err}
	}
	tasks := make([]SubTask, 0, len(out.Subtasks))
	for _, t := range out.Subtasks {
		t.Description = strings.TrimSpace(t.Description)
		if t.Description == "" {
			continue
		}
		t.StartTime = canonical(start, t.StartTime)
		t.EndTime = canonical(start, t.EndTime)
		tasks = append(tasks, t)
	}
	if len(tasks) == 0 {
		return nil, &ParseError{Op: "decompose activity", Reply: reply, Err: errors.New("no usable sub-tasks")}
	}

	p.remember(ctx, fmt.Sprintf("Plan for %s (%s-%s):\n%s",
		activity, FormatClock(start), FormatClock(end), SummarizeTasks(tasks)), start)
	p.logger.Debug("activity decomposed", zap.String("agent", name),
		zap.String("activity", activity), zap.Int("subtasks", len(tasks)))
	return tasks, nil
}

// UpdatePlan asks for a revised remainder of the day after the agent
// deviated for reason. Blocks of current that already started by now, and
// start before the first revised block, are kept at the head; the rest of
// the old day is replaced. On failure current is returned unchanged
// together with the error.
func (p *Planner) UpdatePlan(ctx context.Context, name string, current []PlanBlock, now time.Time, reason string) ([]PlanBlock, error) {
	prompt := fmt.Sprintf(`You are %s. It is now %s.
Your plan for today was:
%s
You changed course: %s

Write a revised plan for the rest of today only, starting at or after %s.

Respond with JSON only:
{"schedule": [{"start_time": "HH:MM", "activity": "...", "location": "..."}]}`,
		name, FormatClock(now), orNone(Summarize(current)), reason, FormatClock(now))

	reply, err := p.gen.Generate(ctx, []provider.Message{provider.User(prompt)}, planTemperature)
	if err != nil {
		return current, fmt.Errorf("update plan: %w", err)
	}
	revised, err := parseSchedule("update plan", reply, now)
	if err != nil {
		return current, err
	}

	firstStart, _ := ParseClock(now, revised[0].StartTime)
	plan := make([]PlanBlock, 0, len(current)+len(revised))
	for _, blk := range current {
		start, err := ParseClock(now, blk.StartTime)
		if err != nil || start.After(now) || !start.Before(firstStart) {
			continue
		}
		plan = append(plan, blk)
	}
	plan = append(plan, revised...)

	p.remember(ctx, fmt.Sprintf("Revised plan at %s because %s:\n%s", FormatClock(now), reason, Summarize(revised)), now)
	p.logger.Info("plan revised", zap.String("agent", name),
		zap.String("reason", reason), zap.Int("blocks", len(plan)))
	return plan, nil
}

func (p *Planner) longTermGoal(ctx context.Context, name, profile string) string {
	prompt := fmt.Sprintf(`Here is a description of %s:
%s

What is the single most important long-term goal of %s? Answer in one sentence.

Respond with JSON only: {"goal": "..."}`, name, profile, name)

	reply, err := p.gen.Generate(ctx, []provider.Message{provider.User(prompt)}, planTemperature)
	if err != nil {
		p.logger.Warn("goal extraction failed", zap.String("agent", name), zap.Error(err))
		return fallbackGoal
	}
	var out struct {
		Goal string `json:"goal"`
	}
	if err := provider.DecodeJSON(reply, &out); err != nil || strings.TrimSpace(out.Goal) == "" {
		p.logger.Warn("goal extraction unusable", zap.String("agent", name), zap.Error(err))
		return fallbackGoal
	}
	return strings.TrimSpace(out.Goal)
}

// recall runs one context lookup. Failures degrade to an empty string.
func (p *Planner) recall(ctx context.Context, query string, now time.Time) string {
	recs, err := p.mem.Query(ctx, query, memory.QueryOptions{K: contextK, Now: now})
	if err != nil {
		p.logger.Warn("plan context lookup failed", zap.String("query", query), zap.Error(err))
		return ""
	}
	return memory.FormatForPrompt(recs)
}

func (p *Planner) remember(ctx context.Context, content string, at time.Time) {
	if _, err := p.mem.Insert(ctx, content, memory.KindPlan, memory.At(at)); err != nil {
		p.logger.Warn("failed to store plan memory", zap.Error(err))
	}
}

// parseSchedule decodes {"schedule": [...]}, drops blocks without an
// activity or a readable start time, and sorts the rest chronologically.
func parseSchedule(op, reply string, day time.Time) ([]PlanBlock, error) {
	var out struct {
		Schedule []PlanBlock `json:"schedule"`
	}
	if err := provider.DecodeJSON(reply, &out); err != nil {
		return nil, &ParseError{Op: op, Reply: reply, Err: err}
	}

	type timed struct {
		blk   PlanBlock
		start time.Time
	}
	valid := make([]timed, 0, len(out.Schedule))
	for _, blk := range out.Schedule {
		blk.Activity = strings.TrimSpace(blk.Activity)
		blk.Location = strings.TrimSpace(blk.Location)
		if blk.Activity == "" {
			continue
		}
		start, err := ParseClock(day, blk.StartTime)
		if err != nil {
			continue
		}
		blk.StartTime = FormatClock(start)
		valid = append(valid, timed{blk: blk, start: start})
	}
	if len(valid) == 0 {
		return nil, &ParseError{Op: op, Reply: reply, Err: errors.New("no usable plan blocks")}
	}
	sort.SliceStable(valid, func(i, j int) bool { return valid[i].start.Before(valid[j].start) })

	plan := make([]PlanBlock, len(valid))
	for i, v := range valid {
		plan[i] = v.blk
	}
	return plan, nil
}

// canonical rewrites a readable time as "15:04" and leaves anything else as
// given, so later checks can skip it.
func canonical(day time.Time, s string) string {
	t, err := ParseClock(day, s)
	if err != nil {
		return strings.TrimSpace(s)
	}
	return FormatClock(t)
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)\n"
	}
	return s
}
