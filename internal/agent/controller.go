package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kji7666/AI-agent-MVP/internal/memory"
	"github.com/kji7666/AI-agent-MVP/internal/planning"
	"github.com/kji7666/AI-agent-MVP/internal/provider"
)

// Memory is the agent's memory stream. *memory.Retriever satisfies it.
type Memory interface {
	Insert(ctx context.Context, content string, kind memory.Kind, opts ...memory.InsertOption) (memory.Record, error)
	Query(ctx context.Context, text string, opts memory.QueryOptions) ([]memory.Record, error)
}

// Planner produces and revises plans. *planning.Planner satisfies it.
type Planner interface {
	CreateInitialPlan(ctx context.Context, name, profile string, now time.Time) ([]planning.PlanBlock, error)
	DecomposeActivity(ctx context.Context, name, activity string, start, end time.Time) ([]planning.SubTask, error)
	UpdatePlan(ctx context.Context, name string, current []planning.PlanBlock, now time.Time, reason string) ([]planning.PlanBlock, error)
}

// Config tunes the controller.
type Config struct {
	MinDuration      time.Duration // shortest action commitment (15m)
	ReactAttempts    int           // decision generation attempts (3)
	RetrieveK        int           // memories fed to React (5)
	LastBlockSpan    time.Duration // length of the day's last block (2h)
	ReactTemperature float64       // decision temperature (0.4)
	// ReflectThreshold triggers a reflection once the importance of new
	// memories adds up to it. Zero disables reflection.
	ReflectThreshold int
}

// DefaultConfig returns the standard controller settings.
func DefaultConfig() Config {
	return Config{
		MinDuration:      15 * time.Minute,
		ReactAttempts:    3,
		RetrieveK:        5,
		LastBlockSpan:    planning.DefaultLastBlockSpan,
		ReactTemperature: 0.4,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinDuration <= 0 {
		c.MinDuration = d.MinDuration
	}
	if c.ReactAttempts <= 0 {
		c.ReactAttempts = d.ReactAttempts
	}
	if c.RetrieveK <= 0 {
		c.RetrieveK = d.RetrieveK
	}
	if c.LastBlockSpan <= 0 {
		c.LastBlockSpan = d.LastBlockSpan
	}
	if c.ReactTemperature <= 0 {
		c.ReactTemperature = d.ReactTemperature
	}
	return c
}

// Deps are the controller's collaborators. Memory, Planner and Generator are
// required; the rest are optional.
type Deps struct {
	Memory      Memory
	Planner     Planner
	Generator   provider.Generator
	Interrupter Interrupter  // defaults to RoutineFilter
	Reflector   *Reflector   // nil disables reflection
	World       Surroundings // nil passes target ids through unchecked
}

// Controller runs the perceive, retrieve and react cycle for one agent.
type Controller struct {
	persona Persona
	deps    Deps
	cfg     Config
	logger  *zap.Logger
}

// NewController creates a controller for the agent described by p.
func NewController(p Persona, deps Deps, cfg Config, logger *zap.Logger) *Controller {
	if deps.Interrupter == nil {
		deps.Interrupter = RoutineFilter{}
	}
	return &Controller{
		persona: p,
		deps:    deps,
		cfg:     cfg.withDefaults(),
		logger:  logger.With(zap.String("agent", p.Name)),
	}
}

// Tick runs one full cycle. The input state is never modified. When the
// agent is busy and nothing urgent happened the tick ends after Perceive
// with a skipped decision. A retrieval failure ends the tick with an error
// and the input state.
func (c *Controller) Tick(ctx context.Context, prev State, observations []string, now time.Time) (State, Decision, error) {
	chain := newChain(c.persona.ID, now)
	defer chain.finish()

	st := c.perceive(ctx, prev.Clone(), observations, now, chain)
	st.Version = prev.Version + 1
	if st.SkipThinking {
		chain.add(StepSkip, "busy with routine surroundings", st.BusyUntil)
		return st, Decision{
			Action:    st.Action,
			Emoji:     st.Emoji,
			BusyUntil: st.BusyUntil,
			Skipped:   true,
			Trace:     chain,
		}, nil
	}

	mems, err := c.Retrieve(ctx, st, observations, now)
	if err != nil {
		return prev, Decision{}, err
	}
	chain.add(StepRetrieve, fmt.Sprintf("recalled %d memories", len(mems)), contents(mems))

	st, dec := c.react(ctx, st, observations, mems, now, chain)
	c.maybeReflect(ctx, &st, now, chain)
	dec.Trace = chain
	return st, dec, nil
}

// Perceive stores the observations and brings the plans up to date for now.
func (c *Controller) Perceive(ctx context.Context, st State, observations []string, now time.Time) State {
	return c.perceive(ctx, st.Clone(), observations, now, nil)
}

func (c *Controller) perceive(ctx context.Context, st State, observations []string, now time.Time, chain *ThinkingChain) State {
	for _, obs := range observations {
		rec, err := c.deps.Memory.Insert(ctx, obs, memory.KindObservation, memory.At(now))
		if err != nil {
			c.logger.Warn("failed to store observation", zap.String("observation", obs), zap.Error(err))
			continue
		}
		st.PendingImportance += rec.Importance
	}
	chain.add(StepPerceive, fmt.Sprintf("observed %d things", len(observations)), observations)

	if st.Busy(now) {
		if !c.deps.Interrupter.IsUrgent(ctx, observations) {
			st.SkipThinking = true
			return st
		}
		c.logger.Info("interrupted while busy", zap.Timep("busy_until", st.BusyUntil))
	}

	today := now.Format("2006-01-02")
	if st.PlanDate != "" && st.PlanDate != today && len(st.DailyPlan) > 0 {
		c.logger.Info("new day, discarding plan", zap.String("plan_date", st.PlanDate), zap.String("today", today))
		st.DailyPlan = nil
		st.ShortTermPlan = nil
	}

	if len(st.DailyPlan) == 0 {
		plan, err := c.deps.Planner.CreateInitialPlan(ctx, c.persona.Name, c.persona.Profile(), now)
		if err != nil {
			c.logger.Warn("daily planning failed", zap.Error(err))
		}
		st.DailyPlan = plan
		if len(plan) > 0 {
			st.PlanDate = today
			chain.add(StepPlan, fmt.Sprintf("planned the day in %d blocks", len(plan)), plan)
		}
	}

	active, ok := planning.ActiveBlock(st.DailyPlan, now, c.cfg.LastBlockSpan)
	activity := ""
	if ok {
		activity = active.Block.Activity
	}
	if activity != st.CurrentBlockActivity {
		st.ShortTermPlan = nil
	}
	if ok && len(st.ShortTermPlan) == 0 {
		tasks, err := c.deps.Planner.DecomposeActivity(ctx, c.persona.Name, activity, active.Start, active.End)
		if err != nil {
			c.logger.Warn("activity decomposition failed", zap.String("activity", activity), zap.Error(err))
		}
		st.ShortTermPlan = tasks
		if len(tasks) > 0 {
			chain.add(StepPlan, fmt.Sprintf("broke %q into %d steps", activity, len(tasks)), tasks)
		}
	}

	st.BusyUntil = nil
	st.SkipThinking = false
	st.CurrentBlockActivity = activity
	return st
}

// Retrieve recalls the memories relevant to the current observations.
func (c *Controller) Retrieve(ctx context.Context, _ State, observations []string, now time.Time) ([]memory.Record, error) {
	query := fmt.Sprintf("Context: %s. What should %s do next?", strings.Join(observations, ", "), c.persona.Name)
	mems, err := c.deps.Memory.Query(ctx, query, memory.QueryOptions{K: c.cfg.RetrieveK, Now: now})
	if err != nil {
		return nil, fmt.Errorf("retrieve for %s: %w", c.persona.Name, err)
	}
	return mems, nil
}

// React decides the next action and updates the plans accordingly.
func (c *Controller) React(ctx context.Context, st State, observations []string, mems []memory.Record, now time.Time) (State, Decision) {
	return c.react(ctx, st.Clone(), observations, mems, now, nil)
}

func (c *Controller) react(ctx context.Context, st State, observations []string, mems []memory.Record, now time.Time, chain *ThinkingChain) (State, Decision) {
	msgs := []provider.Message{
		provider.System(c.systemPrompt()),
		provider.User(c.decisionPrompt(st, observations, mems, now)),
	}

	var (
		dec     Decision
		decided bool
	)
	for attempt := 1; attempt <= c.cfg.ReactAttempts; attempt++ {
		reply, err := c.deps.Generator.Generate(ctx, msgs, c.cfg.ReactTemperature)
		if err == nil {
			dec, err = parseDecision(reply)
		}
		if err == nil {
			decided = true
			break
		}
		c.logger.Warn("decision attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}
	if !decided {
		st.BusyUntil = nil
		st.Action, st.Emoji = idleAction, idleEmoji
		chain.add(StepReact, "fell back to idling", nil)
		return st, Decision{Action: idleAction, Emoji: idleEmoji, Idle: true}
	}

	if dec.DurationMinutes > maxActionMinutes {
		dec.DurationMinutes = maxActionMinutes
	}
	duration := time.Duration(dec.DurationMinutes) * time.Minute
	if duration < c.cfg.MinDuration {
		duration = c.cfg.MinDuration
	}
	dec.DurationMinutes = int(duration / time.Minute)
	busy := now.Add(duration)
	st.BusyUntil = &busy
	dec.BusyUntil = &busy
	st.Action, st.Emoji = dec.Action, dec.Emoji

	c.resolveTargets(&dec)
	chain.add(StepReact, dec.Action, dec)

	rec, err := c.deps.Memory.Insert(ctx, fmt.Sprintf("%s is %s", c.persona.Name, dec.Action), memory.KindObservation, memory.At(now))
	if err != nil {
		c.logger.Warn("failed to store action", zap.Error(err))
	} else {
		st.PendingImportance += rec.Importance
	}

	switch {
	case dec.Replan:
		plan, err := c.deps.Planner.UpdatePlan(ctx, c.persona.Name, st.DailyPlan, now, dec.Action)
		if err != nil {
			c.logger.Warn("replanning failed, keeping plan", zap.Error(err))
			break
		}
		st.DailyPlan = plan
		st.ShortTermPlan = nil
		chain.add(StepReplan, fmt.Sprintf("revised plan has %d blocks", len(plan)), plan)
	case len(st.ShortTermPlan) > 0:
		head := st.ShortTermPlan[0]
		end, err := head.End(now)
		if err != nil || busy.Before(end) {
			break
		}
		st.ShortTermPlan = append([]planning.SubTask(nil), st.ShortTermPlan[1:]...)
		if len(st.ShortTermPlan) > 0 {
			c.logger.Debug("sub-task done", zap.String("done", head.Description),
				zap.String("next", st.ShortTermPlan[0].Description))
		} else {
			c.logger.Debug("sub-task done", zap.String("done", head.Description))
		}
	}
	return st, dec
}

// resolveTargets drops ids the world does not know and infers a location
// from the action text when the model gave none.
func (c *Controller) resolveTargets(dec *Decision) {
	w := c.deps.World
	if w == nil {
		return
	}
	if dec.TargetLocationID != "" && !w.IsLocation(dec.TargetLocationID) {
		c.logger.Debug("unknown target location", zap.String("id", dec.TargetLocationID))
		dec.TargetLocationID = ""
	}
	if dec.TargetObjectID != "" && !w.IsObject(dec.TargetObjectID) {
		c.logger.Debug("unknown target object", zap.String("id", dec.TargetObjectID))
		dec.TargetObjectID = ""
	}
	if dec.TargetLocationID == "" && dec.TargetObjectID == "" {
		dec.TargetLocationID = ExtractTarget(dec.Action, w.LocationAliases())
	}
}

func (c *Controller) maybeReflect(ctx context.Context, st *State, now time.Time, chain *ThinkingChain) {
	if c.deps.Reflector == nil || c.cfg.ReflectThreshold <= 0 || st.PendingImportance < c.cfg.ReflectThreshold {
		return
	}
	insights, err := c.deps.Reflector.Reflect(ctx, c.persona.Name, now)
	if err != nil {
		c.logger.Warn("reflection failed", zap.Error(err))
		return
	}
	st.PendingImportance = 0
	chain.add(StepReflect, fmt.Sprintf("reflected into %d insights", len(insights)), contents(insights))
}

func (c *Controller) systemPrompt() string {
	return fmt.Sprintf("You are %s.\n%s", c.persona.Name, c.persona.Profile())
}

func (c *Controller) decisionPrompt(st State, observations []string, mems []memory.Record, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current time: %s\n\n", now.Format("2006-01-02 03:04 PM"))
	fmt.Fprintf(&b, "[Current plan]\n%s\n\n", c.planContext(st, now))
	b.WriteString("[Relevant memories]\n")
	if len(mems) == 0 {
		b.WriteString("(none)\n")
	} else {
		b.WriteString(memory.FormatForPrompt(mems))
	}
	b.WriteString("\n[Observations]\n")
	for _, o := range observations {
		fmt.Fprintf(&b, "- %s\n", o)
	}
	if c.deps.World != nil {
		if desc := c.deps.World.MapDescription(); desc != "" {
			fmt.Fprintf(&b, "\n[Places and objects]\n%s\n", desc)
		}
	}
	b.WriteString(`
Given the observations, stick to your plan or react to the new situation.
Respond with JSON only:
{"action": "what you do now, one sentence", "emoji": "one emoji", "reason": "why",
 "target_location_id": "location id or empty", "target_object_id": "object id or empty",
 "duration_minutes": minutes, "replan": true if the rest of today's plan must change}`)
	return b.String()
}

// planContext prefers the current sub-task, then the active block, then the
// first block of the day.
func (c *Controller) planContext(st State, now time.Time) string {
	if len(st.ShortTermPlan) > 0 {
		t := st.ShortTermPlan[0]
		s := fmt.Sprintf("Current step (%s-%s): %s", t.StartTime, t.EndTime, t.Description)
		if t.Location != "" {
			s += " at " + t.Location
		}
		return s
	}
	if active, ok := planning.ActiveBlock(st.DailyPlan, now, c.cfg.LastBlockSpan); ok {
		return fmt.Sprintf("Current block (%s-%s): %s at %s",
			active.Block.StartTime, planning.FormatClock(active.End), active.Block.Activity, active.Block.Location)
	}
	if len(st.DailyPlan) > 0 {
		b := st.DailyPlan[0]
		return fmt.Sprintf("Next block (%s): %s at %s", b.StartTime, b.Activity, b.Location)
	}
	return "No specific plan."
}

type decisionReply struct {
	Action           string  `json:"action"`
	Emoji            string  `json:"emoji"`
	Reason           string  `json:"reason"`
	TargetLocationID string  `json:"target_location_id"`
	TargetObjectID   string  `json:"target_object_id"`
	DurationMinutes  minutes `json:"duration_minutes"`
	Replan           bool    `json:"replan"`
}

// minutes accepts a JSON number or a numeric string.
type minutes int

func (m *minutes) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*m = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("duration %s: %w", b, err)
	}
	*m = minutes(min(f, maxActionMinutes))
	return nil
}

func parseDecision(reply string) (Decision, error) {
	var r decisionReply
	if err := provider.DecodeJSON(reply, &r); err != nil {
		return Decision{}, &ParseError{Reply: reply, Err: err}
	}
	r.Action = strings.TrimSpace(r.Action)
	if r.Action == "" {
		return Decision{}, &ParseError{Reply: reply, Err: errors.New("missing action")}
	}
	return Decision{
		Action:           r.Action,
		Emoji:            strings.TrimSpace(r.Emoji),
		Reason:           strings.TrimSpace(r.Reason),
		TargetLocationID: strings.TrimSpace(r.TargetLocationID),
		TargetObjectID:   strings.TrimSpace(r.TargetObjectID),
		DurationMinutes:  int(r.DurationMinutes),
		Replan:           r.Replan,
	}, nil
}

func contents(recs []memory.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Content
	}
	return out
}

var _ json.Unmarshaler = (*minutes)(nil)
