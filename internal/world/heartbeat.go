package world

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kji7666/AI-agent-MVP/internal/agent"
)

// Ticker runs one cognition cycle for an agent. *agent.Engine implements it.
type Ticker interface {
	IDs() []string
	Tick(ctx context.Context, agentID string, observations []string, now time.Time) (agent.Decision, error)
}

// EncounterRecorder notes that two residents shared a place.
type EncounterRecorder interface {
	RecordEncounter(ctx context.Context, a, b, place string, at time.Time) error
}

// DecisionLog keeps a history of applied decisions.
type DecisionLog interface {
	AppendDecision(ctx context.Context, agentID string, worldTime time.Time, dec agent.Decision) error
}

// EventPublisher pushes town events to viewers.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Outcome is the result of one agent's tick within a beat.
type Outcome struct {
	AgentID  string         `json:"agent_id"`
	Location string         `json:"location"`
	State    AgentState     `json:"state"`
	Decision agent.Decision `json:"decision"`
	Err      error          `json:"-"`
}

// Heartbeat is a ClockListener that ticks every resident against the town:
// it gathers observations, runs the agent and applies the decision's targets.
type Heartbeat struct {
	engine     Ticker
	town       *Town
	states     *StateManager
	encounters EncounterRecorder
	log        DecisionLog
	events     EventPublisher
	timeout    time.Duration // per-agent tick budget
	parallel   int
	mu         sync.Mutex
	last       []Outcome
	logger     *zap.Logger
}

// NewHeartbeat creates a heartbeat listener. parallel bounds how many agents
// tick at once; zero means no bound.
func NewHeartbeat(engine Ticker, town *Town, states *StateManager, timeout time.Duration, parallel int, logger *zap.Logger) *Heartbeat {
	return &Heartbeat{
		engine:   engine,
		town:     town,
		states:   states,
		timeout:  timeout,
		parallel: parallel,
		logger:   logger,
	}
}

// SetEncounters enables encounter recording.
func (h *Heartbeat) SetEncounters(r EncounterRecorder) {
	h.encounters = r
}

// SetDecisionLog enables decision logging.
func (h *Heartbeat) SetDecisionLog(l DecisionLog) {
	h.log = l
}

// SetEvents enables event publishing.
func (h *Heartbeat) SetEvents(p EventPublisher) {
	h.events = p
}

// OnTick implements ClockListener.
func (h *Heartbeat) OnTick(ctx context.Context, worldTime time.Time) {
	outcomes := h.Beat(ctx, worldTime)
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	h.logger.Info("heartbeat",
		zap.Time("world_time", worldTime),
		zap.Int("agents", len(outcomes)),
		zap.Int("failed", failed))
}

// Beat ticks every agent concurrently at worldTime. One agent's failure
// does not affect the others.
func (h *Heartbeat) Beat(ctx context.Context, worldTime time.Time) []Outcome {
	ids := h.engine.IDs()
	outcomes := make([]Outcome, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	if h.parallel > 0 {
		g.SetLimit(h.parallel)
	}
	for i, id := range ids {
		g.Go(func() error {
			outcomes[i] = h.tickOne(gctx, id, worldTime)
			return nil
		})
	}
	_ = g.Wait()

	h.recordEncounters(ctx, worldTime)

	h.mu.Lock()
	h.last = outcomes
	h.mu.Unlock()
	return outcomes
}

// TickAgent ticks a single agent at worldTime outside the regular beat.
func (h *Heartbeat) TickAgent(ctx context.Context, agentID string, worldTime time.Time) (Outcome, error) {
	o := h.tickOne(ctx, agentID, worldTime)
	return o, o.Err
}

// Last returns the outcomes of the most recent beat.
func (h *Heartbeat) Last() []Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Outcome, len(h.last))
	copy(out, h.last)
	return out
}

func (h *Heartbeat) tickOne(ctx context.Context, id string, worldTime time.Time) Outcome {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	o := Outcome{AgentID: id}
	dec, err := h.engine.Tick(ctx, id, h.town.Observations(id), worldTime)
	if err != nil {
		o.Err = err
		level := h.logger.Warn
		if errors.Is(err, context.Canceled) {
			level = h.logger.Debug
		}
		level("agent tick failed", zap.String("agent", id), zap.Error(err))
	} else if !dec.Skipped {
		h.town.Apply(id, dec)
		if h.log != nil {
			if lerr := h.log.AppendDecision(ctx, id, worldTime, dec); lerr != nil {
				h.logger.Warn("append decision failed", zap.String("agent", id), zap.Error(lerr))
			}
		}
	}
	o.Decision = dec
	o.Location, _ = h.town.LocationOf(id)
	if h.events != nil && err == nil && !dec.Skipped {
		if perr := h.events.Publish(ctx, DecisionEvent(id, o.Location, worldTime, dec)); perr != nil {
			h.logger.Warn("publish event failed", zap.String("agent", id), zap.Error(perr))
		}
	}
	if h.states != nil && err == nil {
		o.State = h.states.Observe(id, dec)
	}
	return o
}

func (h *Heartbeat) recordEncounters(ctx context.Context, worldTime time.Time) {
	if h.encounters == nil {
		return
	}
	byPlace := make(map[string][]string)
	for id, loc := range h.town.View().Agents {
		byPlace[loc] = append(byPlace[loc], id)
	}
	for place, ids := range byPlace {
		sort.Strings(ids)
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				if err := h.encounters.RecordEncounter(ctx, ids[i], ids[j], place, worldTime); err != nil {
					h.logger.Warn("record encounter failed",
						zap.String("a", ids[i]), zap.String("b", ids[j]), zap.Error(err))
				}
			}
		}
	}
}
