package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kji7666/AI-agent-MVP/internal/agent"
	"github.com/kji7666/AI-agent-MVP/internal/provider"
	"github.com/kji7666/AI-agent-MVP/internal/store"
	"github.com/kji7666/AI-agent-MVP/internal/world"
)

const (
	defaultRecallK = 5
	maxRecallK     = 50

	eventWriteTimeout = 10 * time.Second
)

// DecisionHistory reads the decision log.
type DecisionHistory interface {
	RecentDecisions(ctx context.Context, agentID string, limit int) ([]store.DecisionEntry, error)
}

// RelationSource reads the encounter graph.
type RelationSource interface {
	Relations(ctx context.Context, agentID string) ([]world.Relation, error)
}

// UsageSource reports model traffic per role.
type UsageSource interface {
	Stats() map[string]provider.RoleStats
}

// EventSource streams town events.
type EventSource interface {
	Subscribe(ctx context.Context, agentID string) <-chan world.Event
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	engine    *agent.Engine
	town      *world.Town
	clock     *world.WorldClock
	heartbeat *world.Heartbeat
	states    *world.StateManager
	history   DecisionHistory
	relations RelationSource
	events    EventSource
	usage     UsageSource
	logger    *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	engine *agent.Engine,
	town *world.Town,
	clock *world.WorldClock,
	heartbeat *world.Heartbeat,
	states *world.StateManager,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		engine:    engine,
		town:      town,
		clock:     clock,
		heartbeat: heartbeat,
		states:    states,
		logger:    logger,
	}
}

// SetHistory enables the decision log endpoint.
func (h *Handler) SetHistory(d DecisionHistory) { h.history = d }

// SetRelations enables the relations endpoint.
func (h *Handler) SetRelations(r RelationSource) { h.relations = r }

// SetEvents enables the event stream endpoint.
func (h *Handler) SetEvents(e EventSource) { h.events = e }

// SetUsage enables the model usage endpoint.
func (h *Handler) SetUsage(u UsageSource) { h.usage = u }

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/world/map", h.worldMap)
		r.Get("/world/status", h.worldStatus)
		r.Post("/world/step", h.stepWorld)
		r.Get("/events", h.streamEvents)
		r.Get("/models/usage", h.modelUsage)

		r.Get("/agents", h.listAgents)
		r.Get("/agents/{id}", h.getAgent)
		r.Post("/agents/{id}/tick", h.tickAgent)
		r.Get("/agents/{id}/state", h.getAgentState)
		r.Get("/agents/{id}/memories", h.getAgentMemories)
		r.Get("/agents/{id}/decisions", h.getAgentDecisions)
		r.Get("/agents/{id}/relations", h.getAgentRelations)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"agents":     len(h.engine.IDs()),
		"world_time": h.clock.WorldTime(),
	})
}

func (h *Handler) worldMap(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.town.View())
}

func (h *Handler) worldStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"world_time": h.clock.WorldTime(),
		"states":     h.states.States(),
		"last_beat":  h.heartbeat.Last(),
	})
}

func (h *Handler) stepWorld(w http.ResponseWriter, r *http.Request) {
	ran := h.clock.Step(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"ran_at":     ran,
		"world_time": h.clock.WorldTime(),
		"outcomes":   h.heartbeat.Last(),
	})
}

func (h *Handler) modelUsage(w http.ResponseWriter, r *http.Request) {
	if h.usage == nil {
		writeJSON(w, http.StatusOK, map[string]provider.RoleStats{})
		return
	}
	writeJSON(w, http.StatusOK, h.usage.Stats())
}

// agentView is an agent snapshot with its place in the town.
type agentView struct {
	agent.Snapshot
	Location string           `json:"location"`
	Activity world.AgentState `json:"activity"`
}

func (h *Handler) view(s agent.Snapshot) agentView {
	loc, _ := h.town.LocationOf(s.Persona.ID)
	return agentView{Snapshot: s, Location: loc, Activity: h.states.GetState(s.Persona.ID)}
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	snaps := h.engine.List()
	out := make([]agentView, len(snaps))
	for i, s := range snaps {
		out[i] = h.view(s)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Snapshot(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(snap))
}

type tickRequest struct {
	// Observations replace the town's view for this tick when set.
	Observations []string `json:"observations"`
}

type tickResponse struct {
	WorldTime time.Time      `json:"world_time"`
	Location  string         `json:"location"`
	Decision  agent.Decision `json:"decision"`
}

func (h *Handler) tickAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req tickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	now := h.clock.WorldTime()
	var (
		dec agent.Decision
		err error
	)
	if len(req.Observations) > 0 {
		dec, err = h.engine.Tick(r.Context(), id, req.Observations, now)
		if err == nil && !dec.Skipped {
			h.town.Apply(id, dec)
		}
	} else {
		var o world.Outcome
		o, err = h.heartbeat.TickAgent(r.Context(), id, now)
		dec = o.Decision
	}
	if err != nil {
		writeError(w, err)
		return
	}
	loc, _ := h.town.LocationOf(id)
	writeJSON(w, http.StatusOK, tickResponse{WorldTime: now, Location: loc, Decision: dec})
}

func (h *Handler) getAgentState(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Snapshot(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state": snap.State,
		"busy":  snap.State.Busy(h.clock.WorldTime()),
	})
}

func (h *Handler) getAgentMemories(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q is required"})
		return
	}
	k := defaultRecallK
	if s := r.URL.Query().Get("k"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxRecallK {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "k must be between 1 and 50"})
			return
		}
		k = n
	}
	recs, err := h.engine.Recall(r.Context(), chi.URLParam(r, "id"), q, k, h.clock.WorldTime())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) getAgentDecisions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.engine.Snapshot(id); err != nil {
		writeError(w, err)
		return
	}
	if h.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "decision log not configured"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.history.RecentDecisions(r.Context(), id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) getAgentRelations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.engine.Snapshot(id); err != nil {
		writeError(w, err)
		return
	}
	if h.relations == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "relation graph not configured"})
		return
	}
	rels, err := h.relations.Relations(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rels)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamEvents relays town events over a websocket until either side
// closes. ?agent= filters to one agent.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event stream not configured"})
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for ev := range h.events.Subscribe(ctx, r.URL.Query().Get("agent")) {
		conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			h.logger.Debug("event write failed", zap.Error(err))
			return
		}
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, agent.ErrAgentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, agent.ErrNoMemory):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, provider.ErrTimeout):
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
