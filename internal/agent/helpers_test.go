package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/kji7666/AI-agent-MVP/internal/memory"
	"github.com/kji7666/AI-agent-MVP/internal/planning"
	"github.com/kji7666/AI-agent-MVP/internal/provider"
)

var (
	klaus = Persona{ID: "klaus", Name: "Klaus", Role: "sociology student", Backstory: "Klaus lives in the dorm and likes a tidy room."}
	day   = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
)

func at(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

// routeGen answers by the first registered substring found in the prompt.
// Replies queued for a route are used in order; the last one repeats.
type routeGen struct {
	mu     sync.Mutex
	routes []route
	calls  int
	temps  []float64
}

type route struct {
	match   string
	replies []string
	err     error
}

func (g *routeGen) on(match string, replies ...string) *routeGen {
	g.routes = append(g.routes, route{match: match, replies: replies})
	return g
}

func (g *routeGen) fail(match string, err error) *routeGen {
	g.routes = append(g.routes, route{match: match, err: err})
	return g
}

func (g *routeGen) Generate(_ context.Context, msgs []provider.Message, temperature float64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.temps = append(g.temps, temperature)
	prompt := msgs[len(msgs)-1].Content
	for i := range g.routes {
		r := &g.routes[i]
		if !strings.Contains(prompt, r.match) {
			continue
		}
		if r.err != nil {
			return "", r.err
		}
		reply := r.replies[0]
		if len(r.replies) > 1 {
			r.replies = r.replies[1:]
		}
		return reply, nil
	}
	return "", errors.New("no route for prompt")
}

// fakeMemory stores records in a slice and returns the newest ones.
type fakeMemory struct {
	mu         sync.Mutex
	records    []memory.Record
	importance int
	queryErr   error
	queries    []string
}

func (m *fakeMemory) Insert(_ context.Context, content string, kind memory.Kind, _ ...memory.InsertOption) (memory.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	imp := m.importance
	if imp == 0 {
		imp = 1
	}
	rec := memory.Record{ID: content, Content: content, Kind: kind, Importance: imp}
	m.records = append(m.records, rec)
	return rec, nil
}

func (m *fakeMemory) Query(_ context.Context, text string, opts memory.QueryOptions) ([]memory.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, text)
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	k := opts.K
	if k <= 0 || k > len(m.records) {
		k = len(m.records)
	}
	return append([]memory.Record(nil), m.records[len(m.records)-k:]...), nil
}

func (m *fakeMemory) contents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return contents(m.records)
}

// fakePlanner returns canned plans and records what it was asked.
type fakePlanner struct {
	plan         []planning.PlanBlock
	planErr      error
	tasks        []planning.SubTask
	tasksErr     error
	revised      []planning.PlanBlock
	reviseErr    error
	created      int
	decomposed   []string
	decomposedAt []planning.SubTask
	revisions    []string
}

func (p *fakePlanner) CreateInitialPlan(context.Context, string, string, time.Time) ([]planning.PlanBlock, error) {
	p.created++
	if p.planErr != nil {
		return nil, p.planErr
	}
	return append([]planning.PlanBlock(nil), p.plan...), nil
}

func (p *fakePlanner) DecomposeActivity(_ context.Context, _ string, activity string, start, end time.Time) ([]planning.SubTask, error) {
	p.decomposed = append(p.decomposed, activity)
	p.decomposedAt = append(p.decomposedAt, planning.SubTask{StartTime: planning.FormatClock(start), EndTime: planning.FormatClock(end)})
	if p.tasksErr != nil {
		return nil, p.tasksErr
	}
	return append([]planning.SubTask(nil), p.tasks...), nil
}

func (p *fakePlanner) UpdatePlan(_ context.Context, _ string, current []planning.PlanBlock, _ time.Time, reason string) ([]planning.PlanBlock, error) {
	p.revisions = append(p.revisions, reason)
	if p.reviseErr != nil {
		return current, p.reviseErr
	}
	return append([]planning.PlanBlock(nil), p.revised...), nil
}

// fakeWorld knows a bedroom, a kitchen and a coffee machine.
type fakeWorld struct{}

func (fakeWorld) MapDescription() string {
	return "- bedroom: Bedroom (objects: bed)\n- kitchen: Kitchen (objects: coffee_machine)"
}
func (fakeWorld) IsLocation(id string) bool { return id == "bedroom" || id == "kitchen" }
func (fakeWorld) IsObject(id string) bool   { return id == "bed" || id == "coffee_machine" }
func (fakeWorld) LocationAliases() map[string]string {
	return map[string]string{"bedroom": "bedroom", "kitchen": "kitchen"}
}

var dayPlan = []planning.PlanBlock{
	{StartTime: "07:00", Activity: "Wake up and get ready", Location: "bedroom"},
	{StartTime: "09:00", Activity: "Research at the library", Location: "library"},
	{StartTime: "12:00", Activity: "Lunch", Location: "kitchen"},
}

const decisionJSON = `{"action": "making coffee in the kitchen", "emoji": "☕", "reason": "needs energy",
	"target_location_id": "kitchen", "target_object_id": "coffee_machine", "duration_minutes": 30, "replan": false}`

// decisionMatch is a fragment only the decision prompt contains.
const decisionMatch = `"duration_minutes"`
