package agent

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kji7666/AI-agent-MVP/internal/planning"
)

func newTestController(mem *fakeMemory, planner *fakePlanner, gen *routeGen, cfg Config) *Controller {
	return NewController(klaus, Deps{Memory: mem, Planner: planner, Generator: gen}, cfg, zap.NewNop())
}

func TestPerceive_BusyGating(t *testing.T) {
	busy := at(9, 30)
	st := State{
		DailyPlan:            dayPlan,
		ShortTermPlan:        []planning.SubTask{{StartTime: "09:00", EndTime: "09:45", Description: "Find sources"}},
		BusyUntil:            &busy,
		CurrentBlockActivity: "Research at the library",
		PlanDate:             "2025-06-01",
	}

	t.Run("routine", func(t *testing.T) {
		mem, planner := &fakeMemory{}, &fakePlanner{}
		c := newTestController(mem, planner, &routeGen{}, Config{})
		got := c.Perceive(context.Background(), st, []string{"You are in the library.", "There is a bookshelf here, it is full."}, at(9, 15))
		if !got.SkipThinking {
			t.Fatal("routine observations while busy should skip thinking")
		}
		if len(got.DailyPlan) != 3 || len(got.ShortTermPlan) != 1 || got.BusyUntil == nil {
			t.Errorf("plans must be untouched: %+v", got)
		}
		if planner.created+len(planner.decomposed) != 0 {
			t.Error("planner must not be called on the skip path")
		}
		if len(mem.records) != 2 {
			t.Errorf("observations should still be stored, got %d", len(mem.records))
		}
	})

	t.Run("novel", func(t *testing.T) {
		c := newTestController(&fakeMemory{}, &fakePlanner{}, &routeGen{}, Config{})
		got := c.Perceive(context.Background(), st, []string{"You are in the library.", "Maria says: Klaus, can you help me?"}, at(9, 15))
		if got.SkipThinking {
			t.Fatal("a novel observation must not be skipped")
		}
		if got.BusyUntil != nil {
			t.Error("busyUntil should be cleared after an interrupt")
		}
	})

	t.Run("no longer busy", func(t *testing.T) {
		c := newTestController(&fakeMemory{}, &fakePlanner{}, &routeGen{}, Config{})
		got := c.Perceive(context.Background(), st, []string{"You are in the library."}, busy)
		if got.SkipThinking {
			t.Fatal("busyUntil is exclusive")
		}
	})
}

func TestPerceive_BlockTransitionClearsShortTermPlan(t *testing.T) {
	st := State{
		DailyPlan:            dayPlan,
		ShortTermPlan:        []planning.SubTask{{StartTime: "07:00", EndTime: "07:30", Description: "Shower"}},
		CurrentBlockActivity: "Wake up and get ready",
		PlanDate:             "2025-06-01",
	}
	planner := &fakePlanner{tasksErr: errors.New("model down")}
	c := newTestController(&fakeMemory{}, planner, &routeGen{}, Config{})

	got := c.Perceive(context.Background(), st, nil, at(9, 10))
	if len(got.ShortTermPlan) != 0 {
		t.Errorf("short-term plan of the previous block must be discarded, got %+v", got.ShortTermPlan)
	}
	if got.CurrentBlockActivity != "Research at the library" {
		t.Errorf("current block = %q", got.CurrentBlockActivity)
	}
	if len(planner.decomposed) != 1 || planner.decomposed[0] != "Research at the library" {
		t.Fatalf("decomposed %v", planner.decomposed)
	}
	if w := planner.decomposedAt[0]; w.StartTime != "09:00" || w.EndTime != "12:00" {
		t.Errorf("decomposition window = %s-%s, want 09:00-12:00", w.StartTime, w.EndTime)
	}
	if len(st.ShortTermPlan) != 1 {
		t.Error("input state must not be modified")
	}
}

func TestPerceive_SameBlockKeepsShortTermPlan(t *testing.T) {
	tasks := []planning.SubTask{{StartTime: "09:00", EndTime: "09:45", Description: "Find sources"}}
	st := State{DailyPlan: dayPlan, ShortTermPlan: tasks, CurrentBlockActivity: "Research at the library", PlanDate: "2025-06-01"}
	planner := &fakePlanner{}
	c := newTestController(&fakeMemory{}, planner, &routeGen{}, Config{})

	got := c.Perceive(context.Background(), st, nil, at(9, 20))
	if len(got.ShortTermPlan) != 1 || got.ShortTermPlan[0] != tasks[0] {
		t.Errorf("short-term plan = %+v", got.ShortTermPlan)
	}
	if len(planner.decomposed) != 0 {
		t.Error("no decomposition expected within the same block")
	}
}

func TestPerceive_LastBlockEndsAfterSpan(t *testing.T) {
	planner := &fakePlanner{plan: dayPlan}
	c := newTestController(&fakeMemory{}, planner, &routeGen{}, Config{LastBlockSpan: 90 * time.Minute})
	c.Perceive(context.Background(), State{}, nil, at(12, 30))
	if w := planner.decomposedAt[0]; w.EndTime != "13:30" {
		t.Errorf("last block end = %s, want 13:30", w.EndTime)
	}
}

func TestPerceive_NoActiveBlock(t *testing.T) {
	planner := &fakePlanner{plan: dayPlan}
	c := newTestController(&fakeMemory{}, planner, &routeGen{}, Config{})
	got := c.Perceive(context.Background(), State{}, nil, at(6, 0))
	if len(got.DailyPlan) != 3 {
		t.Fatalf("plan not created: %+v", got.DailyPlan)
	}
	if len(planner.decomposed) != 0 || got.CurrentBlockActivity != "" {
		t.Errorf("nothing should be active before the first block: %+v", got)
	}
}

func TestPerceive_DayRollover(t *testing.T) {
	st := State{
		DailyPlan:            dayPlan,
		ShortTermPlan:        []planning.SubTask{{StartTime: "12:00", EndTime: "12:30", Description: "Eat"}},
		CurrentBlockActivity: "Lunch",
		PlanDate:             "2025-05-31",
	}
	fresh := []planning.PlanBlock{{StartTime: "07:30", Activity: "Morning run", Location: "park"}}
	planner := &fakePlanner{plan: fresh}
	c := newTestController(&fakeMemory{}, planner, &routeGen{}, Config{})

	got := c.Perceive(context.Background(), st, nil, at(8, 0))
	if planner.created != 1 {
		t.Fatalf("a new day should trigger planning, created=%d", planner.created)
	}
	if len(got.DailyPlan) != 1 || got.DailyPlan[0].Activity != "Morning run" {
		t.Errorf("daily plan = %+v", got.DailyPlan)
	}
	if got.PlanDate != "2025-06-01" {
		t.Errorf("plan date = %q", got.PlanDate)
	}
}

func TestPerceive_PlanningFailureLeavesEmptyPlan(t *testing.T) {
	planner := &fakePlanner{planErr: errors.New("model down")}
	c := newTestController(&fakeMemory{}, planner, &routeGen{}, Config{})
	got := c.Perceive(context.Background(), State{}, []string{"You are in the bedroom."}, at(8, 0))
	if len(got.DailyPlan) != 0 || got.PlanDate != "" {
		t.Errorf("failed planning should leave no plan: %+v", got)
	}
}

func TestReact_Decision(t *testing.T) {
	mem := &fakeMemory{}
	gen := (&routeGen{}).on(decisionMatch, decisionJSON)
	c := NewController(klaus, Deps{Memory: mem, Planner: &fakePlanner{}, Generator: gen, World: fakeWorld{}}, Config{}, zap.NewNop())
	now := at(8, 0)

	st, dec := c.React(context.Background(), State{DailyPlan: dayPlan}, []string{"You are in the kitchen."}, nil, now)
	if dec.Action != "making coffee in the kitchen" || dec.Emoji != "☕" {
		t.Errorf("decision = %+v", dec)
	}
	if dec.TargetLocationID != "kitchen" || dec.TargetObjectID != "coffee_machine" {
		t.Errorf("targets = %q / %q", dec.TargetLocationID, dec.TargetObjectID)
	}
	want := now.Add(30 * time.Minute)
	if st.BusyUntil == nil || !st.BusyUntil.Equal(want) {
		t.Errorf("busyUntil = %v, want %v", st.BusyUntil, want)
	}
	if gen.temps[0] != 0.4 {
		t.Errorf("temperature = %v", gen.temps[0])
	}
	found := false
	for _, c := range mem.contents() {
		if c == "Klaus is making coffee in the kitchen" {
			found = true
		}
	}
	if !found {
		t.Errorf("action memory missing: %v", mem.contents())
	}
}

func TestReact_DurationClamp(t *testing.T) {
	tests := []struct {
		reply string
		want  time.Duration
	}{
		{`{"action": "stretching", "duration_minutes": 5}`, 15 * time.Minute},
		{`{"action": "stretching", "duration_minutes": "45"}`, 45 * time.Minute},
		{`{"action": "stretching"}`, 15 * time.Minute},
		{`{"action": "stretching", "duration_minutes": -10}`, 15 * time.Minute},
	}
	for _, tt := range tests {
		gen := (&routeGen{}).on(decisionMatch, tt.reply)
		c := newTestController(&fakeMemory{}, &fakePlanner{}, gen, Config{})
		st, dec := c.React(context.Background(), State{}, nil, nil, at(8, 0))
		if st.BusyUntil == nil || st.BusyUntil.Sub(at(8, 0)) != tt.want {
			t.Errorf("%s: busy for %v, want %v", tt.reply, st.BusyUntil, tt.want)
		}
		if dec.DurationMinutes != int(tt.want/time.Minute) {
			t.Errorf("%s: duration = %d", tt.reply, dec.DurationMinutes)
		}
	}
}

func TestReact_RetriesThenIdle(t *testing.T) {
	gen := (&routeGen{}).on(decisionMatch, "I think I'll make coffee.", `{"emoji": "☕"}`, "{broken")
	busy := at(7, 0)
	c := newTestController(&fakeMemory{}, &fakePlanner{}, gen, Config{})

	st, dec := c.React(context.Background(), State{DailyPlan: dayPlan, BusyUntil: &busy}, nil, nil, at(8, 0))
	if gen.calls != 3 {
		t.Errorf("got %d attempts, want 3", gen.calls)
	}
	if !dec.Idle || dec.Action != idleAction || dec.Emoji != idleEmoji {
		t.Errorf("decision = %+v, want idle fallback", dec)
	}
	if st.BusyUntil != nil {
		t.Error("idle fallback must clear busyUntil")
	}
	if len(st.DailyPlan) != 3 {
		t.Error("idle fallback must keep the plan")
	}
}

func TestReact_RecoversOnRetry(t *testing.T) {
	gen := (&routeGen{}).on(decisionMatch, "not json", decisionJSON)
	c := newTestController(&fakeMemory{}, &fakePlanner{}, gen, Config{})
	_, dec := c.React(context.Background(), State{}, nil, nil, at(8, 0))
	if dec.Idle || gen.calls != 2 {
		t.Errorf("decision = %+v after %d calls", dec, gen.calls)
	}
}

func TestReact_ReplanClearsShortTermPlan(t *testing.T) {
	revised := []planning.PlanBlock{{StartTime: "08:30", Activity: "Help Maria move", Location: "dorm"}}
	planner := &fakePlanner{revised: revised}
	gen := (&routeGen{}).on(decisionMatch, `{"action": "helping Maria carry boxes", "emoji": "📦", "duration_minutes": 60, "replan": true}`)
	c := newTestController(&fakeMemory{}, planner, gen, Config{})
	st := State{DailyPlan: dayPlan, ShortTermPlan: []planning.SubTask{{StartTime: "08:00", EndTime: "08:30", Description: "Shower"}}}

	got, dec := c.React(context.Background(), st, nil, nil, at(8, 0))
	if !dec.Replan {
		t.Fatal("decision should carry the replan flag")
	}
	if len(got.ShortTermPlan) != 0 {
		t.Errorf("short-term plan = %+v, want empty", got.ShortTermPlan)
	}
	if len(got.DailyPlan) != 1 || got.DailyPlan[0] != revised[0] {
		t.Errorf("daily plan = %+v, want revised", got.DailyPlan)
	}
	if len(planner.revisions) != 1 || planner.revisions[0] != "helping Maria carry boxes" {
		t.Errorf("deviation reason = %v", planner.revisions)
	}
}

func TestReact_ReplanFailureKeepsPlans(t *testing.T) {
	planner := &fakePlanner{reviseErr: errors.New("model down")}
	gen := (&routeGen{}).on(decisionMatch, `{"action": "running outside", "duration_minutes": 20, "replan": true}`)
	c := newTestController(&fakeMemory{}, planner, gen, Config{})
	tasks := []planning.SubTask{{StartTime: "08:00", EndTime: "08:10", Description: "Shower"}}

	got, _ := c.React(context.Background(), State{DailyPlan: dayPlan, ShortTermPlan: tasks}, nil, nil, at(8, 0))
	if len(got.DailyPlan) != 3 || len(got.ShortTermPlan) != 1 {
		t.Errorf("failed replan must keep both plans: %+v", got)
	}
}

func TestReact_SubTaskCompletion(t *testing.T) {
	tasks := []planning.SubTask{
		{StartTime: "08:00", EndTime: "08:30", Description: "Shower"},
		{StartTime: "08:30", EndTime: "09:00", Description: "Breakfast"},
	}
	tests := []struct {
		name     string
		head     string
		duration int
		want     int
	}{
		{"finishes after end", "08:30", 45, 1},
		{"finishes exactly at end", "08:30", 30, 1},
		{"still in progress", "08:30", 15, 2},
		{"unreadable end", "half past", 120, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := append([]planning.SubTask(nil), tasks...)
			plan[0].EndTime = tt.head
			gen := (&routeGen{}).on(decisionMatch, `{"action": "showering", "duration_minutes": `+strconv.Itoa(tt.duration)+`}`)
			c := newTestController(&fakeMemory{}, &fakePlanner{}, gen, Config{})

			got, _ := c.React(context.Background(), State{ShortTermPlan: plan}, nil, nil, at(8, 0))
			if len(got.ShortTermPlan) != tt.want {
				t.Fatalf("short-term plan has %d items, want %d", len(got.ShortTermPlan), tt.want)
			}
			if tt.want == 1 && got.ShortTermPlan[0].Description != "Breakfast" {
				t.Errorf("head = %q, want Breakfast", got.ShortTermPlan[0].Description)
			}
		})
	}
}

func TestReact_SubTaskAcrossMidnight(t *testing.T) {
	tasks := []planning.SubTask{
		{StartTime: "23:15", EndTime: "00:30", Description: "Read in bed"},
		{StartTime: "00:30", EndTime: "01:00", Description: "Sleep"},
	}
	gen := (&routeGen{}).on(decisionMatch, `{"action": "reading in bed", "duration_minutes": 15}`)
	c := newTestController(&fakeMemory{}, &fakePlanner{}, gen, Config{})

	got, _ := c.React(context.Background(), State{ShortTermPlan: tasks}, nil, nil, at(23, 30))
	if len(got.ShortTermPlan) != 2 {
		t.Fatalf("short-term plan = %+v, want the midnight sub-task kept", got.ShortTermPlan)
	}
}

func TestReact_DurationIsCapped(t *testing.T) {
	gen := (&routeGen{}).on(decisionMatch, `{"action": "hibernating", "duration_minutes": 200000000}`)
	c := newTestController(&fakeMemory{}, &fakePlanner{}, gen, Config{})

	got, dec := c.React(context.Background(), State{}, nil, nil, at(8, 0))
	if dec.DurationMinutes != 24*60 {
		t.Errorf("duration = %d minutes, want %d", dec.DurationMinutes, 24*60)
	}
	if want := at(8, 0).Add(24 * time.Hour); got.BusyUntil == nil || !got.BusyUntil.Equal(want) {
		t.Errorf("busy until = %v, want %v", got.BusyUntil, want)
	}
}

func TestReact_TargetResolution(t *testing.T) {
	tests := []struct {
		reply   string
		wantLoc string
		wantObj string
	}{
		{`{"action": "walking to the kitchen", "target_location_id": "moon"}`, "kitchen", ""},
		{`{"action": "reading", "target_object_id": "spaceship"}`, "", ""},
		{`{"action": "making the bed", "target_object_id": "bed"}`, "", "bed"},
	}
	for _, tt := range tests {
		gen := (&routeGen{}).on(decisionMatch, tt.reply)
		c := NewController(klaus, Deps{Memory: &fakeMemory{}, Planner: &fakePlanner{}, Generator: gen, World: fakeWorld{}}, Config{}, zap.NewNop())
		_, dec := c.React(context.Background(), State{}, nil, nil, at(8, 0))
		if dec.TargetLocationID != tt.wantLoc || dec.TargetObjectID != tt.wantObj {
			t.Errorf("%s: got %q/%q, want %q/%q", tt.reply, dec.TargetLocationID, dec.TargetObjectID, tt.wantLoc, tt.wantObj)
		}
	}
}

func TestTick_SkippedDecision(t *testing.T) {
	busy := at(9, 0)
	prev := State{Version: 4, DailyPlan: dayPlan, BusyUntil: &busy, Action: "reading", Emoji: "📖", PlanDate: "2025-06-01"}
	gen := &routeGen{}
	c := newTestController(&fakeMemory{}, &fakePlanner{}, gen, Config{})

	st, dec, err := c.Tick(context.Background(), prev, []string{"You are in the library."}, at(8, 30))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dec.Skipped || dec.Action != "reading" || dec.Emoji != "📖" {
		t.Errorf("decision = %+v", dec)
	}
	if gen.calls != 0 {
		t.Error("a skipped tick must not call the model")
	}
	if st.Version != 5 {
		t.Errorf("version = %d, want 5", st.Version)
	}
	if dec.Trace == nil || dec.Trace.Steps[len(dec.Trace.Steps)-1].Type != StepSkip {
		t.Error("trace should end with the skip step")
	}
}

func TestTick_RetrieveFailure(t *testing.T) {
	mem := &fakeMemory{queryErr: errors.New("store down")}
	gen := (&routeGen{}).on(decisionMatch, decisionJSON)
	c := newTestController(mem, &fakePlanner{plan: dayPlan}, gen, Config{})
	prev := State{Version: 2}

	st, _, err := c.Tick(context.Background(), prev, []string{"You are in the bedroom."}, at(8, 0))
	if err == nil {
		t.Fatal("retrieval failure must fail the tick")
	}
	if st.Version != 2 || len(st.DailyPlan) != 0 {
		t.Errorf("failed tick should return the input state, got %+v", st)
	}
	if gen.calls != 0 {
		t.Error("react must not run without context")
	}
}

func TestTick_RetrieveQuery(t *testing.T) {
	mem := &fakeMemory{}
	gen := (&routeGen{}).on(decisionMatch, decisionJSON)
	c := newTestController(mem, &fakePlanner{plan: dayPlan}, gen, Config{})

	if _, _, err := c.Tick(context.Background(), State{}, []string{"You are in the bedroom.", "There is a bed here."}, at(8, 0)); err != nil {
		t.Fatal(err)
	}
	want := "Context: You are in the bedroom., There is a bed here.. What should Klaus do next?"
	if len(mem.queries) != 1 || mem.queries[0] != want {
		t.Errorf("queries = %q", mem.queries)
	}
}

func TestTick_Reflection(t *testing.T) {
	mem := &fakeMemory{importance: 6}
	gen := (&routeGen{}).
		on(decisionMatch, decisionJSON).
		on("high-level insights", "1. Klaus values a tidy room.\n- Klaus drinks a lot of coffee.\nok\nKlaus is close to Maria.\nKlaus is tired.")
	reflector := NewReflector(gen, mem, zap.NewNop())
	c := NewController(klaus, Deps{Memory: mem, Planner: &fakePlanner{plan: dayPlan}, Generator: gen, Reflector: reflector},
		Config{ReflectThreshold: 15}, zap.NewNop())

	st, dec, err := c.Tick(context.Background(), State{}, []string{"You are in the kitchen.", "There is a kettle here."}, at(8, 0))
	if err != nil {
		t.Fatal(err)
	}
	if st.PendingImportance != 0 {
		t.Errorf("pending importance = %d, want reset after reflecting", st.PendingImportance)
	}
	var insights []string
	for _, r := range mem.records {
		if r.Kind == "reflection" {
			insights = append(insights, r.Content)
		}
	}
	if len(insights) != 3 || insights[0] != "Klaus values a tidy room." || insights[1] != "Klaus drinks a lot of coffee." {
		t.Errorf("insights = %q", insights)
	}
	last := dec.Trace.Steps[len(dec.Trace.Steps)-1]
	if last.Type != StepReflect {
		t.Errorf("last step = %s, want reflect", last.Type)
	}
}

func TestTick_BelowReflectionThreshold(t *testing.T) {
	mem := &fakeMemory{importance: 2}
	gen := (&routeGen{}).on(decisionMatch, decisionJSON)
	c := NewController(klaus, Deps{Memory: mem, Planner: &fakePlanner{plan: dayPlan}, Generator: gen, Reflector: NewReflector(gen, mem, zap.NewNop())},
		Config{ReflectThreshold: 100}, zap.NewNop())

	st, _, err := c.Tick(context.Background(), State{}, []string{"You are in the kitchen."}, at(8, 0))
	if err != nil {
		t.Fatal(err)
	}
	if st.PendingImportance != 4 {
		t.Errorf("pending importance = %d, want 4 (observation + action)", st.PendingImportance)
	}
}

func TestParseDecision(t *testing.T) {
	dec, err := parseDecision("Here you go:\n```json\n" + decisionJSON + "\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.DurationMinutes != 30 || dec.TargetObjectID != "coffee_machine" {
		t.Errorf("decision = %+v", dec)
	}

	_, err = parseDecision(`{"action": "  "}`)
	var pe *ParseError
	if !errors.As(err, &pe) || !strings.Contains(err.Error(), "missing action") {
		t.Errorf("got %v, want missing action ParseError", err)
	}
}
