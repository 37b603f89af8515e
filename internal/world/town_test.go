package world

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kji7666/AI-agent-MVP/internal/agent"
)

func newTestTown(t *testing.T) *Town {
	t.Helper()
	town, err := NewTown(DefaultMap(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := town.AddResident("klaus", "Klaus", "bedroom"); err != nil {
		t.Fatal(err)
	}
	if err := town.AddResident("maria", "Maria", "kitchen"); err != nil {
		t.Fatal(err)
	}
	return town
}

func TestNewTownRejectsBadMaps(t *testing.T) {
	tests := []struct {
		name string
		cfg  MapConfig
	}{
		{"empty", MapConfig{}},
		{"no id", MapConfig{Locations: []LocationConfig{{Name: "x"}}}},
		{"duplicate location", MapConfig{Locations: []LocationConfig{{ID: "a"}, {ID: "a"}}}},
		{"duplicate object", MapConfig{Locations: []LocationConfig{
			{ID: "a", Objects: []ObjectConfig{{ID: "o"}}},
			{ID: "b", Objects: []ObjectConfig{{ID: "o"}}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTown(tt.cfg, zap.NewNop()); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.json")
	data := `{"locations": [{"id": "cafe", "name": "Hobbs Cafe", "objects": [{"id": "counter", "name": "counter", "state": "clean"}]}]}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadMap(path)
	if err != nil {
		t.Fatal(err)
	}
	town, err := NewTown(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if !town.IsLocation("cafe") || !town.IsObject("counter") {
		t.Error("loaded map is missing entries")
	}
	if got := town.LocationAliases()["hobbs cafe"]; got != "cafe" {
		t.Errorf("alias for display name = %q", got)
	}

	if _, err := LoadMap(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestObservations(t *testing.T) {
	town := newTestTown(t)
	got := town.Observations("klaus")
	want := []string{
		"You are in the bedroom.",
		"There is a bed here, it is made.",
		"There is a desk here, it is messy.",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("observations = %q", got)
	}

	town.MoveAgent("klaus", "kitchen")
	got = town.Observations("klaus")
	if got[len(got)-1] != "Maria is here." {
		t.Errorf("observations = %q, want Maria last", got)
	}
	// Everything the town reports is routine for the filter.
	for _, o := range got {
		if !agent.IsRoutine(o) {
			t.Errorf("%q should be routine", o)
		}
	}

	if got := town.Observations("ghost"); len(got) != 1 {
		t.Errorf("unplaced agent observations = %q", got)
	}
}

func TestMapDescription(t *testing.T) {
	town := newTestTown(t)
	desc := town.MapDescription()
	for _, want := range []string{"- bedroom: bedroom", "coffee_machine (coffee machine, idle)", "- lecture_hall: lecture hall"} {
		if !strings.Contains(desc, want) {
			t.Errorf("map description missing %q:\n%s", want, desc)
		}
	}
	if strings.Index(desc, "bedroom") > strings.Index(desc, "kitchen") {
		t.Error("locations should keep map order")
	}
}

func TestSurroundings(t *testing.T) {
	town := newTestTown(t)
	aliases := town.LocationAliases()
	for alias, want := range map[string]string{
		"lecture hall": "lecture_hall",
		"lecture_hall": "lecture_hall",
		"classroom":    "lecture_hall",
		"kitchen":      "kitchen",
	} {
		if aliases[alias] != want {
			t.Errorf("alias %q = %q, want %q", alias, aliases[alias], want)
		}
	}
	if got := agent.ExtractTarget("Walking to the classroom", aliases); got != "lecture_hall" {
		t.Errorf("ExtractTarget = %q", got)
	}
	if town.IsLocation("bed") || !town.IsObject("bed") {
		t.Error("bed is an object, not a location")
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name      string
		dec       agent.Decision
		wantTgt   string
		wantLoc   string
		object    string
		wantState string
	}{
		{"location", agent.Decision{Action: "walking to the library", TargetLocationID: "library"}, "library", "library", "", ""},
		{"unknown location", agent.Decision{Action: "flying", TargetLocationID: "moon"}, "", "bedroom", "", ""},
		{"coffee", agent.Decision{Action: "making coffee", TargetObjectID: "coffee_machine"}, "coffee_machine", "kitchen", "coffee_machine", "brewing"},
		{"tidy desk", agent.Decision{Action: "tidying up the desk", TargetObjectID: "desk"}, "desk", "bedroom", "desk", "tidy"},
		{"sleep", agent.Decision{Action: "going to sleep", TargetObjectID: "bed"}, "bed", "bedroom", "bed", "in use"},
		{"no rule", agent.Decision{Action: "staring at", TargetObjectID: "projector"}, "projector", "lecture_hall", "projector", "off"},
		{"nothing", agent.Decision{Action: "thinking"}, "", "bedroom", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			town := newTestTown(t)
			if got := town.Apply("klaus", tt.dec); got != tt.wantTgt {
				t.Errorf("target = %q, want %q", got, tt.wantTgt)
			}
			if loc, _ := town.LocationOf("klaus"); loc != tt.wantLoc {
				t.Errorf("location = %q, want %q", loc, tt.wantLoc)
			}
			if tt.object == "" {
				return
			}
			for _, l := range town.View().Locations {
				for _, o := range l.Objects {
					if o.ID == tt.object && o.State != tt.wantState {
						t.Errorf("%s state = %q, want %q", o.ID, o.State, tt.wantState)
					}
				}
			}
		})
	}
}

func TestView(t *testing.T) {
	town := newTestTown(t)
	v := town.View()
	if len(v.Locations) != 4 || v.Locations[0].ID != "bedroom" {
		t.Errorf("locations = %+v", v.Locations)
	}
	if v.Agents["klaus"] != "bedroom" || v.Agents["maria"] != "kitchen" {
		t.Errorf("agents = %v", v.Agents)
	}
	// Snapshots are detached from the town.
	v.Locations[0].Objects[0].State = "burning"
	if strings.Contains(town.MapDescription(), "burning") {
		t.Error("view mutation leaked into the town")
	}
}

func TestResolve(t *testing.T) {
	town := newTestTown(t)
	if got, ok := town.Resolve("kitchen"); !ok || got.Kind != "location" {
		t.Errorf("Resolve(kitchen) = %+v, %v", got, ok)
	}
	got, ok := town.Resolve("coffee_machine")
	if !ok || got.Kind != "object" || got.Location != "kitchen" || got.State != "idle" {
		t.Errorf("Resolve(coffee_machine) = %+v, %v", got, ok)
	}
	if _, ok := town.Resolve("moon"); ok {
		t.Error("unknown id should not resolve")
	}
}
