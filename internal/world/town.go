package world

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kji7666/AI-agent-MVP/internal/agent"
)

// MapConfig describes the town layout.
type MapConfig struct {
	Locations []LocationConfig `json:"locations"`
}

// LocationConfig is one place in the town.
type LocationConfig struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Aliases []string       `json:"aliases,omitempty"`
	Objects []ObjectConfig `json:"objects"`
}

// ObjectConfig is an interactive object inside a location.
type ObjectConfig struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// DefaultMap is a small student dorm.
func DefaultMap() MapConfig {
	return MapConfig{Locations: []LocationConfig{
		{ID: "bedroom", Name: "bedroom", Aliases: []string{"bed room", "dorm room"}, Objects: []ObjectConfig{
			{ID: "bed", Name: "bed", State: "made"},
			{ID: "desk", Name: "desk", State: "messy"},
		}},
		{ID: "kitchen", Name: "kitchen", Objects: []ObjectConfig{
			{ID: "stove", Name: "stove", State: "off"},
			{ID: "fridge", Name: "fridge", State: "full"},
			{ID: "coffee_machine", Name: "coffee machine", State: "idle"},
		}},
		{ID: "library", Name: "library", Objects: []ObjectConfig{
			{ID: "bookshelf", Name: "bookshelf", State: "full"},
		}},
		{ID: "lecture_hall", Name: "lecture hall", Aliases: []string{"classroom", "lecture"}, Objects: []ObjectConfig{
			{ID: "projector", Name: "projector", State: "off"},
		}},
	}}
}

// LoadMap reads a MapConfig from a JSON file.
func LoadMap(path string) (MapConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MapConfig{}, fmt.Errorf("read map: %w", err)
	}
	var cfg MapConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return MapConfig{}, fmt.Errorf("parse map: %w", err)
	}
	return cfg, nil
}

// Object is an interactive thing in the town.
type Object struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	State    string `json:"state"`
	Location string `json:"location"`
}

// Location is a place agents can be in.
type Location struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Objects []string `json:"objects"`
}

// Town is the in-memory world: places, objects and where each agent is.
// It is safe for concurrent use.
type Town struct {
	mu        sync.RWMutex
	order     []string
	locations map[string]*Location
	objects   map[string]*Object
	aliases   map[string]string
	positions map[string]string // agentID -> location id
	names     map[string]string // agentID -> display name
	logger    *zap.Logger
}

var _ agent.Surroundings = (*Town)(nil)

// NewTown builds a town from cfg. Location and object ids must be unique.
func NewTown(cfg MapConfig, logger *zap.Logger) (*Town, error) {
	t := &Town{
		locations: make(map[string]*Location),
		objects:   make(map[string]*Object),
		aliases:   make(map[string]string),
		positions: make(map[string]string),
		names:     make(map[string]string),
		logger:    logger,
	}
	for _, lc := range cfg.Locations {
		if lc.ID == "" {
			return nil, fmt.Errorf("location without id")
		}
		if _, dup := t.locations[lc.ID]; dup {
			return nil, fmt.Errorf("duplicate location %q", lc.ID)
		}
		name := lc.Name
		if name == "" {
			name = lc.ID
		}
		loc := &Location{ID: lc.ID, Name: name}
		for _, oc := range lc.Objects {
			if _, dup := t.objects[oc.ID]; dup || oc.ID == "" {
				return nil, fmt.Errorf("invalid or duplicate object %q", oc.ID)
			}
			oname := oc.Name
			if oname == "" {
				oname = oc.ID
			}
			t.objects[oc.ID] = &Object{ID: oc.ID, Name: oname, State: oc.State, Location: lc.ID}
			loc.Objects = append(loc.Objects, oc.ID)
		}
		t.locations[lc.ID] = loc
		t.order = append(t.order, lc.ID)

		for _, a := range append([]string{lc.ID, name, strings.ReplaceAll(lc.ID, "_", " ")}, lc.Aliases...) {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				t.aliases[a] = lc.ID
			}
		}
	}
	if len(t.order) == 0 {
		return nil, fmt.Errorf("town has no locations")
	}
	return t, nil
}

// AddResident places an agent in the town.
func (t *Town) AddResident(agentID, name, locationID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.locations[locationID]; !ok {
		return fmt.Errorf("unknown location %q", locationID)
	}
	t.positions[agentID] = locationID
	t.names[agentID] = name
	return nil
}

// MoveAgent moves an agent to a location. Unknown locations are ignored.
func (t *Town) MoveAgent(agentID, locationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.locations[locationID]; !ok {
		return false
	}
	if prev := t.positions[agentID]; prev != locationID {
		t.positions[agentID] = locationID
		t.logger.Info("agent moved", zap.String("agent", agentID), zap.String("from", prev), zap.String("to", locationID))
	}
	return true
}

// SetObjectState changes an object's state.
func (t *Town) SetObjectState(objectID, state string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	obj, ok := t.objects[objectID]
	if !ok {
		return false
	}
	if obj.State != state {
		t.logger.Info("object state changed", zap.String("object", objectID),
			zap.String("from", obj.State), zap.String("to", state))
		obj.State = state
	}
	return true
}

// LocationOf returns the agent's location id.
func (t *Town) LocationOf(agentID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	loc, ok := t.positions[agentID]
	return loc, ok
}

// Observations describes what the agent perceives at its location.
func (t *Town) Observations(agentID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	locID, ok := t.positions[agentID]
	loc := t.locations[locID]
	if !ok || loc == nil {
		return []string{"You are not in any known place."}
	}

	obs := []string{fmt.Sprintf("You are in the %s.", loc.Name)}
	for _, id := range loc.Objects {
		obj := t.objects[id]
		if obj.State != "" {
			obs = append(obs, fmt.Sprintf("There is a %s here, it is %s.", obj.Name, obj.State))
		} else {
			obs = append(obs, fmt.Sprintf("There is a %s here.", obj.Name))
		}
	}
	for _, other := range t.colocatedLocked(agentID) {
		obs = append(obs, fmt.Sprintf("%s is here.", t.names[other]))
	}
	return obs
}

// Colocated returns the ids of other agents at the same location, sorted.
func (t *Town) Colocated(agentID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.colocatedLocked(agentID)
}

func (t *Town) colocatedLocked(agentID string) []string {
	here, ok := t.positions[agentID]
	if !ok {
		return nil
	}
	var out []string
	for id, loc := range t.positions {
		if id != agentID && loc == here {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// MapDescription lists every location with its objects and their ids.
func (t *Town) MapDescription() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var b strings.Builder
	for _, id := range t.order {
		loc := t.locations[id]
		fmt.Fprintf(&b, "- %s: %s", loc.ID, loc.Name)
		if len(loc.Objects) > 0 {
			parts := make([]string, len(loc.Objects))
			for i, oid := range loc.Objects {
				obj := t.objects[oid]
				parts[i] = fmt.Sprintf("%s (%s, %s)", obj.ID, obj.Name, obj.State)
			}
			fmt.Fprintf(&b, "; objects: %s", strings.Join(parts, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// IsLocation implements agent.Surroundings.
func (t *Town) IsLocation(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.locations[id]
	return ok
}

// IsObject implements agent.Surroundings.
func (t *Town) IsObject(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.objects[id]
	return ok
}

// LocationAliases implements agent.Surroundings.
func (t *Town) LocationAliases() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.aliases))
	for k, v := range t.aliases {
		out[k] = v
	}
	return out
}

// Target is a resolved location or object id.
type Target struct {
	Kind     string `json:"kind"` // "location" or "object"
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	State    string `json:"state,omitempty"`
}

// Resolve looks up an id as a location first, then as an object.
func (t *Town) Resolve(id string) (Target, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if loc, ok := t.locations[id]; ok {
		return Target{Kind: "location", ID: loc.ID, Name: loc.Name, Location: loc.ID}, true
	}
	if obj, ok := t.objects[id]; ok {
		return Target{Kind: "object", ID: obj.ID, Name: obj.Name, Location: obj.Location, State: obj.State}, true
	}
	return Target{}, false
}

// objectRules map action keywords to the state an object is left in.
var objectRules = []struct {
	keywords []string
	state    string
}{
	{[]string{"coffee", "咖啡"}, "brewing"},
	{[]string{"cook", "fry", "boil", "煮"}, "on"},
	{[]string{"tidy", "clean", "organiz", "整理"}, "tidy"},
	{[]string{"sleep", "nap", "睡"}, "in use"},
	{[]string{"read", "study", "browse"}, "in use"},
}

// Apply carries out a decision's targets: a location target moves the
// agent there; an object target moves the agent to the object and updates
// the object's state by keyword rules. It returns the target id that took
// effect, or "".
func (t *Town) Apply(agentID string, dec agent.Decision) string {
	if dec.TargetLocationID != "" && t.MoveAgent(agentID, dec.TargetLocationID) {
		return dec.TargetLocationID
	}
	if dec.TargetObjectID == "" {
		return ""
	}
	tgt, ok := t.Resolve(dec.TargetObjectID)
	if !ok || tgt.Kind != "object" {
		return ""
	}
	t.MoveAgent(agentID, tgt.Location)

	action := strings.ToLower(dec.Action)
	for _, rule := range objectRules {
		for _, kw := range rule.keywords {
			if strings.Contains(action, kw) {
				t.SetObjectState(dec.TargetObjectID, rule.state)
				return dec.TargetObjectID
			}
		}
	}
	return dec.TargetObjectID
}

// MapView is the client-facing snapshot of the town.
type MapView struct {
	Locations []LocationView    `json:"locations"`
	Agents    map[string]string `json:"agents"`
}

// LocationView is one location with its objects' current state.
type LocationView struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Objects []Object `json:"objects"`
}

// View returns a snapshot of locations, objects and agent positions.
func (t *Town) View() MapView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v := MapView{Agents: make(map[string]string, len(t.positions))}
	for _, id := range t.order {
		loc := t.locations[id]
		lv := LocationView{ID: loc.ID, Name: loc.Name, Objects: make([]Object, 0, len(loc.Objects))}
		for _, oid := range loc.Objects {
			lv.Objects = append(lv.Objects, *t.objects[oid])
		}
		v.Locations = append(v.Locations, lv)
	}
	for id, loc := range t.positions {
		v.Agents[id] = loc
	}
	return v
}
