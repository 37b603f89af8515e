package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Providers  []ProviderConfig `json:"providers"`
	Models     ModelsConfig     `json:"models"`
	Database   DatabaseConfig   `json:"database"`
	Embedding  EmbeddingConfig  `json:"embedding"`
	Memory     MemoryConfig     `json:"memory"`
	Cognition  CognitionConfig  `json:"cognition"`
	Checkpoint CheckpointConfig `json:"checkpoint"`
	Simulation SimulationConfig `json:"simulation"`
	Agents     []AgentConfig    `json:"agents"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type ProviderConfig struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"` // "openai" or "anthropic"
	Name     string            `json:"name"`
	Endpoint string            `json:"endpoint"`
	APIKey   string            `json:"api_key"`
	Models   []string          `json:"models,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// ModelsConfig binds the two model roles to providers.
type ModelsConfig struct {
	Main ModelRoute `json:"main"` // planning, reaction, reflection
	Fast ModelRoute `json:"fast"` // importance scoring, urgency checks
}

type ModelRoute struct {
	Provider  string   `json:"provider"`
	Model     string   `json:"model"`
	Fallbacks []string `json:"fallbacks,omitempty"`
	Timeout   Duration `json:"timeout"`
	MaxTokens int      `json:"max_tokens,omitempty"`
	JSONMode  bool     `json:"json_mode,omitempty"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	SQLite   SQLiteConfig   `json:"sqlite"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN        string `json:"dsn"`
	Migrations string `json:"migrations"`
}

type SQLiteConfig struct {
	Path string `json:"path"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// MemoryConfig selects the memory store and tunes retrieval.
type MemoryConfig struct {
	Backend       string   `json:"backend"` // "chromem", "qdrant" or "neo4j"
	Path          string   `json:"path"`    // chromem persistence dir, empty for in-memory
	DecayFactor   float64  `json:"decay_factor"`
	Weights       Weights  `json:"weights"`
	K             int      `json:"k"`
	FetchK        int      `json:"fetch_k"`
	FlushInterval Duration `json:"flush_interval"`
	ScoreCache    string   `json:"score_cache"` // "ristretto", "redis" or "none"
	CacheSize     int64    `json:"cache_size"`
	CacheTTL      Duration `json:"cache_ttl"`
}

type Weights struct {
	Recency    float64 `json:"recency"`
	Importance float64 `json:"importance"`
	Relevance  float64 `json:"relevance"`
}

// CognitionConfig tunes the controller.
type CognitionConfig struct {
	MinDuration      Duration `json:"min_duration"`
	ReactAttempts    int      `json:"react_attempts"`
	ReactTemperature float64  `json:"react_temperature"`
	LastBlockSpan    Duration `json:"last_block_span"`
	ReflectThreshold int      `json:"reflect_threshold"`
	Urgency          string   `json:"urgency"` // "heuristic" or "model"
}

type CheckpointConfig struct {
	Backend string `json:"backend"` // "sqlite", "postgres" or "none"
}

// SimulationConfig drives the world clock.
type SimulationConfig struct {
	Start         string   `json:"start"` // "2006-01-02 15:04"
	Step          Duration `json:"step"`
	Interval      Duration `json:"interval"` // zero: manual stepping only
	TickTimeout   Duration `json:"tick_timeout"`
	Parallel      int      `json:"parallel"`
	MapFile       string   `json:"map_file"`
	ProfileDir    string   `json:"profile_dir"`
	RelationDecay float64  `json:"relation_decay"`
}

// StartTime parses Start in the local time zone.
func (s SimulationConfig) StartTime() (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04", s.Start, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("simulation start %q: %w", s.Start, err)
	}
	return t, nil
}

type AgentConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Age         int    `json:"age,omitempty"`
	Role        string `json:"role,omitempty"`
	Personality string `json:"personality,omitempty"`
	Backstory   string `json:"backstory,omitempty"`
	Home        string `json:"home"`
}

// Duration is a time.Duration written as "15m" or "5s" in JSON.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(time.Duration(val) * time.Second)
	case string:
		if val == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("duration %q: %w", val, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("duration: unexpected %s", string(b))
	}
	return nil
}

// Defaults returns a configuration that runs without any external service:
// hash embeddings, an in-memory chromem store and a local SQLite checkpoint.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, LogLevel: "info"},
		Database: DatabaseConfig{
			SQLite:   SQLiteConfig{Path: "data/town.db"},
			Postgres: PostgresConfig{Migrations: "migrations"},
			Qdrant:   QdrantConfig{Host: "localhost", Port: 6334},
		},
		Models: ModelsConfig{
			Main: ModelRoute{Timeout: Duration(60 * time.Second)},
			Fast: ModelRoute{Timeout: Duration(60 * time.Second)},
		},
		Embedding: EmbeddingConfig{Provider: "hash", Dimension: 256},
		Memory: MemoryConfig{
			Backend:       "chromem",
			DecayFactor:   0.995,
			Weights:       Weights{Recency: 1, Importance: 1, Relevance: 1},
			K:             5,
			FetchK:        100,
			FlushInterval: Duration(5 * time.Second),
			ScoreCache:    "ristretto",
			CacheSize:     10_000,
			CacheTTL:      Duration(24 * time.Hour),
		},
		Cognition: CognitionConfig{
			MinDuration:      Duration(15 * time.Minute),
			ReactAttempts:    3,
			ReactTemperature: 0.4,
			LastBlockSpan:    Duration(2 * time.Hour),
			Urgency:          "heuristic",
		},
		Checkpoint: CheckpointConfig{Backend: "sqlite"},
		Simulation: SimulationConfig{
			Start:       "2025-06-01 08:00",
			Step:        Duration(15 * time.Minute),
			TickTimeout: Duration(3 * time.Minute),
			ProfileDir:  "profiles",
		},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable
// references and lays the result over Defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	cfg := Defaults()
	if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var problems []string
	switch c.Memory.Backend {
	case "chromem", "qdrant", "neo4j":
	default:
		problems = append(problems, fmt.Sprintf("unknown memory backend %q", c.Memory.Backend))
	}
	switch c.Memory.ScoreCache {
	case "", "none", "ristretto", "redis":
	default:
		problems = append(problems, fmt.Sprintf("unknown score cache %q", c.Memory.ScoreCache))
	}
	switch c.Checkpoint.Backend {
	case "", "none", "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("unknown checkpoint backend %q", c.Checkpoint.Backend))
	}
	switch c.Cognition.Urgency {
	case "", "heuristic", "model":
	default:
		problems = append(problems, fmt.Sprintf("unknown urgency filter %q", c.Cognition.Urgency))
	}
	if c.Memory.Backend == "neo4j" && c.Database.Neo4j.URI == "" {
		problems = append(problems, "neo4j memory backend needs database.neo4j.uri")
	}
	if c.Memory.ScoreCache == "redis" && c.Database.Redis.URL == "" {
		problems = append(problems, "redis score cache needs database.redis.url")
	}
	if c.Checkpoint.Backend == "postgres" && c.Database.Postgres.DSN == "" {
		problems = append(problems, "postgres checkpoints need database.postgres.dsn")
	}
	if c.Memory.DecayFactor <= 0 || c.Memory.DecayFactor > 1 {
		problems = append(problems, fmt.Sprintf("decay_factor %v must be in (0, 1]", c.Memory.DecayFactor))
	}
	if _, err := c.Simulation.StartTime(); err != nil {
		problems = append(problems, err.Error())
	}
	seen := make(map[string]bool)
	for _, a := range c.Agents {
		if a.ID == "" || a.Name == "" {
			problems = append(problems, "agents need an id and a name")
			continue
		}
		if seen[a.ID] {
			problems = append(problems, fmt.Sprintf("duplicate agent %q", a.ID))
		}
		seen[a.ID] = true
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
