package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/kji7666/AI-agent-MVP/internal/agent"
	"github.com/kji7666/AI-agent-MVP/internal/api"
	"github.com/kji7666/AI-agent-MVP/internal/config"
	"github.com/kji7666/AI-agent-MVP/internal/embedding"
	"github.com/kji7666/AI-agent-MVP/internal/memory"
	"github.com/kji7666/AI-agent-MVP/internal/planning"
	"github.com/kji7666/AI-agent-MVP/internal/provider"
	"github.com/kji7666/AI-agent-MVP/internal/store"
	"github.com/kji7666/AI-agent-MVP/internal/vectorstore"
	"github.com/kji7666/AI-agent-MVP/internal/world"
)

// checkpointer is a StateStore that also keeps the decision log.
type checkpointer interface {
	agent.StateStore
	world.DecisionLog
	api.DecisionHistory
	Close() error
}

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Smalltown...")

	cfg := config.Defaults()
	if cfgPath := os.Getenv("CONFIG_PATH"); cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
		}
		cfg = loaded
		logger.Info("Config loaded", zap.String("path", cfgPath))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Models
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models, Extra: pc.Extra,
		}
		switch pc.Type {
		case "openai", "ollama":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}
	for _, p := range router.Providers() {
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := p.Ping(pingCtx); err != nil {
			logger.Warn("provider not reachable", zap.String("id", p.ID()), zap.Error(err))
		}
		cancel()
	}
	mainLLM := endpoint(router, "main", cfg.Models.Main)
	fastLLM := endpoint(router, "fast", cfg.Models.Fast)

	// Memory
	embedder, err := embedding.New(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		logger.Fatal("embedding provider", zap.Error(err))
	}
	backend, err := openMemoryBackend(ctx, cfg, embedder, logger)
	if err != nil {
		logger.Fatal("memory backend", zap.String("backend", cfg.Memory.Backend), zap.Error(err))
	}
	defer backend.Close()

	scoreCache, closeCache := openScoreCache(cfg, logger)
	defer closeCache()
	scorer := memory.NewScorer(fastLLM, scoreCache, logger)

	// Checkpoints
	cp, err := openCheckpointer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("checkpoint store", zap.String("backend", cfg.Checkpoint.Backend), zap.Error(err))
	}
	if cp != nil {
		defer cp.Close()
	}

	// World
	mapCfg := world.DefaultMap()
	if cfg.Simulation.MapFile != "" {
		if mapCfg, err = world.LoadMap(cfg.Simulation.MapFile); err != nil {
			logger.Fatal("map", zap.Error(err))
		}
	}
	town, err := world.NewTown(mapCfg, logger)
	if err != nil {
		logger.Fatal("town", zap.Error(err))
	}

	// Agents
	var stateStore agent.StateStore
	if cp != nil {
		stateStore = cp
	}
	engine := agent.NewEngine(stateStore, logger)
	defer engine.Close()

	var interrupter agent.Interrupter = agent.RoutineFilter{}
	if cfg.Cognition.Urgency == "model" {
		interrupter = agent.NewSentry(fastLLM, logger)
	}
	ctrlCfg := agent.Config{
		MinDuration:      cfg.Cognition.MinDuration.Std(),
		ReactAttempts:    cfg.Cognition.ReactAttempts,
		RetrieveK:        cfg.Memory.K,
		LastBlockSpan:    cfg.Cognition.LastBlockSpan.Std(),
		ReactTemperature: cfg.Cognition.ReactTemperature,
		ReflectThreshold: cfg.Cognition.ReflectThreshold,
	}
	retrCfg := memory.RetrieverConfig{
		Decay: memory.DecayConfig{
			Factor: cfg.Memory.DecayFactor,
			Weights: memory.Weights{
				Recency:    cfg.Memory.Weights.Recency,
				Importance: cfg.Memory.Weights.Importance,
				Relevance:  cfg.Memory.Weights.Relevance,
			},
		},
		K:             cfg.Memory.K,
		FetchK:        cfg.Memory.FetchK,
		FlushInterval: cfg.Memory.FlushInterval.Std(),
	}

	for _, ac := range cfg.Agents {
		persona := agent.Persona{
			ID: ac.ID, Name: ac.Name, Age: ac.Age, Role: ac.Role,
			Personality: ac.Personality, Backstory: ac.Backstory, Home: ac.Home,
		}
		if extra := agent.LoadProfile(cfg.Simulation.ProfileDir, ac.ID); extra != "" {
			persona.Backstory = joinNonEmpty(persona.Backstory, extra)
		}
		ms, err := backend.Open(ctx, ac.ID)
		if err != nil {
			logger.Fatal("open memory", zap.String("agent", ac.ID), zap.Error(err))
		}
		mem := memory.NewRetriever(ms, scorer, retrCfg, logger)
		ctrl := agent.NewController(persona, agent.Deps{
			Memory:      mem,
			Planner:     planning.NewPlanner(mainLLM, mem, logger),
			Generator:   mainLLM,
			Interrupter: interrupter,
			Reflector:   agent.NewReflector(mainLLM, mem, logger),
			World:       town,
		}, ctrlCfg, logger)
		if err := engine.Register(ctx, agent.NewAgent(persona, ctrl, mem)); err != nil {
			logger.Fatal("register agent", zap.String("agent", ac.ID), zap.Error(err))
		}
		home := ac.Home
		if !town.IsLocation(home) {
			logger.Warn("unknown home, placing agent in the first location", zap.String("agent", ac.ID), zap.String("home", home))
			home = mapCfg.Locations[0].ID
		}
		if err := town.AddResident(ac.ID, ac.Name, home); err != nil {
			logger.Fatal("place agent", zap.String("agent", ac.ID), zap.Error(err))
		}
	}

	// Simulation
	start, _ := cfg.Simulation.StartTime()
	clock := world.NewWorldClock(start, cfg.Simulation.Step.Std(), cfg.Simulation.Interval.Std(), logger)
	states := world.NewStateManager(logger)
	heartbeat := world.NewHeartbeat(engine, town, states, cfg.Simulation.TickTimeout.Std(), cfg.Simulation.Parallel, logger)
	if cp != nil {
		heartbeat.SetDecisionLog(cp)
	}
	clock.AddListener(heartbeat)

	handler := api.NewHandler(engine, town, clock, heartbeat, states, logger)
	handler.SetUsage(router)
	if cp != nil {
		handler.SetHistory(cp)
	}

	// The encounter graph requires Neo4j.
	if cfg.Database.Neo4j.URI != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Database.Neo4j.URI,
			neo4j.BasicAuth(cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, ""))
		if err == nil {
			err = driver.VerifyConnectivity(ctx)
		}
		if err != nil {
			logger.Warn("Neo4j unavailable, running without relation graph", zap.Error(err))
		} else {
			defer driver.Close(context.Background())
			graph := world.NewRelationGraph(driver, cfg.Simulation.RelationDecay, logger)
			heartbeat.SetEncounters(graph)
			clock.AddListener(graph)
			handler.SetRelations(graph)
		}
	}

	if cfg.Database.Redis.URL != "" {
		bus, err := world.NewEventBus(ctx, cfg.Database.Redis.URL, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without event stream", zap.Error(err))
		} else {
			defer bus.Close()
			heartbeat.SetEvents(bus)
			handler.SetEvents(bus)
		}
	}

	clock.Start(ctx)
	logger.Info("World simulation started", zap.Int("agents", len(engine.IDs())))

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Smalltown listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down Smalltown...")
	clock.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
}

func endpoint(r *provider.Router, role string, mr config.ModelRoute) *provider.Endpoint {
	if mr.Provider != "" {
		r.Bind(role, mr.Provider)
	}
	if len(mr.Fallbacks) > 0 {
		r.SetFallbacks(role, mr.Fallbacks)
	}
	var opts []provider.EndpointOption
	if mr.MaxTokens > 0 {
		opts = append(opts, provider.WithMaxTokens(mr.MaxTokens))
	}
	if mr.JSONMode {
		opts = append(opts, provider.WithJSONMode())
	}
	return provider.NewEndpoint(r, role, mr.Model, mr.Timeout.Std(), opts...)
}

func openMemoryBackend(ctx context.Context, cfg *config.Config, embedder embedding.Provider, logger *zap.Logger) (vectorstore.Backend, error) {
	switch cfg.Memory.Backend {
	case "qdrant":
		return vectorstore.NewQdrant(vectorstore.QdrantConfig{
			Host: cfg.Database.Qdrant.Host,
			Port: cfg.Database.Qdrant.Port,
		}, embedder, logger)
	case "neo4j":
		return vectorstore.NewNeo4j(ctx, cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User,
			cfg.Database.Neo4j.Password, embedder, logger)
	default:
		return vectorstore.NewChromem(cfg.Memory.Path, embedder, logger)
	}
}

func openScoreCache(cfg *config.Config, logger *zap.Logger) (memory.ScoreCache, func()) {
	switch cfg.Memory.ScoreCache {
	case "redis":
		c, err := memory.NewRedisCache(cfg.Database.Redis.URL, cfg.Memory.CacheTTL.Std(), logger)
		if err != nil {
			logger.Warn("Redis unavailable, scoring without cache", zap.Error(err))
			return nil, func() {}
		}
		return c, func() { c.Close() }
	case "ristretto":
		c, err := memory.NewRistrettoCache(cfg.Memory.CacheSize)
		if err != nil {
			logger.Warn("score cache disabled", zap.Error(err))
			return nil, func() {}
		}
		return c, c.Close
	default:
		return nil, func() {}
	}
}

func openCheckpointer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (checkpointer, error) {
	switch cfg.Checkpoint.Backend {
	case "postgres":
		s, err := store.New(ctx, cfg.Database.Postgres.DSN, logger)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx, cfg.Database.Postgres.Migrations); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return s, nil
	case "sqlite":
		s, err := store.OpenSQLite(ctx, cfg.Database.SQLite.Path, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, nil
	}
}

func joinNonEmpty(a, b string) string {
	if a == "" {
		return b
	}
	return a + "\n\n" + b
}
