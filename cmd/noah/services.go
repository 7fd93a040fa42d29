package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nugget/noah-ai-agent/internal/agent"
	"github.com/nugget/noah-ai-agent/internal/config"
	"github.com/nugget/noah-ai-agent/internal/embeddings"
	"github.com/nugget/noah-ai-agent/internal/health"
	"github.com/nugget/noah-ai-agent/internal/history"
	"github.com/nugget/noah-ai-agent/internal/knowledge"
	"github.com/nugget/noah-ai-agent/internal/llm"
	"github.com/nugget/noah-ai-agent/internal/patient"
	"github.com/nugget/noah-ai-agent/internal/profile"
	"github.com/nugget/noah-ai-agent/internal/tools"
	"github.com/nugget/noah-ai-agent/internal/usage"
)

// parallelTools is the batch concurrency used when agent.parallel_tools
// is enabled.
const parallelTools = 4

// services holds the wired turn pipeline and everything that must be
// closed when the process exits.
type services struct {
	Orchestrator *agent.Orchestrator
	History      history.Store
	Patients     patient.Store
	Profiles     profile.Store
	Retriever    knowledge.Retriever
	Usage        *usage.Store

	// Checks test the reachability of remote dependencies by name.
	Checks map[string]health.Check

	closers []func() error
	logger  *slog.Logger
}

// Close releases stores and connections in reverse order of opening.
func (r *services) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.Warn("close failed", "error", err)
		}
	}
}

type serviceOption func(*agent.Config)

// withObserver installs a hook called after every completed turn.
func withObserver(fn func(context.Context, *agent.TurnResult)) serviceOption {
	return func(c *agent.Config) { c.Observer = fn }
}

// buildServices opens the stores named by cfg and wires the orchestrator.
// On error, anything already opened is closed.
func buildServices(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...serviceOption) (_ *services, err error) {
	rt := &services{logger: logger, Checks: make(map[string]health.Check)}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	rt.History, err = openHistory(ctx, cfg, logger, rt)
	if err != nil {
		return nil, err
	}

	rt.Patients, err = openPatients(cfg, rt)
	if err != nil {
		return nil, err
	}

	rt.Profiles, err = openProfiles(cfg, rt)
	if err != nil {
		return nil, err
	}

	kb, err := knowledge.NewStore(cfg.Knowledge.Path)
	if err != nil {
		return nil, fmt.Errorf("open knowledge store: %w", err)
	}
	rt.closers = append(rt.closers, kb.Close)

	rt.Retriever = knowledge.NewLibraryRetriever(kb, newEmbedder(cfg, logger), logger)
	if cfg.Cache.Redis.Configured() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		rt.closers = append(rt.closers, rdb.Close)
		rt.Checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		rt.Retriever = knowledge.NewCachedRetriever(rt.Retriever, knowledge.NewRedisCache(rdb), cfg.Cache.Redis.TTL, logger)
		logger.Info("retrieval cache enabled", "addr", cfg.Cache.Redis.Addr, "ttl", cfg.Cache.Redis.TTL)
	}

	reg := tools.NewRegistry()
	for _, t := range []*tools.Tool{
		tools.NewKnowledgeBaseTool(rt.Retriever, cfg.Knowledge.TopK),
		tools.NewPatientLogsTool(rt.Patients),
	} {
		if err := reg.Register(t); err != nil {
			return nil, fmt.Errorf("register tool: %w", err)
		}
	}

	maxParallel := 1
	if cfg.Agent.ParallelTools {
		maxParallel = parallelTools
	}
	executor := tools.NewExecutor(reg, tools.ExecutorConfig{
		Timeout:     cfg.Agent.ToolTimeout,
		MaxParallel: maxParallel,
		Logger:      logger,
	})

	client, err := newLLMClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	rt.Checks["models"] = client.Ping
	reasonClient, draftClient := client, client
	if cfg.Store.Backend != "memory" {
		rt.Usage, err = usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"))
		if err != nil {
			return nil, fmt.Errorf("open usage store: %w", err)
		}
		rt.closers = append(rt.closers, rt.Usage.Close)
		reasonClient = usage.NewClient(client, rt.Usage, usage.PurposeReason, cfg.Pricing, logger)
		draftClient = usage.NewClient(client, rt.Usage, usage.PurposeDraft, cfg.Pricing, logger)
	}

	acfg := agent.Config{
		History: rt.History,
		Reasoner: agent.NewModelReasoner(agent.ModelReasonerConfig{
			Client:  reasonClient,
			Model:   cfg.Models.Default,
			Timeout: cfg.Agent.ModelTimeout,
			Logger:  logger,
		}),
		Executor: executor,
		Drafter: agent.NewModelDrafter(agent.ModelDrafterConfig{
			Client:    draftClient,
			Model:     cfg.Models.Drafting,
			Timeout:   cfg.Agent.ModelTimeout,
			Summaries: patient.NewLogSummarizer(rt.Patients, 0),
			Logger:    logger,
		}),
		HistoryLimit:  cfg.Agent.HistoryLimit,
		MaxIterations: cfg.Agent.MaxIterations,
		Logger:        logger,
	}
	for _, o := range opts {
		o(&acfg)
	}

	rt.Orchestrator, err = agent.NewOrchestrator(acfg)
	if err != nil {
		return nil, err
	}

	logger.Info("turn pipeline ready",
		"tools", reg.Names(),
		"max_iterations", cfg.Agent.MaxIterations,
		"parallel_tools", maxParallel,
	)
	return rt, nil
}

// openHistory opens the configured message store.
func openHistory(ctx context.Context, cfg *config.Config, logger *slog.Logger, rt *services) (history.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return history.NewMemoryStore(), nil

	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, cfg.Store.Mongo.Timeout)
		defer cancel()
		client, err := mongodriver.Connect(connectCtx, options.Client().ApplyURI(cfg.Store.Mongo.URI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		rt.closers = append(rt.closers, func() error {
			dctx, dcancel := context.WithTimeout(context.Background(), cfg.Store.Mongo.Timeout)
			defer dcancel()
			return client.Disconnect(dctx)
		})
		if err := client.Ping(connectCtx, nil); err != nil {
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		rt.Checks["mongo"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }
		store, err := history.NewMongoStore(history.MongoOptions{
			Client:     client,
			Database:   cfg.Store.Mongo.Database,
			Collection: cfg.Store.Mongo.Collection,
			Timeout:    cfg.Store.Mongo.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("open mongo history: %w", err)
		}
		logger.Info("history store opened", "backend", "mongo", "database", cfg.Store.Mongo.Database)
		return store, nil

	default:
		store, err := history.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open history store: %w", err)
		}
		rt.closers = append(rt.closers, store.Close)
		logger.Info("history store opened", "backend", "sqlite", "path", cfg.Store.Path)
		return store, nil
	}
}

// openPatients opens the patient data log store. The memory history
// backend keeps patient logs in memory as well.
func openPatients(cfg *config.Config, rt *services) (patient.Store, error) {
	if cfg.Store.Backend == "memory" {
		return patient.NewMemoryStore(), nil
	}
	store, err := patient.NewSQLiteStore(cfg.Store.PatientPath)
	if err != nil {
		return nil, fmt.Errorf("open patient store: %w", err)
	}
	rt.closers = append(rt.closers, store.Close)
	return store, nil
}

// openProfiles opens the user profile store, in memory alongside the
// memory history backend.
func openProfiles(cfg *config.Config, rt *services) (profile.Store, error) {
	if cfg.Store.Backend == "memory" {
		return profile.NewMemoryStore(), nil
	}
	store, err := profile.NewSQLiteStore(cfg.Store.ProfilePath)
	if err != nil {
		return nil, fmt.Errorf("open profile store: %w", err)
	}
	rt.closers = append(rt.closers, store.Close)
	return store, nil
}

// newEmbedder returns the embedding client, or nil when embeddings are
// disabled so retrieval falls back to keyword scoring.
func newEmbedder(cfg *config.Config, logger *slog.Logger) knowledge.Embedder {
	if !cfg.Embeddings.Enabled {
		return nil
	}
	logger.Info("embeddings enabled", "model", cfg.Embeddings.Model)
	return embeddings.New(embeddings.Config{
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
		Logger:  logger,
	})
}

// newLLMClient routes each configured model to its provider. Models not
// listed under models.available are served by Ollama.
func newLLMClient(cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	providers := map[string]llm.Client{
		"ollama": llm.NewOllamaClient(cfg.Models.OllamaURL, logger),
	}
	if cfg.Anthropic.Configured() {
		providers["anthropic"] = llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger)
		logger.Info("Anthropic provider configured")
	}

	routes := make([]llm.Route, 0, len(cfg.Models.Available))
	for _, m := range cfg.Models.Available {
		routes = append(routes, llm.Route{Model: m.Name, Provider: m.Provider})
	}
	router, err := llm.NewRouter("ollama", providers, routes)
	if err != nil {
		return nil, fmt.Errorf("model routing: %w", err)
	}

	var client llm.Client = router
	if rpm := cfg.RateLimit.RequestsPerMinute; rpm > 0 {
		client = llm.NewRateLimitedClient(client, rpm)
		logger.Info("model rate limit enabled", "requests_per_minute", rpm)
	}
	return client, nil
}
