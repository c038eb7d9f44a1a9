package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fmt"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/skoll/overseer/internal/api"
	"github.com/skoll/overseer/internal/budget"
	"github.com/skoll/overseer/internal/cache"
	"github.com/skoll/overseer/internal/config"
	"github.com/skoll/overseer/internal/events"
	"github.com/skoll/overseer/internal/ledger"
	"github.com/skoll/overseer/internal/optimizer"
	"github.com/skoll/overseer/internal/orchestrator"
	"github.com/skoll/overseer/internal/provider"
	"github.com/skoll/overseer/internal/registry"
	"github.com/skoll/overseer/internal/routing"
	pgstore "github.com/skoll/overseer/internal/store"
	"github.com/skoll/overseer/internal/workspace"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Overseer...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/overseer.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Initialize provider catalog
	catalog := provider.NewCatalog(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.Config{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey, Model: pc.Model,
		}
		var client provider.Provider
		switch pc.Type {
		case "anthropic":
			client = provider.NewAnthropicProvider(provCfg, logger)
		case "openai":
			client = provider.NewOpenAIProvider(provCfg, logger)
		case "gemini":
			client = provider.NewGeminiProvider(provCfg, logger)
		case "local":
			client = provider.NewLocalProvider(provCfg, logger)
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
			continue
		}
		catalog.Register(buildProfile(pc), provider.NewBreakerProvider(client, logger))
	}

	// Initialize workspace
	ws := workspace.New(cfg.Workspace.Dir, logger)
	if err := ws.EnsureDirs(); err != nil {
		logger.Fatal("failed to create workspace", zap.Error(err))
	}

	// Initialize response cache, restoring the previous snapshot
	responseCache := cache.New(cfg.Cache.MaxEntries,
		time.Duration(cfg.Cache.TTLMinutes)*time.Minute, logger)
	var cacheSnap cache.Snapshot
	if err := ws.ReadDoc(ws.CachePath(), &cacheSnap); err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("cache snapshot unreadable, starting cold", zap.Error(err))
		}
	} else {
		restored := responseCache.Restore(&cacheSnap)
		logger.Info("Cache restored", zap.Int("entries", restored))
	}

	// Initialize usage ledger with its sinks
	usage := ledger.New(logger)
	fileSink, err := ledger.NewFileSink(ws.MetricsPath())
	if err != nil {
		logger.Warn("usage log unavailable", zap.Error(err))
	} else {
		usage.AddSink(fileSink)
	}

	var pgStore *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
			usage.AddSink(pgStore)
		}
	}

	// Initialize event bus, mirrored to Redis when available
	bus := events.NewBus(0, logger)
	var relay *events.Relay
	if cfg.Database.Redis.URL != "" {
		rl, rlErr := events.NewRelay(cfg.Database.Redis.URL, "", logger)
		if rlErr != nil {
			logger.Warn("Redis unavailable, events stay in-process", zap.Error(rlErr))
		} else {
			rl.Attach(bus)
			relay = rl
			logger.Info("Event relay attached", zap.String("stream", events.DefaultStream))
		}
	}

	// Initialize budget controller, restoring today's spend
	budgetCtl := budget.NewController(logger)
	budgetCtl.OnEmergency(func(id string, spentUSD, budgetUSD float64) {
		bus.Publish(events.Event{Type: events.BudgetEmergency, Data: events.BudgetEventData{
			Identifier: id,
			SpentUSD:   spentUSD,
			BudgetUSD:  budgetUSD,
			WindowDate: time.Now().UTC().Format("2006-01-02"),
		}})
	})
	budgetCtl.OnReset(func(date string) {
		bus.Publish(events.Event{Type: events.BudgetReset, Data: events.BudgetEventData{
			WindowDate: date,
		}})
	})
	if cfg.Budget.GlobalDailyUSD > 0 {
		budgetCtl.SetDailyBudget(budget.GlobalID, cfg.Budget.GlobalDailyUSD)
	}
	for id, usd := range cfg.Budget.AgentDailyUSD {
		budgetCtl.SetDailyBudget(id, usd)
	}
	var budgetSnap budget.Snapshot
	if err := ws.ReadDoc(ws.BudgetPath(), &budgetSnap); err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("budget snapshot unreadable", zap.Error(err))
		}
	} else {
		budgetCtl.Restore(&budgetSnap)
		logger.Info("Budget windows restored", zap.String("date", budgetSnap.Date))
	}
	if err := budgetCtl.StartCron(); err != nil {
		logger.Warn("budget reset cron failed to start", zap.Error(err))
	}

	// Initialize request router
	selector := routing.NewSelector(catalog, logger)
	for id, ms := range cfg.Routing.SpeedThresholdsMs {
		selector.SetSpeedThreshold(id, ms)
	}
	router := routing.NewRouter(catalog, selector, optimizer.New(logger),
		responseCache, usage, budgetCtl, bus, logger)

	// Initialize agent registry
	reg := registry.NewRegistry(ws, logger)
	loaded, err := reg.Load()
	if err != nil {
		logger.Warn("failed to load agent definitions", zap.Error(err))
	}
	if loaded > 0 {
		logger.Info("Loaded agents from workspace", zap.Int("count", loaded))
	} else {
		defaults := registry.DefaultDefinitions()
		for _, def := range defaults {
			if regErr := reg.Register(def); regErr != nil {
				logger.Warn("failed to seed default agent",
					zap.String("name", def.Name), zap.Error(regErr))
			}
		}
		logger.Info("Seeded default agents", zap.Int("count", len(defaults)))
	}

	// Initialize orchestrator
	planner := orchestrator.NewPlanner(logger)
	executor := orchestrator.NewExecutor(router, bus, cfg.Routing.MaxParallelSteps, logger)
	service := orchestrator.NewService(reg, planner, executor, logger)

	// Build HTTP handler
	handler := api.NewHandler(service, reg, router, selector, catalog,
		usage, responseCache, budgetCtl, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Overseer listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Overseer...")
	ctx := context.Background()
	srv.Shutdown(ctx)

	if err := ws.WriteDoc(ws.CachePath(), responseCache.Snapshot()); err != nil {
		logger.Warn("cache snapshot failed", zap.Error(err))
	}
	if err := ws.WriteDoc(ws.BudgetPath(), budgetCtl.Snapshot()); err != nil {
		logger.Warn("budget snapshot failed", zap.Error(err))
	}
	budgetCtl.Stop()
	bus.Close()
	if relay != nil {
		relay.Close()
	}
	if pgStore != nil {
		pgStore.Close()
	}
	if fileSink != nil {
		fileSink.Close()
	}
}

// buildProfile resolves a provider's cost and speed profile from config,
// falling back field by field to the built-in profile for the same type.
func buildProfile(pc config.ProviderConfig) *provider.Profile {
	p := &provider.Profile{}
	for _, def := range provider.DefaultProfiles() {
		if def.ID == pc.Type {
			base := *def
			p = &base
			break
		}
	}
	p.ID = pc.ID
	if pc.Name != "" {
		p.Name = pc.Name
	}
	if pc.Model != "" {
		p.Model = pc.Model
	}
	if pc.InputCostPerMTok != 0 {
		p.InputCostPerMTok = pc.InputCostPerMTok
	}
	if pc.OutputCostPerMTok != 0 {
		p.OutputCostPerMTok = pc.OutputCostPerMTok
	}
	if pc.AvgResponseTimeMs != 0 {
		p.AvgResponseTimeMs = pc.AvgResponseTimeMs
	}
	if pc.Reliability != 0 {
		p.Reliability = pc.Reliability
	}
	if len(pc.OptimalFor) > 0 {
		p.OptimalFor = pc.OptimalFor
	}
	if len(pc.Strengths) > 0 {
		p.Strengths = pc.Strengths
	}
	if pc.MaxBatchSize != 0 {
		p.MaxBatchSize = pc.MaxBatchSize
	}
	if pc.BatchDelayMs != 0 {
		p.BatchDelay = time.Duration(pc.BatchDelayMs) * time.Millisecond
	}
	return p
}
