package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"gorm.io/gorm"

	"github.com/patternos/patternos-backend/internal/clients/redis"
	"github.com/patternos/patternos-backend/internal/config"
	"github.com/patternos/patternos-backend/internal/db"
	"github.com/patternos/patternos-backend/internal/engine/aggregate"
	"github.com/patternos/patternos-backend/internal/engine/attribution"
	"github.com/patternos/patternos-backend/internal/engine/campaigns"
	"github.com/patternos/patternos-backend/internal/engine/identity"
	"github.com/patternos/patternos-backend/internal/engine/ingest"
	"github.com/patternos/patternos-backend/internal/engine/query"
	"github.com/patternos/patternos-backend/internal/engine/scoring"
	"github.com/patternos/patternos-backend/internal/engine/signal"
	"github.com/patternos/patternos-backend/internal/handlers"
	"github.com/patternos/patternos-backend/internal/logger"
	"github.com/patternos/patternos-backend/internal/observability"
	"github.com/patternos/patternos-backend/internal/repos"
	"github.com/patternos/patternos-backend/internal/server"
	"github.com/patternos/patternos-backend/internal/utils"
	"github.com/patternos/patternos-backend/internal/worker"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Config
	log.Info("Loading configuration from main...")
	cfg, err := config.Load(log)
	if err != nil {
		log.Error("Config load failed", "error", err)
		os.Exit(1)
	}

	// Tracing
	ctx := context.Background()
	shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "patternos-backend",
		Environment: utils.GetEnv("ENVIRONMENT", "development", log),
		Version:     utils.GetEnv("SERVICE_VERSION", "dev", log),
	})
	if shutdownOTel != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownOTel(shutdownCtx)
		}()
	}

	// Database (postgres primary; PATTERNOS_DB=sqlite for embedded dev mode)
	var thePG *gorm.DB
	if utils.GetEnv("PATTERNOS_DB", "postgres", log) == "sqlite" {
		sqliteService, err := db.NewSQLiteService(log)
		if err != nil {
			log.Error("SQLite init failed", "error", err)
			os.Exit(1)
		}
		if err = sqliteService.AutoMigrateAll(); err != nil {
			log.Warn("SQLite auto migration failed", "error", err)
		}
		thePG = sqliteService.DB()
	} else {
		postgresService, err := db.NewPostgresService(log)
		if err != nil {
			log.Error("Postgres init failed", "error", err)
			os.Exit(1)
		}
		if err = postgresService.AutoMigrateAll(); err != nil {
			log.Warn("Postgres auto migration failed", "error", err)
		}
		thePG = postgresService.DB()
	}

	// Repos
	log.Info("Setting up Repos from main...")
	eventRepo := repos.NewEventRepo(thePG, log)
	quarantineRepo := repos.NewQuarantineRepo(thePG, log)
	identityRepo := repos.NewIdentityRepo(thePG, log)
	profileRepo := repos.NewProfileRepo(thePG, log)
	scoreRepo := repos.NewScoreRepo(thePG, log)
	touchpointRepo := repos.NewTouchpointRepo(thePG, log)
	conversionRepo := repos.NewConversionRepo(thePG, log)
	campaignRepo := repos.NewCampaignRepo(thePG, log)

	// Redis (optional; ingest fail-open and the shared score cache degrade
	// gracefully without it)
	var fallbackQueue redis.FallbackQueue
	var scoreCache redis.ScoreCache
	if cfg.RedisAddr != "" {
		fallbackQueue, err = redis.NewFallbackQueue(log, cfg.RedisAddr)
		if err != nil {
			log.Warn("Redis fallback queue init failed", "error", err)
			fallbackQueue = nil
		}
		scoreCache, err = redis.NewScoreCache(log, cfg.RedisAddr, time.Duration(cfg.ScoreCacheTTLSeconds)*time.Second)
		if err != nil {
			log.Warn("Redis score cache init failed", "error", err)
			scoreCache = nil
		}
	}

	// Engines
	log.Info("Setting up engines from main...")
	// One keyed mutex per customer, shared by counter folds, identity
	// resolution and journey writes.
	journeyLocks := signal.NewKeyedMutex()
	signalStore := signal.NewStore(log, profileRepo, journeyLocks, time.Duration(cfg.EvictionIdleHours)*time.Hour)
	scoringEngine := scoring.NewEngine(
		log,
		signalStore,
		scoreRepo,
		nil,
		time.Duration(cfg.ScoreCacheTTLSeconds)*time.Second,
		cfg.RescoreThresholdEvents,
		scoreCache,
	)
	resolver := identity.NewResolver(log, identityRepo, signalStore, journeyLocks)
	attributionEngine := attribution.NewEngine(
		log,
		touchpointRepo,
		conversionRepo,
		campaignRepo,
		journeyLocks,
		cfg.DefaultAttributionModel,
		cfg.AttributionLookbackDays,
	)
	pipeline := ingest.NewPipeline(
		log,
		eventRepo,
		quarantineRepo,
		resolver,
		signalStore,
		scoringEngine,
		fallbackQueue,
		time.Duration(cfg.ClockSkewBudgetSeconds)*time.Second,
		time.Duration(cfg.WriteLatencyBudgetMs)*time.Millisecond,
	)
	campaignService := campaigns.NewService(log, campaignRepo, cfg.CampaignCASMaxRetries)
	aggregateService := aggregate.NewService(
		log,
		campaignRepo,
		touchpointRepo,
		conversionRepo,
		scoreRepo,
		cfg.HighIntentThreshold,
		cfg.AdCommissionRate,
		cfg.HighIntentPremiumRate,
		cfg.ContractAnnualValue,
		cfg.AvgOrderValueFallbackByCategory,
		cfg.WorkerConcurrency,
	)
	queryService := query.NewService(log, signalStore, scoringEngine, attributionEngine, resolver, scoreRepo, conversionRepo)

	// Workers
	log.Info("Starting background workers from main...")
	bgWorker := worker.NewWorker(log, pipeline, fallbackQueue, eventRepo, cfg.RetentionDays, cfg.WorkerConcurrency)
	bgWorker.Start(ctx)

	// Handlers
	log.Info("Setting up handlers from main...")
	eventHandler := handlers.NewEventHandler(pipeline)
	attributionHandler := handlers.NewAttributionHandler(attributionEngine, queryService)
	customerHandler := handlers.NewCustomerHandler(queryService, resolver)
	campaignHandler := handlers.NewCampaignHandler(campaignService)
	reportHandler := handlers.NewReportHandler(aggregateService)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		EventHandler:       eventHandler,
		AttributionHandler: attributionHandler,
		CustomerHandler:    customerHandler,
		CampaignHandler:    campaignHandler,
		ReportHandler:      reportHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Warn("Server failed", "error", err)
	}
}
