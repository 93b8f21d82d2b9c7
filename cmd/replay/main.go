package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/patternos/patternos-backend/internal/config"
	"github.com/patternos/patternos-backend/internal/db"
	"github.com/patternos/patternos-backend/internal/engine/scoring"
	"github.com/patternos/patternos-backend/internal/engine/signal"
	"github.com/patternos/patternos-backend/internal/logger"
	"github.com/patternos/patternos-backend/internal/repos"
)

// replay rebuilds the derived state (profiles, counters, scores) for one
// tenant by folding the immutable event log back through the signal store in
// sequence order. Run it against a database whose derived tables have been
// truncated; the event log itself is never written.
func main() {
	tenantID := flag.String("tenant", "", "tenant to replay")
	fromSequence := flag.Int64("from", 1, "first sequence number to replay")
	batchSize := flag.Int("batch", 500, "events fetched per page")
	flag.Parse()

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

	if *tenantID == "" {
		log.Error("Missing required -tenant flag")
		os.Exit(1)
	}

	cfg, err := config.Load(log)
	if err != nil {
		log.Error("Config load failed", "error", err)
		os.Exit(1)
	}

	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	eventRepo := repos.NewEventRepo(thePG, log)
	profileRepo := repos.NewProfileRepo(thePG, log)
	scoreRepo := repos.NewScoreRepo(thePG, log)

	signalStore := signal.NewStore(log, profileRepo, signal.NewKeyedMutex(), time.Duration(cfg.EvictionIdleHours)*time.Hour)
	scoringEngine := scoring.NewEngine(
		log,
		signalStore,
		scoreRepo,
		nil,
		time.Duration(cfg.ScoreCacheTTLSeconds)*time.Second,
		cfg.RescoreThresholdEvents,
		nil,
	)

	ctx := context.Background()
	sequence := *fromSequence
	replayed := 0
	start := time.Now()
	for {
		events, err := eventRepo.ListByTenantFromSequence(ctx, nil, *tenantID, sequence, *batchSize)
		if err != nil {
			log.Error("Event page read failed", "from_sequence", sequence, "error", err)
			os.Exit(1)
		}
		if len(events) == 0 {
			break
		}
		for _, event := range events {
			counter, err := signalStore.Apply(ctx, event)
			if err != nil {
				log.Error("Replay apply failed",
					"sequence", event.Sequence,
					"event_id", event.EventID,
					"error", err,
				)
				os.Exit(1)
			}
			if _, err := scoringEngine.MaybeRescore(ctx, counter); err != nil {
				log.Warn("Rescore during replay failed",
					"global_customer_id", event.GlobalCustomerID,
					"category", event.Category,
					"error", err,
				)
			}
			replayed++
			sequence = event.Sequence + 1
		}
	}

	log.Info("Replay finished",
		"tenant_id", *tenantID,
		"events", replayed,
		"elapsed", time.Since(start).String(),
	)
}
