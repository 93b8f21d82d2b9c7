package worker

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	redisclient "github.com/patternos/patternos-backend/internal/clients/redis"
	"github.com/patternos/patternos-backend/internal/engine/ingest"
	"github.com/patternos/patternos-backend/internal/logger"
	"github.com/patternos/patternos-backend/internal/repos"
)

// Worker runs the background loops: replaying parked ingest events off the
// fallback queue and archiving events past the retention horizon. Both loops
// stop with the context.
type Worker struct {
	log           *logger.Logger
	pipeline      ingest.Pipeline
	fallback      redisclient.FallbackQueue // nil when redis is not configured
	events        repos.EventRepo
	retentionDays int
	concurrency   int
}

func NewWorker(
	baseLog *logger.Logger,
	pipeline ingest.Pipeline,
	fallback redisclient.FallbackQueue,
	events repos.EventRepo,
	retentionDays int,
	concurrency int,
) *Worker {
	if retentionDays <= 0 {
		retentionDays = 365
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Worker{
		log:           baseLog.With("component", "Worker"),
		pipeline:      pipeline,
		fallback:      fallback,
		events:        events,
		retentionDays: retentionDays,
		concurrency:   concurrency,
	}
}

func (w *Worker) Start(ctx context.Context) {
	if w.fallback != nil {
		go w.reconcileLoop(ctx)
	}
	go w.retentionLoop(ctx)
}

// reconcileLoop drains the fallback queue, replaying parked events through the
// pipeline. Replay is idempotent, so an event that fails mid-way is safe to
// requeue.
func (w *Worker) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	const batch = 64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drainFallback(ctx, batch)
		}
	}
}

func (w *Worker) drainFallback(ctx context.Context, batch int) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	drained := 0
	for drained < batch {
		event, err := w.fallback.Dequeue(ctx)
		if err != nil {
			w.log.Warn("Fallback dequeue failed", "error", err)
			break
		}
		if event == nil {
			break
		}
		drained++
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					w.log.Error("Replay panic", "event_id", event.EventID, "panic", r)
				}
			}()
			if err := w.pipeline.Replay(gctx, event); err != nil {
				w.log.Warn("Replay failed, requeueing",
					"platform_id", event.PlatformID,
					"event_id", event.EventID,
					"error", err,
				)
				if qErr := w.fallback.Enqueue(gctx, event); qErr != nil {
					w.log.Error("Requeue after failed replay lost the event",
						"event_id", event.EventID,
						"error", qErr,
					)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	if drained > 0 {
		w.log.Info("Fallback drain pass finished", "events", drained)
	}
}

// retentionLoop archives events past the retention horizon once per hour.
// Archived rows stay queryable for replay but drop out of the hot paths.
func (w *Worker) retentionLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -w.retentionDays)
			archived, err := w.events.ArchiveOlderThan(ctx, nil, cutoff)
			if err != nil {
				w.log.Warn("Retention archival failed", "error", err)
				continue
			}
			if archived > 0 {
				w.log.Info("Events archived past retention", "count", archived, "cutoff", cutoff)
			}
		}
	}
}
