package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/patternos/patternos-backend/internal/apierr"
	redisclient "github.com/patternos/patternos-backend/internal/clients/redis"
	"github.com/patternos/patternos-backend/internal/engine/identity"
	"github.com/patternos/patternos-backend/internal/engine/scoring"
	"github.com/patternos/patternos-backend/internal/engine/signal"
	"github.com/patternos/patternos-backend/internal/logger"
	"github.com/patternos/patternos-backend/internal/repos"
	"github.com/patternos/patternos-backend/internal/types"
)

// Submission outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeShed      = "shed"
	OutcomeParked    = "parked"
)

type SubmitInput struct {
	TenantID           string                 `json:"tenant_id"`
	PlatformID         string                 `json:"platform_id"`
	EventID            string                 `json:"event_id"`
	PlatformCustomerID string                 `json:"platform_customer_id"`
	Kind               string                 `json:"kind"`
	Category           string                 `json:"category"`
	ProductID          string                 `json:"product_id"`
	CampaignID         *uuid.UUID             `json:"campaign_id"`
	Properties         map[string]interface{} `json:"properties"`
	OccurredAt         time.Time              `json:"occurred_at"`
	Identity           *types.IdentityHint    `json:"identity"`
}

type Result struct {
	Outcome          string               `json:"outcome"`
	Event            *types.Event         `json:"event,omitempty"`
	Resolution       *identity.Resolution `json:"resolution,omitempty"`
	Score            *types.IntentScore   `json:"score,omitempty"`
	GlobalCustomerID uuid.UUID            `json:"global_customer_id"`
}

// Pipeline is the write path: validate, dedupe, resolve identity, sequence,
// persist, fold into the signal store and rescore when due. Under sustained
// write pressure it sheds low-priority kinds, and when the event log itself is
// down it fails open onto the redis fallback queue.
type Pipeline interface {
	Submit(ctx context.Context, in *SubmitInput) (*Result, error)
	Replay(ctx context.Context, event *types.Event) error
}

type pipeline struct {
	log         *logger.Logger
	events      repos.EventRepo
	quarantine  repos.QuarantineRepo
	resolver    identity.Resolver
	signals     signal.Store
	scoring     scoring.Engine
	fallback    redisclient.FallbackQueue // nil when redis is not configured
	seq         *sequencer
	skewBudget  time.Duration
	writeBudget time.Duration
	retry       apierr.RetryPolicy

	mu          sync.Mutex
	ewmaLatency time.Duration
	now         func() time.Time
}

func NewPipeline(
	baseLog *logger.Logger,
	events repos.EventRepo,
	quarantine repos.QuarantineRepo,
	resolver identity.Resolver,
	signals signal.Store,
	scoringEngine scoring.Engine,
	fallback redisclient.FallbackQueue,
	skewBudget time.Duration,
	writeBudget time.Duration,
) Pipeline {
	if skewBudget <= 0 {
		skewBudget = 24 * time.Hour
	}
	if writeBudget <= 0 {
		writeBudget = 250 * time.Millisecond
	}
	return &pipeline{
		log:         baseLog.With("component", "IngestPipeline"),
		events:      events,
		quarantine:  quarantine,
		resolver:    resolver,
		signals:     signals,
		scoring:     scoringEngine,
		fallback:    fallback,
		seq:         newSequencer(events),
		skewBudget:  skewBudget,
		writeBudget: writeBudget,
		retry:       apierr.DefaultRetryPolicy(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (p *pipeline) Submit(ctx context.Context, in *SubmitInput) (*Result, error) {
	if in == nil {
		return nil, apierr.Validationf("missing_payload", "event payload required")
	}
	now := p.now()

	if err := validate(in, p.skewBudget, now); err != nil {
		p.quarantineInput(ctx, in, err)
		return nil, err
	}

	exists, err := p.events.ExistsByPlatformEventID(ctx, nil, in.PlatformID, in.EventID)
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, "dedupe_check_failed", err)
	}
	if exists {
		return &Result{Outcome: OutcomeDuplicate}, nil
	}

	if p.shouldShed(in.Kind) {
		p.log.Warn("Event shed under write pressure", "tenant_id", in.TenantID, "kind", in.Kind)
		return &Result{Outcome: OutcomeShed}, nil
	}

	resolution, err := p.resolver.Resolve(ctx, in.PlatformID, in.PlatformCustomerID, in.Identity)
	if err != nil {
		return nil, err
	}

	event, err := p.normalise(ctx, in, resolution.GlobalCustomerID, now)
	if err != nil {
		return nil, err
	}

	writeErr := p.retry.Do(ctx, func(ctx context.Context) error {
		return p.createTimed(ctx, event)
	})

	if writeErr != nil {
		if p.fallback == nil {
			return nil, writeErr
		}
		if qErr := p.fallback.Enqueue(ctx, event); qErr != nil {
			return nil, apierr.New(apierr.KindUnavailable, "event_write_and_fallback_failed", qErr)
		}
		p.log.Warn("Event parked on fallback queue",
			"tenant_id", in.TenantID,
			"event_id", in.EventID,
			"error", writeErr,
		)
		return &Result{
			Outcome:          OutcomeParked,
			Event:            event,
			Resolution:       resolution,
			GlobalCustomerID: resolution.GlobalCustomerID,
		}, nil
	}

	score, err := p.fold(ctx, event)
	if err != nil {
		return nil, err
	}
	return &Result{
		Outcome:          OutcomeAccepted,
		Event:            event,
		Resolution:       resolution,
		Score:            score,
		GlobalCustomerID: resolution.GlobalCustomerID,
	}, nil
}

// Replay re-applies a parked event. The persisted-event dedupe makes replay
// idempotent; a duplicate means a previous replay got as far as the write.
func (p *pipeline) Replay(ctx context.Context, event *types.Event) error {
	exists, err := p.events.ExistsByPlatformEventID(ctx, nil, event.PlatformID, event.EventID)
	if err != nil {
		return apierr.New(apierr.KindTransient, "dedupe_check_failed", err)
	}
	if !exists {
		if err := p.retry.Do(ctx, func(ctx context.Context) error {
			return p.createTimed(ctx, event)
		}); err != nil {
			return err
		}
	}
	_, err = p.fold(ctx, event)
	return err
}

// createTimed appends one event to the log, folding the attempt's duration
// into the smoothed latency signal. Each retry attempt is timed on its own so
// backoff sleeps never count as write latency.
func (p *pipeline) createTimed(ctx context.Context, event *types.Event) error {
	start := p.now()
	err := p.events.Create(ctx, nil, event)
	p.observeLatency(p.now().Sub(start))
	if err != nil {
		return apierr.New(apierr.KindTransient, "event_write_failed", err)
	}
	return nil
}

func (p *pipeline) normalise(ctx context.Context, in *SubmitInput, customerID uuid.UUID, now time.Time) (*types.Event, error) {
	var props datatypes.JSON
	if len(in.Properties) > 0 {
		raw, err := json.Marshal(in.Properties)
		if err != nil {
			return nil, apierr.Validationf("invalid_properties", "properties not serialisable: %v", err)
		}
		props = datatypes.JSON(raw)
	}
	seq, err := p.seq.Next(ctx, in.TenantID)
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, "sequence_failed", err)
	}
	event := &types.Event{
		ID:                 uuid.New(),
		TenantID:           in.TenantID,
		Sequence:           seq,
		PlatformID:         in.PlatformID,
		EventID:            in.EventID,
		PlatformCustomerID: in.PlatformCustomerID,
		GlobalCustomerID:   customerID,
		Kind:               in.Kind,
		Category:           in.Category,
		CampaignID:         in.CampaignID,
		Properties:         props,
		OccurredAt:         in.OccurredAt.UTC(),
		IngestedAt:         now,
	}
	if in.ProductID != "" {
		productID := in.ProductID
		event.ProductID = &productID
	}
	return event, nil
}

// fold applies the persisted event to the signal store and rescoring.
func (p *pipeline) fold(ctx context.Context, event *types.Event) (*types.IntentScore, error) {
	counter, err := p.signals.Apply(ctx, event)
	if err != nil {
		return nil, err
	}
	score, err := p.scoring.MaybeRescore(ctx, counter)
	if err != nil {
		p.log.Warn("Rescore after ingest failed",
			"global_customer_id", event.GlobalCustomerID,
			"category", event.Category,
			"error", err,
		)
		return nil, nil
	}
	return score, nil
}

func (p *pipeline) quarantineInput(ctx context.Context, in *SubmitInput, cause error) {
	payload, err := json.Marshal(in)
	if err != nil {
		payload = nil
	}
	row := &types.QuarantinedEvent{
		ID:         uuid.New(),
		TenantID:   in.TenantID,
		PlatformID: in.PlatformID,
		EventID:    in.EventID,
		Reason:     cause.Error(),
		Payload:    datatypes.JSON(payload),
	}
	if err := p.quarantine.Create(ctx, nil, row); err != nil {
		p.log.Error("Quarantine write failed",
			"tenant_id", in.TenantID,
			"event_id", in.EventID,
			"error", err,
		)
	}
}

// observeLatency folds one write duration into the smoothed latency signal.
func (p *pipeline) observeLatency(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ewmaLatency == 0 {
		p.ewmaLatency = d
		return
	}
	p.ewmaLatency = (p.ewmaLatency*4 + d) / 5
}

// shouldShed drops low-value kinds when the smoothed write latency exceeds the
// budget. The shed floor rises with the overshoot, and the top priority tier
// (purchases, ad clicks) is never shed.
func (p *pipeline) shouldShed(kind string) bool {
	p.mu.Lock()
	latency := p.ewmaLatency
	p.mu.Unlock()
	if latency <= p.writeBudget {
		return false
	}
	priority := types.KnownEventKinds[kind]
	floor := 1
	if latency > 2*p.writeBudget {
		floor = 2
	}
	if latency > 3*p.writeBudget {
		floor = 3
	}
	return priority <= floor
}
