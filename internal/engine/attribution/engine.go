package attribution

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/patternos/patternos-backend/internal/apierr"
	"github.com/patternos/patternos-backend/internal/engine/signal"
	"github.com/patternos/patternos-backend/internal/logger"
	"github.com/patternos/patternos-backend/internal/repos"
	"github.com/patternos/patternos-backend/internal/types"
)

// Journey lifecycle states.
const (
	JourneyStateEmpty     = "empty"
	JourneyStateActive    = "active"
	JourneyStateConverted = "converted"
	JourneyStateDormant   = "dormant"
)

type ConversionInput struct {
	GlobalCustomerID uuid.UUID
	OrderID          string
	Revenue          float64
	Items            []map[string]interface{}
	OccurredAt       time.Time
	Model            string
	LookbackDays     int
}

type ROASReport struct {
	CampaignID        uuid.UUID `json:"campaign_id"`
	Model             string    `json:"model"`
	Revenue           float64   `json:"revenue"`
	AdSpend           float64   `json:"ad_spend"`
	ROAS              float64   `json:"roas"`
	Conversions       int64     `json:"conversions"`
	CostPerConversion float64   `json:"cost_per_conversion"`
}

// Engine owns touchpoint journeys and conversion attribution. Journey writes
// for a customer serialise on the same keyed lock that guards the customer's
// counters, which is what makes a recorded touchpoint visible to any
// conversion recorded after it returns.
type Engine interface {
	RecordTouchpoint(ctx context.Context, tp *types.Touchpoint) error
	RecordConversion(ctx context.Context, in ConversionInput) (*types.Conversion, error)
	Journey(ctx context.Context, customerID uuid.UUID) ([]*types.Touchpoint, error)
	JourneyState(ctx context.Context, customerID uuid.UUID, now time.Time) (string, error)
	Attribution(ctx context.Context, orderID string) (*types.Conversion, error)
	ROAS(ctx context.Context, campaignID uuid.UUID, model string, from, to time.Time) (*ROASReport, error)
}

type engine struct {
	log          *logger.Logger
	touchpoints  repos.TouchpointRepo
	conversions  repos.ConversionRepo
	campaigns    repos.CampaignRepo
	locks        *signal.KeyedMutex
	defaultModel string
	lookbackDays int

	seqMu     sync.Mutex
	seqSeeded bool
	seq       int64
}

func NewEngine(
	baseLog *logger.Logger,
	touchpoints repos.TouchpointRepo,
	conversions repos.ConversionRepo,
	campaigns repos.CampaignRepo,
	locks *signal.KeyedMutex,
	defaultModel string,
	lookbackDays int,
) Engine {
	if defaultModel == "" {
		defaultModel = types.AttributionModelLastClick
	}
	if lookbackDays <= 0 {
		lookbackDays = 30
	}
	return &engine{
		log:          baseLog.With("component", "AttributionEngine"),
		touchpoints:  touchpoints,
		conversions:  conversions,
		campaigns:    campaigns,
		locks:        locks,
		defaultModel: defaultModel,
		lookbackDays: lookbackDays,
	}
}

// nextSequence hands out journey-wide sequence numbers. The counter seeds once
// from the highest persisted sequence, so restarts continue the series and the
// (occurred_at, sequence) journey order stays stable.
func (e *engine) nextSequence(ctx context.Context) (int64, error) {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()
	if !e.seqSeeded {
		max, err := e.touchpoints.MaxSequence(ctx, nil)
		if err != nil {
			return 0, apierr.New(apierr.KindTransient, "sequence_seed_failed", err)
		}
		e.seq = max
		e.seqSeeded = true
	}
	e.seq++
	return e.seq, nil
}

func (e *engine) RecordTouchpoint(ctx context.Context, tp *types.Touchpoint) error {
	if tp == nil {
		return apierr.Validationf("missing_touchpoint", "touchpoint is required")
	}
	if tp.GlobalCustomerID == uuid.Nil {
		return apierr.Validationf("missing_customer", "touchpoint has no customer")
	}
	if tp.CampaignID == uuid.Nil {
		return apierr.Validationf("missing_campaign", "touchpoint has no campaign")
	}
	switch tp.Kind {
	case types.TouchpointKindImpression, types.TouchpointKindClick, types.TouchpointKindView:
	default:
		return apierr.Validationf("unknown_touchpoint_kind", "unknown touchpoint kind %q", tp.Kind)
	}
	if tp.ID == uuid.Nil {
		tp.ID = uuid.New()
	}
	if tp.OccurredAt.IsZero() {
		tp.OccurredAt = time.Now().UTC()
	}

	e.locks.Lock(tp.GlobalCustomerID)
	defer e.locks.Unlock(tp.GlobalCustomerID)

	seq, err := e.nextSequence(ctx)
	if err != nil {
		return err
	}
	tp.Sequence = seq
	if err := e.touchpoints.Create(ctx, nil, tp); err != nil {
		return apierr.New(apierr.KindTransient, "touchpoint_write_failed", err)
	}

	var impressions, clicks int64
	switch tp.Kind {
	case types.TouchpointKindImpression, types.TouchpointKindView:
		impressions = 1
	case types.TouchpointKindClick:
		clicks = 1
	}
	if err := e.campaigns.IncrementDelivery(ctx, nil, tp.CampaignID, impressions, clicks); err != nil {
		e.log.Warn("Campaign delivery rollup update failed", "campaign_id", tp.CampaignID, "error", err)
	}
	return nil
}

func (e *engine) RecordConversion(ctx context.Context, in ConversionInput) (*types.Conversion, error) {
	if in.GlobalCustomerID == uuid.Nil {
		return nil, apierr.Validationf("missing_customer", "conversion has no customer")
	}
	if in.OrderID == "" {
		return nil, apierr.Validationf("missing_order_id", "conversion has no order_id")
	}
	if in.Revenue <= 0 {
		return nil, apierr.Validationf("invalid_revenue", "conversion revenue must be positive, got %v", in.Revenue)
	}
	model := in.Model
	if model == "" {
		model = e.defaultModel
	}
	if !KnownModel(model) {
		return nil, apierr.Validationf("unknown_model", "unknown attribution model %q", model)
	}
	lookback := in.LookbackDays
	if lookback <= 0 {
		lookback = e.lookbackDays
	}
	if in.OccurredAt.IsZero() {
		in.OccurredAt = time.Now().UTC()
	}

	e.locks.Lock(in.GlobalCustomerID)
	defer e.locks.Unlock(in.GlobalCustomerID)

	existing, err := e.conversions.GetByOrderID(ctx, nil, in.OrderID)
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, "conversion_read_failed", err)
	}
	if existing != nil {
		return e.resubmit(ctx, existing, in, model, lookback)
	}

	conv, err := e.attribute(ctx, in, model, lookback)
	if err != nil {
		return nil, err
	}
	if err := e.conversions.Create(ctx, nil, conv); err != nil {
		return nil, apierr.New(apierr.KindTransient, "conversion_write_failed", err)
	}
	e.rollupAllocations(ctx, conv)
	return conv, nil
}

// resubmit handles the idempotent path. An identical payload returns the
// stored allocations; a model change recomputes and replaces them. Either way
// the revision counter advances, and a payload mismatch is a conflict.
func (e *engine) resubmit(ctx context.Context, existing *types.Conversion, in ConversionInput, model string, lookback int) (*types.Conversion, error) {
	if existing.GlobalCustomerID != in.GlobalCustomerID || round2(existing.Revenue) != round2(in.Revenue) {
		return nil, apierr.Conflictf("order_payload_mismatch",
			"order %s resubmitted with a different payload", in.OrderID)
	}
	if existing.AttributionModel != model {
		recomputed, err := e.attribute(ctx, in, model, lookback)
		if err != nil {
			return nil, err
		}
		existing.AttributionModel = model
		existing.LookbackDays = lookback
		existing.Organic = recomputed.Organic
		existing.Allocations = recomputed.Allocations
		e.log.Info("Conversion allocations revised",
			"order_id", existing.OrderID,
			"model", model,
			"revision", existing.Revision+1,
		)
	}
	existing.Revision++
	existing.UpdatedAt = time.Now().UTC()
	if err := e.conversions.Save(ctx, nil, existing); err != nil {
		return nil, apierr.New(apierr.KindTransient, "conversion_write_failed", err)
	}
	return existing, nil
}

func (e *engine) attribute(ctx context.Context, in ConversionInput, model string, lookback int) (*types.Conversion, error) {
	from := in.OccurredAt.AddDate(0, 0, -lookback)
	journey, err := e.touchpoints.ListByCustomerWindow(ctx, nil, in.GlobalCustomerID, from, in.OccurredAt)
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, "journey_read_failed", err)
	}

	allocations, err := Allocate(model, journey, in.Revenue, in.OccurredAt)
	if err != nil {
		return nil, err
	}
	if err := verifyAllocations(allocations, in.Revenue); err != nil {
		return nil, err
	}

	items, err := json.Marshal(in.Items)
	if err != nil {
		return nil, apierr.Validationf("invalid_items", "conversion items not serialisable: %v", err)
	}
	rawAllocations, err := json.Marshal(allocations)
	if err != nil {
		return nil, err
	}

	return &types.Conversion{
		ID:               uuid.New(),
		GlobalCustomerID: in.GlobalCustomerID,
		OrderID:          in.OrderID,
		Revenue:          round2(in.Revenue),
		Items:            datatypes.JSON(items),
		OccurredAt:       in.OccurredAt.UTC(),
		AttributionModel: model,
		LookbackDays:     lookback,
		Organic:          len(allocations) == 0,
		Revision:         0,
		Allocations:      datatypes.JSON(rawAllocations),
	}, nil
}

// verifyAllocations enforces the credit and revenue invariants before
// anything is persisted. A violation here is an integrity error, never
// silently repaired.
func verifyAllocations(allocations []types.Allocation, revenue float64) error {
	if len(allocations) == 0 {
		return nil
	}
	var creditSum, revenueSum float64
	for _, a := range allocations {
		if a.Credit < 0 || a.Credit > 1 {
			return apierr.Integrityf("credit_out_of_range", "credit %v outside [0,1]", a.Credit)
		}
		creditSum += a.Credit
		revenueSum += a.AttributedRevenue
	}
	if d := creditSum - 1; d > 0.0005 || d < -0.0005 {
		return apierr.Integrityf("credit_sum_violation", "credit sum %v != 1", creditSum)
	}
	if d := round2(revenueSum) - round2(revenue); d != 0 {
		return apierr.Integrityf("revenue_sum_violation", "attributed %v != revenue %v", revenueSum, revenue)
	}
	return nil
}

// rollupAllocations materialises per-campaign conversion counts and
// attributed revenue. Only first-time conversions roll up, so resubmits never
// double count.
func (e *engine) rollupAllocations(ctx context.Context, conv *types.Conversion) {
	allocations := DecodeAllocations(conv.Allocations)
	for _, a := range allocations {
		if err := e.campaigns.AddConversion(ctx, nil, a.CampaignID, a.AttributedRevenue); err != nil {
			e.log.Warn("Campaign conversion rollup update failed", "campaign_id", a.CampaignID, "error", err)
		}
	}
}

func (e *engine) Journey(ctx context.Context, customerID uuid.UUID) ([]*types.Touchpoint, error) {
	if customerID == uuid.Nil {
		return nil, apierr.Validationf("missing_customer", "customer id required")
	}
	journey, err := e.touchpoints.ListByCustomer(ctx, nil, customerID)
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, "journey_read_failed", err)
	}
	return journey, nil
}

func (e *engine) JourneyState(ctx context.Context, customerID uuid.UUID, now time.Time) (string, error) {
	latest, err := e.touchpoints.LatestByCustomer(ctx, nil, customerID)
	if err != nil {
		return "", apierr.New(apierr.KindTransient, "journey_read_failed", err)
	}
	if latest == nil {
		return JourneyStateEmpty, nil
	}
	conversions, err := e.conversions.ListByCustomer(ctx, nil, customerID)
	if err != nil {
		return "", apierr.New(apierr.KindTransient, "conversion_read_failed", err)
	}
	for _, conv := range conversions {
		if !conv.Organic && !conv.OccurredAt.Before(latest.OccurredAt) {
			return JourneyStateConverted, nil
		}
	}
	if latest.OccurredAt.Before(now.AddDate(0, 0, -e.lookbackDays)) {
		return JourneyStateDormant, nil
	}
	return JourneyStateActive, nil
}

func (e *engine) Attribution(ctx context.Context, orderID string) (*types.Conversion, error) {
	if orderID == "" {
		return nil, apierr.Validationf("missing_order_id", "order id required")
	}
	conv, err := e.conversions.GetByOrderID(ctx, nil, orderID)
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, "conversion_read_failed", err)
	}
	if conv == nil {
		return nil, apierr.NotFoundf("order_not_found", "order %s not found", orderID)
	}
	return conv, nil
}

// ROAS recomputes attribution for the period under the requested model, so a
// campaign's return can be inspected under a model other than the one each
// conversion was recorded with.
func (e *engine) ROAS(ctx context.Context, campaignID uuid.UUID, model string, from, to time.Time) (*ROASReport, error) {
	if campaignID == uuid.Nil {
		return nil, apierr.Validationf("missing_campaign", "campaign id required")
	}
	if model == "" {
		model = e.defaultModel
	}
	if !KnownModel(model) {
		return nil, apierr.Validationf("unknown_model", "unknown attribution model %q", model)
	}
	campaign, err := e.campaigns.GetByID(ctx, nil, campaignID)
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, "campaign_read_failed", err)
	}
	if campaign == nil {
		return nil, apierr.NotFoundf("campaign_not_found", "campaign %s not found", campaignID)
	}

	conversions, err := e.conversions.ListByPeriod(ctx, nil, from, to)
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, "conversion_read_failed", err)
	}

	var revenue float64
	var count int64
	for _, conv := range conversions {
		if conv.Organic {
			continue
		}
		windowFrom := conv.OccurredAt.AddDate(0, 0, -conv.LookbackDays)
		journey, err := e.touchpoints.ListByCustomerWindow(ctx, nil, conv.GlobalCustomerID, windowFrom, conv.OccurredAt)
		if err != nil {
			return nil, apierr.New(apierr.KindTransient, "journey_read_failed", err)
		}
		allocations, err := Allocate(model, journey, conv.Revenue, conv.OccurredAt)
		if err != nil {
			return nil, err
		}
		for _, a := range allocations {
			if a.CampaignID == campaignID && a.Credit > 0 {
				revenue += a.AttributedRevenue
				count++
			}
		}
	}

	adSpend, err := e.campaigns.SumSpendByCampaigns(ctx, nil, []uuid.UUID{campaignID}, from, to)
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, "spend_read_failed", err)
	}

	report := &ROASReport{
		CampaignID:  campaignID,
		Model:       model,
		Revenue:     round2(revenue),
		AdSpend:     round2(adSpend),
		Conversions: count,
	}
	if adSpend > 0 {
		report.ROAS = round2(revenue / adSpend)
	}
	if count > 0 {
		report.CostPerConversion = round2(adSpend / float64(count))
	}
	return report, nil
}

// DecodeAllocations unmarshals the stored allocation list; corrupt payloads
// decode as empty.
func DecodeAllocations(raw datatypes.JSON) []types.Allocation {
	if len(raw) == 0 {
		return nil
	}
	var allocations []types.Allocation
	if err := json.Unmarshal(raw, &allocations); err != nil {
		return nil
	}
	return allocations
}
