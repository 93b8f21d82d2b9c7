package query

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/patternos/patternos-backend/internal/apierr"
	"github.com/patternos/patternos-backend/internal/engine/attribution"
	"github.com/patternos/patternos-backend/internal/engine/identity"
	"github.com/patternos/patternos-backend/internal/engine/scoring"
	"github.com/patternos/patternos-backend/internal/engine/signal"
	"github.com/patternos/patternos-backend/internal/logger"
	"github.com/patternos/patternos-backend/internal/repos"
	"github.com/patternos/patternos-backend/internal/types"
)

// CustomerView is the point-read composite for one customer. Degraded is set
// when a secondary read failed and the view is missing that slice rather than
// the whole request failing.
type CustomerView struct {
	Profile  *types.CustomerProfile   `json:"profile"`
	Bindings []*types.IdentityBinding `json:"bindings,omitempty"`
	Scores   []*types.IntentScore     `json:"scores,omitempty"`
	Degraded bool                     `json:"degraded,omitempty"`
}

type JourneyView struct {
	State       string              `json:"state"`
	Touchpoints []*types.Touchpoint `json:"touchpoints"`
	Conversions []*types.Conversion `json:"conversions,omitempty"`
	Degraded    bool                `json:"degraded,omitempty"`
}

type AttributionView struct {
	Conversion  *types.Conversion  `json:"conversion"`
	Allocations []types.Allocation `json:"allocations"`
}

// Service is the read side: point reads compose the engines' state, batched
// reads live in the aggregate service. Secondary read failures degrade the
// response instead of failing it.
type Service struct {
	log          *logger.Logger
	signals      signal.Store
	scoring      scoring.Engine
	attributions attribution.Engine
	resolver     identity.Resolver
	scores       repos.ScoreRepo
	conversions  repos.ConversionRepo
}

func NewService(
	baseLog *logger.Logger,
	signals signal.Store,
	scoringEngine scoring.Engine,
	attributions attribution.Engine,
	resolver identity.Resolver,
	scores repos.ScoreRepo,
	conversions repos.ConversionRepo,
) *Service {
	return &Service{
		log:          baseLog.With("component", "QueryService"),
		signals:      signals,
		scoring:      scoringEngine,
		attributions: attributions,
		resolver:     resolver,
		scores:       scores,
		conversions:  conversions,
	}
}

func (s *Service) Customer(ctx context.Context, customerID uuid.UUID) (*CustomerView, error) {
	if customerID == uuid.Nil {
		return nil, apierr.Validationf("missing_customer", "customer id required")
	}
	profile, err := s.signals.Profile(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, apierr.NotFoundf("customer_not_found", "customer %s not found", customerID)
	}
	view := &CustomerView{Profile: profile}

	bindings, err := s.resolver.Bindings(ctx, customerID)
	if err != nil {
		s.log.Warn("Binding read degraded customer view", "global_customer_id", customerID, "error", err)
		view.Degraded = true
	} else {
		view.Bindings = bindings
	}

	scores, err := s.scores.ListLatestByCustomer(ctx, nil, customerID)
	if err != nil {
		s.log.Warn("Score read degraded customer view", "global_customer_id", customerID, "error", err)
		view.Degraded = true
	} else {
		view.Scores = scores
	}
	return view, nil
}

// Score serves the latest intent score for one (customer, category) pair,
// recomputing through the scoring engine when the cached one is stale.
func (s *Service) Score(ctx context.Context, customerID uuid.UUID, category string) (*types.IntentScore, error) {
	if customerID == uuid.Nil {
		return nil, apierr.Validationf("missing_customer", "customer id required")
	}
	if category == "" {
		return nil, apierr.Validationf("missing_category", "category required")
	}
	return s.scoring.Score(ctx, customerID, category)
}

func (s *Service) Windows(ctx context.Context, customerID uuid.UUID, category string) (*signal.Windowed, error) {
	if customerID == uuid.Nil {
		return nil, apierr.Validationf("missing_customer", "customer id required")
	}
	return s.signals.Windows(ctx, customerID, category, time.Now().UTC())
}

func (s *Service) Journey(ctx context.Context, customerID uuid.UUID) (*JourneyView, error) {
	touchpoints, err := s.attributions.Journey(ctx, customerID)
	if err != nil {
		return nil, err
	}
	state, err := s.attributions.JourneyState(ctx, customerID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	view := &JourneyView{State: state, Touchpoints: touchpoints}

	conversions, err := s.conversions.ListByCustomer(ctx, nil, customerID)
	if err != nil {
		s.log.Warn("Conversion read degraded journey view", "global_customer_id", customerID, "error", err)
		view.Degraded = true
	} else {
		view.Conversions = conversions
	}
	return view, nil
}

func (s *Service) Attribution(ctx context.Context, orderID string) (*AttributionView, error) {
	conv, err := s.attributions.Attribution(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &AttributionView{
		Conversion:  conv,
		Allocations: attribution.DecodeAllocations(conv.Allocations),
	}, nil
}
