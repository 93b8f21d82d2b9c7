package scoring

import (
	"context"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/patternos/patternos-backend/internal/apierr"
	redisclient "github.com/patternos/patternos-backend/internal/clients/redis"
	"github.com/patternos/patternos-backend/internal/engine/signal"
	"github.com/patternos/patternos-backend/internal/logger"
	"github.com/patternos/patternos-backend/internal/repos"
	"github.com/patternos/patternos-backend/internal/types"
)

// Engine computes and memoises intent scores. Reads are served from the
// in-process cache (and the shared redis cache when configured) within the
// TTL; counter writes trigger a rescore once the event threshold is crossed.
type Engine interface {
	Score(ctx context.Context, customerID uuid.UUID, category string) (*types.IntentScore, error)
	Rescore(ctx context.Context, customerID uuid.UUID, category string) (*types.IntentScore, error)
	MaybeRescore(ctx context.Context, counter *types.CategoryCounter) (*types.IntentScore, error)
}

type engine struct {
	log       *logger.Logger
	signals   signal.Store
	scores    repos.ScoreRepo
	predictor Predictor
	ttl       time.Duration
	threshold int
	local     *gocache.Cache
	shared    redisclient.ScoreCache // nil when redis is not configured
}

func NewEngine(
	baseLog *logger.Logger,
	signals signal.Store,
	scores repos.ScoreRepo,
	predictor Predictor,
	ttl time.Duration,
	rescoreThreshold int,
	shared redisclient.ScoreCache,
) Engine {
	if predictor == nil {
		predictor = HeuristicPredictor{}
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if rescoreThreshold <= 0 {
		rescoreThreshold = 3
	}
	return &engine{
		log:       baseLog.With("component", "ScoringEngine"),
		signals:   signals,
		scores:    scores,
		predictor: predictor,
		ttl:       ttl,
		threshold: rescoreThreshold,
		local:     gocache.New(ttl, 2*ttl),
		shared:    shared,
	}
}

func cacheKey(customerID uuid.UUID, category string) string {
	return customerID.String() + "|" + category
}

func (e *engine) Score(ctx context.Context, customerID uuid.UUID, category string) (*types.IntentScore, error) {
	key := cacheKey(customerID, category)
	if cached, ok := e.local.Get(key); ok {
		if score, ok := cached.(*types.IntentScore); ok {
			return score, nil
		}
	}
	if e.shared != nil {
		if score, ok := e.shared.Get(ctx, customerID, category); ok {
			e.local.Set(key, score, gocache.DefaultExpiration)
			return score, nil
		}
	}

	latest, err := e.scores.Latest(ctx, nil, customerID, category)
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, "score_read_failed", err)
	}
	if latest != nil && time.Since(latest.ComputedAt) < e.ttl {
		e.remember(ctx, latest)
		return latest, nil
	}
	return e.rescoreLocked(ctx, customerID, category, latest)
}

func (e *engine) Rescore(ctx context.Context, customerID uuid.UUID, category string) (*types.IntentScore, error) {
	latest, err := e.scores.Latest(ctx, nil, customerID, category)
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, "score_read_failed", err)
	}
	return e.rescoreLocked(ctx, customerID, category, latest)
}

// MaybeRescore runs after a counter write; it recomputes only once enough new
// relevant events have accumulated since the last score.
func (e *engine) MaybeRescore(ctx context.Context, counter *types.CategoryCounter) (*types.IntentScore, error) {
	if counter == nil || counter.EventsSinceScore < e.threshold {
		return nil, nil
	}
	return e.Rescore(ctx, counter.GlobalCustomerID, counter.Category)
}

func (e *engine) rescoreLocked(ctx context.Context, customerID uuid.UUID, category string, latest *types.IntentScore) (*types.IntentScore, error) {
	counter, err := e.signals.Counter(ctx, customerID, category)
	if err != nil {
		return nil, err
	}

	var version int64 = 1
	if latest != nil {
		version = latest.ScoreVersion + 1
	}
	score := computeWith(e.predictor, counter, customerID, category, time.Now().UTC(), version)

	if err := e.scores.Create(ctx, nil, score); err != nil {
		return nil, apierr.New(apierr.KindTransient, "score_write_failed", err)
	}
	if err := e.signals.ResetScoreCounter(ctx, customerID, category); err != nil {
		e.log.Warn("Failed to reset rescore counter", "global_customer_id", customerID, "category", category, "error", err)
	}
	e.remember(ctx, score)
	return score, nil
}

func (e *engine) remember(ctx context.Context, score *types.IntentScore) {
	e.local.Set(cacheKey(score.GlobalCustomerID, score.Category), score, gocache.DefaultExpiration)
	if e.shared != nil {
		e.shared.Set(ctx, score)
	}
}

// Compute derives the full score snapshot from a counter row. Given the same
// counters and computed_at it is bit-identical; persisted values are rounded
// half-even to two decimals.
func Compute(counter *types.CategoryCounter, customerID uuid.UUID, category string, computedAt time.Time, version int64) *types.IntentScore {
	return computeWith(HeuristicPredictor{}, counter, customerID, category, computedAt, version)
}

func computeWith(p Predictor, counter *types.CategoryCounter, customerID uuid.UUID, category string, computedAt time.Time, version int64) *types.IntentScore {
	behavioural := Round2(Behavioural(counter))
	visual := Round2(Visual(counter))
	voice := Round2(Voice(counter))
	predictive := Round2(clamp100(p.Predict(counter)))
	unified := Round2(Unified(behavioural, visual, voice, predictive))
	level := LevelFor(unified)

	return &types.IntentScore{
		ID:                uuid.New(),
		GlobalCustomerID:  customerID,
		Category:          category,
		Behavioural:       behavioural,
		Visual:            visual,
		Voice:             voice,
		Predictive:        predictive,
		Unified:           unified,
		Level:             level,
		Confidence:        ConfidenceFor(behavioural, visual, voice, predictive),
		RecommendedAction: RecommendedActionFor(level),
		ScoreVersion:      version,
		ComputedAt:        computedAt,
	}
}
