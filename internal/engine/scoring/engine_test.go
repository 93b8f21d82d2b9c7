package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/patternos/patternos-backend/internal/engine/signal"
	"github.com/patternos/patternos-backend/internal/logger"
	"github.com/patternos/patternos-backend/internal/types"
)

type fakeScoreRepo struct {
	created []*types.IntentScore
	latest  *types.IntentScore
}

func (f *fakeScoreRepo) Create(ctx context.Context, tx *gorm.DB, score *types.IntentScore) error {
	f.created = append(f.created, score)
	f.latest = score
	return nil
}

func (f *fakeScoreRepo) Latest(ctx context.Context, tx *gorm.DB, customerID uuid.UUID, category string) (*types.IntentScore, error) {
	return f.latest, nil
}

func (f *fakeScoreRepo) ListLatestByCustomer(ctx context.Context, tx *gorm.DB, customerID uuid.UUID) ([]*types.IntentScore, error) {
	return nil, nil
}

func (f *fakeScoreRepo) ListLatestAboveThreshold(ctx context.Context, tx *gorm.DB, threshold float64) ([]*types.IntentScore, error) {
	return nil, nil
}

func (f *fakeScoreRepo) ListLatestAll(ctx context.Context, tx *gorm.DB) ([]*types.IntentScore, error) {
	return nil, nil
}

type fakeSignalStore struct {
	counter *types.CategoryCounter
	resets  int
}

func (f *fakeSignalStore) Apply(ctx context.Context, event *types.Event) (*types.CategoryCounter, error) {
	return f.counter, nil
}

func (f *fakeSignalStore) Counter(ctx context.Context, customerID uuid.UUID, category string) (*types.CategoryCounter, error) {
	return f.counter, nil
}

func (f *fakeSignalStore) Windows(ctx context.Context, customerID uuid.UUID, category string, asOf time.Time) (*signal.Windowed, error) {
	return &signal.Windowed{}, nil
}

func (f *fakeSignalStore) Profile(ctx context.Context, customerID uuid.UUID) (*types.CustomerProfile, error) {
	return nil, nil
}

func (f *fakeSignalStore) UpdateDemographics(ctx context.Context, customerID uuid.UUID, city, state, ageGroup, source string) error {
	return nil
}

func (f *fakeSignalStore) ResetScoreCounter(ctx context.Context, customerID uuid.UUID, category string) error {
	f.resets++
	if f.counter != nil {
		f.counter.EventsSinceScore = 0
	}
	return nil
}

func newTestEngine(t *testing.T) (Engine, *fakeScoreRepo, *fakeSignalStore) {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	customer := uuid.New()
	signals := &fakeSignalStore{
		counter: &types.CategoryCounter{
			GlobalCustomerID: customer,
			Category:         "grocery",
			PageViews:        4,
			Searches:         2,
		},
	}
	scores := &fakeScoreRepo{}
	return NewEngine(log, signals, scores, nil, 5*time.Minute, 3, nil), scores, signals
}

func TestScoreComputesAndCaches(t *testing.T) {
	eng, repo, signals := newTestEngine(t)
	ctx := context.Background()
	customer := signals.counter.GlobalCustomerID

	first, err := eng.Score(ctx, customer, "grocery")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if len(repo.created) != 1 {
		t.Fatalf("created %d scores on cold read", len(repo.created))
	}
	if first.ScoreVersion != 1 {
		t.Fatalf("first version = %d", first.ScoreVersion)
	}

	second, err := eng.Score(ctx, customer, "grocery")
	if err != nil {
		t.Fatalf("second Score: %v", err)
	}
	if len(repo.created) != 1 {
		t.Fatalf("cache miss on warm read, created %d scores", len(repo.created))
	}
	if second != first {
		t.Fatalf("warm read returned a different snapshot")
	}
}

func TestScoreServesFreshPersistedRow(t *testing.T) {
	eng, repo, signals := newTestEngine(t)
	customer := signals.counter.GlobalCustomerID

	repo.latest = &types.IntentScore{
		GlobalCustomerID: customer,
		Category:         "grocery",
		Unified:          55,
		ScoreVersion:     7,
		ComputedAt:       time.Now().UTC().Add(-time.Minute),
	}

	got, err := eng.Score(context.Background(), customer, "grocery")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if got.ScoreVersion != 7 {
		t.Fatalf("fresh persisted row recomputed, version = %d", got.ScoreVersion)
	}
	if len(repo.created) != 0 {
		t.Fatalf("fresh row triggered %d writes", len(repo.created))
	}
}

func TestRescoreIncrementsVersionAndResetsCounter(t *testing.T) {
	eng, repo, signals := newTestEngine(t)
	customer := signals.counter.GlobalCustomerID

	repo.latest = &types.IntentScore{
		GlobalCustomerID: customer,
		Category:         "grocery",
		ScoreVersion:     4,
		ComputedAt:       time.Now().UTC().Add(-time.Hour),
	}

	got, err := eng.Rescore(context.Background(), customer, "grocery")
	if err != nil {
		t.Fatalf("Rescore: %v", err)
	}
	if got.ScoreVersion != 5 {
		t.Fatalf("version = %d, want 5", got.ScoreVersion)
	}
	if signals.resets != 1 {
		t.Fatalf("rescore counter resets = %d", signals.resets)
	}
}

func TestMaybeRescoreHonoursThreshold(t *testing.T) {
	eng, repo, signals := newTestEngine(t)
	ctx := context.Background()

	signals.counter.EventsSinceScore = 2
	got, err := eng.MaybeRescore(ctx, signals.counter)
	if err != nil || got != nil {
		t.Fatalf("below threshold rescored: %v %v", got, err)
	}
	if len(repo.created) != 0 {
		t.Fatalf("below threshold wrote %d scores", len(repo.created))
	}

	signals.counter.EventsSinceScore = 3
	got, err = eng.MaybeRescore(ctx, signals.counter)
	if err != nil {
		t.Fatalf("MaybeRescore: %v", err)
	}
	if got == nil || len(repo.created) != 1 {
		t.Fatalf("threshold crossing did not rescore")
	}

	if signals.counter.EventsSinceScore != 0 {
		t.Fatalf("counter not reset after rescore")
	}
}

func TestMaybeRescoreNilCounter(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	got, err := eng.MaybeRescore(context.Background(), nil)
	if err != nil || got != nil {
		t.Fatalf("nil counter = %v %v", got, err)
	}
}
