package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/patternos/patternos-backend/internal/apierr"
	"github.com/patternos/patternos-backend/internal/engine/identity"
	"github.com/patternos/patternos-backend/internal/engine/signal"
	"github.com/patternos/patternos-backend/internal/logger"
	"github.com/patternos/patternos-backend/internal/types"
)

type fakeEventRepo struct {
	rows     []*types.Event
	failures int
	failErr  error
	creates  int
}

func (f *fakeEventRepo) Create(ctx context.Context, tx *gorm.DB, event *types.Event) error {
	f.creates++
	if f.failures > 0 {
		f.failures--
		return f.failErr
	}
	f.rows = append(f.rows, event)
	return nil
}

func (f *fakeEventRepo) GetByPlatformEventID(ctx context.Context, tx *gorm.DB, platformID, eventID string) (*types.Event, error) {
	for _, e := range f.rows {
		if e.PlatformID == platformID && e.EventID == eventID {
			return e, nil
		}
	}
	return nil, nil
}

func (f *fakeEventRepo) ExistsByPlatformEventID(ctx context.Context, tx *gorm.DB, platformID, eventID string) (bool, error) {
	e, _ := f.GetByPlatformEventID(ctx, tx, platformID, eventID)
	return e != nil, nil
}

func (f *fakeEventRepo) MaxSequence(ctx context.Context, tx *gorm.DB, tenantID string) (int64, error) {
	var max int64
	for _, e := range f.rows {
		if e.TenantID == tenantID && e.Sequence > max {
			max = e.Sequence
		}
	}
	return max, nil
}

func (f *fakeEventRepo) ListByTenantFromSequence(ctx context.Context, tx *gorm.DB, tenantID string, fromSequence int64, limit int) ([]*types.Event, error) {
	var out []*types.Event
	for _, e := range f.rows {
		if e.TenantID == tenantID && e.Sequence >= fromSequence {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEventRepo) ListByCustomerWindow(ctx context.Context, tx *gorm.DB, customerID uuid.UUID, from, to time.Time) ([]*types.Event, error) {
	return nil, nil
}

func (f *fakeEventRepo) ArchiveOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeQuarantineRepo struct {
	rows []*types.QuarantinedEvent
}

func (f *fakeQuarantineRepo) Create(ctx context.Context, tx *gorm.DB, row *types.QuarantinedEvent) error {
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeQuarantineRepo) ListByTenant(ctx context.Context, tx *gorm.DB, tenantID string, limit int) ([]*types.QuarantinedEvent, error) {
	return f.rows, nil
}

type fakeResolver struct {
	customerID uuid.UUID
}

func (f *fakeResolver) Resolve(ctx context.Context, platformID, platformCustomerID string, hint *types.IdentityHint) (*identity.Resolution, error) {
	return &identity.Resolution{
		GlobalCustomerID: f.customerID,
		Method:           types.IdentityMethodDeterministic,
		Confidence:       1.0,
	}, nil
}

func (f *fakeResolver) Merge(ctx context.Context, winnerID, loserID uuid.UUID, note string) error {
	return nil
}

func (f *fakeResolver) Bindings(ctx context.Context, customerID uuid.UUID) ([]*types.IdentityBinding, error) {
	return nil, nil
}

type fakeSignalStore struct {
	applied []*types.Event
}

func (f *fakeSignalStore) Apply(ctx context.Context, event *types.Event) (*types.CategoryCounter, error) {
	f.applied = append(f.applied, event)
	return &types.CategoryCounter{
		GlobalCustomerID: event.GlobalCustomerID,
		Category:         event.Category,
		EventsSinceScore: len(f.applied),
	}, nil
}

func (f *fakeSignalStore) Counter(ctx context.Context, customerID uuid.UUID, category string) (*types.CategoryCounter, error) {
	return nil, nil
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
	return nil
}

type fakeScoringEngine struct {
	rescored int
}

func (f *fakeScoringEngine) Score(ctx context.Context, customerID uuid.UUID, category string) (*types.IntentScore, error) {
	return nil, nil
}

func (f *fakeScoringEngine) Rescore(ctx context.Context, customerID uuid.UUID, category string) (*types.IntentScore, error) {
	f.rescored++
	return &types.IntentScore{GlobalCustomerID: customerID, Category: category}, nil
}

func (f *fakeScoringEngine) MaybeRescore(ctx context.Context, counter *types.CategoryCounter) (*types.IntentScore, error) {
	if counter != nil && counter.EventsSinceScore >= 3 {
		return f.Rescore(ctx, counter.GlobalCustomerID, counter.Category)
	}
	return nil, nil
}

type fakeFallbackQueue struct {
	parked []*types.Event
}

func (f *fakeFallbackQueue) Enqueue(ctx context.Context, event *types.Event) error {
	f.parked = append(f.parked, event)
	return nil
}

func (f *fakeFallbackQueue) Dequeue(ctx context.Context) (*types.Event, error) {
	if len(f.parked) == 0 {
		return nil, nil
	}
	event := f.parked[0]
	f.parked = f.parked[1:]
	return event, nil
}

func (f *fakeFallbackQueue) Len(ctx context.Context) (int64, error) {
	return int64(len(f.parked)), nil
}

func (f *fakeFallbackQueue) Close() error { return nil }

type testPipeline struct {
	pipeline   *pipeline
	events     *fakeEventRepo
	quarantine *fakeQuarantineRepo
	signals    *fakeSignalStore
	scoring    *fakeScoringEngine
	fallback   *fakeFallbackQueue
}

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	events := &fakeEventRepo{}
	quarantine := &fakeQuarantineRepo{}
	signals := &fakeSignalStore{}
	scoring := &fakeScoringEngine{}
	fallback := &fakeFallbackQueue{}
	p := NewPipeline(
		log,
		events,
		quarantine,
		&fakeResolver{customerID: uuid.New()},
		signals,
		scoring,
		fallback,
		24*time.Hour,
		250*time.Millisecond,
	).(*pipeline)
	return &testPipeline{
		pipeline:   p,
		events:     events,
		quarantine: quarantine,
		signals:    signals,
		scoring:    scoring,
		fallback:   fallback,
	}
}

func submitInput(eventID string) *SubmitInput {
	return &SubmitInput{
		TenantID:           "t1",
		PlatformID:         "quickmart",
		EventID:            eventID,
		PlatformCustomerID: "cust-1",
		Kind:               types.EventKindCartAdd,
		Category:           "grocery",
		OccurredAt:         time.Now().UTC(),
	}
}

func TestSubmitAcceptsAndFolds(t *testing.T) {
	tp := newTestPipeline(t)
	result, err := tp.pipeline.Submit(context.Background(), submitInput("evt-1"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.Outcome != OutcomeAccepted {
		t.Fatalf("outcome = %q", result.Outcome)
	}
	if result.Event.Sequence != 1 {
		t.Fatalf("sequence = %d, want 1", result.Event.Sequence)
	}
	if len(tp.signals.applied) != 1 {
		t.Fatalf("event not folded into signal store")
	}
	if result.GlobalCustomerID == uuid.Nil {
		t.Fatalf("resolution missing from result")
	}
}

func TestSubmitSequencesPerTenant(t *testing.T) {
	tp := newTestPipeline(t)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		result, err := tp.pipeline.Submit(ctx, submitInput(id))
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		if result.Event.Sequence != int64(i+1) {
			t.Fatalf("sequence %d = %d", i, result.Event.Sequence)
		}
	}
	other := submitInput("d")
	other.TenantID = "t2"
	result, err := tp.pipeline.Submit(ctx, other)
	if err != nil {
		t.Fatalf("Submit other tenant: %v", err)
	}
	if result.Event.Sequence != 1 {
		t.Fatalf("other tenant sequence = %d, want 1", result.Event.Sequence)
	}
}

func TestSubmitDuplicateIsIdempotent(t *testing.T) {
	tp := newTestPipeline(t)
	ctx := context.Background()
	if _, err := tp.pipeline.Submit(ctx, submitInput("evt-dup")); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	result, err := tp.pipeline.Submit(ctx, submitInput("evt-dup"))
	if err != nil {
		t.Fatalf("duplicate Submit: %v", err)
	}
	if result.Outcome != OutcomeDuplicate {
		t.Fatalf("outcome = %q, want duplicate", result.Outcome)
	}
	if len(tp.events.rows) != 1 || len(tp.signals.applied) != 1 {
		t.Fatalf("duplicate was applied twice")
	}
}

func TestSubmitQuarantinesInvalidPayload(t *testing.T) {
	tp := newTestPipeline(t)
	in := submitInput("evt-bad")
	in.Kind = "teleport"
	_, err := tp.pipeline.Submit(context.Background(), in)
	if !apierr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(tp.quarantine.rows) != 1 {
		t.Fatalf("invalid payload not quarantined")
	}
	if tp.quarantine.rows[0].Reason == "" {
		t.Fatalf("quarantine row missing reason")
	}
}

func fastRetry() apierr.RetryPolicy {
	return apierr.RetryPolicy{
		Base:        time.Millisecond,
		Factor:      2,
		Cap:         5 * time.Millisecond,
		MaxAttempts: 3,
	}
}

func TestSubmitRetriesTransientWriteFailure(t *testing.T) {
	tp := newTestPipeline(t)
	tp.pipeline.retry = fastRetry()
	tp.events.failures = 2
	tp.events.failErr = errors.New("connection refused")

	result, err := tp.pipeline.Submit(context.Background(), submitInput("evt-retry"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.Outcome != OutcomeAccepted {
		t.Fatalf("outcome = %q, want accepted after retries", result.Outcome)
	}
	if tp.events.creates != 3 {
		t.Fatalf("create attempts = %d, want 3", tp.events.creates)
	}
	if len(tp.fallback.parked) != 0 {
		t.Fatalf("recovered write still parked the event")
	}
}

func TestSubmitParksOnWriteFailure(t *testing.T) {
	tp := newTestPipeline(t)
	tp.pipeline.retry = fastRetry()
	// Outlast the whole retry budget.
	tp.events.failures = 3
	tp.events.failErr = errors.New("connection refused")

	result, err := tp.pipeline.Submit(context.Background(), submitInput("evt-park"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.Outcome != OutcomeParked {
		t.Fatalf("outcome = %q, want parked", result.Outcome)
	}
	if len(tp.fallback.parked) != 1 {
		t.Fatalf("event not parked on fallback queue")
	}
	if len(tp.signals.applied) != 0 {
		t.Fatalf("parked event folded before persistence")
	}

	// Replay drains the parked event back through the pipeline.
	event, _ := tp.fallback.Dequeue(context.Background())
	if err := tp.pipeline.Replay(context.Background(), event); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(tp.events.rows) != 1 || len(tp.signals.applied) != 1 {
		t.Fatalf("replay did not persist and fold")
	}
}

func TestReplayIsIdempotent(t *testing.T) {
	tp := newTestPipeline(t)
	ctx := context.Background()
	result, err := tp.pipeline.Submit(ctx, submitInput("evt-replay"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := tp.pipeline.Replay(ctx, result.Event); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(tp.events.rows) != 1 {
		t.Fatalf("replay duplicated the event row")
	}
}

func TestShedUnderWritePressure(t *testing.T) {
	tp := newTestPipeline(t)
	ctx := context.Background()

	// Saturate the smoothed latency well past the budget.
	tp.pipeline.ewmaLatency = 300 * time.Millisecond

	low := submitInput("evt-low")
	low.Kind = types.EventKindDwell
	low.Properties = map[string]interface{}{"duration_seconds": 10.0}
	result, err := tp.pipeline.Submit(ctx, low)
	if err != nil {
		t.Fatalf("Submit low priority: %v", err)
	}
	if result.Outcome != OutcomeShed {
		t.Fatalf("low-priority outcome = %q, want shed", result.Outcome)
	}

	// Purchases are never shed.
	high := submitInput("evt-high")
	high.Kind = types.EventKindPurchase
	high.Properties = map[string]interface{}{
		"total_amount": 100.0,
		"items":        []interface{}{map[string]interface{}{"sku": "x"}},
	}
	result, err = tp.pipeline.Submit(ctx, high)
	if err != nil {
		t.Fatalf("Submit purchase: %v", err)
	}
	if result.Outcome != OutcomeAccepted {
		t.Fatalf("purchase outcome = %q, want accepted", result.Outcome)
	}

	// Severe pressure sheds the mid tiers too, never the top one.
	tp.pipeline.ewmaLatency = 900 * time.Millisecond
	mid := submitInput("evt-mid")
	mid.Kind = types.EventKindCartAdd
	result, err = tp.pipeline.Submit(ctx, mid)
	if err != nil {
		t.Fatalf("Submit mid priority: %v", err)
	}
	if result.Outcome != OutcomeShed {
		t.Fatalf("mid-priority outcome under severe pressure = %q, want shed", result.Outcome)
	}
}

func TestSubmitTriggersRescoreAtThreshold(t *testing.T) {
	tp := newTestPipeline(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := tp.pipeline.Submit(ctx, submitInput(uuid.NewString())); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	// The fake signal store reports cumulative applied events, so the third
	// submission crosses the rescore threshold.
	if tp.scoring.rescored != 1 {
		t.Fatalf("rescored %d times, want 1", tp.scoring.rescored)
	}
}
