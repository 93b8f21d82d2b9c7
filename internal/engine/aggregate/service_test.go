package aggregate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/patternos/patternos-backend/internal/apierr"
	"github.com/patternos/patternos-backend/internal/logger"
	"github.com/patternos/patternos-backend/internal/types"
)

type fakeCampaignRepo struct {
	campaigns []*types.Campaign
	entries   []*types.CampaignSpendEntry
}

func (f *fakeCampaignRepo) Create(ctx context.Context, tx *gorm.DB, campaign *types.Campaign) error {
	f.campaigns = append(f.campaigns, campaign)
	return nil
}

func (f *fakeCampaignRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Campaign, error) {
	for _, c := range f.campaigns {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (f *fakeCampaignRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Campaign, error) {
	var out []*types.Campaign
	for _, id := range ids {
		for _, c := range f.campaigns {
			if c.ID == id {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (f *fakeCampaignRepo) ListAll(ctx context.Context, tx *gorm.DB) ([]*types.Campaign, error) {
	return f.campaigns, nil
}

func (f *fakeCampaignRepo) ListByBrand(ctx context.Context, tx *gorm.DB, brand string) ([]*types.Campaign, error) {
	var out []*types.Campaign
	for _, c := range f.campaigns {
		if c.Brand == brand {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCampaignRepo) AddSpendCAS(ctx context.Context, tx *gorm.DB, id uuid.UUID, amount float64, version int64) error {
	return nil
}

func (f *fakeCampaignRepo) IncrementDelivery(ctx context.Context, tx *gorm.DB, id uuid.UUID, impressions, clicks int64) error {
	return nil
}

func (f *fakeCampaignRepo) AddConversion(ctx context.Context, tx *gorm.DB, id uuid.UUID, attributedRevenue float64) error {
	return nil
}

func (f *fakeCampaignRepo) CreateSpendEntry(ctx context.Context, tx *gorm.DB, entry *types.CampaignSpendEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeCampaignRepo) SumSpend(ctx context.Context, tx *gorm.DB, from, to time.Time) (float64, error) {
	var total float64
	for _, e := range f.entries {
		if !e.OccurredAt.Before(from) && !e.OccurredAt.After(to) {
			total += e.Amount
		}
	}
	return total, nil
}

func (f *fakeCampaignRepo) SumSpendByCampaigns(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, from, to time.Time) (float64, error) {
	want := map[uuid.UUID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var total float64
	for _, e := range f.entries {
		if want[e.CampaignID] && !e.OccurredAt.Before(from) && !e.OccurredAt.After(to) {
			total += e.Amount
		}
	}
	return total, nil
}

type fakeTouchpointRepo struct {
	rows []*types.Touchpoint
}

func (f *fakeTouchpointRepo) Create(ctx context.Context, tx *gorm.DB, tp *types.Touchpoint) error {
	f.rows = append(f.rows, tp)
	return nil
}

func (f *fakeTouchpointRepo) ListByCustomerWindow(ctx context.Context, tx *gorm.DB, customerID uuid.UUID, from, to time.Time) ([]*types.Touchpoint, error) {
	return nil, nil
}

func (f *fakeTouchpointRepo) ListByCustomer(ctx context.Context, tx *gorm.DB, customerID uuid.UUID) ([]*types.Touchpoint, error) {
	return nil, nil
}

func (f *fakeTouchpointRepo) LatestByCustomer(ctx context.Context, tx *gorm.DB, customerID uuid.UUID) (*types.Touchpoint, error) {
	return nil, nil
}

func (f *fakeTouchpointRepo) MaxSequence(ctx context.Context, tx *gorm.DB) (int64, error) {
	return 0, nil
}

func (f *fakeTouchpointRepo) CountDeliveryByCampaigns(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, from, to time.Time) (int64, int64, error) {
	wanted := map[uuid.UUID]bool{}
	for _, id := range ids {
		wanted[id] = true
	}
	var impressions, clicks int64
	for _, tp := range f.rows {
		if !wanted[tp.CampaignID] || tp.OccurredAt.Before(from) || tp.OccurredAt.After(to) {
			continue
		}
		switch tp.Kind {
		case types.TouchpointKindImpression, types.TouchpointKindView:
			impressions++
		case types.TouchpointKindClick:
			clicks++
		}
	}
	return impressions, clicks, nil
}

type fakeConversionRepo struct {
	rows []*types.Conversion
}

func (f *fakeConversionRepo) Create(ctx context.Context, tx *gorm.DB, conv *types.Conversion) error {
	f.rows = append(f.rows, conv)
	return nil
}

func (f *fakeConversionRepo) GetByOrderID(ctx context.Context, tx *gorm.DB, orderID string) (*types.Conversion, error) {
	for _, conv := range f.rows {
		if conv.OrderID == orderID {
			return conv, nil
		}
	}
	return nil, nil
}

func (f *fakeConversionRepo) Save(ctx context.Context, tx *gorm.DB, conv *types.Conversion) error {
	return nil
}

func (f *fakeConversionRepo) ListByCustomer(ctx context.Context, tx *gorm.DB, customerID uuid.UUID) ([]*types.Conversion, error) {
	var out []*types.Conversion
	for _, conv := range f.rows {
		if conv.GlobalCustomerID == customerID {
			out = append(out, conv)
		}
	}
	return out, nil
}

func (f *fakeConversionRepo) ListByPeriod(ctx context.Context, tx *gorm.DB, from, to time.Time) ([]*types.Conversion, error) {
	var out []*types.Conversion
	for _, conv := range f.rows {
		if !conv.OccurredAt.Before(from) && !conv.OccurredAt.After(to) {
			out = append(out, conv)
		}
	}
	return out, nil
}

type fakeScoreRepo struct {
	latest []*types.IntentScore
}

func (f *fakeScoreRepo) Create(ctx context.Context, tx *gorm.DB, score *types.IntentScore) error {
	f.latest = append(f.latest, score)
	return nil
}

func (f *fakeScoreRepo) Latest(ctx context.Context, tx *gorm.DB, customerID uuid.UUID, category string) (*types.IntentScore, error) {
	for _, s := range f.latest {
		if s.GlobalCustomerID == customerID && s.Category == category {
			return s, nil
		}
	}
	return nil, nil
}

func (f *fakeScoreRepo) ListLatestByCustomer(ctx context.Context, tx *gorm.DB, customerID uuid.UUID) ([]*types.IntentScore, error) {
	var out []*types.IntentScore
	for _, s := range f.latest {
		if s.GlobalCustomerID == customerID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeScoreRepo) ListLatestAboveThreshold(ctx context.Context, tx *gorm.DB, threshold float64) ([]*types.IntentScore, error) {
	var out []*types.IntentScore
	for _, s := range f.latest {
		if s.Unified >= threshold {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeScoreRepo) ListLatestAll(ctx context.Context, tx *gorm.DB) ([]*types.IntentScore, error) {
	return f.latest, nil
}

func newTestService(t *testing.T) (*Service, *fakeCampaignRepo, *fakeTouchpointRepo, *fakeConversionRepo, *fakeScoreRepo) {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	campaigns := &fakeCampaignRepo{}
	touchpoints := &fakeTouchpointRepo{}
	conversions := &fakeConversionRepo{}
	scores := &fakeScoreRepo{}
	svc := NewService(log, campaigns, touchpoints, conversions, scores,
		70,      // highIntentThreshold
		0.10,    // commissionRate
		0.20,    // premiumRate
		3600000, // contractAnnualValue
		map[string]float64{"grocery": 800, "default": 1000},
		4,
	)
	return svc, campaigns, touchpoints, conversions, scores
}

func campaignWith(brand string, minIntent float64) *types.Campaign {
	now := time.Now().UTC()
	return &types.Campaign{
		ID:             uuid.New(),
		Brand:          brand,
		MinIntentScore: minIntent,
		TotalBudget:    1000000,
		StartDate:      now.Add(-30 * 24 * time.Hour),
		EndDate:        now.Add(30 * 24 * time.Hour),
	}
}

func spendEntry(campaignID uuid.UUID, amount float64, at time.Time) *types.CampaignSpendEntry {
	return &types.CampaignSpendEntry{
		ID:         uuid.New(),
		CampaignID: campaignID,
		Amount:     amount,
		OccurredAt: at,
	}
}

func TestPlatformRevenueStreams(t *testing.T) {
	svc, campaigns, _, _, _ := newTestService(t)
	ctx := context.Background()

	from := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	mid := from.Add(10 * 24 * time.Hour)

	premium := campaignWith("acme", 80)
	standard := campaignWith("zenith", 0)
	campaigns.campaigns = []*types.Campaign{premium, standard}
	campaigns.entries = []*types.CampaignSpendEntry{
		spendEntry(premium.ID, 400000, mid),
		spendEntry(standard.ID, 600000, mid),
	}

	report, err := svc.PlatformRevenue(ctx, from, to)
	if err != nil {
		t.Fatalf("PlatformRevenue: %v", err)
	}
	if report.Retainer != 300000 {
		t.Fatalf("retainer = %v, want 300000", report.Retainer)
	}
	if report.AdSpend != 1000000 || report.AdCommission != 100000 {
		t.Fatalf("commission stream = spend %v, commission %v", report.AdSpend, report.AdCommission)
	}
	if report.HighIntentAdSpend != 400000 || report.HighIntentPremium != 80000 {
		t.Fatalf("premium stream = spend %v, premium %v", report.HighIntentAdSpend, report.HighIntentPremium)
	}
	if report.Total != 480000 {
		t.Fatalf("total = %v, want 480000", report.Total)
	}
}

func TestPlatformRevenueProratesPartialMonth(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	// 15 of July's 31 days at 300000 per month.
	from := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 7, 16, 0, 0, 0, 0, time.UTC)

	report, err := svc.PlatformRevenue(context.Background(), from, to)
	if err != nil {
		t.Fatalf("PlatformRevenue: %v", err)
	}
	want := round2(300000.0 * 15 / 31)
	if report.Retainer != want {
		t.Fatalf("retainer = %v, want %v", report.Retainer, want)
	}
}

func TestPlatformRevenueSpansMonths(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	// Whole quarter: three whole months at 300000 each.
	from := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	report, err := svc.PlatformRevenue(context.Background(), from, to)
	if err != nil {
		t.Fatalf("PlatformRevenue: %v", err)
	}
	if report.Retainer != 900000 {
		t.Fatalf("retainer = %v, want 900000", report.Retainer)
	}
}

func TestPlatformRevenueRejectsEmptyPeriod(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	at := time.Now().UTC()
	if _, err := svc.PlatformRevenue(context.Background(), at, at); !apierr.IsValidation(err) {
		t.Fatalf("empty period accepted: %v", err)
	}
}

func seedDelivery(touchpoints *fakeTouchpointRepo, campaignID uuid.UUID, kind string, n int, at time.Time) {
	for i := 0; i < n; i++ {
		touchpoints.rows = append(touchpoints.rows, &types.Touchpoint{
			ID:               uuid.New(),
			GlobalCustomerID: uuid.New(),
			CampaignID:       campaignID,
			Kind:             kind,
			OccurredAt:       at,
		})
	}
}

func conversionCrediting(campaignID uuid.UUID, revenue float64, at time.Time) *types.Conversion {
	raw, _ := json.Marshal([]types.Allocation{{
		CampaignID:        campaignID,
		Credit:            1,
		AttributedRevenue: revenue,
	}})
	return &types.Conversion{
		ID:               uuid.New(),
		GlobalCustomerID: uuid.New(),
		OrderID:          uuid.NewString(),
		Revenue:          revenue,
		OccurredAt:       at,
		Allocations:      datatypes.JSON(raw),
	}
}

func TestBrandPerformanceRollup(t *testing.T) {
	svc, campaigns, touchpoints, conversions, _ := newTestService(t)
	ctx := context.Background()

	now := time.Now().UTC()
	from, to := now.Add(-30*24*time.Hour), now

	acme := campaignWith("acme", 0)
	zenith := campaignWith("zenith", 0)
	zenith.Spent = zenith.TotalBudget // exhausted, not active

	campaigns.campaigns = []*types.Campaign{zenith, acme}
	campaigns.entries = []*types.CampaignSpendEntry{
		spendEntry(acme.ID, 10000, now.Add(-time.Hour)),
		spendEntry(zenith.ID, 4000, now.Add(-time.Hour)),
	}

	seedDelivery(touchpoints, acme.ID, types.TouchpointKindImpression, 500, now.Add(-2*time.Hour))
	seedDelivery(touchpoints, acme.ID, types.TouchpointKindClick, 10, now.Add(-2*time.Hour))
	conversions.rows = append(conversions.rows, conversionCrediting(acme.ID, 50000, now.Add(-time.Hour)))

	reports, err := svc.BrandPerformance(ctx, from, to)
	if err != nil {
		t.Fatalf("BrandPerformance: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("got %d brand reports", len(reports))
	}
	if reports[0].Brand != "acme" || reports[1].Brand != "zenith" {
		t.Fatalf("order = %s, %s", reports[0].Brand, reports[1].Brand)
	}

	got := reports[0]
	if got.Impressions != 500 || got.Clicks != 10 {
		t.Fatalf("acme delivery = %d impressions, %d clicks", got.Impressions, got.Clicks)
	}
	if got.Conversions != 1 || got.AttributedRevenue != 50000 {
		t.Fatalf("acme conversions = %d, revenue %v", got.Conversions, got.AttributedRevenue)
	}
	if got.AdSpend != 10000 || got.ROAS != 5 {
		t.Fatalf("acme spend %v roas %v", got.AdSpend, got.ROAS)
	}
	if got.CTR != 2 || got.CVR != 10 {
		t.Fatalf("acme ctr %v cvr %v", got.CTR, got.CVR)
	}
	if got.ActiveCampaigns != 1 {
		t.Fatalf("acme active campaigns = %d", got.ActiveCampaigns)
	}
	if reports[1].ActiveCampaigns != 0 {
		t.Fatalf("exhausted campaign counted active")
	}
}

func TestBrandPerformanceScopesDeliveryToPeriod(t *testing.T) {
	svc, campaigns, touchpoints, conversions, _ := newTestService(t)
	ctx := context.Background()

	now := time.Now().UTC()
	from, to := now.Add(-7*24*time.Hour), now

	acme := campaignWith("acme", 0)
	campaigns.campaigns = []*types.Campaign{acme}

	// In the period.
	seedDelivery(touchpoints, acme.ID, types.TouchpointKindImpression, 100, now.Add(-24*time.Hour))
	seedDelivery(touchpoints, acme.ID, types.TouchpointKindClick, 4, now.Add(-24*time.Hour))
	conversions.rows = append(conversions.rows, conversionCrediting(acme.ID, 2000, now.Add(-24*time.Hour)))

	// Before the period: must not count anywhere.
	seedDelivery(touchpoints, acme.ID, types.TouchpointKindImpression, 900, now.Add(-20*24*time.Hour))
	seedDelivery(touchpoints, acme.ID, types.TouchpointKindClick, 40, now.Add(-20*24*time.Hour))
	conversions.rows = append(conversions.rows, conversionCrediting(acme.ID, 99999, now.Add(-20*24*time.Hour)))

	reports, err := svc.BrandPerformance(ctx, from, to)
	if err != nil {
		t.Fatalf("BrandPerformance: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("got %d brand reports", len(reports))
	}
	got := reports[0]
	if got.Impressions != 100 || got.Clicks != 4 {
		t.Fatalf("delivery leaked outside the period: %d impressions, %d clicks", got.Impressions, got.Clicks)
	}
	if got.Conversions != 1 || got.AttributedRevenue != 2000 {
		t.Fatalf("conversions leaked outside the period: %d, revenue %v", got.Conversions, got.AttributedRevenue)
	}
}

func TestRevenueOpportunitiesSizing(t *testing.T) {
	svc, campaigns, _, _, scores := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		scores.latest = append(scores.latest, &types.IntentScore{
			GlobalCustomerID: uuid.New(),
			Category:         "grocery",
			Unified:          80,
			Level:            types.IntentLevelHigh,
		})
	}
	scores.latest = append(scores.latest, &types.IntentScore{
		GlobalCustomerID: uuid.New(),
		Category:         "fashion",
		Unified:          75,
		Level:            types.IntentLevelHigh,
	})
	// Below threshold, must not count.
	scores.latest = append(scores.latest, &types.IntentScore{
		GlobalCustomerID: uuid.New(),
		Category:         "grocery",
		Unified:          40,
		Level:            types.IntentLevelLow,
	})

	grocer := campaignWith("acme", 0)
	grocer.TargetCategories = datatypes.JSON([]byte(`["grocery"]`))
	grocer.AttributedRevenue = 90000
	generic := campaignWith("zenith", 0)
	generic.AttributedRevenue = 20000
	campaigns.campaigns = []*types.Campaign{grocer, generic}

	out, err := svc.RevenueOpportunities(ctx, 0)
	if err != nil {
		t.Fatalf("RevenueOpportunities: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d categories", len(out))
	}

	// grocery: 3 customers at 800 AOV; fashion: 1 customer at the default 1000.
	grocery := out[0]
	if grocery.Category != "grocery" || grocery.HighIntentCustomers != 3 {
		t.Fatalf("top opportunity = %+v", grocery)
	}
	if grocery.EstimatedRevenue != 2400 || grocery.AvgOrderValue != 800 {
		t.Fatalf("grocery sizing = %+v", grocery)
	}
	if grocery.AvgUnifiedScore != 80 {
		t.Fatalf("grocery avg unified = %v", grocery.AvgUnifiedScore)
	}
	if len(grocery.SuggestedBrands) != 2 || grocery.SuggestedBrands[0] != "acme" {
		t.Fatalf("grocery brands = %v", grocery.SuggestedBrands)
	}

	fashion := out[1]
	if fashion.EstimatedRevenue != 1000 {
		t.Fatalf("fashion sizing = %+v", fashion)
	}
	// Only the untargeted campaign matches fashion.
	if len(fashion.SuggestedBrands) != 1 || fashion.SuggestedBrands[0] != "zenith" {
		t.Fatalf("fashion brands = %v", fashion.SuggestedBrands)
	}
}

func TestRevenueOpportunitiesCustomThreshold(t *testing.T) {
	svc, _, _, _, scores := newTestService(t)
	ctx := context.Background()

	scores.latest = append(scores.latest,
		&types.IntentScore{GlobalCustomerID: uuid.New(), Category: "grocery", Unified: 75, Level: types.IntentLevelHigh},
		&types.IntentScore{GlobalCustomerID: uuid.New(), Category: "grocery", Unified: 62, Level: types.IntentLevelMedium},
	)

	// The configured threshold of 70 only admits the first score.
	out, err := svc.RevenueOpportunities(ctx, 0)
	if err != nil {
		t.Fatalf("RevenueOpportunities: %v", err)
	}
	if len(out) != 1 || out[0].HighIntentCustomers != 1 {
		t.Fatalf("default threshold sizing = %+v", out)
	}

	// An explicit threshold widens the audience.
	out, err = svc.RevenueOpportunities(ctx, 60)
	if err != nil {
		t.Fatalf("RevenueOpportunities: %v", err)
	}
	if len(out) != 1 || out[0].HighIntentCustomers != 2 {
		t.Fatalf("custom threshold sizing = %+v", out)
	}
}

func TestRevenueOpportunitiesEmpty(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	out, err := svc.RevenueOpportunities(context.Background(), 0)
	if err != nil {
		t.Fatalf("RevenueOpportunities: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("empty score table produced %d opportunities", len(out))
	}
}

func TestIntentOverview(t *testing.T) {
	svc, _, _, _, scores := newTestService(t)

	add := func(category string, unified float64, level string) {
		scores.latest = append(scores.latest, &types.IntentScore{
			GlobalCustomerID: uuid.New(),
			Category:         category,
			Unified:          unified,
			Level:            level,
		})
	}
	add("grocery", 80, types.IntentLevelHigh)
	add("grocery", 60, types.IntentLevelMedium)
	add("fashion", 40, types.IntentLevelLow)
	add("fashion", 20, types.IntentLevelMinimal)

	stats, err := svc.IntentOverview(context.Background())
	if err != nil {
		t.Fatalf("IntentOverview: %v", err)
	}
	if stats.ScoredPairs != 4 {
		t.Fatalf("scored pairs = %d", stats.ScoredPairs)
	}
	if stats.HighIntentPairs != 1 {
		t.Fatalf("high intent pairs = %d", stats.HighIntentPairs)
	}
	if stats.AvgUnified != 50 {
		t.Fatalf("avg unified = %v", stats.AvgUnified)
	}
	if stats.AvgByCategory["grocery"] != 70 || stats.AvgByCategory["fashion"] != 30 {
		t.Fatalf("avg by category = %v", stats.AvgByCategory)
	}
	if stats.LevelCounts[types.IntentLevelHigh] != 1 || stats.LevelCounts[types.IntentLevelMinimal] != 1 {
		t.Fatalf("level counts = %v", stats.LevelCounts)
	}
}
