package aggregate

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/patternos/patternos-backend/internal/apierr"
	"github.com/patternos/patternos-backend/internal/engine/attribution"
	"github.com/patternos/patternos-backend/internal/types"
)

// BrandReport is one brand's campaign rollup for a period. Every sum is
// period-scoped: delivery counts come from the touchpoint log, conversions and
// attributed revenue from the period's recorded allocations, spend from the
// ledger.
type BrandReport struct {
	Brand             string  `json:"brand"`
	Campaigns         int     `json:"campaigns"`
	ActiveCampaigns   int     `json:"active_campaigns"`
	AdSpend           float64 `json:"ad_spend"`
	Impressions       int64   `json:"impressions"`
	Clicks            int64   `json:"clicks"`
	Conversions       int64   `json:"conversions"`
	AttributedRevenue float64 `json:"attributed_revenue"`
	ROAS              float64 `json:"roas"`
	CTR               float64 `json:"ctr"`
	CVR               float64 `json:"cvr"`
}

// BrandPerformance rolls up every brand's campaigns for the period. Brands are
// aggregated concurrently; the result is ordered by attributed revenue with
// brand name as the tie-break so pagination is stable.
func (s *Service) BrandPerformance(ctx context.Context, from, to time.Time) ([]*BrandReport, error) {
	campaigns, err := s.campaigns.ListAll(ctx, nil)
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, "campaign_read_failed", err)
	}

	byBrand := map[string][]*types.Campaign{}
	for _, c := range campaigns {
		byBrand[c.Brand] = append(byBrand[c.Brand], c)
	}

	convCount, convRevenue, err := s.allocationsByCampaign(ctx, from, to)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var mu sync.Mutex
	reports := make([]*BrandReport, 0, len(byBrand))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for brand, brandCampaigns := range byBrand {
		brand, brandCampaigns := brand, brandCampaigns
		g.Go(func() error {
			report := &BrandReport{Brand: brand, Campaigns: len(brandCampaigns)}
			ids := make([]uuid.UUID, 0, len(brandCampaigns))
			for _, c := range brandCampaigns {
				ids = append(ids, c.ID)
				report.Conversions += convCount[c.ID]
				report.AttributedRevenue += convRevenue[c.ID]
				if c.DerivedStatus(now) == types.CampaignStatusActive {
					report.ActiveCampaigns++
				}
			}
			impressions, clicks, err := s.touchpoints.CountDeliveryByCampaigns(gctx, nil, ids, from, to)
			if err != nil {
				return apierr.New(apierr.KindTransient, "delivery_read_failed", err)
			}
			report.Impressions = impressions
			report.Clicks = clicks
			spend, err := s.campaigns.SumSpendByCampaigns(gctx, nil, ids, from, to)
			if err != nil {
				return apierr.New(apierr.KindTransient, "spend_read_failed", err)
			}
			report.AdSpend = round2(spend)
			report.AttributedRevenue = round2(report.AttributedRevenue)
			if spend > 0 {
				report.ROAS = round2(report.AttributedRevenue / spend)
			}
			if report.Impressions > 0 {
				report.CTR = round2(float64(report.Clicks) / float64(report.Impressions) * 100)
			}
			if report.Clicks > 0 {
				report.CVR = round2(float64(report.Conversions) / float64(report.Clicks) * 100)
			}
			mu.Lock()
			reports = append(reports, report)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(reports, func(a, b int) bool {
		if reports[a].AttributedRevenue != reports[b].AttributedRevenue {
			return reports[a].AttributedRevenue > reports[b].AttributedRevenue
		}
		return reports[a].Brand < reports[b].Brand
	})
	return reports, nil
}

// allocationsByCampaign folds the period's recorded conversions into
// per-campaign conversion counts and attributed revenue.
func (s *Service) allocationsByCampaign(ctx context.Context, from, to time.Time) (map[uuid.UUID]int64, map[uuid.UUID]float64, error) {
	conversions, err := s.conversions.ListByPeriod(ctx, nil, from, to)
	if err != nil {
		return nil, nil, apierr.New(apierr.KindTransient, "conversion_read_failed", err)
	}
	count := map[uuid.UUID]int64{}
	revenue := map[uuid.UUID]float64{}
	for _, conv := range conversions {
		for _, a := range attribution.DecodeAllocations(conv.Allocations) {
			count[a.CampaignID]++
			revenue[a.CampaignID] += a.AttributedRevenue
		}
	}
	return count, revenue, nil
}
