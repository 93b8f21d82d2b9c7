package aggregate

import (
	"context"
	"sort"

	"github.com/patternos/patternos-backend/internal/apierr"
	"github.com/patternos/patternos-backend/internal/types"
)

// CategoryOpportunity sizes the unconverted high-intent audience in one
// category.
type CategoryOpportunity struct {
	Category            string   `json:"category"`
	HighIntentCustomers int      `json:"high_intent_customers"`
	AvgUnifiedScore     float64  `json:"avg_unified_score"`
	AvgOrderValue       float64  `json:"avg_order_value"`
	EstimatedRevenue    float64  `json:"estimated_revenue"`
	SuggestedBrands     []string `json:"suggested_brands"`
}

// IntentStats summarises the latest scores across the whole customer base.
type IntentStats struct {
	ScoredPairs     int                `json:"scored_pairs"`
	LevelCounts     map[string]int     `json:"level_counts"`
	AvgUnified      float64            `json:"avg_unified"`
	AvgByCategory   map[string]float64 `json:"avg_by_category"`
	HighIntentPairs int                `json:"high_intent_pairs"`
}

// RevenueOpportunities lists, per category, the customers currently above the
// intent threshold, an estimated revenue size for that audience and the brands
// best placed to capture it. A non-positive threshold falls back to the
// configured high-intent threshold.
func (s *Service) RevenueOpportunities(ctx context.Context, threshold float64) ([]*CategoryOpportunity, error) {
	if threshold <= 0 {
		threshold = s.highIntentThreshold
	}
	scores, err := s.scores.ListLatestAboveThreshold(ctx, nil, threshold)
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, "score_read_failed", err)
	}
	if len(scores) == 0 {
		return []*CategoryOpportunity{}, nil
	}

	type bucket struct {
		customers int
		unified   float64
	}
	byCategory := map[string]*bucket{}
	for _, score := range scores {
		b, ok := byCategory[score.Category]
		if !ok {
			b = &bucket{}
			byCategory[score.Category] = b
		}
		b.customers++
		b.unified += score.Unified
	}

	campaigns, err := s.campaigns.ListAll(ctx, nil)
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, "campaign_read_failed", err)
	}

	out := make([]*CategoryOpportunity, 0, len(byCategory))
	for category, b := range byCategory {
		aov := s.avgOrderValueFor(category)
		out = append(out, &CategoryOpportunity{
			Category:            category,
			HighIntentCustomers: b.customers,
			AvgUnifiedScore:     round2(b.unified / float64(b.customers)),
			AvgOrderValue:       round2(aov),
			EstimatedRevenue:    round2(float64(b.customers) * aov),
			SuggestedBrands:     suggestedBrands(campaigns, category, 3),
		})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].EstimatedRevenue != out[b].EstimatedRevenue {
			return out[a].EstimatedRevenue > out[b].EstimatedRevenue
		}
		return out[a].Category < out[b].Category
	})
	return out, nil
}

func (s *Service) avgOrderValueFor(category string) float64 {
	if v, ok := s.avgOrderFallback[category]; ok && v > 0 {
		return v
	}
	if v, ok := s.avgOrderFallback["default"]; ok && v > 0 {
		return v
	}
	return 1000
}

// suggestedBrands ranks the brands whose campaigns target the category by
// attributed revenue and returns the top n.
func suggestedBrands(campaigns []*types.Campaign, category string, n int) []string {
	revenueByBrand := map[string]float64{}
	for _, c := range campaigns {
		targets := decodeStrings(c.TargetCategories)
		matched := len(targets) == 0
		for _, t := range targets {
			if t == category {
				matched = true
				break
			}
		}
		if matched {
			revenueByBrand[c.Brand] += c.AttributedRevenue
		}
	}
	brands := make([]string, 0, len(revenueByBrand))
	for brand := range revenueByBrand {
		brands = append(brands, brand)
	}
	sort.Slice(brands, func(a, b int) bool {
		if revenueByBrand[brands[a]] != revenueByBrand[brands[b]] {
			return revenueByBrand[brands[a]] > revenueByBrand[brands[b]]
		}
		return brands[a] < brands[b]
	})
	if len(brands) > n {
		brands = brands[:n]
	}
	return brands
}

// IntentOverview aggregates the latest score of every (customer, category)
// pair into the platform-wide intent distribution.
func (s *Service) IntentOverview(ctx context.Context) (*IntentStats, error) {
	scores, err := s.scores.ListLatestAll(ctx, nil)
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, "score_read_failed", err)
	}
	stats := &IntentStats{
		LevelCounts:   map[string]int{},
		AvgByCategory: map[string]float64{},
	}
	if len(scores) == 0 {
		return stats, nil
	}

	var total float64
	sumByCategory := map[string]float64{}
	countByCategory := map[string]int{}
	for _, score := range scores {
		stats.ScoredPairs++
		stats.LevelCounts[score.Level]++
		total += score.Unified
		sumByCategory[score.Category] += score.Unified
		countByCategory[score.Category]++
		if score.Unified >= s.highIntentThreshold {
			stats.HighIntentPairs++
		}
	}
	stats.AvgUnified = round2(total / float64(stats.ScoredPairs))
	for category, sum := range sumByCategory {
		stats.AvgByCategory[category] = round2(sum / float64(countByCategory[category]))
	}
	return stats, nil
}
