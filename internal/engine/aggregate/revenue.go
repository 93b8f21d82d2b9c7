package aggregate

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/patternos/patternos-backend/internal/apierr"
)

// PlatformRevenueReport breaks the platform's own revenue for a period into
// its three streams: the prorated contract retainer, the commission on all ad
// spend, and the premium on spend from high-intent-targeted campaigns.
type PlatformRevenueReport struct {
	From              time.Time `json:"from"`
	To                time.Time `json:"to"`
	Retainer          float64   `json:"retainer"`
	AdSpend           float64   `json:"ad_spend"`
	AdCommission      float64   `json:"ad_commission"`
	HighIntentAdSpend float64   `json:"high_intent_ad_spend"`
	HighIntentPremium float64   `json:"high_intent_premium"`
	Total             float64   `json:"total"`
}

func (s *Service) PlatformRevenue(ctx context.Context, from, to time.Time) (*PlatformRevenueReport, error) {
	if !to.After(from) {
		return nil, apierr.Validationf("invalid_period", "period end must be after start")
	}

	totalSpend, err := s.campaigns.SumSpend(ctx, nil, from, to)
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, "spend_read_failed", err)
	}

	campaigns, err := s.campaigns.ListAll(ctx, nil)
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, "campaign_read_failed", err)
	}
	highIntentIDs := make([]uuid.UUID, 0, len(campaigns))
	for _, c := range campaigns {
		if c.HighIntentTargeted(s.highIntentThreshold) {
			highIntentIDs = append(highIntentIDs, c.ID)
		}
	}
	highIntentSpend, err := s.campaigns.SumSpendByCampaigns(ctx, nil, highIntentIDs, from, to)
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, "spend_read_failed", err)
	}

	report := &PlatformRevenueReport{
		From:              from,
		To:                to,
		Retainer:          s.retainerFor(from, to),
		AdSpend:           round2(totalSpend),
		AdCommission:      round2(totalSpend * s.commissionRate),
		HighIntentAdSpend: round2(highIntentSpend),
		HighIntentPremium: round2(highIntentSpend * s.premiumRate),
	}
	report.Total = round2(report.Retainer + report.AdCommission + report.HighIntentPremium)
	return report, nil
}

// retainerFor prorates the annual contract value over the period. Each
// calendar month contributes contract/12 scaled by the fraction of its days
// the period covers, so a whole month is exactly contract/12 and a whole year
// is the whole contract.
func (s *Service) retainerFor(from, to time.Time) float64 {
	monthly := s.contractAnnualValue / 12
	var total float64
	cursor := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	for cursor.Before(to) {
		next := cursor.AddDate(0, 1, 0)
		overlapFrom := maxTime(from, cursor)
		overlapTo := minTime(to, next)
		if overlapTo.After(overlapFrom) {
			daysInMonth := next.Sub(cursor).Hours() / 24
			overlapDays := overlapTo.Sub(overlapFrom).Hours() / 24
			total += monthly * overlapDays / daysInMonth
		}
		cursor = next
	}
	return round2(total)
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
