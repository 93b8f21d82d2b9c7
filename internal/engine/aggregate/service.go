package aggregate

import (
	"encoding/json"
	"math"

	"gorm.io/datatypes"

	"github.com/patternos/patternos-backend/internal/logger"
	"github.com/patternos/patternos-backend/internal/repos"
)

// Service computes the cross-customer reports: brand performance, platform
// revenue, intent distribution and revenue opportunities. All reads, no
// writes.
type Service struct {
	log         *logger.Logger
	campaigns   repos.CampaignRepo
	touchpoints repos.TouchpointRepo
	conversions repos.ConversionRepo
	scores      repos.ScoreRepo

	highIntentThreshold float64
	commissionRate      float64
	premiumRate         float64
	contractAnnualValue float64
	avgOrderFallback    map[string]float64
	concurrency         int
}

func NewService(
	baseLog *logger.Logger,
	campaigns repos.CampaignRepo,
	touchpoints repos.TouchpointRepo,
	conversions repos.ConversionRepo,
	scores repos.ScoreRepo,
	highIntentThreshold float64,
	commissionRate float64,
	premiumRate float64,
	contractAnnualValue float64,
	avgOrderFallback map[string]float64,
	concurrency int,
) *Service {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Service{
		log:                 baseLog.With("component", "AggregateService"),
		campaigns:           campaigns,
		touchpoints:         touchpoints,
		conversions:         conversions,
		scores:              scores,
		highIntentThreshold: highIntentThreshold,
		commissionRate:      commissionRate,
		premiumRate:         premiumRate,
		contractAnnualValue: contractAnnualValue,
		avgOrderFallback:    avgOrderFallback,
		concurrency:         concurrency,
	}
}

func round2(v float64) float64 { return math.RoundToEven(v*100) / 100 }

func decodeStrings(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
