package attribution

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/patternos/patternos-backend/internal/apierr"
	"github.com/patternos/patternos-backend/internal/types"
)

// timeDecayHalfLifeDays is the half-life of the time_decay model: a touchpoint
// seven days before the conversion carries half the weight of one at the
// conversion instant.
const timeDecayHalfLifeDays = 7.0

func round2(v float64) float64 { return math.RoundToEven(v*100) / 100 }
func round3(v float64) float64 { return math.RoundToEven(v*1000) / 1000 }

// KnownModel reports whether name is a supported attribution model.
func KnownModel(name string) bool {
	switch name {
	case types.AttributionModelLastClick,
		types.AttributionModelFirstClick,
		types.AttributionModelLinear,
		types.AttributionModelTimeDecay,
		types.AttributionModelPositionBased:
		return true
	default:
		return false
	}
}

// credits returns the raw per-touchpoint credit under model. Touchpoints must
// already be ordered by (occurred_at, sequence) and filtered to the lookback
// window.
func credits(model string, touchpoints []*types.Touchpoint, convAt time.Time) ([]float64, error) {
	n := len(touchpoints)
	if n == 0 {
		return nil, nil
	}
	out := make([]float64, n)
	switch model {
	case types.AttributionModelLastClick:
		out[n-1] = 1
	case types.AttributionModelFirstClick:
		out[0] = 1
	case types.AttributionModelLinear:
		for i := range out {
			out[i] = 1 / float64(n)
		}
	case types.AttributionModelTimeDecay:
		var sum float64
		for i, tp := range touchpoints {
			deltaDays := convAt.Sub(tp.OccurredAt).Hours() / 24
			if deltaDays < 0 {
				deltaDays = 0
			}
			w := math.Exp2(-deltaDays / timeDecayHalfLifeDays)
			out[i] = w
			sum += w
		}
		for i := range out {
			out[i] /= sum
		}
	case types.AttributionModelPositionBased:
		switch n {
		case 1:
			out[0] = 1
		case 2:
			out[0], out[1] = 0.5, 0.5
		default:
			out[0], out[n-1] = 0.4, 0.4
			middle := 0.2 / float64(n-2)
			for i := 1; i < n-1; i++ {
				out[i] = middle
			}
		}
	default:
		return nil, apierr.Validationf("unknown_model", "unknown attribution model %q", model)
	}
	return out, nil
}

// Allocate distributes conversion revenue across campaigns under model.
// Credit aggregates per campaign; credits persist at 3 decimals and revenue at
// 2, each with a final correction on the largest allocation so the credit sum
// is exactly 1.000 and the revenue sum matches the conversion exactly.
// Allocation order is by first touch of each campaign, so the correction
// tie-breaks toward the most recent campaign.
func Allocate(model string, touchpoints []*types.Touchpoint, revenue float64, convAt time.Time) ([]types.Allocation, error) {
	raw, err := credits(model, touchpoints, convAt)
	if err != nil || len(raw) == 0 {
		return nil, err
	}

	type campaignCredit struct {
		campaignID uuid.UUID
		credit     float64
		firstTouch int
	}
	byCampaign := map[uuid.UUID]*campaignCredit{}
	order := []uuid.UUID{}
	for i, tp := range touchpoints {
		cc, ok := byCampaign[tp.CampaignID]
		if !ok {
			cc = &campaignCredit{campaignID: tp.CampaignID, firstTouch: i}
			byCampaign[tp.CampaignID] = cc
			order = append(order, tp.CampaignID)
		}
		cc.credit += raw[i]
	}
	sort.SliceStable(order, func(a, b int) bool {
		return byCampaign[order[a]].firstTouch < byCampaign[order[b]].firstTouch
	})

	allocations := make([]types.Allocation, 0, len(order))
	for _, id := range order {
		cc := byCampaign[id]
		allocations = append(allocations, types.Allocation{
			CampaignID:        cc.campaignID,
			Credit:            round3(cc.credit),
			AttributedRevenue: round2(cc.credit * revenue),
		})
	}

	// Largest allocation absorbs both rounding residuals; scanning with >=
	// breaks ties toward the latest campaign.
	largest := 0
	for i := range allocations {
		if allocations[i].Credit >= allocations[largest].Credit {
			largest = i
		}
	}
	var creditSum, revenueSum float64
	for i := range allocations {
		creditSum += allocations[i].Credit
		revenueSum += allocations[i].AttributedRevenue
	}
	allocations[largest].Credit = round3(allocations[largest].Credit + (1 - creditSum))
	allocations[largest].AttributedRevenue = round2(allocations[largest].AttributedRevenue + (revenue - revenueSum))

	return allocations, nil
}

// WindowFilter returns the touchpoints eligible for a conversion: those inside
// [convAt − lookback, convAt], in journey order.
func WindowFilter(touchpoints []*types.Touchpoint, convAt time.Time, lookbackDays int) []*types.Touchpoint {
	from := convAt.AddDate(0, 0, -lookbackDays)
	out := make([]*types.Touchpoint, 0, len(touchpoints))
	for _, tp := range touchpoints {
		if tp.OccurredAt.Before(from) || tp.OccurredAt.After(convAt) {
			continue
		}
		out = append(out, tp)
	}
	sort.SliceStable(out, func(a, b int) bool {
		if !out[a].OccurredAt.Equal(out[b].OccurredAt) {
			return out[a].OccurredAt.Before(out[b].OccurredAt)
		}
		return out[a].Sequence < out[b].Sequence
	})
	return out
}
