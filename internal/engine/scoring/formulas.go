package scoring

import (
	"math"

	"github.com/patternos/patternos-backend/internal/types"
)

// Score weights for the unified intent score.
const (
	WeightBehavioural = 0.40
	WeightVisual      = 0.30
	WeightVoice       = 0.10
	WeightPredictive  = 0.20
)

// Level thresholds on the unified score.
const (
	ThresholdHigh   = 70.0
	ThresholdMedium = 50.0
	ThresholdLow    = 30.0
)

func clamp100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Round2 rounds half-even to two decimals, the persisted precision for every
// score value.
func Round2(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}

// Behavioural scores page views, cart adds, searches, dwell and product
// views, each capped so no single signal dominates.
func Behavioural(c *types.CategoryCounter) float64 {
	if c == nil {
		return 0
	}
	score := minf(float64(c.PageViews)*2, 20) +
		minf(float64(c.CartAdds)*10, 30) +
		minf(float64(c.Searches)*3, 15) +
		minf(float64(c.DwellSeconds)/100, 20) +
		minf(float64(c.ProductViews)*5, 15)
	return clamp100(score)
}

// Visual scores image captures, high-confidence detections, brand variety and
// basket scenes.
func Visual(c *types.CategoryCounter) float64 {
	if c == nil {
		return 0
	}
	score := minf(float64(c.Images)*5, 25) +
		minf(float64(c.HighConfidenceImages)*15, 30) +
		minf(float64(c.DistinctBrands)*3, 25)
	if c.BasketScene {
		score += 20
	}
	return clamp100(score)
}

// Voice scores query volume, high-intent phrasing and multilinguality.
func Voice(c *types.CategoryCounter) float64 {
	if c == nil {
		return 0
	}
	score := minf(float64(c.VoiceQueries)*8, 40) +
		minf(float64(c.HighIntentPhrases)*25, 50)
	if c.Languages > 1 {
		score += 10
	}
	return clamp100(score)
}

// Predictor produces the predictive sub-score. The default is the documented
// heuristic; a trained model can be swapped in without touching any other
// scoring contract.
type Predictor interface {
	Predict(c *types.CategoryCounter) float64
}

// HeuristicPredictor is the placeholder regression used until a trained model
// is wired.
type HeuristicPredictor struct{}

func (HeuristicPredictor) Predict(c *types.CategoryCounter) float64 {
	if c == nil || counterIsEmpty(c) {
		return 50
	}
	score := minf(float64(c.CartAdds)*10+float64(c.Searches)*3, 40) +
		minf(float64(c.PageViews)*0.5, 20)
	if c.CartAdds > 2 || c.Searches > 5 {
		score += 15
	} else {
		score += 5
	}
	return clamp100(score)
}

func counterIsEmpty(c *types.CategoryCounter) bool {
	return c.PageViews == 0 && c.ProductViews == 0 && c.CartAdds == 0 &&
		c.Searches == 0 && c.DwellSeconds == 0 && c.Impressions == 0 &&
		c.Clicks == 0 && c.Purchases == 0 && c.Images == 0 &&
		c.VoiceQueries == 0
}

// Unified combines the four sub-scores under the fixed weights.
func Unified(behavioural, visual, voice, predictive float64) float64 {
	return WeightBehavioural*behavioural +
		WeightVisual*visual +
		WeightVoice*voice +
		WeightPredictive*predictive
}

func LevelFor(unified float64) string {
	switch {
	case unified >= ThresholdHigh:
		return types.IntentLevelHigh
	case unified >= ThresholdMedium:
		return types.IntentLevelMedium
	case unified >= ThresholdLow:
		return types.IntentLevelLow
	default:
		return types.IntentLevelMinimal
	}
}

// ConfidenceFor is the fraction of sub-scores that are strictly positive.
func ConfidenceFor(subScores ...float64) float64 {
	if len(subScores) == 0 {
		return 0
	}
	positive := 0
	for _, s := range subScores {
		if s > 0 {
			positive++
		}
	}
	return float64(positive) / float64(len(subScores))
}

func RecommendedActionFor(level string) string {
	switch level {
	case types.IntentLevelHigh:
		return "retarget_now"
	case types.IntentLevelMedium:
		return "nurture_sequence"
	case types.IntentLevelLow:
		return "awareness_campaign"
	default:
		return "no_action"
	}
}
