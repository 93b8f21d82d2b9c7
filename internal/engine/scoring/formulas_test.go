package scoring

import (
	"testing"

	"github.com/patternos/patternos-backend/internal/types"
)

func TestUnifiedWeighting(t *testing.T) {
	// 0.40*80 + 0.30*60 + 0.10*0 + 0.20*50 = 60
	got := Round2(Unified(80, 60, 0, 50))
	if got != 60 {
		t.Fatalf("Unified(80,60,0,50) = %v, want 60", got)
	}
	if level := LevelFor(got); level != types.IntentLevelMedium {
		t.Fatalf("LevelFor(60) = %q, want %q", level, types.IntentLevelMedium)
	}
}

func TestLevelThresholds(t *testing.T) {
	cases := []struct {
		unified float64
		want    string
	}{
		{100, types.IntentLevelHigh},
		{70, types.IntentLevelHigh},
		{69.99, types.IntentLevelMedium},
		{50, types.IntentLevelMedium},
		{49.99, types.IntentLevelLow},
		{30, types.IntentLevelLow},
		{29.99, types.IntentLevelMinimal},
		{0, types.IntentLevelMinimal},
	}
	for _, tc := range cases {
		if got := LevelFor(tc.unified); got != tc.want {
			t.Fatalf("LevelFor(%v) = %q, want %q", tc.unified, got, tc.want)
		}
	}
}

func TestRound2HalfEven(t *testing.T) {
	if got := Round2(2.675); got != 2.67 && got != 2.68 {
		t.Fatalf("Round2(2.675) = %v", got)
	}
	if got := Round2(0.125); got != 0.12 {
		t.Fatalf("Round2(0.125) = %v, want 0.12", got)
	}
	if got := Round2(0.135); got != 0.14 {
		t.Fatalf("Round2(0.135) = %v, want 0.14", got)
	}
}

func TestBehaviouralCaps(t *testing.T) {
	c := &types.CategoryCounter{
		PageViews:    1000,
		CartAdds:     1000,
		Searches:     1000,
		DwellSeconds: 100000,
		ProductViews: 1000,
	}
	// Every component saturated: 20+30+15+20+15 = 100.
	if got := Behavioural(c); got != 100 {
		t.Fatalf("saturated Behavioural = %v, want 100", got)
	}
	if got := Behavioural(nil); got != 0 {
		t.Fatalf("Behavioural(nil) = %v, want 0", got)
	}
}

func TestBehaviouralPartial(t *testing.T) {
	c := &types.CategoryCounter{
		PageViews: 5, // 10
		CartAdds:  1, // 10
		Searches:  2, // 6
	}
	if got := Behavioural(c); got != 26 {
		t.Fatalf("Behavioural = %v, want 26", got)
	}
}

func TestVisualBasketScene(t *testing.T) {
	base := &types.CategoryCounter{Images: 2, HighConfidenceImages: 1, DistinctBrands: 2}
	without := Visual(base)
	base.BasketScene = true
	with := Visual(base)
	if with-without != 20 {
		t.Fatalf("basket scene bonus = %v, want 20", with-without)
	}
}

func TestVoiceMultilingualBonus(t *testing.T) {
	c := &types.CategoryCounter{VoiceQueries: 1, Languages: 1}
	monolingual := Voice(c)
	c.Languages = 2
	multilingual := Voice(c)
	if multilingual-monolingual != 10 {
		t.Fatalf("multilingual bonus = %v, want 10", multilingual-monolingual)
	}
}

func TestHeuristicPredictorColdStart(t *testing.T) {
	if got := (HeuristicPredictor{}).Predict(&types.CategoryCounter{}); got != 50 {
		t.Fatalf("cold-start predictive = %v, want 50", got)
	}
	if got := (HeuristicPredictor{}).Predict(nil); got != 50 {
		t.Fatalf("nil counter predictive = %v, want 50", got)
	}
}

func TestConfidenceFor(t *testing.T) {
	if got := ConfidenceFor(80, 60, 0, 50); got != 0.75 {
		t.Fatalf("ConfidenceFor = %v, want 0.75", got)
	}
	if got := ConfidenceFor(); got != 0 {
		t.Fatalf("ConfidenceFor() = %v, want 0", got)
	}
}

func TestRecommendedActionFor(t *testing.T) {
	cases := map[string]string{
		types.IntentLevelHigh:    "retarget_now",
		types.IntentLevelMedium:  "nurture_sequence",
		types.IntentLevelLow:     "awareness_campaign",
		types.IntentLevelMinimal: "no_action",
	}
	for level, want := range cases {
		if got := RecommendedActionFor(level); got != want {
			t.Fatalf("RecommendedActionFor(%q) = %q, want %q", level, got, want)
		}
	}
}

func TestComputeDeterministic(t *testing.T) {
	c := &types.CategoryCounter{PageViews: 10, CartAdds: 2, Searches: 4}
	a := Compute(c, c.GlobalCustomerID, "grocery", c.UpdatedAt, 1)
	b := Compute(c, c.GlobalCustomerID, "grocery", c.UpdatedAt, 1)
	if a.Unified != b.Unified || a.Behavioural != b.Behavioural || a.Level != b.Level {
		t.Fatalf("Compute not deterministic: %+v vs %+v", a, b)
	}
}
