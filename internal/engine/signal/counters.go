package signal

import (
	"encoding/json"
	"time"
)

// RingDays sizes the per-day bucket ring: the 90-day window plus today.
const RingDays = 91

// CounterSet is the additive counter bundle tracked per day bucket and per
// window. Distinct-value tallies (brands, languages) are lifetime-only and
// live on the counter row instead.
type CounterSet struct {
	PageViews            int64   `json:"page_views,omitempty"`
	ProductViews         int64   `json:"product_views,omitempty"`
	CartAdds             int64   `json:"cart_adds,omitempty"`
	WishlistAdds         int64   `json:"wishlist_adds,omitempty"`
	Searches             int64   `json:"searches,omitempty"`
	DwellSeconds         int64   `json:"dwell_seconds,omitempty"`
	Impressions          int64   `json:"impressions,omitempty"`
	Clicks               int64   `json:"clicks,omitempty"`
	Purchases            int64   `json:"purchases,omitempty"`
	Revenue              float64 `json:"revenue,omitempty"`
	Images               int64   `json:"images,omitempty"`
	HighConfidenceImages int64   `json:"high_confidence_images,omitempty"`
	VoiceQueries         int64   `json:"voice_queries,omitempty"`
	HighIntentPhrases    int64   `json:"high_intent_phrases,omitempty"`
}

func (c *CounterSet) Add(d CounterSet) {
	c.PageViews += d.PageViews
	c.ProductViews += d.ProductViews
	c.CartAdds += d.CartAdds
	c.WishlistAdds += d.WishlistAdds
	c.Searches += d.Searches
	c.DwellSeconds += d.DwellSeconds
	c.Impressions += d.Impressions
	c.Clicks += d.Clicks
	c.Purchases += d.Purchases
	c.Revenue += d.Revenue
	c.Images += d.Images
	c.HighConfidenceImages += d.HighConfidenceImages
	c.VoiceQueries += d.VoiceQueries
	c.HighIntentPhrases += d.HighIntentPhrases
}

func (c CounterSet) IsZero() bool {
	return c == CounterSet{}
}

// UnixDay converts a timestamp to its UTC day ordinal.
func UnixDay(t time.Time) int64 {
	return t.UTC().Unix() / 86400
}

// Ring is the time-bucketed circular array of per-day counters. Updates are
// O(1); a window read sums at most window-days cells. Cells are addressed by
// day ordinal modulo RingDays; advancing the head zeroes the cells it passes,
// which is also how old days fall out of every window on a day roll.
type Ring struct {
	HeadDay int64        `json:"head_day"`
	Cells   []CounterSet `json:"cells"`
}

func NewRing(headDay int64) *Ring {
	return &Ring{HeadDay: headDay, Cells: make([]CounterSet, RingDays)}
}

func cellIndex(day int64) int {
	idx := day % RingDays
	if idx < 0 {
		idx += RingDays
	}
	return int(idx)
}

// Advance moves the head forward to day, clearing any cells rolled past.
// Moving backwards is a no-op.
func (r *Ring) Advance(day int64) {
	if day <= r.HeadDay {
		return
	}
	steps := day - r.HeadDay
	if steps >= RingDays {
		for i := range r.Cells {
			r.Cells[i] = CounterSet{}
		}
	} else {
		for d := r.HeadDay + 1; d <= day; d++ {
			r.Cells[cellIndex(d)] = CounterSet{}
		}
	}
	r.HeadDay = day
}

// Add applies delta to the bucket for day. Days older than the ring horizon
// are dropped; the lifetime counters still see them.
func (r *Ring) Add(day int64, delta CounterSet) {
	if day > r.HeadDay {
		r.Advance(day)
	}
	if day <= r.HeadDay-RingDays {
		return
	}
	r.Cells[cellIndex(day)].Add(delta)
}

// WindowSum sums the last windowDays buckets ending at asOfDay inclusive.
func (r *Ring) WindowSum(windowDays int, asOfDay int64) CounterSet {
	var sum CounterSet
	if windowDays > RingDays {
		windowDays = RingDays
	}
	for d := asOfDay - int64(windowDays) + 1; d <= asOfDay; d++ {
		if d > r.HeadDay || d <= r.HeadDay-RingDays {
			continue
		}
		sum.Add(r.Cells[cellIndex(d)])
	}
	return sum
}

// Windowed bundles the standard 7/30/90-day reads.
type Windowed struct {
	Last7  CounterSet `json:"last_7"`
	Last30 CounterSet `json:"last_30"`
	Last90 CounterSet `json:"last_90"`
}

func (r *Ring) Windows(asOf time.Time) Windowed {
	day := UnixDay(asOf)
	return Windowed{
		Last7:  r.WindowSum(7, day),
		Last30: r.WindowSum(30, day),
		Last90: r.WindowSum(90, day),
	}
}

func (r *Ring) Marshal() ([]byte, error) { return json.Marshal(r) }

func UnmarshalRing(raw []byte, fallbackDay int64) (*Ring, error) {
	if len(raw) == 0 {
		return NewRing(fallbackDay), nil
	}
	var ring Ring
	if err := json.Unmarshal(raw, &ring); err != nil {
		return nil, err
	}
	if len(ring.Cells) != RingDays {
		cells := make([]CounterSet, RingDays)
		copy(cells, ring.Cells)
		ring.Cells = cells
	}
	return &ring, nil
}
