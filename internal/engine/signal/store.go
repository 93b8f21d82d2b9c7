package signal

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"gorm.io/datatypes"

	"github.com/patternos/patternos-backend/internal/apierr"
	"github.com/patternos/patternos-backend/internal/logger"
	"github.com/patternos/patternos-backend/internal/repos"
	"github.com/patternos/patternos-backend/internal/types"
)

// Store is the signal store: per-customer lifetime counters plus the windowed
// day-bucket ring, fed by every ingested event. Persisted rows are the source
// of truth; the in-process cache is advisory and evicts cold customers.
type Store interface {
	Apply(ctx context.Context, event *types.Event) (*types.CategoryCounter, error)
	Counter(ctx context.Context, customerID uuid.UUID, category string) (*types.CategoryCounter, error)
	Windows(ctx context.Context, customerID uuid.UUID, category string, asOf time.Time) (*Windowed, error)
	Profile(ctx context.Context, customerID uuid.UUID) (*types.CustomerProfile, error)
	UpdateDemographics(ctx context.Context, customerID uuid.UUID, city, state, ageGroup, source string) error
	ResetScoreCounter(ctx context.Context, customerID uuid.UUID, category string) error
}

type store struct {
	log      *logger.Logger
	profiles repos.ProfileRepo
	locks    *KeyedMutex
	// hot counters keyed by customer|category; TTL is the cold-customer
	// eviction horizon.
	cache *gocache.Cache
}

// NewStore builds the signal store around an injected keyed mutex, so journey
// writes in the attribution engine can serialise on the same per-customer lock
// as counter folds.
func NewStore(baseLog *logger.Logger, profiles repos.ProfileRepo, locks *KeyedMutex, evictionIdle time.Duration) Store {
	if locks == nil {
		locks = NewKeyedMutex()
	}
	if evictionIdle <= 0 {
		evictionIdle = 24 * time.Hour
	}
	return &store{
		log:      baseLog.With("component", "SignalStore"),
		profiles: profiles,
		locks:    locks,
		cache:    gocache.New(evictionIdle, evictionIdle/2),
	}
}

func counterKey(customerID uuid.UUID, category string) string {
	return customerID.String() + "|" + category
}

// eventDelta is what one event contributes: additive counters plus the
// distinct-value observations that only touch lifetime state.
type eventDelta struct {
	counters CounterSet
	brand    string
	language string
	basket   bool
}

func deltaFor(event *types.Event) eventDelta {
	var d eventDelta
	props := map[string]interface{}{}
	if len(event.Properties) > 0 {
		_ = json.Unmarshal(event.Properties, &props)
	}
	switch event.Kind {
	case types.EventKindSearch:
		d.counters.Searches = 1
	case types.EventKindProductView:
		d.counters.ProductViews = 1
		d.counters.PageViews = 1
	case types.EventKindCartAdd:
		d.counters.CartAdds = 1
	case types.EventKindWishlistAdd:
		d.counters.WishlistAdds = 1
	case types.EventKindDwell:
		d.counters.DwellSeconds = int64(numProp(props, "duration_seconds"))
	case types.EventKindVoiceQuery:
		d.counters.VoiceQueries = 1
		if boolProp(props, "high_intent") {
			d.counters.HighIntentPhrases = 1
		}
		d.language = strProp(props, "language")
	case types.EventKindImageCapture:
		d.counters.Images = 1
		if numProp(props, "confidence") >= 0.8 {
			d.counters.HighConfidenceImages = 1
		}
		d.brand = strProp(props, "brand")
		if strProp(props, "scene") == "basket" {
			d.basket = true
		}
	case types.EventKindAdImpression:
		d.counters.Impressions = 1
	case types.EventKindAdClick:
		d.counters.Clicks = 1
	case types.EventKindPurchase:
		d.counters.Purchases = 1
		d.counters.Revenue = numProp(props, "total_amount")
	}
	return d
}

func (s *store) Apply(ctx context.Context, event *types.Event) (*types.CategoryCounter, error) {
	if event.GlobalCustomerID == uuid.Nil {
		return nil, apierr.Validationf("missing_customer", "event %s has no resolved customer", event.EventID)
	}
	customerID := event.GlobalCustomerID
	category := event.Category
	if category == "" {
		category = "uncategorised"
	}

	s.locks.Lock(customerID)
	defer s.locks.Unlock(customerID)

	if err := s.touchProfile(ctx, event); err != nil {
		return nil, err
	}

	counter, err := s.loadCounter(ctx, customerID, category)
	if err != nil {
		return nil, err
	}
	if counter == nil {
		counter = &types.CategoryCounter{
			ID:               uuid.New(),
			GlobalCustomerID: customerID,
			Category:         category,
		}
	}

	d := deltaFor(event)
	applyLifetime(counter, d)

	ring, err := UnmarshalRing(counter.WindowBuckets, UnixDay(event.OccurredAt))
	if err != nil {
		return nil, apierr.Integrityf("corrupt_window_ring", "customer %s category %s: %v", customerID, category, err)
	}
	ring.Add(UnixDay(event.OccurredAt), d.counters)
	raw, err := ring.Marshal()
	if err != nil {
		return nil, err
	}
	counter.WindowBuckets = datatypes.JSON(raw)
	counter.EventsSinceScore++
	counter.UpdatedAt = time.Now().UTC()

	if err := s.profiles.UpsertCounter(ctx, nil, counter); err != nil {
		return nil, apierr.New(apierr.KindTransient, "counter_write_failed", err)
	}
	s.cache.Set(counterKey(customerID, category), counter, gocache.DefaultExpiration)
	return cloneCounter(counter), nil
}

// cloneCounter snapshots a cached counter before it leaves the customer lock.
// Writers replace the JSON columns rather than mutating their bytes, so a
// shallow copy taken under the lock is a consistent snapshot.
func cloneCounter(counter *types.CategoryCounter) *types.CategoryCounter {
	if counter == nil {
		return nil
	}
	copied := *counter
	return &copied
}

func cloneProfile(profile *types.CustomerProfile) *types.CustomerProfile {
	if profile == nil {
		return nil
	}
	copied := *profile
	return &copied
}

func applyLifetime(counter *types.CategoryCounter, d eventDelta) {
	c := d.counters
	counter.PageViews += c.PageViews
	counter.ProductViews += c.ProductViews
	counter.CartAdds += c.CartAdds
	counter.WishlistAdds += c.WishlistAdds
	counter.Searches += c.Searches
	counter.DwellSeconds += c.DwellSeconds
	counter.Impressions += c.Impressions
	counter.Clicks += c.Clicks
	counter.Purchases += c.Purchases
	counter.Revenue += c.Revenue
	counter.Images += c.Images
	counter.HighConfidenceImages += c.HighConfidenceImages
	counter.VoiceQueries += c.VoiceQueries
	counter.HighIntentPhrases += c.HighIntentPhrases
	if d.basket {
		counter.BasketScene = true
	}
	if d.brand != "" {
		seen := addToSet(&counter.BrandsSeen, d.brand)
		counter.DistinctBrands = int64(seen)
	}
	if d.language != "" {
		seen := addToSet(&counter.LanguagesSeen, d.language)
		counter.Languages = int64(seen)
	}
}

// addToSet inserts value into the JSON string-set column and returns the new
// cardinality.
func addToSet(col *datatypes.JSON, value string) int {
	var values []string
	if len(*col) > 0 {
		_ = json.Unmarshal(*col, &values)
	}
	for _, v := range values {
		if v == value {
			return len(values)
		}
	}
	values = append(values, value)
	sort.Strings(values)
	raw, err := json.Marshal(values)
	if err == nil {
		*col = datatypes.JSON(raw)
	}
	return len(values)
}

func (s *store) touchProfile(ctx context.Context, event *types.Event) error {
	profile, err := s.loadProfile(ctx, event.GlobalCustomerID)
	if err != nil {
		return err
	}
	occurred := event.OccurredAt.UTC()
	if profile == nil {
		profile = &types.CustomerProfile{
			GlobalCustomerID: event.GlobalCustomerID,
			FirstSeen:        occurred,
			LastSeen:         occurred,
		}
	}
	if occurred.Before(profile.FirstSeen) {
		profile.FirstSeen = occurred
	}
	if occurred.After(profile.LastSeen) {
		profile.LastSeen = occurred
	}
	addToSet(&profile.Platforms, event.PlatformID)
	profile.UpdatedAt = time.Now().UTC()
	if err := s.profiles.Upsert(ctx, nil, profile); err != nil {
		return apierr.New(apierr.KindTransient, "profile_write_failed", err)
	}
	s.cache.Set("profile|"+event.GlobalCustomerID.String(), profile, gocache.DefaultExpiration)
	return nil
}

func (s *store) loadCounter(ctx context.Context, customerID uuid.UUID, category string) (*types.CategoryCounter, error) {
	if cached, ok := s.cache.Get(counterKey(customerID, category)); ok {
		if counter, ok := cached.(*types.CategoryCounter); ok {
			return counter, nil
		}
	}
	counter, err := s.profiles.GetCounter(ctx, nil, customerID, category)
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, "counter_read_failed", err)
	}
	return counter, nil
}

func (s *store) loadProfile(ctx context.Context, customerID uuid.UUID) (*types.CustomerProfile, error) {
	if cached, ok := s.cache.Get("profile|" + customerID.String()); ok {
		if profile, ok := cached.(*types.CustomerProfile); ok {
			return profile, nil
		}
	}
	profile, err := s.profiles.Get(ctx, nil, customerID)
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, "profile_read_failed", err)
	}
	return profile, nil
}

func (s *store) Counter(ctx context.Context, customerID uuid.UUID, category string) (*types.CategoryCounter, error) {
	s.locks.Lock(customerID)
	defer s.locks.Unlock(customerID)
	counter, err := s.loadCounter(ctx, customerID, category)
	if err != nil {
		return nil, err
	}
	return cloneCounter(counter), nil
}

func (s *store) Windows(ctx context.Context, customerID uuid.UUID, category string, asOf time.Time) (*Windowed, error) {
	counter, err := s.Counter(ctx, customerID, category)
	if err != nil {
		return nil, err
	}
	if counter == nil {
		return &Windowed{}, nil
	}
	ring, err := UnmarshalRing(counter.WindowBuckets, UnixDay(asOf))
	if err != nil {
		return nil, apierr.Integrityf("corrupt_window_ring", "customer %s category %s: %v", customerID, category, err)
	}
	w := ring.Windows(asOf)
	return &w, nil
}

func (s *store) Profile(ctx context.Context, customerID uuid.UUID) (*types.CustomerProfile, error) {
	s.locks.Lock(customerID)
	defer s.locks.Unlock(customerID)
	profile, err := s.loadProfile(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return cloneProfile(profile), nil
}

// UpdateDemographics applies last-write-wins with source precedence:
// deterministic sources overwrite everything, probabilistic ones never
// overwrite deterministic data.
func (s *store) UpdateDemographics(ctx context.Context, customerID uuid.UUID, city, state, ageGroup, source string) error {
	s.locks.Lock(customerID)
	defer s.locks.Unlock(customerID)

	profile, err := s.loadProfile(ctx, customerID)
	if err != nil {
		return err
	}
	if profile == nil {
		now := time.Now().UTC()
		profile = &types.CustomerProfile{
			GlobalCustomerID: customerID,
			FirstSeen:        now,
			LastSeen:         now,
		}
	}
	if profile.DemoSource == types.IdentityMethodDeterministic && source != types.IdentityMethodDeterministic {
		return nil
	}
	if city != "" {
		profile.City = city
	}
	if state != "" {
		profile.State = state
	}
	if ageGroup != "" {
		profile.AgeGroup = ageGroup
	}
	profile.DemoSource = source
	profile.UpdatedAt = time.Now().UTC()
	if err := s.profiles.Upsert(ctx, nil, profile); err != nil {
		return apierr.New(apierr.KindTransient, "profile_write_failed", err)
	}
	s.cache.Set("profile|"+customerID.String(), profile, gocache.DefaultExpiration)
	return nil
}

func (s *store) ResetScoreCounter(ctx context.Context, customerID uuid.UUID, category string) error {
	s.locks.Lock(customerID)
	defer s.locks.Unlock(customerID)
	if cached, ok := s.cache.Get(counterKey(customerID, category)); ok {
		if counter, ok := cached.(*types.CategoryCounter); ok {
			counter.EventsSinceScore = 0
		}
	}
	if err := s.profiles.ResetEventsSinceScore(ctx, nil, customerID, category); err != nil {
		return apierr.New(apierr.KindTransient, "counter_write_failed", err)
	}
	return nil
}

func numProp(props map[string]interface{}, key string) float64 {
	if v, ok := props[key]; ok {
		switch t := v.(type) {
		case float64:
			return t
		case int:
			return float64(t)
		case int64:
			return float64(t)
		case json.Number:
			f, _ := t.Float64()
			return f
		}
	}
	return 0
}

func strProp(props map[string]interface{}, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func boolProp(props map[string]interface{}, key string) bool {
	if v, ok := props[key].(bool); ok {
		return v
	}
	return false
}
