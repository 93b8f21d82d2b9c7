package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// CustomerProfile is the aggregate state for one global customer. Per-category
// counters live in CategoryCounter rows.
type CustomerProfile struct {
	GlobalCustomerID uuid.UUID      `gorm:"type:uuid;primaryKey" json:"global_customer_id"`
	FirstSeen        time.Time      `gorm:"not null" json:"first_seen"`
	LastSeen         time.Time      `gorm:"not null;index" json:"last_seen"`
	Platforms        datatypes.JSON `gorm:"type:jsonb" json:"platforms"`
	AgeGroup         string         `json:"age_group,omitempty"`
	City             string         `json:"city,omitempty"`
	State            string         `json:"state,omitempty"`
	DemoSource       string         `json:"demo_source,omitempty"`
	CreatedAt        time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (CustomerProfile) TableName() string { return "customer_profile" }

// CategoryCounter holds lifetime counters and the serialized day-bucket ring
// backing the 7/30/90-day windows for one (customer, category) pair.
type CategoryCounter struct {
	ID               uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	GlobalCustomerID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_counter_customer_category,priority:1" json:"global_customer_id"`
	Category         string    `gorm:"not null;uniqueIndex:idx_counter_customer_category,priority:2" json:"category"`

	PageViews    int64   `gorm:"not null;default:0" json:"page_views"`
	ProductViews int64   `gorm:"not null;default:0" json:"product_views"`
	CartAdds     int64   `gorm:"not null;default:0" json:"cart_adds"`
	WishlistAdds int64   `gorm:"not null;default:0" json:"wishlist_adds"`
	Searches     int64   `gorm:"not null;default:0" json:"searches"`
	DwellSeconds int64   `gorm:"not null;default:0" json:"dwell_seconds"`
	Impressions  int64   `gorm:"not null;default:0" json:"impressions"`
	Clicks       int64   `gorm:"not null;default:0" json:"clicks"`
	Purchases    int64   `gorm:"not null;default:0" json:"purchases"`
	Revenue      float64 `gorm:"not null;default:0" json:"revenue"`

	Images               int64 `gorm:"not null;default:0" json:"images"`
	HighConfidenceImages int64 `gorm:"not null;default:0" json:"high_confidence_images"`
	DistinctBrands       int64 `gorm:"not null;default:0" json:"distinct_brands"`
	BasketScene          bool  `gorm:"not null;default:false" json:"basket_scene"`
	VoiceQueries         int64 `gorm:"not null;default:0" json:"voice_queries"`
	HighIntentPhrases    int64 `gorm:"not null;default:0" json:"high_intent_phrases"`
	Languages            int64 `gorm:"not null;default:0" json:"languages"`

	// Distinct-value tallies backing DistinctBrands and Languages.
	BrandsSeen    datatypes.JSON `gorm:"type:jsonb" json:"brands_seen,omitempty"`
	LanguagesSeen datatypes.JSON `gorm:"type:jsonb" json:"languages_seen,omitempty"`

	// EventsSinceScore drives the on-write rescore threshold.
	EventsSinceScore int            `gorm:"not null;default:0" json:"events_since_score"`
	WindowBuckets    datatypes.JSON `gorm:"type:jsonb" json:"window_buckets,omitempty"`
	UpdatedAt        time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (CategoryCounter) TableName() string { return "category_counter" }
