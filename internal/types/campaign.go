package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	CampaignStatusActive    = "active"
	CampaignStatusPaused    = "paused"
	CampaignStatusExhausted = "exhausted"
	CampaignStatusEnded     = "ended"
)

// Campaign is owned by the external campaign registry; the engine reads
// targeting fields and maintains spend plus delivery rollups. Spend updates go
// through an optimistic compare-and-swap on Version.
type Campaign struct {
	ID               uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Brand            string         `gorm:"not null;index" json:"brand"`
	Name             string         `json:"name,omitempty"`
	Status           string         `gorm:"not null;index" json:"status"`
	TotalBudget      float64        `gorm:"not null" json:"total_budget"`
	Spent            float64        `gorm:"not null;default:0" json:"spent"`
	MinIntentScore   float64        `gorm:"not null;default:0" json:"min_intent_score"`
	TargetCategories datatypes.JSON `gorm:"type:jsonb" json:"target_categories,omitempty"`
	TargetLocations  datatypes.JSON `gorm:"type:jsonb" json:"target_locations,omitempty"`
	StartDate        time.Time      `gorm:"not null" json:"start_date"`
	EndDate          time.Time      `gorm:"not null" json:"end_date"`
	Version          int64          `gorm:"not null;default:0" json:"version"`

	// Delivery rollups materialised on write for brand performance reads.
	Impressions       int64   `gorm:"not null;default:0" json:"impressions"`
	Clicks            int64   `gorm:"not null;default:0" json:"clicks"`
	Conversions       int64   `gorm:"not null;default:0" json:"conversions"`
	AttributedRevenue float64 `gorm:"not null;default:0" json:"attributed_revenue"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Campaign) TableName() string { return "campaign" }

// DerivedStatus evaluates the status invariant: active iff the clock is inside
// the flight window and budget remains.
func (c *Campaign) DerivedStatus(now time.Time) string {
	if now.Before(c.StartDate) {
		return CampaignStatusPaused
	}
	if now.After(c.EndDate) {
		return CampaignStatusEnded
	}
	if c.Spent >= c.TotalBudget {
		return CampaignStatusExhausted
	}
	return CampaignStatusActive
}

// HighIntentTargeted reports whether the campaign targets high-intent
// audiences for the premium revenue stream.
func (c *Campaign) HighIntentTargeted(threshold float64) bool {
	return c.MinIntentScore >= threshold
}
