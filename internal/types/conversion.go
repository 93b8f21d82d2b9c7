package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	AttributionModelLastClick     = "last_click"
	AttributionModelFirstClick    = "first_click"
	AttributionModelLinear        = "linear"
	AttributionModelTimeDecay     = "time_decay"
	AttributionModelPositionBased = "position_based"
)

// Allocation is one campaign's share of a conversion. Credits are rounded to
// 3 decimals, revenue to 2; the largest allocation absorbs the rounding
// remainder so the attributed total matches the conversion revenue exactly.
type Allocation struct {
	CampaignID        uuid.UUID `json:"campaign_id"`
	Credit            float64   `json:"credit"`
	AttributedRevenue float64   `json:"attributed_revenue"`
}

// Conversion is a purchase lifted from the event log, idempotent on order_id.
// Re-submitting with a different model replaces allocations and bumps the
// revision counter.
type Conversion struct {
	ID               uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	GlobalCustomerID uuid.UUID      `gorm:"type:uuid;not null;index" json:"global_customer_id"`
	OrderID          string         `gorm:"not null;uniqueIndex" json:"order_id"`
	Revenue          float64        `gorm:"not null" json:"revenue"`
	Items            datatypes.JSON `gorm:"type:jsonb" json:"items"`
	OccurredAt       time.Time      `gorm:"not null;index" json:"occurred_at"`
	AttributionModel string         `gorm:"not null" json:"attribution_model"`
	LookbackDays     int            `gorm:"not null" json:"lookback_days"`
	Organic          bool           `gorm:"not null;default:false" json:"organic"`
	Revision         int64          `gorm:"not null;default:0" json:"revision"`
	Allocations      datatypes.JSON `gorm:"type:jsonb" json:"allocations"`
	CreatedAt        time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Conversion) TableName() string { return "conversion" }
