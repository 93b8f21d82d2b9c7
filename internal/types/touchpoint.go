package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	TouchpointKindImpression = "impression"
	TouchpointKindClick      = "click"
	TouchpointKindView       = "view"
)

// Touchpoint is one ad event in a customer journey, ordered within the
// journey by (occurred_at, sequence).
type Touchpoint struct {
	ID               uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	GlobalCustomerID uuid.UUID `gorm:"type:uuid;not null;index:idx_touchpoint_customer_occurred,priority:1" json:"global_customer_id"`
	CampaignID       uuid.UUID `gorm:"type:uuid;not null;index" json:"campaign_id"`
	AdID             *string   `json:"ad_id,omitempty"`
	Kind             string    `gorm:"not null" json:"kind"`
	Channel          string    `json:"channel,omitempty"`
	Platform         string    `json:"platform,omitempty"`
	PageType         string    `json:"page_type,omitempty"`
	OccurredAt       time.Time `gorm:"not null;index:idx_touchpoint_customer_occurred,priority:2" json:"occurred_at"`
	Sequence         int64     `gorm:"not null" json:"sequence"`
	CreatedAt        time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (Touchpoint) TableName() string { return "touchpoint" }
