package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	EventKindSearch       = "search"
	EventKindProductView  = "product_view"
	EventKindCartAdd      = "cart_add"
	EventKindWishlistAdd  = "wishlist_add"
	EventKindDwell        = "dwell"
	EventKindVoiceQuery   = "voice_query"
	EventKindImageCapture = "image_capture"
	EventKindAdImpression = "ad_impression"
	EventKindAdClick      = "ad_click"
	EventKindPurchase     = "purchase"
)

// KnownEventKinds maps every accepted kind to its shedding priority. Higher
// priority kinds survive longer under back-pressure.
var KnownEventKinds = map[string]int{
	EventKindSearch:       2,
	EventKindProductView:  2,
	EventKindCartAdd:      3,
	EventKindWishlistAdd:  2,
	EventKindDwell:        1,
	EventKindVoiceQuery:   2,
	EventKindImageCapture: 1,
	EventKindAdImpression: 3,
	EventKindAdClick:      4,
	EventKindPurchase:     4,
}

// Event is one observed shopper signal. Rows are immutable once written.
type Event struct {
	ID                 uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID           string         `gorm:"not null;uniqueIndex:idx_event_tenant_sequence,priority:1" json:"tenant_id"`
	Sequence           int64          `gorm:"not null;uniqueIndex:idx_event_tenant_sequence,priority:2" json:"sequence"`
	PlatformID         string         `gorm:"not null;uniqueIndex:idx_event_platform_event,priority:1" json:"platform_id"`
	EventID            string         `gorm:"not null;uniqueIndex:idx_event_platform_event,priority:2" json:"event_id"`
	PlatformCustomerID string         `gorm:"not null" json:"platform_customer_id"`
	GlobalCustomerID   uuid.UUID      `gorm:"type:uuid;not null;index:idx_event_customer_occurred,priority:1" json:"global_customer_id"`
	Kind               string         `gorm:"not null;index" json:"kind"`
	Category           string         `gorm:"index" json:"category,omitempty"`
	ProductID          *string        `json:"product_id,omitempty"`
	CampaignID         *uuid.UUID     `gorm:"type:uuid;index:idx_event_campaign_occurred,priority:1" json:"campaign_id,omitempty"`
	Properties         datatypes.JSON `gorm:"type:jsonb" json:"properties,omitempty"`
	OccurredAt         time.Time      `gorm:"not null;index:idx_event_customer_occurred,priority:2;index:idx_event_campaign_occurred,priority:2" json:"occurred_at"`
	IngestedAt         time.Time      `gorm:"not null" json:"ingested_at"`
	Archived           bool           `gorm:"not null;default:false;index" json:"archived"`
	CreatedAt          time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (Event) TableName() string { return "event" }
