package types

import (
	"time"

	"github.com/google/uuid"
)

// CampaignSpendEntry is one row of the append-only spend ledger. Campaign.Spent
// is the materialised lifetime sum; period-scoped reads (ROAS, platform
// revenue) sum the ledger.
type CampaignSpendEntry struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CampaignID uuid.UUID `gorm:"type:uuid;not null;index:idx_spend_campaign_occurred,priority:1" json:"campaign_id"`
	Amount     float64   `gorm:"not null" json:"amount"`
	OccurredAt time.Time `gorm:"not null;index:idx_spend_campaign_occurred,priority:2" json:"occurred_at"`
	CreatedAt  time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (CampaignSpendEntry) TableName() string { return "campaign_spend_entry" }
