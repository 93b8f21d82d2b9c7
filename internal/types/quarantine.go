package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// QuarantinedEvent is a dead-lettered ingest payload kept with its rejection
// reason for later inspection and replay.
type QuarantinedEvent struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID   string         `gorm:"not null;index" json:"tenant_id"`
	PlatformID string         `json:"platform_id"`
	EventID    string         `json:"event_id"`
	Reason     string         `gorm:"not null" json:"reason"`
	Payload    datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	CreatedAt  time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (QuarantinedEvent) TableName() string { return "quarantined_event" }
