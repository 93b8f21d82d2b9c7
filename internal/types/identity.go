package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	IdentityMethodDeterministic = "deterministic"
	IdentityMethodProbabilistic = "probabilistic"
	IdentityMethodSimulated     = "simulated"
)

// IdentityBinding maps a platform-scoped customer to a global customer. At
// most one binding per (platform_id, platform_customer_id) is active; merges
// and rebinds retire the old row instead of rewriting it.
type IdentityBinding struct {
	ID                 uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	GlobalCustomerID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"global_customer_id"`
	PlatformID         string     `gorm:"not null;index:idx_identity_platform_customer,priority:1" json:"platform_id"`
	PlatformCustomerID string     `gorm:"not null;index:idx_identity_platform_customer,priority:2" json:"platform_customer_id"`
	Method             string     `gorm:"not null" json:"method"`
	Confidence         float64    `gorm:"not null" json:"confidence"`
	Active             bool       `gorm:"not null;default:true;index" json:"active"`
	SupersededBy       *uuid.UUID `gorm:"type:uuid" json:"superseded_by,omitempty"`
	AuditNote          string     `json:"audit_note,omitempty"`
	FirstSeen          time.Time  `gorm:"not null" json:"first_seen"`
	LastSeen           time.Time  `gorm:"not null" json:"last_seen"`
	CreatedAt          time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (IdentityBinding) TableName() string { return "identity_binding" }

// IdentityHint carries the optional strong and weak identifiers attached to an
// ingest call. Contact identifiers arrive pre-hashed from the edge.
type IdentityHint struct {
	HashedEmail       string `json:"hashed_email,omitempty"`
	HashedPhone       string `json:"hashed_phone,omitempty"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
	City              string `json:"city,omitempty"`
	State             string `json:"state,omitempty"`
	AgeGroup          string `json:"age_group,omitempty"`
	Pincode           string `json:"pincode,omitempty"`
}

// IdentityTrait persists the strong identifiers observed for a binding so
// later resolutions can match across platforms.
type IdentityTrait struct {
	ID               uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	GlobalCustomerID uuid.UUID `gorm:"type:uuid;not null;index" json:"global_customer_id"`
	Trait            string    `gorm:"not null;index:idx_identity_trait_value,priority:1" json:"trait"`
	Value            string    `gorm:"not null;index:idx_identity_trait_value,priority:2" json:"value"`
	CreatedAt        time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (IdentityTrait) TableName() string { return "identity_trait" }

const (
	TraitHashedEmail = "hashed_email"
	TraitHashedPhone = "hashed_phone"
	TraitDevice      = "device_fingerprint"
	TraitComposite   = "composite" // city|state|age_group|pincode
)
