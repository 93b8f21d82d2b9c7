package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	IntentLevelHigh    = "High"
	IntentLevelMedium  = "Medium"
	IntentLevelLow     = "Low"
	IntentLevelMinimal = "Minimal"
)

// IntentScore is one versioned score snapshot for a (customer, category)
// pair. Storing a new score never deletes the previous one; the latest row is
// the one with the highest score_version.
type IntentScore struct {
	ID               uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	GlobalCustomerID uuid.UUID `gorm:"type:uuid;not null;index:idx_score_customer_category,priority:1" json:"global_customer_id"`
	Category         string    `gorm:"not null;index:idx_score_customer_category,priority:2" json:"category"`

	Behavioural float64 `gorm:"not null" json:"behavioural"`
	Visual      float64 `gorm:"not null" json:"visual"`
	Voice       float64 `gorm:"not null" json:"voice"`
	Predictive  float64 `gorm:"not null" json:"predictive"`
	Unified     float64 `gorm:"not null;index" json:"unified"`

	Level             string    `gorm:"not null" json:"level"`
	Confidence        float64   `gorm:"not null" json:"confidence"`
	RecommendedAction string    `gorm:"not null" json:"recommended_action"`
	ScoreVersion      int64     `gorm:"not null" json:"score_version"`
	ComputedAt        time.Time `gorm:"not null" json:"computed_at"`
	CreatedAt         time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (IntentScore) TableName() string { return "intent_score" }
