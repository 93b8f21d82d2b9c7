package db

import (
	"gorm.io/gorm"

	"github.com/patternos/patternos-backend/internal/types"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(

		// =========================
		// Event log
		// =========================
		&types.Event{},
		&types.QuarantinedEvent{},

		// =========================
		// Customer store
		// =========================
		&types.IdentityBinding{},
		&types.IdentityTrait{},
		&types.CustomerProfile{},
		&types.CategoryCounter{},
		&types.IntentScore{},

		// =========================
		// Attribution store
		// =========================
		&types.Touchpoint{},
		&types.Conversion{},
		&types.Campaign{},
		&types.CampaignSpendEntry{},
	)
}
