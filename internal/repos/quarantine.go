package repos

import (
	"context"

	"gorm.io/gorm"

	"github.com/patternos/patternos-backend/internal/logger"
	"github.com/patternos/patternos-backend/internal/types"
)

type QuarantineRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *types.QuarantinedEvent) error
	ListByTenant(ctx context.Context, tx *gorm.DB, tenantID string, limit int) ([]*types.QuarantinedEvent, error)
}

type quarantineRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQuarantineRepo(db *gorm.DB, baseLog *logger.Logger) QuarantineRepo {
	repoLog := baseLog.With("repo", "QuarantineRepo")
	return &quarantineRepo{db: db, log: repoLog}
}

func (r *quarantineRepo) Create(ctx context.Context, tx *gorm.DB, row *types.QuarantinedEvent) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(row).Error
}

func (r *quarantineRepo) ListByTenant(ctx context.Context, tx *gorm.DB, tenantID string, limit int) ([]*types.QuarantinedEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.QuarantinedEvent
	q := transaction.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
