package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/patternos/patternos-backend/internal/logger"
	"github.com/patternos/patternos-backend/internal/types"
)

type TouchpointRepo interface {
	Create(ctx context.Context, tx *gorm.DB, tp *types.Touchpoint) error
	ListByCustomerWindow(ctx context.Context, tx *gorm.DB, customerID uuid.UUID, from, to time.Time) ([]*types.Touchpoint, error)
	ListByCustomer(ctx context.Context, tx *gorm.DB, customerID uuid.UUID) ([]*types.Touchpoint, error)
	LatestByCustomer(ctx context.Context, tx *gorm.DB, customerID uuid.UUID) (*types.Touchpoint, error)
	MaxSequence(ctx context.Context, tx *gorm.DB) (int64, error)
	CountDeliveryByCampaigns(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, from, to time.Time) (int64, int64, error)
}

type touchpointRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTouchpointRepo(db *gorm.DB, baseLog *logger.Logger) TouchpointRepo {
	repoLog := baseLog.With("repo", "TouchpointRepo")
	return &touchpointRepo{db: db, log: repoLog}
}

func (r *touchpointRepo) Create(ctx context.Context, tx *gorm.DB, tp *types.Touchpoint) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(tp).Error
}

func (r *touchpointRepo) ListByCustomerWindow(ctx context.Context, tx *gorm.DB, customerID uuid.UUID, from, to time.Time) ([]*types.Touchpoint, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Touchpoint
	if customerID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("global_customer_id = ? AND occurred_at >= ? AND occurred_at <= ?", customerID, from, to).
		Order("occurred_at ASC, sequence ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *touchpointRepo) ListByCustomer(ctx context.Context, tx *gorm.DB, customerID uuid.UUID) ([]*types.Touchpoint, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Touchpoint
	if customerID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("global_customer_id = ?", customerID).
		Order("occurred_at ASC, sequence ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *touchpointRepo) MaxSequence(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var max int64
	if err := transaction.WithContext(ctx).
		Model(&types.Touchpoint{}).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&max).Error; err != nil {
		return 0, err
	}
	return max, nil
}

// CountDeliveryByCampaigns counts impressions (views included) and clicks
// delivered by the given campaigns inside the period.
func (r *touchpointRepo) CountDeliveryByCampaigns(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, from, to time.Time) (int64, int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return 0, 0, nil
	}
	var row struct {
		Impressions int64
		Clicks      int64
	}
	if err := transaction.WithContext(ctx).
		Model(&types.Touchpoint{}).
		Select(
			"COALESCE(SUM(CASE WHEN kind IN (?, ?) THEN 1 ELSE 0 END), 0) AS impressions, COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0) AS clicks",
			types.TouchpointKindImpression, types.TouchpointKindView, types.TouchpointKindClick,
		).
		Where("campaign_id IN ? AND occurred_at >= ? AND occurred_at <= ?", ids, from, to).
		Scan(&row).Error; err != nil {
		return 0, 0, err
	}
	return row.Impressions, row.Clicks, nil
}

func (r *touchpointRepo) LatestByCustomer(ctx context.Context, tx *gorm.DB, customerID uuid.UUID) (*types.Touchpoint, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Touchpoint
	if err := transaction.WithContext(ctx).
		Where("global_customer_id = ?", customerID).
		Order("occurred_at DESC, sequence DESC").
		Limit(1).
		Find(&results).Error; err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}
