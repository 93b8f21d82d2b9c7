package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/patternos/patternos-backend/internal/logger"
	"github.com/patternos/patternos-backend/internal/types"
)

type EventRepo interface {
	Create(ctx context.Context, tx *gorm.DB, event *types.Event) error
	GetByPlatformEventID(ctx context.Context, tx *gorm.DB, platformID, eventID string) (*types.Event, error)
	ExistsByPlatformEventID(ctx context.Context, tx *gorm.DB, platformID, eventID string) (bool, error)
	MaxSequence(ctx context.Context, tx *gorm.DB, tenantID string) (int64, error)
	ListByTenantFromSequence(ctx context.Context, tx *gorm.DB, tenantID string, fromSequence int64, limit int) ([]*types.Event, error)
	ListByCustomerWindow(ctx context.Context, tx *gorm.DB, customerID uuid.UUID, from, to time.Time) ([]*types.Event, error)
	ArchiveOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type eventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEventRepo(db *gorm.DB, baseLog *logger.Logger) EventRepo {
	repoLog := baseLog.With("repo", "EventRepo")
	return &eventRepo{db: db, log: repoLog}
}

func (r *eventRepo) Create(ctx context.Context, tx *gorm.DB, event *types.Event) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(event).Error
}

func (r *eventRepo) GetByPlatformEventID(ctx context.Context, tx *gorm.DB, platformID, eventID string) (*types.Event, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var result types.Event
	err := transaction.WithContext(ctx).
		Where("platform_id = ? AND event_id = ?", platformID, eventID).
		First(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *eventRepo) ExistsByPlatformEventID(ctx context.Context, tx *gorm.DB, platformID, eventID string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.Event{}).
		Where("platform_id = ? AND event_id = ?", platformID, eventID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *eventRepo) MaxSequence(ctx context.Context, tx *gorm.DB, tenantID string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var max int64
	if err := transaction.WithContext(ctx).
		Model(&types.Event{}).
		Where("tenant_id = ?", tenantID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&max).Error; err != nil {
		return 0, err
	}
	return max, nil
}

func (r *eventRepo) ListByTenantFromSequence(ctx context.Context, tx *gorm.DB, tenantID string, fromSequence int64, limit int) ([]*types.Event, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Event
	q := transaction.WithContext(ctx).
		Where("tenant_id = ? AND sequence >= ?", tenantID, fromSequence).
		Order("sequence ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *eventRepo) ListByCustomerWindow(ctx context.Context, tx *gorm.DB, customerID uuid.UUID, from, to time.Time) ([]*types.Event, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Event
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

func (r *eventRepo) ArchiveOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.Event{}).
		Where("occurred_at < ? AND archived = ?", cutoff, false).
		Update("archived", true)
	return res.RowsAffected, res.Error
}
