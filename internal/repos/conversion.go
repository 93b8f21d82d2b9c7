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

type ConversionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, conv *types.Conversion) error
	GetByOrderID(ctx context.Context, tx *gorm.DB, orderID string) (*types.Conversion, error)
	Save(ctx context.Context, tx *gorm.DB, conv *types.Conversion) error
	ListByCustomer(ctx context.Context, tx *gorm.DB, customerID uuid.UUID) ([]*types.Conversion, error)
	ListByPeriod(ctx context.Context, tx *gorm.DB, from, to time.Time) ([]*types.Conversion, error)
}

type conversionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversionRepo(db *gorm.DB, baseLog *logger.Logger) ConversionRepo {
	repoLog := baseLog.With("repo", "ConversionRepo")
	return &conversionRepo{db: db, log: repoLog}
}

func (r *conversionRepo) Create(ctx context.Context, tx *gorm.DB, conv *types.Conversion) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(conv).Error
}

func (r *conversionRepo) GetByOrderID(ctx context.Context, tx *gorm.DB, orderID string) (*types.Conversion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var result types.Conversion
	err := transaction.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *conversionRepo) Save(ctx context.Context, tx *gorm.DB, conv *types.Conversion) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Save(conv).Error
}

func (r *conversionRepo) ListByCustomer(ctx context.Context, tx *gorm.DB, customerID uuid.UUID) ([]*types.Conversion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Conversion
	if customerID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("global_customer_id = ?", customerID).
		Order("occurred_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *conversionRepo) ListByPeriod(ctx context.Context, tx *gorm.DB, from, to time.Time) ([]*types.Conversion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Conversion
	if err := transaction.WithContext(ctx).
		Where("occurred_at >= ? AND occurred_at <= ?", from, to).
		Order("occurred_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
