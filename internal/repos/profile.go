package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/patternos/patternos-backend/internal/logger"
	"github.com/patternos/patternos-backend/internal/types"
)

type ProfileRepo interface {
	Get(ctx context.Context, tx *gorm.DB, customerID uuid.UUID) (*types.CustomerProfile, error)
	Upsert(ctx context.Context, tx *gorm.DB, profile *types.CustomerProfile) error
	GetCounter(ctx context.Context, tx *gorm.DB, customerID uuid.UUID, category string) (*types.CategoryCounter, error)
	UpsertCounter(ctx context.Context, tx *gorm.DB, counter *types.CategoryCounter) error
	ListCountersByCustomer(ctx context.Context, tx *gorm.DB, customerID uuid.UUID) ([]*types.CategoryCounter, error)
	ResetEventsSinceScore(ctx context.Context, tx *gorm.DB, customerID uuid.UUID, category string) error
}

type profileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProfileRepo(db *gorm.DB, baseLog *logger.Logger) ProfileRepo {
	repoLog := baseLog.With("repo", "ProfileRepo")
	return &profileRepo{db: db, log: repoLog}
}

func (r *profileRepo) Get(ctx context.Context, tx *gorm.DB, customerID uuid.UUID) (*types.CustomerProfile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var result types.CustomerProfile
	err := transaction.WithContext(ctx).
		Where("global_customer_id = ?", customerID).
		First(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *profileRepo) Upsert(ctx context.Context, tx *gorm.DB, profile *types.CustomerProfile) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "global_customer_id"}},
			UpdateAll: true,
		}).
		Create(profile).Error
}

func (r *profileRepo) GetCounter(ctx context.Context, tx *gorm.DB, customerID uuid.UUID, category string) (*types.CategoryCounter, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var result types.CategoryCounter
	err := transaction.WithContext(ctx).
		Where("global_customer_id = ? AND category = ?", customerID, category).
		First(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *profileRepo) UpsertCounter(ctx context.Context, tx *gorm.DB, counter *types.CategoryCounter) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if counter.ID == uuid.Nil {
		counter.ID = uuid.New()
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "global_customer_id"}, {Name: "category"}},
			UpdateAll: true,
		}).
		Create(counter).Error
}

func (r *profileRepo) ListCountersByCustomer(ctx context.Context, tx *gorm.DB, customerID uuid.UUID) ([]*types.CategoryCounter, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.CategoryCounter
	if customerID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("global_customer_id = ?", customerID).
		Order("category ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *profileRepo) ResetEventsSinceScore(ctx context.Context, tx *gorm.DB, customerID uuid.UUID, category string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.CategoryCounter{}).
		Where("global_customer_id = ? AND category = ?", customerID, category).
		Update("events_since_score", 0).Error
}
