package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/patternos/patternos-backend/internal/logger"
	"github.com/patternos/patternos-backend/internal/types"
)

type ScoreRepo interface {
	Create(ctx context.Context, tx *gorm.DB, score *types.IntentScore) error
	Latest(ctx context.Context, tx *gorm.DB, customerID uuid.UUID, category string) (*types.IntentScore, error)
	ListLatestByCustomer(ctx context.Context, tx *gorm.DB, customerID uuid.UUID) ([]*types.IntentScore, error)
	ListLatestAboveThreshold(ctx context.Context, tx *gorm.DB, threshold float64) ([]*types.IntentScore, error)
	ListLatestAll(ctx context.Context, tx *gorm.DB) ([]*types.IntentScore, error)
}

type scoreRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewScoreRepo(db *gorm.DB, baseLog *logger.Logger) ScoreRepo {
	repoLog := baseLog.With("repo", "ScoreRepo")
	return &scoreRepo{db: db, log: repoLog}
}

func (r *scoreRepo) Create(ctx context.Context, tx *gorm.DB, score *types.IntentScore) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(score).Error
}

func (r *scoreRepo) Latest(ctx context.Context, tx *gorm.DB, customerID uuid.UUID, category string) (*types.IntentScore, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var result types.IntentScore
	err := transaction.WithContext(ctx).
		Where("global_customer_id = ? AND category = ?", customerID, category).
		Order("score_version DESC").
		First(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// latestPerPair selects the highest score_version row per (customer, category).
const latestPerPair = `
SELECT s.* FROM intent_score s
JOIN (
  SELECT global_customer_id, category, MAX(score_version) AS max_version
  FROM intent_score
  GROUP BY global_customer_id, category
) latest
ON s.global_customer_id = latest.global_customer_id
AND s.category = latest.category
AND s.score_version = latest.max_version
`

func (r *scoreRepo) ListLatestByCustomer(ctx context.Context, tx *gorm.DB, customerID uuid.UUID) ([]*types.IntentScore, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.IntentScore
	if customerID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Raw(latestPerPair+" WHERE s.global_customer_id = ? ORDER BY s.category ASC", customerID).
		Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *scoreRepo) ListLatestAboveThreshold(ctx context.Context, tx *gorm.DB, threshold float64) ([]*types.IntentScore, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.IntentScore
	if err := transaction.WithContext(ctx).
		Raw(latestPerPair+" WHERE s.unified >= ? ORDER BY s.unified DESC", threshold).
		Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *scoreRepo) ListLatestAll(ctx context.Context, tx *gorm.DB) ([]*types.IntentScore, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.IntentScore
	if err := transaction.WithContext(ctx).
		Raw(latestPerPair + " ORDER BY s.global_customer_id, s.category").
		Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
