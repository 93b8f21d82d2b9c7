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

// ErrVersionConflict reports a lost optimistic CAS race on campaign spend.
var ErrVersionConflict = errors.New("campaign version conflict")

type CampaignRepo interface {
	Create(ctx context.Context, tx *gorm.DB, campaign *types.Campaign) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Campaign, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Campaign, error)
	ListAll(ctx context.Context, tx *gorm.DB) ([]*types.Campaign, error)
	ListByBrand(ctx context.Context, tx *gorm.DB, brand string) ([]*types.Campaign, error)
	// AddSpendCAS increments spent by amount iff the row still carries the
	// given version. Returns ErrVersionConflict on a lost race.
	AddSpendCAS(ctx context.Context, tx *gorm.DB, id uuid.UUID, amount float64, version int64) error
	IncrementDelivery(ctx context.Context, tx *gorm.DB, id uuid.UUID, impressions, clicks int64) error
	AddConversion(ctx context.Context, tx *gorm.DB, id uuid.UUID, attributedRevenue float64) error
	CreateSpendEntry(ctx context.Context, tx *gorm.DB, entry *types.CampaignSpendEntry) error
	SumSpend(ctx context.Context, tx *gorm.DB, from, to time.Time) (float64, error)
	SumSpendByCampaigns(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, from, to time.Time) (float64, error)
}

type campaignRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCampaignRepo(db *gorm.DB, baseLog *logger.Logger) CampaignRepo {
	repoLog := baseLog.With("repo", "CampaignRepo")
	return &campaignRepo{db: db, log: repoLog}
}

func (r *campaignRepo) Create(ctx context.Context, tx *gorm.DB, campaign *types.Campaign) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(campaign).Error
}

func (r *campaignRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Campaign, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var result types.Campaign
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *campaignRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Campaign, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Campaign
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *campaignRepo) ListAll(ctx context.Context, tx *gorm.DB) ([]*types.Campaign, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Campaign
	if err := transaction.WithContext(ctx).
		Order("brand ASC, created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *campaignRepo) ListByBrand(ctx context.Context, tx *gorm.DB, brand string) ([]*types.Campaign, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Campaign
	if brand == "" {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("brand = ?", brand).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *campaignRepo) AddSpendCAS(ctx context.Context, tx *gorm.DB, id uuid.UUID, amount float64, version int64) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.Campaign{}).
		Where("id = ? AND version = ? AND spent + ? <= total_budget", id, version, amount).
		Updates(map[string]interface{}{
			"spent":      gorm.Expr("spent + ?", amount),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (r *campaignRepo) IncrementDelivery(ctx context.Context, tx *gorm.DB, id uuid.UUID, impressions, clicks int64) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Campaign{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"impressions": gorm.Expr("impressions + ?", impressions),
			"clicks":      gorm.Expr("clicks + ?", clicks),
			"updated_at":  time.Now().UTC(),
		}).Error
}

func (r *campaignRepo) AddConversion(ctx context.Context, tx *gorm.DB, id uuid.UUID, attributedRevenue float64) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Campaign{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"conversions":        gorm.Expr("conversions + 1"),
			"attributed_revenue": gorm.Expr("attributed_revenue + ?", attributedRevenue),
			"updated_at":         time.Now().UTC(),
		}).Error
}

func (r *campaignRepo) CreateSpendEntry(ctx context.Context, tx *gorm.DB, entry *types.CampaignSpendEntry) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(entry).Error
}

func (r *campaignRepo) SumSpend(ctx context.Context, tx *gorm.DB, from, to time.Time) (float64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var total float64
	if err := transaction.WithContext(ctx).
		Model(&types.CampaignSpendEntry{}).
		Where("occurred_at >= ? AND occurred_at <= ?", from, to).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (r *campaignRepo) SumSpendByCampaigns(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, from, to time.Time) (float64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return 0, nil
	}
	var total float64
	if err := transaction.WithContext(ctx).
		Model(&types.CampaignSpendEntry{}).
		Where("campaign_id IN ? AND occurred_at >= ? AND occurred_at <= ?", ids, from, to).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}
